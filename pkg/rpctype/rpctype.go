// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rpctype

import (
	"github.com/google/jackalope/pkg/coverage"
)

type ConnectArgs struct {
	Client string
}

type ConnectRes struct {
	// NumSamples is the size of the server corpus at connect time, the client
	// pulls it gradually via GetUpdates.
	NumSamples int
}

type NewCoverageArgs struct {
	Client string
	Edges  []coverage.Edge
	// Sample reproduces the edges. Nil for variable coverage.
	Sample []byte
	// HasSample distinguishes an empty sample from no sample.
	HasSample bool
}

type NewCrashArgs struct {
	Client string
	Name   string
	Sample []byte
}

type GetUpdatesArgs struct {
	Client     string
	TotalExecs uint64
}

type GetUpdatesRes struct {
	Samples [][]byte
}
