// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutator generates new samples from corpus samples.
package mutator

import (
	"math/rand"

	"github.com/google/jackalope/pkg/sample"
)

// Result describes the outcome of running a mutated sample,
// reported back to the mutator so it can adapt.
type Result int

const (
	ResultOK Result = iota
	ResultHang
	ResultCrash
	ResultError
)

// Context holds per-sample mutator state. A context is created once per corpus
// sample and survives across fuzzing rounds of that sample.
type Context interface{}

// Mutator produces mutated samples. Implementations must be safe for use from
// a single worker goroutine; each worker owns its own Mutator instance.
type Mutator interface {
	// CreateContext creates per-sample state for the given corpus sample.
	CreateContext(s *sample.Sample) Context

	// InitRound is called at the start of a fuzzing round of the given sample.
	InitRound(s *sample.Sample, ctx Context)

	// Mutate mutates s in place. corpus is a snapshot of all corpus samples that
	// the mutator may splice from. Returns false when the mutator has exhausted
	// its round and the caller should pick another sample.
	Mutate(s *sample.Sample, rnd *rand.Rand, corpus []*sample.Sample) bool

	// NotifyResult reports the outcome of the last mutated sample.
	NotifyResult(res Result, newCoverage bool)
}
