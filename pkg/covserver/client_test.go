// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/rpctype"
	"github.com/google/jackalope/pkg/sample"
)

func TestClientServer(t *testing.T) {
	serv, err := Make(t.TempDir())
	require.NoError(t, err)
	rpcServ, err := rpctype.NewRPCServer("127.0.0.1:0", "CoverageServer", serv)
	require.NoError(t, err)
	go rpcServ.Serve()

	client, err := NewClient(rpcServ.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	cov := coverage.FromEdges(
		coverage.Edge{Module: "target", Offset: 1},
		coverage.Edge{Module: "target", Offset: 2},
	)
	require.NoError(t, client.ReportNewCoverage(cov, sample.FromData([]byte("data"))))
	require.NoError(t, client.ReportNewCoverage(
		coverage.FromEdges(coverage.Edge{Module: "target", Offset: 3}), nil))
	require.NoError(t, client.ReportCrash(sample.FromData([]byte("boom")), "null_deref"))

	// The client never receives its own sample back.
	updates, err := client.GetUpdates(100)
	require.NoError(t, err)
	assert.Empty(t, updates)

	other, err := NewClient(rpcServ.Addr().String())
	require.NoError(t, err)
	defer other.Close()
	updates, err = other.GetUpdates(0)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, []byte("data"), updates[0].Data)
}
