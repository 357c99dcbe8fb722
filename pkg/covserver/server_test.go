// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covserver

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/osutil"
	"github.com/google/jackalope/pkg/rpctype"
)

func report(t *testing.T, serv *Server, client string, data []byte, offsets ...uint64) {
	var cov coverage.Coverage
	for _, off := range offsets {
		cov.Add("target", off)
	}
	args := &rpctype.NewCoverageArgs{
		Client: client,
		Edges:  cov.Edges(),
	}
	if data != nil {
		args.Sample = data
		args.HasSample = true
	}
	require.NoError(t, serv.NewCoverage(args, new(int)))
}

func getUpdates(t *testing.T, serv *Server, client string) [][]byte {
	res := new(rpctype.GetUpdatesRes)
	require.NoError(t, serv.GetUpdates(&rpctype.GetUpdatesArgs{Client: client}, res))
	return res.Samples
}

func TestServerExchange(t *testing.T) {
	serv, err := Make(t.TempDir())
	require.NoError(t, err)

	res := new(rpctype.ConnectRes)
	require.NoError(t, serv.Connect(&rpctype.ConnectArgs{Client: "a"}, res))
	assert.Equal(t, 0, res.NumSamples)

	report(t, serv, "a", []byte("sample a"), 1, 2)
	report(t, serv, "b", []byte("sample b"), 3)
	// Duplicate edges without novelty are dropped, even with a new sample.
	report(t, serv, "b", []byte("dup edges"), 1, 3)
	assert.Equal(t, 3, serv.coverage.Count())
	assert.Len(t, serv.samples, 2)

	// Each client receives only the samples of others.
	assert.Equal(t, [][]byte{[]byte("sample b")}, getUpdates(t, serv, "a"))
	assert.Equal(t, [][]byte{[]byte("sample a")}, getUpdates(t, serv, "b"))
	// The cursor does not hand out the same sample twice.
	assert.Empty(t, getUpdates(t, serv, "a"))

	// A late client gets the whole corpus.
	assert.Len(t, getUpdates(t, serv, "c"), 2)

	require.NoError(t, serv.Connect(&rpctype.ConnectArgs{Client: "d"}, res))
	assert.Equal(t, 2, res.NumSamples)
}

func TestServerVariableCoverage(t *testing.T) {
	serv, err := Make(t.TempDir())
	require.NoError(t, err)
	report(t, serv, "a", nil, 1, 2, 3)
	assert.Equal(t, 3, serv.coverage.Count())
	assert.Empty(t, serv.samples)
}

func TestServerSampleDedup(t *testing.T) {
	serv, err := Make(t.TempDir())
	require.NoError(t, err)
	report(t, serv, "a", []byte("same bytes"), 1)
	report(t, serv, "b", []byte("same bytes"), 2)
	assert.Equal(t, 2, serv.coverage.Count())
	assert.Len(t, serv.samples, 1)
}

func TestServerCrashCap(t *testing.T) {
	workdir := t.TempDir()
	serv, err := Make(workdir)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		args := &rpctype.NewCrashArgs{
			Client: "a",
			Name:   "null_deref/0x0",
			Sample: []byte("boom"),
		}
		require.NoError(t, serv.NewCrash(args, new(int)))
	}
	files, err := osutil.ListDir(filepath.Join(workdir, crashDir))
	require.NoError(t, err)
	assert.Len(t, files, 4)
	for _, f := range files {
		// The crash name is sanitized before it becomes a file name.
		assert.NotContains(t, f, "/")
	}
}

func TestServerRestart(t *testing.T) {
	workdir := t.TempDir()
	serv, err := Make(workdir)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		report(t, serv, "a", []byte(fmt.Sprintf("sample %v", i)), uint64(i))
	}
	require.NoError(t, serv.NewCrash(&rpctype.NewCrashArgs{
		Client: "a", Name: "oob_read", Sample: []byte("boom")}, new(int)))

	reloaded, err := Make(workdir)
	require.NoError(t, err)
	assert.Equal(t, serv.coverage.Count(), reloaded.coverage.Count())
	assert.Len(t, reloaded.samples, 5)
	// Sample distribution order survives the restart.
	var got [][]byte
	for _, s := range reloaded.samples {
		got = append(got, s.data)
	}
	var want [][]byte
	for i := 0; i < 5; i++ {
		want = append(want, []byte(fmt.Sprintf("sample %v", i)))
	}
	assert.Equal(t, want, got)
	// The crash cap picks up where the previous instance stopped.
	for i := 0; i < 6; i++ {
		require.NoError(t, reloaded.NewCrash(&rpctype.NewCrashArgs{
			Client: "a", Name: "oob_read", Sample: []byte("boom")}, new(int)))
	}
	files, err := osutil.ListDir(filepath.Join(workdir, crashDir))
	require.NoError(t, err)
	assert.Len(t, files, 4)
}
