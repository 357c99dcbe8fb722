// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrumentation

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/osutil"
)

func TestParseEdge(t *testing.T) {
	tests := []struct {
		line   string
		module string
		offset uint64
		ok     bool
	}{
		{"target.exe+0x1234", "target.exe", 0x1234, true},
		{"  libfoo.so+abc\n", "libfoo.so", 0xabc, true},
		{"lib+with+plus+0x10", "lib+with+plus", 0x10, true},
		{"", "", 0, false},
		{"noplus", "", 0, false},
		{"+0x10", "", 0, false},
		{"mod+0xzz", "", 0, false},
	}
	for _, test := range tests {
		module, offset, err := parseEdge(test.line)
		if !test.ok {
			assert.Error(t, err, test.line)
			continue
		}
		require.NoError(t, err, test.line)
		assert.Equal(t, test.module, module)
		assert.Equal(t, test.offset, offset)
	}
}

func TestMergeCoverArtifact(t *testing.T) {
	coverFile := filepath.Join(t.TempDir(), "cover")
	inst := NewProcess(coverFile)
	artifact := "target+0x10\ntarget+0x20\nlib+0x10\ngarbage line\n"
	require.NoError(t, osutil.WriteFile(coverFile, []byte(artifact)))
	inst.mergeCoverArtifact()
	want := coverage.FromEdges(
		coverage.Edge{Module: "target", Offset: 0x10},
		coverage.Edge{Module: "target", Offset: 0x20},
		coverage.Edge{Module: "lib", Offset: 0x10},
	)
	assert.Equal(t, want, inst.GetCoverage(false))

	// Ignored edges are dropped at collection time.
	inst.ClearCoverage()
	inst.IgnoreCoverage(coverage.FromEdges(coverage.Edge{Module: "target", Offset: 0x10}))
	require.NoError(t, osutil.WriteFile(coverFile, []byte(artifact)))
	inst.mergeCoverArtifact()
	assert.Equal(t, 2, inst.GetCoverage(true).Count())
	assert.True(t, inst.GetCoverage(false).Empty())
}

func TestCrashName(t *testing.T) {
	output := []byte("some output\nfault: heap-overflow in parse()\nmore output")
	name := crashName(11, output, true)
	assert.Equal(t, "heap-overflow_in_parse__", name)

	// Without the analyzing rerun the fault line is untrusted and the name
	// falls back to the hashed output.
	name = crashName(11, output, false)
	assert.True(t, strings.HasPrefix(name, "sig11_"), name)
	// Same signal and output hash to the same name.
	assert.Equal(t, name, crashName(11, output, false))
	assert.NotEqual(t, name, crashName(6, output, false))
	assert.NotEqual(t, name, crashName(11, []byte("other"), false))
}
