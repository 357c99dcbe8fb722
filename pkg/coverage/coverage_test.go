// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/google/jackalope/pkg/testutil"
)

func TestAddCount(t *testing.T) {
	var cov Coverage
	assert.True(t, cov.Empty())
	cov.Add("a", 1)
	cov.Add("a", 1)
	cov.Add("a", 2)
	cov.Add("b", 1)
	assert.False(t, cov.Empty())
	assert.Equal(t, 3, cov.Count())
}

func TestDiff(t *testing.T) {
	base := FromEdges(
		Edge{"a", 1},
		Edge{"a", 2},
		Edge{"b", 1},
	)
	other := FromEdges(
		Edge{"a", 2},
		Edge{"a", 3},
		Edge{"c", 1},
	)
	diff := base.Diff(other)
	want := FromEdges(
		Edge{"a", 3},
		Edge{"c", 1},
	)
	assert.Empty(t, cmp.Diff(want, diff))
	// Edges already in base never show up in the diff.
	assert.True(t, base.Intersect(diff).Empty())
}

func TestIntersect(t *testing.T) {
	a := FromEdges(
		Edge{"a", 1},
		Edge{"a", 2},
		Edge{"b", 7},
	)
	b := FromEdges(
		Edge{"a", 2},
		Edge{"b", 7},
		Edge{"b", 8},
	)
	want := FromEdges(
		Edge{"a", 2},
		Edge{"b", 7},
	)
	assert.Empty(t, cmp.Diff(want, a.Intersect(b)))
	assert.Empty(t, cmp.Diff(want, b.Intersect(a)))
	assert.True(t, a.Intersect(nil).Empty())
}

func TestMergeContains(t *testing.T) {
	var total Coverage
	a := FromEdges(Edge{"a", 1}, Edge{"b", 2})
	b := FromEdges(Edge{"a", 1}, Edge{"c", 3})
	total.Merge(a)
	total.Merge(b)
	assert.Equal(t, 3, total.Count())
	assert.True(t, total.Contains(a))
	assert.True(t, total.Contains(b))
	assert.False(t, a.Contains(total))
	assert.True(t, total.Contains(nil))
}

func TestCopyIndependent(t *testing.T) {
	orig := FromEdges(Edge{"a", 1})
	cp := orig.Copy()
	cp.Add("a", 2)
	cp.Add("b", 1)
	assert.Equal(t, 1, orig.Count())
	assert.Equal(t, 3, cp.Count())
}

func TestEdgesRoundTrip(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	modules := []string{"target.exe", "lib.dll", "libc.so"}
	cov := make(Coverage)
	for i := 0; i < testutil.IterCount(); i++ {
		cov.Add(modules[r.Intn(len(modules))], uint64(r.Intn(1 << 20)))
	}
	back := FromEdges(cov.Edges()...)
	assert.Empty(t, cmp.Diff(cov, back))
}

func TestSerializeRoundTrip(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	cov := make(Coverage)
	for i := 0; i < testutil.IterCount(); i++ {
		cov.Add("mod", uint64(r.Int63()))
	}
	cov.Add("", 0)
	buf := new(bytes.Buffer)
	if err := cov.WriteTo(buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	assert.Empty(t, cmp.Diff(cov, got))
}

func TestReadFromBadMagic(t *testing.T) {
	_, err := ReadFrom(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Error(t, err)
}
