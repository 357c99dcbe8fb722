// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVal(t *testing.T) {
	v := New("test counter", "test description")
	v.Add(1)
	v.Add(41)
	assert.Equal(t, 42, v.Val())
}

func TestExt(t *testing.T) {
	val := 0
	v := New("test ext", "", func() int { return val })
	val = 7
	assert.Equal(t, 7, v.Val())
	assert.Panics(t, func() { v.Add(1) })
}

func TestLenOf(t *testing.T) {
	var mu sync.RWMutex
	slice := []int{1, 2, 3}
	v := New("test len", "", LenOf(&slice, &mu))
	assert.Equal(t, 3, v.Val())
	slice = append(slice, 4)
	assert.Equal(t, 4, v.Val())
}

func TestDistribution(t *testing.T) {
	v := New("test dist", "", Distribution{})
	for i := 1; i <= 9; i++ {
		v.Add(i)
	}
	assert.Equal(t, 5, v.Val())
}

func TestCollect(t *testing.T) {
	New("test console", "visible on the console", Console)
	found := false
	for _, ui := range Collect(Console) {
		if ui.Name == "test console" {
			found = true
			assert.Equal(t, "visible on the console", ui.Desc)
		}
	}
	assert.True(t, found)
}
