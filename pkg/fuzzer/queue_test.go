// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/google/jackalope/pkg/testutil"
)

func TestQueueOrder(t *testing.T) {
	q := new(sampleQueue)
	for _, pri := range []float64{0, -5, 3, -1, 0} {
		q.Push(&QueueEntry{Priority: pri})
	}
	assert.Equal(t, 5, q.Len())
	var got []float64
	for q.Len() > 0 {
		got = append(got, q.Pop().Priority)
	}
	assert.Equal(t, []float64{-5, -1, 0, 0, 3}, got)
	assert.Nil(t, q.Pop())
}

func TestQueueRandom(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	q := new(sampleQueue)
	var want []float64
	for i := 0; i < testutil.IterCount(); i++ {
		pri := float64(r.Intn(100) - 50)
		want = append(want, pri)
		q.Push(&QueueEntry{Priority: pri})
	}
	sort.Float64s(want)
	for _, pri := range want {
		assert.Equal(t, pri, q.Pop().Priority)
	}
}
