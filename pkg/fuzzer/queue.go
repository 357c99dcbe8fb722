// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"container/heap"

	"github.com/google/jackalope/pkg/mutator"
	"github.com/google/jackalope/pkg/sample"
)

// QueueEntry is a corpus sample scheduled for fuzzing. The queue pops the
// entry with the lowest priority value. A run that produces new coverage
// resets the entry to 0, every other run decrements it.
type QueueEntry struct {
	Sample *sample.Sample
	// Context is the mutator state for this sample. It is created lazily on
	// first fuzzing of the entry, entries restored from disk start without one.
	Context  mutator.Context
	Priority float64
	// SampleIndex is the position of the sample in the on-disk corpus.
	SampleIndex int

	NumRuns        uint64
	NumNewCoverage uint64
	NumHangs       uint64
	NumCrashes     uint64
}

// sampleQueue is a priority min-heap of queue entries.
// All access must happen under Fuzzer.queueMu.
type sampleQueue struct {
	impl queueImpl
}

func (q *sampleQueue) Push(entry *QueueEntry) {
	heap.Push(&q.impl, entry)
}

func (q *sampleQueue) Pop() *QueueEntry {
	if len(q.impl) == 0 {
		return nil
	}
	return heap.Pop(&q.impl).(*QueueEntry)
}

func (q *sampleQueue) Len() int {
	return len(q.impl)
}

type queueImpl []*QueueEntry

func (q queueImpl) Len() int           { return len(q) }
func (q queueImpl) Less(i, j int) bool { return q[i].Priority < q[j].Priority }
func (q queueImpl) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *queueImpl) Push(x any) {
	*q = append(*q, x.(*QueueEntry))
}

func (q *queueImpl) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return x
}
