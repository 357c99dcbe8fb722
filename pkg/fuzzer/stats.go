// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"github.com/google/jackalope/pkg/stat"
)

func (fuzzer *Fuzzer) initStats() {
	stat.New("exec total", "Total test program executions", stat.Console, stat.Rate{},
		stat.Prometheus("jackalope_exec_total"),
		func() int { return int(fuzzer.totalExecs.Load()) })
	fuzzer.statExecTime = stat.New("exec time", "Target execution time (ms)", stat.Distribution{})
	stat.New("corpus", "Number of accepted corpus samples", stat.Console,
		stat.Prometheus("jackalope_corpus_size"),
		func() int {
			fuzzer.outputMu.Lock()
			defer fuzzer.outputMu.Unlock()
			return int(fuzzer.numSamples)
		})
	stat.New("corpus discarded", "Corpus samples discarded for excessive hangs/crashes",
		func() int { return int(fuzzer.numSamplesDiscarded.Load()) })
	stat.New("coverage", "Number of known covered edges", stat.Console,
		stat.Prometheus("jackalope_coverage_edges"),
		func() int {
			fuzzer.coverageMu.Lock()
			defer fuzzer.coverageMu.Unlock()
			return fuzzer.coverage.Count()
		})
	stat.New("crashes", "Total crashes observed", stat.Console,
		stat.Prometheus("jackalope_crash_total"),
		func() int {
			fuzzer.crashMu.Lock()
			defer fuzzer.crashMu.Unlock()
			return int(fuzzer.numCrashes)
		})
	stat.New("crash types", "Deduplicated crashes",
		stat.Prometheus("jackalope_crash_types"),
		func() int {
			fuzzer.crashMu.Lock()
			defer fuzzer.crashMu.Unlock()
			return int(fuzzer.numUniqueCrashes)
		})
	stat.New("hangs", "Total hangs observed",
		stat.Prometheus("jackalope_hang_total"),
		func() int {
			fuzzer.outputMu.Lock()
			defer fuzzer.outputMu.Unlock()
			return int(fuzzer.numHangs)
		})
	stat.New("queue", "Corpus entries currently queued for fuzzing",
		func() int {
			fuzzer.queueMu.Lock()
			defer fuzzer.queueMu.Unlock()
			return fuzzer.queue.Len()
		})
}
