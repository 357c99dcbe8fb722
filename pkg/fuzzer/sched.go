// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"time"

	"github.com/google/jackalope/pkg/instrumentation"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/mutator"
	"github.com/google/jackalope/pkg/sample"
)

type jobType int

const (
	jobWait jobType = iota
	jobProcessSample
	jobFuzz
)

// job is the unit of work dispensed to a worker. A fuzz job owns its entry
// until jobDone re-pushes or discards it.
type job struct {
	typ     jobType
	entry   *QueueEntry
	sample  *sample.Sample
	discard bool
}

// synchronizeAndGetJob is the only place that transitions the global phase.
// It runs under queueMu at the start of every job acquisition.
func (fuzzer *Fuzzer) synchronizeAndGetJob(tc *ThreadContext) *job {
	fuzzer.queueMu.Lock()
	defer fuzzer.queueMu.Unlock()

	// sync the worker's corpus view with all_samples
	if len(fuzzer.allSamples) > len(tc.allSamples) {
		tc.allSamples = append(tc.allSamples, fuzzer.allSamples[len(tc.allSamples):]...)
	}

	if fuzzer.phase == PhaseFuzzing && fuzzer.cfg.Server != nil &&
		time.Since(fuzzer.lastServerUpdate) > fuzzer.cfg.ServerUpdateInterval {
		fuzzer.lastServerUpdate = time.Now()
		fuzzer.getServerUpdates()
		fuzzer.phase = PhaseServer
	}

	if fuzzer.phase == PhaseInput && len(fuzzer.inputFiles) == 0 && fuzzer.samplesPending == 0 {
		if fuzzer.queue.Len() == 0 {
			log.Fatalf("no interesting input files")
		}
		if fuzzer.cfg.Server != nil {
			fuzzer.serverMu.Lock()
			fuzzer.coverageMu.Lock()
			err := fuzzer.cfg.Server.ReportNewCoverage(fuzzer.coverage, nil)
			fuzzer.coverageMu.Unlock()
			if err != nil {
				log.Logf(0, "failed to report coverage to server: %v", err)
			}
			fuzzer.serverMu.Unlock()
			fuzzer.lastServerUpdate = time.Now()
			fuzzer.getServerUpdates()
			fuzzer.phase = PhaseServer
		} else {
			fuzzer.phase = PhaseFuzzing
		}
	}

	if fuzzer.phase == PhaseServer && len(fuzzer.serverSamples) == 0 && fuzzer.samplesPending == 0 {
		fuzzer.phase = PhaseFuzzing
	}

	switch fuzzer.phase {
	case PhaseFuzzing:
		entry := fuzzer.queue.Pop()
		if entry == nil {
			return &job{typ: jobWait}
		}
		if entry.Priority < fuzzer.minPriority {
			fuzzer.minPriority = entry.Priority
		}
		return &job{typ: jobFuzz, entry: entry}
	case PhaseInput:
		if len(fuzzer.inputFiles) == 0 {
			return &job{typ: jobWait}
		}
		filename := fuzzer.inputFiles[0]
		fuzzer.inputFiles = fuzzer.inputFiles[1:]
		log.Logf(0, "running input sample %v", filename)
		s, err := sample.Load(filename)
		if err != nil {
			log.Logf(0, "%v", err)
			return &job{typ: jobWait}
		}
		if s.Size() > sample.MaxSampleSize {
			log.Logf(0, "input sample larger than maximum sample size, trimming")
			s.Trim(sample.MaxSampleSize)
		}
		fuzzer.samplesPending++
		return &job{typ: jobProcessSample, sample: s}
	case PhaseServer:
		if len(fuzzer.serverSamples) == 0 {
			return &job{typ: jobWait}
		}
		s := fuzzer.serverSamples[0]
		fuzzer.serverSamples = fuzzer.serverSamples[1:]
		if s.Size() > sample.MaxSampleSize {
			s.Trim(sample.MaxSampleSize)
		}
		fuzzer.samplesPending++
		return &job{typ: jobProcessSample, sample: s}
	default:
		return &job{typ: jobWait}
	}
}

// getServerUpdates pulls a batch of remote samples. Caller holds queueMu.
func (fuzzer *Fuzzer) getServerUpdates() {
	fuzzer.serverMu.Lock()
	updates, err := fuzzer.cfg.Server.GetUpdates(fuzzer.totalExecs.Load())
	fuzzer.serverMu.Unlock()
	if err != nil {
		log.Logf(0, "failed to get server updates: %v", err)
		return
	}
	fuzzer.serverSamples = append(fuzzer.serverSamples, updates...)
}

func (fuzzer *Fuzzer) jobDone(done *job) {
	fuzzer.queueMu.Lock()
	defer fuzzer.queueMu.Unlock()
	switch done.typ {
	case jobFuzz:
		if done.discard {
			fuzzer.numSamplesDiscarded.Add(1)
		} else {
			fuzzer.queue.Push(done.entry)
		}
	case jobProcessSample:
		fuzzer.samplesPending--
	}
}

// fuzzJob mutates the entry's sample until the mutator ends the round or the
// entry exceeds the acceptable hang/crash ratios.
func (fuzzer *Fuzzer) fuzzJob(tc *ThreadContext, fuzz *job) {
	entry := fuzz.entry
	if entry.Context == nil {
		// Entries restored from disk get their context on first use, the
		// mutator may be expensive to prime and some entries are never pulled.
		entry.Context = tc.mutator.CreateContext(entry.Sample)
	}
	tc.mutator.InitRound(entry.Sample, entry.Context)

	log.Logf(1, "fuzzing sample %05v", entry.SampleIndex)

	for {
		mutated := entry.Sample.Clone()
		if !tc.mutator.Mutate(mutated, tc.rnd, tc.allSamples) {
			return
		}
		mutated.Trim(sample.MaxSampleSize)

		hasNewCoverage := false
		res := fuzzer.runSample(tc, mutated, &hasNewCoverage, true, true,
			fuzzer.cfg.InitTimeoutMs, fuzzer.cfg.TimeoutMs)
		fuzzer.adjustSamplePriority(entry, hasNewCoverage)
		tc.mutator.NotifyResult(mutatorResult(res), hasNewCoverage)

		entry.NumRuns++
		if hasNewCoverage {
			entry.NumNewCoverage++
		}
		if res == instrumentation.Hang {
			entry.NumHangs++
		}
		if res == instrumentation.Crash {
			entry.NumCrashes++
		}
		if entry.NumHangs > 10 &&
			float64(entry.NumHangs) > float64(entry.NumRuns)*fuzzer.cfg.AcceptableHangRatio {
			log.Logf(0, "sample %v produces too many hangs, discarding", entry.SampleIndex)
			fuzz.discard = true
			return
		}
		if entry.NumCrashes > 100 &&
			float64(entry.NumCrashes) > float64(entry.NumRuns)*fuzzer.cfg.AcceptableCrashRatio {
			log.Logf(0, "sample %v produces too many crashes, discarding", entry.SampleIndex)
			fuzz.discard = true
			return
		}
	}
}

func (fuzzer *Fuzzer) adjustSamplePriority(entry *QueueEntry, foundNewCoverage bool) {
	if foundNewCoverage {
		entry.Priority = 0
	} else {
		entry.Priority--
	}
}

func mutatorResult(res instrumentation.RunResult) mutator.Result {
	switch res {
	case instrumentation.OK:
		return mutator.ResultOK
	case instrumentation.Hang:
		return mutator.ResultHang
	case instrumentation.Crash:
		return mutator.ResultCrash
	default:
		return mutator.ResultError
	}
}
