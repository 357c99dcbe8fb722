// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/instrumentation"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/sample"
)

func (fuzzer *Fuzzer) deliver(tc *ThreadContext, s *sample.Sample) {
	if err := tc.delivery.Deliver(s); err != nil {
		log.Logf(0, "error delivering sample, retrying with a clean target: %v", err)
		tc.inst.CleanTarget()
		if err := tc.delivery.Deliver(s); err != nil {
			log.Fatalf("repeatedly failed to deliver sample: %v", err)
		}
	}
}

// runAndGetCoverage performs one classified execution of the sample.
// Crashes are reproduced, deduplicated and persisted before returning,
// hangs are persisted and counted.
func (fuzzer *Fuzzer) runAndGetCoverage(tc *ThreadContext, s *sample.Sample,
	initTimeoutMs, timeoutMs uint32) (instrumentation.RunResult, coverage.Coverage) {
	fuzzer.totalExecs.Add(1)
	fuzzer.deliver(tc, s)
	start := time.Now()
	res := tc.inst.Run(tc.targetArgs, initTimeoutMs, timeoutMs)
	fuzzer.statExecTime.Add(int(time.Since(start).Milliseconds()))
	cov := tc.inst.GetCoverage(true)

	// Crashes and hangs are saved immediately when they are detected.
	if res == instrumentation.Crash {
		name := tc.inst.GetCrashName()
		if fuzzer.tryReproduceCrash(tc, s, initTimeoutMs, timeoutMs) == instrumentation.Crash {
			// the analyzing rerun produces a hopefully better name
			name = tc.inst.GetCrashName()
		} else {
			name = "flaky_" + name
		}
		if dup := fuzzer.registerCrash(name); dup != 0 {
			fuzzer.saveCrash(name, dup, s)
			if fuzzer.cfg.Server != nil {
				fuzzer.serverMu.Lock()
				if err := fuzzer.cfg.Server.ReportCrash(s, name); err != nil {
					log.Logf(0, "failed to report crash to server: %v", err)
				}
				fuzzer.serverMu.Unlock()
			}
		}
	}
	if res == instrumentation.Hang {
		fuzzer.saveHang(s)
	}
	return res, cov
}

// tryReproduceCrash reruns a crashing sample under crash analysis. It stops on
// the first reproduction and returns the last attempt's result.
func (fuzzer *Fuzzer) tryReproduceCrash(tc *ThreadContext, s *sample.Sample,
	initTimeoutMs, timeoutMs uint32) instrumentation.RunResult {
	res := instrumentation.Error
	for i := 0; i < crashReproduceTimes; i++ {
		fuzzer.totalExecs.Add(1)
		fuzzer.deliver(tc, s)
		res = tc.inst.RunWithCrashAnalysis(tc.targetArgs, initTimeoutMs, timeoutMs)
		tc.inst.ClearCoverage()
		if res == instrumentation.Crash {
			return res
		}
	}
	return res
}

// runSample executes a sample repeatedly to separate stable from variable
// coverage, and accepts it into the corpus when it contributes new stable
// edges. hasNewCoverage, when non-nil, receives the acceptance verdict.
func (fuzzer *Fuzzer) runSample(tc *ThreadContext, s *sample.Sample, hasNewCoverage *bool,
	trim, reportToServer bool, initTimeoutMs, timeoutMs uint32) instrumentation.RunResult {
	if fuzzer.cfg.Filter != nil {
		if filtered := fuzzer.cfg.Filter.Filter(s); filtered != nil {
			s = filtered
		}
	}
	if hasNewCoverage != nil {
		*hasNewCoverage = false
	}

	res, initial := fuzzer.runAndGetCoverage(tc, s, initTimeoutMs, timeoutMs)
	if res != instrumentation.OK || initial.Empty() {
		return res
	}

	stable := initial.Copy()
	total := initial.Copy()

	// have a clean target before retrying the sample
	tc.inst.CleanTarget()

	for i := 0; i < sampleRetryTimes; i++ {
		var retry coverage.Coverage
		res, retry = fuzzer.runAndGetCoverage(tc, s, initTimeoutMs, timeoutMs)
		if res != instrumentation.OK {
			return res
		}
		total.Merge(retry)
		stable = stable.Intersect(retry)
	}
	variable := stable.Diff(total)

	if fuzzer.interestingSample(&stable, &variable) {
		if hasNewCoverage != nil {
			*hasNewCoverage = true
		}
		if trim {
			fuzzer.trimSample(tc, s, stable, initTimeoutMs, timeoutMs)
		}

		fuzzer.outputMu.Lock()
		index := fuzzer.numSamples
		filename := filepath.Join(fuzzer.cfg.OutputDir, sampleDir, fmt.Sprintf("sample_%05d", index))
		if err := s.Save(filename); err != nil {
			log.Logf(0, "failed to save sample: %v", err)
		}
		fuzzer.numSamples++
		fuzzer.outputMu.Unlock()

		if fuzzer.cfg.Server != nil && reportToServer {
			fuzzer.serverMu.Lock()
			if err := fuzzer.cfg.Server.ReportNewCoverage(stable, s); err != nil {
				log.Logf(0, "failed to report coverage to server: %v", err)
			}
			fuzzer.serverMu.Unlock()
		}

		newSample := s.Clone()
		entry := &QueueEntry{
			Sample:      newSample,
			Context:     tc.mutator.CreateContext(newSample),
			SampleIndex: int(index),
		}
		fuzzer.queueMu.Lock()
		fuzzer.allSamples = append(fuzzer.allSamples, newSample)
		fuzzer.queue.Push(entry)
		fuzzer.queueMu.Unlock()
	}

	if !variable.Empty() && fuzzer.cfg.Server != nil && reportToServer {
		// Variable edges are reported without a sample, there is no canonical
		// reproducer for them.
		fuzzer.serverMu.Lock()
		if err := fuzzer.cfg.Server.ReportNewCoverage(variable, nil); err != nil {
			log.Logf(0, "failed to report coverage to server: %v", err)
		}
		fuzzer.serverMu.Unlock()
	}

	tc.inst.IgnoreCoverage(total)
	return res
}

// interestingSample diffs the sample's coverage against the global set and
// merges the novelty in, atomically. The caller's sets are rewritten to the
// new edges only. A sample is interesting iff it has new stable edges,
// variable-only novelty still grows the global set but does not qualify.
func (fuzzer *Fuzzer) interestingSample(stable, variable *coverage.Coverage) bool {
	fuzzer.coverageMu.Lock()
	defer fuzzer.coverageMu.Unlock()
	newStable := fuzzer.coverage.Diff(*stable)
	newVariable := fuzzer.coverage.Diff(*variable)
	fuzzer.coverage.Merge(newStable)
	fuzzer.coverage.Merge(newVariable)
	*stable = newStable
	*variable = newVariable
	return !newStable.Empty()
}
