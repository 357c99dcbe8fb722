// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/instrumentation"
	"github.com/google/jackalope/pkg/sample"
)

// trimSample shrinks the sample from the tail while its runs keep covering all
// of stable. The step starts large and halves whenever a truncation loses
// coverage, so over-trimming is recoverable.
func (fuzzer *Fuzzer) trimSample(tc *ThreadContext, s *sample.Sample,
	stable coverage.Coverage, initTimeoutMs, timeoutMs uint32) {
	if s.Size() <= 1 {
		return
	}
	trimStep := trimStepInitial
	trimmedSize := s.Size()
	test := s.Clone()
	for {
		if test.Size() <= 1 {
			break
		}
		for trimStep >= test.Size() {
			trimStep /= 2
		}
		if trimStep == 0 {
			break
		}
		test.Trim(test.Size() - trimStep)

		res, cov := fuzzer.runAndGetCoverage(tc, test, initTimeoutMs, timeoutMs)
		if res != instrumentation.OK {
			break
		}
		if !cov.Contains(stable) {
			trimStep /= 2
			if trimStep == 0 {
				break
			}
			test = s.Clone()
			test.Trim(trimmedSize)
			continue
		}
		trimmedSize = test.Size()
	}
	if trimmedSize < s.Size() {
		s.Trim(trimmedSize)
	}
}
