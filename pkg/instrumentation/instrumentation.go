// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrumentation runs the target and extracts coverage and crash
// information from the runs.
package instrumentation

import (
	"github.com/google/jackalope/pkg/coverage"
)

// RunResult is the outcome of a single target run.
type RunResult int

const (
	OK RunResult = iota
	Hang
	Crash
	Error
)

func (res RunResult) String() string {
	switch res {
	case OK:
		return "ok"
	case Hang:
		return "hang"
	case Crash:
		return "crash"
	default:
		return "error"
	}
}

// Instrumentation executes the target and accumulates coverage across runs.
// Each worker owns its own instance.
type Instrumentation interface {
	// Run executes the target once. initTimeoutMs bounds target startup,
	// timeoutMs bounds the run itself.
	Run(args []string, initTimeoutMs, timeoutMs uint32) RunResult

	// RunWithCrashAnalysis is like Run, but spends extra effort to extract an
	// accurate crash description from the target.
	RunWithCrashAnalysis(args []string, initTimeoutMs, timeoutMs uint32) RunResult

	// GetCoverage returns coverage accumulated since the last clear,
	// excluding ignored edges. If clear is set, accumulated coverage is reset.
	GetCoverage(clear bool) coverage.Coverage

	// ClearCoverage resets accumulated coverage.
	ClearCoverage()

	// GetCrashName returns a stable name for the last observed crash.
	// Identical crashes produce identical names.
	GetCrashName() string

	// IgnoreCoverage marks edges that GetCoverage should never report again.
	IgnoreCoverage(cov coverage.Coverage)

	// CleanTarget tears down any persistent target state so that the next run
	// starts fresh.
	CleanTarget()
}
