// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrumentation

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/hash"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/osutil"
)

// CoverFileEnv points the instrumented target at the file where it must dump
// collected edges, one "module+0xoffset" line per edge.
const CoverFileEnv = "JACKAL_COVER_FILE"

// crashNameBytes bounds how much of the target output participates in crash
// deduplication. Output past the fault location is usually nondeterministic
// (addresses, timing), so only the head is hashed.
const crashNameBytes = 4096

// ProcessInstrumentation runs the target as a fresh process per sample and
// collects coverage through an on-disk artifact written by the target.
type ProcessInstrumentation struct {
	coverFile string
	collected coverage.Coverage
	ignore    coverage.Coverage
	crashName string
}

// NewProcess creates instrumentation for one worker. coverFile must be unique
// per worker, runs of different workers dump edges concurrently.
func NewProcess(coverFile string) *ProcessInstrumentation {
	return &ProcessInstrumentation{
		coverFile: coverFile,
		collected: make(coverage.Coverage),
		ignore:    make(coverage.Coverage),
	}
}

func (inst *ProcessInstrumentation) Run(args []string, initTimeoutMs, timeoutMs uint32) RunResult {
	return inst.run(args, initTimeoutMs, timeoutMs, false)
}

func (inst *ProcessInstrumentation) RunWithCrashAnalysis(args []string, initTimeoutMs, timeoutMs uint32) RunResult {
	return inst.run(args, initTimeoutMs, timeoutMs, true)
}

func (inst *ProcessInstrumentation) run(args []string, initTimeoutMs, timeoutMs uint32, analyze bool) RunResult {
	os.Remove(inst.coverFile)
	cmd := osutil.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), CoverFileEnv+"="+inst.coverFile)
	// The process covers both target startup and the sample run,
	// so both timeouts apply to it.
	timeout := time.Duration(initTimeoutMs+timeoutMs) * time.Millisecond
	output, status, code, err := osutil.Run(timeout, cmd)
	if err != nil {
		log.Logf(0, "failed to run target: %v", err)
		return Error
	}
	inst.mergeCoverArtifact()
	switch status {
	case osutil.RunTimedOut:
		return Hang
	case osutil.RunSignaled:
		inst.crashName = crashName(code, output, analyze)
		return Crash
	default:
		return OK
	}
}

func (inst *ProcessInstrumentation) mergeCoverArtifact() {
	f, err := os.Open(inst.coverFile)
	if err != nil {
		return // the target did not reach the dump point
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		module, offset, err := parseEdge(scanner.Text())
		if err != nil {
			log.Logf(2, "skipping malformed cover line: %v", err)
			continue
		}
		if _, ok := inst.ignore[module][offset]; ok {
			continue
		}
		inst.collected.Add(module, offset)
	}
}

func parseEdge(line string) (string, uint64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", 0, fmt.Errorf("empty line")
	}
	idx := strings.LastIndexByte(line, '+')
	if idx <= 0 {
		return "", 0, fmt.Errorf("no module separator in %q", line)
	}
	offset, err := strconv.ParseUint(strings.TrimPrefix(line[idx+1:], "0x"), 16, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad offset in %q: %v", line, err)
	}
	return line[:idx], offset, nil
}

// crashName derives a deduplication key for a crash. The analyzing rerun may
// print an explicit "fault:<name>" line, which takes precedence over the
// signal+output hash.
func crashName(signal int, output []byte, analyze bool) string {
	if analyze {
		for _, line := range bytes.Split(output, []byte{'\n'}) {
			rest, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("fault:"))
			if rest = bytes.TrimSpace(rest); ok && len(rest) != 0 {
				return sanitizeName(string(rest))
			}
		}
	}
	prefix := output
	if len(prefix) > crashNameBytes {
		prefix = prefix[:crashNameBytes]
	}
	return fmt.Sprintf("sig%v_%v", signal, hash.String(prefix))
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '_' || r == '-' || r == '.' {
			return r
		}
		return '_'
	}, name)
}

func (inst *ProcessInstrumentation) GetCoverage(clear bool) coverage.Coverage {
	cov := inst.collected.Copy()
	if clear {
		inst.collected = make(coverage.Coverage)
	}
	return cov
}

func (inst *ProcessInstrumentation) ClearCoverage() {
	inst.collected = make(coverage.Coverage)
}

func (inst *ProcessInstrumentation) GetCrashName() string {
	return inst.crashName
}

func (inst *ProcessInstrumentation) IgnoreCoverage(cov coverage.Coverage) {
	inst.ignore.Merge(cov)
	for module, offsets := range cov {
		collected := inst.collected[module]
		for offset := range offsets {
			delete(collected, offset)
		}
	}
}

func (inst *ProcessInstrumentation) CleanTarget() {
	os.Remove(inst.coverFile)
}
