// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/google/jackalope/pkg/coverage"
	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/sample"
)

// stateHeader is the fixed little-endian prefix of state.dat,
// followed by the coverage blob.
type stateHeader struct {
	NumSamples  uint64
	TotalExecs  uint64
	MinPriority float64
}

// SaveState snapshots counters and global coverage to <out>/state.dat.
// Samples and crashes are already on disk, so a snapshot plus the sample files
// is sufficient to resume. No snapshot is taken while the seed corpus is still
// being ingested, a partial input drain must not be checkpointed.
func (fuzzer *Fuzzer) SaveState() {
	fuzzer.queueMu.Lock()
	phase, minPriority := fuzzer.phase, fuzzer.minPriority
	fuzzer.queueMu.Unlock()
	if phase == PhaseInput {
		return
	}

	fuzzer.outputMu.Lock()
	defer fuzzer.outputMu.Unlock()
	fuzzer.coverageMu.Lock()
	defer fuzzer.coverageMu.Unlock()

	f, err := os.Create(filepath.Join(fuzzer.cfg.OutputDir, stateFile))
	if err != nil {
		log.Fatalf("failed to save state: %v", err)
	}
	defer f.Close()
	hdr := stateHeader{
		NumSamples:  fuzzer.numSamples,
		TotalExecs:  fuzzer.totalExecs.Load(),
		MinPriority: minPriority,
	}
	if err := writeState(f, hdr, fuzzer.coverage); err != nil {
		log.Fatalf("failed to save state: %v", err)
	}
}

func writeState(w io.Writer, hdr stateHeader, cov coverage.Coverage) error {
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	return cov.WriteTo(w)
}

func readState(r io.Reader) (stateHeader, coverage.Coverage, error) {
	var hdr stateHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, err
	}
	cov, err := coverage.ReadFrom(r)
	return hdr, cov, err
}

// restoreState rebuilds counters, coverage and the corpus queue from a
// previous session. Per-sample priorities are not persisted, restored entries
// start from the saved minimum.
func (fuzzer *Fuzzer) restoreState() error {
	fuzzer.outputMu.Lock()
	defer fuzzer.outputMu.Unlock()
	fuzzer.coverageMu.Lock()
	defer fuzzer.coverageMu.Unlock()
	fuzzer.queueMu.Lock()
	defer fuzzer.queueMu.Unlock()

	f, err := os.Open(filepath.Join(fuzzer.cfg.OutputDir, stateFile))
	if err != nil {
		return fmt.Errorf("failed to restore state, "+
			"did the previous session run long enough for state to be saved? %w", err)
	}
	defer f.Close()
	hdr, cov, err := readState(f)
	if err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	fuzzer.numSamples = hdr.NumSamples
	fuzzer.totalExecs.Store(hdr.TotalExecs)
	fuzzer.minPriority = hdr.MinPriority
	fuzzer.coverage = cov

	samples := make([]*sample.Sample, hdr.NumSamples)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range samples {
		i := i
		g.Go(func() error {
			filename := filepath.Join(fuzzer.cfg.OutputDir, sampleDir, fmt.Sprintf("sample_%05d", i))
			s, err := sample.Load(filename)
			if err != nil {
				return err
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to restore corpus: %w", err)
	}
	for i, s := range samples {
		fuzzer.allSamples = append(fuzzer.allSamples, s)
		fuzzer.queue.Push(&QueueEntry{
			Sample:      s,
			Priority:    fuzzer.minPriority,
			SampleIndex: i,
		})
	}
	log.Logf(0, "restored %v samples, %v total execs", hdr.NumSamples, hdr.TotalExecs)
	return nil
}
