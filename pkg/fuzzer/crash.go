// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"path/filepath"

	"github.com/google/jackalope/pkg/log"
	"github.com/google/jackalope/pkg/sample"
)

// maxIdenticalCrashes caps how many samples are kept on disk per unique crash.
// Further occurrences are still counted, but not saved.
const maxIdenticalCrashes = 4

// registerCrash records a crash occurrence under crashMu and returns the
// duplicate index to save the sample under, or 0 when the crash has already
// been saved maxIdenticalCrashes times.
func (fuzzer *Fuzzer) registerCrash(name string) int {
	fuzzer.crashMu.Lock()
	defer fuzzer.crashMu.Unlock()
	fuzzer.numCrashes++
	count := fuzzer.crashes[name]
	if count >= maxIdenticalCrashes {
		return 0
	}
	if count == 0 {
		fuzzer.numUniqueCrashes++
	}
	fuzzer.crashes[name] = count + 1
	return count + 1
}

// saveCrash persists a crashing sample as <out>/crashes/<name>_<dup>.
func (fuzzer *Fuzzer) saveCrash(name string, dup int, crashing *sample.Sample) {
	fuzzer.outputMu.Lock()
	defer fuzzer.outputMu.Unlock()
	filename := filepath.Join(fuzzer.cfg.OutputDir, crashDir, fmt.Sprintf("%v_%v", name, dup))
	if err := crashing.Save(filename); err != nil {
		log.Logf(0, "failed to save crash: %v", err)
	}
}

// saveHang persists a hanging sample as <out>/hangs/hang_<num> and bumps the
// hang counter. Saving is optional, counting is not.
func (fuzzer *Fuzzer) saveHang(hanging *sample.Sample) {
	fuzzer.outputMu.Lock()
	defer fuzzer.outputMu.Unlock()
	if fuzzer.cfg.SaveHangs {
		filename := filepath.Join(fuzzer.cfg.OutputDir, hangDir, fmt.Sprintf("hang_%v", fuzzer.numHangs))
		if err := hanging.Save(filename); err != nil {
			log.Logf(0, "failed to save hang: %v", err)
		}
	}
	fuzzer.numHangs++
}
