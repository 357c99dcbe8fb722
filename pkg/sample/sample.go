// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package sample defines the unit of work of the fuzzer: an opaque byte buffer
// that is delivered to the target, mutated, trimmed and persisted on disk.
package sample

import (
	"fmt"
	"os"

	"github.com/google/jackalope/pkg/osutil"
)

// MaxSampleSize is the hard cap on the size of any sample the fuzzer handles.
// Samples loaded from disk or received from the coverage server that exceed it
// are truncated, and the mutation loop never grows a sample past it.
const MaxSampleSize = 1000000

type Sample struct {
	Data []byte
}

func FromData(data []byte) *Sample {
	return &Sample{Data: append([]byte{}, data...)}
}

func Load(filename string) (*Sample, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %v: %w", filename, err)
	}
	return &Sample{Data: data}, nil
}

func (s *Sample) Save(filename string) error {
	if err := osutil.WriteFile(filename, s.Data); err != nil {
		return fmt.Errorf("failed to save sample %v: %w", filename, err)
	}
	return nil
}

func (s *Sample) Size() int {
	return len(s.Data)
}

// Trim truncates the sample to at most size bytes.
func (s *Sample) Trim(size int) {
	if len(s.Data) > size {
		s.Data = s.Data[:size]
	}
}

func (s *Sample) Clone() *Sample {
	return FromData(s.Data)
}
