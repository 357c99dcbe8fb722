// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"bytes"

	"github.com/google/jackalope/pkg/sample"
)

// OutputFilter normalizes samples right before execution. The caller's sample
// is not modified, but when the filter returns a replacement, the replacement
// is what runSample trims, saves to the corpus and reports to the server; the
// unfiltered sample is not kept.
type OutputFilter interface {
	// Filter returns the transformed copy to execute in place of s,
	// or nil when s should run unmodified.
	Filter(s *sample.Sample) *sample.Sample
}

// MagicFilter overwrites the head of every executed sample with a fixed magic,
// so mutations of the file signature never waste executions on the target's
// format check.
type MagicFilter struct {
	Magic []byte
}

func (f *MagicFilter) Filter(s *sample.Sample) *sample.Sample {
	if len(s.Data) >= len(f.Magic) && bytes.Equal(s.Data[:len(f.Magic)], f.Magic) {
		return nil
	}
	out := s.Clone()
	copy(out.Data, f.Magic)
	return out
}
