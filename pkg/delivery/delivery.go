// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package delivery moves the current sample into a place where the target can
// read it, either a file on disk or a shared memory region. The target command
// line refers to the sample location via the "@@" placeholder.
package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/jackalope/pkg/osutil"
	"github.com/google/jackalope/pkg/sample"
)

// Delivery delivers samples to the target. Each worker owns its own instance.
type Delivery interface {
	// Deliver makes the sample visible to the target.
	Deliver(s *sample.Sample) error

	// TargetArgs rewrites the target command line, substituting the "@@"
	// placeholder with the sample location.
	TargetArgs(args []string) []string

	// Close releases delivery resources.
	Close() error
}

// Create constructs the delivery method named by typ ("file" or "shmem") for
// the worker with the given id.
func Create(typ, outputDir string, pid, tid int) (Delivery, error) {
	switch typ {
	case "", "file":
		return newFileDelivery(outputDir, tid), nil
	case "shmem":
		return newShmemDelivery(fmt.Sprintf("shm_fuzz_%v_%v", pid, tid))
	default:
		return nil, fmt.Errorf("unknown sample delivery type '%v'", typ)
	}
}

type fileDelivery struct {
	filename string
}

func newFileDelivery(outputDir string, tid int) *fileDelivery {
	return &fileDelivery{
		filename: filepath.Join(outputDir, fmt.Sprintf("input_%v", tid)),
	}
}

func (d *fileDelivery) Deliver(s *sample.Sample) error {
	if err := osutil.WriteFile(d.filename, s.Data); err != nil {
		return fmt.Errorf("failed to deliver sample: %w", err)
	}
	return nil
}

func (d *fileDelivery) TargetArgs(args []string) []string {
	return replacePlaceholder(args, d.filename)
}

func (d *fileDelivery) Close() error {
	os.Remove(d.filename)
	return nil
}

func replacePlaceholder(args []string, loc string) []string {
	res := make([]string, len(args))
	for i, arg := range args {
		res[i] = strings.ReplaceAll(arg, "@@", loc)
	}
	return res
}
