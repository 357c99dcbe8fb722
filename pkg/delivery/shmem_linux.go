// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package delivery

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/google/jackalope/pkg/sample"
)

// shmemDelivery publishes samples in a POSIX shared memory region. The region
// starts with a 4-byte little-endian sample size followed by the sample data,
// and the target receives the region name in place of "@@".
type shmemDelivery struct {
	name string
	file *os.File
	mem  []byte
}

const shmemSize = sample.MaxSampleSize + 4

func newShmemDelivery(name string) (*shmemDelivery, error) {
	// shm_open(name) maps to a file under /dev/shm on linux.
	file, err := os.OpenFile(filepath.Join("/dev/shm", name), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory %v: %w", name, err)
	}
	if err := file.Truncate(shmemSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to resize shared memory %v: %w", name, err)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, shmemSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap shared memory %v: %w", name, err)
	}
	return &shmemDelivery{name: name, file: file, mem: mem}, nil
}

func (d *shmemDelivery) Deliver(s *sample.Sample) error {
	if s.Size() > sample.MaxSampleSize {
		return fmt.Errorf("sample of size %v exceeds shared memory region", s.Size())
	}
	binary.LittleEndian.PutUint32(d.mem, uint32(s.Size()))
	copy(d.mem[4:], s.Data)
	return nil
}

func (d *shmemDelivery) TargetArgs(args []string) []string {
	// Targets open the region via shm_open, which wants the unprefixed name.
	return replacePlaceholder(args, d.name)
}

func (d *shmemDelivery) Close() error {
	unix.Munmap(d.mem)
	d.file.Close()
	return os.Remove(filepath.Join("/dev/shm", d.name))
}
