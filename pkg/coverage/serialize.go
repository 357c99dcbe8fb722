// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Binary format (little-endian, packed):
// u32 magic | u32 num modules | per module: u32 name len, name bytes,
// u32 num offsets, u64 offsets. The format is stable within one engine
// version; state snapshots embed it verbatim.

const covMagic = uint32(0xc0FEED)

func (cov Coverage) WriteTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, covMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(cov))); err != nil {
		return err
	}
	for module, offsets := range cov {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(module))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, module); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(offsets))); err != nil {
			return err
		}
		for off := range offsets {
			if err := binary.Write(w, binary.LittleEndian, off); err != nil {
				return err
			}
		}
	}
	return nil
}

func ReadFrom(r io.Reader) (Coverage, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != covMagic {
		return nil, fmt.Errorf("bad coverage header: 0x%x", magic)
	}
	var numModules uint32
	if err := binary.Read(r, binary.LittleEndian, &numModules); err != nil {
		return nil, err
	}
	cov := make(Coverage, numModules)
	for i := uint32(0); i < numModules; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		var numOffsets uint32
		if err := binary.Read(r, binary.LittleEndian, &numOffsets); err != nil {
			return nil, err
		}
		offsets := make(OffsetSet, numOffsets)
		for j := uint32(0); j < numOffsets; j++ {
			var off uint64
			if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
				return nil, err
			}
			offsets[off] = struct{}{}
		}
		cov[string(name)] = offsets
	}
	return cov, nil
}
