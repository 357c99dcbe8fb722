// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"encoding/binary"
	"math/rand"

	"github.com/google/jackalope/pkg/sample"
)

// ByteMutator mutates samples at the byte level without any knowledge of the
// input format. Operators that produce new coverage are picked more often.
type ByteMutator struct {
	// roundIterations bounds the number of mutations per fuzzing round of a sample.
	roundIterations int
	lastOp          int
	opSuccess       [numByteOps]int
	ctx             *byteContext
}

type byteContext struct {
	remaining int
}

const defaultRoundIterations = 1000

const (
	opFlipBit = iota
	opFlipByte
	opInsertBytes
	opDuplicateRange
	opDeleteRange
	opSplice
	opInterestingValue
	opArith
	opShuffleRange
	numByteOps
)

var interestingValues = []int64{
	-128, -1, 0, 1, 16, 32, 64, 100, 127, 128, 255, 256, 512, 1000, 1024,
	4096, 32767, 32768, 65535, 65536, 0x7fffffff, 0x80000000, 0xffffffff,
}

func NewByteMutator() *ByteMutator {
	return &ByteMutator{roundIterations: defaultRoundIterations}
}

func (m *ByteMutator) CreateContext(s *sample.Sample) Context {
	return &byteContext{}
}

func (m *ByteMutator) InitRound(s *sample.Sample, ctx Context) {
	m.ctx = ctx.(*byteContext)
	m.ctx.remaining = m.roundIterations
}

func (m *ByteMutator) NotifyResult(res Result, newCoverage bool) {
	if newCoverage {
		m.opSuccess[m.lastOp]++
	}
}

func (m *ByteMutator) Mutate(s *sample.Sample, rnd *rand.Rand, corpus []*sample.Sample) bool {
	// Mutate is invoked on a fresh clone each time, so the round budget lives
	// in the per-sample context rather than on the sample itself.
	if m.ctx != nil {
		if m.ctx.remaining <= 0 {
			return false
		}
		m.ctx.remaining--
	}
	// Stack 1-4 operators to occasionally produce larger jumps.
	nops := 1 + rnd.Intn(4)
	for i := 0; i < nops; i++ {
		m.lastOp = m.pickOp(rnd)
		m.applyOp(m.lastOp, s, rnd, corpus)
	}
	s.Trim(sample.MaxSampleSize)
	return true
}

func (m *ByteMutator) pickOp(rnd *rand.Rand) int {
	total := 0
	for op := 0; op < numByteOps; op++ {
		total += 1 + m.opSuccess[op]
	}
	n := rnd.Intn(total)
	for op := 0; op < numByteOps; op++ {
		n -= 1 + m.opSuccess[op]
		if n < 0 {
			return op
		}
	}
	return opFlipByte
}

func (m *ByteMutator) applyOp(op int, s *sample.Sample, rnd *rand.Rand, corpus []*sample.Sample) {
	data := s.Data
	switch op {
	case opFlipBit:
		if len(data) == 0 {
			break
		}
		pos := rnd.Intn(len(data))
		data[pos] ^= 1 << uint(rnd.Intn(8))
	case opFlipByte:
		if len(data) == 0 {
			break
		}
		data[rnd.Intn(len(data))] = byte(rnd.Intn(256))
	case opInsertBytes:
		pos := 0
		if len(data) != 0 {
			pos = rnd.Intn(len(data) + 1)
		}
		n := 1 + rnd.Intn(16)
		chunk := make([]byte, n)
		for i := range chunk {
			chunk[i] = byte(rnd.Intn(256))
		}
		s.Data = insert(data, pos, chunk)
	case opDuplicateRange:
		if len(data) == 0 {
			break
		}
		start, n := randRange(rnd, len(data), 64)
		pos := rnd.Intn(len(data) + 1)
		chunk := append([]byte{}, data[start:start+n]...)
		s.Data = insert(data, pos, chunk)
	case opDeleteRange:
		if len(data) < 2 {
			break
		}
		start, n := randRange(rnd, len(data), len(data)-1)
		s.Data = append(data[:start], data[start+n:]...)
	case opSplice:
		if len(corpus) == 0 {
			break
		}
		other := corpus[rnd.Intn(len(corpus))]
		if other.Size() == 0 {
			break
		}
		start, n := randRange(rnd, other.Size(), other.Size())
		chunk := append([]byte{}, other.Data[start:start+n]...)
		pos := 0
		if len(data) != 0 {
			pos = rnd.Intn(len(data) + 1)
		}
		if rnd.Intn(2) == 0 && len(data) > 0 {
			// Overwrite in place instead of inserting.
			for i := 0; i < len(chunk) && pos+i < len(data); i++ {
				data[pos+i] = chunk[i]
			}
		} else {
			s.Data = insert(data, pos, chunk)
		}
	case opInterestingValue:
		width := []int{1, 2, 4, 8}[rnd.Intn(4)]
		if len(data) < width {
			break
		}
		pos := rnd.Intn(len(data) - width + 1)
		val := interestingValues[rnd.Intn(len(interestingValues))]
		putInt(data[pos:pos+width], uint64(val), rnd.Intn(2) == 0)
	case opArith:
		width := []int{1, 2, 4}[rnd.Intn(3)]
		if len(data) < width {
			break
		}
		pos := rnd.Intn(len(data) - width + 1)
		bigEndian := rnd.Intn(2) == 0
		delta := uint64(1 + rnd.Intn(35))
		if rnd.Intn(2) == 0 {
			delta = -delta
		}
		putInt(data[pos:pos+width], getInt(data[pos:pos+width], bigEndian)+delta, bigEndian)
	case opShuffleRange:
		if len(data) < 2 {
			break
		}
		start, n := randRange(rnd, len(data), 8)
		rnd.Shuffle(n, func(i, j int) {
			data[start+i], data[start+j] = data[start+j], data[start+i]
		})
	}
}

func randRange(rnd *rand.Rand, size, maxLen int) (start, n int) {
	start = rnd.Intn(size)
	n = 1 + rnd.Intn(min(maxLen, size-start))
	return
}

func insert(data []byte, pos int, chunk []byte) []byte {
	res := make([]byte, 0, len(data)+len(chunk))
	res = append(res, data[:pos]...)
	res = append(res, chunk...)
	res = append(res, data[pos:]...)
	return res
}

func getInt(b []byte, bigEndian bool) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		if bigEndian {
			return uint64(binary.BigEndian.Uint16(b))
		}
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		if bigEndian {
			return uint64(binary.BigEndian.Uint32(b))
		}
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		if bigEndian {
			return binary.BigEndian.Uint64(b)
		}
		return binary.LittleEndian.Uint64(b)
	}
}

func putInt(b []byte, v uint64, bigEndian bool) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		if bigEndian {
			binary.BigEndian.PutUint16(b, uint16(v))
		} else {
			binary.LittleEndian.PutUint16(b, uint16(v))
		}
	case 4:
		if bigEndian {
			binary.BigEndian.PutUint32(b, uint32(v))
		} else {
			binary.LittleEndian.PutUint32(b, uint32(v))
		}
	default:
		if bigEndian {
			binary.BigEndian.PutUint64(b, v)
		} else {
			binary.LittleEndian.PutUint64(b, v)
		}
	}
}
