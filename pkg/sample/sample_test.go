// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sample

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "sample")
	s := FromData([]byte{0, 1, 2, 0xff})
	require.NoError(t, s.Save(filename))
	got, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, s.Data, got.Data)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nothing"))
	assert.Error(t, err)
}

func TestTrim(t *testing.T) {
	s := FromData([]byte("0123456789"))
	s.Trim(100)
	assert.Equal(t, 10, s.Size())
	s.Trim(4)
	assert.Equal(t, []byte("0123"), s.Data)
}

func TestCloneIndependent(t *testing.T) {
	s := FromData([]byte("data"))
	clone := s.Clone()
	clone.Data[0] = 'x'
	clone.Data = append(clone.Data, 'y')
	assert.Equal(t, []byte("data"), s.Data)
}

func TestFromDataCopies(t *testing.T) {
	buf := []byte("data")
	s := FromData(buf)
	buf[0] = 'x'
	assert.Equal(t, []byte("data"), s.Data)
}
