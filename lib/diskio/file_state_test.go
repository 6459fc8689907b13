// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio_test

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/pmemvol-ng/lib/diskio"
)

type byteReaderWithName struct {
	*bytes.Reader
	name string
}

func (r byteReaderWithName) Name() string {
	return r.name
}

func (byteReaderWithName) Close() error {
	return nil
}

func (byteReaderWithName) Sync() error {
	return nil
}

func (byteReaderWithName) WriteAt([]byte, int64) (int, error) {
	panic("not implemented")
}

func FuzzStatefulReader(f *testing.F) {
	f.Add([]byte("EFI PART"))
	f.Fuzz(func(t *testing.T, content []byte) {
		t.Logf("content=%q", content)
		var file diskio.File[int64] = byteReaderWithName{
			Reader: bytes.NewReader(content),
			name:   t.Name(),
		}
		reader := diskio.NewStatefulFile[int64](file)
		if err := iotest.TestReader(reader, content); err != nil {
			t.Error(err)
		}
	})
}

func TestStatefulSeek(t *testing.T) {
	t.Parallel()
	content := []byte("0123456789")
	file := diskio.NewStatefulFile[int64](byteReaderWithName{
		Reader: bytes.NewReader(content),
		name:   t.Name(),
	})

	pos, err := file.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)

	var buf [2]byte
	_, err = io.ReadFull(file, buf[:])
	require.NoError(t, err)
	assert.Equal(t, "78", string(buf[:]))

	pos, err = file.Seek(-5, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)

	_, err = file.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}
