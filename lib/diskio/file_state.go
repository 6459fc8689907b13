// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"errors"
	"io"
)

// statefulFile adds a read cursor to a File, for consumers (such as
// partition-table libraries) that want an io.ReadSeeker alongside
// io.ReaderAt and io.WriterAt.
type statefulFile[A ~int64] struct {
	inner File[A]
	pos   A
}

var (
	_ File[assertAddr] = (*statefulFile[assertAddr])(nil)
	_ io.ReadSeeker    = (*statefulFile[assertAddr])(nil)
)

func NewStatefulFile[A ~int64](file File[A]) *statefulFile[A] {
	return &statefulFile[A]{
		inner: file,
	}
}

func (sf *statefulFile[A]) Name() string                           { return sf.inner.Name() }
func (sf *statefulFile[A]) Size() A                                { return sf.inner.Size() }
func (sf *statefulFile[A]) Close() error                           { return sf.inner.Close() }
func (sf *statefulFile[A]) Sync() error                            { return sf.inner.Sync() }
func (sf *statefulFile[A]) ReadAt(dat []byte, off A) (int, error)  { return sf.inner.ReadAt(dat, off) }
func (sf *statefulFile[A]) WriteAt(dat []byte, off A) (int, error) { return sf.inner.WriteAt(dat, off) }

func (sf *statefulFile[A]) Read(dat []byte) (n int, err error) {
	n, err = sf.ReadAt(dat, sf.pos)
	sf.pos += A(n)
	return n, err
}

func (sf *statefulFile[A]) ReadByte() (byte, error) {
	var dat [1]byte
	_, err := sf.Read(dat[:])
	return dat[0], err
}

func (sf *statefulFile[A]) Seek(offset int64, whence int) (int64, error) {
	var base A
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = sf.pos
	case io.SeekEnd:
		base = sf.inner.Size()
	default:
		return int64(sf.pos), errors.New("diskio: Seek: invalid whence")
	}
	pos := base + A(offset)
	if pos < 0 {
		return int64(sf.pos), errors.New("diskio: Seek: negative position")
	}
	sf.pos = pos
	return int64(pos), nil
}
