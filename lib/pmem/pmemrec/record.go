// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pmemrec implements the on-device volume-extent record that
// sits at the start of every PMem volume partition: its fixed binary
// layout, its checksums, the rule for picking which of its two state
// slots is authoritative, and the two-step protocol for updating it.
package pmemrec

import (
	"git.lukeshu.com/pmemvol-ng/lib/binstruct"
)

const (
	Magic = 0x566D654D50574D56

	// MaxExtents is the capacity of a state slot's directory.
	MaxExtents = 256

	// BlockSize is the PMem block size, the unit of extent sizes and
	// of the ADD_VOLUME_EXTENT ioctl.
	BlockSize = 4096

	// HeaderSize is the size of the record header, including its
	// zero padding.
	HeaderSize = 0x1000
)

var (
	// RecordSize is the encoded size of a Record, before rounding
	// up to whole sectors.
	RecordSize = binstruct.StaticSize(Record{})
	// StateSize is the encoded size of one ExtentState slot.
	StateSize = binstruct.StaticSize(ExtentState{})
)

// Record is the volume-extent record.  All integers are
// little-endian.
type Record struct {
	Magic           uint64         `bin:"off=0x0,    siz=0x8"`
	ExtentUUID      UUID           `bin:"off=0x8,    siz=0x10"`
	VolumeUUID      UUID           `bin:"off=0x18,   siz=0x10"`
	NamespaceUUID   UUID           `bin:"off=0x28,   siz=0x10"` // GUID byte order
	StateSize       uint64         `bin:"off=0x38,   siz=0x8"`
	DataLossCounter uint64         `bin:"off=0x40,   siz=0x8"`
	Padding         [0xfb8]byte    `bin:"off=0x48,   siz=0xfb8"`
	State           [2]ExtentState `bin:"off=0x1000, siz=0x3030"`

	binstruct.End `bin:"off=0x4030"`
}

// ExtentState is one of the two ping-pong slots of a Record.
type ExtentState struct {
	Generation uint64                  `bin:"off=0x0,    siz=0x8"`
	NumExtents uint64                  `bin:"off=0x8,    siz=0x8"`
	Extents    [MaxExtents]ExtentEntry `bin:"off=0x10,   siz=0x1800"`
	Padding    uint32                  `bin:"off=0x1810, siz=0x4"`
	CRC32      uint32                  `bin:"off=0x1814, siz=0x4"`

	binstruct.End `bin:"off=0x1818"`
}

// ExtentEntry is one member of a volume directory.
type ExtentEntry struct {
	Size uint64 `bin:"off=0x0, siz=0x8"` // in BlockSize units
	UUID UUID   `bin:"off=0x8, siz=0x10"`

	binstruct.End `bin:"off=0x18"`
}

// Directory returns the first NumExtents entries of the slot.  A
// NumExtents larger than MaxExtents is clamped.
func (s ExtentState) Directory() []ExtentEntry {
	n := s.NumExtents
	if n > MaxExtents {
		n = MaxExtents
	}
	return s.Extents[:n]
}

// SetDirectory replaces the slot's directory, zeroing unused entries.
// It panics if dir has more than MaxExtents entries.
func (s *ExtentState) SetDirectory(dir []ExtentEntry) {
	if len(dir) > MaxExtents {
		panic("pmemrec: too many extents in directory")
	}
	s.Extents = [MaxExtents]ExtentEntry{}
	copy(s.Extents[:], dir)
	s.NumExtents = uint64(len(dir))
}

// SameDirectory reports whether two slots describe the same volume
// layout: equal NumExtents and bit-identical listed entries.
func (s ExtentState) SameDirectory(o ExtentState) bool {
	if s.NumExtents != o.NumExtents || s.NumExtents > MaxExtents {
		return false
	}
	for i := uint64(0); i < s.NumExtents; i++ {
		if s.Extents[i] != o.Extents[i] {
			return false
		}
	}
	return true
}

// Find returns the index of the extent with the given UUID in the
// slot's directory, or -1.
func (s ExtentState) Find(extent UUID) int {
	for i, e := range s.Directory() {
		if e.UUID == extent {
			return i
		}
	}
	return -1
}
