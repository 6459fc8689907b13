// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemgpt

import (
	"fmt"
	"strings"

	"github.com/diskfs/go-diskfs/partition/gpt"

	"git.lukeshu.com/pmemvol-ng/lib/binstruct"
)

type gptHeader struct {
	Signature      [8]byte  `bin:"off=0x0,  siz=0x8"`
	Revision       uint32   `bin:"off=0x8,  siz=0x4"`
	HeaderSize     uint32   `bin:"off=0xc,  siz=0x4"`
	HeaderCRC32    uint32   `bin:"off=0x10, siz=0x4"`
	Reserved       uint32   `bin:"off=0x14, siz=0x4"`
	MyLBA          uint64   `bin:"off=0x18, siz=0x8"`
	AlternateLBA   uint64   `bin:"off=0x20, siz=0x8"`
	FirstUsableLBA uint64   `bin:"off=0x28, siz=0x8"`
	LastUsableLBA  uint64   `bin:"off=0x30, siz=0x8"`
	DiskGUID       [16]byte `bin:"off=0x38, siz=0x10"`
	EntriesLBA     uint64   `bin:"off=0x48, siz=0x8"`
	NumEntries     uint32   `bin:"off=0x50, siz=0x4"`
	EntrySize      uint32   `bin:"off=0x54, siz=0x4"`
	EntriesCRC32   uint32   `bin:"off=0x58, siz=0x4"`

	binstruct.End `bin:"off=0x5c"`
}

func (h gptHeader) Valid() bool {
	return string(h.Signature[:]) == gptSignature
}

type gptEntry struct {
	TypeGUID   [16]byte `bin:"off=0x0,  siz=0x10"`
	UniqueGUID [16]byte `bin:"off=0x10, siz=0x10"`
	FirstLBA   uint64   `bin:"off=0x20, siz=0x8"`
	LastLBA    uint64   `bin:"off=0x28, siz=0x8"`
	Attributes uint64   `bin:"off=0x30, siz=0x8"`
	Name       [72]byte `bin:"off=0x38, siz=0x48"`

	binstruct.End `bin:"off=0x80"`
}

// maxEntries bounds how much of a (possibly garbage) header we
// believe.
const maxEntries = 4096

func (t *Table) readHeader(lba int64) (gptHeader, error) {
	buf := make([]byte, t.dev.SectorSize)
	if _, err := t.dev.File.ReadAt(buf, lba*t.dev.SectorSize); err != nil {
		return gptHeader{}, err
	}
	var hdr gptHeader
	if _, err := binstruct.Unmarshal(buf, &hdr); err != nil {
		return gptHeader{}, err
	}
	return hdr, nil
}

type sectorRange struct {
	First, Last uint64
}

// entryIndexes reads the primary partition entry array and maps each
// used entry to its 0-based position in the array.
func (t *Table) entryIndexes() (map[sectorRange]int, error) {
	hdr, err := t.readHeader(1)
	if err != nil {
		return nil, err
	}
	if !hdr.Valid() {
		return nil, fmt.Errorf("no primary GPT header")
	}
	entrySize := binstruct.StaticSize(gptEntry{})
	if int(hdr.EntrySize) < entrySize || hdr.NumEntries > maxEntries {
		return nil, fmt.Errorf("implausible partition entry array: %d entries of %d bytes",
			hdr.NumEntries, hdr.EntrySize)
	}
	arr := make([]byte, int64(hdr.NumEntries)*int64(hdr.EntrySize))
	if _, err := t.dev.File.ReadAt(arr, int64(hdr.EntriesLBA)*t.dev.SectorSize); err != nil {
		return nil, err
	}
	ret := make(map[sectorRange]int)
	for i := 0; i < int(hdr.NumEntries); i++ {
		var ent gptEntry
		if _, err := binstruct.Unmarshal(arr[i*int(hdr.EntrySize):], &ent); err != nil {
			return nil, err
		}
		if ent.TypeGUID == ([16]byte{}) {
			continue
		}
		ret[sectorRange{First: ent.FirstLBA, Last: ent.LastLBA}] = i
	}
	return ret, nil
}

func isUnused(p *gpt.Partition) bool {
	return p == nil || (p.Start == 0 && p.End == 0) || strings.EqualFold(string(p.Type), string(gpt.Unused))
}

func unusedEntry() *gpt.Partition {
	return &gpt.Partition{Type: gpt.Unused}
}

// positioned lays parts out the way they sit in the on-disk entry
// array, with unused placeholders in the gaps, so that writing the
// table back does not renumber anything.  Partitions that idx does
// not know about go at the end.
func positioned(parts []*gpt.Partition, idx map[sectorRange]int) []*gpt.Partition {
	var out, extra []*gpt.Partition
	for _, p := range parts {
		if isUnused(p) {
			continue
		}
		i, ok := idx[sectorRange{First: p.Start, Last: p.End}]
		if !ok {
			extra = append(extra, p)
			continue
		}
		for len(out) <= i {
			out = append(out, unusedEntry())
		}
		if !isUnused(out[i]) {
			extra = append(extra, p)
			continue
		}
		out[i] = p
	}
	return append(out, extra...)
}
