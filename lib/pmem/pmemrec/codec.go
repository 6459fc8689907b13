// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemrec

import (
	"fmt"

	"git.lukeshu.com/pmemvol-ng/lib/binstruct"
	"git.lukeshu.com/pmemvol-ng/lib/diskio"
)

// FootprintSectors returns how many device sectors a record occupies
// on a device with the given sector size.
func FootprintSectors(sectorSize int64) int64 {
	return (int64(RecordSize) + sectorSize - 1) / sectorSize
}

// FootprintBytes is FootprintSectors in bytes.
func FootprintBytes(sectorSize int64) int64 {
	return FootprintSectors(sectorSize) * sectorSize
}

// Decode parses a record from the start of buf.  It fails only if buf
// is too short; a decoded record may still be garbage, which is for
// SelectActive to decide.
func Decode(buf []byte) (Record, error) {
	var rec Record
	if _, err := binstruct.Unmarshal(buf, &rec); err != nil {
		return Record{}, fmt.Errorf("pmemrec: decode: %w", err)
	}
	return rec, nil
}

// Encode serializes rec, zero-padded to the record's footprint on a
// device with the given sector size.
func Encode(rec Record, sectorSize int64) ([]byte, error) {
	dat, err := binstruct.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("pmemrec: encode: %w", err)
	}
	buf := make([]byte, FootprintBytes(sectorSize))
	copy(buf, dat)
	return buf, nil
}

// Read reads and decodes the record at byte offset off of dev.
func Read(dev diskio.File[int64], off, sectorSize int64) (Record, error) {
	buf := make([]byte, FootprintBytes(sectorSize))
	if _, err := dev.ReadAt(buf, off); err != nil {
		return Record{}, fmt.Errorf("pmemrec: read %q at %#x: %w", dev.Name(), off, err)
	}
	return Decode(buf)
}
