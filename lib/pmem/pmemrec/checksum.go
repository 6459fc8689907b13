// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemrec

import (
	"fmt"
	"hash/crc32"

	"git.lukeshu.com/pmemvol-ng/lib/binstruct"
)

var (
	stateOffset = binstruct.FieldOffset(Record{}, "State")
	crcOffset   = binstruct.FieldOffset(ExtentState{}, "CRC32")
)

// Checksum returns the CRC32 (IEEE) of slot `slot` of rec.  It covers
// the record header followed by the slot itself up to, but not
// including, the slot's CRC32 field.  The other slot is not covered.
func Checksum(rec Record, slot int) (uint32, error) {
	if slot != 0 && slot != 1 {
		return 0, fmt.Errorf("pmemrec: invalid slot index %d", slot)
	}
	dat, err := binstruct.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("pmemrec: checksum: %w", err)
	}
	return checksumBytes(dat, slot), nil
}

// checksumBytes is Checksum over an already-encoded record.
func checksumBytes(dat []byte, slot int) uint32 {
	sum := crc32.ChecksumIEEE(dat[:stateOffset])
	beg := stateOffset + slot*StateSize
	return crc32.Update(sum, crc32.IEEETable, dat[beg:beg+crcOffset])
}

// ValidateChecksum returns nil if slot `slot` of rec carries a
// correct CRC32.
func (rec Record) ValidateChecksum(slot int) error {
	stored := rec.State[slot].CRC32
	calced, err := Checksum(rec, slot)
	if err != nil {
		return err
	}
	if calced != stored {
		return fmt.Errorf("slot %d: checksum mismatch: stored=%#08x calculated=%#08x",
			slot, stored, calced)
	}
	return nil
}
