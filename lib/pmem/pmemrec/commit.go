// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemrec

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/pmemvol-ng/lib/diskio"
)

// CommitPhase is the state of a Commit.
type CommitPhase int

const (
	// CommitIdle: nothing has been written.
	CommitIdle CommitPhase = iota
	// CommitPrepared: the new slot is on the device with a zero
	// CRC32, so it can never be selected.  The previously active
	// slot (if any) is untouched and still wins.
	CommitPrepared
	// CommitCommitted: the new slot has been rewritten with its
	// real CRC32 and a higher generation, so it is now the active
	// slot.
	CommitCommitted
)

func (p CommitPhase) String() string {
	switch p {
	case CommitIdle:
		return "idle"
	case CommitPrepared:
		return "prepared"
	case CommitCommitted:
		return "committed"
	default:
		return fmt.Sprintf("CommitPhase(%d)", int(p))
	}
}

// A Commit writes a new directory into the inactive slot of one
// record.  Callers drive it through Prepare and then Commit, making
// the device durable (diskio.File.Sync) after each step; see
// CommitPhase for what a crash at each point leaves behind.
type Commit struct {
	dev        diskio.File[int64]
	off        int64
	sectorSize int64

	rec   Record
	slot  int
	phase CommitPhase
}

// NewCommit plans writing dir into the record at byte offset off of
// dev.  rec supplies the header fields and the current slots; active
// is rec's active slot, or -1 if there is no prior valid record, in
// which case slot 0 is written with generation 1.
func NewCommit(dev diskio.File[int64], off, sectorSize int64, rec Record, active int, dir []ExtentEntry) (*Commit, error) {
	if len(dir) > MaxExtents {
		return nil, fmt.Errorf("pmemrec: %d extents exceeds the maximum of %d", len(dir), MaxExtents)
	}
	rec.Magic = Magic
	rec.StateSize = uint64(StateSize)
	rec.Padding = [len(rec.Padding)]byte{}

	c := &Commit{
		dev:        dev,
		off:        off,
		sectorSize: sectorSize,
	}
	var gen uint64 = 1
	switch active {
	case -1:
		c.slot = 0
		rec.State = [2]ExtentState{}
	case 0, 1:
		c.slot = 1 - active
		gen = rec.State[active].Generation + 1
	default:
		return nil, fmt.Errorf("pmemrec: invalid active slot %d", active)
	}

	next := ExtentState{
		Generation: gen,
	}
	next.SetDirectory(dir)
	rec.State[c.slot] = next
	c.rec = rec
	return c, nil
}

func (c *Commit) Phase() CommitPhase { return c.phase }

// Slot is the index of the slot being written.
func (c *Commit) Slot() int { return c.slot }

// Record returns the record as it will be once the commit completes.
func (c *Commit) Record() Record { return c.rec }

func (c *Commit) write(ctx context.Context) error {
	buf, err := Encode(c.rec, c.sectorSize)
	if err != nil {
		return err
	}
	dlog.Tracef(ctx, "writing %d-byte record to %q at %#x (slot=%d gen=%d crc=%#08x)",
		len(buf), c.dev.Name(), c.off, c.slot, c.rec.State[c.slot].Generation, c.rec.State[c.slot].CRC32)
	if _, err := c.dev.WriteAt(buf, c.off); err != nil {
		return err
	}
	return nil
}

// Prepare writes the record with the new slot's CRC32 set to zero.
func (c *Commit) Prepare(ctx context.Context) error {
	if c.phase != CommitIdle {
		return fmt.Errorf("pmemrec: Prepare called in phase %v", c.phase)
	}
	c.rec.State[c.slot].CRC32 = 0
	if err := c.write(ctx); err != nil {
		return fmt.Errorf("pmemrec: prepare %q: %w", c.dev.Name(), err)
	}
	c.phase = CommitPrepared
	return nil
}

// Commit rewrites the record with the new slot's real CRC32.  It
// must follow a Prepare whose write has been made durable.
func (c *Commit) Commit(ctx context.Context) error {
	if c.phase != CommitPrepared {
		return fmt.Errorf("pmemrec: Commit called in phase %v", c.phase)
	}
	sum, err := Checksum(c.rec, c.slot)
	if err != nil {
		return err
	}
	c.rec.State[c.slot].CRC32 = sum
	if err := c.write(ctx); err != nil {
		return fmt.Errorf("pmemrec: commit %q: %w", c.dev.Name(), err)
	}
	c.phase = CommitCommitted
	return nil
}
