// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemgpt

import (
	"fmt"
)

// A Region is a run of unallocated sectors.
type Region struct {
	Start  int64
	Length int64
}

// End is the last sector of the region, inclusive.
func (r Region) End() int64 {
	return r.Start + r.Length - 1
}

// A Constraint restricts the partitions that AllocatePartition may
// create.  All values are in device sectors and must be positive.
type Constraint struct {
	StartAlign int64
	EndAlign   int64
	MinSize    int64
}

// ConstraintFromBytes builds a Constraint from byte quantities.
func ConstraintFromBytes(startAlign, endAlign, minSize, sectorSize int64) Constraint {
	return Constraint{
		StartAlign: startAlign / sectorSize,
		EndAlign:   endAlign / sectorSize,
		MinSize:    minSize / sectorSize,
	}
}

func roundUp(x, align int64) int64 {
	return (x + align - 1) / align * align
}

func roundDown(x, align int64) int64 {
	return x / align * align
}

// Fit returns the largest region inside r whose start is a multiple
// of c.StartAlign and whose exclusive end is a multiple of c.EndAlign.
// It fails with ErrConstraint if that region is shorter than
// c.MinSize.
func Fit(r Region, c Constraint) (Region, error) {
	if c.StartAlign <= 0 || c.EndAlign <= 0 {
		return Region{}, fmt.Errorf("%w: alignment must be positive: %+v", ErrConstraint, c)
	}
	start := roundUp(r.Start, c.StartAlign)
	end := roundDown(r.Start+r.Length, c.EndAlign)
	if end-start < c.MinSize || end <= start {
		return Region{}, fmt.Errorf("%w: region [%d, %d] aligns to [%d, %d), need at least %d sectors",
			ErrConstraint, r.Start, r.End(), start, end, c.MinSize)
	}
	return Region{Start: start, Length: end - start}, nil
}

// FreeRegionIter walks the free regions of a table, in order.  It
// works from a snapshot of the table taken when it was created, and
// cannot be restarted.
type FreeRegionIter struct {
	parts []Partition
	pos   int64
	last  int64
	idx   int
	done  bool
}

// FreeRegions returns an iterator over the unallocated regions of the
// table's usable area.
func (t *Table) FreeRegions() *FreeRegionIter {
	first, last := t.usableRange()
	return &FreeRegionIter{
		parts: t.Partitions(),
		pos:   first,
		last:  last,
	}
}

// Next returns the next free region, or false once there are no more.
func (it *FreeRegionIter) Next() (Region, bool) {
	for !it.done {
		var gapEnd int64
		if it.idx < len(it.parts) {
			p := it.parts[it.idx]
			it.idx++
			gapEnd = p.Start - 1
			if gapEnd > it.last {
				gapEnd = it.last
			}
			start := it.pos
			if p.End+1 > it.pos {
				it.pos = p.End + 1
			}
			if gapEnd >= start {
				return Region{Start: start, Length: gapEnd - start + 1}, true
			}
			continue
		}
		it.done = true
		if it.last >= it.pos {
			return Region{Start: it.pos, Length: it.last - it.pos + 1}, true
		}
	}
	return Region{}, false
}

// AllocatePartition carves a volume-extent partition out of region
// under constraint c.  If the region cannot satisfy c it returns nil
// and no error; the caller should move on to the next region.
func (t *Table) AllocatePartition(region Region, c Constraint) (*Partition, error) {
	fit, err := Fit(region, c)
	if err != nil {
		return nil, nil //nolint:nilerr // An unsatisfiable region is not an error.
	}
	first, last := t.usableRange()
	if fit.Start < first || fit.End() > last {
		return nil, &PartitionError{
			Kind: KindConstraint,
			Path: t.dev.Path,
			Err:  fmt.Errorf("region [%d, %d] is outside of the usable area [%d, %d]", fit.Start, fit.End(), first, last),
		}
	}
	p := t.AddPartition(fit.Start, fit.End())
	return &p, nil
}
