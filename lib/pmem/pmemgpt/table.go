// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pmemgpt manages the GUID partition table on a PMem
// namespace: opening or creating it, finding free space, carving
// volume-extent partitions out of that space, and writing it back.
package pmemgpt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/util"
	"github.com/google/uuid"

	"git.lukeshu.com/pmemvol-ng/lib/diskio"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
)

const (
	// PartitionType is the GPT type GUID given to volume-extent
	// partitions.
	PartitionType gpt.Type = "C22D6E5E-7B40-4DB6-9F58-4A0F7F1D7E01"
	// PartitionName is the GPT name given to volume-extent
	// partitions.
	PartitionName = "pmem-volume-extent"
)

// GPT geometry: one protective-MBR sector, a header sector at each
// end, and a 128x128-byte partition entry array at each end.
const (
	gptEntryArrayBytes = 128 * 128
	gptSignature       = "EFI PART"
)

// A Partition is one entry of a Table.  Sector numbers are in device
// sectors.
type Partition struct {
	Number int   // 1-based position in the GPT entry array
	Start  int64 // first sector
	End    int64 // last sector, inclusive
	Type   string
	Name   string
	GUID   string
	// New is set on partitions added since the table was opened.
	New bool
}

// Sectors is the length of the partition.
func (p Partition) Sectors() int64 {
	return p.End - p.Start + 1
}

// Table is an open partition table.  Mutations happen in memory until
// Commit.
type Table struct {
	dev *pmemdev.Device
	// gpt.Partitions mirrors the on-disk entry array, unused
	// entries included.
	gpt         *gpt.Table
	news        map[int]bool
	dirty       bool
	needsRepair bool
}

func (t *Table) Device() *pmemdev.Device { return t.dev }

// Dirty reports whether the table has changes that Commit would
// write.
func (t *Table) Dirty() bool { return t.dirty }

// NeedsRepair reports whether the table was found damaged, and Commit
// would fix it.
func (t *Table) NeedsRepair() bool { return t.needsRepair }

func (t *Table) file() util.File {
	return diskio.NewStatefulFile[int64](t.dev.File)
}

func (t *Table) freshTable() *gpt.Table {
	return &gpt.Table{
		LogicalSectorSize:  int(t.dev.SectorSize),
		PhysicalSectorSize: int(t.dev.SectorSize),
		ProtectiveMBR:      true,
	}
}

// OpenOrCreate opens the partition table on dev.  If prober finds a
// foreign filesystem occupying the whole namespace, it returns an
// error matching ErrForeignFilesystem.  A table with a missing backup
// header is marked as needing repair, and the repair happens on
// Commit; if no table parses at all, a fresh empty one is created.
// Nothing is written to dev.
func OpenOrCreate(ctx context.Context, dev *pmemdev.Device, prober Prober) (*Table, error) {
	if prober != nil {
		name, err := prober.Probe(ctx, dev.Path)
		if err != nil {
			return nil, &PartitionError{Kind: KindOpen, Path: dev.Path, Err: err}
		}
		if isForeign(name) {
			return nil, &PartitionError{
				Kind: KindOpen,
				Path: dev.Path,
				Err:  fmt.Errorf("%w: %q", ErrForeignFilesystem, name),
			}
		}
	}

	t := &Table{
		dev:  dev,
		news: make(map[int]bool),
	}
	raw, err := gpt.Read(diskio.NewStatefulFile[int64](dev.File), int(dev.SectorSize), int(dev.SectorSize))
	if err != nil {
		dlog.Infof(ctx, "%q: no readable partition table (%v); creating a new one", dev.Path, err)
		t.gpt = t.freshTable()
		t.dirty = true
		return t, nil
	}
	t.gpt = raw
	idx, err := t.entryIndexes()
	if err != nil {
		dlog.Debugf(ctx, "%q: can't locate partition entries (%v); numbering them in order", dev.Path, err)
	}
	t.gpt.Partitions = positioned(raw.Partitions, idx)

	hdr, err := t.readHeader(dev.Sectors() - 1)
	if err != nil {
		return nil, &PartitionError{Kind: KindRead, Path: dev.Path, Err: err}
	}
	if !hdr.Valid() {
		dlog.Warnf(ctx, "%q: backup GPT header is missing; it will be rewritten on commit", dev.Path)
		t.needsRepair = true
		t.dirty = true
	}
	return t, nil
}

// Create returns a fresh, empty table for dev without looking at what
// is on it.  Nothing is written until Commit.
func Create(dev *pmemdev.Device) *Table {
	t := &Table{
		dev:   dev,
		news:  make(map[int]bool),
		dirty: true,
	}
	t.gpt = t.freshTable()
	return t
}

// Partitions returns the table's partitions, ordered by start sector.
func (t *Table) Partitions() []Partition {
	ret := make([]Partition, 0, len(t.gpt.Partitions))
	for i, p := range t.gpt.Partitions {
		if isUnused(p) {
			continue
		}
		ret = append(ret, Partition{
			Number: i + 1,
			Start:  int64(p.Start),
			End:    int64(p.End),
			Type:   string(p.Type),
			Name:   p.Name,
			GUID:   p.GUID,
			New:    t.news[i+1],
		})
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Start < ret[j].Start
	})
	return ret
}

// usableRange returns the first and last sectors that a partition
// may occupy.
func (t *Table) usableRange() (first, last int64) {
	arraySectors := int64(gptEntryArrayBytes) / t.dev.SectorSize
	first = 2 + arraySectors
	last = t.dev.Sectors() - 2 - arraySectors
	return first, last
}

// AddPartition adds a volume-extent partition spanning exactly
// [start, end].
func (t *Table) AddPartition(start, end int64) Partition {
	p := &gpt.Partition{
		Start: uint64(start),
		End:   uint64(end),
		Size:  uint64(end-start+1) * uint64(t.dev.SectorSize),
		Type:  PartitionType,
		Name:  PartitionName,
		GUID:  strings.ToUpper(uuid.NewString()),
	}
	num := 0
	for i, old := range t.gpt.Partitions {
		if isUnused(old) {
			t.gpt.Partitions[i] = p
			num = i + 1
			break
		}
	}
	if num == 0 {
		t.gpt.Partitions = append(t.gpt.Partitions, p)
		num = len(t.gpt.Partitions)
	}
	t.news[num] = true
	t.dirty = true
	return Partition{
		Number: num,
		Start:  start,
		End:    end,
		Type:   string(p.Type),
		Name:   p.Name,
		GUID:   p.GUID,
		New:    true,
	}
}

// DeleteAll replaces the table with a fresh, empty one.  Nothing is
// written until Commit.
func (t *Table) DeleteAll() {
	t.gpt = t.freshTable()
	t.news = make(map[int]bool)
	t.dirty = true
}

func (t *Table) write() error {
	if err := t.gpt.Write(t.file(), t.dev.File.Size()); err != nil {
		return &PartitionError{Kind: KindWrite, Path: t.dev.Path, Err: err}
	}
	if err := t.dev.File.Sync(); err != nil {
		return &PartitionError{Kind: KindWrite, Path: t.dev.Path, Err: err}
	}
	return nil
}

// Commit writes the table to the device and syncs it.  It is a no-op
// if nothing changed.
func (t *Table) Commit(ctx context.Context) error {
	if !t.dirty {
		return nil
	}
	dlog.Debugf(ctx, "%q: writing partition table with %d partitions", t.dev.Path, len(t.gpt.Partitions))
	if err := t.write(); err != nil {
		return err
	}
	t.dirty = false
	t.needsRepair = false
	return nil
}
