// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmem

import (
	"context"
	"errors"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemrec"
	"git.lukeshu.com/pmemvol-ng/lib/textui"
)

// An ExtentTarget is a partition that is to hold one extent of a
// volume.
type ExtentTarget struct {
	Disk      *Disk
	Partition pmemgpt.Partition
	// Previous is the extent already on the partition, if any.
	Previous *ProbedExtent
}

// Writer writes volume-extent records and exposes extents to the
// kernel.
type Writer struct {
	Gateway pmemdev.Gateway
}

func sectorsPerBlock(sectorSize int64) (int64, error) {
	if sectorSize <= 0 || sectorSize > pmemrec.BlockSize || pmemrec.BlockSize%sectorSize != 0 {
		return 0, fmt.Errorf("sector size %d does not divide the PMem block size %d",
			sectorSize, pmemrec.BlockSize)
	}
	return pmemrec.BlockSize / sectorSize, nil
}

// distinctDisks returns the disks of the given extents, in order of
// first appearance.
func distinctDisks[T any](items []T, disk func(T) *Disk) []*Disk {
	seen := make(map[*Disk]struct{})
	var ret []*Disk
	for _, item := range items {
		d := disk(item)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		ret = append(ret, d)
	}
	return ret
}

type plannedExtent struct {
	ExtentTarget
	header pmemrec.Record
	active int
	commit *pmemrec.Commit // nil if the record is already up to date
}

func (p *plannedExtent) partialErr(step string, err error) error {
	return &PartialCommitError{
		Step:      step,
		Namespace: p.Disk.Dev.Path,
		Partition: p.Partition.Number,
		Err:       err,
	}
}

// CommitExtents makes targets the extents of volume volumeUUID, in
// order, and exposes them to the kernel:
//
//  1. Each target gets a record naming the volume, its namespace, the
//     namespace's current data-loss counter, and the complete
//     directory of all targets.  Extent UUIDs of targets that already
//     hold an extent are kept.
//  2. The new directory is written into each record's inactive slot
//     with an invalid checksum, and the devices are synced.
//  3. The slots are rewritten with valid checksums, and the devices
//     are synced.  This is the point at which the new directory takes
//     effect.
//  4. The partition tables are written.
//  5. The extents are exposed with AddVolumeExtent, and each
//     namespace's partitions are re-read.
//
// Targets whose record already holds the same volume, namespace, and
// directory are not rewritten.  A failure in steps 2 or 3 is a
// *PartialCommitError, and nothing is exposed.
func (w *Writer) CommitExtents(ctx context.Context, targets []ExtentTarget, volumeUUID pmemrec.UUID) (*VolumeView, error) {
	if len(targets) == 0 {
		return nil, errors.New("no extents to commit")
	}
	if len(targets) > pmemrec.MaxExtents {
		return nil, fmt.Errorf("%d extents exceeds the maximum of %d", len(targets), pmemrec.MaxExtents)
	}

	// 1. plan
	plans := make([]*plannedExtent, len(targets))
	dir := make([]pmemrec.ExtentEntry, len(targets))
	health := make(map[string]pmemdev.HealthStats)
	for i, target := range targets {
		dev := target.Disk.Dev
		spb, err := sectorsPerBlock(dev.SectorSize)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", dev.Path, err)
		}
		plan := &plannedExtent{
			ExtentTarget: target,
			active:       -1,
		}
		if target.Previous != nil {
			plan.header = target.Previous.Record
			plan.active = target.Previous.ActiveSlot
		} else {
			plan.header.ExtentUUID = pmemrec.NewUUID()
		}
		plan.header.VolumeUUID = volumeUUID
		plan.header.NamespaceUUID = pmemrec.NamespaceUUID(dev.UUID)
		stats, ok := health[dev.Path]
		if !ok {
			stats, err = w.Gateway.HealthCounters(ctx, dev.Path)
			if err != nil {
				return nil, fmt.Errorf("couldn't read PMem health counters: %w", err)
			}
			health[dev.Path] = stats
		}
		plan.header.DataLossCounter = stats.DataLossCounter
		dir[i] = pmemrec.ExtentEntry{
			Size: uint64(target.Partition.Sectors() / spb),
			UUID: plan.header.ExtentUUID,
		}
		plans[i] = plan
	}
	var want pmemrec.ExtentState
	want.SetDirectory(dir)
	for _, plan := range plans {
		ctx := dlog.WithField(dlog.WithField(ctx, "pmem.namespace", plan.Disk.Dev.Path), "pmem.partition", plan.Partition.Number)
		if prev := plan.Previous; prev != nil &&
			prev.Record.VolumeUUID == plan.header.VolumeUUID &&
			prev.Record.NamespaceUUID == plan.header.NamespaceUUID &&
			prev.Active().SameDirectory(want) {
			dlog.Debugf(ctx, "extent %v is already up to date", plan.header.ExtentUUID)
			continue
		}
		dev := plan.Disk.Dev
		dlog.Infof(ctx, "writing extent %v: %v, %v of the namespace",
			plan.header.ExtentUUID,
			textui.IEC(plan.Partition.Sectors()*dev.SectorSize, "B"),
			textui.Portion[int64]{N: plan.Partition.Sectors(), D: dev.Sectors()})
		var err error
		plan.commit, err = pmemrec.NewCommit(dev.File, plan.Partition.Start*dev.SectorSize, dev.SectorSize,
			plan.header, plan.active, dir)
		if err != nil {
			return nil, err
		}
	}

	// 2. write with invalid checksums
	if err := w.step(ctx, plans, "prepare", (*pmemrec.Commit).Prepare); err != nil {
		return nil, err
	}
	// 3. write with valid checksums
	if err := w.step(ctx, plans, "commit", (*pmemrec.Commit).Commit); err != nil {
		return nil, err
	}

	// 4. partition tables
	for _, disk := range distinctDisks(plans, func(p *plannedExtent) *Disk { return p.Disk }) {
		if err := disk.Table.Commit(ctx); err != nil {
			return nil, err
		}
	}

	extents := make([]ProbedExtent, len(plans))
	for i, plan := range plans {
		if plan.commit == nil {
			extents[i] = *plan.Previous
			extents[i].Partition = plan.Partition
			continue
		}
		extents[i] = ProbedExtent{
			Disk:       plan.Disk,
			Partition:  plan.Partition,
			Record:     plan.commit.Record(),
			ActiveSlot: plan.commit.Slot(),
		}
	}
	view, err := Assemble(extents)
	if err != nil {
		return nil, fmt.Errorf("committed records do not form a volume: %w", err)
	}

	// 5. expose
	if err := w.Expose(ctx, view); err != nil {
		return nil, err
	}
	return view, nil
}

func (w *Writer) step(ctx context.Context, plans []*plannedExtent, name string, fn func(*pmemrec.Commit, context.Context) error) error {
	var pending []*plannedExtent
	for _, plan := range plans {
		if plan.commit != nil {
			pending = append(pending, plan)
		}
	}
	for _, plan := range pending {
		if err := fn(plan.commit, ctx); err != nil {
			return plan.partialErr(name, err)
		}
	}
	for _, plan := range pending {
		if err := plan.Disk.Dev.File.Sync(); err != nil {
			return plan.partialErr(name+"-sync", err)
		}
	}
	return nil
}

// Expose tells the kernel about every extent of the volume, then has
// it re-read the partition table of every namespace involved.
func (w *Writer) Expose(ctx context.Context, view *VolumeView) error {
	for _, e := range view.Extents {
		spb, err := sectorsPerBlock(e.Disk.Dev.SectorSize)
		if err != nil {
			return err
		}
		start := uint64(e.Partition.Start / spb)
		length := uint64(e.Partition.Sectors() / spb)
		if err := w.Gateway.AddVolumeExtent(ctx, e.Disk.Dev.Path, start, length); err != nil {
			return err
		}
	}
	for _, disk := range distinctDisks(view.Extents, func(e ProbedExtent) *Disk { return e.Disk }) {
		if err := w.Gateway.RereadPartitions(ctx, disk.Dev.Path); err != nil {
			return fmt.Errorf("couldn't expose partitions: %w", err)
		}
	}
	return nil
}
