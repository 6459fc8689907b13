// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pmem finds, validates, and writes PMem volumes: a single
// logical volume striped across partitions ("extents") on one or
// more PMem namespaces, each partition starting with a
// volume-extent record (see pmemrec).
package pmem

import (
	"context"
	"errors"
	"fmt"

	"github.com/datawire/dlib/dlog"
	"github.com/davecgh/go-spew/spew"

	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemrec"
)

// A Disk is an open namespace together with its partition table.
type Disk struct {
	Dev   *pmemdev.Device
	Table *pmemgpt.Table
}

// OpenDisk opens a namespace and its partition table.  See
// pmemgpt.OpenOrCreate for what happens to namespaces holding a
// foreign filesystem.
func OpenDisk(ctx context.Context, ns pmemdev.Namespace, prober pmemgpt.Prober) (*Disk, error) {
	dev, err := ns.Open(ctx)
	if err != nil {
		return nil, err
	}
	tbl, err := pmemgpt.OpenOrCreate(ctx, dev, prober)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return &Disk{
		Dev:   dev,
		Table: tbl,
	}, nil
}

func (d *Disk) Close() error {
	return d.Dev.Close()
}

// ProbedExtent is a partition found to hold a valid volume-extent
// record.
type ProbedExtent struct {
	Disk       *Disk
	Partition  pmemgpt.Partition
	Record     pmemrec.Record
	ActiveSlot int
}

// Active is the record's authoritative state slot.
func (e ProbedExtent) Active() pmemrec.ExtentState {
	return e.Record.State[e.ActiveSlot]
}

func (e ProbedExtent) String() string {
	return fmt.Sprintf("%s#%d (extent %v)", e.Disk.Dev.Path, e.Partition.Number, e.Record.ExtentUUID)
}

var spewConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// spewed dumps a value only if it actually gets logged.
type spewed struct{ v any }

func (s spewed) String() string { return spewConfig.Sdump(s.v) }

// Prober finds the volume extents on namespaces.
type Prober struct {
	Gateway pmemdev.Gateway
	Alerter Alerter
}

// ProbeDisk reads the namespace's health counters and probes every
// partition on it, returning those that hold volume extents.
func (p *Prober) ProbeDisk(ctx context.Context, disk *Disk) ([]ProbedExtent, error) {
	ctx = dlog.WithField(ctx, "pmem.namespace", disk.Dev.Path)
	health, err := p.Gateway.HealthCounters(ctx, disk.Dev.Path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read PMem health counters: %w", err)
	}
	var ret []ProbedExtent
	for _, part := range disk.Table.Partitions() {
		probed, err := p.Probe(ctx, disk, part, health)
		if err != nil {
			return nil, err
		}
		if probed != nil {
			ret = append(ret, *probed)
		}
	}
	return ret, nil
}

// Probe reads the start of part and returns the volume extent it
// holds, or nil if it holds none.  A data-loss counter that differs
// from health raises AlertHealthMismatch but does not stop the
// extent from being used.
func (p *Prober) Probe(ctx context.Context, disk *Disk, part pmemgpt.Partition, health pmemdev.HealthStats) (*ProbedExtent, error) {
	ctx = dlog.WithField(ctx, "pmem.partition", part.Number)
	ss := disk.Dev.SectorSize
	if part.Sectors() < pmemrec.FootprintSectors(ss) {
		dlog.Debugf(ctx, "partition is too small (%d sectors) to hold an extent record", part.Sectors())
		return nil, nil
	}
	rec, err := pmemrec.Read(disk.Dev.File, part.Start*ss, ss)
	if err != nil {
		return nil, err
	}
	slot, err := pmemrec.SelectActive(rec, disk.Dev.UUID)
	if err != nil {
		if errors.Is(err, pmemrec.ErrInvalidRecord) {
			dlog.Debugf(ctx, "not a volume extent: %v", err)
			return nil, nil
		}
		return nil, err
	}
	dlog.Tracef(ctx, "record: %v", spewed{rec})
	dlog.Debugf(ctx, "found extent %v of volume %v (slot=%d gen=%d numExtents=%d)",
		rec.ExtentUUID, rec.VolumeUUID, slot, rec.State[slot].Generation, rec.State[slot].NumExtents)
	if rec.DataLossCounter != health.DataLossCounter {
		dlog.Debugf(ctx, "dataLossCounter: record=%d device=%d", rec.DataLossCounter, health.DataLossCounter)
		alerterOrDefault(p.Alerter).Alert(ctx, AlertHealthMismatch)
	}
	return &ProbedExtent{
		Disk:       disk,
		Partition:  part,
		Record:     rec,
		ActiveSlot: slot,
	}, nil
}
