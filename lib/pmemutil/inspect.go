// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemutil

import (
	"context"

	"git.lukeshu.com/pmemvol-ng/lib/pmem"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemrec"
)

type Report struct {
	State      State             `json:"state"`
	Error      string            `json:"error,omitempty"`
	Namespaces []NamespaceReport `json:"namespaces"`
	Volume     *VolumeReport     `json:"volume,omitempty"`

	// Probed is every extent found, for low-level dumps.
	Probed []pmem.ProbedExtent `json:"-"`
}

type NamespaceReport struct {
	Path       string            `json:"path"`
	UUID       string            `json:"uuid"`
	SectorSize int64             `json:"sectorSize,omitempty"`
	Sectors    int64             `json:"sectors,omitempty"`
	Skipped    string            `json:"skipped,omitempty"`
	Partitions []PartitionReport `json:"partitions,omitempty"`
}

type PartitionReport struct {
	Number int           `json:"number"`
	Start  int64         `json:"start"`
	End    int64         `json:"end"`
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	Extent *ExtentReport `json:"extent,omitempty"`
}

type ExtentReport struct {
	ExtentUUID      pmemrec.UUID `json:"extentUUID"`
	VolumeUUID      pmemrec.UUID `json:"volumeUUID"`
	DataLossCounter uint64       `json:"dataLossCounter"`
	ActiveSlot      int          `json:"activeSlot"`
	Generation      uint64       `json:"generation"`
	NumExtents      uint64       `json:"numExtents"`
}

type VolumeReport struct {
	UUID    pmemrec.UUID         `json:"uuid"`
	Extents []VolumeExtentReport `json:"extents"`
}

type VolumeExtentReport struct {
	UUID      pmemrec.UUID `json:"uuid"`
	Blocks    uint64       `json:"blocks"`
	Namespace string       `json:"namespace"`
	Partition int          `json:"partition"`
}

// Inspect describes the namespaces and the volume without changing
// anything on disk.
func (o *Orchestrator) Inspect(ctx context.Context) (*Report, error) {
	disc, err := o.Discover(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = disc.Close() }()

	ret := &Report{
		State:  disc.State,
		Probed: disc.Probed,
	}
	if disc.Err != nil {
		ret.Error = disc.Err.Error()
	}

	extents := make(map[string]map[int]pmem.ProbedExtent)
	for _, e := range disc.Probed {
		if extents[e.Disk.Dev.Path] == nil {
			extents[e.Disk.Dev.Path] = make(map[int]pmem.ProbedExtent)
		}
		extents[e.Disk.Dev.Path][e.Partition.Number] = e
	}
	for _, disk := range disc.Disks {
		nsReport := NamespaceReport{
			Path:       disk.Dev.Path,
			UUID:       disk.Dev.UUID.String(),
			SectorSize: disk.Dev.SectorSize,
			Sectors:    disk.Dev.Sectors(),
		}
		for _, part := range disk.Table.Partitions() {
			partReport := PartitionReport{
				Number: part.Number,
				Start:  part.Start,
				End:    part.End,
				Type:   part.Type,
				Name:   part.Name,
			}
			if e, ok := extents[disk.Dev.Path][part.Number]; ok {
				partReport.Extent = &ExtentReport{
					ExtentUUID:      e.Record.ExtentUUID,
					VolumeUUID:      e.Record.VolumeUUID,
					DataLossCounter: e.Record.DataLossCounter,
					ActiveSlot:      e.ActiveSlot,
					Generation:      e.Active().Generation,
					NumExtents:      e.Active().NumExtents,
				}
			}
			nsReport.Partitions = append(nsReport.Partitions, partReport)
		}
		ret.Namespaces = append(ret.Namespaces, nsReport)
	}
	for _, skipped := range disc.Skipped {
		ret.Namespaces = append(ret.Namespaces, NamespaceReport{
			Path:    skipped.Namespace.Path,
			UUID:    skipped.Namespace.UUID.String(),
			Skipped: skipped.Err.Error(),
		})
	}

	if disc.Volume != nil {
		vol := &VolumeReport{
			UUID: disc.Volume.VolumeUUID,
		}
		for i, entry := range disc.Volume.Directory {
			e := disc.Volume.Extents[i]
			vol.Extents = append(vol.Extents, VolumeExtentReport{
				UUID:      entry.UUID,
				Blocks:    entry.Size,
				Namespace: e.Disk.Dev.Path,
				Partition: e.Partition.Number,
			})
		}
		ret.Volume = vol
	}
	return ret, nil
}
