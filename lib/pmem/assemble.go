// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmem

import (
	"fmt"

	"golang.org/x/exp/slices"

	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemrec"
)

// A VolumeView is a volume whose extents have all been found and
// agree with each other.
type VolumeView struct {
	VolumeUUID pmemrec.UUID
	// Directory is the volume layout that every extent's active
	// slot agrees on.
	Directory []pmemrec.ExtentEntry
	// Extents are in Directory order.
	Extents []ProbedExtent
	ByUUID  map[pmemrec.UUID]ProbedExtent
}

// Assemble checks that the probed extents form exactly one complete,
// consistent volume.  It returns nil (and no error) if there are no
// extents at all.
func Assemble(probed []ProbedExtent) (*VolumeView, error) {
	if len(probed) == 0 {
		return nil, nil
	}
	ref := probed[0]
	for _, e := range probed[1:] {
		if e.Record.VolumeUUID != ref.Record.VolumeUUID {
			return nil, fmt.Errorf("%w: %v has volume %v, but %v has volume %v",
				ErrMultipleVolumes, ref, ref.Record.VolumeUUID, e, e.Record.VolumeUUID)
		}
	}
	for _, e := range probed[1:] {
		if !e.Active().SameDirectory(ref.Active()) {
			return nil, fmt.Errorf("%w: %v and %v", ErrInconsistentVolumeState, ref, e)
		}
	}

	dir := ref.Active().Directory()
	if uint64(len(dir)) != ref.Active().NumExtents {
		return nil, fmt.Errorf("%w: %v claims %d extents, more than a record can hold",
			ErrInconsistentVolumeState, ref, ref.Active().NumExtents)
	}
	byUUID := make(map[pmemrec.UUID]ProbedExtent, len(probed))
	for _, e := range probed {
		if other, dup := byUUID[e.Record.ExtentUUID]; dup {
			return nil, fmt.Errorf("%w: %v and %v both claim to be extent %v",
				ErrInconsistentVolumeState, other, e, e.Record.ExtentUUID)
		}
		byUUID[e.Record.ExtentUUID] = e
	}
	if len(probed) != len(dir) {
		return nil, fmt.Errorf("%w: volume %v has %d extents, found %d",
			ErrMissingExtent, ref.Record.VolumeUUID, len(dir), len(probed))
	}
	extents := make([]ProbedExtent, 0, len(dir))
	for _, entry := range dir {
		e, ok := byUUID[entry.UUID]
		if !ok {
			return nil, fmt.Errorf("%w: extent %v of volume %v not found",
				ErrMissingExtent, entry.UUID, ref.Record.VolumeUUID)
		}
		extents = append(extents, e)
	}
	return &VolumeView{
		VolumeUUID: ref.Record.VolumeUUID,
		Directory:  slices.Clone(dir),
		Extents:    extents,
		ByUUID:     byUUID,
	}, nil
}
