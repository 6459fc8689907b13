// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pmemutil implements the host-level PMem volume lifecycle:
// creating the volume across every namespace, destroying it, and
// wiping a single namespace.
package pmemutil

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"git.lukeshu.com/pmemvol-ng/lib/pmem"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemrec"
	"git.lukeshu.com/pmemvol-ng/lib/textui"
)

type Orchestrator struct {
	Config  Config
	Gateway pmemdev.Gateway
	Helper  Helper

	// FSProber may be nil to skip foreign-filesystem detection.
	FSProber pmemgpt.Prober
	// Exclusivity may be nil to skip the check.
	Exclusivity ExclusivityChecker
	Alerter     pmem.Alerter
}

func (o *Orchestrator) checkExclusive(ctx context.Context) error {
	if o.Exclusivity == nil {
		return nil
	}
	return o.Exclusivity.CheckExclusive(ctx)
}

func (o *Orchestrator) alert(ctx context.Context, msg string) {
	if o.Alerter == nil {
		pmem.LogAlerter{}.Alert(ctx, msg)
		return
	}
	o.Alerter.Alert(ctx, msg)
}

// CreateResult describes what Create found and did.
type CreateResult struct {
	State   State
	Created bool
	Volume  *pmem.VolumeView
	Volumes []string
}

// Create makes sure the host has a PMem volume.  An existing volume
// is exposed and mounted as-is; otherwise a new volume is created
// from the free space of every usable namespace, committed, exposed,
// formatted and mounted.
func (o *Orchestrator) Create(ctx context.Context) (*CreateResult, error) {
	disc, err := o.Discover(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := disc.Close(); err != nil {
			dlog.Errorf(ctx, "close: %v", err)
		}
	}()

	if err := o.repairTables(ctx, disc.Disks); err != nil {
		return nil, err
	}

	switch disc.State {
	case StateInconsistentVolumeFound:
		return nil, disc.Err
	case StateVolumeFound:
		return o.createExisting(ctx, disc)
	default:
		return o.createNew(ctx, disc)
	}
}

// repairTables writes back the partition tables that were found
// damaged when opened.  Discover and Inspect leave them alone.
func (o *Orchestrator) repairTables(ctx context.Context, disks []*pmem.Disk) error {
	for _, disk := range disks {
		if !disk.Table.NeedsRepair() {
			continue
		}
		dlog.Infof(ctx, "%q: repairing partition table", disk.Dev.Path)
		if err := disk.Table.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) hasFreeSpace(disks []*pmem.Disk) (bool, error) {
	for _, disk := range disks {
		c, err := o.Config.Constraint(disk.Dev.SectorSize)
		if err != nil {
			return false, fmt.Errorf("%q: %w", disk.Dev.Path, err)
		}
		it := disk.Table.FreeRegions()
		for region, ok := it.Next(); ok; region, ok = it.Next() {
			if _, err := pmemgpt.Fit(region, c); err == nil {
				return true, nil
			}
		}
	}
	return false, nil
}

func (o *Orchestrator) createExisting(ctx context.Context, disc *Discovery) (*CreateResult, error) {
	ctx = dlog.WithField(ctx, "pmem.step", "expose")
	dlog.Infof(ctx, "found volume %v with %d extent(s)", disc.Volume.VolumeUUID, len(disc.Volume.Extents))
	free, err := o.hasFreeSpace(disc.Disks)
	if err != nil {
		return nil, err
	}
	if free {
		o.alert(ctx, pmem.AlertFreeSpace)
	}
	w := &pmem.Writer{Gateway: o.Gateway}
	if err := w.Expose(ctx, disc.Volume); err != nil {
		return nil, err
	}
	volumes, err := o.eachVolume(ctx, "mount", o.Helper.Mount)
	if err != nil {
		return nil, err
	}
	return &CreateResult{
		State:   StateVolumeFound,
		Volume:  disc.Volume,
		Volumes: volumes,
	}, nil
}

func (o *Orchestrator) createNew(ctx context.Context, disc *Discovery) (*CreateResult, error) {
	ctx = dlog.WithField(ctx, "pmem.step", "allocate")
	var targets []pmem.ExtentTarget
	for _, disk := range disc.Disks {
		c, err := o.Config.Constraint(disk.Dev.SectorSize)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", disk.Dev.Path, err)
		}
		it := disk.Table.FreeRegions()
		for region, ok := it.Next(); ok; region, ok = it.Next() {
			part, err := disk.Table.AllocatePartition(region, c)
			if err != nil {
				return nil, err
			}
			if part == nil {
				dlog.Debugf(ctx, "%q: free region [%d, %d) is too small", disk.Dev.Path, region.Start, region.End())
				continue
			}
			dlog.Infof(ctx, "%q: new partition %d: %v",
				disk.Dev.Path, part.Number, textui.IEC(part.Sectors()*disk.Dev.SectorSize, "B"))
			targets = append(targets, pmem.ExtentTarget{
				Disk:      disk,
				Partition: *part,
			})
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: couldn't find or create a partition on the namespaces", ErrNoSuitableNamespace)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Once the first record is written, finish the job even if we
	// are asked to shut down.
	hardCtx := dcontext.HardContext(ctx)
	w := &pmem.Writer{Gateway: o.Gateway}
	view, err := w.CommitExtents(hardCtx, targets, pmemrec.NewUUID())
	if err != nil {
		return nil, err
	}

	if _, err := o.eachVolume(hardCtx, "format", o.Helper.Format); err != nil {
		return nil, err
	}
	volumes, err := o.eachVolume(hardCtx, "mount", o.Helper.Mount)
	if err != nil {
		return nil, err
	}
	return &CreateResult{
		State:   StateNoVolumeFound,
		Created: true,
		Volume:  view,
		Volumes: volumes,
	}, nil
}

func (o *Orchestrator) eachVolume(ctx context.Context, step string, fn func(context.Context, string) error) ([]string, error) {
	ctx = dlog.WithField(ctx, "pmem.step", step)
	volumes, err := ListVolumes(ctx, o.Config.VolumeDir)
	if err != nil {
		return nil, err
	}
	for _, vol := range volumes {
		dlog.Infof(ctx, "%s %q", step, vol)
		if err := fn(ctx, vol); err != nil {
			return nil, fmt.Errorf("cannot %s PMem volume: %w", step, err)
		}
	}
	return volumes, nil
}

// Destroy unmounts every volume and erases the partition table of
// every usable namespace.  It reports whether any volume was
// unmounted.
func (o *Orchestrator) Destroy(ctx context.Context) (unmounted bool, err error) {
	ctx = dlog.WithField(ctx, "pmem.step", "destroy")
	if err := o.checkExclusive(ctx); err != nil {
		return false, err
	}
	volumes, err := o.eachVolume(ctx, "unmount", o.Helper.Unmount)
	if err != nil {
		return false, err
	}
	unmounted = len(volumes) > 0

	disks, _, err := o.openDisks(ctx)
	if err != nil {
		return unmounted, err
	}
	var errs derror.MultiError
	for _, disk := range disks {
		disk.Table.DeleteAll()
		if err := disk.Table.Commit(ctx); err != nil {
			errs = append(errs, err)
		} else if err := o.Gateway.RereadPartitions(ctx, disk.Dev.Path); err != nil {
			errs = append(errs, err)
		}
		if err := disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return unmounted, errs
	}
	return unmounted, nil
}

// DeleteGPT unmounts every volume, tolerating volumes that have
// already gone away, then replaces the partition table of the one
// namespace named by nsUUID with an empty one.  It reports whether
// any volume was unmounted.
func (o *Orchestrator) DeleteGPT(ctx context.Context, nsUUID string) (unmounted bool, err error) {
	ctx = dlog.WithField(ctx, "pmem.step", "delete-gpt")
	if err := o.checkExclusive(ctx); err != nil {
		return false, err
	}
	want, err := uuid.Parse(nsUUID)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrNamespaceNotFound, nsUUID, err)
	}
	namespaces, err := pmemdev.Enumerate(ctx, o.Config.NamespaceDir)
	if err != nil {
		return false, err
	}
	var ns *pmemdev.Namespace
	for i := range namespaces {
		if namespaces[i].UUID == want {
			ns = &namespaces[i]
			break
		}
	}
	if ns == nil {
		return false, fmt.Errorf("%w: %s", ErrNamespaceNotFound, want)
	}
	ctx = dlog.WithField(ctx, "pmem.namespace", ns.Path)

	volumes, err := ListVolumes(ctx, o.Config.VolumeDir)
	if err != nil {
		return false, err
	}
	for _, vol := range volumes {
		if err := o.Helper.Unmount(ctx, vol); err != nil {
			if isNoSuchFile(err) {
				dlog.Debugf(ctx, "volume %q is already gone: %v", vol, err)
				continue
			}
			return unmounted, fmt.Errorf("cannot unmount PMem volume: %w", err)
		}
		unmounted = true
	}

	dev, err := ns.Open(ctx)
	if err != nil {
		return unmounted, err
	}
	defer func() {
		if _err := dev.Close(); _err != nil && err == nil {
			err = _err
		}
	}()
	if err := pmemgpt.Create(dev).Commit(ctx); err != nil {
		return unmounted, err
	}
	if err := o.Gateway.RereadPartitions(ctx, dev.Path); err != nil {
		return unmounted, err
	}
	return unmounted, nil
}
