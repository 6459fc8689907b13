// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/pmemvol-ng/lib/pmem"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
)

var (
	ErrNoSuitableNamespace = errors.New("no suitable namespaces found")
	ErrNamespaceNotFound   = errors.New("namespace not found")
)

// State is what discovery concluded about the volume.
type State int

const (
	StateNoVolumeFound State = iota
	StateVolumeFound
	StateInconsistentVolumeFound
)

func (s State) String() string {
	switch s {
	case StateNoVolumeFound:
		return "NoVolumeFound"
	case StateVolumeFound:
		return "VolumeFound"
	case StateInconsistentVolumeFound:
		return "InconsistentVolumeFound"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SkippedNamespace is a namespace that discovery left alone.
type SkippedNamespace struct {
	Namespace pmemdev.Namespace
	Err       error
}

// Discovery is the result of looking at every namespace on the host.
// The disks stay open until Close.
type Discovery struct {
	Disks   []*pmem.Disk
	Skipped []SkippedNamespace
	Probed  []pmem.ProbedExtent

	State State
	// Volume is set if State is StateVolumeFound.
	Volume *pmem.VolumeView
	// Err is set if State is StateInconsistentVolumeFound.
	Err error
}

func (d *Discovery) Close() error {
	var errs derror.MultiError
	for _, disk := range d.Disks {
		if err := disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// openDisks opens every namespace in the namespace directory, skipping
// those that hold a foreign filesystem.
func (o *Orchestrator) openDisks(ctx context.Context) (disks []*pmem.Disk, skipped []SkippedNamespace, err error) {
	namespaces, err := pmemdev.Enumerate(ctx, o.Config.NamespaceDir)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			for _, disk := range disks {
				_ = disk.Close()
			}
			disks = nil
		}
	}()
	for _, ns := range namespaces {
		disk, err := pmem.OpenDisk(ctx, ns, o.FSProber)
		if err != nil {
			if errors.Is(err, pmemgpt.ErrForeignFilesystem) {
				dlog.Infof(ctx, "skipping namespace %q: %v", ns.Path, err)
				skipped = append(skipped, SkippedNamespace{Namespace: ns, Err: err})
				continue
			}
			return disks, skipped, err
		}
		disks = append(disks, disk)
	}
	if len(disks) == 0 {
		return nil, skipped, fmt.Errorf("%w in %q", ErrNoSuitableNamespace, o.Config.NamespaceDir)
	}
	return disks, skipped, nil
}

// Discover opens every usable namespace, probes it for volume
// extents, and assembles what it finds.  An inconsistent volume is
// reported in the Discovery, not as an error.
func (o *Orchestrator) Discover(ctx context.Context) (*Discovery, error) {
	ctx = dlog.WithField(ctx, "pmem.step", "discover")
	disks, skipped, err := o.openDisks(ctx)
	if err != nil {
		return nil, err
	}
	ret := &Discovery{
		Disks:   disks,
		Skipped: skipped,
	}
	prober := &pmem.Prober{
		Gateway: o.Gateway,
		Alerter: o.Alerter,
	}
	for _, disk := range disks {
		probed, err := prober.ProbeDisk(ctx, disk)
		if err != nil {
			_ = ret.Close()
			return nil, err
		}
		ret.Probed = append(ret.Probed, probed...)
	}
	view, err := pmem.Assemble(ret.Probed)
	switch {
	case err != nil:
		ret.State = StateInconsistentVolumeFound
		ret.Err = err
	case view == nil:
		ret.State = StateNoVolumeFound
	default:
		ret.State = StateVolumeFound
		ret.Volume = view
	}
	dlog.Infof(ctx, "%d namespace(s), %d extent(s): %v", len(disks), len(ret.Probed), ret.State)
	return ret, nil
}
