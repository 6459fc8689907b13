// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemdev

import (
	"context"
	"errors"
	"fmt"
	"os"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
)

// ErrDevice is matched (with errors.Is) by every *DeviceError.
var ErrDevice = errors.New("device request rejected")

// DeviceError is a rejected request to the kernel about a namespace.
type DeviceError struct {
	Op   string
	Path string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

// HealthStats are a namespace's live media health counters.
type HealthStats struct {
	Version         uint64
	DataLossCounter uint64
}

// Gateway is the kernel block layer's view of PMem namespaces.
// Namespaces are named by device path.
type Gateway interface {
	// AddVolumeExtent exposes the given range (in PMem blocks) of
	// the namespace as part of the PMem volume.
	AddVolumeExtent(ctx context.Context, path string, startBlock, lengthBlocks uint64) error
	// HealthCounters reads the namespace's health counters.
	HealthCounters(ctx context.Context, path string) (HealthStats, error)
	// RereadPartitions asks the kernel to rescan the namespace's
	// partition table.
	RereadPartitions(ctx context.Context, path string) error
}

// IoctlGateway is the Gateway backed by ioctl(2).  It keeps each
// namespace it has been asked about open until Close.
type IoctlGateway struct {
	handles typedsync.Map[string, *os.File]
}

var _ Gateway = (*IoctlGateway)(nil)

func (g *IoctlGateway) handle(ctx context.Context, path string) (*os.File, error) {
	if fh, ok := g.handles.Load(path); ok {
		return fh, nil
	}
	dlog.Tracef(ctx, "opening %q for ioctls", path)
	fh, err := os.Open(path)
	if err != nil {
		return nil, &DeviceError{Op: "open", Path: path, Err: err}
	}
	if prev, loaded := g.handles.LoadOrStore(path, fh); loaded {
		_ = fh.Close()
		return prev, nil
	}
	return fh, nil
}

func (g *IoctlGateway) AddVolumeExtent(ctx context.Context, path string, startBlock, lengthBlocks uint64) error {
	fh, err := g.handle(ctx, path)
	if err != nil {
		return err
	}
	dlog.Debugf(ctx, "ADD_VOLUME_EXTENT %q start=%d length=%d", path, startBlock, lengthBlocks)
	if err := addVolumeExtent(fh, startBlock, lengthBlocks); err != nil {
		return &DeviceError{Op: "ADD_VOLUME_EXTENT", Path: path, Err: err}
	}
	return nil
}

func (g *IoctlGateway) HealthCounters(ctx context.Context, path string) (HealthStats, error) {
	fh, err := g.handle(ctx, path)
	if err != nil {
		return HealthStats{}, err
	}
	stats, err := getHealthStats(fh)
	if err != nil {
		return HealthStats{}, &DeviceError{Op: "GET_HEALTH_STATS", Path: path, Err: err}
	}
	dlog.Debugf(ctx, "GET_HEALTH_STATS %q version=%d dataLossCounter=%d",
		path, stats.Version, stats.DataLossCounter)
	return stats, nil
}

func (g *IoctlGateway) RereadPartitions(ctx context.Context, path string) error {
	fh, err := g.handle(ctx, path)
	if err != nil {
		return err
	}
	dlog.Debugf(ctx, "REREAD_PARTITIONS %q", path)
	if err := rereadPartitions(fh); err != nil {
		return &DeviceError{Op: "REREAD_PARTITIONS", Path: path, Err: err}
	}
	return nil
}

// Close closes every handle the gateway opened.
func (g *IoctlGateway) Close() error {
	var errs derror.MultiError
	g.handles.Range(func(path string, fh *os.File) bool {
		if err := fh.Close(); err != nil {
			errs = append(errs, err)
		}
		g.handles.Delete(path)
		return true
	})
	if len(errs) > 0 {
		return errs
	}
	return nil
}
