// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmem_test

import (
	"context"
	"sync"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/pmemvol-ng/lib/pmem"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemrec"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemtest"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(_ context.Context, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, msg)
}

var testConstraint = pmemgpt.ConstraintFromBytes(1*pmemtest.MiB, 2*pmemtest.MiB, 64*pmemtest.MiB, 512)

// newTargets creates n namespaces of the given size and allocates one
// fresh partition on each.
func newTargets(t *testing.T, n int, size int64) []pmem.ExtentTarget {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	var targets []pmem.ExtentTarget
	for i := 0; i < n; i++ {
		disk, err := pmem.OpenDisk(ctx, pmemtest.NewNamespace(t, dir, size), pmemtest.Prober{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = disk.Close() })
		region, ok := disk.Table.FreeRegions().Next()
		require.True(t, ok)
		part, err := disk.Table.AllocatePartition(region, testConstraint)
		require.NoError(t, err)
		require.NotNil(t, part)
		targets = append(targets, pmem.ExtentTarget{Disk: disk, Partition: *part})
	}
	return targets
}

func probeAll(t *testing.T, gw pmemdev.Gateway, alerter pmem.Alerter, disks ...*pmem.Disk) []pmem.ProbedExtent {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	prober := &pmem.Prober{Gateway: gw, Alerter: alerter}
	var ret []pmem.ProbedExtent
	for _, disk := range disks {
		probed, err := prober.ProbeDisk(ctx, disk)
		require.NoError(t, err)
		ret = append(ret, probed...)
	}
	return ret
}

func TestCommitExtents(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	targets := newTargets(t, 2, 1*pmemtest.GiB)
	gw := new(pmemtest.Gateway)
	w := &pmem.Writer{Gateway: gw}

	vol := pmemrec.NewUUID()
	view, err := w.CommitExtents(ctx, targets, vol)
	require.NoError(t, err)
	assert.Equal(t, vol, view.VolumeUUID)
	require.Len(t, view.Directory, 2)
	for i, entry := range view.Directory {
		assert.Equal(t, uint64(targets[i].Partition.Sectors()/8), entry.Size)
	}

	var exp []pmemtest.Call
	for _, target := range targets {
		exp = append(exp, pmemtest.Call{Op: "HealthCounters", Path: target.Disk.Dev.Path})
	}
	for _, target := range targets {
		exp = append(exp, pmemtest.Call{
			Op:     "AddVolumeExtent",
			Path:   target.Disk.Dev.Path,
			Start:  2048 / 8,
			Length: uint64(target.Partition.Sectors() / 8),
		})
	}
	for _, target := range targets {
		exp = append(exp, pmemtest.Call{Op: "RereadPartitions", Path: target.Disk.Dev.Path})
	}
	assert.Equal(t, exp, gw.Calls())

	for _, target := range targets {
		assert.False(t, target.Disk.Table.Dirty())
	}

	alerter := new(recordingAlerter)
	probed := probeAll(t, gw, alerter, targets[0].Disk, targets[1].Disk)
	require.Len(t, probed, 2)
	for _, e := range probed {
		assert.Equal(t, 0, e.ActiveSlot)
		assert.Equal(t, uint64(1), e.Active().Generation)
		assert.Equal(t, uint64(2), e.Active().NumExtents)
	}
	assert.Empty(t, alerter.alerts)
	got, err := pmem.Assemble(probed)
	require.NoError(t, err)
	assert.Equal(t, view.Directory, got.Directory)
}

func TestCommitExtentsNoop(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	targets := newTargets(t, 2, 256*pmemtest.MiB)
	gw := new(pmemtest.Gateway)
	w := &pmem.Writer{Gateway: gw}
	vol := pmemrec.NewUUID()
	_, err := w.CommitExtents(ctx, targets, vol)
	require.NoError(t, err)

	probed := probeAll(t, gw, nil, targets[0].Disk, targets[1].Disk)
	require.Len(t, probed, 2)
	for i := range targets {
		targets[i].Previous = &probed[i]
		// Any write would now fail.
		targets[i].Disk.Dev.File = &pmemtest.FaultyFile{File: targets[i].Disk.Dev.File}
	}
	view, err := w.CommitExtents(ctx, targets, vol)
	require.NoError(t, err)
	assert.Equal(t, probed[0].Record.ExtentUUID, view.Directory[0].UUID)
	assert.Equal(t, probed[1].Record.ExtentUUID, view.Directory[1].UUID)
	assert.Len(t, gw.CallsTo("AddVolumeExtent"), 4)
}

func TestCommitExtentsUpdate(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	targets := newTargets(t, 2, 256*pmemtest.MiB)
	gw := new(pmemtest.Gateway)
	w := &pmem.Writer{Gateway: gw}
	_, err := w.CommitExtents(ctx, targets, pmemrec.NewUUID())
	require.NoError(t, err)

	probed := probeAll(t, gw, nil, targets[0].Disk, targets[1].Disk)
	for i := range targets {
		targets[i].Previous = &probed[i]
	}
	vol2 := pmemrec.NewUUID()
	_, err = w.CommitExtents(ctx, targets[:1], vol2)
	require.NoError(t, err)

	probed = probeAll(t, gw, nil, targets[0].Disk)
	require.Len(t, probed, 1)
	assert.Equal(t, 1, probed[0].ActiveSlot)
	assert.Equal(t, uint64(2), probed[0].Active().Generation)
	assert.Equal(t, uint64(1), probed[0].Active().NumExtents)
	assert.Equal(t, vol2, probed[0].Record.VolumeUUID)
}

func TestCommitExtentsCrash(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	targets := newTargets(t, 2, 256*pmemtest.MiB)
	gw := new(pmemtest.Gateway)
	w := &pmem.Writer{Gateway: gw}

	// The first namespace takes its invalid-checksum write, then the
	// second namespace fails.
	real1 := targets[1].Disk.Dev.File
	targets[1].Disk.Dev.File = &pmemtest.FaultyFile{File: real1}
	_, err := w.CommitExtents(ctx, targets, pmemrec.NewUUID())
	assert.ErrorIs(t, err, pmem.ErrPartialCommit)
	assert.ErrorIs(t, err, pmemtest.ErrCrash)
	var commitErr *pmem.PartialCommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, "prepare", commitErr.Step)
	assert.Equal(t, targets[1].Disk.Dev.Path, commitErr.Namespace)
	assert.Empty(t, gw.CallsTo("AddVolumeExtent"))
	assert.Empty(t, gw.CallsTo("RereadPartitions"))

	targets[1].Disk.Dev.File = real1
	assert.Empty(t, probeAll(t, gw, nil, targets[0].Disk, targets[1].Disk))
}

func TestProbeHealthMismatch(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	targets := newTargets(t, 1, 256*pmemtest.MiB)
	gw := new(pmemtest.Gateway)
	w := &pmem.Writer{Gateway: gw}
	_, err := w.CommitExtents(ctx, targets, pmemrec.NewUUID())
	require.NoError(t, err)

	gw.SetHealth(targets[0].Disk.Dev.Path, pmemdev.HealthStats{Version: 1, DataLossCounter: 7})
	alerter := new(recordingAlerter)
	probed := probeAll(t, gw, alerter, targets[0].Disk)
	assert.Len(t, probed, 1)
	assert.Equal(t, []string{pmem.AlertHealthMismatch}, alerter.alerts)
}

func TestProbeForeignNamespace(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	targets := newTargets(t, 1, 256*pmemtest.MiB)
	gw := new(pmemtest.Gateway)
	w := &pmem.Writer{Gateway: gw}
	_, err := w.CommitExtents(ctx, targets, pmemrec.NewUUID())
	require.NoError(t, err)

	// Pretend the device was cloned to a namespace with another UUID.
	disk := targets[0].Disk
	disk.Dev.Namespace.UUID = pmemtest.NewNamespace(t, t.TempDir(), 0).UUID
	assert.Empty(t, probeAll(t, gw, nil, disk))
}
