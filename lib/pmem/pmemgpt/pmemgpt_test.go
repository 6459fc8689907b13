// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemgpt_test

import (
	"encoding/binary"
	"hash/crc32"
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemtest"
)

var defaultConstraint = pmemgpt.ConstraintFromBytes(1*pmemtest.MiB, 2*pmemtest.MiB, 64*pmemtest.MiB, 512)

func openDev(t *testing.T, size int64) *pmemdev.Device {
	t.Helper()
	return pmemtest.OpenNamespace(t, pmemtest.NewNamespace(t, t.TempDir(), size))
}

func allRegions(t *pmemgpt.Table) []pmemgpt.Region {
	var ret []pmemgpt.Region
	it := t.FreeRegions()
	for {
		r, ok := it.Next()
		if !ok {
			return ret
		}
		ret = append(ret, r)
	}
}

func TestFit(t *testing.T) {
	t.Parallel()
	c := pmemgpt.Constraint{StartAlign: 2048, EndAlign: 4096, MinSize: 131072}
	type TestCase struct {
		In     pmemgpt.Region
		Out    pmemgpt.Region
		ExpErr bool
	}
	testcases := map[string]TestCase{
		"aligned": {
			In:  pmemgpt.Region{Start: 4096, Length: 1 << 20},
			Out: pmemgpt.Region{Start: 4096, Length: 1 << 20},
		},
		"unaligned": {
			In:  pmemgpt.Region{Start: 34, Length: 20971520 - 67},
			Out: pmemgpt.Region{Start: 2048, Length: 20971520 - 4096 - 2048},
		},
		"exactly-min": {
			In:  pmemgpt.Region{Start: 4096, Length: 131072},
			Out: pmemgpt.Region{Start: 4096, Length: 131072},
		},
		"too-small": {
			In:     pmemgpt.Region{Start: 4096, Length: 131071},
			ExpErr: true,
		},
		"shrinks-below-min": {
			In:     pmemgpt.Region{Start: 1, Length: 131072 + 2046},
			ExpErr: true,
		},
		"empty": {
			In:     pmemgpt.Region{Start: 100, Length: 0},
			ExpErr: true,
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			out, err := pmemgpt.Fit(tc.In, c)
			if tc.ExpErr {
				assert.ErrorIs(t, err, pmemgpt.ErrConstraint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.Out, out)
		})
	}
}

func TestAllocateFresh(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := openDev(t, 10*pmemtest.GiB)
	n := dev.Sectors()

	tbl, err := pmemgpt.OpenOrCreate(ctx, dev, pmemtest.Prober{})
	require.NoError(t, err)
	assert.True(t, tbl.Dirty())
	assert.Empty(t, tbl.Partitions())

	regions := allRegions(tbl)
	require.Equal(t, []pmemgpt.Region{{Start: 34, Length: n - 67}}, regions)

	part, err := tbl.AllocatePartition(regions[0], defaultConstraint)
	require.NoError(t, err)
	require.NotNil(t, part)
	assert.Equal(t, int64(2048), part.Start)
	assert.Equal(t, n-4096-1, part.End)
	assert.True(t, part.New)
	require.NoError(t, tbl.Commit(ctx))
	assert.False(t, tbl.Dirty())

	tbl, err = pmemgpt.OpenOrCreate(ctx, dev, pmemtest.Prober{dev.Path: "gpt"})
	require.NoError(t, err)
	assert.False(t, tbl.Dirty())
	parts := tbl.Partitions()
	require.Len(t, parts, 1)
	assert.Equal(t, int64(2048), parts[0].Start)
	assert.Equal(t, n-4096-1, parts[0].End)
	assert.False(t, parts[0].New)
	assert.True(t, strings.EqualFold(string(pmemgpt.PartitionType), parts[0].Type))

	// What is left on either side is too small.
	regions = allRegions(tbl)
	require.Equal(t, []pmemgpt.Region{
		{Start: 34, Length: 2048 - 34},
		{Start: n - 4096, Length: 4096 - 33},
	}, regions)
	for _, r := range regions {
		part, err := tbl.AllocatePartition(r, defaultConstraint)
		assert.NoError(t, err)
		assert.Nil(t, part)
	}
	assert.False(t, tbl.Dirty())
}

func TestFreeRegionsBetweenPartitions(t *testing.T) {
	t.Parallel()
	dev := openDev(t, 1*pmemtest.GiB)
	n := dev.Sectors()
	tbl := pmemgpt.Create(dev)
	tbl.AddPartition(500000, 600000-1)
	tbl.AddPartition(2048, 100000-1)

	assert.Equal(t, []pmemgpt.Region{
		{Start: 34, Length: 2048 - 34},
		{Start: 100000, Length: 400000},
		{Start: 600000, Length: n - 34 - 600000 + 1},
	}, allRegions(tbl))

	parts := tbl.Partitions()
	require.Len(t, parts, 2)
	assert.Equal(t, int64(2048), parts[0].Start)
	assert.Equal(t, 2, parts[0].Number)
}

func TestForeignFilesystem(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := openDev(t, 128*pmemtest.MiB)
	_, err := pmemgpt.OpenOrCreate(ctx, dev, pmemtest.Prober{dev.Path: "vfat"})
	assert.ErrorIs(t, err, pmemgpt.ErrForeignFilesystem)
	var partErr *pmemgpt.PartitionError
	require.ErrorAs(t, err, &partErr)
	assert.Equal(t, pmemgpt.KindOpen, partErr.Kind)
}

func TestRepairBackupHeader(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := openDev(t, 256*pmemtest.MiB)

	tbl := pmemgpt.Create(dev)
	tbl.AddPartition(2048, 4096-1)
	require.NoError(t, tbl.Commit(ctx))
	assert.False(t, tbl.NeedsRepair())

	last := (dev.Sectors() - 1) * dev.SectorSize
	hdr := make([]byte, dev.SectorSize)
	_, err := dev.File.ReadAt(hdr, last)
	require.NoError(t, err)
	require.Equal(t, "EFI PART", string(hdr[:8]))

	_, err = dev.File.WriteAt(make([]byte, dev.SectorSize), last)
	require.NoError(t, err)

	tbl, err = pmemgpt.OpenOrCreate(ctx, dev, nil)
	require.NoError(t, err)
	assert.Len(t, tbl.Partitions(), 1)
	assert.True(t, tbl.NeedsRepair())
	assert.True(t, tbl.Dirty())

	// Opening alone must not touch the device.
	_, err = dev.File.ReadAt(hdr, last)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, dev.SectorSize), hdr)

	require.NoError(t, tbl.Commit(ctx))
	assert.False(t, tbl.NeedsRepair())
	assert.False(t, tbl.Dirty())
	_, err = dev.File.ReadAt(hdr, last)
	require.NoError(t, err)
	assert.Equal(t, "EFI PART", string(hdr[:8]))

	tbl, err = pmemgpt.OpenOrCreate(ctx, dev, nil)
	require.NoError(t, err)
	assert.False(t, tbl.NeedsRepair())
	assert.Len(t, tbl.Partitions(), 1)
}

// clearEntry zeroes entry i of both GPT entry arrays on dev, and fixes
// up the checksums, the way another partitioning tool deleting a
// partition would.
func clearEntry(t *testing.T, dev *pmemdev.Device, i int) {
	t.Helper()
	for _, lba := range []int64{1, dev.Sectors() - 1} {
		hdr := make([]byte, dev.SectorSize)
		_, err := dev.File.ReadAt(hdr, lba*dev.SectorSize)
		require.NoError(t, err)
		require.Equal(t, "EFI PART", string(hdr[:8]))

		hdrSize := binary.LittleEndian.Uint32(hdr[0x0c:])
		entriesLBA := int64(binary.LittleEndian.Uint64(hdr[0x48:]))
		numEntries := int64(binary.LittleEndian.Uint32(hdr[0x50:]))
		entrySize := int64(binary.LittleEndian.Uint32(hdr[0x54:]))

		arr := make([]byte, numEntries*entrySize)
		_, err = dev.File.ReadAt(arr, entriesLBA*dev.SectorSize)
		require.NoError(t, err)
		copy(arr[int64(i)*entrySize:int64(i+1)*entrySize], make([]byte, entrySize))
		_, err = dev.File.WriteAt(arr, entriesLBA*dev.SectorSize)
		require.NoError(t, err)

		binary.LittleEndian.PutUint32(hdr[0x58:], crc32.ChecksumIEEE(arr))
		binary.LittleEndian.PutUint32(hdr[0x10:], 0)
		binary.LittleEndian.PutUint32(hdr[0x10:], crc32.ChecksumIEEE(hdr[:hdrSize]))
		_, err = dev.File.WriteAt(hdr, lba*dev.SectorSize)
		require.NoError(t, err)
	}
}

func numbers(parts []pmemgpt.Partition) map[int64]int {
	ret := make(map[int64]int, len(parts))
	for _, p := range parts {
		ret[p.Start] = p.Number
	}
	return ret
}

func TestPartitionNumbersKeepGaps(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := openDev(t, 256*pmemtest.MiB)

	tbl := pmemgpt.Create(dev)
	tbl.AddPartition(2048, 4096-1)
	tbl.AddPartition(4096, 6144-1)
	tbl.AddPartition(6144, 8192-1)
	require.NoError(t, tbl.Commit(ctx))
	assert.Equal(t, map[int64]int{2048: 1, 4096: 2, 6144: 3}, numbers(tbl.Partitions()))

	clearEntry(t, dev, 0)

	tbl, err := pmemgpt.OpenOrCreate(ctx, dev, nil)
	require.NoError(t, err)
	assert.False(t, tbl.Dirty())
	assert.Equal(t, map[int64]int{4096: 2, 6144: 3}, numbers(tbl.Partitions()))

	part := tbl.AddPartition(8192, 10240-1)
	assert.Equal(t, 1, part.Number)
	require.NoError(t, tbl.Commit(ctx))

	tbl, err = pmemgpt.OpenOrCreate(ctx, dev, nil)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{4096: 2, 6144: 3, 8192: 1}, numbers(tbl.Partitions()))
}

func TestBlkidIdentifiesGPT(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := openDev(t, 256*pmemtest.MiB)
	prober := pmemgpt.BlkidProber{}

	name, err := prober.Probe(ctx, dev.Path)
	require.NoError(t, err)
	assert.Equal(t, "", name)

	require.NoError(t, pmemgpt.Create(dev).Commit(ctx))
	name, err = prober.Probe(ctx, dev.Path)
	require.NoError(t, err)
	assert.Equal(t, "gpt", name)

	tbl, err := pmemgpt.OpenOrCreate(ctx, dev, prober)
	require.NoError(t, err)
	assert.Empty(t, tbl.Partitions())
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dev := openDev(t, 256*pmemtest.MiB)

	tbl := pmemgpt.Create(dev)
	tbl.AddPartition(2048, 4096-1)
	require.NoError(t, tbl.Commit(ctx))

	tbl, err := pmemgpt.OpenOrCreate(ctx, dev, nil)
	require.NoError(t, err)
	require.Len(t, tbl.Partitions(), 1)
	tbl.DeleteAll()
	assert.True(t, tbl.Dirty())
	require.NoError(t, tbl.Commit(ctx))

	tbl, err = pmemgpt.OpenOrCreate(ctx, dev, nil)
	require.NoError(t, err)
	assert.False(t, tbl.Dirty())
	assert.Empty(t, tbl.Partitions())
}
