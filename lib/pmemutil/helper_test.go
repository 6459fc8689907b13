// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))
	return path
}

// The tests that exec a script don't run in parallel; a concurrent
// fork can hold the script open for writing and make exec fail with
// ETXTBSY.

func TestExecHelper(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	logFile := filepath.Join(t.TempDir(), "log")
	h := ExecHelper{Path: writeScript(t, `echo "$1 $2" >>`+logFile+"\n")}

	require.NoError(t, h.Format(ctx, "/dev/vol0"))
	require.NoError(t, h.Mount(ctx, "/dev/vol0"))
	require.NoError(t, h.Unmount(ctx, "/dev/vol0"))
	dat, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "--format /dev/vol0\n--mount /dev/vol0\n--unmount /dev/vol0\n", string(dat))
}

func TestExecHelperError(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)
	h := ExecHelper{Path: writeScript(t, `echo "$2: No such file or directory" >&2; exit 1`+"\n")}

	err := h.Unmount(ctx, "/dev/vol0")
	var helperErr *HelperError
	require.ErrorAs(t, err, &helperErr)
	assert.Equal(t, "unmount", helperErr.Op)
	assert.Equal(t, "/dev/vol0: No such file or directory\n", helperErr.Stderr)
	assert.True(t, isNoSuchFile(err))
	assert.Contains(t, err.Error(), "No such file or directory")
}

func TestListVolumes(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	dir := t.TempDir()
	for _, name := range []string{"vol1", "vol0"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	vols, err := ListVolumes(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "vol0"), filepath.Join(dir, "vol1")}, vols)

	vols, err = ListVolumes(ctx, filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Empty(t, vols)
}

func TestCommandExclusivity(t *testing.T) {
	type TestCase struct {
		Body  string
		ExpOK bool
	}
	testcases := map[string]TestCase{
		"enabled":  {Body: "echo Enabled", ExpOK: true},
		"disabled": {Body: "echo Disabled", ExpOK: false},
		"silent":   {Body: "true", ExpOK: false},
		"failing":  {Body: "echo Enabled; exit 3", ExpOK: false},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			ctx := dlog.NewTestContext(t, false)
			checker := NewCommandExclusivity("/bin/sh " + writeScript(t, tc.Body+"\n"))
			err := checker.CheckExclusive(ctx)
			if tc.ExpOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNotExclusive)
			}
		})
	}
	assert.Nil(t, NewCommandExclusivity("  "))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.VolumeDir = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.EndAlign = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinSize = 64<<20 + 100
	assert.ErrorContains(t, cfg.Validate(), "min-size")
}

func TestConfigConstraint(t *testing.T) {
	t.Parallel()
	c, err := DefaultConfig().Constraint(512)
	require.NoError(t, err)
	assert.Equal(t, pmemgpt.Constraint{StartAlign: 2048, EndAlign: 4096, MinSize: 131072}, c)

	c, err = DefaultConfig().Constraint(4096)
	require.NoError(t, err)
	assert.Equal(t, pmemgpt.Constraint{StartAlign: 256, EndAlign: 512, MinSize: 16384}, c)

	cfg := DefaultConfig()
	cfg.StartAlign = 6 << 10
	assert.NoError(t, cfg.Validate())
	_, err = cfg.Constraint(4096)
	assert.ErrorContains(t, err, "start-align")
}
