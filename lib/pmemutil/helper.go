// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
)

// A Helper formats, mounts, and unmounts PMem volumes.
type Helper interface {
	Format(ctx context.Context, volume string) error
	Mount(ctx context.Context, volume string) error
	Unmount(ctx context.Context, volume string) error
}

// HelperError is a failed run of the helper program.
type HelperError struct {
	Op     string
	Volume string
	Stderr string
	Err    error
}

func (e *HelperError) Error() string {
	msg := fmt.Sprintf("%s %q: %v", e.Op, e.Volume, e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *HelperError) Unwrap() error { return e.Err }

// isNoSuchFile reports whether err is the helper complaining that a
// volume does not exist.
func isNoSuchFile(err error) bool {
	var helperErr *HelperError
	return errors.As(err, &helperErr) && strings.Contains(helperErr.Stderr, "No such file or directory")
}

// ExecHelper runs an external helper program with --format, --mount,
// or --unmount and a volume path, and trusts its exit code.
type ExecHelper struct {
	Path string
}

var _ Helper = ExecHelper{}

func (h ExecHelper) run(ctx context.Context, op, volume string) error {
	cmd := dexec.CommandContext(ctx, h.Path, "--"+op, volume)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &HelperError{
			Op:     op,
			Volume: volume,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

func (h ExecHelper) Format(ctx context.Context, volume string) error {
	return h.run(ctx, "format", volume)
}

func (h ExecHelper) Mount(ctx context.Context, volume string) error {
	return h.run(ctx, "mount", volume)
}

func (h ExecHelper) Unmount(ctx context.Context, volume string) error {
	return h.run(ctx, "unmount", volume)
}

// ListVolumes returns the volume device nodes in dir, sorted.  A
// missing dir means there are no volumes.
func ListVolumes(ctx context.Context, dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			dlog.Debugf(ctx, "volume directory %q does not exist", dir)
			return nil, nil
		}
		return nil, err
	}
	ret := make([]string, 0, len(ents))
	for _, ent := range ents {
		ret = append(ret, filepath.Join(dir, ent.Name()))
	}
	sort.Strings(ret)
	return ret, nil
}
