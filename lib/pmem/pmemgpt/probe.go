// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemgpt

import (
	"context"

	"github.com/datawire/dlib/dlog"
	"github.com/siderolabs/go-blockdevice/v2/blkid"
)

// A Prober identifies what occupies a whole namespace.  It returns
// the empty string if it recognizes nothing.
type Prober interface {
	Probe(ctx context.Context, path string) (string, error)
}

// partitionTableNames are Prober results that mean "a partition
// table", which this package manages itself.
var partitionTableNames = map[string]struct{}{
	"gpt": {},
}

func isForeign(name string) bool {
	if name == "" {
		return false
	}
	_, isTable := partitionTableNames[name]
	return !isTable
}

// BlkidProber is the Prober backed by the blkid package.
type BlkidProber struct{}

var _ Prober = BlkidProber{}

func (BlkidProber) Probe(ctx context.Context, path string) (string, error) {
	info, err := blkid.ProbePath(path)
	if err != nil {
		return "", err
	}
	if info.Name == "" {
		dlog.Tracef(ctx, "blkid %q: nothing recognized", path)
		return "", nil
	}
	dlog.Tracef(ctx, "blkid %q: %q", path, info.Name)
	return info.Name, nil
}
