// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemdev

import (
	"os"

	"golang.org/x/sys/unix"
)

// DefaultSectorSize is used for namespaces that are regular files.
const DefaultSectorSize = 512

func sectorSize(fh *os.File) (int64, error) {
	fi, err := fh.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return DefaultSectorSize, nil
	}
	ss, err := unix.IoctlGetInt(int(fh.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, &DeviceError{Op: "BLKSSZGET", Path: fh.Name(), Err: err}
	}
	return int64(ss), nil
}
