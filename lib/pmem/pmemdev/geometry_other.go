// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package pmemdev

import (
	"os"
)

// DefaultSectorSize is used for every namespace on platforms without
// a sector-size ioctl.
const DefaultSectorSize = 512

func sectorSize(*os.File) (int64, error) {
	return DefaultSectorSize, nil
}
