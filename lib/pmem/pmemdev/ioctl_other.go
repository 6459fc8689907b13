// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package pmemdev

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("PMem ioctls are not supported on this platform")

func addVolumeExtent(*os.File, uint64, uint64) error { return errUnsupported }

func getHealthStats(*os.File) (HealthStats, error) { return HealthStats{}, errUnsupported }

func rereadPartitions(*os.File) error { return errUnsupported }
