// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemdev

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PMem driver ioctl request numbers.
const (
	ioctlRereadPartitions = 3010
	ioctlAddVolumeExtent  = 3090
	ioctlGetHealthStats   = 3103
)

// healthStatsVersion is the request layout version sent with
// GET_HEALTH_STATS.
const healthStatsVersion = 1

type extentArg struct {
	Start  uint64
	Length uint64
}

type healthArg struct {
	Version uint64
	Counter uint64
}

func ioctl(fh *os.File, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fh.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func addVolumeExtent(fh *os.File, start, length uint64) error {
	arg := extentArg{Start: start, Length: length}
	return ioctl(fh, ioctlAddVolumeExtent, unsafe.Pointer(&arg))
}

func getHealthStats(fh *os.File) (HealthStats, error) {
	arg := healthArg{Version: healthStatsVersion}
	if err := ioctl(fh, ioctlGetHealthStats, unsafe.Pointer(&arg)); err != nil {
		return HealthStats{}, err
	}
	return HealthStats{
		Version:         arg.Version,
		DataLossCounter: arg.Counter,
	}, nil
}

func rereadPartitions(fh *os.File) error {
	return ioctl(fh, ioctlRereadPartitions, nil)
}
