// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pmemdev finds PMem namespaces and talks to the kernel about
// them.
package pmemdev

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"git.lukeshu.com/pmemvol-ng/lib/diskio"
)

// NamespacePrefix is the basename prefix of namespace device nodes.
const NamespacePrefix = "PMemNS-"

// A Namespace is one PMem namespace device node.
type Namespace struct {
	Path string
	UUID uuid.UUID
}

func (ns Namespace) String() string {
	return ns.Path
}

// ParseNamespaceUUID returns the namespace UUID encoded in a device
// node's basename: everything after the first "-".
func ParseNamespaceUUID(path string) (uuid.UUID, error) {
	base := filepath.Base(path)
	_, str, ok := strings.Cut(base, "-")
	if !ok {
		return uuid.Nil, fmt.Errorf("%q: no UUID in namespace name", base)
	}
	ret, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q: %w", base, err)
	}
	return ret, nil
}

// Enumerate lists the namespaces under dir, sorted by path.  A
// missing dir means there are no namespaces.  Entries whose names do
// not carry a UUID are skipped with a warning.
func Enumerate(ctx context.Context, dir string) ([]Namespace, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			dlog.Debugf(ctx, "namespace directory %q does not exist", dir)
			return nil, nil
		}
		return nil, err
	}
	var ret []Namespace
	for _, ent := range ents {
		path := filepath.Join(dir, ent.Name())
		id, err := ParseNamespaceUUID(path)
		if err != nil {
			dlog.Warnf(ctx, "skipping namespace: %v", err)
			continue
		}
		ret = append(ret, Namespace{
			Path: path,
			UUID: id,
		})
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Path < ret[j].Path
	})
	return ret, nil
}

// A Device is an open Namespace.
type Device struct {
	Namespace
	File       diskio.File[int64]
	SectorSize int64
}

// Open opens the namespace read-write.
func (ns Namespace) Open(ctx context.Context) (*Device, error) {
	dlog.Debugf(ctx, "opening namespace %q...", ns.Path)
	fh, err := os.OpenFile(ns.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	ss, err := sectorSize(fh)
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("%q: sector size: %w", ns.Path, err)
	}
	return &Device{
		Namespace:  ns,
		File:       &diskio.OSFile[int64]{File: fh},
		SectorSize: ss,
	}, nil
}

// Sectors is the size of the device in sectors.
func (dev *Device) Sectors() int64 {
	return dev.File.Size() / dev.SectorSize
}

func (dev *Device) Close() error {
	return dev.File.Close()
}
