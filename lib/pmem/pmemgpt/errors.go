// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemgpt

import (
	"errors"
	"fmt"
)

var (
	// ErrForeignFilesystem means a namespace is occupied by
	// something other than a partition table, and must be left
	// alone.
	ErrForeignFilesystem = errors.New("namespace holds a foreign filesystem")
	// ErrConstraint means a free region cannot hold a partition
	// under the requested alignment and minimum size.
	ErrConstraint = errors.New("unable to satisfy all constraints on the partition")
)

type PartitionErrorKind int

const (
	KindOpen PartitionErrorKind = iota
	KindRead
	KindCreate
	KindWrite
	KindConstraint
)

func (k PartitionErrorKind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindRead:
		return "read"
	case KindCreate:
		return "create"
	case KindWrite:
		return "write"
	case KindConstraint:
		return "constraint"
	default:
		return fmt.Sprintf("PartitionErrorKind(%d)", int(k))
	}
}

// PartitionError is every error returned by this package.
type PartitionError struct {
	Kind PartitionErrorKind
	Path string
	Err  error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition table %s %q: %v", e.Kind, e.Path, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }

func (e *PartitionError) Is(target error) bool {
	return e.Kind == KindConstraint && target == ErrConstraint
}
