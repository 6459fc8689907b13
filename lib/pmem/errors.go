// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmem

import (
	"errors"
	"fmt"
)

// Volume assembly failures.  Each of these is fatal: guessing which
// extents to trust risks silently losing data.
var (
	ErrMultipleVolumes         = errors.New("multiple volumes are not supported")
	ErrInconsistentVolumeState = errors.New("volume extents disagree about the volume layout")
	ErrMissingExtent           = errors.New("a volume extent is missing")
)

// ErrPartialCommit is matched (with errors.Is) by every
// *PartialCommitError.
var ErrPartialCommit = errors.New("volume extent records were only partially written")

// PartialCommitError is a write failure partway through
// Writer.CommitExtents.  Re-running the operation is safe.
type PartialCommitError struct {
	Step      string
	Namespace string
	Partition int
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("%v: %s: namespace %q partition %d: %v (re-run to recover)",
		ErrPartialCommit, e.Step, e.Namespace, e.Partition, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

func (e *PartialCommitError) Is(target error) bool { return target == ErrPartialCommit }
