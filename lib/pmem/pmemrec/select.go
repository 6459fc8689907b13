// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemrec

import (
	"errors"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/google/uuid"
)

// ErrInvalidRecord is matched (with errors.Is) by every
// *InvalidRecordError.
var ErrInvalidRecord = errors.New("not a valid volume-extent record")

type InvalidReason int

const (
	InvalidMagic InvalidReason = iota
	InvalidNamespace
	InvalidChecksum
)

func (r InvalidReason) String() string {
	switch r {
	case InvalidMagic:
		return "bad magic"
	case InvalidNamespace:
		return "namespace UUID mismatch"
	case InvalidChecksum:
		return "no slot with a valid checksum"
	default:
		return fmt.Sprintf("InvalidReason(%d)", int(r))
	}
}

type InvalidRecordError struct {
	Reason InvalidReason
	Err    error
}

func (e *InvalidRecordError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid volume-extent record: %v", e.Reason)
	}
	return fmt.Sprintf("invalid volume-extent record: %v: %v", e.Reason, e.Err)
}

func (e *InvalidRecordError) Unwrap() error { return e.Err }

func (e *InvalidRecordError) Is(target error) bool { return target == ErrInvalidRecord }

// SelectActive returns the index of the authoritative state slot of
// rec, as read from the namespace with UUID ns.  If rec is not a
// usable record for that namespace, it returns an
// *InvalidRecordError.
//
// When both slots carry a valid checksum the one with the higher
// generation wins; a slot with an invalid checksum never wins,
// whatever its generation says.
func SelectActive(rec Record, ns uuid.UUID) (int, error) {
	if rec.Magic != Magic {
		return -1, &InvalidRecordError{
			Reason: InvalidMagic,
			Err:    fmt.Errorf("magic=%#016x", rec.Magic),
		}
	}
	if got := rec.NamespaceUUID.NamespaceUUID(); got != ns {
		return -1, &InvalidRecordError{
			Reason: InvalidNamespace,
			Err:    fmt.Errorf("record is for %v, not %v", got, ns),
		}
	}
	var errs derror.MultiError
	var valid [2]bool
	for slot := range valid {
		if err := rec.ValidateChecksum(slot); err != nil {
			errs = append(errs, err)
			continue
		}
		valid[slot] = true
	}
	switch {
	case valid[0] && valid[1]:
		if rec.State[0].Generation > rec.State[1].Generation {
			return 0, nil
		}
		return 1, nil
	case valid[0]:
		return 0, nil
	case valid[1]:
		return 1, nil
	default:
		return -1, &InvalidRecordError{
			Reason: InvalidChecksum,
			Err:    errs,
		}
	}
}
