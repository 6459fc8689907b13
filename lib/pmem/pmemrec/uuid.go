// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemrec

import (
	"encoding"
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/pmemvol-ng/lib/fmtutil"
)

// UUID is a UUID exactly as its 16 bytes sit in an extent record.
//
// Extent and volume UUIDs are stored in RFC 4122 byte order.
// Namespace UUIDs are stored in Microsoft GUID byte order (the first
// three groups little-endian); use NamespaceUUID and
// UUID.NamespaceUUID to convert.
type UUID [16]byte

var (
	_ fmt.Stringer           = UUID{}
	_ fmt.Formatter          = UUID{}
	_ encoding.TextMarshaler = UUID{}
)

// NewUUID returns a fresh random (version 4) UUID.
func NewUUID() UUID {
	return UUID(uuid.New())
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u UUID) Format(f fmt.State, verb rune) {
	fmtutil.FormatByteArrayStringer(u, u[:], f, verb)
}

func (u UUID) IsZero() bool {
	return u == UUID{}
}

// NamespaceUUID returns the on-record encoding of a namespace's UUID.
func NamespaceUUID(ns uuid.UUID) UUID {
	return UUID(swapGUID(ns))
}

// NamespaceUUID interprets u as an on-record namespace UUID and
// returns the namespace UUID it encodes.
func (u UUID) NamespaceUUID() uuid.UUID {
	return uuid.UUID(swapGUID(u))
}

func swapGUID(in [16]byte) [16]byte {
	out := in
	out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	out[4], out[5] = in[5], in[4]
	out[6], out[7] = in[7], in[6]
	return out
}
