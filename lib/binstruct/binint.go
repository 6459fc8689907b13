// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package binstruct marshals Go structs to and from fixed-layout
// little-endian byte images, driven by `bin:"off=…,siz=…"` struct
// tags.  Every field's offset and size is checked against the tag
// the first time a struct type is used; a mismatch panics.
package binstruct

import (
	"reflect"

	"git.lukeshu.com/pmemvol-ng/lib/binstruct/binint"
)

type (
	U8    = binint.U8
	U16le = binint.U16le
	U32le = binint.U32le
	U64le = binint.U64le
)

// Plain Go integer kinds are encoded as their little-endian binint
// equivalent.  Signed kinds are not supported.
var intKind2Type = map[reflect.Kind]reflect.Type{
	reflect.Uint8:  reflect.TypeOf(U8(0)),
	reflect.Uint16: reflect.TypeOf(U16le(0)),
	reflect.Uint32: reflect.TypeOf(U32le(0)),
	reflect.Uint64: reflect.TypeOf(U64le(0)),
}

var byteType = reflect.TypeOf(byte(0))

// isByteArray reports whether typ is an [N]byte that can be copied
// wholesale instead of element-by-element.
func isByteArray(typ reflect.Type) bool {
	return typ.Kind() == reflect.Array && typ.Elem() == byteType
}
