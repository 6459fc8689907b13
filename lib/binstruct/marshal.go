// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"reflect"
)

type Marshaler = encoding.BinaryMarshaler

// Marshal encodes obj into a freshly allocated byte slice of exactly
// StaticSize(obj) bytes.
func Marshal(obj any) ([]byte, error) {
	if mar, ok := obj.(Marshaler); ok {
		dat, err := mar.MarshalBinary()
		if err != nil {
			err = &MarshalError{
				Type:   reflect.TypeOf(obj),
				Method: "MarshalBinary",
				Err:    err,
			}
		}
		return dat, err
	}
	return MarshalWithoutInterface(obj)
}

func MarshalWithoutInterface(obj any) ([]byte, error) {
	val := reflect.ValueOf(obj)
	switch val.Kind() {
	case reflect.Uint8:
		return []byte{byte(val.Uint())}, nil
	case reflect.Uint16:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(val.Uint()))
		return buf[:], nil
	case reflect.Uint32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(val.Uint()))
		return buf[:], nil
	case reflect.Uint64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], val.Uint())
		return buf[:], nil
	case reflect.Ptr:
		return Marshal(val.Elem().Interface())
	case reflect.Array:
		if isByteArray(val.Type()) {
			ret := make([]byte, val.Len())
			reflect.Copy(reflect.ValueOf(ret), val)
			return ret, nil
		}
		var ret []byte
		for i := 0; i < val.Len(); i++ {
			bs, err := Marshal(val.Index(i).Interface())
			ret = append(ret, bs...)
			if err != nil {
				return ret, err
			}
		}
		return ret, nil
	case reflect.Struct:
		return getStructHandler(val.Type()).Marshal(val)
	default:
		panic(&InvalidTypeError{
			Type: val.Type(),
			Err: fmt.Errorf("does not implement binstruct.Marshaler and kind=%v is not a supported statically-sized kind",
				val.Kind()),
		})
	}
}
