// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fmtutil_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/pmemvol-ng/lib/fmtutil"
)

type FmtState struct {
	MWidth     int
	MPrec      int
	MFlagMinus bool
	MFlagPlus  bool
	MFlagSharp bool
	MFlagSpace bool
	MFlagZero  bool
}

func (st FmtState) Width() (int, bool) {
	if st.MWidth < 1 {
		return 0, false
	}
	return st.MWidth, true
}

func (st FmtState) Precision() (int, bool) {
	if st.MPrec < 1 {
		return 0, false
	}
	return st.MPrec, true
}

func (st FmtState) Flag(b int) bool {
	switch b {
	case '-':
		return st.MFlagMinus
	case '+':
		return st.MFlagPlus
	case '#':
		return st.MFlagSharp
	case ' ':
		return st.MFlagSpace
	case '0':
		return st.MFlagZero
	}
	return false
}

func (st FmtState) Write([]byte) (int, error) {
	panic("not implemented")
}

func (dst *FmtState) Format(src fmt.State, verb rune) {
	if width, ok := src.Width(); ok {
		dst.MWidth = width
	}
	if prec, ok := src.Precision(); ok {
		dst.MPrec = prec
	}
	dst.MFlagMinus = src.Flag('-')
	dst.MFlagPlus = src.Flag('+')
	dst.MFlagSharp = src.Flag('#')
	dst.MFlagSpace = src.Flag(' ')
	dst.MFlagZero = src.Flag('0')
}

// letters only? No 'p', 'T', or 'w'.
const verbs = "abcdefghijklmnoqrstuvxyzABCDEFGHIJKLMNOPQRSUVWXYZ"

func FuzzFmtStateString(f *testing.F) {
	f.Fuzz(func(t *testing.T,
		width, prec uint8,
		flagMinus, flagPlus, flagSharp, flagSpace, flagZero bool,
		verbIdx uint8,
	) {
		if flagMinus {
			flagZero = false
		}
		input := FmtState{
			MWidth:     int(width),
			MPrec:      int(prec),
			MFlagMinus: flagMinus,
			MFlagPlus:  flagPlus,
			MFlagSharp: flagSharp,
			MFlagSpace: flagSpace,
			MFlagZero:  flagZero,
		}
		verb := rune(verbs[int(verbIdx)%len(verbs)])

		t.Logf("(%#v, %c) => %q", input, verb, fmtutil.FmtStateString(input, verb))

		var output FmtState
		assert.Equal(t, "", fmt.Sprintf(fmtutil.FmtStateString(input, verb), &output))
		assert.Equal(t, input, output)
	})
}

func TestFmtStateStringWidth(t *testing.T) {
	t.Parallel()
	st := FmtState{MWidth: 8, MFlagMinus: true}
	assert.Equal(t, "%-8d", fmtutil.FmtStateString(st, 'd'))
	assert.Equal(t, "%-5d", fmtutil.FmtStateStringWidth(st, 'd', 5))
	assert.Equal(t, "%-d", fmtutil.FmtStateStringWidth(st, 'd', -1))
}

type byteArray [4]byte

func (a byteArray) String() string { return "ba" }

func (a byteArray) Format(f fmt.State, verb rune) {
	fmtutil.FormatByteArrayStringer(a, a[:], f, verb)
}

func TestFormatByteArrayStringer(t *testing.T) {
	t.Parallel()
	val := byteArray{1, 2, 3, 4}
	assert.Equal(t, "ba", fmt.Sprint(val))
	assert.Equal(t, `"ba"`, fmt.Sprintf("%q", val))
	assert.Equal(t, "  ba", fmt.Sprintf("%4s", val))
	assert.Equal(t, "01020304", fmt.Sprintf("%x", val))
	assert.Equal(t, "fmtutil_test.byteArray{0x1, 0x2, 0x3, 0x4}", fmt.Sprintf("%#v", val))
}
