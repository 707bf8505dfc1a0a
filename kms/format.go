// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"fmt"
	"slices"
	"strings"
)

// Format is a DRM fourcc pixel format code
type Format uint32

// Modifier is a DRM format modifier describing the buffer layout
type Modifier uint64

const (
	FormatXRGB8888    Format = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatARGB8888    Format = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatXBGR8888    Format = 'X' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatABGR8888    Format = 'A' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatXRGB2101010 Format = 'X' | 'R'<<8 | '3'<<16 | '0'<<24
	FormatARGB2101010 Format = 'A' | 'R'<<8 | '3'<<16 | '0'<<24
	FormatRGB565      Format = 'R' | 'G'<<8 | '1'<<16 | '6'<<24
	FormatNV12        Format = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
)

const (
	ModifierLinear Modifier = 0
	// Buffer was allocated without an explicit modifier
	ModifierInvalid Modifier = 0x00ffffffffffffff
)

var alphaFormats = []Format{FormatARGB8888, FormatABGR8888, FormatARGB2101010}

// HasAlpha reports whether the format carries an alpha channel
func (f Format) HasAlpha() bool {
	return slices.Contains(alphaFormats, f)
}

func (f Format) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// ParseFormat turns a four character code like "XR24" back into a Format
func ParseFormat(code string) (Format, error) {
	if len(code) != 4 {
		return 0, fmt.Errorf("format code %q is not four characters long", code)
	}
	return Format(code[0]) | Format(code[1])<<8 | Format(code[2])<<16 | Format(code[3])<<24, nil
}

// FormatSet lists the formats a plane can scan out, each with its supported modifiers.
// An empty modifier list means only implicit modifiers are known
type FormatSet map[Format][]Modifier

func NewFormatSet(formats ...Format) FormatSet {
	set := FormatSet{}
	for _, f := range formats {
		set[f] = nil
	}
	return set
}

func (s FormatSet) Supports(format Format, modifier Modifier) bool {
	mods, ok := s[format]
	if !ok {
		return false
	}
	if modifier == ModifierInvalid || len(mods) == 0 {
		return true
	}
	return slices.Contains(mods, modifier)
}

// Sole returns the format if the set contains exactly one
func (s FormatSet) Sole() (Format, bool) {
	if len(s) != 1 {
		return 0, false
	}
	for f := range s {
		return f, true
	}
	return 0, false
}

func (s FormatSet) String() string {
	codes := make([]string, 0, len(s))
	for f := range s {
		codes = append(codes, f.String())
	}
	slices.Sort(codes)
	return strings.Join(codes, ",")
}
