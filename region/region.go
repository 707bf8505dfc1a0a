// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package region implements sets of axis aligned rectangles.
//
// A Region is stored as a list of pairwise disjoint, non-empty rectangles.
// All operations return new regions and never modify their receiver, so a
// Region can be passed around by value.
//
// Regions carry no coordinate space of their own. Callers keep global
// (output) regions and surface-local regions apart and move between them
// with Translate.
package region

import (
	"fmt"
	"image"
	"strings"
)

type Region struct {
	rects []image.Rectangle
}

// New creates a region covering the union of the given rectangles
func New(rects ...image.Rectangle) Region {
	var r Region
	for _, rect := range rects {
		r = r.UnionRect(rect)
	}
	return r
}

// Rect creates a region from a single rectangle given by position and size
func Rect(x, y, width, height int) Region {
	return New(image.Rect(x, y, x+width, y+height))
}

// Rects returns a copy of the disjoint rectangles making up the region
func (r Region) Rects() []image.Rectangle {
	out := make([]image.Rectangle, len(r.rects))
	copy(out, r.rects)
	return out
}

func (r Region) Empty() bool {
	return len(r.rects) == 0
}

// Extents returns the bounding box of the region.
// An empty region has empty extents
func (r Region) Extents() image.Rectangle {
	var ext image.Rectangle
	for _, rect := range r.rects {
		ext = ext.Union(rect)
	}
	return ext
}

// Area is the number of pixels covered by the region
func (r Region) Area() int {
	area := 0
	for _, rect := range r.rects {
		area += rect.Dx() * rect.Dy()
	}
	return area
}

func (r Region) UnionRect(rect image.Rectangle) Region {
	if rect.Empty() {
		return r
	}
	// Only the parts of rect not yet covered get added, which keeps the list disjoint
	pieces := []image.Rectangle{rect}
	for _, existing := range r.rects {
		pieces = subtractAll(pieces, existing)
		if len(pieces) == 0 {
			return r
		}
	}
	out := make([]image.Rectangle, 0, len(r.rects)+len(pieces))
	out = append(out, r.rects...)
	out = append(out, pieces...)
	return Region{rects: out}
}

func (r Region) Union(other Region) Region {
	out := r
	for _, rect := range other.rects {
		out = out.UnionRect(rect)
	}
	return out
}

func (r Region) IntersectRect(rect image.Rectangle) Region {
	var out []image.Rectangle
	for _, existing := range r.rects {
		inter := existing.Intersect(rect)
		if !inter.Empty() {
			out = append(out, inter)
		}
	}
	return Region{rects: out}
}

func (r Region) Intersect(other Region) Region {
	var out []image.Rectangle
	// Both sides are disjoint, so the pairwise intersections are as well
	for _, a := range r.rects {
		for _, b := range other.rects {
			inter := a.Intersect(b)
			if !inter.Empty() {
				out = append(out, inter)
			}
		}
	}
	return Region{rects: out}
}

// Intersects reports whether the two regions share at least one pixel
func (r Region) Intersects(other Region) bool {
	for _, a := range r.rects {
		for _, b := range other.rects {
			if a.Overlaps(b) {
				return true
			}
		}
	}
	return false
}

func (r Region) SubtractRect(rect image.Rectangle) Region {
	return Region{rects: subtractAll(r.rects, rect)}
}

func (r Region) Subtract(other Region) Region {
	out := r.rects
	for _, rect := range other.rects {
		out = subtractAll(out, rect)
		if len(out) == 0 {
			break
		}
	}
	return Region{rects: out}
}

// Contains reports whether other is fully covered by r
func (r Region) Contains(other Region) bool {
	return other.Subtract(r).Empty()
}

// ContainsRect reports whether rect is fully covered by r
func (r Region) ContainsRect(rect image.Rectangle) bool {
	return r.Contains(New(rect))
}

// Equal compares the covered area, not the rectangle decomposition
func (r Region) Equal(other Region) bool {
	return r.Contains(other) && other.Contains(r)
}

// Translate moves the region by the given offset.
// Used to move between surface-local and output coordinates
func (r Region) Translate(dx, dy int) Region {
	out := make([]image.Rectangle, len(r.rects))
	delta := image.Pt(dx, dy)
	for i, rect := range r.rects {
		out[i] = rect.Add(delta)
	}
	return Region{rects: out}
}

func (r Region) String() string {
	if r.Empty() {
		return "{}"
	}
	parts := make([]string, len(r.rects))
	for i, rect := range r.rects {
		parts[i] = fmt.Sprintf("%dx%d+%d+%d", rect.Dx(), rect.Dy(), rect.Min.X, rect.Min.Y)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func subtractAll(rects []image.Rectangle, cut image.Rectangle) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(rects))
	for _, rect := range rects {
		out = append(out, subtractRect(rect, cut)...)
	}
	return out
}

// subtractRect splits rect into at most four pieces around cut:
// full-width bands above and below, then the left and right remainders of the middle band
func subtractRect(rect, cut image.Rectangle) []image.Rectangle {
	inter := rect.Intersect(cut)
	if inter.Empty() {
		return []image.Rectangle{rect}
	}
	out := make([]image.Rectangle, 0, 4)
	if top := image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, inter.Min.Y); !top.Empty() {
		out = append(out, top)
	}
	if bottom := image.Rect(rect.Min.X, inter.Max.Y, rect.Max.X, rect.Max.Y); !bottom.Empty() {
		out = append(out, bottom)
	}
	if left := image.Rect(rect.Min.X, inter.Min.Y, inter.Min.X, inter.Max.Y); !left.Empty() {
		out = append(out, left)
	}
	if right := image.Rect(inter.Max.X, inter.Min.Y, rect.Max.X, inter.Max.Y); !right.Empty() {
		out = append(out, right)
	}
	return out
}
