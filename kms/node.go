// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"fmt"
	"image"

	"github.com/mstarongithub/w2g-planes/region"
)

type BufferKind int

const (
	BufferNone = BufferKind(iota)
	// CPU accessible pixel memory, like wl_shm
	BufferPixels
	// GPU resident buffer, like a dmabuf
	BufferGPU
	// Single color, no memory behind it
	BufferSolid
)

func (k BufferKind) String() string {
	switch k {
	case BufferNone:
		return "none"
	case BufferPixels:
		return "pixels"
	case BufferGPU:
		return "gpu"
	case BufferSolid:
		return "solid"
	default:
		return fmt.Sprintf("buffer-kind(%d)", int(k))
	}
}

type Color struct {
	R, G, B, A float32
}

type ColorEncoding int

const (
	EncodingBT601 = ColorEncoding(iota)
	EncodingBT709
	EncodingBT2020
)

type ColorRange int

const (
	RangeLimited = ColorRange(iota)
	RangeFull
)

type Buffer struct {
	Kind          BufferKind
	Width, Height int
	Format        Format
	Modifier      Modifier
	// Only meaningful for solid buffers
	Color    Color
	Encoding ColorEncoding
	Range    ColorRange
	// Allocator handle for GPU buffers
	Handle BufferHandle
}

// ColorTransform describes the color pipeline a surface needs on this output
type ColorTransform int

const (
	ColorTransformIdentity = ColorTransform(iota)
	// A non-identity transform only the renderer can apply
	ColorTransformPipeline
	// No usable transform could be built, the surface can't be shown
	ColorTransformInvalid
)

// Fence is an acquire fence that signals once the buffer contents are ready
type Fence struct {
	FD int
}

// Target is where a paint node ended up after plane assignment
type Target struct {
	// Plane carrying the node, nil if composited by the renderer
	Plane *Plane
	// Node is composited by the renderer
	Renderer bool
	// Content is scanned out straight from the client buffer
	ZeroCopy bool
	// Node sits below the scanout plane, the renderer has to leave a transparent hole for it
	NeedsHole bool
}

// PaintNode is one surface as it is to be shown on one output in this frame
type PaintNode struct {
	ID string
	// Visible part in output coordinates, after occlusion by things above it
	Visible region.Region
	// Opaque part in output coordinates
	Opaque region.Region
	// Destination rectangle in output coordinates
	Geometry image.Rectangle
	// Crop of the buffer in buffer coordinates. Zero means the whole buffer
	Source image.Rectangle
	Alpha  float32
	// Buffer transform relative to the output
	Transform Transform
	// The surface transform is more than a flip, rotation, scale and translation
	ArbitraryTransform bool
	ColorTransform     ColorTransform
	Buffer             *Buffer
	AcquireFence       *Fence
	// Content protection requirements can't be met on this output
	Censored bool
	// Client allows tearing page flips
	TearingAllowed bool
	// Node lives in the cursor layer
	CursorLayer bool

	// Filled in by plane assignment
	Reasons FailureReasons
	Target  Target
}

func (n *PaintNode) sourceRect() image.Rectangle {
	if !n.Source.Empty() {
		return n.Source
	}
	if n.Buffer == nil {
		return image.Rectangle{}
	}
	return image.Rect(0, 0, n.Buffer.Width, n.Buffer.Height)
}

// scaled reports whether the buffer crop and the destination differ in size
func (n *PaintNode) scaled() bool {
	src := n.sourceRect()
	w, h := src.Dx(), src.Dy()
	switch n.Transform {
	case Transform90, Transform270, TransformFlipped90, TransformFlipped270:
		w, h = h, w
	}
	return w != n.Geometry.Dx() || h != n.Geometry.Dy()
}

// IsOpaque reports whether nothing below the node shows through its visible part
func (n *PaintNode) IsOpaque() bool {
	if n.Alpha < 1 {
		return false
	}
	return n.Opaque.Contains(n.Visible)
}

// isBlackBackground reports whether the node is an opaque black solid
// spanning the whole output, which the hardware gives us for free
func (n *PaintNode) isBlackBackground(o *Output) bool {
	if n.Buffer == nil || n.Buffer.Kind != BufferSolid {
		return false
	}
	c := n.Buffer.Color
	if c.R != 0 || c.G != 0 || c.B != 0 || c.A != 1 || n.Alpha != 1 {
		return false
	}
	if n.Transform != TransformNormal || n.ArbitraryTransform {
		return false
	}
	return region.New(n.Geometry).ContainsRect(o.Rect())
}

func (n *PaintNode) String() string {
	return n.ID
}
