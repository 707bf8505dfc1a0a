// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type FramebufferType int

const (
	// Client buffer imported for direct scanout
	FBClient = FramebufferType(iota)
	// Buffer produced by the GPU renderer
	FBRenderer
	// Dumb buffer produced by the software renderer
	FBDumb
	// Buffer backing the hardware cursor
	FBCursor
)

func (t FramebufferType) String() string {
	switch t {
	case FBClient:
		return "client"
	case FBRenderer:
		return "renderer"
	case FBDumb:
		return "dumb"
	case FBCursor:
		return "cursor"
	default:
		return fmt.Sprintf("fb-type(%d)", int(t))
	}
}

// Framebuffer is a buffer registered with the display hardware.
// It is reference counted: every plane state showing it holds one reference,
// and the release hook runs once the last one is dropped
type Framebuffer struct {
	ID            uint32
	Type          FramebufferType
	Format        Format
	Modifier      Modifier
	Width, Height int
	// Planes this framebuffer can legally be bound to
	PlaneMask PlaneMask

	refs    int
	release func(*Framebuffer)
}

// NewFramebuffer creates a framebuffer holding a single reference owned by the caller
func NewFramebuffer(id uint32, typ FramebufferType, format Format, modifier Modifier, width, height int, mask PlaneMask, release func(*Framebuffer)) *Framebuffer {
	return &Framebuffer{
		ID:        id,
		Type:      typ,
		Format:    format,
		Modifier:  modifier,
		Width:     width,
		Height:    height,
		PlaneMask: mask,
		refs:      1,
		release:   release,
	}
}

func (fb *Framebuffer) Ref() *Framebuffer {
	fb.refs++
	return fb
}

func (fb *Framebuffer) Unref() {
	if fb.refs <= 0 {
		logrus.WithField("fb", fb.ID).Panicln("framebuffer released more often than referenced")
	}
	fb.refs--
	if fb.refs == 0 && fb.release != nil {
		fb.release(fb)
	}
}

func (fb *Framebuffer) Refs() int {
	return fb.refs
}

// FramebufferProvider turns the buffer of a paint node into a framebuffer usable by the display.
// On success the returned framebuffer carries a reference owned by the caller.
// On failure the reasons explain why no framebuffer could be made
type FramebufferProvider interface {
	FramebufferFor(node *PaintNode, output *Output) (*Framebuffer, FailureReasons)
}

type BufferHandle uint64

// BufferAllocator allocates GPU buffers, used for buffers the display backend owns itself
type BufferAllocator interface {
	Allocate(width, height int, format Format, modifiers []Modifier) (BufferHandle, error)
	// Handle returns the identifier the display hardware knows the buffer by
	Handle(buffer BufferHandle) (uint32, error)
	Destroy(buffer BufferHandle)
}
