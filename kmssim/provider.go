// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kmssim

import (
	"fmt"
	"slices"

	"github.com/mstarongithub/w2g-planes/kms"
)

// Provider imports paint node buffers as framebuffers.
// A buffer can be bound to every plane advertising its format and modifier
type Provider struct {
	// IDs of nodes whose buffers fail to import
	FailImport []string
	// Largest buffer the display engine can import. 0 means no limit
	MaxWidth, MaxHeight int

	nextID uint32
	live   map[uint32]*kms.Framebuffer
}

func NewProvider() *Provider {
	return &Provider{
		nextID: 1,
		live:   map[uint32]*kms.Framebuffer{},
	}
}

func (p *Provider) FramebufferFor(node *kms.PaintNode, output *kms.Output) (*kms.Framebuffer, kms.FailureReasons) {
	buf := node.Buffer
	if buf == nil || buf.Kind != kms.BufferGPU {
		return nil, kms.ReasonBufferType
	}
	if p.MaxWidth > 0 && buf.Width > p.MaxWidth || p.MaxHeight > 0 && buf.Height > p.MaxHeight {
		return nil, kms.ReasonBufferTooBig
	}
	if slices.Contains(p.FailImport, node.ID) {
		return nil, kms.ReasonAddFBFailed
	}
	mask := output.Device().PlaneMask(func(pl *kms.Plane) bool {
		return pl.Formats.Supports(buf.Format, buf.Modifier)
	})
	if mask == 0 {
		reasons := kms.ReasonFormatIncompatible
		if buf.Modifier == kms.ModifierInvalid {
			reasons |= kms.ReasonModifierInvalid
		}
		return nil, reasons
	}
	return p.newFramebuffer(kms.FBClient, buf.Format, buf.Modifier, buf.Width, buf.Height, mask), kms.ReasonNone
}

// RendererFramebuffer stands in for a frame the renderer drew for output
func (p *Provider) RendererFramebuffer(output *kms.Output) *kms.Framebuffer {
	mask := output.Device().PlaneMask(func(pl *kms.Plane) bool { return pl == output.Primary })
	return p.newFramebuffer(kms.FBRenderer, output.Format, kms.ModifierLinear, output.Width, output.Height, mask)
}

func (p *Provider) newFramebuffer(typ kms.FramebufferType, format kms.Format, modifier kms.Modifier, w, h int, mask kms.PlaneMask) *kms.Framebuffer {
	id := p.nextID
	p.nextID++
	fb := kms.NewFramebuffer(id, typ, format, modifier, w, h, mask, func(fb *kms.Framebuffer) {
		delete(p.live, fb.ID)
	})
	p.live[id] = fb
	return fb
}

// Live returns the number of framebuffers still referenced by someone
func (p *Provider) Live() int {
	return len(p.live)
}

// Allocator hands out fake buffer handles
type Allocator struct {
	// Allocations fail while set
	Fail bool

	next uint64
	live map[kms.BufferHandle]uint32
}

func NewAllocator() *Allocator {
	return &Allocator{live: map[kms.BufferHandle]uint32{}}
}

func (a *Allocator) Allocate(width, height int, format kms.Format, modifiers []kms.Modifier) (kms.BufferHandle, error) {
	if a.Fail {
		return 0, fmt.Errorf("allocating %dx%d %s buffer: out of memory", width, height, format)
	}
	a.next++
	h := kms.BufferHandle(a.next)
	a.live[h] = uint32(1000 + a.next)
	return h, nil
}

func (a *Allocator) Handle(buffer kms.BufferHandle) (uint32, error) {
	id, ok := a.live[buffer]
	if !ok {
		return 0, fmt.Errorf("unknown buffer %d", buffer)
	}
	return id, nil
}

func (a *Allocator) Destroy(buffer kms.BufferHandle) {
	delete(a.live, buffer)
}

// Live returns the number of buffers not destroyed yet
func (a *Allocator) Live() int {
	return len(a.live)
}
