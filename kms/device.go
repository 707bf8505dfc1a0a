// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package kms decides which visible surfaces of an output are scanned out by
// hardware planes and which ones are left to the renderer.
//
// Every repaint, an output walks its paint nodes top to bottom and builds
// candidate output states, testing them against the display driver. It
// falls back from planes only, over mixed plane and renderer composition,
// to renderer only composition until the driver accepts a state.
package kms

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/mstarongithub/w2g-planes/util/multiplexer"
	"github.com/sirupsen/logrus"
)

var (
	// Wrapped by drivers when a candidate state gets rejected
	ErrTestFailed = errors.New("atomic test failed")
	// No renderer framebuffer from the last frame can stand in for the scanout plane
	ErrNoScanoutFB = errors.New("no usable renderer framebuffer to carry forward")
	// A node needs the renderer in a mode that doesn't allow it
	ErrRendererForbidden = errors.New("renderer composition not allowed in this mode")
)

// Driver is the display driver side of the atomic API
type Driver interface {
	// Test checks whether the pending state would be accepted, without touching the hardware
	Test(pending *PendingState) error
	// Commit programs the hardware with the pending state
	Commit(pending *PendingState) error
}

// Caps are the capabilities and policies of a display device
type Caps struct {
	// Planes can sit below the scanout plane, shown through holes in the renderer output
	Underlays bool
	// Cursor plane is known not to work
	CursorBroken bool
	// Hardware planes are known not to work at all
	SpritesBroken bool
	// Planes were turned off by configuration
	PlanesDisabled bool
	// Tearing page flips are supported
	AsyncFlip bool
	// The renderer can share buffers with the display device
	GPUInterop bool
	// Size of the cursor plane buffer
	CursorWidth, CursorHeight int
}

type Device struct {
	Driver    Driver
	Provider  FramebufferProvider
	Allocator BufferAllocator
	Caps      Caps
	// Receives a feedback record per paint node after every assignment, if set
	Feedback *multiplexer.ManyToOne[Feedback]

	planes  []*Plane
	outputs []*Output
	log     *logrus.Entry
}

func NewDevice(driver Driver, provider FramebufferProvider, allocator BufferAllocator, caps Caps) *Device {
	if caps.CursorWidth == 0 {
		caps.CursorWidth = 64
	}
	if caps.CursorHeight == 0 {
		caps.CursorHeight = 64
	}
	return &Device{
		Driver:    driver,
		Provider:  provider,
		Allocator: allocator,
		Caps:      caps,
		log:       logrus.WithField("component", "kms"),
	}
}

// AddPlane registers a plane with the device. Planes are tried in the order they were added
func (d *Device) AddPlane(plane Plane) *Plane {
	if len(d.planes) >= 64 {
		d.log.WithField("plane", plane.ID).Panicln("Too many planes for a plane mask")
	}
	p := &plane
	// No alpha property means the plane is always opaque
	if p.AlphaMin == 0 && p.AlphaMax == 0 {
		p.AlphaMin, p.AlphaMax = AlphaOpaque, AlphaOpaque
	}
	if p.Transforms == 0 {
		p.Transforms = TransformsOf(TransformNormal)
	}
	p.index = len(d.planes)
	p.device = d
	p.current = &PlaneState{Plane: p, Alpha: AlphaOpaque}
	d.planes = append(d.planes, p)
	return p
}

func (d *Device) Planes() []*Plane {
	return slices.Clone(d.planes)
}

func (d *Device) Plane(id uint32) *Plane {
	for _, p := range d.planes {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlaneMask returns the mask of all planes matching the filter
func (d *Device) PlaneMask(filter func(*Plane) bool) PlaneMask {
	var mask PlaneMask
	for _, p := range d.planes {
		if filter(p) {
			mask |= p.bit()
		}
	}
	return mask
}

func (d *Device) Outputs() []*Output {
	return slices.Clone(d.outputs)
}

func (d *Device) NewPendingState() *PendingState {
	return &PendingState{Device: d}
}

// Commit programs the hardware with the pending state and makes its output states current.
// State superseded by the commit releases its framebuffers
func (d *Device) Commit(pending *PendingState) error {
	if err := d.Driver.Commit(pending); err != nil {
		return fmt.Errorf("committing pending state: %w", err)
	}
	for _, s := range pending.OutputStates() {
		o := s.Output
		old := o.current
		for _, ps := range s.planes {
			cur := ps.Plane.current
			if ps.FB == nil && cur != nil && cur.Output != nil && cur.Output != o {
				continue
			}
			ps.Plane.current = ps
			if cur != nil && cur.outputState == nil {
				cur.free()
			}
		}
		s.Pending = nil
		o.current = s
		if old != nil {
			old.Destroy()
		}
		if o.capture != nil {
			o.capture.done = s.Writeback
			o.capture = nil
		}
	}
	pending.outputs = nil
	return nil
}

// OutputConfig describes an output when adding it to a device
type OutputConfig struct {
	Name string
	// CRTC index, matched against Plane.PossibleOutputs
	Index         int
	Width, Height int
	// Format the renderer draws the output in
	Format Format
	// Output has no display hardware behind it
	Virtual bool
	// An output wide color effect is active, which only the renderer can apply
	ColorEffect bool
	Power       PowerMode
	Primary     *Plane
	Cursor      *Plane
}

type Output struct {
	Name          string
	Index         int
	Width, Height int
	Format        Format
	Virtual       bool
	ColorEffect   bool
	// Anything but PowerOn keeps the planes dark
	Power PowerMode
	// Scanout plane
	Primary *Plane
	Cursor  *Plane
	// Framebuffer the cursor image gets uploaded to
	CursorFB *Framebuffer

	device     *Device
	current    *OutputState
	capture    *Capture
	cursorNode *PaintNode
	log        *logrus.Entry
}

// AddOutput registers an output. If it has a cursor plane, the cursor buffer is allocated right away
func (d *Device) AddOutput(cfg OutputConfig) (*Output, error) {
	if cfg.Format == 0 {
		cfg.Format = FormatXRGB8888
	}
	o := &Output{
		Name:        cfg.Name,
		Index:       cfg.Index,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      cfg.Format,
		Virtual:     cfg.Virtual,
		ColorEffect: cfg.ColorEffect,
		Power:       cfg.Power,
		Primary:     cfg.Primary,
		Cursor:      cfg.Cursor,
		device:      d,
		log:         logrus.WithField("output", cfg.Name),
	}
	if o.Cursor != nil && d.Allocator != nil && !d.Caps.CursorBroken {
		fb, err := d.allocateCursorFB(o)
		if err != nil {
			return nil, fmt.Errorf("allocating cursor buffer for %s: %w", o.Name, err)
		}
		o.CursorFB = fb
	}
	d.outputs = append(d.outputs, o)
	return o, nil
}

func (d *Device) allocateCursorFB(o *Output) (*Framebuffer, error) {
	format, ok := o.Cursor.Formats.Sole()
	if !ok {
		format = FormatARGB8888
	}
	bo, err := d.Allocator.Allocate(d.Caps.CursorWidth, d.Caps.CursorHeight, format, []Modifier{ModifierLinear})
	if err != nil {
		return nil, err
	}
	handle, err := d.Allocator.Handle(bo)
	if err != nil {
		d.Allocator.Destroy(bo)
		return nil, err
	}
	release := func(*Framebuffer) { d.Allocator.Destroy(bo) }
	return NewFramebuffer(handle, FBCursor, format, ModifierLinear, d.Caps.CursorWidth, d.Caps.CursorHeight, o.Cursor.bit(), release), nil
}

func (o *Output) Rect() image.Rectangle {
	return image.Rect(0, 0, o.Width, o.Height)
}

func (o *Output) Device() *Device {
	return o.device
}

// Current returns the last committed output state, nil before the first commit
func (o *Output) Current() *OutputState {
	return o.current
}

// CursorNode returns the node whose image has to be copied into the cursor buffer
// after the last assignment, nil if the cursor plane is unused
func (o *Output) CursorNode() *PaintNode {
	return o.cursorNode
}

// Close releases the resources owned by the output
func (o *Output) Close() {
	if o.current != nil {
		for _, ps := range o.current.planes {
			if ps.Plane.current == ps {
				ps.Plane.current = &PlaneState{Plane: ps.Plane, Alpha: AlphaOpaque}
			}
		}
		o.current.Destroy()
		o.current = nil
	}
	if o.CursorFB != nil {
		o.CursorFB.Unref()
		o.CursorFB = nil
	}
	o.device.outputs = slices.DeleteFunc(o.device.outputs, func(other *Output) bool { return other == o })
}

// Capture is a writeback screenshot staged for the next frame of an output
type Capture struct {
	cancelled bool
	done      bool
	reason    string
}

// StageCapture requests a writeback capture of the next committed frame
func (o *Output) StageCapture() *Capture {
	o.capture = &Capture{}
	return o.capture
}

func (o *Output) captureStaged() bool {
	return o.capture != nil && !o.capture.cancelled
}

func (c *Capture) Cancel(reason string) {
	c.cancelled = true
	c.reason = reason
}

func (c *Capture) Cancelled() (bool, string) {
	return c.cancelled, c.reason
}

// Done reports whether the capture was part of a committed frame
func (c *Capture) Done() bool {
	return c.done
}
