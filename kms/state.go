// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"fmt"
	"image"
	"slices"

	"github.com/sirupsen/logrus"
)

// PlaneState is what a plane would show if its output state got committed
type PlaneState struct {
	Plane *Plane
	// Output the plane is bound to. Nil disables the plane
	Output *Output
	FB     *Framebuffer
	// Node shown by the plane, nil for the renderer output or a disabled plane
	Node *PaintNode
	Zpos uint64
	// Source rectangle in 16.16 fixed point buffer coordinates
	SrcX, SrcY, SrcW, SrcH uint32
	// Destination rectangle in output coordinates
	DestX, DestY int32
	DestW, DestH uint32
	Alpha        uint16
	Rotation     Transform
	InFence      *Fence
	Encoding     ColorEncoding
	Range        ColorRange
	// Plane sits below the scanout plane
	Underlay bool

	outputState *OutputState
}

// OutputState is a full candidate configuration of one output for one frame
type OutputState struct {
	Output  *Output
	Pending *PendingState
	Mode    ProposeMode
	Power   PowerMode
	// Frame may be flipped without waiting for vblank
	Tearing bool
	// A writeback capture rides along with this state
	Writeback bool

	planes []*PlaneState
}

// PowerMode is the DPMS state of an output
type PowerMode int

const (
	PowerOn = PowerMode(iota)
	PowerStandby
	PowerSuspend
	PowerOff
)

var powerNames = []string{"on", "standby", "suspend", "off"}

func (m PowerMode) String() string {
	if m < 0 || int(m) >= len(powerNames) {
		return fmt.Sprintf("power(%d)", int(m))
	}
	return powerNames[m]
}

func ParsePowerMode(name string) (PowerMode, error) {
	for i, n := range powerNames {
		if n == name {
			return PowerMode(i), nil
		}
	}
	return PowerOn, fmt.Errorf("unknown power mode %q", name)
}

type DuplicateMode int

const (
	// Keep every plane binding of the source state
	DuplicatePreserve = DuplicateMode(iota)
	// Keep the planes but unbind them, so the copy starts with nothing assigned
	DuplicateClear
)

// newPlaneState creates a blank state for the plane inside the output state
func (s *OutputState) newPlaneState(plane *Plane) *PlaneState {
	ps := &PlaneState{
		Plane:       plane,
		Alpha:       AlphaOpaque,
		outputState: s,
	}
	s.planes = append(s.planes, ps)
	return ps
}

// duplicatePlaneState copies src into the output state, taking a reference on its framebuffer
func (s *OutputState) duplicatePlaneState(src *PlaneState) *PlaneState {
	ps := *src
	ps.outputState = s
	if ps.FB != nil {
		ps.FB.Ref()
	}
	s.planes = append(s.planes, &ps)
	return &ps
}

// PlaneState returns the state of the plane in this output state, or nil
func (s *OutputState) PlaneState(plane *Plane) *PlaneState {
	for _, ps := range s.planes {
		if ps.Plane == plane {
			return ps
		}
	}
	return nil
}

// GetPlaneState returns the state of the plane in this output state.
// If there is none yet, the plane's committed state is copied in as a starting point
func (s *OutputState) GetPlaneState(plane *Plane) *PlaneState {
	if ps := s.PlaneState(plane); ps != nil {
		return ps
	}
	if plane.current == nil {
		return s.newPlaneState(plane)
	}
	return s.duplicatePlaneState(plane.current)
}

// Planes returns the plane states in the order they were added
func (s *OutputState) Planes() []*PlaneState {
	return slices.Clone(s.planes)
}

// NodeState returns the plane state showing the given node, or nil
func (s *OutputState) NodeState(node *PaintNode) *PlaneState {
	for _, ps := range s.planes {
		if ps.Node == node && ps.FB != nil {
			return ps
		}
	}
	return nil
}

// DuplicateOutputState copies src as the starting point of a new candidate state.
// The copy is added to pending. A nil src gives an empty state for output
func DuplicateOutputState(output *Output, src *OutputState, pending *PendingState, mode DuplicateMode) *OutputState {
	dst := &OutputState{
		Output:  output,
		Pending: pending,
		Power:   output.Power,
	}
	if src != nil {
		dst.Tearing = src.Tearing
		for _, ps := range src.planes {
			// Planes another output took over since src was built are none of our business
			if cur := ps.Plane.current; cur != nil && cur.Output != nil && cur.Output != output {
				continue
			}
			if mode == DuplicateClear {
				dst.newPlaneState(ps.Plane)
			} else {
				dst.duplicatePlaneState(ps)
			}
		}
	}
	if pending != nil {
		pending.add(dst)
	}
	return dst
}

// Revert drops a speculative plane binding.
// If the plane currently shows something a blank state takes its place, so committing disables it
func (ps *PlaneState) Revert() {
	s := ps.outputState
	plane := ps.Plane
	ps.free()
	if s == nil {
		return
	}
	s.planes = slices.DeleteFunc(s.planes, func(other *PlaneState) bool { return other == ps })
	if plane.current != nil && plane.current.FB != nil {
		s.newPlaneState(plane)
	}
}

func (ps *PlaneState) free() {
	if ps.FB != nil {
		ps.FB.Unref()
		ps.FB = nil
	}
	ps.Node = nil
}

// clearBinding drops whatever the state inherited so it can be bound afresh
func (ps *PlaneState) clearBinding() {
	ps.free()
	ps.InFence = nil
	ps.Underlay = false
}

// setCoordsForNode fills in the source and destination rectangles for showing node.
// The destination is clipped to the output and the source cropped to match.
// Returns false if the node can't be expressed with plane coordinates
func (ps *PlaneState) setCoordsForNode(node *PaintNode, zpos uint64) bool {
	src := node.sourceRect()
	if node.Buffer == nil || src.Empty() || node.Geometry.Empty() {
		return false
	}
	if !src.In(image.Rect(0, 0, node.Buffer.Width, node.Buffer.Height)) {
		return false
	}
	dst := node.Geometry
	if ps.Output != nil {
		dst = dst.Intersect(ps.Output.Rect())
	}
	if dst.Empty() {
		return false
	}
	// Source edges in 16.16 fixed point
	x0, y0 := int64(src.Min.X)<<16, int64(src.Min.Y)<<16
	x1, y1 := int64(src.Max.X)<<16, int64(src.Max.Y)<<16
	if dst != node.Geometry {
		// Only unrotated content gets cropped along with the destination
		if node.Transform != TransformNormal {
			return false
		}
		g := node.Geometry
		sw, sh := x1-x0, y1-y0
		x0, x1 = x0+sw*int64(dst.Min.X-g.Min.X)/int64(g.Dx()), x1-sw*int64(g.Max.X-dst.Max.X)/int64(g.Dx())
		y0, y1 = y0+sh*int64(dst.Min.Y-g.Min.Y)/int64(g.Dy()), y1-sh*int64(g.Max.Y-dst.Max.Y)/int64(g.Dy())
	}
	ps.SrcX = uint32(x0)
	ps.SrcY = uint32(y0)
	ps.SrcW = uint32(x1 - x0)
	ps.SrcH = uint32(y1 - y0)
	ps.DestX = int32(dst.Min.X)
	ps.DestY = int32(dst.Min.Y)
	ps.DestW = uint32(dst.Dx())
	ps.DestH = uint32(dst.Dy())
	ps.Rotation = node.Transform
	ps.Zpos = zpos
	ps.Alpha = alphaToPlane(node.Alpha)
	ps.Encoding = node.Buffer.Encoding
	ps.Range = node.Buffer.Range
	return true
}

func alphaToPlane(alpha float32) uint16 {
	switch {
	case alpha >= 1:
		return AlphaOpaque
	case alpha <= 0:
		return 0
	default:
		return uint16(alpha * float32(AlphaOpaque))
	}
}

// Destroy releases every reference the state holds and removes it from its pending state
func (s *OutputState) Destroy() {
	for _, ps := range s.planes {
		// A committed plane state outlives the output state it was built in
		if ps.Plane.current == ps {
			continue
		}
		ps.free()
	}
	s.planes = nil
	if s.Pending != nil {
		s.Pending.remove(s)
		s.Pending = nil
	}
}

// checkZpos enforces that no two active planes share a zpos.
// The propose step hands out strictly decreasing positions, so a clash is a bug
func (s *OutputState) checkZpos() {
	seen := map[uint64]*PlaneState{}
	for _, ps := range s.planes {
		if ps.FB == nil {
			continue
		}
		if other, ok := seen[ps.Zpos]; ok {
			s.Output.log.WithFields(logrus.Fields{
				"zpos":   ps.Zpos,
				"plane":  ps.Plane.ID,
				"other":  other.Plane.ID,
				"output": s.Output.Name,
			}).Panicln("Two planes share a zpos")
		}
		seen[ps.Zpos] = ps
	}
}

// ActivePlanes returns the plane states that show something
func (s *OutputState) ActivePlanes() []*PlaneState {
	return slices.DeleteFunc(s.Planes(), func(ps *PlaneState) bool { return ps.FB == nil })
}

// PendingState groups the output states of one device for one repaint.
// The display driver tests and commits it as a whole
type PendingState struct {
	Device  *Device
	outputs []*OutputState
}

func (p *PendingState) add(s *OutputState) {
	p.outputs = append(p.outputs, s)
}

func (p *PendingState) remove(s *OutputState) {
	p.outputs = slices.DeleteFunc(p.outputs, func(other *OutputState) bool { return other == s })
}

func (p *PendingState) OutputStates() []*OutputState {
	return slices.Clone(p.outputs)
}

// OutputState returns the state staged for output, or nil
func (p *PendingState) OutputState(output *Output) *OutputState {
	for _, s := range p.outputs {
		if s.Output == output {
			return s
		}
	}
	return nil
}

// Test asks the display driver whether the pending state would be accepted
func (p *PendingState) Test() error {
	return p.Device.Driver.Test(p)
}

// Destroy drops every output state that was not committed
func (p *PendingState) Destroy() {
	for _, s := range p.OutputStates() {
		s.Destroy()
	}
}

// planeClaimed reports whether another output state in the pending state binds the plane
func (p *PendingState) planeClaimed(plane *Plane, self *OutputState) bool {
	for _, s := range p.outputs {
		if s == self {
			continue
		}
		if ps := s.PlaneState(plane); ps != nil && ps.FB != nil {
			return true
		}
	}
	return false
}
