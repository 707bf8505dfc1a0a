// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Feedback tells the producer of a paint node how it ended up being shown.
// Producers use it to pick buffer formats and presentation timing
type Feedback struct {
	Output string
	Node   string
	// ID of the plane showing the node, 0 if composited by the renderer
	Plane    uint32
	Renderer bool
	ZeroCopy bool
	Reasons  FailureReasons
}

// hardwareUsable reports whether the output may use planes besides the renderer output at all
func (o *Output) hardwareUsable() bool {
	c := o.device.Caps
	return !c.SpritesBroken && !c.PlanesDisabled && !o.Virtual && c.GPUInterop && o.Power == PowerOn
}

// AssignPlanes decides for every paint node whether a plane or the renderer shows it.
// nodes is ordered top to bottom. The winning state is left in pending for the caller
// to attach the renderer output to and commit.
// Every node's Target and Reasons are updated
func (o *Output) AssignPlanes(pending *PendingState, nodes []*PaintNode) *OutputState {
	d := o.device
	for _, node := range nodes {
		node.Reasons = ReasonNone
		node.Target = Target{}
	}
	o.cursorNode = nil

	var state *OutputState
	if o.hardwareUsable() {
		state = o.tryModes(pending, nodes, ModePlanesOnly, ModeMixed)
	} else {
		o.log.WithFields(logrus.Fields{
			"sprites-broken":  d.Caps.SpritesBroken,
			"planes-disabled": d.Caps.PlanesDisabled,
			"virtual":         o.Virtual,
			"gpu-interop":     d.Caps.GPUInterop,
			"power":           o.Power,
		}).Debugln("Planes not usable, only trying renderer composition")
	}

	if state == nil {
		fallback := ModeRendererAndCursor
		if d.Caps.PlanesDisabled {
			fallback = ModeRendererOnly
			for _, node := range nodes {
				node.Reasons |= ReasonPlanesDisabled
			}
		}
		state = o.tryModes(pending, nodes, fallback)
		// Writeback may tie up resources a plain frame would get away without
		if state == nil && o.captureStaged() {
			o.log.Warnln("Cancelling writeback capture to get a frame out")
			o.capture.Cancel("no output state could be built with writeback")
			state = o.tryModes(pending, nodes, fallback)
		}
	}
	if state == nil {
		o.log.Panicln("Renderer composition failed, no state left to fall back to")
	}

	o.writeTargets(state, nodes)
	return state
}

func (o *Output) tryModes(pending *PendingState, nodes []*PaintNode, modes ...ProposeMode) *OutputState {
	for _, mode := range modes {
		state, err := o.ProposeState(pending, nodes, mode)
		if err == nil {
			o.log.WithField("mode", mode).Debugln("Using output state")
			return state
		}
		if !errors.Is(err, ErrTestFailed) && !errors.Is(err, ErrNoScanoutFB) && !errors.Is(err, ErrRendererForbidden) {
			o.log.WithError(err).WithField("mode", mode).Warnln("Building output state failed")
		}
	}
	return nil
}

// writeTargets records where every node ended up and reports it to the feedback receiver
func (o *Output) writeTargets(state *OutputState, nodes []*PaintNode) {
	d := o.device
	for _, node := range nodes {
		ps := state.NodeState(node)
		if ps == nil {
			node.Target = Target{Renderer: true}
		} else {
			node.Target = Target{
				Plane:     ps.Plane,
				ZeroCopy:  ps.Plane.Type != PlaneCursor,
				NeedsHole: ps.Underlay,
			}
		}
		if d.Feedback == nil || d.Feedback.Closed() {
			continue
		}
		fb := Feedback{
			Output:   o.Name,
			Node:     node.ID,
			Renderer: node.Target.Renderer,
			ZeroCopy: node.Target.ZeroCopy,
			Reasons:  node.Reasons,
		}
		if ps != nil {
			fb.Plane = ps.Plane.ID
		}
		if err := d.Feedback.Send(fb); err != nil {
			o.log.WithError(err).Debugln("Feedback receiver gone")
		}
	}
}

// AttachRendererFB puts the renderer output on the scanout plane of the state.
// The state takes its own reference on fb
func (s *OutputState) AttachRendererFB(fb *Framebuffer) {
	o := s.Output
	ps := s.GetPlaneState(o.Primary)
	ps.clearBinding()
	ps.Output = o
	ps.FB = fb.Ref()
	ps.SrcX, ps.SrcY = 0, 0
	ps.SrcW = uint32(fb.Width) << 16
	ps.SrcH = uint32(fb.Height) << 16
	ps.DestX, ps.DestY = 0, 0
	ps.DestW = uint32(o.Width)
	ps.DestH = uint32(o.Height)
	ps.Rotation = TransformNormal
	ps.Alpha = AlphaOpaque
	ps.Zpos = o.Primary.ZposMin
	s.checkZpos()
}
