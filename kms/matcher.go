// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"image"

	"github.com/mstarongithub/w2g-planes/region"
	"github.com/sirupsen/logrus"
)

// findPlaneForNode tries to bind node to exactly one plane of the attempt's output state.
// bg is area known to be black or hidden behind overlays, which lets a node that
// doesn't cover the output on its own still use the scanout plane.
// Returns the bound plane state, or nil and the reasons every candidate was turned down
func (a *attempt) findPlaneForNode(node *PaintNode, bg region.Region, needUnderlay bool) (*PlaneState, FailureReasons) {
	o := a.output
	d := o.device
	log := o.log.WithFields(logrus.Fields{"view": node.ID, "mode": a.mode})

	switch {
	case a.mode == ModeRendererOnly:
		return nil, ReasonForceRenderer
	case a.mode == ModeRendererAndCursor && !node.CursorLayer:
		return nil, ReasonForceRenderer
	case node.Buffer == nil || node.Buffer.Kind == BufferNone:
		return nil, ReasonNoBuffer
	}

	var (
		fb      *Framebuffer
		mask    PlaneMask
		reasons FailureReasons
	)
	switch node.Buffer.Kind {
	case BufferPixels:
		mask, reasons = a.cursorCandidates(node)
		if mask == 0 {
			log.WithField("reasons", reasons).Debugln("Pixel buffer not usable as cursor")
			return nil, reasons
		}
	case BufferGPU:
		if node.ArbitraryTransform {
			return nil, ReasonIncompatibleTransform
		}
		mask = d.PlaneMask(func(p *Plane) bool { return p.Type != PlaneCursor })
		if mask == 0 {
			return nil, ReasonNoCandidatePlanes
		}
		mask &= d.PlaneMask(func(p *Plane) bool { return p.Transforms.Has(node.Transform) })
		if mask == 0 {
			return nil, ReasonIncompatibleTransform
		}
		fb, reasons = d.Provider.FramebufferFor(node, o)
		if fb == nil {
			log.WithField("reasons", reasons).Debugln("No framebuffer for view")
			return nil, reasons
		}
		defer fb.Unref()
		mask &= fb.PlaneMask
		if mask == 0 {
			return nil, ReasonFormatIncompatible
		}
	default:
		return nil, ReasonSolidSurface
	}

	scanoutFree := a.scanout == nil || a.scanout.FB == nil
	scanoutEligible := scanoutFree && node.Buffer.Kind == BufferGPU &&
		region.New(node.Geometry).Union(bg).ContainsRect(o.Rect())

	for _, p := range d.planes {
		if mask&p.bit() == 0 {
			continue
		}
		plog := log.WithField("plane", p.ID)

		switch p.Type {
		case PlanePrimary:
			if p != o.Primary || !scanoutEligible {
				reasons |= ReasonPlanesRejected
				continue
			}
		case PlaneOverlay:
			// A node covering the output goes to the scanout plane instead
			if scanoutEligible {
				continue
			}
		case PlaneCursor:
			if p != o.Cursor {
				continue
			}
		}
		if a.mode == ModeRendererAndCursor && p.Type != PlaneCursor {
			continue
		}

		if !p.availableFor(o) || a.planeBusy(p) {
			reasons |= ReasonNoPlanesAvailable
			continue
		}
		if node.Alpha != 1 && p.fixedAlpha() {
			reasons |= ReasonGlobalAlpha
			continue
		}

		underlay := p.isUnderlay(a.scanout)
		if needUnderlay && !underlay {
			reasons |= ReasonPlanesRejected
			continue
		}
		if underlay {
			// Only fully opaque content can hide below a hole in the renderer output
			if !d.Caps.Underlays || !node.IsOpaque() || !o.Format.HasAlpha() {
				plog.Debugln("Underlay not possible")
				reasons |= ReasonPlanesRejected
				continue
			}
		}

		watermark := a.zOverlay
		if underlay {
			watermark = a.zUnderlay
		}
		if watermark != ZposInvalid && p.ZposMin >= watermark {
			plog.WithFields(logrus.Fields{"zpos-min": p.ZposMin, "lowest": watermark}).Debugln("Plane can't go low enough")
			reasons |= ReasonPlanesRejected
			continue
		}
		if node.AcquireFence != nil && !p.InFence {
			reasons |= ReasonNoFenceSupport
			continue
		}

		zpos := p.ZposMax
		if watermark != ZposInvalid {
			zpos = min(watermark-1, p.ZposMax)
		}
		// Overlays have to stay above whatever holds the scanout plane
		if !underlay && p.Type != PlanePrimary && !scanoutFree && zpos <= a.scanout.Zpos {
			reasons |= ReasonPlanesRejected
			continue
		}

		var (
			ps *PlaneState
			r  FailureReasons
		)
		if p.Type == PlaneCursor {
			ps, r = a.tryCursor(node, p, zpos)
		} else {
			ps, r = a.tryPlane(node, p, fb, zpos)
		}
		if ps != nil {
			ps.Underlay = underlay
			plog.WithField("zpos", zpos).Debugln("Placed view")
			return ps, ReasonNone
		}
		reasons |= r
	}

	if reasons == ReasonNone {
		reasons = ReasonNoPlanesAvailable
	}
	log.WithField("reasons", reasons).Debugln("No plane for view")
	return nil, reasons
}

// cursorCandidates checks whether a pixel buffer fits the cursor plane
func (a *attempt) cursorCandidates(node *PaintNode) (PlaneMask, FailureReasons) {
	o := a.output
	d := o.device
	if o.Cursor == nil || o.CursorFB == nil || d.Caps.CursorBroken {
		return 0, ReasonBufferType
	}
	format, ok := o.Cursor.Formats.Sole()
	if !ok || node.Buffer.Format != format {
		return 0, ReasonFormatIncompatible
	}
	if node.Buffer.Width > d.Caps.CursorWidth || node.Buffer.Height > d.Caps.CursorHeight {
		return 0, ReasonBufferTooBig
	}
	return o.Cursor.bit(), ReasonNone
}

// planeBusy reports whether the plane already shows another node in this attempt
func (a *attempt) planeBusy(p *Plane) bool {
	if ps := a.state.PlaneState(p); ps != nil && ps.FB != nil {
		return true
	}
	return a.state.Pending != nil && a.state.Pending.planeClaimed(p, a.state)
}

// tryPlane binds node to a scanout or overlay plane.
// Outside of planes-only mode the incremental state is tested right away
func (a *attempt) tryPlane(node *PaintNode, p *Plane, fb *Framebuffer, zpos uint64) (*PlaneState, FailureReasons) {
	ps := a.state.GetPlaneState(p)
	ps.clearBinding()
	ps.Output = a.output
	if !ps.setCoordsForNode(node, zpos) {
		ps.Revert()
		return nil, ReasonPlanesRejected
	}
	ps.Node = node
	ps.FB = fb.Ref()
	ps.InFence = node.AcquireFence

	// Nothing real sits on the scanout plane yet in planes-only mode, so a test would be meaningless
	if a.mode == ModePlanesOnly {
		return ps, ReasonNone
	}
	if err := a.state.Pending.Test(); err != nil {
		a.output.log.WithError(err).WithFields(logrus.Fields{
			"view":  node.ID,
			"plane": p.ID,
		}).Debugln("Atomic test rejected view on plane")
		ps.Revert()
		return nil, ReasonPlanesRejected
	}
	return ps, ReasonNone
}

// tryCursor binds node to the cursor plane.
// Cursor hardware can't crop or scale, the image is copied into a fixed size buffer instead
func (a *attempt) tryCursor(node *PaintNode, p *Plane, zpos uint64) (*PlaneState, FailureReasons) {
	o := a.output
	d := o.device
	src := node.sourceRect()
	if node.Transform != TransformNormal || src.Min != (image.Point{}) || node.scaled() {
		return nil, ReasonPlanesRejected
	}

	ps := a.state.GetPlaneState(p)
	ps.clearBinding()
	ps.Output = o
	ps.Node = node
	ps.FB = o.CursorFB.Ref()
	ps.SrcX, ps.SrcY = 0, 0
	ps.SrcW = uint32(d.Caps.CursorWidth) << 16
	ps.SrcH = uint32(d.Caps.CursorHeight) << 16
	ps.DestX = int32(node.Geometry.Min.X)
	ps.DestY = int32(node.Geometry.Min.Y)
	ps.DestW = uint32(d.Caps.CursorWidth)
	ps.DestH = uint32(d.Caps.CursorHeight)
	ps.Rotation = TransformNormal
	ps.Alpha = AlphaOpaque
	ps.Zpos = zpos
	a.cursorNode = node
	return ps, ReasonNone
}
