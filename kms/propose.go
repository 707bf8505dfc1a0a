// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"fmt"

	"github.com/mstarongithub/w2g-planes/region"
	"github.com/sirupsen/logrus"
)

// ProposeMode is a composition strategy, ordered from most to least hardware use
type ProposeMode int

const (
	// Every node on a plane, no renderer involved
	ModePlanesOnly = ProposeMode(iota)
	// Nodes go to planes where possible, the renderer draws the rest onto the scanout plane
	ModeMixed
	// Only the cursor plane is used next to the renderer
	ModeRendererAndCursor
	// The renderer draws everything
	ModeRendererOnly
)

func (m ProposeMode) String() string {
	switch m {
	case ModePlanesOnly:
		return "planes-only"
	case ModeMixed:
		return "mixed"
	case ModeRendererAndCursor:
		return "renderer-and-cursor"
	case ModeRendererOnly:
		return "renderer-only"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// attempt holds everything one propose run builds up.
// All of it is thrown away if the run fails
type attempt struct {
	output  *Output
	mode    ProposeMode
	state   *OutputState
	scanout *PlaneState

	// Area the renderer has to draw because of something in front of it
	renderer region.Region
	// Opaque black area the hardware shows for free
	background region.Region
	// Area covered by opaque nodes on overlay planes
	obscured region.Region

	// Lowest zpos handed out so far, above and below the scanout plane
	zOverlay, zUnderlay uint64

	cursorNode *PaintNode
}

func (a *attempt) fail(err error) (*OutputState, error) {
	a.state.Destroy()
	return nil, err
}

// ProposeState builds a candidate state for the output showing nodes in the given mode.
// nodes is ordered top to bottom. The returned state is part of pending; on error
// nothing of the attempt is left behind
func (o *Output) ProposeState(pending *PendingState, nodes []*PaintNode, mode ProposeMode) (*OutputState, error) {
	d := o.device
	log := o.log.WithField("mode", mode)

	a := &attempt{
		output:    o,
		mode:      mode,
		state:     DuplicateOutputState(o, o.current, pending, DuplicateClear),
		zOverlay:  ZposInvalid,
		zUnderlay: ZposInvalid,
	}
	a.state.Mode = mode
	a.state.Tearing = d.Caps.AsyncFlip && mode == ModePlanesOnly
	a.state.Writeback = o.captureStaged()
	a.scanout = a.state.PlaneState(o.Primary)

	if mode == ModeMixed {
		if err := a.carryScanoutForward(); err != nil {
			log.WithError(err).Debugln("Can't test planes against a renderer buffer")
			return a.fail(err)
		}
	}

	rendererOK := mode != ModePlanesOnly
	visible := a.visibleNodes(nodes)

	for i, node := range visible {
		last := i == len(visible)-1
		var reasons FailureReasons

		if d.Allocator == nil {
			reasons |= ReasonNoAllocator
		}
		if node.Buffer == nil || node.Buffer.Kind == BufferNone {
			reasons |= ReasonNoBuffer
		} else if node.Buffer.Kind == BufferSolid {
			reasons |= ReasonSolidSurface
		}
		if o.ColorEffect {
			reasons |= ReasonColorEffect
		}
		if node.ColorTransform != ColorTransformIdentity {
			reasons |= ReasonColorTransform
		}

		clipped := node.Visible.IntersectRect(o.Rect())
		needUnderlay := false
		if clipped.Intersects(a.renderer) {
			if d.Caps.Underlays {
				needUnderlay = true
			} else {
				reasons |= ReasonOccludedByRenderer
			}
		}
		if needUnderlay && !node.IsOpaque() {
			reasons |= ReasonOccludedByRenderer
		}
		if node.Censored {
			reasons |= ReasonContentProtection
		}
		a.state.Tearing = a.state.Tearing && node.TearingAllowed

		var ps *PlaneState
		if reasons == ReasonNone {
			var bg region.Region
			if last {
				bg = a.background.Union(a.obscured)
			}
			ps, reasons = a.findPlaneForNode(node, bg, needUnderlay)
		}
		node.Reasons |= reasons

		if ps != nil {
			switch {
			case ps.Plane == o.Primary:
				a.scanout = ps
				a.zOverlay = ps.Zpos
				a.zUnderlay = ps.Zpos
			case ps.Underlay:
				a.zUnderlay = ps.Zpos
			default:
				a.zOverlay = ps.Zpos
			}
			if mode == ModePlanesOnly && ps.Plane.Type == PlaneOverlay {
				a.obscured = a.obscured.Union(node.Opaque.Intersect(clipped))
			}
			// Content below the scanout plane is seen through the renderer output
			if ps.Underlay {
				a.renderer = a.renderer.Union(clipped)
			}
			continue
		}

		if !rendererOK {
			log.WithFields(logrus.Fields{
				"view":    node.ID,
				"reasons": node.Reasons,
			}).Debugln("View needs the renderer, giving up")
			return a.fail(fmt.Errorf("%w: view %s", ErrRendererForbidden, node.ID))
		}
		a.renderer = a.renderer.Union(clipped)
	}

	a.state.checkZpos()

	// No renderer output exists yet that could be tested with.
	// A writeback connector still has to be accepted by the driver
	if (mode == ModeRendererOnly || mode == ModeRendererAndCursor) && !a.state.Writeback {
		o.cursorNode = a.cursorNode
		return a.state, nil
	}

	if err := pending.Test(); err != nil {
		log.WithError(err).Debugln("Candidate state rejected")
		return a.fail(fmt.Errorf("testing %s state of %s: %w", mode, o.Name, err))
	}

	// The carried over renderer buffer only served as a stand-in for testing
	if mode == ModeMixed && a.scanout != nil && a.scanout.Node == nil {
		a.scanout.Revert()
	}
	o.cursorNode = a.cursorNode
	log.Debugln("Candidate state accepted")
	return a.state, nil
}

// carryScanoutForward puts the last renderer framebuffer on the scanout plane,
// so overlay candidates can be tested against something real
func (a *attempt) carryScanoutForward() error {
	o := a.output
	cur := o.Primary.current
	if cur == nil || cur.FB == nil || cur.Output != o {
		return ErrNoScanoutFB
	}
	fb := cur.FB
	if fb.Type != FBRenderer && fb.Type != FBDumb {
		return fmt.Errorf("%w: scanout shows a %s buffer", ErrNoScanoutFB, fb.Type)
	}
	if fb.Width != o.Width || fb.Height != o.Height {
		return fmt.Errorf("%w: buffer is %dx%d, output %dx%d", ErrNoScanoutFB, fb.Width, fb.Height, o.Width, o.Height)
	}

	ps := a.state.GetPlaneState(o.Primary)
	ps.clearBinding()
	ps.Output = o
	ps.FB = fb.Ref()
	ps.SrcX, ps.SrcY, ps.SrcW, ps.SrcH = cur.SrcX, cur.SrcY, cur.SrcW, cur.SrcH
	ps.DestX, ps.DestY, ps.DestW, ps.DestH = cur.DestX, cur.DestY, cur.DestW, cur.DestH
	ps.Alpha = AlphaOpaque
	ps.Zpos = o.Primary.ZposMin
	a.scanout = ps
	a.zUnderlay = ps.Zpos
	return nil
}

// visibleNodes drops the nodes that won't show up on the output.
// In planes-only mode an opaque black node covering the output is folded into the
// background, as long as nothing else would have to be drawn over it
func (a *attempt) visibleNodes(nodes []*PaintNode) []*PaintNode {
	o := a.output
	if a.mode == ModePlanesOnly {
		if visible, ok := a.foldBackground(nodes); ok {
			return visible
		}
		a.background = region.Region{}
	}
	var visible []*PaintNode
	for _, node := range nodes {
		if a.shown(node) {
			visible = append(visible, node)
		}
	}
	o.log.WithField("views", len(visible)).Debugln("Collected visible views")
	return visible
}

func (a *attempt) shown(node *PaintNode) bool {
	if node.ColorTransform == ColorTransformInvalid {
		return false
	}
	if node.Alpha <= 0 {
		return false
	}
	return !node.Visible.IntersectRect(a.output.Rect()).Empty()
}

func (a *attempt) foldBackground(nodes []*PaintNode) ([]*PaintNode, bool) {
	o := a.output
	var visible []*PaintNode
	for _, node := range nodes {
		if !a.shown(node) {
			continue
		}
		if node.isBlackBackground(o) {
			a.background = a.background.Union(node.Visible.IntersectRect(o.Rect()))
			continue
		}
		// Anything else solid, or anything drawn where the background already is, would need a solid fill plane
		if node.Buffer != nil && node.Buffer.Kind == BufferSolid {
			return nil, false
		}
		if node.Visible.Intersects(a.background) {
			return nil, false
		}
		visible = append(visible, node)
	}
	if !a.background.Empty() {
		o.log.WithField("background", a.background).Debugln("Folded black background")
	}
	return visible, true
}
