package kms_test

import (
	"errors"
	"testing"

	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/kmssim"
)

// Every way a popup can be kept off the planes leaves its reason behind
func TestPopupRejected(t *testing.T) {
	cases := map[string]struct {
		setup func(r *rig, popup *kms.PaintNode)
		want  kms.FailureReasons
	}{
		"fence without plane support": {
			setup: func(r *rig, popup *kms.PaintNode) { popup.AcquireFence = &kms.Fence{FD: -1} },
			want:  kms.ReasonNoFenceSupport,
		},
		"censored": {
			setup: func(r *rig, popup *kms.PaintNode) { popup.Censored = true },
			want:  kms.ReasonContentProtection,
		},
		"color pipeline": {
			setup: func(r *rig, popup *kms.PaintNode) { popup.ColorTransform = kms.ColorTransformPipeline },
			want:  kms.ReasonColorTransform,
		},
		"color effect": {
			setup: func(r *rig, popup *kms.PaintNode) { r.out.ColorEffect = true },
			want:  kms.ReasonColorEffect,
		},
		"no allocator": {
			setup: func(r *rig, popup *kms.PaintNode) { r.dev.Allocator = nil },
			want:  kms.ReasonNoAllocator,
		},
		"arbitrary transform": {
			setup: func(r *rig, popup *kms.PaintNode) { popup.ArbitraryTransform = true },
			want:  kms.ReasonIncompatibleTransform,
		},
		"unsupported rotation": {
			setup: func(r *rig, popup *kms.PaintNode) { popup.Transform = kms.Transform90 },
			want:  kms.ReasonIncompatibleTransform,
		},
	}
	for name, c := range cases {
		r := newRig(t, hardware(), kmssim.Rules{}, layout{overlays: 1})
		popup := gpuNode("popup", 100, 100, 300, 200)
		c.setup(r, popup)
		r.frame(t, popup, fullscreen("client"))

		if !popup.Reasons.Has(c.want) {
			t.Errorf("%s: expected %s, got %s", name, c.want, popup.Reasons)
		}
		if popup.Target.Plane != nil || !popup.Target.Renderer {
			t.Errorf("%s: popup should be composited, got %+v", name, popup.Target)
		}
	}
}

func TestFenceHandedToPlane(t *testing.T) {
	r := newRig(t, hardware(), kmssim.Rules{}, layout{overlays: 1})
	r.overlays[0].InFence = true
	popup := gpuNode("popup", 100, 100, 300, 200)
	popup.AcquireFence = &kms.Fence{FD: 7}
	state := r.frame(t, popup, fullscreen("client"))

	if popup.Target.Plane != r.overlays[0] {
		t.Fatalf("Fenced popup should be on the overlay, got %+v (%s)", popup.Target, popup.Reasons)
	}
	if ps := state.NodeState(popup); ps.InFence != popup.AcquireFence {
		t.Errorf("Plane should wait on the popup's fence, got %v", ps.InFence)
	}
}

// Views nobody can see neither take a plane nor force the renderer
func TestHiddenViewsSkipped(t *testing.T) {
	cases := map[string]func(*kms.PaintNode){
		"transparent":            func(n *kms.PaintNode) { n.Alpha = 0 },
		"invalid color pipeline": func(n *kms.PaintNode) { n.ColorTransform = kms.ColorTransformInvalid },
	}
	for name, hide := range cases {
		r := newRig(t, hardware(), kmssim.Rules{}, layout{overlays: 1})
		popup := gpuNode("popup", 100, 100, 300, 200)
		hide(popup)
		state := r.frame(t, popup, fullscreen("client"))

		if state.Mode != kms.ModePlanesOnly {
			t.Errorf("%s: expected planes only, got %s", name, state.Mode)
		}
		if popup.Target.Plane != nil || !popup.Reasons.Empty() {
			t.Errorf("%s: popup should be skipped, got %+v (%s)", name, popup.Target, popup.Reasons)
		}
		if n := len(state.ActivePlanes()); n != 1 {
			t.Errorf("%s: expected only the scanout plane active, got %d", name, n)
		}
	}
}

// Mixed mode only carries a renderer frame of the output's size forward
func TestMixedCarryForwardRejected(t *testing.T) {
	cases := map[string]func(t *testing.T, r *rig){
		"client buffer": func(t *testing.T, r *rig) {
			r.frame(t, fullscreen("client"))
		},
		"wrong size": func(t *testing.T, r *rig) {
			pending := r.dev.NewPendingState()
			state := kms.DuplicateOutputState(r.out, nil, pending, kms.DuplicateClear)
			mask := r.dev.PlaneMask(func(p *kms.Plane) bool { return p == r.primary })
			fb := kms.NewFramebuffer(99, kms.FBRenderer, kms.FormatXRGB8888, kms.ModifierLinear, 640, 480, mask, nil)
			state.AttachRendererFB(fb)
			fb.Unref()
			if err := r.dev.Commit(pending); err != nil {
				t.Fatalf("Commit failed: %s", err)
			}
		},
	}
	for name, prepare := range cases {
		r := newRig(t, hardware(), kmssim.Rules{}, layout{overlays: 1})
		prepare(t, r)

		pending := r.dev.NewPendingState()
		_, err := r.out.ProposeState(pending, []*kms.PaintNode{gpuNode("popup", 10, 10, 100, 100), fullscreen("client")}, kms.ModeMixed)
		if !errors.Is(err, kms.ErrNoScanoutFB) {
			t.Errorf("%s: expected ErrNoScanoutFB, got %v", name, err)
		}
		if len(pending.OutputStates()) != 0 {
			t.Errorf("%s: failed attempt left a state behind", name)
		}
		pending.Destroy()
	}
}

// When nothing but the renderer passes, the pointer still gets the cursor plane
func TestCursorInRendererAndCursor(t *testing.T) {
	r := newRig(t, hardware(), kmssim.Rules{FailTests: 1000}, layout{overlays: 1})
	pointer := cursorNode("pointer", 100, 100)
	client := fullscreen("client")
	pending := r.dev.NewPendingState()
	state := r.out.AssignPlanes(pending, []*kms.PaintNode{pointer, client})
	defer pending.Destroy()

	if state.Mode != kms.ModeRendererAndCursor {
		t.Fatalf("Expected renderer and cursor, got %s", state.Mode)
	}
	if pointer.Target.Plane != r.cursor {
		t.Errorf("Pointer should be on the cursor plane, got %+v (%s)", pointer.Target, pointer.Reasons)
	}
	if r.out.CursorNode() != pointer {
		t.Errorf("Output should remember the pointer for the cursor upload")
	}
	if !client.Target.Renderer || !client.Reasons.Has(kms.ReasonForceRenderer) {
		t.Errorf("Client should be composited, got %+v (%s)", client.Target, client.Reasons)
	}
}

// Underlays are stacked downwards from the scanout plane just like overlays upwards
func TestUnderlayZposDecreasing(t *testing.T) {
	caps := hardware()
	caps.Underlays = true
	r := newRig(t, caps, kmssim.Rules{}, layout{underlays: 2, overlays: 1})
	badge := solidNode("badge", 200, 200, 100, 100, kms.Color{R: 1, A: 1})
	upper := gpuNode("upper", 150, 150, 400, 300)
	lower := gpuNode("lower", 500, 300, 400, 300)
	r.frame(t, badge, upper, lower)

	state := r.frame(t, badge, upper, lower)
	if state.Mode != kms.ModeMixed {
		t.Fatalf("Expected mixed, got %s", state.Mode)
	}
	for _, video := range []*kms.PaintNode{upper, lower} {
		if !video.Target.NeedsHole {
			t.Fatalf("%s should be an underlay, got %+v (%s)", video.ID, video.Target, video.Reasons)
		}
	}
	scanout := state.PlaneState(r.primary).Zpos
	zUpper, zLower := zposOf(t, state, upper), zposOf(t, state, lower)
	if zUpper >= scanout || zLower >= zUpper {
		t.Errorf("Expected %d > %d > %d", scanout, zUpper, zLower)
	}
}

// A dark output doesn't bother with planes
func TestPoweredDownOutput(t *testing.T) {
	r := newRig(t, hardware(), kmssim.Rules{}, layout{overlays: 1})
	r.out.Power = kms.PowerStandby
	client := fullscreen("client")
	state := r.frame(t, client)

	if state.Power != kms.PowerStandby {
		t.Errorf("State should carry the output's power mode, got %s", state.Power)
	}
	if state.Mode != kms.ModeRendererAndCursor || !client.Target.Renderer {
		t.Errorf("Expected composition, got %s %+v", state.Mode, client.Target)
	}
	if r.drv.Tests != 0 {
		t.Errorf("No plane state should have been tested, driver saw %d", r.drv.Tests)
	}
}

func TestParsePowerMode(t *testing.T) {
	for _, mode := range []kms.PowerMode{kms.PowerOn, kms.PowerStandby, kms.PowerSuspend, kms.PowerOff} {
		got, err := kms.ParsePowerMode(mode.String())
		if err != nil || got != mode {
			t.Errorf("Round trip of %s gave %s, %v", mode, got, err)
		}
	}
	if _, err := kms.ParsePowerMode("dim"); err == nil {
		t.Errorf("Expected an error for an unknown mode")
	}
}

// Plane coordinates never reach outside the output, the source is cropped along
func TestDestinationClippedToOutput(t *testing.T) {
	type rect struct{ x, y, w, h uint32 }
	cases := map[string]struct {
		node  *kms.PaintNode
		plane func(*rig) *kms.Plane
		dest  rect
		src   rect
	}{
		"oversized scanout": {
			node:  gpuNode("view", -10, -10, 1940, 1100),
			plane: func(r *rig) *kms.Plane { return r.primary },
			dest:  rect{0, 0, 1920, 1080},
			src:   rect{10, 10, 1920, 1080},
		},
		"off the right edge": {
			node:  gpuNode("view", 1820, 100, 200, 100),
			plane: func(r *rig) *kms.Plane { return r.overlays[0] },
			dest:  rect{1820, 100, 100, 100},
			src:   rect{0, 0, 100, 100},
		},
		"scaled off the bottom": {
			node: func() *kms.PaintNode {
				n := gpuNode("view", 100, 1030, 200, 100)
				n.Buffer.Width, n.Buffer.Height = 400, 200
				return n
			}(),
			plane: func(r *rig) *kms.Plane { return r.overlays[0] },
			dest:  rect{100, 1030, 200, 50},
			src:   rect{0, 0, 400, 100},
		},
	}
	for name, c := range cases {
		r := newRig(t, hardware(), kmssim.Rules{}, layout{overlays: 1})
		nodes := []*kms.PaintNode{c.node}
		if c.plane(r) != r.primary {
			nodes = append(nodes, fullscreen("client"))
		}
		state := r.frame(t, nodes...)

		ps := state.NodeState(c.node)
		if ps == nil || ps.Plane != c.plane(r) {
			t.Errorf("%s: view should be on %s, got %+v (%s)", name, c.plane(r), c.node.Target, c.node.Reasons)
			continue
		}
		dest := rect{uint32(ps.DestX), uint32(ps.DestY), ps.DestW, ps.DestH}
		src := rect{ps.SrcX >> 16, ps.SrcY >> 16, ps.SrcW >> 16, ps.SrcH >> 16}
		if dest != c.dest {
			t.Errorf("%s: expected destination %v, got %v", name, c.dest, dest)
		}
		if src != c.src {
			t.Errorf("%s: expected source %v, got %v", name, c.src, src)
		}
	}
}
