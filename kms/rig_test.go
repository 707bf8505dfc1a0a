package kms_test

import (
	"image"
	"testing"

	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/kmssim"
	"github.com/mstarongithub/w2g-planes/region"
)

const (
	outputWidth  = 1920
	outputHeight = 1080
)

type layout struct {
	// Planes below the scanout plane
	underlays int
	overlays int
}

// rig is a simulated device with one output
type rig struct {
	dev   *kms.Device
	drv   *kmssim.Driver
	prov  *kmssim.Provider
	alloc *kmssim.Allocator
	out   *kms.Output

	primary, cursor     *kms.Plane
	underlays, overlays []*kms.Plane
}

func newRig(t *testing.T, caps kms.Caps, rules kmssim.Rules, l layout) *rig {
	t.Helper()
	r := &rig{
		drv:   kmssim.NewDriver(rules),
		prov:  kmssim.NewProvider(),
		alloc: kmssim.NewAllocator(),
	}
	r.dev = kms.NewDevice(r.drv, r.prov, r.alloc, caps)

	var z uint64
	format := kms.FormatXRGB8888
	for i := 0; i < l.underlays; i++ {
		r.underlays = append(r.underlays, r.dev.AddPlane(kms.Plane{
			ID:       uint32(20 + i),
			Type:     kms.PlaneOverlay,
			Formats:  kms.NewFormatSet(kms.FormatXRGB8888, kms.FormatARGB8888),
			ZposMin:  0,
			ZposMax:  uint64(l.underlays),
			AlphaMin: 0,
			AlphaMax: kms.AlphaOpaque,
		}))
		z = uint64(l.underlays) + 1
		format = kms.FormatARGB8888
	}
	r.primary = r.dev.AddPlane(kms.Plane{
		ID:      31,
		Type:    kms.PlanePrimary,
		Formats: kms.NewFormatSet(kms.FormatXRGB8888, kms.FormatARGB8888),
		ZposMin: z,
		ZposMax: z,
	})
	for i := 0; i < l.overlays; i++ {
		r.overlays = append(r.overlays, r.dev.AddPlane(kms.Plane{
			ID:       uint32(40 + i),
			Type:     kms.PlaneOverlay,
			Formats:  kms.NewFormatSet(kms.FormatXRGB8888, kms.FormatARGB8888, kms.FormatNV12),
			ZposMin:  z + 1,
			ZposMax:  z + 5,
			AlphaMin: 0,
			AlphaMax: kms.AlphaOpaque,
		}))
	}
	r.cursor = r.dev.AddPlane(kms.Plane{
		ID:      50,
		Type:    kms.PlaneCursor,
		Formats: kms.NewFormatSet(kms.FormatARGB8888),
		ZposMin: z + 6,
		ZposMax: z + 6,
	})

	out, err := r.dev.AddOutput(kms.OutputConfig{
		Name:    "sim-1",
		Width:   outputWidth,
		Height:  outputHeight,
		Format:  format,
		Primary: r.primary,
		Cursor:  r.cursor,
	})
	if err != nil {
		t.Fatalf("Failed to add output: %s", err)
	}
	r.out = out
	return r
}

func hardware() kms.Caps {
	return kms.Caps{GPUInterop: true}
}

// frame assigns planes, draws the renderer output if needed and commits
func (r *rig) frame(t *testing.T, nodes ...*kms.PaintNode) *kms.OutputState {
	t.Helper()
	pending := r.dev.NewPendingState()
	state := r.out.AssignPlanes(pending, nodes)
	if state.Mode != kms.ModePlanesOnly {
		fb := r.prov.RendererFramebuffer(r.out)
		state.AttachRendererFB(fb)
		fb.Unref()
	}
	if err := r.dev.Commit(pending); err != nil {
		t.Fatalf("Commit failed: %s", err)
	}
	return state
}

func gpuNode(id string, x, y, w, h int) *kms.PaintNode {
	rect := image.Rect(x, y, x+w, y+h)
	return &kms.PaintNode{
		ID:       id,
		Visible:  region.New(rect),
		Opaque:   region.New(rect),
		Geometry: rect,
		Alpha:    1,
		Buffer: &kms.Buffer{
			Kind:     kms.BufferGPU,
			Width:    w,
			Height:   h,
			Format:   kms.FormatXRGB8888,
			Modifier: kms.ModifierInvalid,
		},
		TearingAllowed: true,
	}
}

func fullscreen(id string) *kms.PaintNode {
	return gpuNode(id, 0, 0, outputWidth, outputHeight)
}

// cursorNode is a translucent 64x64 pointer image
func cursorNode(id string, x, y int) *kms.PaintNode {
	rect := image.Rect(x, y, x+64, y+64)
	return &kms.PaintNode{
		ID:       id,
		Visible:  region.New(rect),
		Geometry: rect,
		Alpha:    1,
		Buffer: &kms.Buffer{
			Kind:   kms.BufferPixels,
			Width:  64,
			Height: 64,
			Format: kms.FormatARGB8888,
		},
		CursorLayer:    true,
		TearingAllowed: true,
	}
}

func solidNode(id string, x, y, w, h int, c kms.Color) *kms.PaintNode {
	rect := image.Rect(x, y, x+w, y+h)
	return &kms.PaintNode{
		ID:       id,
		Visible:  region.New(rect),
		Opaque:   region.New(rect),
		Geometry: rect,
		Alpha:    1,
		Buffer: &kms.Buffer{
			Kind:  kms.BufferSolid,
			Color: c,
		},
		TearingAllowed: true,
	}
}

func zposOf(t *testing.T, state *kms.OutputState, node *kms.PaintNode) uint64 {
	t.Helper()
	ps := state.NodeState(node)
	if ps == nil {
		t.Fatalf("View %s not on a plane", node.ID)
	}
	return ps.Zpos
}
