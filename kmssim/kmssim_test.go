package kmssim_test

import (
	"errors"
	"image"
	"testing"

	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/kmssim"
	"github.com/mstarongithub/w2g-planes/region"
)

type sim struct {
	dev     *kms.Device
	drv     *kmssim.Driver
	prov    *kmssim.Provider
	out     *kms.Output
	overlay *kms.Plane
}

func newSim(t *testing.T) *sim {
	t.Helper()
	s := &sim{drv: kmssim.NewDriver(kmssim.Rules{}), prov: kmssim.NewProvider()}
	s.dev = kms.NewDevice(s.drv, s.prov, kmssim.NewAllocator(), kms.Caps{GPUInterop: true})
	primary := s.dev.AddPlane(kms.Plane{
		ID:      1,
		Type:    kms.PlanePrimary,
		Formats: kms.NewFormatSet(kms.FormatXRGB8888),
	})
	s.overlay = s.dev.AddPlane(kms.Plane{
		ID:       2,
		Type:     kms.PlaneOverlay,
		Formats:  kms.NewFormatSet(kms.FormatXRGB8888, kms.FormatNV12),
		ZposMin:  1,
		ZposMax:  3,
		AlphaMin: 0,
		AlphaMax: kms.AlphaOpaque,
	})
	out, err := s.dev.AddOutput(kms.OutputConfig{Name: "sim-1", Width: 1280, Height: 720, Primary: primary})
	if err != nil {
		t.Fatalf("Failed to add output: %s", err)
	}
	s.out = out
	return s
}

func node(id string, rect image.Rectangle, bufW, bufH int) *kms.PaintNode {
	return &kms.PaintNode{
		ID:       id,
		Visible:  region.New(rect),
		Opaque:   region.New(rect),
		Geometry: rect,
		Alpha:    1,
		Buffer: &kms.Buffer{
			Kind:     kms.BufferGPU,
			Width:    bufW,
			Height:   bufH,
			Format:   kms.FormatXRGB8888,
			Modifier: kms.ModifierInvalid,
		},
	}
}

// planesOnly assigns a scaled popup over a fullscreen client, which fits the planes as long as no rule is set
func (s *sim) planesOnly(t *testing.T) *kms.PendingState {
	t.Helper()
	pending := s.dev.NewPendingState()
	popup := node("popup", image.Rect(100, 100, 400, 300), 150, 100)
	client := node("client", image.Rect(0, 0, 1280, 720), 1280, 720)
	state := s.out.AssignPlanes(pending, []*kms.PaintNode{popup, client})
	if state.Mode != kms.ModePlanesOnly {
		t.Fatalf("Expected planes only, got %s", state.Mode)
	}
	if popup.Target.Plane != s.overlay {
		t.Fatalf("Popup should be on the overlay, got %+v", popup.Target)
	}
	return pending
}

func TestRulesRejectState(t *testing.T) {
	tests := map[string]kmssim.Rules{
		"too many planes": {MaxActivePlanes: 1},
		"rejected format": {RejectFormats: []string{"XR24"}},
		"over bandwidth":  {MaxBandwidth: 1280 * 720},
		"overlay scaling": {NoOverlayScaling: true},
		"forced failure":  {FailTests: 1},
	}
	for name, rules := range tests {
		s := newSim(t)
		pending := s.planesOnly(t)
		s.drv.Rules = rules
		if err := s.drv.Test(pending); !errors.Is(err, kms.ErrTestFailed) {
			t.Errorf("%s: expected ErrTestFailed, got %v", name, err)
		}
		pending.Destroy()
	}
}

func TestCommitCounts(t *testing.T) {
	s := newSim(t)
	pending := s.planesOnly(t)
	tests := s.drv.Tests
	if tests == 0 {
		t.Errorf("Planes only state should have been tested")
	}
	if err := s.dev.Commit(pending); err != nil {
		t.Fatalf("Commit failed: %s", err)
	}
	if s.drv.Commits != 1 || s.drv.Tests != tests {
		t.Errorf("Expected one commit and no extra test, got %d and %d", s.drv.Commits, s.drv.Tests)
	}
}

func TestProviderReasons(t *testing.T) {
	s := newSim(t)
	s.prov.MaxWidth, s.prov.MaxHeight = 4096, 4096
	s.prov.FailImport = []string{"broken"}

	pixels := node("pixels", image.Rect(0, 0, 10, 10), 10, 10)
	pixels.Buffer.Kind = kms.BufferPixels
	huge := node("huge", image.Rect(0, 0, 10, 10), 8192, 10)
	broken := node("broken", image.Rect(0, 0, 10, 10), 10, 10)
	odd := node("odd", image.Rect(0, 0, 10, 10), 10, 10)
	odd.Buffer.Format = kms.FormatRGB565

	tests := []struct {
		node *kms.PaintNode
		want kms.FailureReasons
	}{
		{pixels, kms.ReasonBufferType},
		{huge, kms.ReasonBufferTooBig},
		{broken, kms.ReasonAddFBFailed},
		{odd, kms.ReasonFormatIncompatible | kms.ReasonModifierInvalid},
	}
	for _, tt := range tests {
		fb, reasons := s.prov.FramebufferFor(tt.node, s.out)
		if fb != nil || reasons != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.node.ID, tt.want, reasons)
		}
	}

	fb, reasons := s.prov.FramebufferFor(node("ok", image.Rect(0, 0, 10, 10), 10, 10), s.out)
	if fb == nil || !reasons.Empty() {
		t.Fatalf("Importing an XR24 buffer should work, got %s", reasons)
	}
	if s.prov.Live() != 1 {
		t.Errorf("Expected one live framebuffer, got %d", s.prov.Live())
	}
	fb.Unref()
	if s.prov.Live() != 0 {
		t.Errorf("Released framebuffer still counted")
	}
}

func TestAllocator(t *testing.T) {
	a := kmssim.NewAllocator()
	bo, err := a.Allocate(64, 64, kms.FormatARGB8888, nil)
	if err != nil {
		t.Fatalf("Allocation failed: %s", err)
	}
	if _, err := a.Handle(bo); err != nil {
		t.Errorf("Handle of a live buffer failed: %s", err)
	}
	a.Destroy(bo)
	if _, err := a.Handle(bo); err == nil {
		t.Errorf("Destroyed buffer should have no handle")
	}
	a.Fail = true
	if _, err := a.Allocate(64, 64, kms.FormatARGB8888, nil); err == nil {
		t.Errorf("Allocation should fail")
	}
	if a.Live() != 0 {
		t.Errorf("Expected no live buffers, got %d", a.Live())
	}
}
