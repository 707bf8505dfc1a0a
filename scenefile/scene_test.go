package scenefile

import (
	"errors"
	"image"
	"testing"

	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/region"
)

func load(t *testing.T, path string) *Built {
	t.Helper()
	scene, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load %s: %s", path, err)
	}
	built, err := scene.Build()
	if err != nil {
		t.Fatalf("Failed to build %s: %s", path, err)
	}
	return built
}

func TestParseDefaults(t *testing.T) {
	scene, err := Parse([]byte(`
outputs:
  - {name: a, width: 800, height: 600, primary: 1}
`))
	if err != nil {
		t.Fatalf("Failed to parse: %s", err)
	}
	if scene.Frames != 1 {
		t.Errorf("Expected one frame by default, got %d", scene.Frames)
	}
	if !scene.Device.Caps.caps().GPUInterop {
		t.Errorf("GPU interop should default to on")
	}
}

func TestParseNoOutputs(t *testing.T) {
	if _, err := Parse([]byte("frames: 2\n")); err == nil {
		t.Errorf("Scene without outputs should fail")
	}
}

func TestBuildUnknownPlane(t *testing.T) {
	scene, err := Parse([]byte(`
device:
  planes:
    - {id: 1, type: primary, formats: [XR24]}
outputs:
  - {name: a, width: 800, height: 600, primary: 1, cursor: 9}
`))
	if err != nil {
		t.Fatalf("Failed to parse: %s", err)
	}
	if _, err := scene.Build(); !errors.Is(err, ErrUnknownPlane) {
		t.Errorf("Expected ErrUnknownPlane, got %v", err)
	}
}

func TestBuildBadPlane(t *testing.T) {
	tests := map[string]string{
		"unknown type":  "{id: 1, type: sprite}",
		"empty zpos":    "{id: 1, zpos: [4, 2]}",
		"bad transform": "{id: 1, transforms: [sideways]}",
	}
	for name, plane := range tests {
		scene, err := Parse([]byte("device:\n  planes:\n    - " + plane + "\noutputs:\n  - {width: 10, height: 10, primary: 1}\n"))
		if err != nil {
			t.Errorf("%s: failed to parse: %s", name, err)
			continue
		}
		if _, err := scene.Build(); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestViewDefaults(t *testing.T) {
	node, err := ViewSpec{ID: "v", Rect: []int{10, 20, 100, 50}}.node()
	if err != nil {
		t.Fatalf("Failed to build node: %s", err)
	}
	if node.Geometry != image.Rect(10, 20, 110, 70) {
		t.Errorf("Unexpected geometry %v", node.Geometry)
	}
	if node.Buffer.Kind != kms.BufferGPU || node.Buffer.Width != 100 || node.Buffer.Height != 50 {
		t.Errorf("Expected a view sized gpu buffer, got %+v", node.Buffer)
	}
	if !node.Opaque.ContainsRect(node.Geometry) {
		t.Errorf("XR24 view should be opaque")
	}

	solid, err := ViewSpec{ID: "s", Rect: []int{0, 0, 10, 10}, Buffer: BufferSpec{Kind: "solid", Color: []float32{0, 0, 0, 0.5}}}.node()
	if err != nil {
		t.Fatalf("Failed to build node: %s", err)
	}
	if !solid.Opaque.Empty() {
		t.Errorf("Translucent solid should not be opaque")
	}
	if _, err := (ViewSpec{ID: "bad", Rect: []int{0, 0}}).node(); err == nil {
		t.Errorf("Short rect should fail")
	}
}

func TestResolveVisibility(t *testing.T) {
	top := &kms.PaintNode{ID: "top", Geometry: image.Rect(0, 0, 100, 100), Alpha: 1, Opaque: region.Rect(0, 0, 100, 100)}
	faded := &kms.PaintNode{ID: "faded", Geometry: image.Rect(50, 0, 150, 100), Alpha: 0.5, Opaque: region.Rect(50, 0, 100, 100)}
	bottom := &kms.PaintNode{ID: "bottom", Geometry: image.Rect(0, 0, 300, 300), Alpha: 1}
	ResolveVisibility([]*kms.PaintNode{top, faded, bottom}, image.Rect(0, 0, 200, 200))

	if !top.Visible.Equal(region.Rect(0, 0, 100, 100)) {
		t.Errorf("Top should be fully visible, got %s", top.Visible)
	}
	if !faded.Visible.Equal(region.Rect(100, 0, 50, 100)) {
		t.Errorf("Faded should be cut by top, got %s", faded.Visible)
	}
	want := region.Rect(0, 0, 200, 200).SubtractRect(image.Rect(0, 0, 100, 100))
	if !bottom.Visible.Equal(want) {
		t.Errorf("Translucent faded must not occlude, got %s", bottom.Visible)
	}
}

func TestRunCursorScene(t *testing.T) {
	built := load(t, "testdata/cursor.yaml")
	report, err := built.RunFrame()
	if err != nil {
		t.Fatalf("Frame failed: %s", err)
	}
	if !built.Done() {
		t.Errorf("Scene has a single frame")
	}
	out := report.Outputs[0]
	if out.Mode != kms.ModePlanesOnly.String() {
		t.Errorf("Expected planes only, got %s", out.Mode)
	}
	pointer, client := out.Views[0], out.Views[1]
	if pointer.Plane != 50 || pointer.ZeroCopy {
		t.Errorf("Pointer should be copied to the cursor plane, got %+v", pointer)
	}
	if client.Plane != 31 || !client.ZeroCopy {
		t.Errorf("Client should be scanned out, got %+v", client)
	}
	if pointer.Zpos <= client.Zpos {
		t.Errorf("Pointer has to stack above the client")
	}
	if out.Planes != 2 {
		t.Errorf("Expected two active planes, got %d", out.Planes)
	}
}

func TestRunMixedScene(t *testing.T) {
	built := load(t, "testdata/mixed.yaml")
	first, err := built.RunFrame()
	if err != nil {
		t.Fatalf("First frame failed: %s", err)
	}
	if first.Outputs[0].Mode != kms.ModeRendererAndCursor.String() {
		t.Errorf("First frame has nothing to carry forward, got %s", first.Outputs[0].Mode)
	}
	if built.Done() {
		t.Fatalf("Scene has two frames")
	}
	second, err := built.RunFrame()
	if err != nil {
		t.Fatalf("Second frame failed: %s", err)
	}
	out := second.Outputs[0]
	if out.Mode != kms.ModeMixed.String() {
		t.Fatalf("Expected mixed, got %s", out.Mode)
	}
	video, popup := out.Views[0], out.Views[1]
	if !video.Renderer || len(video.Reasons) == 0 {
		t.Errorf("Video should be composited with a reason, got %+v", video)
	}
	if popup.Plane != 40 {
		t.Errorf("Popup should be on the overlay, got %+v", popup)
	}
	if second.Frame != 2 || second.Tests < first.Tests {
		t.Errorf("Unexpected report counters %d %d", second.Frame, second.Tests)
	}
}

func TestRunCaptureScene(t *testing.T) {
	built := load(t, "testdata/capture.yaml")
	out := built.Output("sim-1")
	if out == nil || out.Capture == nil {
		t.Fatalf("Output should have a staged capture")
	}
	report, err := built.RunFrame()
	if err != nil {
		t.Fatalf("Frame failed: %s", err)
	}
	if report.Outputs[0].Writeback {
		t.Errorf("Frame should not write back")
	}
	if cancelled, _ := out.Capture.Cancelled(); !cancelled {
		t.Errorf("Capture should be cancelled")
	}
	if built.Output("nope") != nil {
		t.Errorf("Unknown output should not be found")
	}
}

func TestPowerMode(t *testing.T) {
	build := func(power string) (*Built, error) {
		scene, err := Parse([]byte(`
device:
  planes:
    - {id: 1, type: primary, formats: [XR24]}
outputs:
  - name: a
    width: 800
    height: 600
    primary: 1
    power: ` + power + `
    views:
      - {id: client, rect: [0, 0, 800, 600]}
`))
		if err != nil {
			t.Fatalf("Failed to parse: %s", err)
		}
		return scene.Build()
	}

	if _, err := build("dim"); err == nil {
		t.Errorf("Unknown power mode should fail")
	}
	built, err := build("off")
	if err != nil {
		t.Fatalf("Failed to build: %s", err)
	}
	report, err := built.RunFrame()
	if err != nil {
		t.Fatalf("Frame failed: %s", err)
	}
	out := report.Outputs[0]
	if out.Power != "off" || out.Mode != kms.ModeRendererAndCursor.String() {
		t.Errorf("Dark output should be composited, got %s in %s", out.Mode, out.Power)
	}
	if out.Views[0].Plane != 0 {
		t.Errorf("Client should not be on a plane, got %+v", out.Views[0])
	}
}
