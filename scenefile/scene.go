// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package scenefile describes display hardware and what is shown on it in YAML,
// for running plane assignment without a compositor
package scenefile

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"

	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/kmssim"
	"gopkg.in/yaml.v3"
)

var ErrUnknownPlane = errors.New("unknown plane")

type Scene struct {
	// Number of frames the tool runs. Defaults to 1
	Frames  int          `yaml:"frames"`
	Device  DeviceSpec   `yaml:"device"`
	Outputs []OutputSpec `yaml:"outputs"`
}

type DeviceSpec struct {
	Caps     CapsSpec     `yaml:"caps"`
	Rules    kmssim.Rules `yaml:"rules"`
	Provider ProviderSpec `yaml:"provider"`
	// Run without a buffer allocator, like a device without GPU access
	NoAllocator bool        `yaml:"no_allocator"`
	Planes      []PlaneSpec `yaml:"planes"`
}

type CapsSpec struct {
	Underlays      bool `yaml:"underlays"`
	CursorBroken   bool `yaml:"cursor_broken"`
	SpritesBroken  bool `yaml:"sprites_broken"`
	PlanesDisabled bool `yaml:"planes_disabled"`
	AsyncFlip      bool `yaml:"async_flip"`
	// Defaults to true
	GPUInterop   *bool `yaml:"gpu_interop"`
	CursorWidth  int   `yaml:"cursor_width"`
	CursorHeight int   `yaml:"cursor_height"`
}

type ProviderSpec struct {
	FailImport []string `yaml:"fail_import"`
	MaxWidth   int      `yaml:"max_width"`
	MaxHeight  int      `yaml:"max_height"`
}

type PlaneSpec struct {
	ID   uint32 `yaml:"id"`
	Type string `yaml:"type"`
	// Four character codes
	Formats []string `yaml:"formats"`
	// [min, max]
	Zpos []uint64 `yaml:"zpos"`
	// [min, max], opaque only if absent
	Alpha      []uint16 `yaml:"alpha"`
	Transforms []string `yaml:"transforms"`
	InFence    bool     `yaml:"in_fence"`
	// Output indices the plane can be used on, all if empty
	Outputs []int `yaml:"outputs"`
}

type OutputSpec struct {
	Name        string `yaml:"name"`
	Index       int    `yaml:"index"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Format      string `yaml:"format"`
	Virtual     bool   `yaml:"virtual"`
	ColorEffect bool   `yaml:"color_effect"`
	// on, standby, suspend or off. Defaults to on
	Power   string `yaml:"power"`
	Primary uint32 `yaml:"primary"`
	Cursor  uint32 `yaml:"cursor"`
	// Stage a writeback capture for the first frame
	Capture bool `yaml:"capture"`
	// Top to bottom
	Views []ViewSpec `yaml:"views"`
}

type ViewSpec struct {
	ID string `yaml:"id"`
	// [x, y, width, height] in output coordinates
	Rect []int `yaml:"rect"`
	// [x, y, width, height] in buffer coordinates, whole buffer if absent
	Source []int `yaml:"source"`
	// Defaults to 1
	Alpha *float32 `yaml:"alpha"`
	// Defaults to whether the buffer has no alpha channel
	Opaque             *bool      `yaml:"opaque"`
	Transform          string     `yaml:"transform"`
	Buffer             BufferSpec `yaml:"buffer"`
	Fence              bool       `yaml:"fence"`
	Censored           bool       `yaml:"censored"`
	Tearing            bool       `yaml:"tearing"`
	Cursor             bool       `yaml:"cursor"`
	ArbitraryTransform bool       `yaml:"arbitrary_transform"`
	// identity, pipeline or invalid
	ColorTransform string `yaml:"color_transform"`
}

type BufferSpec struct {
	// none, pixels, gpu or solid
	Kind string `yaml:"kind"`
	// Default to the view size
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Format string `yaml:"format"`
	// linear, invalid or a number
	Modifier string `yaml:"modifier"`
	// [r, g, b, a] of a solid buffer
	Color []float32 `yaml:"color"`
}

// Load reads a scene from a YAML file
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene %s: %w", path, err)
	}
	scene, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing scene %s: %w", path, err)
	}
	return scene, nil
}

func Parse(data []byte) (*Scene, error) {
	scene := &Scene{}
	if err := yaml.Unmarshal(data, scene); err != nil {
		return nil, err
	}
	if scene.Frames <= 0 {
		scene.Frames = 1
	}
	if len(scene.Outputs) == 0 {
		return nil, errors.New("scene has no outputs")
	}
	return scene, nil
}

func (p PlaneSpec) plane() (kms.Plane, error) {
	plane := kms.Plane{
		ID:      p.ID,
		Formats: kms.FormatSet{},
		InFence: p.InFence,
	}
	switch p.Type {
	case "primary":
		plane.Type = kms.PlanePrimary
	case "overlay", "":
		plane.Type = kms.PlaneOverlay
	case "cursor":
		plane.Type = kms.PlaneCursor
	default:
		return plane, fmt.Errorf("plane %d: unknown type %q", p.ID, p.Type)
	}
	for _, code := range p.Formats {
		f, err := kms.ParseFormat(code)
		if err != nil {
			return plane, fmt.Errorf("plane %d: %w", p.ID, err)
		}
		plane.Formats[f] = nil
	}
	switch len(p.Zpos) {
	case 0:
	case 1:
		plane.ZposMin, plane.ZposMax = p.Zpos[0], p.Zpos[0]
	case 2:
		plane.ZposMin, plane.ZposMax = p.Zpos[0], p.Zpos[1]
	default:
		return plane, fmt.Errorf("plane %d: zpos takes a minimum and a maximum", p.ID)
	}
	if plane.ZposMin > plane.ZposMax {
		return plane, fmt.Errorf("plane %d: zpos range %d-%d is empty", p.ID, plane.ZposMin, plane.ZposMax)
	}
	if len(p.Alpha) == 2 {
		plane.AlphaMin, plane.AlphaMax = p.Alpha[0], p.Alpha[1]
	}
	for _, name := range p.Transforms {
		t, err := kms.ParseTransform(name)
		if err != nil {
			return plane, fmt.Errorf("plane %d: %w", p.ID, err)
		}
		plane.Transforms |= kms.TransformsOf(t)
	}
	for _, i := range p.Outputs {
		plane.PossibleOutputs |= 1 << uint(i)
	}
	return plane, nil
}

func rect(values []int, what string) (image.Rectangle, error) {
	if len(values) != 4 {
		return image.Rectangle{}, fmt.Errorf("%s needs x, y, width and height", what)
	}
	return image.Rect(values[0], values[1], values[0]+values[2], values[1]+values[3]), nil
}

func (v ViewSpec) node() (*kms.PaintNode, error) {
	geometry, err := rect(v.Rect, "view "+v.ID+" rect")
	if err != nil {
		return nil, err
	}
	node := &kms.PaintNode{
		ID:                 v.ID,
		Geometry:           geometry,
		Alpha:              1,
		Censored:           v.Censored,
		TearingAllowed:     v.Tearing,
		CursorLayer:        v.Cursor,
		ArbitraryTransform: v.ArbitraryTransform,
	}
	if v.Alpha != nil {
		node.Alpha = *v.Alpha
	}
	if v.Source != nil {
		if node.Source, err = rect(v.Source, "view "+v.ID+" source"); err != nil {
			return nil, err
		}
	}
	if v.Transform != "" {
		if node.Transform, err = kms.ParseTransform(v.Transform); err != nil {
			return nil, fmt.Errorf("view %s: %w", v.ID, err)
		}
	}
	switch v.ColorTransform {
	case "", "identity":
	case "pipeline":
		node.ColorTransform = kms.ColorTransformPipeline
	case "invalid":
		node.ColorTransform = kms.ColorTransformInvalid
	default:
		return nil, fmt.Errorf("view %s: unknown color transform %q", v.ID, v.ColorTransform)
	}
	if v.Fence {
		node.AcquireFence = &kms.Fence{FD: -1}
	}

	node.Buffer, err = v.Buffer.buffer(geometry)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", v.ID, err)
	}
	opaque := opaqueByDefault(node.Buffer)
	if v.Opaque != nil {
		opaque = *v.Opaque
	}
	if opaque {
		node.Opaque = node.Opaque.UnionRect(geometry)
	}
	return node, nil
}

func opaqueByDefault(b *kms.Buffer) bool {
	switch b.Kind {
	case kms.BufferSolid:
		return b.Color.A >= 1
	case kms.BufferPixels, kms.BufferGPU:
		return !b.Format.HasAlpha()
	default:
		return false
	}
}

func (b BufferSpec) buffer(geometry image.Rectangle) (*kms.Buffer, error) {
	buf := &kms.Buffer{
		Width:    b.Width,
		Height:   b.Height,
		Format:   kms.FormatXRGB8888,
		Modifier: kms.ModifierInvalid,
	}
	if buf.Width == 0 {
		buf.Width = geometry.Dx()
	}
	if buf.Height == 0 {
		buf.Height = geometry.Dy()
	}
	switch b.Kind {
	case "none":
		buf.Kind = kms.BufferNone
	case "pixels":
		buf.Kind = kms.BufferPixels
		buf.Format = kms.FormatARGB8888
	case "gpu", "":
		buf.Kind = kms.BufferGPU
	case "solid":
		buf.Kind = kms.BufferSolid
		if len(b.Color) != 4 {
			return nil, errors.New("solid buffer needs a color as [r, g, b, a]")
		}
		buf.Color = kms.Color{R: b.Color[0], G: b.Color[1], B: b.Color[2], A: b.Color[3]}
	default:
		return nil, fmt.Errorf("unknown buffer kind %q", b.Kind)
	}
	if b.Format != "" {
		f, err := kms.ParseFormat(b.Format)
		if err != nil {
			return nil, err
		}
		buf.Format = f
	}
	switch b.Modifier {
	case "", "invalid":
	case "linear":
		buf.Modifier = kms.ModifierLinear
	default:
		mod, err := strconv.ParseUint(b.Modifier, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad modifier %q: %w", b.Modifier, err)
		}
		buf.Modifier = kms.Modifier(mod)
	}
	return buf, nil
}
