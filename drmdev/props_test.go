package drmdev

import (
	"errors"
	"testing"

	"github.com/mstarongithub/w2g-planes/kms"
)

func baseProps(planeType uint64) props {
	return props{
		"type":    {ID: 1, Value: planeType},
		"FB_ID":   {ID: 2},
		"CRTC_ID": {ID: 3},
	}
}

func TestPlaneTypes(t *testing.T) {
	tests := []struct {
		value uint64
		want  kms.PlaneType
		zpos  uint64
	}{
		{planeTypePrimary, kms.PlanePrimary, 0},
		{planeTypeOverlay, kms.PlaneOverlay, 1},
		{planeTypeCursor, kms.PlaneCursor, 2},
	}
	for _, tt := range tests {
		plane, err := planeFromProps(10, []uint32{uint32(kms.FormatXRGB8888)}, 1, baseProps(tt.value))
		if err != nil {
			t.Errorf("Unexpected error for type %d: %s", tt.value, err)
			continue
		}
		if plane.Type != tt.want {
			t.Errorf("Type %d gave %s, expected %s", tt.value, plane.Type, tt.want)
		}
		if plane.ZposMin != tt.zpos || plane.ZposMax != tt.zpos {
			t.Errorf("%s without zpos property should sit at %d, got %d-%d", plane.Type, tt.zpos, plane.ZposMin, plane.ZposMax)
		}
		if !plane.Formats.Supports(kms.FormatXRGB8888, kms.ModifierLinear) {
			t.Errorf("Advertised format missing")
		}
		if plane.AlphaMin != kms.AlphaOpaque || plane.AlphaMax != kms.AlphaOpaque {
			t.Errorf("Plane without alpha property should be opaque only")
		}
	}
}

func TestPlaneProperties(t *testing.T) {
	p := baseProps(planeTypeOverlay)
	p["zpos"] = prop{ID: 4, Values: []uint64{1, 5}}
	p["alpha"] = prop{ID: 5, Values: []uint64{0, 0xffff}}
	p["rotation"] = prop{ID: 6, Enums: map[string]uint64{"rotate-0": 0, "rotate-180": 2, "reflect-x": 4}}
	p["IN_FENCE_FD"] = prop{ID: 7}

	plane, err := planeFromProps(11, nil, 3, p)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if plane.ZposMin != 1 || plane.ZposMax != 5 {
		t.Errorf("Expected zpos 1-5, got %d-%d", plane.ZposMin, plane.ZposMax)
	}
	if plane.AlphaMin != 0 || plane.AlphaMax != 0xffff {
		t.Errorf("Expected full alpha range")
	}
	if !plane.InFence {
		t.Errorf("Plane should take in-fences")
	}
	for _, tr := range []kms.Transform{kms.TransformNormal, kms.Transform180, kms.TransformFlipped, kms.TransformFlipped180} {
		if !plane.Transforms.Has(tr) {
			t.Errorf("Transform %s should be supported", tr)
		}
	}
	if plane.Transforms.Has(kms.Transform90) {
		t.Errorf("Transform 90 should not be supported")
	}
	if plane.PossibleOutputs != 3 {
		t.Errorf("Possible outputs not carried over")
	}
}

func TestMissingType(t *testing.T) {
	p := baseProps(planeTypeOverlay)
	delete(p, "type")
	if _, err := planeFromProps(12, nil, 1, p); !errors.Is(err, ErrMissingProperty) {
		t.Errorf("Expected ErrMissingProperty, got %v", err)
	}
}

func TestRotationValue(t *testing.T) {
	enums := map[string]uint64{"rotate-0": 0, "rotate-90": 1, "reflect-x": 4}
	if v, ok := rotationValue(kms.Transform90, enums); !ok || v != 1<<1 {
		t.Errorf("Rotate 90 should be bit 1, got %b", v)
	}
	if v, ok := rotationValue(kms.TransformFlipped, enums); !ok || v != 1|1<<4 {
		t.Errorf("Flipped should be rotate-0 and reflect-x, got %b", v)
	}
	if _, ok := rotationValue(kms.Transform270, enums); ok {
		t.Errorf("Rotate 270 isn't supported")
	}
}

func TestPlaneWriter(t *testing.T) {
	p := baseProps(planeTypePrimary)
	w := planeWriter{plane: 20, props: p}
	w.set("FB_ID", 0)
	w.set("CRTC_ID", 0)
	if w.err != nil || len(w.atomic) != 2 {
		t.Errorf("Disabling a plane should write two properties, got %d (%v)", len(w.atomic), w.err)
	}
	w.set("SRC_X", 0)
	if !errors.Is(w.err, ErrMissingProperty) {
		t.Errorf("Writing an unknown property should fail, got %v", w.err)
	}
}
