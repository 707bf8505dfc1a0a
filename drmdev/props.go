// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package drmdev

import (
	"errors"
	"fmt"

	"github.com/mstarongithub/w2g-planes/kms"
)

var ErrMissingProperty = errors.New("object lacks a required property")

// Values of the plane "type" enum
const (
	planeTypeOverlay = 0
	planeTypePrimary = 1
	planeTypeCursor  = 2
)

// prop is one property of a KMS object as read at probe time
type prop struct {
	ID    uint32
	Value uint64
	// Range limits, or the enum/bitmask values by name
	Values []uint64
	Enums  map[string]uint64
}

type props map[string]prop

func (p props) require(names ...string) error {
	for _, name := range names {
		if _, ok := p[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingProperty, name)
		}
	}
	return nil
}

// rotation bitmask names, in the order of the transform they map to
var rotationNames = []string{"rotate-0", "rotate-90", "rotate-180", "rotate-270"}

// planeFromProps builds the plane description from what the kernel reports
func planeFromProps(id uint32, formats []uint32, possibleCrtcs uint32, p props) (kms.Plane, error) {
	if err := p.require("type", "FB_ID", "CRTC_ID"); err != nil {
		return kms.Plane{}, fmt.Errorf("plane %d: %w", id, err)
	}
	plane := kms.Plane{
		ID:              id,
		Formats:         kms.FormatSet{},
		PossibleOutputs: possibleCrtcs,
	}
	for _, f := range formats {
		plane.Formats[kms.Format(f)] = nil
	}

	switch p["type"].Value {
	case planeTypePrimary:
		plane.Type = kms.PlanePrimary
	case planeTypeCursor:
		plane.Type = kms.PlaneCursor
	default:
		plane.Type = kms.PlaneOverlay
	}

	if zpos, ok := p["zpos"]; ok && len(zpos.Values) == 2 {
		plane.ZposMin, plane.ZposMax = zpos.Values[0], zpos.Values[1]
	} else {
		// Without zpos the stacking order is fixed by type
		switch plane.Type {
		case kms.PlanePrimary:
			plane.ZposMin, plane.ZposMax = 0, 0
		case kms.PlaneOverlay:
			plane.ZposMin, plane.ZposMax = 1, 1
		case kms.PlaneCursor:
			plane.ZposMin, plane.ZposMax = 2, 2
		}
	}

	if alpha, ok := p["alpha"]; ok && len(alpha.Values) == 2 {
		plane.AlphaMin, plane.AlphaMax = uint16(alpha.Values[0]), uint16(alpha.Values[1])
	} else {
		plane.AlphaMin, plane.AlphaMax = kms.AlphaOpaque, kms.AlphaOpaque
	}

	plane.Transforms = kms.TransformsOf(kms.TransformNormal)
	if rotation, ok := p["rotation"]; ok {
		plane.Transforms = transformsFromRotation(rotation.Enums)
	}

	_, plane.InFence = p["IN_FENCE_FD"]
	return plane, nil
}

// transformsFromRotation maps the rotation bitmask the plane supports onto output transforms
func transformsFromRotation(enums map[string]uint64) kms.TransformSet {
	var set kms.TransformSet
	_, reflect := enums["reflect-x"]
	for i, name := range rotationNames {
		if _, ok := enums[name]; !ok {
			continue
		}
		set |= kms.TransformsOf(kms.Transform(i))
		if reflect {
			set |= kms.TransformsOf(kms.TransformFlipped + kms.Transform(i))
		}
	}
	if set == 0 {
		set = kms.TransformsOf(kms.TransformNormal)
	}
	return set
}

// rotationValue turns a transform back into the rotation property value
func rotationValue(t kms.Transform, enums map[string]uint64) (uint64, bool) {
	flipped := t >= kms.TransformFlipped
	base := t
	if flipped {
		base -= kms.TransformFlipped
	}
	bit, ok := enums[rotationNames[base]]
	if !ok {
		return 0, false
	}
	value := uint64(1) << bit
	if flipped {
		reflect, ok := enums["reflect-x"]
		if !ok {
			return 0, false
		}
		value |= 1 << reflect
	}
	return value, true
}

// outputIndices turns the possible_crtcs mask of a plane into a mask of output indices.
// Outputs are numbered like the CRTCs they drive, so this is the identity as long as
// every CRTC has an output
func outputIndices(possibleCrtcs uint32, crtcs int) uint32 {
	if crtcs >= 32 {
		return possibleCrtcs
	}
	return possibleCrtcs & (1<<uint(crtcs) - 1)
}
