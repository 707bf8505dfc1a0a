// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"fmt"
	"math"
)

type PlaneType int

const (
	// Scanout plane, also where the renderer output ends up
	PlanePrimary = PlaneType(iota)
	PlaneOverlay
	PlaneCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlanePrimary:
		return "primary"
	case PlaneOverlay:
		return "overlay"
	case PlaneCursor:
		return "cursor"
	default:
		return fmt.Sprintf("plane-type(%d)", int(t))
	}
}

// Transform is an output transform as known from wl_output
type Transform int

const (
	TransformNormal = Transform(iota)
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

var transformNames = []string{"normal", "90", "180", "270", "flipped", "flipped-90", "flipped-180", "flipped-270"}

func (t Transform) String() string {
	if t < 0 || int(t) >= len(transformNames) {
		return fmt.Sprintf("transform(%d)", int(t))
	}
	return transformNames[t]
}

func ParseTransform(name string) (Transform, error) {
	for i, n := range transformNames {
		if n == name {
			return Transform(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transform %q", name)
}

// TransformSet is a bitmask of transforms a plane can apply while scanning out
type TransformSet uint32

func TransformsOf(transforms ...Transform) TransformSet {
	var set TransformSet
	for _, t := range transforms {
		set |= 1 << uint(t)
	}
	return set
}

func (s TransformSet) Has(t Transform) bool {
	return s&(1<<uint(t)) != 0
}

// ZposInvalid marks an unset zpos watermark
const ZposInvalid uint64 = math.MaxUint64

const AlphaOpaque uint16 = 0xffff

// PlaneMask has bit i set for the plane at index i of the device plane list
type PlaneMask uint64

type Plane struct {
	ID   uint32
	Type PlaneType
	// Formats and modifiers the plane can scan out
	Formats FormatSet
	// Inclusive zpos range the plane may be placed at
	ZposMin, ZposMax uint64
	// Plane alpha range. Equal values mean alpha can't be changed
	AlphaMin, AlphaMax uint16
	Transforms         TransformSet
	// Plane accepts an in-fence for explicit synchronisation
	InFence bool
	// Bitmask of output indices this plane can be bound to. Zero means any output
	PossibleOutputs uint32

	index   int
	device  *Device
	current *PlaneState
}

func (p *Plane) Index() int {
	return p.index
}

func (p *Plane) bit() PlaneMask {
	return 1 << uint(p.index)
}

// Current returns the last committed state of the plane
func (p *Plane) Current() *PlaneState {
	return p.current
}

func (p *Plane) fixedAlpha() bool {
	return p.AlphaMin == p.AlphaMax
}

// availableFor reports whether the plane may be used by the given output at all.
// A plane shown on another output stays exclusive to it until that output lets go
func (p *Plane) availableFor(o *Output) bool {
	if p.PossibleOutputs != 0 && p.PossibleOutputs&(1<<uint(o.Index)) == 0 {
		return false
	}
	if p.current != nil && p.current.Output != nil && p.current.Output != o {
		return false
	}
	return true
}

// isUnderlay reports whether the plane sits below the staged scanout plane
func (p *Plane) isUnderlay(scanout *PlaneState) bool {
	if scanout == nil || scanout.FB == nil || p == scanout.Plane {
		return false
	}
	return p.ZposMax < scanout.Zpos
}

func (p *Plane) String() string {
	return fmt.Sprintf("%s plane %d", p.Type, p.ID)
}
