// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import "strings"

// FailureReasons collects why a paint node could not be put on a hardware plane.
// Reasons accumulate over every attempt of a repaint and are reset at the start of the next one
type FailureReasons uint32

const ReasonNone FailureReasons = 0

const (
	ReasonForceRenderer FailureReasons = 1 << iota
	ReasonFormatIncompatible
	ReasonModifierInvalid
	ReasonAddFBFailed
	ReasonNoPlanesAvailable
	ReasonPlanesRejected
	ReasonContentProtection
	ReasonIncompatibleTransform
	ReasonNoBuffer
	ReasonBufferTooBig
	ReasonBufferType
	ReasonGlobalAlpha
	ReasonNoAllocator
	ReasonColorTransform
	ReasonSolidSurface
	ReasonOccludedByRenderer
	ReasonColorEffect
	ReasonNoFenceSupport
	ReasonPlanesDisabled
	ReasonNoCandidatePlanes
)

var reasonNames = []struct {
	reason FailureReasons
	name   string
}{
	{ReasonForceRenderer, "force-renderer"},
	{ReasonFormatIncompatible, "format-incompatible"},
	{ReasonModifierInvalid, "modifier-invalid"},
	{ReasonAddFBFailed, "add-fb-failed"},
	{ReasonNoPlanesAvailable, "no-planes-available"},
	{ReasonPlanesRejected, "planes-rejected"},
	{ReasonContentProtection, "content-protection"},
	{ReasonIncompatibleTransform, "incompatible-transform"},
	{ReasonNoBuffer, "no-buffer"},
	{ReasonBufferTooBig, "buffer-too-big"},
	{ReasonBufferType, "buffer-type"},
	{ReasonGlobalAlpha, "global-alpha"},
	{ReasonNoAllocator, "no-allocator"},
	{ReasonColorTransform, "color-transform"},
	{ReasonSolidSurface, "solid-surface"},
	{ReasonOccludedByRenderer, "occluded-by-renderer"},
	{ReasonColorEffect, "color-effect"},
	{ReasonNoFenceSupport, "no-fence-support"},
	{ReasonPlanesDisabled, "planes-disabled"},
	{ReasonNoCandidatePlanes, "no-candidate-planes"},
}

// Has reports whether every reason in r is set
func (f FailureReasons) Has(r FailureReasons) bool {
	return r != ReasonNone && f&r == r
}

func (f FailureReasons) Empty() bool {
	return f == ReasonNone
}

func (f FailureReasons) String() string {
	if f == ReasonNone {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// Names returns the name of every reason set, in bit order
func (f FailureReasons) Names() []string {
	var names []string
	for _, rn := range reasonNames {
		if f&rn.reason != 0 {
			names = append(names, rn.name)
		}
	}
	return names
}
