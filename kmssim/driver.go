// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package kmssim is a display driver that lives entirely in memory.
// It checks pending states against a configurable set of hardware limits,
// which makes plane assignment testable without a GPU.
package kmssim

import (
	"fmt"

	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/sirupsen/logrus"
)

// Rules are the hardware limits a simulated driver enforces
type Rules struct {
	// Planes an output may have active at once. 0 means no limit
	MaxActivePlanes int `yaml:"max_active_planes,omitempty" toml:"max_active_planes,omitempty"`
	// States using planes need the scanout plane active, like most CRTCs do
	RequirePrimary bool `yaml:"require_primary,omitempty" toml:"require_primary,omitempty"`
	// Overlay planes can't scale
	NoOverlayScaling bool `yaml:"no_overlay_scaling,omitempty" toml:"no_overlay_scaling,omitempty"`
	// Formats the display engine rejects at commit time although the planes advertise them
	RejectFormats []string `yaml:"reject_formats,omitempty" toml:"reject_formats,omitempty"`
	// Maximum number of destination pixels scanned out by all planes together. 0 means no limit
	MaxBandwidth uint64 `yaml:"max_bandwidth,omitempty" toml:"max_bandwidth,omitempty"`
	// Planes an output may have active while writing back. 0 means no limit
	WritebackMaxPlanes int `yaml:"writeback_max_planes,omitempty" toml:"writeback_max_planes,omitempty"`
	// Output has no writeback connector
	NoWriteback bool `yaml:"no_writeback,omitempty" toml:"no_writeback,omitempty"`
	// Number of upcoming tests to fail no matter what
	FailTests int `yaml:"fail_tests,omitempty" toml:"fail_tests,omitempty"`
}

type Driver struct {
	Rules Rules
	// Number of tests and commits seen so far
	Tests, Commits int

	log *logrus.Entry
}

func NewDriver(rules Rules) *Driver {
	return &Driver{
		Rules: rules,
		log:   logrus.WithField("component", "kmssim"),
	}
}

func (d *Driver) Test(pending *kms.PendingState) error {
	d.Tests++
	if d.Rules.FailTests > 0 {
		d.Rules.FailTests--
		return fmt.Errorf("%w: forced failure", kms.ErrTestFailed)
	}
	if err := d.check(pending); err != nil {
		d.log.WithError(err).Debugln("Rejected state")
		return err
	}
	return nil
}

func (d *Driver) Commit(pending *kms.PendingState) error {
	if err := d.check(pending); err != nil {
		return err
	}
	d.Commits++
	return nil
}

func (d *Driver) check(pending *kms.PendingState) error {
	owners := map[*kms.Plane]*kms.Output{}
	var bandwidth uint64

	for _, s := range pending.OutputStates() {
		active := s.ActivePlanes()
		if d.Rules.MaxActivePlanes > 0 && len(active) > d.Rules.MaxActivePlanes {
			return fmt.Errorf("%w: %s uses %d planes, at most %d allowed", kms.ErrTestFailed, s.Output.Name, len(active), d.Rules.MaxActivePlanes)
		}
		if s.Writeback && d.Rules.NoWriteback {
			return fmt.Errorf("%w: %s can't write back", kms.ErrTestFailed, s.Output.Name)
		}
		if s.Writeback && d.Rules.WritebackMaxPlanes > 0 && len(active) > d.Rules.WritebackMaxPlanes {
			return fmt.Errorf("%w: %s writes back with %d planes", kms.ErrTestFailed, s.Output.Name, len(active))
		}
		if d.Rules.RequirePrimary && len(active) > 0 && !scanningOut(s) {
			return fmt.Errorf("%w: %s has no scanout plane", kms.ErrTestFailed, s.Output.Name)
		}

		for _, ps := range active {
			if other, ok := owners[ps.Plane]; ok && other != s.Output {
				return fmt.Errorf("%w: %s bound to %s and %s", kms.ErrTestFailed, ps.Plane, other.Name, s.Output.Name)
			}
			owners[ps.Plane] = s.Output
			if err := d.checkPlane(ps); err != nil {
				return err
			}
			bandwidth += uint64(ps.DestW) * uint64(ps.DestH)
		}
	}
	if d.Rules.MaxBandwidth > 0 && bandwidth > d.Rules.MaxBandwidth {
		return fmt.Errorf("%w: bandwidth %d over limit %d", kms.ErrTestFailed, bandwidth, d.Rules.MaxBandwidth)
	}
	return nil
}

func (d *Driver) checkPlane(ps *kms.PlaneState) error {
	p := ps.Plane
	if ps.Zpos < p.ZposMin || ps.Zpos > p.ZposMax {
		return fmt.Errorf("%w: zpos %d out of range for %s", kms.ErrTestFailed, ps.Zpos, p)
	}
	if !p.Formats.Supports(ps.FB.Format, ps.FB.Modifier) {
		return fmt.Errorf("%w: %s can't show %s", kms.ErrTestFailed, p, ps.FB.Format)
	}
	for _, name := range d.Rules.RejectFormats {
		if ps.FB.Format.String() == name {
			return fmt.Errorf("%w: format %s rejected", kms.ErrTestFailed, name)
		}
	}
	srcW, srcH := ps.SrcW>>16, ps.SrcH>>16
	switch ps.Rotation {
	case kms.Transform90, kms.Transform270, kms.TransformFlipped90, kms.TransformFlipped270:
		srcW, srcH = srcH, srcW
	}
	if d.Rules.NoOverlayScaling && p.Type == kms.PlaneOverlay && (srcW != ps.DestW || srcH != ps.DestH) {
		return fmt.Errorf("%w: %s can't scale", kms.ErrTestFailed, p)
	}
	if ps.Alpha < p.AlphaMin || ps.Alpha > p.AlphaMax {
		return fmt.Errorf("%w: alpha %d out of range for %s", kms.ErrTestFailed, ps.Alpha, p)
	}
	return nil
}

func scanningOut(s *kms.OutputState) bool {
	ps := s.PlaneState(s.Output.Primary)
	return ps != nil && ps.FB != nil
}
