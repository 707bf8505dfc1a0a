// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package drmdev drives a real display device through the KMS atomic API
package drmdev

import (
	"fmt"
	"os"

	"github.com/NeowayLabs/drm/mode"
	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Device is an opened DRM card. It implements kms.Driver
type Device struct {
	Path string

	file  *os.File
	crtcs []uint32
	// Properties of every probed plane, by plane ID
	planes map[uint32]props
	log    *logrus.Entry
}

// Open opens the card at path and switches it to atomic mode setting
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	d := &Device{
		Path:   path,
		file:   os.NewFile(uintptr(fd), path),
		planes: map[uint32]props{},
		log:    logrus.WithField("device", path),
	}

	if err := mode.SetClientCap(d.file, mode.ClientCapUniversalPlanes, 1); err != nil {
		d.file.Close()
		return nil, fmt.Errorf("enabling universal planes on %s: %w", path, err)
	}
	if err := mode.SetClientCap(d.file, mode.ClientCapAtomic, 1); err != nil {
		d.file.Close()
		return nil, fmt.Errorf("enabling atomic mode setting on %s: %w", path, err)
	}

	res, err := mode.GetResources(d.file)
	if err != nil {
		d.file.Close()
		return nil, fmt.Errorf("reading resources of %s: %w", path, err)
	}
	d.crtcs = res.Crtcs
	d.log.WithField("crtcs", len(d.crtcs)).Debugln("Opened display device")
	return d, nil
}

func (d *Device) Close() error {
	return d.file.Close()
}

// CRTCs returns the CRTC IDs. Output index i drives CRTC i
func (d *Device) CRTCs() []uint32 {
	return d.crtcs
}

// ProbePlanes reads every plane the device has
func (d *Device) ProbePlanes() ([]kms.Plane, error) {
	res, err := mode.GetPlaneResources(d.file)
	if err != nil {
		return nil, fmt.Errorf("reading plane resources: %w", err)
	}
	planes := make([]kms.Plane, 0, len(res.Planes))
	for _, id := range res.Planes {
		info, err := mode.GetPlane(d.file, id)
		if err != nil {
			return nil, fmt.Errorf("reading plane %d: %w", id, err)
		}
		p, err := d.objectProps(id, mode.ObjectPlane)
		if err != nil {
			return nil, fmt.Errorf("reading properties of plane %d: %w", id, err)
		}
		plane, err := planeFromProps(id, info.FormatTypes, outputIndices(info.PossibleCrtcs, len(d.crtcs)), p)
		if err != nil {
			d.log.WithError(err).Warnln("Skipping plane")
			continue
		}
		d.planes[id] = p
		d.log.WithFields(logrus.Fields{
			"plane":   id,
			"type":    plane.Type,
			"zpos":    fmt.Sprintf("%d-%d", plane.ZposMin, plane.ZposMax),
			"formats": plane.Formats,
		}).Debugln("Found plane")
		planes = append(planes, plane)
	}
	return planes, nil
}

func (d *Device) objectProps(id, objectType uint32) (props, error) {
	list, err := mode.GetProperties(d.file, id, objectType)
	if err != nil {
		return nil, err
	}
	p := props{}
	for i, propID := range list.Props {
		info, err := mode.GetProperty(d.file, propID)
		if err != nil {
			return nil, fmt.Errorf("reading property %d: %w", propID, err)
		}
		pr := prop{
			ID:     propID,
			Value:  list.PropValues[i],
			Values: info.Values,
		}
		if len(info.EnumBlobs) > 0 {
			pr.Enums = map[string]uint64{}
			for _, e := range info.EnumBlobs {
				pr.Enums[e.Name] = e.Value
			}
		}
		p[info.Name] = pr
	}
	return p, nil
}

func (d *Device) Test(pending *kms.PendingState) error {
	atomic, err := d.atomicProperties(pending)
	if err != nil {
		return err
	}
	if err := mode.Atomic(d.file, mode.AtomicTestOnly|mode.AtomicNonBlock, atomic); err != nil {
		return fmt.Errorf("%w: %v", kms.ErrTestFailed, err)
	}
	return nil
}

func (d *Device) Commit(pending *kms.PendingState) error {
	atomic, err := d.atomicProperties(pending)
	if err != nil {
		return err
	}
	var flags uint32
	for _, s := range pending.OutputStates() {
		if s.Tearing {
			flags |= mode.PageFlipAsync
		}
	}
	if err := mode.Atomic(d.file, flags, atomic); err != nil {
		return fmt.Errorf("atomic commit on %s: %w", d.Path, err)
	}
	return nil
}

// atomicProperties turns the plane states of a pending state into property writes
func (d *Device) atomicProperties(pending *kms.PendingState) ([]mode.AtomicProperty, error) {
	var atomic []mode.AtomicProperty
	for _, s := range pending.OutputStates() {
		if s.Output.Index >= len(d.crtcs) {
			return nil, fmt.Errorf("output %s has no CRTC", s.Output.Name)
		}
		crtc := d.crtcs[s.Output.Index]
		for _, ps := range s.Planes() {
			p, ok := d.planes[ps.Plane.ID]
			if !ok {
				return nil, fmt.Errorf("plane %d was never probed", ps.Plane.ID)
			}
			w := planeWriter{plane: ps.Plane.ID, props: p}
			if ps.FB == nil || ps.Output == nil {
				w.set("FB_ID", 0)
				w.set("CRTC_ID", 0)
			} else {
				w.planeState(ps, crtc)
			}
			if w.err != nil {
				return nil, w.err
			}
			atomic = append(atomic, w.atomic...)
		}
	}
	return atomic, nil
}

type planeWriter struct {
	plane  uint32
	props  props
	atomic []mode.AtomicProperty
	err    error
}

func (w *planeWriter) set(name string, value uint64) {
	if w.err != nil {
		return
	}
	p, ok := w.props[name]
	if !ok {
		w.err = fmt.Errorf("plane %d: %w: %s", w.plane, ErrMissingProperty, name)
		return
	}
	w.atomic = append(w.atomic, mode.AtomicProperty{ObjectID: w.plane, PropertyID: p.ID, Value: value})
}

// setOptional writes a property only if the plane has it
func (w *planeWriter) setOptional(name string, value uint64) {
	if _, ok := w.props[name]; ok {
		w.set(name, value)
	}
}

func (w *planeWriter) planeState(ps *kms.PlaneState, crtc uint32) {
	w.set("FB_ID", uint64(ps.FB.ID))
	w.set("CRTC_ID", uint64(crtc))
	w.set("SRC_X", uint64(ps.SrcX))
	w.set("SRC_Y", uint64(ps.SrcY))
	w.set("SRC_W", uint64(ps.SrcW))
	w.set("SRC_H", uint64(ps.SrcH))
	w.set("CRTC_X", uint64(uint32(ps.DestX)))
	w.set("CRTC_Y", uint64(uint32(ps.DestY)))
	w.set("CRTC_W", uint64(ps.DestW))
	w.set("CRTC_H", uint64(ps.DestH))

	// Immutable zpos can't be written, it already is what the plane advertises
	if zpos, ok := w.props["zpos"]; ok && len(zpos.Values) == 2 && zpos.Values[0] != zpos.Values[1] {
		w.set("zpos", ps.Zpos)
	}
	w.setOptional("alpha", uint64(ps.Alpha))
	if rotation, ok := w.props["rotation"]; ok {
		value, ok := rotationValue(ps.Rotation, rotation.Enums)
		if !ok {
			w.err = fmt.Errorf("plane %d can't apply transform %s", w.plane, ps.Rotation)
			return
		}
		w.set("rotation", value)
	}
	if ps.InFence != nil {
		w.set("IN_FENCE_FD", uint64(ps.InFence.FD))
	}
	if enc, ok := w.props["COLOR_ENCODING"]; ok {
		if v, ok := enc.Enums[encodingNames[ps.Encoding]]; ok {
			w.set("COLOR_ENCODING", v)
		}
	}
	if rng, ok := w.props["COLOR_RANGE"]; ok {
		if v, ok := rng.Enums[rangeNames[ps.Range]]; ok {
			w.set("COLOR_RANGE", v)
		}
	}
}

var encodingNames = map[kms.ColorEncoding]string{
	kms.EncodingBT601:  "ITU-R BT.601 YCbCr",
	kms.EncodingBT709:  "ITU-R BT.709 YCbCr",
	kms.EncodingBT2020: "ITU-R BT.2020 YCbCr",
}

var rangeNames = map[kms.ColorRange]string{
	kms.RangeLimited: "YCbCr limited range",
	kms.RangeFull:    "YCbCr full range",
}
