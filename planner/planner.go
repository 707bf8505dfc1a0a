// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package planner previews plane assignment for the outputs of the running compositor.
// The plane inventory is read from a DRM card if one is configured, otherwise every
// output gets a simulated set of planes. Frames are committed to a simulated driver
package planner

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"
	"sync"

	"github.com/mstarongithub/w2g-planes/common/ipc"
	"github.com/mstarongithub/w2g-planes/config"
	"github.com/mstarongithub/w2g-planes/drmdev"
	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/kmssim"
	"github.com/mstarongithub/w2g-planes/region"
	"github.com/mstarongithub/w2g-planes/scenefile"
	"github.com/mstarongithub/w2g-planes/util/multiplexer"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownOutput = errors.New("unknown output")
	ErrOutputExists  = errors.New("output already exists")
	ErrNoPrimary     = errors.New("no free primary plane")
)

// View is one thing the compositor shows on an output, in output coordinates
type View struct {
	ID   string
	Rect image.Rectangle
	// Buffer format, XR24 if unset
	Format kms.Format
	// Size of the attached buffer. The view size if unset
	BufferWidth, BufferHeight int
	Transform                 kms.Transform
	// Client hasn't attached a buffer yet
	NoBuffer bool
	// View is the pointer image
	Cursor bool
}

// planeSet is what one output index got from the simulated inventory
type planeSet struct {
	primary, cursor *kms.Plane
}

type Planner struct {
	conf config.Planes
	dev  *kms.Device
	drv  *kmssim.Driver
	prov *kmssim.Provider

	// Planes were read from a DRM card
	probed    bool
	simulated map[int]planeSet
	outputs   map[string]*kms.Output
	last      map[string]ipc.OutputAssignment
	feedback  multiplexer.ManyToOne[kms.Feedback]
	done      chan struct{}
	lock      sync.Mutex
	log       *logrus.Entry

	// Written by the feedback collector, which runs while lock is held
	reasons     map[string]kms.FailureReasons
	reasonsLock sync.Mutex
}

// New creates a planner. If conf.Device is set, the plane inventory is read from that card
func New(conf config.Planes) (*Planner, error) {
	p := &Planner{
		conf:      conf,
		drv:       kmssim.NewDriver(kmssim.Rules{MaxActivePlanes: conf.MaxActivePlanes, RequirePrimary: true}),
		prov:      kmssim.NewProvider(),
		simulated: map[int]planeSet{},
		outputs:   map[string]*kms.Output{},
		last:      map[string]ipc.OutputAssignment{},
		reasons:   map[string]kms.FailureReasons{},
		done:      make(chan struct{}),
		log:       logrus.WithField("component", "planner"),
	}
	p.dev = kms.NewDevice(p.drv, p.prov, kmssim.NewAllocator(), kms.Caps{
		Underlays:      conf.Underlays,
		CursorBroken:   conf.CursorBroken,
		PlanesDisabled: conf.Disabled,
		AsyncFlip:      conf.Tearing,
		GPUInterop:     true,
		CursorWidth:    conf.CursorWidth,
		CursorHeight:   conf.CursorHeight,
	})

	if conf.Device != "" {
		planes, err := probe(conf.Device)
		if err != nil {
			return nil, err
		}
		for _, plane := range planes {
			p.dev.AddPlane(plane)
		}
		p.probed = true
		p.log.WithFields(logrus.Fields{
			"device": conf.Device,
			"planes": len(planes),
		}).Infoln("Read plane inventory")
	}

	receiver := make(chan kms.Feedback, 16)
	p.feedback = multiplexer.NewManyToOne(receiver)
	p.dev.Feedback = &p.feedback
	go p.collectFeedback(receiver)
	return p, nil
}

func probe(path string) ([]kms.Plane, error) {
	card, err := drmdev.Open(path)
	if err != nil {
		return nil, err
	}
	defer card.Close()
	return card.ProbePlanes()
}

func (p *Planner) collectFeedback(receiver chan kms.Feedback) {
	defer close(p.done)
	for fb := range receiver {
		p.reasonsLock.Lock()
		p.reasons[fb.Node] = fb.Reasons
		p.reasonsLock.Unlock()
		p.log.WithFields(logrus.Fields{
			"output":    fb.Output,
			"view":      fb.Node,
			"plane":     fb.Plane,
			"zero-copy": fb.ZeroCopy,
			"reasons":   fb.Reasons,
		}).Traceln("Placement feedback")
	}
}

// Close stops feedback collection and releases all outputs
func (p *Planner) Close() {
	p.lock.Lock()
	for name, o := range p.outputs {
		o.Close()
		delete(p.outputs, name)
	}
	p.feedback.Close()
	p.lock.Unlock()
	<-p.done
}

// freeIndex returns the lowest output index not in use
func (p *Planner) freeIndex() int {
	used := map[int]bool{}
	for _, o := range p.dev.Outputs() {
		used[o.Index] = true
	}
	i := 0
	for used[i] {
		i++
	}
	return i
}

// AddOutput registers an output of the given size
func (p *Planner) AddOutput(name string, width, height int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := p.outputs[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrOutputExists)
	}
	index := p.freeIndex()
	cfg := kms.OutputConfig{
		Name:   name,
		Index:  index,
		Width:  width,
		Height: height,
	}
	if p.probed {
		cfg.Primary = p.freePlane(kms.PlanePrimary, index)
		cfg.Cursor = p.freePlane(kms.PlaneCursor, index)
	} else {
		set, ok := p.simulated[index]
		if !ok {
			set = p.simulate(index)
			p.simulated[index] = set
		}
		cfg.Primary, cfg.Cursor = set.primary, set.cursor
	}
	if cfg.Primary == nil {
		return fmt.Errorf("%s: %w", name, ErrNoPrimary)
	}
	if p.conf.Underlays {
		cfg.Format = kms.FormatARGB8888
	}
	o, err := p.dev.AddOutput(cfg)
	if err != nil {
		return err
	}
	p.outputs[name] = o
	p.log.WithFields(logrus.Fields{
		"output":  name,
		"index":   index,
		"primary": cfg.Primary.ID,
	}).Debugln("Added output")
	return nil
}

// freePlane finds a plane of the given type the output index can use and no other output has taken
func (p *Planner) freePlane(typ kms.PlaneType, index int) *kms.Plane {
	for _, plane := range p.dev.Planes() {
		if plane.Type != typ {
			continue
		}
		if plane.PossibleOutputs != 0 && plane.PossibleOutputs&(1<<uint(index)) == 0 {
			continue
		}
		taken := false
		for _, o := range p.dev.Outputs() {
			if o.Primary == plane || o.Cursor == plane {
				taken = true
				break
			}
		}
		if !taken {
			return plane
		}
	}
	return nil
}

// simulate adds a primary, the configured overlays and a cursor plane for an output index.
// An underlay goes below the primary if underlays are enabled
func (p *Planner) simulate(index int) planeSet {
	base := uint32(100 * (index + 1))
	mask := uint32(1) << uint(index)
	var z uint64
	if p.conf.Underlays {
		p.dev.AddPlane(kms.Plane{
			ID:              base + 50,
			Type:            kms.PlaneOverlay,
			Formats:         kms.NewFormatSet(kms.FormatXRGB8888, kms.FormatARGB8888, kms.FormatNV12),
			ZposMin:         0,
			ZposMax:         0,
			AlphaMin:        0,
			AlphaMax:        kms.AlphaOpaque,
			PossibleOutputs: mask,
		})
		z = 1
	}
	set := planeSet{}
	set.primary = p.dev.AddPlane(kms.Plane{
		ID:              base,
		Type:            kms.PlanePrimary,
		Formats:         kms.NewFormatSet(kms.FormatXRGB8888, kms.FormatARGB8888),
		ZposMin:         z,
		ZposMax:         z,
		PossibleOutputs: mask,
	})
	overlays := uint64(p.conf.Overlays)
	for i := uint64(0); i < overlays; i++ {
		p.dev.AddPlane(kms.Plane{
			ID:              base + 1 + uint32(i),
			Type:            kms.PlaneOverlay,
			Formats:         kms.NewFormatSet(kms.FormatXRGB8888, kms.FormatARGB8888, kms.FormatNV12),
			ZposMin:         z + 1,
			ZposMax:         z + overlays,
			AlphaMin:        0,
			AlphaMax:        kms.AlphaOpaque,
			Transforms:      kms.TransformsOf(kms.TransformNormal, kms.Transform180),
			InFence:         true,
			PossibleOutputs: mask,
		})
	}
	set.cursor = p.dev.AddPlane(kms.Plane{
		ID:              base + 49,
		Type:            kms.PlaneCursor,
		Formats:         kms.NewFormatSet(kms.FormatARGB8888),
		ZposMin:         z + overlays + 1,
		ZposMax:         z + overlays + 1,
		PossibleOutputs: mask,
	})
	return set
}

// RemoveOutput releases an output and the planes it held
func (p *Planner) RemoveOutput(name string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	o, ok := p.outputs[name]
	if !ok {
		return
	}
	o.Close()
	delete(p.outputs, name)
	delete(p.last, name)
	p.log.WithField("output", name).Debugln("Removed output")
}

func nodeFor(view View) *kms.PaintNode {
	format := view.Format
	if format == 0 {
		format = kms.FormatXRGB8888
	}
	node := &kms.PaintNode{
		ID:          view.ID,
		Geometry:    view.Rect,
		Alpha:       1,
		Transform:   view.Transform,
		CursorLayer: view.Cursor,
		Buffer: &kms.Buffer{
			Kind:     kms.BufferGPU,
			Width:    view.BufferWidth,
			Height:   view.BufferHeight,
			Format:   format,
			Modifier: kms.ModifierInvalid,
		},
		TearingAllowed: !view.Cursor,
	}
	if node.Buffer.Width == 0 || node.Buffer.Height == 0 {
		node.Buffer.Width, node.Buffer.Height = view.Rect.Dx(), view.Rect.Dy()
		switch view.Transform {
		case kms.Transform90, kms.Transform270, kms.TransformFlipped90, kms.TransformFlipped270:
			node.Buffer.Width, node.Buffer.Height = node.Buffer.Height, node.Buffer.Width
		}
	}
	switch {
	case view.NoBuffer:
		node.Buffer.Kind = kms.BufferNone
		return node
	case view.Cursor:
		node.Buffer.Kind = kms.BufferPixels
	}
	if !format.HasAlpha() {
		node.Opaque = region.New(view.Rect)
	}
	return node
}

// Frame plans one frame of an output. views is ordered top to bottom
func (p *Planner) Frame(output string, views []View) (ipc.OutputAssignment, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	o, ok := p.outputs[output]
	if !ok {
		return ipc.OutputAssignment{}, fmt.Errorf("%s: %w", output, ErrUnknownOutput)
	}
	nodes := make([]*kms.PaintNode, 0, len(views))
	for _, view := range views {
		nodes = append(nodes, nodeFor(view))
	}
	scenefile.ResolveVisibility(nodes, o.Rect())

	pending := p.dev.NewPendingState()
	state := o.AssignPlanes(pending, nodes)
	if state.Mode != kms.ModePlanesOnly {
		fb := p.prov.RendererFramebuffer(o)
		state.AttachRendererFB(fb)
		fb.Unref()
	}
	if err := p.dev.Commit(pending); err != nil {
		pending.Destroy()
		return ipc.OutputAssignment{}, err
	}
	assignment := scenefile.AssignmentOf(state, nodes)
	p.last[output] = assignment
	return assignment, nil
}

// Last returns the most recent assignment of every output, ordered by output name
func (p *Planner) Last() []ipc.OutputAssignment {
	p.lock.Lock()
	defer p.lock.Unlock()
	out := make([]ipc.OutputAssignment, 0, len(p.last))
	for _, a := range p.last {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b ipc.OutputAssignment) int {
		return strings.Compare(a.Output, b.Output)
	})
	return out
}

// Reasons returns the failure reasons last reported for a view
func (p *Planner) Reasons(view string) kms.FailureReasons {
	p.reasonsLock.Lock()
	defer p.reasonsLock.Unlock()
	return p.reasons[view]
}

// Planes describes the plane inventory
func (p *Planner) Planes() []ipc.PlaneInfo {
	p.lock.Lock()
	defer p.lock.Unlock()
	planes := p.dev.Planes()
	infos := make([]ipc.PlaneInfo, 0, len(planes))
	for _, plane := range planes {
		infos = append(infos, PlaneInfo(*plane))
	}
	return infos
}

// PlaneInfo describes a plane for the outside world
func PlaneInfo(plane kms.Plane) ipc.PlaneInfo {
	info := ipc.PlaneInfo{
		ID:              plane.ID,
		Type:            plane.Type.String(),
		ZposMin:         plane.ZposMin,
		ZposMax:         plane.ZposMax,
		InFence:         plane.InFence,
		PossibleOutputs: plane.PossibleOutputs,
	}
	for f := range plane.Formats {
		info.Formats = append(info.Formats, f.String())
	}
	slices.Sort(info.Formats)
	for t := kms.TransformNormal; t <= kms.TransformFlipped270; t++ {
		if plane.Transforms.Has(t) {
			info.Transforms = append(info.Transforms, t.String())
		}
	}
	return info
}
