// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package scenefile

import (
	"fmt"

	"github.com/mstarongithub/w2g-planes/common/ipc"
	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/kmssim"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

// Built is a scene turned into a simulated device with its outputs and nodes
type Built struct {
	Device   *kms.Device
	Driver   *kmssim.Driver
	Provider *kmssim.Provider
	// Nil if the scene runs without an allocator
	Allocator *kmssim.Allocator
	Outputs   []*BuiltOutput

	frames int
	frame  int
}

type BuiltOutput struct {
	Output *kms.Output
	// Top to bottom
	Nodes []*kms.PaintNode
	// Nil if no capture was staged
	Capture *kms.Capture
}

// Build creates the simulated device the scene describes
func (s *Scene) Build() (*Built, error) {
	b := &Built{
		Driver:   kmssim.NewDriver(s.Device.Rules),
		Provider: kmssim.NewProvider(),
		frames:   s.Frames,
	}
	b.Provider.FailImport = s.Device.Provider.FailImport
	b.Provider.MaxWidth = s.Device.Provider.MaxWidth
	b.Provider.MaxHeight = s.Device.Provider.MaxHeight

	var allocator kms.BufferAllocator
	if !s.Device.NoAllocator {
		b.Allocator = kmssim.NewAllocator()
		allocator = b.Allocator
	}
	b.Device = kms.NewDevice(b.Driver, b.Provider, allocator, s.Device.Caps.caps())

	for _, spec := range s.Device.Planes {
		plane, err := spec.plane()
		if err != nil {
			return nil, err
		}
		if b.Device.Plane(plane.ID) != nil {
			return nil, fmt.Errorf("plane %d declared twice", plane.ID)
		}
		b.Device.AddPlane(plane)
	}

	for i, spec := range s.Outputs {
		out, err := b.buildOutput(i, spec)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", spec.Name, err)
		}
		b.Outputs = append(b.Outputs, out)
	}
	return b, nil
}

func (c CapsSpec) caps() kms.Caps {
	caps := kms.Caps{
		Underlays:      c.Underlays,
		CursorBroken:   c.CursorBroken,
		SpritesBroken:  c.SpritesBroken,
		PlanesDisabled: c.PlanesDisabled,
		AsyncFlip:      c.AsyncFlip,
		GPUInterop:     true,
		CursorWidth:    c.CursorWidth,
		CursorHeight:   c.CursorHeight,
	}
	if c.GPUInterop != nil {
		caps.GPUInterop = *c.GPUInterop
	}
	return caps
}

func (b *Built) buildOutput(i int, spec OutputSpec) (*BuiltOutput, error) {
	cfg := kms.OutputConfig{
		Name:        spec.Name,
		Index:       spec.Index,
		Width:       spec.Width,
		Height:      spec.Height,
		Virtual:     spec.Virtual,
		ColorEffect: spec.ColorEffect,
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("sim-%d", i+1)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("size %dx%d is not positive", cfg.Width, cfg.Height)
	}
	if spec.Format != "" {
		f, err := kms.ParseFormat(spec.Format)
		if err != nil {
			return nil, err
		}
		cfg.Format = f
	}
	if spec.Power != "" {
		power, err := kms.ParsePowerMode(spec.Power)
		if err != nil {
			return nil, err
		}
		cfg.Power = power
	}
	if spec.Primary != 0 {
		if cfg.Primary = b.Device.Plane(spec.Primary); cfg.Primary == nil {
			return nil, fmt.Errorf("primary %d: %w", spec.Primary, ErrUnknownPlane)
		}
	}
	if spec.Cursor != 0 {
		if cfg.Cursor = b.Device.Plane(spec.Cursor); cfg.Cursor == nil {
			return nil, fmt.Errorf("cursor %d: %w", spec.Cursor, ErrUnknownPlane)
		}
	}
	if cfg.Primary == nil {
		return nil, fmt.Errorf("no primary plane: %w", ErrUnknownPlane)
	}

	o, err := b.Device.AddOutput(cfg)
	if err != nil {
		return nil, err
	}
	out := &BuiltOutput{Output: o}
	for _, view := range spec.Views {
		node, err := view.node()
		if err != nil {
			return nil, err
		}
		out.Nodes = append(out.Nodes, node)
	}
	ResolveVisibility(out.Nodes, o.Rect())
	if spec.Capture {
		out.Capture = o.StageCapture()
	}
	return out, nil
}

// Output returns the built output with the given name, nil if there is none
func (b *Built) Output(name string) *BuiltOutput {
	found := sliceutils.Filter(b.Outputs, func(out *BuiltOutput) bool {
		return out.Output.Name == name
	})
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// Done reports whether all frames of the scene ran
func (b *Built) Done() bool {
	return b.frame >= b.frames
}

// RunFrame assigns planes on every output in one pending state and commits it.
// Outputs not showing only planes get a renderer frame on their scanout plane
func (b *Built) RunFrame() (*ipc.AssignmentReport, error) {
	b.frame++
	log := logrus.WithField("frame", b.frame)
	pending := b.Device.NewPendingState()
	states := make([]*kms.OutputState, len(b.Outputs))
	for i, out := range b.Outputs {
		state := out.Output.AssignPlanes(pending, out.Nodes)
		if state.Mode != kms.ModePlanesOnly {
			fb := b.Provider.RendererFramebuffer(out.Output)
			state.AttachRendererFB(fb)
			fb.Unref()
		}
		states[i] = state
		log.WithFields(logrus.Fields{
			"output": out.Output.Name,
			"mode":   state.Mode,
		}).Debugln("Assigned planes")
	}
	if err := b.Device.Commit(pending); err != nil {
		pending.Destroy()
		return nil, fmt.Errorf("frame %d: %w", b.frame, err)
	}

	report := &ipc.AssignmentReport{Frame: b.frame, Tests: b.Driver.Tests}
	for i, out := range b.Outputs {
		report.Outputs = append(report.Outputs, AssignmentOf(states[i], out.Nodes))
	}
	return report, nil
}

// AssignmentOf describes where the nodes ended up in state
func AssignmentOf(state *kms.OutputState, nodes []*kms.PaintNode) ipc.OutputAssignment {
	assignment := ipc.OutputAssignment{
		Output:    state.Output.Name,
		Mode:      state.Mode.String(),
		Power:     state.Power.String(),
		Tearing:   state.Tearing,
		Writeback: state.Writeback,
		Planes:    len(state.ActivePlanes()),
	}
	for _, node := range nodes {
		view := ipc.ViewAssignment{
			ID:       node.ID,
			Renderer: node.Target.Renderer,
			ZeroCopy: node.Target.ZeroCopy,
			Underlay: node.Target.NeedsHole,
			Reasons:  node.Reasons.Names(),
		}
		if ps := state.NodeState(node); ps != nil {
			view.Plane = ps.Plane.ID
			view.Zpos = ps.Zpos
		}
		assignment.Views = append(assignment.Views, view)
	}
	return assignment
}
