package ipc

// TODO: Look into adding support for sway and hyprland ipc so that w2g can interact with those in tool mode

type (
	// A request to list the available Outputs
	OutputRequest struct {
		// Whether to include the modes an output supports
		IncludeModes bool `json:"include_modes" yaml:"include_modes"`
		// Target one specific output
		SpecifiesOutput bool `json:"specifies_output" yaml:"specifies_output"`
		// Name of the output you want info on. Only matters if SpecifiesOutput is set
		TargetOutput string `json:"target_output" yaml:"target_output"`
	}

	// A mode an output supports
	OutputMode struct {
		// Mode height in pixel
		Height int `json:"height" yaml:"height"`
		// Mode width in pixel
		Width int `json:"width" yaml:"width"`
		// Refresh rate of the mode in millihertz
		RefreshRate int `json:"refresh_rate" yaml:"refresh_rate"`
	}

	// Response to a OutputRequest message
	OutputResponse struct {
		// List of all outputs. Only contains target output if specified
		Outputs []string `json:"outputs" yaml:"outputs"`
		// A list of modes an output supports. Only set if IncludeModes is true
		OutputModes map[string][]OutputMode `json:"output_modes,omitempty" yaml:"output_modes,omitempty"`
		// Nr of outputs found
		OutputsFound int `json:"outputs_found" yaml:"outputs_found"`
	}

	// A hardware plane as the display device reports it
	PlaneInfo struct {
		ID   uint32 `json:"id" yaml:"id"`
		Type string `json:"type" yaml:"type"`
		// Four character codes of the formats the plane can show
		Formats []string `json:"formats" yaml:"formats"`
		ZposMin uint64   `json:"zpos_min" yaml:"zpos_min"`
		ZposMax uint64   `json:"zpos_max" yaml:"zpos_max"`
		// Names of the transforms the plane can apply
		Transforms []string `json:"transforms" yaml:"transforms"`
		InFence    bool     `json:"in_fence" yaml:"in_fence"`
		// Bitmask of the outputs the plane can be used on
		PossibleOutputs uint32 `json:"possible_outputs" yaml:"possible_outputs"`
	}

	// Where one view ended up in a frame
	ViewAssignment struct {
		ID string `json:"id" yaml:"id"`
		// 0 if composited
		Plane    uint32 `json:"plane,omitempty" yaml:"plane,omitempty"`
		Zpos     uint64 `json:"zpos,omitempty" yaml:"zpos,omitempty"`
		Renderer bool   `json:"renderer" yaml:"renderer"`
		ZeroCopy bool   `json:"zero_copy" yaml:"zero_copy"`
		Underlay bool   `json:"underlay,omitempty" yaml:"underlay,omitempty"`
		// Why the view couldn't go on a plane
		Reasons []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	}

	// What one output showed in a frame
	OutputAssignment struct {
		Output    string           `json:"output" yaml:"output"`
		Mode      string           `json:"mode" yaml:"mode"`
		Power     string           `json:"power" yaml:"power"`
		Tearing   bool             `json:"tearing" yaml:"tearing"`
		Writeback bool             `json:"writeback" yaml:"writeback"`
		Planes    int              `json:"active_planes" yaml:"active_planes"`
		Views     []ViewAssignment `json:"views" yaml:"views"`
	}

	// Response to an assignment run
	AssignmentReport struct {
		Frame   int                `json:"frame" yaml:"frame"`
		Outputs []OutputAssignment `json:"outputs" yaml:"outputs"`
		// Atomic tests the driver ran so far
		Tests int `json:"tests" yaml:"tests"`
	}
)
