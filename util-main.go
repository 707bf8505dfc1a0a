package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mstarongithub/w2g-planes/common/ipc"
	"github.com/mstarongithub/w2g-planes/config"
	"github.com/mstarongithub/w2g-planes/drmdev"
	"github.com/mstarongithub/w2g-planes/kms"
	"github.com/mstarongithub/w2g-planes/planner"
	"github.com/mstarongithub/w2g-planes/scenefile"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
	"gopkg.in/yaml.v3"
)

var (
	utilAction *string = flag.String(
		"action",
		"",
		"The action to perform. Can be one of:"+
			"\n\t- none: Do nothing"+
			"\n\t- outputs: List available outputs"+
			"\n\t- modes <output>: List available modes for an output"+
			"\n\t- planes: List the planes of a DRM card"+
			"\n\t- assign: Run plane assignment on a scene file",
	)
	outputSelection *string = flag.String(
		"output",
		"",
		"Output to perform the action on. Required for some actions",
	)
	deviceSelection *string = flag.String(
		"device",
		"",
		"DRM card for -action planes. Defaults to the device from the config",
	)
	sceneSelection *string = flag.String(
		"scene",
		"",
		"Scene file for -action assign",
	)
	outputFormat *string = flag.String(
		"format",
		"text",
		"How to print results of planes and assign: text, json or yaml",
	)
)

func utilMain(conf *config.Config) {
	if *help {
		utilHelpMessage()
		return
	}

	switch *utilAction {
	case "planes":
		device := *deviceSelection
		if device == "" {
			device = conf.Planes.Device
		}
		if device == "" {
			fmt.Println("No device given and none configured")
			return
		}
		utilListPlanes(device)
		return
	case "assign":
		if *sceneSelection == "" {
			fmt.Println("Scene file has to be specified")
			return
		}
		utilAssign(*sceneSelection)
		return
	case "", "none":
		return
	}

	// Init a server, used for stuff like getting displays
	server, err := NewServer(conf)
	if err != nil {
		logrus.WithError(err).Fatal("initializing server")
	}
	if err = server.Start(); err != nil {
		logrus.WithError(err).Fatal("starting server")
	}

	switch *utilAction {
	case "outputs":
		utilListOutputs(server)
	case "modes":
		if *outputSelection == "" {
			fmt.Println("Output has to be specified")
			return
		} else {
			utilListOutputModes(server, *outputSelection)
		}
	default:
		fmt.Printf("Unknown action %s\n", *utilAction)
	}
}

func utilHelpMessage() {
	fmt.Println("---- Help message for Way2Gay in tool mode ----")
	fmt.Println("\nIn tool mode, w2g will offer various tools for figuring out configurations and similar")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Looked up in the xdg config dirs by default")
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for compositor mode if -tool is not set)")
	fmt.Println("\nTool flags:")
	fmt.Println("\t-action: The action to perform. Can be one of:")
	fmt.Println("\t\t- outputs: List available outputs")
	fmt.Println("\t\t- modes: List available modes for an output. Use with -output")
	fmt.Println("\t\t- planes: List the planes of a DRM card. Use with -device")
	fmt.Println("\t\t- assign: Run plane assignment on a scene file. Use with -scene")
	fmt.Println("\t-output: Output to perform the action on. Required for -action modes")
	fmt.Println("\t-device: DRM card like /dev/dri/card0. Defaults to planes.device from the config")
	fmt.Println("\t-scene: YAML scene file describing planes, outputs and views")
	fmt.Println("\t-format: text (default), json or yaml")
}

func utilListOutputs(server *Server) {
	outputs := server.GetOutputs()
	for i, output := range outputs {
		fmt.Printf("Output %v: %s\n", i, output.Name())
	}
}

func utilListOutputModes(server *Server, outputName string) {
	outputs := server.GetOutputs()
	filtered := sliceutils.Filter(outputs, func(output *wlroots.Output) bool {
		return output.Name() == outputName
	})
	if len(filtered) == 0 {
		fmt.Printf("Output %s not found\n", outputName)
		return
	}
	modes := filtered[0].Modes()
	fmt.Printf("Modes for output %s:\n", outputName)
	for _, mode := range modes {
		if mode.Preferred() {
			fmt.Printf("\t- %dx%d@%d(Ratio: %d) (preferred)\n", mode.Width(), mode.Height(), mode.Refresh(), mode.PictureAspectRatio())
		} else {
			fmt.Printf("\t- %dx%d@%d(Ratio: %d)\n", mode.Width(), mode.Height(), mode.Refresh(), mode.PictureAspectRatio())
		}
	}
}

// printStructured prints v in the selected format. Returns false for the text format
func printStructured(v any) bool {
	switch *outputFormat {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			logrus.WithError(err).Errorln("Failed to encode result")
			return true
		}
		fmt.Println(string(data))
		return true
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		if err := enc.Encode(v); err != nil {
			logrus.WithError(err).Errorln("Failed to encode result")
		}
		enc.Close()
		return true
	default:
		return false
	}
}

func utilListPlanes(device string) {
	card, err := drmdev.Open(device)
	if err != nil {
		logrus.WithError(err).WithField("device", device).Errorln("Failed to open device")
		return
	}
	defer card.Close()
	planes, err := card.ProbePlanes()
	if err != nil {
		logrus.WithError(err).WithField("device", device).Errorln("Failed to read planes")
		return
	}

	infos := make([]ipc.PlaneInfo, 0, len(planes))
	for _, plane := range planes {
		infos = append(infos, planner.PlaneInfo(plane))
	}
	if printStructured(infos) {
		return
	}
	fmt.Printf("Planes of %s (%d CRTCs):\n", device, len(card.CRTCs()))
	for _, info := range infos {
		fmt.Printf("\t- %d %s zpos %d-%d outputs %b\n", info.ID, info.Type, info.ZposMin, info.ZposMax, info.PossibleOutputs)
		fmt.Printf("\t\tformats: %s\n", strings.Join(info.Formats, " "))
		fmt.Printf("\t\ttransforms: %s\n", strings.Join(info.Transforms, " "))
		if info.InFence {
			fmt.Println("\t\ttakes in-fences")
		}
	}
}

func utilAssign(path string) {
	scene, err := scenefile.Load(path)
	if err != nil {
		logrus.WithError(err).Errorln("Failed to load scene")
		return
	}
	built, err := scene.Build()
	if err != nil {
		logrus.WithError(err).WithField("scene", path).Errorln("Failed to build scene")
		return
	}

	reports := []*ipc.AssignmentReport{}
	for !built.Done() {
		report, err := built.RunFrame()
		if err != nil {
			logrus.WithError(err).Errorln("Frame failed")
			return
		}
		reports = append(reports, report)
	}
	if printStructured(reports) {
		return
	}
	for _, report := range reports {
		fmt.Printf("Frame %d (%d tests so far):\n", report.Frame, report.Tests)
		for _, out := range report.Outputs {
			fmt.Printf("\t%s: %s, %d planes", out.Output, out.Mode, out.Planes)
			if out.Tearing {
				fmt.Print(", tearing")
			}
			if out.Writeback {
				fmt.Print(", writeback")
			}
			if out.Power != kms.PowerOn.String() {
				fmt.Printf(", power %s", out.Power)
			}
			fmt.Println()
			for _, view := range out.Views {
				fmt.Printf("\t\t%s\n", describeView(view))
			}
		}
	}
	for _, out := range built.Outputs {
		if out.Capture == nil {
			continue
		}
		if cancelled, reason := out.Capture.Cancelled(); cancelled {
			fmt.Printf("Capture on %s cancelled: %s\n", out.Output.Name, reason)
		}
	}
}

func describeView(view ipc.ViewAssignment) string {
	var b strings.Builder
	b.WriteString(view.ID)
	if view.Plane != 0 {
		fmt.Fprintf(&b, ": plane %d at zpos %d", view.Plane, view.Zpos)
		if view.Underlay {
			b.WriteString(" (underlay)")
		}
		if !view.ZeroCopy {
			b.WriteString(" (copied)")
		}
	} else {
		b.WriteString(": renderer")
	}
	if len(view.Reasons) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(view.Reasons, ", "))
	}
	return b.String()
}
