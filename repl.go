package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mstarongithub/w2g-planes/repl"
	"github.com/mstarongithub/w2g-planes/scenefile"
	"github.com/mstarongithub/w2g-planes/util"
	"github.com/mstarongithub/w2g-planes/util/wrappers"
	"github.com/sirupsen/logrus"
)

// startCommand runs a command in the background, its output going to out
func startCommand(cmdString string, out io.Writer) string {
	parts := strings.Split(cmdString, " ")
	// This is safe b/c it'll unpack into a slice of length 0
	args := parts[1:]
	// And here a slice of length 0 means that no additional arguments will be given
	// It's also safe if the repl command is "run " since the first element will now be an empty string
	// Which is also safe to "execute" since cmd.Start will just fail with the No Command error
	cmd := exec.Command(parts[0], args...)
	cmd.Stdout = out
	cmd.Stderr = out
	go func(cmd *exec.Cmd, cmdString string) {
		err := cmd.Start()
		if err != nil {
			logrus.WithError(err).WithField("command", cmdString).Errorln("Command failed to start")
			return
		}
		err = cmd.Wait()
		if exiterr, ok := err.(*exec.ExitError); ok {
			logrus.WithError(err).WithFields(logrus.Fields{
				"exit-code": exiterr.ExitCode(),
				"comand":    cmdString,
			}).Warningln("Bad command completion")
		}
	}(cmd, cmdString)
	return "Running " + parts[0]
}

func replRunner(server *Server) {
	// Give repl some wrappers around stdin and stdout so that it closes those instead of stdin & stdout themselves
	commandRepl := repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout))
	commandRepl.Prompt = "w2g> "
	logrus.Debugln("Starting repl")
	_ = commandRepl.Run(func(input string, r *repl.Repl) (string, error) {
		if cmdString, ok := strings.CutPrefix(input, "run "); ok {
			return startCommand(cmdString, r.Output), nil
		} else if input == "quit" {
			server.Stop()
			time.Sleep(time.Second * 5)
			return "Quitting", errors.New("normal stop")
		} else if path, ok := strings.CutPrefix(input, "assign "); ok {
			return replAssign(strings.TrimSpace(path)), nil
		} else if rawCmdString, ok := strings.CutPrefix(input, "inspect "); ok {
			// Can't unpack slices directly like in Python, so do it this roundabout way
			var target, mod string
			util.Unpack(strings.SplitN(rawCmdString, " ", 2), &target, &mod)
			logrus.WithFields(logrus.Fields{
				"cmd": target,
				"mod": mod,
				"raw": rawCmdString,
			}).Debugln("Parsed inspect command")
			return replInspect(server, target, mod), nil
		}
		return "Unknown command", nil
	})
}

func replInspect(server *Server, target, mod string) string {
	switch target {
	case "planes":
		if server.planner == nil {
			return "Plane preview is disabled"
		}
		var b strings.Builder
		for _, info := range server.planner.Planes() {
			fmt.Fprintf(&b, "%d %s zpos %d-%d formats %s\n", info.ID, info.Type, info.ZposMin, info.ZposMax, strings.Join(info.Formats, ","))
		}
		return strings.TrimSuffix(b.String(), "\n")
	case "outputs", "last":
		if server.planner == nil {
			return "Plane preview is disabled"
		}
		var b strings.Builder
		for _, out := range server.planner.Last() {
			fmt.Fprintf(&b, "%s: %s, %d planes\n", out.Output, out.Mode, out.Planes)
			for _, view := range out.Views {
				fmt.Fprintf(&b, "\t%s\n", describeView(view))
			}
		}
		if b.Len() == 0 {
			return "No frame planned yet"
		}
		return strings.TrimSuffix(b.String(), "\n")
	case "view":
		if server.planner == nil {
			return "Plane preview is disabled"
		}
		return fmt.Sprintf("View %s: %s", mod, server.planner.Reasons(mod))
	case "cursor":
		switch mod {
		case "manager":
			return fmt.Sprintf("Cursor manager (no useful data): %+v", server.cursorMgr)
		case "mode":
			switch server.cursorMode {
			case CursorModeMove:
				return "Cursor mode: Move"
			case CursorModePassThrough:
				return "Cursor mode: PassThrough"
			case CursorModeResize:
				return "Cursor mode: Resize"
			default:
				return fmt.Sprintf("Cursor mode: Unknown: %+v", server.cursorMode)
			}
		default:
			return fmt.Sprintf("Cursor: Location (%f:%f)", server.cursor.X(), server.cursor.Y())
		}
	case "topLevelList":
		return fmt.Sprintf("%d toplevels", server.topLevelList.Len())
	default:
		return "Can inspect: planes, outputs, view <id>, cursor [manager|mode], topLevelList"
	}
}

// replAssign runs a scene file and sums up the last frame
func replAssign(path string) string {
	scene, err := scenefile.Load(path)
	if err != nil {
		return err.Error()
	}
	built, err := scene.Build()
	if err != nil {
		return err.Error()
	}
	var b strings.Builder
	for !built.Done() {
		report, err := built.RunFrame()
		if err != nil {
			return err.Error()
		}
		b.Reset()
		fmt.Fprintf(&b, "Frame %d:\n", report.Frame)
		for _, out := range report.Outputs {
			fmt.Fprintf(&b, "%s: %s, %d planes\n", out.Output, out.Mode, out.Planes)
			for _, view := range out.Views {
				fmt.Fprintf(&b, "\t%s\n", describeView(view))
			}
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
