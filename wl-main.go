package main

import (
	"fmt"
	"os"

	"github.com/mstarongithub/w2g-planes/config"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
)

func fatal(msg string, err error) {
	fmt.Printf("error %s: %s\n", msg, err)
	os.Exit(1)
}

func wlHelpMessage() {
	fmt.Println("---- Help message for Way2Gay in compositor mode ----")
	fmt.Println("\nWithout -tool, w2g runs as a compositor and previews hardware plane use for every frame")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t-config: Path to the config file. Looked up in the xdg config dirs by default")
	fmt.Println("\t-tool: Start as a tool instead of a compositor")
	fmt.Println("\t-help: Show this help message (or the one for tool mode if -tool is set)")
	fmt.Println("\nThe [planes] section of the config controls the plane preview")
}

func wlMain(conf *config.Config) {
	if *help {
		wlHelpMessage()
		return
	}
	wlroots.OnLog(wlroots.LogImportanceError, func(importance wlroots.LogImportance, msg string) {
		switch importance {
		case wlroots.LogImportanceDebug:
			logrus.Debugln(msg)
		case wlroots.LogImportanceInfo:
			logrus.Infoln(msg)
		case wlroots.LogImportanceError:
			logrus.Errorln(msg)
		case wlroots.LogImportanceSilent:
			return
		}
	})

	// start the server
	server, err := NewServer(conf)
	if err != nil {
		fatal("initializing server", err)
	}
	if err = server.Start(); err != nil {
		fatal("starting server", err)
	}

	switch conf.StartType {
	case config.START_REPL:
		go replRunner(server)
	case config.START_SINGLE_COMMAND:
		startCommand(*conf.StartCommand, os.Stdout)
	}

	// start the wayland event loop
	if err = server.Run(); err != nil {
		fatal("running server", err)
	}
}
