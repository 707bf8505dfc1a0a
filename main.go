// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"flag"

	"github.com/mstarongithub/w2g-planes/config"
	"github.com/sirupsen/logrus"
)

var (
	configPath *string = flag.String(
		"config",
		"",
		"Path to the config file. Looked up in the xdg config dirs if not set",
	)
	toolMode *bool = flag.Bool("tool", false, "Start as a tool instead of a compositor")
	help     *bool = flag.Bool("help", false, "Show the help message for the selected mode")
)

func main() {
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatalln("Failed to load config")
	}
	logrus.SetLevel(conf.Level())
	logrus.WithField("level", conf.Level()).Debugln("Config loaded")

	if *toolMode {
		utilMain(conf)
	} else {
		wlMain(conf)
	}
}
