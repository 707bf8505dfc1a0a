// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
)

type StartType int

const (
	// Tells way2gay to start a repl in parallel for interacting with it
	START_REPL = StartType(iota)
	// Tells way2gay to execute a specific command on startup
	START_SINGLE_COMMAND
	// Tells way2gay to start without any specific targets
	// Note: Good luck interacting with it :3
	START_NONE
)

// Where the config lives relative to the xdg config dirs
const relativePath = "way2gay/config.toml"

type Config struct {
	StartType StartType `toml:"start_type,omitempty"`
	// What command to execute on start. Only matters if StartType is set to START_SINGLE_COMMAND
	StartCommand *string `toml:"start_command,omitempty"`
	// One of logrus' level names
	LogLevel string `toml:"log_level,omitempty"`
	Planes   Planes `toml:"planes"`
}

// Planes is the hardware plane policy
type Planes struct {
	// Turn hardware planes off, everything gets composited
	Disabled bool `toml:"disabled"`
	// The display hardware can put planes below the scanout plane
	Underlays bool `toml:"underlays"`
	// Don't use the cursor plane
	CursorBroken bool `toml:"cursor_broken"`
	// The display hardware supports tearing page flips
	Tearing bool `toml:"tearing"`
	// Size of the cursor plane buffer
	CursorWidth  int `toml:"cursor_width"`
	CursorHeight int `toml:"cursor_height"`
	// Overlays per output when no device is probed
	Overlays int `toml:"overlays"`
	// Planes the preview driver lets an output use at once. 0 means no limit
	MaxActivePlanes int `toml:"max_active_planes"`
	// DRM card to read the plane inventory from, like /dev/dri/card0
	Device string `toml:"device"`
}

func Default() *Config {
	return &Config{
		StartType: START_REPL,
		LogLevel:  "info",
		Planes: Planes{
			CursorWidth:  64,
			CursorHeight: 64,
			Overlays:     3,
		},
	}
}

// Locate returns the path of the config file in the xdg config dirs, if there is one
func Locate() (string, bool) {
	path, err := xdg.SearchConfigFile(relativePath)
	if err != nil {
		return "", false
	}
	return path, true
}

// Load reads the config at path. An empty path means looking it up with Locate.
// A missing file gives the defaults
func Load(path string) (*Config, error) {
	if path == "" {
		found, ok := Locate()
		if !ok {
			logrus.WithField("path", relativePath).Debugln("No config file found, using defaults")
			return Default(), nil
		}
		path = found
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithField("path", path).Warnln("Config file doesn't exist, using defaults")
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	conf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return conf, nil
}

// Parse reads a config from toml. Keys not present keep their defaults
func Parse(data []byte) (*Config, error) {
	conf := Default()
	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c.StartType < START_REPL || c.StartType > START_NONE {
		return fmt.Errorf("unknown start type %d", c.StartType)
	}
	if c.StartType == START_SINGLE_COMMAND && (c.StartCommand == nil || *c.StartCommand == "") {
		return errors.New("start type is single command, but no command is set")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Planes.CursorWidth <= 0 || c.Planes.CursorHeight <= 0 {
		return fmt.Errorf("cursor size %dx%d is not positive", c.Planes.CursorWidth, c.Planes.CursorHeight)
	}
	if c.Planes.Overlays < 0 || c.Planes.MaxActivePlanes < 0 {
		return errors.New("plane counts can't be negative")
	}
	return nil
}

// Level returns the configured log level
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
