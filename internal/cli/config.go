// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keybox/internal/config"
	"github.com/jeremyhahn/go-keybox/pkg/logging"
	"github.com/jeremyhahn/go-keybox/pkg/metrics"
)

const (
	flagConfig   = "config"
	flagOutput   = "output"
	flagLogLevel = "log-level"
	flagVerbose  = "verbose"
)

// Settings holds the global CLI settings resolved from flags and KEYBOX_*
// environment variables.
type Settings struct {
	ConfigFile   string
	OutputFormat string
	LogLevel     string
	Verbose      bool
}

func settingsFrom(v *viper.Viper) Settings {
	return Settings{
		ConfigFile:   v.GetString(flagConfig),
		OutputFormat: v.GetString(flagOutput),
		LogLevel:     v.GetString(flagLogLevel),
		Verbose:      v.GetBool(flagVerbose),
	}
}

// loadConfig reads the config file when one is set and applies the log
// level settings on top.
func (s Settings) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if s.ConfigFile != "" {
		cfg, err = config.Load(s.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = config.Parse(nil)
		if err != nil {
			return nil, err
		}
	}

	if s.LogLevel != "" {
		cfg.Logging.Level = s.LogLevel
	}
	if s.Verbose {
		cfg.Logging.Level = "debug"
	}
	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	lc := cfg.Logging
	lc.Output = w
	log, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	return log, nil
}
