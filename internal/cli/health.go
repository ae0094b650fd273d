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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keybox/pkg/health"
	"github.com/jeremyhahn/go-keybox/pkg/hooks"
)

func newHealthCmd(v *viper.Viper) *cobra.Command {
	var keyboxPath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check storage, keybox and property documents",
		Long: `Run the engine health checks against the configured storage backend.
The command fails when any check is unhealthy; degraded checks, such as a
missing keybox, are reported but do not fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settingsFrom(v)
			printer, err := NewPrinter(s.OutputFormat, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cfg, err := s.loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			backend, err := openDocuments(cmd, cfg, keyboxPath)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			h, err := hooks.New(hooks.Options{
				Backend:   backend,
				KeyboxKey: cfg.Keybox.Document,
				PropsKey:  cfg.Props.Document,
				Policy:    cfg.Policy,
				Logger:    log,
			})
			if err != nil {
				return err
			}

			results := h.Health(cmd.Context())
			status := health.AggregateStatus(results)
			if err := printer.PrintHealth(status, results); err != nil {
				return err
			}
			if status == health.StatusUnhealthy {
				return fmt.Errorf("health check failed: %s", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyboxPath, "keybox", "", "keybox document to check instead of the configured backend")
	return cmd
}
