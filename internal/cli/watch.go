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
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keybox/internal/config"
	"github.com/jeremyhahn/go-keybox/pkg/hooks"
	"github.com/jeremyhahn/go-keybox/pkg/keybox"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Check the keybox and apply policy changes as the config file changes",
		Long: `Load the configured keybox document once, then watch the config file
and install each new policy the way the host's reload hook does. Runs
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settingsFrom(v)
			if s.ConfigFile == "" {
				return errors.New("watch requires --config")
			}
			cfg, err := s.loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			backend, err := cfg.Storage.OpenBackend(log)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			h, err := hooks.New(hooks.Options{
				Backend:          backend,
				KeyboxKey:        cfg.Keybox.Document,
				PropsKey:         cfg.Props.Document,
				Policy:           cfg.Policy,
				StockFingerprint: cfg.Props.StockFingerprint,
				Logger:           log,
			})
			if err != nil {
				return err
			}

			store, err := h.Keyboxes().Load()
			switch {
			case errors.Is(err, keybox.ErrDocumentAbsent):
				log.Warn("No keybox document", slog.String("document", cfg.Keybox.Document))
			case err != nil:
				log.Error("Keybox document is unusable", slog.Any("error", err))
			default:
				log.Info("Keybox document loaded", slog.Int("entries", store.Len()))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return config.Watch(ctx, s.ConfigFile, func(next *config.Config) {
				if err := h.Reload(next.Policy); err != nil {
					log.Error("Policy reload rejected", slog.Any("error", err))
				}
			}, log)
		},
	}
}
