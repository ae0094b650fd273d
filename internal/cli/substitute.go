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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keybox/internal/config"
	"github.com/jeremyhahn/go-keybox/pkg/correlation"
	"github.com/jeremyhahn/go-keybox/pkg/encoding"
	"github.com/jeremyhahn/go-keybox/pkg/gate"
	"github.com/jeremyhahn/go-keybox/pkg/hooks"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/storage/memory"
)

func newSubstituteCmd(v *viper.Viper) *cobra.Command {
	var (
		keyboxPath string
		caller     gate.CallerContext
	)

	cmd := &cobra.Command{
		Use:   "substitute <chain.pem>",
		Short: "Run a certificate chain through the attestation gate",
		Long: `Run a PEM certificate chain, leaf first, through the attestation gate
with the configured policy and print the chain a caller would receive.

The keybox document is read from --keybox when given, otherwise from the
configured storage backend. A refused request exits with an error.`,
		Args: cobra.ExactArgs(1),
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

			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			chain, err := encoding.DecodeCertificateChainPEM(data)
			if err != nil {
				return err
			}

			backend, err := openDocuments(cmd, cfg, keyboxPath)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			h, err := hooks.New(hooks.Options{
				Backend:          backend,
				KeyboxKey:        cfg.Keybox.Document,
				PropsKey:         cfg.Props.Document,
				Policy:           cfg.Policy,
				Caller:           caller,
				StockFingerprint: cfg.Props.StockFingerprint,
				Logger:           log,
			})
			if err != nil {
				return err
			}

			ctx := correlation.WithRequestID(cmd.Context(), correlation.NewID())
			res, err := h.Handle(ctx, chain)
			if err != nil {
				return err
			}
			return printer.PrintGateResult(res)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&keyboxPath, "keybox", "", "keybox document to use instead of the configured backend")
	flags.StringVar(&caller.PackageName, "package", "", "package name of the calling app")
	flags.StringVar(&caller.ProcessName, "process", "", "process name of the calling app")
	flags.IntVar(&caller.CallingUID, "uid", 0, "uid of the calling app")
	return cmd
}

// openDocuments returns the backend holding the keybox document. A file
// given on the command line is loaded into a memory backend.
func openDocuments(cmd *cobra.Command, cfg *config.Config, keyboxPath string) (storage.Backend, error) {
	if keyboxPath == "" {
		return cfg.Storage.OpenBackend(nil)
	}
	data, err := readInput(cmd, keyboxPath)
	if err != nil {
		return nil, err
	}
	backend := memory.New()
	if err := backend.Put(cfg.Keybox.Document, data, storage.DefaultOptions()); err != nil {
		return nil, err
	}
	return backend, nil
}
