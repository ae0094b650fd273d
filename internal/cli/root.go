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

// Package cli implements the keybox command line tool.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. Every call returns independent
// commands and settings.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("KEYBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "keybox",
		Short: "go-keybox CLI - Attestation keybox tooling",
		Long: `go-keybox CLI validates keybox documents, decodes key attestation
extensions and runs certificate chains through the attestation gate.

Supported storage backends:
  - file:    documents in a data directory
  - memory:  in-process, for testing
  - vault:   HashiCorp Vault KV v2
  - keyring: the OS secret store`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "config file (YAML)")
	flags.StringP(flagOutput, "o", string(OutputFormatText), "output format (text, json)")
	flags.String(flagLogLevel, "", "log level (debug, info, warn, error)")
	flags.BoolP(flagVerbose, "v", false, "verbose output")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newVersionCmd(v),
		newValidateCmd(v),
		newInspectCmd(v),
		newSubstituteCmd(v),
		newHealthCmd(v),
		newWatchCmd(v),
	)
	return rootCmd
}
