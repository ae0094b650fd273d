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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keybox/pkg/attestation"
	"github.com/jeremyhahn/go-keybox/pkg/encoding"
)

func newInspectCmd(v *viper.Viper) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "inspect <chain.pem>",
		Short: "Decode the key attestation extension of a certificate",
		Long: `Decode and print the key attestation extension of the first
certificate in a PEM file. With --verify the signatures and validity of
the whole chain are checked as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := NewPrinter(settingsFrom(v).OutputFormat, cmd.OutOrStdout())
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
			ext, err := attestation.FromCertificate(chain[0])
			if err != nil {
				return err
			}

			var chainErr error
			if verify {
				chainErr = attestation.NewVerifier(nil).VerifyChain(chain, time.Now())
			}
			return printer.PrintReport(ext.Report(), chainErr)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the certificate chain")
	return cmd
}
