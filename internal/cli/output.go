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
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeremyhahn/go-keybox/pkg/attestation"
	"github.com/jeremyhahn/go-keybox/pkg/encoding"
	"github.com/jeremyhahn/go-keybox/pkg/gate"
	"github.com/jeremyhahn/go-keybox/pkg/health"
	"github.com/jeremyhahn/go-keybox/pkg/keybox"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) (*Printer, error) {
	f := OutputFormat(strings.ToLower(format))
	switch f {
	case "":
		f = OutputFormatText
	case OutputFormatText, OutputFormatJSON:
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
	return &Printer{format: f, writer: writer}, nil
}

type certSummary struct {
	Subject      string `json:"subject"`
	Issuer       string `json:"issuer"`
	SerialNumber string `json:"serial_number"`
	NotBefore    string `json:"not_before"`
	NotAfter     string `json:"not_after"`
}

func summarize(cert *x509.Certificate) certSummary {
	return certSummary{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore.UTC().String(),
		NotAfter:     cert.NotAfter.UTC().String(),
	}
}

type keyboxEntrySummary struct {
	Algorithm    string        `json:"algorithm"`
	DeviceID     string        `json:"device_id,omitempty"`
	ChainLength  int           `json:"chain_length"`
	KeyMatches   bool          `json:"key_matches_chain"`
	Certificates []certSummary `json:"certificates"`
}

// PrintKeyboxStore prints the entries of a parsed keybox document
func (p *Printer) PrintKeyboxStore(store *keybox.Store) error {
	entries := store.Entries()
	summaries := make([]keyboxEntrySummary, 0, len(entries))
	for _, e := range entries {
		s := keyboxEntrySummary{
			Algorithm:   e.Algorithm.String(),
			DeviceID:    e.DeviceID,
			ChainLength: len(e.CertificateChain),
			KeyMatches:  e.MatchesChain(),
		}
		for _, c := range e.CertificateChain {
			s.Certificates = append(s.Certificates, summarize(c))
		}
		summaries = append(summaries, s)
	}

	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"valid":   true,
			"entries": summaries,
		})
	default:
		if len(summaries) == 0 {
			fmt.Fprintln(p.writer, "No keyboxes found")
			return nil
		}
		fmt.Fprintf(p.writer, "Keyboxes: %d\n", len(summaries))
		for _, s := range summaries {
			fmt.Fprintf(p.writer, "  - %s (chain length %d)\n", s.Algorithm, s.ChainLength)
			if s.DeviceID != "" {
				fmt.Fprintf(p.writer, "    Device ID: %s\n", s.DeviceID)
			}
			if len(s.Certificates) > 0 {
				fmt.Fprintf(p.writer, "    Issuer:    %s\n", s.Certificates[0].Subject)
			}
			if !s.KeyMatches {
				fmt.Fprintln(p.writer, "    Warning:   private key does not match the first certificate")
			}
		}
		return nil
	}
}

// PrintReport prints a decoded attestation extension
func (p *Printer) PrintReport(r *attestation.Report, chainErr error) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]any{"attestation": r}
		if chainErr != nil {
			out["chain_error"] = chainErr.Error()
		}
		return p.printJSON(out)
	default:
		fmt.Fprintf(p.writer, "Attestation version:  %d (%s)\n", r.AttestationVersion, r.AttestationSecurityLevel)
		fmt.Fprintf(p.writer, "Keymaster version:    %d (%s)\n", r.KeymasterVersion, r.KeymasterSecurityLevel)
		fmt.Fprintf(p.writer, "Challenge:            %s\n", r.AttestationChallenge)
		if r.UniqueID != "" {
			fmt.Fprintf(p.writer, "Unique ID:            %s\n", r.UniqueID)
		}
		p.printEntries("Software enforced", r.SoftwareEnforced)
		p.printEntries("Hardware enforced", r.HardwareEnforced)
		if rot := r.RootOfTrust; rot != nil {
			fmt.Fprintln(p.writer, "Root of trust:")
			fmt.Fprintf(p.writer, "  Verified boot key:   %s\n", rot.VerifiedBootKey)
			fmt.Fprintf(p.writer, "  Device locked:       %t\n", rot.DeviceLocked)
			fmt.Fprintf(p.writer, "  Verified boot state: %s\n", rot.VerifiedBootState)
			if rot.VerifiedBootHash != "" {
				fmt.Fprintf(p.writer, "  Verified boot hash:  %s\n", rot.VerifiedBootHash)
			}
		}
		if chainErr != nil {
			fmt.Fprintf(p.writer, "Chain: invalid (%v)\n", chainErr)
		}
		return nil
	}
}

func (p *Printer) printEntries(title string, entries []attestation.ReportEntry) {
	fmt.Fprintf(p.writer, "%s:\n", title)
	if len(entries) == 0 {
		fmt.Fprintln(p.writer, "  (none)")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(p.writer, "  [%d] %-28s %s\n", e.Tag, e.Name, e.Value)
	}
}

// PrintGateResult prints the outcome of a gate decision and the resulting chain
func (p *Printer) PrintGateResult(res gate.Result) error {
	pemChain, err := encoding.EncodeCertificateChainPEM(res.Chain)
	if err != nil {
		return err
	}
	switch p.format {
	case OutputFormatJSON:
		chain := make([]certSummary, 0, len(res.Chain))
		for _, c := range res.Chain {
			chain = append(chain, summarize(c))
		}
		return p.printJSON(map[string]any{
			"outcome": res.Outcome.String(),
			"chain":   chain,
			"pem":     string(pemChain),
		})
	default:
		_, err := p.writer.Write(pemChain)
		return err
	}
}

// PrintHealth prints health check results
func (p *Printer) PrintHealth(status health.Status, results []health.CheckResult) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": status,
			"checks": results,
		})
	default:
		fmt.Fprintf(p.writer, "Status: %s\n", status)
		for _, r := range results {
			fmt.Fprintf(p.writer, "  %-8s %-10s %s\n", r.Name, r.Status, r.Message)
			if r.Error != "" {
				fmt.Fprintf(p.writer, "           error: %s\n", r.Error)
			}
		}
		return nil
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
