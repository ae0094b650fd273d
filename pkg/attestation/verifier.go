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

package attestation

import (
	"crypto/x509"
	"fmt"
	"time"
)

// Verifier checks that certificate chains link together: every certificate
// is signed by the one after it, and the last one is either self-signed or
// signed by a trusted root.
type Verifier struct {
	// trustedRoots are root certificates trusted for chain validation
	trustedRoots []*x509.Certificate
}

// NewVerifier creates a new chain verifier.
//
// Parameters:
//   - trustedRoots: Root certificates to trust (can be empty for self-signed)
//
// Returns:
//   - A new Verifier instance
func NewVerifier(trustedRoots []*x509.Certificate) *Verifier {
	roots := make([]*x509.Certificate, len(trustedRoots))
	copy(roots, trustedRoots)
	return &Verifier{
		trustedRoots: roots,
	}
}

// VerifyChain validates chain, leaf first. When at is non-zero every
// certificate must also be valid at that time. Errors wrap ErrInvalidChain.
//
// Chains signed with SHA-1 are rejected by crypto/x509 and fail here.
func (v *Verifier) VerifyChain(chain []*x509.Certificate, at time.Time) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty certificate chain", ErrInvalidChain)
	}

	for i, cert := range chain {
		if !at.IsZero() {
			if at.Before(cert.NotBefore) {
				return fmt.Errorf("%w: certificate %d not yet valid (valid from %s)", ErrInvalidChain, i, cert.NotBefore)
			}
			if at.After(cert.NotAfter) {
				return fmt.Errorf("%w: certificate %d expired (expired at %s)", ErrInvalidChain, i, cert.NotAfter)
			}
		}

		if i+1 < len(chain) {
			next := chain[i+1]
			if err := next.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
				return fmt.Errorf("%w: certificate %d is not signed by certificate %d: %v", ErrInvalidChain, i, i+1, err)
			}
		}
	}

	return v.verifyAnchor(chain[len(chain)-1])
}

// verifyAnchor checks the last certificate of a chain.
func (v *Verifier) verifyAnchor(last *x509.Certificate) error {
	for _, root := range v.trustedRoots {
		if root.Equal(last) {
			return nil
		}
		if err := root.CheckSignature(last.SignatureAlgorithm, last.RawTBSCertificate, last.Signature); err == nil {
			return nil
		}
	}
	if len(v.trustedRoots) > 0 {
		return fmt.Errorf("%w: chain does not end at a trusted root", ErrInvalidChain)
	}

	if err := last.CheckSignature(last.SignatureAlgorithm, last.RawTBSCertificate, last.Signature); err != nil {
		return fmt.Errorf("%w: invalid self-signed certificate: %v", ErrInvalidChain, err)
	}
	return nil
}
