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

import "errors"

var (
	// ErrExtensionNotFound is returned when a certificate carries no key
	// attestation extension. There is nothing to rewrite.
	ErrExtensionNotFound = errors.New("attestation: no attestation extension")

	// ErrMalformedExtension is returned when the extension is present but its
	// key description cannot be decoded.
	ErrMalformedExtension = errors.New("attestation: malformed attestation extension")

	// ErrMalformedRootOfTrust is returned when the RootOfTrust entry of an
	// authorization list cannot be decoded.
	ErrMalformedRootOfTrust = errors.New("attestation: malformed root of trust")

	// ErrInvalidChain is returned by chain verification.
	ErrInvalidChain = errors.New("attestation: invalid certificate chain")
)
