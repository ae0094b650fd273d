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

package keybox

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"strings"
)

// Algorithm identifies the public key algorithm a keybox entry serves.
type Algorithm int

const (
	// RSA keys (x509.RSA)
	RSA Algorithm = iota + 1
	// ECDSA keys (x509.ECDSA)
	ECDSA
)

// String returns "RSA" or "ECDSA".
func (a Algorithm) String() string {
	switch a {
	case RSA:
		return "RSA"
	case ECDSA:
		return "ECDSA"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseAlgorithm normalises a keybox algorithm attribute. "ecdsa" in any case
// selects ECDSA and every other value, including an empty one, selects RSA.
func ParseAlgorithm(tag string) Algorithm {
	if strings.EqualFold(strings.TrimSpace(tag), "ecdsa") {
		return ECDSA
	}
	return RSA
}

// AlgorithmOf returns the algorithm of a public key.
func AlgorithmOf(pub crypto.PublicKey) (Algorithm, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return RSA, nil
	case *ecdsa.PublicKey:
		return ECDSA, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, pub)
	}
}
