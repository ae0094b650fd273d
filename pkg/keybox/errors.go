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

import "errors"

var (
	// ErrDocumentAbsent is returned when there is no usable keybox document:
	// it is missing, unreadable, or lacks the Keybox marker. Callers treat it
	// as "substitution not configured", not as a failure.
	ErrDocumentAbsent = errors.New("keybox: document absent")

	// ErrMalformedDocument is returned when a keybox document fails to parse.
	// The repository store is cleared whenever this is returned.
	ErrMalformedDocument = errors.New("keybox: malformed document")

	// ErrUnsupportedAlgorithm is returned when the store holds no entry for a
	// public key algorithm, or the algorithm is neither RSA nor ECDSA.
	ErrUnsupportedAlgorithm = errors.New("keybox: unsupported algorithm")
)
