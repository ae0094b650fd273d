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

package gate

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedOperation is the signal hosts translate into their
	// platform's unsupported-operation failure.
	ErrUnsupportedOperation = errors.New("gate: unsupported operation")

	// ErrRefused is returned when the refusal policy blocks a request. It
	// wraps ErrUnsupportedOperation and is the only error Handle returns.
	ErrRefused = fmt.Errorf("gate: key attestation refused: %w", ErrUnsupportedOperation)

	// ErrInvalidPolicy is returned by Policy.Validate.
	ErrInvalidPolicy = errors.New("gate: invalid policy")
)
