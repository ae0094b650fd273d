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

package storage

import "errors"

var (
	// ErrClosed is returned when attempting to use a closed storage.
	ErrClosed = errors.New("storage: closed")

	// ErrNotFound is returned when a document is not found.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidKey is returned when a document key is empty or unsafe.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrInvalidData is returned when a backend holds a value of the wrong shape.
	ErrInvalidData = errors.New("storage: invalid data")

	// ErrUnavailable is returned when a remote backend cannot be reached.
	ErrUnavailable = errors.New("storage: backend unavailable")
)
