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

// Package props applies build property overrides through a key to setter
// table, the way the host exposes its build identity to apps.
package props

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

var (
	// ErrUnknownProperty is returned for keys that have no setter.
	ErrUnknownProperty = errors.New("props: unknown property")

	// ErrInvalidValue is returned when a value does not parse for its field.
	ErrInvalidValue = errors.New("props: invalid property value")

	// ErrMalformedDocument is returned for override documents that are not a
	// flat JSON object.
	ErrMalformedDocument = errors.New("props: malformed property document")
)

// Setter applies one property value.
type Setter func(value string) error

// Table maps property keys to setters. Keys of version fields carry a
// "VERSION:" prefix, for example "VERSION:SECURITY_PATCH".
type Table map[string]Setter

// Set applies value to key.
func (t Table) Set(key, value string) error {
	set, ok := t[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, key)
	}
	if err := set(value); err != nil {
		return fmt.Errorf("props: failed to set %s: %w", key, err)
	}
	return nil
}

// Keys returns the table keys in sorted order.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyResult reports what Apply did.
type ApplyResult struct {
	Applied []string
	Skipped map[string]error
}

// Apply sets every value in values, in key order. Failures are collected
// and never stop the remaining keys.
func (t Table) Apply(values map[string]string) ApplyResult {
	res := ApplyResult{Skipped: map[string]error{}}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := t.Set(k, values[k]); err != nil {
			res.Skipped[k] = err
			continue
		}
		res.Applied = append(res.Applied, k)
	}
	return res
}

// StringSetter returns a setter that stores into dst under mu.
func StringSetter(mu *sync.RWMutex, dst *string) Setter {
	return func(value string) error {
		mu.Lock()
		defer mu.Unlock()
		*dst = value
		return nil
	}
}

// IntSetter returns a setter that parses a base 10 int into dst under mu.
func IntSetter(mu *sync.RWMutex, dst *int) Setter {
	return func(value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %q is not an int", ErrInvalidValue, value)
		}
		mu.Lock()
		defer mu.Unlock()
		*dst = n
		return nil
	}
}

// Int64Setter returns a setter that parses a base 10 int64 into dst under mu.
func Int64Setter(mu *sync.RWMutex, dst *int64) Setter {
	return func(value string) error {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an int64", ErrInvalidValue, value)
		}
		mu.Lock()
		defer mu.Unlock()
		*dst = n
		return nil
	}
}
