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

package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-keybox/pkg/keybox"
	"github.com/jeremyhahn/go-keybox/pkg/props"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

// Check names.
const (
	CheckStorage = "storage"
	CheckKeybox  = "keybox"
	CheckProps   = "props"
)

// KeyboxLoader loads the current keybox store. *keybox.Repository
// implements it.
type KeyboxLoader interface {
	Load() (*keybox.Store, error)
}

// StorageCheck reports whether backend answers for key.
func StorageCheck(backend storage.Backend, key string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if _, err := backend.Exists(key); err != nil {
			return CheckResult{
				Name:    CheckStorage,
				Status:  StatusUnhealthy,
				Message: "Storage backend unavailable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Name: CheckStorage, Status: StatusHealthy, Message: "Storage backend reachable"}
	}
}

// KeyboxCheck reports whether substitution is possible. A missing or empty
// document degrades the engine to passthrough; a malformed document or a
// key that does not match its chain is unhealthy.
func KeyboxCheck(loader KeyboxLoader) CheckFunc {
	return func(ctx context.Context) CheckResult {
		store, err := loader.Load()
		switch {
		case errors.Is(err, keybox.ErrDocumentAbsent):
			return CheckResult{Name: CheckKeybox, Status: StatusDegraded, Message: "No keybox document, passthrough only"}
		case err != nil:
			return CheckResult{
				Name:    CheckKeybox,
				Status:  StatusUnhealthy,
				Message: "Keybox document unusable",
				Error:   err.Error(),
			}
		case store.IsEmpty():
			return CheckResult{Name: CheckKeybox, Status: StatusDegraded, Message: "Keybox document has no keys, passthrough only"}
		}

		var mismatched []string
		algs := make([]string, 0, store.Len())
		for _, e := range store.Entries() {
			algs = append(algs, e.Algorithm.String())
			if !e.MatchesChain() {
				mismatched = append(mismatched, e.Algorithm.String())
			}
		}
		if len(mismatched) > 0 {
			return CheckResult{
				Name:    CheckKeybox,
				Status:  StatusUnhealthy,
				Message: "Keybox key does not match its certificate chain",
				Error:   fmt.Sprintf("mismatched keys: %s", strings.Join(mismatched, ", ")),
			}
		}
		return CheckResult{
			Name:    CheckKeybox,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("Keyboxes loaded: %s", strings.Join(algs, ", ")),
		}
	}
}

// PropsCheck reports whether the certified property document parses. A
// missing document is degraded since verification processes then keep the
// device's own properties.
func PropsCheck(backend storage.Backend, key string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		data, err := backend.Get(key)
		switch {
		case storage.IsNotFound(err):
			return CheckResult{Name: CheckProps, Status: StatusDegraded, Message: "No certified props document"}
		case err != nil:
			return CheckResult{
				Name:    CheckProps,
				Status:  StatusUnhealthy,
				Message: "Certified props document unreadable",
				Error:   err.Error(),
			}
		}
		values, err := props.ParseDocument(data)
		if err != nil {
			return CheckResult{
				Name:    CheckProps,
				Status:  StatusUnhealthy,
				Message: "Certified props document malformed",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Name:    CheckProps,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("Certified props: %d", len(values)),
		}
	}
}
