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

package config

import (
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/storage/file"
	"github.com/jeremyhahn/go-keybox/pkg/storage/keyring"
	"github.com/jeremyhahn/go-keybox/pkg/storage/memory"
	"github.com/jeremyhahn/go-keybox/pkg/storage/vault"
)

// OpenBackend creates the storage backend selected by c.
func (c *StorageConfig) OpenBackend(log *slog.Logger) (storage.Backend, error) {
	switch c.Backend {
	case BackendFile:
		return file.New(c.Path)
	case BackendMemory:
		return memory.New(), nil
	case BackendVault:
		if c.Vault == nil {
			return nil, fmt.Errorf("%w: vault settings are missing", ErrInvalidConfig)
		}
		return vault.New(&vault.Config{
			Address:       c.Vault.Address,
			Token:         c.Vault.Token,
			Namespace:     c.Vault.Namespace,
			Mount:         c.Vault.Mount,
			Path:          c.Vault.Path,
			TLSSkipVerify: c.Vault.TLSSkipVerify,
			Timeout:       c.Vault.Timeout,
		}, log)
	case BackendKeyring:
		kc := &keyring.Config{}
		if c.Keyring != nil {
			kc = &keyring.Config{
				ServiceName: c.Keyring.ServiceName,
				Backends:    c.Keyring.Backends,
				FileDir:     c.Keyring.FileDir,
				Password:    c.Keyring.Password,
			}
		}
		return keyring.New(kc)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Backend)
	}
}
