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

// Package vault provides a storage.Backend that keeps documents in a
// HashiCorp Vault KV version 2 secrets engine. Each document is one secret at
// <mount>/data/<path>/<key> holding the document text under "content". The
// KV metadata version doubles as the document revision.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

const (
	contentField   = "content"
	defaultMount   = "secret"
	defaultTimeout = 10 * time.Second
)

// Config holds the configuration for the Vault document store.
type Config struct {
	// Address is the Vault server address (e.g., "http://127.0.0.1:8200")
	Address string

	// Token is the Vault authentication token
	Token string

	// Mount is the KV v2 mount path (default: "secret")
	Mount string

	// Path is the directory within the mount that holds the documents
	Path string

	// Namespace is the Vault namespace (Enterprise feature, optional)
	Namespace string

	// TLSSkipVerify disables TLS certificate verification (not recommended for production)
	TLSSkipVerify bool

	// Timeout bounds every request made to Vault (default: 10s)
	Timeout time.Duration
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("vault address is required")
	}
	if c.Token == "" {
		return fmt.Errorf("vault token is required")
	}
	if c.Mount == "" {
		c.Mount = defaultMount
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.Mount = strings.Trim(c.Mount, "/")
	c.Path = strings.Trim(c.Path, "/")
	return nil
}

// Storage implements storage.Backend and storage.Revisioner on Vault KV v2.
type Storage struct {
	client  *api.Client
	config  Config
	log     *slog.Logger
	closed  bool
	timeout time.Duration
}

// New creates a Vault document store. A nil logger discards log output.
func New(config *Config, log *slog.Logger) (*Storage, error) {
	if config == nil {
		return nil, fmt.Errorf("vault storage: config is required")
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vault storage: config validation failed: %w", err)
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	vaultConfig.Timeout = cfg.Timeout
	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("vault storage: failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Storage{
		client:  client,
		config:  cfg,
		log:     log.With(slog.String("backend", "vault"), slog.String("mount", cfg.Mount)),
		timeout: cfg.Timeout,
	}, nil
}

// Get returns the document stored under key.
func (s *Storage) Get(key string) ([]byte, error) {
	secret, err := s.read(key)
	if err != nil {
		return nil, err
	}
	return contentOf(secret)
}

// Put writes value as a new version of the document under key.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	if s.closed {
		return storage.ErrClosed
	}
	path, err := s.dataPath(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			contentField: string(value),
		},
	}
	if _, err := s.client.Logical().WriteWithContext(ctx, path, payload); err != nil {
		s.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	s.log.Debug("Stored document in Vault", slog.String("key", key))
	return nil
}

// Delete removes every version of the document under key.
func (s *Storage) Delete(key string) error {
	exists, err := s.Exists(key)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}

	path, err := s.metadataPath(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.client.Logical().DeleteWithContext(ctx, path); err != nil {
		s.log.Error("Failed to delete from Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// List returns all document keys below the configured path that start with prefix.
func (s *Storage) List(prefix string) ([]string, error) {
	if s.closed {
		return nil, storage.ErrClosed
	}

	keys, err := s.listDir("")
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
	}
	sort.Strings(result)
	return result, nil
}

// Exists checks if a document exists under key.
func (s *Storage) Exists(key string) (bool, error) {
	_, err := s.read(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Revision returns the KV v2 version number of the current document.
func (s *Storage) Revision(key string) (string, error) {
	secret, err := s.read(key)
	if err != nil {
		return "", err
	}

	metadata, ok := secret.Data["metadata"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: missing metadata for %q", storage.ErrInvalidData, key)
	}
	version, ok := metadata["version"]
	if !ok || version == nil {
		return "", fmt.Errorf("%w: missing version for %q", storage.ErrInvalidData, key)
	}
	return fmt.Sprint(version), nil
}

// Close marks the store closed. The Vault client holds no resources that need releasing.
func (s *Storage) Close() error {
	s.closed = true
	return nil
}

func (s *Storage) read(key string) (*api.Secret, error) {
	if s.closed {
		return nil, storage.ErrClosed
	}
	path, err := s.dataPath(key)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	// KV v2 keeps a tombstone with nil data for soft-deleted versions
	if secret == nil || secret.Data == nil || secret.Data["data"] == nil {
		s.log.Debug("Document not found in Vault", slog.String("path", path))
		return nil, storage.ErrNotFound
	}
	return secret, nil
}

func (s *Storage) listDir(dir string) ([]string, error) {
	path := s.config.Mount + "/metadata/" + s.join(dir)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	secret, err := s.client.Logical().ListWithContext(ctx, strings.TrimSuffix(path, "/"))
	if err != nil {
		s.log.Error("Failed to list Vault path", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	var keys []string
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			continue
		}
		if strings.HasSuffix(name, "/") {
			nested, err := s.listDir(dir + name)
			if err != nil {
				return nil, err
			}
			keys = append(keys, nested...)
			continue
		}
		keys = append(keys, dir+name)
	}
	return keys, nil
}

func (s *Storage) dataPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return s.config.Mount + "/data/" + s.join(key), nil
}

func (s *Storage) metadataPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return s.config.Mount + "/metadata/" + s.join(key), nil
}

func (s *Storage) join(key string) string {
	if s.config.Path == "" {
		return key
	}
	return s.config.Path + "/" + key
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	return nil
}

func contentOf(secret *api.Secret) ([]byte, error) {
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid data format in Vault response", storage.ErrInvalidData)
	}
	content, ok := data[contentField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: content key not found in Vault data", storage.ErrInvalidData)
	}
	return []byte(content), nil
}
