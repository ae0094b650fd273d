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

// Package config loads the engine configuration from YAML with KEYBOX_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-keybox/pkg/gate"
	"github.com/jeremyhahn/go-keybox/pkg/logging"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYBOX_"

// Storage backend names.
const (
	BackendFile    = "file"
	BackendMemory  = "memory"
	BackendVault   = "vault"
	BackendKeyring = "keyring"
)

// DefaultDataDir is where the host keeps the keybox and property documents.
const DefaultDataDir = "/data/system"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete engine configuration.
type Config struct {
	Logging logging.Config `yaml:"logging"`
	Storage StorageConfig  `yaml:"storage"`
	Keybox  KeyboxConfig   `yaml:"keybox"`
	Props   PropsConfig    `yaml:"props"`
	Policy  gate.Policy    `yaml:"policy"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// StorageConfig selects the backend holding the documents.
type StorageConfig struct {
	Backend string         `yaml:"backend"`
	Path    string         `yaml:"path"`
	Vault   *VaultConfig   `yaml:"vault,omitempty"`
	Keyring *KeyringConfig `yaml:"keyring,omitempty"`
}

// VaultConfig contains HashiCorp Vault backend settings.
type VaultConfig struct {
	Address       string        `yaml:"address"`
	Token         string        `yaml:"token"`
	Namespace     string        `yaml:"namespace"`
	Mount         string        `yaml:"mount"`
	Path          string        `yaml:"path"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	Timeout       time.Duration `yaml:"timeout"`
}

// KeyringConfig contains OS keyring backend settings.
type KeyringConfig struct {
	ServiceName string   `yaml:"service_name"`
	Backends    []string `yaml:"backends"`
	FileDir     string   `yaml:"file_dir"`
	Password    string   `yaml:"password"`
}

// KeyboxConfig names the keybox document.
type KeyboxConfig struct {
	Document string `yaml:"document"`
}

// PropsConfig controls build property overrides.
type PropsConfig struct {
	Document         string `yaml:"document"`
	StockFingerprint string `yaml:"stock_fingerprint"`
}

// MetricsConfig controls metric collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: logging.Config{Level: "info", Format: logging.FormatText},
		Storage: StorageConfig{Backend: BackendFile, Path: DefaultDataDir},
		Keybox:  KeyboxConfig{Document: storage.KeyboxDocument},
		Props:   PropsConfig{Document: storage.PropsDocument},
		Policy:  gate.DefaultPolicy(),
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg, slog.Default())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, log *slog.Logger) {
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv(EnvPrefix + "STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv(EnvPrefix + "DOCUMENT"); v != "" {
		cfg.Keybox.Document = v
	}
	if v := os.Getenv(EnvPrefix + "PROPS_DOCUMENT"); v != "" {
		cfg.Props.Document = v
	}
	if v := os.Getenv(EnvPrefix + "STOCK_FINGERPRINT"); v != "" {
		cfg.Props.StockFingerprint = v
	}

	envBool(log, EnvPrefix+"ENABLED", &cfg.Policy.Enabled)
	envBool(log, EnvPrefix+"SUBSTITUTION", &cfg.Policy.SubstitutionEnabled)
	envBool(log, EnvPrefix+"MIRROR_BOOT_STATE", &cfg.Policy.MirrorBootState)
	envBool(log, EnvPrefix+"METRICS_ENABLED", &cfg.Metrics.Enabled)
	if v := os.Getenv(EnvPrefix + "INTEGRITY_PACKAGES"); v != "" {
		cfg.Policy.IntegrityPackages = splitList(v)
	}

	if cfg.Storage.Vault != nil {
		if addr := os.Getenv("VAULT_ADDR"); addr != "" {
			cfg.Storage.Vault.Address = addr
		}
		if token := os.Getenv("VAULT_TOKEN"); token != "" {
			cfg.Storage.Vault.Token = token
		}
		if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
			cfg.Storage.Vault.Namespace = namespace
		}
	}
	if cfg.Storage.Keyring != nil {
		if password := os.Getenv(EnvPrefix + "KEYRING_PASSWORD"); password != "" {
			cfg.Storage.Keyring.Password = password
		}
	}
}

func envBool(log *slog.Logger, name string, dst *bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn("Ignoring invalid boolean environment override",
			slog.String("name", name), slog.String("value", v))
		return
	}
	*dst = b
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be json or text)", ErrInvalidConfig, c.Logging.Format)
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage path must be specified for the file backend", ErrInvalidConfig)
		}
	case BackendMemory:
	case BackendVault:
		if c.Storage.Vault == nil || c.Storage.Vault.Address == "" {
			return fmt.Errorf("%w: vault address is required for the vault backend", ErrInvalidConfig)
		}
	case BackendKeyring:
	default:
		return fmt.Errorf("%w: unknown storage backend %q (must be file, memory, vault or keyring)",
			ErrInvalidConfig, c.Storage.Backend)
	}

	if err := validation.ValidateDocumentName(c.Keybox.Document); err != nil {
		return fmt.Errorf("%w: keybox document: %v", ErrInvalidConfig, err)
	}
	if err := validation.ValidateDocumentName(c.Props.Document); err != nil {
		return fmt.Errorf("%w: props document: %v", ErrInvalidConfig, err)
	}
	if c.Keybox.Document == c.Props.Document {
		return fmt.Errorf("%w: keybox and props documents must differ", ErrInvalidConfig)
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
