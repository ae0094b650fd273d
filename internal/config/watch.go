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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jeremyhahn/go-keybox/pkg/logging"
)

// Watch reloads the file at path whenever it changes and passes each valid
// configuration to onChange. Files that fail to load are logged and
// skipped. Watch blocks until ctx is done.
//
// The parent directory is watched so that editors which replace the file
// instead of writing it in place are still seen.
func Watch(ctx context.Context, path string, onChange func(*Config), log *slog.Logger) error {
	log = logging.OrDiscard(log)

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: failed to resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: failed to watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("Ignoring configuration change", slog.String("path", abs), slog.Any("error", err))
				continue
			}
			log.Info("Configuration reloaded", slog.String("path", abs))
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("Configuration watcher error", slog.Any("error", err))
		}
	}
}
