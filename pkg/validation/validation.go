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

// Package validation checks the identifiers go-keybox accepts from
// configuration and callers: package, process and component names, and
// storage document keys.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// packagePattern matches dotted Java-style package names.
	packagePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)

	// classPattern matches a class name, optionally relative to the package.
	classPattern = regexp.MustCompile(`^\.?[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

	// processSuffixPattern matches the part after ':' in a private process name.
	processSuffixPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

	// documentPattern matches safe document names
	documentPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)
)

const (
	maxNameLength     = 255
	maxLogValueLength = 1000
)

// checkCommon rejects empty values, null bytes, control characters and
// overlong values. It runs before any pattern match.
func checkCommon(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if strings.Contains(s, "\x00") {
		return fmt.Errorf("%s contains null byte", kind)
	}
	if len(s) > maxNameLength {
		return fmt.Errorf("%s too long (max %d characters)", kind, maxNameLength)
	}
	for _, r := range s {
		if r < 32 || r == 127 {
			return fmt.Errorf("%s contains control characters", kind)
		}
	}
	return nil
}

// ValidatePackageName validates an application package name such as
// "com.android.vending".
func ValidatePackageName(pkg string) error {
	if err := checkCommon("package name", pkg); err != nil {
		return err
	}
	if !packagePattern.MatchString(pkg) {
		return fmt.Errorf("package name %q is not a dotted identifier", pkg)
	}
	return nil
}

// ValidateProcessName validates a process name. Processes are named after
// their package, optionally with a ":suffix" for private processes, or
// use another dotted name such as "com.google.android.gms.unstable".
func ValidateProcessName(process string) error {
	if err := checkCommon("process name", process); err != nil {
		return err
	}
	name, suffix, private := strings.Cut(process, ":")
	if !packagePattern.MatchString(name) {
		return fmt.Errorf("process name %q is not a dotted identifier", process)
	}
	if private && !processSuffixPattern.MatchString(suffix) {
		return fmt.Errorf("process name %q has an invalid private suffix", process)
	}
	return nil
}

// ValidateComponentName validates a flattened component name of the form
// "package/class", where class may be relative to package (".Main").
func ValidateComponentName(component string) error {
	if err := checkCommon("component name", component); err != nil {
		return err
	}
	pkg, class, ok := strings.Cut(component, "/")
	if !ok {
		return fmt.Errorf("component name %q is not a package/class component name", component)
	}
	if err := ValidatePackageName(pkg); err != nil {
		return fmt.Errorf("component name %q: %w", component, err)
	}
	if !classPattern.MatchString(class) {
		return fmt.Errorf("component name %q has an invalid class name", component)
	}
	return nil
}

// ValidateDocumentName validates the storage key of a document.
// Prevents path traversal by:
// - Rejecting absolute paths
// - Rejecting parent directory references (..)
// - Allowing only safe characters
func ValidateDocumentName(name string) error {
	if err := checkCommon("document name", name); err != nil {
		return err
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("document name cannot be an absolute path")
	}
	cleaned := filepath.Clean(name)
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, string(filepath.Separator)+"..") {
		return fmt.Errorf("document name contains path traversal attempt")
	}
	if !documentPattern.MatchString(name) {
		return fmt.Errorf("document name contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, .)")
	}
	return nil
}

// SanitizeForLog sanitizes a caller supplied string for safe logging
// (prevents log injection).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > maxLogValueLength {
		s = s[:maxLogValueLength] + "...[truncated]"
	}
	return s
}
