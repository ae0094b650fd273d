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

package validation

import (
	"strings"
	"testing"
)

func TestValidateDocumentName(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"keybox", "keybox.xml", false},
		{"props", "gms_certified_props.json", false},
		{"dashes", "keybox-2025.xml", false},

		{"empty string", "", true},
		{"null byte", "keybox\x00.xml", true},
		{"path traversal double dot", "../keybox.xml", true},
		{"path traversal middle", "foo/../bar.xml", true},
		{"absolute path unix", "/data/system/keybox.xml", true},
		{"control character", "key\nbox.xml", true},
		{"subdirectory", "keys/keybox.xml", true},
		{"space", "key box.xml", true},
		{"too long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentName(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDocumentName(%q) error = %v, wantErr %v", tt.doc, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		pkg     string
		wantErr bool
	}{
		{"play store", "com.android.vending", false},
		{"services", "com.google.android.gms", false},
		{"underscore", "org.example.my_app", false},
		{"single segment", "android", false},

		{"empty", "", true},
		{"leading dot", ".com.example", true},
		{"trailing dot", "com.example.", true},
		{"double dot", "com..example", true},
		{"digit segment", "com.1example", true},
		{"process suffix", "com.example:remote", true},
		{"slash", "com.example/.Main", true},
		{"space", "com.example app", true},
		{"null byte", "com.example\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.pkg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePackageName(%q) error = %v, wantErr %v", tt.pkg, err, tt.wantErr)
			}
		})
	}
}

func TestValidateProcessName(t *testing.T) {
	tests := []struct {
		name    string
		process string
		wantErr bool
	}{
		{"main process", "com.google.android.gms", false},
		{"dotted process", "com.google.android.gms.unstable", false},
		{"private process", "com.google.android.gms:snet", false},
		{"private numeric", "com.example:p0", false},

		{"empty", "", true},
		{"empty suffix", "com.example:", true},
		{"bad suffix", "com.example:a.b", true},
		{"two colons", "com.example:a:b", true},
		{"bad package", ":remote", true},
		{"control character", "com.example\t", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProcessName(tt.process)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProcessName(%q) error = %v, wantErr %v", tt.process, err, tt.wantErr)
			}
		})
	}
}

func TestValidateComponentName(t *testing.T) {
	tests := []struct {
		name      string
		component string
		wantErr   bool
	}{
		{"relative class", "com.google.android.gms/.auth.uiflows.minutemaid.MinuteMaidActivity", false},
		{"absolute class", "com.example/com.example.MainActivity", false},
		{"inner class", "com.example/.Outer$Inner", false},

		{"empty", "", true},
		{"no slash", "com.example.MainActivity", true},
		{"empty class", "com.example/", true},
		{"empty package", "/.Main", true},
		{"bad package", "com..example/.Main", true},
		{"bad class", "com.example/.Main Activity", true},
		{"two slashes", "com.example/.Main/x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComponentName(tt.component)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateComponentName(%q) error = %v, wantErr %v", tt.component, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"normal string", "com.example.app", "com.example.app"},
		{"newline injection", "com.example\nlevel=ERROR msg=forged", "com.examplelevel=ERROR msg=forged"},
		{"null byte", "com\x00.example", "com.example"},
		{"del character", "com\x7f.example", "com.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.input); got != tt.want {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	long := SanitizeForLog(strings.Repeat("a", 2000))
	if !strings.HasSuffix(long, "...[truncated]") || len(long) != 1000+len("...[truncated]") {
		t.Errorf("SanitizeForLog did not truncate: len=%d", len(long))
	}
}
