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

package props

import "sync"

// BuildInfo is the build identity a host exposes to apps.
type BuildInfo struct {
	mu sync.RWMutex

	Brand        string
	Device       string
	Fingerprint  string
	ID           string
	Manufacturer string
	Model        string
	Product      string
	Tags         string
	Type         string
	// Time is the build time in milliseconds since the epoch.
	Time int64

	SecurityPatch       string
	DeviceInitialSDKInt int
	Release             string
	Incremental         string
}

// BuildSnapshot is a copy of BuildInfo's fields.
type BuildSnapshot struct {
	Brand               string `json:"BRAND"`
	Device              string `json:"DEVICE"`
	Fingerprint         string `json:"FINGERPRINT"`
	ID                  string `json:"ID"`
	Manufacturer        string `json:"MANUFACTURER"`
	Model               string `json:"MODEL"`
	Product             string `json:"PRODUCT"`
	Tags                string `json:"TAGS"`
	Type                string `json:"TYPE"`
	Time                int64  `json:"TIME"`
	SecurityPatch       string `json:"VERSION:SECURITY_PATCH"`
	DeviceInitialSDKInt int    `json:"VERSION:DEVICE_INITIAL_SDK_INT"`
	Release             string `json:"VERSION:RELEASE"`
	Incremental         string `json:"VERSION:INCREMENTAL"`
}

// Table returns the setter table for b.
func (b *BuildInfo) Table() Table {
	return Table{
		"BRAND":                          StringSetter(&b.mu, &b.Brand),
		"DEVICE":                         StringSetter(&b.mu, &b.Device),
		"FINGERPRINT":                    StringSetter(&b.mu, &b.Fingerprint),
		"ID":                             StringSetter(&b.mu, &b.ID),
		"MANUFACTURER":                   StringSetter(&b.mu, &b.Manufacturer),
		"MODEL":                          StringSetter(&b.mu, &b.Model),
		"PRODUCT":                        StringSetter(&b.mu, &b.Product),
		"TAGS":                           StringSetter(&b.mu, &b.Tags),
		"TYPE":                           StringSetter(&b.mu, &b.Type),
		"TIME":                           Int64Setter(&b.mu, &b.Time),
		"VERSION:SECURITY_PATCH":         StringSetter(&b.mu, &b.SecurityPatch),
		"VERSION:DEVICE_INITIAL_SDK_INT": IntSetter(&b.mu, &b.DeviceInitialSDKInt),
		"VERSION:RELEASE":                StringSetter(&b.mu, &b.Release),
		"VERSION:INCREMENTAL":            StringSetter(&b.mu, &b.Incremental),
	}
}

// Snapshot returns a consistent copy of the fields.
func (b *BuildInfo) Snapshot() BuildSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BuildSnapshot{
		Brand:               b.Brand,
		Device:              b.Device,
		Fingerprint:         b.Fingerprint,
		ID:                  b.ID,
		Manufacturer:        b.Manufacturer,
		Model:               b.Model,
		Product:             b.Product,
		Tags:                b.Tags,
		Type:                b.Type,
		Time:                b.Time,
		SecurityPatch:       b.SecurityPatch,
		DeviceInitialSDKInt: b.DeviceInitialSDKInt,
		Release:             b.Release,
		Incremental:         b.Incremental,
	}
}
