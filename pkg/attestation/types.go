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

package attestation

import (
	"encoding/asn1"
	"encoding/hex"
	"math/big"
)

// Report is a printable view of a decoded extension.
type Report struct {
	AttestationVersion       int64              `json:"attestation_version"`
	AttestationSecurityLevel string             `json:"attestation_security_level"`
	KeymasterVersion         int64              `json:"keymaster_version"`
	KeymasterSecurityLevel   string             `json:"keymaster_security_level"`
	AttestationChallenge     string             `json:"attestation_challenge"`
	UniqueID                 string             `json:"unique_id,omitempty"`
	SoftwareEnforced         []ReportEntry      `json:"software_enforced"`
	HardwareEnforced         []ReportEntry      `json:"hardware_enforced"`
	RootOfTrust              *RootOfTrustReport `json:"root_of_trust,omitempty"`
}

// ReportEntry describes one authorization list entry.
type ReportEntry struct {
	Tag   int    `json:"tag"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RootOfTrustReport describes the hardware-enforced root of trust.
type RootOfTrustReport struct {
	VerifiedBootKey   string `json:"verified_boot_key"`
	DeviceLocked      bool   `json:"device_locked"`
	VerifiedBootState string `json:"verified_boot_state"`
	VerifiedBootHash  string `json:"verified_boot_hash,omitempty"`
}

// Report builds a printable view of e. Integer and integer set values are
// shown in decimal, everything else in hex.
func (e *Extension) Report() *Report {
	r := &Report{
		AttestationVersion:       e.AttestationVersion,
		AttestationSecurityLevel: e.AttestationSecurityLevel.String(),
		KeymasterVersion:         e.KeymasterVersion,
		KeymasterSecurityLevel:   e.KeymasterSecurityLevel.String(),
		AttestationChallenge:     hex.EncodeToString(e.AttestationChallenge),
		UniqueID:                 hex.EncodeToString(e.UniqueID),
		SoftwareEnforced:         reportEntries(e.SoftwareEnforced),
		HardwareEnforced:         reportEntries(e.HardwareEnforced),
	}
	if rot, found, err := e.HardwareEnforced.RootOfTrust(); found && err == nil {
		r.RootOfTrust = &RootOfTrustReport{
			VerifiedBootKey:   hex.EncodeToString(rot.VerifiedBootKey),
			DeviceLocked:      rot.DeviceLocked,
			VerifiedBootState: rot.VerifiedBootState.String(),
			VerifiedBootHash:  hex.EncodeToString(rot.VerifiedBootHash),
		}
	}
	return r
}

func reportEntries(list AuthorizationList) []ReportEntry {
	entries := make([]ReportEntry, 0, len(list))
	for _, e := range list {
		entries = append(entries, ReportEntry{Tag: e.Tag, Name: TagName(e.Tag), Value: formatValue(e.Value)})
	}
	return entries
}

func formatValue(der []byte) string {
	var n *big.Int
	if rest, err := asn1.Unmarshal(der, &n); err == nil && len(rest) == 0 {
		return n.String()
	}
	var set []*big.Int
	if rest, err := asn1.UnmarshalWithParams(der, &set, "set"); err == nil && len(rest) == 0 {
		s := "["
		for i, v := range set {
			if i > 0 {
				s += ","
			}
			s += v.String()
		}
		return s + "]"
	}
	return hex.EncodeToString(der)
}
