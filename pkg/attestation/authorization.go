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
	"fmt"
)

// Authorization list tags. Only the tags this package interprets or names in
// reports are listed; every other tag is carried through untouched.
const (
	TagPurpose                   = 1
	TagAlgorithm                 = 2
	TagKeySize                   = 3
	TagDigest                    = 5
	TagPadding                   = 6
	TagECCurve                   = 10
	TagRSAPublicExponent         = 200
	TagNoAuthRequired            = 503
	TagCreationDateTime          = 701
	TagOrigin                    = 702
	TagRootOfTrust               = 704
	TagOSVersion                 = 705
	TagOSPatchLevel              = 706
	TagAttestationApplicationID  = 709
	TagAttestationIDBrand        = 710
	TagAttestationIDDevice       = 711
	TagAttestationIDProduct      = 712
	TagAttestationIDSerial       = 713
	TagAttestationIDIMEI         = 714
	TagAttestationIDMEID         = 715
	TagAttestationIDManufacturer = 716
	TagAttestationIDModel        = 717
	TagVendorPatchLevel          = 718
	TagBootPatchLevel            = 719
	TagDeviceUniqueAttestation   = 720
	TagAttestationIDSecondIMEI   = 723
	TagModuleHash                = 724
)

var tagNames = map[int]string{
	TagPurpose:                   "purpose",
	TagAlgorithm:                 "algorithm",
	TagKeySize:                   "keySize",
	TagDigest:                    "digest",
	TagPadding:                   "padding",
	TagECCurve:                   "ecCurve",
	TagRSAPublicExponent:         "rsaPublicExponent",
	TagNoAuthRequired:            "noAuthRequired",
	TagCreationDateTime:          "creationDateTime",
	TagOrigin:                    "origin",
	TagRootOfTrust:               "rootOfTrust",
	TagOSVersion:                 "osVersion",
	TagOSPatchLevel:              "osPatchLevel",
	TagAttestationApplicationID:  "attestationApplicationId",
	TagAttestationIDBrand:        "attestationIdBrand",
	TagAttestationIDDevice:       "attestationIdDevice",
	TagAttestationIDProduct:      "attestationIdProduct",
	TagAttestationIDSerial:       "attestationIdSerial",
	TagAttestationIDIMEI:         "attestationIdImei",
	TagAttestationIDMEID:         "attestationIdMeid",
	TagAttestationIDManufacturer: "attestationIdManufacturer",
	TagAttestationIDModel:        "attestationIdModel",
	TagVendorPatchLevel:          "vendorPatchLevel",
	TagBootPatchLevel:            "bootPatchLevel",
	TagDeviceUniqueAttestation:   "deviceUniqueAttestation",
	TagAttestationIDSecondIMEI:   "attestationIdSecondImei",
	TagModuleHash:                "moduleHash",
}

// TagName returns the schema name of an authorization tag, or "tag<N>".
func TagName(tag int) string {
	if name, ok := tagNames[tag]; ok {
		return name
	}
	return fmt.Sprintf("tag%d", tag)
}

// AuthorizationEntry is one explicitly tagged element of an authorization
// list. Value holds the DER encoding of the element inside the tag.
type AuthorizationEntry struct {
	Tag   int
	Value []byte
}

// Marshal returns the DER encoding of the entry including its context
// specific tag.
func (e AuthorizationEntry) Marshal() ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        e.Tag,
		IsCompound: true,
		Bytes:      e.Value,
	})
}

// AuthorizationList is an ordered authorization list. Order is significant
// and preserved by every operation.
type AuthorizationList []AuthorizationEntry

// parseAuthorizationList decodes the contents of an AuthorizationList
// SEQUENCE.
func parseAuthorizationList(body []byte) (AuthorizationList, error) {
	list := AuthorizationList{}
	rest := body
	for len(rest) > 0 {
		var raw asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &raw)
		if err != nil {
			return nil, err
		}
		if raw.Class != asn1.ClassContextSpecific || !raw.IsCompound {
			return nil, fmt.Errorf("entry %d is not an explicitly tagged element", len(list))
		}
		list = append(list, AuthorizationEntry{Tag: raw.Tag, Value: raw.Bytes})
	}
	return list, nil
}

// Find returns the first entry tagged tag.
func (l AuthorizationList) Find(tag int) (AuthorizationEntry, bool) {
	for _, e := range l {
		if e.Tag == tag {
			return e, true
		}
	}
	return AuthorizationEntry{}, false
}

// Tags returns the tags of the list in order.
func (l AuthorizationList) Tags() []int {
	tags := make([]int, len(l))
	for i, e := range l {
		tags[i] = e.Tag
	}
	return tags
}

// Without returns a copy of the list with every entry tagged tag removed.
func (l AuthorizationList) Without(tag int) AuthorizationList {
	out := make(AuthorizationList, 0, len(l))
	for _, e := range l {
		if e.Tag != tag {
			out = append(out, e)
		}
	}
	return out
}

// StripRootOfTrust returns a copy of the list without RootOfTrust entries.
func (l AuthorizationList) StripRootOfTrust() AuthorizationList {
	return l.Without(TagRootOfTrust)
}

// Insert returns a copy of the list with entry placed before the first entry
// whose tag is greater, which keeps a list sorted by tag sorted.
func (l AuthorizationList) Insert(entry AuthorizationEntry) AuthorizationList {
	i := len(l)
	for j, e := range l {
		if e.Tag > entry.Tag {
			i = j
			break
		}
	}
	out := make(AuthorizationList, 0, len(l)+1)
	out = append(out, l[:i]...)
	out = append(out, entry)
	return append(out, l[i:]...)
}

// RootOfTrust decodes the RootOfTrust entry of the list.
// The boolean result is false when the list has none.
func (l AuthorizationList) RootOfTrust() (*RootOfTrust, bool, error) {
	e, ok := l.Find(TagRootOfTrust)
	if !ok {
		return nil, false, nil
	}
	rot, err := ParseRootOfTrust(e.Value)
	if err != nil {
		return nil, true, err
	}
	return rot, true, nil
}

// WithRootOfTrust returns a copy of the list whose RootOfTrust entries are
// replaced by a single entry holding rot at its tag position.
func (l AuthorizationList) WithRootOfTrust(rot *RootOfTrust) (AuthorizationList, error) {
	value, err := rot.Marshal()
	if err != nil {
		return nil, err
	}
	return l.StripRootOfTrust().Insert(AuthorizationEntry{Tag: TagRootOfTrust, Value: value}), nil
}
