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

// Package attestation decodes, rewrites and re-encodes the Android key
// attestation certificate extension.
//
// The extension value is a KeyDescription:
//
//	KeyDescription ::= SEQUENCE {
//	    attestationVersion       INTEGER,
//	    attestationSecurityLevel SecurityLevel,
//	    keyMintVersion           INTEGER,
//	    keyMintSecurityLevel     SecurityLevel,
//	    attestationChallenge     OCTET_STRING,
//	    uniqueId                 OCTET_STRING,
//	    softwareEnforced         AuthorizationList,
//	    hardwareEnforced         AuthorizationList,
//	}
//
// Authorization lists are kept as ordered, opaque entries so that every field
// other than the root of trust survives a decode and encode unchanged.
package attestation

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// OID identifies the key attestation extension.
var OID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

// HardwareEnforcedIndex is the position of the hardware-enforced
// authorization list in the KeyDescription SEQUENCE.
const HardwareEnforcedIndex = 7

// SecurityLevel is the security level of the attestation or key.
type SecurityLevel int

const (
	SecurityLevelSoftware SecurityLevel = iota
	SecurityLevelTrustedEnvironment
	SecurityLevelStrongBox
)

// String returns the schema name of the level.
func (l SecurityLevel) String() string {
	switch l {
	case SecurityLevelSoftware:
		return "Software"
	case SecurityLevelTrustedEnvironment:
		return "TrustedEnvironment"
	case SecurityLevelStrongBox:
		return "StrongBox"
	default:
		return fmt.Sprintf("SecurityLevel(%d)", int(l))
	}
}

// Extension is a decoded KeyDescription.
type Extension struct {
	AttestationVersion       int64
	AttestationSecurityLevel SecurityLevel
	KeymasterVersion         int64
	KeymasterSecurityLevel   SecurityLevel
	AttestationChallenge     []byte
	UniqueID                 []byte
	SoftwareEnforced         AuthorizationList
	HardwareEnforced         AuthorizationList

	// Trailing holds the raw encoding of any elements after the
	// hardware-enforced list. It is written back verbatim.
	Trailing []byte
}

// Decode parses a DER KeyDescription. Errors wrap ErrMalformedExtension.
func Decode(der []byte) (*Extension, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("key description is not a SEQUENCE")
	}

	ext := &Extension{}
	var attestLevel, kmLevel int
	if !seq.ReadASN1Integer(&ext.AttestationVersion) {
		return nil, malformed("element 0: attestationVersion")
	}
	if !seq.ReadASN1Enum(&attestLevel) {
		return nil, malformed("element 1: attestationSecurityLevel")
	}
	if !seq.ReadASN1Integer(&ext.KeymasterVersion) {
		return nil, malformed("element 2: keymasterVersion")
	}
	if !seq.ReadASN1Enum(&kmLevel) {
		return nil, malformed("element 3: keymasterSecurityLevel")
	}
	if !seq.ReadASN1Bytes(&ext.AttestationChallenge, cbasn1.OCTET_STRING) {
		return nil, malformed("element 4: attestationChallenge")
	}
	if !seq.ReadASN1Bytes(&ext.UniqueID, cbasn1.OCTET_STRING) {
		return nil, malformed("element 5: uniqueId")
	}
	ext.AttestationSecurityLevel = SecurityLevel(attestLevel)
	ext.KeymasterSecurityLevel = SecurityLevel(kmLevel)

	var err error
	if ext.SoftwareEnforced, err = readAuthorizationList(&seq); err != nil {
		return nil, malformed("element 6: softwareEnforced: %v", err)
	}
	if ext.HardwareEnforced, err = readAuthorizationList(&seq); err != nil {
		return nil, malformed("element %d: hardwareEnforced: %v", HardwareEnforcedIndex, err)
	}
	if !seq.Empty() {
		ext.Trailing = append([]byte(nil), seq...)
	}
	return ext, nil
}

func readAuthorizationList(s *cryptobyte.String) (AuthorizationList, error) {
	var body cryptobyte.String
	if !s.ReadASN1(&body, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("not a SEQUENCE")
	}
	return parseAuthorizationList(body)
}

// Encode returns the DER encoding of the KeyDescription.
func (e *Extension) Encode() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(e.AttestationVersion)
		b.AddASN1Enum(int64(e.AttestationSecurityLevel))
		b.AddASN1Int64(e.KeymasterVersion)
		b.AddASN1Enum(int64(e.KeymasterSecurityLevel))
		b.AddASN1OctetString(e.AttestationChallenge)
		b.AddASN1OctetString(e.UniqueID)
		addAuthorizationList(b, e.SoftwareEnforced)
		addAuthorizationList(b, e.HardwareEnforced)
		b.AddBytes(e.Trailing)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to encode key description: %w", err)
	}
	return der, nil
}

func addAuthorizationList(b *cryptobyte.Builder, list AuthorizationList) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, entry := range list {
			der, err := entry.Marshal()
			if err != nil {
				b.SetError(fmt.Errorf("tag %d: %w", entry.Tag, err))
				return
			}
			b.AddBytes(der)
		}
	})
}

// ToX509Extension encodes the description as a non-critical certificate
// extension under OID.
func (e *Extension) ToX509Extension() (pkix.Extension, error) {
	der, err := e.Encode()
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: OID, Critical: false, Value: der}, nil
}

// Clone returns a deep copy of the description.
func (e *Extension) Clone() *Extension {
	c := *e
	c.AttestationChallenge = cloneBytes(e.AttestationChallenge)
	c.UniqueID = cloneBytes(e.UniqueID)
	c.SoftwareEnforced = e.SoftwareEnforced.clone()
	c.HardwareEnforced = e.HardwareEnforced.clone()
	c.Trailing = cloneBytes(e.Trailing)
	return &c
}

func (l AuthorizationList) clone() AuthorizationList {
	if l == nil {
		return nil
	}
	out := make(AuthorizationList, len(l))
	for i, entry := range l {
		out[i] = AuthorizationEntry{Tag: entry.Tag, Value: cloneBytes(entry.Value)}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Find returns the attestation extension of cert and its index in
// cert.Extensions.
func Find(cert *x509.Certificate) (pkix.Extension, int, bool) {
	if cert == nil {
		return pkix.Extension{}, -1, false
	}
	for i, ext := range cert.Extensions {
		if ext.Id.Equal(OID) {
			return ext, i, true
		}
	}
	return pkix.Extension{}, -1, false
}

// FromCertificate decodes the attestation extension of cert.
// Returns ErrExtensionNotFound when cert has none.
func FromCertificate(cert *x509.Certificate) (*Extension, error) {
	ext, _, ok := Find(cert)
	if !ok {
		return nil, ErrExtensionNotFound
	}
	return Decode(ext.Value)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedExtension, fmt.Sprintf(format, args...))
}
