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
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// VerifiedBootState is the boot verification state asserted by a RootOfTrust.
type VerifiedBootState int

const (
	VerifiedBootStateVerified VerifiedBootState = iota
	VerifiedBootStateSelfSigned
	VerifiedBootStateUnverified
	VerifiedBootStateFailed
)

// String returns the schema name of the state.
func (s VerifiedBootState) String() string {
	switch s {
	case VerifiedBootStateVerified:
		return "Verified"
	case VerifiedBootStateSelfSigned:
		return "SelfSigned"
	case VerifiedBootStateUnverified:
		return "Unverified"
	case VerifiedBootStateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("VerifiedBootState(%d)", int(s))
	}
}

// bootDigestSize is the size of the synthesized boot key and hash.
const bootDigestSize = 32

// RootOfTrust is the boot state record found under TagRootOfTrust.
//
//	RootOfTrust ::= SEQUENCE {
//	    verifiedBootKey   OCTET_STRING,
//	    deviceLocked      BOOLEAN,
//	    verifiedBootState VerifiedBootState,
//	    verifiedBootHash  OCTET_STRING, -- attestation version 3 and later
//	}
type RootOfTrust struct {
	VerifiedBootKey   []byte
	DeviceLocked      bool
	VerifiedBootState VerifiedBootState

	// VerifiedBootHash is nil when the record predates the field.
	VerifiedBootHash []byte
}

// ParseRootOfTrust decodes a DER RootOfTrust SEQUENCE.
func ParseRootOfTrust(der []byte) (*RootOfTrust, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: not a SEQUENCE", ErrMalformedRootOfTrust)
	}

	rot := &RootOfTrust{}
	var state int
	if !seq.ReadASN1Bytes(&rot.VerifiedBootKey, cbasn1.OCTET_STRING) ||
		!seq.ReadASN1Boolean(&rot.DeviceLocked) ||
		!seq.ReadASN1Enum(&state) {
		return nil, fmt.Errorf("%w: missing required field", ErrMalformedRootOfTrust)
	}
	rot.VerifiedBootState = VerifiedBootState(state)

	if !seq.Empty() {
		if !seq.ReadASN1Bytes(&rot.VerifiedBootHash, cbasn1.OCTET_STRING) || !seq.Empty() {
			return nil, fmt.Errorf("%w: trailing data", ErrMalformedRootOfTrust)
		}
	}
	return rot, nil
}

// Marshal returns the DER encoding of the record.
func (r *RootOfTrust) Marshal() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrMalformedRootOfTrust)
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1OctetString(r.VerifiedBootKey)
		b.AddASN1Boolean(r.DeviceLocked)
		b.AddASN1Enum(int64(r.VerifiedBootState))
		if r.VerifiedBootHash != nil {
			b.AddASN1OctetString(r.VerifiedBootHash)
		}
	})
	return b.Bytes()
}

// SynthesizeRootOfTrust returns a locked, verified root of trust with a random
// 32 byte boot key and boot hash read from random. A nil random uses
// crypto/rand.
func SynthesizeRootOfTrust(random io.Reader) (*RootOfTrust, error) {
	if random == nil {
		random = rand.Reader
	}
	key := make([]byte, bootDigestSize)
	hash := make([]byte, bootDigestSize)
	if _, err := io.ReadFull(random, key); err != nil {
		return nil, fmt.Errorf("attestation: failed to generate boot key: %w", err)
	}
	if _, err := io.ReadFull(random, hash); err != nil {
		return nil, fmt.Errorf("attestation: failed to generate boot hash: %w", err)
	}
	return &RootOfTrust{
		VerifiedBootKey:   key,
		DeviceLocked:      true,
		VerifiedBootState: VerifiedBootStateVerified,
		VerifiedBootHash:  hash,
	}, nil
}
