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

package testutil

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// Authorization list tags used by the fixtures.
const (
	TagPurpose          = 1
	TagAlgorithm        = 2
	TagKeySize          = 3
	TagDigest           = 5
	TagCreationDateTime = 701
	TagOrigin           = 702
	TagRootOfTrust      = 704
	TagOSVersion        = 705
	TagOSPatchLevel     = 706
	TagVendorPatchLevel = 718
	TagBootPatchLevel   = 719
)

var (
	// OIDAttestation is the key attestation extension OID.
	OIDAttestation = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

	// OIDCustom is an unrelated private extension carried on test leaves.
	OIDCustom = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}
)

// AttestationOptions controls the generated key description.
type AttestationOptions struct {
	AttestationVersion int
	SecurityLevel      int
	Challenge          []byte

	// RootOfTrust adds tag 704 to the hardware-enforced list.
	RootOfTrust       bool
	DeviceLocked      bool
	VerifiedBootState int
	VerifiedBootKey   []byte
	VerifiedBootHash  []byte

	// OmitExtension produces a leaf with no attestation extension.
	OmitExtension bool
}

// DefaultAttestationOptions describes an unlocked device with a root of trust.
func DefaultAttestationOptions() AttestationOptions {
	return AttestationOptions{
		AttestationVersion: 200,
		SecurityLevel:      1,
		Challenge:          []byte("test-challenge"),
		RootOfTrust:        true,
		DeviceLocked:       false,
		VerifiedBootState:  2,
		VerifiedBootKey:    make([]byte, 32),
		VerifiedBootHash:   make([]byte, 32),
	}
}

type rootOfTrust struct {
	VerifiedBootKey   []byte
	DeviceLocked      bool
	VerifiedBootState asn1.Enumerated
	VerifiedBootHash  []byte
}

type keyDescription struct {
	AttestationVersion       int
	AttestationSecurityLevel asn1.Enumerated
	KeymintVersion           int
	KeymintSecurityLevel     asn1.Enumerated
	AttestationChallenge     []byte
	UniqueID                 []byte
	SoftwareEnforced         asn1.RawValue
	HardwareEnforced         asn1.RawValue
}

// HardwareTags returns the tags the hardware-enforced list carries for opts,
// in encoding order.
func HardwareTags(opts AttestationOptions) []int {
	tags := []int{TagPurpose, TagAlgorithm, TagKeySize, TagDigest, TagOrigin}
	if opts.RootOfTrust {
		tags = append(tags, TagRootOfTrust)
	}
	return append(tags, TagOSVersion, TagOSPatchLevel, TagVendorPatchLevel, TagBootPatchLevel)
}

// AttestationExtensionValue encodes a KeyDescription for a key of alg.
func AttestationExtensionValue(alg string, opts AttestationOptions) ([]byte, error) {
	keymasterAlg, keySize := 3, 256
	if alg == AlgorithmRSA {
		keymasterAlg, keySize = 1, 2048
	}

	software, err := authorizationList(
		explicitInt(TagCreationDateTime, 1700000000000),
	)
	if err != nil {
		return nil, err
	}

	entries := []asn1.RawValue{
		explicitSetOfInt(TagPurpose, 2),
		explicitInt(TagAlgorithm, keymasterAlg),
		explicitInt(TagKeySize, keySize),
		explicitSetOfInt(TagDigest, 4),
		explicitInt(TagOrigin, 0),
	}
	if opts.RootOfTrust {
		rot, err := asn1.Marshal(rootOfTrust{
			VerifiedBootKey:   opts.VerifiedBootKey,
			DeviceLocked:      opts.DeviceLocked,
			VerifiedBootState: asn1.Enumerated(opts.VerifiedBootState),
			VerifiedBootHash:  opts.VerifiedBootHash,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: TagRootOfTrust, IsCompound: true, Bytes: rot})
	}
	entries = append(entries,
		explicitInt(TagOSVersion, 140000),
		explicitInt(TagOSPatchLevel, 202410),
		explicitInt(TagVendorPatchLevel, 20241005),
		explicitInt(TagBootPatchLevel, 20241005),
	)
	hardware, err := authorizationList(entries...)
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(keyDescription{
		AttestationVersion:       opts.AttestationVersion,
		AttestationSecurityLevel: asn1.Enumerated(opts.SecurityLevel),
		KeymintVersion:           opts.AttestationVersion,
		KeymintSecurityLevel:     asn1.Enumerated(opts.SecurityLevel),
		AttestationChallenge:     opts.Challenge,
		UniqueID:                 []byte{},
		SoftwareEnforced:         software,
		HardwareEnforced:         hardware,
	})
}

// AttestedChain is a device-issued attestation chain: leaf, intermediate, root.
type AttestedChain struct {
	LeafKey crypto.Signer
	Chain   []*x509.Certificate
}

// Leaf returns the first certificate of the chain.
func (a *AttestedChain) Leaf() *x509.Certificate {
	return a.Chain[0]
}

// GenerateAttestedChain generates a chain whose leaf carries a key of alg,
// a KeyUsage extension, the attestation extension and one private extension.
// The device CA uses the same algorithm as the leaf.
func GenerateAttestedChain(alg string, opts AttestationOptions) (*AttestedChain, error) {
	root, err := GenerateTestCA(alg, "Device Test Root")
	if err != nil {
		return nil, err
	}
	batch, err := root.Issue(alg, "Device Test Batch")
	if err != nil {
		return nil, err
	}

	leafKey, err := GenerateKey(alg)
	if err != nil {
		return nil, err
	}

	var extensions []pkix.Extension
	if !opts.OmitExtension {
		value, err := AttestationExtensionValue(alg, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to encode key description: %w", err)
		}
		extensions = append(extensions, pkix.Extension{Id: OIDAttestation, Value: value})
	}
	custom, err := asn1.Marshal("custom-extension")
	if err != nil {
		return nil, err
	}
	extensions = append(extensions, pkix.Extension{Id: OIDCustom, Critical: false, Value: custom})

	template := &x509.Certificate{
		SerialNumber:    big.NewInt(1),
		Subject:         pkix.Name{CommonName: "Android Keystore Key"},
		NotBefore:       time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:        time.Date(2048, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:        x509.KeyUsageDigitalSignature,
		ExtraExtensions: extensions,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, batch.Cert, leafKey.Public(), batch.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create leaf certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	return &AttestedChain{
		LeafKey: leafKey,
		Chain:   []*x509.Certificate{leaf, batch.Cert, root.Cert},
	}, nil
}

func authorizationList(entries ...asn1.RawValue) (asn1.RawValue, error) {
	var body []byte
	for _, e := range entries {
		der, err := asn1.Marshal(e)
		if err != nil {
			return asn1.RawValue{}, err
		}
		body = append(body, der...)
	}
	return asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: body}, nil
}

func explicitInt(tag, value int) asn1.RawValue {
	inner, err := asn1.Marshal(value)
	if err != nil {
		panic(err)
	}
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tag, IsCompound: true, Bytes: inner}
}

func explicitSetOfInt(tag int, values ...int) asn1.RawValue {
	var body []byte
	for _, v := range values {
		der, err := asn1.Marshal(v)
		if err != nil {
			panic(err)
		}
		body = append(body, der...)
	}
	set, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: body})
	if err != nil {
		panic(err)
	}
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tag, IsCompound: true, Bytes: set}
}
