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

// Package substitute issues replacement attestation leaves signed by a
// keybox identity.
package substitute

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/jeremyhahn/go-keybox/pkg/attestation"
	"github.com/jeremyhahn/go-keybox/pkg/keybox"
)

var (
	// ErrEmptyChain is returned when there is no leaf to substitute.
	ErrEmptyChain = errors.New("substitute: empty certificate chain")

	// ErrMalformedLeaf is returned when the leaf's TBSCertificate cannot be
	// taken apart.
	ErrMalformedLeaf = errors.New("substitute: malformed leaf certificate")

	// ErrSigning is returned when the keybox key fails to sign.
	ErrSigning = errors.New("substitute: signing failed")
)

var (
	tagVersion         = cbasn1.Tag(0).Constructed().ContextSpecific()
	tagIssuerUniqueID  = cbasn1.Tag(1).ContextSpecific()
	tagSubjectUniqueID = cbasn1.Tag(2).ContextSpecific()
	tagExtensions      = cbasn1.Tag(3).Constructed().ContextSpecific()
)

// Options configures a Builder.
type Options struct {
	// Rand is used for signing and for the synthesized root of trust
	// (default crypto/rand).
	Rand io.Reader

	// MirrorBootState is passed to attestation.Rewrite.
	MirrorBootState bool
}

// Builder issues substitute leaves. A Builder holds no mutable state and is
// safe for concurrent use.
type Builder struct {
	rand            io.Reader
	mirrorBootState bool
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	return &Builder{rand: opts.Rand, mirrorBootState: opts.MirrorBootState}
}

// Substitute rewrites chain with the keybox in store that serves the leaf's
// key algorithm and returns [new leaf] followed by the keybox chain.
//
// It returns attestation.ErrExtensionNotFound when the leaf carries no
// attestation extension and keybox.ErrUnsupportedAlgorithm when store has no
// entry for the leaf's algorithm. The input chain is never modified.
func (b *Builder) Substitute(chain []*x509.Certificate, store *keybox.Store) ([]*x509.Certificate, error) {
	if len(chain) == 0 || chain[0] == nil {
		return nil, ErrEmptyChain
	}
	leaf := chain[0]

	original, err := attestation.FromCertificate(leaf)
	if err != nil {
		return nil, err
	}

	entry, err := store.LookupFor(leaf.PublicKey)
	if err != nil {
		return nil, err
	}

	rewritten, err := attestation.Rewrite(original, attestation.RewriteOptions{
		Rand:            b.rand,
		MirrorBootState: b.mirrorBootState,
	})
	if err != nil {
		return nil, err
	}
	ext, err := rewritten.ToX509Extension()
	if err != nil {
		return nil, err
	}

	newLeaf, err := b.Build(leaf, entry, ext)
	if err != nil {
		return nil, err
	}
	return Chain(newLeaf, entry), nil
}

// Chain returns [leaf] followed by entry's certificate chain.
func Chain(leaf *x509.Certificate, entry *keybox.KeyEntry) []*x509.Certificate {
	out := make([]*x509.Certificate, 0, 1+len(entry.CertificateChain))
	out = append(out, leaf)
	return append(out, entry.CertificateChain...)
}

// Build issues a copy of leaf that is signed by entry's private key.
//
// The serial number, validity, subject, subject public key info and every
// extension are copied byte for byte from leaf, except the attestation
// extension, which is replaced by ext in the same position (or appended when
// leaf has none). The issuer is the subject of entry's first certificate.
// The signature algorithm follows leaf's declared algorithm where the keybox
// key can produce it.
//
// Returns keybox.ErrUnsupportedAlgorithm when entry is nil or serves a
// different key algorithm than leaf.
func (b *Builder) Build(leaf *x509.Certificate, entry *keybox.KeyEntry, ext pkix.Extension) (*x509.Certificate, error) {
	if leaf == nil {
		return nil, ErrEmptyChain
	}
	leafAlg, err := keybox.AlgorithmOf(leaf.PublicKey)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: no keybox for %s", keybox.ErrUnsupportedAlgorithm, leafAlg)
	}
	if entry.Algorithm != leafAlg {
		return nil, fmt.Errorf("%w: keybox serves %s, leaf key is %s", keybox.ErrUnsupportedAlgorithm, entry.Algorithm, leafAlg)
	}
	issuer := entry.Issuer()
	if issuer == nil || entry.PrivateKey == nil {
		return nil, fmt.Errorf("%w: incomplete keybox entry for %s", keybox.ErrUnsupportedAlgorithm, leafAlg)
	}

	keyAlg, err := keybox.AlgorithmOf(entry.PrivateKey.Public())
	if err != nil {
		return nil, err
	}
	scheme, ok := selectScheme(leaf.SignatureAlgorithm, keyAlg)
	if !ok || !scheme.hash.Available() {
		return nil, fmt.Errorf("%w: no signature algorithm for %s with a %s key", ErrSigning, leaf.SignatureAlgorithm, keyAlg)
	}

	parts, err := splitTBS(leaf.RawTBSCertificate)
	if err != nil {
		return nil, err
	}

	sigAlg, err := algorithmIdentifier(scheme)
	if err != nil {
		return nil, err
	}

	tbs, err := parts.rebuild(sigAlg, issuer.RawSubject, ext)
	if err != nil {
		return nil, err
	}

	h := scheme.hash.New()
	h.Write(tbs)
	signature, err := entry.PrivateKey.Sign(b.rand, h.Sum(nil), scheme.hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	cert := cryptobyte.NewBuilder(nil)
	cert.AddASN1(cbasn1.SEQUENCE, func(c *cryptobyte.Builder) {
		c.AddBytes(tbs)
		c.AddBytes(sigAlg)
		c.AddASN1BitString(signature)
	})
	der, err := cert.Bytes()
	if err != nil {
		return nil, fmt.Errorf("substitute: failed to encode certificate: %w", err)
	}

	out, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("substitute: issued certificate does not parse: %w", err)
	}
	return out, nil
}

// tbsParts holds the raw elements of a TBSCertificate that are carried over.
type tbsParts struct {
	serial          []byte
	validity        []byte
	subject         []byte
	publicKey       []byte
	subjectUniqueID []byte
	extensions      [][]byte
}

func splitTBS(raw []byte) (*tbsParts, error) {
	input := cryptobyte.String(raw)
	var tbs cryptobyte.String
	if !input.ReadASN1(&tbs, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: TBSCertificate is not a SEQUENCE", ErrMalformedLeaf)
	}

	p := &tbsParts{}
	var serial, validity, subject, spki cryptobyte.String
	if tbs.PeekASN1Tag(tagVersion) && !tbs.SkipASN1(tagVersion) {
		return nil, fmt.Errorf("%w: version", ErrMalformedLeaf)
	}
	if !tbs.ReadASN1Element(&serial, cbasn1.INTEGER) {
		return nil, fmt.Errorf("%w: serial number", ErrMalformedLeaf)
	}
	if !tbs.SkipASN1(cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: signature algorithm", ErrMalformedLeaf)
	}
	if !tbs.SkipASN1(cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: issuer", ErrMalformedLeaf)
	}
	if !tbs.ReadASN1Element(&validity, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: validity", ErrMalformedLeaf)
	}
	if !tbs.ReadASN1Element(&subject, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: subject", ErrMalformedLeaf)
	}
	if !tbs.ReadASN1Element(&spki, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: subject public key info", ErrMalformedLeaf)
	}
	p.serial, p.validity, p.subject, p.publicKey = serial, validity, subject, spki

	// the issuer unique ID names the old issuer and is dropped
	if !tbs.SkipOptionalASN1(tagIssuerUniqueID) {
		return nil, fmt.Errorf("%w: issuer unique ID", ErrMalformedLeaf)
	}
	if tbs.PeekASN1Tag(tagSubjectUniqueID) {
		var uid cryptobyte.String
		if !tbs.ReadASN1Element(&uid, tagSubjectUniqueID) {
			return nil, fmt.Errorf("%w: subject unique ID", ErrMalformedLeaf)
		}
		p.subjectUniqueID = uid
	}

	if tbs.PeekASN1Tag(tagExtensions) {
		var wrapper, exts cryptobyte.String
		if !tbs.ReadASN1(&wrapper, tagExtensions) || !wrapper.ReadASN1(&exts, cbasn1.SEQUENCE) || !wrapper.Empty() {
			return nil, fmt.Errorf("%w: extensions", ErrMalformedLeaf)
		}
		for !exts.Empty() {
			var ext cryptobyte.String
			if !exts.ReadASN1Element(&ext, cbasn1.SEQUENCE) {
				return nil, fmt.Errorf("%w: extension %d", ErrMalformedLeaf, len(p.extensions))
			}
			p.extensions = append(p.extensions, ext)
		}
	}

	if !tbs.Empty() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedLeaf)
	}
	return p, nil
}

// rebuild assembles a v3 TBSCertificate from the carried parts.
func (p *tbsParts) rebuild(sigAlg, issuer []byte, ext pkix.Extension) ([]byte, error) {
	replacement, err := marshalExtension(ext)
	if err != nil {
		return nil, err
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(tagVersion, func(b *cryptobyte.Builder) {
			b.AddASN1Int64(2)
		})
		b.AddBytes(p.serial)
		b.AddBytes(sigAlg)
		b.AddBytes(issuer)
		b.AddBytes(p.validity)
		b.AddBytes(p.subject)
		b.AddBytes(p.publicKey)
		b.AddBytes(p.subjectUniqueID)
		b.AddASN1(tagExtensions, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				replaced := false
				for _, raw := range p.extensions {
					if isAttestationExtension(raw) {
						if !replaced {
							b.AddBytes(replacement)
							replaced = true
						}
						continue
					}
					b.AddBytes(raw)
				}
				if !replaced {
					b.AddBytes(replacement)
				}
			})
		})
	})
	tbs, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("substitute: failed to encode TBSCertificate: %w", err)
	}
	return tbs, nil
}

func isAttestationExtension(raw []byte) bool {
	s := cryptobyte.String(raw)
	var body cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&body, cbasn1.SEQUENCE) || !body.ReadASN1ObjectIdentifier(&oid) {
		return false
	}
	return oid.Equal(attestation.OID)
}

func marshalExtension(ext pkix.Extension) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(ext.Id)
		if ext.Critical {
			b.AddASN1Boolean(true)
		}
		b.AddASN1OctetString(ext.Value)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("substitute: failed to encode extension %s: %w", ext.Id, err)
	}
	return der, nil
}

func algorithmIdentifier(s signatureScheme) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(s.oid)
		if s.nullParams {
			b.AddASN1NULL()
		}
	})
	return b.Bytes()
}
