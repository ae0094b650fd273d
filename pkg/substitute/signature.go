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

package substitute

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"

	"github.com/jeremyhahn/go-keybox/pkg/keybox"
)

// signatureScheme describes how a substitute leaf is signed.
type signatureScheme struct {
	algorithm x509.SignatureAlgorithm
	oid       asn1.ObjectIdentifier
	hash      crypto.Hash
	key       keybox.Algorithm
	// nullParams is set for algorithms whose AlgorithmIdentifier carries
	// an explicit NULL parameter
	nullParams bool
}

var signatureSchemes = []signatureScheme{
	{x509.SHA1WithRSA, asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}, crypto.SHA1, keybox.RSA, true},
	{x509.SHA256WithRSA, asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}, crypto.SHA256, keybox.RSA, true},
	{x509.SHA384WithRSA, asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}, crypto.SHA384, keybox.RSA, true},
	{x509.SHA512WithRSA, asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}, crypto.SHA512, keybox.RSA, true},
	{x509.ECDSAWithSHA1, asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}, crypto.SHA1, keybox.ECDSA, false},
	{x509.ECDSAWithSHA256, asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}, crypto.SHA256, keybox.ECDSA, false},
	{x509.ECDSAWithSHA384, asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}, crypto.SHA384, keybox.ECDSA, false},
	{x509.ECDSAWithSHA512, asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}, crypto.SHA512, keybox.ECDSA, false},
}

// hashOf returns the digest used by sigAlg, or zero when it has none.
func hashOf(sigAlg x509.SignatureAlgorithm) crypto.Hash {
	switch sigAlg {
	case x509.SHA1WithRSA, x509.ECDSAWithSHA1:
		return crypto.SHA1
	case x509.SHA256WithRSA, x509.SHA256WithRSAPSS, x509.ECDSAWithSHA256:
		return crypto.SHA256
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		return crypto.SHA384
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// selectScheme picks the signature scheme for a leaf declared with sigAlg
// and signed by a key of alg. The declared algorithm is used when the key can
// produce it. Otherwise the declared digest is kept with the key's own
// signature family, and SHA-256 is used when the declared algorithm has no
// digest the key can use.
func selectScheme(sigAlg x509.SignatureAlgorithm, alg keybox.Algorithm) (signatureScheme, bool) {
	for _, s := range signatureSchemes {
		if s.algorithm == sigAlg && s.key == alg {
			return s, true
		}
	}
	h := hashOf(sigAlg)
	if h == 0 {
		h = crypto.SHA256
	}
	for _, s := range signatureSchemes {
		if s.hash == h && s.key == alg {
			return s, true
		}
	}
	return signatureScheme{}, false
}
