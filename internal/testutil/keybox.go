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
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

// Keybox is a provisioned attestation identity: the private key of the
// attestation certificate and its chain, attestation certificate first.
type Keybox struct {
	Algorithm string
	Key       crypto.Signer
	Chain     []*x509.Certificate
}

// GenerateKeybox generates a keybox whose chain is [attestation, root].
func GenerateKeybox(alg string) (*Keybox, error) {
	root, err := GenerateTestCA(alg, "Keybox Test Root "+strings.ToUpper(alg))
	if err != nil {
		return nil, err
	}
	attest, err := root.Issue(alg, "Keybox Test Attestation "+strings.ToUpper(alg))
	if err != nil {
		return nil, err
	}
	return &Keybox{
		Algorithm: alg,
		Key:       attest.Key,
		Chain:     []*x509.Certificate{attest.Cert, root.Cert},
	}, nil
}

// KeyPEM encodes the keybox key the way provisioning tools do: PKCS#1 for
// RSA and SEC1 for ECDSA.
func (k *Keybox) KeyPEM() ([]byte, error) {
	switch key := k.Key.(type) {
	case *rsa.PrivateKey:
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), nil
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", k.Key)
	}
}

// KeyboxDocument renders keyboxes as one Keybox element with a Key per
// keybox, with NumberOfKeyboxes set to the number of keys.
func KeyboxDocument(keyboxes ...*Keybox) ([]byte, error) {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?>\n")
	b.WriteString("<AndroidAttestation>\n")
	fmt.Fprintf(&b, "    <NumberOfKeyboxes>%d</NumberOfKeyboxes>\n", len(keyboxes))
	b.WriteString("    <Keybox DeviceID=\"test-device\">\n")
	for _, kb := range keyboxes {
		keyPEM, err := kb.KeyPEM()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "        <Key algorithm=\"%s\">\n", kb.Algorithm)
		b.WriteString("            <PrivateKey format=\"pem\">\n")
		writeIndented(&b, keyPEM, "                ")
		b.WriteString("            </PrivateKey>\n")
		b.WriteString("            <CertificateChain>\n")
		fmt.Fprintf(&b, "                <NumberOfCertificates>%d</NumberOfCertificates>\n", len(kb.Chain))
		for _, cert := range kb.Chain {
			b.WriteString("                <Certificate format=\"pem\">\n")
			writeIndented(&b, CertificatePEM(cert), "                    ")
			b.WriteString("                </Certificate>\n")
		}
		b.WriteString("            </CertificateChain>\n")
		b.WriteString("        </Key>\n")
	}
	b.WriteString("    </Keybox>\n")
	b.WriteString("</AndroidAttestation>\n")
	return []byte(b.String()), nil
}

func writeIndented(b *strings.Builder, data []byte, prefix string) {
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteString("\n")
	}
}
