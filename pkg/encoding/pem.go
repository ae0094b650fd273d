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

package encoding

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

// PEM block types
const (
	PEMTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	PEMTypeECPrivateKey        = "EC PRIVATE KEY"
	PEMTypePrivateKey          = "PRIVATE KEY"
	PEMTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	PEMTypeCertificate         = "CERTIFICATE"
)

// NormalizePEM strips the indentation and blank lines that PEM text picks up
// when it is embedded in XML element content. encoding/pem requires the
// BEGIN and END markers to start at the beginning of a line.
func NormalizePEM(data []byte) []byte {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	var buf bytes.Buffer
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// EncodePrivateKeyPEM encodes a private key to PEM format.
//
// The blockType selects the encoding:
//   - "RSA PRIVATE KEY": PKCS#1
//   - "EC PRIVATE KEY": SEC1
//   - "PRIVATE KEY": PKCS#8
//   - "ENCRYPTED PRIVATE KEY": password protected PKCS#8
func EncodePrivateKeyPEM(privateKey crypto.PrivateKey, blockType string, password []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, ErrInvalidPrivateKey
	}

	var (
		der []byte
		err error
	)
	switch blockType {
	case PEMTypeRSAPrivateKey:
		rsaKey, ok := privateKey.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", ErrInvalidPrivateKey, privateKey)
		}
		der = x509.MarshalPKCS1PrivateKey(rsaKey)
	case PEMTypeECPrivateKey:
		ecKey, ok := privateKey.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an EC key", ErrInvalidPrivateKey, privateKey)
		}
		der, err = x509.MarshalECPrivateKey(ecKey)
	case PEMTypePrivateKey:
		der, err = EncodePKCS8(privateKey, nil)
	case PEMTypeEncryptedPrivateKey:
		if len(password) == 0 {
			return nil, ErrPasswordRequired
		}
		der, err = EncodePKCS8(privateKey, password)
	default:
		return nil, fmt.Errorf("%w: PEM type %q", ErrUnsupportedKeyType, blockType)
	}
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), nil
}

// DecodePrivateKeyPEM decodes the first PEM private key block in data.
// PKCS#8 (plain or encrypted), PKCS#1 and SEC1 blocks are accepted. The block
// type is only a hint: the DER is tried as PKCS#8 first and then as the
// legacy formats, because keyboxes in the wild mislabel their blocks.
func DecodePrivateKeyPEM(data []byte, password []byte) (crypto.PrivateKey, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	block, _ := pem.Decode(NormalizePEM(data))
	if block == nil {
		return nil, ErrInvalidPEMEncoding
	}

	if block.Type == PEMTypeEncryptedPrivateKey {
		if len(password) == 0 {
			return nil, ErrPasswordRequired
		}
		return DecodePKCS8(block.Bytes, password)
	}

	if key, err := DecodePKCS8(block.Bytes, nil); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("%w: unrecognized %q block", ErrInvalidPrivateKey, block.Type)
}

// DecodeSignerPEM decodes a PEM private key and returns it as a crypto.Signer.
func DecodeSignerPEM(data []byte, password []byte) (crypto.Signer, error) {
	key, err := DecodePrivateKeyPEM(data, password)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, key)
	}
	return signer, nil
}

// EncodeCertificatePEM encodes an X.509 certificate to PEM format.
func EncodeCertificatePEM(cert *x509.Certificate) ([]byte, error) {
	if cert == nil || len(cert.Raw) == 0 {
		return nil, ErrInvalidCertificate
	}

	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: PEMTypeCertificate, Bytes: cert.Raw}); err != nil {
		return nil, fmt.Errorf("failed to encode certificate PEM: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeCertificatePEM decodes the first PEM certificate in data.
func DecodeCertificatePEM(data []byte) (*x509.Certificate, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	block, _ := pem.Decode(NormalizePEM(data))
	if block == nil {
		return nil, ErrInvalidPEMEncoding
	}
	if block.Type != PEMTypeCertificate {
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidCertificate, block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return cert, nil
}

// EncodeCertificateChainPEM encodes certificates to concatenated PEM in order
// (leaf first).
func EncodeCertificateChainPEM(certs []*x509.Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, ErrInvalidCertificate
	}

	var buf bytes.Buffer
	for _, cert := range certs {
		if cert == nil || len(cert.Raw) == 0 {
			return nil, ErrInvalidCertificate
		}
		if err := pem.Encode(&buf, &pem.Block{Type: PEMTypeCertificate, Bytes: cert.Raw}); err != nil {
			return nil, fmt.Errorf("failed to encode certificate chain PEM: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeCertificateChainPEM decodes every CERTIFICATE block in data, in order.
// Blocks of other types are skipped.
func DecodeCertificateChainPEM(data []byte) ([]*x509.Certificate, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	var certs []*x509.Certificate
	remaining := NormalizePEM(data)

	for len(remaining) > 0 {
		var block *pem.Block
		block, remaining = pem.Decode(remaining)
		if block == nil {
			break
		}
		if block.Type != PEMTypeCertificate {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate in chain: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrInvalidPEMEncoding
	}

	return certs, nil
}
