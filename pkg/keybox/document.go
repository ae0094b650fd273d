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

package keybox

import (
	"bytes"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-keybox/pkg/encoding"
)

// Marker is the text a keybox document must contain before it is parsed.
const Marker = "Keybox"

// HasMarker reports whether data looks like a keybox document.
func HasMarker(data []byte) bool {
	return bytes.Contains(data, []byte(Marker))
}

type xmlDocument struct {
	XMLName          xml.Name    `xml:"AndroidAttestation"`
	NumberOfKeyboxes string      `xml:"NumberOfKeyboxes"`
	Keyboxes         []xmlKeybox `xml:"Keybox"`
}

type xmlKeybox struct {
	DeviceID string   `xml:"DeviceID,attr,omitempty"`
	Keys     []xmlKey `xml:"Key"`
}

type xmlKey struct {
	Algorithm  string   `xml:"algorithm,attr"`
	PrivateKey xmlPEM   `xml:"PrivateKey"`
	Chain      xmlChain `xml:"CertificateChain"`
}

type xmlChain struct {
	NumberOfCertificates string   `xml:"NumberOfCertificates"`
	Certificates         []xmlPEM `xml:"Certificate"`
}

type xmlPEM struct {
	Format string `xml:"format,attr,omitempty"`
	Text   string `xml:",chardata"`
}

type keyRef struct {
	deviceID string
	key      xmlKey
}

// Parse decodes a keybox document into a Store. The document is
//
//	<AndroidAttestation>
//	  <NumberOfKeyboxes>N</NumberOfKeyboxes>
//	  <Keybox DeviceID="...">
//	    <Key algorithm="ecdsa|rsa">
//	      <PrivateKey format="pem">...</PrivateKey>
//	      <CertificateChain>
//	        <NumberOfCertificates>M</NumberOfCertificates>
//	        <Certificate format="pem">...</Certificate>
//	      </CertificateChain>
//	    </Key>
//	  </Keybox>
//	</AndroidAttestation>
//
// NumberOfKeyboxes may count Keybox elements, in which case every Key inside
// them is read, or Key elements across all Keybox elements, in which case
// only the first N are read. NumberOfCertificates bounds each chain the same
// way. Parse is all-or-nothing: any error yields a nil store and an error
// wrapping ErrMalformedDocument.
func Parse(data []byte) (*Store, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, malformed("invalid XML: %v", err)
	}

	n, err := parseCount(doc.NumberOfKeyboxes)
	if err != nil {
		return nil, malformed("NumberOfKeyboxes: %v", err)
	}

	var keys []keyRef
	for _, kb := range doc.Keyboxes {
		for _, k := range kb.Keys {
			keys = append(keys, keyRef{deviceID: strings.TrimSpace(kb.DeviceID), key: k})
		}
	}
	switch {
	case n == len(doc.Keyboxes):
		n = len(keys)
	case n > len(keys):
		return nil, malformed("NumberOfKeyboxes is %d but only %d keys are present", n, len(keys))
	}

	entries := make([]*KeyEntry, 0, n)
	for i := 0; i < n; i++ {
		entry, err := parseKey(keys[i])
		if err != nil {
			return nil, malformed("key %d: %v", i, err)
		}
		entries = append(entries, entry)
	}

	return NewStore(entries...), nil
}

func parseKey(ref keyRef) (*KeyEntry, error) {
	alg := ParseAlgorithm(ref.key.Algorithm)

	signer, err := encoding.DecodeSignerPEM([]byte(ref.key.PrivateKey.Text), nil)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	keyAlg, err := AlgorithmOf(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	if keyAlg != alg {
		return nil, fmt.Errorf("algorithm attribute %q does not match %s private key", ref.key.Algorithm, keyAlg)
	}

	m, err := parseCount(ref.key.Chain.NumberOfCertificates)
	if err != nil {
		return nil, fmt.Errorf("NumberOfCertificates: %w", err)
	}
	if m == 0 {
		return nil, fmt.Errorf("certificate chain is empty")
	}
	if m > len(ref.key.Chain.Certificates) {
		return nil, fmt.Errorf("NumberOfCertificates is %d but only %d certificates are present",
			m, len(ref.key.Chain.Certificates))
	}

	chain := make([]*x509.Certificate, 0, m)
	for j := 0; j < m; j++ {
		cert, err := encoding.DecodeCertificatePEM([]byte(ref.key.Chain.Certificates[j].Text))
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", j, err)
		}
		chain = append(chain, cert)
	}

	return &KeyEntry{
		Algorithm:        alg,
		PrivateKey:       signer,
		CertificateChain: chain,
		DeviceID:         ref.deviceID,
	}, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...))
}

// Encode renders entries as a keybox document that Parse accepts. Private
// keys are written as PKCS#8 and all entries share one Keybox element
// carrying deviceID.
func Encode(deviceID string, entries ...*KeyEntry) ([]byte, error) {
	kb := xmlKeybox{DeviceID: deviceID}
	for _, e := range entries {
		if e == nil || e.PrivateKey == nil || len(e.CertificateChain) == 0 {
			return nil, fmt.Errorf("keybox: incomplete key entry")
		}
		keyPEM, err := encoding.EncodePrivateKeyPEM(e.PrivateKey, encoding.PEMTypePrivateKey, nil)
		if err != nil {
			return nil, err
		}
		key := xmlKey{
			Algorithm:  strings.ToLower(e.Algorithm.String()),
			PrivateKey: xmlPEM{Format: "pem", Text: "\n" + string(keyPEM)},
			Chain: xmlChain{
				NumberOfCertificates: strconv.Itoa(len(e.CertificateChain)),
			},
		}
		for _, cert := range e.CertificateChain {
			certPEM, err := encoding.EncodeCertificatePEM(cert)
			if err != nil {
				return nil, err
			}
			key.Chain.Certificates = append(key.Chain.Certificates, xmlPEM{Format: "pem", Text: "\n" + string(certPEM)})
		}
		kb.Keys = append(kb.Keys, key)
	}

	doc := xmlDocument{
		NumberOfKeyboxes: strconv.Itoa(len(kb.Keys)),
		Keyboxes:         []xmlKeybox{kb},
	}

	out, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("keybox: failed to encode document: %w", err)
	}
	// encoding/xml escapes newlines in character data; PEM needs none of that
	out = bytes.ReplaceAll(out, []byte("&#xA;"), []byte("\n"))
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
