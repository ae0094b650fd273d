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
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/internal/testutil"
	"github.com/jeremyhahn/go-keybox/pkg/attestation"
	"github.com/jeremyhahn/go-keybox/pkg/keybox"
)

var (
	keyboxOnce sync.Once
	keyboxes   map[string]*testutil.Keybox
	keyboxErr  error
)

func testKeybox(t *testing.T, alg string) *keybox.KeyEntry {
	t.Helper()
	keyboxOnce.Do(func() {
		keyboxes = make(map[string]*testutil.Keybox)
		for _, a := range []string{testutil.AlgorithmRSA, testutil.AlgorithmECDSA} {
			kb, err := testutil.GenerateKeybox(a)
			if err != nil {
				keyboxErr = err
				return
			}
			keyboxes[a] = kb
		}
	})
	require.NoError(t, keyboxErr)
	kb := keyboxes[alg]
	return &keybox.KeyEntry{
		Algorithm:        keybox.ParseAlgorithm(kb.Algorithm),
		PrivateKey:       kb.Key,
		CertificateChain: kb.Chain,
	}
}

func testChain(t *testing.T, alg string, opts testutil.AttestationOptions) []*x509.Certificate {
	t.Helper()
	chain, err := testutil.GenerateAttestedChain(alg, opts)
	require.NoError(t, err)
	return chain.Chain
}

func otherExtensions(cert *x509.Certificate) []pkix.Extension {
	var out []pkix.Extension
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(attestation.OID) {
			out = append(out, ext)
		}
	}
	return out
}

func TestSubstitute(t *testing.T) {
	for _, alg := range []string{testutil.AlgorithmRSA, testutil.AlgorithmECDSA} {
		t.Run(alg, func(t *testing.T) {
			entry := testKeybox(t, alg)
			store := keybox.NewStore(entry)
			chain := testChain(t, alg, testutil.DefaultAttestationOptions())
			leaf := chain[0]

			out, err := NewBuilder(Options{}).Substitute(chain, store)
			require.NoError(t, err)
			require.Len(t, out, 1+len(entry.CertificateChain))

			newLeaf := out[0]
			for i, cert := range entry.CertificateChain {
				assert.Same(t, cert, out[i+1])
			}

			assert.Equal(t, leaf.RawSubject, newLeaf.RawSubject)
			assert.Equal(t, 0, leaf.SerialNumber.Cmp(newLeaf.SerialNumber))
			assert.True(t, leaf.NotBefore.Equal(newLeaf.NotBefore))
			assert.True(t, leaf.NotAfter.Equal(newLeaf.NotAfter))
			assert.Equal(t, leaf.RawSubjectPublicKeyInfo, newLeaf.RawSubjectPublicKeyInfo)
			assert.Equal(t, entry.CertificateChain[0].RawSubject, newLeaf.RawIssuer)
			assert.Equal(t, leaf.SignatureAlgorithm, newLeaf.SignatureAlgorithm)

			require.NoError(t, entry.CertificateChain[0].CheckSignature(
				newLeaf.SignatureAlgorithm, newLeaf.RawTBSCertificate, newLeaf.Signature))
			require.NoError(t, attestation.NewVerifier(nil).VerifyChain(out, time.Now()))

			assert.Equal(t, otherExtensions(leaf), otherExtensions(newLeaf))
			_, origIndex, _ := attestation.Find(leaf)
			ext, newIndex, ok := attestation.Find(newLeaf)
			require.True(t, ok)
			assert.Equal(t, origIndex, newIndex)
			assert.False(t, ext.Critical)

			before, err := attestation.FromCertificate(leaf)
			require.NoError(t, err)
			after, err := attestation.FromCertificate(newLeaf)
			require.NoError(t, err)
			assert.Len(t, after.HardwareEnforced, len(before.HardwareEnforced))
			rot, found, err := after.HardwareEnforced.RootOfTrust()
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, rot.DeviceLocked)
			assert.Equal(t, attestation.VerifiedBootStateVerified, rot.VerifiedBootState)
			assert.Equal(t, before.AttestationChallenge, after.AttestationChallenge)

			// the caller's chain is untouched
			assert.Same(t, leaf, chain[0])
		})
	}
}

func TestSubstitute_RootOfTrustAbsent(t *testing.T) {
	entry := testKeybox(t, testutil.AlgorithmECDSA)
	opts := testutil.DefaultAttestationOptions()
	opts.RootOfTrust = false
	chain := testChain(t, testutil.AlgorithmECDSA, opts)

	out, err := NewBuilder(Options{}).Substitute(chain, keybox.NewStore(entry))
	require.NoError(t, err)

	before, err := attestation.FromCertificate(chain[0])
	require.NoError(t, err)
	after, err := attestation.FromCertificate(out[0])
	require.NoError(t, err)
	assert.Len(t, after.HardwareEnforced, len(before.HardwareEnforced)+1)
}

func TestSubstitute_Errors(t *testing.T) {
	rsaEntry := testKeybox(t, testutil.AlgorithmRSA)
	builder := NewBuilder(Options{})

	_, err := builder.Substitute(nil, keybox.NewStore(rsaEntry))
	assert.ErrorIs(t, err, ErrEmptyChain)

	ecChain := testChain(t, testutil.AlgorithmECDSA, testutil.DefaultAttestationOptions())
	_, err = builder.Substitute(ecChain, keybox.NewStore(rsaEntry))
	assert.ErrorIs(t, err, keybox.ErrUnsupportedAlgorithm)

	_, err = builder.Substitute(ecChain, keybox.Empty())
	assert.ErrorIs(t, err, keybox.ErrUnsupportedAlgorithm)

	opts := testutil.DefaultAttestationOptions()
	opts.OmitExtension = true
	bare := testChain(t, testutil.AlgorithmRSA, opts)
	_, err = builder.Substitute(bare, keybox.NewStore(rsaEntry))
	assert.ErrorIs(t, err, attestation.ErrExtensionNotFound)
}

func TestBuild_UnsupportedAlgorithm(t *testing.T) {
	rsaEntry := testKeybox(t, testutil.AlgorithmRSA)
	chain := testChain(t, testutil.AlgorithmECDSA, testutil.DefaultAttestationOptions())
	ext, _, ok := attestation.Find(chain[0])
	require.True(t, ok)

	builder := NewBuilder(Options{})
	_, err := builder.Build(chain[0], nil, ext)
	assert.ErrorIs(t, err, keybox.ErrUnsupportedAlgorithm)

	_, err = builder.Build(chain[0], rsaEntry, ext)
	assert.ErrorIs(t, err, keybox.ErrUnsupportedAlgorithm)

	_, err = builder.Build(nil, rsaEntry, ext)
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestBuild_AppendsExtensionWhenAbsent(t *testing.T) {
	entry := testKeybox(t, testutil.AlgorithmECDSA)
	opts := testutil.DefaultAttestationOptions()
	opts.OmitExtension = true
	leaf := testChain(t, testutil.AlgorithmECDSA, opts)[0]

	value, err := testutil.AttestationExtensionValue(testutil.AlgorithmECDSA, testutil.DefaultAttestationOptions())
	require.NoError(t, err)
	ext := pkix.Extension{Id: attestation.OID, Value: value}

	out, err := NewBuilder(Options{}).Build(leaf, entry, ext)
	require.NoError(t, err)
	require.Len(t, out.Extensions, len(leaf.Extensions)+1)
	last := out.Extensions[len(out.Extensions)-1]
	assert.True(t, last.Id.Equal(attestation.OID))
	assert.True(t, bytes.Equal(value, last.Value))
}

func TestSplitTBS_Malformed(t *testing.T) {
	_, err := splitTBS([]byte{0x30, 0x00})
	assert.ErrorIs(t, err, ErrMalformedLeaf)

	_, err = splitTBS([]byte{0x04, 0x00})
	assert.ErrorIs(t, err, ErrMalformedLeaf)
}

func TestSelectScheme(t *testing.T) {
	tests := []struct {
		name   string
		sigAlg x509.SignatureAlgorithm
		key    keybox.Algorithm
		want   x509.SignatureAlgorithm
	}{
		{"declared rsa", x509.SHA384WithRSA, keybox.RSA, x509.SHA384WithRSA},
		{"declared ecdsa", x509.ECDSAWithSHA512, keybox.ECDSA, x509.ECDSAWithSHA512},
		{"rsa leaf ecdsa key", x509.SHA256WithRSA, keybox.ECDSA, x509.ECDSAWithSHA256},
		{"ecdsa leaf rsa key", x509.ECDSAWithSHA384, keybox.RSA, x509.SHA384WithRSA},
		{"pss keeps digest", x509.SHA512WithRSAPSS, keybox.RSA, x509.SHA512WithRSA},
		{"no digest", x509.PureEd25519, keybox.ECDSA, x509.ECDSAWithSHA256},
		{"unknown", x509.UnknownSignatureAlgorithm, keybox.RSA, x509.SHA256WithRSA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := selectScheme(tt.sigAlg, tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, s.algorithm)
		})
	}

	_, ok := selectScheme(x509.SHA256WithRSA, keybox.Algorithm(42))
	assert.False(t, ok)
}

func TestBuilder_Concurrent(t *testing.T) {
	entry := testKeybox(t, testutil.AlgorithmECDSA)
	store := keybox.NewStore(entry)
	chain := testChain(t, testutil.AlgorithmECDSA, testutil.DefaultAttestationOptions())
	builder := NewBuilder(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := builder.Substitute(chain, store)
			assert.NoError(t, err)
			assert.Len(t, out, 3)
		}()
	}
	wg.Wait()
}
