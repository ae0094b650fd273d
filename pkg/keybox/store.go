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
	"crypto"
	"crypto/x509"
	"fmt"
	"sort"
)

// KeyEntry is one provisioned identity: a private key plus the certificate
// chain that vouches for it, leaf first.
type KeyEntry struct {
	Algorithm        Algorithm
	PrivateKey       crypto.Signer
	CertificateChain []*x509.Certificate

	// DeviceID is the DeviceID attribute of the enclosing Keybox element, if any.
	DeviceID string
}

// Issuer returns the first certificate of the chain, whose subject becomes
// the issuer of substitute leaves.
func (e *KeyEntry) Issuer() *x509.Certificate {
	if e == nil || len(e.CertificateChain) == 0 {
		return nil
	}
	return e.CertificateChain[0]
}

// MatchesChain reports whether the private key belongs to the first
// certificate of the chain.
func (e *KeyEntry) MatchesChain() bool {
	issuer := e.Issuer()
	if issuer == nil || e.PrivateKey == nil {
		return false
	}
	pub, ok := e.PrivateKey.Public().(interface{ Equal(crypto.PublicKey) bool })
	return ok && pub.Equal(issuer.PublicKey)
}

// Store maps algorithms to key entries. A Store is immutable once built and
// safe for concurrent use. The zero value and a nil *Store are empty.
type Store struct {
	entries map[Algorithm]*KeyEntry
}

// NewStore builds a store from entries. A later entry for the same algorithm
// replaces an earlier one.
func NewStore(entries ...*KeyEntry) *Store {
	m := make(map[Algorithm]*KeyEntry, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		m[e.Algorithm] = e
	}
	return &Store{entries: m}
}

// Empty returns a store with no entries.
func Empty() *Store {
	return &Store{}
}

// Lookup returns the entry for alg.
func (s *Store) Lookup(alg Algorithm) (*KeyEntry, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.entries[alg]
	return e, ok
}

// LookupFor returns the entry serving the algorithm of pub.
// Returns ErrUnsupportedAlgorithm when there is none.
func (s *Store) LookupFor(pub crypto.PublicKey) (*KeyEntry, error) {
	alg, err := AlgorithmOf(pub)
	if err != nil {
		return nil, err
	}
	e, ok := s.Lookup(alg)
	if !ok {
		return nil, fmt.Errorf("%w: no keybox for %s", ErrUnsupportedAlgorithm, alg)
	}
	return e, nil
}

// Len returns the number of entries.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// IsEmpty reports whether the store has no entries.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// Algorithms returns the algorithms present, in ascending order.
func (s *Store) Algorithms() []Algorithm {
	if s == nil {
		return nil
	}
	algs := make([]Algorithm, 0, len(s.entries))
	for alg := range s.entries {
		algs = append(algs, alg)
	}
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })
	return algs
}

// Entries returns the entries in algorithm order.
func (s *Store) Entries() []*KeyEntry {
	algs := s.Algorithms()
	entries := make([]*KeyEntry, 0, len(algs))
	for _, alg := range algs {
		entries = append(entries, s.entries[alg])
	}
	return entries
}
