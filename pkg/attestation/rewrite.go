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
	"fmt"
	"io"
)

// RewriteOptions controls Rewrite.
type RewriteOptions struct {
	// Rand supplies the synthesized boot key and hash (default crypto/rand).
	Rand io.Reader

	// MirrorBootState keeps the verifiedBootState of the original root of
	// trust instead of asserting Verified. It has no effect when the
	// original list has no root of trust.
	MirrorBootState bool
}

// Rewrite returns a copy of ext whose hardware-enforced list carries a freshly
// synthesized root of trust in place of the original one. All other fields
// are unchanged. The hardware-enforced list keeps its length when it already
// had a root of trust and grows by one otherwise.
func Rewrite(ext *Extension, opts RewriteOptions) (*Extension, error) {
	if ext == nil {
		return nil, fmt.Errorf("%w: nil description", ErrMalformedExtension)
	}

	rot, err := SynthesizeRootOfTrust(opts.Rand)
	if err != nil {
		return nil, err
	}

	if opts.MirrorBootState {
		original, found, err := ext.HardwareEnforced.RootOfTrust()
		if err != nil {
			return nil, err
		}
		if found {
			rot.VerifiedBootState = original.VerifiedBootState
		}
	}

	out := ext.Clone()
	out.HardwareEnforced, err = ext.HardwareEnforced.WithRootOfTrust(rot)
	if err != nil {
		return nil, err
	}
	return out, nil
}
