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

package gate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jeremyhahn/go-keybox/pkg/validation"
)

// Well-known identities used by DefaultPolicy.
const (
	DefaultVerificationPackage = "com.google.android.gms"
	DefaultVerificationProcess = DefaultVerificationPackage + ".unstable"
	DefaultIntegrityPackage    = "com.android.vending"
	DefaultStackMarker         = "DroidGuard"
	DefaultAccountFlowActivity = "com.google.android.gms/.auth.uiflows.minutemaid.MinuteMaidActivity"
)

// Policy is an immutable snapshot of the gate's switches. The gate never
// mutates a Policy it was given; Reload swaps in a new one.
type Policy struct {
	// Enabled is the base feature flag. Refusal only applies when set.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// SubstitutionEnabled enables substitution. It has no effect unless
	// Enabled is also set.
	SubstitutionEnabled bool `yaml:"substitution" json:"substitution"`

	// IntegrityPackages are refused outright when no substitution happens.
	IntegrityPackages []string `yaml:"integrity_packages" json:"integrity_packages"`

	// VerificationPackage and VerificationProcess identify the process that
	// hosts the verification library.
	VerificationPackage string `yaml:"verification_package" json:"verification_package"`
	VerificationProcess string `yaml:"verification_process" json:"verification_process"`

	// StackMarker is the function name fragment that identifies a
	// verification library frame on the call stack.
	StackMarker string `yaml:"stack_marker" json:"stack_marker"`

	// AccountFlowActivity is the flattened component name of the account
	// management activity watched by the foreground monitor.
	AccountFlowActivity string `yaml:"account_flow_activity" json:"account_flow_activity"`

	// MirrorBootState keeps the device's real verified boot state in the
	// synthesized root of trust instead of asserting Verified.
	MirrorBootState bool `yaml:"mirror_boot_state" json:"mirror_boot_state"`
}

// DefaultPolicy returns a policy with both features enabled and the stock
// package identities.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:             true,
		SubstitutionEnabled: true,
		IntegrityPackages:   []string{DefaultIntegrityPackage},
		VerificationPackage: DefaultVerificationPackage,
		VerificationProcess: DefaultVerificationProcess,
		StackMarker:         DefaultStackMarker,
		AccountFlowActivity: DefaultAccountFlowActivity,
	}
}

// Validate checks the policy for unusable values.
func (p *Policy) Validate() error {
	for i, pkg := range p.IntegrityPackages {
		if err := validation.ValidatePackageName(pkg); err != nil {
			return fmt.Errorf("%w: integrity_packages[%d]: %v", ErrInvalidPolicy, i, err)
		}
	}
	if p.VerificationProcess != "" && p.VerificationPackage == "" {
		return fmt.Errorf("%w: verification_process requires verification_package", ErrInvalidPolicy)
	}
	if p.VerificationPackage != "" {
		if err := validation.ValidatePackageName(p.VerificationPackage); err != nil {
			return fmt.Errorf("%w: verification_package: %v", ErrInvalidPolicy, err)
		}
	}
	if p.VerificationProcess != "" {
		if err := validation.ValidateProcessName(p.VerificationProcess); err != nil {
			return fmt.Errorf("%w: verification_process: %v", ErrInvalidPolicy, err)
		}
	}
	if p.AccountFlowActivity != "" {
		if err := validation.ValidateComponentName(p.AccountFlowActivity); err != nil {
			return fmt.Errorf("%w: account_flow_activity: %v", ErrInvalidPolicy, err)
		}
	}
	if strings.TrimSpace(p.StackMarker) != p.StackMarker {
		return fmt.Errorf("%w: stack_marker %q has surrounding whitespace", ErrInvalidPolicy, p.StackMarker)
	}
	return nil
}

// SubstitutionActive reports whether substitution may be attempted.
func (p *Policy) SubstitutionActive() bool {
	return p.Enabled && p.SubstitutionEnabled
}

// IsIntegrityPackage reports whether pkg is one of the refused packages.
func (p *Policy) IsIntegrityPackage(pkg string) bool {
	return pkg != "" && slices.Contains(p.IntegrityPackages, pkg)
}

// IsVerificationProcess reports whether caller runs in the process that
// hosts the verification library.
func (p *Policy) IsVerificationProcess(caller CallerContext) bool {
	if p.VerificationPackage == "" || caller.PackageName != p.VerificationPackage {
		return false
	}
	return p.VerificationProcess == "" || caller.ProcessName == p.VerificationProcess
}

func (p Policy) clone() *Policy {
	p.IntegrityPackages = slices.Clone(p.IntegrityPackages)
	return &p
}
