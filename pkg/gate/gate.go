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

// Package gate decides, per certificate chain request, whether the chain is
// passed through, substituted with a keybox-issued chain or refused.
package gate

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/jeremyhahn/go-keybox/pkg/attestation"
	"github.com/jeremyhahn/go-keybox/pkg/correlation"
	"github.com/jeremyhahn/go-keybox/pkg/keybox"
	"github.com/jeremyhahn/go-keybox/pkg/metrics"
	"github.com/jeremyhahn/go-keybox/pkg/substitute"
	"github.com/jeremyhahn/go-keybox/pkg/validation"
)

// Outcome is the decision taken for one request.
type Outcome int

const (
	OutcomePassthrough Outcome = iota
	OutcomeSubstitute
	OutcomeRefuse
)

// String returns "passthrough", "substitute" or "refuse".
func (o Outcome) String() string {
	switch o {
	case OutcomePassthrough:
		return "passthrough"
	case OutcomeSubstitute:
		return "substitute"
	case OutcomeRefuse:
		return "refuse"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// KeyboxSource supplies the current keybox store. *keybox.Repository
// implements it.
type KeyboxSource interface {
	Load() (*keybox.Store, error)
}

// Substituter issues a substitute chain. *substitute.Builder implements it.
type Substituter interface {
	Substitute(chain []*x509.Certificate, store *keybox.Store) ([]*x509.Certificate, error)
}

// Options configures a Gate.
type Options struct {
	// Policy is the initial policy snapshot.
	Policy Policy

	// Keyboxes supplies the keybox store. Required.
	Keyboxes KeyboxSource

	// Substituter overrides the default substitute.Builder, which is built
	// per request from the policy in force.
	Substituter Substituter

	// Classifier identifies verification-library callers (default
	// NoopClassifier).
	Classifier CallerClassifier

	// Caller is used for requests whose context carries no CallerContext,
	// normally the identity of the hosting process.
	Caller CallerContext

	// Logger receives decision diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Result is the outcome of one request.
type Result struct {
	Outcome Outcome
	Chain   []*x509.Certificate
}

// Gate is the decision point for certificate chain requests. It is safe for
// concurrent use; requests never block each other and the policy can be
// replaced at any time with Reload.
type Gate struct {
	policy      *atomic.Pointer[Policy]
	keyboxes    KeyboxSource
	substituter Substituter
	classifier  CallerClassifier
	caller      CallerContext
	log         *slog.Logger
}

// New creates a Gate.
func New(opts Options) (*Gate, error) {
	if opts.Keyboxes == nil {
		return nil, fmt.Errorf("gate: keybox source is required")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Classifier == nil {
		opts.Classifier = NoopClassifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Gate{
		policy:      atomic.NewPointer(opts.Policy.clone()),
		keyboxes:    opts.Keyboxes,
		substituter: opts.Substituter,
		classifier:  opts.Classifier,
		caller:      opts.Caller,
		log:         opts.Logger,
	}, nil
}

// Policy returns a copy of the policy in force.
func (g *Gate) Policy() Policy {
	return *g.policy.Load().clone()
}

// Reload validates p and makes it the policy for subsequent requests.
// Requests already in flight finish with the policy they started with.
func (g *Gate) Reload(p Policy) error {
	if err := p.Validate(); err != nil {
		metrics.RecordPolicyReload("invalid")
		return err
	}
	g.policy.Store(p.clone())
	metrics.RecordPolicyReload("ok")
	g.log.Info("gate policy reloaded",
		slog.Bool("enabled", p.Enabled),
		slog.Bool("substitution", p.SubstitutionEnabled))
	return nil
}

// OnEngineGetCertificateChain returns the chain to hand to the caller: the
// original chain or a substituted one. The only error is ErrRefused.
func (g *Gate) OnEngineGetCertificateChain(ctx context.Context, chain []*x509.Certificate) ([]*x509.Certificate, error) {
	res, err := g.Handle(ctx, chain)
	if err != nil {
		return nil, err
	}
	return res.Chain, nil
}

// Handle decides the outcome for chain, leaf first.
//
//  1. When substitution is active and a keybox document is present, the
//     chain is substituted. Any failure from then on, including a malformed
//     document or no keybox for the leaf's key algorithm, returns the
//     original chain and skips the refusal check.
//  2. Otherwise, when the policy is enabled and the caller is the
//     verification library or an integrity package, the request is refused
//     with ErrRefused.
//  3. Otherwise the original chain is returned.
func (g *Gate) Handle(ctx context.Context, chain []*x509.Certificate) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	policy := g.policy.Load()
	caller, ok := CallerFrom(ctx)
	if !ok {
		caller = g.caller
	}
	log := g.log.With(
		slog.String(correlation.LogKey, correlation.GetOrGenerate(ctx)),
		slog.String("package", validation.SanitizeForLog(caller.PackageName)))

	if len(chain) == 0 || chain[0] == nil {
		return g.decide(log, OutcomePassthrough, chain), nil
	}

	if policy.SubstitutionActive() {
		out, attempted := g.trySubstitute(log, policy, chain)
		if out != nil {
			return g.decide(log, OutcomeSubstitute, out), nil
		}
		if attempted {
			return g.decide(log, OutcomePassthrough, chain), nil
		}
	}

	if policy.Enabled {
		verifier := g.classifier.IsVerificationCaller(ctx, caller, policy)
		integrity := policy.IsIntegrityPackage(caller.PackageName)
		if verifier || integrity {
			log.Debug("blocked key attestation",
				slog.Bool("verification_caller", verifier),
				slog.Bool("integrity_package", integrity))
			g.decide(log, OutcomeRefuse, nil)
			return Result{Outcome: OutcomeRefuse}, fmt.Errorf("%w (package %q)", ErrRefused, caller.PackageName)
		}
	}

	return g.decide(log, OutcomePassthrough, chain), nil
}

// trySubstitute returns the substituted chain. A nil chain means the
// original must be used; attempted reports whether a keybox document was
// present, in which case the failure is final and the request passes
// through.
func (g *Gate) trySubstitute(log *slog.Logger, policy *Policy, chain []*x509.Certificate) (out []*x509.Certificate, attempted bool) {
	store, err := g.keyboxes.Load()
	if errors.Is(err, keybox.ErrDocumentAbsent) {
		return nil, false
	}
	if err != nil {
		metrics.RecordSubstitutionFailure("malformed_document")
		log.Warn("keybox document unusable, passing through original chain", slog.String("error", err.Error()))
		return nil, true
	}
	leaf := chain[0]
	entry, err := store.LookupFor(leaf.PublicKey)
	if err != nil {
		metrics.RecordSubstitutionFailure(failureReason(err))
		log.Debug("no keybox for leaf algorithm, passing through", slog.String("error", err.Error()))
		return nil, true
	}

	substituter := g.substituter
	if substituter == nil {
		substituter = substitute.NewBuilder(substitute.Options{MirrorBootState: policy.MirrorBootState})
	}

	start := time.Now()
	out, err = safeSubstitute(substituter, chain, store)
	if err != nil {
		reason := failureReason(err)
		metrics.RecordSubstitutionFailure(reason)
		if reason == "extension_absent" {
			log.Debug("leaf has no attestation extension, passing through")
		} else {
			log.Warn("substitution failed, passing through original chain",
				slog.String("reason", reason),
				slog.String("error", err.Error()))
		}
		return nil, true
	}
	if len(out) == 0 {
		metrics.RecordSubstitutionFailure("empty_chain")
		return nil, true
	}

	metrics.RecordSubstitution(entry.Algorithm.String(), time.Since(start).Seconds())
	return out, true
}

// safeSubstitute turns a panic inside the substituter into an error.
func safeSubstitute(s Substituter, chain []*x509.Certificate, store *keybox.Store) (out []*x509.Certificate, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("gate: substituter panicked: %v", r)
		}
	}()
	return s.Substitute(chain, store)
}

func (g *Gate) decide(log *slog.Logger, outcome Outcome, chain []*x509.Certificate) Result {
	metrics.RecordDecision(outcome.String())
	log.Debug("attestation gate decision",
		slog.String("outcome", outcome.String()),
		slog.Int("chain_length", len(chain)))
	return Result{Outcome: outcome, Chain: chain}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, attestation.ErrExtensionNotFound):
		return "extension_absent"
	case errors.Is(err, attestation.ErrMalformedExtension), errors.Is(err, attestation.ErrMalformedRootOfTrust):
		return "malformed_extension"
	case errors.Is(err, keybox.ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, substitute.ErrMalformedLeaf):
		return "malformed_leaf"
	case errors.Is(err, substitute.ErrSigning):
		return "signing"
	default:
		return "internal"
	}
}
