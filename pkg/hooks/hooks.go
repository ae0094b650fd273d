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

// Package hooks assembles the keybox repository, attestation gate, foreground
// monitor and property imitator behind the entry points a host calls into.
package hooks

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-keybox/pkg/correlation"
	"github.com/jeremyhahn/go-keybox/pkg/gate"
	"github.com/jeremyhahn/go-keybox/pkg/health"
	"github.com/jeremyhahn/go-keybox/pkg/keybox"
	"github.com/jeremyhahn/go-keybox/pkg/logging"
	"github.com/jeremyhahn/go-keybox/pkg/props"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/validation"
)

// Options configures Hooks.
type Options struct {
	// Backend holds the keybox and property documents. Required.
	Backend storage.Backend

	// KeyboxKey and PropsKey name the documents in Backend. They default to
	// storage.KeyboxDocument and storage.PropsDocument.
	KeyboxKey string
	PropsKey  string

	// Policy is the initial gate policy.
	Policy gate.Policy

	// Classifier identifies verification-library callers. Nil uses
	// gate.NoopClassifier.
	Classifier gate.CallerClassifier

	// Caller is the identity of the hosting process.
	Caller gate.CallerContext

	// Reset clears the verification package's cached identity. It runs off
	// the notifying goroutine.
	Reset gate.ResetFunc

	// InitialTopActivity is the top activity at startup.
	InitialTopActivity string

	// StockFingerprint is restored for the AR services package.
	StockFingerprint string

	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Hooks is the assembled engine.
type Hooks struct {
	health  *health.Checker
	repo    *keybox.Repository
	gate    *gate.Gate
	monitor *gate.ForegroundMonitor
	props   *props.Imitator
	log     *slog.Logger
}

// New wires the components described by opts.
func New(opts Options) (*Hooks, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("hooks: backend is required")
	}
	log := logging.OrDiscard(opts.Logger)

	repo, err := keybox.NewRepository(keybox.RepositoryOptions{
		Backend:     opts.Backend,
		DocumentKey: opts.KeyboxKey,
		Logger:      log.With(slog.String("component", "keybox")),
	})
	if err != nil {
		return nil, err
	}

	g, err := gate.New(gate.Options{
		Policy:     opts.Policy,
		Keyboxes:   repo,
		Classifier: opts.Classifier,
		Caller:     opts.Caller,
		Logger:     log.With(slog.String("component", "gate")),
	})
	if err != nil {
		return nil, err
	}

	monitor := gate.NewForegroundMonitor(gate.MonitorOptions{
		AccountFlowActivity: opts.Policy.AccountFlowActivity,
		InitialTopActivity:  opts.InitialTopActivity,
		Reset:               opts.Reset,
		Logger:              log.With(slog.String("component", "monitor")),
	})

	imitator := props.NewImitator(props.Options{
		Backend:          opts.Backend,
		DocumentKey:      opts.PropsKey,
		Policy:           g,
		StockFingerprint: opts.StockFingerprint,
		AccountFlowOnTop: monitor.AccountFlowOnTop,
		Logger:           log.With(slog.String("component", "props")),
	})

	keyboxKey := opts.KeyboxKey
	if keyboxKey == "" {
		keyboxKey = storage.KeyboxDocument
	}
	propsKey := opts.PropsKey
	if propsKey == "" {
		propsKey = storage.PropsDocument
	}
	checker := health.NewChecker()
	checker.RegisterCheck(health.CheckStorage, health.StorageCheck(opts.Backend, keyboxKey))
	checker.RegisterCheck(health.CheckKeybox, health.KeyboxCheck(repo))
	checker.RegisterCheck(health.CheckProps, health.PropsCheck(opts.Backend, propsKey))

	return &Hooks{
		health:  checker,
		repo:    repo,
		gate:    g,
		monitor: monitor,
		props:   imitator,
		log:     log,
	}, nil
}

// OnEngineGetCertificateChain is called with the chain the keystore engine
// produced. It returns the chain the caller should see or a refusal error.
func (h *Hooks) OnEngineGetCertificateChain(ctx context.Context, chain []*x509.Certificate) ([]*x509.Certificate, error) {
	ctx, _ = correlation.Ensure(ctx)
	return h.gate.OnEngineGetCertificateChain(ctx, chain)
}

// Handle is OnEngineGetCertificateChain with the decision outcome exposed.
func (h *Hooks) Handle(ctx context.Context, chain []*x509.Certificate) (gate.Result, error) {
	ctx, _ = correlation.Ensure(ctx)
	return h.gate.Handle(ctx, chain)
}

// SetProps applies the build property overrides for a starting process.
func (h *Hooks) SetProps(caller gate.CallerContext, build *props.BuildInfo) props.Action {
	if h.monitor.AccountFlowOnTop() {
		caller.ForegroundActivityIsAccountFlow = true
	}
	return h.props.SetProps(caller, build)
}

// OnTaskStackChanged forwards a top activity change to the foreground
// monitor. It reports whether an identity reset was requested.
func (h *Hooks) OnTaskStackChanged(topActivity string) bool {
	return h.monitor.OnTaskStackChanged(topActivity)
}

// ShouldBypassTaskPermission reports whether callingUID belongs to the
// verification package.
func (h *Hooks) ShouldBypassTaskPermission(callingUID int, resolve gate.UIDResolver) bool {
	p := h.gate.Policy()
	return gate.ShouldBypassTaskPermission(callingUID, &p, resolve)
}

// Reload validates and installs a new policy. The foreground monitor keeps
// the account flow activity it was created with; a policy that changes it
// is installed with a warning and takes full effect after a restart.
func (h *Hooks) Reload(p gate.Policy) error {
	if err := h.gate.Reload(p); err != nil {
		return err
	}
	if watched := h.monitor.AccountFlowActivity(); p.AccountFlowActivity != watched {
		h.log.Warn("account flow activity change ignored until restart",
			slog.String("watched", watched),
			slog.String("configured", validation.SanitizeForLog(p.AccountFlowActivity)))
	}
	return nil
}

// Policy returns the policy in force.
func (h *Hooks) Policy() gate.Policy {
	return h.gate.Policy()
}

// Keyboxes returns the keybox repository.
func (h *Hooks) Keyboxes() *keybox.Repository {
	return h.repo
}

// Health runs the storage, keybox and props checks.
func (h *Hooks) Health(ctx context.Context) []health.CheckResult {
	return h.health.Run(ctx)
}

// Wait blocks until pending identity resets have run.
func (h *Hooks) Wait() {
	h.monitor.Wait()
}
