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
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/jeremyhahn/go-keybox/pkg/metrics"
)

// ResetFunc tears down the identity state of the hosting process, normally
// by restarting it. It runs on its own goroutine.
type ResetFunc func()

// MonitorOptions configures a ForegroundMonitor.
type MonitorOptions struct {
	// AccountFlowActivity is the flattened component name to watch.
	AccountFlowActivity string

	// InitialTopActivity is the top activity when the monitor is created.
	InitialTopActivity string

	// Reset is requested on every transition. Required.
	Reset ResetFunc

	// Logger receives transition diagnostics. Nil discards them.
	Logger *slog.Logger
}

// ForegroundMonitor watches the top activity and requests an identity reset
// whenever the account management flow comes to or leaves the foreground.
// Notifications never block on the reset.
type ForegroundMonitor struct {
	activity string
	reset    ResetFunc
	onTop    *atomic.Bool
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewForegroundMonitor creates a ForegroundMonitor.
func NewForegroundMonitor(opts MonitorOptions) *ForegroundMonitor {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Reset == nil {
		opts.Reset = func() {}
	}
	return &ForegroundMonitor{
		activity: opts.AccountFlowActivity,
		reset:    opts.Reset,
		onTop:    atomic.NewBool(opts.AccountFlowActivity != "" && opts.InitialTopActivity == opts.AccountFlowActivity),
		log:      opts.Logger,
	}
}

// AccountFlowActivity returns the component the monitor watches.
func (m *ForegroundMonitor) AccountFlowActivity() string {
	return m.activity
}

// AccountFlowOnTop reports whether the account management flow is the top
// activity.
func (m *ForegroundMonitor) AccountFlowOnTop() bool {
	return m.onTop.Load()
}

// OnTaskStackChanged records the new top activity. When that changes whether
// the account flow is on top, an identity reset is requested asynchronously
// and true is returned. Repeated notifications for the same state are no-ops.
func (m *ForegroundMonitor) OnTaskStackChanged(topActivity string) bool {
	if m.activity == "" {
		return false
	}
	is := topActivity == m.activity
	if !m.onTop.CompareAndSwap(!is, is) {
		return false
	}

	m.log.Info("account flow foreground state changed, requesting identity reset",
		slog.Bool("on_top", is))
	metrics.RecordIdentityReset()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reset()
	}()
	return true
}

// Wait blocks until every requested reset has returned.
func (m *ForegroundMonitor) Wait() {
	m.wg.Wait()
}

// UIDResolver returns the uid of an installed package.
type UIDResolver func(pkg string) (int, error)

// ShouldBypassTaskPermission reports whether callingUID belongs to the
// verification package, which lacks the permission to observe tasks but
// must still be allowed to register its task stack listener.
func ShouldBypassTaskPermission(callingUID int, policy *Policy, resolve UIDResolver) bool {
	if policy == nil || policy.VerificationPackage == "" || resolve == nil {
		return false
	}
	uid, err := resolve(policy.VerificationPackage)
	if err != nil {
		return false
	}
	return uid == callingUID
}
