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

package props

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/gate"
	"github.com/jeremyhahn/go-keybox/pkg/metrics"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/validation"
)

// DefaultARPackage is the AR services package that receives the stock
// fingerprint.
const DefaultARPackage = "com.google.ar.core"

// Action identifies what SetProps did for a caller.
type Action int

const (
	// ActionNone means the caller received no overrides.
	ActionNone Action = iota
	// ActionBuildTime means only the build time was refreshed.
	ActionBuildTime
	// ActionCertified means the certified property document was applied.
	ActionCertified
	// ActionStockFingerprint means the stock fingerprint was restored.
	ActionStockFingerprint
)

func (a Action) String() string {
	switch a {
	case ActionBuildTime:
		return "build_time"
	case ActionCertified:
		return "certified"
	case ActionStockFingerprint:
		return "stock_fingerprint"
	default:
		return "none"
	}
}

// PolicySource supplies the current gate policy. *gate.Gate implements it.
type PolicySource interface {
	Policy() gate.Policy
}

// Options configures an Imitator.
type Options struct {
	// Backend holds the certified property document.
	Backend storage.Backend

	// DocumentKey names the document in Backend. Defaults to
	// storage.PropsDocument.
	DocumentKey string

	// Policy supplies the verification identities. Nil uses
	// gate.DefaultPolicy.
	Policy PolicySource

	// StockFingerprint is restored for ARPackage. Empty disables it.
	StockFingerprint string

	// ARPackage defaults to DefaultARPackage.
	ARPackage string

	// AccountFlowOnTop reports whether the account flow activity is in the
	// foreground. It is consulted in addition to the caller context.
	AccountFlowOnTop func() bool

	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Imitator applies build property overrides per calling process.
type Imitator struct {
	backend          storage.Backend
	key              string
	policy           PolicySource
	stockFingerprint string
	arPackage        string
	accountFlowOnTop func() bool
	log              *slog.Logger
	now              func() time.Time
}

type defaultPolicy struct{}

func (defaultPolicy) Policy() gate.Policy { return gate.DefaultPolicy() }

// NewImitator returns an Imitator for opts.
func NewImitator(opts Options) *Imitator {
	if opts.DocumentKey == "" {
		opts.DocumentKey = storage.PropsDocument
	}
	if opts.Policy == nil {
		opts.Policy = defaultPolicy{}
	}
	if opts.ARPackage == "" {
		opts.ARPackage = DefaultARPackage
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Imitator{
		backend:          opts.Backend,
		key:              opts.DocumentKey,
		policy:           opts.Policy,
		stockFingerprint: opts.StockFingerprint,
		arPackage:        opts.ARPackage,
		accountFlowOnTop: opts.AccountFlowOnTop,
		log:              opts.Logger,
		now:              opts.Now,
	}
}

// SetProps applies the overrides that caller should see to build. It never
// fails; problems are logged and the remaining overrides still apply.
func (im *Imitator) SetProps(caller gate.CallerContext, build *BuildInfo) Action {
	if caller.PackageName == "" || caller.ProcessName == "" {
		im.log.Error("Null package or process name")
		return ActionNone
	}

	policy := im.policy.Policy()
	table := build.Table()

	if policy.VerificationPackage != "" && caller.PackageName == policy.VerificationPackage {
		now := strconv.FormatInt(im.now().UnixMilli(), 10)
		if err := table.Set("TIME", now); err != nil {
			im.log.Error("Failed to set build time", slog.Any("error", err))
		}
		if !policy.IsVerificationProcess(caller) {
			return ActionBuildTime
		}
		if caller.ForegroundActivityIsAccountFlow || (im.accountFlowOnTop != nil && im.accountFlowOnTop()) {
			im.log.Info("Account flow activity on top, skip spoofing props")
			return ActionBuildTime
		}
		im.applyCertified(table)
		return ActionCertified
	}

	if im.stockFingerprint != "" && caller.PackageName == im.arPackage {
		if err := table.Set("FINGERPRINT", im.stockFingerprint); err != nil {
			im.log.Error("Failed to set stock fingerprint", slog.Any("error", err))
			return ActionNone
		}
		im.log.Debug("Set stock fingerprint", slog.String("package", caller.PackageName))
		return ActionStockFingerprint
	}
	return ActionNone
}

func (im *Imitator) applyCertified(table Table) {
	values, err := im.load()
	if err != nil {
		im.log.Error("Failed to load certified props", slog.Any("error", err))
		metrics.RecordPropsApplied(metrics.StatusError, 1)
		return
	}
	if len(values) == 0 {
		im.log.Error("No props found to spoof")
		return
	}

	res := table.Apply(values)
	for key, err := range res.Skipped {
		im.log.Error("Failed to set prop", slog.String("key", validation.SanitizeForLog(key)), slog.Any("error", err))
	}
	im.log.Debug("Applied certified props",
		slog.Int("applied", len(res.Applied)),
		slog.Int("skipped", len(res.Skipped)))
	metrics.RecordPropsApplied(metrics.StatusSuccess, len(res.Applied))
	metrics.RecordPropsApplied(metrics.StatusError, len(res.Skipped))
}

// load returns nil values when the document is absent.
func (im *Imitator) load() (map[string]string, error) {
	if im.backend == nil {
		return nil, nil
	}
	data, err := im.backend.Get(im.key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("props: read %s: %w", im.key, err)
	}
	return ParseDocument(data)
}
