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
	"context"
	"runtime"
	"strings"
)

// CallerContext identifies the caller of a certificate chain request. It is
// supplied by the host for every request.
type CallerContext struct {
	PackageName string
	ProcessName string
	CallingUID  int

	// ForegroundActivityIsAccountFlow is set while the account management
	// activity is the top activity.
	ForegroundActivityIsAccountFlow bool
}

type callerKey struct{}

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller CallerContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (CallerContext, bool) {
	if ctx == nil {
		return CallerContext{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(CallerContext)
	return caller, ok
}

// CallerClassifier decides whether a request comes from the verification
// library. Implementations must be safe for concurrent use.
type CallerClassifier interface {
	IsVerificationCaller(ctx context.Context, caller CallerContext, policy *Policy) bool
}

// NoopClassifier never classifies a caller as the verification library.
type NoopClassifier struct{}

// IsVerificationCaller implements CallerClassifier.
func (NoopClassifier) IsVerificationCaller(context.Context, CallerContext, *Policy) bool {
	return false
}

// ClassifierFunc adapts a function to CallerClassifier.
type ClassifierFunc func(ctx context.Context, caller CallerContext, policy *Policy) bool

// IsVerificationCaller implements CallerClassifier.
func (f ClassifierFunc) IsVerificationCaller(ctx context.Context, caller CallerContext, policy *Policy) bool {
	return f(ctx, caller, policy)
}

// maxStackDepth bounds the frames StackClassifier inspects.
const maxStackDepth = 128

// StackClassifier matches callers running in the verification process whose
// goroutine stack holds a frame whose function name contains the policy's
// stack marker.
type StackClassifier struct {
	// Marker overrides Policy.StackMarker when set.
	Marker string
}

// IsVerificationCaller implements CallerClassifier.
func (c StackClassifier) IsVerificationCaller(_ context.Context, caller CallerContext, policy *Policy) bool {
	if !policy.IsVerificationProcess(caller) {
		return false
	}
	marker := c.Marker
	if marker == "" {
		marker = policy.StackMarker
	}
	if marker == "" {
		return false
	}
	return StackContains(marker, 2)
}

// StackContains reports whether a function on the calling goroutine's stack,
// skipping skip frames, has marker in its name.
func StackContains(marker string, skip int) bool {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if strings.Contains(frame.Function, marker) {
			return true
		}
		if !more {
			return false
		}
	}
}
