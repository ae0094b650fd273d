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

// Package correlation tags hook invocations with a request ID so that the
// log records of one certificate chain request can be grouped.
package correlation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey struct{}

// LogKey is the attribute key used for request IDs in log records.
const LogKey = "request_id"

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// RequestID returns the request ID carried by ctx, or the empty string.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// NewID returns a random UUID v4 request ID.
func NewID() string {
	return uuid.New().String()
}

// GetOrGenerate returns the request ID carried by ctx or a new one.
func GetOrGenerate(ctx context.Context) string {
	if id := RequestID(ctx); id != "" {
		return id
	}
	return NewID()
}

// Ensure returns a context that carries a request ID, adding a new one when
// ctx has none, together with that ID.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithRequestID(ctx, id), id
}

// Attr returns the request ID of ctx as a log attribute.
func Attr(ctx context.Context) slog.Attr {
	return slog.String(LogKey, RequestID(ctx))
}
