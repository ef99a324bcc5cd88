// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package gic carries the request-scoped values (request ID) of blockapi.
package gic

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type reqIDKey struct{}

// GenReqID generates a unique request ID for correlation.
func GenReqID() string {
	return uuid.NewString()
}

// WithReqID stores the request ID in the context.
func WithReqID(ctx context.Context, reqID string) context.Context {
	return context.WithValue(ctx, reqIDKey{}, reqID)
}

// ReqID extracts the request ID from the context, empty if none.
func ReqID(ctx context.Context) string {
	rid, _ := ctx.Value(reqIDKey{}).(string)
	return rid
}

// Logger returns the default logger decorated with the request ID (if any).
func Logger(ctx context.Context) *slog.Logger {
	rid := ReqID(ctx)
	if rid == "" {
		return slog.Default()
	}
	return slog.Default().With("req_id", rid)
}

// LogCtxAwareError logs an error with context information.
func LogCtxAwareError(ctx context.Context, operation string, err error) {
	if err == nil {
		return
	}
	Logger(ctx).ErrorContext(ctx, operation, "err", err)
}
