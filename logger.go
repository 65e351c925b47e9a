/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import "go.uber.org/zap"

// Logger wraps a zap.SugaredLogger behind a small Verbosef/Errorf
// call-site shape, so the rest of this module never imports zap
// directly.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger wraps an application-supplied zap.Logger.
func NewLogger(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

// NewNopLogger returns a Logger that discards everything, for tests
// and callers that don't want log output.
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Verbosef(format string, args ...any) {
	if l == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}
