// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrorCallback receives structured diagnostics raised by the crypto engine.
// Missing string fields are passed as "unknown".
type ErrorCallback func(filename string, line int, function, errorObject, errorSubject string, reason int, msg string)

const unknownField = "unknown"

// Engine is the initialized engine state shared by signature and encryption
// contexts: the error reporting bridge, the logger and the metrics recorder.
//
// An Engine is normally created once at process start with Init. Swapping the
// error callback while operations are running is allowed; the swap is atomic
// but callers that need ordering guarantees must serialize it themselves.
type Engine struct {
	callback atomic.Pointer[ErrorCallback]
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithErrorCallback installs an initial error callback.
func WithErrorCallback(cb ErrorCallback) Option {
	return func(e *Engine) {
		e.SetErrorCallback(cb)
	}
}

// Init creates and self-checks a new Engine.
func Init(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:  slog.Default(),
		metrics: NewNoopMetricsRecorder(),
	}
	for _, opt := range opts {
		opt(e)
	}

	// The engine cannot do anything useful without a working entropy source.
	probe := make([]byte, 16)
	if _, err := rand.Read(probe); err != nil {
		return nil, NewError(ErrInitialization, "Init", ReasonCryptoFailed, fmt.Errorf("entropy source: %w", err))
	}

	return e, nil
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
	defaultErr    error
)

// Default returns the process-wide engine, initializing it on first use.
func Default() *Engine {
	defaultOnce.Do(func() {
		defaultEngine, defaultErr = Init()
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultEngine
}

// SetErrorCallback installs cb on the process-wide engine and returns the
// previously installed callback.
func SetErrorCallback(cb ErrorCallback) ErrorCallback {
	return Default().SetErrorCallback(cb)
}

// GetErrorCallback returns the callback installed on the process-wide engine.
func GetErrorCallback() ErrorCallback {
	return Default().ErrorCallback()
}

// SetErrorCallback installs cb (nil removes it) and returns the previous one.
func (e *Engine) SetErrorCallback(cb ErrorCallback) ErrorCallback {
	var next *ErrorCallback
	if cb != nil {
		next = &cb
	}
	prev := e.callback.Swap(next)
	if prev == nil {
		return nil
	}
	return *prev
}

// ErrorCallback returns the installed callback, or nil.
func (e *Engine) ErrorCallback() ErrorCallback {
	cb := e.callback.Load()
	if cb == nil {
		return nil
	}
	return *cb
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Metrics returns the engine metrics recorder.
func (e *Engine) Metrics() MetricsRecorder {
	return e.metrics
}

// Report forwards one engine diagnostic to the installed callback. Empty
// string fields are replaced by "unknown". A panic raised by the callback is
// recovered and logged; it never reaches the caller.
func (e *Engine) Report(filename string, line int, function, errorObject, errorSubject string, reason int, msg string) {
	cb := e.ErrorCallback()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("error callback panicked",
				slog.Any("panic", r),
				slog.Int("reason", reason),
				slog.String("function", function))
		}
	}()

	cb(orUnknown(filename), line, orUnknown(function), orUnknown(errorObject), orUnknown(errorSubject), reason, msg)
}

func orUnknown(s string) string {
	if s == "" {
		return unknownField
	}
	return s
}
