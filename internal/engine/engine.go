// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package engine implements the cryptographic primitives driven by the
// signature and encryption contexts: canonicalization, digests, signature
// methods, block ciphers, key transport and URI fetching.
//
// Every failure is a *Failure that has already been reported through the
// owning xmlsec.Engine's error callback when it is returned.
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// Failure is an engine-side error carrying the reason code reported through
// the error callback.
type Failure struct {
	Function string
	Object   string
	Subject  string
	Reason   int
	Err      error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(xmlsec.ReasonText(f.Reason))
	if f.Object != "" {
		fmt.Fprintf(&b, " (%s", f.Object)
		if f.Subject != "" {
			fmt.Fprintf(&b, ", %s", f.Subject)
		}
		b.WriteString(")")
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// ReasonCode returns the engine reason code.
func (f *Failure) ReasonCode() int { return f.Reason }

// AsFailure returns the *Failure in err's chain, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// Engine executes transforms and reports failures to an xmlsec.Engine.
type Engine struct {
	core *xmlsec.Engine
}

// New creates an engine reporting through core. A nil core uses the
// process-wide default engine.
func New(core *xmlsec.Engine) *Engine {
	if core == nil {
		core = xmlsec.Default()
	}
	return &Engine{core: core}
}

// Core returns the xmlsec.Engine failures are reported to.
func (e *Engine) Core() *xmlsec.Engine {
	return e.core
}

// Fail builds a Failure and reports it with the caller's location.
func (e *Engine) Fail(reason int, object, subject string, err error) *Failure {
	return e.fail(2, reason, object, subject, err)
}

func (e *Engine) fail(skip, reason int, object, subject string, err error) *Failure {
	file, line, function := "", 0, ""
	if pc, f, l, ok := runtime.Caller(skip); ok {
		file, line = filepath.Base(f), l
		if fn := runtime.FuncForPC(pc); fn != nil {
			function = fn.Name()
		}
	}

	failure := &Failure{
		Function: function,
		Object:   object,
		Subject:  subject,
		Reason:   reason,
		Err:      err,
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.core.Report(file, line, function, object, subject, reason, msg)
	return failure
}

// failf is Fail for engine-internal call sites.
func (e *Engine) failf(reason int, object, subject, format string, args ...any) *Failure {
	return e.fail(2, reason, object, subject, fmt.Errorf(format, args...))
}
