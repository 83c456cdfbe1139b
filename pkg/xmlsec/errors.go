// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is; the concrete value returned by the
// library is usually an *Error wrapping one of these.
var (
	ErrInitialization       = errors.New("xmlsec: initialization failed")
	ErrKeyLoad              = errors.New("xmlsec: key load failed")
	ErrCertificateLoad      = errors.New("xmlsec: certificate load failed")
	ErrContextCreation      = errors.New("xmlsec: context creation failed")
	ErrUnsupportedAlgorithm = errors.New("xmlsec: unsupported algorithm")
	ErrUnsupportedFeature   = errors.New("xmlsec: unsupported feature")
	ErrReuse                = errors.New("xmlsec: context already used")
	ErrKeyNotSet            = errors.New("xmlsec: key not set")
	ErrKeyMismatch          = errors.New("xmlsec: key does not match algorithm")
	ErrValidation           = errors.New("xmlsec: validation failed")
	ErrTransformExecution   = errors.New("xmlsec: transform execution failed")
	ErrVerification         = errors.New("xmlsec: verification failed")
	ErrMalformedResult      = errors.New("xmlsec: malformed result")
	ErrMemoryAllocation     = errors.New("xmlsec: memory allocation failed")
)

// Error is the typed error returned at the library boundary. Kind is one of
// the Err* sentinels; Code is the engine reason code (0 when the failure was
// detected before the engine ran).
type Error struct {
	Kind    error
	Op      string
	Code    int
	Subject string
	Status  SignatureStatus
	Err     error
}

// NewError builds an *Error of the given kind.
func NewError(kind error, op string, code int, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// Errorf builds an *Error of the given kind with a formatted cause.
func Errorf(kind error, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithSubject sets the subject (file path, buffer description, node name).
func (e *Error) WithSubject(subject string) *Error {
	e.Subject = subject
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("xmlsec: error")
	}
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " (%s)", e.Subject)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " [reason %d]", e.Code)
	}
	if errors.Is(e.Kind, ErrVerification) {
		fmt.Fprintf(&b, " status=%s", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ReasonCode extracts the engine reason code carried by err, if any.
func ReasonCode(err error) int {
	var xe *Error
	if errors.As(err, &xe) && xe.Code != 0 {
		return xe.Code
	}
	var coded interface{ ReasonCode() int }
	if errors.As(err, &coded) {
		return coded.ReasonCode()
	}
	return 0
}

// StatusOf returns the verification status carried by err, or StatusUnknown.
func StatusOf(err error) SignatureStatus {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Status
	}
	return StatusUnknown
}
