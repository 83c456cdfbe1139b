// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package dsig

import (
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// Operation names used in errors, logs and metrics.
const (
	opSign         = "sign"
	opVerify       = "verify"
	opSignBinary   = "sign-binary"
	opVerifyBinary = "verify-binary"
)

// Context runs exactly one signature operation. Create it with NewContext,
// bind a key or a keys manager, then call one of Sign, Verify, SignBinary or
// VerifyBinary. Any further call returns xmlsec.ErrReuse.
//
// A Context must not be used from more than one goroutine.
type Context struct {
	engine  *engine.Engine
	logger  *slog.Logger
	metrics xmlsec.MetricsRecorder

	key     *keys.Key
	manager *keys.Manager

	state  xmlsec.State
	status xmlsec.SignatureStatus
	slot   *transform.Transform

	referenceTransforms allowlist
	signatureTransforms allowlist
	enabledKeyData      []keys.DataKind
	searchFlags         keys.KeySearchFlags

	signedInfo []byte
	references []ReferenceResult
}

// Option configures a Context.
type Option func(*Context) error

// WithEngine reports failures through e instead of the default engine.
func WithEngine(e *xmlsec.Engine) Option {
	return func(c *Context) error {
		if e == nil {
			return fmt.Errorf("engine is nil")
		}
		c.engine = engine.New(e)
		return nil
	}
}

// WithKey binds a duplicate of key.
func WithKey(key *keys.Key) Option {
	return func(c *Context) error {
		return c.bindKey(key)
	}
}

// WithReferenceTransforms enables the given reference transforms and digest
// methods; see EnableReferenceTransform.
func WithReferenceTransforms(ids ...transform.ID) Option {
	return func(c *Context) error {
		for _, id := range ids {
			if err := c.EnableReferenceTransform(id); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithSignatureTransforms enables the given canonicalization and signature
// methods; see EnableSignatureTransform.
func WithSignatureTransforms(ids ...transform.ID) Option {
	return func(c *Context) error {
		for _, id := range ids {
			if err := c.EnableSignatureTransform(id); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithEnabledKeyData restricts key resolution; see SetEnabledKeyData.
func WithEnabledKeyData(kinds ...keys.DataKind) Option {
	return func(c *Context) error {
		c.SetEnabledKeyData(kinds...)
		return nil
	}
}

// WithKeySearchFlags sets the manager search flags.
func WithKeySearchFlags(flags keys.KeySearchFlags) Option {
	return func(c *Context) error {
		c.searchFlags = flags
		return nil
	}
}

// NewContext creates a signature context. mngr may be nil; it is borrowed
// and consulted when no key is bound.
func NewContext(mngr *keys.Manager, opts ...Option) (*Context, error) {
	c := &Context{
		engine:  engine.New(nil),
		manager: mngr,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.Destroy()
			return nil, xmlsec.NewError(xmlsec.ErrContextCreation, "dsig.NewContext", xmlsec.ReasonCode(err), err)
		}
	}
	c.logger = c.engine.Core().Logger().With(slog.String("component", "dsig"))
	c.metrics = c.engine.Core().Metrics()
	return c, nil
}

// SetKey binds a duplicate of key, replacing any key bound before. The
// caller keeps ownership of key.
func (c *Context) SetKey(key *keys.Key) error {
	if c.state.Used() {
		return xmlsec.Errorf(xmlsec.ErrReuse, "dsig.SetKey", "context state is %s", c.state)
	}
	return c.bindKey(key)
}

func (c *Context) bindKey(key *keys.Key) error {
	if key == nil {
		return xmlsec.Errorf(xmlsec.ErrKeyNotSet, "dsig.SetKey", "key is nil")
	}
	dup, err := key.Duplicate()
	if err != nil {
		return xmlsec.NewError(xmlsec.ErrMemoryAllocation, "dsig.SetKey", 0, err)
	}
	c.key.Destroy()
	c.key = dup
	c.state = xmlsec.StateKeyBound
	return nil
}

// Key returns the bound key, owned by the context, or nil.
func (c *Context) Key() *keys.Key { return c.key }

// Manager returns the borrowed keys manager, or nil.
func (c *Context) Manager() *keys.Manager { return c.manager }

// State returns the lifecycle state.
func (c *Context) State() xmlsec.State { return c.state }

// Status returns the verification status of the last run. Sign leaves it
// succeeded on success.
func (c *Context) Status() xmlsec.SignatureStatus { return c.status }

// SignedInfo returns the canonical SignedInfo bytes that were signed or
// verified.
func (c *Context) SignedInfo() []byte { return c.signedInfo }

// References returns the per-reference outcome of the last Sign or Verify.
func (c *Context) References() []ReferenceResult { return c.references }

// EnableReferenceTransform adds id to the reference allowlist. The first call
// turns the allowlist on: afterwards only enabled transforms and digest
// methods are accepted inside Reference elements.
func (c *Context) EnableReferenceTransform(id transform.ID) error {
	t, ok := transform.Lookup(id)
	if !ok || !t.Has(transform.UsageDSigTransform|transform.UsageDigestMethod) {
		return xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, "dsig.EnableReferenceTransform", "%s cannot be used in a reference", id)
	}
	c.referenceTransforms.enable(id)
	return nil
}

// EnableSignatureTransform adds id to the SignedInfo allowlist. The first call
// turns the allowlist on: afterwards only enabled canonicalization and
// signature methods are accepted, including by SignBinary and VerifyBinary.
func (c *Context) EnableSignatureTransform(id transform.ID) error {
	t, ok := transform.Lookup(id)
	if !ok || !t.Has(transform.UsageC14NMethod|transform.UsageSignatureMethod) {
		return xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, "dsig.EnableSignatureTransform", "%s cannot be used in SignedInfo", id)
	}
	c.signatureTransforms.enable(id)
	return nil
}

// SetEnabledKeyData restricts the KeyInfo sources and the manager key kinds
// used to resolve a key. Without a call, KeyName and X509Data are honoured,
// KeyValue is ignored and every manager key kind is considered.
func (c *Context) SetEnabledKeyData(kinds ...keys.DataKind) {
	c.enabledKeyData = append([]keys.DataKind(nil), kinds...)
}

// SetKeySearchFlags sets the flags used when looking keys up in the manager.
func (c *Context) SetKeySearchFlags(flags keys.KeySearchFlags) {
	c.searchFlags = flags
}

// Destroy releases the bound key.
func (c *Context) Destroy() {
	c.key.Destroy()
	c.key = nil
}

// begin moves the context into execution or returns a reuse error.
func (c *Context) begin(op string) error {
	if c.state.Used() || c.slot != nil {
		return xmlsec.Errorf(xmlsec.ErrReuse, op, "context state is %s", c.state)
	}
	c.state = xmlsec.StateExecuting
	c.logger.Debug("operation started", slog.String("op", op), slog.String("key", c.key.String()))
	return nil
}

// fail records a failed run and builds the boundary error.
func (c *Context) fail(op string, kind error, err error) error {
	c.state = xmlsec.StateFailed
	xe := xmlsec.NewError(kind, op, xmlsec.ReasonCode(err), err)
	c.logger.Warn("operation failed", slog.String("op", op), slog.String("error", xe.Error()))
	c.metrics.RecordOperation(op, false)
	return xe
}

// invalid records a completed run whose check did not succeed.
func (c *Context) invalid(op string, code int, err error) error {
	c.state = xmlsec.StateCompleted
	c.status = xmlsec.StatusInvalid
	xe := xmlsec.NewError(xmlsec.ErrVerification, op, code, err)
	xe.Status = c.status
	c.logger.Warn("verification failed", slog.String("op", op), slog.String("status", c.status.String()))
	c.metrics.RecordOperation(op, false)
	c.metrics.RecordVerification(c.status)
	return xe
}

func (c *Context) succeed(op string) {
	c.state = xmlsec.StateCompleted
	c.status = xmlsec.StatusSucceeded
	c.logger.Debug("operation finished", slog.String("op", op), slog.String("status", c.status.String()))
	c.metrics.RecordOperation(op, true)
	if op == opVerify || op == opVerifyBinary {
		c.metrics.RecordVerification(c.status)
	}
}

type allowlist struct {
	active bool
	ids    map[transform.ID]struct{}
}

func (a *allowlist) enable(id transform.ID) {
	if a.ids == nil {
		a.ids = make(map[transform.ID]struct{})
	}
	a.active = true
	a.ids[id] = struct{}{}
}

func (a *allowlist) allows(id transform.ID) bool {
	if !a.active {
		return true
	}
	_, ok := a.ids[id]
	return ok
}
