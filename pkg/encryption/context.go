// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package encryption

import (
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmltree"
)

// Operation names used in errors, logs and metrics.
const (
	opEncryptBinary = "encrypt-binary"
	opEncryptXML    = "encrypt-xml"
	opEncryptURI    = "encrypt-uri"
	opDecrypt       = "decrypt"
)

// Resolver fetches the payload of EncryptURI and of CipherReference
// elements.
type Resolver interface {
	Resolve(uri string) ([]byte, error)
}

// Context runs exactly one encryption or decryption. Any second call of
// EncryptBinary, EncryptXML, EncryptURI or Decrypt returns xmlsec.ErrReuse.
//
// A Context must not be used from more than one goroutine.
type Context struct {
	engine  *engine.Engine
	logger  *slog.Logger
	metrics xmlsec.MetricsRecorder

	key     *keys.Key
	manager *keys.Manager

	tree       *xmltree.Tree
	reconciler *xmltree.Reconciler
	resolver   Resolver

	state          xmlsec.State
	methods        allowlist
	enabledKeyData []keys.DataKind
	searchFlags    keys.KeySearchFlags
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

// WithTree makes the context honour the handles of tree when it releases
// nodes displaced from a document. Without it nothing outside the context
// is assumed to point into the document.
func WithTree(tree *xmltree.Tree) Option {
	return func(c *Context) error {
		if tree == nil {
			return fmt.Errorf("tree is nil")
		}
		c.tree = tree
		return nil
	}
}

// WithURIResolver sets how EncryptURI and CipherReference URIs are fetched.
// The default reads local files.
func WithURIResolver(r Resolver) Option {
	return func(c *Context) error {
		c.resolver = r
		return nil
	}
}

// WithEncryptionTransforms enables the given methods; see
// EnableEncryptionTransform.
func WithEncryptionTransforms(ids ...transform.ID) Option {
	return func(c *Context) error {
		for _, id := range ids {
			if err := c.EnableEncryptionTransform(id); err != nil {
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

// NewContext creates an encryption context. mngr may be nil; it is borrowed
// and consulted when no key is bound.
func NewContext(mngr *keys.Manager, opts ...Option) (*Context, error) {
	c := &Context{
		engine:  engine.New(nil),
		manager: mngr,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.Destroy()
			return nil, xmlsec.NewError(xmlsec.ErrContextCreation, "encryption.NewContext", xmlsec.ReasonCode(err), err)
		}
	}
	c.logger = c.engine.Core().Logger().With(slog.String("component", "encryption"))
	c.metrics = c.engine.Core().Metrics()
	if c.tree == nil {
		c.tree = xmltree.NewTree()
	}
	c.reconciler = xmltree.NewReconciler(c.tree, c.logger)
	return c, nil
}

// SetKey binds a duplicate of key, replacing any key bound before.
func (c *Context) SetKey(key *keys.Key) error {
	if c.state.Used() {
		return xmlsec.Errorf(xmlsec.ErrReuse, "encryption.SetKey", "context state is %s", c.state)
	}
	return c.bindKey(key)
}

func (c *Context) bindKey(key *keys.Key) error {
	if key == nil {
		return xmlsec.Errorf(xmlsec.ErrKeyNotSet, "encryption.SetKey", "key is nil")
	}
	dup, err := key.Duplicate()
	if err != nil {
		return xmlsec.NewError(xmlsec.ErrMemoryAllocation, "encryption.SetKey", 0, err)
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

// Tree returns the reference layer consulted when nodes are displaced.
func (c *Context) Tree() *xmltree.Tree { return c.tree }

// State returns the lifecycle state.
func (c *Context) State() xmlsec.State { return c.state }

// EnableEncryptionTransform adds id to the allowlist of data encryption and
// key transport methods. The first call turns the allowlist on.
func (c *Context) EnableEncryptionTransform(id transform.ID) error {
	t, ok := transform.Lookup(id)
	if !ok || !t.Has(transform.UsageEncryptionMethod) {
		return xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, "encryption.EnableEncryptionTransform", "%s is not an encryption method", id)
	}
	c.methods.enable(id)
	return nil
}

// SetEnabledKeyData restricts the key kinds taken from the manager and
// whether KeyName and EncryptedKey are honoured. Without a call everything
// is allowed.
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

func (c *Context) begin(op string) error {
	if c.state.Used() {
		return xmlsec.Errorf(xmlsec.ErrReuse, op, "context state is %s", c.state)
	}
	c.state = xmlsec.StateExecuting
	c.logger.Debug("operation started", slog.String("op", op), slog.String("key", c.key.String()))
	return nil
}

func (c *Context) fail(op string, kind error, err error) error {
	c.state = xmlsec.StateFailed
	xe := xmlsec.NewError(kind, op, xmlsec.ReasonCode(err), err)
	c.logger.Warn("operation failed", slog.String("op", op), slog.String("error", xe.Error()))
	c.metrics.RecordOperation(op, false)
	return xe
}

func (c *Context) succeed(op string) {
	c.state = xmlsec.StateCompleted
	c.logger.Debug("operation finished", slog.String("op", op))
	c.metrics.RecordOperation(op, true)
}

// drain hands the displaced nodes to the reconciler.
func (c *Context) drain(list *xmltree.DisplacedList) error {
	freed, err := c.reconciler.Reconcile(list)
	c.metrics.RecordNodesReleased(freed)
	return err
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
