// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package profile turns a YAML configuration into a ready engine, a
// populated keys manager and context options that apply the configured
// algorithm allowlists and key resolution rules.
//
//	p, err := profile.Load(ctx, "/etc/xmlsec/xmlsec.yaml")
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	signer, err := p.NewSignatureContext(dsig.WithKey(key))
package profile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sirosfoundation/go-xmlsec/internal/config"
	"github.com/sirosfoundation/go-xmlsec/internal/keystore"
	"github.com/sirosfoundation/go-xmlsec/pkg/dsig"
	"github.com/sirosfoundation/go-xmlsec/pkg/encryption"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// Profile is a configured engine with its keys manager.
type Profile struct {
	Engine  *xmlsec.Engine
	Manager *keys.Manager

	cfg      *config.Config
	provider keystore.Provider
}

// Option configures how a Profile is built.
type Option func(*options)

type options struct {
	output     io.Writer
	registerer prometheus.Registerer
	callback   xmlsec.ErrorCallback
}

// WithOutput sets where log records are written. The default is stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithRegisterer sets the registry metrics are registered with when metrics
// are enabled. The default is the Prometheus default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithErrorCallback installs cb on the profile's engine.
func WithErrorCallback(cb xmlsec.ErrorCallback) Option {
	return func(o *options) { o.callback = cb }
}

// Load reads the configuration file at path and builds a Profile from it.
func Load(ctx context.Context, path string, opts ...Option) (*Profile, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, opts...)
}

// New builds a Profile from a validated configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Profile, error) {
	o := &options{
		output:     os.Stderr,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(o)
	}

	engineOpts := []xmlsec.Option{xmlsec.WithLogger(newLogger(cfg.Logging, o.output))}
	if cfg.Metrics.Enabled {
		engineOpts = append(engineOpts, xmlsec.WithMetrics(xmlsec.NewPrometheusMetricsRecorderWithRegistry(o.registerer)))
	}
	if o.callback != nil {
		engineOpts = append(engineOpts, xmlsec.WithErrorCallback(o.callback))
	}
	engine, err := xmlsec.Init(engineOpts...)
	if err != nil {
		return nil, err
	}

	mngr, provider, err := keystore.NewManager(ctx, &cfg.Keys)
	if err != nil {
		return nil, fmt.Errorf("loading keys: %w", err)
	}

	engine.Logger().Info("profile loaded",
		slog.String("key_mode", cfg.Keys.Mode),
		slog.Int("keys", mngr.Len()),
		slog.Bool("metrics", cfg.Metrics.Enabled))

	return &Profile{
		Engine:   engine,
		Manager:  mngr,
		cfg:      cfg,
		provider: provider,
	}, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// SignatureOptions returns the dsig options applying the profile.
func (p *Profile) SignatureOptions() []dsig.Option {
	opts := []dsig.Option{
		dsig.WithEngine(p.Engine),
		dsig.WithKeySearchFlags(p.cfg.Keys.SearchFlags()),
	}
	if ids := config.TransformIDs(p.cfg.Transforms.Signature); len(ids) > 0 {
		opts = append(opts, dsig.WithSignatureTransforms(ids...))
	}
	if ids := config.TransformIDs(p.cfg.Transforms.Reference); len(ids) > 0 {
		opts = append(opts, dsig.WithReferenceTransforms(ids...))
	}
	if kinds := config.KeyDataKinds(p.cfg.Keys.KeyData); len(kinds) > 0 {
		opts = append(opts, dsig.WithEnabledKeyData(kinds...))
	}
	return opts
}

// EncryptionOptions returns the encryption options applying the profile.
func (p *Profile) EncryptionOptions() []encryption.Option {
	opts := []encryption.Option{
		encryption.WithEngine(p.Engine),
		encryption.WithKeySearchFlags(p.cfg.Keys.SearchFlags()),
	}
	if ids := config.TransformIDs(p.cfg.Transforms.Encryption); len(ids) > 0 {
		opts = append(opts, encryption.WithEncryptionTransforms(ids...))
	}
	if kinds := config.KeyDataKinds(p.cfg.Keys.KeyData); len(kinds) > 0 {
		opts = append(opts, encryption.WithEnabledKeyData(kinds...))
	}
	return opts
}

// NewSignatureContext creates a signature context backed by the profile's
// manager. opts are applied after the profile's own options.
func (p *Profile) NewSignatureContext(opts ...dsig.Option) (*dsig.Context, error) {
	return dsig.NewContext(p.Manager, append(p.SignatureOptions(), opts...)...)
}

// NewEncryptionContext creates an encryption context backed by the
// profile's manager. opts are applied after the profile's own options.
func (p *Profile) NewEncryptionContext(opts ...encryption.Option) (*encryption.Context, error) {
	return encryption.NewContext(p.Manager, append(p.EncryptionOptions(), opts...)...)
}

// Close destroys the manager and closes the key provider.
func (p *Profile) Close() error {
	p.Manager.Destroy()
	if p.provider != nil {
		return p.provider.Close()
	}
	return nil
}
