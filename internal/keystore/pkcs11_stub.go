// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

//go:build !pkcs11

package keystore

import (
	"context"
	"errors"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
)

// PKCS11Provider is a stub that returns an error when PKCS#11 support is not compiled in.
type PKCS11Provider struct{}

// PKCS11Config holds configuration for the PKCS#11 provider
type PKCS11Config struct {
	ModulePath string
	SlotID     *uint
	SlotLabel  string
	PIN        string
	Labels     []string
}

// ErrPKCS11NotSupported is returned when PKCS#11 operations are attempted
// but the binary was not compiled with PKCS#11 support.
var ErrPKCS11NotSupported = errors.New("PKCS#11 support not compiled in (build with -tags pkcs11)")

// NewPKCS11Provider returns an error because PKCS#11 is not compiled in.
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	return nil, ErrPKCS11NotSupported
}

// Key returns an error because PKCS#11 is not compiled in.
func (p *PKCS11Provider) Key(ctx context.Context, name string) (*keys.Key, error) {
	return nil, ErrPKCS11NotSupported
}

// Populate returns an error because PKCS#11 is not compiled in.
func (p *PKCS11Provider) Populate(ctx context.Context, mngr *keys.Manager) error {
	return ErrPKCS11NotSupported
}

// ListKeys returns an error because PKCS#11 is not compiled in.
func (p *PKCS11Provider) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	return nil, ErrPKCS11NotSupported
}

// Close is a no-op.
func (p *PKCS11Provider) Close() error {
	return nil
}
