// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

//go:build pkcs11

package keystore

import (
	"context"
	"fmt"

	"github.com/ThalesGroup/crypto11"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
)

// PKCS11Provider implements Provider using a PKCS#11 token (HSM/smart card)
//
// Private keys never leave the token: the keys handed out wrap opaque
// crypto11 signers, so they sign and, for RSA, decrypt key transport
// material inside the token.
type PKCS11Provider struct {
	ctx    *crypto11.Context
	labels []string
}

// PKCS11Config holds configuration for the PKCS#11 provider
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string

	// SlotID is the slot number to use (optional if SlotLabel is provided)
	SlotID *uint

	// SlotLabel is the token label to search for (optional if SlotID is provided)
	SlotLabel string

	// PIN is the user PIN for authentication
	PIN string

	// Labels are the labels of the key pairs to expose
	Labels []string
}

// NewPKCS11Provider creates a new PKCS#11 key provider
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	if cfg.PIN == "" {
		return nil, ErrPINRequired
	}
	config := &crypto11.Config{
		Path: cfg.ModulePath,
		Pin:  cfg.PIN,
	}

	if cfg.SlotID != nil {
		slotID := int(*cfg.SlotID)
		config.SlotNumber = &slotID
	}
	if cfg.SlotLabel != "" {
		config.TokenLabel = cfg.SlotLabel
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}

	return &PKCS11Provider{
		ctx:    ctx,
		labels: cfg.Labels,
	}, nil
}

// Key returns the key pair with the given label
func (p *PKCS11Provider) Key(ctx context.Context, name string) (*keys.Key, error) {
	signer, err := p.ctx.FindKeyPair(nil, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if signer == nil {
		return nil, ErrKeyNotFound
	}

	k, err := keys.NewPrivateKey(signer)
	if err != nil {
		return nil, fmt.Errorf("wrapping token key %s: %w", name, err)
	}
	k.SetName(name)

	// Find the associated certificate
	cert, err := p.ctx.FindCertificate(nil, []byte(name), nil)
	if err != nil {
		k.Destroy()
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert != nil {
		if err := k.LoadCertificateFromMemory(cert.Raw, keys.FormatCertDER); err != nil {
			k.Destroy()
			return nil, fmt.Errorf("attaching certificate: %w", err)
		}
	}
	return k, nil
}

// Populate adds every configured key pair to mngr
func (p *PKCS11Provider) Populate(ctx context.Context, mngr *keys.Manager) error {
	return populate(ctx, p, mngr)
}

// ListKeys describes the configured key pairs
func (p *PKCS11Provider) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	infos := make([]KeyInfo, 0, len(p.labels))
	for _, label := range p.labels {
		k, err := p.Key(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("loading key %s: %w", label, err)
		}
		infos = append(infos, describe(label, "pkcs11:"+label, k))
		k.Destroy()
	}
	return infos, nil
}

// Close releases PKCS#11 resources
func (p *PKCS11Provider) Close() error {
	return p.ctx.Close()
}
