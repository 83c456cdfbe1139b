// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-xmlsec/internal/config"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
)

// NewProvider creates a Provider based on the configuration. It returns nil
// and no error for file mode without a key directory.
func NewProvider(cfg *config.KeysConfig) (Provider, error) {
	switch cfg.Mode {
	case config.ModePKCS11:
		return newPKCS11Provider(cfg)
	case config.ModeFile:
		if cfg.File.KeyDir == "" {
			return nil, nil
		}
		return NewFileProvider(cfg.File.KeyDir, cfg.File.Password)
	default:
		return nil, fmt.Errorf("unknown key mode: %s", cfg.Mode)
	}
}

func newPKCS11Provider(cfg *config.KeysConfig) (Provider, error) {
	p11cfg := &PKCS11Config{
		ModulePath: cfg.PKCS11.ModulePath,
		SlotLabel:  cfg.PKCS11.SlotLabel,
		PIN:        cfg.PKCS11.PIN,
		Labels:     cfg.PKCS11.Labels,
	}
	if cfg.PKCS11.SlotID > 0 {
		slotID := cfg.PKCS11.SlotID
		p11cfg.SlotID = &slotID
	}
	return NewPKCS11Provider(p11cfg)
}

// NewManager builds a keys manager holding the configured certificates and
// every key of the configured provider. The provider is returned so the
// caller can close it once the manager is no longer used; it may be nil.
func NewManager(ctx context.Context, cfg *config.KeysConfig) (*keys.Manager, Provider, error) {
	mngr := keys.NewManager()

	for _, path := range cfg.Trusted {
		if err := mngr.LoadCertificate(path, keys.FormatCertPEM, keys.DataTypeTrusted); err != nil {
			mngr.Destroy()
			return nil, nil, fmt.Errorf("loading trusted certificate: %w", err)
		}
	}
	for _, path := range cfg.Untrusted {
		if err := mngr.LoadCertificate(path, keys.FormatCertPEM, keys.DataTypeNone); err != nil {
			mngr.Destroy()
			return nil, nil, fmt.Errorf("loading untrusted certificate: %w", err)
		}
	}
	for _, path := range cfg.Revocation.CRLs {
		if err := mngr.LoadCRL(path, keys.FormatUnknown); err != nil {
			mngr.Destroy()
			return nil, nil, fmt.Errorf("loading CRL: %w", err)
		}
	}
	if cfg.Revocation.OCSP {
		mngr.SetRevocationChecker(keys.NewOCSPChecker(&keys.RevocationConfig{
			Timeout:      cfg.Revocation.Timeout,
			CRLFallback:  cfg.Revocation.CRLFallback,
			CacheTimeout: time.Hour,
			Strict:       cfg.Revocation.Strict,
		}))
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		mngr.Destroy()
		return nil, nil, err
	}
	if provider == nil {
		return mngr, nil, nil
	}
	if err := provider.Populate(ctx, mngr); err != nil {
		provider.Close()
		mngr.Destroy()
		return nil, nil, fmt.Errorf("populating keys manager: %w", err)
	}
	return mngr, provider, nil
}
