// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package keystore loads keys from their storage backends into a keys
// manager.
//
// A Provider knows one backend:
//
//   - File-based: PEM, DER, PKCS#12 and raw symmetric key files in a directory
//   - PKCS#11: Key pairs stored in hardware security modules (HSM) or smart
//     cards, used through opaque signers
//
// Signature and encryption contexts never talk to a provider directly; they
// resolve keys from the manager the provider populated.
package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found in key store")
	ErrPINRequired = errors.New("PIN required to unlock key")
)

// Provider gives access to the keys of one storage backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Key returns the named key. The caller owns the returned key.
	Key(ctx context.Context, name string) (*keys.Key, error)

	// Populate adds every key of the backend to mngr.
	Populate(ctx context.Context, mngr *keys.Manager) error

	// ListKeys describes all keys available in the backend.
	ListKeys(ctx context.Context) ([]KeyInfo, error)

	// Close releases any resources held by the provider. Keys handed out
	// before stay usable only as long as the backend allows; PKCS#11 keys
	// do not survive Close.
	Close() error
}

// KeyInfo describes a stored key
type KeyInfo struct {
	// Name is the key name used for KeyName lookups
	Name string

	// Source is the file path or token label the key was read from
	Source string

	// Kind is the key data kind (RSA, EC, AES, ...)
	Kind keys.DataKind

	// Size is the key size in bits
	Size int

	// NotBefore is when the associated certificate becomes valid
	NotBefore time.Time

	// NotAfter is when the associated certificate expires
	NotAfter time.Time

	// CertificateSubject is the subject DN of the certificate, if any
	CertificateSubject string
}

func describe(name, source string, k *keys.Key) KeyInfo {
	info := KeyInfo{
		Name:   name,
		Source: source,
		Kind:   k.Kind(),
		Size:   k.Size(),
	}
	if cert := k.Certificate(); cert != nil {
		info.NotBefore = cert.NotBefore
		info.NotAfter = cert.NotAfter
		info.CertificateSubject = cert.Subject.String()
	}
	return info
}

// populate loads every listed key through p and adds it to mngr.
func populate(ctx context.Context, p Provider, mngr *keys.Manager) error {
	infos, err := p.ListKeys(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		k, err := p.Key(ctx, info.Name)
		if err != nil {
			return err
		}
		err = mngr.AddKey(k)
		k.Destroy()
		if err != nil {
			return err
		}
	}
	return nil
}
