// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keys

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// ErrKeyDestroyed is returned when a destroyed key is used.
var ErrKeyDestroyed = errors.New("key has been destroyed")

// Key is a handle to key material plus its attached certificates.
//
// A Key is exclusively owned by its holder. Contexts and managers never share
// a caller's handle: they adopt a Duplicate, so each owner can Destroy its
// copy independently. Material itself is immutable and may be shared between
// duplicates. Renaming a key shared across goroutines needs external locking.
type Key struct {
	name  string
	kind  DataKind
	typ   DataType
	size  int
	usage Usage

	// symmetric material, sealed
	secret *memguard.Enclave

	// asymmetric material
	private crypto.PrivateKey
	public  crypto.PublicKey

	certs     []*x509.Certificate
	destroyed bool
}

func newSymmetricKey(kind DataKind, material []byte, typ DataType) (*Key, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("empty %s key material", kind)
	}
	size := len(material) * 8
	// NewEnclave wipes its input; seal a private copy.
	buf := make([]byte, len(material))
	copy(buf, material)
	enclave := memguard.NewEnclave(buf)
	if enclave == nil {
		return nil, fmt.Errorf("failed to seal %s key material", kind)
	}
	if typ == DataTypeUnknown || typ == DataTypeAny {
		typ = DataTypeSymmetric
	}
	return &Key{
		kind:   kind,
		typ:    typ | DataTypeSymmetric,
		size:   size,
		usage:  UsageAny,
		secret: enclave,
	}, nil
}

func newPrivateKey(priv crypto.PrivateKey) (*Key, error) {
	k := &Key{
		private: priv,
		typ:     DataTypePrivate | DataTypePublic,
		usage:   UsageSign | UsageVerify | UsageDecrypt | UsageEncrypt,
	}
	switch p := priv.(type) {
	case *rsa.PrivateKey:
		k.kind, k.public, k.size = DataKindRSA, &p.PublicKey, p.N.BitLen()
	case *ecdsa.PrivateKey:
		k.kind, k.public, k.size = DataKindEC, &p.PublicKey, p.Curve.Params().BitSize
		k.usage = UsageSign | UsageVerify
	case ed25519.PrivateKey:
		k.kind, k.public, k.size = DataKindEd25519, p.Public(), 256
		k.usage = UsageSign | UsageVerify
	case *dsa.PrivateKey:
		k.kind, k.public, k.size = DataKindDSA, &p.PublicKey, p.P.BitLen()
		k.usage = UsageSign | UsageVerify
	case crypto.Signer:
		// Opaque signers, e.g. keys living in a PKCS#11 token.
		pub, err := newPublicKey(p.Public())
		if err != nil {
			return nil, err
		}
		k.kind, k.public, k.size = pub.kind, pub.public, pub.size
		k.usage = UsageSign | UsageVerify
		if _, ok := p.(crypto.Decrypter); ok && k.kind == DataKindRSA {
			k.usage |= UsageDecrypt | UsageEncrypt
		}
	default:
		return nil, fmt.Errorf("unsupported private key type %T", priv)
	}
	return k, nil
}

func newPublicKey(pub crypto.PublicKey) (*Key, error) {
	k := &Key{
		public: pub,
		typ:    DataTypePublic,
		usage:  UsageVerify | UsageEncrypt,
	}
	switch p := pub.(type) {
	case *rsa.PublicKey:
		k.kind, k.size = DataKindRSA, p.N.BitLen()
	case *ecdsa.PublicKey:
		k.kind, k.size = DataKindEC, p.Curve.Params().BitSize
		k.usage = UsageVerify
	case ed25519.PublicKey:
		k.kind, k.size = DataKindEd25519, 256
		k.usage = UsageVerify
	case *dsa.PublicKey:
		k.kind, k.size = DataKindDSA, p.P.BitLen()
		k.usage = UsageVerify
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
	return k, nil
}

// NewSymmetricKey wraps raw secret bytes as a key of the given kind.
func NewSymmetricKey(kind DataKind, material []byte) (*Key, error) {
	if !kind.Symmetric() {
		return nil, fmt.Errorf("%s is not a symmetric key kind", kind)
	}
	return newSymmetricKey(kind, material, DataTypeSymmetric)
}

// NewPrivateKey wraps an RSA, ECDSA, Ed25519 or DSA private key, or any
// crypto.Signer.
func NewPrivateKey(priv crypto.PrivateKey) (*Key, error) {
	return newPrivateKey(priv)
}

// NewPublicKey wraps an RSA, ECDSA, Ed25519 or DSA public key.
func NewPublicKey(pub crypto.PublicKey) (*Key, error) {
	return newPublicKey(pub)
}

// Name returns the key name ("" when unnamed).
func (k *Key) Name() string { return k.name }

// SetName sets the key name.
func (k *Key) SetName(name string) { k.name = name }

// Kind returns the key data kind.
func (k *Key) Kind() DataKind { return k.kind }

// Type returns the key data type bitmask.
func (k *Key) Type() DataType { return k.typ }

// Size returns the key size in bits.
func (k *Key) Size() int { return k.size }

// Usage returns the operations this key can be used for.
func (k *Key) Usage() Usage { return k.usage }

// Valid reports whether the key still holds material.
func (k *Key) Valid() bool {
	return k != nil && !k.destroyed && (k.secret != nil || k.private != nil || k.public != nil)
}

// Public returns the public key, or nil for symmetric keys.
func (k *Key) Public() crypto.PublicKey { return k.public }

// Private returns the private key, or nil when the key is public or symmetric.
func (k *Key) Private() crypto.PrivateKey { return k.private }

// Certificate returns the first attached certificate, or nil.
func (k *Key) Certificate() *x509.Certificate {
	if len(k.certs) == 0 {
		return nil
	}
	return k.certs[0]
}

// Certificates returns all attached certificates.
func (k *Key) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, len(k.certs))
	copy(out, k.certs)
	return out
}

// UseSecret opens the sealed symmetric material for the duration of fn.
// The buffer is wiped when fn returns; fn must not retain it.
func (k *Key) UseSecret(fn func(secret []byte) error) error {
	if k.destroyed {
		return ErrKeyDestroyed
	}
	if k.secret == nil {
		return fmt.Errorf("%s key has no symmetric material", k.kind)
	}
	buffer, err := k.secret.Open()
	if err != nil {
		return fmt.Errorf("opening key material: %w", err)
	}
	defer buffer.Destroy()

	return fn(buffer.Bytes())
}

// Matches reports whether the key satisfies req.
func (k *Key) Matches(req Requirement) bool {
	if !k.Valid() {
		return false
	}
	if req.Kind != DataKindUnknown && req.Kind != k.kind {
		return false
	}
	if req.Type != DataTypeUnknown && req.Type != DataTypeAny && !k.typ.Has(req.Type) {
		return false
	}
	if req.Usage != 0 && k.usage&req.Usage == 0 {
		return false
	}
	if req.MinSize > 0 && k.size < req.MinSize {
		return false
	}
	return true
}

// Duplicate returns an independent handle on the same material.
func (k *Key) Duplicate() (*Key, error) {
	if !k.Valid() {
		return nil, ErrKeyDestroyed
	}
	dup := *k
	dup.certs = make([]*x509.Certificate, len(k.certs))
	copy(dup.certs, k.certs)
	return &dup, nil
}

// Destroy ends the lifetime of this handle. Duplicates are unaffected.
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	k.destroyed = true
	k.secret = nil
	k.private = nil
	k.public = nil
	k.certs = nil
}

func (k *Key) String() string {
	if k == nil {
		return "<nil key>"
	}
	name := k.name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("%s %s key %s (%d bits)", k.typ, k.kind, name, k.size)
}

// attachCertificate adds cert to the key, checking it carries the key's
// public key when the key is asymmetric.
func (k *Key) attachCertificate(cert *x509.Certificate) error {
	if k.secret != nil {
		return fmt.Errorf("cannot attach a certificate to a symmetric key")
	}
	if k.public != nil && !samePublicKey(k.public, cert.PublicKey) {
		return fmt.Errorf("certificate %q does not match the key", cert.Subject.String())
	}
	if k.public == nil {
		pub, err := newPublicKey(cert.PublicKey)
		if err != nil {
			return err
		}
		k.kind, k.public, k.size, k.typ, k.usage = pub.kind, pub.public, pub.size, pub.typ, pub.usage
	}
	k.certs = append(k.certs, cert)
	return nil
}

func samePublicKey(a, b crypto.PublicKey) bool {
	if eq, ok := a.(interface{ Equal(crypto.PublicKey) bool }); ok {
		return eq.Equal(b)
	}
	da, errA := x509.MarshalPKIXPublicKey(a)
	db, errB := x509.MarshalPKIXPublicKey(b)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}
