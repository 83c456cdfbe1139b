// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keys

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// Manager errors
var (
	ErrKeyNotFound    = errors.New("no matching key in keys manager")
	ErrNoTrustAnchors = errors.New("keys manager holds no trusted certificates")
)

// KeySearchFlags tune how a Manager resolves keys.
type KeySearchFlags uint

const (
	// KeySearchLax falls back to any key matching the requirement when no key
	// carries the requested name.
	KeySearchLax KeySearchFlags = 1 << 0
)

// Query describes the key a context is looking for.
type Query struct {
	Name        string
	Kinds       []DataKind
	Requirement Requirement
	Flags       KeySearchFlags
}

type certEntry struct {
	cert *x509.Certificate
	mask DataType
}

// Manager is an aggregate of keys and certificates consulted when a context
// has no bound key. It is safe for concurrent use.
type Manager struct {
	mu            sync.RWMutex
	keys          []*Key
	certs         []certEntry
	roots         *x509.CertPool
	intermediates *x509.CertPool
	trusted       []*x509.Certificate
	crls          []*x509.RevocationList
	revocation    RevocationChecker
}

// NewManager creates an empty keys manager.
func NewManager() *Manager {
	return &Manager{
		roots:         x509.NewCertPool(),
		intermediates: x509.NewCertPool(),
	}
}

// AddKey adopts a duplicate of key. The caller keeps ownership of key.
func (m *Manager) AddKey(key *Key) error {
	dup, err := key.Duplicate()
	if err != nil {
		return xmlsec.NewError(xmlsec.ErrKeyLoad, "keys.Manager.AddKey", xmlsec.ReasonInvalidKeyData, err)
	}

	m.mu.Lock()
	m.keys = append(m.keys, dup)
	m.mu.Unlock()
	return nil
}

// LoadCertificate reads certificates from path and adds them with the given
// type mask. Certificates loaded with DataTypeTrusted become trust anchors;
// all others are untrusted chain material.
func (m *Manager) LoadCertificate(path string, format Format, mask DataType) error {
	const op = "keys.Manager.LoadCertificate"
	data, err := os.ReadFile(path)
	if err != nil {
		return certLoadError(op, path, xmlsec.ReasonIOFailed, fmt.Errorf("reading certificate file: %w", err))
	}
	if err := m.addCertificates(data, format, mask); err != nil {
		return certLoadError(op, path, xmlsec.ReasonInvalidData, err)
	}
	return nil
}

// LoadCertificateFromMemory parses certificates from data and adds them with
// the given type mask.
func (m *Manager) LoadCertificateFromMemory(data []byte, format Format, mask DataType) error {
	if err := m.addCertificates(data, format, mask); err != nil {
		return certLoadError("keys.Manager.LoadCertificateFromMemory", memoryDescription(data), xmlsec.ReasonInvalidData, err)
	}
	return nil
}

func (m *Manager) addCertificates(data []byte, format Format, mask DataType) error {
	certs, err := ParseCertificates(data, format)
	if err != nil {
		return err
	}

	keys := make([]*Key, 0, len(certs))
	for _, cert := range certs {
		k := &Key{name: cert.Subject.CommonName}
		if err := k.attachCertificate(cert); err != nil {
			return err
		}
		k.typ |= mask & (DataTypeTrusted | DataTypeSession | DataTypePermanent)
		keys = append(keys, k)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cert := range certs {
		m.certs = append(m.certs, certEntry{cert: cert, mask: mask})
		if mask != DataTypeAny && mask.Has(DataTypeTrusted) {
			m.roots.AddCert(cert)
			m.trusted = append(m.trusted, cert)
		} else {
			m.intermediates.AddCert(cert)
		}
		m.keys = append(m.keys, keys[i])
	}
	return nil
}

// FindKey returns a duplicate of the first key satisfying q. The caller owns
// the returned key.
func (m *Manager) FindKey(q Query) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fallback *Key
	for _, k := range m.keys {
		if !kindAllowed(k.kind, q.Kinds) || !k.Matches(q.Requirement) {
			continue
		}
		if q.Name == "" || k.name == q.Name {
			return k.Duplicate()
		}
		if fallback == nil {
			fallback = k
		}
	}
	if fallback != nil && q.Flags&KeySearchLax != 0 {
		return fallback.Duplicate()
	}
	if q.Name != "" {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, q.Name)
	}
	return nil, ErrKeyNotFound
}

func kindAllowed(kind DataKind, kinds []DataKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// LoadCRL reads certificate revocation lists from path. Loaded lists are
// consulted for every chain VerifyCertificate builds.
func (m *Manager) LoadCRL(path string, format Format) error {
	const op = "keys.Manager.LoadCRL"
	data, err := os.ReadFile(path)
	if err != nil {
		return certLoadError(op, path, xmlsec.ReasonIOFailed, fmt.Errorf("reading CRL file: %w", err))
	}
	if err := m.addCRLs(data, format); err != nil {
		return certLoadError(op, path, xmlsec.ReasonInvalidData, err)
	}
	return nil
}

// LoadCRLFromMemory parses certificate revocation lists from data.
func (m *Manager) LoadCRLFromMemory(data []byte, format Format) error {
	if err := m.addCRLs(data, format); err != nil {
		return certLoadError("keys.Manager.LoadCRLFromMemory", memoryDescription(data), xmlsec.ReasonInvalidData, err)
	}
	return nil
}

func (m *Manager) addCRLs(data []byte, format Format) error {
	crls, err := ParseCRLs(data, format)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.crls = append(m.crls, crls...)
	m.mu.Unlock()
	return nil
}

// SetRevocationChecker installs an online revocation checker. A nil checker
// leaves only the loaded CRLs in effect.
func (m *Manager) SetRevocationChecker(rc RevocationChecker) {
	m.mu.Lock()
	m.revocation = rc
	m.mu.Unlock()
}

// VerifyCertificate checks that cert chains to one of the trust anchors.
// chain holds extra untrusted certificates, typically the rest of an
// X509Data element.
func (m *Manager) VerifyCertificate(cert *x509.Certificate, chain ...*x509.Certificate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return m.VerifyCertificateContext(ctx, cert, chain...)
}

// VerifyCertificateContext is VerifyCertificate with a context bounding the
// revocation checks.
func (m *Manager) VerifyCertificateContext(ctx context.Context, cert *x509.Certificate, chain ...*x509.Certificate) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.trusted) == 0 {
		return ErrNoTrustAnchors
	}
	for _, anchor := range m.trusted {
		if anchor.Equal(cert) {
			return nil
		}
	}

	intermediates := m.intermediates.Clone()
	for _, c := range chain {
		intermediates.AddCert(c)
	}
	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         m.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("verifying certificate %q: %w", cert.Subject.String(), err)
	}
	if len(m.crls) == 0 && m.revocation == nil {
		return nil
	}

	// every path to an anchor must be clean
	for _, verified := range chains {
		if err := m.checkChain(ctx, verified); err != nil {
			return fmt.Errorf("verifying certificate %q: %w", cert.Subject.String(), err)
		}
	}
	return nil
}

// checkChain checks every non-anchor certificate of a verified chain
// against its issuer. Callers hold m.mu.
func (m *Manager) checkChain(ctx context.Context, verified []*x509.Certificate) error {
	for i := 0; i+1 < len(verified); i++ {
		cert, issuer := verified[i], verified[i+1]
		for _, crl := range m.crls {
			if crl.CheckSignatureFrom(issuer) != nil {
				continue
			}
			if revokedBy(crl, cert) {
				return fmt.Errorf("%w: serial %s", ErrCertificateRevoked, cert.SerialNumber)
			}
		}
		if m.revocation != nil {
			if err := m.revocation.CheckRevocation(ctx, cert, issuer); err != nil {
				return err
			}
		}
	}
	return nil
}

// Certificates returns the trust anchors. It makes a Manager usable as a
// goxmldsig X509CertificateStore.
func (m *Manager) Certificates() ([]*x509.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*x509.Certificate, len(m.trusted))
	copy(out, m.trusted)
	return out, nil
}

// Keys returns duplicates of all keys held by the manager.
func (m *Manager) Keys() []*Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Key, 0, len(m.keys))
	for _, k := range m.keys {
		if dup, err := k.Duplicate(); err == nil {
			out = append(out, dup)
		}
	}
	return out
}

// Len returns the number of keys held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Destroy destroys every key the manager owns.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		k.Destroy()
	}
	m.keys = nil
	m.certs = nil
	m.trusted = nil
	m.crls = nil
	m.roots = x509.NewCertPool()
	m.intermediates = x509.NewCertPool()
}
