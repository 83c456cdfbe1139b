// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Identity is a generated key pair with a certificate.
type Identity struct {
	Signer  crypto.Signer
	Cert    *x509.Certificate
	KeyPEM  []byte
	CertPEM []byte
}

// WriteFiles writes the key and certificate PEM files into dir and returns
// their paths.
func (id *Identity) WriteFiles(t *testing.T, dir, name string) (keyPath, certPath string) {
	t.Helper()
	keyPath = filepath.Join(dir, name+".key")
	certPath = filepath.Join(dir, name+".crt")
	require.NoError(t, os.WriteFile(keyPath, id.KeyPEM, 0600))
	require.NoError(t, os.WriteFile(certPath, id.CertPEM, 0644))
	return keyPath, certPath
}

var serial atomic.Int64

func nextSerial() *big.Int {
	return big.NewInt(serial.Add(1))
}

// NewRSAIdentity creates a self-signed RSA identity.
func NewRSAIdentity(t *testing.T, commonName string) *Identity {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return selfSigned(t, commonName, priv, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}))
}

// NewECIdentity creates a self-signed P-256 identity.
func NewECIdentity(t *testing.T, commonName string) *Identity {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	return selfSigned(t, commonName, priv, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

// NewIssuedIdentity creates an RSA identity whose certificate is issued by ca.
func NewIssuedIdentity(t *testing.T, commonName string, ca *Identity) *Identity {
	t.Helper()
	return NewIssuedIdentityWith(t, commonName, ca, nil)
}

// NewIssuedIdentityWith is NewIssuedIdentity with a hook that may adjust the
// certificate template before it is signed.
func NewIssuedIdentityWith(t *testing.T, commonName string, ca *Identity, configure func(*x509.Certificate)) *Identity {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	if configure != nil {
		configure(template)
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &priv.PublicKey, ca.Signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Identity{
		Signer:  priv,
		Cert:    cert,
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func selfSigned(t *testing.T, commonName string, priv crypto.Signer, keyPEM []byte) *Identity {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Identity{
		Signer:  priv,
		Cert:    cert,
		KeyPEM:  keyPEM,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// NewCRL returns a PEM encoded revocation list signed by ca that revokes the
// given certificates.
func NewCRL(t *testing.T, ca *Identity, revoked ...*x509.Certificate) []byte {
	t.Helper()
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, cert := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   cert.SerialNumber,
			RevocationTime: time.Now().Add(-time.Minute),
		})
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    nextSerial(),
		ThisUpdate:                time.Now().Add(-time.Hour),
		NextUpdate:                time.Now().Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}, ca.Cert, ca.Signer)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})
}
