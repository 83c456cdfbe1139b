// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-xmlsec/internal/testutil"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

func TestLoad_PEMWithCertificate(t *testing.T) {
	id := testutil.NewRSAIdentity(t, "signer.example.com")
	keyPath, certPath := id.WriteFiles(t, t.TempDir(), "signer")

	key, err := Load(keyPath, FormatPEM, "", DataTypeAny)
	require.NoError(t, err)
	defer key.Destroy()

	assert.Equal(t, DataKindRSA, key.Kind())
	assert.Equal(t, 2048, key.Size())
	assert.True(t, key.Type().Has(DataTypePrivate))
	assert.Nil(t, key.Certificate())

	require.NoError(t, key.LoadCertificate(certPath, FormatCertPEM))
	require.NotNil(t, key.Certificate())
	assert.Equal(t, "signer.example.com", key.Certificate().Subject.CommonName)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.pem"), FormatPEM, "", DataTypeAny)
	require.Error(t, err)
	assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
	assert.Equal(t, xmlsec.ReasonIOFailed, xmlsec.ReasonCode(err))
	assert.Contains(t, err.Error(), "missing.pem")
}

func TestLoad_Filter(t *testing.T) {
	id := testutil.NewRSAIdentity(t, "filter")
	keyPath, _ := id.WriteFiles(t, t.TempDir(), "filter")

	t.Run("matching filter", func(t *testing.T) {
		key, err := Load(keyPath, FormatUnknown, "", DataTypePrivate)
		require.NoError(t, err)
		key.Destroy()
	})

	t.Run("non matching filter", func(t *testing.T) {
		_, err := Load(keyPath, FormatPEM, "", DataTypeSymmetric)
		assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
		assert.Equal(t, xmlsec.ReasonInvalidKeyData, xmlsec.ReasonCode(err))
	})

	t.Run("unsupported filter bits", func(t *testing.T) {
		_, err := Load(keyPath, FormatPEM, "", DataTypeTrusted)
		assert.ErrorIs(t, err, xmlsec.ErrUnsupportedFeature)
	})
}

func TestLoadFromMemory_Formats(t *testing.T) {
	id := testutil.NewRSAIdentity(t, "formats")
	priv := id.Signer.(*rsa.PrivateKey)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pkix, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	tests := []struct {
		name     string
		data     []byte
		format   Format
		wantType DataType
	}{
		{"PKCS1 PEM", id.KeyPEM, FormatPEM, DataTypePrivate},
		{"PKCS8 PEM", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), FormatPKCS8PEM, DataTypePrivate},
		{"PKCS8 DER", pkcs8, FormatPKCS8DER, DataTypePrivate},
		{"PKCS1 DER", x509.MarshalPKCS1PrivateKey(priv), FormatDER, DataTypePrivate},
		{"PKIX public DER", pkix, FormatDER, DataTypePublic},
		{"PKIX public autodetect", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix}), FormatUnknown, DataTypePublic},
		{"certificate PEM", id.CertPEM, FormatCertPEM, DataTypePublic},
		{"certificate DER", id.Cert.Raw, FormatCertDER, DataTypePublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadFromMemory(tt.data, tt.format, "")
			require.NoError(t, err)
			defer key.Destroy()
			assert.Equal(t, DataKindRSA, key.Kind())
			assert.True(t, key.Type().Has(tt.wantType))
		})
	}
}

func TestLoadFromMemory_PKCS8RejectsPKCS1(t *testing.T) {
	id := testutil.NewRSAIdentity(t, "pkcs8")
	_, err := LoadFromMemory(id.KeyPEM, FormatPKCS8PEM, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
	assert.Contains(t, err.Error(), "memory buffer")
}

func TestLoadFromMemory_BinaryFormatRejected(t *testing.T) {
	_, err := LoadFromMemory([]byte("0123456789abcdef"), FormatBinary, "")
	assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
	assert.Equal(t, xmlsec.ReasonInvalidFormat, xmlsec.ReasonCode(err))
}

func TestLoadFromMemory_Garbage(t *testing.T) {
	_, err := LoadFromMemory([]byte("not a key"), FormatUnknown, "")
	assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
}

func TestReadBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aes.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789abcdef"), 0600))

	key, err := ReadBinary(DataKindAES, path)
	require.NoError(t, err)
	defer key.Destroy()

	assert.Equal(t, DataKindAES, key.Kind())
	assert.Equal(t, 128, key.Size())
	assert.Equal(t, DataTypeSymmetric, key.Type())

	err = key.UseSecret(func(secret []byte) error {
		assert.Equal(t, []byte("0123456789abcdef"), secret)
		return nil
	})
	require.NoError(t, err)
}

func TestReadBinaryFromMemory(t *testing.T) {
	t.Run("bad DES size", func(t *testing.T) {
		_, err := ReadBinaryFromMemory(DataKindDES, []byte("short"))
		assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
	})

	t.Run("asymmetric kind", func(t *testing.T) {
		_, err := ReadBinaryFromMemory(DataKindRSA, []byte("0123456789abcdef"))
		assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
	})

	t.Run("caller buffer untouched", func(t *testing.T) {
		material := []byte("0123456789abcdef01234567")
		key, err := ReadBinaryFromMemory(DataKindDES, material)
		require.NoError(t, err)
		defer key.Destroy()
		assert.Equal(t, []byte("0123456789abcdef01234567"), material)
		assert.Equal(t, 192, key.Size())
	})
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		kind DataKind
		size int
	}{
		{DataKindAES, 256},
		{DataKindDES, 192},
		{DataKindHMAC, 256},
		{DataKindRSA, 1024},
		{DataKindEC, 256},
		{DataKindEd25519, 0},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			key, err := Generate(tt.kind, tt.size, DataTypeSession)
			require.NoError(t, err)
			defer key.Destroy()
			assert.Equal(t, tt.kind, key.Kind())
			assert.True(t, key.Type().Has(DataTypeSession))
			if tt.size > 0 {
				assert.Equal(t, tt.size, key.Size())
			}
		})
	}
}

func TestGenerate_InvalidSize(t *testing.T) {
	_, err := Generate(DataKindAES, 100, DataTypeAny)
	assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
	assert.Equal(t, xmlsec.ReasonInvalidSize, xmlsec.ReasonCode(err))

	_, err = Generate(DataKindX509, 0, DataTypeAny)
	assert.ErrorIs(t, err, xmlsec.ErrKeyLoad)
}

func TestKey_LoadCertificateMismatch(t *testing.T) {
	signer := testutil.NewRSAIdentity(t, "signer")
	other := testutil.NewRSAIdentity(t, "other")

	key, err := LoadFromMemory(signer.KeyPEM, FormatPEM, "")
	require.NoError(t, err)
	defer key.Destroy()

	err = key.LoadCertificateFromMemory(other.CertPEM, FormatCertPEM)
	assert.ErrorIs(t, err, xmlsec.ErrCertificateLoad)
	assert.Nil(t, key.Certificate())
}

func TestKey_LoadCertificateOnSymmetricKey(t *testing.T) {
	id := testutil.NewRSAIdentity(t, "cert")
	key, err := Generate(DataKindAES, 128, DataTypeAny)
	require.NoError(t, err)
	defer key.Destroy()

	err = key.LoadCertificateFromMemory(id.CertPEM, FormatUnknown)
	assert.ErrorIs(t, err, xmlsec.ErrCertificateLoad)
}
