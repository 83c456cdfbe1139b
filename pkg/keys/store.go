// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keys

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pkcs12"

	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

var (
	errNoPEMBlock    = errors.New("no PEM block found")
	errNoKeyMaterial = errors.New("no key material found")
)

// supportedFilter is the part of the DataType mask this engine can filter on.
const supportedFilter = DataTypePublic | DataTypePrivate | DataTypeSymmetric

func memoryDescription(data []byte) string {
	return fmt.Sprintf("memory buffer (%d bytes)", len(data))
}

func keyLoadError(op, subject string, code int, err error) error {
	return xmlsec.NewError(xmlsec.ErrKeyLoad, op, code, err).WithSubject(subject)
}

func certLoadError(op, subject string, code int, err error) error {
	return xmlsec.NewError(xmlsec.ErrCertificateLoad, op, code, err).WithSubject(subject)
}

// checkFilter reports whether filter can be honoured. DataTypeNone and
// DataTypeAny disable filtering.
func checkFilter(op string, filter DataType) error {
	if filter == DataTypeNone || filter == DataTypeAny {
		return nil
	}
	if filter&^supportedFilter != 0 {
		return xmlsec.NewError(xmlsec.ErrUnsupportedFeature, op, xmlsec.ReasonNotImplemented,
			fmt.Errorf("key type filter %s is not supported", filter))
	}
	return nil
}

func applyFilter(k *Key, filter DataType) error {
	if filter == DataTypeNone || filter == DataTypeAny {
		return nil
	}
	if !k.typ.Has(filter) {
		return fmt.Errorf("loaded %s key does not match filter %s", k.typ, filter)
	}
	return nil
}

// Load reads a key from path. password is used for PKCS#12 files and
// encrypted PEM blocks. filter restricts the accepted key types; pass
// DataTypeAny for no restriction.
func Load(path string, format Format, password string, filter DataType) (*Key, error) {
	const op = "keys.Load"
	if err := checkFilter(op, filter); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, keyLoadError(op, path, xmlsec.ReasonIOFailed, fmt.Errorf("reading key file: %w", err))
	}

	k, code, err := parseKey(data, format, password)
	if err != nil {
		return nil, keyLoadError(op, path, code, err)
	}
	if err := applyFilter(k, filter); err != nil {
		k.Destroy()
		return nil, keyLoadError(op, path, xmlsec.ReasonInvalidKeyData, err)
	}
	return k, nil
}

// LoadFromMemory parses a key from data.
func LoadFromMemory(data []byte, format Format, password string) (*Key, error) {
	return LoadFromMemoryFiltered(data, format, password, DataTypeAny)
}

// LoadFromMemoryFiltered parses a key from data, restricted to filter.
func LoadFromMemoryFiltered(data []byte, format Format, password string, filter DataType) (*Key, error) {
	const op = "keys.LoadFromMemory"
	if err := checkFilter(op, filter); err != nil {
		return nil, err
	}

	k, code, err := parseKey(data, format, password)
	if err != nil {
		return nil, keyLoadError(op, memoryDescription(data), code, err)
	}
	if err := applyFilter(k, filter); err != nil {
		k.Destroy()
		return nil, keyLoadError(op, memoryDescription(data), xmlsec.ReasonInvalidKeyData, err)
	}
	return k, nil
}

// ReadBinary reads raw symmetric key material of the given kind from path.
func ReadBinary(kind DataKind, path string) (*Key, error) {
	const op = "keys.ReadBinary"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, keyLoadError(op, path, xmlsec.ReasonIOFailed, fmt.Errorf("reading key file: %w", err))
	}
	defer memguard.WipeBytes(data)

	k, err := binaryKey(kind, data)
	if err != nil {
		return nil, keyLoadError(op, path, xmlsec.ReasonInvalidKeyData, err)
	}
	return k, nil
}

// ReadBinaryFromMemory wraps raw symmetric key material of the given kind.
// data is copied; the caller keeps ownership.
func ReadBinaryFromMemory(kind DataKind, data []byte) (*Key, error) {
	k, err := binaryKey(kind, data)
	if err != nil {
		return nil, keyLoadError("keys.ReadBinaryFromMemory", memoryDescription(data), xmlsec.ReasonInvalidKeyData, err)
	}
	return k, nil
}

func binaryKey(kind DataKind, data []byte) (*Key, error) {
	if !kind.Symmetric() {
		return nil, fmt.Errorf("%s keys cannot be read as binary material", kind)
	}
	if err := checkSymmetricSize(kind, len(data)*8); err != nil {
		return nil, err
	}
	return newSymmetricKey(kind, data, DataTypeSymmetric)
}

func checkSymmetricSize(kind DataKind, bits int) error {
	switch kind {
	case DataKindAES:
		if bits != 128 && bits != 192 && bits != 256 {
			return fmt.Errorf("invalid AES key size %d", bits)
		}
	case DataKindDES:
		if bits != 192 {
			return fmt.Errorf("invalid triple DES key size %d", bits)
		}
	case DataKindHMAC:
		if bits == 0 || bits%8 != 0 {
			return fmt.Errorf("invalid HMAC key size %d", bits)
		}
	}
	return nil
}

// Generate creates a fresh key. sizeBits is the symmetric key length, the RSA
// modulus length, the EC curve size (256, 384, 521) or the DSA prime length
// (1024, 2048, 3072); it is ignored for Ed25519. dataType adds session or
// permanent markers to the generated key.
func Generate(kind DataKind, sizeBits int, dataType DataType) (*Key, error) {
	const op = "keys.Generate"
	subject := fmt.Sprintf("%s/%d", kind, sizeBits)
	extra := dataType & (DataTypeSession | DataTypePermanent)
	if dataType == DataTypeAny {
		extra = 0
	}

	if kind.Symmetric() {
		if err := checkSymmetricSize(kind, sizeBits); err != nil {
			return nil, keyLoadError(op, subject, xmlsec.ReasonInvalidSize, err)
		}
		material := make([]byte, sizeBits/8)
		defer memguard.WipeBytes(material)
		if _, err := rand.Read(material); err != nil {
			return nil, keyLoadError(op, subject, xmlsec.ReasonCryptoFailed, err)
		}
		return newSymmetricKey(kind, material, DataTypeSymmetric|extra)
	}

	priv, err := generateAsymmetric(kind, sizeBits)
	if err != nil {
		return nil, keyLoadError(op, subject, xmlsec.ReasonCryptoFailed, err)
	}
	k, err := newPrivateKey(priv)
	if err != nil {
		return nil, keyLoadError(op, subject, xmlsec.ReasonInvalidKeyData, err)
	}
	k.typ |= extra
	return k, nil
}

func generateAsymmetric(kind DataKind, sizeBits int) (crypto.PrivateKey, error) {
	switch kind {
	case DataKindRSA:
		if sizeBits < 1024 {
			return nil, fmt.Errorf("RSA key size %d is too small", sizeBits)
		}
		return rsa.GenerateKey(rand.Reader, sizeBits)
	case DataKindEC:
		var curve elliptic.Curve
		switch sizeBits {
		case 256:
			curve = elliptic.P256()
		case 384:
			curve = elliptic.P384()
		case 521:
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported EC key size %d", sizeBits)
		}
		return ecdsa.GenerateKey(curve, rand.Reader)
	case DataKindEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	case DataKindDSA:
		var sizes dsa.ParameterSizes
		switch sizeBits {
		case 1024:
			sizes = dsa.L1024N160
		case 2048:
			sizes = dsa.L2048N256
		case 3072:
			sizes = dsa.L3072N256
		default:
			return nil, fmt.Errorf("unsupported DSA key size %d", sizeBits)
		}
		priv := new(dsa.PrivateKey)
		if err := dsa.GenerateParameters(&priv.Parameters, rand.Reader, sizes); err != nil {
			return nil, err
		}
		if err := dsa.GenerateKey(priv, rand.Reader); err != nil {
			return nil, err
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("cannot generate %s keys", kind)
	}
}

// LoadCertificate reads a certificate from path and attaches it to the key.
// For asymmetric keys the certificate must carry the key's public key.
func (k *Key) LoadCertificate(path string, format Format) error {
	const op = "keys.Key.LoadCertificate"
	data, err := os.ReadFile(path)
	if err != nil {
		return certLoadError(op, path, xmlsec.ReasonIOFailed, fmt.Errorf("reading certificate file: %w", err))
	}
	if err := k.attachCertificates(data, format); err != nil {
		return certLoadError(op, path, xmlsec.ReasonInvalidData, err)
	}
	return nil
}

// LoadCertificateFromMemory parses a certificate from data and attaches it.
func (k *Key) LoadCertificateFromMemory(data []byte, format Format) error {
	if err := k.attachCertificates(data, format); err != nil {
		return certLoadError("keys.Key.LoadCertificateFromMemory", memoryDescription(data), xmlsec.ReasonInvalidData, err)
	}
	return nil
}

func (k *Key) attachCertificates(data []byte, format Format) error {
	if !k.Valid() {
		return ErrKeyDestroyed
	}
	certs, err := ParseCertificates(data, format)
	if err != nil {
		return err
	}
	// The leaf must match the key; anything after it is chain material.
	if err := k.attachCertificate(certs[0]); err != nil {
		return err
	}
	k.certs = append(k.certs, certs[1:]...)
	return nil
}

// ParseCertificates decodes one or more certificates. PEM input may hold
// several CERTIFICATE blocks; DER input holds exactly one certificate.
func ParseCertificates(data []byte, format Format) ([]*x509.Certificate, error) {
	switch format {
	case FormatUnknown:
		if isPEM(data) {
			return parsePEMCertificates(data)
		}
		return parseDERCertificate(data)
	case FormatPEM, FormatCertPEM:
		return parsePEMCertificates(data)
	case FormatDER, FormatCertDER:
		return parseDERCertificate(data)
	default:
		return nil, fmt.Errorf("unsupported certificate format %s", format)
	}
}

func parsePEMCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errNoPEMBlock
	}
	return certs, nil
}

func parseDERCertificate(data []byte) ([]*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return []*x509.Certificate{cert}, nil
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

// parseKey decodes key material. The returned int is the engine reason code
// for the failure.
func parseKey(data []byte, format Format, password string) (*Key, int, error) {
	switch format {
	case FormatUnknown:
		if isPEM(data) {
			return parseKey(data, FormatPEM, password)
		}
		return parseKey(data, FormatDER, password)

	case FormatBinary:
		return nil, xmlsec.ReasonInvalidFormat, fmt.Errorf("binary key material needs ReadBinary and a key kind")

	case FormatPEM, FormatPKCS8PEM:
		k, err := parsePEMKey(data, password, format == FormatPKCS8PEM)
		if err != nil {
			return nil, xmlsec.ReasonInvalidFormat, err
		}
		return k, 0, nil

	case FormatDER, FormatPKCS8DER:
		k, err := parseDERKey(data, format == FormatPKCS8DER)
		if err != nil {
			return nil, xmlsec.ReasonInvalidFormat, err
		}
		return k, 0, nil

	case FormatPKCS12:
		priv, cert, err := pkcs12.Decode(data, password)
		if err != nil {
			return nil, xmlsec.ReasonCryptoFailed, fmt.Errorf("decoding PKCS#12: %w", err)
		}
		k, err := newPrivateKey(priv)
		if err != nil {
			return nil, xmlsec.ReasonInvalidKeyData, err
		}
		if cert != nil {
			if err := k.attachCertificate(cert); err != nil {
				return nil, xmlsec.ReasonInvalidKeyData, err
			}
		}
		return k, 0, nil

	case FormatCertPEM, FormatCertDER:
		certs, err := ParseCertificates(data, format)
		if err != nil {
			return nil, xmlsec.ReasonInvalidFormat, err
		}
		k := &Key{}
		if err := k.attachCertificate(certs[0]); err != nil {
			return nil, xmlsec.ReasonInvalidKeyData, err
		}
		k.certs = append(k.certs, certs[1:]...)
		return k, 0, nil

	default:
		return nil, xmlsec.ReasonInvalidFormat, fmt.Errorf("unknown key format %d", format)
	}
}

func parsePEMKey(data []byte, password string, pkcs8Only bool) (*Key, error) {
	var (
		k     *Key
		certs []*x509.Certificate
		rest  = data
	)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		der := block.Bytes
		//nolint:staticcheck // legacy encrypted PEM is still common for key files
		if x509.IsEncryptedPEMBlock(block) {
			if password == "" {
				return nil, fmt.Errorf("PEM block %q is encrypted and no password was given", block.Type)
			}
			//nolint:staticcheck
			plain, err := x509.DecryptPEMBlock(block, []byte(password))
			if err != nil {
				return nil, fmt.Errorf("decrypting PEM block: %w", err)
			}
			der = plain
		}

		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("parsing certificate: %w", err)
			}
			certs = append(certs, cert)
			continue
		case "ENCRYPTED PRIVATE KEY":
			return nil, fmt.Errorf("encrypted PKCS#8 keys are not supported, use PKCS#12")
		}
		if k != nil {
			continue
		}
		if pkcs8Only && block.Type != "PRIVATE KEY" {
			return nil, fmt.Errorf("expected PKCS#8 PEM block, got %q", block.Type)
		}

		parsed, err := parsePEMBlock(block.Type, der)
		if err != nil {
			return nil, err
		}
		k = parsed
	}

	if k == nil {
		if len(certs) == 0 {
			return nil, errNoPEMBlock
		}
		k = &Key{}
	}
	for _, cert := range certs {
		if k.public == nil || samePublicKey(k.public, cert.PublicKey) && len(k.certs) == 0 {
			if err := k.attachCertificate(cert); err != nil {
				return nil, err
			}
			continue
		}
		k.certs = append(k.certs, cert)
	}
	return k, nil
}

func parsePEMBlock(blockType string, der []byte) (*Key, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, err
		}
		return newPrivateKey(priv)
	case "EC PRIVATE KEY":
		priv, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return nil, err
		}
		return newPrivateKey(priv)
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, err
		}
		return newPrivateKey(priv)
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, err
		}
		return newPublicKey(pub)
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(der)
		if err != nil {
			return nil, err
		}
		return newPublicKey(pub)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", blockType)
	}
}

func parseDERKey(der []byte, pkcs8Only bool) (*Key, error) {
	if priv, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return newPrivateKey(priv)
	}
	if pkcs8Only {
		return nil, fmt.Errorf("not a PKCS#8 private key")
	}
	if priv, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return newPrivateKey(priv)
	}
	if priv, err := x509.ParseECPrivateKey(der); err == nil {
		return newPrivateKey(priv)
	}
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		return newPublicKey(pub)
	}
	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return newPublicKey(pub)
	}
	return nil, errNoKeyMaterial
}
