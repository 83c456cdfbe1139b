// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/leifj/signedxml/xmlenc"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// IsBlockCipher reports whether t encrypts data with a symmetric key.
func IsBlockCipher(t transform.Transform) bool {
	return t.Has(transform.UsageEncryptionMethod) && t.KeyReq.Kind.Symmetric()
}

// IsKeyTransport reports whether t encrypts a session key with RSA.
func IsKeyTransport(t transform.Transform) bool {
	switch t.ID {
	case transform.RSAPKCS1, transform.RSAOAEP, transform.RSAOAEP11:
		return true
	}
	return false
}

// CipherRequirement returns what a block cipher or key transport needs from
// a key to encrypt (encrypt true) or decrypt.
func CipherRequirement(t transform.Transform, encrypt bool) keys.Requirement {
	r := t.KeyReq
	switch {
	case r.Kind.Symmetric():
		r.Type = keys.DataTypeSymmetric
	case encrypt:
		r.Type, r.Usage = keys.DataTypePublic, keys.UsageEncrypt
	default:
		r.Type, r.Usage = keys.DataTypePrivate, keys.UsageDecrypt
	}
	return r
}

// Encrypt encrypts plaintext with the block cipher t. The IV or nonce is
// prepended to the returned ciphertext.
func (e *Engine) Encrypt(t transform.Transform, key *keys.Key, plaintext []byte) ([]byte, error) {
	if !IsBlockCipher(t) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, "", "not a block cipher")
	}
	var out []byte
	err := e.withCipherKey(t, key, func(secret []byte) error {
		var err error
		if xmlenc.IsGCM(t.Href) {
			out, err = xmlenc.AESGCMEncrypt(secret, plaintext, nil)
			return err
		}
		out, err = cbcEncrypt(t, secret, plaintext)
		return err
	})
	if err != nil {
		if f, ok := AsFailure(err); ok {
			return nil, f
		}
		return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, key.Name(), err)
	}
	return out, nil
}

// Decrypt reverses Encrypt.
func (e *Engine) Decrypt(t transform.Transform, key *keys.Key, ciphertext []byte) ([]byte, error) {
	if !IsBlockCipher(t) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, "", "not a block cipher")
	}
	var out []byte
	err := e.withCipherKey(t, key, func(secret []byte) error {
		var err error
		if xmlenc.IsGCM(t.Href) {
			out, err = xmlenc.AESGCMDecrypt(secret, ciphertext, nil)
			return err
		}
		out, err = cbcDecrypt(t, secret, ciphertext)
		return err
	})
	if err != nil {
		if f, ok := AsFailure(err); ok {
			return nil, f
		}
		return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, key.Name(), err)
	}
	return out, nil
}

func (e *Engine) withCipherKey(t transform.Transform, key *keys.Key, fn func([]byte) error) error {
	if key == nil || key.Kind() != t.KeyReq.Kind {
		return e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.String(), "key kind does not match cipher")
	}
	if want := xmlenc.KeySize(t.Href) * 8; want != 0 && key.Size() != want {
		return e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.Name(), "cipher needs a %d bit key, got %d", want, key.Size())
	}
	return key.UseSecret(fn)
}

func newBlock(t transform.Transform, secret []byte) (cipher.Block, error) {
	if t.ID == transform.TripleDESCBC {
		return des.NewTripleDESCipher(secret)
	}
	return aes.NewCipher(secret)
}

// cbcEncrypt applies CBC with the XML Encryption padding: random filler
// bytes followed by one byte holding the pad length.
func cbcEncrypt(t transform.Transform, secret, plaintext []byte) ([]byte, error) {
	block, err := newBlock(t, secret)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	pad := bs - len(plaintext)%bs

	out := make([]byte, bs+len(plaintext)+pad)
	iv := out[:bs]
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	body := out[bs:]
	copy(body, plaintext)
	if _, err := rand.Read(body[len(plaintext) : len(body)-1]); err != nil {
		return nil, err
	}
	body[len(body)-1] = byte(pad)

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, body)
	return out, nil
}

func cbcDecrypt(t transform.Transform, secret, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(t, secret)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(ciphertext) < 2*bs || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("invalid ciphertext length %d", len(ciphertext))
	}

	iv := ciphertext[:bs]
	body := make([]byte, len(ciphertext)-bs)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(body, ciphertext[bs:])

	pad := int(body[len(body)-1])
	if pad == 0 || pad > bs {
		return nil, fmt.Errorf("invalid padding")
	}
	return body[:len(body)-pad], nil
}

// GenerateSessionKey creates a fresh symmetric key for the block cipher t.
func (e *Engine) GenerateSessionKey(t transform.Transform) (*keys.Key, error) {
	if !IsBlockCipher(t) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, "", "not a block cipher")
	}
	k, err := keys.Generate(t.KeyReq.Kind, xmlenc.KeySize(t.Href)*8, keys.DataTypeSession)
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, "session key", err)
	}
	return k, nil
}

// SessionKeyFromBytes wraps decrypted session key material for the block
// cipher t.
func (e *Engine) SessionKeyFromBytes(t transform.Transform, material []byte) (*keys.Key, error) {
	k, err := keys.ReadBinaryFromMemory(t.KeyReq.Kind, material)
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonInvalidKeyData, t.Name, "session key", err)
	}
	return k, nil
}

// WrapKey encrypts symmetric key material with the RSA key transport t.
// params is ignored for rsa-1_5.
func (e *Engine) WrapKey(t transform.Transform, key *keys.Key, session *keys.Key, params OAEP) ([]byte, error) {
	if !IsKeyTransport(t) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, "", "not a key transport method")
	}
	pub, ok := key.Public().(*rsa.PublicKey)
	if !ok || !key.Matches(CipherRequirement(t, true)) {
		return nil, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.String(), "key transport needs an RSA public key")
	}

	var out []byte
	err := session.UseSecret(func(secret []byte) error {
		var err error
		if t.ID == transform.RSAPKCS1 {
			out, err = rsa.EncryptPKCS1v15(rand.Reader, pub, secret)
			return err
		}
		digest, mgf := params.hashes()
		out, err = encryptOAEP(rand.Reader, pub, secret, digest, mgf)
		return err
	})
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, key.Name(), err)
	}
	return out, nil
}

// UnwrapKey decrypts key material wrapped by WrapKey.
func (e *Engine) UnwrapKey(t transform.Transform, key *keys.Key, wrapped []byte, params OAEP) ([]byte, error) {
	if !IsKeyTransport(t) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, "", "not a key transport method")
	}
	decrypter, ok := key.Private().(crypto.Decrypter)
	if !ok || !key.Matches(CipherRequirement(t, false)) {
		return nil, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.String(), "key transport needs an RSA private key")
	}

	var opts crypto.DecrypterOpts
	if t.ID != transform.RSAPKCS1 {
		digest, mgf := params.hashes()
		opts = &rsa.OAEPOptions{Hash: digest, MGFHash: mgf}
	}
	out, err := decrypter.Decrypt(rand.Reader, wrapped, opts)
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, key.Name(), err)
	}
	return out, nil
}

