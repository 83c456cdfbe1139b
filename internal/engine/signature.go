// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// Operation selects whether a pipeline signs or verifies.
type Operation int

const (
	OperationSign Operation = iota
	OperationVerify
)

func (o Operation) String() string {
	if o == OperationVerify {
		return "verify"
	}
	return "sign"
}

// Requirement returns what t needs from a key for operation op.
func Requirement(t transform.Transform, op Operation) keys.Requirement {
	r := t.KeyReq
	if r.Kind.Symmetric() {
		r.Type = keys.DataTypeSymmetric
	} else if op == OperationSign {
		r.Type, r.Usage = keys.DataTypePrivate, keys.UsageSign
	} else {
		r.Type, r.Usage = keys.DataTypePublic, keys.UsageVerify
	}
	return r
}

// Pipeline runs one signature method over a buffer. It accepts data until
// it is executed; signing ends in StatusFinished, verification in StatusOK or
// StatusFail.
type Pipeline struct {
	engine    *Engine
	transform transform.Transform
	key       *keys.Key
	op        Operation
	status    Status
	data      []byte
	result    []byte
}

// NewPipeline prepares a signature pipeline. The key is borrowed and must
// outlive the pipeline.
func (e *Engine) NewPipeline(t transform.Transform, key *keys.Key, op Operation) (*Pipeline, error) {
	if !t.Has(transform.UsageSignatureMethod) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, "", "not a signature method")
	}
	if key == nil || !key.Matches(Requirement(t, op)) {
		return nil, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.String(), "key does not match %s", op)
	}
	return &Pipeline{engine: e, transform: t, key: key, op: op}, nil
}

// Status returns the pipeline status.
func (p *Pipeline) Status() Status { return p.status }

// Result returns the computed signature after a successful Sign.
func (p *Pipeline) Result() []byte { return p.result }

// Write appends data to the pipeline input.
func (p *Pipeline) Write(data []byte) (int, error) {
	if p.status != StatusNone && p.status != StatusWorking {
		return 0, p.engine.failf(xmlsec.ReasonInvalidStatus, p.transform.Name, "", "pipeline already executed")
	}
	p.status = StatusWorking
	p.data = append(p.data, data...)
	return len(data), nil
}

// Sign computes the signature over the written data.
func (p *Pipeline) Sign() ([]byte, error) {
	if p.op != OperationSign || p.status == StatusFinished {
		return nil, p.engine.failf(xmlsec.ReasonInvalidStatus, p.transform.Name, "", "pipeline is not signing")
	}
	sig, err := p.engine.sign(p.transform, p.key, p.data)
	if err != nil {
		return nil, err
	}
	p.result = sig
	p.status = StatusFinished
	return sig, nil
}

// Verify checks signature against the written data. A mismatch is not an
// error: it leaves the pipeline in StatusFail.
func (p *Pipeline) Verify(signature []byte) error {
	if p.op != OperationVerify || p.status == StatusOK || p.status == StatusFail {
		return p.engine.failf(xmlsec.ReasonInvalidStatus, p.transform.Name, "", "pipeline is not verifying")
	}
	ok, err := p.engine.verify(p.transform, p.key, p.data, signature)
	if err != nil {
		return err
	}
	if ok {
		p.status = StatusOK
	} else {
		p.status = StatusFail
	}
	return nil
}

// SignData is a one-shot signature of data.
func (e *Engine) SignData(t transform.Transform, key *keys.Key, data []byte) ([]byte, error) {
	p, err := e.NewPipeline(t, key, OperationSign)
	if err != nil {
		return nil, err
	}
	p.Write(data)
	return p.Sign()
}

// VerifyData is a one-shot verification of data; ok reports the outcome.
func (e *Engine) VerifyData(t transform.Transform, key *keys.Key, data, signature []byte) (bool, error) {
	p, err := e.NewPipeline(t, key, OperationVerify)
	if err != nil {
		return false, err
	}
	p.Write(data)
	if err := p.Verify(signature); err != nil {
		return false, err
	}
	return p.Status() == StatusOK, nil
}

func (e *Engine) digestFor(t transform.Transform, data []byte) (crypto.Hash, []byte, error) {
	h, ok := HashOf(t)
	if !ok || !h.Available() {
		return 0, nil, e.failf(xmlsec.ReasonNotImplemented, t.Name, "", "hash is not available")
	}
	hasher := h.New()
	hasher.Write(data)
	return h, hasher.Sum(nil), nil
}

func (e *Engine) sign(t transform.Transform, key *keys.Key, data []byte) ([]byte, error) {
	if t.KeyReq.Kind == keys.DataKindHMAC {
		return e.hmac(t, key, data)
	}
	if t.KeyReq.Kind == keys.DataKindEd25519 {
		signer, ok := key.Private().(crypto.Signer)
		if !ok {
			return nil, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.Name(), "key cannot sign")
		}
		sig, err := signer.Sign(rand.Reader, data, crypto.Hash(0))
		if err != nil {
			return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, key.Name(), err)
		}
		return sig, nil
	}

	h, digest, err := e.digestFor(t, data)
	if err != nil {
		return nil, err
	}

	switch priv := key.Private().(type) {
	case *dsa.PrivateKey:
		r, s, err := dsa.Sign(rand.Reader, priv, truncateDigest(digest, priv.Q))
		if err != nil {
			return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, key.Name(), err)
		}
		return rawSignature(r, s, (priv.Q.BitLen()+7)/8), nil
	case crypto.Signer:
		sig, err := priv.Sign(rand.Reader, digest, h)
		if err != nil {
			return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, key.Name(), err)
		}
		if t.KeyReq.Kind == keys.DataKindEC {
			pub, ok := priv.Public().(*ecdsa.PublicKey)
			if !ok {
				return nil, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.Name(), "not an EC key")
			}
			return e.ecdsaRaw(t, sig, (pub.Curve.Params().BitSize+7)/8)
		}
		return sig, nil
	default:
		return nil, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.Name(), "key cannot sign")
	}
}

func (e *Engine) verify(t transform.Transform, key *keys.Key, data, signature []byte) (bool, error) {
	if t.KeyReq.Kind == keys.DataKindHMAC {
		mac, err := e.hmac(t, key, data)
		if err != nil {
			return false, err
		}
		return hmac.Equal(mac, signature), nil
	}
	if t.KeyReq.Kind == keys.DataKindEd25519 {
		pub, ok := key.Public().(ed25519.PublicKey)
		if !ok {
			return false, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.Name(), "not an Ed25519 key")
		}
		return ed25519.Verify(pub, data, signature), nil
	}

	h, digest, err := e.digestFor(t, data)
	if err != nil {
		return false, err
	}

	switch pub := key.Public().(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, h, digest, signature) == nil, nil
	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		if len(signature) != 2*size {
			return false, nil
		}
		r := new(big.Int).SetBytes(signature[:size])
		s := new(big.Int).SetBytes(signature[size:])
		return ecdsa.Verify(pub, digest, r, s), nil
	case *dsa.PublicKey:
		size := (pub.Q.BitLen() + 7) / 8
		if len(signature) != 2*size {
			return false, nil
		}
		r := new(big.Int).SetBytes(signature[:size])
		s := new(big.Int).SetBytes(signature[size:])
		return dsa.Verify(pub, truncateDigest(digest, pub.Q), r, s), nil
	default:
		return false, e.failf(xmlsec.ReasonInvalidKeyData, t.Name, key.Name(), "key cannot verify")
	}
}

func (e *Engine) hmac(t transform.Transform, key *keys.Key, data []byte) ([]byte, error) {
	h, ok := HashOf(t)
	if !ok {
		return nil, e.failf(xmlsec.ReasonNotImplemented, t.Name, "", "hash is not available")
	}
	var mac []byte
	err := key.UseSecret(func(secret []byte) error {
		m := hmac.New(h.New, secret)
		m.Write(data)
		mac = m.Sum(nil)
		return nil
	})
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonInvalidKeyData, t.Name, key.Name(), err)
	}
	return mac, nil
}

// ecdsaRaw converts an ASN.1 ECDSA signature to the r||s form used by
// XML-DSig.
func (e *Engine) ecdsaRaw(t transform.Transform, der []byte, size int) ([]byte, error) {
	var sig struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, e.Fail(xmlsec.ReasonCryptoFailed, t.Name, "", fmt.Errorf("decoding ECDSA signature: %w", err))
	}
	return rawSignature(sig.R, sig.S, size), nil
}

func rawSignature(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}

func truncateDigest(digest []byte, q *big.Int) []byte {
	n := (q.BitLen() + 7) / 8
	if len(digest) > n {
		return digest[:n]
	}
	return digest
}
