// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"crypto"
	_ "crypto/sha1"   // register SHA-1
	_ "crypto/sha256" // register SHA-224 and SHA-256
	_ "crypto/sha512" // register SHA-384 and SHA-512

	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

var hashes = map[transform.ID]crypto.Hash{
	transform.SHA1:   crypto.SHA1,
	transform.SHA224: crypto.SHA224,
	transform.SHA256: crypto.SHA256,
	transform.SHA384: crypto.SHA384,
	transform.SHA512: crypto.SHA512,

	transform.RSASHA1:     crypto.SHA1,
	transform.RSASHA256:   crypto.SHA256,
	transform.RSASHA384:   crypto.SHA384,
	transform.RSASHA512:   crypto.SHA512,
	transform.ECDSASHA1:   crypto.SHA1,
	transform.ECDSASHA256: crypto.SHA256,
	transform.ECDSASHA384: crypto.SHA384,
	transform.ECDSASHA512: crypto.SHA512,
	transform.HMACSHA1:    crypto.SHA1,
	transform.HMACSHA256:  crypto.SHA256,
	transform.HMACSHA384:  crypto.SHA384,
	transform.HMACSHA512:  crypto.SHA512,
	transform.DSASHA1:     crypto.SHA1,
}

// HashOf returns the hash function used by a digest or signature method.
func HashOf(t transform.Transform) (crypto.Hash, bool) {
	h, ok := hashes[t.ID]
	return h, ok
}

// Digest computes the digest method t over data.
func (e *Engine) Digest(t transform.Transform, data []byte) ([]byte, error) {
	if !t.Has(transform.UsageDigestMethod) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, "", "not a digest method")
	}
	h, ok := HashOf(t)
	if !ok || !h.Available() {
		return nil, e.failf(xmlsec.ReasonNotImplemented, t.Name, "", "hash is not available")
	}
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil), nil
}
