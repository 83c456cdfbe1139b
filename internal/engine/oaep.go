// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"crypto"
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"io"
	"math/big"

	"github.com/leifj/signedxml/xmlenc"
)

const hrefMGF1SHA224 = "http://www.w3.org/2009/xmlenc11#mgf1sha224"

var mgfHrefs = map[crypto.Hash]string{
	crypto.SHA1:   xmlenc.AlgorithmMGF1SHA1,
	crypto.SHA224: hrefMGF1SHA224,
	crypto.SHA256: xmlenc.AlgorithmMGF1SHA256,
	crypto.SHA384: xmlenc.AlgorithmMGF1SHA384,
	crypto.SHA512: xmlenc.AlgorithmMGF1SHA512,
}

// OAEP selects the hash functions of an RSA-OAEP key transport. Zero values
// mean SHA-1, the XML Encryption default for both.
type OAEP struct {
	Digest crypto.Hash
	MGF    crypto.Hash
}

func (o OAEP) hashes() (crypto.Hash, crypto.Hash) {
	digest, mgf := o.Digest, o.MGF
	if digest == 0 {
		digest = crypto.SHA1
	}
	if mgf == 0 {
		mgf = crypto.SHA1
	}
	return digest, mgf
}

// MGFHref returns the xenc11:MGF Algorithm URI for MGF1 with h.
func MGFHref(h crypto.Hash) (string, bool) {
	href, ok := mgfHrefs[h]
	return href, ok
}

// MGFByHref returns the MGF1 hash named by an xenc11:MGF Algorithm URI.
func MGFByHref(href string) (crypto.Hash, bool) {
	for h, v := range mgfHrefs {
		if v == href {
			return h, true
		}
	}
	return 0, false
}

var errOAEPMessageTooLong = errors.New("oaep: message too long for RSA key size")

// encryptOAEP is RSAES-OAEP-ENCRYPT (RFC 8017 section 7.1.1) with separate
// label and MGF1 hashes. crypto/rsa only encrypts with one hash for both.
func encryptOAEP(random io.Reader, pub *rsa.PublicKey, msg []byte, digest, mgf crypto.Hash) ([]byte, error) {
	if digest == mgf {
		return rsa.EncryptOAEP(digest.New(), random, pub, msg, nil)
	}

	k := pub.Size()
	hLen := digest.Size()
	if len(msg) > k-2*hLen-2 {
		return nil, errOAEPMessageTooLong
	}

	lHash := digest.New().Sum(nil)

	em := make([]byte, k)
	seed := em[1 : 1+hLen]
	db := em[1+hLen:]

	copy(db, lHash)
	db[len(db)-len(msg)-1] = 0x01
	copy(db[len(db)-len(msg):], msg)

	if _, err := io.ReadFull(random, seed); err != nil {
		return nil, err
	}

	mgf1XOR(db, mgf, seed)
	mgf1XOR(seed, mgf, db)

	m := new(big.Int).SetBytes(em)
	c := new(big.Int).Exp(m, big.NewInt(int64(pub.E)), pub.N)
	return c.FillBytes(make([]byte, k)), nil
}

// mgf1XOR xors out with MGF1(seed) computed with h.
func mgf1XOR(out []byte, h crypto.Hash, seed []byte) {
	hasher := h.New()
	var counter [4]byte
	done := 0
	for done < len(out) {
		hasher.Reset()
		hasher.Write(seed)
		hasher.Write(counter[:])
		block := hasher.Sum(nil)
		n := subtle.XORBytes(out[done:], out[done:], block)
		done += n

		for i := 3; i >= 0; i-- {
			counter[i]++
			if counter[i] != 0 {
				break
			}
		}
	}
}
