// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package transform is the static registry of algorithms understood by the
// signature and encryption contexts.
//
// Transforms are never constructed by callers; they are looked up by ID, by
// algorithm URI or by short name:
//
//	t, ok := transform.ByHref("http://www.w3.org/2001/04/xmldsig-more#rsa-sha256")
//	if ok && t.Has(transform.UsageSignatureMethod) { ... }
package transform

import (
	"github.com/leifj/signedxml/xmlenc"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
)

// ID identifies a registered transform.
type ID int

const (
	Unknown ID = iota

	// DSig transforms
	Enveloped
	Base64

	// Canonicalization
	C14N
	C14NWithComments
	C14N11
	C14N11WithComments
	ExclC14N
	ExclC14NWithComments

	// Digests
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512

	// Signature methods
	RSASHA1
	RSASHA256
	RSASHA384
	RSASHA512
	ECDSASHA1
	ECDSASHA256
	ECDSASHA384
	ECDSASHA512
	HMACSHA1
	HMACSHA256
	HMACSHA384
	HMACSHA512
	DSASHA1
	Ed25519

	// Block ciphers
	AES128CBC
	AES192CBC
	AES256CBC
	TripleDESCBC
	AES128GCM
	AES192GCM
	AES256GCM

	// Key transport
	RSAPKCS1
	RSAOAEP
	RSAOAEP11

	lastID
)

// Usage is a bitmask of the roles a transform can play.
type Usage uint

const (
	UsageUnknown          Usage = 0
	UsageDSigTransform    Usage = 1 << 0
	UsageC14NMethod       Usage = 1 << 1
	UsageDigestMethod     Usage = 1 << 2
	UsageSignatureMethod  Usage = 1 << 3
	UsageEncryptionMethod Usage = 1 << 4
	UsageAny              Usage = 0xFFFF
)

// Transform is an immutable registry entry.
type Transform struct {
	ID    ID
	Name  string
	Href  string
	Usage Usage
	// KeyReq is the key kind and minimum size the transform needs. The
	// required type and usage depend on the operation and are filled in by
	// the context.
	KeyReq keys.Requirement
}

// Has reports whether the transform can play any of the roles in u.
func (t Transform) Has(u Usage) bool {
	return t.Usage&u != 0
}

// NeedsKey reports whether the transform consumes a key.
func (t Transform) NeedsKey() bool {
	return t.KeyReq.Kind != keys.DataKindUnknown
}

func (t Transform) String() string {
	return t.Name
}

const (
	c14nUsage = UsageDSigTransform | UsageC14NMethod

	hrefBase64  = "http://www.w3.org/2000/09/xmldsig#base64"
	hrefSHA224  = "http://www.w3.org/2001/04/xmldsig-more#sha224"
	hrefSHA384  = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	hrefHMAC1   = "http://www.w3.org/2000/09/xmldsig#hmac-sha1"
	hrefHMAC384 = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha384"
	hrefHMAC512 = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha512"
	hrefDSASHA1 = "http://www.w3.org/2000/09/xmldsig#dsa-sha1"
	hrefEd25519 = "http://www.w3.org/2021/04/xmldsig-more#eddsa-ed25519"
)

func req(kind keys.DataKind, minSize int) keys.Requirement {
	return keys.Requirement{Kind: kind, MinSize: minSize}
}

var registry = [lastID]Transform{
	Unknown: {Unknown, "unknown", "", UsageUnknown, keys.Requirement{}},

	Enveloped: {Enveloped, "enveloped-signature", string(dsig.EnvelopedSignatureAltorithmId), UsageDSigTransform, keys.Requirement{}},
	Base64:    {Base64, "base64", hrefBase64, UsageDSigTransform, keys.Requirement{}},

	C14N:                 {C14N, "c14n", string(dsig.CanonicalXML10RecAlgorithmId), c14nUsage, keys.Requirement{}},
	C14NWithComments:     {C14NWithComments, "c14n-with-comments", string(dsig.CanonicalXML10WithCommentsAlgorithmId), c14nUsage, keys.Requirement{}},
	C14N11:               {C14N11, "c14n11", string(dsig.CanonicalXML11AlgorithmId), c14nUsage, keys.Requirement{}},
	C14N11WithComments:   {C14N11WithComments, "c14n11-with-comments", string(dsig.CanonicalXML11WithCommentsAlgorithmId), c14nUsage, keys.Requirement{}},
	ExclC14N:             {ExclC14N, "exc-c14n", string(dsig.CanonicalXML10ExclusiveAlgorithmId), c14nUsage, keys.Requirement{}},
	ExclC14NWithComments: {ExclC14NWithComments, "exc-c14n-with-comments", string(dsig.CanonicalXML10ExclusiveWithCommentsAlgorithmId), c14nUsage, keys.Requirement{}},

	SHA1:   {SHA1, "sha1", xmlenc.AlgorithmSHA1, UsageDigestMethod, keys.Requirement{}},
	SHA224: {SHA224, "sha224", hrefSHA224, UsageDigestMethod, keys.Requirement{}},
	SHA256: {SHA256, "sha256", xmlenc.AlgorithmSHA256, UsageDigestMethod, keys.Requirement{}},
	SHA384: {SHA384, "sha384", hrefSHA384, UsageDigestMethod, keys.Requirement{}},
	SHA512: {SHA512, "sha512", xmlenc.AlgorithmSHA512, UsageDigestMethod, keys.Requirement{}},

	RSASHA1:     {RSASHA1, "rsa-sha1", dsig.RSASHA1SignatureMethod, UsageSignatureMethod, req(keys.DataKindRSA, 0)},
	RSASHA256:   {RSASHA256, "rsa-sha256", dsig.RSASHA256SignatureMethod, UsageSignatureMethod, req(keys.DataKindRSA, 0)},
	RSASHA384:   {RSASHA384, "rsa-sha384", dsig.RSASHA384SignatureMethod, UsageSignatureMethod, req(keys.DataKindRSA, 0)},
	RSASHA512:   {RSASHA512, "rsa-sha512", dsig.RSASHA512SignatureMethod, UsageSignatureMethod, req(keys.DataKindRSA, 0)},
	ECDSASHA1:   {ECDSASHA1, "ecdsa-sha1", dsig.ECDSASHA1SignatureMethod, UsageSignatureMethod, req(keys.DataKindEC, 0)},
	ECDSASHA256: {ECDSASHA256, "ecdsa-sha256", dsig.ECDSASHA256SignatureMethod, UsageSignatureMethod, req(keys.DataKindEC, 0)},
	ECDSASHA384: {ECDSASHA384, "ecdsa-sha384", dsig.ECDSASHA384SignatureMethod, UsageSignatureMethod, req(keys.DataKindEC, 0)},
	ECDSASHA512: {ECDSASHA512, "ecdsa-sha512", dsig.ECDSASHA512SignatureMethod, UsageSignatureMethod, req(keys.DataKindEC, 0)},
	HMACSHA1:    {HMACSHA1, "hmac-sha1", hrefHMAC1, UsageSignatureMethod, req(keys.DataKindHMAC, 0)},
	HMACSHA256:  {HMACSHA256, "hmac-sha256", xmlenc.AlgorithmHMACSHA256, UsageSignatureMethod, req(keys.DataKindHMAC, 0)},
	HMACSHA384:  {HMACSHA384, "hmac-sha384", hrefHMAC384, UsageSignatureMethod, req(keys.DataKindHMAC, 0)},
	HMACSHA512:  {HMACSHA512, "hmac-sha512", hrefHMAC512, UsageSignatureMethod, req(keys.DataKindHMAC, 0)},
	DSASHA1:     {DSASHA1, "dsa-sha1", hrefDSASHA1, UsageSignatureMethod, req(keys.DataKindDSA, 0)},
	Ed25519:     {Ed25519, "ed25519", hrefEd25519, UsageSignatureMethod, req(keys.DataKindEd25519, 0)},

	AES128CBC:    {AES128CBC, "aes128-cbc", xmlenc.AlgorithmAES128CBC, UsageEncryptionMethod, req(keys.DataKindAES, 128)},
	AES192CBC:    {AES192CBC, "aes192-cbc", xmlenc.AlgorithmAES192CBC, UsageEncryptionMethod, req(keys.DataKindAES, 192)},
	AES256CBC:    {AES256CBC, "aes256-cbc", xmlenc.AlgorithmAES256CBC, UsageEncryptionMethod, req(keys.DataKindAES, 256)},
	TripleDESCBC: {TripleDESCBC, "tripledes-cbc", xmlenc.AlgorithmTripleDES, UsageEncryptionMethod, req(keys.DataKindDES, 192)},
	AES128GCM:    {AES128GCM, "aes128-gcm", xmlenc.AlgorithmAES128GCM, UsageEncryptionMethod, req(keys.DataKindAES, 128)},
	AES192GCM:    {AES192GCM, "aes192-gcm", xmlenc.AlgorithmAES192GCM, UsageEncryptionMethod, req(keys.DataKindAES, 192)},
	AES256GCM:    {AES256GCM, "aes256-gcm", xmlenc.AlgorithmAES256GCM, UsageEncryptionMethod, req(keys.DataKindAES, 256)},

	RSAPKCS1:  {RSAPKCS1, "rsa-1_5", xmlenc.AlgorithmRSAv15, UsageEncryptionMethod, req(keys.DataKindRSA, 0)},
	RSAOAEP:   {RSAOAEP, "rsa-oaep-mgf1p", xmlenc.AlgorithmRSAOAEP, UsageEncryptionMethod, req(keys.DataKindRSA, 0)},
	RSAOAEP11: {RSAOAEP11, "rsa-oaep", xmlenc.AlgorithmRSAOAEP11, UsageEncryptionMethod, req(keys.DataKindRSA, 0)},
}

var (
	byHref = make(map[string]ID, lastID)
	byName = make(map[string]ID, lastID)
)

func init() {
	for id := Enveloped; id < lastID; id++ {
		byHref[registry[id].Href] = id
		byName[registry[id].Name] = id
	}
}

// Lookup returns the registry entry for id.
func Lookup(id ID) (Transform, bool) {
	if id <= Unknown || id >= lastID {
		return Transform{}, false
	}
	return registry[id], true
}

// ByHref returns the transform identified by an algorithm URI.
func ByHref(href string) (Transform, bool) {
	id, ok := byHref[href]
	if !ok {
		return Transform{}, false
	}
	return registry[id], true
}

// ByName returns the transform with the given short name, e.g. "rsa-sha256".
func ByName(name string) (Transform, bool) {
	id, ok := byName[name]
	if !ok {
		return Transform{}, false
	}
	return registry[id], true
}

// All returns every registered transform in ID order.
func All() []Transform {
	out := make([]Transform, 0, lastID-1)
	for id := Enveloped; id < lastID; id++ {
		out = append(out, registry[id])
	}
	return out
}

// WithUsage returns the transforms that can play any role in u.
func WithUsage(u Usage) []Transform {
	var out []Transform
	for id := Enveloped; id < lastID; id++ {
		if registry[id].Has(u) {
			out = append(out, registry[id])
		}
	}
	return out
}

func (id ID) String() string {
	if t, ok := Lookup(id); ok {
		return t.Name
	}
	return "unknown"
}
