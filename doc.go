// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goxmlsec implements XML Digital Signature and XML Encryption
processing on top of an etree document model.

# Overview

go-xmlsec signs, verifies, encrypts and decrypts XML documents driven by
templates: a ds:Signature or xenc:EncryptedData element names the algorithms
and the parts of the document to process, and a single-use context fills it
in. Keys come from a context binding or from a keys manager holding named
keys, certificates and trust anchors.

# Specifications Implemented

  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core1/
  - XML Encryption Syntax and Processing: https://www.w3.org/TR/xmlenc-core1/
  - Canonical XML 1.0 and 1.1, Exclusive XML Canonicalization 1.0

# Package Structure

	github.com/sirosfoundation/go-xmlsec/pkg/xmlsec     - Engine, error kinds, reason codes, metrics
	github.com/sirosfoundation/go-xmlsec/pkg/keys       - Keys, key loading and the keys manager
	github.com/sirosfoundation/go-xmlsec/pkg/transform  - Algorithm registry
	github.com/sirosfoundation/go-xmlsec/pkg/dsig       - Signature contexts and templates
	github.com/sirosfoundation/go-xmlsec/pkg/encryption - Encryption contexts and templates
	github.com/sirosfoundation/go-xmlsec/pkg/xmltree    - Reference layer for displaced nodes
	github.com/sirosfoundation/go-xmlsec/pkg/profile    - YAML configured engine and keys manager

# Quick Start

To sign a document:

	tmpl, _ := dsig.NewTemplate(transform.ExclC14N, transform.RSASHA256, transform.SHA256, "",
	    dsig.WithKeyName())
	doc.Root().AddChild(tmpl)

	ctx, _ := dsig.NewContext(nil, dsig.WithKey(key))
	err := ctx.Sign(tmpl)

To verify it with keys from a manager:

	ctx, _ := dsig.NewContext(mngr)
	if err := ctx.Verify(doc.FindElement("//Signature")); errors.Is(err, xmlsec.ErrVerification) {
	    // the signature is well formed but does not match
	}

# Security Features

## Digital Signatures

  - RSA, ECDSA and HMAC with SHA-1/256/384/512, DSA-SHA1, Ed25519
  - Canonicalization: C14N 1.0/1.1 and exclusive C14N with InclusiveNamespaces
  - Key resolution from KeyName, X509Data (chain verified) and KeyValue

## Encryption

  - AES-128/192/256-CBC and GCM, Triple DES CBC
  - RSA-1_5, RSA-OAEP-MGF1P and RSA-OAEP key transport

## Key Storage

  - PEM, DER, PKCS#8 and PKCS#12 files, raw symmetric key files
  - PKCS#11 tokens (build with -tags pkcs11)

# License

BSD-2-Clause License
*/
package goxmlsec
