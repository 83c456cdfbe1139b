// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package dsig signs and verifies XML-DSig signatures over etree documents.

A signature is described by a ds:Signature template placed in the document.
Sign computes the reference digests and the signature value and writes them
into the template; Verify checks an existing signature:

	tmpl, _ := dsig.NewTemplate(transform.ExclC14N, transform.RSASHA256, transform.SHA256, "",
		dsig.WithX509Data())
	doc.Root().AddChild(tmpl)

	ctx, err := dsig.NewContext(nil, dsig.WithKey(key))
	if err != nil {
		return err
	}
	defer ctx.Destroy()
	if err := ctx.Sign(tmpl); err != nil {
		return err
	}

Every Context runs one operation. Verification of untrusted input should
restrict the accepted algorithms with EnableReferenceTransform and
EnableSignatureTransform, and resolve keys through a keys.Manager holding the
trusted certificates:

	ctx, _ := dsig.NewContext(mngr)
	ctx.EnableSignatureTransform(transform.ExclC14N)
	ctx.EnableSignatureTransform(transform.RSASHA256)
	err := ctx.Verify(sigNode)
	if errors.Is(err, xmlsec.ErrVerification) {
		// the signature did not validate
	}

SignBinary and VerifyBinary sign raw bytes with a single signature method.
*/
package dsig
