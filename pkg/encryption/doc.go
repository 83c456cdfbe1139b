// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package encryption encrypts and decrypts XML content and binary payloads
// driven by xenc:EncryptedData templates.
//
// A Context performs exactly one operation. Encrypting an element in place:
//
//	tmpl, _ := encryption.NewTemplate(transform.AES256GCM, xmlsec.TypeEncElement,
//		encryption.WithEncryptedKey(transform.RSAOAEP))
//	ctx, _ := encryption.NewContext(nil, encryption.WithKey(recipient))
//	encrypted, err := ctx.EncryptXML(tmpl, doc.FindElement("//Payment"))
//
// and decrypting it again on the receiving side:
//
//	ctx, _ := encryption.NewContext(mngr)
//	res, err := ctx.Decrypt(doc.FindElement("//EncryptedData"))
//	if err == nil && res.IsXML() {
//		payment := res.Node
//	}
//
// Nodes displaced by EncryptXML and Decrypt are released through an
// xmltree.Tree. Code that keeps pointers into the document across these
// calls should hold them as Handles of a tree passed with WithTree.
package encryption
