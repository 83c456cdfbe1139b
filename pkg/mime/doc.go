// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime handles multipart/related packaging of signed or encrypted XML
documents with binary attachments (SOAP with Attachments).

# MIME Structure

	Content-Type: multipart/related;
	    type="application/soap+xml";
	    start="<root@xmlsec.siros.org>";
	    boundary="----=_Part_..."

	------=_Part_...
	Content-Type: application/soap+xml; charset=UTF-8
	Content-ID: <root@xmlsec.siros.org>

	[XML document holding EncryptedData with CipherReference]

	------=_Part_...
	Content-Type: application/octet-stream
	Content-ID: <part-1@xmlsec.siros.org>
	Content-Transfer-Encoding: binary

	[cipher text]

# Encrypted Attachments

Move the cipher text of an EncryptedData element into an attachment:

	ed, _ := encCtx.EncryptBinary(tmpl, payload)
	doc.Root().AddChild(ed)
	msg := mime.NewMessage(doc, nil)
	msg.Detach(ed, mime.ContentTypeOctetStream)
	body, contentType, _ := msg.Serialize()

A parsed Message resolves cid: URIs, so it can back the CipherReference
lookups of a decryption context:

	msg, _ := mime.Parse(r, contentType)
	decCtx, _ := encryption.NewContext(mngr, encryption.WithURIResolver(msg))

# References

  - SOAP with Attachments: https://www.w3.org/TR/SOAP-attachments
  - MIME Multipart: https://datatracker.ietf.org/doc/html/rfc2046
  - Content-ID URLs: https://datatracker.ietf.org/doc/html/rfc2392
*/
package mime
