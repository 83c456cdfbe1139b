// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import "github.com/leifj/signedxml/xmlenc"

// Namespaces used by signature and encryption templates.
const (
	NSXMLDSig      = xmlenc.NamespaceXMLDSig
	NSXMLDSig11    = xmlenc.NamespaceXMLDSig11
	NSXMLEnc       = xmlenc.NamespaceXMLEnc
	NSXMLEnc11     = xmlenc.NamespaceXMLEnc11
	NSExcC14N      = "http://www.w3.org/2001/10/xml-exc-c14n#"
	NSSecurityUtil = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
)

// XML-Enc Type attribute values accepted for XML encryption.
const (
	TypeEncElement = xmlenc.TypeElement
	TypeEncContent = xmlenc.TypeContent
)
