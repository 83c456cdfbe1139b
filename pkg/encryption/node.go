// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package encryption

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// encryptedNode is a parsed xenc:EncryptedData element.
type encryptedNode struct {
	root         *etree.Element
	typ          string
	method       transform.Transform
	keyName      *etree.Element
	encryptedKey *encryptedKey
	cipherValue  *etree.Element
	cipherRef    string
}

// encryptedKey is a parsed xenc:EncryptedKey inside the KeyInfo of an
// EncryptedData element.
type encryptedKey struct {
	method      transform.Transform
	oaep        engine.OAEP
	keyName     *etree.Element
	cipherValue *etree.Element
}

// xml reports whether the node carries an element or element content.
func (n *encryptedNode) xml() bool {
	return n.typ == xmlsec.TypeEncElement || n.typ == xmlsec.TypeEncContent
}

// requirement is what the bound key must satisfy: the key transport
// requirement when the session key is wrapped, the cipher's otherwise.
func (n *encryptedNode) requirement(encrypt bool) (transform.Transform, keys.Requirement) {
	if n.encryptedKey != nil {
		return n.encryptedKey.method, engine.CipherRequirement(n.encryptedKey.method, encrypt)
	}
	return n.method, engine.CipherRequirement(n.method, encrypt)
}

// name is the key name requested by the template, if any.
func (n *encryptedNode) name() string {
	if n.encryptedKey != nil && n.encryptedKey.keyName != nil {
		if s := strings.TrimSpace(n.encryptedKey.keyName.Text()); s != "" {
			return s
		}
	}
	if n.keyName != nil {
		return strings.TrimSpace(n.keyName.Text())
	}
	return ""
}

// parse reads an EncryptedData template or instance. A CipherValue is
// required to encrypt; decryption also accepts a CipherReference.
func (c *Context) parse(node *etree.Element, encrypt bool) (*encryptedNode, error) {
	if node.Tag != "EncryptedData" {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidNode, node.Tag, "", fmt.Errorf("expected EncryptedData"))
	}
	n := &encryptedNode{
		root: node,
		typ:  node.SelectAttrValue("Type", ""),
	}

	var err error
	n.method, err = c.algorithm(node, engine.IsBlockCipher)
	if err != nil {
		return nil, err
	}

	if keyInfo := engine.Child(node, xmlsec.NSXMLDSig, "KeyInfo"); keyInfo != nil {
		if c.keyDataEnabled(keys.DataKindName) {
			n.keyName = engine.Child(keyInfo, xmlsec.NSXMLDSig, "KeyName")
		}
		if ek := engine.Child(keyInfo, xmlsec.NSXMLEnc, "EncryptedKey"); ek != nil && c.keyDataEnabled(keys.DataKindEncryptedKey) {
			n.encryptedKey, err = c.parseEncryptedKey(ek)
			if err != nil {
				return nil, err
			}
		}
	}

	cipherData := engine.Child(node, xmlsec.NSXMLEnc, "CipherData")
	if cipherData == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "CipherData", "", fmt.Errorf("EncryptedData has no CipherData"))
	}
	n.cipherValue = engine.Child(cipherData, xmlsec.NSXMLEnc, "CipherValue")
	if n.cipherValue == nil && !encrypt {
		if ref := engine.Child(cipherData, xmlsec.NSXMLEnc, "CipherReference"); ref != nil {
			n.cipherRef = ref.SelectAttrValue("URI", "")
		}
	}
	if n.cipherValue == nil && n.cipherRef == "" {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "CipherValue", "", fmt.Errorf("CipherData has no CipherValue"))
	}
	return n, nil
}

func (c *Context) parseEncryptedKey(el *etree.Element) (*encryptedKey, error) {
	ek := &encryptedKey{}
	var err error
	ek.method, err = c.algorithm(el, engine.IsKeyTransport)
	if err != nil {
		return nil, err
	}

	if method := engine.Child(el, xmlsec.NSXMLEnc, "EncryptionMethod"); method != nil {
		if dm := engine.Child(method, xmlsec.NSXMLDSig, "DigestMethod"); dm != nil {
			href := dm.SelectAttrValue("Algorithm", "")
			t, ok := transform.ByHref(href)
			if !ok || !t.Has(transform.UsageDigestMethod) {
				return nil, c.engine.Fail(xmlsec.ReasonInvalidTransform, "DigestMethod", href, fmt.Errorf("unknown OAEP digest"))
			}
			ek.oaep.Digest, _ = engine.HashOf(t)
		}
		// rsa-oaep-mgf1p always uses MGF1 with SHA-1
		if mgf := engine.Child(method, xmlsec.NSXMLEnc11, "MGF"); mgf != nil && ek.method.ID == transform.RSAOAEP11 {
			href := mgf.SelectAttrValue("Algorithm", "")
			h, ok := engine.MGFByHref(href)
			if !ok {
				return nil, c.engine.Fail(xmlsec.ReasonInvalidTransform, "MGF", href, fmt.Errorf("unknown mask generation function"))
			}
			ek.oaep.MGF = h
		}
	}

	if keyInfo := engine.Child(el, xmlsec.NSXMLDSig, "KeyInfo"); keyInfo != nil && c.keyDataEnabled(keys.DataKindName) {
		ek.keyName = engine.Child(keyInfo, xmlsec.NSXMLDSig, "KeyName")
	}

	cipherData := engine.Child(el, xmlsec.NSXMLEnc, "CipherData")
	if cipherData != nil {
		ek.cipherValue = engine.Child(cipherData, xmlsec.NSXMLEnc, "CipherValue")
	}
	if ek.cipherValue == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "CipherValue", "EncryptedKey", fmt.Errorf("EncryptedKey has no CipherValue"))
	}
	return ek, nil
}

// algorithm reads the EncryptionMethod of el and checks it is of the
// expected class and enabled.
func (c *Context) algorithm(el *etree.Element, class func(transform.Transform) bool) (transform.Transform, error) {
	method := engine.Child(el, xmlsec.NSXMLEnc, "EncryptionMethod")
	if method == nil {
		return transform.Transform{}, c.engine.Fail(xmlsec.ReasonMissingNode, "EncryptionMethod", el.Tag, fmt.Errorf("%s has no EncryptionMethod", el.Tag))
	}
	href := method.SelectAttrValue("Algorithm", "")
	t, ok := transform.ByHref(href)
	if !ok || !class(t) {
		return transform.Transform{}, c.engine.Fail(xmlsec.ReasonInvalidTransform, "EncryptionMethod", href, fmt.Errorf("unsupported algorithm in %s", el.Tag))
	}
	if !c.methods.allows(t.ID) {
		return transform.Transform{}, c.engine.Fail(xmlsec.ReasonTransformDisabled, t.Name, el.Tag, fmt.Errorf("%s is not enabled", t.Name))
	}
	return t, nil
}

// keyDataEnabled reports whether KeyInfo data of the given kind may be used.
func (c *Context) keyDataEnabled(kind keys.DataKind) bool {
	if c.enabledKeyData == nil {
		return true
	}
	for _, k := range c.enabledKeyData {
		if k == kind {
			return true
		}
	}
	return false
}

// managerKinds returns the key material kinds a manager lookup may return;
// nil means all of them.
func (c *Context) managerKinds() []keys.DataKind {
	var kinds []keys.DataKind
	for _, k := range c.enabledKeyData {
		if info, ok := k.Info(); ok && info.Usage&keys.DataUsageKeyValueNode != 0 {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// findKey returns the bound key, or a key from the manager satisfying req
// and named name when name is set. release must be called when the key is no
// longer needed.
func (c *Context) findKey(t transform.Transform, req keys.Requirement, name string) (*keys.Key, func(), error) {
	if c.key != nil {
		return c.key, func() {}, nil
	}
	if c.manager == nil {
		return nil, nil, c.engine.Fail(xmlsec.ReasonKeyNotFound, t.Name, name, keys.ErrKeyNotFound)
	}
	k, err := c.manager.FindKey(keys.Query{
		Name:        name,
		Kinds:       c.managerKinds(),
		Requirement: req,
		Flags:       c.searchFlags,
	})
	if err != nil {
		return nil, nil, c.engine.Fail(xmlsec.ReasonKeyNotFound, t.Name, name, err)
	}
	c.logger.Debug("key resolved", "key", k.String())
	return k, k.Destroy, nil
}

// fillKeyName writes the key name into an empty KeyName element.
func fillKeyName(el *etree.Element, key *keys.Key) {
	if el != nil && strings.TrimSpace(el.Text()) == "" && key.Name() != "" {
		el.SetText(key.Name())
	}
}

func decodeBase64Text(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}
