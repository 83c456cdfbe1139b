// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package dsig

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// keyDataEnabled reports whether KeyInfo data of the given kind may be used.
func (c *Context) keyDataEnabled(kind keys.DataKind) bool {
	if c.enabledKeyData == nil {
		return kind != keys.DataKindValue
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
		switch k {
		case keys.DataKindAES, keys.DataKindDES, keys.DataKindDSA, keys.DataKindEC,
			keys.DataKindEd25519, keys.DataKindHMAC, keys.DataKindRSA:
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func kindAllowed(kind keys.DataKind, kinds []keys.DataKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// resolveKey returns the key for the operation: the bound key, or one found
// through KeyInfo and the keys manager. When verifying, a manager key not
// named by KeyInfo is only taken when there is no KeyInfo or the search is
// lax. release must be called when the key is no longer needed.
func (c *Context) resolveKey(sig *signatureNode, mode engine.Operation) (*keys.Key, func(), error) {
	noop := func() {}
	if c.key != nil {
		return c.key, noop, nil
	}

	req := engine.Requirement(sig.method, mode)
	owned := func(k *keys.Key) (*keys.Key, func(), error) {
		c.logger.Debug("key resolved", "key", k.String())
		return k, k.Destroy, nil
	}

	if sig.keyInfo != nil {
		for _, child := range sig.keyInfo.ChildElements() {
			switch child.Tag {
			case "KeyName":
				name := strings.TrimSpace(child.Text())
				if name == "" || c.manager == nil || !c.keyDataEnabled(keys.DataKindName) {
					continue
				}
				k, err := c.manager.FindKey(keys.Query{
					Name:        name,
					Kinds:       c.managerKinds(),
					Requirement: req,
					Flags:       c.searchFlags,
				})
				if err == nil {
					return owned(k)
				}
			case "X509Data":
				if mode != engine.OperationVerify || !c.keyDataEnabled(keys.DataKindX509) {
					continue
				}
				k, err := c.keyFromX509Data(child, req)
				if err != nil {
					return nil, nil, err
				}
				if k != nil {
					return owned(k)
				}
			case "KeyValue":
				if mode != engine.OperationVerify || !c.keyDataEnabled(keys.DataKindValue) {
					continue
				}
				k, err := c.keyFromKeyValue(child, req)
				if err != nil {
					return nil, nil, err
				}
				if k != nil {
					return owned(k)
				}
			}
		}
	}

	if c.manager != nil && (sig.keyInfo == nil || mode == engine.OperationSign || c.searchFlags&keys.KeySearchLax != 0) {
		k, err := c.manager.FindKey(keys.Query{Kinds: c.managerKinds(), Requirement: req, Flags: c.searchFlags})
		if err == nil {
			return owned(k)
		}
	}
	return nil, nil, c.engine.Fail(xmlsec.ReasonKeyNotFound, sig.method.Name, "", keys.ErrKeyNotFound)
}

// keyFromX509Data builds a verification key from the leaf certificate of an
// X509Data element once the manager has validated its chain.
func (c *Context) keyFromX509Data(el *etree.Element, req keys.Requirement) (*keys.Key, error) {
	var certs []*x509.Certificate
	for _, ce := range engine.Children(el, xmlsec.NSXMLDSig, "X509Certificate") {
		der, err := decodeBase64Text(ce.Text())
		if err != nil {
			return nil, c.engine.Fail(xmlsec.ReasonInvalidNodeContent, "X509Certificate", "", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, c.engine.Fail(xmlsec.ReasonInvalidData, "X509Certificate", "", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, nil
	}

	leaf, chain := splitLeaf(certs)
	subject := leaf.Subject.String()
	if c.manager == nil {
		return nil, c.engine.Fail(xmlsec.ReasonCertVerifyFailed, "X509Data", subject, fmt.Errorf("no keys manager to verify the certificate"))
	}
	if err := c.manager.VerifyCertificate(leaf, chain...); err != nil {
		return nil, c.engine.Fail(xmlsec.ReasonCertVerifyFailed, "X509Data", subject, err)
	}

	k, err := keys.NewPublicKey(leaf.PublicKey)
	if err != nil {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidKeyData, "X509Data", subject, err)
	}
	if err := k.LoadCertificateFromMemory(leaf.Raw, keys.FormatCertDER); err != nil {
		k.Destroy()
		return nil, c.engine.Fail(xmlsec.ReasonInvalidKeyData, "X509Data", subject, err)
	}
	k.SetName(leaf.Subject.CommonName)
	if !kindAllowed(k.Kind(), c.managerKinds()) || !k.Matches(req) {
		k.Destroy()
		return nil, c.engine.Fail(xmlsec.ReasonInvalidKeyData, "X509Data", subject, fmt.Errorf("certificate key cannot be used here"))
	}
	return k, nil
}

// splitLeaf picks the certificate that issued none of the others.
func splitLeaf(certs []*x509.Certificate) (*x509.Certificate, []*x509.Certificate) {
	for i, cert := range certs {
		issuer := false
		for j, other := range certs {
			if i != j && bytes.Equal(other.RawIssuer, cert.RawSubject) {
				issuer = true
				break
			}
		}
		if !issuer {
			chain := make([]*x509.Certificate, 0, len(certs)-1)
			chain = append(chain, certs[:i]...)
			chain = append(chain, certs[i+1:]...)
			return cert, chain
		}
	}
	return certs[0], certs[1:]
}

func (c *Context) keyFromKeyValue(el *etree.Element, req keys.Requirement) (*keys.Key, error) {
	rsaValue := engine.Child(el, xmlsec.NSXMLDSig, "RSAKeyValue")
	if rsaValue == nil {
		return nil, nil
	}
	modulus := engine.Child(rsaValue, xmlsec.NSXMLDSig, "Modulus")
	exponent := engine.Child(rsaValue, xmlsec.NSXMLDSig, "Exponent")
	if modulus == nil || exponent == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "RSAKeyValue", "", fmt.Errorf("RSAKeyValue needs Modulus and Exponent"))
	}
	n, err := decodeBase64Text(modulus.Text())
	if err != nil {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidNodeContent, "Modulus", "", err)
	}
	e, err := decodeBase64Text(exponent.Text())
	if err != nil {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidNodeContent, "Exponent", "", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31 {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidKeyData, "Exponent", "", fmt.Errorf("unusable RSA exponent"))
	}

	k, err := keys.NewPublicKey(&rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())})
	if err != nil {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidKeyData, "RSAKeyValue", "", err)
	}
	if !kindAllowed(k.Kind(), c.managerKinds()) || !k.Matches(req) {
		k.Destroy()
		return nil, c.engine.Fail(xmlsec.ReasonInvalidKeyData, "RSAKeyValue", "", fmt.Errorf("key value cannot be used here"))
	}
	return k, nil
}

// fillKeyInfo writes key information into empty KeyName, KeyValue and
// X509Data children of keyInfo.
func (c *Context) fillKeyInfo(keyInfo *etree.Element, key *keys.Key) error {
	for _, child := range keyInfo.ChildElements() {
		switch child.Tag {
		case "KeyName":
			if strings.TrimSpace(child.Text()) == "" && key.Name() != "" {
				child.SetText(key.Name())
			}
		case "KeyValue":
			if len(child.ChildElements()) > 0 {
				continue
			}
			pub, ok := key.Public().(*rsa.PublicKey)
			if !ok {
				return c.engine.Fail(xmlsec.ReasonInvalidKeyData, "KeyValue", key.String(), fmt.Errorf("only RSA key values can be written"))
			}
			value := child.CreateElement(qualified(child, "RSAKeyValue"))
			value.CreateElement(qualified(child, "Modulus")).SetText(base64.StdEncoding.EncodeToString(pub.N.Bytes()))
			value.CreateElement(qualified(child, "Exponent")).SetText(base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()))
		case "X509Data":
			if len(child.ChildElements()) > 0 {
				continue
			}
			for _, cert := range key.Certificates() {
				child.CreateElement(qualified(child, "X509Certificate")).SetText(base64.StdEncoding.EncodeToString(cert.Raw))
			}
		}
	}
	return nil
}

// qualified returns local with the namespace prefix used by parent.
func qualified(parent *etree.Element, local string) string {
	if parent.Space == "" {
		return local
	}
	return parent.Space + ":" + local
}
