// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package dsig

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// signatureNode is a parsed ds:Signature element. The element pointers refer
// into the caller's document.
type signatureNode struct {
	root       *etree.Element
	signedInfo *etree.Element
	c14n       transform.Transform
	prefixList string
	method     transform.Transform
	value      *etree.Element
	keyInfo    *etree.Element
	references []*reference
}

// Sign computes the digests and the signature value of the ds:Signature
// template node and writes them into it.
func (c *Context) Sign(node *etree.Element) error {
	if err := c.begin(opSign); err != nil {
		return err
	}
	if node == nil {
		return c.fail(opSign, xmlsec.ErrValidation, fmt.Errorf("signature node is nil"))
	}

	sig, err := c.parse(node)
	if err != nil {
		return c.fail(opSign, xmlsec.ErrTransformExecution, err)
	}
	if c.key != nil && !c.key.Matches(engine.Requirement(sig.method, engine.OperationSign)) {
		return c.fail(opSign, xmlsec.ErrKeyMismatch, fmt.Errorf("%s cannot be used with %s", c.key, sig.method.Name))
	}

	key, release, err := c.resolveKey(sig, engine.OperationSign)
	if err != nil {
		return c.fail(opSign, xmlsec.ErrTransformExecution, err)
	}
	defer release()

	if sig.keyInfo != nil {
		if err := c.fillKeyInfo(sig.keyInfo, key); err != nil {
			return c.fail(opSign, xmlsec.ErrTransformExecution, err)
		}
	}

	c.references = make([]ReferenceResult, 0, len(sig.references))
	for _, ref := range sig.references {
		digest, err := c.digestReference(sig.root, ref)
		if err != nil {
			return c.fail(opSign, xmlsec.ErrTransformExecution, err)
		}
		ref.digestValue.SetText(base64.StdEncoding.EncodeToString(digest))
		c.references = append(c.references, ref.result(digest, xmlsec.StatusSucceeded))
	}

	signedInfo, err := c.engine.Canonicalize(sig.c14n, sig.signedInfo, sig.prefixList)
	if err != nil {
		return c.fail(opSign, xmlsec.ErrTransformExecution, err)
	}
	c.signedInfo = signedInfo

	value, err := c.engine.SignData(sig.method, key, signedInfo)
	if err != nil {
		return c.fail(opSign, xmlsec.ErrTransformExecution, err)
	}
	sig.value.SetText(base64.StdEncoding.EncodeToString(value))

	c.logger.Debug("signature computed",
		slog.String("transform", sig.method.Name),
		slog.Int("references", len(sig.references)))
	c.succeed(opSign)
	return nil
}

// Verify checks the ds:Signature element node: every reference digest first,
// then the signature value over SignedInfo. A structural or engine problem is
// an xmlsec.ErrTransformExecution; a signature that does not validate is an
// xmlsec.ErrVerification carrying the status.
func (c *Context) Verify(node *etree.Element) error {
	if err := c.begin(opVerify); err != nil {
		return err
	}
	if node == nil {
		return c.fail(opVerify, xmlsec.ErrValidation, fmt.Errorf("signature node is nil"))
	}

	sig, err := c.parse(node)
	if err != nil {
		return c.fail(opVerify, xmlsec.ErrTransformExecution, err)
	}
	if c.key != nil && !c.key.Matches(engine.Requirement(sig.method, engine.OperationVerify)) {
		return c.fail(opVerify, xmlsec.ErrKeyMismatch, fmt.Errorf("%s cannot be used with %s", c.key, sig.method.Name))
	}

	c.references = make([]ReferenceResult, 0, len(sig.references))
	var mismatched []string
	for _, ref := range sig.references {
		expected, err := decodeBase64Text(ref.digestValue.Text())
		if err != nil {
			return c.fail(opVerify, xmlsec.ErrTransformExecution,
				c.engine.Fail(xmlsec.ReasonInvalidNodeContent, "DigestValue", ref.uri, err))
		}
		digest, err := c.digestReference(sig.root, ref)
		if err != nil {
			return c.fail(opVerify, xmlsec.ErrTransformExecution, err)
		}
		status := xmlsec.StatusSucceeded
		if !equalDigest(digest, expected) {
			status = xmlsec.StatusInvalid
			mismatched = append(mismatched, ref.uri)
		}
		c.references = append(c.references, ref.result(digest, status))
	}
	if len(mismatched) > 0 {
		return c.invalid(opVerify, xmlsec.ReasonInvalidDigest,
			fmt.Errorf("digest mismatch for reference %q", strings.Join(mismatched, `", "`)))
	}

	signedInfo, err := c.engine.Canonicalize(sig.c14n, sig.signedInfo, sig.prefixList)
	if err != nil {
		return c.fail(opVerify, xmlsec.ErrTransformExecution, err)
	}
	c.signedInfo = signedInfo

	value, err := decodeBase64Text(sig.value.Text())
	if err != nil {
		return c.fail(opVerify, xmlsec.ErrTransformExecution,
			c.engine.Fail(xmlsec.ReasonInvalidNodeContent, "SignatureValue", "", err))
	}

	key, release, err := c.resolveKey(sig, engine.OperationVerify)
	if err != nil {
		return c.fail(opVerify, xmlsec.ErrTransformExecution, err)
	}
	defer release()

	ok, err := c.engine.VerifyData(sig.method, key, signedInfo, value)
	if err != nil {
		return c.fail(opVerify, xmlsec.ErrTransformExecution, err)
	}
	if !ok {
		return c.invalid(opVerify, xmlsec.ReasonDataNotMatch, fmt.Errorf("signature value does not match"))
	}

	c.succeed(opVerify)
	return nil
}

// parse reads the template structure and resolves every algorithm against
// the registry and the allowlists.
func (c *Context) parse(node *etree.Element) (*signatureNode, error) {
	if node.Tag != "Signature" {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidNode, node.FullTag(), "", fmt.Errorf("expected a Signature element"))
	}
	sig := &signatureNode{root: node}

	sig.signedInfo = engine.Child(node, xmlsec.NSXMLDSig, "SignedInfo")
	if sig.signedInfo == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "SignedInfo", "", fmt.Errorf("Signature has no SignedInfo"))
	}
	sig.value = engine.Child(node, xmlsec.NSXMLDSig, "SignatureValue")
	if sig.value == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "SignatureValue", "", fmt.Errorf("Signature has no SignatureValue"))
	}
	sig.keyInfo = engine.Child(node, xmlsec.NSXMLDSig, "KeyInfo")

	c14nMethod := engine.Child(sig.signedInfo, xmlsec.NSXMLDSig, "CanonicalizationMethod")
	if c14nMethod == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "CanonicalizationMethod", "", fmt.Errorf("SignedInfo has no CanonicalizationMethod"))
	}
	t, err := c.algorithm(c14nMethod, transform.UsageC14NMethod, &c.signatureTransforms)
	if err != nil {
		return nil, err
	}
	sig.c14n, sig.prefixList = t, prefixList(c14nMethod)

	method := engine.Child(sig.signedInfo, xmlsec.NSXMLDSig, "SignatureMethod")
	if method == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "SignatureMethod", "", fmt.Errorf("SignedInfo has no SignatureMethod"))
	}
	if sig.method, err = c.algorithm(method, transform.UsageSignatureMethod, &c.signatureTransforms); err != nil {
		return nil, err
	}

	refs := engine.Children(sig.signedInfo, xmlsec.NSXMLDSig, "Reference")
	if len(refs) == 0 {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "Reference", "", fmt.Errorf("SignedInfo has no Reference"))
	}
	for _, el := range refs {
		ref, err := c.parseReference(el)
		if err != nil {
			return nil, err
		}
		sig.references = append(sig.references, ref)
	}
	return sig, nil
}

// algorithm resolves the Algorithm attribute of el to a registered transform
// with the given usage, honouring the allowlist.
func (c *Context) algorithm(el *etree.Element, usage transform.Usage, list *allowlist) (transform.Transform, error) {
	href := el.SelectAttrValue("Algorithm", "")
	t, ok := transform.ByHref(href)
	if !ok {
		return transform.Transform{}, c.engine.Fail(xmlsec.ReasonInvalidTransform, el.Tag, href, fmt.Errorf("unknown algorithm %q", href))
	}
	if !t.Has(usage) {
		return transform.Transform{}, c.engine.Fail(xmlsec.ReasonInvalidTransform, el.Tag, href, fmt.Errorf("%s cannot be used here", t.Name))
	}
	if !list.allows(t.ID) {
		return transform.Transform{}, c.engine.Fail(xmlsec.ReasonTransformDisabled, el.Tag, href, fmt.Errorf("%s is not enabled", t.Name))
	}
	return t, nil
}

func prefixList(method *etree.Element) string {
	incl := engine.Child(method, xmlsec.NSExcC14N, "InclusiveNamespaces")
	if incl == nil {
		return ""
	}
	return strings.TrimSpace(incl.SelectAttrValue("PrefixList", ""))
}

func decodeBase64Text(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(s)
}
