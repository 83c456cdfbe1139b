// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package dsig

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// ReferenceResult reports the outcome of one ds:Reference.
type ReferenceResult struct {
	URI          string
	DigestMethod transform.ID
	Digest       []byte
	Status       xmlsec.SignatureStatus
}

type step struct {
	transform  transform.Transform
	prefixList string
}

type reference struct {
	uri          string
	steps        []step
	digestMethod transform.Transform
	digestValue  *etree.Element
}

func (r *reference) result(digest []byte, status xmlsec.SignatureStatus) ReferenceResult {
	return ReferenceResult{
		URI:          r.uri,
		DigestMethod: r.digestMethod.ID,
		Digest:       digest,
		Status:       status,
	}
}

func (c *Context) parseReference(el *etree.Element) (*reference, error) {
	ref := &reference{uri: el.SelectAttrValue("URI", "")}

	if transforms := engine.Child(el, xmlsec.NSXMLDSig, "Transforms"); transforms != nil {
		for _, tel := range engine.Children(transforms, xmlsec.NSXMLDSig, "Transform") {
			t, err := c.algorithm(tel, transform.UsageDSigTransform, &c.referenceTransforms)
			if err != nil {
				return nil, err
			}
			ref.steps = append(ref.steps, step{transform: t, prefixList: prefixList(tel)})
		}
	}

	dm := engine.Child(el, xmlsec.NSXMLDSig, "DigestMethod")
	if dm == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "DigestMethod", ref.uri, fmt.Errorf("Reference has no DigestMethod"))
	}
	t, err := c.algorithm(dm, transform.UsageDigestMethod, &c.referenceTransforms)
	if err != nil {
		return nil, err
	}
	ref.digestMethod = t

	ref.digestValue = engine.Child(el, xmlsec.NSXMLDSig, "DigestValue")
	if ref.digestValue == nil {
		return nil, c.engine.Fail(xmlsec.ReasonMissingNode, "DigestValue", ref.uri, fmt.Errorf("Reference has no DigestValue"))
	}
	return ref, nil
}

// digestReference dereferences ref, runs its transforms and digests the
// result. sig is the Signature element the reference belongs to.
func (c *Context) digestReference(sig *etree.Element, ref *reference) ([]byte, error) {
	node, err := c.dereference(sig, ref.uri)
	if err != nil {
		return nil, err
	}

	var data []byte
	for _, s := range ref.steps {
		switch {
		case s.transform.ID == transform.Enveloped:
			if node == nil {
				return nil, c.engine.Fail(xmlsec.ReasonInvalidTransform, s.transform.Name, ref.uri, fmt.Errorf("input is not a node set"))
			}
			if node, err = c.envelope(node, sig); err != nil {
				return nil, err
			}
		case s.transform.Has(transform.UsageC14NMethod):
			if node == nil {
				return nil, c.engine.Fail(xmlsec.ReasonInvalidTransform, s.transform.Name, ref.uri, fmt.Errorf("input is not a node set"))
			}
			if data, err = c.engine.Canonicalize(s.transform, node, s.prefixList); err != nil {
				return nil, err
			}
			node = nil
		case s.transform.ID == transform.Base64:
			in := string(data)
			if node != nil {
				in = textContent(node)
			}
			if data, err = decodeBase64Text(in); err != nil {
				return nil, c.engine.Fail(xmlsec.ReasonInvalidData, s.transform.Name, ref.uri, err)
			}
			node = nil
		default:
			return nil, c.engine.Fail(xmlsec.ReasonInvalidTransform, s.transform.Name, ref.uri, fmt.Errorf("not a reference transform"))
		}
	}

	if node != nil {
		// A node set left at the end is serialized with inclusive C14N 1.0.
		c14n, _ := transform.Lookup(transform.C14N)
		if data, err = c.engine.Canonicalize(c14n, node, ""); err != nil {
			return nil, err
		}
	}
	return c.engine.Digest(ref.digestMethod, data)
}

// dereference resolves a same-document reference URI.
func (c *Context) dereference(sig *etree.Element, uri string) (*etree.Element, error) {
	root := engine.Root(sig)
	if uri == "" {
		return root, nil
	}
	if !strings.HasPrefix(uri, "#") || len(uri) == 1 {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidURI, "Reference", uri, fmt.Errorf("only same-document references are supported"))
	}

	id := uri[1:]
	found := findByID(root, id, nil)
	switch len(found) {
	case 0:
		return nil, c.engine.Fail(xmlsec.ReasonInvalidURI, "Reference", uri, fmt.Errorf("no element with id %q", id))
	case 1:
		return found[0], nil
	default:
		return nil, c.engine.Fail(xmlsec.ReasonInvalidData, "Reference", uri, fmt.Errorf("id %q is not unique", id))
	}
}

// envelope returns a detached copy of node without the Signature element sig.
// node is returned unchanged when sig is not inside it.
func (c *Context) envelope(node, sig *etree.Element) (*etree.Element, error) {
	path, ok := engine.PathTo(node, sig)
	if !ok {
		return node, nil
	}
	if len(path) == 0 {
		return nil, c.engine.Fail(xmlsec.ReasonInvalidTransform, "enveloped-signature", sig.Tag, fmt.Errorf("reference points at the signature itself"))
	}

	detached, err := c.engine.Detach(node)
	if err != nil {
		return nil, err
	}
	enveloped := engine.Follow(detached, path)
	if enveloped == nil || enveloped.Parent() == nil {
		return nil, c.engine.Fail(xmlsec.ReasonXMLFailed, "enveloped-signature", sig.Tag, fmt.Errorf("signature not found in copy"))
	}
	enveloped.Parent().RemoveChildAt(enveloped.Index())
	return detached, nil
}

// isIDAttr reports whether a is one of the attributes references may point
// at: Id, ID, id, or a namespaced Id such as wsu:Id.
func isIDAttr(a etree.Attr) bool {
	if a.Key == "Id" {
		return true
	}
	return a.Space == "" && (a.Key == "ID" || a.Key == "id")
}

func findByID(el *etree.Element, id string, found []*etree.Element) []*etree.Element {
	for _, a := range el.Attr {
		if isIDAttr(a) && a.Value == id {
			found = append(found, el)
			break
		}
	}
	for _, child := range el.ChildElements() {
		found = findByID(child, id, found)
	}
	return found
}

func textContent(el *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(el)
	return b.String()
}

func equalDigest(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
