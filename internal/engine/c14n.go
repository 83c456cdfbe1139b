// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// Detach returns a parentless copy of el carrying every namespace declaration
// in scope at el.
func (e *Engine) Detach(el *etree.Element) (*etree.Element, error) {
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonXMLFailed, "namespace", el.Tag, err)
	}
	detached, err := etreeutils.NSDetatch(ctx, el)
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonXMLFailed, "namespace", el.Tag, err)
	}
	return detached, nil
}

// Canonicalize serializes el with the canonicalization method t. prefixList
// is the InclusiveNamespaces PrefixList of exclusive methods and is ignored by
// the inclusive ones. el itself is never modified.
func (e *Engine) Canonicalize(t transform.Transform, el *etree.Element, prefixList string) ([]byte, error) {
	if !t.Has(transform.UsageC14NMethod) {
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, el.Tag, "not a canonicalization method")
	}

	detached, err := e.Detach(el)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch t.ID {
	case transform.ExclC14N, transform.ExclC14NWithComments:
		canonicalizer := signedxml.ExclusiveCanonicalization{WithComments: t.ID == transform.ExclC14NWithComments}
		transformXML := ""
		if prefixList != "" {
			transformXML = `<ec:InclusiveNamespaces xmlns:ec="` + xmlsec.NSExcC14N + `" PrefixList="` + prefixList + `"/>`
		}
		var s string
		s, err = canonicalizer.ProcessElement(detached, transformXML)
		out = []byte(s)
	case transform.C14N:
		out, err = dsig.MakeC14N10RecCanonicalizer().Canonicalize(detached)
	case transform.C14NWithComments:
		out, err = dsig.MakeC14N10WithCommentsCanonicalizer().Canonicalize(detached)
	case transform.C14N11:
		out, err = dsig.MakeC14N11Canonicalizer().Canonicalize(detached)
	case transform.C14N11WithComments:
		out, err = dsig.MakeC14N11WithCommentsCanonicalizer().Canonicalize(detached)
	default:
		return nil, e.failf(xmlsec.ReasonInvalidTransform, t.Name, el.Tag, "unsupported canonicalization method")
	}
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonXMLFailed, t.Name, el.Tag, err)
	}
	return out, nil
}

// Child returns the first child element of el with the given local name in
// namespace ns. Children without a resolvable namespace match on local name.
func Child(el *etree.Element, ns, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag != local {
			continue
		}
		if uri := c.NamespaceURI(); uri == ns || uri == "" {
			return c
		}
	}
	return nil
}

// Children returns all child elements of el with the given local name in
// namespace ns.
func Children(el *etree.Element, ns, local string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag != local {
			continue
		}
		if uri := c.NamespaceURI(); uri == ns || uri == "" {
			out = append(out, c)
		}
	}
	return out
}

// Root returns the topmost element above el, el itself when it is the root.
func Root(el *etree.Element) *etree.Element {
	root := el
	for {
		p := root.Parent()
		if p == nil || p.Tag == "" && p.Space == "" {
			return root
		}
		root = p
	}
}

// PathTo returns the child indexes leading from ancestor down to el, or false
// when el is not a descendant of ancestor.
func PathTo(ancestor, el *etree.Element) ([]int, bool) {
	var path []int
	for cur := el; cur != ancestor; {
		p := cur.Parent()
		if p == nil {
			return nil, false
		}
		path = append(path, cur.Index())
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// Follow walks path from el, as returned by PathTo.
func Follow(el *etree.Element, path []int) *etree.Element {
	cur := el
	for _, idx := range path {
		if idx < 0 || idx >= len(cur.Child) {
			return nil
		}
		next, ok := cur.Child[idx].(*etree.Element)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}
