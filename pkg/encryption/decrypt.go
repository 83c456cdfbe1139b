// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package encryption

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmltree"
)

// Result is the outcome of Decrypt.
type Result struct {
	// Data is the decrypted payload.
	Data []byte
	// Node is set when the payload was XML. It is the decrypted element for
	// Element data and the former parent of the EncryptedData node for
	// Content data.
	Node *etree.Element
}

// IsXML reports whether the decrypted payload replaced the EncryptedData
// node in its document.
func (r *Result) IsXML() bool { return r.Node != nil }

// fragmentTag wraps decrypted content while it is parsed.
const fragmentTag = "fragment"

// Decrypt decrypts the EncryptedData element node. When its Type is Element
// or Content the decrypted XML replaces node in the document and the result
// is located again from node's former parent; any other Type yields binary
// data and leaves the document untouched.
func (c *Context) Decrypt(node *etree.Element) (*Result, error) {
	const op = opDecrypt
	if err := c.begin(op); err != nil {
		return nil, err
	}
	if node == nil {
		return nil, c.fail(op, xmlsec.ErrValidation, fmt.Errorf("EncryptedData node is nil"))
	}

	enc, err := c.parse(node, false)
	if err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	if err := c.checkKey(op, enc, false); err != nil {
		return nil, err
	}

	// Recorded before anything changes: node itself is replaced below.
	content := enc.typ == xmlsec.TypeEncContent
	parent, index := node.Parent(), node.Index()

	plaintext, err := c.decrypt(enc)
	if err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	if !enc.xml() {
		c.succeed(op)
		return &Result{Data: plaintext}, nil
	}

	tokens, err := parseFragment(plaintext)
	if err != nil {
		return nil, c.fail(op, xmlsec.ErrMalformedResult,
			c.engine.Fail(xmlsec.ReasonXMLFailed, "EncryptedData", enc.typ, err))
	}

	// The result element is found among the parsed tokens so that a
	// malformed result fails before the document is touched.
	var result *etree.Element
	if !content || parent == nil || isDocument(parent) {
		if result, err = soleElement(tokens); err != nil {
			return nil, c.fail(op, xmlsec.ErrMalformedResult,
				c.engine.Fail(xmlsec.ReasonXMLFailed, "EncryptedData", enc.typ, err))
		}
	}

	if parent == nil {
		// A detached EncryptedData node: the result lives in a new document.
		doc := etree.NewDocument()
		for _, tok := range tokens {
			doc.AddChild(tok)
		}
		c.succeed(op)
		return &Result{Data: plaintext, Node: result}, nil
	}

	var displaced xmltree.DisplacedList
	parent.RemoveChildAt(index)
	displaced.Append(node)
	for i, tok := range tokens {
		parent.InsertChildAt(index+i, tok)
	}
	if err := c.drain(&displaced); err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}

	if content && !isDocument(parent) {
		result = parent
	}

	c.logger.Debug("xml decrypted",
		slog.String("type", enc.typ),
		slog.String("result", result.Tag),
		slog.Int("size", len(plaintext)))
	c.succeed(op)
	return &Result{Data: plaintext, Node: result}, nil
}

// decrypt returns the plaintext of enc, unwrapping the session key first
// when the node carries an EncryptedKey.
func (c *Context) decrypt(enc *encryptedNode) ([]byte, error) {
	t, req := enc.requirement(false)
	key, release, err := c.findKey(t, req, enc.name())
	if err != nil {
		return nil, err
	}
	defer release()

	dataKey := key
	if ek := enc.encryptedKey; ek != nil {
		wrapped, err := decodeBase64Text(ek.cipherValue.Text())
		if err != nil {
			return nil, c.engine.Fail(xmlsec.ReasonInvalidNodeContent, "CipherValue", "EncryptedKey", err)
		}
		material, err := c.engine.UnwrapKey(ek.method, key, wrapped, ek.oaep)
		if err != nil {
			return nil, err
		}
		session, err := c.engine.SessionKeyFromBytes(enc.method, material)
		if err != nil {
			return nil, err
		}
		defer session.Destroy()
		dataKey = session
	}

	ciphertext, err := c.ciphertext(enc)
	if err != nil {
		return nil, err
	}
	return c.engine.Decrypt(enc.method, dataKey, ciphertext)
}

func (c *Context) ciphertext(enc *encryptedNode) ([]byte, error) {
	if enc.cipherValue != nil {
		data, err := decodeBase64Text(enc.cipherValue.Text())
		if err != nil {
			return nil, c.engine.Fail(xmlsec.ReasonInvalidNodeContent, "CipherValue", "", err)
		}
		return data, nil
	}
	return c.engine.Fetch(c.resolver, enc.cipherRef)
}

// parseFragment parses decrypted XML, which may hold several top-level
// nodes, and returns them detached.
func parseFragment(data []byte) ([]etree.Token, error) {
	data = stripDeclaration(data)
	doc := etree.NewDocument()
	wrapped := make([]byte, 0, len(data)+2*len(fragmentTag)+5)
	wrapped = append(wrapped, "<"+fragmentTag+">"...)
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, "</"+fragmentTag+">"...)
	if err := doc.ReadFromBytes(wrapped); err != nil {
		return nil, err
	}
	wrapper := doc.Root()
	if wrapper == nil {
		return nil, fmt.Errorf("empty fragment")
	}
	tokens := make([]etree.Token, 0, len(wrapper.Child))
	for len(wrapper.Child) > 0 {
		tokens = append(tokens, wrapper.RemoveChildAt(0))
	}
	return tokens, nil
}

// isDocument reports whether el is the node holding a document's top-level
// children.
func isDocument(el *etree.Element) bool {
	return el.Tag == "" && el.Space == "" && el.Parent() == nil
}

// soleElement returns the only element among tokens. Text, comments and
// processing instructions around it are allowed.
func soleElement(tokens []etree.Token) (*etree.Element, error) {
	var root *etree.Element
	for _, tok := range tokens {
		el, ok := tok.(*etree.Element)
		if !ok {
			continue
		}
		if root != nil {
			return nil, fmt.Errorf("decrypted data has more than one element")
		}
		root = el
	}
	if root == nil {
		return nil, fmt.Errorf("decrypted data has no element")
	}
	return root, nil
}

// stripDeclaration drops a byte order mark and an XML declaration heading
// decrypted data.
func stripDeclaration(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) < 6 || !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return data
	}
	switch trimmed[5] {
	case ' ', '\t', '\r', '\n', '?':
	default:
		return data
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return data
	}
	return trimmed[end+2:]
}
