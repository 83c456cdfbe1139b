// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package encryption

import (
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmltree"
)

// EncryptBinary encrypts data into a copy of the EncryptedData template tmpl
// and returns the copy. tmpl itself is not modified.
func (c *Context) EncryptBinary(tmpl *etree.Element, data []byte) (*etree.Element, error) {
	if err := c.begin(opEncryptBinary); err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, c.fail(opEncryptBinary, xmlsec.ErrValidation, fmt.Errorf("template is nil"))
	}
	return c.encryptCopy(opEncryptBinary, tmpl, data)
}

// EncryptURI is EncryptBinary for a payload fetched from uri through the
// context's resolver.
func (c *Context) EncryptURI(tmpl *etree.Element, uri string) (*etree.Element, error) {
	if err := c.begin(opEncryptURI); err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, c.fail(opEncryptURI, xmlsec.ErrValidation, fmt.Errorf("template is nil"))
	}
	if uri == "" {
		return nil, c.fail(opEncryptURI, xmlsec.ErrValidation, fmt.Errorf("uri is empty"))
	}

	data, err := c.engine.Fetch(c.resolver, uri)
	if err != nil {
		return nil, c.fail(opEncryptURI, xmlsec.ErrTransformExecution, err)
	}
	return c.encryptCopy(opEncryptURI, tmpl, data)
}

func (c *Context) encryptCopy(op string, tmpl *etree.Element, data []byte) (*etree.Element, error) {
	copied := tmpl.Copy()
	done := false
	defer func() {
		if !done {
			c.tree.TryRelease(copied)
		}
	}()

	enc, err := c.parse(copied, true)
	if err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	if err := c.checkKey(op, enc, true); err != nil {
		return nil, err
	}
	if err := c.encrypt(enc, data); err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	done = true
	c.succeed(op)
	return copied, nil
}

// EncryptXML encrypts target, or its content, according to the Type of
// tmpl and puts a copy of tmpl in its place. The replaced nodes are released
// unless a Handle of the context's tree still points at them; pointers into
// the old subtree must be resolved again from the document.
func (c *Context) EncryptXML(tmpl, target *etree.Element) (*etree.Element, error) {
	const op = opEncryptXML
	if err := c.begin(op); err != nil {
		return nil, err
	}
	if tmpl == nil || target == nil {
		return nil, c.fail(op, xmlsec.ErrValidation, fmt.Errorf("template and target are required"))
	}
	typ := tmpl.SelectAttrValue("Type", "")
	if typ != xmlsec.TypeEncElement && typ != xmlsec.TypeEncContent {
		return nil, c.fail(op, xmlsec.ErrValidation, fmt.Errorf("unsupported EncryptedData Type %q", typ))
	}
	if typ == xmlsec.TypeEncElement && target.Parent() == nil {
		return nil, c.fail(op, xmlsec.ErrValidation, fmt.Errorf("target element is not part of a document"))
	}

	copied := tmpl.Copy()
	done := false
	defer func() {
		if !done {
			c.tree.TryRelease(copied)
		}
	}()

	enc, err := c.parse(copied, true)
	if err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	if err := c.checkKey(op, enc, true); err != nil {
		return nil, err
	}

	plaintext, err := serialize(target, typ == xmlsec.TypeEncContent)
	if err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, c.engine.Fail(xmlsec.ReasonXMLFailed, target.Tag, "", err))
	}
	if err := c.encrypt(enc, plaintext); err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	done = true

	var displaced xmltree.DisplacedList
	if typ == xmlsec.TypeEncElement {
		parent, idx := target.Parent(), target.Index()
		parent.RemoveChildAt(idx)
		displaced.Append(target)
		parent.InsertChildAt(idx, enc.root)
	} else {
		for len(target.Child) > 0 {
			displaced.Append(target.RemoveChildAt(0))
		}
		target.AddChild(enc.root)
	}

	if err := c.drain(&displaced); err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	c.succeed(op)
	return enc.root, nil
}

// checkKey rejects the operation before any transform runs when no key can
// be found or the bound key cannot serve the template's algorithm.
func (c *Context) checkKey(op string, enc *encryptedNode, encrypt bool) error {
	t, req := enc.requirement(encrypt)
	switch {
	case c.key == nil && c.manager == nil:
		return c.fail(op, xmlsec.ErrKeyNotSet, fmt.Errorf("%s needs a key", t.Name))
	case c.key != nil && !c.key.Matches(req):
		return c.fail(op, xmlsec.ErrKeyMismatch, fmt.Errorf("%s cannot be used with %s", c.key, t.Name))
	}
	return nil
}

// encrypt fills the CipherValue of enc with data encrypted under the
// resolved key, wrapping a fresh session key first when the template has an
// EncryptedKey.
func (c *Context) encrypt(enc *encryptedNode, data []byte) error {
	t, req := enc.requirement(true)
	key, release, err := c.findKey(t, req, enc.name())
	if err != nil {
		return err
	}
	defer release()

	dataKey := key
	if ek := enc.encryptedKey; ek != nil {
		session, err := c.engine.GenerateSessionKey(enc.method)
		if err != nil {
			return err
		}
		defer session.Destroy()

		wrapped, err := c.engine.WrapKey(ek.method, key, session, ek.oaep)
		if err != nil {
			return err
		}
		ek.cipherValue.SetText(base64.StdEncoding.EncodeToString(wrapped))
		fillKeyName(ek.keyName, key)
		dataKey = session
	} else {
		fillKeyName(enc.keyName, key)
	}

	ciphertext, err := c.engine.Encrypt(enc.method, dataKey, data)
	if err != nil {
		return err
	}
	enc.cipherValue.SetText(base64.StdEncoding.EncodeToString(ciphertext))

	c.logger.Debug("payload encrypted",
		slog.String("transform", enc.method.Name),
		slog.Int("size", len(data)),
		slog.Bool("wrapped", enc.encryptedKey != nil))
	return nil
}

// serialize writes el, or only its content, as an XML fragment.
func serialize(el *etree.Element, content bool) ([]byte, error) {
	doc := etree.NewDocument()
	if !content {
		doc.SetRoot(el.Copy())
		return doc.WriteToBytes()
	}
	copied := el.Copy()
	for len(copied.Child) > 0 {
		doc.AddChild(copied.RemoveChildAt(0))
	}
	return doc.WriteToBytes()
}
