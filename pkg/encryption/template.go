// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package encryption

import (
	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// TemplateOption adds optional parts to an EncryptedData template.
type TemplateOption func(*templateConfig)

type templateConfig struct {
	id         string
	mimeType   string
	keyName    *string
	transport  transform.ID
	oaepDigest transform.ID
	oaepMGF    transform.ID
}

// WithID sets the Id attribute. By default a random one is generated.
func WithID(id string) TemplateOption {
	return func(c *templateConfig) { c.id = id }
}

// WithMimeType sets the MimeType attribute, typically for binary payloads.
func WithMimeType(mimeType string) TemplateOption {
	return func(c *templateConfig) { c.mimeType = mimeType }
}

// WithKeyName adds a KeyName naming the key to use. An empty name is filled
// in with the name of the key the context used. With WithEncryptedKey the
// KeyName names the key transport key.
func WithKeyName(name string) TemplateOption {
	return func(c *templateConfig) { c.keyName = &name }
}

// WithEncryptedKey makes the template carry an EncryptedKey: a session key is
// generated per operation and transported with the RSA method transport.
func WithEncryptedKey(transport transform.ID) TemplateOption {
	return func(c *templateConfig) { c.transport = transport }
}

// WithOAEPDigest sets the digest used by an RSA-OAEP key transport. The
// default is SHA-1.
func WithOAEPDigest(digest transform.ID) TemplateOption {
	return func(c *templateConfig) { c.oaepDigest = digest }
}

// WithOAEPMGF sets the hash of the MGF1 mask generation function of an
// rsa-oaep (XML Encryption 1.1) key transport. The default is SHA-1;
// rsa-oaep-mgf1p cannot change it.
func WithOAEPMGF(digest transform.ID) TemplateOption {
	return func(c *templateConfig) { c.oaepMGF = digest }
}

// NewTemplate builds an xenc:EncryptedData template for the block cipher
// method. typ is xmlsec.TypeEncElement, xmlsec.TypeEncContent or "" for
// binary data.
func NewTemplate(method transform.ID, typ string, opts ...TemplateOption) (*etree.Element, error) {
	const op = "encryption.NewTemplate"
	cfg := &templateConfig{id: "ED-" + uuid.NewString()}
	for _, opt := range opts {
		opt(cfg)
	}

	cipher, ok := transform.Lookup(method)
	if !ok || !engine.IsBlockCipher(cipher) {
		return nil, xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, op, "%s is not a block cipher", method)
	}

	ed := etree.NewElement("xenc:EncryptedData")
	ed.CreateAttr("xmlns:xenc", xmlsec.NSXMLEnc)
	if cfg.id != "" {
		ed.CreateAttr("Id", cfg.id)
	}
	if typ != "" {
		ed.CreateAttr("Type", typ)
	}
	if cfg.mimeType != "" {
		ed.CreateAttr("MimeType", cfg.mimeType)
	}
	ed.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", cipher.Href)

	if cfg.keyName != nil || cfg.transport != transform.Unknown {
		keyInfo := ed.CreateElement("ds:KeyInfo")
		keyInfo.CreateAttr("xmlns:ds", xmlsec.NSXMLDSig)

		if cfg.transport == transform.Unknown {
			keyInfo.CreateElement("ds:KeyName").SetText(*cfg.keyName)
		} else {
			transport, ok := transform.Lookup(cfg.transport)
			if !ok || !engine.IsKeyTransport(transport) {
				return nil, xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, op, "%s is not a key transport method", cfg.transport)
			}
			ek := keyInfo.CreateElement("xenc:EncryptedKey")
			ek.CreateAttr("Id", "EK-"+uuid.NewString())
			em := ek.CreateElement("xenc:EncryptionMethod")
			em.CreateAttr("Algorithm", transport.Href)
			if cfg.oaepDigest != transform.Unknown {
				digest, ok := transform.Lookup(cfg.oaepDigest)
				if !ok || !digest.Has(transform.UsageDigestMethod) || transport.ID == transform.RSAPKCS1 {
					return nil, xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, op, "%s cannot be used as OAEP digest of %s", cfg.oaepDigest, transport.Name)
				}
				em.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", digest.Href)
			}
			if cfg.oaepMGF != transform.Unknown {
				href, ok := mgfHref(cfg.oaepMGF)
				if !ok || transport.ID != transform.RSAOAEP11 {
					return nil, xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, op, "%s cannot be used as MGF of %s", cfg.oaepMGF, transport.Name)
				}
				mgf := em.CreateElement("xenc11:MGF")
				mgf.CreateAttr("xmlns:xenc11", xmlsec.NSXMLEnc11)
				mgf.CreateAttr("Algorithm", href)
			}
			if cfg.keyName != nil {
				ek.CreateElement("ds:KeyInfo").CreateElement("ds:KeyName").SetText(*cfg.keyName)
			}
			ek.CreateElement("xenc:CipherData").CreateElement("xenc:CipherValue")
		}
	}

	ed.CreateElement("xenc:CipherData").CreateElement("xenc:CipherValue")
	return ed, nil
}

func mgfHref(id transform.ID) (string, bool) {
	digest, ok := transform.Lookup(id)
	if !ok || !digest.Has(transform.UsageDigestMethod) {
		return "", false
	}
	h, ok := engine.HashOf(digest)
	if !ok {
		return "", false
	}
	return engine.MGFHref(h)
}
