// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package dsig

import (
	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// TemplateOption adds optional parts to a signature template.
type TemplateOption func(*templateConfig)

type templateConfig struct {
	id         string
	keyName    bool
	keyValue   bool
	x509Data   bool
	transforms []transform.ID
	prefixList string
}

// WithSignatureID sets the Id attribute of the Signature element. By default
// a random one is generated.
func WithSignatureID(id string) TemplateOption {
	return func(c *templateConfig) { c.id = id }
}

// WithKeyName adds an empty KeyName that Sign fills with the key name.
func WithKeyName() TemplateOption {
	return func(c *templateConfig) { c.keyName = true }
}

// WithKeyValue adds an empty KeyValue that Sign fills with the public key.
func WithKeyValue() TemplateOption {
	return func(c *templateConfig) { c.keyValue = true }
}

// WithX509Data adds an empty X509Data that Sign fills with the key's
// certificates.
func WithX509Data() TemplateOption {
	return func(c *templateConfig) { c.x509Data = true }
}

// WithTransforms replaces the default reference transforms
// (enveloped-signature followed by exclusive C14N).
func WithTransforms(ids ...transform.ID) TemplateOption {
	return func(c *templateConfig) { c.transforms = ids }
}

// WithInclusiveNamespaces sets the PrefixList of exclusive canonicalization
// methods in the template.
func WithInclusiveNamespaces(prefixList string) TemplateOption {
	return func(c *templateConfig) { c.prefixList = prefixList }
}

// NewTemplate builds a ds:Signature template with one Reference to uri ("" for
// the whole document, "#id" for an element). Append it to the document and
// pass it to Sign.
func NewTemplate(c14n, signatureMethod, digestMethod transform.ID, uri string, opts ...TemplateOption) (*etree.Element, error) {
	cfg := &templateConfig{
		id:         "Signature-" + uuid.NewString(),
		transforms: []transform.ID{transform.Enveloped, transform.ExclC14N},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c14nT, err := lookup(c14n, transform.UsageC14NMethod)
	if err != nil {
		return nil, err
	}
	sigT, err := lookup(signatureMethod, transform.UsageSignatureMethod)
	if err != nil {
		return nil, err
	}
	digestT, err := lookup(digestMethod, transform.UsageDigestMethod)
	if err != nil {
		return nil, err
	}

	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", xmlsec.NSXMLDSig)
	if cfg.id != "" {
		sig.CreateAttr("Id", cfg.id)
	}

	signedInfo := sig.CreateElement("ds:SignedInfo")
	method := signedInfo.CreateElement("ds:CanonicalizationMethod")
	method.CreateAttr("Algorithm", c14nT.Href)
	addInclusiveNamespaces(method, c14nT, cfg.prefixList)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", sigT.Href)

	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", uri)
	if len(cfg.transforms) > 0 {
		transforms := ref.CreateElement("ds:Transforms")
		for _, id := range cfg.transforms {
			t, err := lookup(id, transform.UsageDSigTransform)
			if err != nil {
				return nil, err
			}
			tel := transforms.CreateElement("ds:Transform")
			tel.CreateAttr("Algorithm", t.Href)
			addInclusiveNamespaces(tel, t, cfg.prefixList)
		}
	}
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", digestT.Href)
	ref.CreateElement("ds:DigestValue")

	sig.CreateElement("ds:SignatureValue")

	if cfg.keyName || cfg.keyValue || cfg.x509Data {
		keyInfo := sig.CreateElement("ds:KeyInfo")
		if cfg.keyName {
			keyInfo.CreateElement("ds:KeyName")
		}
		if cfg.keyValue {
			keyInfo.CreateElement("ds:KeyValue")
		}
		if cfg.x509Data {
			keyInfo.CreateElement("ds:X509Data")
		}
	}
	return sig, nil
}

func lookup(id transform.ID, usage transform.Usage) (transform.Transform, error) {
	t, ok := transform.Lookup(id)
	if !ok || !t.Has(usage) {
		return transform.Transform{}, xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, "dsig.NewTemplate", "%s cannot be used here", id)
	}
	return t, nil
}

func addInclusiveNamespaces(el *etree.Element, t transform.Transform, prefixList string) {
	if prefixList == "" || (t.ID != transform.ExclC14N && t.ID != transform.ExclC14NWithComments) {
		return
	}
	incl := el.CreateElement("ec:InclusiveNamespaces")
	incl.CreateAttr("xmlns:ec", xmlsec.NSExcC14N)
	incl.CreateAttr("PrefixList", prefixList)
}

