// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package encryption

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	certs "github.com/sirosfoundation/go-xmlsec/internal/testutil"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

func TestContentRoundTrip(t *testing.T) {
	key := generate(t, keys.DataKindDES, 192)
	doc := parse(t, `<Message><Data>Hello, World!</Data></Message>`)
	data := doc.FindElement("//Data")
	tmpl := template(t, transform.TripleDESCBC, xmlsec.TypeEncContent)
	original := xmlOf(t, tmpl)

	ctx, err := NewContext(nil, WithKey(key))
	require.NoError(t, err)
	ed, err := ctx.EncryptXML(tmpl, data)
	require.NoError(t, err)

	assert.Equal(t, original, xmlOf(t, tmpl), "template is not modified")
	assert.Same(t, data, ed.Parent())
	require.Len(t, data.Child, 1)
	assert.NotContains(t, xmlOf(t, doc.Root()), "Hello")
	assert.NotEmpty(t, ed.FindElement("./CipherData/CipherValue").Text())

	received := reparse(t, doc)
	ctx, err = NewContext(nil, WithKey(key))
	require.NoError(t, err)
	res, err := ctx.Decrypt(received.FindElement("//EncryptedData"))
	require.NoError(t, err)

	require.True(t, res.IsXML())
	assert.Equal(t, "Data", res.Node.Tag)
	assert.Equal(t, "Hello, World!", strings.TrimSpace(res.Node.Text()))
	assert.Nil(t, received.FindElement("//EncryptedData"))
}

func TestElementRoundTrip(t *testing.T) {
	tests := []struct {
		method transform.ID
		kind   keys.DataKind
		bits   int
	}{
		{transform.AES128CBC, keys.DataKindAES, 128},
		{transform.AES192CBC, keys.DataKindAES, 192},
		{transform.AES256CBC, keys.DataKindAES, 256},
		{transform.TripleDESCBC, keys.DataKindDES, 192},
		{transform.AES128GCM, keys.DataKindAES, 128},
		{transform.AES256GCM, keys.DataKindAES, 256},
	}

	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			key := generate(t, tt.kind, tt.bits)
			doc := parse(t, envelope)

			ctx, err := NewContext(nil, WithKey(key))
			require.NoError(t, err)
			ed, err := ctx.EncryptXML(template(t, tt.method, xmlsec.TypeEncElement), doc.FindElement("//Payment"))
			require.NoError(t, err)
			assert.Equal(t, 1, ed.Index())
			assert.Nil(t, doc.FindElement("//Payment"))

			received := reparse(t, doc)
			ctx, err = NewContext(nil, WithKey(key))
			require.NoError(t, err)
			res, err := ctx.Decrypt(received.FindElement("//EncryptedData"))
			require.NoError(t, err)

			payment := res.Node
			require.NotNil(t, payment)
			assert.Equal(t, "Payment", payment.Tag)
			assert.Equal(t, "EUR", payment.SelectAttrValue("currency", ""))
			assert.Equal(t, "100.00", payment.FindElement("./Amount").Text())
			assert.Same(t, received.FindElement("//Payment"), payment)
			assert.Equal(t, 1, payment.Index())

			out, err := received.WriteToString()
			require.NoError(t, err)
			assert.Equal(t, envelope, out)
		})
	}
}

func TestEncryptRootElement(t *testing.T) {
	key := generate(t, keys.DataKindAES, 128)
	doc := parse(t, envelope)

	ctx, err := NewContext(nil, WithKey(key))
	require.NoError(t, err)
	ed, err := ctx.EncryptXML(template(t, transform.AES128CBC, xmlsec.TypeEncElement), doc.Root())
	require.NoError(t, err)
	assert.Same(t, ed, doc.Root())

	ctx, err = NewContext(nil, WithKey(key))
	require.NoError(t, err)
	res, err := ctx.Decrypt(doc.Root())
	require.NoError(t, err)
	assert.Same(t, doc.Root(), res.Node)
	assert.Equal(t, "Envelope", res.Node.Tag)
}

func TestEncryptXMLValidation(t *testing.T) {
	key := generate(t, keys.DataKindAES, 128)

	tests := []struct {
		name   string
		typ    string
		target func() *etree.Element
	}{
		{"no type", "", func() *etree.Element { return parse(t, envelope).Root() }},
		{"unknown type", xmlsec.NSXMLEnc + "Other", func() *etree.Element { return parse(t, envelope).Root() }},
		{"mime type as type", "text/xml", func() *etree.Element { return parse(t, envelope).Root() }},
		{"nil target", xmlsec.TypeEncElement, func() *etree.Element { return nil }},
		{"detached target", xmlsec.TypeEncElement, func() *etree.Element { return etree.NewElement("Payment") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := NewContext(nil, WithKey(key))
			require.NoError(t, err)
			_, err = ctx.EncryptXML(template(t, transform.AES128CBC, tt.typ), tt.target())
			require.ErrorIs(t, err, xmlsec.ErrValidation)
			assert.Zero(t, xmlsec.ReasonCode(err), "rejected before the engine runs")
		})
	}
}

func TestEncryptBinary(t *testing.T) {
	key := generate(t, keys.DataKindAES, 256)
	payload := []byte{0x00, 0x01, 0xFE, 0xFF, 'b', 'i', 'n'}
	tmpl := template(t, transform.AES256GCM, "", WithMimeType("application/octet-stream"), WithID("payload-1"))

	ctx, err := NewContext(nil, WithKey(key))
	require.NoError(t, err)
	ed, err := ctx.EncryptBinary(tmpl, payload)
	require.NoError(t, err)
	assert.NotSame(t, tmpl, ed)
	assert.Nil(t, ed.Parent())
	assert.Equal(t, "payload-1", ed.SelectAttrValue("Id", ""))
	assert.Empty(t, tmpl.FindElement("./CipherData/CipherValue").Text())

	ctx, err = NewContext(nil, WithKey(key))
	require.NoError(t, err)
	res, err := ctx.Decrypt(ed)
	require.NoError(t, err)
	assert.False(t, res.IsXML())
	assert.Equal(t, payload, res.Data)
}

func TestEncryptURI(t *testing.T) {
	key := generate(t, keys.DataKindAES, 128)
	dir := t.TempDir()
	path := filepath.Join(dir, "invoice.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7"), 0600))

	t.Run("file", func(t *testing.T) {
		ctx, err := NewContext(nil, WithKey(key))
		require.NoError(t, err)
		ed, err := ctx.EncryptURI(template(t, transform.AES128CBC, ""), path)
		require.NoError(t, err)

		ctx, err = NewContext(nil, WithKey(key))
		require.NoError(t, err)
		res, err := ctx.Decrypt(ed)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.7"), res.Data)
	})

	t.Run("resolver", func(t *testing.T) {
		ctx, err := NewContext(nil, WithKey(key), WithURIResolver(mapResolver{"cid:part-1": []byte("attachment")}))
		require.NoError(t, err)
		_, err = ctx.EncryptURI(template(t, transform.AES128CBC, ""), "cid:part-1")
		assert.NoError(t, err)
	})

	t.Run("empty uri", func(t *testing.T) {
		ctx, err := NewContext(nil, WithKey(key))
		require.NoError(t, err)
		_, err = ctx.EncryptURI(template(t, transform.AES128CBC, ""), "")
		assert.ErrorIs(t, err, xmlsec.ErrValidation)
	})

	t.Run("missing file", func(t *testing.T) {
		ctx, err := NewContext(nil, WithKey(key))
		require.NoError(t, err)
		_, err = ctx.EncryptURI(template(t, transform.AES128CBC, ""), filepath.Join(dir, "missing"))
		require.ErrorIs(t, err, xmlsec.ErrTransformExecution)
		assert.Equal(t, xmlsec.ReasonIOFailed, xmlsec.ReasonCode(err))
	})
}

type mapResolver map[string][]byte

func (m mapResolver) Resolve(uri string) ([]byte, error) {
	if data, ok := m[uri]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no payload for %s", uri)
}

func TestEncryptedKeyTransport(t *testing.T) {
	id := certs.NewRSAIdentity(t, "recipient")
	priv, err := keys.NewPrivateKey(id.Signer)
	require.NoError(t, err)
	priv.SetName("recipient")
	defer priv.Destroy()
	pub, err := keys.NewPublicKey(id.Signer.Public())
	require.NoError(t, err)
	pub.SetName("recipient")
	defer pub.Destroy()

	mngr := keys.NewManager()
	require.NoError(t, mngr.AddKey(priv))
	defer mngr.Destroy()

	tests := []struct {
		name      string
		transport transform.ID
		opts      []TemplateOption
	}{
		{"rsa-1_5", transform.RSAPKCS1, nil},
		{"rsa-oaep-mgf1p", transform.RSAOAEP, nil},
		{"rsa-oaep sha256", transform.RSAOAEP11, []TemplateOption{WithOAEPDigest(transform.SHA256)}},
		{"rsa-oaep sha256 mgf1sha256", transform.RSAOAEP11, []TemplateOption{WithOAEPDigest(transform.SHA256), WithOAEPMGF(transform.SHA256)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]TemplateOption{WithEncryptedKey(tt.transport), WithKeyName("")}, tt.opts...)
			doc := parse(t, envelope)

			ctx, err := NewContext(nil, WithKey(pub))
			require.NoError(t, err)
			ed, err := ctx.EncryptXML(template(t, transform.AES256GCM, xmlsec.TypeEncElement, opts...), doc.FindElement("//Payment"))
			require.NoError(t, err)
			assert.Equal(t, "recipient", ed.FindElement("./KeyInfo/EncryptedKey/KeyInfo/KeyName").Text())
			assert.NotEmpty(t, ed.FindElement("./KeyInfo/EncryptedKey/CipherData/CipherValue").Text())

			received := reparse(t, doc)
			ctx, err = NewContext(mngr)
			require.NoError(t, err)
			res, err := ctx.Decrypt(received.FindElement("//EncryptedData"))
			require.NoError(t, err)
			assert.Equal(t, "Payment", res.Node.Tag)
		})
	}

	t.Run("public key cannot decrypt", func(t *testing.T) {
		doc := parse(t, envelope)
		ctx, err := NewContext(nil, WithKey(pub))
		require.NoError(t, err)
		_, err = ctx.EncryptXML(template(t, transform.AES128CBC, xmlsec.TypeEncElement, WithEncryptedKey(transform.RSAOAEP)), doc.FindElement("//Payment"))
		require.NoError(t, err)

		ctx, err = NewContext(nil, WithKey(pub))
		require.NoError(t, err)
		_, err = ctx.Decrypt(doc.FindElement("//EncryptedData"))
		assert.ErrorIs(t, err, xmlsec.ErrKeyMismatch)
	})
}

func TestEncryptedKeyMGF(t *testing.T) {
	id := certs.NewRSAIdentity(t, "recipient")
	rsaKey := id.Signer.(*rsa.PrivateKey)
	priv, err := keys.NewPrivateKey(rsaKey)
	require.NoError(t, err)
	defer priv.Destroy()
	pub, err := keys.NewPublicKey(&rsaKey.PublicKey)
	require.NoError(t, err)
	defer pub.Destroy()

	encrypt := func(t *testing.T, opts ...TemplateOption) *etree.Document {
		t.Helper()
		doc := parse(t, envelope)
		ctx, err := NewContext(nil, WithKey(pub))
		require.NoError(t, err)
		_, err = ctx.EncryptXML(template(t, transform.AES256GCM, xmlsec.TypeEncElement, opts...), doc.FindElement("//Payment"))
		require.NoError(t, err)
		return reparse(t, doc)
	}
	decrypt := func(doc *etree.Document) error {
		ctx, err := NewContext(nil, WithKey(priv))
		require.NoError(t, err)
		_, err = ctx.Decrypt(doc.FindElement("//EncryptedData"))
		return err
	}
	wrappedKey := func(t *testing.T, doc *etree.Document) []byte {
		t.Helper()
		raw, err := base64.StdEncoding.DecodeString(doc.FindElement("//EncryptedKey/CipherData/CipherValue").Text())
		require.NoError(t, err)
		return raw
	}

	t.Run("mgf1p keeps sha1 mgf", func(t *testing.T) {
		doc := encrypt(t, WithEncryptedKey(transform.RSAOAEP), WithOAEPDigest(transform.SHA256))
		_, err := rsaKey.Decrypt(nil, wrappedKey(t, doc), &rsa.OAEPOptions{Hash: crypto.SHA256, MGFHash: crypto.SHA1})
		assert.NoError(t, err)
		assert.NoError(t, decrypt(doc))
	})

	t.Run("explicit mgf", func(t *testing.T) {
		doc := encrypt(t, WithEncryptedKey(transform.RSAOAEP11), WithOAEPDigest(transform.SHA256), WithOAEPMGF(transform.SHA512))
		mgf := doc.FindElement("//EncryptedKey/EncryptionMethod/MGF")
		require.NotNil(t, mgf)
		assert.Equal(t, "http://www.w3.org/2009/xmlenc11#mgf1sha512", mgf.SelectAttrValue("Algorithm", ""))
		_, err := rsaKey.Decrypt(nil, wrappedKey(t, doc), &rsa.OAEPOptions{Hash: crypto.SHA256, MGFHash: crypto.SHA512})
		assert.NoError(t, err)
		assert.NoError(t, decrypt(doc))

		// without the MGF element the recipient falls back to sha1
		doc = encrypt(t, WithEncryptedKey(transform.RSAOAEP11), WithOAEPDigest(transform.SHA256), WithOAEPMGF(transform.SHA512))
		mgf = doc.FindElement("//EncryptedKey/EncryptionMethod/MGF")
		mgf.Parent().RemoveChild(mgf)
		assert.Error(t, decrypt(doc))
	})

	t.Run("unknown mgf", func(t *testing.T) {
		doc := encrypt(t, WithEncryptedKey(transform.RSAOAEP11), WithOAEPMGF(transform.SHA256))
		doc.FindElement("//EncryptedKey/EncryptionMethod/MGF").CreateAttr("Algorithm", "urn:example:mgf")
		err := decrypt(doc)
		assert.Equal(t, xmlsec.ReasonInvalidTransform, xmlsec.ReasonCode(err))
	})

	t.Run("template rejects", func(t *testing.T) {
		_, err := NewTemplate(transform.AES128CBC, "", WithEncryptedKey(transform.RSAOAEP), WithOAEPMGF(transform.SHA256))
		assert.ErrorIs(t, err, xmlsec.ErrUnsupportedAlgorithm)
		_, err = NewTemplate(transform.AES128CBC, "", WithEncryptedKey(transform.RSAOAEP11), WithOAEPMGF(transform.RSASHA256))
		assert.ErrorIs(t, err, xmlsec.ErrUnsupportedAlgorithm)
	})
}

func TestManagerKeyByName(t *testing.T) {
	shared := generate(t, keys.DataKindAES, 128)
	shared.SetName("shared")
	other := generate(t, keys.DataKindAES, 128)
	other.SetName("other")

	mngr := keys.NewManager()
	require.NoError(t, mngr.AddKey(other))
	require.NoError(t, mngr.AddKey(shared))

	ctx, err := NewContext(mngr)
	require.NoError(t, err)
	ed, err := ctx.EncryptBinary(template(t, transform.AES128CBC, "", WithKeyName("shared")), []byte("secret"))
	require.NoError(t, err)

	ctx, err = NewContext(nil, WithKey(shared))
	require.NoError(t, err)
	res, err := ctx.Decrypt(ed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), res.Data)

	t.Run("name filled from key", func(t *testing.T) {
		ctx, err := NewContext(nil, WithKey(shared))
		require.NoError(t, err)
		ed, err := ctx.EncryptBinary(template(t, transform.AES128CBC, "", WithKeyName("")), []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "shared", ed.FindElement("./KeyInfo/KeyName").Text())
	})

	t.Run("unknown name", func(t *testing.T) {
		ctx, err := NewContext(mngr)
		require.NoError(t, err)
		_, err = ctx.EncryptBinary(template(t, transform.AES128CBC, "", WithKeyName("nobody")), []byte("x"))
		require.ErrorIs(t, err, xmlsec.ErrTransformExecution)
		assert.Equal(t, xmlsec.ReasonKeyNotFound, xmlsec.ReasonCode(err))

		ctx, err = NewContext(mngr, WithKeySearchFlags(keys.KeySearchLax))
		require.NoError(t, err)
		_, err = ctx.EncryptBinary(template(t, transform.AES128CBC, "", WithKeyName("nobody")), []byte("x"))
		assert.NoError(t, err)
	})

	t.Run("kind filtered", func(t *testing.T) {
		ctx, err := NewContext(mngr, WithEnabledKeyData(keys.DataKindName, keys.DataKindDES))
		require.NoError(t, err)
		_, err = ctx.EncryptBinary(template(t, transform.AES128CBC, "", WithKeyName("shared")), []byte("x"))
		assert.Equal(t, xmlsec.ReasonKeyNotFound, xmlsec.ReasonCode(err))
	})
}

func TestNewTemplate(t *testing.T) {
	tmpl, err := NewTemplate(transform.AES128GCM, xmlsec.TypeEncContent, WithKeyName("k1"))
	require.NoError(t, err)
	assert.Equal(t, xmlsec.TypeEncContent, tmpl.SelectAttrValue("Type", ""))
	assert.True(t, strings.HasPrefix(tmpl.SelectAttrValue("Id", ""), "ED-"))
	assert.Equal(t, "k1", tmpl.FindElement("./KeyInfo/KeyName").Text())
	assert.NotNil(t, tmpl.FindElement("./CipherData/CipherValue"))

	_, err = NewTemplate(transform.RSASHA256, "")
	assert.ErrorIs(t, err, xmlsec.ErrUnsupportedAlgorithm)
	_, err = NewTemplate(transform.AES128CBC, "", WithEncryptedKey(transform.AES256CBC))
	assert.ErrorIs(t, err, xmlsec.ErrUnsupportedAlgorithm)
	_, err = NewTemplate(transform.AES128CBC, "", WithEncryptedKey(transform.RSAPKCS1), WithOAEPDigest(transform.SHA256))
	assert.ErrorIs(t, err, xmlsec.ErrUnsupportedAlgorithm)
}
