// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package mime

import (
	"bytes"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-xmlsec/pkg/encryption"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
)

func envelope(t *testing.T) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<Envelope xmlns="urn:test"><Header/><Body><Order Id="o-1"/></Body></Envelope>`))
	return doc
}

func TestNewPart(t *testing.T) {
	p := NewPart([]byte("data"), "text/plain")
	assert.True(t, strings.HasPrefix(p.ContentID, "<"))
	assert.True(t, strings.HasSuffix(p.ContentID, "@xmlsec.siros.org>"))
	assert.Equal(t, "binary", p.ContentTransfer)
	assert.NotNil(t, p.Headers)

	p = NewPartWithID([]byte("data"), "text/plain", "part-1")
	assert.Equal(t, "<part-1>", p.ContentID)
	assert.Equal(t, "cid:part-1", p.URI())
}

func TestContentIDBrackets(t *testing.T) {
	tests := []struct {
		in, bare, bracketed string
	}{
		{"id", "id", "<id>"},
		{"<id>", "id", "<id>"},
		{"<id", "id", "<id>"},
		{"", "", "<>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.bare, ContentIDWithoutBrackets(tt.in), tt.in)
		assert.Equal(t, tt.bracketed, AddContentIDBrackets(tt.in), tt.in)
	}
}

func TestMessage_SerializeAndParse(t *testing.T) {
	msg := NewMessage(envelope(t), []Part{
		NewPartWithID([]byte("payload data 1"), "text/plain", "payload-1"),
		NewPartWithID([]byte("payload data 2"), "", "payload-2"),
	})
	msg.Parts[0].Headers.Set("X-Part", "first")

	data, contentType, err := msg.Serialize()
	require.NoError(t, err)
	assert.Contains(t, contentType, "multipart/related")
	assert.Contains(t, contentType, "boundary=")
	assert.Contains(t, contentType, `type="application/soap+xml"`)
	assert.Contains(t, string(data), "Content-Type: application/octet-stream")

	parsed, err := Parse(bytes.NewReader(data), contentType)
	require.NoError(t, err)
	assert.Equal(t, "Envelope", parsed.Root.Root().Tag)
	assert.Equal(t, ContentTypeSOAPXML, parsed.Type)
	require.Len(t, parsed.Parts, 2)
	assert.Equal(t, "first", parsed.Parts[0].Headers.Get("X-Part"))

	got, err := parsed.Resolve("cid:payload-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload data 2"), got)

	// a parsed message serializes again without duplicated headers
	again, _, err := parsed.Serialize()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(again), "Content-Id: <payload-1>"))
}

func TestParse_RootByStart(t *testing.T) {
	msg := NewMessage(envelope(t), []Part{NewPartWithID([]byte("first"), "text/plain", "a")})
	data, contentType, err := msg.Serialize()
	require.NoError(t, err)

	// move the root behind the attachment
	boundary := "--" + msg.Boundary
	sections := strings.Split(string(data), boundary)
	require.Len(t, sections, 4)
	reordered := strings.Join([]string{sections[0], sections[2], sections[1], sections[3]}, boundary)

	parsed, err := Parse(strings.NewReader(reordered), contentType)
	require.NoError(t, err)
	assert.Equal(t, "Envelope", parsed.Root.Root().Tag)
	require.Len(t, parsed.Parts, 1)
	assert.Equal(t, "<a>", parsed.Parts[0].ContentID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"invalid content type", "not a content type;;", ""},
		{"not multipart", "text/plain", "hello"},
		{"missing boundary", "multipart/related", ""},
		{"no root", `multipart/related; boundary="b"; start="<x>"`, "--b\r\nContent-ID: <y>\r\n\r\ndata\r\n--b--\r\n"},
		{"root not xml", `multipart/related; boundary="b"`, "--b\r\nContent-ID: <y>\r\n\r\n<a></b>\r\n--b--\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body), tt.contentType)
			assert.Error(t, err)
		})
	}
}

func TestMessage_Serialize_NoRoot(t *testing.T) {
	_, _, err := (&Message{Boundary: "b"}).Serialize()
	assert.Error(t, err)
}

func TestMessage_PartAndReplace(t *testing.T) {
	msg := NewMessage(envelope(t), []Part{NewPartWithID([]byte("old"), "text/plain", "p")})

	for _, id := range []string{"p", "<p>", "cid:p"} {
		require.NotNil(t, msg.Part(id), id)
	}
	assert.Nil(t, msg.Part("q"))

	assert.True(t, msg.Replace("cid:p", []byte("new")))
	assert.Equal(t, []byte("new"), msg.Part("p").Data)
	assert.False(t, msg.Replace("q", nil))

	_, err := msg.Resolve("cid:q")
	assert.ErrorIs(t, err, ErrPartNotFound)
	_, err = msg.Resolve("http://example.com/p")
	assert.Error(t, err)
}

func TestMessage_EncryptedAttachment(t *testing.T) {
	key, err := keys.Generate(keys.DataKindAES, 256, keys.DataTypeAny)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)

	tmpl, err := encryption.NewTemplate(transform.AES256GCM, "", encryption.WithMimeType("application/pdf"))
	require.NoError(t, err)
	encCtx, err := encryption.NewContext(nil, encryption.WithKey(key))
	require.NoError(t, err)
	ed, err := encCtx.EncryptBinary(tmpl, []byte("%PDF-1.7 attachment"))
	require.NoError(t, err)

	doc := envelope(t)
	doc.FindElement("//Header").AddChild(ed)
	msg := NewMessage(doc, nil)
	part, err := msg.Detach(ed, ContentTypeOctetStream)
	require.NoError(t, err)
	assert.Nil(t, ed.FindElement("./CipherData/CipherValue"))
	ref := ed.FindElement("./CipherData/CipherReference")
	require.NotNil(t, ref)
	assert.Equal(t, part.URI(), ref.SelectAttrValue("URI", ""))
	assert.NotContains(t, string(part.Data), "attachment", "attachment holds cipher text")

	data, contentType, err := msg.Serialize()
	require.NoError(t, err)
	received, err := Parse(bytes.NewReader(data), contentType)
	require.NoError(t, err)

	decCtx, err := encryption.NewContext(nil, encryption.WithKey(key), encryption.WithURIResolver(received))
	require.NoError(t, err)
	res, err := decCtx.Decrypt(received.Root.FindElement("//EncryptedData"))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 attachment"), res.Data)
}

func TestMessage_DetachErrors(t *testing.T) {
	msg := NewMessage(envelope(t), nil)

	_, err := msg.Detach(nil, "")
	assert.Error(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<EncryptedData><CipherData><CipherReference URI="cid:x"/></CipherData></EncryptedData>`))
	_, err = msg.Detach(doc.Root(), "")
	assert.Error(t, err)

	doc = etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<EncryptedData><CipherData><CipherValue>!!</CipherValue></CipherData></EncryptedData>`))
	_, err = msg.Detach(doc.Root(), "")
	assert.Error(t, err)
	assert.Empty(t, msg.Parts)
}
