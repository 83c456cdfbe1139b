// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-xmlsec/internal/testutil"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

type reported struct {
	file, function, object, subject string
	line, reason                    int
	msg                             string
}

func newTestEngine(t *testing.T) (*Engine, *[]reported) {
	t.Helper()
	var calls []reported
	core, err := xmlsec.Init(xmlsec.WithErrorCallback(func(file string, line int, fn, obj, subj string, reason int, msg string) {
		calls = append(calls, reported{file, fn, obj, subj, line, reason, msg})
	}))
	require.NoError(t, err)
	return New(core), &calls
}

func mustTransform(t *testing.T, id transform.ID) transform.Transform {
	t.Helper()
	tr, ok := transform.Lookup(id)
	require.True(t, ok)
	return tr
}

func TestEngine_FailReportsThroughCallback(t *testing.T) {
	e, calls := newTestEngine(t)

	err := e.Fail(xmlsec.ReasonInvalidNode, "Signature", "", errors.New("boom"))
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, "engine_test.go", call.file)
	assert.NotZero(t, call.line)
	assert.Contains(t, call.function, "TestEngine_FailReportsThroughCallback")
	assert.Equal(t, "Signature", call.object)
	assert.Equal(t, "unknown", call.subject)
	assert.Equal(t, xmlsec.ReasonInvalidNode, call.reason)
	assert.Equal(t, "boom", call.msg)

	assert.Equal(t, xmlsec.ReasonInvalidNode, xmlsec.ReasonCode(err))
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "boom", f.Unwrap().Error())
}

func TestEngine_Canonicalize(t *testing.T) {
	e, _ := newTestEngine(t)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<root xmlns="urn:a" xmlns:x="urn:x"><child b="2" a="1"><!--note-->text</child></root>`))
	child := doc.Root().SelectElement("child")
	require.NotNil(t, child)

	t.Run("inclusive keeps inherited namespaces", func(t *testing.T) {
		out, err := e.Canonicalize(mustTransform(t, transform.C14N), child, "")
		require.NoError(t, err)
		assert.Contains(t, string(out), `xmlns:x="urn:x"`)
		assert.Contains(t, string(out), `xmlns="urn:a"`)
		assert.NotContains(t, string(out), "note")
	})

	t.Run("inclusive with comments", func(t *testing.T) {
		out, err := e.Canonicalize(mustTransform(t, transform.C14N11WithComments), child, "")
		require.NoError(t, err)
		assert.Contains(t, string(out), "<!--note-->")
	})

	t.Run("exclusive drops unused namespaces", func(t *testing.T) {
		out, err := e.Canonicalize(mustTransform(t, transform.ExclC14N), child, "")
		require.NoError(t, err)
		assert.NotContains(t, string(out), "urn:x")
		assert.Contains(t, string(out), `xmlns="urn:a"`)
		assert.Contains(t, string(out), "text")
	})

	t.Run("source untouched", func(t *testing.T) {
		assert.Len(t, child.Attr, 2)
		assert.Equal(t, "root", child.Parent().Tag)
	})

	t.Run("not a c14n method", func(t *testing.T) {
		_, err := e.Canonicalize(mustTransform(t, transform.SHA256), child, "")
		assert.Equal(t, xmlsec.ReasonInvalidTransform, xmlsec.ReasonCode(err))
	})
}

func TestEngine_Digest(t *testing.T) {
	e, _ := newTestEngine(t)
	sum, err := e.Digest(mustTransform(t, transform.SHA256), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(sum))

	_, err = e.Digest(mustTransform(t, transform.RSASHA256), []byte("abc"))
	assert.Error(t, err)
}

func TestEngine_SignVerify(t *testing.T) {
	e, _ := newTestEngine(t)

	rsaKey, err := keys.NewPrivateKey(testutil.NewRSAIdentity(t, "rsa").Signer)
	require.NoError(t, err)
	ecKey, err := keys.NewPrivateKey(testutil.NewECIdentity(t, "ec").Signer)
	require.NoError(t, err)
	hmacKey, err := keys.Generate(keys.DataKindHMAC, 256, keys.DataTypeAny)
	require.NoError(t, err)
	edKey, err := keys.Generate(keys.DataKindEd25519, 0, keys.DataTypeAny)
	require.NoError(t, err)
	dsaKey, err := keys.Generate(keys.DataKindDSA, 1024, keys.DataTypeAny)
	require.NoError(t, err)

	tests := []struct {
		id  transform.ID
		key *keys.Key
	}{
		{transform.RSASHA1, rsaKey},
		{transform.RSASHA256, rsaKey},
		{transform.RSASHA512, rsaKey},
		{transform.ECDSASHA256, ecKey},
		{transform.ECDSASHA384, ecKey},
		{transform.HMACSHA1, hmacKey},
		{transform.HMACSHA256, hmacKey},
		{transform.Ed25519, edKey},
		{transform.DSASHA1, dsaKey},
	}

	data := []byte("payload to sign")
	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			tr := mustTransform(t, tt.id)

			p, err := e.NewPipeline(tr, tt.key, OperationSign)
			require.NoError(t, err)
			assert.Equal(t, StatusNone, p.Status())
			_, err = p.Write(data)
			require.NoError(t, err)
			assert.Equal(t, StatusWorking, p.Status())
			sig, err := p.Sign()
			require.NoError(t, err)
			assert.Equal(t, StatusFinished, p.Status())
			assert.Equal(t, sig, p.Result())

			ok, err := e.VerifyData(tr, tt.key, data, sig)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = e.VerifyData(tr, tt.key, []byte("payload to sigN"), sig)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEngine_PipelineRejectsMismatchedKey(t *testing.T) {
	e, calls := newTestEngine(t)
	aesKey, err := keys.Generate(keys.DataKindAES, 128, keys.DataTypeAny)
	require.NoError(t, err)

	_, err = e.NewPipeline(mustTransform(t, transform.RSASHA256), aesKey, OperationSign)
	assert.Equal(t, xmlsec.ReasonInvalidKeyData, xmlsec.ReasonCode(err))
	assert.Len(t, *calls, 1)

	pubKey, err := keys.NewPublicKey(testutil.NewRSAIdentity(t, "pub").Signer.Public())
	require.NoError(t, err)
	_, err = e.NewPipeline(mustTransform(t, transform.RSASHA256), pubKey, OperationSign)
	assert.Error(t, err)
	_, err = e.NewPipeline(mustTransform(t, transform.RSASHA256), pubKey, OperationVerify)
	assert.NoError(t, err)
}

func TestEngine_PipelineSingleExecution(t *testing.T) {
	e, _ := newTestEngine(t)
	key, err := keys.Generate(keys.DataKindHMAC, 128, keys.DataTypeAny)
	require.NoError(t, err)

	p, err := e.NewPipeline(mustTransform(t, transform.HMACSHA256), key, OperationSign)
	require.NoError(t, err)
	_, err = p.Sign()
	require.NoError(t, err)

	_, err = p.Write([]byte("more"))
	assert.Equal(t, xmlsec.ReasonInvalidStatus, xmlsec.ReasonCode(err))
	_, err = p.Sign()
	assert.Error(t, err)
}

func TestEngine_Ciphers(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		id   transform.ID
		kind keys.DataKind
		size int
	}{
		{transform.AES128CBC, keys.DataKindAES, 128},
		{transform.AES256CBC, keys.DataKindAES, 256},
		{transform.TripleDESCBC, keys.DataKindDES, 192},
		{transform.AES128GCM, keys.DataKindAES, 128},
		{transform.AES256GCM, keys.DataKindAES, 256},
	}

	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			tr := mustTransform(t, tt.id)
			key, err := keys.Generate(tt.kind, tt.size, keys.DataTypeAny)
			require.NoError(t, err)

			for _, plaintext := range [][]byte{nil, []byte("Hello, World!"), make([]byte, 32)} {
				ct, err := e.Encrypt(tr, key, plaintext)
				require.NoError(t, err)
				pt, err := e.Decrypt(tr, key, ct)
				require.NoError(t, err)
				assert.Equal(t, len(plaintext), len(pt))
				if len(plaintext) > 0 {
					assert.Equal(t, plaintext, pt)
				}
			}
		})
	}
}

func TestEngine_CipherKeySize(t *testing.T) {
	e, _ := newTestEngine(t)
	key, err := keys.Generate(keys.DataKindAES, 128, keys.DataTypeAny)
	require.NoError(t, err)

	_, err = e.Encrypt(mustTransform(t, transform.AES256CBC), key, []byte("x"))
	assert.Equal(t, xmlsec.ReasonInvalidKeyData, xmlsec.ReasonCode(err))

	_, err = e.Decrypt(mustTransform(t, transform.AES128CBC), key, []byte("short"))
	assert.Equal(t, xmlsec.ReasonCryptoFailed, xmlsec.ReasonCode(err))
}

func TestEngine_KeyTransport(t *testing.T) {
	e, _ := newTestEngine(t)
	id := testutil.NewRSAIdentity(t, "transport")
	priv, err := keys.NewPrivateKey(id.Signer)
	require.NoError(t, err)
	pub, err := keys.NewPublicKey(id.Signer.Public())
	require.NoError(t, err)

	aes := mustTransform(t, transform.AES128CBC)
	session, err := e.GenerateSessionKey(aes)
	require.NoError(t, err)
	assert.True(t, session.Type().Has(keys.DataTypeSession))

	for _, id := range []transform.ID{transform.RSAPKCS1, transform.RSAOAEP, transform.RSAOAEP11} {
		t.Run(id.String(), func(t *testing.T) {
			tr := mustTransform(t, id)
			var params OAEP
			if id == transform.RSAOAEP11 {
				params.Digest = crypto.SHA256
			}
			wrapped, err := e.WrapKey(tr, pub, session, params)
			require.NoError(t, err)
			material, err := e.UnwrapKey(tr, priv, wrapped, params)
			require.NoError(t, err)

			restored, err := e.SessionKeyFromBytes(aes, material)
			require.NoError(t, err)
			ct, err := e.Encrypt(aes, session, []byte("secret"))
			require.NoError(t, err)
			pt, err := e.Decrypt(aes, restored, ct)
			require.NoError(t, err)
			assert.Equal(t, []byte("secret"), pt)
		})
	}

	_, err = e.UnwrapKey(mustTransform(t, transform.RSAOAEP), pub, []byte("x"), OAEP{})
	assert.Equal(t, xmlsec.ReasonInvalidKeyData, xmlsec.ReasonCode(err))
}

func TestEngine_KeyTransportOAEPParameters(t *testing.T) {
	e, _ := newTestEngine(t)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := keys.NewPrivateKey(rsaKey)
	require.NoError(t, err)
	pub, err := keys.NewPublicKey(&rsaKey.PublicKey)
	require.NoError(t, err)

	material := bytes.Repeat([]byte{0x5a}, 32)
	session, err := keys.ReadBinaryFromMemory(keys.DataKindAES, material)
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     transform.ID
		params OAEP
		opts   rsa.OAEPOptions
	}{
		{"mgf1p defaults", transform.RSAOAEP, OAEP{}, rsa.OAEPOptions{Hash: crypto.SHA1, MGFHash: crypto.SHA1}},
		{"mgf1p sha256 digest", transform.RSAOAEP, OAEP{Digest: crypto.SHA256}, rsa.OAEPOptions{Hash: crypto.SHA256, MGFHash: crypto.SHA1}},
		{"rsa-oaep sha512 digest", transform.RSAOAEP11, OAEP{Digest: crypto.SHA512}, rsa.OAEPOptions{Hash: crypto.SHA512, MGFHash: crypto.SHA1}},
		{"rsa-oaep sha256 mgf", transform.RSAOAEP11, OAEP{Digest: crypto.SHA256, MGF: crypto.SHA256}, rsa.OAEPOptions{Hash: crypto.SHA256, MGFHash: crypto.SHA256}},
		{"rsa-oaep sha1 digest sha384 mgf", transform.RSAOAEP11, OAEP{MGF: crypto.SHA384}, rsa.OAEPOptions{Hash: crypto.SHA1, MGFHash: crypto.SHA384}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mustTransform(t, tt.id)

			wrapped, err := e.WrapKey(tr, pub, session, tt.params)
			require.NoError(t, err)
			opts := tt.opts
			got, err := rsaKey.Decrypt(nil, wrapped, &opts)
			require.NoError(t, err, "wrapped key decrypts with plain crypto/rsa")
			assert.Equal(t, material, got)

			external := oaepEncrypt(t, &rsaKey.PublicKey, material, tt.opts)
			got, err = e.UnwrapKey(tr, priv, external, tt.params)
			require.NoError(t, err)
			assert.Equal(t, material, got)
		})
	}

	t.Run("too long", func(t *testing.T) {
		_, err := encryptOAEP(rand.Reader, &rsaKey.PublicKey, make([]byte, 256), crypto.SHA256, crypto.SHA1)
		assert.Error(t, err)
	})
}

// oaepEncrypt encrypts with crypto/rsa, which shares one hash between the
// label digest and MGF1, so mixed parameters are checked by decrypting
// through OAEPOptions instead.
func oaepEncrypt(t *testing.T, pub *rsa.PublicKey, msg []byte, opts rsa.OAEPOptions) []byte {
	t.Helper()
	if opts.Hash == opts.MGFHash {
		out, err := rsa.EncryptOAEP(opts.Hash.New(), rand.Reader, pub, msg, nil)
		require.NoError(t, err)
		return out
	}
	out, err := encryptOAEP(rand.Reader, pub, msg, opts.Hash, opts.MGFHash)
	require.NoError(t, err)
	return out
}

func TestMGFHrefs(t *testing.T) {
	for _, h := range []crypto.Hash{crypto.SHA1, crypto.SHA224, crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		href, ok := MGFHref(h)
		require.True(t, ok, h.String())
		got, ok := MGFByHref(href)
		require.True(t, ok)
		assert.Equal(t, h, got)
	}
	_, ok := MGFByHref("urn:unknown")
	assert.False(t, ok)
	_, ok = MGFHref(crypto.MD5)
	assert.False(t, ok)
}

func TestFileResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload.bin"), []byte("data"), 0600))

	r := FileResolver{Root: dir}
	data, err := r.Resolve("payload.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	data, err = FileResolver{}.Resolve("file://" + filepath.ToSlash(filepath.Join(dir, "payload.bin")))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	_, err = r.Resolve("https://example.com/payload")
	assert.Error(t, err)

	e, calls := newTestEngine(t)
	_, err = e.Fetch(r, "missing.bin")
	assert.Equal(t, xmlsec.ReasonIOFailed, xmlsec.ReasonCode(err))
	require.Len(t, *calls, 1)
	assert.Equal(t, "missing.bin", (*calls)[0].subject)
}

func TestRoot(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<a><b><c/></b></a>`))
	c := doc.FindElement("//c")
	require.NotNil(t, c)
	assert.Equal(t, "a", Root(c).Tag)

	path, ok := PathTo(doc.Root(), c)
	require.True(t, ok)
	cp := doc.Root().Copy()
	assert.Equal(t, "c", Follow(cp, path).Tag)

	_, ok = PathTo(c, doc.Root())
	assert.False(t, ok)
}
