// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package profile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-xmlsec/pkg/dsig"
	"github.com/sirosfoundation/go-xmlsec/pkg/encryption"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

func writeProfile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	keyDir := filepath.Join(dir, "keys")
	require.NoError(t, os.Mkdir(keyDir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(keyDir, "shared.hmac"), bytes.Repeat([]byte{0x42}, 32), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(keyDir, "session.aes"), bytes.Repeat([]byte{0x17}, 32), 0600))

	t.Setenv("TEST_KEY_DIR", keyDir)
	path := filepath.Join(dir, "xmlsec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
  format: json
metrics:
  enabled: true
transforms:
  signature: [exc-c14n, hmac-sha256]
  reference: [enveloped-signature, exc-c14n, sha256]
  encryption: [aes256-gcm]
keys:
  file:
    keyDir: ${TEST_KEY_DIR}
`), 0600))
	return path
}

func load(t *testing.T) (*Profile, *bytes.Buffer, *prometheus.Registry) {
	t.Helper()
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	p, err := Load(context.Background(), writeProfile(t), WithOutput(&logs), WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, p.Close()) })
	return p, &logs, reg
}

func TestLoad(t *testing.T) {
	p, logs, _ := load(t)
	assert.Equal(t, 2, p.Manager.Len())
	assert.Contains(t, logs.String(), `"msg":"profile loaded"`)
	assert.Contains(t, logs.String(), `"keys":2`)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "xmlsec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keys:\n  file:\n    keyDir: /does/not/exist\n"), 0600))
	_, err = Load(context.Background(), path, WithOutput(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestSignatureContext(t *testing.T) {
	p, _, reg := load(t)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<Invoice><Total>42</Total></Invoice>`))
	tmpl, err := dsig.NewTemplate(transform.ExclC14N, transform.HMACSHA256, transform.SHA256, "", dsig.WithKeyName())
	require.NoError(t, err)
	tmpl.FindElement("./KeyInfo/KeyName").SetText("shared")
	doc.Root().AddChild(tmpl)

	signer, err := p.NewSignatureContext()
	require.NoError(t, err)
	require.NoError(t, signer.Sign(tmpl))

	verifier, err := p.NewSignatureContext()
	require.NoError(t, err)
	require.NoError(t, verifier.Verify(tmpl))
	assert.Equal(t, xmlsec.StatusSucceeded, verifier.Status())

	count, err := testutil.GatherAndCount(reg, "xmlsec_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	t.Run("algorithm outside the allowlist", func(t *testing.T) {
		doc := etree.NewDocument()
		require.NoError(t, doc.ReadFromString(`<Invoice/>`))
		tmpl, err := dsig.NewTemplate(transform.ExclC14N, transform.HMACSHA512, transform.SHA256, "", dsig.WithKeyName())
		require.NoError(t, err)
		doc.Root().AddChild(tmpl)

		ctx, err := p.NewSignatureContext()
		require.NoError(t, err)
		err = ctx.Sign(tmpl)
		require.ErrorIs(t, err, xmlsec.ErrTransformExecution)
		assert.Equal(t, xmlsec.ReasonTransformDisabled, xmlsec.ReasonCode(err))
	})
}

func TestEncryptionContext(t *testing.T) {
	p, _, _ := load(t)

	tmpl, err := encryption.NewTemplate(transform.AES256GCM, "", encryption.WithKeyName("session"))
	require.NoError(t, err)

	ctx, err := p.NewEncryptionContext()
	require.NoError(t, err)
	ed, err := ctx.EncryptBinary(tmpl, []byte("payload"))
	require.NoError(t, err)

	ctx, err = p.NewEncryptionContext()
	require.NoError(t, err)
	res, err := ctx.Decrypt(ed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), res.Data)

	tmpl, err = encryption.NewTemplate(transform.AES256CBC, "", encryption.WithKeyName("session"))
	require.NoError(t, err)
	ctx, err = p.NewEncryptionContext()
	require.NoError(t, err)
	_, err = ctx.EncryptBinary(tmpl, []byte("payload"))
	require.ErrorIs(t, err, xmlsec.ErrTransformExecution)
	assert.Equal(t, xmlsec.ReasonTransformDisabled, xmlsec.ReasonCode(err))
}
