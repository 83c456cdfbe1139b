// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
)

// keyFile is how a file extension is read.
type keyFile struct {
	ext    string
	format keys.Format
	// kind is set for raw symmetric key material
	kind keys.DataKind
}

// keyFiles is searched in order when a key is requested by name.
var keyFiles = []keyFile{
	{ext: ".key", format: keys.FormatPEM},
	{ext: ".der", format: keys.FormatDER},
	{ext: ".p12", format: keys.FormatPKCS12},
	{ext: ".pfx", format: keys.FormatPKCS12},
	{ext: ".aes", kind: keys.DataKindAES},
	{ext: ".des", kind: keys.DataKindDES},
	{ext: ".hmac", kind: keys.DataKindHMAC},
}

func keyFileFor(name string) (keyFile, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	for _, kf := range keyFiles {
		if kf.ext == ext {
			return kf, true
		}
	}
	return keyFile{}, false
}

// FileProvider implements Provider using key files on disk
//
// Key files are expected at: {keyDir}/{name}{.key,.der,.p12,.pfx,.aes,.des,.hmac}
// Certificate files at: {keyDir}/{name}.crt (PEM, optional)
//
// PKCS#12 files carry their own certificate and are decrypted with the
// configured password.
type FileProvider struct {
	keyDir   string
	password string
	mu       sync.RWMutex
	cache    map[string]*keys.Key
}

// NewFileProvider creates a new file-based key provider
func NewFileProvider(keyDir, password string) (*FileProvider, error) {
	info, err := os.Stat(keyDir)
	if err != nil {
		return nil, fmt.Errorf("checking key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key directory is not a directory: %s", keyDir)
	}

	return &FileProvider{
		keyDir:   keyDir,
		password: password,
		cache:    make(map[string]*keys.Key),
	}, nil
}

// Key returns a duplicate of the named key
func (p *FileProvider) Key(ctx context.Context, name string) (*keys.Key, error) {
	// Check cache first
	p.mu.RLock()
	if k, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return k.Duplicate()
	}
	p.mu.RUnlock()

	// Load from disk
	k, err := p.loadKey(name)
	if err != nil {
		return nil, err
	}

	// Cache it
	p.mu.Lock()
	if cached, ok := p.cache[name]; ok {
		k.Destroy()
		k = cached
	} else {
		p.cache[name] = k
	}
	p.mu.Unlock()

	return k.Duplicate()
}

// Populate adds every key in the directory to mngr
func (p *FileProvider) Populate(ctx context.Context, mngr *keys.Manager) error {
	return populate(ctx, p, mngr)
}

// ListKeys describes all key files in the directory
func (p *FileProvider) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	entries, err := os.ReadDir(p.keyDir)
	if err != nil {
		return nil, fmt.Errorf("reading key directory: %w", err)
	}

	var infos []KeyInfo
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := keyFileFor(entry.Name()); !ok {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if seen[name] {
			continue
		}
		seen[name] = true

		k, err := p.Key(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("loading key %s: %w", name, err)
		}
		infos = append(infos, describe(name, filepath.Join(p.keyDir, entry.Name()), k))
		k.Destroy()
	}

	return infos, nil
}

// Close destroys the cached keys
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.cache {
		k.Destroy()
	}
	p.cache = make(map[string]*keys.Key)
	return nil
}

func (p *FileProvider) loadKey(name string) (*keys.Key, error) {
	for _, kf := range keyFiles {
		path := filepath.Join(p.keyDir, name+kf.ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		var (
			k   *keys.Key
			err error
		)
		if kf.kind != keys.DataKindUnknown {
			k, err = keys.ReadBinary(kf.kind, path)
		} else {
			k, err = keys.Load(path, kf.format, p.password, keys.DataTypeAny)
		}
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		k.SetName(name)

		if err := p.attachCertificate(k, name); err != nil {
			k.Destroy()
			return nil, err
		}
		return k, nil
	}
	return nil, ErrKeyNotFound
}

// attachCertificate loads {name}.crt into k when it exists.
func (p *FileProvider) attachCertificate(k *keys.Key, name string) error {
	certPath := filepath.Join(p.keyDir, name+".crt")
	if _, err := os.Stat(certPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if k.Kind().Symmetric() {
		return fmt.Errorf("certificate %s given for symmetric key %s", certPath, name)
	}
	if err := k.LoadCertificate(certPath, keys.FormatCertPEM); err != nil {
		return fmt.Errorf("loading certificate: %w", err)
	}
	return nil
}
