// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// FileResolver resolves local paths and file: URIs. Relative paths are
// taken relative to Root when it is set.
type FileResolver struct {
	Root string
}

// Resolve reads the payload named by uri.
func (r FileResolver) Resolve(uri string) ([]byte, error) {
	path := uri
	if strings.Contains(uri, ":") && !filepath.IsAbs(uri) {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parsing uri: %w", err)
		}
		if u.Scheme != "file" {
			return nil, fmt.Errorf("unsupported uri scheme %q", u.Scheme)
		}
		path = u.Path
	}
	if r.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(r.Root, path)
	}
	return os.ReadFile(path)
}

// Resolver fetches binary payloads by URI.
type Resolver interface {
	Resolve(uri string) ([]byte, error)
}

// Fetch resolves uri through resolver, reporting failures.
func (e *Engine) Fetch(resolver Resolver, uri string) ([]byte, error) {
	if resolver == nil {
		resolver = FileResolver{}
	}
	data, err := resolver.Resolve(uri)
	if err != nil {
		return nil, e.Fail(xmlsec.ReasonIOFailed, "uri", uri, err)
	}
	return data, nil
}
