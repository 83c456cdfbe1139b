// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keys

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// ErrCertificateRevoked is returned when a certificate in a verified chain
// has been revoked by its issuer.
var ErrCertificateRevoked = errors.New("certificate has been revoked")

// RevocationChecker checks the revocation status of a certificate.
type RevocationChecker interface {
	// CheckRevocation returns nil if cert is not revoked, ErrCertificateRevoked
	// if it is, and another error if the status could not be determined.
	CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error
}

// RevocationConfig configures an OCSPChecker.
type RevocationConfig struct {
	// HTTPClient for OCSP and CRL requests (optional)
	HTTPClient *http.Client
	// Timeout for a single request when HTTPClient is nil
	Timeout time.Duration
	// CRLFallback fetches the certificate's CRL distribution points when
	// OCSP gives no answer
	CRLFallback bool
	// CacheTimeout bounds how long responses and CRLs are reused
	CacheTimeout time.Duration
	// Strict fails verification when the status cannot be determined
	Strict bool
}

// DefaultRevocationConfig returns the default checker configuration.
func DefaultRevocationConfig() *RevocationConfig {
	return &RevocationConfig{
		Timeout:      10 * time.Second,
		CRLFallback:  true,
		CacheTimeout: time.Hour,
	}
}

// OCSPChecker implements RevocationChecker using OCSP with optional CRL
// fallback.
type OCSPChecker struct {
	config     *RevocationConfig
	httpClient *http.Client
	crls       *ttlCache[*x509.RevocationList]
	responses  *ttlCache[error]
}

// NewOCSPChecker creates an OCSP based revocation checker.
func NewOCSPChecker(config *RevocationConfig) *OCSPChecker {
	if config == nil {
		config = DefaultRevocationConfig()
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &OCSPChecker{
		config:     config,
		httpClient: client,
		crls:       newTTLCache[*x509.RevocationList](config.CacheTimeout),
		responses:  newTTLCache[error](config.CacheTimeout),
	}
}

// CheckRevocation checks cert against its issuer's OCSP responder and, if
// that fails and fallback is enabled, against its CRL distribution points.
func (c *OCSPChecker) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("certificate is nil")
	}
	if issuer == nil {
		return fmt.Errorf("issuer certificate is nil")
	}

	ocspErr := c.checkOCSP(ctx, cert, issuer)
	if ocspErr == nil || errors.Is(ocspErr, ErrCertificateRevoked) {
		return ocspErr
	}

	if c.config.CRLFallback {
		crlErr := c.checkCRL(ctx, cert, issuer)
		if crlErr == nil || errors.Is(crlErr, ErrCertificateRevoked) {
			return crlErr
		}
		if c.config.Strict {
			return fmt.Errorf("revocation check failed: OCSP: %v, CRL: %v", ocspErr, crlErr)
		}
	}

	if c.config.Strict {
		return fmt.Errorf("OCSP check failed: %w", ocspErr)
	}
	return nil
}

func (c *OCSPChecker) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	cacheKey := issuer.Subject.String() + "/" + cert.SerialNumber.String()
	if cached, ok := c.responses.get(cacheKey); ok {
		return cached
	}

	if len(cert.OCSPServer) == 0 {
		return fmt.Errorf("no OCSP server URL in certificate")
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("creating OCSP request: %w", err)
	}

	body, err := c.postOCSP(ctx, cert.OCSPServer[0], request)
	if err != nil {
		return fmt.Errorf("OCSP request failed: %w", err)
	}

	resp, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return fmt.Errorf("parsing OCSP response: %w", err)
	}

	var result error
	switch resp.Status {
	case ocsp.Good:
	case ocsp.Revoked:
		result = ErrCertificateRevoked
	default:
		// unknown answers are not cached
		return fmt.Errorf("OCSP status unknown")
	}

	c.responses.set(cacheKey, result)
	return result
}

// postOCSP sends the request with POST and falls back to GET.
func (c *OCSPChecker) postOCSP(ctx context.Context, server string, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.getOCSP(ctx, server, request)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.getOCSP(ctx, server, request)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPChecker) getOCSP(ctx context.Context, server string, request []byte) ([]byte, error) {
	reqURL := server + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(request))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPChecker) checkCRL(ctx context.Context, cert, issuer *x509.Certificate) error {
	if len(cert.CRLDistributionPoints) == 0 {
		return fmt.Errorf("no CRL distribution points in certificate")
	}

	var lastErr error
	for _, dp := range cert.CRLDistributionPoints {
		crl, err := c.fetchCRL(ctx, dp)
		if err != nil {
			lastErr = err
			continue
		}
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			lastErr = fmt.Errorf("CRL from %s: %w", dp, err)
			continue
		}
		if revokedBy(crl, cert) {
			return ErrCertificateRevoked
		}
		return nil
	}
	return fmt.Errorf("checking CRL: %w", lastErr)
}

func (c *OCSPChecker) fetchCRL(ctx context.Context, location string) (*x509.RevocationList, error) {
	if cached, ok := c.crls.get(location); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CRL server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	crls, err := ParseCRLs(body, FormatUnknown)
	if err != nil {
		return nil, err
	}

	c.crls.set(location, crls[0])
	return crls[0], nil
}

// ParseCRLs decodes one or more certificate revocation lists. PEM input may
// hold several X509 CRL blocks; DER input holds exactly one list.
func ParseCRLs(data []byte, format Format) ([]*x509.RevocationList, error) {
	if format == FormatUnknown {
		format = FormatDER
		if isPEM(data) {
			format = FormatPEM
		}
	}

	switch format {
	case FormatPEM, FormatCertPEM:
		var crls []*x509.RevocationList
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "X509 CRL" {
				continue
			}
			crl, err := x509.ParseRevocationList(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing CRL: %w", err)
			}
			crls = append(crls, crl)
		}
		if len(crls) == 0 {
			return nil, fmt.Errorf("no X509 CRL block found")
		}
		return crls, nil
	case FormatDER, FormatCertDER:
		crl, err := x509.ParseRevocationList(data)
		if err != nil {
			return nil, fmt.Errorf("parsing CRL: %w", err)
		}
		return []*x509.RevocationList{crl}, nil
	default:
		return nil, fmt.Errorf("unsupported CRL format %s", format)
	}
}

func revokedBy(crl *x509.RevocationList, cert *x509.Certificate) bool {
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return true
		}
	}
	return false
}

// ttlCache is a concurrency safe map whose entries expire.
type ttlCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]ttlEntry[V]
	timeout time.Duration
}

type ttlEntry[V any] struct {
	value  V
	stored time.Time
}

func newTTLCache[V any](timeout time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		entries: make(map[string]ttlEntry[V]),
		timeout: timeout,
	}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.stored) > c.timeout {
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: value, stored: time.Now()}
}
