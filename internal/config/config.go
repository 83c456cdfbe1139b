// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package config handles configuration loading for xmlsec profiles.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like PKCS#11 PINs and PKCS#12 passwords to be injected at runtime.
//
// # Configuration Sections
//
//   - logging: level and output format of the engine logger
//   - metrics: Prometheus operation metrics
//   - transforms: per-context algorithm allowlists, by transform name
//   - keys: key source (file or pkcs11), trust anchors and key resolution
//
// # Example Configuration
//
//	logging:
//	  level: info
//	  format: json
//
//	transforms:
//	  signature: [exc-c14n, rsa-sha256]
//	  reference: [enveloped-signature, exc-c14n, sha256]
//	  encryption: [aes256-gcm, rsa-oaep-mgf1p]
//
//	keys:
//	  mode: pkcs11
//	  pkcs11:
//	    modulePath: /usr/lib/softhsm/libsofthsm2.so
//	    slotLabel: xmlsec
//	    pin: ${HSM_PIN}
//	    labels: [signing, recipient]
//	  trusted:
//	    - /etc/xmlsec/ca.pem
//	  revocation:
//	    crls: [/etc/xmlsec/ca.crl]
//	    ocsp: true
//	    timeout: 5s
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
)

// Key source modes
const (
	ModeFile   = "file"
	ModePKCS11 = "pkcs11"
)

// Key search modes
const (
	SearchStrict = "strict"
	SearchLax    = "lax"
)

// Config is the root configuration structure
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Transforms TransformsConfig `yaml:"transforms"`
	Keys       KeysConfig       `yaml:"keys"`
}

// LoggingConfig holds engine logger settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TransformsConfig holds the algorithm allowlists applied to new contexts.
// An empty list leaves every registered algorithm enabled.
type TransformsConfig struct {
	Signature  []string `yaml:"signature" validate:"dive,transform"`
	Reference  []string `yaml:"reference" validate:"dive,transform"`
	Encryption []string `yaml:"encryption" validate:"dive,transform"`
}

// KeysConfig holds key management settings
type KeysConfig struct {
	// Mode determines where keys are loaded from
	// - "pkcs11": Keys stored in PKCS#11 token (HSM/smart card)
	// - "file": Keys loaded from files in a directory
	Mode string `yaml:"mode" validate:"oneof=file pkcs11"`

	File   FileKeyConfig `yaml:"file"`
	PKCS11 PKCS11Config  `yaml:"pkcs11"`

	// Certificate files loaded as trust anchors
	Trusted []string `yaml:"trusted" validate:"dive,required"`
	// Certificate files loaded as untrusted intermediates
	Untrusted []string `yaml:"untrusted" validate:"dive,required"`

	// KeyData lists the KeyInfo kinds contexts may resolve keys from, by
	// name (key-name, x509, key-value, ...). Empty means the context default.
	KeyData []string `yaml:"keyData" validate:"dive,keydata"`
	Search  string   `yaml:"search" validate:"oneof=strict lax"`

	Revocation RevocationConfig `yaml:"revocation"`
}

// RevocationConfig holds certificate revocation settings
type RevocationConfig struct {
	// CRL files consulted for every verified chain
	CRLs []string `yaml:"crls" validate:"dive,required"`
	// OCSP enables online checks against the responder named in each
	// certificate
	OCSP bool `yaml:"ocsp"`
	// CRLFallback fetches distribution point CRLs when OCSP gives no answer
	CRLFallback bool `yaml:"crlFallback"`
	// Strict rejects certificates whose status cannot be determined
	Strict bool `yaml:"strict"`
	// Timeout per online request, e.g. "10s"
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// FileKeyConfig holds file-based key settings
type FileKeyConfig struct {
	// Directory containing key files, each named after the key. A certificate
	// {name}.crt next to {name}.key is attached to the key.
	KeyDir string `yaml:"keyDir"`
	// Password for PKCS#12 files (can be env var reference like ${P12_PASSWORD})
	Password string `yaml:"password"`
}

// PKCS11Config holds PKCS#11 HSM settings
type PKCS11Config struct {
	// Path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string `yaml:"modulePath"`
	// Slot ID or label to use
	SlotID    uint   `yaml:"slotId"`
	SlotLabel string `yaml:"slotLabel"`
	// PIN for authentication (can be env var reference like ${HSM_PIN})
	PIN string `yaml:"pin"`
	// Labels of the key pairs to load; each key is named after its label
	Labels []string `yaml:"labels" validate:"dive,required"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Keys.Mode == "" {
		c.Keys.Mode = ModeFile
	}
	if c.Keys.Search == "" {
		c.Keys.Search = SearchStrict
	}
	if c.Keys.Revocation.OCSP && c.Keys.Revocation.Timeout == 0 {
		c.Keys.Revocation.Timeout = 10 * time.Second
	}
}

// Validate checks that all fields of the configuration are valid
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("transform", transformValidation); err != nil {
		return err
	}
	if err := validate.RegisterValidation("keydata", keyDataValidation); err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed for Config: %w", err)
	}

	switch c.Keys.Mode {
	case ModePKCS11:
		if c.Keys.PKCS11.ModulePath == "" {
			return fmt.Errorf("keys.pkcs11.modulePath is required when mode is 'pkcs11'")
		}
		if len(c.Keys.PKCS11.Labels) == 0 {
			return fmt.Errorf("keys.pkcs11.labels must name at least one key")
		}
	case ModeFile:
		if c.Keys.File.KeyDir == "" && len(c.Keys.Trusted) == 0 && len(c.Keys.Untrusted) == 0 {
			return fmt.Errorf("keys.file.keyDir or a certificate list is required when mode is 'file'")
		}
	}

	return nil
}

// transformValidation accepts registered transform names.
func transformValidation(fl validator.FieldLevel) bool {
	_, ok := transform.ByName(fl.Field().String())
	return ok
}

// keyDataValidation accepts registered key data kind names.
func keyDataValidation(fl validator.FieldLevel) bool {
	_, ok := keys.ParseDataKind(fl.Field().String())
	return ok
}

// TransformIDs resolves transform names. Names are validated by Load.
func TransformIDs(names []string) []transform.ID {
	ids := make([]transform.ID, 0, len(names))
	for _, name := range names {
		if t, ok := transform.ByName(name); ok {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// KeyDataKinds resolves key data kind names. Names are validated by Load.
func KeyDataKinds(names []string) []keys.DataKind {
	kinds := make([]keys.DataKind, 0, len(names))
	for _, name := range names {
		if k, ok := keys.ParseDataKind(name); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// SearchFlags returns the manager search flags for the configured mode.
func (k *KeysConfig) SearchFlags() keys.KeySearchFlags {
	if k.Search == SearchLax {
		return keys.KeySearchLax
	}
	return 0
}
