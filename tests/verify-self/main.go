// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/pkg/dsig"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run main.go <signed-xml-file> <trusted-ca.pem>...")
		os.Exit(1)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(os.Args[1]); err != nil {
		log.Fatalf("Failed to read signed XML: %v", err)
	}

	// No private key needed: the signer's certificate travels in X509Data and
	// is checked against the trust anchors.
	mngr := keys.NewManager()
	defer mngr.Destroy()
	for _, path := range os.Args[2:] {
		if err := mngr.LoadCertificate(path, keys.FormatCertPEM, keys.DataTypeTrusted); err != nil {
			log.Fatalf("Failed to load trust anchor: %v", err)
		}
	}

	sig := doc.FindElement("//Signature")
	if sig == nil {
		log.Fatal("No Signature element found")
	}

	verifier, err := dsig.NewContext(mngr)
	if err != nil {
		log.Fatalf("Failed to create verifier: %v", err)
	}
	defer verifier.Destroy()

	err = verifier.Verify(sig)
	for _, ref := range verifier.References() {
		log.Printf("Reference %q (%s): %s", ref.URI, ref.DigestMethod, ref.Status)
	}
	switch {
	case err == nil:
		log.Println("✓ Signature verification PASSED")
	case errors.Is(err, xmlsec.ErrVerification):
		log.Fatalf("✗ Signature is invalid: %v", err)
	default:
		log.Fatalf("✗ Verification could not complete: %v", err)
	}
}
