// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-xmlsec/pkg/dsig"
	"github.com/sirosfoundation/go-xmlsec/pkg/keys"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
)

// This is a standalone program to generate an enveloped-signature document for
// comparison with other XML signature implementations (xmlsec1, Santuario).
func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: go run main.go <input-xml> <key.pem> <cert.pem> [output-xml]")
		os.Exit(1)
	}
	inputPath, keyPath, certPath := os.Args[1], os.Args[2], os.Args[3]
	outputFile := "/tmp/go-signed-document.xml"
	if len(os.Args) > 4 {
		outputFile = os.Args[4]
	}

	key, err := keys.Load(keyPath, keys.FormatPEM, os.Getenv("KEY_PASSWORD"), keys.DataTypePrivate)
	if err != nil {
		log.Fatalf("Failed to load key: %v", err)
	}
	defer key.Destroy()
	if err := key.LoadCertificate(certPath, keys.FormatCertPEM); err != nil {
		log.Fatalf("Failed to load certificate: %v", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(inputPath); err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}
	if doc.Root() == nil {
		log.Fatal("Input has no root element")
	}

	method := transform.RSASHA256
	if key.Kind() == keys.DataKindEC {
		method = transform.ECDSASHA256
	}
	tmpl, err := dsig.NewTemplate(transform.ExclC14N, method, transform.SHA256, "", dsig.WithX509Data())
	if err != nil {
		log.Fatalf("Failed to build template: %v", err)
	}
	doc.Root().AddChild(tmpl)

	signer, err := dsig.NewContext(nil, dsig.WithKey(key))
	if err != nil {
		log.Fatalf("Failed to create signer: %v", err)
	}
	defer signer.Destroy()
	if err := signer.Sign(tmpl); err != nil {
		log.Fatalf("Failed to sign document: %v", err)
	}

	signedXML, err := doc.WriteToBytes()
	if err != nil {
		log.Fatalf("Failed to serialize: %v", err)
	}

	// Verify our own signature
	verifier, err := dsig.NewContext(nil, dsig.WithKey(key))
	if err != nil {
		log.Fatalf("Failed to create verifier: %v", err)
	}
	defer verifier.Destroy()
	if err := verifier.Verify(tmpl); err != nil {
		log.Printf("WARNING: Self-verification failed: %v", err)
	} else {
		log.Println("✓ Self-verification passed")
	}

	if err := os.WriteFile(outputFile, signedXML, 0644); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}

	fmt.Printf("Signed document written to: %s\n", outputFile)
	fmt.Printf("Document size: %d bytes\n", len(signedXML))
}
