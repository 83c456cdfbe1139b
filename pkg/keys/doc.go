// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package keys provides key handles, key and certificate loaders, and the
// keys manager consulted by signature and encryption contexts.
//
// Keys are loaded from files or memory in PEM, DER, PKCS#8 or PKCS#12 form,
// read as raw symmetric material, or generated:
//
//	key, err := keys.Load("signer.pem", keys.FormatPEM, "", keys.DataTypeAny)
//	if err != nil {
//	    return err
//	}
//	defer key.Destroy()
//	key.SetName("signer")
//
// Symmetric material is kept sealed in memory and only opened for the
// duration of a cryptographic operation.
package keys
