// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package xmlsec holds the engine state shared by the signature and encryption
contexts: the error taxonomy, the error reporting bridge, and the metrics port.

# Engine

An Engine is created once, normally at process start:

	engine, err := xmlsec.Init(
	    xmlsec.WithLogger(logger),
	    xmlsec.WithErrorCallback(func(file string, line int, fn, obj, subj string, reason int, msg string) {
	        logger.Warn("xmlsec", "func", fn, "reason", xmlsec.ReasonText(reason), "msg", msg)
	    }),
	)

Contexts use xmlsec.Default() unless given an explicit engine. The error
callback receives every diagnostic raised by the crypto engine; a panic inside
the callback is recovered and logged so it never disturbs a running operation.

# Errors

Every failure returned by the library matches exactly one kind with errors.Is:

	ErrInitialization       engine bootstrap failed
	ErrKeyLoad              no key produced from the given source
	ErrCertificateLoad      no certificate produced from the given source
	ErrContextCreation      context allocation failed
	ErrUnsupportedAlgorithm algorithm lacks the required usage
	ErrUnsupportedFeature   the engine does not support the requested option
	ErrReuse                single-use context invoked twice
	ErrKeyNotSet            operation needs a bound key
	ErrKeyMismatch          bound key does not satisfy the algorithm
	ErrValidation           argument or template precondition failed
	ErrTransformExecution   the transform pipeline failed
	ErrVerification         the pipeline completed but the signature is not valid
	ErrMalformedResult      decryption left no locatable result
	ErrMemoryAllocation     internal allocation failed

Verification failures are always distinguishable from execution failures:

	if errors.Is(err, xmlsec.ErrVerification) {
	    // the document was tampered with or signed by someone else
	}
*/
package xmlsec
