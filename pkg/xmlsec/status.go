// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

// SignatureStatus is the outcome of a completed signature verification.
type SignatureStatus int

const (
	StatusUnknown SignatureStatus = iota
	StatusSucceeded
	StatusInvalid
)

func (s SignatureStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Reason codes passed to the error callback and carried in Error.Code.
const (
	ReasonEngineFailed       = 1
	ReasonMallocFailed       = 2
	ReasonCryptoFailed       = 4
	ReasonXMLFailed          = 5
	ReasonIOFailed           = 7
	ReasonInvalidSize        = 11
	ReasonInvalidData        = 12
	ReasonInvalidType        = 14
	ReasonInvalidOperation   = 15
	ReasonInvalidStatus      = 16
	ReasonInvalidFormat      = 17
	ReasonDataNotMatch       = 18
	ReasonInvalidNode        = 21
	ReasonInvalidNodeContent = 22
	ReasonInvalidAttribute   = 23
	ReasonMissingNode        = 24
	ReasonNodeAlreadyPresent = 25
	ReasonInvalidTransform   = 30
	ReasonTransformDisabled  = 31
	ReasonInvalidKeyData     = 42
	ReasonKeyNotFound        = 45
	ReasonKeyDataDisabled    = 46
	ReasonCertVerifyFailed   = 50
	ReasonCertNotFound       = 51
	ReasonInvalidDigest      = 60
	ReasonInvalidURI         = 70
	ReasonNotImplemented     = 100
)

var reasonText = map[int]string{
	ReasonEngineFailed:       "engine function failed",
	ReasonMallocFailed:       "failed to allocate memory",
	ReasonCryptoFailed:       "crypto function failed",
	ReasonXMLFailed:          "xml processing failed",
	ReasonIOFailed:           "io operation failed",
	ReasonInvalidSize:        "invalid size",
	ReasonInvalidData:        "invalid data",
	ReasonInvalidType:        "invalid type",
	ReasonInvalidOperation:   "invalid operation",
	ReasonInvalidStatus:      "invalid status",
	ReasonInvalidFormat:      "invalid format",
	ReasonDataNotMatch:       "data do not match",
	ReasonInvalidNode:        "invalid node",
	ReasonInvalidNodeContent: "invalid node content",
	ReasonInvalidAttribute:   "invalid node attribute",
	ReasonMissingNode:        "missing node",
	ReasonNodeAlreadyPresent: "node already present",
	ReasonInvalidTransform:   "invalid transform",
	ReasonTransformDisabled:  "transform is disabled",
	ReasonInvalidKeyData:     "invalid key data",
	ReasonKeyNotFound:        "key not found",
	ReasonKeyDataDisabled:    "key data is disabled",
	ReasonCertVerifyFailed:   "certificate verification failed",
	ReasonCertNotFound:       "certificate not found",
	ReasonInvalidDigest:      "invalid digest",
	ReasonInvalidURI:         "invalid uri",
	ReasonNotImplemented:     "feature is not implemented",
}

// ReasonText returns a short description of a reason code.
func ReasonText(code int) string {
	if s, ok := reasonText[code]; ok {
		return s
	}
	return "unknown reason"
}

// State is the lifecycle state of a signature or encryption context.
type State int

const (
	StateIdle State = iota
	StateKeyBound
	StateTransformAppended
	StateExecuting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeyBound:
		return "key-bound"
	case StateTransformAppended:
		return "transform-appended"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Used reports whether an operation has been started in this state.
func (s State) Used() bool {
	return s >= StateTransformAppended
}
