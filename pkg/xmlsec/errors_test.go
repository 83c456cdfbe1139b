// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := NewError(ErrKeyLoad, "keys.Load", ReasonIOFailed, fs.ErrNotExist).WithSubject("/tmp/key.pem")

	assert.ErrorIs(t, err, ErrKeyLoad)
	assert.ErrorIs(t, err, fs.ErrNotExist, "the cause stays reachable")
	assert.NotErrorIs(t, err, ErrCertificateLoad)

	wrapped := fmt.Errorf("loading profile: %w", err)
	assert.ErrorIs(t, wrapped, ErrKeyLoad)
	assert.Equal(t, ReasonIOFailed, ReasonCode(wrapped))

	var xe *Error
	assert.True(t, errors.As(wrapped, &xe))
	assert.Equal(t, "/tmp/key.pem", xe.Subject)
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"full",
			NewError(ErrKeyLoad, "keys.Load", ReasonIOFailed, errors.New("boom")).WithSubject("k.pem"),
			"xmlsec: key load failed in keys.Load (k.pem) [reason 7]: boom",
		},
		{
			"kind only",
			&Error{Kind: ErrReuse},
			"xmlsec: context already used",
		},
		{
			"no kind",
			&Error{Op: "op"},
			"xmlsec: error in op",
		},
		{
			"verification status",
			&Error{Kind: ErrVerification, Status: StatusInvalid},
			"xmlsec: verification failed status=invalid",
		},
		{
			"formatted",
			Errorf(ErrValidation, "dsig.Sign", "node %q is not a Signature", "Foo"),
			`xmlsec: validation failed in dsig.Sign: node "Foo" is not a Signature`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

type codedError struct{ code int }

func (c codedError) Error() string   { return "coded" }
func (c codedError) ReasonCode() int { return c.code }

func TestReasonCode(t *testing.T) {
	assert.Zero(t, ReasonCode(nil))
	assert.Zero(t, ReasonCode(errors.New("plain")))
	assert.Equal(t, ReasonInvalidDigest, ReasonCode(fmt.Errorf("wrapped: %w", codedError{ReasonInvalidDigest})))

	// an *Error without a code defers to its cause
	err := NewError(ErrTransformExecution, "op", 0, codedError{ReasonCryptoFailed})
	assert.Equal(t, ReasonCryptoFailed, ReasonCode(err))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusUnknown, StatusOf(errors.New("plain")))
	err := &Error{Kind: ErrVerification, Status: StatusInvalid}
	assert.Equal(t, StatusInvalid, StatusOf(fmt.Errorf("verify: %w", err)))
}

func TestReasonText(t *testing.T) {
	assert.Equal(t, "transform is disabled", ReasonText(ReasonTransformDisabled))
	assert.Equal(t, "unknown reason", ReasonText(-1))
}

func TestState(t *testing.T) {
	tests := []struct {
		state State
		name  string
		used  bool
	}{
		{StateIdle, "idle", false},
		{StateKeyBound, "key-bound", false},
		{StateTransformAppended, "transform-appended", true},
		{StateExecuting, "executing", true},
		{StateCompleted, "completed", true},
		{StateFailed, "failed", true},
		{State(99), "unknown", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.state.String())
		assert.Equal(t, tt.used, tt.state.Used(), tt.name)
	}
}
