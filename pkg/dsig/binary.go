// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package dsig

import (
	"fmt"

	"github.com/sirosfoundation/go-xmlsec/internal/engine"
	"github.com/sirosfoundation/go-xmlsec/pkg/transform"
	"github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"
)

// SignBinary signs data with the signature method id and the bound key and
// returns the raw signature value.
func (c *Context) SignBinary(data []byte, id transform.ID) ([]byte, error) {
	p, err := c.appendTransform(opSignBinary, id, engine.OperationSign)
	if err != nil {
		return nil, err
	}

	if _, err := p.Write(data); err != nil {
		return nil, c.fail(opSignBinary, xmlsec.ErrTransformExecution, err)
	}
	sig, err := p.Sign()
	if err != nil {
		return nil, c.fail(opSignBinary, xmlsec.ErrTransformExecution, err)
	}
	if p.Status() != engine.StatusFinished {
		return nil, c.fail(opSignBinary, xmlsec.ErrTransformExecution,
			fmt.Errorf("pipeline status is %s", p.Status()))
	}

	c.succeed(opSignBinary)
	return sig, nil
}

// VerifyBinary checks signature over data with the signature method id and
// the bound key. A signature that does not match is an xmlsec.ErrVerification.
func (c *Context) VerifyBinary(data []byte, id transform.ID, signature []byte) error {
	p, err := c.appendTransform(opVerifyBinary, id, engine.OperationVerify)
	if err != nil {
		return err
	}

	if _, err := p.Write(data); err != nil {
		return c.fail(opVerifyBinary, xmlsec.ErrTransformExecution, err)
	}
	if err := p.Verify(signature); err != nil {
		return c.fail(opVerifyBinary, xmlsec.ErrTransformExecution, err)
	}
	if p.Status() != engine.StatusOK {
		return c.invalid(opVerifyBinary, xmlsec.ReasonDataNotMatch,
			fmt.Errorf("pipeline status is %s", p.Status()))
	}

	c.succeed(opVerifyBinary)
	return nil
}

// appendTransform checks the binary preconditions in order and fills the
// single transform slot. From the slot check on, the context is consumed.
func (c *Context) appendTransform(op string, id transform.ID, mode engine.Operation) (*engine.Pipeline, error) {
	t, ok := transform.Lookup(id)
	if !ok || !t.Has(transform.UsageSignatureMethod) {
		return nil, xmlsec.Errorf(xmlsec.ErrUnsupportedAlgorithm, op, "%s is not a signature method", id)
	}
	if c.slot != nil || c.state.Used() {
		return nil, xmlsec.Errorf(xmlsec.ErrReuse, op, "transform slot already holds %s", c.slotName())
	}
	c.slot = &t
	c.state = xmlsec.StateTransformAppended

	if c.key == nil {
		c.state = xmlsec.StateFailed
		return nil, xmlsec.Errorf(xmlsec.ErrKeyNotSet, op, "no key bound for %s", t.Name)
	}
	if !c.key.Matches(engine.Requirement(t, mode)) {
		c.state = xmlsec.StateFailed
		return nil, xmlsec.Errorf(xmlsec.ErrKeyMismatch, op, "%s cannot be used with %s", c.key, t.Name).WithSubject(t.Name)
	}
	if !c.signatureTransforms.allows(t.ID) {
		err := c.engine.Fail(xmlsec.ReasonTransformDisabled, t.Name, "", fmt.Errorf("%s is not enabled", t.Name))
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}

	c.logger.Debug("transform appended", "op", op, "transform", t.Name)
	p, err := c.engine.NewPipeline(t, c.key, mode)
	if err != nil {
		return nil, c.fail(op, xmlsec.ErrTransformExecution, err)
	}
	return p, nil
}

func (c *Context) slotName() string {
	if c.slot == nil {
		return "nothing"
	}
	return c.slot.Name
}
