// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package engine

// Status is the state of a transform pipeline.
type Status int

const (
	StatusNone Status = iota
	StatusWorking
	StatusFinished
	StatusOK
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusWorking:
		return "working"
	case StatusFinished:
		return "finished"
	case StatusOK:
		return "ok"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}
