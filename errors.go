// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes a Session can surface. Use errors.Is
// against these, or errors.As against DecodeError/AgentError for the
// structured variants.
var (
	// ErrTimeout is returned when no response arrived within
	// deadline * (retries+1).
	ErrTimeout = errors.New("wsnmp: timeout")

	// ErrMismatch is returned when a response correlates to the
	// pending request-id but carries an unexpected community.
	// Responses with a foreign request-id are dropped silently
	// instead, since anyone can spray datagrams at an open UDP port.
	ErrMismatch = errors.New("wsnmp: response did not match pending request")

	// ErrAuth is returned when v3 HMAC verification fails, or the
	// notInTimeWindows resync-and-retry also fails.
	ErrAuth = errors.New("wsnmp: authentication failed")

	// ErrPriv is returned when v3 decryption fails or the privacy
	// parameters are inconsistent with what was negotiated.
	ErrPriv = errors.New("wsnmp: privacy transform failed")

	// ErrOutOfOrderOid is returned by the walker when an agent
	// returns an OID that is not strictly greater than the previous
	// one yielded.
	ErrOutOfOrderOid = errors.New("wsnmp: agent returned out-of-order OID")

	// ErrCancelled is returned when a pending receive is interrupted
	// by the transport being closed.
	ErrCancelled = errors.New("wsnmp: cancelled")

	// ErrNoPrivWithoutAuth is returned by v3 parameter validation: the
	// noPriv+priv combination (priv without auth) is invalid.
	ErrNoPrivWithoutAuth = errors.New("wsnmp: privacy requires authentication")

	// ErrSessionClosed is returned by calls made on a Session after
	// Close has been invoked.
	ErrSessionClosed = errors.New("wsnmp: session is closed")
)

// DecodeError reports malformed BER or PDU structure, or an
// application tag this core does not understand in a VarBind value
// slot.
type DecodeError struct {
	Reason string
	Tag    byte // non-zero when Reason describes an unsupported tag
}

func (e *DecodeError) Error() string {
	if e.Tag != 0 {
		return fmt.Sprintf("wsnmp: decode: %s (tag %#x)", e.Reason, e.Tag)
	}
	return fmt.Sprintf("wsnmp: decode: %s", e.Reason)
}

// NewUnsupportedValueTypeError builds the DecodeError a VarBind value
// decode returns for an application tag this core does not recognize.
func NewUnsupportedValueTypeError(tag byte) *DecodeError {
	return &DecodeError{Reason: "unsupported value type", Tag: tag}
}

// AgentError reports a PDU whose error-status is non-zero. Index is
// 1-based and, when non-zero, names the offending varbind in the
// request's varbind list.
type AgentError struct {
	Status ErrorStatus
	Index  uint32
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("wsnmp: agent reported error-status %d at index %d", e.Status, e.Index)
}

// TransportError wraps a failure from the Transport consumed by a
// Session: socket unreachable, closed, or any other send/receive
// failure that is not a deadline expiry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wsnmp: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
