// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import (
	"bytes"
	"fmt"
)

// MsgFlags contains the msgFlags byte of a v3 message: whether a
// Report PDU is requested, and the auth/priv security level.
type MsgFlags uint8

// The three security levels and the independent "reportable" bit.
const (
	NoAuthNoPriv MsgFlags = 0x0
	AuthNoPriv   MsgFlags = 0x1
	AuthPriv     MsgFlags = 0x3
	Reportable   MsgFlags = 0x4
)

// SecurityModel identifies the v3 security model in use. USM is the
// only one this core implements.
type SecurityModel uint8

// UserSecurityModel is msgSecurityModel = 3, RFC 3414.
const UserSecurityModel SecurityModel = 3

// AuthProtocol identifies the HMAC variant used for v3 authentication.
type AuthProtocol uint8

// Supported authentication protocols.
const (
	NoAuth AuthProtocol = 1
	MD5    AuthProtocol = 2
	SHA1   AuthProtocol = 3
	SHA224 AuthProtocol = 4
	SHA256 AuthProtocol = 5
	SHA384 AuthProtocol = 6
	SHA512 AuthProtocol = 7
)

// PrivProtocol identifies the symmetric cipher used for v3 privacy.
type PrivProtocol uint8

// Supported privacy protocols. AES192/AES256 use the Blumenthal-style
// key extension (draft-blumenthal-aes-usm), matching the enrichment
// material in the gosnmp-family forks this core draws from for USM.
const (
	NoPriv PrivProtocol = 1
	DES    PrivProtocol = 2
	AES128 PrivProtocol = 3
	AES192 PrivProtocol = 4
	AES256 PrivProtocol = 5
)

// ScopedPDU pairs a PDU with the v3 context identifiers that name
// which copy of a MIB object (for proxy/context-aware agents) the PDU
// addresses.
type ScopedPDU struct {
	ContextEngineID []byte
	ContextName     []byte
	PDU             PDU
}

// MessageV3 is the decoded v3 envelope: msgGlobalData, opaque
// msgSecurityParameters, and msgData (plaintext or encrypted
// ScopedPDU).
type MessageV3 struct {
	MsgID         uint32
	MsgMaxSize    uint32
	MsgFlags      MsgFlags
	SecurityModel SecurityModel
	Security      *USMSecurityParameters
	ScopedPDU     ScopedPDU

	// raw/authParamOffset/authParamLen and scopedCiphertext are
	// populated only by unmarshalMessageV3, for MAC verification and
	// deferred decryption (which needs the session's own localized
	// keys, not anything derivable from the wire alone).
	raw              []byte
	authParamOffset  int
	authParamLen     int
	scopedCiphertext []byte
}

// defaultMsgMaxSize is the msgMaxSize this core advertises. RFC 3412
// requires accepting at least 484; a typical Ethernet MTU is the
// practical ceiling for the gear this package polls.
const defaultMsgMaxSize = 1500

// marshalMsgGlobalData encodes msgID, msgMaxSize, msgFlags and
// msgSecurityModel as a SEQUENCE.
func marshalMsgGlobalData(msgID uint32, msgMaxSize uint32, flags MsgFlags, model SecurityModel) []byte {
	var buf bytes.Buffer

	idBytes := marshalUint32(msgID)
	buf.Write([]byte{0x02, byte(len(idBytes))})
	buf.Write(idBytes)

	sizeBytes := marshalUint32(msgMaxSize)
	buf.Write([]byte{0x02, byte(len(sizeBytes))})
	buf.Write(sizeBytes)

	buf.Write([]byte{byte(TagOctetString), 1, byte(flags)})
	buf.Write([]byte{0x02, 1, byte(model)})

	length, _ := marshalLength(buf.Len())
	out := append([]byte{byte(Sequence)}, length...)
	return append(out, buf.Bytes()...)
}

func unmarshalMsgGlobalData(buf []byte) (msgID, msgMaxSize uint32, flags MsgFlags, model SecurityModel, consumed int, err error) {
	if len(buf) < 2 || PDUType(buf[0]) != Sequence {
		return 0, 0, 0, 0, 0, &DecodeError{Reason: "expected SEQUENCE for msgGlobalData"}
	}
	total, header, err := parseLength(buf)
	if err != nil {
		return 0, 0, 0, 0, 0, &DecodeError{Reason: err.Error()}
	}
	cursor := header

	id, n, err := parseTLVInt(buf[cursor:total])
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	cursor += n

	size, n, err := parseTLVInt(buf[cursor:total])
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	cursor += n

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return 0, 0, 0, 0, 0, &DecodeError{Reason: "expected OCTET STRING for msgFlags"}
	}
	flagsTotal, flagsHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return 0, 0, 0, 0, 0, &DecodeError{Reason: err.Error()}
	}
	if flagsTotal-flagsHeader != 1 {
		return 0, 0, 0, 0, 0, &DecodeError{Reason: "msgFlags must be exactly one byte"}
	}
	f := buf[cursor+flagsHeader]
	cursor += flagsTotal

	secModel, n, err := parseTLVInt(buf[cursor:total])
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	cursor += n

	return uint32(id), uint32(size), MsgFlags(f), SecurityModel(secModel), total, nil
}

// marshalScopedPDU encodes the plaintext scopedPDU (contextEngineID,
// contextName, pdu) as a SEQUENCE.
func marshalScopedPDU(s ScopedPDU) ([]byte, error) {
	var buf bytes.Buffer

	idLen, err := marshalLength(len(s.ContextEngineID))
	if err != nil {
		return nil, err
	}
	buf.WriteByte(byte(TagOctetString))
	buf.Write(idLen)
	buf.Write(s.ContextEngineID)

	nameLen, err := marshalLength(len(s.ContextName))
	if err != nil {
		return nil, err
	}
	buf.WriteByte(byte(TagOctetString))
	buf.Write(nameLen)
	buf.Write(s.ContextName)

	pdu, err := marshalPDU(s.PDU)
	if err != nil {
		return nil, err
	}
	buf.Write(pdu)

	length, err := marshalLength(buf.Len())
	if err != nil {
		return nil, err
	}
	out := append([]byte{byte(Sequence)}, length...)
	return append(out, buf.Bytes()...), nil
}

func unmarshalScopedPDU(buf []byte) (ScopedPDU, error) {
	if len(buf) < 2 || PDUType(buf[0]) != Sequence {
		return ScopedPDU{}, &DecodeError{Reason: "expected SEQUENCE for scopedPDU"}
	}
	total, header, err := parseLength(buf)
	if err != nil {
		return ScopedPDU{}, &DecodeError{Reason: err.Error()}
	}
	if total > len(buf) {
		return ScopedPDU{}, &DecodeError{Reason: "scopedPDU TLV longer than remaining buffer"}
	}
	cursor := header

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return ScopedPDU{}, &DecodeError{Reason: "expected OCTET STRING for contextEngineID"}
	}
	idTotal, idHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return ScopedPDU{}, &DecodeError{Reason: err.Error()}
	}
	contextEngineID := append([]byte(nil), buf[cursor+idHeader:cursor+idTotal]...)
	cursor += idTotal

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return ScopedPDU{}, &DecodeError{Reason: "expected OCTET STRING for contextName"}
	}
	nameTotal, nameHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return ScopedPDU{}, &DecodeError{Reason: err.Error()}
	}
	contextName := append([]byte(nil), buf[cursor+nameHeader:cursor+nameTotal]...)
	cursor += nameTotal

	pdu, _, err := unmarshalPDU(buf[cursor:total])
	if err != nil {
		return ScopedPDU{}, err
	}

	return ScopedPDU{ContextEngineID: contextEngineID, ContextName: contextName, PDU: pdu}, nil
}

// validateV3SecurityLevel rejects the priv-without-auth flag
// combination RFC 3412 disallows.
func validateV3SecurityLevel(flags MsgFlags) error {
	level := flags & AuthPriv
	if level == MsgFlags(0x2) {
		return ErrNoPrivWithoutAuth
	}
	return nil
}

func (f MsgFlags) String() string {
	level := f & AuthPriv
	base := "noAuthNoPriv"
	switch level {
	case AuthNoPriv:
		base = "authNoPriv"
	case AuthPriv:
		base = "authPriv"
	}
	if f&Reportable != 0 {
		return base + "+reportable"
	}
	return base
}

func (p AuthProtocol) String() string {
	switch p {
	case NoAuth:
		return "NoAuth"
	case MD5:
		return "MD5"
	case SHA1:
		return "SHA1"
	case SHA224:
		return "SHA224"
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	default:
		return fmt.Sprintf("AuthProtocol(%d)", uint8(p))
	}
}

// unmarshalMessageV3 decodes a full v3 datagram: version, msgGlobalData,
// msgSecurityParameters (as a USM SEQUENCE), and msgData. When msgData
// is encrypted, ScopedPDU is left zero and scopedCiphertext holds the
// ciphertext for the caller to decrypt once it has the right keys.
func unmarshalMessageV3(raw []byte) (*MessageV3, error) {
	if len(raw) < 2 || PDUType(raw[0]) != Sequence {
		return nil, &DecodeError{Reason: "expected SEQUENCE for v3 message"}
	}
	total, header, err := parseLength(raw)
	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if total != len(raw) {
		return nil, &DecodeError{Reason: fmt.Sprintf("v3 message length %d != packet length %d", total, len(raw))}
	}
	cursor := header

	version, n, err := parseTLVInt(raw[cursor:total])
	if err != nil {
		return nil, err
	}
	if Version(version) != Version3 {
		return nil, &DecodeError{Reason: fmt.Sprintf("unexpected version %d in v3 message", version)}
	}
	cursor += n

	msgID, msgMaxSize, flags, model, n, err := unmarshalMsgGlobalData(raw[cursor:total])
	if err != nil {
		return nil, err
	}
	cursor += n

	if cursor >= total || ValueType(raw[cursor]) != TagOctetString {
		return nil, &DecodeError{Reason: "expected OCTET STRING for msgSecurityParameters"}
	}
	secTotal, secHeader, err := parseLength(raw[cursor:])
	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	secSeqStart := cursor + secHeader
	security, _, authOffsetRel, err := unmarshalUSMSecurityParameters(raw[secSeqStart : cursor+secTotal])
	if err != nil {
		return nil, err
	}
	authParamOffset := 0
	authParamLen := len(security.AuthenticationParameters)
	if authParamLen > 0 {
		authParamOffset = secSeqStart + authOffsetRel
	}
	cursor += secTotal

	msg := &MessageV3{
		MsgID:           msgID,
		MsgMaxSize:      msgMaxSize,
		MsgFlags:        flags,
		SecurityModel:   model,
		Security:        security,
		raw:             raw,
		authParamOffset: authParamOffset,
		authParamLen:    authParamLen,
	}

	if cursor >= total {
		return nil, &DecodeError{Reason: "v3 message missing msgData"}
	}

	if flags&AuthPriv == AuthPriv {
		if ValueType(raw[cursor]) != TagOctetString {
			return nil, &DecodeError{Reason: "expected OCTET STRING for encrypted scopedPDU"}
		}
		dataTotal, dataHeader, err := parseLength(raw[cursor:])
		if err != nil {
			return nil, &DecodeError{Reason: err.Error()}
		}
		msg.scopedCiphertext = append([]byte(nil), raw[cursor+dataHeader:cursor+dataTotal]...)
	} else {
		scoped, err := unmarshalScopedPDU(raw[cursor:total])
		if err != nil {
			return nil, err
		}
		msg.ScopedPDU = scoped
	}

	return msg, nil
}

// verifyRaw recomputes the HMAC over msg's original wire bytes (with
// the authentication-parameters span zeroed, as the sender computed
// it) and compares against what was received.
func (msg *MessageV3) verifyRaw(usm *USMSecurityParameters) (bool, error) {
	if msg.authParamLen == 0 {
		return true, nil
	}
	cp := append([]byte(nil), msg.raw...)
	for i := 0; i < msg.authParamLen; i++ {
		cp[msg.authParamOffset+i] = 0
	}
	return usm.verify(cp, msg.Security.AuthenticationParameters)
}

func (p PrivProtocol) String() string {
	switch p {
	case NoPriv:
		return "NoPriv"
	case DES:
		return "DES"
	case AES128:
		return "AES128"
	case AES192:
		return "AES192"
	case AES256:
		return "AES256"
	default:
		return fmt.Sprintf("PrivProtocol(%d)", uint8(p))
	}
}
