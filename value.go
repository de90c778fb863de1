// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import "fmt"

// marshalValue encodes a Value as a complete BER TLV (tag, length,
// content).
func marshalValue(v Value) ([]byte, error) {
	var content []byte
	var err error

	switch v.Type {
	case TagInteger:
		content = marshalInt64(v.Integer)
	case TagOctetString:
		content = v.OctetString
	case TagNull:
		content = nil
	case TagOID:
		content, err = marshalOID(v.OID)
		if err != nil {
			return nil, err
		}
	case TagIPAddress:
		content = v.IPAddress[:]
	case TagCounter32:
		content = marshalUint32(v.Counter32)
	case TagGauge32:
		content = marshalUint32(v.Gauge32)
	case TagTimeTicks:
		content = marshalUint32(v.TimeTicks)
	case TagOpaque:
		content = v.Opaque
	case TagCounter64:
		content = marshalUint64(v.Counter64)
	case TagNoSuchObject, TagNoSuchInstance, TagEndOfMibView:
		content = nil
	default:
		return nil, fmt.Errorf("wsnmp: cannot marshal value type %s", v.Type)
	}

	length, err := marshalLength(len(content))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, byte(v.Type))
	out = append(out, length...)
	out = append(out, content...)
	return out, nil
}

// decodeValue parses a single Value TLV from the start of buf and
// returns the value plus the number of bytes consumed. Unknown
// application tags are surfaced as DecodeError (UnsupportedValueType)
// rather than silently skipped, because the walker must see every
// value to decide whether a subtree boundary or EndOfMibView was
// reached.
func decodeValue(buf []byte) (Value, int, error) {
	if len(buf) < 2 {
		return Value{}, 0, &DecodeError{Reason: "truncated value TLV"}
	}

	total, header, err := parseLength(buf)
	if err != nil {
		return Value{}, 0, &DecodeError{Reason: err.Error()}
	}
	if total > len(buf) {
		return Value{}, 0, &DecodeError{Reason: "value TLV longer than remaining buffer"}
	}
	content := buf[header:total]
	tag := ValueType(buf[0])

	v := Value{Type: tag}
	switch tag {
	case TagInteger:
		n, err := parseInt64(content)
		if err != nil {
			return Value{}, 0, &DecodeError{Reason: err.Error()}
		}
		v.Integer = n
	case TagOctetString:
		v.OctetString = append([]byte(nil), content...)
	case TagNull:
		// no payload
	case TagOID:
		oid, err := parseOID(content)
		if err != nil {
			return Value{}, 0, &DecodeError{Reason: err.Error()}
		}
		v.OID = oid
	case TagIPAddress:
		if len(content) != 4 {
			return Value{}, 0, &DecodeError{Reason: fmt.Sprintf("IpAddress length %d != 4", len(content))}
		}
		copy(v.IPAddress[:], content)
	case TagCounter32:
		n, err := parseUint32(content)
		if err != nil {
			return Value{}, 0, &DecodeError{Reason: err.Error()}
		}
		v.Counter32 = n
	case TagGauge32:
		n, err := parseUint32(content)
		if err != nil {
			return Value{}, 0, &DecodeError{Reason: err.Error()}
		}
		v.Gauge32 = n
	case TagTimeTicks:
		n, err := parseUint32(content)
		if err != nil {
			return Value{}, 0, &DecodeError{Reason: err.Error()}
		}
		v.TimeTicks = n
	case TagOpaque:
		v.Opaque = append([]byte(nil), content...)
	case TagCounter64:
		n, err := parseUint64(content)
		if err != nil {
			return Value{}, 0, &DecodeError{Reason: err.Error()}
		}
		v.Counter64 = n
	case TagNoSuchObject, TagNoSuchInstance, TagEndOfMibView:
		// no payload
	default:
		return Value{}, 0, NewUnsupportedValueTypeError(byte(tag))
	}

	return v, total, nil
}
