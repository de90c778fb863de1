// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import "fmt"

// marshalVarBind encodes a single (OID, Value) pair as a SEQUENCE.
func marshalVarBind(vb VarBind) ([]byte, error) {
	oidBytes, err := marshalOID(vb.Name)
	if err != nil {
		return nil, err
	}
	oidLen, err := marshalLength(len(oidBytes))
	if err != nil {
		return nil, err
	}

	valueBytes, err := marshalValue(vb.Value)
	if err != nil {
		return nil, err
	}

	content := make([]byte, 0, 1+len(oidLen)+len(oidBytes)+len(valueBytes))
	content = append(content, byte(TagOID))
	content = append(content, oidLen...)
	content = append(content, oidBytes...)
	content = append(content, valueBytes...)

	seqLen, err := marshalLength(len(content))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(seqLen)+len(content))
	out = append(out, byte(Sequence))
	out = append(out, seqLen...)
	out = append(out, content...)
	return out, nil
}

// marshalVarBindList encodes an ordered list of VarBinds as a SEQUENCE
// OF VarBind.
func marshalVarBindList(vbs []VarBind) ([]byte, error) {
	var content []byte
	for _, vb := range vbs {
		b, err := marshalVarBind(vb)
		if err != nil {
			return nil, err
		}
		content = append(content, b...)
	}

	length, err := marshalLength(len(content))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, byte(Sequence))
	out = append(out, length...)
	out = append(out, content...)
	return out, nil
}

// unmarshalVarBindList decodes a SEQUENCE OF VarBind starting at the
// beginning of buf, returning the list and bytes consumed.
func unmarshalVarBindList(buf []byte) ([]VarBind, int, error) {
	if len(buf) < 2 || PDUType(buf[0]) != Sequence {
		return nil, 0, &DecodeError{Reason: "expected SEQUENCE for varbind list"}
	}
	total, header, err := parseLength(buf)
	if err != nil {
		return nil, 0, &DecodeError{Reason: err.Error()}
	}
	if total > len(buf) {
		return nil, 0, &DecodeError{Reason: "varbind list TLV longer than remaining buffer"}
	}

	var vbs []VarBind
	cursor := header
	for cursor < total {
		vb, n, err := unmarshalVarBind(buf[cursor:total])
		if err != nil {
			return nil, 0, err
		}
		vbs = append(vbs, vb)
		cursor += n
	}
	return vbs, total, nil
}

func unmarshalVarBind(buf []byte) (VarBind, int, error) {
	if len(buf) < 2 || PDUType(buf[0]) != Sequence {
		return VarBind{}, 0, &DecodeError{Reason: "expected SEQUENCE for varbind"}
	}
	total, header, err := parseLength(buf)
	if err != nil {
		return VarBind{}, 0, &DecodeError{Reason: err.Error()}
	}
	if total > len(buf) {
		return VarBind{}, 0, &DecodeError{Reason: "varbind TLV longer than remaining buffer"}
	}
	cursor := header

	if cursor >= total || ValueType(buf[cursor]) != TagOID {
		return VarBind{}, 0, &DecodeError{Reason: "expected OID in varbind"}
	}
	oidTotal, oidHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return VarBind{}, 0, &DecodeError{Reason: err.Error()}
	}
	oid, err := parseOID(buf[cursor+oidHeader : cursor+oidTotal])
	if err != nil {
		return VarBind{}, 0, &DecodeError{Reason: err.Error()}
	}
	cursor += oidTotal

	value, n, err := decodeValue(buf[cursor:total])
	if err != nil {
		return VarBind{}, 0, err
	}
	cursor += n

	return VarBind{Name: oid, Value: value}, total, nil
}

// marshalPDU encodes a PDU's request-id/error fields and varbind list,
// wrapped in the PDU's application tag. GetBulkRequest repurposes the
// error-status/error-index slots as non-repeaters/max-repetitions.
func marshalPDU(p PDU) ([]byte, error) {
	var content []byte
	reqID := marshalInt64(int64(p.RequestID))
	content = append(content, 0x02, byte(len(reqID)))
	content = append(content, reqID...)

	if p.Type == GetBulkRequest {
		nr := marshalUint32(p.NonRepeaters())
		content = append(content, 0x02, byte(len(nr)))
		content = append(content, nr...)
		mr := marshalUint32(p.MaxRepetitions())
		content = append(content, 0x02, byte(len(mr)))
		content = append(content, mr...)
	} else {
		es := marshalUint32(uint32(p.ErrorStatus))
		content = append(content, 0x02, byte(len(es)))
		content = append(content, es...)
		ei := marshalUint32(p.ErrorIndex)
		content = append(content, 0x02, byte(len(ei)))
		content = append(content, ei...)
	}

	vbl, err := marshalVarBindList(p.VarBinds)
	if err != nil {
		return nil, err
	}
	content = append(content, vbl...)

	length, err := marshalLength(len(content))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, byte(p.Type))
	out = append(out, length...)
	out = append(out, content...)
	return out, nil
}

// unmarshalPDU decodes a PDU (any of the five shapes) starting at the
// beginning of buf.
func unmarshalPDU(buf []byte) (PDU, int, error) {
	if len(buf) < 2 {
		return PDU{}, 0, &DecodeError{Reason: "truncated PDU header"}
	}
	pduType := PDUType(buf[0])
	total, header, err := parseLength(buf)
	if err != nil {
		return PDU{}, 0, &DecodeError{Reason: err.Error()}
	}
	if total > len(buf) {
		return PDU{}, 0, &DecodeError{Reason: "PDU TLV longer than remaining buffer"}
	}
	cursor := header

	reqID, n, err := parseTLVInt(buf[cursor:total])
	if err != nil {
		return PDU{}, 0, err
	}
	cursor += n

	p := PDU{Type: pduType, RequestID: int32(reqID)}

	if pduType == GetBulkRequest {
		nonRep, n, err := parseTLVInt(buf[cursor:total])
		if err != nil {
			return PDU{}, 0, err
		}
		cursor += n
		p.ErrorStatus = ErrorStatus(nonRep)

		maxRep, n, err := parseTLVInt(buf[cursor:total])
		if err != nil {
			return PDU{}, 0, err
		}
		cursor += n
		p.ErrorIndex = uint32(maxRep)
	} else {
		es, n, err := parseTLVInt(buf[cursor:total])
		if err != nil {
			return PDU{}, 0, err
		}
		cursor += n
		p.ErrorStatus = ErrorStatus(es)

		ei, n, err := parseTLVInt(buf[cursor:total])
		if err != nil {
			return PDU{}, 0, err
		}
		cursor += n
		p.ErrorIndex = uint32(ei)
	}

	vbs, n, err := unmarshalVarBindList(buf[cursor:total])
	if err != nil {
		return PDU{}, 0, err
	}
	cursor += n
	p.VarBinds = vbs

	return p, total, nil
}

// parseTLVInt decodes a plain INTEGER TLV (tag 0x02) and returns its
// value plus bytes consumed. Used for request-id, error-status,
// error-index, non-repeaters, and max-repetitions fields.
func parseTLVInt(buf []byte) (int64, int, error) {
	if len(buf) < 2 || ValueType(buf[0]) != TagInteger {
		return 0, 0, &DecodeError{Reason: "expected INTEGER"}
	}
	total, header, err := parseLength(buf)
	if err != nil {
		return 0, 0, &DecodeError{Reason: err.Error()}
	}
	if total > len(buf) {
		return 0, 0, &DecodeError{Reason: "INTEGER TLV longer than remaining buffer"}
	}
	n, err := parseInt64(buf[header:total])
	if err != nil {
		return 0, 0, &DecodeError{Reason: err.Error()}
	}
	return n, total, nil
}

func beUint32(n uint32) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

// marshalMessageV1V2c encodes the v1/v2c envelope: version, community,
// PDU.
func marshalMessageV1V2c(m MessageV1V2c) ([]byte, error) {
	var content []byte
	content = append(content, 0x02, 1, byte(m.Version))
	commLen, err := marshalLength(len(m.Community))
	if err != nil {
		return nil, err
	}
	content = append(content, byte(TagOctetString))
	content = append(content, commLen...)
	content = append(content, m.Community...)

	pdu, err := marshalPDU(m.PDU)
	if err != nil {
		return nil, err
	}
	content = append(content, pdu...)

	length, err := marshalLength(len(content))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, byte(Sequence))
	out = append(out, length...)
	out = append(out, content...)
	return out, nil
}

// unmarshalMessageV1V2c decodes the v1/v2c envelope.
func unmarshalMessageV1V2c(buf []byte) (MessageV1V2c, error) {
	if len(buf) < 2 || PDUType(buf[0]) != Sequence {
		return MessageV1V2c{}, &DecodeError{Reason: "expected SEQUENCE for message"}
	}
	total, header, err := parseLength(buf)
	if err != nil {
		return MessageV1V2c{}, &DecodeError{Reason: err.Error()}
	}
	if total != len(buf) {
		return MessageV1V2c{}, &DecodeError{Reason: fmt.Sprintf("message length %d != packet length %d", total, len(buf))}
	}
	cursor := header

	version, n, err := parseTLVInt(buf[cursor:total])
	if err != nil {
		return MessageV1V2c{}, err
	}
	cursor += n

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return MessageV1V2c{}, &DecodeError{Reason: "expected OCTET STRING for community"}
	}
	commTotal, commHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return MessageV1V2c{}, &DecodeError{Reason: err.Error()}
	}
	community := append([]byte(nil), buf[cursor+commHeader:cursor+commTotal]...)
	cursor += commTotal

	pdu, _, err := unmarshalPDU(buf[cursor:total])
	if err != nil {
		return MessageV1V2c{}, err
	}

	return MessageV1V2c{
		Version:   Version(version),
		Community: community,
		PDU:       pdu,
	}, nil
}
