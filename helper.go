// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import (
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/geoffgarside/ber"
)

// wrapTLV assembles a complete tag-length-value encoding from a
// universal tag byte and a content slice, so a content-only buffer
// (as value.go and pdu.go pass around) can be handed to ber.Unmarshal,
// which operates on whole TLVs.
func wrapTLV(tag byte, content []byte) ([]byte, error) {
	length, err := marshalLength(len(content))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, tag)
	out = append(out, length...)
	out = append(out, content...)
	return out, nil
}

// berContent strips the tag and length octets off of a complete TLV
// produced by ber.Marshal, leaving the raw content bytes.
func berContent(full []byte) ([]byte, error) {
	var raw asn1.RawValue
	if _, err := ber.Unmarshal(full, &raw); err != nil {
		return nil, fmt.Errorf("wsnmp: %w", err)
	}
	return raw.Bytes, nil
}

// marshalLength encodes a BER length using the short form (a single
// byte) when length < 128, else the minimal long form: a leading byte
// with the high bit set and the low 7 bits giving the number of
// following length bytes, followed by those bytes big-endian with no
// leading zero byte. The length field is lifted straight out of a
// throwaway OCTET STRING TLV that ber.Marshal produces for a buffer of
// the requested size, the same library damianoneill-net/v2/snmp uses
// for BER PDU/value framing, rather than hand-rolling the short/long
// form switch.
func marshalLength(length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("wsnmp: negative length %d", length)
	}
	full, err := ber.Marshal(make([]byte, length))
	if err != nil {
		return nil, fmt.Errorf("wsnmp: length %d too large to encode: %w", length, err)
	}
	return full[1 : len(full)-length], nil
}

// parseLength decodes a BER length at the start of buf (which begins
// with the tag byte) and returns the total TLV length (tag + length
// bytes + value) and the number of bytes the tag+length header
// occupied. It rejects indefinite length and non-minimal long-form
// encodings before delegating the rest of the TLV walk to
// ber.Unmarshal, since the library is more tolerant of those BER
// quirks than SNMP's strict encoding rules allow.
func parseLength(buf []byte) (totalLength int, headerLength int, err error) {
	if len(buf) < 2 {
		return 0, 0, fmt.Errorf("wsnmp: truncated TLV header")
	}
	if buf[1] >= 0x80 {
		numLengthBytes := int(buf[1] & 0x7f)
		if numLengthBytes == 0 {
			return 0, 0, fmt.Errorf("wsnmp: indefinite length not permitted in SNMP BER")
		}
		if len(buf) < 2+numLengthBytes {
			return 0, 0, fmt.Errorf("wsnmp: truncated long-form length")
		}
		if buf[2] == 0x00 {
			return 0, 0, fmt.Errorf("wsnmp: non-minimal long-form length")
		}
	}

	var raw asn1.RawValue
	if _, err := ber.Unmarshal(buf, &raw); err != nil {
		return 0, 0, fmt.Errorf("wsnmp: %w", err)
	}
	if buf[1] >= 0x80 && len(raw.Bytes) < 0x80 {
		return 0, 0, fmt.Errorf("wsnmp: long form used for short-form-eligible length %d", len(raw.Bytes))
	}
	return len(raw.FullBytes), len(raw.FullBytes) - len(raw.Bytes), nil
}

// marshalInt64 encodes n as a two's-complement signed integer,
// sign-extended to the minimum number of bytes whose top bit carries
// the correct sign (so 128 encodes as 00 80, not 80). The content
// bytes come from ber.Marshal's own INTEGER encoding, which already
// produces the minimal two's-complement form X.690 requires.
func marshalInt64(n int64) []byte {
	full, err := ber.Marshal(n)
	if err != nil {
		// ber.Marshal never fails on a plain int64.
		return []byte{0x00}
	}
	content, err := berContent(full)
	if err != nil {
		return []byte{0x00}
	}
	return content
}

// parseInt64 decodes a two's-complement signed integer, sign-extending
// from the top bit of the first byte. Empty encodings are rejected.
func parseInt64(buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("wsnmp: empty integer encoding")
	}
	full, err := wrapTLV(asn1.TagInteger, buf)
	if err != nil {
		return 0, err
	}
	var n int64
	if _, err := ber.Unmarshal(full, &n); err != nil {
		return 0, fmt.Errorf("wsnmp: %w", err)
	}
	return n, nil
}

// marshalUint32 encodes n as an unsigned application-type integer
// (Counter32/Gauge32/TimeTicks/AuthoritativeEngineBoots/Time): minimal
// big-endian bytes, with a leading 0x00 prepended when the high bit of
// the first significant byte is set, so the value decodes unambiguously
// as non-negative. A uint32 always fits a non-negative int64, so this
// is exactly marshalInt64's encoding of that non-negative value.
func marshalUint32(n uint32) []byte {
	return marshalInt64(int64(n))
}

// marshalUint64 is marshalUint32's 64-bit counterpart, used for
// Counter64. Counter64 values above 1<<63 overflow int64, so the
// content is built from a big.Int rather than marshalInt64.
func marshalUint64(n uint64) []byte {
	full, err := ber.Marshal(new(big.Int).SetUint64(n))
	if err != nil {
		return []byte{0x00}
	}
	content, err := berContent(full)
	if err != nil {
		return []byte{0x00}
	}
	return content
}

// parseUint64 decodes an unsigned integer encoded per marshalUint64,
// tolerant of a non-canonical leading zero and of values above 2^63
// (Counter64 may legitimately exceed the signed 64-bit range).
func parseUint64(buf []byte) (uint64, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("wsnmp: empty integer encoding")
	}
	for len(buf) > 1 && buf[0] == 0x00 && buf[1]&0x80 == 0 {
		buf = buf[1:]
	}
	full, err := wrapTLV(asn1.TagInteger, buf)
	if err != nil {
		return 0, err
	}
	var n *big.Int
	if _, err := ber.Unmarshal(full, &n); err != nil {
		return 0, fmt.Errorf("wsnmp: %w", err)
	}
	if n.Sign() < 0 {
		return 0, fmt.Errorf("wsnmp: negative integer in unsigned context")
	}
	return n.Uint64(), nil
}

func parseUint32(buf []byte) (uint32, error) {
	n, err := parseUint64(buf)
	if err != nil {
		return 0, err
	}
	if n > 0xffffffff {
		return 0, fmt.Errorf("wsnmp: integer %d overflows 32 bits", n)
	}
	return uint32(n), nil
}

// marshalOID encodes the arc sequence per X.690: the first two
// arcs are packed as (arc0*40 + arc1) into a single sub-identifier;
// remaining arcs are base-128 big-endian with the continuation bit set
// on every byte but the last of each sub-identifier. The sub-identifier
// packing itself is delegated to ber.Marshal on an asn1.ObjectIdentifier
// (SNMP's OID wire format is the same X.690 scheme standard ASN.1 OIDs
// use), retaining only the SNMP-specific arc0/arc1 range validation
// the library has no opinion on.
func marshalOID(oid ObjectIdentifier) ([]byte, error) {
	if len(oid) == 0 {
		// An empty OID encodes as the single sub-identifier 0, a
		// placeholder permitted only internally; ParseOID never
		// produces an empty OID.
		return []byte{0x00}, nil
	}
	if len(oid) == 1 {
		return []byte{byte(oid[0])}, nil
	}
	if oid[0] > 2 {
		return nil, fmt.Errorf("wsnmp: OID first arc %d out of range 0..2", oid[0])
	}
	if oid[0] < 2 && oid[1] >= 40 {
		return nil, fmt.Errorf("wsnmp: OID second arc %d out of range for first arc %d", oid[1], oid[0])
	}

	ints := make(asn1.ObjectIdentifier, len(oid))
	for i, arc := range oid {
		ints[i] = int(arc)
	}
	full, err := ber.Marshal(ints)
	if err != nil {
		return nil, fmt.Errorf("wsnmp: %w", err)
	}
	return berContent(full)
}

// encodeBase128 encodes a single OID arc using the continuation-bit
// convention parseOID's sub-identifier walk assumes. marshalOID itself
// now delegates the full sub-identifier sequence to ber.Marshal, but
// this stays as the standalone single-arc primitive exercised directly
// by helper_test.go.
func encodeBase128(arc uint32) []byte {
	if arc == 0 {
		return []byte{0x00}
	}
	var groups []byte
	for v := arc; v != 0; v >>= 7 {
		groups = append([]byte{byte(v & 0x7f)}, groups...)
	}
	for i := 0; i < len(groups)-1; i++ {
		groups[i] |= 0x80
	}
	return groups
}

// parseOID decodes a BER sub-identifier sequence back into arcs, via
// ber.Unmarshal into an asn1.ObjectIdentifier. An OID with fewer than 2
// resulting arcs cannot occur: the first sub-identifier always unpacks
// to the (arc0, arc1) pair.
func parseOID(buf []byte) (ObjectIdentifier, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("wsnmp: empty OID encoding")
	}
	full, err := wrapTLV(asn1.TagOID, buf)
	if err != nil {
		return nil, err
	}
	var oid asn1.ObjectIdentifier
	if _, err := ber.Unmarshal(full, &oid); err != nil {
		return nil, fmt.Errorf("wsnmp: %w", err)
	}

	arcs := make([]uint32, len(oid))
	for i, arc := range oid {
		arcs[i] = uint32(arc)
	}
	return ObjectIdentifier(arcs), nil
}

// decodeBase128 decodes a single OID sub-identifier, the counterpart to
// encodeBase128. Kept alongside it as the arc-level primitive
// helper_test.go exercises directly.
func decodeBase128(buf []byte) (arc uint32, consumed int, err error) {
	var n uint64
	for i, b := range buf {
		n = n<<7 | uint64(b&0x7f)
		if n > 0xffffffff {
			return 0, 0, fmt.Errorf("wsnmp: OID arc overflows 32 bits")
		}
		if b&0x80 == 0 {
			return uint32(n), i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("wsnmp: truncated OID sub-identifier")
}
