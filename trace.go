// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import "fmt"

// dumpBytes1 renders buf as a hex dump, wrapping every width bytes per
// line, prefixed by desc. It mirrors the debug-dump helper the wider
// gosnmp fork family uses to print raw packets under a Logger, the
// cheapest way to diagnose a wire-format mismatch against a real
// access point without a packet capture tool.
func dumpBytes1(buf []byte, desc string, width int) string {
	if width <= 0 {
		width = 16
	}
	out := desc
	for i, b := range buf {
		if i%width == 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%02x ", b)
	}
	return out
}

// traceSend logs the raw bytes about to be transmitted, gated behind
// s.Log so a discardLogger costs nothing beyond a type check.
func (s *Session) traceSend(wire []byte) {
	if _, off := s.Log.(discardLogger); off {
		return
	}
	s.Log.Print(dumpBytes1(wire, "wsnmp: send", 16))
}

// traceRecv logs a raw datagram as received, before any USM
// verification or decryption is attempted.
func (s *Session) traceRecv(raw []byte) {
	if _, off := s.Log.(discardLogger); off {
		return
	}
	s.Log.Print(dumpBytes1(raw, "wsnmp: recv", 16))
}
