// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package wsnmp implements the BER/ASN.1 codec, message framing, and
// User-Based Security Model needed to poll SNMP v1, v2c and v3 agents
// over UDP. It is aimed at wireless-networking equipment: access
// points and controllers that expose large interface and station
// tables best retrieved with GETBULK walks.
//
// The package does not implement an SNMP agent, SNMP over TCP/TLS, or
// trap/inform reception. It assumes one outstanding request per
// Session at a time; callers that need concurrent polling should use
// one Session per goroutine.
package wsnmp
