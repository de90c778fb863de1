// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import (
	"net"
	"strconv"
	"time"
)

// Transport is the narrow seam a Session drives: send one datagram,
// wait for one datagram with a deadline, close idempotently.
// A fake satisfying this interface is what session_test.go and
// walk_test.go replace the network with.
type Transport interface {
	Send(buf []byte) error
	ReceiveWithDeadline(deadline time.Time) ([]byte, error)
	Close() error
}

// udpTransport is the default Transport, a thin wrapper over a
// connected UDP socket. net.Conn's SetReadDeadline/Write/Read already
// satisfy everything a Session needs from a datagram transport, so
// there is no third-party networking library to reach for here.
type udpTransport struct {
	conn   *net.UDPConn
	closed chan struct{}
}

// DefaultPort is the standard SNMP agent port.
const DefaultPort = 161

// Dial opens a UDP socket connected to addr. An addr without a port
// gets DefaultPort.
func Dial(addr string) (Transport, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Err: err}
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return &udpTransport{conn: conn, closed: make(chan struct{})}, nil
}

func (t *udpTransport) Send(buf []byte) error {
	_, err := t.conn.Write(buf)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// receiveBufferSize is larger than any msgMaxSize this core advertises
// so a single oversized datagram is still read whole, letting the BER
// decoder itself reject anything too large.
const receiveBufferSize = 65507

func (t *udpTransport) ReceiveWithDeadline(deadline time.Time) ([]byte, error) {
	select {
	case <-t.closed:
		return nil, ErrCancelled
	default:
	}

	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, &TransportError{Op: "set-deadline", Err: err}
	}
	buf := make([]byte, receiveBufferSize)
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		select {
		case <-t.closed:
			return nil, ErrCancelled
		default:
		}
		return nil, &TransportError{Op: "receive", Err: err}
	}
	return buf[:n], nil
}

func (t *udpTransport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.conn.Close()
}
