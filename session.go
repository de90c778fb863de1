// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Logger is the minimal sink a Session writes protocol trace to. It is
// satisfied by *log.Logger so callers can pass the standard logger
// directly; passing nil disables tracing.
type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
}

// discardLogger is the zero-cost Logger a Session falls back to when
// none is configured.
type discardLogger struct{}

func (discardLogger) Print(v ...interface{})                 {}
func (discardLogger) Printf(format string, v ...interface{}) {}

// sessionState names the three states of the request machine.
type sessionState int

const (
	stateIdle sessionState = iota
	stateDiscoverEngine
	stateAwaiting
)

// Session is one SNMP conversation with a single agent: exactly one
// request is ever outstanding, and the caller's own
// goroutine drives every blocking call. A Session is not safe for
// concurrent use; serialize calls externally if shared.
type Session struct {
	mu sync.Mutex

	transport Transport
	version   Version
	community []byte

	// v3 only.
	v3         bool
	usm        *USMSecurityParameters
	engineTime struct {
		bootsAtDiscovery   uint32
		timeAtDiscovery    uint32
		monotonicDiscovery time.Time
		discovered         bool
	}
	contextEngineID []byte
	contextName     []byte

	timeout    time.Duration
	retries    int
	nextReqID  int32
	state      sessionState
	closed     bool
	Log        Logger
	maxMsgSize uint32
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	Version   Version
	Community string // v1/v2c only

	// v3 only.
	UserName        string
	AuthProtocol    AuthProtocol
	AuthPassphrase  string
	PrivProtocol    PrivProtocol
	PrivPassphrase  string
	ContextEngineID []byte
	ContextName     []byte

	Timeout time.Duration
	Retries int
	Log     Logger
}

const defaultTimeout = 2 * time.Second
const defaultRetries = 3

// NewSession builds a Session bound to transport, ready for Get/
// GetNext/GetBulk/Set/Walk calls. The caller owns transport's lifetime
// via Session.Close.
func NewSession(transport Transport, opts SessionOptions) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	log := opts.Log
	if log == nil {
		log = discardLogger{}
	}

	s := &Session{
		transport:  transport,
		version:    opts.Version,
		community:  []byte(opts.Community),
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		Log:        log,
		maxMsgSize: defaultMsgMaxSize,
		// Seeded from outside the protocol: a random, non-zero start
		// so sessions restarted back-to-back don't replay ids an agent
		// might still associate with a stale conversation.
		nextReqID: seedRequestID(),
	}

	if opts.Version == Version3 {
		s.v3 = true
		s.contextEngineID = opts.ContextEngineID
		s.contextName = opts.ContextName
		s.usm = &USMSecurityParameters{
			UserName:       []byte(opts.UserName),
			AuthProtocol:   opts.AuthProtocol,
			PrivProtocol:   opts.PrivProtocol,
			AuthPassphrase: opts.AuthPassphrase,
			PrivPassphrase: opts.PrivPassphrase,
		}
		if s.usm.AuthProtocol == 0 {
			s.usm.AuthProtocol = NoAuth
		}
		if s.usm.PrivProtocol == 0 {
			s.usm.PrivProtocol = NoPriv
		}
		if err := s.usm.Validate(s.securityLevel()); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func seedRequestID() int32 {
	n := rand.Int31()
	if n == 0 {
		n = 1
	}
	return n
}

func (s *Session) securityLevel() MsgFlags {
	flags := MsgFlags(0)
	if s.usm.AuthProtocol > NoAuth {
		flags |= AuthNoPriv
	}
	if s.usm.PrivProtocol > NoPriv {
		flags |= AuthPriv
	}
	return flags
}

// Close releases the underlying transport. Subsequent calls return
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.transport.Close()
}

// nextRequestID returns the next monotonic request-id, wrapping past
// zero without ever landing on it.
func (s *Session) nextRequestID() int32 {
	id := s.nextReqID
	s.nextReqID++
	if s.nextReqID == 0 {
		s.nextReqID = 1
	}
	return id
}

// Get issues a GetRequest for oids.
func (s *Session) Get(oids ...ObjectIdentifier) ([]VarBind, error) {
	return s.execute(GetRequest, oids, 0, 0)
}

// GetNext issues a GetNextRequest for oids.
func (s *Session) GetNext(oids ...ObjectIdentifier) ([]VarBind, error) {
	return s.execute(GetNextRequest, oids, 0, 0)
}

// GetBulk issues a GetBulkRequest. nonRepeaters and maxRepetitions are
// only meaningful for v2c/v3; a v1 session rejects this call.
func (s *Session) GetBulk(oids []ObjectIdentifier, nonRepeaters, maxRepetitions uint32) ([]VarBind, error) {
	if s.version == Version1 {
		return nil, fmt.Errorf("wsnmp: GetBulk requires v2c or v3")
	}
	return s.execute(GetBulkRequest, oids, nonRepeaters, maxRepetitions)
}

// Set issues a SetRequest with the given (OID, Value) pairs.
func (s *Session) Set(vbs []VarBind) ([]VarBind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	pdu := PDU{Type: SetRequest, VarBinds: vbs}
	respPDU, err := s.roundTrip(pdu)
	if err != nil {
		return nil, err
	}
	return s.checkAgentError(respPDU)
}

func (s *Session) execute(t PDUType, oids []ObjectIdentifier, nonRepeaters, maxRepetitions uint32) ([]VarBind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	vbs := make([]VarBind, len(oids))
	for i, oid := range oids {
		vbs[i] = VarBind{Name: oid, Value: NullValue()}
	}

	pdu := PDU{Type: t, VarBinds: vbs}
	if t == GetBulkRequest {
		pdu.ErrorStatus = ErrorStatus(nonRepeaters)
		pdu.ErrorIndex = maxRepetitions
	}

	respPDU, err := s.roundTrip(pdu)
	if err != nil {
		return nil, err
	}
	return s.checkAgentError(respPDU)
}

func (s *Session) checkAgentError(pdu PDU) ([]VarBind, error) {
	if pdu.ErrorStatus != NoError {
		return nil, &AgentError{Status: pdu.ErrorStatus, Index: pdu.ErrorIndex}
	}
	return pdu.VarBinds, nil
}

// roundTrip drives the send/retry/receive state machine for one PDU
// and returns the correlated response PDU. For a v3 session whose
// engine has not yet been discovered, it first runs engine discovery.
func (s *Session) roundTrip(pdu PDU) (PDU, error) {
	if s.v3 && !s.engineTime.discovered {
		s.state = stateDiscoverEngine
		if err := s.discoverEngine(); err != nil {
			return PDU{}, err
		}
	}

	s.state = stateAwaiting
	defer func() { s.state = stateIdle }()

	pdu.RequestID = s.nextRequestID()
	return s.sendAndAwait(pdu, s.retries)
}

// sendAndAwait encodes and transmits pdu, then loops over
// retransmission/timeout/stray-datagram handling until it sees a
// correlated response or the retry budget is exhausted. The automatic
// notInTimeWindows retry is tracked separately and does not consume
// retriesRemaining.
func (s *Session) sendAndAwait(pdu PDU, retriesRemaining int) (PDU, error) {
	wire, err := s.encode(pdu)
	if err != nil {
		return PDU{}, err
	}

	resyncUsed := false
	for {
		s.traceSend(wire)
		if err := s.transport.Send(wire); err != nil {
			return PDU{}, err
		}
		deadline := time.Now().Add(s.timeout)

		for {
			raw, err := s.transport.ReceiveWithDeadline(deadline)
			if err != nil {
				if err == ErrTimeout {
					if retriesRemaining > 0 {
						retriesRemaining--
						s.Log.Printf("wsnmp: timeout, %d retries remaining", retriesRemaining)
						break // retransmit
					}
					return PDU{}, ErrTimeout
				}
				return PDU{}, err
			}
			s.traceRecv(raw)

			respPDU, matched, resync, err := s.decodeAndCorrelate(raw, pdu.RequestID)
			if err != nil {
				// Decode and USM failures are fatal to this call, not
				// the session.
				return PDU{}, err
			}
			if !matched {
				continue // foreign request-id, do not reset the deadline
			}
			if resync {
				if resyncUsed {
					return PDU{}, ErrAuth
				}
				resyncUsed = true
				s.Log.Printf("wsnmp: notInTimeWindows, resyncing and retrying once")
				wire, err = s.encode(pdu)
				if err != nil {
					return PDU{}, err
				}
				break // retransmit without consuming retriesRemaining
			}
			return respPDU, nil
		}
	}
}

// discoverEngine sends an empty-userName, noAuthNoPriv, Report-
// eliciting GetRequest and caches the authoritativeEngineID/Boots/Time
// the agent's Report carries.
func (s *Session) discoverEngine() error {
	savedEngineID := s.usm.AuthoritativeEngineID
	savedUserName := s.usm.UserName
	s.usm.AuthoritativeEngineID = nil
	s.usm.UserName = nil
	restore := func() {
		s.usm.AuthoritativeEngineID = savedEngineID
		s.usm.UserName = savedUserName
	}

	probe := PDU{Type: GetRequest, RequestID: s.nextRequestID()}
	wire, err := s.encodeV3(probe, NoAuthNoPriv|Reportable)
	if err != nil {
		restore()
		return err
	}

	s.traceSend(wire)
	if err := s.transport.Send(wire); err != nil {
		restore()
		return err
	}
	deadline := time.Now().Add(s.timeout)
	raw, err := s.transport.ReceiveWithDeadline(deadline)
	if err != nil {
		restore()
		return err
	}
	s.traceRecv(raw)

	msg, err := unmarshalMessageV3(raw)
	if err != nil {
		restore()
		return err
	}

	restore()
	s.usm.AuthoritativeEngineID = msg.Security.AuthoritativeEngineID
	s.usm.AuthoritativeEngineBoots = msg.Security.AuthoritativeEngineBoots
	s.usm.AuthoritativeEngineTime = msg.Security.AuthoritativeEngineTime

	s.engineTime.bootsAtDiscovery = msg.Security.AuthoritativeEngineBoots
	s.engineTime.timeAtDiscovery = msg.Security.AuthoritativeEngineTime
	s.engineTime.monotonicDiscovery = time.Now()
	s.engineTime.discovered = true
	return nil
}

// currentEngineTime computes the engineTime value to transmit: the
// value at discovery plus elapsed wall-clock seconds, clamped to 32
// bits.
func (s *Session) currentEngineTime() uint32 {
	elapsed := time.Since(s.engineTime.monotonicDiscovery).Seconds()
	v := uint64(s.engineTime.timeAtDiscovery) + uint64(elapsed)
	if v > 0xffffffff {
		v = 0xffffffff
	}
	return uint32(v)
}

// encode produces the wire bytes for pdu: community framing for v1/
// v2c, or full USM framing for v3.
func (s *Session) encode(pdu PDU) ([]byte, error) {
	if !s.v3 {
		msg := MessageV1V2c{Version: s.version, Community: s.community, PDU: pdu}
		return marshalMessageV1V2c(msg)
	}
	return s.encodeV3(pdu, s.securityLevel()|Reportable)
}

func (s *Session) encodeV3(pdu PDU, flags MsgFlags) ([]byte, error) {
	if err := validateV3SecurityLevel(flags); err != nil {
		return nil, err
	}

	s.usm.AuthoritativeEngineBoots = s.engineTime.bootsAtDiscovery
	if s.engineTime.discovered {
		s.usm.AuthoritativeEngineTime = s.currentEngineTime()
	}

	scoped := ScopedPDU{
		ContextEngineID: s.effectiveContextEngineID(),
		ContextName:     s.contextName,
		PDU:             pdu,
	}
	scopedBytes, err := marshalScopedPDU(scoped)
	if err != nil {
		return nil, err
	}

	msgData := scopedBytes
	if flags&AuthPriv == AuthPriv {
		ciphertext, err := s.usm.encrypt(scopedBytes)
		if err != nil {
			return nil, err
		}
		privLen, err := marshalLength(len(ciphertext))
		if err != nil {
			return nil, err
		}
		msgData = append([]byte{byte(TagOctetString)}, privLen...)
		msgData = append(msgData, ciphertext...)
	}

	secBytes, authOffset, err := s.usm.marshal(flags)
	if err != nil {
		return nil, err
	}
	secLen, err := marshalLength(len(secBytes))
	if err != nil {
		return nil, err
	}
	secWrapped := append([]byte{byte(TagOctetString)}, secLen...)
	secWrapped = append(secWrapped, secBytes...)
	secHeaderLen := len(secWrapped) - len(secBytes)

	globalData := marshalMsgGlobalData(uint32(pdu.RequestID), s.maxMsgSize, flags, UserSecurityModel)

	var content []byte
	content = append(content, 0x02, 1, byte(Version3))
	content = append(content, globalData...)
	content = append(content, secWrapped...)
	content = append(content, msgData...)

	length, err := marshalLength(len(content))
	if err != nil {
		return nil, err
	}
	out := append([]byte{byte(Sequence)}, length...)
	out = append(out, content...)

	if flags&AuthNoPriv != 0 {
		outerHeaderLen := len(out) - len(content)
		const versionTLVLen = 3 // 0x02, 0x01, <version byte>
		absolute := outerHeaderLen + versionTLVLen + len(globalData) + secHeaderLen + authOffset
		if err := s.usm.authenticate(out, absolute); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (s *Session) effectiveContextEngineID() []byte {
	if len(s.contextEngineID) > 0 {
		return s.contextEngineID
	}
	return s.usm.AuthoritativeEngineID
}

// decodeAndCorrelate parses a received datagram, verifies/decrypts it
// for v3, and reports whether it correlates to requestID. A Report
// carrying usmStatsNotInTimeWindows is surfaced via the resync return
// value rather than matched, since it resyncs time/boots without
// itself being the answer.
func (s *Session) decodeAndCorrelate(raw []byte, requestID int32) (pdu PDU, matched bool, resync bool, err error) {
	if len(raw) < 1 {
		return PDU{}, false, false, &DecodeError{Reason: "empty datagram"}
	}

	if !s.v3 {
		msg, err := unmarshalMessageV1V2c(raw)
		if err != nil {
			return PDU{}, false, false, err
		}
		if msg.PDU.RequestID != requestID {
			return PDU{}, false, false, nil
		}
		if string(msg.Community) != string(s.community) {
			// Correlated to our request-id but the wrong community:
			// not a stray to drop, a misconfiguration to surface.
			return PDU{}, false, false, fmt.Errorf("%w: community %q", ErrMismatch, msg.Community)
		}
		return msg.PDU, true, false, nil
	}

	msg, err := unmarshalMessageV3(raw)
	if err != nil {
		return PDU{}, false, false, err
	}

	if msg.MsgFlags&AuthNoPriv != 0 {
		ok, err := s.verifyAndUpdateTimeWindow(msg)
		if err != nil {
			return PDU{}, false, false, err
		}
		if !ok {
			return PDU{}, false, false, nil
		}
	}

	if msg.MsgFlags&AuthPriv == AuthPriv {
		s.usm.PrivacyParameters = msg.Security.PrivacyParameters
		plaintext, err := s.usm.decrypt(msg.scopedCiphertext)
		if err != nil {
			return PDU{}, false, false, fmt.Errorf("%w: %v", ErrPriv, err)
		}
		scoped, err := unmarshalScopedPDU(plaintext)
		if err != nil {
			return PDU{}, false, false, err
		}
		msg.ScopedPDU = scoped
	}

	if msg.ScopedPDU.PDU.RequestID != requestID {
		return PDU{}, false, false, nil
	}

	if msg.ScopedPDU.PDU.Type == Report {
		for _, vb := range msg.ScopedPDU.PDU.VarBinds {
			if vb.Name.Equal(oidUsmStatsNotInTimeWindows) {
				s.usm.AuthoritativeEngineBoots = msg.Security.AuthoritativeEngineBoots
				s.usm.AuthoritativeEngineTime = msg.Security.AuthoritativeEngineTime
				s.engineTime.bootsAtDiscovery = msg.Security.AuthoritativeEngineBoots
				s.engineTime.timeAtDiscovery = msg.Security.AuthoritativeEngineTime
				s.engineTime.monotonicDiscovery = time.Now()
				return PDU{}, false, true, nil
			}
		}
	}

	return msg.ScopedPDU.PDU, true, false, nil
}

// oidUsmStatsNotInTimeWindows is usmStats MIB object
// 1.3.6.1.6.3.15.1.1.2.0 (RFC 3414).
var oidUsmStatsNotInTimeWindows = ObjectIdentifier{1, 3, 6, 1, 6, 3, 15, 1, 1, 2, 0}

// timeWindowSeconds is the RFC 3414 §3.2 step 7 tolerance.
const timeWindowSeconds = 150

// verifyAndUpdateTimeWindow authenticates msg's MAC and applies the
// RFC 3414 §3.2 time-window check. A MAC mismatch is fatal (ErrAuth);
// a window violation on anything other than a Report is treated as a
// discarded (not matched) datagram.
func (s *Session) verifyAndUpdateTimeWindow(msg *MessageV3) (bool, error) {
	s.usm.AuthoritativeEngineTime = msg.Security.AuthoritativeEngineTime
	s.usm.AuthoritativeEngineBoots = msg.Security.AuthoritativeEngineBoots

	ok, err := msg.verifyRaw(s.usm)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: HMAC mismatch", ErrAuth)
	}

	if msg.ScopedPDU.PDU.Type == Report {
		return true, nil
	}

	localTime := s.currentEngineTime()
	diff := int64(msg.Security.AuthoritativeEngineTime) - int64(localTime)
	if diff < 0 {
		diff = -diff
	}
	if diff > timeWindowSeconds || msg.Security.AuthoritativeEngineBoots != s.engineTime.bootsAtDiscovery {
		return false, nil
	}
	return true, nil
}
