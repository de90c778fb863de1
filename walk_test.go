package wsnmp

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lexAgent answers GetNext/GetBulk requests against a fixed,
// lexicographically sorted table of VarBinds: given a cursor
// OID it returns the entries strictly following it, up to
// max-repetitions for GETBULK or exactly one for GETNEXT. Running out
// of entries yields an empty response, which the Walker treats as
// subtree exhaustion.
func lexAgent(entries []VarBind) func(wire []byte, conn *fakeTransport) {
	return func(wire []byte, conn *fakeTransport) {
		msg, err := unmarshalMessageV1V2c(wire)
		if err != nil {
			return
		}
		req := msg.PDU

		cursor := req.VarBinds[0].Name
		var maxRep uint32 = 1
		if req.Type == GetBulkRequest {
			maxRep = req.MaxRepetitions()
		}

		start := -1
		for i, e := range entries {
			if cursor.Less(e.Name) {
				start = i
				break
			}
		}

		var respVBs []VarBind
		if start >= 0 {
			end := start + int(maxRep)
			if end > len(entries) {
				end = len(entries)
			}
			respVBs = append(respVBs, entries[start:end]...)
		}

		resp := MessageV1V2c{
			Version:   msg.Version,
			Community: msg.Community,
			PDU: PDU{
				Type:      GetResponse,
				RequestID: req.RequestID,
				VarBinds:  respVBs,
			},
		}
		enc, err := marshalMessageV1V2c(resp)
		if err != nil {
			return
		}
		conn.enqueue(enc)
	}
}

func ttVB(oid string, n uint32) VarBind {
	return VarBind{Name: MustParseOID(oid), Value: Value{Type: TagTimeTicks, TimeTicks: n}}
}

// TestWalkerNineLeavesThenSiblingSubtree has the agent answer with 9
// leaves under the base, then a varbind belonging to a sibling
// subtree; the walker yields exactly 9 pairs and stops without
// surfacing the 10th.
func TestWalkerNineLeavesThenSiblingSubtree(t *testing.T) {
	entries := []VarBind{
		ttVB("1.3.6.1.2.1.1.1.0", 1),
		ttVB("1.3.6.1.2.1.1.2.0", 2),
		ttVB("1.3.6.1.2.1.1.3.0", 3),
		ttVB("1.3.6.1.2.1.1.4.0", 4),
		ttVB("1.3.6.1.2.1.1.5.0", 5),
		ttVB("1.3.6.1.2.1.1.6.0", 6),
		ttVB("1.3.6.1.2.1.1.7.0", 7),
		ttVB("1.3.6.1.2.1.1.8.0", 8),
		ttVB("1.3.6.1.2.1.1.9.0", 9),
		ttVB("1.3.6.1.2.1.2.1.0", 10), // sibling subtree: ifTable, not a descendant of 1.3.6.1.2.1.1
	}

	ft := &fakeTransport{onSend: lexAgent(entries)}
	sess, err := NewSession(ft, SessionOptions{Version: Version2c, Community: "public", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sess.Close()

	got, err := sess.WalkValues(MustParseOID("1.3.6.1.2.1.1"))
	require.NoError(t, err)
	require.Len(t, got, 9)
	for i, vb := range got {
		assert.True(t, vb.Name.Equal(entries[i].Name))
	}
}

// TestWalkerBoundaryNeverCrossesSubtree: given base 1.3.6.1.2.1.1,
// output never contains 1.3.6.1.2.1.2.x.
func TestWalkerBoundaryNeverCrossesSubtree(t *testing.T) {
	entries := []VarBind{
		ttVB("1.3.6.1.2.1.1.1.0", 1),
		ttVB("1.3.6.1.2.1.2.1.0", 2),
	}
	ft := &fakeTransport{onSend: lexAgent(entries)}
	sess, err := NewSession(ft, SessionOptions{Version: Version2c, Community: "public", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sess.Close()

	got, err := sess.WalkValues(MustParseOID("1.3.6.1.2.1.1"))
	require.NoError(t, err)
	for _, vb := range got {
		assert.False(t, vb.Name.HasPrefix(MustParseOID("1.3.6.1.2.1.2")))
	}
}

// TestWalkerStopsOnEndOfMibView confirms an EndOfMibView varbind
// terminates the walk without being yielded.
func TestWalkerStopsOnEndOfMibView(t *testing.T) {
	call := 0
	ft := &fakeTransport{}
	ft.onSend = func(wire []byte, conn *fakeTransport) {
		call++
		msg, err := unmarshalMessageV1V2c(wire)
		require.NoError(t, err)
		var vbs []VarBind
		if call == 1 {
			vbs = []VarBind{ttVB("1.3.6.1.2.1.1.1.0", 1)}
		} else {
			vbs = []VarBind{{Name: MustParseOID("1.3.6.1.2.1.1.1.0"), Value: Value{Type: TagEndOfMibView}}}
		}
		resp := MessageV1V2c{Version: msg.Version, Community: msg.Community,
			PDU: PDU{Type: GetResponse, RequestID: msg.PDU.RequestID, VarBinds: vbs}}
		enc, err := marshalMessageV1V2c(resp)
		require.NoError(t, err)
		conn.enqueue(enc)
	}

	sess, err := NewSession(ft, SessionOptions{Version: Version2c, Community: "public", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sess.Close()

	got, err := sess.WalkValues(MustParseOID("1.3.6.1.2.1.1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
}

// TestWalkerOutOfOrderOid confirms an agent bug (returning an OID not
// strictly greater than the previous one) surfaces ErrOutOfOrderOid
// rather than looping or silently misordering results.
func TestWalkerOutOfOrderOid(t *testing.T) {
	call := 0
	ft := &fakeTransport{}
	ft.onSend = func(wire []byte, conn *fakeTransport) {
		call++
		msg, err := unmarshalMessageV1V2c(wire)
		require.NoError(t, err)
		var vbs []VarBind
		if call == 1 {
			vbs = []VarBind{ttVB("1.3.6.1.2.1.1.5.0", 5)}
		} else {
			// Buggy agent: repeats an OID not greater than before.
			vbs = []VarBind{ttVB("1.3.6.1.2.1.1.3.0", 3)}
		}
		resp := MessageV1V2c{Version: msg.Version, Community: msg.Community,
			PDU: PDU{Type: GetResponse, RequestID: msg.PDU.RequestID, VarBinds: vbs}}
		enc, err := marshalMessageV1V2c(resp)
		require.NoError(t, err)
		conn.enqueue(enc)
	}

	sess, err := NewSession(ft, SessionOptions{Version: Version2c, Community: "public", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.WalkValues(MustParseOID("1.3.6.1.2.1.1"))
	assert.ErrorIs(t, err, ErrOutOfOrderOid)
}

// TestWalkerV1FallsBackToGetNext confirms a v1 session walks via
// GetNext (one varbind per round trip) rather than GetBulk.
func TestWalkerV1FallsBackToGetNext(t *testing.T) {
	sendCount := 0
	entries := []VarBind{
		ttVB("1.3.6.1.2.1.1.1.0", 1),
		ttVB("1.3.6.1.2.1.1.2.0", 2),
	}
	agent := lexAgent(entries)
	ft := &fakeTransport{onSend: func(wire []byte, conn *fakeTransport) {
		sendCount++
		agent(wire, conn)
	}}

	sess, err := NewSession(ft, SessionOptions{Version: Version1, Community: "public", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sess.Close()

	got, err := sess.WalkValues(MustParseOID("1.3.6.1.2.1.1"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	// One round trip per leaf, plus the final GetNext that discovers
	// exhaustion (no descendant left).
	assert.Equal(t, 3, sendCount)
}

// TestWalkerGetBulkTable: a single GETBULK with non-repeaters=0,
// max-repetitions=3 over a 10-row table returns exactly 3 varbinds,
// and a walk over the same table (batching on the same
// max-repetitions) retrieves every row.
func TestWalkerGetBulkTable(t *testing.T) {
	var entries []VarBind
	for i := 1; i <= 10; i++ {
		entries = append(entries, VarBind{
			Name:  MustParseOID("1.3.6.1.2.1.2.2.1.2." + strconv.Itoa(i)),
			Value: OctetStringValue([]byte("if" + strconv.Itoa(i))),
		})
	}

	base := MustParseOID("1.3.6.1.2.1.2.2.1.2")

	singleCallFt := &fakeTransport{onSend: lexAgent(entries)}
	probeSess, err := NewSession(singleCallFt, SessionOptions{Version: Version2c, Community: "public", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer probeSess.Close()
	vbs, err := probeSess.GetBulk([]ObjectIdentifier{base}, 0, 3)
	require.NoError(t, err)
	require.Len(t, vbs, 3)

	sendCount := 0
	agent := lexAgent(entries)
	walkFt := &fakeTransport{onSend: func(wire []byte, conn *fakeTransport) {
		sendCount++
		agent(wire, conn)
	}}
	walkSess, err := NewSession(walkFt, SessionOptions{Version: Version2c, Community: "public", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer walkSess.Close()

	w := walkSess.NewWalker(base, 3)
	var got []VarBind
	for {
		vb, ok, werr := w.Next()
		require.NoError(t, werr)
		if !ok {
			break
		}
		got = append(got, vb)
	}
	require.Len(t, got, 10)
	for i, vb := range got {
		assert.True(t, vb.Name.Equal(entries[i].Name))
	}
	// Three full batches of 3 rows, a fourth batch with the 10th row,
	// and a final GETBULK that discovers exhaustion.
	assert.Equal(t, 5, sendCount)
}
