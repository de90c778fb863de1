// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

// DefaultMaxRepetitions is the GETBULK max-repetitions value Walk uses
// when the caller doesn't override it.
const DefaultMaxRepetitions = 10

// Walker produces the lazy sequence of (OID, Value) pairs strictly
// descending from a base OID. It holds no state between
// calls to Walk on the Session that created it: re-invoking Walk with
// the same base restarts the walk from scratch.
type Walker struct {
	session        *Session
	base           ObjectIdentifier
	maxRepetitions uint32

	cursor      ObjectIdentifier
	batch       []VarBind
	batchIndex  int
	lastYielded ObjectIdentifier
	done        bool
	err         error
	started     bool
}

// NewWalker builds a Walker over base using maxRepetitions for
// GETBULK-capable sessions (v2c/v3); v1 sessions fall back to GETNEXT
// regardless of maxRepetitions. A maxRepetitions of 0 is treated as 1.
func (s *Session) NewWalker(base ObjectIdentifier, maxRepetitions uint32) *Walker {
	if maxRepetitions == 0 {
		maxRepetitions = 1
	}
	return &Walker{session: s, base: base.Clone(), maxRepetitions: maxRepetitions, cursor: base.Clone()}
}

// Walk is a convenience constructor using DefaultMaxRepetitions.
func (s *Session) Walk(base ObjectIdentifier) *Walker {
	return s.NewWalker(base, DefaultMaxRepetitions)
}

// Next advances the walker and returns the next (OID, Value) pair. It
// returns ok=false when the subtree is exhausted (err is nil in that
// case) or when an error terminates the walk early.
func (w *Walker) Next() (vb VarBind, ok bool, err error) {
	if w.done {
		return VarBind{}, false, w.err
	}

	for w.batchIndex >= len(w.batch) {
		if err := w.fetchNextBatch(); err != nil {
			w.done, w.err = true, err
			return VarBind{}, false, err
		}
		if len(w.batch) == 0 {
			w.done = true
			return VarBind{}, false, nil
		}
	}

	vb = w.batch[w.batchIndex]
	w.batchIndex++
	w.cursor = vb.Name.Clone()

	if !vb.Name.IsStrictDescendantOf(w.base) {
		w.done = true
		return VarBind{}, false, nil
	}

	if vb.Value.Type == TagEndOfMibView {
		w.done = true
		return VarBind{}, false, nil
	}

	if w.lastYielded != nil && !w.lastYielded.Less(vb.Name) {
		w.done, w.err = true, ErrOutOfOrderOid
		return VarBind{}, false, ErrOutOfOrderOid
	}

	if vb.Value.Type == TagNoSuchObject || vb.Value.Type == TagNoSuchInstance {
		w.lastYielded = vb.Name.Clone()
		return w.Next()
	}

	w.lastYielded = vb.Name.Clone()
	return vb, true, nil
}

// fetchNextBatch issues one GETBULK (v2c/v3) or GETNEXT (v1) request
// using the walker's cursor and loads the result as the next batch.
func (w *Walker) fetchNextBatch() error {
	w.batch = nil
	w.batchIndex = 0

	if w.session.version == Version1 {
		vbs, err := w.session.GetNext(w.cursor)
		if err != nil {
			return err
		}
		w.batch = vbs
		return nil
	}

	vbs, err := w.session.GetBulk([]ObjectIdentifier{w.cursor}, 0, w.maxRepetitions)
	if err != nil {
		return err
	}
	w.batch = vbs
	return nil
}

// WalkValues drains a Walker into a slice. Results stay value-typed;
// any string/byte projection is the caller's decision.
func (s *Session) WalkValues(base ObjectIdentifier) ([]VarBind, error) {
	w := s.Walk(base)
	var out []VarBind
	for {
		vb, ok, err := w.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, vb)
	}
}
