package partialeval

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Fingerprint returns a hex SHA-256 digest of everything the table
// reports: per reachable offset the entry and exit states, the followed
// successors and, when recorded, provenance; plus the return value and the
// abort flag. Equal tables have equal fingerprints.
func (t *Table) Fingerprint() string {
	h := sha256.New()
	w := fingerprintWriter{h: h}
	w.str(t.precision.String())
	w.flag(t.aborted)
	w.flag(t.returned)
	if t.returned {
		w.value(t.ret)
	}
	for _, off := range t.Offsets() {
		st, ok := t.states[off]
		w.int(off)
		w.flag(ok)
		if !ok {
			continue
		}
		w.variables(st.varsBefore)
		w.stack(st.stackBefore)
		w.flag(st.varsAfter != nil)
		if st.varsAfter != nil {
			w.variables(st.varsAfter)
			w.stack(st.stackAfter)
		}
		succ := st.Successors()
		w.int(len(succ))
		for _, s := range succ {
			w.int(s)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

type fingerprintWriter struct {
	h   hash.Hash
	buf [8]byte
}

func (w *fingerprintWriter) int(n int) {
	binary.BigEndian.PutUint64(w.buf[:], uint64(n))
	w.h.Write(w.buf[:])
}

func (w *fingerprintWriter) flag(b bool) {
	if b {
		w.h.Write([]byte{1})
	} else {
		w.h.Write([]byte{0})
	}
}

func (w *fingerprintWriter) str(s string) {
	w.int(len(s))
	w.h.Write([]byte(s))
}

func (w *fingerprintWriter) value(v Value) {
	w.h.Write([]byte{byte(v.kind), byte(v.mode), byte(v.flags)})
	binary.BigEndian.PutUint64(w.buf[:], v.bits)
	w.h.Write(w.buf[:])
	w.str(v.typ)
	w.str(v.str)
}

func (w *fingerprintWriter) producers(offsets []int) {
	w.int(len(offsets))
	for _, o := range offsets {
		w.int(o)
	}
}

func (w *fingerprintWriter) variables(v *Variables) {
	w.int(v.Size())
	for i := range v.entries {
		w.value(v.entries[i].value)
		if v.traced {
			w.producers(sortedProducers(v.entries[i].producers))
		}
	}
}

func (w *fingerprintWriter) stack(s *Stack) {
	w.int(s.Depth())
	for i := range s.entries {
		w.value(s.entries[i].value)
		if s.traced {
			w.producers(sortedProducers(s.entries[i].producers))
		}
	}
}
