package wire

import (
	"encoding/binary"
	"errors"

	"github.com/objcached/objcached/model"
)

// ErrShortPayload is returned by the decode helpers when a frame's payload
// ends before all of a message's fixed fields could be read. The
// dispatcher treats this exactly like a parse failure: MALFORMED, no
// backend call.
var ErrShortPayload = errors.New("wire: payload too short")

// writer accumulates a message's encoded fields. Its buffer is an ordinary
// growable slice: control fields are small and bounded by the message
// schema, so — unlike the attachment, which is bounded by max_object_size
// and reused from a per-connection buffer — there's no pooling concern here.
type writer struct{ buf []byte }

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) objectID(id model.ObjectID) {
	w.u8(uint8(id.Algo))
	w.u8(uint8(len(id.Digest)))
	w.bytes(id.Digest)
}

type reader struct {
	buf []byte
	off int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return ErrShortPayload
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// objectID reads the algorithm tag and an explicit digest length ahead of
// the digest bytes themselves, so a frame with an unrecognized algorithm
// (or a digest the wrong width for its algorithm) can still be skipped
// without desynchronizing the rest of the payload: the channel reports
// MALFORMED for the request but keeps decoding subsequent frames normally.
func (r *reader) objectID() (model.ObjectID, error) {
	algo, err := r.u8()
	if err != nil {
		return model.ObjectID{}, err
	}
	n, err := r.u8()
	if err != nil {
		return model.ObjectID{}, err
	}
	if err := r.need(int(n)); err != nil {
		return model.ObjectID{}, err
	}
	digest := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	id, perr := model.ParseObjectID(model.Algorithm(algo), digest)
	if perr != nil {
		// Structurally present but semantically invalid; callers treat
		// this the same as any other malformed-hash condition.
		return model.ObjectID{}, perr
	}
	return id, nil
}

func (r *reader) done() bool { return r.off == len(r.buf) }
