package channel

import "net"

// listingReplyBudget (kListingSize) bounds the cumulative approximate size
// of the records a single ListReply may carry; past this, the dispatcher
// stops early and leaves IsLastPart false so the client re-issues ListReq
// for the next page.
const listingReplyBudget = 64 * 1024

// payloadBufSz is the size of the per-connection buffer that incoming
// request payloads are decoded into: the listing reply budget plus 4 KiB of
// slack. A request whose payload is larger fails to decode, and the
// connection is closed.
const payloadBufSz = listingReplyBudget + 4096

// conn is one accepted client connection and the state scoped to it: its
// session id and the two buffers the transport decodes into. Both buffers
// are allocated once, at accept time, and reused for every frame read on
// this connection — never reallocated per request — per the "pre-allocated
// per-connection buffer" design note.
type conn struct {
	raw           net.Conn
	sessionID     uint64
	payloadBuf    []byte
	attachmentBuf []byte
}

func newConn(raw net.Conn, sessionID uint64, maxObjectSize int64) *conn {
	return &conn{
		raw:           raw,
		sessionID:     sessionID,
		payloadBuf:    make([]byte, payloadBufSz),
		attachmentBuf: make([]byte, maxObjectSize),
	}
}
