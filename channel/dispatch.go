// Package channel implements the plugin channel core: the request/response
// engine that accepts client connections, decodes framed protocol messages,
// dispatches them to a pluggable backend.Backend, and manages session,
// transaction, and listing lifecycle.
package channel

import (
	"log"

	"github.com/objcached/objcached/backend"
	"github.com/objcached/objcached/metrics"
	"github.com/objcached/objcached/model"
	"github.com/objcached/objcached/trace"
	"github.com/objcached/objcached/wire"
)

// Config bundles everything the Channel needs that isn't per-connection
// state: the backend to dispatch into and the values echoed in every
// handshake ack.
type Config struct {
	Backend         backend.Backend
	Name            string
	ProtocolVersion uint8
	MaxObjectSize   int64
	Capabilities    model.Capability
	Log             *log.Logger

	// Trace, when non-nil, receives one line per dispatched request —
	// flushed out on SIGUSR1 by the command entrypoint, matching the
	// teacher's PDU trace ring.
	Trace *trace.Ring
}

// Channel is the dispatcher: per-connection request handling plus the
// shared session/transaction/listing-id state every connection draws from.
type Channel struct {
	cfg  Config
	ids  idAllocator
	txns *txnRegistry
}

func New(cfg Config) *Channel {
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	return &Channel{cfg: cfg, txns: newTxnRegistry()}
}

// NewSession allocates a fresh session id, scoping the registry keys a
// connection's StoreReq/StoreAbortReq frames will use.
func (ch *Channel) NewSession() uint64 { return ch.ids.nextSession() }

// HandleRequest decodes and dispatches exactly one frame from c. It returns
// false when the connection must be closed: a Quit message, a decode
// failure, or a frame of unknown kind.
func (ch *Channel) HandleRequest(c *conn) bool {
	frame, err := wire.Decode(c.raw, c.payloadBuf, c.attachmentBuf)
	if err != nil {
		return false
	}
	metrics.RequestsTotal(frame.Kind.String()).Inc()
	if ch.cfg.Trace != nil {
		ch.cfg.Trace.Add(c.sessionID, " Rx ", frame.Kind.String())
	}
	switch frame.Kind {
	case wire.KindHandshake:
		return ch.handleHandshake(c)
	case wire.KindQuit:
		return false
	case wire.KindRefcountReq:
		return ch.handleRefcount(c, frame.Payload)
	case wire.KindObjectInfoReq:
		return ch.handleObjectInfo(c, frame.Payload)
	case wire.KindReadReq:
		return ch.handleRead(c, frame.Payload)
	case wire.KindStoreReq:
		return ch.handleStore(c, frame.Payload, frame.Attachment)
	case wire.KindStoreAbortReq:
		return ch.handleStoreAbort(c, frame.Payload)
	case wire.KindInfoReq:
		return ch.handleInfo(c, frame.Payload)
	case wire.KindShrinkReq:
		return ch.handleShrink(c, frame.Payload)
	case wire.KindListReq:
		return ch.handleList(c, frame.Payload)
	default:
		ch.cfg.Log.Printf("unknown frame kind %d, closing connection", frame.Kind)
		return false
	}
}

func (ch *Channel) send(c *conn, kind wire.Kind, payload []byte) bool {
	if err := wire.Encode(c.raw, kind, payload, nil, 0); err != nil {
		ch.cfg.Log.Printf("send %s: %v", kind, err)
	}
	return true
}

func (ch *Channel) handleHandshake(c *conn) bool {
	ack := wire.HandshakeAck{
		Status:          model.StatusOK,
		Name:            ch.cfg.Name,
		ProtocolVersion: ch.cfg.ProtocolVersion,
		MaxObjectSize:   ch.cfg.MaxObjectSize,
		SessionID:       c.sessionID,
		Capabilities:    ch.cfg.Capabilities,
	}
	return ch.send(c, wire.KindHandshakeAck, ack.Marshal())
}

func (ch *Channel) handleRefcount(c *conn, payload []byte) bool {
	req, err := wire.UnmarshalRefcountReq(payload)
	if err != nil {
		return ch.send(c, wire.KindRefcountReply, wire.RefcountReply{Status: model.StatusMalformed}.Marshal())
	}
	status, err := ch.cfg.Backend.ChangeRefcount(req.ID, req.Delta)
	if err != nil {
		ch.cfg.Log.Printf("ChangeRefcount: %v", err)
	}
	reply := wire.RefcountReply{ReqID: req.ReqID, Status: status}
	return ch.send(c, wire.KindRefcountReply, reply.Marshal())
}

func (ch *Channel) handleObjectInfo(c *conn, payload []byte) bool {
	req, err := wire.UnmarshalObjectInfoReq(payload)
	if err != nil {
		return ch.send(c, wire.KindObjectInfoReply, wire.ObjectInfoReply{Status: model.StatusMalformed}.Marshal())
	}
	info, status, err := ch.cfg.Backend.GetObjectInfo(req.ID)
	if err != nil {
		ch.cfg.Log.Printf("GetObjectInfo: %v", err)
	}
	reply := wire.ObjectInfoReply{ReqID: req.ReqID, Status: status}
	if status == model.StatusOK {
		reply.Type = info.Type
		reply.Size = info.Size
	}
	return ch.send(c, wire.KindObjectInfoReply, reply.Marshal())
}

func (ch *Channel) handleRead(c *conn, payload []byte) bool {
	req, err := wire.UnmarshalReadReq(payload)
	if err != nil {
		return ch.send(c, wire.KindReadReply, wire.ReadReply{Status: model.StatusMalformed}.Marshal())
	}
	if req.Size < 0 || req.Size > ch.cfg.MaxObjectSize {
		return ch.send(c, wire.KindReadReply, wire.ReadReply{ReqID: req.ReqID, Status: model.StatusMalformed}.Marshal())
	}
	buf := c.attachmentBuf[:req.Size]
	n, status, err := ch.cfg.Backend.Pread(req.ID, req.Offset, buf)
	if err != nil {
		ch.cfg.Log.Printf("Pread: %v", err)
	}
	reply := wire.ReadReply{ReqID: req.ReqID, Status: status}
	var attachment []byte
	if status == model.StatusOK {
		attachment = buf[:n]
	}
	if err := wire.Encode(c.raw, wire.KindReadReply, reply.Marshal(), attachment, 0); err != nil {
		ch.cfg.Log.Printf("send ReadReply: %v", err)
	}
	return true
}

// handleStore implements the multi-part store protocol of §4.6.
func (ch *Channel) handleStore(c *conn, payload, attachment []byte) bool {
	req, err := wire.UnmarshalStoreReq(payload)
	if err != nil {
		return ch.send(c, wire.KindStoreReply, wire.StoreReply{Status: model.StatusMalformed}.Marshal())
	}
	malformed := func() bool {
		return ch.send(c, wire.KindStoreReply, wire.StoreReply{ReqID: req.ReqID, Status: model.StatusMalformed, PartNr: req.PartNr}.Marshal())
	}

	if int64(len(attachment)) > ch.cfg.MaxObjectSize {
		return malformed()
	}
	if int64(len(attachment)) < ch.cfg.MaxObjectSize && !req.LastPart {
		return malformed()
	}

	var txnID uint64
	if req.PartNr == 1 {
		if ch.txns.contains(req.SessionID, req.ReqID) {
			return malformed()
		}
		txnID = ch.ids.nextTxn()
		info := model.ObjectInfo{
			ID:          req.ID,
			Type:        req.Type,
			Size:        req.ExpectedSize,
			Description: req.Description,
		}
		status, err := ch.cfg.Backend.StartTxn(txnID, req.ID, info)
		if err != nil {
			ch.cfg.Log.Printf("StartTxn: %v", err)
		}
		if status != model.StatusOK {
			return ch.send(c, wire.KindStoreReply, wire.StoreReply{ReqID: req.ReqID, Status: status, PartNr: req.PartNr}.Marshal())
		}
		if !ch.txns.insert(req.SessionID, req.ReqID, txnID) {
			// Lost a race against another part 1 for the same key between
			// the contains check above and this insert. Per §9 the channel
			// never auto-aborts on the client's behalf; the backend is left
			// holding an orphaned txnID the client cannot reach again.
			return malformed()
		}
	} else {
		id, ok := ch.txns.lookup(req.SessionID, req.ReqID)
		if !ok {
			return malformed()
		}
		txnID = id
	}

	if len(attachment) > 0 {
		status, err := ch.cfg.Backend.WriteTxn(txnID, attachment)
		if err != nil {
			ch.cfg.Log.Printf("WriteTxn: %v", err)
		}
		metrics.StoreBytesTotal.Add(len(attachment))
		if status != model.StatusOK {
			// Registry entry intentionally left in place: the client
			// decides between retry and abort.
			return ch.send(c, wire.KindStoreReply, wire.StoreReply{ReqID: req.ReqID, Status: status, PartNr: req.PartNr}.Marshal())
		}
	}

	status := model.StatusOK
	if req.LastPart {
		var err error
		status, err = ch.cfg.Backend.CommitTxn(txnID)
		if err != nil {
			ch.cfg.Log.Printf("CommitTxn: %v", err)
		}
		ch.txns.erase(req.SessionID, req.ReqID)
	}
	return ch.send(c, wire.KindStoreReply, wire.StoreReply{ReqID: req.ReqID, Status: status, PartNr: req.PartNr}.Marshal())
}

func (ch *Channel) handleStoreAbort(c *conn, payload []byte) bool {
	req, err := wire.UnmarshalStoreAbortReq(payload)
	if err != nil {
		return ch.send(c, wire.KindStoreAbortReply, wire.StoreAbortReply{Status: model.StatusMalformed}.Marshal())
	}
	txnID, ok := ch.txns.lookup(req.SessionID, req.ReqID)
	if !ok {
		return ch.send(c, wire.KindStoreAbortReply, wire.StoreAbortReply{ReqID: req.ReqID, Status: model.StatusMalformed}.Marshal())
	}
	status, err := ch.cfg.Backend.AbortTxn(txnID)
	if err != nil {
		ch.cfg.Log.Printf("AbortTxn: %v", err)
	}
	ch.txns.erase(req.SessionID, req.ReqID)
	reply := wire.StoreAbortReply{ReqID: req.ReqID, Status: status, PartNr: 0}
	return ch.send(c, wire.KindStoreAbortReply, reply.Marshal())
}

func (ch *Channel) handleInfo(c *conn, payload []byte) bool {
	req, err := wire.UnmarshalInfoReq(payload)
	if err != nil {
		return ch.send(c, wire.KindInfoReply, wire.InfoReply{Status: model.StatusMalformed}.Marshal())
	}
	info, status, err := ch.cfg.Backend.GetInfo()
	if err != nil {
		ch.cfg.Log.Printf("GetInfo: %v", err)
	}
	reply := wire.InfoReply{ReqID: req.ReqID, Status: status}
	if status == model.StatusOK {
		reply.Capacity = info.Capacity
		reply.Used = info.Used
		reply.Pinned = info.Pinned
		reply.NoShrink = info.NoShrink
	}
	return ch.send(c, wire.KindInfoReply, reply.Marshal())
}

func (ch *Channel) handleShrink(c *conn, payload []byte) bool {
	req, err := wire.UnmarshalShrinkReq(payload)
	if err != nil {
		return ch.send(c, wire.KindShrinkReply, wire.ShrinkReply{Status: model.StatusMalformed}.Marshal())
	}
	used, status, err := ch.cfg.Backend.Shrink(req.Target)
	if err != nil {
		ch.cfg.Log.Printf("Shrink: %v", err)
	}
	reply := wire.ShrinkReply{ReqID: req.ReqID, Status: status, Used: used}
	return ch.send(c, wire.KindShrinkReply, reply.Marshal())
}

// handleList implements the paginated listing protocol of §4.7.
func (ch *Channel) handleList(c *conn, payload []byte) bool {
	req, err := wire.UnmarshalListReq(payload)
	if err != nil {
		return ch.send(c, wire.KindListReply, wire.ListReply{Status: model.StatusMalformed}.Marshal())
	}

	listingID := req.ListingID
	if listingID == 0 {
		listingID = ch.ids.nextListing()
		status, err := ch.cfg.Backend.ListingBegin(listingID, req.Type)
		if err != nil {
			ch.cfg.Log.Printf("ListingBegin: %v", err)
		}
		if status != model.StatusOK {
			reply := wire.ListReply{ReqID: req.ReqID, Status: status, IsLastPart: true}
			return ch.send(c, wire.KindListReply, reply.Marshal())
		}
	}

	reply := wire.ListReply{ReqID: req.ReqID, ListingID: listingID, IsLastPart: true, Status: model.StatusOK}
	size := 0
	for {
		rec, status, err := ch.cfg.Backend.ListingNext(listingID)
		if err != nil {
			ch.cfg.Log.Printf("ListingNext: %v", err)
		}
		if status == model.StatusOutOfBounds {
			if status2, err := ch.cfg.Backend.ListingEnd(listingID); err != nil || status2 != model.StatusOK {
				if err != nil {
					ch.cfg.Log.Printf("ListingEnd: %v", err)
				}
			}
			reply.IsLastPart = true
			reply.Status = model.StatusOK
			break
		}
		if status != model.StatusOK {
			reply.Status = status
			break
		}
		reply.Records = append(reply.Records, rec)
		size += wire.ApproxSize(rec)
		if size > listingReplyBudget {
			reply.IsLastPart = false
			break
		}
	}
	metrics.ListingPagesTotal.Inc()
	return ch.send(c, wire.KindListReply, reply.Marshal())
}
