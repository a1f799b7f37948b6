package wire

import "github.com/objcached/objcached/model"

// HandshakeReq carries no fields; its presence on the wire is the request.
type HandshakeReq struct{}

func (HandshakeReq) Marshal() []byte { return nil }

func UnmarshalHandshakeReq(b []byte) (HandshakeReq, error) { return HandshakeReq{}, nil }

// HandshakeAck is the server's single reply to a handshake.
type HandshakeAck struct {
	Status          model.Status
	Name            string
	ProtocolVersion uint8
	MaxObjectSize   int64
	SessionID       uint64
	Capabilities    model.Capability
}

func (m HandshakeAck) Marshal() []byte {
	w := &writer{}
	w.u8(uint8(m.Status))
	w.str(m.Name)
	w.u8(m.ProtocolVersion)
	w.i64(m.MaxObjectSize)
	w.u64(m.SessionID)
	w.u32(uint32(m.Capabilities))
	return w.buf
}

func UnmarshalHandshakeAck(b []byte) (m HandshakeAck, err error) {
	r := newReader(b)
	var status, proto uint8
	var caps uint32
	if status, err = r.u8(); err != nil {
		return
	}
	if m.Name, err = r.str(); err != nil {
		return
	}
	if proto, err = r.u8(); err != nil {
		return
	}
	if m.MaxObjectSize, err = r.i64(); err != nil {
		return
	}
	if m.SessionID, err = r.u64(); err != nil {
		return
	}
	if caps, err = r.u32(); err != nil {
		return
	}
	m.Status = model.Status(status)
	m.ProtocolVersion = proto
	m.Capabilities = model.Capability(caps)
	return
}

// RefcountReq requests a change of Δ to an object's reference count.
type RefcountReq struct {
	ReqID uint64
	ID    model.ObjectID
	Delta int64
}

func (m RefcountReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.objectID(m.ID)
	w.i64(m.Delta)
	return w.buf
}

func UnmarshalRefcountReq(b []byte) (m RefcountReq, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	if m.ID, err = r.objectID(); err != nil {
		return
	}
	m.Delta, err = r.i64()
	return
}

type RefcountReply struct {
	ReqID  uint64
	Status model.Status
}

func (m RefcountReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	return w.buf
}

// ObjectInfoReq asks for the ObjectInfo of a single object.
type ObjectInfoReq struct {
	ReqID uint64
	ID    model.ObjectID
}

func (m ObjectInfoReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.objectID(m.ID)
	return w.buf
}

func UnmarshalObjectInfoReq(b []byte) (m ObjectInfoReq, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	m.ID, err = r.objectID()
	return
}

type ObjectInfoReply struct {
	ReqID  uint64
	Status model.Status
	Type   model.ObjectType
	Size   int64
}

func (m ObjectInfoReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	w.u8(uint8(m.Type))
	w.i64(m.Size)
	return w.buf
}

// ReadReq requests up to Size bytes of an object starting at Offset. The
// reply's bytes travel as the frame's attachment, not as payload fields.
type ReadReq struct {
	ReqID  uint64
	ID     model.ObjectID
	Offset int64
	Size   int64
}

func (m ReadReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.objectID(m.ID)
	w.i64(m.Offset)
	w.i64(m.Size)
	return w.buf
}

func UnmarshalReadReq(b []byte) (m ReadReq, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	if m.ID, err = r.objectID(); err != nil {
		return
	}
	if m.Offset, err = r.i64(); err != nil {
		return
	}
	m.Size, err = r.i64()
	return
}

type ReadReply struct {
	ReqID  uint64
	Status model.Status
}

func (m ReadReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	return w.buf
}

// StoreReq carries one part of a multi-part store. ExpectedSize, Type, and
// Description are only meaningful on part 1; ExpectedSize is
// model.SizeUnknown when absent.
type StoreReq struct {
	ReqID        uint64
	SessionID    uint64
	ID           model.ObjectID
	PartNr       uint32
	LastPart     bool
	ExpectedSize int64
	Type         model.ObjectType
	Description  string
}

func (m StoreReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u64(m.SessionID)
	w.objectID(m.ID)
	w.u32(m.PartNr)
	w.bool(m.LastPart)
	w.i64(m.ExpectedSize)
	w.u8(uint8(m.Type))
	w.str(m.Description)
	return w.buf
}

func UnmarshalStoreReq(b []byte) (m StoreReq, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	if m.SessionID, err = r.u64(); err != nil {
		return
	}
	if m.ID, err = r.objectID(); err != nil {
		return
	}
	if m.PartNr, err = r.u32(); err != nil {
		return
	}
	if m.LastPart, err = r.boolean(); err != nil {
		return
	}
	if m.ExpectedSize, err = r.i64(); err != nil {
		return
	}
	var typ uint8
	if typ, err = r.u8(); err != nil {
		return
	}
	m.Type = model.ObjectType(typ)
	m.Description, err = r.str()
	return
}

type StoreReply struct {
	ReqID  uint64
	Status model.Status
	PartNr uint32
}

func (m StoreReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	w.u32(m.PartNr)
	return w.buf
}

func UnmarshalStoreReply(b []byte) (m StoreReply, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	var status uint8
	if status, err = r.u8(); err != nil {
		return
	}
	m.Status = model.Status(status)
	m.PartNr, err = r.u32()
	return
}

// StoreAbortReq aborts the transaction keyed by (SessionID, ReqID). Per the
// protocol, a client aborts by resending the same req_id it used to start
// the store: the registry key is (session_id, request_id), so ReqID here
// must equal the original StoreReq's ReqID.
type StoreAbortReq struct {
	ReqID     uint64
	SessionID uint64
}

func (m StoreAbortReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u64(m.SessionID)
	return w.buf
}

func UnmarshalStoreAbortReq(b []byte) (m StoreAbortReq, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	m.SessionID, err = r.u64()
	return
}

type StoreAbortReply struct {
	ReqID  uint64
	Status model.Status
	PartNr uint32
}

func (m StoreAbortReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	w.u32(m.PartNr)
	return w.buf
}

type InfoReq struct{ ReqID uint64 }

func (m InfoReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	return w.buf
}

func UnmarshalInfoReq(b []byte) (m InfoReq, err error) {
	r := newReader(b)
	m.ReqID, err = r.u64()
	return
}

type InfoReply struct {
	ReqID    uint64
	Status   model.Status
	Capacity int64
	Used     int64
	Pinned   int64
	NoShrink bool
}

func (m InfoReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	w.i64(m.Capacity)
	w.i64(m.Used)
	w.i64(m.Pinned)
	w.bool(m.NoShrink)
	return w.buf
}

type ShrinkReq struct {
	ReqID  uint64
	Target int64
}

func (m ShrinkReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.i64(m.Target)
	return w.buf
}

func UnmarshalShrinkReq(b []byte) (m ShrinkReq, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	m.Target, err = r.i64()
	return
}

type ShrinkReply struct {
	ReqID  uint64
	Status model.Status
	Used   int64
}

func (m ShrinkReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	w.i64(m.Used)
	return w.buf
}

// ListReq continues (or, when ListingID is 0, begins) a paginated listing.
type ListReq struct {
	ReqID     uint64
	ListingID uint64
	Type      model.ObjectType
}

func (m ListReq) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u64(m.ListingID)
	w.u8(uint8(m.Type))
	return w.buf
}

func UnmarshalListReq(b []byte) (m ListReq, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	if m.ListingID, err = r.u64(); err != nil {
		return
	}
	var typ uint8
	typ, err = r.u8()
	m.Type = model.ObjectType(typ)
	return
}

type ListReply struct {
	ReqID      uint64
	Status     model.Status
	ListingID  uint64
	IsLastPart bool
	Records    []model.ListRecord
}

func (m ListReply) Marshal() []byte {
	w := &writer{}
	w.u64(m.ReqID)
	w.u8(uint8(m.Status))
	w.u64(m.ListingID)
	w.bool(m.IsLastPart)
	w.u32(uint32(len(m.Records)))
	for _, rec := range m.Records {
		w.objectID(rec.ID)
		w.bool(rec.Pinned)
		w.str(rec.Description)
	}
	return w.buf
}

func UnmarshalListReply(b []byte) (m ListReply, err error) {
	r := newReader(b)
	if m.ReqID, err = r.u64(); err != nil {
		return
	}
	var status uint8
	if status, err = r.u8(); err != nil {
		return
	}
	m.Status = model.Status(status)
	if m.ListingID, err = r.u64(); err != nil {
		return
	}
	if m.IsLastPart, err = r.boolean(); err != nil {
		return
	}
	var n uint32
	if n, err = r.u32(); err != nil {
		return
	}
	m.Records = make([]model.ListRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		var rec model.ListRecord
		if rec.ID, err = r.objectID(); err != nil {
			return
		}
		if rec.Pinned, err = r.boolean(); err != nil {
			return
		}
		if rec.Description, err = r.str(); err != nil {
			return
		}
		m.Records = append(m.Records, rec)
	}
	return
}

// QuitReq and Detach carry no fields.
type QuitReq struct{}

func UnmarshalQuitReq(b []byte) (QuitReq, error) { return QuitReq{}, nil }

type Detach struct{}

func (Detach) Marshal() []byte { return nil }

// ApproxSize estimates the marshaled size of a list record, used by the
// dispatcher to enforce the reply-size budget while paginating a listing
// without re-marshaling on every iteration.
func ApproxSize(rec model.ListRecord) int {
	return 1 + 1 + len(rec.ID.Digest) + 1 + 4 + len(rec.Description)
}
