// Package memstore is a reference, in-process implementation of the
// backend.Backend port (§4.15 of the expanded specification): a
// mutex-guarded map plus a slice-backed eviction order for Shrink. It
// exists to exercise the dispatcher and supervisor end-to-end in tests and
// to serve as a worked example of the port's contract; it is not the
// daemon's production cache engine.
package memstore

import (
	"sync"

	"github.com/objcached/objcached/backend"
	"github.com/objcached/objcached/model"
)

func init() {
	backend.RegisterBackend("memstore", New)
}

type entry struct {
	info model.ObjectInfo
	data []byte
	refs int64
}

type txn struct {
	id   model.ObjectID
	info model.ObjectInfo
	buf  []byte
}

type listingCursor struct {
	ids []model.ObjectID
	pos int
}

// Store is the in-memory Backend implementation.
type Store struct {
	capacity int64

	mu      sync.Mutex
	objects map[string]*entry
	order   []string // insertion/commit order, oldest first, for Shrink

	txnsMu sync.Mutex
	txns   map[uint64]*txn

	listMu sync.Mutex
	lists  map[uint64]*listingCursor
}

// New constructs a memstore.Store from backend_options. The only option
// consulted is "capacity" (int64-ish); it defaults to model.SizeUnknown,
// meaning "unbounded," if absent.
func New(options map[string]any) (backend.Backend, error) {
	capacity := int64(model.SizeUnknown)
	if v, ok := options["capacity"]; ok {
		switch n := v.(type) {
		case int:
			capacity = int64(n)
		case int64:
			capacity = n
		case float64:
			capacity = int64(n)
		}
	}
	return &Store{
		capacity: capacity,
		objects:  make(map[string]*entry),
		txns:     make(map[uint64]*txn),
		lists:    make(map[uint64]*listingCursor),
	}, nil
}

func key(id model.ObjectID) string { return id.String() }

func (s *Store) ChangeRefcount(id model.ObjectID, delta int64) (model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.objects[key(id)]
	if !ok {
		return model.StatusNoEntry, nil
	}
	e.refs += delta
	e.info.Pinned = e.refs > 0
	return model.StatusOK, nil
}

func (s *Store) GetObjectInfo(id model.ObjectID) (model.ObjectInfo, model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.objects[key(id)]
	if !ok {
		return model.ObjectInfo{}, model.StatusNoEntry, nil
	}
	return e.info, model.StatusOK, nil
}

func (s *Store) Pread(id model.ObjectID, offset int64, buf []byte) (int, model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.objects[key(id)]
	if !ok {
		return 0, model.StatusNoEntry, nil
	}
	if offset < 0 || offset > int64(len(e.data)) {
		return 0, model.StatusOutOfBounds, nil
	}
	n := copy(buf, e.data[offset:])
	return n, model.StatusOK, nil
}

func (s *Store) StartTxn(txnID uint64, id model.ObjectID, info model.ObjectInfo) (model.Status, error) {
	s.txnsMu.Lock()
	defer s.txnsMu.Unlock()
	if _, exists := s.txns[txnID]; exists {
		return model.StatusMalformed, nil
	}
	s.txns[txnID] = &txn{id: id, info: info}
	return model.StatusOK, nil
}

func (s *Store) WriteTxn(txnID uint64, data []byte) (model.Status, error) {
	s.txnsMu.Lock()
	defer s.txnsMu.Unlock()
	t, ok := s.txns[txnID]
	if !ok {
		return model.StatusNoEntry, nil
	}
	t.buf = append(t.buf, data...)
	return model.StatusOK, nil
}

func (s *Store) CommitTxn(txnID uint64) (model.Status, error) {
	s.txnsMu.Lock()
	t, ok := s.txns[txnID]
	if ok {
		delete(s.txns, txnID)
	}
	s.txnsMu.Unlock()
	if !ok {
		return model.StatusNoEntry, nil
	}

	info := t.info
	info.ID = t.id
	info.Size = int64(len(t.buf))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity != model.SizeUnknown && s.usedLocked()+info.Size > s.capacity {
		return model.StatusNoSpace, nil
	}
	k := key(t.id)
	if _, exists := s.objects[k]; !exists {
		s.order = append(s.order, k)
	}
	s.objects[k] = &entry{info: info, data: t.buf}
	return model.StatusOK, nil
}

func (s *Store) AbortTxn(txnID uint64) (model.Status, error) {
	s.txnsMu.Lock()
	defer s.txnsMu.Unlock()
	if _, ok := s.txns[txnID]; !ok {
		return model.StatusNoEntry, nil
	}
	delete(s.txns, txnID)
	return model.StatusOK, nil
}

func (s *Store) usedLocked() int64 {
	var total int64
	for _, e := range s.objects {
		total += e.info.Size
	}
	return total
}

func (s *Store) GetInfo() (model.CacheInfo, model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pinned int64
	for _, e := range s.objects {
		if e.info.Pinned {
			pinned += e.info.Size
		}
	}
	return model.CacheInfo{
		Capacity: s.capacity,
		Used:     s.usedLocked(),
		Pinned:   pinned,
		NoShrink: false,
	}, model.StatusOK, nil
}

// Shrink evicts unpinned objects, oldest first, until used size is at or
// below target (or nothing more can be evicted).
func (s *Store) Shrink(target int64) (int64, model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.usedLocked()
	kept := s.order[:0:0]
	for _, k := range s.order {
		e, ok := s.objects[k]
		if !ok {
			continue
		}
		if used <= target || e.info.Pinned {
			kept = append(kept, k)
			continue
		}
		used -= e.info.Size
		delete(s.objects, k)
	}
	s.order = kept
	return used, model.StatusOK, nil
}

func (s *Store) ListingBegin(listingID uint64, objType model.ObjectType) (model.Status, error) {
	s.mu.Lock()
	ids := make([]model.ObjectID, 0, len(s.objects))
	for _, k := range s.order {
		e, ok := s.objects[k]
		if !ok {
			continue
		}
		if objType != model.TypeUnknown && e.info.Type != objType {
			continue
		}
		ids = append(ids, e.info.ID)
	}
	s.mu.Unlock()

	s.listMu.Lock()
	defer s.listMu.Unlock()
	s.lists[listingID] = &listingCursor{ids: ids}
	return model.StatusOK, nil
}

func (s *Store) ListingNext(listingID uint64) (model.ListRecord, model.Status, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	cur, ok := s.lists[listingID]
	if !ok {
		return model.ListRecord{}, model.StatusNoEntry, nil
	}
	if cur.pos >= len(cur.ids) {
		return model.ListRecord{}, model.StatusOutOfBounds, nil
	}
	id := cur.ids[cur.pos]
	cur.pos++

	s.mu.Lock()
	e, ok := s.objects[key(id)]
	s.mu.Unlock()
	if !ok {
		return model.ListRecord{}, model.StatusOutOfBounds, nil
	}
	return model.ListRecord{ID: id, Pinned: e.info.Pinned, Description: e.info.Description}, model.StatusOK, nil
}

func (s *Store) ListingEnd(listingID uint64) (model.Status, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	if _, ok := s.lists[listingID]; !ok {
		return model.StatusNoEntry, nil
	}
	delete(s.lists, listingID)
	return model.StatusOK, nil
}

// SendDetachRequests is a no-op: memstore holds nothing that needs
// flushing before a detach.
func (s *Store) SendDetachRequests() {}
