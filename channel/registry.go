package channel

import "github.com/puzpuzpuz/xsync/v3"

// txnKey identifies an in-progress multi-part store by the session and
// request id that started it.
type txnKey struct {
	sessionID uint64
	reqID     uint64
}

// txnRegistry maps (session_id, request_id) to the backend transaction id
// it started. Callers hold no lock of their own — xsync.MapOf serializes
// internally — because AskToDetach and Terminate may run concurrently with
// the supervisor goroutine that normally owns request dispatch.
type txnRegistry struct {
	m *xsync.MapOf[txnKey, uint64]
}

func newTxnRegistry() *txnRegistry {
	return &txnRegistry{m: xsync.NewMapOf[txnKey, uint64]()}
}

func (r *txnRegistry) contains(sessionID, reqID uint64) bool {
	_, ok := r.m.Load(txnKey{sessionID, reqID})
	return ok
}

func (r *txnRegistry) lookup(sessionID, reqID uint64) (uint64, bool) {
	return r.m.Load(txnKey{sessionID, reqID})
}

// insert adds the mapping iff the key is absent, reporting whether it did
// so — this is the guard against a restarted part 1 (§4.6: "if (session,
// req) already maps to a transaction, reply malformed").
func (r *txnRegistry) insert(sessionID, reqID, txnID uint64) (inserted bool) {
	_, loaded := r.m.LoadOrStore(txnKey{sessionID, reqID}, txnID)
	return !loaded
}

func (r *txnRegistry) erase(sessionID, reqID uint64) {
	r.m.Delete(txnKey{sessionID, reqID})
}

// clear removes every entry. Called on daemon termination; per §4.3 this
// does not itself abort anything backend-visible — the backend decides
// those transactions' fate.
func (r *txnRegistry) clear() {
	r.m.Range(func(k txnKey, _ uint64) bool {
		r.m.Delete(k)
		return true
	})
}
