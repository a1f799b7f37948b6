package channel

import "sync/atomic"

// idAllocator hands out monotonically increasing session, transaction, and
// listing identifiers. Increment-and-return is atomic under concurrent
// callers, since AskToDetach and teardown may run on a goroutine other than
// the supervisor's. Listing ids are seeded so the first one returned is 1;
// 0 is reserved to mean "not yet assigned" and must never be allocated.
type idAllocator struct {
	session atomic.Uint64
	txn     atomic.Uint64
	listing atomic.Uint64
}

func (a *idAllocator) nextSession() uint64 { return a.session.Add(1) }
func (a *idAllocator) nextTxn() uint64     { return a.txn.Add(1) }
func (a *idAllocator) nextListing() uint64 { return a.listing.Add(1) }
