package memstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objcached/objcached/backend"
	"github.com/objcached/objcached/model"
)

func mustID(t *testing.T, b byte) model.ObjectID {
	digest := make([]byte, model.AlgoSHA256.Size())
	digest[0] = b
	id, err := model.ParseObjectID(model.AlgoSHA256, digest)
	require.NoError(t, err)
	return id
}

func newStore(t *testing.T) *Store {
	be, err := New(nil)
	require.NoError(t, err)
	s, ok := be.(*Store)
	require.True(t, ok)
	return s
}

func TestRegisteredAsMemstore(t *testing.T) {
	require.Contains(t, backend.RegisteredBackends(), "memstore")
}

func TestStoreCommitAndRead(t *testing.T) {
	s := newStore(t)
	id := mustID(t, 1)

	status, err := s.StartTxn(100, id, model.ObjectInfo{Type: model.TypeRegular, Description: "x"})
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)

	status, err = s.WriteTxn(100, []byte("hello "))
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)
	status, err = s.WriteTxn(100, []byte("world"))
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)

	status, err = s.CommitTxn(100)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)

	buf := make([]byte, 11)
	n, status, err := s.Pread(id, 0, buf)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestReadMissingObject(t *testing.T) {
	s := newStore(t)
	_, status, err := s.Pread(mustID(t, 9), 0, make([]byte, 4))
	require.NoError(t, err)
	require.Equal(t, model.StatusNoEntry, status)
}

func TestAbortDiscardsTxn(t *testing.T) {
	s := newStore(t)
	id := mustID(t, 2)
	_, err := s.StartTxn(1, id, model.ObjectInfo{})
	require.NoError(t, err)
	status, err := s.AbortTxn(1)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)

	status, err = s.AbortTxn(1)
	require.NoError(t, err)
	require.Equal(t, model.StatusNoEntry, status)
}

func TestRefcountPinsObject(t *testing.T) {
	s := newStore(t)
	id := mustID(t, 3)
	_, err := s.StartTxn(1, id, model.ObjectInfo{})
	require.NoError(t, err)
	_, err = s.CommitTxn(1)
	require.NoError(t, err)

	status, err := s.ChangeRefcount(id, 1)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)

	info, status, err := s.GetObjectInfo(id)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)
	require.True(t, info.Pinned)
}

func TestShrinkEvictsUnpinnedOldest(t *testing.T) {
	s := newStore(t)
	for i := byte(0); i < 3; i++ {
		id := mustID(t, i)
		_, err := s.StartTxn(uint64(i), id, model.ObjectInfo{})
		require.NoError(t, err)
		_, err = s.WriteTxn(uint64(i), make([]byte, 10))
		require.NoError(t, err)
		_, err = s.CommitTxn(uint64(i))
		require.NoError(t, err)
	}
	used, status, err := s.Shrink(15)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)
	require.LessOrEqual(t, used, int64(15))

	_, status, err = s.GetObjectInfo(mustID(t, 0))
	require.NoError(t, err)
	require.Equal(t, model.StatusNoEntry, status, "oldest object must be evicted")
	_, status, err = s.GetObjectInfo(mustID(t, 2))
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status, "newest object must be kept")
}

func TestListingPagesThroughAllRecords(t *testing.T) {
	s := newStore(t)
	for i := byte(0); i < 3; i++ {
		id := mustID(t, i)
		_, err := s.StartTxn(uint64(i), id, model.ObjectInfo{Type: model.TypeRegular})
		require.NoError(t, err)
		_, err = s.CommitTxn(uint64(i))
		require.NoError(t, err)
	}

	status, err := s.ListingBegin(1, model.TypeUnknown)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)

	var records []model.ListRecord
	for {
		rec, status, err := s.ListingNext(1)
		require.NoError(t, err)
		if status == model.StatusOutOfBounds {
			break
		}
		require.Equal(t, model.StatusOK, status)
		records = append(records, rec)
	}
	require.Len(t, records, 3)

	status, err = s.ListingEnd(1)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, status)
}
