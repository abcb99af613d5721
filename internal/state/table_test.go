package state

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/testutil"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *pebble.DB {
	return testutil.MemStore(t)
}

func TestCommitMakesWritesDurableAndAdvancesEpoch(t *testing.T) {
	db := newMemStore(t)
	tbl := Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0))
	tbl.InitEpoch(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	tbl.WriteRecord(OpInsert, Row{Vnode: 0, Key: []byte("k1"), Value: []byte("v1")})
	require.NoError(t, tbl.Commit(context.Background(), epoch.Pair{Prev: 1, Curr: 2}))

	value, ok, err := tbl.Get(0, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), value)
}

func TestDeleteRemovesRow(t *testing.T) {
	db := newMemStore(t)
	tbl := Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0))
	tbl.InitEpoch(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	tbl.WriteRecord(OpInsert, Row{Vnode: 0, Key: []byte("k1"), Value: []byte("v1")})
	require.NoError(t, tbl.Commit(context.Background(), epoch.Pair{Prev: 1, Curr: 2}))

	tbl.WriteRecord(OpDelete, Row{Vnode: 0, Key: []byte("k1")})
	require.NoError(t, tbl.Commit(context.Background(), epoch.Pair{Prev: 2, Curr: 3}))

	_, ok, err := tbl.Get(0, []byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitNoDataExpectedPanicsOnPendingWrites(t *testing.T) {
	db := newMemStore(t)
	tbl := Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0))
	tbl.WriteRecord(OpInsert, Row{Vnode: 0, Key: []byte("k1"), Value: []byte("v1")})

	require.Panics(t, func() {
		tbl.CommitNoDataExpected(epoch.Pair{Prev: 1, Curr: 2})
	})
}

func TestScanOrdersByPKWithinVnode(t *testing.T) {
	db := newMemStore(t)
	tbl := Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0, 1))
	tbl.InitEpoch(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	tbl.WriteRecord(OpInsert, Row{Vnode: 0, Key: []byte("b"), Value: []byte("2")})
	tbl.WriteRecord(OpInsert, Row{Vnode: 0, Key: []byte("a"), Value: []byte("1")})
	tbl.WriteRecord(OpInsert, Row{Vnode: 1, Key: []byte("z"), Value: []byte("other-vnode")})
	require.NoError(t, tbl.Commit(context.Background(), epoch.Pair{Prev: 1, Curr: 2}))

	var keys []string
	require.NoError(t, tbl.Scan(0, func(pk, value []byte) bool {
		keys = append(keys, string(pk))
		return true
	}))
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestUpdateVnodeBitmapReturnsPrevious(t *testing.T) {
	db := newMemStore(t)
	tbl := Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0, 1))

	prev := tbl.UpdateVnodeBitmap(ident.NewVnodeBitmap(1, 2))
	require.True(t, prev.Contains(0))
	require.True(t, ident.MayStale(prev, tbl.Vnodes()))
}
