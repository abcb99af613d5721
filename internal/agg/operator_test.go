package agg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestream/corestream/internal/cache"
	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/sortbuf"
	"github.com/corestream/corestream/internal/state"
	"github.com/corestream/corestream/internal/testutil"
)

// newSumOperator builds an Operator computing sum(col 1) grouped by col 0,
// with col 2 as the row's input primary key and no materialized calls.
func newSumOperator(t *testing.T, emit func(Row)) *Operator {
	t.Helper()
	db := testutil.MemStore(t)
	resultTable := state.Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0))

	cfg := Config{
		TableID:         1,
		GroupKeyIndices: []int{0},
		InputPKIndices:  []int{2},
		Calls:           []AggCall{{Kind: AggSum, InputCol: 1}},
		RowCountIndex:   1,
		ChunkSize:       16,
	}
	groupCache := cache.New[GroupKey, *AggGroup](100, 10, 4)
	return New(cfg, groupCache, nil, resultTable, emit, NewSortBufferAdapter(sortbuf.New(), resultTable))
}

func initialBarrier(curr epoch.Epoch) epoch.Barrier {
	return epoch.Barrier{Epoch: epoch.Pair{Prev: epoch.Zero, Curr: curr}, Kind: epoch.KindInitial}
}

func checkpointBarrier(prev, curr epoch.Epoch) epoch.Barrier {
	return epoch.Barrier{Epoch: epoch.Pair{Prev: prev, Curr: curr}, Kind: epoch.KindCheckpoint}
}

func TestApplyChunkThenBarrierEmitsSumInsert(t *testing.T) {
	var emitted []Row
	op := newSumOperator(t, func(r Row) { emitted = append(emitted, r) })
	op.HandleInitialBarrier(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	chunk := Chunk{
		Ops: []Op{OpInsert, OpInsert},
		Rows: []Row{
			{"g1", 10, 1},
			{"g1", 5, 2},
		},
	}
	require.NoError(t, op.ApplyChunk(context.Background(), 0, chunk))
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(1, 2)))

	require.Len(t, emitted, 1)
	assert.Equal(t, float64(15), emitted[0][0])
	assert.Equal(t, int64(2), emitted[0][1])
}

func TestSecondBarrierReusesCachedGroupForRunningSum(t *testing.T) {
	var emitted []Row
	op := newSumOperator(t, func(r Row) { emitted = append(emitted, r) })
	op.HandleInitialBarrier(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	chunk1 := Chunk{Ops: []Op{OpInsert}, Rows: []Row{{"g1", 10, 1}}}
	require.NoError(t, op.ApplyChunk(context.Background(), 0, chunk1))
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(1, 2)))
	require.Len(t, emitted, 1)
	assert.Equal(t, float64(10), emitted[0][0])

	// The group stays hot in cache; a second chunk for the same key must
	// not re-hydrate from a stale on-disk snapshot mid-epoch.
	assert.Equal(t, 1, op.cache.Len())

	chunk2 := Chunk{Ops: []Op{OpInsert}, Rows: []Row{{"g1", 7, 3}}}
	require.NoError(t, op.ApplyChunk(context.Background(), 0, chunk2))
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(2, 3)))

	require.Len(t, emitted, 2)
	assert.Equal(t, float64(17), emitted[1][0])
}

func TestNoChangeBarrierCommitsNoDataExpected(t *testing.T) {
	var emitted []Row
	op := newSumOperator(t, func(r Row) { emitted = append(emitted, r) })
	op.HandleInitialBarrier(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	// No ApplyChunk call at all: the barrier pipeline must still succeed,
	// taking the CommitNoDataExpected path rather than panicking.
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(1, 2)))
	assert.Empty(t, emitted)
}

func TestVnodeRebalanceCausingStaleClearsCache(t *testing.T) {
	var emitted []Row
	op := newSumOperator(t, func(r Row) { emitted = append(emitted, r) })
	op.HandleInitialBarrier(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	chunk := Chunk{Ops: []Op{OpInsert}, Rows: []Row{{"g1", 10, 1}}}
	require.NoError(t, op.ApplyChunk(context.Background(), 0, chunk))
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(1, 2)))
	require.Equal(t, 1, op.cache.Len())

	// Narrowing this operator's vnode ownership away from vnode 0 may
	// stale any cached group hydrated under it.
	mutation := epoch.Barrier{
		Epoch:    epoch.Pair{Prev: 2, Curr: 3},
		Kind:     epoch.KindCheckpoint,
		Mutation: epoch.UpdateVnodeBitmap{New: ident.NewVnodeBitmap(1)},
	}
	require.NoError(t, op.RunBarrierPipeline(context.Background(), mutation))
	assert.Equal(t, 0, op.cache.Len())
}

func TestStopMutationReturnsErrStop(t *testing.T) {
	op := newSumOperator(t, func(Row) {})
	op.HandleInitialBarrier(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	b := epoch.Barrier{Epoch: epoch.Pair{Prev: 1, Curr: 2}, Kind: epoch.KindCheckpoint, Mutation: epoch.Stop{}}
	err := op.RunBarrierPipeline(context.Background(), b)
	assert.ErrorIs(t, err, ErrStop)
}

func TestEmitOnWindowCloseBuffersUntilWatermark(t *testing.T) {
	var emitted []Row
	db := testutil.MemStore(t)
	resultTable := state.Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0))
	cfg := Config{
		TableID:           1,
		GroupKeyIndices:   []int{0},
		InputPKIndices:    []int{2},
		Calls:             []AggCall{{Kind: AggSum, InputCol: 1}},
		RowCountIndex:     1,
		EmitOnWindowClose: true,
		WindowColumn:      0, // the group key column also carries the window value here
	}
	groupCache := cache.New[GroupKey, *AggGroup](100, 10, 4)
	op := New(cfg, groupCache, nil, resultTable, func(r Row) { emitted = append(emitted, r) }, NewSortBufferAdapter(sortbuf.New(), resultTable))
	op.HandleInitialBarrier(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	chunk := Chunk{Ops: []Op{OpInsert}, Rows: []Row{{int64(100), 10, 1}}}
	require.NoError(t, op.ApplyChunk(context.Background(), 0, chunk))
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(1, 2)))
	assert.Empty(t, emitted, "EOWC must hold the insert until the window watermark passes it")

	op.BufferWatermark(0, 50)
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(2, 3)))
	assert.Empty(t, emitted, "watermark below the window must not release it yet")

	op.BufferWatermark(0, 150)
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(3, 4)))
	require.Len(t, emitted, 1)
}

// TestMaterializedMinRecomputesFromSameBarrierCandidates exercises the
// Get/Scan read-your-writes fix: a materialized min call's candidate rows
// are staged into its backing table earlier in the same barrier
// (writeCandidateRow), and FlushStateIfNeeded's Recompute must see them via
// Scan without waiting for that table's Commit to run later in the same
// pipeline.
func TestMaterializedMinRecomputesFromSameBarrierCandidates(t *testing.T) {
	var emitted []Row
	db := testutil.MemStore(t)
	resultTable := state.Open(db, ident.TableID(1), []int{0}, ident.NewVnodeBitmap(0))
	minStorage := state.Open(db, ident.TableID(2), []int{0}, ident.NewVnodeBitmap(0))

	cfg := Config{
		TableID:         1,
		GroupKeyIndices: []int{0},
		InputPKIndices:  []int{2},
		Calls:           []AggCall{{Kind: AggMin, InputCol: 1}},
		RowCountIndex:   0,
	}
	groupCache := cache.New[GroupKey, *AggGroup](100, 10, 4)
	op := New(cfg, groupCache, []*state.Table{minStorage}, resultTable, func(r Row) { emitted = append(emitted, r) }, NewSortBufferAdapter(sortbuf.New(), resultTable))
	op.HandleInitialBarrier(epoch.Pair{Prev: epoch.Zero, Curr: 1})

	chunk := Chunk{
		Ops: []Op{OpInsert, OpInsert, OpInsert},
		Rows: []Row{
			{"g1", 10, 1},
			{"g1", 3, 2},
			{"g1", 7, 3},
		},
	}
	require.NoError(t, op.ApplyChunk(context.Background(), 0, chunk))
	require.NoError(t, op.RunBarrierPipeline(context.Background(), checkpointBarrier(1, 2)))

	require.Len(t, emitted, 1)
	assert.Equal(t, int64(3), emitted[0][0])
	assert.Equal(t, float64(3), emitted[0][1], "min recompute must see this barrier's own candidate writes")
}
