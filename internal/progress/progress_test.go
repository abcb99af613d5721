package progress

import (
	"testing"

	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleActorSingleReport(t *testing.T) {
	actor := ident.ActorID(7)
	p := New([]ident.ActorID{actor},
		map[ident.TableID]uint64{100: 2},
		100, // upstream_total_key_count = 2 * 50
		"create materialized view mv1 as select ...",
	)

	p.Update(actor, ConsumingState(epoch.Epoch(5), 25), 100)
	assert.InDelta(t, 0.25, p.CalculateProgress(), 1e-9)
	assert.False(t, p.IsDone())

	p.Update(actor, DoneState(100), 100)
	assert.True(t, p.IsDone())
	assert.Equal(t, 1.0, p.CalculateProgress())
	assert.Equal(t, uint64(100), p.ConsumedRows)
}

func TestDoubleDoneRejected(t *testing.T) {
	// The default (non-"debug"-tagged) build logs and ignores a duplicate
	// Done report rather than crashing the process; see
	// progress_debug_test.go for the "go test -tags debug" fatal path.
	actor := ident.ActorID(1)
	p := New([]ident.ActorID{actor}, map[ident.TableID]uint64{1: 1}, 1000, "mv")
	p.Update(actor, DoneState(50), 1000)

	assert.NotPanics(t, func() {
		p.Update(actor, DoneState(60), 1000)
	})
	assert.Equal(t, 1, p.DoneCount, "a duplicate Done report must not double-count")
}

func TestCalculateProgressClampedBelowOne(t *testing.T) {
	actor := ident.ActorID(1)
	p := New([]ident.ActorID{actor}, map[ident.TableID]uint64{1: 1}, 10, "mv")
	p.Update(actor, ConsumingState(epoch.Epoch(1), 1000), 10)
	assert.Equal(t, 0.99, p.CalculateProgress())
}

func TestConsumingDecreasesOnReplay(t *testing.T) {
	// On replay, the previously counted rows are subtracted before the new
	// count is added (spec.md §4.7); consumed_rows may transiently decrease.
	actor := ident.ActorID(1)
	p := New([]ident.ActorID{actor}, map[ident.TableID]uint64{1: 1}, 1000, "mv")
	p.Update(actor, ConsumingState(epoch.Epoch(1), 500), 1000)
	require.Equal(t, uint64(500), p.ConsumedRows)

	p.Update(actor, ConsumingState(epoch.Epoch(2), 100), 1000)
	assert.Equal(t, uint64(100), p.ConsumedRows)
}

func TestMultiActorDoneCount(t *testing.T) {
	a1, a2 := ident.ActorID(1), ident.ActorID(2)
	p := New([]ident.ActorID{a1, a2}, map[ident.TableID]uint64{1: 2}, 200, "mv")

	p.Update(a1, DoneState(80), 200)
	assert.False(t, p.IsDone())
	assert.Equal(t, 1, p.DoneCount)

	p.Update(a2, DoneState(120), 200)
	assert.True(t, p.IsDone())
	assert.Equal(t, 2, p.DoneCount)
	assert.Equal(t, uint64(200), p.ConsumedRows)
}

func TestFormatPercent(t *testing.T) {
	a := ident.ActorID(1)
	p := New([]ident.ActorID{a}, map[ident.TableID]uint64{1: 1}, 100, "mv")
	p.Update(a, ConsumingState(epoch.Epoch(1), 25), 100)
	assert.Equal(t, "25.00%", p.FormatPercent())
}

func TestNewPanicsOnEmptyActors(t *testing.T) {
	assert.Panics(t, func() {
		New(nil, nil, 0, "mv")
	})
}
