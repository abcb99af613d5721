package tracker

import (
	"context"
	"testing"

	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	finished bool
	failed   error
}

func (f *fakeNotifier) NotifyFinished()          { f.finished = true }
func (f *fakeNotifier) NotifyFinishFailed(e error) { f.failed = e }

func TestInstantDoneJob(t *testing.T) {
	tr := New()
	cmd := &CreateStreamingJobCommand{TableID: 1}
	n := &fakeNotifier{}

	job := tr.Add(cmd, []Notifier{n}, nil)
	require.NotNil(t, job)
	assert.Empty(t, tr.progressMap)
}

func TestSingleActorLifecycle(t *testing.T) {
	tr := New()
	actor := ident.ActorID(7)
	cmd := &CreateStreamingJobCommand{
		TableID:             100,
		ActorsToTrack:       []ident.ActorID{actor},
		UpstreamRootActors:  map[ident.TableID][]ident.ActorID{100: {actor}},
		DispatchCount:       map[ident.ActorID]int{actor: 2},
		Definition:          "create materialized view mv1",
	}
	stats := VersionStats{100: {TotalKeyCount: 50}}

	job := tr.Add(cmd, nil, stats)
	assert.Nil(t, job)

	table, ok := tr.ownerOf(actor)
	require.True(t, ok)
	assert.Equal(t, ident.TableID(100), table)

	got := tr.Update(ProgressReport{BackfillActorID: actor, Done: false, ConsumedEpoch: 5, ConsumedRows: 25}, stats)
	assert.Nil(t, got)
	assert.InDelta(t, 0.25, tr.progressMap[100].progress.CalculateProgress(), 1e-9)

	finishedJob := tr.Update(ProgressReport{BackfillActorID: actor, Done: true, ConsumedRows: 100}, stats)
	require.NotNil(t, finishedJob)
	_, stillTracked := tr.ownerOf(actor)
	assert.False(t, stillTracked)
}

func TestDoubleDoneAfterJobFinishedIsIgnored(t *testing.T) {
	tr := New()
	actor := ident.ActorID(1)
	cmd := &CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{actor},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {actor}},
		DispatchCount:      map[ident.ActorID]int{actor: 1},
	}
	stats := VersionStats{1: {TotalKeyCount: 10}}
	tr.Add(cmd, nil, stats)

	job := tr.Update(ProgressReport{BackfillActorID: actor, Done: true, ConsumedRows: 50}, stats)
	require.NotNil(t, job)

	// After finishing, the actor is no longer tracked, so a second Done
	// report is the recovery-race case (idempotent no-op), not a panic.
	assert.NotPanics(t, func() {
		got := tr.Update(ProgressReport{BackfillActorID: actor, Done: true, ConsumedRows: 60}, stats)
		assert.Nil(t, got)
	})
}

func TestDoubleDoneWithinSameTrackedJobIgnoredByDefault(t *testing.T) {
	// See tracker_debug_test.go for the "go test -tags debug" fatal path;
	// the default (non-"debug") build logs and ignores the duplicate report.
	tr := New()
	a1, a2 := ident.ActorID(1), ident.ActorID(2)
	cmd := &CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{a1, a2},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {a1, a2}},
		DispatchCount:      map[ident.ActorID]int{a1: 1, a2: 1},
	}
	stats := VersionStats{1: {TotalKeyCount: 10}}
	tr.Add(cmd, nil, stats)

	job := tr.Update(ProgressReport{BackfillActorID: a1, Done: true, ConsumedRows: 50}, stats)
	assert.Nil(t, job) // a2 still pending

	assert.NotPanics(t, func() {
		got := tr.Update(ProgressReport{BackfillActorID: a1, Done: true, ConsumedRows: 60}, stats)
		assert.Nil(t, got)
	})
}

func TestAddDuplicateTableIDIgnoredByDefault(t *testing.T) {
	// See tracker_debug_test.go for the "go test -tags debug" fatal path.
	tr := New()
	actor := ident.ActorID(1)
	cmd := &CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{actor},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {actor}},
		DispatchCount:      map[ident.ActorID]int{actor: 1},
	}
	stats := VersionStats{1: {TotalKeyCount: 10}}
	require.Nil(t, tr.Add(cmd, nil, stats))

	assert.NotPanics(t, func() {
		job := tr.Add(cmd, nil, stats)
		assert.Nil(t, job)
	})
	assert.Len(t, tr.progressMap, 1)
}

func TestUpdateForUnknownActorIsIgnored(t *testing.T) {
	tr := New()
	got := tr.Update(ProgressReport{BackfillActorID: 999}, VersionStats{})
	assert.Nil(t, got)
}

func TestCancelCommandPurgesActorMap(t *testing.T) {
	tr := New()
	actor := ident.ActorID(1)
	cmd := &CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{actor},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {actor}},
		DispatchCount:      map[ident.ActorID]int{actor: 1},
	}
	tr.Add(cmd, nil, VersionStats{1: {TotalKeyCount: 10}})
	tr.CancelCommand(1)

	_, ok := tr.ownerOf(actor)
	assert.False(t, ok)
	assert.Empty(t, tr.progressMap)
}

func TestAbortAllNotifiesAndClears(t *testing.T) {
	tr := New()
	actor := ident.ActorID(1)
	n := &fakeNotifier{}
	cmd := &CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{actor},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {actor}},
		DispatchCount:      map[ident.ActorID]int{actor: 1},
	}
	tr.Add(cmd, []Notifier{n}, VersionStats{1: {TotalKeyCount: 10}})

	tr.AbortAll(assertErr)
	assert.Equal(t, assertErr, n.failed)
	assert.Empty(t, tr.progressMap)
	assert.Empty(t, tr.actorMap)
}

var assertErr = errStub{}

type errStub struct{}

func (errStub) Error() string { return "stub error" }

func TestFinishJobsDefersCheckpointRequiredOnNonCheckpoint(t *testing.T) {
	tr := New()
	n := &fakeNotifier{}
	cmd := &CreateStreamingJobCommand{TableID: 1, Kind: CommandCheckpoint}
	job := NewJob(cmd, []Notifier{n})
	tr.StashCommandToFinish(job)

	pending, err := tr.FinishJobs(context.Background(), false, nil)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.False(t, n.finished)

	pending, err = tr.FinishJobs(context.Background(), true, nil)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.True(t, n.finished)
}

func TestRecoverStartsActorsConsumingFromZero(t *testing.T) {
	actor := ident.ActorID(42)
	tr := Recover([]RecoverInput{
		{TableID: 1, Actors: []ident.ActorID{actor}, UpstreamMVCount: map[ident.TableID]uint64{1: 2}, Definition: "mv"},
	}, VersionStats{1: {TotalKeyCount: 100}})

	e := tr.progressMap[1]
	require.NotNil(t, e)
	st := e.progress.States[actor]
	assert.Equal(t, epoch.Zero, st.Epoch)
	assert.Equal(t, uint64(0), st.ConsumedRows)
	assert.Equal(t, uint64(200), e.progress.UpstreamTotalKeyCount)
}
