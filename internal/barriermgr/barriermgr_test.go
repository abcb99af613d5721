package barriermgr

import (
	"context"
	"testing"

	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/tracker"
	"github.com/corestream/corestream/internal/util/stopper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndUpdateSerializeThroughOneGoroutine(t *testing.T) {
	tr := tracker.New()
	m := New(tr)
	stp := stopper.WithContext(context.Background())
	m.Run(stp)
	defer stp.Stop()

	actor := ident.ActorID(1)
	cmd := &tracker.CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{actor},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {actor}},
		DispatchCount:      map[ident.ActorID]int{actor: 1},
	}
	stats := tracker.VersionStats{1: {TotalKeyCount: 10}}

	ctx := context.Background()
	job, err := m.Add(ctx, cmd, nil, stats)
	require.NoError(t, err)
	assert.Nil(t, job)

	finished, err := m.Update(ctx, tracker.ProgressReport{BackfillActorID: actor, Done: true, ConsumedRows: 10}, stats)
	require.NoError(t, err)
	require.NotNil(t, finished)
}

func TestCancelRemovesTracking(t *testing.T) {
	tr := tracker.New()
	m := New(tr)
	stp := stopper.WithContext(context.Background())
	m.Run(stp)
	defer stp.Stop()

	actor := ident.ActorID(1)
	cmd := &tracker.CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{actor},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {actor}},
		DispatchCount:      map[ident.ActorID]int{actor: 1},
	}
	stats := tracker.VersionStats{1: {TotalKeyCount: 10}}
	ctx := context.Background()

	_, err := m.Add(ctx, cmd, nil, stats)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, 1))

	finished, err := m.Update(ctx, tracker.ProgressReport{BackfillActorID: actor, Done: true, ConsumedRows: 10}, stats)
	require.NoError(t, err)
	assert.Nil(t, finished)
}
