package progress_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetpipe/internal/progress"
	"assetpipe/internal/queue"
)

func TestHubReplaysHistoryToLateSubscribers(t *testing.T) {
	hub := progress.NewHub()
	item := queue.NewItem("Chair", "", queue.BatchPlan)

	hub.Progress(progress.Event{Stage: queue.StageSave, BatchProgress: 20})
	hub.ItemUpdated(item)
	hub.Progress(progress.Event{Stage: queue.StageRemoveBackground, BatchProgress: 40})
	hub.Close()

	for range 2 {
		var got []progress.Update
		for u := range hub.Subscribe(context.Background()) {
			got = append(got, u)
		}
		require.Len(t, got, 3)
		assert.Equal(t, uint64(1), got[0].Sequence)
		assert.Equal(t, 20.0, got[0].Event.BatchProgress)
		assert.Equal(t, item.CorrelationKey, got[1].Item.CorrelationKey)
		assert.Equal(t, 40.0, got[2].Event.BatchProgress)
	}
}

func TestHubSnapshotsItems(t *testing.T) {
	hub := progress.NewHub()
	item := queue.NewItem("Lamp", "", queue.BatchPlan)
	hub.ItemUpdated(item)
	item.Name = "mutated"

	history := hub.History()
	require.Len(t, history, 1)
	assert.Equal(t, "Lamp", history[0].Item.Name)
}

func TestHubSubscribeFollowsLiveUpdates(t *testing.T) {
	hub := progress.NewHub()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates := hub.Subscribe(ctx)
	go func() {
		for i := 1; i <= 3; i++ {
			hub.Progress(progress.Event{BatchProgress: float64(i * 10)})
		}
		hub.Close()
	}()

	var progressValues []float64
	for u := range updates {
		progressValues = append(progressValues, u.Event.BatchProgress)
	}
	assert.Equal(t, []float64{10, 20, 30}, progressValues)
}

func TestHubFetchNonBlocking(t *testing.T) {
	hub := progress.NewHub()
	got, next, err := hub.Fetch(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint64(0), next)

	hub.Progress(progress.Event{BatchProgress: 5})
	got, next, err = hub.Fetch(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, uint64(1), next)

	hub.Close()
	_, _, err = hub.Fetch(context.Background(), next, true)
	assert.ErrorIs(t, err, progress.ErrClosed)
	hub.Progress(progress.Event{BatchProgress: 99})
	assert.Len(t, hub.History(), 1, "publishes after close are dropped")
}

func TestHubFetchStopsOnCancel(t *testing.T) {
	hub := progress.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := hub.Fetch(ctx, 0, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBoardMergesByCorrelationKey(t *testing.T) {
	hub := progress.NewHub()
	first := queue.NewItem("A", "", queue.BatchPlan)
	first.Position = 1
	second := queue.NewItem("B", "", queue.BatchPlan)
	second.Position = 0

	hub.ItemUpdated(first)
	hub.ItemUpdated(second)
	first.ServerID = "srv-a"
	hub.ItemUpdated(first)
	hub.Progress(progress.Event{BatchProgress: 60})
	hub.Close()

	board := progress.NewBoard()
	for _, u := range hub.History() {
		board.Apply(u)
	}
	// Re-applying is idempotent.
	for _, u := range hub.History() {
		board.Apply(u)
	}

	items := board.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].Name)
	assert.Equal(t, "srv-a", items[1].ServerID)

	latest, ok := board.Latest()
	require.True(t, ok)
	assert.Equal(t, 60.0, latest.BatchProgress)
}

func TestMultiAndFuncs(t *testing.T) {
	var events []progress.Event
	var items []string
	r := progress.Multi{
		progress.Nop{},
		progress.Funcs{
			OnProgress: func(e progress.Event) { events = append(events, e) },
			OnItem:     func(i *queue.Item) { items = append(items, i.Name) },
		},
	}
	r.Progress(progress.Event{BatchProgress: 1})
	r.ItemUpdated(queue.NewItem("X", "", nil))
	assert.Len(t, events, 1)
	assert.Equal(t, []string{"X"}, items)
	assert.Equal(t, 100.0, progress.ClampPercent(140))
	assert.Equal(t, 0.0, progress.ClampPercent(-2))
}
