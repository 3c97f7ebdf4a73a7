package queue_test

import (
	"context"
	"testing"
	"time"

	"assetpipe/internal/queue"
	"assetpipe/internal/testsupport"
)

func TestStoreItemRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	item := queue.NewItem("Chair", "https://example.com/chair", queue.BatchPlan)
	item.BatchID = "batch-1"
	item.Position = 0
	item.ServerID = "srv-1"
	if err := item.CompleteStage(queue.StageSave, []byte(`{"id":"srv-1"}`), 1, now); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	item.AddCost(1.5)

	if err := store.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	item.ProcessedImages = []string{"https://cdn/a.png"}
	if err := store.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem upsert: %v", err)
	}

	got, err := store.GetItem(ctx, item.CorrelationKey)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored item")
	}
	if got.ServerID != "srv-1" || got.Cost != 1.5 || len(got.ProcessedImages) != 1 {
		t.Fatalf("unexpected item %+v", got)
	}
	if !got.StageCompleted(queue.StageSave) {
		t.Fatal("expected save stage to persist as completed")
	}

	missing, err := store.GetItem(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil,nil for missing item, got %v, %v", missing, err)
	}
}

func TestStoreListItemsOrdersByPosition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, pos := range []int{2, 0, 1} {
		item := queue.NewItem("item", "", queue.BatchPlan)
		item.BatchID = "batch-2"
		item.Position = pos
		if err := store.SaveItem(ctx, item); err != nil {
			t.Fatalf("SaveItem: %v", err)
		}
	}
	other := queue.NewItem("other", "", queue.BatchPlan)
	other.BatchID = "batch-3"
	if err := store.SaveItem(ctx, other); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	items, err := store.ListItems(ctx, "batch-2")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, item := range items {
		if item.Position != i {
			t.Fatalf("expected position %d, got %d", i, item.Position)
		}
	}
}

func TestStoreBatchRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := queue.BatchRecord{ID: "b-1", Status: queue.BatchRunning, Total: 3, StartedAt: started}
	if err := store.SaveBatch(ctx, rec); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	rec.Status = queue.BatchCompleted
	rec.Completed = 2
	rec.Failed = 1
	rec.Cost = 4.25
	rec.CompletedAt = started.Add(time.Minute)
	if err := store.SaveBatch(ctx, rec); err != nil {
		t.Fatalf("SaveBatch update: %v", err)
	}

	got, err := store.GetBatch(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got == nil || got.Status != queue.BatchCompleted || got.Completed != 2 || got.Failed != 1 || got.Cost != 4.25 {
		t.Fatalf("unexpected batch %+v", got)
	}
	if !got.CompletedAt.Equal(rec.CompletedAt) {
		t.Fatalf("expected completed_at %v, got %v", rec.CompletedAt, got.CompletedAt)
	}

	list, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(list) != 1 || list[0].ID != "b-1" {
		t.Fatalf("unexpected batch list %+v", list)
	}
}
