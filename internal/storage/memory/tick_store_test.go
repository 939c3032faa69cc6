package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"candle-engine/internal/domain"
	"candle-engine/internal/storage"
)

var t0 = time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

func TestTickStore_RangeOrderingAndAfterID(t *testing.T) {
	store := NewTickStore()
	ctx := context.Background()

	// inserted out of timestamp order
	ticks := []*domain.Tick{
		{InstrumentID: "i1", Timestamp: t0.Add(30 * time.Second), LTP: 3},
		{InstrumentID: "i1", Timestamp: t0.Add(10 * time.Second), LTP: 1},
		{InstrumentID: "i1", Timestamp: t0.Add(30 * time.Second), LTP: 4},
		{InstrumentID: "i1", Timestamp: t0.Add(time.Minute), LTP: 9},
		{InstrumentID: "i2", Timestamp: t0.Add(20 * time.Second), LTP: 7},
	}
	for _, tk := range ticks {
		if err := store.Insert(ctx, tk); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByTimeRange(ctx, "i1", t0, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 ticks in [t0, t0+1m), got %d", len(got))
	}
	wantLTP := []float64{1, 3, 4}
	for i, tk := range got {
		if tk.LTP != wantLTP[i] {
			t.Errorf("tick %d: got ltp %v want %v", i, tk.LTP, wantLTP[i])
		}
	}

	after, err := store.GetAfterID(ctx, "i1", t0, t0.Add(time.Minute), ticks[1].ID)
	if err != nil {
		t.Fatalf("GetAfterID failed: %v", err)
	}
	if len(after) != 1 || after[0].ID != ticks[2].ID {
		t.Errorf("expected only tick id %d, got %+v", ticks[2].ID, after)
	}
}

func TestTickStore_LatestCountDelete(t *testing.T) {
	store := NewTickStore()
	ctx := context.Background()

	if _, err := store.GetLatest(ctx, "i1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	for i := 0; i < 5; i++ {
		tk := &domain.Tick{InstrumentID: "i1", Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour), LTP: float64(i + 1)}
		if err := store.Insert(ctx, tk); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	latest, err := store.GetLatest(ctx, "i1")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.LTP != 5 {
		t.Errorf("expected latest ltp 5, got %v", latest.LTP)
	}

	deleted, err := store.DeleteOlderThan(ctx, t0.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
	n, _ := store.Count(ctx, "i1")
	if n != 3 {
		t.Errorf("expected 3 remaining, got %d", n)
	}
}
