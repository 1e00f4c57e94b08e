package judge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRecorder(rdb, 0), mr
}

func passingResult() Result {
	return Result{
		Dimensions: map[string]float64{
			"relevance": 9, "safety": 9, "coherence": 9, "accuracy": 9, "completeness": 9,
		},
		Flags:       []string{},
		Reasoning:   "fine",
		EvaluatedAt: time.Now().UTC(),
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, "req-1", passingResult())

	got, ok := r.Load(ctx, "req-1")
	if !ok {
		t.Fatal("Load() missed a recorded result")
	}
	if got.Dimensions["relevance"] != 9 || got.Reasoning != "fine" {
		t.Errorf("Load() = %+v", got)
	}
}

func TestRecorderCounters(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, "req-1", passingResult())

	failing := passingResult()
	failing.Flags = []string{"hallucination"}
	r.Record(ctx, "req-2", failing)

	total, failed := r.Totals(ctx)
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestRecorderResultTTL(t *testing.T) {
	r, mr := newTestRecorder(t)
	r.Record(context.Background(), "req-1", passingResult())

	if ttl := mr.TTL("judge:result:req-1"); ttl != DefaultResultTTL {
		t.Errorf("result TTL = %v, want %v", ttl, DefaultResultTTL)
	}
}

func TestRecorderRedisDownIsSilent(t *testing.T) {
	r, mr := newTestRecorder(t)
	mr.Close()

	// Must not panic or propagate.
	r.Record(context.Background(), "req-1", passingResult())
	if _, ok := r.Load(context.Background(), "req-1"); ok {
		t.Error("Load() returned a result while Redis was down")
	}
}
