package judge

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	keyResultPrefix      = "judge:result:"
	keyTotalEvaluations  = "judge:total_evaluations"
	keyFailedEvaluations = "judge:failed_evaluations"

	// DefaultResultTTL keeps verdicts around long enough for weekly
	// quality review.
	DefaultResultTTL = 7 * 24 * time.Hour
)

type storedResult struct {
	Dimensions  map[string]float64 `json:"dimensions"`
	Flags       []string           `json:"flags"`
	Passed      bool               `json:"passed"`
	Reasoning   string             `json:"reasoning"`
	EvaluatedAt string             `json:"evaluated_at"`
}

// Recorder persists judge verdicts in Redis: one keyed result per
// request plus running total/failed counters. Redis failures are
// logged and dropped.
type Recorder struct {
	rdb redis.Cmdable
	TTL time.Duration
}

// NewRecorder returns a recorder; ttl <= 0 falls back to
// DefaultResultTTL.
func NewRecorder(rdb redis.Cmdable, ttl time.Duration) *Recorder {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Recorder{rdb: rdb, TTL: ttl}
}

// Record stores the result under judge:result:<requestID> and bumps
// the evaluation counters.
func (r *Recorder) Record(ctx context.Context, requestID string, result Result) {
	passed := result.Passed()
	data, err := json.Marshal(storedResult{
		Dimensions:  result.Dimensions,
		Flags:       result.Flags,
		Passed:      passed,
		Reasoning:   result.Reasoning,
		EvaluatedAt: result.EvaluatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("judge result marshal failed", "request_id", requestID, "error", err)
		return
	}

	if err := r.rdb.Set(ctx, keyResultPrefix+requestID, data, r.TTL).Err(); err != nil {
		slog.Warn("judge result store failed", "request_id", requestID, "error", err)
		return
	}
	if err := r.rdb.Incr(ctx, keyTotalEvaluations).Err(); err != nil {
		slog.Warn("judge counter update failed", "error", err)
		return
	}
	if !passed {
		if err := r.rdb.Incr(ctx, keyFailedEvaluations).Err(); err != nil {
			slog.Warn("judge counter update failed", "error", err)
		}
	}
}

// Load returns the stored verdict for a request, or ok=false.
func (r *Recorder) Load(ctx context.Context, requestID string) (Result, bool) {
	data, err := r.rdb.Get(ctx, keyResultPrefix+requestID).Bytes()
	if err != nil {
		return Result{}, false
	}
	var stored storedResult
	if err := json.Unmarshal(data, &stored); err != nil {
		return Result{}, false
	}
	evaluatedAt, _ := time.Parse(time.RFC3339Nano, stored.EvaluatedAt)
	return Result{
		Dimensions:  stored.Dimensions,
		Flags:       stored.Flags,
		Reasoning:   stored.Reasoning,
		EvaluatedAt: evaluatedAt,
	}, true
}

// Totals returns the total and failed evaluation counts.
func (r *Recorder) Totals(ctx context.Context) (total, failed int64) {
	total, _ = r.rdb.Get(ctx, keyTotalEvaluations).Int64()
	failed, _ = r.rdb.Get(ctx, keyFailedEvaluations).Int64()
	return total, failed
}
