package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// --- モック定義 ---

type mockSweeper struct {
	sweepFn func(ctx context.Context) (int64, error)
	calls   atomic.Int64
}

func (m *mockSweeper) SweepExpired(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	if m.sweepFn != nil {
		return m.sweepFn(ctx)
	}
	return 0, nil
}

type mockCollector struct {
	swept atomic.Int64
}

func (m *mockCollector) RecordLogin(_ string, _ bool)      {}
func (m *mockCollector) RecordSessionIssued()              {}
func (m *mockCollector) RecordSessionValidation(_ bool)    {}
func (m *mockCollector) RecordStateMismatch()              {}
func (m *mockCollector) RecordSessionsSwept(count int64)   { m.swept.Add(count) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- テスト ---

// 削除件数がメトリクスに記録されることを検証
func TestRun_RecordsSweptCount(t *testing.T) {
	sweeper := &mockSweeper{
		sweepFn: func(_ context.Context) (int64, error) {
			return 7, nil
		},
	}
	collector := &mockCollector{}
	job := NewJob(sweeper, collector, discardLogger())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := collector.swept.Load(); got != 7 {
		t.Errorf("swept = %d, want 7", got)
	}
}

// 削除対象ゼロでもエラーにならないことを検証（冪等）
func TestRun_NoExpiredSessions(t *testing.T) {
	job := NewJob(&mockSweeper{}, &mockCollector{}, discardLogger())

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

// 削除失敗時にエラーが返ることを検証
func TestRun_SweepFails(t *testing.T) {
	sweeper := &mockSweeper{
		sweepFn: func(_ context.Context) (int64, error) {
			return 0, errors.New("db down")
		},
	}
	job := NewJob(sweeper, &mockCollector{}, discardLogger())

	if err := job.Run(context.Background()); err == nil {
		t.Error("expected error when sweep fails")
	}
}

// Startが起動直後に1回実行することを検証
func TestStart_RunsImmediately(t *testing.T) {
	sweeper := &mockSweeper{}
	job := NewJob(sweeper, &mockCollector{}, discardLogger())
	job.Interval = 1 * time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	// 初回実行を待つ
	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial sweep did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after context cancellation")
	}
}

// ティッカーで繰り返し実行されることを検証
func TestStart_RunsPeriodically(t *testing.T) {
	sweeper := &mockSweeper{}
	job := NewJob(sweeper, &mockCollector{}, discardLogger())
	job.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx)

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("sweep ran %d times, want >= 3", sweeper.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// 実行失敗してもループが継続することを検証
func TestStart_ContinuesAfterFailure(t *testing.T) {
	sweeper := &mockSweeper{
		sweepFn: func(_ context.Context) (int64, error) {
			return 0, errors.New("transient failure")
		},
	}
	job := NewJob(sweeper, &mockCollector{}, discardLogger())
	job.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx)

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweep ran %d times after failure, want >= 2", sweeper.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
