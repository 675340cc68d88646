// Package sweep は期限切れセッションの自動削除ジョブを提供する。
// expires_atを過ぎたセッション行を定期バッチで削除する。
// 検証クエリは期限切れセッションを最初から除外しているため、
// スイープは正しさではなくテーブルサイズの維持のために行う。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/metrics"
)

// ExpiredSweeper は期限切れセッションの一括削除を抽象化するインターフェース。
// auth.Serviceの部分集合として定義する。
type ExpiredSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Job は期限切れセッションの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type Job struct {
	sweeper   ExpiredSweeper
	collector metrics.MetricsCollector
	logger    *slog.Logger
	Interval  time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewJob は新しいJobを生成する。
// デフォルトの実行間隔は1時間。
func NewJob(sweeper ExpiredSweeper, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	return &Job{
		sweeper:   sweeper,
		collector: collector,
		logger:    logger,
		Interval:  1 * time.Hour,
	}
}

// Run は期限切れセッションを1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("セッションスイープジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションスイープの実行に失敗: %w", err)
	}

	if j.collector != nil {
		j.collector.RecordSessionsSwept(deleted)
	}

	duration := time.Since(start)
	j.logger.Info("セッションスイープジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、その後Interval間隔でRunを繰り返す。
// コンテキストのキャンセルで停止する（ブロッキング）。
// 個々の実行の失敗はログに残し、ループは継続する。
func (j *Job) Start(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("session sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session sweep job stopped")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("session sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
