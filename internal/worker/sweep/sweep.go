// Package sweep は連携解除済みカレンダーに残った外部イベントの
// 掃き出しジョブを提供する。定期バッチとして冪等に実行できる。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OrphanSweeper は外部イベントの掃き出し処理を抽象化するインターフェース。
type OrphanSweeper interface {
	SweepOrphanedEvents(ctx context.Context) (int64, error)
}

// OrphanSweepJob は非アクティブなカレンダー配下の外部イベントを
// 論理削除するバッチジョブ。
type OrphanSweepJob struct {
	sweeper OrphanSweeper
	logger  *slog.Logger
}

// NewOrphanSweepJob は新しいOrphanSweepJobを生成する。
func NewOrphanSweepJob(sweeper OrphanSweeper, logger *slog.Logger) *OrphanSweepJob {
	return &OrphanSweepJob{
		sweeper: sweeper,
		logger:  logger,
	}
}

// Run は掃き出し処理を1回実行する。
// 冪等: 対象がない場合でもエラーにならない。
func (j *OrphanSweepJob) Run(ctx context.Context) error {
	start := time.Now()

	swept, err := j.sweeper.SweepOrphanedEvents(ctx)
	if err != nil {
		j.logger.Error("外部イベント掃き出しジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("外部イベント掃き出しの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("外部イベント掃き出しジョブが完了しました",
		slog.Int64("swept_count", swept),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
