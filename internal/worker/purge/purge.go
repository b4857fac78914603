// Package purge は期限切れペアリングコードの削除ジョブを提供する。
// 未使用のまま失効したコードを定期バッチで削除する。
package purge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredCodeDeleter は失効コードの削除を抽象化するインターフェース。
type ExpiredCodeDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CodePurgeJob は失効したペアリングコードを削除するバッチジョブ。
type CodePurgeJob struct {
	codeRepo ExpiredCodeDeleter
	logger   *slog.Logger
}

// NewCodePurgeJob は新しいCodePurgeJobを生成する。
func NewCodePurgeJob(codeRepo ExpiredCodeDeleter, logger *slog.Logger) *CodePurgeJob {
	return &CodePurgeJob{
		codeRepo: codeRepo,
		logger:   logger,
	}
}

// Run は現在時刻より前に失効した未使用コードを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CodePurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.codeRepo.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("ペアリングコード削除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ペアリングコード削除の実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("ペアリングコード削除ジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
