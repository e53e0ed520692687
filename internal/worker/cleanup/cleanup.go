// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 受講コースIDの参照整合性は保証しないため、削除済みコースのIDは掃除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval はジョブの既定の実行間隔。
const DefaultInterval = time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。冪等に実行できる。
type SessionCleanupJob struct {
	db     Executor
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
func NewSessionCleanupJob(db Executor, logger *zap.Logger) *SessionCleanupJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCleanupJob{
		db:     db,
		logger: logger.With(zap.String("job", "session_cleanup")),
		now:    time.Now,
	}
}

// Run はexpires_atを過ぎたセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, j.now())
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました", zap.Error(err))
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました", zap.Error(err))
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("期限切れセッションの削除が完了しました",
		zap.Int64("deleted_count", deletedCount),
		zap.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// RunEvery は起動直後と以後interval毎にRunを実行する。ctxがキャンセルされるまで戻らない。
// 1回の失敗では停止しない。
func (j *SessionCleanupJob) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// エラーはRun内でログ済み
		_ = j.Run(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
