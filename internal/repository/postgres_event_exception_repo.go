package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresEventExceptionRepo はPostgreSQLを使用した繰り返しイベント例外リポジトリ。
type PostgresEventExceptionRepo struct {
	db *sql.DB
}

// NewPostgresEventExceptionRepo はPostgresEventExceptionRepoを生成する。
func NewPostgresEventExceptionRepo(db *sql.DB) *PostgresEventExceptionRepo {
	return &PostgresEventExceptionRepo{db: db}
}

// dateOnly はDATEカラムとの比較・保存に使う日付文字列を返す。
// timestamptzのまま渡すとセッションのタイムゾーンでキャストされるため、
// UTC基準の日付に固定してから文字列で渡す。
func dateOnly(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ExistsByEventAndDate は(event_id, exception_date)の例外が存在するかを返す。
func (r *PostgresEventExceptionRepo) ExistsByEventAndDate(ctx context.Context, eventID string, date time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM event_exceptions
		    WHERE event_id = $1 AND exception_date = $2::date
		 )`,
		eventID, dateOnly(date),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("例外日の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は例外を作成する。
func (r *PostgresEventExceptionRepo) Create(ctx context.Context, exc *model.EventException) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_exceptions (id, event_id, exception_date, exception_type, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		exc.ID, exc.EventID, dateOnly(exc.ExceptionDate), exc.ExceptionType, exc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("例外日の作成に失敗しました: %w", err)
	}
	return nil
}

// ListDatesByEventID はイベントの例外日一覧を昇順で返す。
func (r *PostgresEventExceptionRepo) ListDatesByEventID(ctx context.Context, eventID string) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT exception_date FROM event_exceptions
		 WHERE event_id = $1 ORDER BY exception_date ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("例外日一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("例外日の読み取りに失敗しました: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("例外日の走査に失敗しました: %w", err)
	}
	return dates, nil
}

// compile-time interface check
var _ EventExceptionRepository = (*PostgresEventExceptionRepo)(nil)
