package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

// eventColumns はイベント取得クエリで使用するカラム列。
const eventColumns = `e.id, e.link_id, e.creator_user_id, e.title,
	e.start_datetime, e.end_datetime, e.location, e.category, e.description,
	e.status, e.creator_approved, e.partner_approved,
	e.creator_approved_at, e.partner_approved_at,
	e.is_recurring, e.recurrence_pattern, e.color,
	e.created_at, e.updated_at`

// rowScanner は*sql.Rowと*sql.Rowsを共通に扱うためのインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent は1行分のイベントカラムをmodel.Eventに読み取る。
func scanEvent(s rowScanner) (*model.Event, error) {
	ev := &model.Event{}
	var location, category, description, pattern, color sql.NullString
	var creatorApprovedAt, partnerApprovedAt sql.NullTime

	if err := s.Scan(
		&ev.ID, &ev.LinkID, &ev.CreatorUserID, &ev.Title,
		&ev.StartDateTime, &ev.EndDateTime, &location, &category, &description,
		&ev.Status, &ev.CreatorApproved, &ev.PartnerApproved,
		&creatorApprovedAt, &partnerApprovedAt,
		&ev.IsRecurring, &pattern, &color,
		&ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return nil, err
	}

	ev.Location = nullStringValue(location)
	ev.Category = nullStringValue(category)
	ev.Description = nullStringValue(description)
	ev.RecurrencePattern = nullStringValue(pattern)
	ev.Color = nullStringValue(color)
	ev.CreatorApprovedAt = nullTimeValue(creatorApprovedAt)
	ev.PartnerApprovedAt = nullTimeValue(partnerApprovedAt)

	return ev, nil
}

// FindByID は指定IDの未削除イベントをリマインダー付きで取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events e WHERE e.id = $1 AND e.deleted_at IS NULL`,
		id,
	)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}

	if err := r.loadReminders(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// FindByIDForUser は指定IDのイベントのうち、userIDがリンク当事者であるものを取得する。
func (r *PostgresEventRepo) FindByIDForUser(ctx context.Context, eventID, userID string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events e
		 INNER JOIN links l ON e.link_id = l.id
		 WHERE e.id = $1 AND e.deleted_at IS NULL
		   AND (l.initiator_user_id = $2 OR l.partner_user_id = $2)`,
		eventID, userID,
	)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}

	if err := r.loadReminders(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ListByUserID はユーザーがリンク当事者である未削除イベント一覧を開始日時昇順で返す。
func (r *PostgresEventRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events e
		 INNER JOIN links l ON e.link_id = l.id
		 WHERE e.deleted_at IS NULL
		   AND (l.initiator_user_id = $1 OR l.partner_user_id = $1)
		 ORDER BY e.start_datetime ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadRemindersBatch(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// ListPendingApprovalByUserID はユーザーの承認待ちイベントを返す。
func (r *PostgresEventRepo) ListPendingApprovalByUserID(ctx context.Context, userID string) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events e
		 INNER JOIN links l ON e.link_id = l.id
		 WHERE e.deleted_at IS NULL
		   AND e.status = 'PENDING'
		   AND e.partner_approved = false
		   AND e.creator_user_id <> $1
		   AND (l.initiator_user_id = $1 OR l.partner_user_id = $1)
		 ORDER BY e.start_datetime ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("承認待ちイベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountPendingApprovalByUserID はユーザーの承認待ちイベント数を返す。
func (r *PostgresEventRepo) CountPendingApprovalByUserID(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM events e
		 INNER JOIN links l ON e.link_id = l.id
		 WHERE e.deleted_at IS NULL
		   AND e.status = 'PENDING'
		   AND e.partner_approved = false
		   AND e.creator_user_id <> $1
		   AND (l.initiator_user_id = $1 OR l.partner_user_id = $1)`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("承認待ちイベント数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListByCreatorInWindow は指定ユーザーが作成した、ウィンドウと重なる未削除イベントを返す。
// statusesが空の場合は全ステータスを対象とする。
func (r *PostgresEventRepo) ListByCreatorInWindow(ctx context.Context, userID string, windowStart, windowEnd time.Time, statuses []model.EventStatus) ([]*model.Event, error) {
	query := `SELECT ` + eventColumns + `
		 FROM events e
		 WHERE e.deleted_at IS NULL
		   AND e.creator_user_id = $1
		   AND e.start_datetime < $3
		   AND e.end_datetime > $2`
	args := []any{userID, windowStart, windowEnd}

	if len(statuses) > 0 {
		query += ` AND e.status = ANY($4)`
		ss := make([]string, len(statuses))
		for i, s := range statuses {
			ss[i] = string(s)
		}
		args = append(args, pqStringArray(ss))
	}
	query += ` ORDER BY e.start_datetime ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("期間内イベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// Create はイベントとリマインダーを同一トランザクションで作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, link_id, creator_user_id, title,
		    start_datetime, end_datetime, location, category, description,
		    status, creator_approved, partner_approved,
		    creator_approved_at, partner_approved_at,
		    is_recurring, recurrence_pattern, color, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		event.ID, event.LinkID, event.CreatorUserID, event.Title,
		event.StartDateTime, event.EndDateTime,
		nullString(event.Location), nullString(event.Category), nullString(event.Description),
		event.Status, event.CreatorApproved, event.PartnerApproved,
		nullTime(event.CreatorApprovedAt), nullTime(event.PartnerApprovedAt),
		event.IsRecurring, nullString(event.RecurrencePattern), nullString(event.Color),
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}

	if err := insertReminders(ctx, tx, event.ID, event.Reminders); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("イベント作成のコミットに失敗しました: %w", err)
	}
	return nil
}

// Update はイベントの全フィールドを更新し、リマインダーを同一トランザクションで入れ替える。
func (r *PostgresEventRepo) Update(ctx context.Context, event *model.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE events SET
		    title = $2, start_datetime = $3, end_datetime = $4,
		    location = $5, category = $6, description = $7,
		    status = $8, creator_approved = $9, partner_approved = $10,
		    creator_approved_at = $11, partner_approved_at = $12,
		    is_recurring = $13, recurrence_pattern = $14, color = $15,
		    updated_at = $16
		 WHERE id = $1 AND deleted_at IS NULL`,
		event.ID, event.Title, event.StartDateTime, event.EndDateTime,
		nullString(event.Location), nullString(event.Category), nullString(event.Description),
		event.Status, event.CreatorApproved, event.PartnerApproved,
		nullTime(event.CreatorApprovedAt), nullTime(event.PartnerApprovedAt),
		event.IsRecurring, nullString(event.RecurrencePattern), nullString(event.Color),
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("イベントの更新に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_reminders WHERE event_id = $1`, event.ID); err != nil {
		return fmt.Errorf("リマインダーの入れ替えに失敗しました: %w", err)
	}
	if err := insertReminders(ctx, tx, event.ID, event.Reminders); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("イベント更新のコミットに失敗しました: %w", err)
	}
	return nil
}

// ApprovePartner はパートナー承認を単一の条件付きUPDATEで適用する。
// partner_approved=falseの行のみが対象となるため、並行する二重承認は
// 2回目が必ず0行更新になる。終端ステータスはCASE式で保持される。
func (r *PostgresEventRepo) ApprovePartner(ctx context.Context, eventID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET
		    partner_approved = true,
		    partner_approved_at = $2,
		    status = CASE
		        WHEN status IN ('REJECTED', 'CANCELLED') THEN status
		        WHEN creator_approved THEN 'CONFIRMED'
		        ELSE 'PENDING'
		    END,
		    updated_at = now()
		 WHERE id = $1 AND partner_approved = false AND deleted_at IS NULL`,
		eventID, at,
	)
	if err != nil {
		return false, fmt.Errorf("イベントの承認に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("承認結果の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// Reject はステータスをREJECTEDへ直接上書きする。
// 承認フラグからの再計算経路をバイパスする原子的な単一UPDATE。
func (r *PostgresEventRepo) Reject(ctx context.Context, eventID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET
		    status = 'REJECTED',
		    partner_approved = false,
		    partner_approved_at = NULL,
		    updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("イベントの拒否に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("拒否結果の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// Delete は指定IDのイベントを物理削除する。リマインダー・例外はCASCADE削除される。
func (r *PostgresEventRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("イベントの削除に失敗しました: %w", err)
	}
	return nil
}

// loadReminders はイベントのリマインダー一覧を読み込む。
func (r *PostgresEventRepo) loadReminders(ctx context.Context, ev *model.Event) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, minutes_before, label, created_at
		 FROM event_reminders WHERE event_id = $1 ORDER BY minutes_before ASC`,
		ev.ID,
	)
	if err != nil {
		return fmt.Errorf("リマインダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rem model.EventReminder
		var label sql.NullString
		if err := rows.Scan(&rem.ID, &rem.EventID, &rem.MinutesBefore, &label, &rem.CreatedAt); err != nil {
			return fmt.Errorf("リマインダーの読み取りに失敗しました: %w", err)
		}
		rem.Label = nullStringValue(label)
		ev.Reminders = append(ev.Reminders, rem)
	}
	return rows.Err()
}

// loadRemindersBatch は複数イベントのリマインダーをまとめて読み込む。
func (r *PostgresEventRepo) loadRemindersBatch(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, len(events))
	index := make(map[string]*model.Event, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
		index[ev.ID] = ev
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, minutes_before, label, created_at
		 FROM event_reminders WHERE event_id = ANY($1)
		 ORDER BY minutes_before ASC`,
		pqStringArray(ids),
	)
	if err != nil {
		return fmt.Errorf("リマインダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rem model.EventReminder
		var label sql.NullString
		if err := rows.Scan(&rem.ID, &rem.EventID, &rem.MinutesBefore, &label, &rem.CreatedAt); err != nil {
			return fmt.Errorf("リマインダーの読み取りに失敗しました: %w", err)
		}
		rem.Label = nullStringValue(label)
		if ev, ok := index[rem.EventID]; ok {
			ev.Reminders = append(ev.Reminders, rem)
		}
	}
	return rows.Err()
}

// collectEvents はクエリ結果の全行をイベントスライスに読み取る。
func collectEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベントの走査に失敗しました: %w", err)
	}
	return events, nil
}

// insertReminders はイベントのリマインダー行を挿入する。
func insertReminders(ctx context.Context, tx *sql.Tx, eventID string, reminders []model.EventReminder) error {
	for i := range reminders {
		rem := &reminders[i]
		if rem.ID == "" {
			rem.ID = uuid.NewString()
		}
		if rem.CreatedAt.IsZero() {
			rem.CreatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO event_reminders (id, event_id, minutes_before, label, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			rem.ID, eventID, rem.MinutesBefore, nullString(rem.Label), rem.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("リマインダーの作成に失敗しました: %w", err)
		}
	}
	return nil
}

// pqStringArray は文字列スライスをANY($n)で使える形式に変換する。
func pqStringArray(ss []string) any {
	return pq.Array(ss)
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullInt は*intをsql.NullInt64に変換する。
func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
