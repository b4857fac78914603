package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresExternalEventRepo はPostgreSQLを使用した外部イベントリポジトリ。
type PostgresExternalEventRepo struct {
	db *sql.DB
}

// NewPostgresExternalEventRepo はPostgresExternalEventRepoを生成する。
func NewPostgresExternalEventRepo(db *sql.DB) *PostgresExternalEventRepo {
	return &PostgresExternalEventRepo{db: db}
}

const externalEventColumns = `id, external_calendar_id, device_event_id, title,
	start_datetime, end_datetime, start_timezone, end_timezone, is_all_day,
	recurrence_rule, rrule_dtstart_utc, rrule_until_utc, rrule_count,
	location, description, visibility, status, last_device_update, sync_hash,
	created_at, updated_at`

// scanExternalEvent は1行分の外部イベントカラムをmodel.ExternalEventに読み取る。
func scanExternalEvent(s rowScanner) (*model.ExternalEvent, error) {
	ev := &model.ExternalEvent{}
	var startTZ, endTZ, rrule, location, description sql.NullString
	var dtstart, until, lastUpdate sql.NullTime
	var count sql.NullInt64

	if err := s.Scan(
		&ev.ID, &ev.ExternalCalendarID, &ev.DeviceEventID, &ev.Title,
		&ev.StartDateTime, &ev.EndDateTime, &startTZ, &endTZ, &ev.IsAllDay,
		&rrule, &dtstart, &until, &count,
		&location, &description, &ev.Visibility, &ev.Status, &lastUpdate, &ev.SyncHash,
		&ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return nil, err
	}

	ev.StartTimezone = nullStringValue(startTZ)
	ev.EndTimezone = nullStringValue(endTZ)
	ev.RecurrenceRule = nullStringValue(rrule)
	ev.RRuleDtstartUTC = nullTimeValue(dtstart)
	ev.RRuleUntilUTC = nullTimeValue(until)
	if count.Valid {
		n := int(count.Int64)
		ev.RRuleCount = &n
	}
	ev.Location = nullStringValue(location)
	ev.Description = nullStringValue(description)
	ev.LastDeviceUpdate = nullTimeValue(lastUpdate)
	return ev, nil
}

// FindByCalendarAndDeviceID は(external_calendar_id, device_event_id)でイベントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresExternalEventRepo) FindByCalendarAndDeviceID(ctx context.Context, calendarID, deviceEventID string) (*model.ExternalEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+externalEventColumns+`
		 FROM external_events
		 WHERE external_calendar_id = $1 AND device_event_id = $2 AND deleted_at IS NULL`,
		calendarID, deviceEventID,
	)

	ev, err := scanExternalEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部イベントの取得に失敗しました: %w", err)
	}
	return ev, nil
}

// ListByCalendarsInWindow は複数カレンダーの、期間と重なる外部イベントを返す。
// 重なり判定は start < windowEnd かつ end > windowStart。
func (r *PostgresExternalEventRepo) ListByCalendarsInWindow(ctx context.Context, calendarIDs []string, windowStart, windowEnd time.Time) ([]*model.ExternalEvent, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+externalEventColumns+`
		 FROM external_events
		 WHERE external_calendar_id = ANY($1)
		   AND start_datetime < $3 AND end_datetime > $2
		   AND deleted_at IS NULL
		 ORDER BY start_datetime ASC`,
		pqStringArray(calendarIDs), windowStart, windowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("外部イベント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []*model.ExternalEvent
	for rows.Next() {
		ev, err := scanExternalEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("外部イベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("外部イベントの走査に失敗しました: %w", err)
	}
	return events, nil
}

// Create は外部イベントを作成する。
func (r *PostgresExternalEventRepo) Create(ctx context.Context, ev *model.ExternalEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO external_events (id, external_calendar_id, device_event_id, title,
		    start_datetime, end_datetime, start_timezone, end_timezone, is_all_day,
		    recurrence_rule, rrule_dtstart_utc, rrule_until_utc, rrule_count,
		    location, description, visibility, status, last_device_update, sync_hash,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		ev.ID, ev.ExternalCalendarID, ev.DeviceEventID, ev.Title,
		ev.StartDateTime, ev.EndDateTime, nullString(ev.StartTimezone), nullString(ev.EndTimezone), ev.IsAllDay,
		nullString(ev.RecurrenceRule), nullTime(ev.RRuleDtstartUTC), nullTime(ev.RRuleUntilUTC), nullInt(ev.RRuleCount),
		nullString(ev.Location), nullString(ev.Description), ev.Visibility, ev.Status, nullTime(ev.LastDeviceUpdate), ev.SyncHash,
		ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("外部イベントの作成に失敗しました: %w", err)
	}
	return nil
}

// Update は外部イベントを既存IDのまま上書き更新する。
func (r *PostgresExternalEventRepo) Update(ctx context.Context, ev *model.ExternalEvent) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE external_events SET
		    title = $2, start_datetime = $3, end_datetime = $4,
		    start_timezone = $5, end_timezone = $6, is_all_day = $7,
		    recurrence_rule = $8, rrule_dtstart_utc = $9, rrule_until_utc = $10, rrule_count = $11,
		    location = $12, description = $13, visibility = $14, status = $15,
		    last_device_update = $16, sync_hash = $17, updated_at = $18
		 WHERE id = $1 AND deleted_at IS NULL`,
		ev.ID, ev.Title, ev.StartDateTime, ev.EndDateTime,
		nullString(ev.StartTimezone), nullString(ev.EndTimezone), ev.IsAllDay,
		nullString(ev.RecurrenceRule), nullTime(ev.RRuleDtstartUTC), nullTime(ev.RRuleUntilUTC), nullInt(ev.RRuleCount),
		nullString(ev.Location), nullString(ev.Description), ev.Visibility, ev.Status,
		nullTime(ev.LastDeviceUpdate), ev.SyncHash, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("外部イベントの更新に失敗しました: %w", err)
	}
	return nil
}

// SoftDeleteByCalendarID は指定カレンダー配下の外部イベントを論理削除し、件数を返す。
func (r *PostgresExternalEventRepo) SoftDeleteByCalendarID(ctx context.Context, calendarID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE external_events SET deleted_at = now(), updated_at = now()
		 WHERE external_calendar_id = $1 AND deleted_at IS NULL`,
		calendarID,
	)
	if err != nil {
		return 0, fmt.Errorf("外部イベントの論理削除に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("外部イベントの削除件数取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ ExternalEventRepository = (*PostgresExternalEventRepo)(nil)
