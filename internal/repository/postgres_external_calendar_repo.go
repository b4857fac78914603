package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresExternalCalendarRepo はPostgreSQLを使用した外部カレンダーリポジトリ。
type PostgresExternalCalendarRepo struct {
	db *sql.DB
}

// NewPostgresExternalCalendarRepo はPostgresExternalCalendarRepoを生成する。
func NewPostgresExternalCalendarRepo(db *sql.DB) *PostgresExternalCalendarRepo {
	return &PostgresExternalCalendarRepo{db: db}
}

const externalCalendarColumns = `id, user_id, source, device_calendar_id,
	calendar_name, calendar_color, sync_enabled, privacy_mode, is_active,
	last_sync, created_at, updated_at`

// scanExternalCalendar は1行分のカレンダーカラムをmodel.ExternalCalendarに読み取る。
func scanExternalCalendar(s rowScanner) (*model.ExternalCalendar, error) {
	cal := &model.ExternalCalendar{}
	var color sql.NullString
	var lastSync sql.NullTime

	if err := s.Scan(
		&cal.ID, &cal.UserID, &cal.Source, &cal.DeviceCalendarID,
		&cal.Name, &color, &cal.SyncEnabled, &cal.PrivacyMode, &cal.IsActive,
		&lastSync, &cal.CreatedAt, &cal.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cal.Color = nullStringValue(color)
	cal.LastSync = nullTimeValue(lastSync)
	return cal, nil
}

// FindByUserAndDeviceID は(user_id, device_calendar_id)でカレンダーを検索する。
// 非アクティブ行も対象に含む（再連携時の再アクティブ化のため）。
func (r *PostgresExternalCalendarRepo) FindByUserAndDeviceID(ctx context.Context, userID, deviceCalendarID string) (*model.ExternalCalendar, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+externalCalendarColumns+`
		 FROM external_calendars
		 WHERE user_id = $1 AND device_calendar_id = $2 AND deleted_at IS NULL`,
		userID, deviceCalendarID,
	)

	cal, err := scanExternalCalendar(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部カレンダーの取得に失敗しました: %w", err)
	}
	return cal, nil
}

// FindByID は指定IDのカレンダーを取得する。見つからない場合はnilを返す。
func (r *PostgresExternalCalendarRepo) FindByID(ctx context.Context, id string) (*model.ExternalCalendar, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+externalCalendarColumns+`
		 FROM external_calendars
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)

	cal, err := scanExternalCalendar(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部カレンダーの取得に失敗しました: %w", err)
	}
	return cal, nil
}

// ListByUserID はユーザーのカレンダー一覧を返す。
func (r *PostgresExternalCalendarRepo) ListByUserID(ctx context.Context, userID string, activeOnly bool) ([]*model.ExternalCalendar, error) {
	query := `SELECT ` + externalCalendarColumns + `
		 FROM external_calendars
		 WHERE user_id = $1 AND deleted_at IS NULL`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("外部カレンダー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectExternalCalendars(rows)
}

// ListInactive は非アクティブな全カレンダーを返す。孤児イベント掃除用。
func (r *PostgresExternalCalendarRepo) ListInactive(ctx context.Context) ([]*model.ExternalCalendar, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+externalCalendarColumns+`
		 FROM external_calendars
		 WHERE is_active = false AND deleted_at IS NULL
		 ORDER BY updated_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("非アクティブカレンダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectExternalCalendars(rows)
}

// Create はカレンダーを作成する。
func (r *PostgresExternalCalendarRepo) Create(ctx context.Context, cal *model.ExternalCalendar) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO external_calendars (id, user_id, source, device_calendar_id,
		    calendar_name, calendar_color, sync_enabled, privacy_mode, is_active,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		cal.ID, cal.UserID, cal.Source, cal.DeviceCalendarID,
		cal.Name, nullString(cal.Color), cal.SyncEnabled, cal.PrivacyMode, cal.IsActive,
		cal.CreatedAt, cal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("外部カレンダーの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はカレンダーの設定を更新する。
func (r *PostgresExternalCalendarRepo) Update(ctx context.Context, cal *model.ExternalCalendar) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE external_calendars SET
		    calendar_name = $2, calendar_color = $3, sync_enabled = $4,
		    privacy_mode = $5, is_active = $6, updated_at = $7
		 WHERE id = $1 AND deleted_at IS NULL`,
		cal.ID, cal.Name, nullString(cal.Color), cal.SyncEnabled,
		cal.PrivacyMode, cal.IsActive, cal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("外部カレンダーの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastSync は最終同期日時を更新する。
func (r *PostgresExternalCalendarRepo) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE external_calendars SET last_sync = $2, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("最終同期日時の更新に失敗しました: %w", err)
	}
	return nil
}

// collectExternalCalendars はクエリ結果の全行をカレンダースライスに読み取る。
func collectExternalCalendars(rows *sql.Rows) ([]*model.ExternalCalendar, error) {
	var cals []*model.ExternalCalendar
	for rows.Next() {
		cal, err := scanExternalCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("外部カレンダーの読み取りに失敗しました: %w", err)
		}
		cals = append(cals, cal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("外部カレンダーの走査に失敗しました: %w", err)
	}
	return cals, nil
}

// compile-time interface check
var _ ExternalCalendarRepository = (*PostgresExternalCalendarRepo)(nil)
