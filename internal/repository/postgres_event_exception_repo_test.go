package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresEventExceptionRepoはEventExceptionRepositoryインターフェースを満たすことを検証
func TestPostgresEventExceptionRepo_ImplementsInterface(t *testing.T) {
	var _ EventExceptionRepository = (*PostgresEventExceptionRepo)(nil)
}

// NewPostgresEventExceptionRepoが正しく初期化されることを検証
func TestNewPostgresEventExceptionRepo_Initializes(t *testing.T) {
	repo := NewPostgresEventExceptionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// dateOnlyはタイムゾーンに依らずUTC基準の日付文字列を返すことを検証
func TestDateOnly_NormalizesToUTCDate(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			name: "UTC深夜0時",
			in:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			want: "2026-03-10",
		},
		{
			name: "JST早朝はUTCでは前日",
			in:   time.Date(2026, 3, 10, 8, 0, 0, 0, jst),
			want: "2026-03-09",
		},
		{
			name: "JST正午は同日",
			in:   time.Date(2026, 3, 10, 12, 0, 0, 0, jst),
			want: "2026-03-10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dateOnly(tt.in); got != tt.want {
				t.Errorf("dateOnly(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// insertExceptionTestEvent は例外テスト用のユーザー・リンク・イベントを作成し、イベントIDを返す。
func insertExceptionTestEvent(t *testing.T, db *sql.DB) string {
	t.Helper()

	insertRepoTestUser(t, db, "00000000-0000-0000-0000-000000000011", "exc-taro@example.com")
	insertRepoTestUser(t, db, "00000000-0000-0000-0000-000000000012", "exc-hanako@example.com")

	var linkID string
	err := db.QueryRow(
		`INSERT INTO links (initiator_user_id, partner_user_id, started_at)
		 VALUES ($1, $2, now()) RETURNING id`,
		"00000000-0000-0000-0000-000000000011",
		"00000000-0000-0000-0000-000000000012",
	).Scan(&linkID)
	if err != nil {
		t.Fatalf("テストリンクの作成に失敗: %v", err)
	}

	var eventID string
	err = db.QueryRow(
		`INSERT INTO events (link_id, creator_user_id, title, start_datetime, end_datetime, is_recurring, recurrence_pattern)
		 VALUES ($1, $2, $3, now(), now() + interval '2 hours', true, 'FREQ=WEEKLY') RETURNING id`,
		linkID, "00000000-0000-0000-0000-000000000011", "毎週のディナー",
	).Scan(&eventID)
	if err != nil {
		t.Fatalf("テストイベントの作成に失敗: %v", err)
	}
	return eventID
}

// 例外日の保存と存在確認がセッションのタイムゾーンに依存しないことを検証。
// UTC以外のセッションでDATEカラムとtimestamptzを直接比較すると日付がずれる。
func TestPostgresEventExceptionRepo_DateHandling_SessionTimezoneIndependent(t *testing.T) {
	db := setupRepoTestDB(t)
	defer db.Close()

	// 単一コネクションに固定してセッションタイムゾーンを非UTCにする
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`SET TIME ZONE 'America/New_York'`); err != nil {
		t.Fatalf("タイムゾーンの設定に失敗: %v", err)
	}

	ctx := context.Background()
	repo := NewPostgresEventExceptionRepo(db)
	eventID := insertExceptionTestEvent(t, db)

	excDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	exc := &model.EventException{
		ID:            "20000000-0000-0000-0000-000000000001",
		EventID:       eventID,
		ExceptionDate: excDate,
		ExceptionType: model.ExceptionTypeDeleted,
		CreatedAt:     time.Now(),
	}
	if err := repo.Create(ctx, exc); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// 保存された日付がずれていないこと
	var stored string
	if err := db.QueryRow(
		`SELECT to_char(exception_date, 'YYYY-MM-DD') FROM event_exceptions WHERE id = $1`,
		exc.ID,
	).Scan(&stored); err != nil {
		t.Fatalf("保存済み例外日の取得に失敗: %v", err)
	}
	if stored != "2026-03-10" {
		t.Errorf("stored exception_date = %q, want %q", stored, "2026-03-10")
	}

	exists, err := repo.ExistsByEventAndDate(ctx, eventID, excDate)
	if err != nil {
		t.Fatalf("ExistsByEventAndDate returned error: %v", err)
	}
	if !exists {
		t.Error("exception should be found regardless of session timezone")
	}

	exists, err = repo.ExistsByEventAndDate(ctx, eventID, excDate.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ExistsByEventAndDate returned error: %v", err)
	}
	if exists {
		t.Error("exception for a different date should not be found")
	}
}
