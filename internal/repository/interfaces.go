// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// UserRepository はユーザーデータの参照インターフェース。
// アカウント管理は外部の認証基盤が担うため、本システムは参照のみを行う。
type UserRepository interface {
	// FindActiveByID は指定IDのアクティブなユーザーを取得する。見つからない場合はnilを返す。
	FindActiveByID(ctx context.Context, id string) (*model.User, error)
}

// LinkRepository はリンク（ペアリング）データの永続化インターフェース。
type LinkRepository interface {
	// FindActiveByUserID はユーザーが当事者であるアクティブなリンクを取得する。
	// 見つからない場合はnilを返す。
	FindActiveByUserID(ctx context.Context, userID string) (*model.Link, error)

	// ExistsActiveByUserID はユーザーがアクティブなリンクを持つかどうかを返す。
	ExistsActiveByUserID(ctx context.Context, userID string) (bool, error)

	// CreateWithCodeUse はリンクの作成とコードの使用済みマークを
	// 同一トランザクションで実行する。コードは一度だけ使用できる。
	CreateWithCodeUse(ctx context.Context, link *model.Link, codeID, usedByUserID string, usedAt time.Time) error

	// DeleteWithEvents はリンクが所有する全イベント（リマインダー・例外は
	// CASCADE削除）とリンク行を同一トランザクションで物理削除する。
	DeleteWithEvents(ctx context.Context, linkID string) error
}

// LinkCodeRepository はリンクコードの永続化インターフェース。
type LinkCodeRepository interface {
	// FindUnusedByUserID はユーザーが発行した未使用コードを取得する。
	// 見つからない場合はnilを返す。期限切れかどうかは呼び出し側が判定する。
	FindUnusedByUserID(ctx context.Context, userID string) (*model.LinkCode, error)

	// FindByCode はコード文字列でコードを検索する。見つからない場合はnilを返す。
	FindByCode(ctx context.Context, code string) (*model.LinkCode, error)

	// ExistsByCode はコード文字列が既に存在するかどうかを返す。
	ExistsByCode(ctx context.Context, code string) (bool, error)

	// Create はコードを作成する。
	Create(ctx context.Context, code *model.LinkCode) error

	// DeleteByID は指定IDのコードを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は指定時刻より前に失効した未使用コードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// EventRepository はイベントデータの永続化インターフェース。
type EventRepository interface {
	// FindByID は指定IDの未削除イベントをリマインダー付きで取得する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// FindByIDForUser は指定IDのイベントのうち、userIDがイベントの
	// リンク当事者であるものを取得する。見つからない場合はnilを返す。
	FindByIDForUser(ctx context.Context, eventID, userID string) (*model.Event, error)

	// ListByUserID はユーザーがリンク当事者である未削除イベント一覧を
	// 開始日時昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Event, error)

	// ListPendingApprovalByUserID はユーザーの承認待ち
	// （自分が作成しておらず、パートナー承認が未完了のPENDING）イベントを返す。
	ListPendingApprovalByUserID(ctx context.Context, userID string) ([]*model.Event, error)

	// CountPendingApprovalByUserID はユーザーの承認待ちイベント数を返す。
	CountPendingApprovalByUserID(ctx context.Context, userID string) (int64, error)

	// ListByCreatorInWindow は指定ユーザーが作成した、ウィンドウと重なる
	// 未削除イベントを返す。statusesが空の場合は全ステータスを対象とする。
	ListByCreatorInWindow(ctx context.Context, userID string, windowStart, windowEnd time.Time, statuses []model.EventStatus) ([]*model.Event, error)

	// Create はイベントとリマインダーを同一トランザクションで作成する。
	Create(ctx context.Context, event *model.Event) error

	// Update はイベントの全フィールドを更新し、リマインダーを
	// 同一トランザクションで入れ替える。
	Update(ctx context.Context, event *model.Event) error

	// ApprovePartner はパートナー承認を単一の条件付きUPDATEで適用する。
	// partner_approved=falseの行のみ更新し、ステータスは終端を保持したまま
	// 承認フラグから再計算される。更新された場合はtrueを返す。
	// 並行する二重承認は2回目が必ずfalseになる。
	ApprovePartner(ctx context.Context, eventID string, at time.Time) (bool, error)

	// Reject はステータスをREJECTEDへ直接上書きする。通常の
	// 承認フラグ再計算経路をバイパスする原子的な単一UPDATEで、
	// partner_approvedはfalse、partner_approved_atはNULLに戻される。
	// 更新された場合はtrueを返す。呼び出し側は応答を構築する前に
	// 必ず再取得すること（read-your-writes）。
	Reject(ctx context.Context, eventID string) (bool, error)

	// Delete は指定IDのイベントを物理削除する。
	// リマインダー・例外はCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// EventExceptionRepository は繰り返しイベント例外の永続化インターフェース。
type EventExceptionRepository interface {
	// ExistsByEventAndDate は(event_id, exception_date)の例外が存在するかを返す。
	ExistsByEventAndDate(ctx context.Context, eventID string, date time.Time) (bool, error)

	// Create は例外を作成する。
	Create(ctx context.Context, exc *model.EventException) error

	// ListDatesByEventID はイベントの例外日一覧を昇順で返す。
	ListDatesByEventID(ctx context.Context, eventID string) ([]time.Time, error)
}

// ExternalCalendarRepository は外部カレンダーの永続化インターフェース。
type ExternalCalendarRepository interface {
	// FindByUserAndDeviceID は(user_id, device_calendar_id)でカレンダーを
	// 検索する。非アクティブ行も対象に含む。見つからない場合はnilを返す。
	FindByUserAndDeviceID(ctx context.Context, userID, deviceCalendarID string) (*model.ExternalCalendar, error)

	// FindByID は指定IDのカレンダーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ExternalCalendar, error)

	// ListByUserID はユーザーのカレンダー一覧を返す。
	// activeOnlyがtrueの場合はアクティブな行のみを返す。
	ListByUserID(ctx context.Context, userID string, activeOnly bool) ([]*model.ExternalCalendar, error)

	// ListInactive は非アクティブな全カレンダーを返す。孤児イベント掃除用。
	ListInactive(ctx context.Context) ([]*model.ExternalCalendar, error)

	// Create はカレンダーを作成する。
	Create(ctx context.Context, cal *model.ExternalCalendar) error

	// Update はカレンダーの設定（有効フラグ・同期・プライバシー等）を更新する。
	Update(ctx context.Context, cal *model.ExternalCalendar) error

	// UpdateLastSync は最終同期日時を更新する。
	UpdateLastSync(ctx context.Context, id string, at time.Time) error
}

// ExternalEventRepository は外部イベントの永続化インターフェース。
type ExternalEventRepository interface {
	// FindByCalendarAndDeviceID は(external_calendar_id, device_event_id)で
	// 未削除イベントを検索する。見つからない場合はnilを返す。
	FindByCalendarAndDeviceID(ctx context.Context, calendarID, deviceEventID string) (*model.ExternalEvent, error)

	// ListByCalendarsInWindow は指定カレンダー群のうちウィンドウと重なる
	// 未削除イベントを開始日時昇順で返す。
	ListByCalendarsInWindow(ctx context.Context, calendarIDs []string, windowStart, windowEnd time.Time) ([]*model.ExternalEvent, error)

	// Create は外部イベントを作成する。
	Create(ctx context.Context, ev *model.ExternalEvent) error

	// Update は外部イベントを上書き更新する。
	Update(ctx context.Context, ev *model.ExternalEvent) error

	// SoftDeleteByCalendarID は指定カレンダーの未削除イベントを
	// ソフト削除し、件数を返す。
	SoftDeleteByCalendarID(ctx context.Context, calendarID string) (int64, error)
}
