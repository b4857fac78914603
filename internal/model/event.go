// Package model はドメインモデルを定義する。
package model

import "time"

// EventStatus はイベントの承認状態を表す。
type EventStatus string

const (
	// EventStatusPending は一方の承認待ち状態。
	EventStatusPending EventStatus = "PENDING"
	// EventStatusConfirmed は両者承認済み状態。
	EventStatusConfirmed EventStatus = "CONFIRMED"
	// EventStatusRejected はパートナーが拒否した終端状態。
	EventStatusRejected EventStatus = "REJECTED"
	// EventStatusCancelled はキャンセルされた終端状態。
	EventStatusCancelled EventStatus = "CANCELLED"
)

// IsTerminal はステータスが終端（REJECTED/CANCELLED）かどうかを返す。
// 終端ステータスは承認フラグからの自動再計算で上書きされない。
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusRejected || s == EventStatusCancelled
}

// Event はリンクが所有する共有カレンダーのイベントを表す。
// 作成者の承認は作成時に暗黙に与えられ、パートナーの承認によりCONFIRMEDになる。
type Event struct {
	ID                string
	LinkID            string
	CreatorUserID     string
	Title             string
	StartDateTime     time.Time
	EndDateTime       time.Time
	Location          string
	Category          string
	Description       string
	Status            EventStatus
	CreatorApproved   bool
	PartnerApproved   bool
	CreatorApprovedAt *time.Time
	PartnerApprovedAt *time.Time
	IsRecurring       bool
	RecurrencePattern string // RRULE文字列。オカレンス展開は未実装
	Color             string // hex形式: #FF4F81
	Reminders         []EventReminder
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// FullyApproved は両者が承認済みかどうかを返す。
func (e *Event) FullyApproved() bool {
	return e.CreatorApproved && e.PartnerApproved
}

// RecomputedStatus は承認フラグからステータスを再計算する。
// 終端ステータスは保持される（reject/cancel経路以外で上書きしない）。
func (e *Event) RecomputedStatus() EventStatus {
	if e.Status.IsTerminal() {
		return e.Status
	}
	if e.FullyApproved() {
		return EventStatusConfirmed
	}
	return EventStatusPending
}

// EventReminder はイベント開始前のリマインダー設定を表す。
// イベントに所有され、イベント削除時にカスケード削除される。
type EventReminder struct {
	ID            string
	EventID       string
	MinutesBefore int
	Label         string
	CreatedAt     time.Time
}

// ExceptionType は繰り返しイベント例外の種別を表す。
type ExceptionType string

const (
	// ExceptionTypeDeleted は単一オカレンスの削除。
	ExceptionTypeDeleted ExceptionType = "DELETED"
	// ExceptionTypeModified は単一オカレンスの変更（将来実装）。
	ExceptionTypeModified ExceptionType = "MODIFIED"
)

// EventException は繰り返しイベントの特定オカレンス日を除外する。
// (event_id, exception_date) の組は一意。
type EventException struct {
	ID            string
	EventID       string
	ExceptionDate time.Time
	ExceptionType ExceptionType
	CreatedAt     time.Time
}
