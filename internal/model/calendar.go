// Package model はドメインモデルを定義する。
package model

import "time"

// CalendarSource は外部カレンダーの提供元を表す。
type CalendarSource string

const (
	// CalendarSourceLocal はデバイスローカルのカレンダー。
	CalendarSourceLocal CalendarSource = "LOCAL"
	// CalendarSourceGoogle はGoogleカレンダー。
	CalendarSourceGoogle CalendarSource = "GOOGLE"
	// CalendarSourceOutlook はOutlookカレンダー。
	CalendarSourceOutlook CalendarSource = "OUTLOOK"
)

// PrivacyMode はパートナーに対するイベント詳細の公開範囲を表す。
type PrivacyMode string

const (
	// PrivacyModeFullDetails はタイトル・場所等をそのまま公開する。
	PrivacyModeFullDetails PrivacyMode = "FULL_DETAILS"
	// PrivacyModeBusyOnly は「予定あり」のみ公開し詳細を秘匿する。
	PrivacyModeBusyOnly PrivacyMode = "BUSY_ONLY"
)

// ExternalCalendar はユーザーが連携したデバイス／クラウドカレンダーを表す。
// (user_id, device_calendar_id) は未削除行の中で一意。
type ExternalCalendar struct {
	ID               string
	UserID           string
	Source           CalendarSource
	DeviceCalendarID string
	Name             string
	Color            string
	SyncEnabled      bool
	PrivacyMode      PrivacyMode
	IsActive         bool
	LastSync         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// ExternalEventVisibility は外部イベントの可視性を表す。
type ExternalEventVisibility string

const (
	// VisibilityDefault はカレンダー既定の可視性。
	VisibilityDefault ExternalEventVisibility = "DEFAULT"
	// VisibilityPublic は公開。
	VisibilityPublic ExternalEventVisibility = "PUBLIC"
	// VisibilityPrivate は非公開。
	VisibilityPrivate ExternalEventVisibility = "PRIVATE"
)

// ExternalEventStatus は外部イベントの確定状態を表す。
type ExternalEventStatus string

const (
	// ExternalEventConfirmed は確定済み。
	ExternalEventConfirmed ExternalEventStatus = "CONFIRMED"
	// ExternalEventTentative は仮予定。
	ExternalEventTentative ExternalEventStatus = "TENTATIVE"
	// ExternalEventCancelled はキャンセル済み。
	ExternalEventCancelled ExternalEventStatus = "CANCELLED"
)

// ExternalEvent は外部カレンダーから取り込んだイベントオカレンスを表す。
// (external_calendar_id, device_event_id) は未削除行の中で一意。
// SyncHashは再同期時の変更検出を安価にするためのコンテンツハッシュ。
type ExternalEvent struct {
	ID                 string
	ExternalCalendarID string
	DeviceEventID      string
	Title              string
	StartDateTime      time.Time
	EndDateTime        time.Time
	StartTimezone      string
	EndTimezone        string
	IsAllDay           bool
	RecurrenceRule     string // RRULE文字列。オカレンス展開は未実装
	RRuleDtstartUTC    *time.Time
	RRuleUntilUTC      *time.Time
	RRuleCount         *int
	Location           string
	Description        string
	Visibility         ExternalEventVisibility
	Status             ExternalEventStatus
	LastDeviceUpdate   *time.Time
	SyncHash           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// AvailabilitySlot は導出値としての連続空き時間帯を表す。
// 永続化されず、問い合わせの都度計算される。
type AvailabilitySlot struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
}
