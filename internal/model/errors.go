// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, not_found, forbidden, conflict, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ。ハンドラー層でHTTPステータスへのマッピングに使用する。
const (
	CategoryValidation = "validation"
	CategoryNotFound   = "not_found"
	CategoryForbidden  = "forbidden"
	CategoryConflict   = "conflict"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeEventNotFound        = "EVENT_NOT_FOUND"
	ErrCodeCalendarNotFound     = "CALENDAR_NOT_FOUND"
	ErrCodeNoActiveLink         = "NO_ACTIVE_LINK"
	ErrCodeActiveLinkExists     = "ACTIVE_LINK_EXISTS"
	ErrCodePartnerAlreadyLinked = "PARTNER_ALREADY_LINKED"
	ErrCodeSelfApproval         = "SELF_APPROVAL_FORBIDDEN"
	ErrCodeSelfRejection        = "SELF_REJECTION_FORBIDDEN"
	ErrCodeAlreadyApproved      = "ALREADY_APPROVED"
	ErrCodeAlreadyRejected      = "ALREADY_REJECTED"
	ErrCodeNotLinkMember        = "NOT_LINK_MEMBER"
	ErrCodeNotRecurring         = "NOT_RECURRING_EVENT"
	ErrCodeDuplicateException   = "DUPLICATE_EXCEPTION"
	ErrCodeInvalidTimeRange     = "INVALID_TIME_RANGE"
	ErrCodeEventStartInPast     = "EVENT_START_IN_PAST"
	ErrCodeEventTooLong         = "EVENT_TOO_LONG"
	ErrCodeInvalidReminder      = "INVALID_REMINDER"
	ErrCodeInvalidDateFormat    = "INVALID_DATE_FORMAT"
	ErrCodeInvalidWindow        = "INVALID_WINDOW"
	ErrCodeCodeInvalid          = "LINK_CODE_INVALID"
	ErrCodeCodeExpired          = "LINK_CODE_EXPIRED"
	ErrCodeCodeUsed             = "LINK_CODE_USED"
	ErrCodeSelfRedemption       = "SELF_REDEMPTION"
	ErrCodeSystem               = "SYSTEM_ERROR"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: CategoryNotFound,
		Action:   "イベントIDを確認してください。",
	}
}

// NewCalendarNotFoundError は外部カレンダー未検出エラーを生成する。
func NewCalendarNotFoundError(deviceCalendarID string) *APIError {
	return &APIError{
		Code:     ErrCodeCalendarNotFound,
		Message:  fmt.Sprintf("指定されたカレンダーが見つかりません: %s", deviceCalendarID),
		Category: CategoryNotFound,
		Action:   "カレンダーIDを確認してください。",
	}
}

// NewNoActiveLinkError はアクティブなリンクが存在しない場合のエラーを生成する。
func NewNoActiveLinkError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveLink,
		Message:  "アクティブなリンクがありません。パートナーと連携してから操作してください。",
		Category: CategoryConflict,
		Action:   "リンクコードを交換してパートナーと連携してください。",
	}
}

// NewActiveLinkExistsError はすでにアクティブなリンクが存在する場合のエラーを生成する。
func NewActiveLinkExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeActiveLinkExists,
		Message:  "すでにアクティブなリンクがあります。",
		Category: CategoryConflict,
		Action:   "新しいリンクを作成するには、先に現在のリンクを解除してください。",
	}
}

// NewPartnerAlreadyLinkedError はコード発行者が別リンクを持つ場合のエラーを生成する。
func NewPartnerAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodePartnerAlreadyLinked,
		Message:  "相手はすでに別のリンクを持っています。",
		Category: CategoryConflict,
		Action:   "相手にリンクを解除してもらってから再度お試しください。",
	}
}

// NewSelfApprovalError は作成者自身による承認エラーを生成する。
func NewSelfApprovalError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfApproval,
		Message:  "自分が作成したイベントは承認できません。",
		Category: CategoryForbidden,
		Action:   "パートナーの承認を待ってください。",
	}
}

// NewSelfRejectionError は作成者自身による拒否エラーを生成する。
func NewSelfRejectionError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfRejection,
		Message:  "自分が作成したイベントは拒否できません。",
		Category: CategoryForbidden,
		Action:   "不要な場合はイベントを削除してください。",
	}
}

// NewAlreadyApprovedError は二重承認エラーを生成する。
func NewAlreadyApprovedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyApproved,
		Message:  "このイベントはすでに承認されています。",
		Category: CategoryConflict,
		Action:   "イベント一覧を再読み込みしてください。",
	}
}

// NewAlreadyRejectedError は二重拒否エラーを生成する。
func NewAlreadyRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRejected,
		Message:  "このイベントはすでに拒否されています。",
		Category: CategoryConflict,
		Action:   "イベント一覧を再読み込みしてください。",
	}
}

// NewNotLinkMemberError はリンクの当事者でないユーザーによる操作エラーを生成する。
func NewNotLinkMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeNotLinkMember,
		Message:  "このイベントを操作する権限がありません。",
		Category: CategoryForbidden,
		Action:   "自分のリンクに属するイベントのみ操作できます。",
	}
}

// NewNotRecurringEventError は非繰り返しイベントへの例外追加エラーを生成する。
func NewNotRecurringEventError() *APIError {
	return &APIError{
		Code:     ErrCodeNotRecurring,
		Message:  "繰り返しイベントにのみ例外日を追加できます。",
		Category: CategoryValidation,
		Action:   "対象が繰り返しイベントであることを確認してください。",
	}
}

// NewDuplicateExceptionError は例外日の重複エラーを生成する。
func NewDuplicateExceptionError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateException,
		Message:  "この日付の例外はすでに登録されています。",
		Category: CategoryConflict,
		Action:   "別の日付を指定してください。",
	}
}

// NewInvalidTimeRangeError は開始・終了の順序エラーを生成する。
func NewInvalidTimeRangeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeRange,
		Message:  "開始日時は終了日時より前である必要があります。",
		Category: CategoryValidation,
		Action:   "開始日時と終了日時を確認してください。",
	}
}

// NewEventStartInPastError は過去開始日時エラーを生成する。
func NewEventStartInPastError() *APIError {
	return &APIError{
		Code:     ErrCodeEventStartInPast,
		Message:  "開始日時は未来である必要があります。",
		Category: CategoryValidation,
		Action:   "未来の日時を指定してください。",
	}
}

// NewEventTooLongError はイベント期間超過エラーを生成する。
func NewEventTooLongError() *APIError {
	return &APIError{
		Code:     ErrCodeEventTooLong,
		Message:  "イベントの期間は7日間を超えられません。",
		Category: CategoryValidation,
		Action:   "期間を7日以内に収めてください。",
	}
}

// NewInvalidReminderError はリマインダー範囲エラーを生成する。
func NewInvalidReminderError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidReminder,
		Message:  fmt.Sprintf("無効なリマインダーです: %d分", minutes),
		Category: CategoryValidation,
		Action:   "リマインダーは0分から10080分（1週間）の範囲で指定してください。",
	}
}

// NewInvalidDateFormatError は日付形式エラーを生成する。
func NewInvalidDateFormatError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDateFormat,
		Message:  fmt.Sprintf("無効な日付形式です: %s", value),
		Category: CategoryValidation,
		Action:   "タイムゾーン付きのISO 8601形式（RFC 3339）で指定してください。",
	}
}

// NewInvalidWindowError は検索ウィンドウの指定エラーを生成する。
func NewInvalidWindowError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWindow,
		Message:  fmt.Sprintf("無効な検索範囲です: %s", reason),
		Category: CategoryValidation,
		Action:   "開始・終了日時と最小時間（分）を確認してください。",
	}
}

// NewCodeInvalidError は存在しないリンクコードのエラーを生成する。
func NewCodeInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeInvalid,
		Message:  "無効なコードです。",
		Category: CategoryValidation,
		Action:   "コードを確認して再度入力してください。",
	}
}

// NewCodeExpiredError は期限切れリンクコードのエラーを生成する。
func NewCodeExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeExpired,
		Message:  "コードの有効期限が切れています。",
		Category: CategoryConflict,
		Action:   "パートナーに新しいコードを発行してもらってください。",
	}
}

// NewCodeUsedError は使用済みリンクコードのエラーを生成する。
func NewCodeUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeUsed,
		Message:  "このコードはすでに使用されています。",
		Category: CategoryConflict,
		Action:   "パートナーに新しいコードを発行してもらってください。",
	}
}

// NewSelfRedemptionError は自分のコードを使用した場合のエラーを生成する。
func NewSelfRedemptionError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfRedemption,
		Message:  "自分が発行したコードは使用できません。",
		Category: CategoryForbidden,
		Action:   "パートナーが発行したコードを入力してください。",
	}
}

// NewSystemError は呼び出し側の入力に起因しないシステムエラーを生成する。
func NewSystemError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSystem,
		Message:  fmt.Sprintf("システムエラーが発生しました: %s", reason),
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
