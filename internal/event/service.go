// Package event は共有イベントと二者承認フローのドメインロジックを提供する。
// イベントはリンクに所有され、作成者の承認は作成時に暗黙に与えられる。
// パートナーが承認するとCONFIRMED、拒否するとREJECTEDになる。
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/paircal/internal/metrics"
	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/notification"
	"github.com/hitoshi/paircal/internal/repository"
	"github.com/hitoshi/paircal/internal/security"
)

// maxEventDuration はイベントの最大期間。
const maxEventDuration = 7 * 24 * time.Hour

// maxReminderMinutes はリマインダーの最大値（1週間）。
const maxReminderMinutes = 10080

// 通知キュー投入の結果。応答にベストエフォートの送信状況として含める。
const (
	NotificationQueued  = "queued"
	NotificationSkipped = "skipped"
)

// Notifier は通知のキュー投入インターフェース。
type Notifier interface {
	Enqueue(n *notification.Notification) bool
}

// ReminderInput はリマインダー1件分の入力を表す。
type ReminderInput struct {
	MinutesBefore int
	Label         string
}

// CreateEventInput はイベント作成の入力を表す。
type CreateEventInput struct {
	Title             string
	StartDateTime     time.Time
	EndDateTime       time.Time
	Location          string
	Category          string
	Description       string
	Color             string
	IsRecurring       bool
	RecurrencePattern string
	Reminders         []ReminderInput
}

// UpdateEventInput はイベント更新のパッチを表す。nilのフィールドは変更しない。
type UpdateEventInput struct {
	Title             *string
	StartDateTime     *time.Time
	EndDateTime       *time.Time
	Location          *string
	Category          *string
	Description       *string
	Color             *string
	IsRecurring       *bool
	RecurrencePattern *string
	Reminders         *[]ReminderInput
}

// CreateResult はイベント作成の結果を表す。
// NotificationStatusはパートナー通知のキュー投入結果（ベストエフォート）。
type CreateResult struct {
	Event              *model.Event
	NotificationStatus string
}

// EventView はイベントの読み取りモデル。
// 承認フローのUI表示に必要な導出値を含む。
type EventView struct {
	Event                 *model.Event
	CreatorName           string
	PartnerName           string
	FullyApproved         bool
	PendingApprovalUserID string // 承認が未完了のユーザーID。承認待ちでない場合は空
	ExceptionDates        []time.Time
}

// Service は共有イベントのサービス層。
type Service struct {
	userRepo  repository.UserRepository
	linkRepo  repository.LinkRepository
	eventRepo repository.EventRepository
	excRepo   repository.EventExceptionRepository
	sanitizer security.TextSanitizerService
	notifier  Notifier
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	linkRepo repository.LinkRepository,
	eventRepo repository.EventRepository,
	excRepo repository.EventExceptionRepository,
	sanitizer security.TextSanitizerService,
	notifier Notifier,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		userRepo:  userRepo,
		linkRepo:  linkRepo,
		eventRepo: eventRepo,
		excRepo:   excRepo,
		sanitizer: sanitizer,
		notifier:  notifier,
		metrics:   collector,
	}
}

// CreateEvent は共有イベントを作成する。
// 作成者の承認は暗黙に与えられ、パートナーの承認待ち（PENDING）で永続化される。
// パートナーへの通知はfire-and-forgetで、失敗しても作成は成功する。
func (s *Service) CreateEvent(ctx context.Context, creatorID string, input CreateEventInput) (*CreateResult, error) {
	user, err := s.userRepo.FindActiveByID(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	link, err := s.linkRepo.FindActiveByUserID(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("リンクの取得に失敗しました: %w", err)
	}
	if link == nil {
		return nil, model.NewNoActiveLinkError()
	}

	now := time.Now()
	if err := validateTimeRange(input.StartDateTime, input.EndDateTime); err != nil {
		return nil, err
	}
	if !input.StartDateTime.After(now) {
		return nil, model.NewEventStartInPastError()
	}
	if err := validateReminders(input.Reminders); err != nil {
		return nil, err
	}

	approvedAt := now
	ev := &model.Event{
		ID:                uuid.NewString(),
		LinkID:            link.ID,
		CreatorUserID:     creatorID,
		Title:             s.sanitizer.SanitizeText(input.Title),
		StartDateTime:     input.StartDateTime,
		EndDateTime:       input.EndDateTime,
		Location:          s.sanitizer.SanitizeText(input.Location),
		Category:          input.Category,
		Description:       s.sanitizer.SanitizeText(input.Description),
		Status:            model.EventStatusPending,
		CreatorApproved:   true,
		CreatorApprovedAt: &approvedAt,
		PartnerApproved:   false,
		IsRecurring:       input.IsRecurring,
		RecurrencePattern: input.RecurrencePattern,
		Color:             input.Color,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, r := range input.Reminders {
		ev.Reminders = append(ev.Reminders, model.EventReminder{
			ID:            uuid.NewString(),
			EventID:       ev.ID,
			MinutesBefore: r.MinutesBefore,
			Label:         r.Label,
			CreatedAt:     now,
		})
	}

	if err := s.eventRepo.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}
	s.metrics.RecordEventCreated()

	notifStatus := s.notifyMember(ctx, link.OtherMemberID(creatorID),
		notification.KindEventCreated,
		"承認待ちの予定があります",
		fmt.Sprintf("%sさんが「%s」を作成しました。承認してください。", user.NotifyName(), ev.Title),
		ev.ID,
	)

	return &CreateResult{Event: ev, NotificationStatus: notifStatus}, nil
}

// ApproveEvent はパートナーとしてイベントを承認する。
// 承認は条件付きUPDATE 1回で適用され、並行する二重承認は一方が必ず失敗する。
func (s *Service) ApproveEvent(ctx context.Context, userID, eventID string) (*model.Event, error) {
	ev, err := s.eventRepo.FindByIDForUser(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	if ev == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}
	if ev.CreatorUserID == userID {
		return nil, model.NewSelfApprovalError()
	}
	if ev.PartnerApproved {
		return nil, model.NewAlreadyApprovedError()
	}

	applied, err := s.eventRepo.ApprovePartner(ctx, eventID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("承認の適用に失敗しました: %w", err)
	}
	if !applied {
		// 並行する承認に先を越された
		return nil, model.NewAlreadyApprovedError()
	}
	s.metrics.RecordEventApproval()

	updated, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("イベントの再取得に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	approver, _ := s.userRepo.FindActiveByID(ctx, userID)
	name := "パートナー"
	if approver != nil {
		name = approver.NotifyName()
	}
	s.notifyMember(ctx, updated.CreatorUserID,
		notification.KindEventApproved,
		"予定が承認されました",
		fmt.Sprintf("%sさんが「%s」を承認しました。", name, updated.Title),
		updated.ID,
	)

	return updated, nil
}

// RejectEvent はパートナーとしてイベントを拒否する。
// ステータスは通常の再計算経路をバイパスして原子的にREJECTEDへ上書きされ、
// 応答は必ずストアから再取得した行で構築される。
func (s *Service) RejectEvent(ctx context.Context, userID, eventID string) (*model.Event, error) {
	ev, err := s.eventRepo.FindByIDForUser(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	if ev == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}
	if ev.CreatorUserID == userID {
		return nil, model.NewSelfRejectionError()
	}
	if ev.Status == model.EventStatusRejected {
		return nil, model.NewAlreadyRejectedError()
	}

	applied, err := s.eventRepo.Reject(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("拒否の適用に失敗しました: %w", err)
	}
	if !applied {
		return nil, model.NewEventNotFoundError(eventID)
	}
	s.metrics.RecordEventRejection()

	// 上書き直後の行を再取得してから応答を構築する（read-your-writes）
	updated, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("イベントの再取得に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	rejecter, _ := s.userRepo.FindActiveByID(ctx, userID)
	name := "パートナー"
	if rejecter != nil {
		name = rejecter.NotifyName()
	}
	s.notifyMember(ctx, updated.CreatorUserID,
		notification.KindEventRejected,
		"予定が拒否されました",
		fmt.Sprintf("%sさんが「%s」を拒否しました。", name, updated.Title),
		updated.ID,
	)

	return updated, nil
}

// UpdateEvent はイベントを更新する。
// 日時・タイトル・場所・繰り返し設定の変更は再承認を必要とし、
// 編集者自身の承認を与え直した上で相手の承認をリセットしてPENDINGに戻す。
// カテゴリ・説明・色・リマインダーの変更は承認状態に影響しない。
func (s *Service) UpdateEvent(ctx context.Context, userID, eventID string, patch UpdateEventInput) (*model.Event, error) {
	ev, err := s.eventRepo.FindByIDForUser(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	if ev == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	now := time.Now()
	requiresReapproval := false

	if patch.Title != nil {
		title := s.sanitizer.SanitizeText(*patch.Title)
		if title != ev.Title {
			ev.Title = title
			requiresReapproval = true
		}
	}
	if patch.StartDateTime != nil && !patch.StartDateTime.Equal(ev.StartDateTime) {
		ev.StartDateTime = *patch.StartDateTime
		requiresReapproval = true
	}
	if patch.EndDateTime != nil && !patch.EndDateTime.Equal(ev.EndDateTime) {
		ev.EndDateTime = *patch.EndDateTime
		requiresReapproval = true
	}
	if patch.StartDateTime != nil || patch.EndDateTime != nil {
		if err := validateTimeRange(ev.StartDateTime, ev.EndDateTime); err != nil {
			return nil, err
		}
	}
	if patch.Location != nil {
		location := s.sanitizer.SanitizeText(*patch.Location)
		if location != ev.Location {
			ev.Location = location
			requiresReapproval = true
		}
	}
	if patch.IsRecurring != nil && *patch.IsRecurring != ev.IsRecurring {
		ev.IsRecurring = *patch.IsRecurring
		requiresReapproval = true
	}
	if patch.RecurrencePattern != nil && *patch.RecurrencePattern != ev.RecurrencePattern {
		ev.RecurrencePattern = *patch.RecurrencePattern
		requiresReapproval = true
	}

	// 承認状態に影響しないフィールド
	if patch.Category != nil {
		ev.Category = *patch.Category
	}
	if patch.Description != nil {
		ev.Description = s.sanitizer.SanitizeText(*patch.Description)
	}
	if patch.Color != nil {
		ev.Color = *patch.Color
	}
	if patch.Reminders != nil {
		if err := validateReminders(*patch.Reminders); err != nil {
			return nil, err
		}
		ev.Reminders = nil
		for _, r := range *patch.Reminders {
			ev.Reminders = append(ev.Reminders, model.EventReminder{
				ID:            uuid.NewString(),
				EventID:       ev.ID,
				MinutesBefore: r.MinutesBefore,
				Label:         r.Label,
				CreatedAt:     now,
			})
		}
	}

	if requiresReapproval {
		// 編集は編集した本人から相手への再提出にあたる。
		// 編集者の承認を与え直し、相手の承認をリセットしてPENDINGに戻す。
		approvedAt := now
		if userID == ev.CreatorUserID {
			ev.CreatorApproved = true
			ev.CreatorApprovedAt = &approvedAt
			ev.PartnerApproved = false
			ev.PartnerApprovedAt = nil
		} else {
			ev.PartnerApproved = true
			ev.PartnerApprovedAt = &approvedAt
			ev.CreatorApproved = false
			ev.CreatorApprovedAt = nil
		}
		ev.Status = model.EventStatusPending
	}

	ev.UpdatedAt = now
	if err := s.eventRepo.Update(ctx, ev); err != nil {
		return nil, fmt.Errorf("イベントの更新に失敗しました: %w", err)
	}

	if requiresReapproval {
		link, err := s.linkRepo.FindActiveByUserID(ctx, userID)
		if err == nil && link != nil {
			editor, _ := s.userRepo.FindActiveByID(ctx, userID)
			name := "パートナー"
			if editor != nil {
				name = editor.NotifyName()
			}
			s.notifyMember(ctx, link.OtherMemberID(userID),
				notification.KindEventUpdated,
				"予定が変更されました",
				fmt.Sprintf("%sさんが「%s」を変更しました。再承認してください。", name, ev.Title),
				ev.ID,
			)
		}
	}

	return ev, nil
}

// DeleteEvent はイベントを削除する。リマインダー・例外もあわせて削除される。
func (s *Service) DeleteEvent(ctx context.Context, userID, eventID string) error {
	ev, err := s.eventRepo.FindByIDForUser(ctx, eventID, userID)
	if err != nil {
		return fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	if ev == nil {
		return model.NewEventNotFoundError(eventID)
	}

	if err := s.eventRepo.Delete(ctx, eventID); err != nil {
		return fmt.Errorf("イベントの削除に失敗しました: %w", err)
	}

	link, err := s.linkRepo.FindActiveByUserID(ctx, userID)
	if err == nil && link != nil {
		deleter, _ := s.userRepo.FindActiveByID(ctx, userID)
		name := "パートナー"
		if deleter != nil {
			name = deleter.NotifyName()
		}
		s.notifyMember(ctx, link.OtherMemberID(userID),
			notification.KindEventCancelled,
			"予定が削除されました",
			fmt.Sprintf("%sさんが「%s」を削除しました。", name, ev.Title),
			eventID,
		)
	}

	return nil
}

// AddEventException は繰り返しイベントに例外日（除外日）を追加する。
func (s *Service) AddEventException(ctx context.Context, userID, eventID string, date time.Time) (*model.EventException, error) {
	ev, err := s.eventRepo.FindByIDForUser(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	if ev == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}
	if !ev.IsRecurring {
		return nil, model.NewNotRecurringEventError()
	}

	exists, err := s.excRepo.ExistsByEventAndDate(ctx, eventID, date)
	if err != nil {
		return nil, fmt.Errorf("例外日の確認に失敗しました: %w", err)
	}
	if exists {
		return nil, model.NewDuplicateExceptionError()
	}

	exc := &model.EventException{
		ID:            uuid.NewString(),
		EventID:       eventID,
		ExceptionDate: date,
		ExceptionType: model.ExceptionTypeDeleted,
		CreatedAt:     time.Now(),
	}
	if err := s.excRepo.Create(ctx, exc); err != nil {
		return nil, fmt.Errorf("例外日の作成に失敗しました: %w", err)
	}

	return exc, nil
}

// GetUserEvents はユーザーの共有イベント一覧を読み取りモデルで返す。
func (s *Service) GetUserEvents(ctx context.Context, userID string) ([]EventView, error) {
	events, err := s.eventRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
	}
	return s.buildViews(ctx, userID, events)
}

// GetPendingApprovalEvents はユーザーの承認待ちイベント一覧を返す。
func (s *Service) GetPendingApprovalEvents(ctx context.Context, userID string) ([]EventView, error) {
	events, err := s.eventRepo.ListPendingApprovalByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("承認待ちイベントの取得に失敗しました: %w", err)
	}
	return s.buildViews(ctx, userID, events)
}

// CountPendingApprovals はユーザーの承認待ちイベント数を返す。
func (s *Service) CountPendingApprovals(ctx context.Context, userID string) (int64, error) {
	count, err := s.eventRepo.CountPendingApprovalByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("承認待ち件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// buildViews はイベント列を読み取りモデルに変換する。
// パートナー名は1回だけ取得し、全イベントで共有する。
func (s *Service) buildViews(ctx context.Context, userID string, events []*model.Event) ([]EventView, error) {
	views := make([]EventView, 0, len(events))
	if len(events) == 0 {
		return views, nil
	}

	link, err := s.linkRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("リンクの取得に失敗しました: %w", err)
	}

	names := map[string]string{}
	if link != nil {
		for _, id := range []string{link.InitiatorUserID, link.PartnerUserID} {
			if u, err := s.userRepo.FindActiveByID(ctx, id); err == nil && u != nil {
				names[id] = u.NotifyName()
			}
		}
	}

	for _, ev := range events {
		view := EventView{
			Event:         ev,
			CreatorName:   names[ev.CreatorUserID],
			FullyApproved: ev.FullyApproved(),
		}
		if link != nil {
			view.PartnerName = names[link.OtherMemberID(ev.CreatorUserID)]
		}
		if ev.Status == model.EventStatusPending {
			if !ev.CreatorApproved {
				view.PendingApprovalUserID = ev.CreatorUserID
			} else if !ev.PartnerApproved && link != nil {
				view.PendingApprovalUserID = link.OtherMemberID(ev.CreatorUserID)
			}
		}
		if ev.IsRecurring {
			dates, err := s.excRepo.ListDatesByEventID(ctx, ev.ID)
			if err != nil {
				return nil, fmt.Errorf("例外日の取得に失敗しました: %w", err)
			}
			view.ExceptionDates = dates
		}
		views = append(views, view)
	}

	return views, nil
}

// notifyMember は指定ユーザーへの通知をキューに積み、投入結果を返す。
func (s *Service) notifyMember(ctx context.Context, recipientID string, kind notification.Kind, title, body, eventID string) string {
	recipient, err := s.userRepo.FindActiveByID(ctx, recipientID)
	if err != nil || recipient == nil {
		return NotificationSkipped
	}
	queued := s.notifier.Enqueue(&notification.Notification{
		Recipient: recipient,
		Kind:      kind,
		Title:     title,
		Body:      body,
		EventID:   eventID,
	})
	if !queued {
		return NotificationSkipped
	}
	return NotificationQueued
}

// validateTimeRange は開始・終了の順序と最大期間を検証する。
func validateTimeRange(start, end time.Time) error {
	if !start.Before(end) {
		return model.NewInvalidTimeRangeError()
	}
	if end.Sub(start) > maxEventDuration {
		return model.NewEventTooLongError()
	}
	return nil
}

// validateReminders はリマインダー分数の範囲を検証する。
func validateReminders(reminders []ReminderInput) error {
	for _, r := range reminders {
		if r.MinutesBefore < 0 || r.MinutesBefore > maxReminderMinutes {
			return model.NewInvalidReminderError(r.MinutesBefore)
		}
	}
	return nil
}
