// Package extcal は外部カレンダー（デバイス・クラウド）の連携と
// イベント同期のドメインロジックを提供する。デバイス側が読み取った
// イベントをアップサートで取り込み、パートナーへの公開時には
// カレンダーごとのプライバシーモードを適用する。
package extcal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/paircal/internal/metrics"
	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
	"github.com/hitoshi/paircal/internal/security"
)

// busyPlaceholder はBUSY_ONLYカレンダーのイベントをパートナーに見せる際のタイトル。
const busyPlaceholder = "予定あり"

// LinkCalendarInput は外部カレンダー連携の入力を表す。
type LinkCalendarInput struct {
	Source           model.CalendarSource
	DeviceCalendarID string
	Name             string
	Color            string
	SyncEnabled      bool
	PrivacyMode      model.PrivacyMode
}

// SyncEventInput はデバイスから送られる外部イベント1件分の入力を表す。
type SyncEventInput struct {
	DeviceCalendarID string
	DeviceEventID    string
	Title            string
	StartDateTime    time.Time
	EndDateTime      time.Time
	StartTimezone    string
	EndTimezone      string
	IsAllDay         bool
	RecurrenceRule   string
	RRuleDtstartUTC  *time.Time
	RRuleUntilUTC    *time.Time
	RRuleCount       *int
	Location         string
	Description      string
	Visibility       model.ExternalEventVisibility
	Status           model.ExternalEventStatus
	LastDeviceUpdate *time.Time
}

// SyncResult は同期バッチの結果集計を表す。
type SyncResult struct {
	Created   int
	Updated   int
	Conflicts []string
	Total     int
}

// UpdateSettingsInput はカレンダー設定更新のパッチを表す。nilのフィールドは変更しない。
type UpdateSettingsInput struct {
	Name        *string
	Color       *string
	SyncEnabled *bool
	PrivacyMode *model.PrivacyMode
}

// Service は外部カレンダー連携のサービス層。
type Service struct {
	userRepo     repository.UserRepository
	calRepo      repository.ExternalCalendarRepository
	extEventRepo repository.ExternalEventRepository
	sanitizer    security.TextSanitizerService
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	calRepo repository.ExternalCalendarRepository,
	extEventRepo repository.ExternalEventRepository,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		userRepo:     userRepo,
		calRepo:      calRepo,
		extEventRepo: extEventRepo,
		sanitizer:    sanitizer,
		logger:       logger,
		metrics:      collector,
	}
}

// LinkCalendar は外部カレンダーを連携する。
// (userID, deviceCalendarID)に対して冪等で、解除済みの行があれば
// 重複させず再アクティブ化して設定を更新する。
func (s *Service) LinkCalendar(ctx context.Context, userID string, input LinkCalendarInput) (*model.ExternalCalendar, error) {
	user, err := s.userRepo.FindActiveByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	now := time.Now()
	privacy := input.PrivacyMode
	if privacy == "" {
		privacy = model.PrivacyModeFullDetails
	}

	existing, err := s.calRepo.FindByUserAndDeviceID(ctx, userID, input.DeviceCalendarID)
	if err != nil {
		return nil, fmt.Errorf("既存カレンダーの確認に失敗しました: %w", err)
	}
	if existing != nil {
		existing.Name = s.sanitizer.SanitizeText(input.Name)
		existing.Color = input.Color
		existing.SyncEnabled = input.SyncEnabled
		existing.PrivacyMode = privacy
		existing.IsActive = true
		existing.UpdatedAt = now
		if err := s.calRepo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("カレンダーの再連携に失敗しました: %w", err)
		}
		return existing, nil
	}

	cal := &model.ExternalCalendar{
		ID:               uuid.NewString(),
		UserID:           userID,
		Source:           input.Source,
		DeviceCalendarID: input.DeviceCalendarID,
		Name:             s.sanitizer.SanitizeText(input.Name),
		Color:            input.Color,
		SyncEnabled:      input.SyncEnabled,
		PrivacyMode:      privacy,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.calRepo.Create(ctx, cal); err != nil {
		return nil, fmt.Errorf("カレンダーの作成に失敗しました: %w", err)
	}

	return cal, nil
}

// UnlinkCalendar はカレンダーの連携を解除する。
// 行は削除せず非アクティブ化のみ行い、取り込んだイベントはそのまま残す。
// 残イベントの掃除はバックグラウンドジョブが担う。
func (s *Service) UnlinkCalendar(ctx context.Context, userID, deviceCalendarID string) error {
	cal, err := s.calRepo.FindByUserAndDeviceID(ctx, userID, deviceCalendarID)
	if err != nil {
		return fmt.Errorf("カレンダーの取得に失敗しました: %w", err)
	}
	if cal == nil {
		return model.NewCalendarNotFoundError(deviceCalendarID)
	}

	cal.IsActive = false
	cal.SyncEnabled = false
	cal.UpdatedAt = time.Now()
	if err := s.calRepo.Update(ctx, cal); err != nil {
		return fmt.Errorf("カレンダーの連携解除に失敗しました: %w", err)
	}

	return nil
}

// SyncEvents はデバイスから送られたイベント群をアップサートで取り込む。
// キーは(カレンダー, デバイスイベントID)。コンテンツハッシュが一致する行は
// 変更なしとしてスキップされる。1件の失敗はログに残してバッチを継続する。
// 関与した各カレンダーの最終同期日時はループ後に1回だけ更新する。
func (s *Service) SyncEvents(ctx context.Context, userID string, inputs []SyncEventInput) (*SyncResult, error) {
	user, err := s.userRepo.FindActiveByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	result := &SyncResult{Total: len(inputs), Conflicts: []string{}}
	calCache := map[string]*model.ExternalCalendar{}
	touched := map[string]bool{}

	for _, in := range inputs {
		cal, ok := calCache[in.DeviceCalendarID]
		if !ok {
			cal, err = s.calRepo.FindByUserAndDeviceID(ctx, userID, in.DeviceCalendarID)
			if err != nil {
				s.logger.Error("同期対象カレンダーの取得に失敗しました",
					slog.String("device_calendar_id", in.DeviceCalendarID),
					slog.String("error", err.Error()),
				)
				continue
			}
			calCache[in.DeviceCalendarID] = cal
		}
		if cal == nil || !cal.IsActive || !cal.SyncEnabled {
			s.logger.Warn("同期対象外のカレンダーへのイベントをスキップしました",
				slog.String("device_calendar_id", in.DeviceCalendarID),
				slog.String("device_event_id", in.DeviceEventID),
			)
			continue
		}

		created, err := s.upsertEvent(ctx, cal, in)
		if err != nil {
			s.logger.Error("外部イベントの同期に失敗しました",
				slog.String("calendar_id", cal.ID),
				slog.String("device_event_id", in.DeviceEventID),
				slog.String("error", err.Error()),
			)
			continue
		}
		touched[cal.ID] = true
		switch created {
		case upsertCreated:
			result.Created++
		case upsertUpdated:
			result.Updated++
		}
	}

	// 競合検出はアプリ発の外部イベントが入るまでは常に空を返す
	// TODO: アプリ側で編集した外部イベントとの双方向差分検出

	now := time.Now()
	for calID := range touched {
		if err := s.calRepo.UpdateLastSync(ctx, calID, now); err != nil {
			s.logger.Error("最終同期日時の更新に失敗しました",
				slog.String("calendar_id", calID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.metrics.RecordSyncEventsUpserted(result.Created + result.Updated)
	return result, nil
}

type upsertOutcome int

const (
	upsertUnchanged upsertOutcome = iota
	upsertCreated
	upsertUpdated
)

// upsertEvent はイベント1件をアップサートする。
func (s *Service) upsertEvent(ctx context.Context, cal *model.ExternalCalendar, in SyncEventInput) (upsertOutcome, error) {
	hash := syncHash(in.Title, in.StartDateTime, in.EndDateTime, in.Location)
	now := time.Now()

	existing, err := s.extEventRepo.FindByCalendarAndDeviceID(ctx, cal.ID, in.DeviceEventID)
	if err != nil {
		return upsertUnchanged, err
	}

	if existing != nil {
		if existing.SyncHash == hash {
			return upsertUnchanged, nil
		}
		applyInput(existing, in, hash)
		existing.UpdatedAt = now
		if err := s.extEventRepo.Update(ctx, existing); err != nil {
			return upsertUnchanged, err
		}
		return upsertUpdated, nil
	}

	ev := &model.ExternalEvent{
		ID:                 uuid.NewString(),
		ExternalCalendarID: cal.ID,
		DeviceEventID:      in.DeviceEventID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	applyInput(ev, in, hash)
	if err := s.extEventRepo.Create(ctx, ev); err != nil {
		return upsertUnchanged, err
	}
	return upsertCreated, nil
}

// applyInput は入力値を外部イベントに反映する。
func applyInput(ev *model.ExternalEvent, in SyncEventInput, hash string) {
	ev.Title = in.Title
	ev.StartDateTime = in.StartDateTime
	ev.EndDateTime = in.EndDateTime
	ev.StartTimezone = in.StartTimezone
	ev.EndTimezone = in.EndTimezone
	ev.IsAllDay = in.IsAllDay
	ev.RecurrenceRule = in.RecurrenceRule
	ev.RRuleDtstartUTC = in.RRuleDtstartUTC
	ev.RRuleUntilUTC = in.RRuleUntilUTC
	ev.RRuleCount = in.RRuleCount
	ev.Location = in.Location
	ev.Description = in.Description
	ev.Visibility = in.Visibility
	if ev.Visibility == "" {
		ev.Visibility = model.VisibilityDefault
	}
	ev.Status = in.Status
	if ev.Status == "" {
		ev.Status = model.ExternalEventConfirmed
	}
	ev.LastDeviceUpdate = in.LastDeviceUpdate
	ev.SyncHash = hash
}

// syncHash は変更検出用のコンテンツハッシュを計算する。
// タイトル・開始・終了・場所のいずれかが変わるとハッシュが変わる。
func syncHash(title string, start, end time.Time, location string) string {
	payload := fmt.Sprintf("%s|%s|%s|%s",
		title,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		location,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// GetEventsWithPrivacy は指定ユーザーのアクティブなカレンダーのイベントを
// ウィンドウで絞って返す。閲覧者が所有者でない場合、BUSY_ONLYカレンダーの
// イベントはタイトルを伏せ、場所と説明を落とした形で返す。
// マスキングは読み取り時のみで、保存データは変更されない。
func (s *Service) GetEventsWithPrivacy(ctx context.Context, ownerID string, windowStart, windowEnd time.Time, viewerID string) ([]*model.ExternalEvent, error) {
	if !windowStart.Before(windowEnd) {
		return nil, model.NewInvalidWindowError("開始は終了より前である必要があります")
	}

	cals, err := s.calRepo.ListByUserID(ctx, ownerID, true)
	if err != nil {
		return nil, fmt.Errorf("カレンダー一覧の取得に失敗しました: %w", err)
	}
	if len(cals) == 0 {
		return []*model.ExternalEvent{}, nil
	}

	privacyByCalID := make(map[string]model.PrivacyMode, len(cals))
	ids := make([]string, len(cals))
	for i, cal := range cals {
		ids[i] = cal.ID
		privacyByCalID[cal.ID] = cal.PrivacyMode
	}

	events, err := s.extEventRepo.ListByCalendarsInWindow(ctx, ids, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("外部イベント一覧の取得に失敗しました: %w", err)
	}

	if viewerID == ownerID {
		return events, nil
	}

	masked := make([]*model.ExternalEvent, len(events))
	for i, ev := range events {
		if privacyByCalID[ev.ExternalCalendarID] != model.PrivacyModeBusyOnly {
			masked[i] = ev
			continue
		}
		cp := *ev
		cp.Title = busyPlaceholder
		cp.Location = ""
		cp.Description = ""
		masked[i] = &cp
	}

	return masked, nil
}

// GetUserCalendars はユーザーの連携カレンダー一覧を返す。
func (s *Service) GetUserCalendars(ctx context.Context, userID string, activeOnly bool) ([]*model.ExternalCalendar, error) {
	cals, err := s.calRepo.ListByUserID(ctx, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("カレンダー一覧の取得に失敗しました: %w", err)
	}
	return cals, nil
}

// UpdateCalendarSettings はカレンダーの設定を部分更新する。
func (s *Service) UpdateCalendarSettings(ctx context.Context, userID, deviceCalendarID string, patch UpdateSettingsInput) (*model.ExternalCalendar, error) {
	cal, err := s.calRepo.FindByUserAndDeviceID(ctx, userID, deviceCalendarID)
	if err != nil {
		return nil, fmt.Errorf("カレンダーの取得に失敗しました: %w", err)
	}
	if cal == nil || !cal.IsActive {
		return nil, model.NewCalendarNotFoundError(deviceCalendarID)
	}

	if patch.Name != nil {
		cal.Name = s.sanitizer.SanitizeText(*patch.Name)
	}
	if patch.Color != nil {
		cal.Color = *patch.Color
	}
	if patch.SyncEnabled != nil {
		cal.SyncEnabled = *patch.SyncEnabled
	}
	if patch.PrivacyMode != nil {
		cal.PrivacyMode = *patch.PrivacyMode
	}
	cal.UpdatedAt = time.Now()

	if err := s.calRepo.Update(ctx, cal); err != nil {
		return nil, fmt.Errorf("カレンダー設定の更新に失敗しました: %w", err)
	}

	return cal, nil
}

// SweepOrphanedEvents は連携解除済みカレンダーに残った外部イベントを
// 論理削除し、削除件数を返す。バックグラウンドジョブから呼ばれる。
func (s *Service) SweepOrphanedEvents(ctx context.Context) (int64, error) {
	cals, err := s.calRepo.ListInactive(ctx)
	if err != nil {
		return 0, fmt.Errorf("非アクティブカレンダーの取得に失敗しました: %w", err)
	}

	var total int64
	for _, cal := range cals {
		n, err := s.extEventRepo.SoftDeleteByCalendarID(ctx, cal.ID)
		if err != nil {
			s.logger.Error("残留イベントの掃除に失敗しました",
				slog.String("calendar_id", cal.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += n
	}

	return total, nil
}
