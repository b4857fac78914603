// Package availability は空き時間と共通空き時間の計算を提供する。
// 多忙区間はユーザー自身が作成した共有イベントと、アクティブな
// 外部カレンダーのイベントから構成される。スロットは永続化されず、
// 問い合わせの都度計算される。
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/paircal/internal/metrics"
	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// interval は多忙区間1件を表す。[Start, End)。
type interval struct {
	Start time.Time
	End   time.Time
}

// Service は空き時間計算のサービス層。
type Service struct {
	eventRepo    repository.EventRepository
	calRepo      repository.ExternalCalendarRepository
	extEventRepo repository.ExternalEventRepository
	metrics      metrics.MetricsCollector

	// busyStatuses は多忙区間に含める共有イベントのステータス。
	// 空の場合は全ステータスを対象とする（拒否済みの予定も塞ぐ）。
	busyStatuses []model.EventStatus
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	eventRepo repository.EventRepository,
	calRepo repository.ExternalCalendarRepository,
	extEventRepo repository.ExternalEventRepository,
	collector metrics.MetricsCollector,
	busyStatuses []model.EventStatus,
) *Service {
	return &Service{
		eventRepo:    eventRepo,
		calRepo:      calRepo,
		extEventRepo: extEventRepo,
		metrics:      collector,
		busyStatuses: busyStatuses,
	}
}

// FindFreeSlots はウィンドウ内の連続空き時間帯を開始時刻昇順で返す。
// minMinutes以上の長さのスロットのみ返す（分未満は切り捨て、しきい値は以上）。
func (s *Service) FindFreeSlots(ctx context.Context, userID string, windowStart, windowEnd time.Time, minMinutes int) ([]model.AvailabilitySlot, error) {
	if err := validateWindow(windowStart, windowEnd, minMinutes); err != nil {
		return nil, err
	}

	started := time.Now()
	defer func() {
		s.metrics.RecordAvailabilityQuery(time.Since(started))
	}()

	return s.freeSlots(ctx, userID, windowStart, windowEnd, minMinutes)
}

// FindMutualAvailability は2人の空き時間の重なりを返す。
// 各ユーザーの空きスロットを求めたうえで、全ペアの重なり
// [max(starts), min(ends)) をminMinutes以上のもののみ採用する。
// ペア総当たりのO(n・m)だが、現実的なウィンドウではnもmも小さい。
func (s *Service) FindMutualAvailability(ctx context.Context, user1, user2 string, windowStart, windowEnd time.Time, minMinutes int) ([]model.AvailabilitySlot, error) {
	if err := validateWindow(windowStart, windowEnd, minMinutes); err != nil {
		return nil, err
	}

	started := time.Now()
	defer func() {
		s.metrics.RecordAvailabilityQuery(time.Since(started))
	}()

	slots1, err := s.freeSlots(ctx, user1, windowStart, windowEnd, minMinutes)
	if err != nil {
		return nil, err
	}
	slots2, err := s.freeSlots(ctx, user2, windowStart, windowEnd, minMinutes)
	if err != nil {
		return nil, err
	}

	mutual := make([]model.AvailabilitySlot, 0)
	for _, a := range slots1 {
		for _, b := range slots2 {
			start := maxTime(a.Start, b.Start)
			end := minTime(a.End, b.End)
			if !start.Before(end) {
				continue
			}
			minutes := int(end.Sub(start) / time.Minute)
			if minutes >= minMinutes {
				mutual = append(mutual, model.AvailabilitySlot{
					Start:           start,
					End:             end,
					DurationMinutes: minutes,
				})
			}
		}
	}

	sort.Slice(mutual, func(i, j int) bool {
		return mutual[i].Start.Before(mutual[j].Start)
	})

	return mutual, nil
}

// freeSlots は1ユーザーの空きスロットを計算する。
// 多忙区間を開始時刻でソートし、カーソルを単調に進める1回の走査で
// 隙間を検出する。重なり合う区間の事前マージは行わず、カーソルが
// これまでの最大終了時刻より後退しないことで同じ結果を得る。
func (s *Service) freeSlots(ctx context.Context, userID string, windowStart, windowEnd time.Time, minMinutes int) ([]model.AvailabilitySlot, error) {
	busy, err := s.busyIntervals(ctx, userID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	sort.Slice(busy, func(i, j int) bool {
		return busy[i].Start.Before(busy[j].Start)
	})

	slots := make([]model.AvailabilitySlot, 0)
	cursor := windowStart

	for _, iv := range busy {
		if iv.Start.After(cursor) {
			gapEnd := minTime(iv.Start, windowEnd)
			appendSlot(&slots, cursor, gapEnd, minMinutes)
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}

	// 最後の多忙区間からウィンドウ末尾までの残り
	if cursor.Before(windowEnd) {
		appendSlot(&slots, cursor, windowEnd, minMinutes)
	}

	return slots, nil
}

// busyIntervals はユーザーの多忙区間（共有イベント＋外部イベント）を収集する。
func (s *Service) busyIntervals(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]interval, error) {
	events, err := s.eventRepo.ListByCreatorInWindow(ctx, userID, windowStart, windowEnd, s.busyStatuses)
	if err != nil {
		return nil, fmt.Errorf("共有イベントの取得に失敗しました: %w", err)
	}

	intervals := make([]interval, 0, len(events))
	for _, ev := range events {
		intervals = append(intervals, interval{Start: ev.StartDateTime, End: ev.EndDateTime})
	}

	cals, err := s.calRepo.ListByUserID(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("外部カレンダーの取得に失敗しました: %w", err)
	}
	if len(cals) > 0 {
		ids := make([]string, len(cals))
		for i, cal := range cals {
			ids[i] = cal.ID
		}
		extEvents, err := s.extEventRepo.ListByCalendarsInWindow(ctx, ids, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("外部イベントの取得に失敗しました: %w", err)
		}
		for _, ev := range extEvents {
			intervals = append(intervals, interval{Start: ev.StartDateTime, End: ev.EndDateTime})
		}
	}

	return intervals, nil
}

// appendSlot は[start, end)がminMinutes以上の場合のみスロットを追加する。
// 長さは分単位の整数で、分未満の端数は切り捨てられる。
func appendSlot(slots *[]model.AvailabilitySlot, start, end time.Time, minMinutes int) {
	if !start.Before(end) {
		return
	}
	minutes := int(end.Sub(start) / time.Minute)
	if minutes >= minMinutes {
		*slots = append(*slots, model.AvailabilitySlot{
			Start:           start,
			End:             end,
			DurationMinutes: minutes,
		})
	}
}

// validateWindow は検索ウィンドウと最小時間の指定を検証する。
func validateWindow(windowStart, windowEnd time.Time, minMinutes int) error {
	if !windowStart.Before(windowEnd) {
		return model.NewInvalidWindowError("開始は終了より前である必要があります")
	}
	if minMinutes < 1 {
		return model.NewInvalidWindowError("最小時間は1分以上である必要があります")
	}
	return nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
