package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// --- モック ---

type mockEventRepo struct {
	listByCreatorInWindowFn func(ctx context.Context, userID string, windowStart, windowEnd time.Time, statuses []model.EventStatus) ([]*model.Event, error)
}

func (m *mockEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	return nil, nil
}
func (m *mockEventRepo) FindByIDForUser(ctx context.Context, eventID, userID string) (*model.Event, error) {
	return nil, nil
}
func (m *mockEventRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Event, error) {
	return nil, nil
}
func (m *mockEventRepo) ListPendingApprovalByUserID(ctx context.Context, userID string) ([]*model.Event, error) {
	return nil, nil
}
func (m *mockEventRepo) CountPendingApprovalByUserID(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}
func (m *mockEventRepo) ListByCreatorInWindow(ctx context.Context, userID string, windowStart, windowEnd time.Time, statuses []model.EventStatus) ([]*model.Event, error) {
	return m.listByCreatorInWindowFn(ctx, userID, windowStart, windowEnd, statuses)
}
func (m *mockEventRepo) Create(ctx context.Context, event *model.Event) error { return nil }
func (m *mockEventRepo) Update(ctx context.Context, event *model.Event) error { return nil }
func (m *mockEventRepo) ApprovePartner(ctx context.Context, eventID string, at time.Time) (bool, error) {
	return false, nil
}
func (m *mockEventRepo) Reject(ctx context.Context, eventID string) (bool, error) {
	return false, nil
}
func (m *mockEventRepo) Delete(ctx context.Context, id string) error { return nil }

type mockCalRepo struct {
	listByUserIDFn func(ctx context.Context, userID string, activeOnly bool) ([]*model.ExternalCalendar, error)
}

func (m *mockCalRepo) FindByUserAndDeviceID(ctx context.Context, userID, deviceCalendarID string) (*model.ExternalCalendar, error) {
	return nil, nil
}
func (m *mockCalRepo) FindByID(ctx context.Context, id string) (*model.ExternalCalendar, error) {
	return nil, nil
}
func (m *mockCalRepo) ListByUserID(ctx context.Context, userID string, activeOnly bool) ([]*model.ExternalCalendar, error) {
	if m.listByUserIDFn != nil {
		return m.listByUserIDFn(ctx, userID, activeOnly)
	}
	return nil, nil
}
func (m *mockCalRepo) ListInactive(ctx context.Context) ([]*model.ExternalCalendar, error) {
	return nil, nil
}
func (m *mockCalRepo) Create(ctx context.Context, cal *model.ExternalCalendar) error { return nil }
func (m *mockCalRepo) Update(ctx context.Context, cal *model.ExternalCalendar) error { return nil }
func (m *mockCalRepo) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	return nil
}

type mockExtEventRepo struct {
	listByCalendarsInWindowFn func(ctx context.Context, calendarIDs []string, windowStart, windowEnd time.Time) ([]*model.ExternalEvent, error)
}

func (m *mockExtEventRepo) FindByCalendarAndDeviceID(ctx context.Context, calendarID, deviceEventID string) (*model.ExternalEvent, error) {
	return nil, nil
}
func (m *mockExtEventRepo) ListByCalendarsInWindow(ctx context.Context, calendarIDs []string, windowStart, windowEnd time.Time) ([]*model.ExternalEvent, error) {
	if m.listByCalendarsInWindowFn != nil {
		return m.listByCalendarsInWindowFn(ctx, calendarIDs, windowStart, windowEnd)
	}
	return nil, nil
}
func (m *mockExtEventRepo) Create(ctx context.Context, ev *model.ExternalEvent) error { return nil }
func (m *mockExtEventRepo) Update(ctx context.Context, ev *model.ExternalEvent) error { return nil }
func (m *mockExtEventRepo) SoftDeleteByCalendarID(ctx context.Context, calendarID string) (int64, error) {
	return 0, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordEventCreated()                   {}
func (noopMetrics) RecordEventApproval()                  {}
func (noopMetrics) RecordEventRejection()                 {}
func (noopMetrics) RecordNotificationSent()               {}
func (noopMetrics) RecordNotificationFailed()             {}
func (noopMetrics) RecordNotificationDropped()            {}
func (noopMetrics) RecordAvailabilityQuery(time.Duration) {}
func (noopMetrics) RecordSyncEventsUpserted(int)          {}
func (noopMetrics) RecordHTTPStatus(int)                  {}

// --- ヘルパー ---

// at は基準日（2026-09-01 UTC）の指定時刻を返すテストヘルパー。
func at(hour, minute int) time.Time {
	return time.Date(2026, 9, 1, hour, minute, 0, 0, time.UTC)
}

func busyService(events map[string][]*model.Event, external []*model.ExternalEvent) *Service {
	eventRepo := &mockEventRepo{
		listByCreatorInWindowFn: func(ctx context.Context, userID string, windowStart, windowEnd time.Time, statuses []model.EventStatus) ([]*model.Event, error) {
			return events[userID], nil
		},
	}
	calRepo := &mockCalRepo{}
	extEventRepo := &mockExtEventRepo{}
	if external != nil {
		calRepo.listByUserIDFn = func(ctx context.Context, userID string, activeOnly bool) ([]*model.ExternalCalendar, error) {
			return []*model.ExternalCalendar{{ID: "cal-1", UserID: userID, IsActive: true}}, nil
		}
		extEventRepo.listByCalendarsInWindowFn = func(ctx context.Context, calendarIDs []string, windowStart, windowEnd time.Time) ([]*model.ExternalEvent, error) {
			return external, nil
		}
	}
	return NewService(eventRepo, calRepo, extEventRepo, noopMetrics{}, nil)
}

func busyEvent(start, end time.Time) *model.Event {
	return &model.Event{StartDateTime: start, EndDateTime: end}
}

func slotEquals(t *testing.T, got model.AvailabilitySlot, start, end time.Time, minutes int) {
	t.Helper()
	if !got.Start.Equal(start) || !got.End.Equal(end) {
		t.Errorf("slot = [%v, %v), want [%v, %v)", got.Start, got.End, start, end)
	}
	if got.DurationMinutes != minutes {
		t.Errorf("duration = %d, want %d", got.DurationMinutes, minutes)
	}
}

// --- 空き時間 ---

// TestFindFreeSlots_EmptyBusySet は多忙区間がない場合にウィンドウ全体が1スロットになることを検証する。
func TestFindFreeSlots_EmptyBusySet(t *testing.T) {
	svc := busyService(nil, nil)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("slots = %d, want 1", len(slots))
	}
	slotEquals(t, slots[0], at(9, 0), at(17, 0), 480)
}

// TestFindFreeSlots_GapsBetweenBusyIntervals は多忙区間の間と末尾の隙間を検出することを検証する。
func TestFindFreeSlots_GapsBetweenBusyIntervals(t *testing.T) {
	svc := busyService(map[string][]*model.Event{
		"user-1": {
			busyEvent(at(10, 0), at(11, 0)),
			busyEvent(at(13, 0), at(14, 30)),
		},
	}, nil)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("slots = %d, want 3", len(slots))
	}
	slotEquals(t, slots[0], at(9, 0), at(10, 0), 60)
	slotEquals(t, slots[1], at(11, 0), at(13, 0), 120)
	slotEquals(t, slots[2], at(14, 30), at(17, 0), 150)
}

// TestFindFreeSlots_OverlappingIntervalsWithoutPremerge は重なり・包含された多忙区間でも
// カーソルの単調前進により正しい隙間が得られることを検証する。
func TestFindFreeSlots_OverlappingIntervalsWithoutPremerge(t *testing.T) {
	svc := busyService(map[string][]*model.Event{
		"user-1": {
			busyEvent(at(10, 0), at(12, 0)),
			busyEvent(at(11, 0), at(11, 30)), // 前の区間に完全に包含される
			busyEvent(at(11, 30), at(13, 0)),
		},
	}, nil)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 30)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("slots = %d, want 2: %+v", len(slots), slots)
	}
	slotEquals(t, slots[0], at(9, 0), at(10, 0), 60)
	slotEquals(t, slots[1], at(13, 0), at(17, 0), 240)
}

// TestFindFreeSlots_IntervalExtendsBeyondWindow はウィンドウからはみ出す多忙区間を検証する。
func TestFindFreeSlots_IntervalExtendsBeyondWindow(t *testing.T) {
	svc := busyService(map[string][]*model.Event{
		"user-1": {
			busyEvent(at(8, 0), at(10, 0)),  // ウィンドウ開始前から
			busyEvent(at(16, 0), at(18, 0)), // ウィンドウ終了後まで
		},
	}, nil)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("slots = %d, want 1: %+v", len(slots), slots)
	}
	slotEquals(t, slots[0], at(10, 0), at(16, 0), 360)
}

// TestFindFreeSlots_ThresholdInclusive はちょうどminMinutesのスロットが採用されることを検証する。
func TestFindFreeSlots_ThresholdInclusive(t *testing.T) {
	svc := busyService(map[string][]*model.Event{
		"user-1": {
			busyEvent(at(10, 0), at(16, 0)),
		},
	}, nil)

	// 09:00-10:00はちょうど60分
	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("slots = %d, want 2: %+v", len(slots), slots)
	}
	slotEquals(t, slots[0], at(9, 0), at(10, 0), 60)
}

// TestFindFreeSlots_ShortGapsFiltered はしきい値未満の隙間が除外されることを検証する。
func TestFindFreeSlots_ShortGapsFiltered(t *testing.T) {
	svc := busyService(map[string][]*model.Event{
		"user-1": {
			busyEvent(at(9, 30), at(10, 0)),
			busyEvent(at(10, 45), at(17, 0)), // 隙間は45分
		},
	}, nil)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("slots = %d, want 0: %+v", len(slots), slots)
	}
}

// TestFindFreeSlots_SubMinuteGapNeverEmitted は1分未満の隙間が決して出力されないことを検証する。
func TestFindFreeSlots_SubMinuteGapNeverEmitted(t *testing.T) {
	base := at(10, 0)
	svc := busyService(map[string][]*model.Event{
		"user-1": {
			busyEvent(at(9, 0), base),
			busyEvent(base.Add(30*time.Second), at(17, 0)), // 30秒の隙間
		},
	}, nil)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 1)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	for _, s := range slots {
		if s.DurationMinutes < 1 {
			t.Errorf("sub-minute slot emitted: %+v", s)
		}
	}
	if len(slots) != 0 {
		t.Errorf("slots = %d, want 0: %+v", len(slots), slots)
	}
}

// TestFindFreeSlots_IncludesExternalCalendarEvents は外部カレンダーのイベントも多忙区間に
// 含まれることを検証する。
func TestFindFreeSlots_IncludesExternalCalendarEvents(t *testing.T) {
	svc := busyService(
		map[string][]*model.Event{
			"user-1": {busyEvent(at(10, 0), at(11, 0))},
		},
		[]*model.ExternalEvent{
			{StartDateTime: at(14, 0), EndDateTime: at(15, 0)},
		},
	)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("slots = %d, want 3: %+v", len(slots), slots)
	}
	slotEquals(t, slots[1], at(11, 0), at(14, 0), 180)
	slotEquals(t, slots[2], at(15, 0), at(17, 0), 120)
}

// TestFindFreeSlots_WindowTooShort はウィンドウ自体がしきい値未満の場合に空を返すことを検証する。
func TestFindFreeSlots_WindowTooShort(t *testing.T) {
	svc := busyService(nil, nil)

	slots, err := svc.FindFreeSlots(context.Background(), "user-1", at(9, 0), at(9, 30), 60)
	if err != nil {
		t.Fatalf("FindFreeSlots returned error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("slots = %d, want 0", len(slots))
	}
}

// TestFindFreeSlots_InvalidWindow はウィンドウ指定のバリデーションを検証する。
func TestFindFreeSlots_InvalidWindow(t *testing.T) {
	svc := busyService(nil, nil)

	tests := []struct {
		name       string
		start, end time.Time
		minMinutes int
	}{
		{name: "開始が終了より後", start: at(17, 0), end: at(9, 0), minMinutes: 60},
		{name: "開始と終了が同一", start: at(9, 0), end: at(9, 0), minMinutes: 60},
		{name: "最小時間が0", start: at(9, 0), end: at(17, 0), minMinutes: 0},
		{name: "最小時間が負", start: at(9, 0), end: at(17, 0), minMinutes: -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.FindFreeSlots(context.Background(), "user-1", tt.start, tt.end, tt.minMinutes)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidWindow {
				t.Errorf("err = %v, want %s", err, model.ErrCodeInvalidWindow)
			}
		})
	}
}

// --- 共通空き時間 ---

// TestFindMutualAvailability_Overlap は2人の空きの重なりが正しく計算されることを検証する。
func TestFindMutualAvailability_Overlap(t *testing.T) {
	// user-1: 10:00-11:00が多忙 → 空きは09:00-10:00, 11:00-17:00
	// user-2: 12:00-13:00が多忙 → 空きは09:00-12:00, 13:00-17:00
	svc := busyService(map[string][]*model.Event{
		"user-1": {busyEvent(at(10, 0), at(11, 0))},
		"user-2": {busyEvent(at(12, 0), at(13, 0))},
	}, nil)

	slots, err := svc.FindMutualAvailability(context.Background(), "user-1", "user-2", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindMutualAvailability returned error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("slots = %d, want 3: %+v", len(slots), slots)
	}
	slotEquals(t, slots[0], at(9, 0), at(10, 0), 60)
	slotEquals(t, slots[1], at(11, 0), at(12, 0), 60)
	slotEquals(t, slots[2], at(13, 0), at(17, 0), 240)
}

// TestFindMutualAvailability_Symmetric は引数順を入れ替えても同じ重なりが得られることを検証する。
func TestFindMutualAvailability_Symmetric(t *testing.T) {
	svc := busyService(map[string][]*model.Event{
		"user-1": {busyEvent(at(10, 0), at(12, 0))},
		"user-2": {busyEvent(at(14, 0), at(15, 0))},
	}, nil)

	ab, err := svc.FindMutualAvailability(context.Background(), "user-1", "user-2", at(9, 0), at(17, 0), 30)
	if err != nil {
		t.Fatalf("FindMutualAvailability returned error: %v", err)
	}
	ba, err := svc.FindMutualAvailability(context.Background(), "user-2", "user-1", at(9, 0), at(17, 0), 30)
	if err != nil {
		t.Fatalf("FindMutualAvailability returned error: %v", err)
	}

	if len(ab) != len(ba) {
		t.Fatalf("slot counts differ: %d vs %d", len(ab), len(ba))
	}
	for i := range ab {
		if !ab[i].Start.Equal(ba[i].Start) || !ab[i].End.Equal(ba[i].End) {
			t.Errorf("slot %d differs: %+v vs %+v", i, ab[i], ba[i])
		}
	}
}

// TestFindMutualAvailability_NoOverlap は重なりがない場合に空を返すことを検証する。
func TestFindMutualAvailability_NoOverlap(t *testing.T) {
	// user-1は午後のみ空き、user-2は午前のみ空き
	svc := busyService(map[string][]*model.Event{
		"user-1": {busyEvent(at(9, 0), at(13, 0))},
		"user-2": {busyEvent(at(13, 0), at(17, 0))},
	}, nil)

	slots, err := svc.FindMutualAvailability(context.Background(), "user-1", "user-2", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindMutualAvailability returned error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("slots = %d, want 0: %+v", len(slots), slots)
	}
}

// TestFindMutualAvailability_ShortOverlapFiltered はしきい値未満の重なりが除外されることを検証する。
func TestFindMutualAvailability_ShortOverlapFiltered(t *testing.T) {
	// 重なりは11:00-11:30の30分のみ
	svc := busyService(map[string][]*model.Event{
		"user-1": {busyEvent(at(9, 0), at(11, 0))},
		"user-2": {busyEvent(at(11, 30), at(17, 0))},
	}, nil)

	slots, err := svc.FindMutualAvailability(context.Background(), "user-1", "user-2", at(9, 0), at(17, 0), 60)
	if err != nil {
		t.Fatalf("FindMutualAvailability returned error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("slots = %d, want 0: %+v", len(slots), slots)
	}
}
