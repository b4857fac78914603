package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/paircal/internal/extcal"
	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/model"
)

// CalendarServiceInterface はカレンダーハンドラーが必要とするサービスインターフェース。
type CalendarServiceInterface interface {
	LinkCalendar(ctx context.Context, userID string, input extcal.LinkCalendarInput) (*model.ExternalCalendar, error)
	UnlinkCalendar(ctx context.Context, userID, deviceCalendarID string) error
	SyncEvents(ctx context.Context, userID string, inputs []extcal.SyncEventInput) (*extcal.SyncResult, error)
	GetEventsWithPrivacy(ctx context.Context, ownerID string, windowStart, windowEnd time.Time, viewerID string) ([]*model.ExternalEvent, error)
	GetUserCalendars(ctx context.Context, userID string, activeOnly bool) ([]*model.ExternalCalendar, error)
	UpdateCalendarSettings(ctx context.Context, userID, deviceCalendarID string, patch extcal.UpdateSettingsInput) (*model.ExternalCalendar, error)
}

// CalendarHandler は外部カレンダー連携のHTTPハンドラー。
type CalendarHandler struct {
	service CalendarServiceInterface
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(service CalendarServiceInterface) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// linkCalendarRequest はカレンダー連携リクエストのボディ。
type linkCalendarRequest struct {
	Source           string `json:"source"`
	DeviceCalendarID string `json:"device_calendar_id"`
	Name             string `json:"name"`
	Color            string `json:"color"`
	SyncEnabled      bool   `json:"sync_enabled"`
	PrivacyMode      string `json:"privacy_mode"`
}

// updateCalendarRequest はカレンダー設定更新リクエストのボディ。未指定フィールドは変更しない。
type updateCalendarRequest struct {
	Name        *string `json:"name"`
	Color       *string `json:"color"`
	SyncEnabled *bool   `json:"sync_enabled"`
	PrivacyMode *string `json:"privacy_mode"`
}

// syncEventPayload はデバイスから送られる外部イベント1件分のボディ。
type syncEventPayload struct {
	DeviceCalendarID string     `json:"device_calendar_id"`
	DeviceEventID    string     `json:"device_event_id"`
	Title            string     `json:"title"`
	StartDateTime    time.Time  `json:"start_datetime"`
	EndDateTime      time.Time  `json:"end_datetime"`
	StartTimezone    string     `json:"start_timezone"`
	EndTimezone      string     `json:"end_timezone"`
	IsAllDay         bool       `json:"is_all_day"`
	RecurrenceRule   string     `json:"recurrence_rule"`
	RRuleDtstartUTC  *time.Time `json:"rrule_dtstart_utc"`
	RRuleUntilUTC    *time.Time `json:"rrule_until_utc"`
	RRuleCount       *int       `json:"rrule_count"`
	Location         string     `json:"location"`
	Description      string     `json:"description"`
	Visibility       string     `json:"visibility"`
	Status           string     `json:"status"`
	LastDeviceUpdate *time.Time `json:"last_device_update"`
}

// syncEventsRequest はイベント同期リクエストのボディ。
type syncEventsRequest struct {
	Events []syncEventPayload `json:"events"`
}

// calendarResponse は外部カレンダーのAPIレスポンス。
type calendarResponse struct {
	ID               string     `json:"id"`
	Source           string     `json:"source"`
	DeviceCalendarID string     `json:"device_calendar_id"`
	Name             string     `json:"name"`
	Color            string     `json:"color,omitempty"`
	SyncEnabled      bool       `json:"sync_enabled"`
	PrivacyMode      string     `json:"privacy_mode"`
	IsActive         bool       `json:"is_active"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
}

// externalEventResponse は外部イベントのAPIレスポンス。
type externalEventResponse struct {
	ID                 string    `json:"id"`
	ExternalCalendarID string    `json:"external_calendar_id"`
	Title              string    `json:"title"`
	StartDateTime      time.Time `json:"start_datetime"`
	EndDateTime        time.Time `json:"end_datetime"`
	IsAllDay           bool      `json:"is_all_day"`
	Location           string    `json:"location,omitempty"`
	Description        string    `json:"description,omitempty"`
	Status             string    `json:"status"`
}

// syncResultResponse は同期バッチ結果のAPIレスポンス。
type syncResultResponse struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Conflicts []string `json:"conflicts"`
	Total     int      `json:"total"`
}

// LinkCalendar は外部カレンダーの連携を処理する。
// POST /api/calendars
func (h *CalendarHandler) LinkCalendar(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req linkCalendarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.DeviceCalendarID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "DEVICE_CALENDAR_ID_REQUIRED",
			Message:  "device_calendar_idは必須です。",
			Category: model.CategoryValidation,
			Action:   "デバイス側のカレンダーIDを指定してください。",
		})
		return
	}

	cal, err := h.service.LinkCalendar(r.Context(), userID, extcal.LinkCalendarInput{
		Source:           model.CalendarSource(req.Source),
		DeviceCalendarID: req.DeviceCalendarID,
		Name:             req.Name,
		Color:            req.Color,
		SyncEnabled:      req.SyncEnabled,
		PrivacyMode:      model.PrivacyMode(req.PrivacyMode),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCalendarResponse(cal))
}

// ListCalendars は連携カレンダー一覧を返す。
// GET /api/calendars?active_only=true
func (h *CalendarHandler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	activeOnly := r.URL.Query().Get("active_only") == "true"
	cals, err := h.service.GetUserCalendars(r.Context(), userID, activeOnly)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]calendarResponse, len(cals))
	for i, cal := range cals {
		responses[i] = toCalendarResponse(cal)
	}
	writeJSON(w, http.StatusOK, map[string][]calendarResponse{"calendars": responses})
}

// UnlinkCalendar はカレンダーの連携解除を処理する。
// DELETE /api/calendars/{deviceId}
func (h *CalendarHandler) UnlinkCalendar(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.UnlinkCalendar(r.Context(), userID, chi.URLParam(r, "deviceId")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateCalendarSettings はカレンダー設定の部分更新を処理する。
// PATCH /api/calendars/{deviceId}
func (h *CalendarHandler) UpdateCalendarSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req updateCalendarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	patch := extcal.UpdateSettingsInput{
		Name:        req.Name,
		Color:       req.Color,
		SyncEnabled: req.SyncEnabled,
	}
	if req.PrivacyMode != nil {
		mode := model.PrivacyMode(*req.PrivacyMode)
		patch.PrivacyMode = &mode
	}

	cal, err := h.service.UpdateCalendarSettings(r.Context(), userID, chi.URLParam(r, "deviceId"), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCalendarResponse(cal))
}

// SyncEvents はデバイスからのイベント同期バッチを処理する。
// POST /api/calendars/sync
func (h *CalendarHandler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req syncEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	inputs := make([]extcal.SyncEventInput, len(req.Events))
	for i, ev := range req.Events {
		inputs[i] = extcal.SyncEventInput{
			DeviceCalendarID: ev.DeviceCalendarID,
			DeviceEventID:    ev.DeviceEventID,
			Title:            ev.Title,
			StartDateTime:    ev.StartDateTime,
			EndDateTime:      ev.EndDateTime,
			StartTimezone:    ev.StartTimezone,
			EndTimezone:      ev.EndTimezone,
			IsAllDay:         ev.IsAllDay,
			RecurrenceRule:   ev.RecurrenceRule,
			RRuleDtstartUTC:  ev.RRuleDtstartUTC,
			RRuleUntilUTC:    ev.RRuleUntilUTC,
			RRuleCount:       ev.RRuleCount,
			Location:         ev.Location,
			Description:      ev.Description,
			Visibility:       model.ExternalEventVisibility(ev.Visibility),
			Status:           model.ExternalEventStatus(ev.Status),
			LastDeviceUpdate: ev.LastDeviceUpdate,
		}
	}

	result, err := h.service.SyncEvents(r.Context(), userID, inputs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResultResponse{
		Created:   result.Created,
		Updated:   result.Updated,
		Conflicts: result.Conflicts,
		Total:     result.Total,
	})
}

// ListCalendarEvents は外部イベント一覧をプライバシー投影付きで返す。
// user_idを指定するとそのユーザーのイベントを閲覧者の視点で返す（既定は自分自身）。
// GET /api/calendars/events?start=...&end=...&user_id=...
func (h *CalendarHandler) ListCalendarEvents(w http.ResponseWriter, r *http.Request) {
	viewerID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	q := r.URL.Query()
	windowStart, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateFormatError(q.Get("start")))
		return
	}
	windowEnd, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateFormatError(q.Get("end")))
		return
	}

	ownerID := q.Get("user_id")
	if ownerID == "" {
		ownerID = viewerID
	}

	events, err := h.service.GetEventsWithPrivacy(r.Context(), ownerID, windowStart, windowEnd, viewerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]externalEventResponse, len(events))
	for i, ev := range events {
		responses[i] = externalEventResponse{
			ID:                 ev.ID,
			ExternalCalendarID: ev.ExternalCalendarID,
			Title:              ev.Title,
			StartDateTime:      ev.StartDateTime,
			EndDateTime:        ev.EndDateTime,
			IsAllDay:           ev.IsAllDay,
			Location:           ev.Location,
			Description:        ev.Description,
			Status:             string(ev.Status),
		}
	}
	writeJSON(w, http.StatusOK, map[string][]externalEventResponse{"events": responses})
}

func toCalendarResponse(cal *model.ExternalCalendar) calendarResponse {
	return calendarResponse{
		ID:               cal.ID,
		Source:           string(cal.Source),
		DeviceCalendarID: cal.DeviceCalendarID,
		Name:             cal.Name,
		Color:            cal.Color,
		SyncEnabled:      cal.SyncEnabled,
		PrivacyMode:      string(cal.PrivacyMode),
		IsActive:         cal.IsActive,
		LastSync:         cal.LastSync,
	}
}
