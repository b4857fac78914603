package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/paircal/internal/event"
	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/model"
)

// exceptionDateLayout は例外日の日付フォーマット。
const exceptionDateLayout = "2006-01-02"

// EventServiceInterface はイベントハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	CreateEvent(ctx context.Context, creatorID string, input event.CreateEventInput) (*event.CreateResult, error)
	ApproveEvent(ctx context.Context, userID, eventID string) (*model.Event, error)
	RejectEvent(ctx context.Context, userID, eventID string) (*model.Event, error)
	UpdateEvent(ctx context.Context, userID, eventID string, patch event.UpdateEventInput) (*model.Event, error)
	DeleteEvent(ctx context.Context, userID, eventID string) error
	AddEventException(ctx context.Context, userID, eventID string, date time.Time) (*model.EventException, error)
	GetUserEvents(ctx context.Context, userID string) ([]event.EventView, error)
	GetPendingApprovalEvents(ctx context.Context, userID string) ([]event.EventView, error)
	CountPendingApprovals(ctx context.Context, userID string) (int64, error)
}

// EventHandler は共有イベントのHTTPハンドラー。
type EventHandler struct {
	service EventServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface) *EventHandler {
	return &EventHandler{service: service}
}

// reminderPayload はリマインダー1件分のリクエスト／レスポンス表現。
type reminderPayload struct {
	MinutesBefore int    `json:"minutes_before"`
	Label         string `json:"label,omitempty"`
}

// createEventRequest はイベント作成リクエストのボディ。
type createEventRequest struct {
	Title             string            `json:"title"`
	StartDateTime     time.Time         `json:"start_datetime"`
	EndDateTime       time.Time         `json:"end_datetime"`
	Location          string            `json:"location"`
	Category          string            `json:"category"`
	Description       string            `json:"description"`
	Color             string            `json:"color"`
	IsRecurring       bool              `json:"is_recurring"`
	RecurrencePattern string            `json:"recurrence_pattern"`
	Reminders         []reminderPayload `json:"reminders"`
}

// updateEventRequest はイベント更新リクエストのボディ。未指定フィールドは変更しない。
type updateEventRequest struct {
	Title             *string            `json:"title"`
	StartDateTime     *time.Time         `json:"start_datetime"`
	EndDateTime       *time.Time         `json:"end_datetime"`
	Location          *string            `json:"location"`
	Category          *string            `json:"category"`
	Description       *string            `json:"description"`
	Color             *string            `json:"color"`
	IsRecurring       *bool              `json:"is_recurring"`
	RecurrencePattern *string            `json:"recurrence_pattern"`
	Reminders         *[]reminderPayload `json:"reminders"`
}

// addExceptionRequest は例外日追加リクエストのボディ。
type addExceptionRequest struct {
	Date string `json:"date"`
}

// eventResponse はイベントのAPIレスポンス。
type eventResponse struct {
	ID                string            `json:"id"`
	LinkID            string            `json:"link_id"`
	CreatorUserID     string            `json:"creator_user_id"`
	Title             string            `json:"title"`
	StartDateTime     time.Time         `json:"start_datetime"`
	EndDateTime       time.Time         `json:"end_datetime"`
	Location          string            `json:"location,omitempty"`
	Category          string            `json:"category,omitempty"`
	Description       string            `json:"description,omitempty"`
	Status            string            `json:"status"`
	CreatorApproved   bool              `json:"creator_approved"`
	PartnerApproved   bool              `json:"partner_approved"`
	CreatorApprovedAt *time.Time        `json:"creator_approved_at,omitempty"`
	PartnerApprovedAt *time.Time        `json:"partner_approved_at,omitempty"`
	IsRecurring       bool              `json:"is_recurring"`
	RecurrencePattern string            `json:"recurrence_pattern,omitempty"`
	Color             string            `json:"color,omitempty"`
	Reminders         []reminderPayload `json:"reminders"`
}

// createEventResponse はイベント作成のAPIレスポンス。
// 通知のキュー投入結果をベストエフォートの送信状況として含む。
type createEventResponse struct {
	Event              eventResponse `json:"event"`
	NotificationStatus string        `json:"notification_status"`
}

// eventViewResponse は承認フローの導出値を含む読み取りレスポンス。
type eventViewResponse struct {
	eventResponse
	CreatorName           string   `json:"creator_name"`
	PartnerName           string   `json:"partner_name"`
	FullyApproved         bool     `json:"fully_approved"`
	PendingApprovalUserID string   `json:"pending_approval_user_id,omitempty"`
	ExceptionDates        []string `json:"exception_dates,omitempty"`
}

// exceptionResponse は例外日のAPIレスポンス。
type exceptionResponse struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	ExceptionDate string `json:"exception_date"`
	ExceptionType string `json:"exception_type"`
}

// CreateEvent はイベント作成を処理する。
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.Title == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "TITLE_REQUIRED",
			Message:  "タイトルは必須です。",
			Category: model.CategoryValidation,
			Action:   "タイトルを入力してください。",
		})
		return
	}

	result, err := h.service.CreateEvent(r.Context(), userID, event.CreateEventInput{
		Title:             req.Title,
		StartDateTime:     req.StartDateTime,
		EndDateTime:       req.EndDateTime,
		Location:          req.Location,
		Category:          req.Category,
		Description:       req.Description,
		Color:             req.Color,
		IsRecurring:       req.IsRecurring,
		RecurrencePattern: req.RecurrencePattern,
		Reminders:         toReminderInputs(req.Reminders),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createEventResponse{
		Event:              toEventResponse(result.Event),
		NotificationStatus: result.NotificationStatus,
	})
}

// ListEvents はユーザーのイベント一覧を返す。
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	views, err := h.service.GetUserEvents(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]eventViewResponse{
		"events": toEventViewResponses(views),
	})
}

// ListPendingEvents は承認待ちイベント一覧を返す。
// GET /api/events/pending
func (h *EventHandler) ListPendingEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	views, err := h.service.GetPendingApprovalEvents(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]eventViewResponse{
		"events": toEventViewResponses(views),
	})
}

// CountPendingEvents は承認待ちイベント件数を返す。
// GET /api/events/pending/count
func (h *EventHandler) CountPendingEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	count, err := h.service.CountPendingApprovals(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// ApproveEvent はパートナーによるイベント承認を処理する。
// POST /api/events/{id}/approve
func (h *EventHandler) ApproveEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	ev, err := h.service.ApproveEvent(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

// RejectEvent はパートナーによるイベント拒否を処理する。
// POST /api/events/{id}/reject
func (h *EventHandler) RejectEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	ev, err := h.service.RejectEvent(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

// UpdateEvent はイベントの部分更新を処理する。
// PATCH /api/events/{id}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	patch := event.UpdateEventInput{
		Title:             req.Title,
		StartDateTime:     req.StartDateTime,
		EndDateTime:       req.EndDateTime,
		Location:          req.Location,
		Category:          req.Category,
		Description:       req.Description,
		Color:             req.Color,
		IsRecurring:       req.IsRecurring,
		RecurrencePattern: req.RecurrencePattern,
	}
	if req.Reminders != nil {
		reminders := toReminderInputs(*req.Reminders)
		patch.Reminders = &reminders
	}

	ev, err := h.service.UpdateEvent(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

// DeleteEvent はイベント削除を処理する。
// DELETE /api/events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.DeleteEvent(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddEventException は繰り返しイベントへの例外日追加を処理する。
// POST /api/events/{id}/exceptions
func (h *EventHandler) AddEventException(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req addExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	date, err := time.Parse(exceptionDateLayout, req.Date)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateFormatError(req.Date))
		return
	}

	exc, err := h.service.AddEventException(r.Context(), userID, chi.URLParam(r, "id"), date)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, exceptionResponse{
		ID:            exc.ID,
		EventID:       exc.EventID,
		ExceptionDate: exc.ExceptionDate.Format(exceptionDateLayout),
		ExceptionType: string(exc.ExceptionType),
	})
}

// --- 変換ヘルパー ---

func toReminderInputs(payloads []reminderPayload) []event.ReminderInput {
	if len(payloads) == 0 {
		return nil
	}
	inputs := make([]event.ReminderInput, len(payloads))
	for i, p := range payloads {
		inputs[i] = event.ReminderInput{MinutesBefore: p.MinutesBefore, Label: p.Label}
	}
	return inputs
}

func toEventResponse(ev *model.Event) eventResponse {
	reminders := make([]reminderPayload, len(ev.Reminders))
	for i, rem := range ev.Reminders {
		reminders[i] = reminderPayload{MinutesBefore: rem.MinutesBefore, Label: rem.Label}
	}
	return eventResponse{
		ID:                ev.ID,
		LinkID:            ev.LinkID,
		CreatorUserID:     ev.CreatorUserID,
		Title:             ev.Title,
		StartDateTime:     ev.StartDateTime,
		EndDateTime:       ev.EndDateTime,
		Location:          ev.Location,
		Category:          ev.Category,
		Description:       ev.Description,
		Status:            string(ev.Status),
		CreatorApproved:   ev.CreatorApproved,
		PartnerApproved:   ev.PartnerApproved,
		CreatorApprovedAt: ev.CreatorApprovedAt,
		PartnerApprovedAt: ev.PartnerApprovedAt,
		IsRecurring:       ev.IsRecurring,
		RecurrencePattern: ev.RecurrencePattern,
		Color:             ev.Color,
		Reminders:         reminders,
	}
}

func toEventViewResponses(views []event.EventView) []eventViewResponse {
	responses := make([]eventViewResponse, len(views))
	for i, v := range views {
		dates := make([]string, len(v.ExceptionDates))
		for j, d := range v.ExceptionDates {
			dates[j] = d.Format(exceptionDateLayout)
		}
		responses[i] = eventViewResponse{
			eventResponse:         toEventResponse(v.Event),
			CreatorName:           v.CreatorName,
			PartnerName:           v.PartnerName,
			FullyApproved:         v.FullyApproved,
			PendingApprovalUserID: v.PendingApprovalUserID,
			ExceptionDates:        dates,
		}
	}
	return responses
}
