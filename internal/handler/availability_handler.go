package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/model"
)

// defaultMinSlotMinutes は最小スロット長の既定値（30分）。
const defaultMinSlotMinutes = 30

// AvailabilityServiceInterface は空き時間ハンドラーが必要とするサービスインターフェース。
type AvailabilityServiceInterface interface {
	FindFreeSlots(ctx context.Context, userID string, windowStart, windowEnd time.Time, minMinutes int) ([]model.AvailabilitySlot, error)
	FindMutualAvailability(ctx context.Context, user1, user2 string, windowStart, windowEnd time.Time, minMinutes int) ([]model.AvailabilitySlot, error)
}

// AvailabilityHandler は空き時間検索のHTTPハンドラー。
type AvailabilityHandler struct {
	service AvailabilityServiceInterface
}

// NewAvailabilityHandler はAvailabilityHandlerを生成する。
func NewAvailabilityHandler(service AvailabilityServiceInterface) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

// slotResponse は空き時間スロットのAPIレスポンス。
type slotResponse struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// FindFreeSlots は単独ユーザーの空き時間検索を処理する。
// GET /api/availability/free?start=...&end=...&min_minutes=...
func (h *AvailabilityHandler) FindFreeSlots(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	windowStart, windowEnd, minMinutes, ok := parseAvailabilityQuery(w, r)
	if !ok {
		return
	}

	slots, err := h.service.FindFreeSlots(r.Context(), userID, windowStart, windowEnd, minMinutes)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]slotResponse{"slots": toSlotResponses(slots)})
}

// FindMutualAvailability はパートナーとの相互空き時間検索を処理する。
// GET /api/availability/mutual?start=...&end=...&min_minutes=...&partner_id=...
func (h *AvailabilityHandler) FindMutualAvailability(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	partnerID := r.URL.Query().Get("partner_id")
	if partnerID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "PARTNER_ID_REQUIRED",
			Message:  "partner_idは必須です。",
			Category: model.CategoryValidation,
			Action:   "パートナーのユーザーIDを指定してください。",
		})
		return
	}

	windowStart, windowEnd, minMinutes, ok := parseAvailabilityQuery(w, r)
	if !ok {
		return
	}

	slots, err := h.service.FindMutualAvailability(r.Context(), userID, partnerID, windowStart, windowEnd, minMinutes)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]slotResponse{"slots": toSlotResponses(slots)})
}

// parseAvailabilityQuery は検索ウィンドウのクエリパラメーターを解析する。
// 解析に失敗した場合はエラーレスポンスを書き込みfalseを返す。
func parseAvailabilityQuery(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, int, bool) {
	q := r.URL.Query()

	windowStart, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateFormatError(q.Get("start")))
		return time.Time{}, time.Time{}, 0, false
	}

	windowEnd, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateFormatError(q.Get("end")))
		return time.Time{}, time.Time{}, 0, false
	}

	minMinutes := defaultMinSlotMinutes
	if raw := q.Get("min_minutes"); raw != "" {
		minMinutes, err = strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidWindowError("min_minutesは整数で指定してください"))
			return time.Time{}, time.Time{}, 0, false
		}
	}

	return windowStart, windowEnd, minMinutes, true
}

func toSlotResponses(slots []model.AvailabilitySlot) []slotResponse {
	responses := make([]slotResponse, len(slots))
	for i, s := range slots {
		responses[i] = slotResponse{Start: s.Start, End: s.End, DurationMinutes: s.DurationMinutes}
	}
	return responses
}
