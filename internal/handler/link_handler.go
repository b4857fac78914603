package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/paircal/internal/link"
	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/model"
)

// LinkServiceInterface はリンクハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	GenerateCode(ctx context.Context, userID string) (*model.LinkCode, error)
	RedeemCode(ctx context.Context, userID, rawCode string) (*model.Link, error)
	GetLinkStatus(ctx context.Context, userID string) (*link.Status, error)
	DeleteLink(ctx context.Context, userID string) (bool, error)
}

// LinkHandler はペアリング管理のHTTPハンドラー。
type LinkHandler struct {
	service LinkServiceInterface
}

// NewLinkHandler はLinkHandlerを生成する。
func NewLinkHandler(service LinkServiceInterface) *LinkHandler {
	return &LinkHandler{service: service}
}

// redeemCodeRequest はコード使用リクエストのボディ。
type redeemCodeRequest struct {
	Code string `json:"code"`
}

// linkCodeResponse は発行済みリンクコードのAPIレスポンス。
type linkCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// linkResponse はリンクのAPIレスポンス。
type linkResponse struct {
	ID              string    `json:"id"`
	InitiatorUserID string    `json:"initiator_user_id"`
	PartnerUserID   string    `json:"partner_user_id"`
	StartedAt       time.Time `json:"started_at"`
}

// partnerResponse はパートナー情報のAPIレスポンス。
type partnerResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Nickname    string `json:"nickname,omitempty"`
}

// linkStatusResponse はリンク状態のAPIレスポンス。
type linkStatusResponse struct {
	HasActiveLink bool             `json:"has_active_link"`
	Link          *linkResponse    `json:"link,omitempty"`
	Partner       *partnerResponse `json:"partner,omitempty"`
}

// deleteLinkResponse はリンク解消のAPIレスポンス。
// アクティブなリンクがなかった場合も成功として同じ形で返す。
type deleteLinkResponse struct {
	Dissolved     bool `json:"dissolved"`
	HasActiveLink bool `json:"has_active_link"`
}

// GenerateCode はリンクコードの発行を処理する。
// POST /api/link/code
func (h *LinkHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	code, err := h.service.GenerateCode(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, linkCodeResponse{
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt,
	})
}

// RedeemCode はリンクコードの使用を処理する。
// POST /api/link/redeem
func (h *LinkHandler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req redeemCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.Code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewCodeInvalidError())
		return
	}

	established, err := h.service.RedeemCode(r.Context(), userID, req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLinkResponse(established))
}

// GetLinkStatus はリンク状態の照会を処理する。
// GET /api/link/status
func (h *LinkHandler) GetLinkStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	status, err := h.service.GetLinkStatus(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := linkStatusResponse{HasActiveLink: status.Linked}
	if status.Linked {
		lr := toLinkResponse(status.Link)
		resp.Link = &lr
		if status.Partner != nil {
			resp.Partner = &partnerResponse{
				ID:          status.Partner.ID,
				DisplayName: status.Partner.DisplayName,
				Nickname:    status.Partner.Nickname,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteLink はリンク解消を処理する。
// リンクとその全イベントが削除される。アクティブなリンクがない場合もエラーにしない。
// DELETE /api/link
func (h *LinkHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	dissolved, err := h.service.DeleteLink(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteLinkResponse{
		Dissolved:     dissolved,
		HasActiveLink: false,
	})
}

func toLinkResponse(l *model.Link) linkResponse {
	return linkResponse{
		ID:              l.ID,
		InitiatorUserID: l.InitiatorUserID,
		PartnerUserID:   l.PartnerUserID,
		StartedAt:       l.StartedAt,
	}
}
