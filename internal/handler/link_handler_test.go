package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/link"
	"github.com/hitoshi/paircal/internal/model"
)

// mockLinkService はLinkServiceInterfaceのモック実装。
type mockLinkService struct {
	generateCodeFn  func(ctx context.Context, userID string) (*model.LinkCode, error)
	redeemCodeFn    func(ctx context.Context, userID, rawCode string) (*model.Link, error)
	getLinkStatusFn func(ctx context.Context, userID string) (*link.Status, error)
	deleteLinkFn    func(ctx context.Context, userID string) (bool, error)
}

func (m *mockLinkService) GenerateCode(ctx context.Context, userID string) (*model.LinkCode, error) {
	if m.generateCodeFn != nil {
		return m.generateCodeFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockLinkService) RedeemCode(ctx context.Context, userID, rawCode string) (*model.Link, error) {
	if m.redeemCodeFn != nil {
		return m.redeemCodeFn(ctx, userID, rawCode)
	}
	return nil, nil
}
func (m *mockLinkService) GetLinkStatus(ctx context.Context, userID string) (*link.Status, error) {
	if m.getLinkStatusFn != nil {
		return m.getLinkStatusFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockLinkService) DeleteLink(ctx context.Context, userID string) (bool, error) {
	if m.deleteLinkFn != nil {
		return m.deleteLinkFn(ctx, userID)
	}
	return false, nil
}

// --- POST /api/link/code テスト ---

func TestLinkHandler_GenerateCode_Success(t *testing.T) {
	expires := time.Now().Add(15 * time.Minute)
	svc := &mockLinkService{
		generateCodeFn: func(ctx context.Context, userID string) (*model.LinkCode, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return &model.LinkCode{Code: "ABC234", ExpiresAt: expires}, nil
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/link/code", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.GenerateCode(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var resp linkCodeResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Code != "ABC234" {
		t.Errorf("code = %q, want ABC234", resp.Code)
	}
}

func TestLinkHandler_GenerateCode_ConflictWhenAlreadyLinked(t *testing.T) {
	svc := &mockLinkService{
		generateCodeFn: func(ctx context.Context, userID string) (*model.LinkCode, error) {
			return nil, model.NewActiveLinkExistsError()
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/link/code", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.GenerateCode(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// --- POST /api/link/redeem テスト ---

func TestLinkHandler_RedeemCode_Success(t *testing.T) {
	svc := &mockLinkService{
		redeemCodeFn: func(ctx context.Context, userID, rawCode string) (*model.Link, error) {
			if rawCode != "ABC234" {
				t.Errorf("rawCode = %q, want ABC234", rawCode)
			}
			return &model.Link{
				ID:              "link-1",
				InitiatorUserID: "user-1",
				PartnerUserID:   userID,
				IsActive:        true,
				StartedAt:       time.Now(),
			}, nil
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/link/redeem", bytes.NewBufferString(`{"code":"ABC234"}`))
	req = withUserID(req, "user-2")
	w := httptest.NewRecorder()

	h.RedeemCode(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var resp linkResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ID != "link-1" || resp.PartnerUserID != "user-2" {
		t.Errorf("link = %+v, want link-1 / user-2", resp)
	}
}

func TestLinkHandler_RedeemCode_EmptyCode(t *testing.T) {
	h := NewLinkHandler(&mockLinkService{})

	req := httptest.NewRequest(http.MethodPost, "/api/link/redeem", bytes.NewBufferString(`{"code":""}`))
	req = withUserID(req, "user-2")
	w := httptest.NewRecorder()

	h.RedeemCode(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLinkHandler_RedeemCode_ExpiredCodeConflict(t *testing.T) {
	svc := &mockLinkService{
		redeemCodeFn: func(ctx context.Context, userID, rawCode string) (*model.Link, error) {
			return nil, model.NewCodeExpiredError()
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/link/redeem", bytes.NewBufferString(`{"code":"OLD999"}`))
	req = withUserID(req, "user-2")
	w := httptest.NewRecorder()

	h.RedeemCode(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != model.ErrCodeCodeExpired {
		t.Errorf("code = %q, want %q", errResp["code"], model.ErrCodeCodeExpired)
	}
}

// --- GET /api/link/status テスト ---

func TestLinkHandler_GetLinkStatus_Linked(t *testing.T) {
	svc := &mockLinkService{
		getLinkStatusFn: func(ctx context.Context, userID string) (*link.Status, error) {
			return &link.Status{
				Linked: true,
				Link: &model.Link{
					ID:              "link-1",
					InitiatorUserID: "user-1",
					PartnerUserID:   "user-2",
				},
				Partner: &model.User{ID: "user-2", DisplayName: "花子"},
			}, nil
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/link/status", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.GetLinkStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp linkStatusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.HasActiveLink {
		t.Error("has_active_link = false, want true")
	}
	if resp.Partner == nil || resp.Partner.DisplayName != "花子" {
		t.Errorf("partner = %+v, want 花子", resp.Partner)
	}
}

func TestLinkHandler_GetLinkStatus_NotLinked(t *testing.T) {
	svc := &mockLinkService{
		getLinkStatusFn: func(ctx context.Context, userID string) (*link.Status, error) {
			return &link.Status{Linked: false}, nil
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/link/status", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.GetLinkStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp linkStatusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.HasActiveLink || resp.Link != nil || resp.Partner != nil {
		t.Errorf("resp = %+v, want リンクなし", resp)
	}
}

// --- DELETE /api/link テスト ---

func TestLinkHandler_DeleteLink_Dissolved(t *testing.T) {
	svc := &mockLinkService{
		deleteLinkFn: func(ctx context.Context, userID string) (bool, error) {
			return true, nil
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/link", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.DeleteLink(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp deleteLinkResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Dissolved || resp.HasActiveLink {
		t.Errorf("resp = %+v, want dissolved=true has_active_link=false", resp)
	}
}

// TestLinkHandler_DeleteLink_NoActiveLinkIsSuccess はアクティブなリンクが
// ない状態の解消リクエストもエラーにならないことを検証する。
func TestLinkHandler_DeleteLink_NoActiveLinkIsSuccess(t *testing.T) {
	svc := &mockLinkService{
		deleteLinkFn: func(ctx context.Context, userID string) (bool, error) {
			return false, nil
		},
	}
	h := NewLinkHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/link", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.DeleteLink(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp deleteLinkResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Dissolved || resp.HasActiveLink {
		t.Errorf("resp = %+v, want dissolved=false has_active_link=false", resp)
	}
}
