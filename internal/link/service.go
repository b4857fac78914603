// Package link はパートナーとのペアリング管理のドメインロジックを提供する。
// ワンタイムコードの発行と使用、リンクの確立・照会・解消を扱う。
package link

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/notification"
	"github.com/hitoshi/paircal/internal/repository"
)

// codeTTL はペアリングコードの有効期間。
const codeTTL = 15 * time.Minute

// maxCodeAttempts は一意なコード生成の最大試行回数。
// 32^6通りの空間で衝突が続くことは実質的にない。
const maxCodeAttempts = 5

// Notifier は通知のキュー投入インターフェース。
type Notifier interface {
	Enqueue(n *notification.Notification) bool
}

// Status はユーザーのペアリング状態を表す。
type Status struct {
	Linked  bool
	Link    *model.Link
	Partner *model.User
}

// Service はペアリング管理のサービス層。
// コードの発行・使用、リンク状態の照会、リンク解消のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	linkRepo repository.LinkRepository
	codeRepo repository.LinkCodeRepository
	notifier Notifier
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	linkRepo repository.LinkRepository,
	codeRepo repository.LinkCodeRepository,
	notifier Notifier,
) *Service {
	return &Service{
		userRepo: userRepo,
		linkRepo: linkRepo,
		codeRepo: codeRepo,
		notifier: notifier,
	}
}

// GenerateCode はペアリングコードを発行する。
// 有効な未使用コードが既にある場合は同じコードを返す（連打でコードが増殖しない）。
// 期限切れの古いコードは削除して新しいコードを発行する。
func (s *Service) GenerateCode(ctx context.Context, userID string) (*model.LinkCode, error) {
	user, err := s.userRepo.FindActiveByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	hasLink, err := s.linkRepo.ExistsActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("リンク状態の確認に失敗しました: %w", err)
	}
	if hasLink {
		return nil, model.NewActiveLinkExistsError()
	}

	now := time.Now()

	existing, err := s.codeRepo.FindUnusedByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("既存コードの確認に失敗しました: %w", err)
	}
	if existing != nil {
		if !existing.IsExpired(now) {
			return existing, nil
		}
		// 期限切れコードは残さず削除してから再発行する
		if err := s.codeRepo.DeleteByID(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("期限切れコードの削除に失敗しました: %w", err)
		}
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	lc := &model.LinkCode{
		ID:              uuid.NewString(),
		Code:            code,
		GeneratedByUser: userID,
		IsUsed:          false,
		ExpiresAt:       now.Add(codeTTL),
		CreatedAt:       now,
	}
	if err := s.codeRepo.Create(ctx, lc); err != nil {
		return nil, fmt.Errorf("コードの作成に失敗しました: %w", err)
	}

	return lc, nil
}

// uniqueCode は既存コードと衝突しないコード文字列を生成する。
func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		exists, err := s.codeRepo.ExistsByCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("コードの重複確認に失敗しました: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", model.NewSystemError("一意なコードを生成できませんでした")
}

// RedeemCode はパートナーが発行したコードを使用してリンクを確立する。
// コードの使用済みマークとリンク作成は同一トランザクションで行われ、
// 同じコードの並行使用は一方が必ず失敗する。
func (s *Service) RedeemCode(ctx context.Context, userID, rawCode string) (*model.Link, error) {
	user, err := s.userRepo.FindActiveByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	code := strings.ToUpper(strings.TrimSpace(rawCode))
	if code == "" {
		return nil, model.NewCodeInvalidError()
	}

	lc, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("コードの取得に失敗しました: %w", err)
	}
	if lc == nil {
		return nil, model.NewCodeInvalidError()
	}
	if lc.IsUsed {
		return nil, model.NewCodeUsedError()
	}

	now := time.Now()
	if lc.IsExpired(now) {
		return nil, model.NewCodeExpiredError()
	}
	if lc.GeneratedByUser == userID {
		return nil, model.NewSelfRedemptionError()
	}

	hasLink, err := s.linkRepo.ExistsActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("リンク状態の確認に失敗しました: %w", err)
	}
	if hasLink {
		return nil, model.NewActiveLinkExistsError()
	}

	generatorLinked, err := s.linkRepo.ExistsActiveByUserID(ctx, lc.GeneratedByUser)
	if err != nil {
		return nil, fmt.Errorf("発行者のリンク状態の確認に失敗しました: %w", err)
	}
	if generatorLinked {
		return nil, model.NewPartnerAlreadyLinkedError()
	}

	link := &model.Link{
		ID:              uuid.NewString(),
		InitiatorUserID: lc.GeneratedByUser,
		PartnerUserID:   userID,
		CodeInUse:       lc.Code,
		IsActive:        true,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.linkRepo.CreateWithCodeUse(ctx, link, lc.ID, userID, now); err != nil {
		return nil, err
	}

	s.notifyLinkEstablished(ctx, lc.GeneratedByUser, user)

	return link, nil
}

// GetLinkStatus はユーザーのペアリング状態をパートナー情報付きで返す。
// リンクがない場合もエラーではなく未連携ステータスを返す。
func (s *Service) GetLinkStatus(ctx context.Context, userID string) (*Status, error) {
	link, err := s.linkRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("リンクの取得に失敗しました: %w", err)
	}
	if link == nil {
		return &Status{Linked: false}, nil
	}

	partner, err := s.userRepo.FindActiveByID(ctx, link.OtherMemberID(userID))
	if err != nil {
		return nil, fmt.Errorf("パートナーの取得に失敗しました: %w", err)
	}

	return &Status{Linked: true, Link: link, Partner: partner}, nil
}

// DeleteLink はユーザーのアクティブなリンクを解消する。
// リンクが所有する共有イベントも同一トランザクションで削除される。
// アクティブなリンクがない場合はエラーではなく何もせずfalseを返す。
func (s *Service) DeleteLink(ctx context.Context, userID string) (bool, error) {
	link, err := s.linkRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("リンクの取得に失敗しました: %w", err)
	}
	if link == nil {
		return false, nil
	}

	// 解消後は取得できないため、通知先のパートナーを先に取得しておく
	partner, err := s.userRepo.FindActiveByID(ctx, link.OtherMemberID(userID))
	if err != nil {
		return false, fmt.Errorf("パートナーの取得に失敗しました: %w", err)
	}

	if err := s.linkRepo.DeleteWithEvents(ctx, link.ID); err != nil {
		return false, fmt.Errorf("リンクの削除に失敗しました: %w", err)
	}

	if partner != nil {
		s.notifier.Enqueue(&notification.Notification{
			Recipient: partner,
			Kind:      notification.KindLinkDissolved,
			Title:     "ペアリングが解消されました",
			Body:      "パートナーとの連携が解消され、共有の予定は削除されました。",
		})
	}

	return true, nil
}

// notifyLinkEstablished はコード発行者にペアリング成立を通知する。
func (s *Service) notifyLinkEstablished(ctx context.Context, generatorID string, redeemer *model.User) {
	generator, err := s.userRepo.FindActiveByID(ctx, generatorID)
	if err != nil || generator == nil {
		return
	}
	s.notifier.Enqueue(&notification.Notification{
		Recipient: generator,
		Kind:      notification.KindLinkEstablished,
		Title:     "ペアリングが成立しました",
		Body:      fmt.Sprintf("%sさんとの連携が始まりました。", redeemer.NotifyName()),
	})
}
