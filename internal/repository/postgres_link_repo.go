package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresLinkRepo はPostgreSQLを使用したリンクリポジトリ。
type PostgresLinkRepo struct {
	db *sql.DB
}

// NewPostgresLinkRepo はPostgresLinkRepoを生成する。
func NewPostgresLinkRepo(db *sql.DB) *PostgresLinkRepo {
	return &PostgresLinkRepo{db: db}
}

const linkColumns = `id, initiator_user_id, partner_user_id, code_in_use,
	is_active, started_at, ended_at, created_at, updated_at`

// scanLink は1行分のリンクカラムをmodel.Linkに読み取る。
func scanLink(s rowScanner) (*model.Link, error) {
	link := &model.Link{}
	var codeInUse sql.NullString
	var endedAt sql.NullTime

	if err := s.Scan(
		&link.ID, &link.InitiatorUserID, &link.PartnerUserID, &codeInUse,
		&link.IsActive, &link.StartedAt, &endedAt,
		&link.CreatedAt, &link.UpdatedAt,
	); err != nil {
		return nil, err
	}

	link.CodeInUse = nullStringValue(codeInUse)
	link.EndedAt = nullTimeValue(endedAt)
	return link, nil
}

// FindActiveByUserID はユーザーが当事者であるアクティブなリンクを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresLinkRepo) FindActiveByUserID(ctx context.Context, userID string) (*model.Link, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+`
		 FROM links
		 WHERE is_active = true
		   AND (initiator_user_id = $1 OR partner_user_id = $1)`,
		userID,
	)

	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リンクの取得に失敗しました: %w", err)
	}
	return link, nil
}

// ExistsActiveByUserID はユーザーがアクティブなリンクを持つかどうかを返す。
func (r *PostgresLinkRepo) ExistsActiveByUserID(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM links
		    WHERE is_active = true
		      AND (initiator_user_id = $1 OR partner_user_id = $1)
		 )`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("リンクの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// CreateWithCodeUse はリンクの作成とコードの使用済みマークを同一トランザクションで実行する。
// 使用済みマークは is_used = false の行のみを対象とする条件付きUPDATEのため、
// 同一コードの並行使用は2回目が失敗する。
func (r *PostgresLinkRepo) CreateWithCodeUse(ctx context.Context, link *model.Link, codeID, usedByUserID string, usedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE link_codes SET is_used = true, used_by_user_id = $2, used_at = $3
		 WHERE id = $1 AND is_used = false`,
		codeID, usedByUserID, usedAt,
	)
	if err != nil {
		return fmt.Errorf("コードの使用済みマークに失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("コード更新結果の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewCodeUsedError()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO links (id, initiator_user_id, partner_user_id, code_in_use,
		    is_active, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		link.ID, link.InitiatorUserID, link.PartnerUserID, nullString(link.CodeInUse),
		link.IsActive, link.StartedAt, link.CreatedAt, link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("リンクの作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("リンク作成のコミットに失敗しました: %w", err)
	}
	return nil
}

// DeleteWithEvents はリンクが所有する全イベントとリンク行を
// 同一トランザクションで物理削除する。リマインダー・例外はCASCADE削除される。
func (r *PostgresLinkRepo) DeleteWithEvents(ctx context.Context, linkID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE link_id = $1`, linkID); err != nil {
		return fmt.Errorf("リンク配下イベントの削除に失敗しました: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE id = $1`, linkID); err != nil {
		return fmt.Errorf("リンクの削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("リンク削除のコミットに失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LinkRepository = (*PostgresLinkRepo)(nil)
