package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresLinkCodeRepo はPostgreSQLを使用したリンクコードリポジトリ。
type PostgresLinkCodeRepo struct {
	db *sql.DB
}

// NewPostgresLinkCodeRepo はPostgresLinkCodeRepoを生成する。
func NewPostgresLinkCodeRepo(db *sql.DB) *PostgresLinkCodeRepo {
	return &PostgresLinkCodeRepo{db: db}
}

const linkCodeColumns = `id, code, generated_by_user_id, is_used,
	used_by_user_id, used_at, expires_at, created_at`

// scanLinkCode は1行分のコードカラムをmodel.LinkCodeに読み取る。
func scanLinkCode(s rowScanner) (*model.LinkCode, error) {
	code := &model.LinkCode{}
	var usedBy sql.NullString
	var usedAt sql.NullTime

	if err := s.Scan(
		&code.ID, &code.Code, &code.GeneratedByUser, &code.IsUsed,
		&usedBy, &usedAt, &code.ExpiresAt, &code.CreatedAt,
	); err != nil {
		return nil, err
	}

	code.UsedByUserID = nullStringValue(usedBy)
	code.UsedAt = nullTimeValue(usedAt)
	return code, nil
}

// FindUnusedByUserID はユーザーが発行した未使用コードを取得する。見つからない場合はnilを返す。
func (r *PostgresLinkCodeRepo) FindUnusedByUserID(ctx context.Context, userID string) (*model.LinkCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+linkCodeColumns+`
		 FROM link_codes
		 WHERE generated_by_user_id = $1 AND is_used = false
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	)

	code, err := scanLinkCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リンクコードの取得に失敗しました: %w", err)
	}
	return code, nil
}

// FindByCode はコード文字列でコードを検索する。見つからない場合はnilを返す。
// 使用済みコードと同じ文字列が再発行されうるため、未使用の最新行を優先して返す。
func (r *PostgresLinkCodeRepo) FindByCode(ctx context.Context, codeStr string) (*model.LinkCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+linkCodeColumns+`
		 FROM link_codes
		 WHERE code = $1
		 ORDER BY is_used ASC, created_at DESC
		 LIMIT 1`,
		codeStr,
	)

	code, err := scanLinkCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リンクコードの検索に失敗しました: %w", err)
	}
	return code, nil
}

// ExistsByCode はコード文字列が既に存在するかどうかを返す。
func (r *PostgresLinkCodeRepo) ExistsByCode(ctx context.Context, codeStr string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM link_codes WHERE code = $1)`,
		codeStr,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("リンクコードの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create はコードを作成する。
func (r *PostgresLinkCodeRepo) Create(ctx context.Context, code *model.LinkCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO link_codes (id, code, generated_by_user_id, is_used,
		    expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		code.ID, code.Code, code.GeneratedByUser, code.IsUsed,
		code.ExpiresAt, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("リンクコードの作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのコードを削除する。
func (r *PostgresLinkCodeRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM link_codes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("リンクコードの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteExpired は指定時刻より前に失効した未使用コードを削除し、削除件数を返す。
func (r *PostgresLinkCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM link_codes WHERE is_used = false AND expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れコードの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ LinkCodeRepository = (*PostgresLinkCodeRepo)(nil)
