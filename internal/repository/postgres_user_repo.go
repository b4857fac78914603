package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindActiveByID は指定IDのアクティブなユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindActiveByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var displayName, nickname, pushToken sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, nickname, push_token, is_active,
		        created_at, updated_at
		 FROM users WHERE id = $1 AND is_active = true`,
		id,
	).Scan(
		&user.ID, &user.Email, &displayName, &nickname, &pushToken,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	user.DisplayName = nullStringValue(displayName)
	user.Nickname = nullStringValue(nickname)
	user.PushToken = nullStringValue(pushToken)

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
