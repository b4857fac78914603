// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/paircal/internal/model"
)

// identityHeaderName は外部認証基盤が検証済みユーザーIDを渡すヘッダー名。
// 認証プロトコル自体は境界の外にあり、本サーバーはこのヘッダーを信頼する。
const identityHeaderName = "X-User-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// ActiveUserFinder はユーザーIDの解決に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type ActiveUserFinder interface {
	FindActiveByID(ctx context.Context, id string) (*model.User, error)
}

// NewIdentityMiddleware はX-User-IDヘッダーをアクティブなユーザーに解決し、
// ユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーなし・未知のユーザー・無効化済みユーザーには401を返す。
func NewIdentityMiddleware(userFinder ActiveUserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(identityHeaderName)
			if userID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := userFinder.FindActiveByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to resolve user identity",
					slog.String("error", err.Error()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if user == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// アイデンティティミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
