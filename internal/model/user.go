// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// アカウント管理（登録・認証）は外部の認証基盤が担い、
// 本システムはリンク・イベントの参照先と通知の宛先としてのみ扱う。
type User struct {
	ID          string
	Email       string
	DisplayName string
	Nickname    string
	PushToken   string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NotifyName は通知に表示する名前を返す。
// 表示名が未設定の場合はニックネームを使用する。
func (u *User) NotifyName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Nickname
}
