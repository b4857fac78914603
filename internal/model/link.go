// Package model はドメインモデルを定義する。
package model

import "time"

// Link は2人のユーザー間の排他的なペアリングを表す。
// 1ユーザーにつきアクティブなリンクは常に高々1つ。
type Link struct {
	ID              string
	InitiatorUserID string // コードを発行した側
	PartnerUserID   string // コードを使用した側
	CodeInUse       string
	IsActive        bool
	StartedAt       time.Time
	EndedAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OtherMemberID はリンクのもう一方のメンバーのユーザーIDを返す。
// userIDがリンクの当事者でない場合は空文字列を返す。
func (l *Link) OtherMemberID(userID string) string {
	switch userID {
	case l.InitiatorUserID:
		return l.PartnerUserID
	case l.PartnerUserID:
		return l.InitiatorUserID
	}
	return ""
}

// HasMember はuserIDがリンクの当事者かどうかを返す。
func (l *Link) HasMember(userID string) bool {
	return userID == l.InitiatorUserID || userID == l.PartnerUserID
}

// LinkCode はリンク確立用のワンタイムコードを表す。
// 発行から15分で失効し、一度だけ使用できる。
type LinkCode struct {
	ID              string
	Code            string
	GeneratedByUser string
	IsUsed          bool
	UsedByUserID    string
	UsedAt          *time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// IsExpired はコードが失効しているかどうかを返す。
func (c *LinkCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
