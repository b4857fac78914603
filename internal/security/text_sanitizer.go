// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はユーザー入力のテキストフィールド
// （イベントのタイトル・説明・場所など）をサニタイズし、
// 保存データへのHTML・スクリプト混入を防ぐ。
// bluemondayのStrictPolicyを使用し、タグを一切許可しない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキスト入力のサニタイズ機能のインターフェースを定義する。
// イベント・カレンダーのテキストフィールド保存前に使用される。
type TextSanitizerService interface {
	// SanitizeText は入力からHTMLタグを全て除去したプレーンテキストを返す。
	// エンティティ参照はデコードして元の文字に戻し、前後の空白を取り除く。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを持たないため、全てのHTML要素が除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は入力からHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは残ったテキストをエンティティ参照にエスケープするため、
	// プレーンテキストとして保存できるようデコードし直す。
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
