package link

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet はペアリングコードに使用する文字集合。
// 読み間違えやすい文字（I, O, 0, 1）を除外した32文字。
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength はペアリングコードの文字数。
const codeLength = 6

// generateCode は暗号論的乱数からペアリングコードを生成する。
// アルファベットが32文字（256の約数）のため剰余による偏りは生じない。
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("乱数の生成に失敗しました: %w", err)
	}

	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}
