package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizer はプロバイダー由来のプロフィール文字列をサニタイズする。
// 表示名はIdP側で自由入力できるため、HTMLタグを一切許可しない
// StrictPolicyで除去してから保存する。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName は表示名からHTMLタグを除去し、前後の空白を取り除く。
// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
func (s *ProfileSanitizer) SanitizeName(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(name))
}
