package security

import "testing"

// SanitizeNameがHTMLタグを除去することを検証
func TestSanitizeName_StripsHTML(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain name", "Taro Yamada", "Taro Yamada"},
		{"script tag", `<script>alert(1)</script>Taro`, "Taro"},
		{"bold tag", "<b>Taro</b>", "Taro"},
		{"surrounding spaces", "  Taro  ", "Taro"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeName(tt.input); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// 同一入力に対して常に同一出力を返すことを検証（冪等）
func TestSanitizeName_Idempotent(t *testing.T) {
	s := NewProfileSanitizer()
	input := "<i>Display</i> Name"
	first := s.SanitizeName(input)
	second := s.SanitizeName(first)
	if first != second {
		t.Errorf("not idempotent: %q -> %q", first, second)
	}
}
