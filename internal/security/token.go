// Package security はトークン生成・ハッシュ化などのセキュリティプリミティブを提供する。
//
// セッションのベアラートークンとOAuth stateはここで生成する。
// 生のトークンはDBに保存せず、SHA-256ハッシュのみを永続化する。
// 秘密値の比較は必ずSecureCompareを使い、タイミングリークを防ぐ。
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// DefaultTokenBytes はGenerateTokenのデフォルトのエントロピー長（バイト）。
// 256ビットあれば衝突確率は無視できる。
const DefaultTokenBytes = 32

// GenerateToken は暗号的に安全なランダムトークンを生成する。
// 出力はURLセーフなbase64（パディングなし）で、Cookieにそのまま載せられる。
// byteLengthが0以下の場合はDefaultTokenBytesを使用する。
func GenerateToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = DefaultTokenBytes
	}
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken はトークンのSHA-256ハッシュを64文字の16進文字列で返す。
// 同一入力に対して常に同一出力を返す（決定的）。
// DBにはこのハッシュのみを保存し、生のトークンは保存しない。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SecureCompare は2つの秘密値を定数時間で比較する。
// 両者のSHA-256ダイジェスト同士を比較するため、最初に異なる位置が
// 処理時間に影響しない。長さが異なる場合はfalseを返すが、
// トークン長は公開情報のため長さの判明は許容されるリークである。
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	aSum := sha256.Sum256([]byte(a))
	bSum := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(aSum[:], bSum[:]) == 1
}
