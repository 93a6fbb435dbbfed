package connectors

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader — заголовок с HMAC-SHA256 подписью тела webhook.
const SignatureHeader = "X-Automata-Signature"

// Sign возвращает подпись тела в формате "sha256=<hex>".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись тела.
// Принимается значение как с префиксом "sha256=", так и без него.
func VerifySignature(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}
	if !strings.HasPrefix(signature, "sha256=") {
		signature = "sha256=" + signature
	}
	if !hmac.Equal([]byte(Sign(secret, body)), []byte(strings.ToLower(signature))) {
		return ErrBadSignature
	}
	return nil
}

// Secret возвращает секрет подписи из props или пустую строку.
func Secret(props map[string]any) string {
	return propString(props, propSecret)
}
