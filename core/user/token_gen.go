package user

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

var (
	salt    = []byte("phqcare.core.user.token_gen")
	nowFunc = time.Now // mockable
)

// makeToken returns a random, URL-safe password reset token.
func makeToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken returns the HMAC-SHA256 of `token` keyed with the app secret.
func hashToken(secretKey, token string) string {
	key := sha256.Sum256(append(append([]byte{}, salt...), secretKey...))
	h := hmac.New(sha256.New, key[:])
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}
