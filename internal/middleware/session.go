package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	sessionCookieName = "giftaid_cart"
	sessionCookieTTL  = 48 * time.Hour
)

// SessionCookies читает и записывает подписанный идентификатор сессии корзины.
type SessionCookies struct {
	secretKey []byte
}

// NewSessionCookies создаёт обработчик cookie сессии с указанным секретом.
func NewSessionCookies(secret string) *SessionCookies {
	return &SessionCookies{secretKey: secretOrRandom(secret)}
}

// Read возвращает идентификатор сессии из cookie, если подпись верна.
func (s *SessionCookies) Read(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}

	id, sig, ok := strings.Cut(c.Value, ".")
	if !ok {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(id))) {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}

	return id, true
}

// Write устанавливает cookie с идентификатором сессии.
func (s *SessionCookies) Write(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id + "." + s.signature(id),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionCookieTTL),
	})
}

// NewSessionID выпускает новый идентификатор сессии.
func NewSessionID() string {
	return uuid.NewString()
}

func (s *SessionCookies) signature(id string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
