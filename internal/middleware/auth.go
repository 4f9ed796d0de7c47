// Package middleware содержит HTTP middleware сервиса пожертвований.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/giftaid-donations/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "giftaid_staff"
	authCookieTTL  = 24 * time.Hour
)

// Identity описывает сотрудника, выполняющего запрос.
type Identity struct {
	UserID       int64
	Capabilities []model.Capability
}

// Can сообщает, обладает ли сотрудник указанным правом.
func (i Identity) Can(c model.Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// AuthMiddleware выполняет проверку аутентификации сотрудника по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey: secretOrRandom(secret),
	}
}

func secretOrRandom(secret string) []byte {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}
	return key
}

// Middleware проверяет cookie авторизации и отклоняет запросы без него.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := a.identityFromRequest(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identify добавляет сотрудника в контекст, если cookie корректен, но не отклоняет запрос.
func (a *AuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := a.identityFromRequest(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), identityKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability пропускает только сотрудников с указанным правом.
func RequireCapability(c model.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentityFromContext(r.Context())
			if !ok || !id.Can(c) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetAuthCookie устанавливает cookie авторизации для сотрудника.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64, caps []model.Capability) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(encodeIdentity(userID, caps)),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) identityFromRequest(r *http.Request) (Identity, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return Identity{}, false
	}
	return a.parseCookie(cookie.Value)
}

func encodeIdentity(userID int64, caps []model.Capability) string {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c))
	}
	return strconv.FormatInt(userID, 10) + "|" + strings.Join(names, ",")
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Identity, bool) {
	i := strings.LastIndex(cookieValue, ".")
	if i < 0 {
		return Identity{}, false
	}
	payload, signature := cookieValue[:i], cookieValue[i+1:]

	expected := a.sign(payload)
	if !hmac.Equal([]byte(signature), []byte(expected[len(payload)+1:])) {
		return Identity{}, false
	}

	idStr, capsStr, ok := strings.Cut(payload, "|")
	if !ok {
		return Identity{}, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Identity{}, false
	}

	var caps []model.Capability
	for _, c := range strings.Split(capsStr, ",") {
		if c != "" {
			caps = append(caps, model.Capability(c))
		}
	}

	return Identity{UserID: id, Capabilities: caps}, true
}

// GetIdentityFromContext извлекает сотрудника из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity возвращает контекст с указанным сотрудником.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}
