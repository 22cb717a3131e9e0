// Package middleware содержит HTTP middleware каталога.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

const authCookieName = "auth_token"

// AuthMiddleware проверяет подписанный токен участника вида id.role.signature.
// Токены выпускает внешний сервис аутентификации; здесь они только проверяются.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен из cookie или заголовка Authorization и кладёт
// участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Sign возвращает токен участника.
func (a *AuthMiddleware) Sign(p model.Principal) string {
	payload := p.ID + "." + string(p.Role)
	return payload + "." + a.signature(payload)
}

func (a *AuthMiddleware) signature(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (model.Principal, bool) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 {
		return model.Principal{}, false
	}
	payload, sig := token[:i], token[i+1:]

	if !hmac.Equal([]byte(sig), []byte(a.signature(payload))) {
		return model.Principal{}, false
	}

	id, role, ok := strings.Cut(payload, ".")
	if !ok || id == "" || !model.Role(role).Valid() {
		return model.Principal{}, false
	}

	return model.Principal{ID: id, Role: model.Role(role)}, true
}

// WithPrincipal кладёт участника в контекст.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext извлекает участника из контекста запроса.
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}
