package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"cloudgate/internal/domain"
)

const sessionCookieName = "cloudgate_session"

// sessionManager signs and verifies the session cookie. The cookie is a
// base64 JSON payload plus an HMAC-SHA256 tag over it; tampering or an
// expired payload invalidates the session. No server-side session state.
type sessionManager struct {
	secret []byte
	ttl    time.Duration
	// secure marks the cookie HTTPS-only. Derived from the redirect URL
	// scheme so plain-HTTP local development still works.
	secure bool
}

func newSessionManager(secret string, ttl time.Duration, secure bool) *sessionManager {
	return &sessionManager{secret: []byte(secret), ttl: ttl, secure: secure}
}

type sessionPayload struct {
	UserKey     string    `json:"uk"`
	DisplayName string    `json:"dn"`
	TenantID    string    `json:"tid"`
	ExpiresAt   time.Time `json:"exp"`
}

func (m *sessionManager) Issue(w http.ResponseWriter, principal domain.Principal) error {
	payload, err := json.Marshal(sessionPayload{
		UserKey:     principal.UserKey,
		DisplayName: principal.DisplayName,
		TenantID:    principal.TenantID,
		ExpiresAt:   time.Now().Add(m.ttl).UTC(),
	})
	if err != nil {
		return err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	value := encoded + "." + m.sign(encoded)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

var errNoSession = errors.New("no valid session")

func (m *sessionManager) Principal(r *http.Request) (domain.Principal, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return domain.Principal{}, errNoSession
	}
	encoded, tag, ok := strings.Cut(cookie.Value, ".")
	if !ok || !hmac.Equal([]byte(tag), []byte(m.sign(encoded))) {
		return domain.Principal{}, errNoSession
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.Principal{}, errNoSession
	}
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Principal{}, errNoSession
	}
	if time.Now().After(payload.ExpiresAt) {
		return domain.Principal{}, errNoSession
	}
	return domain.Principal{
		UserKey:     payload.UserKey,
		DisplayName: payload.DisplayName,
		TenantID:    payload.TenantID,
	}, nil
}

func (m *sessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		MaxAge:   -1,
	})
}

func (m *sessionManager) sign(encoded string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
