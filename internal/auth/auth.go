// Package auth protects the admin endpoints with a server-verified password
// and in-memory sessions. The password is only ever compared on the server.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/ledgerline/site/internal/config"
	"github.com/ledgerline/site/internal/pkg/httputil"
	"github.com/ledgerline/site/internal/pkg/logger"
)

// Session is an authenticated admin session.
type Session struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthManager issues and checks admin sessions.
type AuthManager struct {
	password     []byte
	cookieName   string
	ttl          time.Duration
	secureCookie bool

	sessions  map[string]*Session
	sessionMu sync.RWMutex
	now       func() time.Time
}

// NewAuthManager creates a manager from the admin config. With no password
// configured every login is rejected.
func NewAuthManager(cfg config.AdminConfig) *AuthManager {
	if cfg.Password == "" {
		logger.Warn("admin password not configured; admin login disabled")
	}
	return &AuthManager{
		password:     []byte(cfg.Password),
		cookieName:   cfg.CookieName,
		ttl:          time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		secureCookie: cfg.SecureCookie,
		sessions:     make(map[string]*Session),
		now:          time.Now,
	}
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// CheckPassword compares in constant time.
func (am *AuthManager) CheckPassword(candidate string) bool {
	if len(am.password) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), am.password) == 1
}

type loginRequest struct {
	Password string `json:"password"`
}

// HandleLogin checks the posted password and sets the session cookie.
func (am *AuthManager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if !am.CheckPassword(req.Password) {
		logger.Warn("admin login rejected", "remote", r.RemoteAddr)
		httputil.Unauthorized(w)
		return
	}

	sessionID, err := generateSessionID()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	now := am.now()
	session := &Session{CreatedAt: now, ExpiresAt: now.Add(am.ttl)}

	am.sessionMu.Lock()
	am.sessions[sessionID] = session
	am.sessionMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     am.cookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(am.ttl.Seconds()),
		HttpOnly: true,
		Secure:   am.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	logger.Info("admin logged in", "remote", r.RemoteAddr)
	httputil.OK(w, map[string]interface{}{
		"authenticated": true,
		"expires_at":    session.ExpiresAt,
	})
}

// HandleLogout drops the session and clears the cookie.
func (am *AuthManager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(am.cookieName); err == nil {
		am.sessionMu.Lock()
		delete(am.sessions, cookie.Value)
		am.sessionMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     am.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   am.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	httputil.OK(w, map[string]bool{"authenticated": false})
}

// HandleSession reports whether the caller holds a valid session.
func (am *AuthManager) HandleSession(w http.ResponseWriter, r *http.Request) {
	session := am.GetSession(r)
	if session == nil {
		httputil.JSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	httputil.OK(w, map[string]interface{}{
		"authenticated": true,
		"expires_at":    session.ExpiresAt,
	})
}

// GetSession returns the caller's session, or nil.
func (am *AuthManager) GetSession(r *http.Request) *Session {
	cookie, err := r.Cookie(am.cookieName)
	if err != nil {
		return nil
	}

	am.sessionMu.RLock()
	session, exists := am.sessions[cookie.Value]
	am.sessionMu.RUnlock()
	if !exists {
		return nil
	}

	if am.now().After(session.ExpiresAt) {
		am.sessionMu.Lock()
		delete(am.sessions, cookie.Value)
		am.sessionMu.Unlock()
		return nil
	}
	return session
}

// RequireSession rejects requests without a valid session before the
// wrapped handler runs.
func (am *AuthManager) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if am.GetSession(r) == nil {
			httputil.Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CleanupExpiredSessions prunes expired sessions every interval until ctx ends.
func (am *AuthManager) CleanupExpiredSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				am.pruneExpired()
			}
		}
	}()
}

func (am *AuthManager) pruneExpired() int {
	now := am.now()
	am.sessionMu.Lock()
	defer am.sessionMu.Unlock()

	pruned := 0
	for id, s := range am.sessions {
		if now.After(s.ExpiresAt) {
			delete(am.sessions, id)
			pruned++
		}
	}
	return pruned
}
