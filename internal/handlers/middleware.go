package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/pocketbase/pocketbase/core"

	"emoney-portal/internal/status"
	"emoney-portal/models"
)

const (
	SessionCookie = "portal_session"
	SessionHeader = "X-Portal-Session"

	sessionKey = "portalSession"
)

// SessionStore is the portal session store used by the handlers.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	SetLocale(ctx context.Context, id, locale string) (*models.Session, error)
	Drop(ctx context.Context, id string) error
}

func sessionID(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

// RequireSession loads the portal session named by the cookie or header.
func RequireSession(store SessionStore) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		id := sessionID(e.Request)
		if id == "" {
			return portalErrors.Respond(status.ErrSessionNotFound)
		}
		sess, err := store.Get(e.Request.Context(), id)
		if err != nil {
			return portalErrors.Respond(err)
		}
		e.Set(sessionKey, sess)
		return e.Next()
	}
}

// RequireMerchant rejects sessions without a merchant code.
func RequireMerchant(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	if sess.MerchantCode == "" {
		return portalErrors.Respond(status.ErrNotMerchant)
	}
	return e.Next()
}

// RequireTenant only lets sessions of the given tenant through.
func RequireTenant(tenant string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		sess, err := currentSession(e)
		if err != nil {
			return portalErrors.Respond(err)
		}
		if !strings.EqualFold(sess.Tenant, tenant) {
			return portalErrors.Respond(status.ErrForbidden)
		}
		return e.Next()
	}
}

func currentSession(e *core.RequestEvent) (*models.Session, error) {
	sess, _ := e.Get(sessionKey).(*models.Session)
	if sess == nil {
		return nil, status.ErrSessionNotFound
	}
	return sess, nil
}
