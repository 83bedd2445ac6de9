package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"emoney-portal/internal/session"
	"emoney-portal/internal/status"
	"emoney-portal/models"
)

type Authenticator interface {
	SessionStore
	Login(ctx context.Context, cred session.Credentials) (*models.Session, error)
}

type AuthHandler struct {
	store        Authenticator
	secureCookie bool
}

func NewAuthHandler(store Authenticator, secureCookie bool) *AuthHandler {
	return &AuthHandler{store: store, secureCookie: secureCookie}
}

// sessionView is what the browser sees of a session. The access token never leaves the server.
type sessionView struct {
	ID           string    `json:"session_id"`
	Subject      string    `json:"subject"`
	Tenant       string    `json:"tenant,omitempty"`
	MerchantCode string    `json:"merchant_code,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	Locale       string    `json:"locale"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func viewOf(s *models.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		Subject:      s.Subject,
		Tenant:       s.Tenant,
		MerchantCode: s.MerchantCode,
		Roles:        s.Roles,
		Locale:       s.Locale,
		ExpiresAt:    s.ExpiresAt,
	}
}

func (h *AuthHandler) Login(e *core.RequestEvent) error {
	var cred session.Credentials
	if err := e.BindBody(&cred); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if cred.Locale == "" {
		cred.Locale = e.Request.Header.Get("Accept-Language")
	}

	sess, err := h.store.Login(e.Request.Context(), cred)
	if errors.Is(err, status.ErrUnauthorized) {
		return apis.NewUnauthorizedError("Invalid username or password.", nil)
	}
	if err != nil {
		return portalErrors.Respond(err)
	}

	http.SetCookie(e.Response, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return e.JSON(http.StatusOK, viewOf(sess))
}

func (h *AuthHandler) Logout(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	if err := h.store.Drop(e.Request.Context(), sess.ID); err != nil {
		return portalErrors.Respond(err)
	}

	http.SetCookie(e.Response, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return e.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) Me(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, viewOf(sess))
}

func (h *AuthHandler) SetLocale(e *core.RequestEvent) error {
	sess, err := currentSession(e)
	if err != nil {
		return portalErrors.Respond(err)
	}
	var req struct {
		Locale string `json:"locale"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	updated, err := h.store.SetLocale(e.Request.Context(), sess.ID, req.Locale)
	if err != nil {
		return portalErrors.Respond(err)
	}
	return e.JSON(http.StatusOK, viewOf(updated))
}
