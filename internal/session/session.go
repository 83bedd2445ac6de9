package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"emoney-portal/internal/platform"
	"emoney-portal/internal/status"
	"emoney-portal/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

func key(id string) string {
	return keyPrefix + id
}

type authAPI interface {
	Post(ctx context.Context, caller platform.Caller, path string, body, out any) error
}

// Store keeps portal sessions in Redis. A session holds the platform bearer
// token and the negotiated locale for one dashboard login.
type Store struct {
	redis   *redis.Client
	api     authAPI
	locales *platform.Locales
	ttl     time.Duration

	now   func() time.Time
	newID func() string
}

func NewStore(redisClient *redis.Client, api authAPI, locales *platform.Locales, ttl time.Duration) *Store {
	return &Store{
		redis:   redisClient,
		api:     api,
		locales: locales,
		ttl:     ttl,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Locale   string `json:"locale"`
}

func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Username, validation.Required, validation.Length(3, 100)),
		validation.Field(&c.Password, validation.Required, validation.Length(1, 128)),
	)
}

type loginResult struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Roles        []string `json:"roles"`
	Tenant       string   `json:"tenant"`
	MerchantCode string   `json:"merchantCode"`
}

// Login authenticates against the identity provider and opens a session.
func (s *Store) Login(ctx context.Context, cred Credentials) (*models.Session, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	locale := s.locales.Negotiate(cred.Locale)

	var res loginResult
	body := map[string]string{"username": cred.Username, "password": cred.Password}
	if err := s.api.Post(ctx, platform.Caller{Locale: locale}, platform.PathLogin, body, &res); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.AccessToken == "" {
		return nil, fmt.Errorf("login: empty access token: %w", status.ErrUnauthorized)
	}

	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(res.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("login: parse token: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	if claims.ExpiresAt != nil {
		if !claims.ExpiresAt.After(now) {
			return nil, fmt.Errorf("login: token already expired: %w", status.ErrUnauthorized)
		}
		if claims.ExpiresAt.Before(expiresAt) {
			expiresAt = claims.ExpiresAt.Time
		}
	}

	subject := claims.Subject
	if subject == "" {
		subject = cred.Username
	}
	sess := &models.Session{
		ID:           s.newID(),
		AccessToken:  res.AccessToken,
		Locale:       locale,
		Subject:      subject,
		Tenant:       strings.ToLower(claims.Tenant),
		MerchantCode: claims.MerchantCode,
		Roles:        claims.Roles,
		ExpiresAt:    expiresAt.UTC(),
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	slog.Info("session opened", "session_id", sess.ID, "subject", sess.Subject, "tenant", sess.Tenant)
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, status.ErrSessionNotFound
	}
	data, err := s.redis.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, status.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// SetLocale switches the language sent to the platform for this session.
func (s *Store) SetLocale(ctx context.Context, id, locale string) (*models.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Locale = s.locales.Negotiate(locale)
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Drop(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("drop session: %w", err)
	}
	return nil
}

// DropCaller is registered as the platform 401 hook.
func (s *Store) DropCaller(ctx context.Context, caller platform.Caller) {
	if caller.SessionID == "" {
		return
	}
	if err := s.Drop(ctx, caller.SessionID); err != nil {
		slog.Error("DropCaller()", "error", err, "session_id", caller.SessionID)
		return
	}
	slog.Info("session dropped after unauthorized response", "session_id", caller.SessionID)
}

func (s *Store) save(ctx context.Context, sess *models.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now()).Truncate(time.Second)
	if ttl <= 0 {
		_ = s.Drop(ctx, sess.ID)
		return status.ErrSessionNotFound
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.redis.Set(ctx, key(sess.ID), string(data), ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
