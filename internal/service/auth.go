package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kvsync/backend/internal/config"
	"github.com/kvsync/backend/internal/logging"
	"github.com/kvsync/backend/internal/metrics"
	"github.com/kvsync/backend/internal/model"
	"github.com/kvsync/backend/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const tokenCookieName = "authToken"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrMisconfigured = errors.New("auth config invalid")
)

type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

type Option func(*options)

type options struct {
	now      func() time.Time
	policies CheckPolicies
	metrics  *metrics.Auth
	log      logrus.FieldLogger
}

// WithClock replaces time.Now for token timestamps and cache ages.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithCheckPolicies(p CheckPolicies) Option {
	return func(o *options) { o.policies = p }
}

func WithMetrics(m *metrics.Auth) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// AuthService wires the auth components together and implements the
// login, logout, refresh and force-relogin flows.
type AuthService struct {
	credentials *CredentialValidator
	versions    *VersionManager
	revocations *RevocationRegistry
	sessions    *SessionStore
	issuer      *TokenIssuer
	validator   *TokenValidator

	adminUsername string
	cookieCfg     CookieConfig
	now           func() time.Time
	metrics       *metrics.Auth
	log           logrus.FieldLogger
}

func NewAuthService(st store.Store, cfg config.AuthConfig, opts ...Option) (*AuthService, error) {
	o := options{
		now:      time.Now,
		policies: DefaultCheckPolicies(),
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.WithField("component", "auth")

	tokenTTL, err := time.ParseDuration(cfg.TokenTTL)
	if err != nil || tokenTTL <= 0 {
		return nil, fmt.Errorf("%w: invalid TOKEN_TTL", ErrMisconfigured)
	}

	versionTTL, err := time.ParseDuration(cfg.VersionCacheTTL)
	if err != nil || versionTTL < 0 {
		return nil, fmt.Errorf("%w: invalid VERSION_CACHE_TTL", ErrMisconfigured)
	}

	cacheSize, err := strconv.Atoi(strings.TrimSpace(cfg.RevocationCacheSize))
	if err != nil || cacheSize <= 0 {
		return nil, fmt.Errorf("%w: invalid REVOCATION_CACHE_SIZE", ErrMisconfigured)
	}

	cookieSecure, err := parseBool(cfg.CookieSecure, true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SECURE", ErrMisconfigured)
	}

	cookieSameSite, err := parseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", ErrMisconfigured)
	}

	if cookieSameSite == http.SameSiteNoneMode && !cookieSecure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", ErrMisconfigured)
	}

	cookiePath := cfg.CookiePath
	if strings.TrimSpace(cookiePath) == "" {
		cookiePath = "/"
	}

	// A missing secret is reported per request as a server error so the
	// failure is visible without taking the whole process down.
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set; logins will fail")
	}

	codec := &tokenCodec{secret: []byte(cfg.JWTSecret), now: o.now}
	credentials := NewCredentialValidator(st, cfg.PrimaryUsername, cfg.PrimaryPassword, []byte(cfg.JWTSecret), log)
	versions := NewVersionManager(st, versionTTL, o.now, o.metrics, log)
	revocations := newRevocationRegistry(st, codec, cacheSize, o.now, o.metrics, log)
	sessions := NewSessionStore(st)

	return &AuthService{
		credentials: credentials,
		versions:    versions,
		revocations: revocations,
		sessions:    sessions,
		issuer: &TokenIssuer{
			codec:       codec,
			ttl:         tokenTTL,
			versions:    versions,
			credentials: credentials,
			sessions:    sessions,
			now:         o.now,
		},
		validator: &TokenValidator{
			codec:       codec,
			revocations: revocations,
			versions:    versions,
			credentials: credentials,
			policies:    o.policies,
			metrics:     o.metrics,
			log:         log,
		},
		adminUsername: cfg.AdminUsername,
		cookieCfg: CookieConfig{
			Name:     tokenCookieName,
			Path:     cookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cookieSecure,
			SameSite: cookieSameSite,
			MaxAge:   int(tokenTTL.Seconds()),
		},
		now:     o.now,
		metrics: o.metrics,
		log:     log,
	}, nil
}

func (s *AuthService) CookieConfig() CookieConfig {
	return s.cookieCfg
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*model.IssuedToken, error) {
	if !s.credentials.Validate(ctx, username, password) {
		s.metrics.Login("rejected")
		s.log.WithField("username", username).Info("login rejected")
		return nil, ErrUnauthorized
	}

	issued, err := s.issuer.Issue(ctx, username)
	if err != nil {
		s.metrics.Login("error")
		s.log.WithError(err).WithField("username", username).Error("token issue failed")
		return nil, err
	}

	s.metrics.Login("ok")
	s.log.WithField("username", username).Info("login succeeded")
	return issued, nil
}

// Authenticate returns the username behind token, or false. The reason for a
// refusal is never exposed.
func (s *AuthService) Authenticate(ctx context.Context, token string) (string, bool) {
	username, reason := s.validator.Validate(ctx, token)
	return username, reason == ReasonOK
}

// Logout revokes token and drops its session record concurrently. Callers
// acknowledge the logout regardless of the returned error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := s.revocations.Revoke(ctx, token)
		return err
	})
	g.Go(func() error {
		return s.sessions.Delete(ctx, token)
	})
	return g.Wait()
}

// Refresh rotates a valid token. The replacement is signed before the old
// token is revoked, and the old token is only denied once its revocation is
// stored, so a failure part-way leaves the caller with the old token still
// usable rather than with nothing. Session records are best-effort.
func (s *AuthService) Refresh(ctx context.Context, token string) (*model.IssuedToken, error) {
	username, ok := s.Authenticate(ctx, token)
	if !ok {
		return nil, ErrUnauthorized
	}

	issued, err := s.issuer.Sign(ctx, username)
	if err != nil {
		return nil, err
	}

	if _, err := s.revocations.revokeStored(ctx, token); err != nil {
		s.log.WithError(err).WithField("username", username).Error("token rotation failed")
		return nil, fmt.Errorf("revoke rotated token: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := s.sessions.Put(ctx, issued.Token, username, s.now(), issued.ExpiresAt); err != nil {
			s.log.WithError(err).Warn("write rotated session record failed")
		}
		return nil
	})
	g.Go(func() error {
		if err := s.sessions.Delete(ctx, token); err != nil {
			s.log.WithError(err).Warn("drop rotated session record failed")
		}
		return nil
	})
	_ = g.Wait()

	s.log.WithField("username", username).Debug("token refreshed")
	return issued, nil
}

// ForceRelogin invalidates every outstanding token. Only the admin may call it.
func (s *AuthService) ForceRelogin(ctx context.Context, token string) (int64, error) {
	if _, err := s.requireAdmin(ctx, token); err != nil {
		return 0, err
	}
	return s.BumpVersion(ctx)
}

// Sessions lists live session records for the admin.
func (s *AuthService) Sessions(ctx context.Context, token string) ([]model.SessionSummary, error) {
	if _, err := s.requireAdmin(ctx, token); err != nil {
		return nil, err
	}
	return s.sessions.List(ctx)
}

func (s *AuthService) BumpVersion(ctx context.Context) (int64, error) {
	return s.versions.Bump(ctx)
}

func (s *AuthService) CurrentVersion(ctx context.Context) (int64, error) {
	return s.versions.Current(ctx)
}

func (s *AuthService) Revoke(ctx context.Context, token string) (bool, error) {
	return s.revocations.Revoke(ctx, token)
}

func (s *AuthService) SetPassword(ctx context.Context, username, password string) error {
	return s.credentials.SetPassword(ctx, username, password)
}

func (s *AuthService) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	return s.sessions.List(ctx)
}

func (s *AuthService) IsAdmin(username string) bool {
	return s.adminUsername != "" && username == s.adminUsername
}

func (s *AuthService) requireAdmin(ctx context.Context, token string) (string, error) {
	username, ok := s.Authenticate(ctx, token)
	if !ok {
		return "", ErrUnauthorized
	}
	if !s.IsAdmin(username) {
		s.log.WithField("username", username).Warn("admin action refused")
		return "", ErrForbidden
	}
	return username, nil
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return http.SameSiteLaxMode, nil
	}
	switch value {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, ErrInvalidInput
	}
}
