package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kvsync/backend/internal/metrics"
	"github.com/kvsync/backend/internal/model"
	"github.com/sirupsen/logrus"
)

type authClaims struct {
	Username     string `json:"username"`
	AuthVersion  int64  `json:"authVersion"`
	PasswordHash string `json:"passwordHash"`
	jwt.RegisteredClaims
}

type tokenCodec struct {
	secret []byte
	now    func() time.Time
}

func (c *tokenCodec) sign(claims authClaims) (string, error) {
	if len(c.secret) == 0 {
		return "", fmt.Errorf("%w: JWT_SECRET is required", ErrMisconfigured)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// parse verifies the signature and then the registered claims.
func (c *tokenCodec) parse(tokenStr string, opts ...jwt.ParserOption) (*authClaims, error) {
	if len(c.secret) == 0 {
		return nil, ErrMisconfigured
	}

	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}, opts...)

	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Username == "" {
		return nil, jwt.ErrTokenMalformed
	}
	return claims, nil
}

// expiry returns exp of a correctly signed token, expired or not.
func (c *tokenCodec) expiry(tokenStr string) (time.Time, error) {
	claims, err := c.parse(tokenStr, jwt.WithoutClaimsValidation())
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, jwt.ErrTokenRequiredClaimMissing
	}
	return claims.ExpiresAt.Time, nil
}

// TokenIssuer signs new bearer tokens.
type TokenIssuer struct {
	codec       *tokenCodec
	ttl         time.Duration
	versions    *VersionManager
	credentials *CredentialValidator
	sessions    *SessionStore
	now         func() time.Time
}

// Sign builds and signs a token for username without touching session records.
func (i *TokenIssuer) Sign(ctx context.Context, username string) (*model.IssuedToken, error) {
	if len(i.codec.secret) == 0 {
		return nil, fmt.Errorf("%w: JWT_SECRET is required", ErrMisconfigured)
	}

	version, err := i.versions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("read global version: %w", err)
	}

	fingerprint, err := i.credentials.Fingerprint(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", username, err)
	}

	now := i.now()
	claims := authClaims{
		Username:     username,
		AuthVersion:  version,
		PasswordHash: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := i.codec.sign(claims)
	if err != nil {
		return nil, err
	}

	return &model.IssuedToken{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		ExpiresIn: int64(i.ttl.Seconds()),
	}, nil
}

// Issue signs a token and then records its session. Signing comes first so a
// failed signature never leaves a session record behind.
func (i *TokenIssuer) Issue(ctx context.Context, username string) (*model.IssuedToken, error) {
	issued, err := i.Sign(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := i.sessions.Put(ctx, issued.Token, username, i.now(), issued.ExpiresAt); err != nil {
		return nil, fmt.Errorf("write session record: %w", err)
	}
	return issued, nil
}

// TokenValidator runs the ordered checks on a presented token.
type TokenValidator struct {
	codec       *tokenCodec
	revocations *RevocationRegistry
	versions    *VersionManager
	credentials *CredentialValidator
	policies    CheckPolicies
	metrics     *metrics.Auth
	log         logrus.FieldLogger
}

// Validate returns the token's username, or "" and the reason it was refused.
// Checks run in order: signature, expiry, revocation, version, fingerprint.
func (v *TokenValidator) Validate(ctx context.Context, token string) (string, Reason) {
	username, reason := v.validate(ctx, token)
	v.metrics.Validation(string(reason))
	if reason != ReasonOK {
		v.log.WithField("reason", reason).Debug("token rejected")
		return "", reason
	}
	return username, ReasonOK
}

func (v *TokenValidator) validate(ctx context.Context, token string) (string, Reason) {
	if token == "" {
		return "", ReasonEmpty
	}

	claims, err := v.codec.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ReasonExpired
		}
		return "", ReasonMalformed
	}

	revoked, err := v.revocations.IsRevoked(ctx, token)
	if err != nil {
		v.storeFailure("revocation", v.policies.Revocation, err)
		if v.policies.Revocation == FailClosed {
			return "", ReasonStoreError
		}
	}
	if revoked {
		return "", ReasonRevoked
	}

	current, err := v.versions.Current(ctx)
	if err != nil {
		v.storeFailure("version", v.policies.Version, err)
		if v.policies.Version == FailClosed {
			return "", ReasonStoreError
		}
		current = 0
	}
	if claims.AuthVersion < current {
		return "", ReasonStaleVersion
	}

	fingerprint, err := v.credentials.Fingerprint(ctx, claims.Username)
	switch {
	case errors.Is(err, errUnknownAccount):
		return "", ReasonUnknownAccount
	case err != nil:
		v.storeFailure("fingerprint", v.policies.Fingerprint, err)
		if v.policies.Fingerprint == FailClosed {
			return "", ReasonStoreError
		}
	case subtle.ConstantTimeCompare([]byte(fingerprint), []byte(claims.PasswordHash)) != 1:
		return "", ReasonPasswordChanged
	}

	return claims.Username, ReasonOK
}

func (v *TokenValidator) storeFailure(check string, policy FailPolicy, err error) {
	v.metrics.StoreError(check)
	v.log.WithError(err).WithFields(logrus.Fields{
		"check":  check,
		"policy": policy.String(),
	}).Warn("store unavailable during token check")
}
