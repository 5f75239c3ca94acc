package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/kvsync/backend/internal/model"
	"github.com/kvsync/backend/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	credentialPrefix  = "auth:"
	minLoginIDLength  = 3
	minPasswordLength = 8
)

var errUnknownAccount = errors.New("unknown account")

// CredentialValidator checks username/password pairs against the primary
// override account and the per-user records in the store.
type CredentialValidator struct {
	store           store.Store
	primaryUsername string
	primaryPassword string
	fingerprintKey  []byte
	log             logrus.FieldLogger
}

func NewCredentialValidator(st store.Store, primaryUsername, primaryPassword string, fingerprintKey []byte, log logrus.FieldLogger) *CredentialValidator {
	return &CredentialValidator{
		store:           st,
		primaryUsername: primaryUsername,
		primaryPassword: primaryPassword,
		fingerprintKey:  fingerprintKey,
		log:             log,
	}
}

// Validate reports whether the pair is acceptable. Store failures count as a
// rejection.
func (v *CredentialValidator) Validate(ctx context.Context, username, password string) bool {
	if username == "" || password == "" {
		return false
	}

	if v.isPrimary(username) && constantTimeEqual(password, v.primaryPassword) {
		return true
	}

	rec, err := v.record(ctx, username)
	if err != nil {
		if !store.IsNotFound(err) {
			v.log.WithError(err).WithField("username", username).Warn("credential lookup failed")
		}
		return false
	}
	return rec.matches(password)
}

// Fingerprint returns a short digest of the account's current secret. It
// changes whenever the password changes.
func (v *CredentialValidator) Fingerprint(ctx context.Context, username string) (string, error) {
	rec, err := v.record(ctx, username)
	switch {
	case err == nil:
		return v.fingerprint(rec.secret()), nil
	case store.IsNotFound(err) && v.isPrimary(username):
		return v.fingerprint(v.primaryPassword), nil
	case store.IsNotFound(err):
		return "", fmt.Errorf("%w: %s", errUnknownAccount, username)
	default:
		return "", err
	}
}

// SetPassword writes a bcrypt credential record, replacing any existing one.
func (v *CredentialValidator) SetPassword(ctx context.Context, username, password string) error {
	if err := validateCredentials(username, password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	data, err := json.Marshal(model.CredentialRecord{
		Username:     username,
		PasswordHash: string(hash),
	})
	if err != nil {
		return err
	}
	return v.store.Put(ctx, credentialPrefix+username, string(data), 0)
}

func (v *CredentialValidator) record(ctx context.Context, username string) (*credentialRecord, error) {
	raw, err := v.store.Get(ctx, credentialPrefix+username)
	if err != nil {
		return nil, err
	}
	var rec credentialRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode credential record %s: %w", username, err)
	}
	return &rec, nil
}

func (v *CredentialValidator) isPrimary(username string) bool {
	return v.primaryUsername != "" && v.primaryPassword != "" && username == v.primaryUsername
}

func (v *CredentialValidator) fingerprint(secret string) string {
	d := xxhash.New()
	_, _ = d.Write(v.fingerprintKey)
	_, _ = d.WriteString(secret)
	return strconv.FormatUint(d.Sum64(), 16)
}

type credentialRecord model.CredentialRecord

func (r *credentialRecord) secret() string {
	if r.PasswordHash != "" {
		return r.PasswordHash
	}
	return r.Password
}

func (r *credentialRecord) matches(password string) bool {
	if r.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)) == nil
	}
	return r.Password != "" && constantTimeEqual(password, r.Password)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func validateCredentials(loginID, password string) error {
	loginID = strings.TrimSpace(loginID)
	password = strings.TrimSpace(password)

	if len(loginID) < minLoginIDLength || len(loginID) > 64 {
		return ErrInvalidInput
	}
	if strings.ContainsAny(loginID, ":*?[]") {
		return ErrInvalidInput
	}
	if len(password) < minPasswordLength || len(password) > 72 {
		return ErrInvalidInput
	}
	return nil
}
