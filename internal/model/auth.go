package model

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialRecord is stored under auth:<username>. Records written by the
// CLI carry a bcrypt PasswordHash; older records carry a plain Password.
type CredentialRecord struct {
	Username     string `json:"username"`
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

// SessionRecord is stored under session:<token>. Times are unix millis.
type SessionRecord struct {
	Username string `json:"username"`
	Created  int64  `json:"created"`
	Expires  int64  `json:"expires"`
}

type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn int64
}

type SessionSummary struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Created  int64  `json:"created"`
	Expires  int64  `json:"expires"`
}
