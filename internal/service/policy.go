package service

// FailPolicy decides what a validation check does when the durable store
// cannot answer.
type FailPolicy int

const (
	// FailClosed rejects the token.
	FailClosed FailPolicy = iota
	// FailOpen lets the check pass and leaves the decision to the remaining checks.
	FailOpen
)

func (p FailPolicy) String() string {
	if p == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

// CheckPolicies sets the store-error policy per validation check. Signature
// and expiry never touch the store and always fail closed.
//
// Revocation and version fail open so a store outage does not log everyone
// out; the fingerprint check fails closed and bounds what that lets through.
type CheckPolicies struct {
	Revocation  FailPolicy
	Version     FailPolicy
	Fingerprint FailPolicy
}

func DefaultCheckPolicies() CheckPolicies {
	return CheckPolicies{
		Revocation:  FailOpen,
		Version:     FailOpen,
		Fingerprint: FailClosed,
	}
}

// Reason is why a token was rejected. It is logged and counted, never sent to clients.
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonEmpty           Reason = "empty"
	ReasonMalformed       Reason = "malformed"
	ReasonExpired         Reason = "expired"
	ReasonRevoked         Reason = "revoked"
	ReasonStaleVersion    Reason = "stale_version"
	ReasonUnknownAccount  Reason = "unknown_account"
	ReasonPasswordChanged Reason = "password_changed"
	ReasonStoreError      Reason = "store_error"
)
