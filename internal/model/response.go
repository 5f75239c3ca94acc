package model

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type PingResponse struct {
	Message string `json:"message"`
}

type TokenResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

type LogoutResponse struct {
	Success bool `json:"success"`
}

type ForceReloginResponse struct {
	Success    bool  `json:"success"`
	NewVersion int64 `json:"newVersion"`
}

type MeResponse struct {
	Username string `json:"username"`
}

type SessionsResponse struct {
	Success  bool             `json:"success"`
	Sessions []SessionSummary `json:"sessions"`
}
