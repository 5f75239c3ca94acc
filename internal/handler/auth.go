package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kvsync/backend/internal/model"
	"github.com/kvsync/backend/internal/service"
)

const loginFailedMessage = "invalid username or password"

type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Login godoc
// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Username and password"
// @Success 200 {object} model.TokenResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
		return
	}

	issued, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, service.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: loginFailedMessage})
		return
	}
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.setTokenCookie(c, issued.Token)
	c.JSON(http.StatusOK, model.TokenResponse{
		Success:   true,
		Token:     issued.Token,
		ExpiresIn: issued.ExpiresIn,
	})
}

// Logout godoc
// @Summary Logout
// @Description Revokes the presented token (if any) and clears the cookie. Always succeeds.
// @Tags auth
// @Produce json
// @Success 200 {object} model.LogoutResponse
// @Router /api/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), h.token(c)); err != nil {
		requestLogger(c).WithError(err).Warn("logout cleanup incomplete")
	}
	h.clearTokenCookie(c)
	c.JSON(http.StatusOK, model.LogoutResponse{Success: true})
}

// Refresh godoc
// @Summary Rotate token
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.TokenResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/refresh-token [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	issued, err := h.svc.Refresh(c.Request.Context(), h.token(c))
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.setTokenCookie(c, issued.Token)
	c.JSON(http.StatusOK, model.TokenResponse{
		Success:   true,
		Token:     issued.Token,
		ExpiresIn: issued.ExpiresIn,
	})
}

// ForceRelogin godoc
// @Summary Invalidate every outstanding token
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.ForceReloginResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/admin/force-relogin [post]
func (h *AuthHandler) ForceRelogin(c *gin.Context) {
	version, err := h.svc.ForceRelogin(c.Request.Context(), h.token(c))
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.ForceReloginResponse{
		Success:    true,
		NewVersion: version,
	})
}

// Sessions godoc
// @Summary List active sessions
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SessionsResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /api/admin/sessions [get]
func (h *AuthHandler) Sessions(c *gin.Context) {
	sessions, err := h.svc.Sessions(c.Request.Context(), h.token(c))
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SessionsResponse{
		Success:  true,
		Sessions: sessions,
	})
}

// Me godoc
// @Summary Get current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.MeResponse
// @Router /api/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, model.MeResponse{Username: GetUsername(c)})
}

func (h *AuthHandler) token(c *gin.Context) string {
	return extractToken(c, h.svc.CookieConfig().Name)
}

func (h *AuthHandler) setTokenCookie(c *gin.Context, token string) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, token, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) clearTokenCookie(c *gin.Context) {
	clearTokenCookie(c, h.svc.CookieConfig())
}

func clearTokenCookie(c *gin.Context, cfg service.CookieConfig) {
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid input"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, model.ErrorResponse{Error: "forbidden"})
	default:
		requestLogger(c).WithError(err).Error("auth request failed")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "server error"})
	}
}
