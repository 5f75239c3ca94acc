package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kvsync/backend/internal/logging"
	"github.com/kvsync/backend/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	usernameKey     = "auth_username"
	loggerKey       = "request_logger"
	requestIDHeader = "X-Request-ID"
	loginPath       = "/login"
)

// AuthMiddleware admits requests carrying a valid token and redirects the
// rest to the login page with the token cookie cleared.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		username, ok := authService.Authenticate(c.Request.Context(), extractToken(c, authService.CookieConfig().Name))
		if !ok {
			clearTokenCookie(c, authService.CookieConfig())
			c.Redirect(http.StatusFound, loginPath)
			c.Abort()
			return
		}

		c.Set(usernameKey, username)
		c.Next()
	}
}

// extractToken looks at the Authorization header, then the token cookie,
// then the token query parameter.
func extractToken(c *gin.Context, cookieName string) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}

	if token, err := c.Cookie(cookieName); err == nil && token != "" {
		return token
	}

	return c.Query("token")
}

func GetUsername(c *gin.Context) string {
	return c.GetString(usernameKey)
}

// RequestLogger attaches a request-scoped logger and logs each completed request.
func RequestLogger(base logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)

		l := base.WithFields(logrus.Fields{
			"request_id": rid,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"remote_ip":  c.ClientIP(),
		})
		c.Set(loggerKey, l)

		start := time.Now()
		c.Next()

		entry := l.WithFields(logrus.Fields{
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request completed")
		case status >= 400:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

func requestLogger(c *gin.Context) logrus.FieldLogger {
	if value, ok := c.Get(loggerKey); ok {
		if l, ok := value.(logrus.FieldLogger); ok {
			return l
		}
	}
	return logging.Discard()
}

func CORSMiddleware(allowedOrigins []string, allowCredentials bool) gin.HandlerFunc {
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		originMap[trimmed] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := originMap[origin]; origin != "" && ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			if allowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
