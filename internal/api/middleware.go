package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dms-go/internal/auth"
	"dms-go/internal/dms"
)

const (
	ctxEmail = "email"
	ctxUser  = "user"

	requestIDHeader = "X-Request-ID"
)

// requestLogger replaces gin's logger so requests land in the service log.
func requestLogger(logger dms.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		args := []any{
			"request", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start).String(),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request failed", args...)
			return
		}
		logger.Debug("request", args...)
	}
}

// authRequired verifies the bearer token and stores the caller's email.
func authRequired(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var email string
			email, err = verifier.Verify(token)
			if err == nil {
				c.Set(ctxEmail, email)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
	}
}

// userRequired resolves the account for the caller's email. Callers that
// never logged in have no account yet.
func (h *handler) userRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.svc.UserByEmail(c.Request.Context(), c.GetString(ctxEmail))
		if err != nil {
			if errors.Is(err, dms.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no account for this identity, log in first"})
				return
			}
			h.fail(c, err)
			c.Abort()
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *dms.User {
	return c.MustGet(ctxUser).(*dms.User)
}
