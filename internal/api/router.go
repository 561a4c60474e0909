// Package api exposes DMSService over HTTP. Every endpoint except
// /check_connection needs a bearer token; the caller's account is the email
// claim of that token.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// Service is the part of dms.DMSService the handlers use.
type Service interface {
	Login(ctx context.Context, email string) (*dms.User, error)
	UserByEmail(ctx context.Context, email string) (*dms.User, error)
	ChangeName(ctx context.Context, ownerID, newName string) (*dms.User, error)
	Unlock(ctx context.Context, ownerID, code string) ([]*dms.EmailRecord, error)
	Checkin(ctx context.Context, ownerID, code string) (int, error)
	Create(ctx context.Context, ownerID string, in dms.NewEmail) (*dms.EmailRecord, error)
	Delete(ctx context.Context, ownerID, id, code string) error
	ApplyChanges(ctx context.Context, ownerID, code string, changes []dms.Patch) ([]dms.Confirmed, error)
}

var _ Service = (*dms.DMSService)(nil)

// TokenVerifier returns the email a bearer token was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type handler struct {
	svc    Service
	logger dms.Logger
}

// NewRouter wires every endpoint. Code-bearing endpoints are throttled per
// account according to limits.
func NewRouter(svc Service, verifier TokenVerifier, limits config.SecurityConfig, logger dms.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	h := &handler{svc: svc, logger: logger}
	codeLimit := newOwnerLimiter(limits.CodeRatePerMin, limits.CodeBurst)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/check_connection", h.checkConnection)

	authed := r.Group("/")
	authed.Use(authRequired(verifier))
	{
		authed.POST("/login", h.login)

		user := authed.Group("/")
		user.Use(h.userRequired())
		{
			user.GET("/get_user_names", h.getUserNames)
			user.POST("/change_name", h.changeName)
			user.POST("/add_email_data", h.addEmailData)
			user.POST("/change_email_data", h.changeEmailData)
			user.POST("/delete_email_data", h.deleteEmailData)

			limited := user.Group("/")
			limited.Use(codeLimit.middleware())
			{
				limited.POST("/request_emails", h.requestEmails)
				limited.POST("/checkin", h.checkin)
			}
		}
	}

	return r
}
