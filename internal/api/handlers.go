package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dms-go/internal/dms"
)

type codeRequest struct {
	Code string `json:"code"`
}

type changeNameRequest struct {
	NewName string `json:"new_name"`
}

type changeEmailsRequest struct {
	Code    string      `json:"code"`
	Changes []dms.Patch `json:"changes"`
}

type deleteEmailRequest struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

type namesResponse struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *handler) checkConnection(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// login creates the account on first use. The email comes from the token;
// any email in the body is ignored.
func (h *handler) login(c *gin.Context) {
	user, err := h.svc.Login(c.Request.Context(), c.GetString(ctxEmail))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handler) getUserNames(c *gin.Context) {
	u := currentUser(c)
	c.JSON(http.StatusOK, namesResponse{FirstName: u.FirstName, LastName: u.LastName})
}

func (h *handler) changeName(c *gin.Context) {
	var in changeNameRequest
	if !bind(c, &in) {
		return
	}
	u, err := h.svc.ChangeName(c.Request.Context(), currentUser(c).ID, in.NewName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, namesResponse{FirstName: u.FirstName, LastName: u.LastName})
}

func (h *handler) requestEmails(c *gin.Context) {
	var in codeRequest
	if !bind(c, &in) {
		return
	}
	records, err := h.svc.Unlock(c.Request.Context(), currentUser(c).ID, in.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": records})
}

func (h *handler) addEmailData(c *gin.Context) {
	var in dms.NewEmail
	if !bind(c, &in) {
		return
	}
	rec, err := h.svc.Create(c.Request.Context(), currentUser(c).ID, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) changeEmailData(c *gin.Context) {
	var in changeEmailsRequest
	if !bind(c, &in) {
		return
	}
	confirmed, err := h.svc.ApplyChanges(c.Request.Context(), currentUser(c).ID, in.Code, in.Changes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": confirmed})
}

func (h *handler) deleteEmailData(c *gin.Context) {
	var in deleteEmailRequest
	if !bind(c, &in) {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), currentUser(c).ID, in.ID, in.Code); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "Email deleted"})
}

func (h *handler) checkin(c *gin.Context) {
	var in codeRequest
	if !bind(c, &in) {
		return
	}
	n, err := h.svc.Checkin(c.Request.Context(), currentUser(c).ID, in.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": n})
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

// fail maps a service error to a status code and an {error} body. Internal
// errors are logged and hidden from the caller.
func (h *handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dms.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, dms.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case dms.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
