package access

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"msgvault-backend/internal/shared/apperr"
	"msgvault-backend/internal/shared/server/middleware"
	"msgvault-backend/internal/shared/server/respond"
)

// Handler exposes the registry over HTTP.
type Handler struct {
	Registry *Registry
}

// NewHandler constructs a Handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{Registry: registry}
}

// RegisterRoutes attaches association routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/associate-phone", h.associate)
	rg.POST("/disassociate-phone", h.disassociate)
	rg.GET("/user-phones", h.userPhones)
	rg.POST("/user-roles", h.setRole)
}

type phoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Username    string `json:"username"`
}

type roleRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type phonesResponse struct {
	PhoneNumbers []string `json:"phoneNumbers"`
}

type userPhonesResponse struct {
	Username     string   `json:"username"`
	PhoneNumbers []string `json:"phoneNumbers"`
	Unrestricted bool     `json:"unrestricted"`
}

func (h *Handler) associate(c *gin.Context) {
	h.mutate(c, h.Registry.Associate)
}

func (h *Handler) disassociate(c *gin.Context) {
	h.mutate(c, h.Registry.Disassociate)
}

func (h *Handler) mutate(c *gin.Context, op func(ctx context.Context, username, phone string) ([]string, error)) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.FromError(c, apperr.Validation("invalid request body"))
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		respond.FromError(c, apperr.Validation("phoneNumber is required"))
		return
	}

	target, err := h.target(c, req.Username)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	phones, err := op(CallerContext(c), target, req.PhoneNumber)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, phonesResponse{PhoneNumbers: phones})
}

func (h *Handler) userPhones(c *gin.Context) {
	target, err := h.target(c, c.Query("username"))
	if err != nil {
		respond.FromError(c, err)
		return
	}

	ctx := CallerContext(c)
	auth, err := h.Registry.GetAuthorizedPhones(ctx, target)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	phones := []string{}
	if !auth.Unrestricted {
		if phones, err = h.Registry.ListPhones(ctx, target); err != nil {
			respond.FromError(c, err)
			return
		}
	}
	respond.OK(c, userPhonesResponse{Username: target, PhoneNumbers: phones, Unrestricted: auth.Unrestricted})
}

func (h *Handler) setRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.FromError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.requireAdmin(c); err != nil {
		respond.FromError(c, err)
		return
	}
	if err := h.Registry.SetRole(CallerContext(c), req.Username, Role(strings.TrimSpace(req.Role))); err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, gin.H{"username": strings.TrimSpace(req.Username), "role": strings.TrimSpace(req.Role)})
}

// CallerContext carries the caller's token role claim into registry checks.
func CallerContext(c *gin.Context) context.Context {
	return WithTokenRole(c.Request.Context(), middleware.UsernameFromContext(c), middleware.RoleFromContext(c))
}

// target resolves whose associations a request acts on. Only admins may act
// on another user.
func (h *Handler) target(c *gin.Context, requested string) (string, error) {
	caller := middleware.UsernameFromContext(c)
	if caller == "" {
		return "", apperr.Unauthorized("authentication required")
	}
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == caller {
		return caller, nil
	}
	if err := h.requireAdmin(c); err != nil {
		return "", err
	}
	return requested, nil
}

func (h *Handler) requireAdmin(c *gin.Context) error {
	caller := middleware.UsernameFromContext(c)
	if caller == "" {
		return apperr.Unauthorized("authentication required")
	}
	ok, err := h.Registry.IsAdmin(CallerContext(c), caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("admin role required")
	}
	return nil
}
