package retrieval

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"msgvault-backend/internal/access"
	"msgvault-backend/internal/shared/apperr"
	"msgvault-backend/internal/shared/server/middleware"
	"msgvault-backend/internal/shared/server/respond"
	"msgvault-backend/internal/shared/storage/object"
	"msgvault-backend/internal/shared/telemetry"
)

// LinkServer verifies self-signed links and streams objects. Only the local
// object store backend provides one.
type LinkServer interface {
	VerifyLink(token string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Handler exposes the gateway over HTTP.
type Handler struct {
	Gateway *Gateway
	Links   LinkServer
}

// NewHandler constructs a Handler. links may be nil.
func NewHandler(gw *Gateway, links LinkServer) *Handler {
	return &Handler{Gateway: gw, Links: links}
}

// RegisterRoutes attaches retrieval routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/files", h.list)
	rg.GET("/download", h.download)
	if h.Links != nil {
		rg.GET("/objects", h.serveObject)
	}
}

type listResponse struct {
	Items []Item `json:"items"`
	Count int    `json:"count"`
}

func (h *Handler) list(c *gin.Context) {
	username := middleware.UsernameFromContext(c)
	if username == "" {
		respond.FromError(c, apperr.Unauthorized("authentication required"))
		return
	}

	filter := c.Query("phoneNumber")
	if filter != "" {
		c.Set(middleware.LogPhoneNumberKey, filter)
	}
	items, err := h.Gateway.ListFiles(access.CallerContext(c), username, filter)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, listResponse{Items: items, Count: len(items)})
}

func (h *Handler) download(c *gin.Context) {
	if middleware.UsernameFromContext(c) == "" {
		respond.FromError(c, apperr.Unauthorized("authentication required"))
		return
	}

	key := c.Query("key")
	c.Set(middleware.LogObjectKeyKey, key)
	url, err := h.Gateway.GetDownloadURL(c.Request.Context(), key)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, gin.H{"url": url})
}

func (h *Handler) serveObject(c *gin.Context) {
	key, err := h.Links.VerifyLink(c.Query("token"))
	if err != nil {
		respond.FromError(c, apperr.Forbidden("invalid or expired link"))
		return
	}

	rc, err := h.Links.Open(c.Request.Context(), key)
	if errors.Is(err, fs.ErrNotExist) {
		respond.FromError(c, apperr.NotFound("object not found"))
		return
	}
	if err != nil {
		respond.FromError(c, apperr.Storage("failed to open object", err))
		return
	}
	defer rc.Close()

	c.Set(middleware.LogObjectKeyKey, key)
	c.Header("Cache-Control", "private, max-age=300")
	c.Header("Content-Type", object.ContentTypeForExtension(object.Extension(key)))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		telemetry.Warn("retrieval.object_stream_failed", map[string]any{
			"object_key": key,
			"error":      err.Error(),
		})
	}
}
