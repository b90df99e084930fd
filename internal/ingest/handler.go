package ingest

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"msgvault-backend/internal/shared/apperr"
	"msgvault-backend/internal/shared/server/middleware"
	"msgvault-backend/internal/shared/server/respond"
)

// envelopeSlack covers JSON field names and multipart boundaries around the payload.
const envelopeSlack = 1 << 20

// Handler wires HTTP ingestion to the processor.
type Handler struct {
	Proc *Processor
}

// NewHandler constructs a Handler.
func NewHandler(proc *Processor) *Handler {
	return &Handler{Proc: proc}
}

// RegisterRoutes attaches ingestion routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/messages", h.ingest)
}

func (h *Handler) ingest(c *gin.Context) {
	max := h.Proc.cfg.MaxPayloadBytes
	// base64 inflates the payload by 4/3.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max/3*4+4+envelopeSlack)

	var req Request
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = h.fromMultipart(c, max)
	} else {
		err = c.ShouldBindJSON(&req)
		if err != nil {
			err = bodyError(err, max)
		}
	}
	if err != nil {
		respond.FromError(c, err)
		return
	}

	// Dashboard users always ingest as themselves; the bot names the account.
	if !middleware.IsBot(c) {
		if caller := middleware.UsernameFromContext(c); caller != "" {
			req.Username = caller
		}
	}

	res, err := h.Proc.Ingest(c.Request.Context(), req)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	c.Set(middleware.LogRecordIDKey, res.RecordID)
	c.Set(middleware.LogPhoneNumberKey, res.Record.PhoneNumber)
	if res.ObjectKey != "" {
		c.Set(middleware.LogObjectKeyKey, res.ObjectKey)
	}
	respond.Created(c, res)
}

func (h *Handler) fromMultipart(c *gin.Context, max int64) (Request, error) {
	req := Request{
		Username:    c.PostForm("username"),
		PhoneNumber: c.PostForm("phoneNumber"),
		FileName:    c.PostForm("fileName"),
		Category:    c.PostForm("category"),
		ContactName: c.PostForm("contactName"),
	}
	if text, ok := c.GetPostForm("text"); ok {
		req.Text = &text
	}

	fileHeader, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return Request{}, bodyError(err, max)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return Request{}, apperr.Validation("unable to read file")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		return Request{}, apperr.Validation("unable to read file")
	}
	if int64(len(data)) > max {
		return Request{}, apperr.Validationf("payload exceeds %d bytes", max)
	}
	if len(data) == 0 {
		return Request{}, apperr.Validation("file is empty")
	}
	req.Content = data
	if req.FileName == "" {
		req.FileName = fileHeader.Filename
	}
	req.ContentType = fileHeader.Header.Get("Content-Type")
	return req, nil
}

func bodyError(err error, max int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Validationf("payload exceeds %d bytes", max)
	}
	return apperr.Validation("invalid request body")
}
