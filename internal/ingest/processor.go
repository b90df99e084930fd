// Package ingest turns inbound bot items into stored objects and message records.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"msgvault-backend/internal/messages"
	"msgvault-backend/internal/phones"
	"msgvault-backend/internal/shared/apperr"
	"msgvault-backend/internal/shared/metrics"
	"msgvault-backend/internal/shared/storage/object"
	"msgvault-backend/internal/shared/telemetry"
	"msgvault-backend/internal/shared/util"
)

const (
	// DefaultContactName is recorded when the bot does not know the sender's name.
	DefaultContactName = "WhatsApp User"
	// FallbackExtension is used when neither the file name nor the payload reveal one.
	FallbackExtension = "bin"

	defaultMaxPayloadBytes = 16 << 20
	defaultURLTTL          = time.Hour
)

// Request is one inbound item. Content wins over ContentBase64, and either
// wins over Text.
type Request struct {
	Username      string  `json:"username"`
	PhoneNumber   string  `json:"phoneNumber"`
	Content       []byte  `json:"-"`
	ContentBase64 string  `json:"content,omitempty"`
	ContentType   string  `json:"contentType,omitempty"`
	Text          *string `json:"text,omitempty"`
	FileName      string  `json:"fileName,omitempty"`
	Category      string  `json:"category,omitempty"`
	ContactName   string  `json:"contactName,omitempty"`

	// IdempotencyKey, when set, makes the record id and object key a pure
	// function of (IdempotencyKey, ReceivedAt), so a redelivered item lands
	// on the same record instead of creating a second one.
	IdempotencyKey string    `json:"-"`
	ReceivedAt     time.Time `json:"-"`
}

// Result describes a stored item. DownloadURL is nil for text items and when
// signing failed.
type Result struct {
	RecordID    string          `json:"recordId"`
	ObjectKey   string          `json:"objectKey,omitempty"`
	DownloadURL *string         `json:"downloadURL"`
	Record      messages.Record `json:"record"`
}

// Config tunes a Processor.
type Config struct {
	MaxPayloadBytes int64
	URLTTL          time.Duration
}

// Processor writes objects before records so a visible record always has its object.
type Processor struct {
	objects object.ObjectStore
	records messages.Repo
	cfg     Config
	now     func() time.Time
	random  func() string
}

// NewProcessor constructs a Processor.
func NewProcessor(objects object.ObjectStore, records messages.Repo, cfg Config) *Processor {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultURLTTL
	}
	return &Processor{
		objects: objects,
		records: records,
		cfg:     cfg,
		now:     time.Now,
		random:  random8,
	}
}

// Ingest validates req and persists it. Failures after the object write leave
// the object in place and are logged as orphans; nothing is retried.
func (p *Processor) Ingest(ctx context.Context, req Request) (Result, error) {
	res, err := p.ingest(ctx, req)
	switch {
	case err == nil:
		metrics.IncIngest(metrics.OutcomeOK)
	case apperr.Is(err, apperr.KindValidation):
		metrics.IncIngest(metrics.OutcomeValidationError)
	case apperr.Is(err, apperr.KindStorage):
		metrics.IncIngest(metrics.OutcomeStorageError)
	default:
		metrics.IncIngest(metrics.OutcomeMetadataError)
	}
	return res, err
}

func (p *Processor) ingest(ctx context.Context, req Request) (Result, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return Result{}, apperr.Validation("username is required")
	}
	phone, err := phones.Parse(req.PhoneNumber)
	if err != nil {
		return Result{}, err
	}

	content, err := p.payload(req)
	if err != nil {
		return Result{}, err
	}

	now, suffix := p.identity(req)
	rec := messages.Record{
		ID:          fmt.Sprintf("msg_%d_%s", now.UnixMilli(), suffix),
		Username:    username,
		PhoneNumber: phone,
		Timestamp:   now,
		ContactName: strings.TrimSpace(req.ContactName),
	}
	if rec.ContactName == "" {
		rec.ContactName = DefaultContactName
	}

	if len(content) == 0 {
		if req.Text == nil {
			if strings.TrimSpace(req.FileName) != "" || strings.TrimSpace(req.Category) != "" || req.ContentBase64 != "" {
				return Result{}, apperr.Validation("content is required for media items")
			}
			return Result{}, apperr.Validation("content or text is required")
		}
		text := *req.Text
		rec.Text = &text
		return p.putRecord(ctx, req, rec)
	}

	return p.ingestMedia(ctx, req, rec, content, suffix)
}

// identity returns the record timestamp and the random-looking suffix shared by
// the record id and object key.
func (p *Processor) identity(req Request) (time.Time, string) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || req.ReceivedAt.IsZero() {
		return p.now().UTC(), p.random()
	}
	sum := sha256.Sum256([]byte(key))
	return req.ReceivedAt.UTC(), hex.EncodeToString(sum[:])[:8]
}

func idempotent(req Request) bool {
	return strings.TrimSpace(req.IdempotencyKey) != "" && !req.ReceivedAt.IsZero()
}

func (p *Processor) payload(req Request) ([]byte, error) {
	max := p.cfg.MaxPayloadBytes
	if len(req.Content) > 0 {
		if int64(len(req.Content)) > max {
			return nil, apperr.Validationf("payload exceeds %d bytes", max)
		}
		return req.Content, nil
	}
	encoded := strings.TrimSpace(req.ContentBase64)
	if encoded == "" {
		return nil, nil
	}
	// Data URLs from browser clients carry a "data:<mime>;base64," prefix.
	if strings.HasPrefix(encoded, "data:") {
		if _, after, ok := strings.Cut(encoded, ","); ok {
			encoded = after
		}
	}
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > max+2 {
		return nil, apperr.Validationf("payload exceeds %d bytes", max)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, apperr.Validation("content is not valid base64")
	}
	if int64(len(decoded)) > max {
		return nil, apperr.Validationf("payload exceeds %d bytes", max)
	}
	return decoded, nil
}

func (p *Processor) ingestMedia(ctx context.Context, req Request, rec messages.Record, content []byte, suffix string) (Result, error) {
	fileName := util.SanitizeFileName(req.FileName)
	ext := object.Extension(fileName)

	var sniffed *mimetype.MIME
	sniff := func() *mimetype.MIME {
		if sniffed == nil {
			sniffed = mimetype.Detect(content)
		}
		return sniffed
	}

	if ext == "" {
		ext = strings.TrimPrefix(sniff().Extension(), ".")
		if ext == "" {
			ext = FallbackExtension
		}
	}
	if fileName == "" {
		fileName = "file." + ext
	}

	declared := strings.TrimSpace(req.ContentType)
	if declared == object.DefaultContentType {
		declared = ""
	}

	// A declared MIME type only refines the category of unknown extensions.
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if !object.ValidCategory(category) {
		category = object.CategoryForExtension(ext)
		if category == object.CategoryFile && declared != "" {
			category = object.CategoryForContentType(declared)
		}
	}

	contentType := object.ContentTypeForExtension(ext)
	if contentType == object.DefaultContentType {
		contentType = declared
		if contentType == "" {
			contentType = sniff().String()
		}
	}

	key := fmt.Sprintf("%s/%d-%s.%s", category, rec.Timestamp.UnixMilli(), suffix, ext)
	if err := object.ValidateKey(key); err != nil {
		return Result{}, apperr.Validationf("unusable file extension %q", ext)
	}

	if err := p.objects.Put(ctx, key, content, contentType); err != nil {
		telemetry.Error("ingest.object_put_failed", map[string]any{
			"record_id":  rec.ID,
			"object_key": key,
			"error":      err.Error(),
		})
		return Result{}, apperr.Storage("failed to store object", err)
	}

	rec.ObjectKey = key
	rec.FileName = fileName
	rec.Category = category
	rec.ContentType = contentType
	rec.SizeBytes = int64(len(content))

	res, err := p.putRecord(ctx, req, rec)
	if err != nil {
		fields := map[string]any{
			"record_id":    rec.ID,
			"object_key":   key,
			"phone_number": rec.PhoneNumber,
			"error":        err.Error(),
		}
		// A keyed item is redelivered onto the same object key, so the object
		// is only orphaned if redelivery is exhausted.
		if idempotent(req) {
			telemetry.Warn("ingest.record_write_unconfirmed", fields)
			return Result{}, err
		}
		telemetry.Error("ingest.orphaned_object", fields)
		metrics.IncOrphanedObject()
		return Result{}, err
	}

	url, err := p.objects.SignedURL(ctx, key, p.cfg.URLTTL)
	if err != nil {
		telemetry.Warn("ingest.signed_url_failed", map[string]any{
			"object_key": key,
			"error":      err.Error(),
		})
		return res, nil
	}
	res.DownloadURL = &url
	return res, nil
}

func (p *Processor) putRecord(ctx context.Context, req Request, rec messages.Record) (Result, error) {
	if err := p.records.PutRecord(ctx, rec); err != nil {
		if errors.Is(err, messages.ErrDuplicateID) && idempotent(req) {
			telemetry.Info("ingest.duplicate", map[string]any{
				"record_id":       rec.ID,
				"object_key":      rec.ObjectKey,
				"idempotency_key": req.IdempotencyKey,
			})
			return Result{RecordID: rec.ID, ObjectKey: rec.ObjectKey, Record: rec}, nil
		}
		return Result{}, apperr.Metadata("failed to store message record", err)
	}
	telemetry.Info("ingest.stored", map[string]any{
		"record_id":    rec.ID,
		"object_key":   rec.ObjectKey,
		"phone_number": rec.PhoneNumber,
		"category":     rec.Category,
		"size_bytes":   rec.SizeBytes,
	})
	return Result{RecordID: rec.ID, ObjectKey: rec.ObjectKey, Record: rec}, nil
}

func random8() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
