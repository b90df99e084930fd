// Package retrieval lists the stored files a dashboard user is allowed to see.
package retrieval

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"msgvault-backend/internal/access"
	"msgvault-backend/internal/messages"
	"msgvault-backend/internal/phones"
	"msgvault-backend/internal/shared/apperr"
	"msgvault-backend/internal/shared/metrics"
	"msgvault-backend/internal/shared/storage/object"
	"msgvault-backend/internal/shared/telemetry"
)

const (
	defaultURLTTL          = time.Hour
	defaultSignConcurrency = 8
)

// Authorizer resolves the phones a username may see.
type Authorizer interface {
	GetAuthorizedPhones(ctx context.Context, username string) (access.Authorization, error)
}

// Item is a record plus its download link. DownloadURL is nil when signing failed.
type Item struct {
	messages.Record
	DownloadURL *string `json:"downloadURL"`
}

// Config tunes a Gateway.
type Config struct {
	URLTTL          time.Duration
	SignConcurrency int
}

// Gateway answers listing and download-link requests.
type Gateway struct {
	auth    Authorizer
	records messages.Repo
	objects object.ObjectStore
	cfg     Config
}

// NewGateway constructs a Gateway.
func NewGateway(auth Authorizer, records messages.Repo, objects object.ObjectStore, cfg Config) *Gateway {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultURLTTL
	}
	if cfg.SignConcurrency <= 0 {
		cfg.SignConcurrency = defaultSignConcurrency
	}
	return &Gateway{auth: auth, records: records, objects: objects, cfg: cfg}
}

// ListFiles returns the media records username may see, optionally narrowed to
// one phone. Records come back in store order.
func (g *Gateway) ListFiles(ctx context.Context, username, phoneFilter string) ([]Item, error) {
	start := time.Now()
	defer func() { metrics.ObserveListDuration(time.Since(start)) }()

	filter, err := phones.ParseOptional(phoneFilter)
	if err != nil {
		return nil, err
	}
	auth, err := g.auth.GetAuthorizedPhones(ctx, username)
	if err != nil {
		return nil, err
	}

	records, err := g.query(ctx, auth, filter)
	if err != nil {
		return nil, apperr.Metadata("failed to list message records", err)
	}
	if len(records) == 0 {
		return []Item{}, nil
	}
	return g.sign(ctx, records)
}

func (g *Gateway) query(ctx context.Context, auth access.Authorization, filter string) ([]messages.Record, error) {
	if auth.Unrestricted {
		if filter != "" {
			return g.records.QueryByPhoneSet(ctx, []string{filter}, true)
		}
		return g.records.ScanAll(ctx, true)
	}

	allowed := auth.Phones
	if filter != "" {
		if !auth.Allows(filter) {
			return nil, nil
		}
		allowed = []string{filter}
	}
	if len(allowed) == 0 {
		return nil, nil
	}
	return g.records.QueryByPhoneSet(ctx, allowed, true)
}

// sign attaches links with bounded concurrency. A failed link never fails the list.
func (g *Gateway) sign(ctx context.Context, records []messages.Record) ([]Item, error) {
	items := make([]Item, len(records))
	var eg errgroup.Group
	eg.SetLimit(g.cfg.SignConcurrency)

	for i, rec := range records {
		i, rec := i, rec
		items[i] = Item{Record: rec}
		eg.Go(func() error {
			url, err := g.objects.SignedURL(ctx, rec.ObjectKey, g.cfg.URLTTL)
			if err != nil {
				metrics.IncSignedURLFailure()
				telemetry.Warn("retrieval.signed_url_failed", map[string]any{
					"record_id":  rec.ID,
					"object_key": rec.ObjectKey,
					"error":      err.Error(),
				})
				return nil
			}
			items[i].DownloadURL = &url
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetDownloadURL signs a link for objectKey.
func (g *Gateway) GetDownloadURL(ctx context.Context, objectKey string) (string, error) {
	if objectKey == "" {
		return "", apperr.Validation("key is required")
	}
	if err := object.ValidateKey(objectKey); err != nil {
		return "", apperr.Validation("invalid object key")
	}
	url, err := g.objects.SignedURL(ctx, objectKey, g.cfg.URLTTL)
	if err != nil {
		if errors.Is(err, object.ErrInvalidKey) {
			return "", apperr.Validation("invalid object key")
		}
		return "", apperr.Storage("failed to sign download link", err)
	}
	return url, nil
}
