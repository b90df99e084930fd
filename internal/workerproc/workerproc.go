// Package workerproc turns queue payloads into ingestion calls and decides
// whether a failed message is dropped or left for redelivery.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"msgvault-backend/internal/ingest"
	"msgvault-backend/internal/queue"
	"msgvault-backend/internal/shared/apperr"
	"msgvault-backend/internal/shared/metrics"
	"msgvault-backend/internal/shared/telemetry"
)

// Ingester stores one inbound item.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrUnsupportedVersion indicates an envelope written by a newer producer.
type ErrUnsupportedVersion struct {
	Meta      MessageMeta
	Version   int
	RequestID string
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported message version %d", e.Version)
}

// ErrProcess indicates ingestion failed after successful parsing.
type ErrProcess struct {
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process message"
	}
	return "process message: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	// Version 0 is accepted for producers that predate the field.
	if msg.Version > queue.CurrentVersion {
		return msg, meta, ErrUnsupportedVersion{Meta: meta, Version: msg.Version, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// HandleMessage parses and ingests a message payload.
func HandleMessage(ctx context.Context, ing Ingester, body string) (ingest.Result, error) {
	if ing == nil {
		return ingest.Result{}, errors.New("ingestion not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return ingest.Result{}, err
		}
	}

	res, err := ing.Ingest(ctx, ItemFor(msg))
	if err != nil {
		return ingest.Result{}, ErrProcess{RequestID: msg.RequestID, Err: err}
	}
	return res, nil
}

// ItemFor returns the envelope's item keyed by its request id and enqueue
// time, so every delivery of one message maps to the same record.
func ItemFor(msg queue.Message) ingest.Request {
	item := msg.Item
	if strings.TrimSpace(msg.RequestID) == "" {
		return item
	}
	at, err := time.Parse(time.RFC3339Nano, msg.EnqueuedAt)
	if err != nil {
		return item
	}
	item.IdempotencyKey = msg.RequestID
	item.ReceivedAt = at
	return item
}

// Retryable reports whether err may succeed on redelivery. Payload problems
// and validation failures never do.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		version ErrUnsupportedVersion
	)
	if errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &version) {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindUnauthorized, apperr.KindForbidden:
		return false
	}
	return true
}

// Process handles one delivery end to end: parse, ingest, log and count.
// fields carries transport details such as the SQS message id.
func Process(ctx context.Context, ing Ingester, body string, fields map[string]any) queue.Result {
	logFields := func(extra map[string]any) map[string]any {
		out := make(map[string]any, len(fields)+len(extra))
		for k, v := range fields {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	msg, meta, err := ParseMessage(body)
	if err != nil {
		f := logFields(map[string]any{
			"body_len": meta.BodyLen,
			"error":    err.Error(),
		})
		if meta.BodySHA != "" {
			f["body_sha256"] = meta.BodySHA
		}
		telemetry.Error("worker.ingest.unparseable", f)
		metrics.IncQueueMessage(metrics.QueueDropped)
		return queue.ResultAck
	}

	base := map[string]any{"request_id": msg.RequestID, "phone_number": msg.Item.PhoneNumber}
	telemetry.Info("worker.ingest.received", logFields(base))

	res, err := HandleMessage(WithParsedMessage(ctx, msg), ing, body)
	if err != nil {
		f := logFields(base)
		f["error"] = err.Error()
		// Without a key a redelivery would write a second record.
		keyed := ItemFor(msg).IdempotencyKey != ""
		if Retryable(err) && (keyed || !apperr.Is(err, apperr.KindMetadata)) {
			telemetry.Error("worker.ingest.failed", f)
			metrics.IncQueueMessage(metrics.QueueRetried)
			return queue.ResultRetry
		}
		telemetry.Warn("worker.ingest.rejected", f)
		metrics.IncQueueMessage(metrics.QueueDropped)
		return queue.ResultAck
	}

	f := logFields(base)
	f["record_id"] = res.RecordID
	if res.ObjectKey != "" {
		f["object_key"] = res.ObjectKey
	}
	telemetry.Info("worker.ingest.completed", f)
	metrics.IncQueueMessage(metrics.QueueProcessed)
	return queue.ResultAck
}
