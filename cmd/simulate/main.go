package main

// Enqueue a sample inbound item, the way the bot would:
//   go run ./cmd/simulate -user alice -phone "+1 555 123 4567" -text "hello"
//   go run ./cmd/simulate -user alice -phone "+15551234567" -file ./voice.ogg

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"msgvault-backend/internal/bootstrap"
	"msgvault-backend/internal/ingest"
	"msgvault-backend/internal/queue"
	"msgvault-backend/internal/shared/config"
)

func main() {
	cfg := config.Load()

	user := flag.String("user", "", "dashboard username owning the item")
	phone := flag.String("phone", "", "sender phone number")
	text := flag.String("text", "", "text body")
	file := flag.String("file", "", "path to a media file")
	contact := flag.String("contact", "", "sender display name")
	backend := flag.String("backend", cfg.QueueBackend, "queue backend (sqs or nats)")
	flag.Parse()

	req, err := buildRequest(*user, *phone, *text, *file, *contact)
	if err != nil {
		exitErr(err.Error())
	}

	cfg.QueueBackend = *backend
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := bootstrap.BuildQueue(ctx, cfg)
	if err != nil {
		exitErr(fmt.Sprintf("queue: %v", err))
	}
	if client == nil {
		exitErr("QUEUE_BACKEND is not configured")
	}
	if nc, ok := client.(*queue.NATSClient); ok {
		defer nc.Close()
	}

	msg := queue.NewMessage(req, uuid.NewString(), time.Now().UTC())
	if err := client.Send(ctx, msg); err != nil {
		exitErr(fmt.Sprintf("send: %v", err))
	}
	fmt.Printf("enqueued request_id=%s backend=%s\n", msg.RequestID, cfg.QueueBackend)
}

func buildRequest(user, phone, text, file, contact string) (ingest.Request, error) {
	if strings.TrimSpace(user) == "" || strings.TrimSpace(phone) == "" {
		return ingest.Request{}, fmt.Errorf("-user and -phone are required")
	}
	req := ingest.Request{Username: user, PhoneNumber: phone, ContactName: contact}
	if text != "" {
		req.Text = &text
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return ingest.Request{}, fmt.Errorf("read file: %w", err)
		}
		// Raw bytes are not serialized; the envelope carries base64.
		req.ContentBase64 = base64.StdEncoding.EncodeToString(data)
		req.FileName = filepath.Base(file)
	}
	if req.Text == nil && req.ContentBase64 == "" {
		return ingest.Request{}, fmt.Errorf("one of -text or -file is required")
	}
	return req, nil
}

func exitErr(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
