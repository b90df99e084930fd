package queue

import (
	"encoding/json"
	"time"

	"msgvault-backend/internal/ingest"
)

// CurrentVersion is the envelope version written by this build.
const CurrentVersion = 1

// Message is the envelope the bot publishes for each inbound item.
type Message struct {
	Version    int            `json:"version"`
	RequestID  string         `json:"requestId"`
	EnqueuedAt string         `json:"enqueuedAt"`
	Item       ingest.Request `json:"item"`
}

// NewMessage wraps item in a current-version envelope.
func NewMessage(item ingest.Request, requestID string, now time.Time) Message {
	return Message{
		Version:    CurrentVersion,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Item:       item,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
