package messages

import "time"

// Record is the metadata persisted for every inbound item. Records are written
// once and never mutated.
type Record struct {
	ID          string    `json:"id" bson:"_id" dynamodbav:"id"`
	Username    string    `json:"username" bson:"username" dynamodbav:"username"`
	PhoneNumber string    `json:"phoneNumber" bson:"phoneNumber" dynamodbav:"phoneNumber"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp" dynamodbav:"timestamp"`
	ObjectKey   string    `json:"objectKey,omitempty" bson:"objectKey,omitempty" dynamodbav:"objectKey,omitempty"`
	FileName    string    `json:"fileName,omitempty" bson:"fileName,omitempty" dynamodbav:"fileName,omitempty"`
	ContactName string    `json:"contactName,omitempty" bson:"contactName,omitempty" dynamodbav:"contactName,omitempty"`
	Category    string    `json:"category,omitempty" bson:"category,omitempty" dynamodbav:"category,omitempty"`
	ContentType string    `json:"contentType,omitempty" bson:"contentType,omitempty" dynamodbav:"contentType,omitempty"`
	SizeBytes   int64     `json:"sizeBytes,omitempty" bson:"sizeBytes,omitempty" dynamodbav:"sizeBytes,omitempty"`
	Text        *string   `json:"text,omitempty" bson:"text,omitempty" dynamodbav:"text,omitempty"`
}

// HasObject reports whether the record references a stored object.
func (r Record) HasObject() bool {
	return r.ObjectKey != ""
}

func matches(r Record, phones map[string]struct{}, hasObjectKey bool) bool {
	if hasObjectKey && !r.HasObject() {
		return false
	}
	if phones == nil {
		return true
	}
	_, ok := phones[r.PhoneNumber]
	return ok
}

func phoneSet(phones []string) map[string]struct{} {
	set := make(map[string]struct{}, len(phones))
	for _, p := range phones {
		set[p] = struct{}{}
	}
	return set
}

// dedupe keeps the first occurrence of each phone.
func dedupe(phones []string) []string {
	seen := make(map[string]struct{}, len(phones))
	out := make([]string, 0, len(phones))
	for _, p := range phones {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
