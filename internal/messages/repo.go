package messages

import (
	"context"
	"errors"
)

// ErrDuplicateID is returned when a record with the same ID already exists.
var ErrDuplicateID = errors.New("message id already exists")

// Repo defines persistence operations for message records.
//
// hasObjectKey restricts results to records that reference a stored object.
// Phone numbers are matched exactly; callers normalize before querying.
type Repo interface {
	PutRecord(ctx context.Context, rec Record) error
	GetByOwner(ctx context.Context, username string) ([]Record, error)
	QueryByPhoneSet(ctx context.Context, phones []string, hasObjectKey bool) ([]Record, error)
	ScanAll(ctx context.Context, hasObjectKey bool) ([]Record, error)
}
