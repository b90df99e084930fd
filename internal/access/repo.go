package access

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a username has no association record.
	ErrNotFound = errors.New("association not found")
	// ErrPhoneNotAssociated is returned when removing a number the record lacks.
	ErrPhoneNotAssociated = errors.New("phone not associated")
	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("association update conflict")
)

// Repo persists phone associations. AppendPhone and RemovePhone are atomic per
// username: concurrent calls never lose each other's updates.
type Repo interface {
	Get(ctx context.Context, username string) (Association, error)
	// AppendPhone creates the record if needed and adds phone unless present.
	// added is false when phone was already associated.
	AppendPhone(ctx context.Context, username, phone string) (assoc Association, added bool, err error)
	RemovePhone(ctx context.Context, username, phone string) (Association, error)
	SetRole(ctx context.Context, username string, role Role) (Association, error)
}
