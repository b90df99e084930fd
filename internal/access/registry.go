package access

import (
	"context"
	"errors"
	"strings"

	"msgvault-backend/internal/phones"
	"msgvault-backend/internal/shared/apperr"
	"msgvault-backend/internal/shared/telemetry"
)

// UnassociatedPolicy decides what a user without an association record may see.
type UnassociatedPolicy string

const (
	// PolicyDeny restricts unassociated users to nothing.
	PolicyDeny UnassociatedPolicy = "deny"
	// PolicyAllow grants unassociated users unrestricted access.
	PolicyAllow UnassociatedPolicy = "allow"
)

// Authorization is either unrestricted or restricted to Phones.
type Authorization struct {
	Unrestricted bool
	Phones       []string
}

// AllPhones grants access to every phone number.
func AllPhones() Authorization {
	return Authorization{Unrestricted: true}
}

// OnlyPhones restricts access to phones, which may be empty.
func OnlyPhones(phones []string) Authorization {
	return Authorization{Phones: append([]string{}, phones...)}
}

// Allows reports whether phone is visible under the authorization.
func (a Authorization) Allows(phone string) bool {
	if a.Unrestricted {
		return true
	}
	for _, p := range a.Phones {
		if p == phone {
			return true
		}
	}
	return false
}

// Options configures a Registry.
type Options struct {
	AdminUsernames     []string
	UnassociatedPolicy UnassociatedPolicy
}

// Registry resolves which phone numbers each dashboard user may see and
// maintains the associations.
type Registry struct {
	repo   Repo
	admins map[string]struct{}
	policy UnassociatedPolicy
}

// NewRegistry builds a Registry. With no admin usernames configured, "admin" is used.
func NewRegistry(repo Repo, opts Options) *Registry {
	admins := make(map[string]struct{})
	for _, u := range opts.AdminUsernames {
		if u = strings.TrimSpace(u); u != "" {
			admins[u] = struct{}{}
		}
	}
	if len(admins) == 0 {
		admins["admin"] = struct{}{}
	}
	policy := opts.UnassociatedPolicy
	if policy != PolicyAllow {
		policy = PolicyDeny
	}
	return &Registry{repo: repo, admins: admins, policy: policy}
}

// IsAdminIdentity reports whether username is a configured admin identity.
func (r *Registry) IsAdminIdentity(username string) bool {
	_, ok := r.admins[username]
	return ok
}

type tokenRoleKey struct{}

type tokenRole struct {
	username string
	role     Role
}

// WithTokenRole records the role claim of username's verified token. It only
// affects checks for that same username.
func WithTokenRole(ctx context.Context, username, role string) context.Context {
	username = strings.TrimSpace(username)
	role = strings.TrimSpace(role)
	if username == "" || role == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenRoleKey{}, tokenRole{username: username, role: Role(role)})
}

func tokenAdmin(ctx context.Context, username string) bool {
	tr, ok := ctx.Value(tokenRoleKey{}).(tokenRole)
	return ok && tr.username == username && tr.role == RoleAdmin
}

// IsAdmin reports whether username is an admin identity, holds an admin
// token, or carries the stored admin role.
func (r *Registry) IsAdmin(ctx context.Context, username string) (bool, error) {
	username, err := requireUsername(username)
	if err != nil {
		return false, err
	}
	if r.IsAdminIdentity(username) || tokenAdmin(ctx, username) {
		return true, nil
	}
	a, err := r.repo.Get(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Metadata("association store unavailable", err)
	}
	return a.Role == RoleAdmin, nil
}

// GetAuthorizedPhones returns the phones username may see.
func (r *Registry) GetAuthorizedPhones(ctx context.Context, username string) (Authorization, error) {
	username, err := requireUsername(username)
	if err != nil {
		return Authorization{}, err
	}
	if r.IsAdminIdentity(username) || tokenAdmin(ctx, username) {
		return AllPhones(), nil
	}

	a, err := r.repo.Get(ctx, username)
	if errors.Is(err, ErrNotFound) {
		if r.policy == PolicyAllow {
			return AllPhones(), nil
		}
		return OnlyPhones(nil), nil
	}
	if err != nil {
		return Authorization{}, apperr.Metadata("association store unavailable", err)
	}
	if a.Role == RoleAdmin {
		return AllPhones(), nil
	}
	return OnlyPhones(a.PhoneNumbers), nil
}

// Associate adds phone to username's set and returns the resulting set.
// Associating a number that is already present is not an error.
func (r *Registry) Associate(ctx context.Context, username, phone string) ([]string, error) {
	username, err := requireUsername(username)
	if err != nil {
		return nil, err
	}
	normalized, err := phones.Parse(phone)
	if err != nil {
		return nil, err
	}

	a, added, err := r.repo.AppendPhone(ctx, username, normalized)
	if errors.Is(err, ErrConflict) {
		return nil, apperr.Metadata("association update conflict, retry later", err)
	}
	if err != nil {
		return nil, apperr.Metadata("association store unavailable", err)
	}
	if added {
		telemetry.Info("access.associated", map[string]any{"username": username, "phone_number": normalized})
	}
	return nonNil(a.PhoneNumbers), nil
}

// Disassociate removes phone from username's set and returns the resulting set.
func (r *Registry) Disassociate(ctx context.Context, username, phone string) ([]string, error) {
	username, err := requireUsername(username)
	if err != nil {
		return nil, err
	}
	normalized, err := phones.Parse(phone)
	if err != nil {
		return nil, err
	}

	a, err := r.repo.RemovePhone(ctx, username, normalized)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, apperr.NotFound("no phone associations for user")
	case errors.Is(err, ErrPhoneNotAssociated):
		return nil, apperr.NotFound("phone number not associated with user")
	case errors.Is(err, ErrConflict):
		return nil, apperr.Metadata("association update conflict, retry later", err)
	case err != nil:
		return nil, apperr.Metadata("association store unavailable", err)
	}
	telemetry.Info("access.disassociated", map[string]any{"username": username, "phone_number": normalized})
	return nonNil(a.PhoneNumbers), nil
}

// ListPhones returns the stored set for username; empty when no record exists.
func (r *Registry) ListPhones(ctx context.Context, username string) ([]string, error) {
	username, err := requireUsername(username)
	if err != nil {
		return nil, err
	}
	a, err := r.repo.Get(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, apperr.Metadata("association store unavailable", err)
	}
	return nonNil(a.PhoneNumbers), nil
}

// SetRole changes username's role, creating an empty record if needed.
func (r *Registry) SetRole(ctx context.Context, username string, role Role) error {
	username, err := requireUsername(username)
	if err != nil {
		return err
	}
	if !role.Valid() {
		return apperr.Validationf("unknown role %q", role)
	}
	if _, err := r.repo.SetRole(ctx, username, role); err != nil {
		if errors.Is(err, ErrConflict) {
			return apperr.Metadata("association update conflict, retry later", err)
		}
		return apperr.Metadata("association store unavailable", err)
	}
	telemetry.Info("access.role_set", map[string]any{"username": username, "role": string(role)})
	return nil
}

func requireUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", apperr.Validation("username is required")
	}
	return username, nil
}

func nonNil(phones []string) []string {
	if phones == nil {
		return []string{}
	}
	return append([]string{}, phones...)
}
