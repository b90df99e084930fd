package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgvault-backend/internal/shared/apperr"
)

type failingRepo struct{ err error }

func (f failingRepo) Get(context.Context, string) (Association, error) { return Association{}, f.err }
func (f failingRepo) AppendPhone(context.Context, string, string) (Association, bool, error) {
	return Association{}, false, f.err
}
func (f failingRepo) RemovePhone(context.Context, string, string) (Association, error) {
	return Association{}, f.err
}
func (f failingRepo) SetRole(context.Context, string, Role) (Association, error) {
	return Association{}, f.err
}

func newRegistry(policy UnassociatedPolicy) *Registry {
	return NewRegistry(NewMemoryRepo(), Options{UnassociatedPolicy: policy})
}

func TestAssociateNormalizesAndIsIdempotent(t *testing.T) {
	reg := newRegistry(PolicyDeny)
	ctx := context.Background()

	first, err := reg.Associate(ctx, "alice", "+1 (555) 123-4567")
	require.NoError(t, err)
	second, err := reg.Associate(ctx, "alice", "15551234567")
	require.NoError(t, err)

	assert.Equal(t, []string{"+15551234567"}, first)
	assert.Equal(t, first, second)
}

func TestAssociateRejectsInvalidInput(t *testing.T) {
	reg := newRegistry(PolicyDeny)
	ctx := context.Background()

	_, err := reg.Associate(ctx, "alice", "no digits")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = reg.Associate(ctx, "  ", "+1555")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDisassociateNotFound(t *testing.T) {
	reg := newRegistry(PolicyDeny)
	ctx := context.Background()

	_, err := reg.Disassociate(ctx, "alice", "+1555")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "missing record: %v", err)

	_, err = reg.Associate(ctx, "alice", "+1555")
	require.NoError(t, err)
	_, err = reg.Disassociate(ctx, "alice", "+1666")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "missing phone: %v", err)

	phones, err := reg.Disassociate(ctx, "alice", "+1 555")
	require.NoError(t, err)
	assert.Empty(t, phones)
	assert.NotNil(t, phones)
}

func TestGetAuthorizedPhones(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		policy UnassociatedPolicy
		setup  func(*Registry)
		user   string
		want   Authorization
	}{
		{
			name: "admin identity is unrestricted without a record",
			user: "admin",
			want: AllPhones(),
		},
		{
			name: "admin identity stays unrestricted with a record",
			setup: func(r *Registry) {
				_, _ = r.Associate(ctx, "admin", "+1")
			},
			user: "admin",
			want: AllPhones(),
		},
		{
			name: "admin role is unrestricted",
			setup: func(r *Registry) {
				_ = r.SetRole(ctx, "carol", RoleAdmin)
			},
			user: "carol",
			want: AllPhones(),
		},
		{
			name: "viewer is restricted to its set",
			setup: func(r *Registry) {
				_, _ = r.Associate(ctx, "bob", "+1")
				_, _ = r.Associate(ctx, "bob", "+2")
			},
			user: "bob",
			want: OnlyPhones([]string{"+1", "+2"}),
		},
		{
			name:   "unassociated user is denied by default",
			policy: PolicyDeny,
			user:   "dave",
			want:   OnlyPhones(nil),
		},
		{
			name:   "unassociated user is unrestricted under allow",
			policy: PolicyAllow,
			user:   "dave",
			want:   AllPhones(),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := newRegistry(tt.policy)
			if tt.setup != nil {
				tt.setup(reg)
			}
			got, err := reg.GetAuthorizedPhones(ctx, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Unrestricted, got.Unrestricted)
			if !tt.want.Unrestricted {
				assert.Equal(t, tt.want.Phones, got.Phones)
			}
		})
	}
}

func TestEmptiedSetStaysRestricted(t *testing.T) {
	reg := newRegistry(PolicyAllow)
	ctx := context.Background()

	_, err := reg.Associate(ctx, "bob", "+1")
	require.NoError(t, err)
	_, err = reg.Disassociate(ctx, "bob", "+1")
	require.NoError(t, err)

	auth, err := reg.GetAuthorizedPhones(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, auth.Unrestricted)
	assert.Empty(t, auth.Phones)
}

func TestConcurrentAssociateKeepsEveryPhone(t *testing.T) {
	reg := newRegistry(PolicyDeny)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Associate(ctx, "alice", fmt.Sprintf("+1555%04d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	phones, err := reg.ListPhones(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, phones, n)
}

func TestRepoFailuresBecomeMetadataErrors(t *testing.T) {
	reg := NewRegistry(failingRepo{err: errors.New("connection refused")}, Options{})
	ctx := context.Background()

	_, err := reg.GetAuthorizedPhones(ctx, "bob")
	assert.True(t, apperr.Is(err, apperr.KindMetadata))

	_, err = reg.Associate(ctx, "bob", "+1")
	assert.True(t, apperr.Is(err, apperr.KindMetadata))

	_, err = reg.ListPhones(ctx, "bob")
	assert.True(t, apperr.Is(err, apperr.KindMetadata))
}

func TestConflictIsReportedAsMetadataError(t *testing.T) {
	reg := NewRegistry(failingRepo{err: ErrConflict}, Options{})

	_, err := reg.Associate(context.Background(), "bob", "+1")
	assert.True(t, apperr.Is(err, apperr.KindMetadata))
}

func TestSetRoleValidatesRole(t *testing.T) {
	reg := newRegistry(PolicyDeny)

	err := reg.SetRole(context.Background(), "bob", Role("owner"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestIsAdmin(t *testing.T) {
	reg := NewRegistry(NewMemoryRepo(), Options{AdminUsernames: []string{"ops", " root "}, UnassociatedPolicy: PolicyAllow})
	ctx := context.Background()
	require.NoError(t, reg.SetRole(ctx, "carol", RoleAdmin))

	for _, user := range []string{"ops", "root", "carol"} {
		ok, err := reg.IsAdmin(ctx, user)
		require.NoError(t, err)
		assert.True(t, ok, user)
	}

	// Allowed through policy but not an admin.
	ok, err := reg.IsAdmin(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = reg.IsAdmin(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, ok, "default admin is replaced by configured admins")
}

func TestAuthorizationAllows(t *testing.T) {
	assert.True(t, AllPhones().Allows("+1"))
	assert.True(t, OnlyPhones([]string{"+1"}).Allows("+1"))
	assert.False(t, OnlyPhones([]string{"+1"}).Allows("+2"))
	assert.False(t, OnlyPhones(nil).Allows("+1"))
}

func TestTokenRoleAppliesOnlyToItsOwner(t *testing.T) {
	reg := newRegistry(PolicyDeny)
	ctx := WithTokenRole(context.Background(), "erin", string(RoleAdmin))

	ok, err := reg.IsAdmin(ctx, "erin")
	require.NoError(t, err)
	assert.True(t, ok)

	auth, err := reg.GetAuthorizedPhones(ctx, "erin")
	require.NoError(t, err)
	assert.True(t, auth.Unrestricted)

	ok, err = reg.IsAdmin(ctx, "frank")
	require.NoError(t, err)
	assert.False(t, ok, "claim belongs to erin")

	viewer := WithTokenRole(context.Background(), "erin", string(RoleViewer))
	ok, err = reg.IsAdmin(viewer, "erin")
	require.NoError(t, err)
	assert.False(t, ok)
}
