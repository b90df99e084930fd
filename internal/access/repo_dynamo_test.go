package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo stores one item per username and fails the next `conflicts`
// conditional puts, simulating concurrent writers.
type fakeDynamo struct {
	mu        sync.Mutex
	items     map[string]map[string]types.AttributeValue
	puts      int
	conflicts int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key["username"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.conflicts > 0 {
		f.conflicts--
		return nil, &types.ConditionalCheckFailedException{Message: new(string)}
	}
	key := in.Item["username"].(*types.AttributeValueMemberS).Value
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func newDynamoRepo(f *fakeDynamo) *DynamoRepo {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &DynamoRepo{Client: f, Table: "phone_associations", MaxAttempts: 3, now: func() time.Time { return fixed }}
}

func TestDynamoRepoAppendCreatesRecord(t *testing.T) {
	f := newFakeDynamo()
	repo := newDynamoRepo(f)

	a, added, err := repo.AppendPhone(context.Background(), "alice", "+1")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"+1"}, a.PhoneNumbers)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, RoleViewer, a.Role)

	var stored Association
	require.NoError(t, attributevalue.UnmarshalMap(f.items["alice"], &stored))
	assert.Equal(t, []string{"+1"}, stored.PhoneNumbers)
}

func TestDynamoRepoAppendExistingIsNoop(t *testing.T) {
	f := newFakeDynamo()
	repo := newDynamoRepo(f)
	ctx := context.Background()

	_, _, err := repo.AppendPhone(ctx, "alice", "+1")
	require.NoError(t, err)
	a, added, err := repo.AppendPhone(ctx, "alice", "+1")
	require.NoError(t, err)

	assert.False(t, added)
	assert.Equal(t, []string{"+1"}, a.PhoneNumbers)
	assert.Equal(t, 1, f.puts)
}

func TestDynamoRepoRetriesOnConditionFailure(t *testing.T) {
	f := newFakeDynamo()
	f.conflicts = 2
	repo := newDynamoRepo(f)

	a, added, err := repo.AppendPhone(context.Background(), "alice", "+1")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"+1"}, a.PhoneNumbers)
	assert.Equal(t, 3, f.puts)
}

func TestDynamoRepoGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFakeDynamo()
	f.conflicts = 10
	repo := newDynamoRepo(f)

	_, _, err := repo.AppendPhone(context.Background(), "alice", "+1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, f.puts)
}

func TestDynamoRepoRemovePhone(t *testing.T) {
	f := newFakeDynamo()
	repo := newDynamoRepo(f)
	ctx := context.Background()

	_, err := repo.RemovePhone(ctx, "alice", "+1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = repo.AppendPhone(ctx, "alice", "+1")
	require.NoError(t, err)
	_, _, err = repo.AppendPhone(ctx, "alice", "+2")
	require.NoError(t, err)

	_, err = repo.RemovePhone(ctx, "alice", "+3")
	assert.ErrorIs(t, err, ErrPhoneNotAssociated)

	a, err := repo.RemovePhone(ctx, "alice", "+1")
	require.NoError(t, err)
	assert.Equal(t, []string{"+2"}, a.PhoneNumbers)
	assert.Equal(t, int64(3), a.Version)
}

func TestDynamoRepoSetRole(t *testing.T) {
	repo := newDynamoRepo(newFakeDynamo())

	a, err := repo.SetRole(context.Background(), "root", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, a.Role)
	assert.Empty(t, a.PhoneNumbers)
}
