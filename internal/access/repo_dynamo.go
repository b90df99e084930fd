package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const defaultMaxAttempts = 5

// DynamoAPI is the subset of the DynamoDB client used by DynamoRepo.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoRepo implements Repo on a DynamoDB table keyed by username. Writes are
// conditional on the version read, retried a bounded number of times.
type DynamoRepo struct {
	Client      DynamoAPI
	Table       string
	MaxAttempts int
	now         func() time.Time
}

func (r *DynamoRepo) Get(ctx context.Context, username string) (Association, error) {
	out, err := r.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.Table),
		Key:            map[string]types.AttributeValue{"username": &types.AttributeValueMemberS{Value: username}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Association{}, fmt.Errorf("dynamodb get %s: %w", r.Table, err)
	}
	if len(out.Item) == 0 {
		return Association{}, ErrNotFound
	}
	var a Association
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return Association{}, fmt.Errorf("unmarshal association: %w", err)
	}
	if a.PhoneNumbers == nil {
		a.PhoneNumbers = []string{}
	}
	return a, nil
}

func (r *DynamoRepo) AppendPhone(ctx context.Context, username, phone string) (Association, bool, error) {
	var result Association
	added := false
	err := r.update(ctx, username, true, func(a *Association) error {
		if a.Has(phone) {
			result = a.clone()
			return errNoChange
		}
		a.PhoneNumbers = append(a.PhoneNumbers, phone)
		return nil
	}, func(a Association) {
		result = a
		added = true
	})
	if err != nil {
		return Association{}, false, err
	}
	return result, added, nil
}

func (r *DynamoRepo) RemovePhone(ctx context.Context, username, phone string) (Association, error) {
	var result Association
	err := r.update(ctx, username, false, func(a *Association) error {
		if !a.Has(phone) {
			return ErrPhoneNotAssociated
		}
		a.PhoneNumbers = withoutPhone(a.PhoneNumbers, phone)
		return nil
	}, func(a Association) {
		result = a
	})
	if err != nil {
		return Association{}, err
	}
	return result, nil
}

func (r *DynamoRepo) SetRole(ctx context.Context, username string, role Role) (Association, error) {
	var result Association
	err := r.update(ctx, username, true, func(a *Association) error {
		a.Role = role
		return nil
	}, func(a Association) {
		result = a
	})
	if err != nil {
		return Association{}, err
	}
	return result, nil
}

var errNoChange = errors.New("no change")

// update runs a read-modify-write guarded by the version attribute. mutate may
// return errNoChange to finish without writing.
func (r *DynamoRepo) update(ctx context.Context, username string, create bool, mutate func(*Association) error, done func(Association)) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	now := r.now
	if now == nil {
		now = time.Now
	}

	for i := 0; i < attempts; i++ {
		current, err := r.Get(ctx, username)
		exists := true
		if errors.Is(err, ErrNotFound) {
			if !create {
				return ErrNotFound
			}
			exists = false
			current = Association{Username: username, PhoneNumbers: []string{}, Role: RoleViewer}
		} else if err != nil {
			return err
		}

		next := current.clone()
		if err := mutate(&next); err != nil {
			if errors.Is(err, errNoChange) {
				return nil
			}
			return err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now().UTC()

		var cond expression.ConditionBuilder
		if exists {
			cond = expression.Name("version").Equal(expression.Value(current.Version))
		} else {
			cond = expression.AttributeNotExists(expression.Name("username"))
		}
		err = r.put(ctx, next, cond)
		if err == nil {
			done(next)
			return nil
		}
		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return fmt.Errorf("dynamodb put %s: %w", r.Table, err)
		}
	}
	return ErrConflict
}

func (r *DynamoRepo) put(ctx context.Context, a Association, cond expression.ConditionBuilder) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal association: %w", err)
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = r.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.Table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

var _ Repo = (*DynamoRepo)(nil)
