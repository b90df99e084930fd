package messages

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB caps IN operands at 100.
const maxInOperands = 100

// DynamoAPI is the subset of the DynamoDB client used by DynamoRepo.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoRepo implements Repo on a DynamoDB table keyed by id. Reads are
// paginated scans with filter expressions.
type DynamoRepo struct {
	Client DynamoAPI
	Table  string
}

// PutRecord writes rec, refusing to overwrite an existing id.
func (r *DynamoRepo) PutRecord(ctx context.Context, rec Record) error {
	rec.Timestamp = rec.Timestamp.UTC()
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("id"))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}

	_, err = r.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.Table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("dynamodb put %s: %w", r.Table, err)
	}
	return nil
}

func (r *DynamoRepo) GetByOwner(ctx context.Context, username string) ([]Record, error) {
	filter := expression.Name("username").Equal(expression.Value(username))
	return r.scan(ctx, &filter)
}

func (r *DynamoRepo) QueryByPhoneSet(ctx context.Context, phones []string, hasObjectKey bool) ([]Record, error) {
	phones = dedupe(phones)
	out := []Record{}
	for start := 0; start < len(phones); start += maxInOperands {
		end := start + maxInOperands
		if end > len(phones) {
			end = len(phones)
		}
		filter := phoneInFilter(phones[start:end])
		if hasObjectKey {
			filter = filter.And(expression.AttributeExists(expression.Name("objectKey")))
		}
		recs, err := r.scan(ctx, &filter)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (r *DynamoRepo) ScanAll(ctx context.Context, hasObjectKey bool) ([]Record, error) {
	if !hasObjectKey {
		return r.scan(ctx, nil)
	}
	filter := expression.AttributeExists(expression.Name("objectKey"))
	return r.scan(ctx, &filter)
}

func phoneInFilter(phones []string) expression.ConditionBuilder {
	name := expression.Name("phoneNumber")
	if len(phones) == 1 {
		return name.Equal(expression.Value(phones[0]))
	}
	rest := make([]expression.OperandBuilder, 0, len(phones)-1)
	for _, p := range phones[1:] {
		rest = append(rest, expression.Value(p))
	}
	return name.In(expression.Value(phones[0]), rest...)
}

func (r *DynamoRepo) scan(ctx context.Context, filter *expression.ConditionBuilder) ([]Record, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(r.Table)}
	if filter != nil {
		expr, err := expression.NewBuilder().WithFilter(*filter).Build()
		if err != nil {
			return nil, fmt.Errorf("build filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	out := []Record{}
	for {
		page, err := r.Client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %s: %w", r.Table, err)
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal records: %w", err)
		}
		out = append(out, recs...)
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

var _ Repo = (*DynamoRepo)(nil)
