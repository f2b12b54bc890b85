package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// Key attribute names shared by every table
const (
	AttrPK = "PK"
	AttrSK = "SK"
)

// Key prefixes for single-table design
const (
	PKPrefixUser    = "USER#"
	PKPrefixEvent   = "EVENT#"
	SKProfile       = "PROFILE"
	SKPrefixCreated = "CREATED#"
	SKPrefixPet     = "PET#"
	EntityUser      = "USER"
)

// DynamoDBClient defines the interface for DynamoDB operations
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps DynamoDB operations against a single table
type Client struct {
	ddb       DynamoDBClient
	tableName string
}

// NewClient creates a new DynamoDB client with OTel instrumentation
func NewClient(ctx context.Context, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Add OTel instrumentation for X-Ray tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return NewClientFromConfig(cfg, tableName), nil
}

// NewClientFromConfig creates a client from an already-instrumented AWS config
func NewClientFromConfig(cfg aws.Config, tableName string) *Client {
	return New(dynamodb.NewFromConfig(cfg), tableName)
}

// New creates a client over any DynamoDBClient implementation
func New(ddb DynamoDBClient, tableName string) *Client {
	return &Client{
		ddb:       ddb,
		tableName: tableName,
	}
}

// TableName returns the table this client writes to
func (c *Client) TableName() string {
	return c.tableName
}

// Key builds a primary key
func Key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: pk},
		AttrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// IsConditionalCheckFailed reports whether err is a failed condition
// expression, and returns the stored item if DynamoDB sent it back.
func IsConditionalCheckFailed(err error) (map[string]types.AttributeValue, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf.Item, true
	}
	return nil, false
}

// Put writes an item unconditionally
func (c *Client) Put(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      av,
	})
	return err
}

// PutIfAbsent writes an item only when no item with the same PK exists.
// Returns false with a nil error when the item was already present.
func (c *Client) PutIfAbsent(ctx context.Context, item any) (bool, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal item: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name(AttrPK))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return false, fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(c.tableName),
		Item:                                av,
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if _, ok := IsConditionalCheckFailed(err); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get reads a single item into out. Returns false when the item does not exist.
func (c *Client) Get(ctx context.Context, pk, sk string, out any) (bool, error) {
	result, err := c.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            Key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

// UpdateOptions describes a single-item update
type UpdateOptions struct {
	PK        string
	SK        string
	Update    expression.UpdateBuilder
	Condition *expression.ConditionBuilder
}

// Update applies an update expression and returns the item as written.
// A failed condition is returned unwrapped so callers can inspect the
// stored item with IsConditionalCheckFailed.
func (c *Client) Update(ctx context.Context, opts UpdateOptions) (map[string]types.AttributeValue, error) {
	builder := expression.NewBuilder().WithUpdate(opts.Update)
	if opts.Condition != nil {
		builder = builder.WithCondition(*opts.Condition)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       Key(opts.PK, opts.SK),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	}
	if opts.Condition != nil {
		input.ConditionExpression = expr.Condition()
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	output, err := c.ddb.UpdateItem(ctx, input)
	if err != nil {
		return nil, err
	}
	return output.Attributes, nil
}

// QueryOptions describes a query. When KeyCondition is nil the condition is
// built from PK and the optional SKPrefix.
type QueryOptions struct {
	IndexName    string
	PK           string
	SKPrefix     string
	KeyCondition *expression.KeyConditionBuilder
	Filter       *expression.ConditionBuilder
	Descending   bool
	Limit        int
}

// Query returns every matching item, following pagination
func (c *Client) Query(ctx context.Context, opts QueryOptions) ([]map[string]types.AttributeValue, error) {
	var keyCond expression.KeyConditionBuilder
	if opts.KeyCondition != nil {
		keyCond = *opts.KeyCondition
	} else {
		keyCond = expression.Key(AttrPK).Equal(expression.Value(opts.PK))
		if opts.SKPrefix != "" {
			keyCond = keyCond.And(expression.Key(AttrSK).BeginsWith(opts.SKPrefix))
		}
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if opts.Filter != nil {
		builder = builder.WithFilter(*opts.Filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!opts.Descending),
	}
	if opts.IndexName != "" {
		input.IndexName = aws.String(opts.IndexName)
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(c.ddb, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if opts.Limit > 0 && len(items) >= opts.Limit {
			return items[:opts.Limit], nil
		}
	}
	return items, nil
}
