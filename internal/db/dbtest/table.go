// Package dbtest provides an in-memory stand-in for the DynamoDB client used
// by package tests.
package dbtest

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	equalPattern      = regexp.MustCompile(`(#\w+)\s*=\s*(:\w+)`)
	beginsWithPattern = regexp.MustCompile(`begins_with\s*\(\s*(#\w+)\s*,\s*(:\w+)\s*\)`)
)

// Table is a single DynamoDB table keyed by PK and SK. PutItem and
// UpdateItem evaluate AND-joined comparisons and attribute_exists checks in
// their condition expressions; UpdateItem applies SET, ADD and REMOVE
// clauses. UpdateFunc and QueryFunc replace the built-in behaviour when set.
type Table struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	PutErr     error
	GetErr     error
	QueryErr   error
	UpdateFunc func(ctx context.Context, params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	QueryFunc  func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)

	PutCalls     int
	UpdateInputs []*dynamodb.UpdateItemInput
	QueryInputs  []*dynamodb.QueryInput
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{items: map[string]map[string]types.AttributeValue{}}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func key(item map[string]types.AttributeValue) string {
	return stringAttr(item, "PK") + "\x00" + stringAttr(item, "SK")
}

// Len returns the number of stored items
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Items returns stored items whose PK starts with prefix
func (t *Table) Items(prefix string) []map[string]types.AttributeValue {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, item := range t.items {
		if strings.HasPrefix(stringAttr(item, "PK"), prefix) {
			out = append(out, item)
		}
	}
	return out
}

// Seed stores an item directly
func (t *Table) Seed(item map[string]types.AttributeValue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[key(item)] = item
}

func (t *Table) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PutCalls++
	if t.PutErr != nil {
		return nil, t.PutErr
	}

	k := key(params.Item)
	existing := t.items[k]
	ok, err := evalCondition(aws.ToString(params.ConditionExpression), existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(existing, params.ReturnValuesOnConditionCheckFailure)
	}
	t.items[k] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func conditionFailed(existing map[string]types.AttributeValue, rv types.ReturnValuesOnConditionCheckFailure) error {
	ccf := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	if existing != nil && rv == types.ReturnValuesOnConditionCheckFailureAllOld {
		ccf.Item = existing
	}
	return ccf
}

func (t *Table) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.GetErr != nil {
		return nil, t.GetErr
	}
	return &dynamodb.GetItemOutput{Item: t.items[key(params.Key)]}, nil
}

func (t *Table) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	t.mu.Lock()
	t.UpdateInputs = append(t.UpdateInputs, params)
	fn := t.UpdateFunc
	t.mu.Unlock()
	if fn != nil {
		return fn(ctx, params)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(params.Key)
	existing := t.items[k]
	ok, err := evalCondition(aws.ToString(params.ConditionExpression), existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(existing, params.ReturnValuesOnConditionCheckFailure)
	}

	updated := make(map[string]types.AttributeValue, len(existing)+len(params.Key))
	for name, v := range existing {
		updated[name] = v
	}
	for name, v := range params.Key {
		updated[name] = v
	}
	if err := applyUpdate(aws.ToString(params.UpdateExpression), updated, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	t.items[k] = updated

	out := &dynamodb.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = updated
	}
	return out, nil
}

// Query supports a PK equality condition with an optional begins_with on SK.
// Of filter expressions only string equality terms are evaluated.
func (t *Table) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.QueryInputs = append(t.QueryInputs, params)
	if t.QueryFunc != nil {
		return t.QueryFunc(ctx, params)
	}
	if t.QueryErr != nil {
		return nil, t.QueryErr
	}

	cond := aws.ToString(params.KeyConditionExpression)
	var pk, skPrefix string
	for _, m := range equalPattern.FindAllStringSubmatch(cond, -1) {
		if params.ExpressionAttributeNames[m[1]] == "PK" {
			pk = stringAttr(params.ExpressionAttributeValues, m[2])
		}
	}
	for _, m := range beginsWithPattern.FindAllStringSubmatch(cond, -1) {
		if params.ExpressionAttributeNames[m[1]] == "SK" {
			skPrefix = stringAttr(params.ExpressionAttributeValues, m[2])
		}
	}

	filters := map[string]string{}
	for _, m := range equalPattern.FindAllStringSubmatch(aws.ToString(params.FilterExpression), -1) {
		filters[params.ExpressionAttributeNames[m[1]]] = stringAttr(params.ExpressionAttributeValues, m[2])
	}

	var out []map[string]types.AttributeValue
	for _, item := range t.items {
		if stringAttr(item, "PK") != pk {
			continue
		}
		if skPrefix != "" && !strings.HasPrefix(stringAttr(item, "SK"), skPrefix) {
			continue
		}
		if !matches(item, filters) {
			continue
		}
		out = append(out, item)
	}

	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	sort.Slice(out, func(i, j int) bool {
		if forward {
			return stringAttr(out[i], "SK") < stringAttr(out[j], "SK")
		}
		return stringAttr(out[i], "SK") > stringAttr(out[j], "SK")
	})
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func matches(item map[string]types.AttributeValue, filters map[string]string) bool {
	for name, want := range filters {
		if stringAttr(item, name) != want {
			return false
		}
	}
	return true
}
