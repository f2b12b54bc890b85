package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamoDBClient implements DynamoDBClient for testing
type mockDynamoDBClient struct {
	getItemOutput *dynamodb.GetItemOutput
	getItemErr    error
	getItemInput  *dynamodb.GetItemInput

	putItemErr   error
	putItemInput *dynamodb.PutItemInput

	updateItemFunc  func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	updateItemInput *dynamodb.UpdateItemInput

	queryPages  []*dynamodb.QueryOutput
	queryErr    error
	queryCalls  int
	queryInputs []*dynamodb.QueryInput
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getItemInput = params
	if m.getItemErr != nil {
		return nil, m.getItemErr
	}
	if m.getItemOutput != nil {
		return m.getItemOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putItemInput = params
	if m.putItemErr != nil {
		return nil, m.putItemErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateItemInput = params
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInputs = append(m.queryInputs, params)
	m.queryCalls++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.queryCalls > len(m.queryPages) {
		return &dynamodb.QueryOutput{}, nil
	}
	return m.queryPages[m.queryCalls-1], nil
}

type testItem struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Name string `dynamodbav:"name"`
}

func TestNew_SetsTableName(t *testing.T) {
	client := New(&mockDynamoDBClient{}, "my-table")
	if client.TableName() != "my-table" {
		t.Errorf("Expected tableName=my-table, got %s", client.TableName())
	}
}

func TestPutIfAbsent_Inserted(t *testing.T) {
	mock := &mockDynamoDBClient{}
	client := New(mock, "test-table")

	inserted, err := client.PutIfAbsent(context.Background(), testItem{PK: "USER#u1", SK: SKProfile, Name: "Ana"})
	if err != nil {
		t.Fatalf("PutIfAbsent returned error: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true")
	}

	input := mock.putItemInput
	if aws.ToString(input.TableName) != "test-table" {
		t.Errorf("expected table test-table, got %s", aws.ToString(input.TableName))
	}
	if !strings.Contains(aws.ToString(input.ConditionExpression), "attribute_not_exists") {
		t.Errorf("expected attribute_not_exists condition, got %q", aws.ToString(input.ConditionExpression))
	}
	found := false
	for _, name := range input.ExpressionAttributeNames {
		if name == AttrPK {
			found = true
		}
	}
	if !found {
		t.Errorf("expected condition to reference %s, got %v", AttrPK, input.ExpressionAttributeNames)
	}
	if pk, ok := input.Item["PK"].(*types.AttributeValueMemberS); !ok || pk.Value != "USER#u1" {
		t.Errorf("expected PK USER#u1, got %v", input.Item["PK"])
	}
}

func TestPutIfAbsent_AlreadyExists(t *testing.T) {
	mock := &mockDynamoDBClient{
		putItemErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")},
	}
	client := New(mock, "test-table")

	inserted, err := client.PutIfAbsent(context.Background(), testItem{PK: "USER#u1", SK: SKProfile})
	if err != nil {
		t.Fatalf("expected nil error for existing item, got %v", err)
	}
	if inserted {
		t.Error("expected inserted=false")
	}
}

func TestPutIfAbsent_OtherError(t *testing.T) {
	mock := &mockDynamoDBClient{putItemErr: errors.New("throttled")}
	client := New(mock, "test-table")

	_, err := client.PutIfAbsent(context.Background(), testItem{PK: "USER#u1", SK: SKProfile})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGet_NotFound(t *testing.T) {
	client := New(&mockDynamoDBClient{}, "test-table")

	var out testItem
	found, err := client.Get(context.Background(), "USER#u1", SKProfile, &out)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if found {
		t.Error("expected found=false")
	}
}

func TestGet_Found(t *testing.T) {
	mock := &mockDynamoDBClient{
		getItemOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"PK":   &types.AttributeValueMemberS{Value: "USER#u1"},
				"SK":   &types.AttributeValueMemberS{Value: SKProfile},
				"name": &types.AttributeValueMemberS{Value: "Ana"},
			},
		},
	}
	client := New(mock, "test-table")

	var out testItem
	found, err := client.Get(context.Background(), "USER#u1", SKProfile, &out)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if out.Name != "Ana" {
		t.Errorf("expected name Ana, got %q", out.Name)
	}
	if !aws.ToBool(mock.getItemInput.ConsistentRead) {
		t.Error("expected consistent read")
	}
}

func TestQuery_FollowsPagination(t *testing.T) {
	mock := &mockDynamoDBClient{
		queryPages: []*dynamodb.QueryOutput{
			{
				Items: []map[string]types.AttributeValue{
					{"PK": &types.AttributeValueMemberS{Value: "USER#u1"}},
				},
				LastEvaluatedKey: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: "USER#u1"},
				},
			},
			{
				Items: []map[string]types.AttributeValue{
					{"PK": &types.AttributeValueMemberS{Value: "USER#u1"}},
				},
			},
		},
	}
	client := New(mock, "test-table")

	items, err := client.Query(context.Background(), QueryOptions{PK: "USER#u1", SKPrefix: SKPrefixPet, Descending: true})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items across pages, got %d", len(items))
	}
	if mock.queryCalls != 2 {
		t.Errorf("expected 2 Query calls, got %d", mock.queryCalls)
	}

	first := mock.queryInputs[0]
	if aws.ToBool(first.ScanIndexForward) {
		t.Error("expected descending scan")
	}
	if !strings.Contains(aws.ToString(first.KeyConditionExpression), "begins_with") {
		t.Errorf("expected begins_with key condition, got %q", aws.ToString(first.KeyConditionExpression))
	}
}

func TestQuery_UsesIndexAndKeyCondition(t *testing.T) {
	mock := &mockDynamoDBClient{}
	client := New(mock, "test-table")

	kc := expression.Key("gsi1pk").Equal(expression.Value("RECEIVED"))
	_, err := client.Query(context.Background(), QueryOptions{IndexName: "gsi1", KeyCondition: &kc})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if aws.ToString(mock.queryInputs[0].IndexName) != "gsi1" {
		t.Errorf("expected index gsi1, got %q", aws.ToString(mock.queryInputs[0].IndexName))
	}
}

func TestUpdate_ConditionFailureReturnsStoredItem(t *testing.T) {
	stored := map[string]types.AttributeValue{
		"status": &types.AttributeValueMemberS{Value: "processed"},
	}
	mock := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Item: stored}
		},
	}
	client := New(mock, "test-table")

	cond := expression.Name("status").Equal(expression.Value("received"))
	_, err := client.Update(context.Background(), UpdateOptions{
		PK:        "EVENT#evt_1",
		SK:        "CREATED#x",
		Update:    expression.Set(expression.Name("status"), expression.Value("processed")),
		Condition: &cond,
	})
	item, ok := IsConditionalCheckFailed(err)
	if !ok {
		t.Fatalf("expected conditional check failure, got %v", err)
	}
	if s, _ := item["status"].(*types.AttributeValueMemberS); s == nil || s.Value != "processed" {
		t.Errorf("expected stored item to be returned, got %v", item)
	}
	if mock.updateItemInput.ReturnValuesOnConditionCheckFailure != types.ReturnValuesOnConditionCheckFailureAllOld {
		t.Error("expected ALL_OLD on condition failure")
	}
}
