package store

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/mapping"
)

// fakeClient scripts DynamoDB responses and records every request.
// Unset hooks return empty outputs; updates echo the key.
type fakeClient struct {
	mu sync.Mutex

	onGet    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	onUpdate func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	onDelete func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	onBatch  func(*dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error)
	onScan   func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)

	gets    []*dynamodb.GetItemInput
	updates []*dynamodb.UpdateItemInput
	deletes []*dynamodb.DeleteItemInput
	batches []*dynamodb.BatchGetItemInput
	scans   []*dynamodb.ScanInput
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, in)
	if f.onGet == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.onGet(in)
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	if f.onUpdate == nil {
		return &dynamodb.UpdateItemOutput{Attributes: in.Key}, nil
	}
	return f.onUpdate(in)
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, in)
	if f.onDelete == nil {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	return f.onDelete(in)
}

func (f *fakeClient) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, in)
	if f.onBatch == nil {
		return &dynamodb.BatchGetItemOutput{}, nil
	}
	return f.onBatch(in)
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, in)
	if f.onScan == nil {
		return &dynamodb.ScanOutput{}, nil
	}
	return f.onScan(in)
}

// fixedNow is the clock every template test runs at.
var fixedNow = time.Unix(1_700_000_000, 0)

func newTestTemplate(client Client, mutate ...func(*Config)) *Template {
	cfg := DefaultConfig()
	cfg.Namespace = "test"
	for _, m := range mutate {
		m(&cfg)
	}
	return New(client, cfg, withClock(func() time.Time { return fixedNow }))
}

type Person struct {
	ID      string `entity:"id"`
	Name    string `bin:"name"`
	Age     int    `bin:"age"`
	Version int64  `entity:"version"`
}

type Profile struct {
	ID   string
	Name string `bin:"name"`
	Nick string `bin:"nick,omitempty"`
}

type Counter struct {
	ID    int64
	Hits  int64  `bin:"hits"`
	Label string `bin:"label"`
}

type Visit struct {
	ID    string
	Count int64 `bin:"count"`
}

func (Visit) Document() mapping.Document {
	return mapping.Document{Set: "visits", Expiration: 60, TouchOnRead: true}
}

func str(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }

func num(v int64) *types.AttributeValueMemberN { return number(v) }

func person(id, name string, age, gen int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":   str(id),
		"name": str(name),
		"age":  num(age),
		"gen":  num(gen),
	}
}

func conditionFailed(item map[string]types.AttributeValue) error {
	return &types.ConditionalCheckFailedException{Item: item}
}

func stringValue(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}
