package store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genOut(gen int64) *dynamodb.UpdateItemOutput {
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"gen": num(gen)}}
}

func TestSaveCreatesNewVersionedDocument(t *testing.T) {
	client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return genOut(1), nil
	}}
	tmpl := newTestTemplate(client)

	doc := &Person{ID: "p1", Name: "Ann", Age: 30}
	require.NoError(t, tmpl.Save(context.Background(), doc))
	assert.Equal(t, int64(1), doc.Version)

	require.Len(t, client.updates, 1)
	in := client.updates[0]
	assert.Equal(t, "test.Person", aws.ToString(in.TableName))
	assert.Equal(t, "p1", stringValue(in.Key["pk"]))
	assert.Equal(t, absentCondition, aws.ToString(in.ConditionExpression))
	assert.Contains(t, aws.ToString(in.UpdateExpression), "#gen = :one")
	assert.Equal(t, types.ReturnValueUpdatedNew, in.ReturnValues)
}

func TestSaveReplacesAtStoredGeneration(t *testing.T) {
	client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return genOut(5), nil
	}}
	tmpl := newTestTemplate(client)

	doc := &Person{ID: "p1", Name: "Ann", Version: 4}
	require.NoError(t, tmpl.Save(context.Background(), doc))
	assert.Equal(t, int64(5), doc.Version)

	in := client.updates[0]
	assert.Equal(t, existsCondition+" AND #gen = :expected_gen", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "4", stringValue(in.ExpressionAttributeValues[":expected_gen"]))
}

func TestSaveConflicts(t *testing.T) {
	tests := []struct {
		name    string
		version int64
		old     map[string]types.AttributeValue
		want    error
	}{
		{"stale generation", 4, person("p1", "Ann", 30, 5), ErrOptimisticLockingFailure},
		{"concurrent create", 0, person("p1", "Ann", 30, 1), ErrOptimisticLockingFailure},
		{"deleted meanwhile", 4, nil, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
				return nil, conditionFailed(tt.old)
			}}
			tmpl := newTestTemplate(client)

			doc := &Person{ID: "p1", Version: tt.version}
			err := tmpl.Save(context.Background(), doc)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.version, doc.Version)
		})
	}
}

func TestSaveUnversionedRemovesMissingBins(t *testing.T) {
	client := &fakeClient{}
	tmpl := newTestTemplate(client)

	require.NoError(t, tmpl.Save(context.Background(), &Profile{ID: "p1", Name: "Ann"}))

	in := client.updates[0]
	assert.Nil(t, in.ConditionExpression)
	assert.Equal(t, "SET #b0 = :b0, #gen = if_not_exists(#gen, :zero) + :one REMOVE #b1, #ttl", aws.ToString(in.UpdateExpression))
	assert.Equal(t, "name", in.ExpressionAttributeNames["#b0"])
	assert.Equal(t, "nick", in.ExpressionAttributeNames["#b1"])
	assert.Equal(t, "Ann", stringValue(in.ExpressionAttributeValues[":b0"]))
}

func TestSaveAppliesDefaultExpiration(t *testing.T) {
	client := &fakeClient{}
	tmpl := newTestTemplate(client, func(c *Config) { c.DefaultExpiration = 120 })

	require.NoError(t, tmpl.Save(context.Background(), &Profile{ID: "p1", Name: "Ann"}))

	in := client.updates[0]
	assert.Contains(t, aws.ToString(in.UpdateExpression), "#ttl = :ttl")
	assert.Equal(t, "1700000120", stringValue(in.ExpressionAttributeValues[":ttl"]))
}

func TestInsertDuplicate(t *testing.T) {
	client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, conditionFailed(map[string]types.AttributeValue{"pk": num(7), "gen": num(2)})
	}}
	tmpl := newTestTemplate(client)

	err := tmpl.Insert(context.Background(), &Counter{ID: 7, Label: "x"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, "7", stringValue(client.updates[0].Key["pk"]))
	assert.IsType(t, &types.AttributeValueMemberN{}, client.updates[0].Key["pk"])
}

func TestInsertSetsVersion(t *testing.T) {
	client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return genOut(1), nil
	}}
	tmpl := newTestTemplate(client)

	doc := &Person{ID: "p1", Version: 9}
	require.NoError(t, tmpl.Insert(context.Background(), doc))
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, absentCondition, aws.ToString(client.updates[0].ConditionExpression))
}

func TestUpdateMissingOrExpired(t *testing.T) {
	expired := person("p1", "Ann", 30, 3)
	expired["ttl"] = num(fixedNow.Unix() - 1)

	for _, old := range []map[string]types.AttributeValue{nil, expired} {
		client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, conditionFailed(old)
		}}
		tmpl := newTestTemplate(client)

		err := tmpl.Update(context.Background(), &Profile{ID: "p1", Name: "Ann"})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, existsCondition, aws.ToString(client.updates[0].ConditionExpression))
	}
}

func TestSaveAllStopsOnError(t *testing.T) {
	client := &fakeClient{onUpdate: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		if stringValue(in.Key["pk"]) == "bad" {
			return nil, &types.ProvisionedThroughputExceededException{}
		}
		return genOut(1), nil
	}}
	tmpl := newTestTemplate(client)

	err := tmpl.SaveAll(context.Background(), &Profile{ID: "a"}, &Profile{ID: "bad"})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestSaveRejectsInvalidDocuments(t *testing.T) {
	tmpl := newTestTemplate(&fakeClient{})

	tests := []struct {
		name string
		doc  any
	}{
		{"nil", nil},
		{"not a struct", new(int)},
		{"no id", &struct{ Name string }{}},
		{"unsupported id", &struct{ ID float64 }{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tmpl.Save(context.Background(), tt.doc), ErrInvalidUsage)
		})
	}
}

func TestDeleteReportsLiveRecord(t *testing.T) {
	expired := person("p1", "Ann", 30, 3)
	expired["ttl"] = num(fixedNow.Unix())

	tests := []struct {
		name string
		old  map[string]types.AttributeValue
		want bool
	}{
		{"live", person("p1", "Ann", 30, 3), true},
		{"missing", nil, false},
		{"expired", expired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{onDelete: func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
				return &dynamodb.DeleteItemOutput{Attributes: tt.old}, nil
			}}
			tmpl := newTestTemplate(client)

			ok, err := tmpl.Delete(context.Background(), (*Person)(nil), "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, types.ReturnValueAllOld, client.deletes[0].ReturnValues)
			assert.Nil(t, client.deletes[0].ConditionExpression)
		})
	}
}

func TestFindByID(t *testing.T) {
	client := &fakeClient{onGet: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{Item: person("p1", "Ann", 30, 3)}, nil
	}}
	tmpl := newTestTemplate(client)

	var doc Person
	found, err := tmpl.FindByID(context.Background(), "p1", &doc)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Person{ID: "p1", Name: "Ann", Age: 30, Version: 3}, doc)
	assert.Empty(t, client.updates)
}

func TestFindByIDExpired(t *testing.T) {
	item := person("p1", "Ann", 30, 3)
	item["ttl"] = num(fixedNow.Unix() - 10)
	client := &fakeClient{onGet: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}}
	tmpl := newTestTemplate(client)

	doc, err := FindByID[Person](context.Background(), tmpl, "p1")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestFindByIDTouchesOnRead(t *testing.T) {
	client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
			"pk":    str("v1"),
			"count": num(4),
			"gen":   num(8),
			"ttl":   num(fixedNow.Unix() + 60),
		}}, nil
	}}
	tmpl := newTestTemplate(client)

	var doc Visit
	found, err := tmpl.FindByID(context.Background(), "v1", &doc)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Visit{ID: "v1", Count: 4}, doc)
	assert.Empty(t, client.gets)

	in := client.updates[0]
	assert.Equal(t, "test.visits", aws.ToString(in.TableName))
	assert.Equal(t, existsCondition, aws.ToString(in.ConditionExpression))
	assert.Equal(t, "1700000060", stringValue(in.ExpressionAttributeValues[":ttl"]))
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
}

func TestFindByIDTouchOnMissingRecord(t *testing.T) {
	client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, conditionFailed(nil)
	}}
	tmpl := newTestTemplate(client)

	var doc Visit
	found, err := tmpl.FindByID(context.Background(), "v1", &doc)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindByIDsKeepsOrderAndDeduplicates(t *testing.T) {
	client := &fakeClient{onBatch: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
		return &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{
			"test.Person": {person("a", "A", 1, 1), person("b", "B", 2, 1)},
		}}, nil
	}}
	tmpl := newTestTemplate(client)

	docs, err := FindByIDs[Person](context.Background(), tmpl, []any{"b", "a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)

	require.Len(t, client.batches, 1)
	assert.Len(t, client.batches[0].RequestItems["test.Person"].Keys, 3)
}

func TestFindByIDsResubmitsUnprocessedKeys(t *testing.T) {
	calls := 0
	client := &fakeClient{onBatch: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
		calls++
		if calls == 1 {
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]types.AttributeValue{"test.Person": {person("a", "A", 1, 1)}},
				UnprocessedKeys: map[string]types.KeysAndAttributes{
					"test.Person": {Keys: []map[string]types.AttributeValue{{"pk": str("b")}}},
				},
			}, nil
		}
		return &dynamodb.BatchGetItemOutput{
			Responses: map[string][]map[string]types.AttributeValue{"test.Person": {person("b", "B", 2, 1)}},
		}, nil
	}}
	tmpl := newTestTemplate(client)

	docs, err := FindByIDs[Person](context.Background(), tmpl, []any{"a", "b"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 2, calls)
	assert.Len(t, client.batches[1].RequestItems["test.Person"].Keys, 1)
}

func TestFindByIDsGivesUpAfterMaxRounds(t *testing.T) {
	client := &fakeClient{onBatch: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
		return &dynamodb.BatchGetItemOutput{UnprocessedKeys: in.RequestItems}, nil
	}}
	tmpl := newTestTemplate(client, func(c *Config) { c.BatchMaxRounds = 2 })

	_, err := tmpl.FindByIDs(context.Background(), (*Person)(nil), []any{"a"})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Len(t, client.batches, 2)
}

func TestFindByIDsChunksRequests(t *testing.T) {
	client := &fakeClient{}
	tmpl := newTestTemplate(client)

	ids := make([]any, 150)
	for i := range ids {
		ids[i] = int64(i)
	}
	docs, err := tmpl.FindByIDs(context.Background(), (*Counter)(nil), ids)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.Len(t, client.batches, 2)
	sizes := []int{
		len(client.batches[0].RequestItems["test.Counter"].Keys),
		len(client.batches[1].RequestItems["test.Counter"].Keys),
	}
	assert.ElementsMatch(t, []int{100, 50}, sizes)
}

func TestExists(t *testing.T) {
	client := &fakeClient{onGet: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{"pk": str("p1")}}, nil
	}}
	tmpl := newTestTemplate(client)

	ok, err := Exists[Person](context.Background(), tmpl, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "#pk, #ttl", aws.ToString(client.gets[0].ProjectionExpression))
}

func TestExecuteTranslatesErrors(t *testing.T) {
	tmpl := newTestTemplate(&fakeClient{})

	_, err := Execute(context.Background(), tmpl, func(ctx context.Context, client Client) (int, error) {
		return 0, &types.ResourceNotFoundException{}
	})
	assert.ErrorIs(t, err, ErrResourceNotFound)

	plain := errors.New("boom")
	err = tmpl.Execute(context.Background(), func(context.Context, Client) error { return plain })
	assert.Equal(t, plain, err)
}

func TestPutRecordRejectsManagedBins(t *testing.T) {
	client := &fakeClient{}
	tmpl := newTestTemplate(client)

	_, err := tmpl.PutRecord(context.Background(), "people", "p1", map[string]types.AttributeValue{"gen": num(1)}, WritePolicy{})
	assert.ErrorIs(t, err, ErrInvalidUsage)
	assert.Empty(t, client.updates)
}

func TestRepository(t *testing.T) {
	client := &fakeClient{onUpdate: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return genOut(1), nil
	}}
	tmpl := newTestTemplate(client)

	repo, err := NewRepository[Person](tmpl)
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.Registry().Len())

	doc := &Person{ID: "p1", Name: "Ann"}
	require.NoError(t, repo.Save(context.Background(), doc))
	assert.Equal(t, int64(1), doc.Version)

	_, err = NewRepository[struct{ Name string }](tmpl)
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestRepositoryDeleteAllByID(t *testing.T) {
	client := &fakeClient{onDelete: func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
		if stringValue(in.Key["pk"]) == "gone" {
			return &dynamodb.DeleteItemOutput{}, nil
		}
		return &dynamodb.DeleteItemOutput{Attributes: in.Key}, nil
	}}
	repo, err := NewRepository[Profile](newTestTemplate(client))
	require.NoError(t, err)

	n, err := repo.DeleteAllByID(context.Background(), "a", "gone", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
