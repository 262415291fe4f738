package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/strata/mapping"
)

// batchGetLimit is the DynamoDB cap on keys per BatchGetItem request.
const batchGetLimit = 100

// FindByID reads the record with id into dst, a pointer to an entity.
// It reports false, with dst untouched, when no live record exists.
// Entities with touch-on-read extend the record's lifetime in the same call.
func (t *Template) FindByID(ctx context.Context, id any, dst any) (found bool, err error) {
	e, err := t.entity("find_by_id", dst)
	if err != nil {
		return false, err
	}
	key, err := mapping.NewKey(t.config.Namespace, e.Set(), id)
	if err != nil {
		return false, Translate("find_by_id", err)
	}
	ctx, span := t.start(ctx, "find_by_id", key)
	defer func() { end(span, err) }()

	var item map[string]types.AttributeValue
	if doc := e.Document(); doc.TouchOnRead {
		item, err = t.touch(ctx, "find_by_id", key, doc.Expiration)
	} else {
		item, err = t.get(ctx, "find_by_id", key)
	}
	if err != nil || item == nil {
		return false, err
	}
	if err := t.decoder.read(e, item, dst); err != nil {
		return false, Translate("find_by_id", err)
	}
	return true, nil
}

// Exists reports whether a live record with id exists for the entity type of typ.
func (t *Template) Exists(ctx context.Context, typ any, id any) (ok bool, err error) {
	e, err := t.entity("exists", typ)
	if err != nil {
		return false, err
	}
	key, err := mapping.NewKey(t.config.Namespace, e.Set(), id)
	if err != nil {
		return false, Translate("exists", err)
	}
	ctx, span := t.start(ctx, "exists", key)
	defer func() { end(span, err) }()
	return t.exists(ctx, key)
}

// FindByIDs reads the records with ids for the entity type of typ. Results
// follow the first occurrence of each id; ids without a live record are dropped.
func (t *Template) FindByIDs(ctx context.Context, typ any, ids []any) (docs []any, err error) {
	e, err := t.entity("find_by_ids", typ)
	if err != nil {
		return nil, err
	}

	keys := make([]mapping.Key, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		key, err := mapping.NewKey(t.config.Namespace, e.Set(), id)
		if err != nil {
			return nil, Translate("find_by_ids", err)
		}
		ref := attrRef(key.AttributeValue())
		if !seen[ref] {
			seen[ref] = true
			order = append(order, ref)
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, span := t.start(ctx, "find_by_ids", mapping.Key{Namespace: t.config.Namespace, Set: e.Set()})
	defer func() { end(span, err) }()

	items, err := t.batchGet(ctx, mapping.TableName(t.config.Namespace, e.Set()), keys)
	if err != nil {
		return nil, err
	}

	docs = make([]any, 0, len(items))
	for _, ref := range order {
		item, ok := items[ref]
		if !ok {
			continue
		}
		doc := e.New()
		if err := t.decoder.read(e, item, doc); err != nil {
			return nil, Translate("find_by_ids", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// get reads a live item, nil when absent or expired.
func (t *Template) get(ctx context.Context, op string, key mapping.Key) (map[string]types.AttributeValue, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(key.Table()),
		Key:            t.keyItem(key),
		ConsistentRead: aws.Bool(t.config.ConsistentReads),
	})
	if err != nil {
		return nil, Translate(op, err)
	}
	if !t.live(out.Item, t.now()) {
		return nil, nil
	}
	return out.Item, nil
}

// getConsistent reads an item with a strongly consistent read, expired or not.
func (t *Template) getConsistent(ctx context.Context, op string, key mapping.Key) (map[string]types.AttributeValue, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(key.Table()),
		Key:            t.keyItem(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, Translate(op, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (t *Template) exists(ctx context.Context, key mapping.Key) (bool, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(key.Table()),
		Key:                  t.keyItem(key),
		ConsistentRead:       aws.Bool(t.config.ConsistentReads),
		ProjectionExpression: aws.String("#pk, #ttl"),
		ExpressionAttributeNames: map[string]string{
			keyName: t.config.KeyAttribute,
			ttlName: t.config.ExpirationAttribute,
		},
	})
	if err != nil {
		return false, Translate("exists", err)
	}
	return t.live(out.Item, t.now()), nil
}

// touch extends the lifetime of a live record, bumps its generation and
// returns it. A record that is missing or expired yields nil.
func (t *Template) touch(ctx context.Context, op string, key mapping.Key, expiration int32) (map[string]types.AttributeValue, error) {
	now := t.now().Unix()
	w := t.config.newWriteExpr(now)
	w.policy(WritePolicy{ExistsAction: ReplaceOnly, Expiration: expiration}, t.config.DefaultExpiration, now)

	in := w.input(key.Table(), t.keyItem(key))
	in.ReturnValues = types.ReturnValueAllNew

	out, err := t.client.UpdateItem(ctx, in)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			t.logger.DebugContext(ctx, "touch on absent record", "op", op, "key", key.String())
			return nil, nil
		}
		return nil, Translate(op, err)
	}
	return out.Attributes, nil
}

// batchGet reads keys of one table in chunks, keyed by attrRef of the id.
// Expired items are dropped.
func (t *Template) batchGet(ctx context.Context, table string, keys []mapping.Key) (map[string]map[string]types.AttributeValue, error) {
	var mu sync.Mutex
	found := make(map[string]map[string]types.AttributeValue, len(keys))
	now := t.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.config.ReadConcurrency)
	for chunk := range slices.Chunk(keys, batchGetLimit) {
		g.Go(func() error {
			items, err := t.batchChunk(gctx, table, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, item := range items {
				if t.live(item, now) {
					found[attrRef(item[t.config.KeyAttribute])] = item
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// batchChunk issues one BatchGetItem and resubmits unprocessed keys with
// backoff, up to Config.BatchMaxRounds requests.
func (t *Template) batchChunk(ctx context.Context, table string, keys []mapping.Key) ([]map[string]types.AttributeValue, error) {
	request := types.KeysAndAttributes{
		Keys:           make([]map[string]types.AttributeValue, len(keys)),
		ConsistentRead: aws.Bool(t.config.ConsistentReads),
	}
	for i, key := range keys {
		request.Keys[i] = t.keyItem(key)
	}

	var items []map[string]types.AttributeValue
	for round := 1; ; round++ {
		out, err := t.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{table: request},
		})
		if err != nil {
			return nil, Translate("find_by_ids", err)
		}
		items = append(items, out.Responses[table]...)

		pending, ok := out.UnprocessedKeys[table]
		if !ok || len(pending.Keys) == 0 {
			return items, nil
		}
		if round >= t.config.BatchMaxRounds {
			return nil, &DataAccessError{
				Op:   "find_by_ids",
				Kind: ErrTransient,
				Err:  fmt.Errorf("%d keys of %s unprocessed after %d rounds", len(pending.Keys), table, round),
			}
		}

		t.logger.DebugContext(ctx, "resubmitting unprocessed keys", "table", table, "keys", len(pending.Keys), "round", round)
		if err := sleep(ctx, backoff(round)); err != nil {
			return nil, Translate("find_by_ids", err)
		}
		request = pending
	}
}

// backoff doubles from 25ms per round, capped at 1s.
func backoff(round int) time.Duration {
	d := 25 * time.Millisecond << min(round-1, 6)
	return min(d, time.Second)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attrRef is a comparable form of a key attribute value.
func attrRef(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	default:
		return fmt.Sprintf("%T", av)
	}
}
