package store

import (
	"context"
	"iter"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/mapping"
	"github.com/jacentio/strata/query"
)

// The Record methods address records by set and id without an entity type.
// Bins are raw attribute values; field names in queries are attribute names.

// GetRecord reads a live record, nil when absent or expired.
func (t *Template) GetRecord(ctx context.Context, set string, id any) (rec *mapping.Record, err error) {
	key, err := mapping.NewKey(t.config.Namespace, set, id)
	if err != nil {
		return nil, Translate("get", err)
	}
	ctx, span := t.start(ctx, "get", key)
	defer func() { end(span, err) }()

	item, err := t.get(ctx, "get", key)
	if err != nil || item == nil {
		return nil, err
	}
	return t.record("get", set, item)
}

// PutRecord writes bins under policy and returns the new generation.
// A GenerationExpectEqual policy reports conflicts as ErrOptimisticLockingFailure.
func (t *Template) PutRecord(ctx context.Context, set string, id any, bins map[string]types.AttributeValue, policy WritePolicy) (gen int64, err error) {
	key, err := mapping.NewKey(t.config.Namespace, set, id)
	if err != nil {
		return 0, Translate("put", err)
	}
	if name, ok := collision(t.decoder, bins); ok {
		return 0, invalidUsage("put", "%s: bin %q collides with a managed attribute", set, name)
	}
	ctx, span := t.start(ctx, "put", key)
	defer func() { end(span, err) }()

	now := t.now().Unix()
	w := t.config.newWriteExpr(now)
	w.setBins(bins, nil)
	w.policy(policy, t.config.DefaultExpiration, now)

	in := w.input(key.Table(), t.keyItem(key))
	in.ReturnValues = types.ReturnValueUpdatedNew

	out, err := t.client.UpdateItem(ctx, in)
	if err != nil {
		return 0, t.translateWrite("put", policy, policy.GenerationPolicy == GenerationExpectEqual, err)
	}
	return numberAttr(out.Attributes, t.config.GenerationAttribute), nil
}

// DeleteRecord removes a record and reports whether it was live.
func (t *Template) DeleteRecord(ctx context.Context, set string, id any) (bool, error) {
	key, err := mapping.NewKey(t.config.Namespace, set, id)
	if err != nil {
		return false, Translate("delete", err)
	}
	return t.delete(ctx, key)
}

// ExistsRecord reports whether a live record exists.
func (t *Template) ExistsRecord(ctx context.Context, set string, id any) (ok bool, err error) {
	key, err := mapping.NewKey(t.config.Namespace, set, id)
	if err != nil {
		return false, Translate("exists", err)
	}
	ctx, span := t.start(ctx, "exists", key)
	defer func() { end(span, err) }()
	return t.exists(ctx, key)
}

// TouchRecord resets a live record's expiry to expiration seconds from now and
// bumps its generation. It returns nil when the record is absent or expired.
func (t *Template) TouchRecord(ctx context.Context, set string, id any, expiration int32) (rec *mapping.Record, err error) {
	key, err := mapping.NewKey(t.config.Namespace, set, id)
	if err != nil {
		return nil, Translate("touch", err)
	}
	ctx, span := t.start(ctx, "touch", key)
	defer func() { end(span, err) }()

	item, err := t.touch(ctx, "touch", key, expiration)
	if err != nil || item == nil {
		return nil, err
	}
	return t.record("touch", set, item)
}

// AddRecord increments numeric bins, creating the record when missing.
func (t *Template) AddRecord(ctx context.Context, set string, id any, deltas map[string]int64, expiration int32) (rec *mapping.Record, err error) {
	key, err := mapping.NewKey(t.config.Namespace, set, id)
	if err != nil {
		return nil, Translate("add", err)
	}
	if len(deltas) == 0 {
		return nil, invalidUsage("add", "%s: no bins given", set)
	}
	ctx, span := t.start(ctx, "add", key)
	defer func() { end(span, err) }()

	item, err := t.add(ctx, "add", key, deltas, expiration)
	if err != nil {
		return nil, err
	}
	return t.record("add", set, item)
}

// AppendRecord appends to string bins, creating the record when missing.
func (t *Template) AppendRecord(ctx context.Context, set string, id any, values map[string]string) (*mapping.Record, error) {
	return t.concatRecord(ctx, "append", set, id, values, false)
}

// PrependRecord prepends to string bins, creating the record when missing.
func (t *Template) PrependRecord(ctx context.Context, set string, id any, values map[string]string) (*mapping.Record, error) {
	return t.concatRecord(ctx, "prepend", set, id, values, true)
}

func (t *Template) concatRecord(ctx context.Context, op, set string, id any, values map[string]string, prepend bool) (rec *mapping.Record, err error) {
	key, err := mapping.NewKey(t.config.Namespace, set, id)
	if err != nil {
		return nil, Translate(op, err)
	}
	if len(values) == 0 {
		return nil, invalidUsage(op, "%s: no bins given", set)
	}
	ctx, span := t.start(ctx, op, key)
	defer func() { end(span, err) }()

	item, err := t.concat(ctx, op, key, values, prepend, ExpirationDefault)
	if err != nil {
		return nil, err
	}
	return t.record(op, set, item)
}

// ScanRecords streams the live records of set matching q.
func (t *Template) ScanRecords(ctx context.Context, set string, q *query.Query) iter.Seq2[*mapping.Record, error] {
	return func(yield func(*mapping.Record, error) bool) {
		req := scanRequest{op: "scan", set: set, q: q, resolve: t.rawResolver}
		for item, err := range t.scan(ctx, req) {
			if err != nil {
				yield(nil, err)
				return
			}
			rec, err := t.record("scan", set, item)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// CountRecords counts the live records of set matching criteria.
func (t *Template) CountRecords(ctx context.Context, set string, criteria *query.Qualifier) (int64, error) {
	return t.count(ctx, "count", set, criteria, t.rawResolver)
}

// rawResolver lets raw queries name the id with the reserved field "id".
func (t *Template) rawResolver(field string) string {
	if field == "id" {
		return t.config.KeyAttribute
	}
	return field
}

func (t *Template) record(op, set string, item map[string]types.AttributeValue) (*mapping.Record, error) {
	rec, err := t.decoder.Record(set, item)
	if err != nil {
		return nil, Translate(op, err)
	}
	return rec, nil
}
