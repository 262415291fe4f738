package store

import (
	"context"
	"errors"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/mapping"
)

// Add atomically increments numeric bins of doc's record by the given deltas,
// creating the record when missing, and refreshes doc from the result.
// Bins are named by Go field or bin name. The document expiration applies.
func (t *Template) Add(ctx context.Context, doc any, deltas map[string]int64) (err error) {
	e, data, err := t.writeData("add", doc)
	if err != nil {
		return err
	}
	bins, err := resolveBins("add", e, deltas)
	if err != nil {
		return err
	}
	ctx, span := t.start(ctx, "add", data.Key)
	defer func() { end(span, err) }()

	item, err := t.add(ctx, "add", data.Key, bins, data.Expiration)
	if err != nil {
		return err
	}
	return t.refresh("add", e, item, doc)
}

// AddBin increments a single bin.
func (t *Template) AddBin(ctx context.Context, doc any, bin string, delta int64) error {
	return t.Add(ctx, doc, map[string]int64{bin: delta})
}

// Append concatenates values onto the end of string bins of doc's record and
// refreshes doc from the result. The record's expiry is left unchanged.
// A concurrent write to the record fails with ErrOptimisticLockingFailure.
func (t *Template) Append(ctx context.Context, doc any, values map[string]string) error {
	return t.concatDoc(ctx, "append", doc, values, false)
}

// AppendBin appends to a single bin.
func (t *Template) AppendBin(ctx context.Context, doc any, bin, value string) error {
	return t.Append(ctx, doc, map[string]string{bin: value})
}

// Prepend concatenates values onto the start of string bins of doc's record.
// It behaves like Append otherwise.
func (t *Template) Prepend(ctx context.Context, doc any, values map[string]string) error {
	return t.concatDoc(ctx, "prepend", doc, values, true)
}

// PrependBin prepends to a single bin.
func (t *Template) PrependBin(ctx context.Context, doc any, bin, value string) error {
	return t.Prepend(ctx, doc, map[string]string{bin: value})
}

func (t *Template) concatDoc(ctx context.Context, op string, doc any, values map[string]string, prepend bool) (err error) {
	e, data, err := t.writeData(op, doc)
	if err != nil {
		return err
	}
	bins, err := resolveBins(op, e, values)
	if err != nil {
		return err
	}
	ctx, span := t.start(ctx, op, data.Key)
	defer func() { end(span, err) }()

	item, err := t.concat(ctx, op, data.Key, bins, prepend, data.Expiration)
	if err != nil {
		return err
	}
	return t.refresh(op, e, item, doc)
}

// add issues an ADD update. An expired record is purged and the update
// reissued once, so counters restart instead of resuming.
func (t *Template) add(ctx context.Context, op string, key mapping.Key, deltas map[string]int64, expiration int32) (map[string]types.AttributeValue, error) {
	if name, ok := collision(t.decoder, deltas); ok {
		return nil, invalidUsage(op, "%s: bin %q collides with a managed attribute", key.Set, name)
	}

	for attempt := 0; ; attempt++ {
		now := t.now().Unix()
		w := t.config.newWriteExpr(now)
		for _, name := range sortedKeys(deltas) {
			n, v := w.bin(name, number(deltas[name]))
			w.add = append(w.add, n+" "+v)
		}
		p := WritePolicy{ExistsAction: Replace, Expiration: expiration}
		w.policy(p, t.config.DefaultExpiration, now)
		w.cond = append(w.cond, liveCondition)

		in := w.input(key.Table(), t.keyItem(key))
		in.ReturnValues = types.ReturnValueAllNew

		out, err := t.client.UpdateItem(ctx, in)
		if err == nil {
			return out.Attributes, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) || attempt > 0 {
			return nil, t.translateWrite(op, p, false, err)
		}
		if err := t.purge(ctx, op, key); err != nil {
			return nil, err
		}
	}
}

// concat emulates string append and prepend: read the record, then write the
// concatenated values conditioned on the generation that was read. A missing
// record is created with the given expiration; an existing record keeps its expiry.
func (t *Template) concat(ctx context.Context, op string, key mapping.Key, values map[string]string, prepend bool, expiration int32) (map[string]types.AttributeValue, error) {
	if name, ok := collision(t.decoder, values); ok {
		return nil, invalidUsage(op, "%s: bin %q collides with a managed attribute", key.Set, name)
	}

	old, err := t.getConsistent(ctx, op, key)
	if err != nil {
		return nil, err
	}
	now := t.now()
	if old != nil && !t.live(old, now) {
		if err := t.purge(ctx, op, key); err != nil {
			return nil, err
		}
		old = nil
	}

	w := t.config.newWriteExpr(now.Unix())
	for _, name := range sortedKeys(values) {
		cur := ""
		switch v := old[name].(type) {
		case nil:
		case *types.AttributeValueMemberS:
			cur = v.Value
		default:
			return nil, invalidUsage(op, "%s: bin %q is not a string", key, name)
		}
		next := cur + values[name]
		if prepend {
			next = values[name] + cur
		}
		n, v := w.bin(name, &types.AttributeValueMemberS{Value: next})
		w.set = append(w.set, n+" = "+v)
	}

	var p WritePolicy
	switch gen := numberAttr(old, t.config.GenerationAttribute); {
	case old == nil:
		p = WritePolicy{ExistsAction: CreateOnly, Expiration: expiration}
	case gen > 0:
		p = WritePolicy{GenerationPolicy: GenerationExpectEqual, Generation: gen, ExistsAction: ReplaceOnly, Expiration: ExpirationUnchanged}
	default:
		p = WritePolicy{ExistsAction: ReplaceOnly, Expiration: ExpirationUnchanged}
		w.cond = append(w.cond, "attribute_not_exists(#gen)")
	}
	w.policy(p, t.config.DefaultExpiration, now.Unix())

	in := w.input(key.Table(), t.keyItem(key))
	in.ReturnValues = types.ReturnValueAllNew

	t.logger.DebugContext(ctx, "concat", "op", op, "key", key.String(), "policy", p.String())
	out, err := t.client.UpdateItem(ctx, in)
	if err != nil {
		return nil, t.translateWrite(op, p, true, err)
	}
	return out.Attributes, nil
}

// purge deletes a record only while it is expired.
func (t *Template) purge(ctx context.Context, op string, key mapping.Key) error {
	t.logger.DebugContext(ctx, "purging expired record", "op", op, "key", key.String())
	_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(key.Table()),
		Key:                      t.keyItem(key),
		ConditionExpression:      aws.String("#ttl <= :now"),
		ExpressionAttributeNames: map[string]string{ttlName: t.config.ExpirationAttribute},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": number(t.now().Unix()),
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		// Rewritten since it was read.
		return nil
	}
	return Translate(op, err)
}

// refresh reads the written item back into doc.
func (t *Template) refresh(op string, e *mapping.Entity, item map[string]types.AttributeValue, doc any) error {
	if err := t.decoder.read(e, item, doc); err != nil {
		return Translate(op, err)
	}
	return nil
}

// resolveBins maps Go field or bin names to bin names.
func resolveBins[V any](op string, e *mapping.Entity, in map[string]V) (map[string]V, error) {
	if len(in) == 0 {
		return nil, invalidUsage(op, "%s: no bins given", e.Set())
	}
	out := make(map[string]V, len(in))
	for name, v := range in {
		bin, ok := e.BinName(name)
		if !ok {
			return nil, invalidUsage(op, "%s has no bin %q", e.Set(), name)
		}
		out[bin] = v
	}
	return out, nil
}

// collision returns the first name in m that is a managed attribute.
func collision[V any](d *Decoder, m map[string]V) (string, bool) {
	for _, name := range sortedKeys(m) {
		if d.managed(name) {
			return name, true
		}
	}
	return "", false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
