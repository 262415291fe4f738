package store

import (
	"context"
	"iter"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/mapping"
	"github.com/jacentio/strata/query"
)

// scanRequest is a scan of one set.
type scanRequest struct {
	op      string
	set     string
	q       *query.Query
	resolve query.Resolver

	// unsortedOffset allows an offset without a sort (FindInRange).
	unsortedOffset bool
}

// Find streams the documents of typ's entity type matching q.
// Sorting, offset and rows are applied client side; a sort buffers every
// match before the first document is yielded. A nil query matches all.
func (t *Template) Find(ctx context.Context, typ any, q *query.Query) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		e, err := t.entity("find", typ)
		if err != nil {
			yield(nil, err)
			return
		}
		req := scanRequest{op: "find", set: e.Set(), q: q, resolve: t.resolver(e)}
		for item, err := range t.scan(ctx, req) {
			if err != nil {
				yield(nil, err)
				return
			}
			doc := e.New()
			if err := t.decoder.read(e, item, doc); err != nil {
				yield(nil, Translate("find", err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// FindAll streams every document of typ's entity type.
func (t *Template) FindAll(ctx context.Context, typ any) iter.Seq2[any, error] {
	return t.Find(ctx, typ, nil)
}

// FindInRange skips offset documents and yields at most limit (zero for no
// limit), in the given sort order. Unlike Find, the sort is optional.
func (t *Template) FindInRange(ctx context.Context, typ any, offset, limit int64, sort query.Sort) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		e, err := t.entity("find_in_range", typ)
		if err != nil {
			yield(nil, err)
			return
		}
		q := &query.Query{Sort: sort, Offset: offset, Rows: limit}
		req := scanRequest{op: "find_in_range", set: e.Set(), q: q, resolve: t.resolver(e), unsortedOffset: true}
		for item, err := range t.scan(ctx, req) {
			if err != nil {
				yield(nil, err)
				return
			}
			doc := e.New()
			if err := t.decoder.read(e, item, doc); err != nil {
				yield(nil, Translate("find_in_range", err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Count returns the number of live records of typ's entity type matching
// criteria. Paging does not apply.
func (t *Template) Count(ctx context.Context, typ any, criteria *query.Qualifier) (int64, error) {
	e, err := t.entity("count", typ)
	if err != nil {
		return 0, err
	}
	return t.count(ctx, "count", e.Set(), criteria, t.resolver(e))
}

// scan runs a filtered scan and yields live raw items after residual
// filtering, sort, offset and rows.
func (t *Template) scan(ctx context.Context, req scanRequest) iter.Seq2[map[string]types.AttributeValue, error] {
	return func(yield func(map[string]types.AttributeValue, error) bool) {
		var err error
		ctx, span := t.start(ctx, req.op, mapping.Key{Namespace: t.config.Namespace, Set: req.set})
		defer func() { end(span, err) }()

		fail := func(e error) {
			err = Translate(req.op, e)
			yield(nil, err)
		}

		q := req.q
		if q == nil {
			q = &query.Query{}
		}
		if err := validate(q, req.unsortedOffset); err != nil {
			fail(err)
			return
		}
		plan, err := query.Compile(q.Criteria, req.resolve)
		if err != nil {
			fail(err)
			return
		}
		in, err := t.scanInput(mapping.TableName(t.config.Namespace, req.set), plan, false)
		if err != nil {
			fail(err)
			return
		}

		t.logger.DebugContext(ctx, "scan", "op", req.op, "set", req.set, "criteria", q.Criteria.String(), "residual", plan.HasResidual())

		skip, rows := q.Offset, q.Rows
		emitted := int64(0)
		// emit applies offset and rows; false stops the scan.
		emit := func(item map[string]types.AttributeValue) bool {
			if skip > 0 {
				skip--
				return true
			}
			if !yield(item, nil) {
				return false
			}
			emitted++
			return rows == 0 || emitted < rows
		}

		matches := t.matches(ctx, in, plan)
		if !q.Sort.IsSorted() {
			for item, e := range matches {
				if e != nil {
					fail(e)
					return
				}
				if !emit(item) {
					return
				}
			}
			return
		}

		var buf []map[string]types.AttributeValue
		for item, e := range matches {
			if e != nil {
				fail(e)
				return
			}
			buf = append(buf, item)
		}
		slices.SortStableFunc(buf, q.Sort.Comparator(req.resolve))
		for _, item := range buf {
			if !emit(item) {
				return
			}
		}
	}
}

// matches pages through a scan and yields the live items passing the residual.
func (t *Template) matches(ctx context.Context, in *dynamodb.ScanInput, plan *query.Plan) iter.Seq2[map[string]types.AttributeValue, error] {
	return func(yield func(map[string]types.AttributeValue, error) bool) {
		pages := dynamodb.NewScanPaginator(t.client, in)
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			now := t.now()
			for _, item := range page.Items {
				if !t.live(item, now) {
					continue
				}
				ok, err := plan.Match(item)
				if err != nil {
					yield(nil, err)
					return
				}
				if ok && !yield(item, nil) {
					return
				}
			}
		}
	}
}

// count counts matching live records, server side when the plan has no residual.
func (t *Template) count(ctx context.Context, op, set string, criteria *query.Qualifier, resolve query.Resolver) (n int64, err error) {
	ctx, span := t.start(ctx, op, mapping.Key{Namespace: t.config.Namespace, Set: set})
	defer func() { end(span, err) }()

	plan, err := query.Compile(criteria, resolve)
	if err != nil {
		return 0, Translate(op, err)
	}
	in, err := t.scanInput(mapping.TableName(t.config.Namespace, set), plan, !plan.HasResidual())
	if err != nil {
		return 0, Translate(op, err)
	}

	if !plan.HasResidual() {
		pages := dynamodb.NewScanPaginator(t.client, in)
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				return 0, Translate(op, err)
			}
			n += int64(page.Count)
		}
		return n, nil
	}

	for _, err := range t.matches(ctx, in, plan) {
		if err != nil {
			return 0, Translate(op, err)
		}
		n++
	}
	return n, nil
}

// scanInput builds a scan of table filtered to live records matching the
// plan's server-side condition.
func (t *Template) scanInput(table string, plan *query.Plan, countOnly bool) (*dynamodb.ScanInput, error) {
	ttl := expression.Name(t.config.ExpirationAttribute)
	filter := expression.Or(
		expression.AttributeNotExists(ttl),
		ttl.GreaterThan(expression.Value(t.now().Unix())),
	)
	if plan.Condition != nil {
		filter = expression.And(*plan.Condition, filter)
	}
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, invalidUsage("scan", "build filter: %v", err)
	}

	in := &dynamodb.ScanInput{
		TableName:                 aws.String(table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(t.config.ConsistentReads),
	}
	if t.config.ScanPageSize > 0 {
		in.Limit = aws.Int32(t.config.ScanPageSize)
	}
	if countOnly {
		in.Select = types.SelectCount
	}
	return in, nil
}

// resolver maps Go field names of e to attribute names. The id field maps to
// the key attribute; unknown names pass through.
func (t *Template) resolver(e *mapping.Entity) query.Resolver {
	return func(field string) string {
		head, rest, nested := strings.Cut(field, ".")
		if !nested && head == e.IDField() {
			return t.config.KeyAttribute
		}
		if bin, ok := e.BinName(head); ok {
			if nested {
				return bin + "." + rest
			}
			return bin
		}
		return field
	}
}

// validate checks q, optionally allowing an offset without a sort.
func validate(q *query.Query, unsortedOffset bool) error {
	if !unsortedOffset || q.Sort.IsSorted() || q.Offset <= 0 {
		return q.Validate()
	}
	c := *q
	c.Offset = 0
	return c.Validate()
}
