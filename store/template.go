package store

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/strata/mapping"
)

const tracerName = "github.com/jacentio/strata/store"

// Template maps documents onto DynamoDB records and runs single-record
// operations, batch reads and scans against them.
type Template struct {
	client   Client
	config   Config
	registry *mapping.Registry
	decoder  *Decoder
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Template.
type Option func(*Template)

// WithLogger sets the logger. Nil uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Template) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRegistry shares an entity registry between templates.
func WithRegistry(registry *mapping.Registry) Option {
	return func(t *Template) {
		if registry != nil {
			t.registry = registry
		}
	}
}

// WithTracer sets the tracer spans are started on.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Template) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// withClock overrides the time source.
func withClock(now func() time.Time) Option {
	return func(t *Template) { t.now = now }
}

// New creates a new Template.
func New(client Client, config Config, opts ...Option) *Template {
	config.validate()
	t := &Template{
		client:   client,
		config:   config,
		registry: mapping.NewRegistry(),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.decoder = &Decoder{config: t.config, registry: t.registry, now: t.now}
	return t
}

// Config returns the validated configuration.
func (t *Template) Config() Config { return t.config }

// Registry returns the entity registry.
func (t *Template) Registry() *mapping.Registry { return t.registry }

// Decoder returns a decoder sharing the template's layout and registry.
func (t *Template) Decoder() *Decoder { return t.decoder }

// Save writes doc. Versioned documents are created when their version is zero
// and otherwise replaced only at the stored generation; on success the new
// generation is written back into the version field. Unversioned documents
// are upserted. Attributes the entity does not map are left in place.
func (t *Template) Save(ctx context.Context, doc any) (err error) {
	e, data, err := t.writeData("save", doc)
	if err != nil {
		return err
	}
	ctx, span := t.start(ctx, "save", data.Key)
	defer func() { end(span, err) }()

	if e.HasVersion() {
		gen, err := t.put(ctx, "save", e, data, expectGenerationCasAwareSavePolicy(data), true)
		if err != nil {
			return err
		}
		return e.SetVersion(doc, gen)
	}
	_, err = t.put(ctx, "save", e, data, ignoreGenerationSavePolicy(data, Replace), false)
	return err
}

// SaveAll saves docs concurrently and returns the first error.
func (t *Template) SaveAll(ctx context.Context, docs ...any) error {
	return t.each(ctx, docs, t.Save)
}

// Insert creates doc, failing with ErrDuplicateKey when a live record exists.
// Versioned documents receive the new generation.
func (t *Template) Insert(ctx context.Context, doc any) (err error) {
	e, data, err := t.writeData("insert", doc)
	if err != nil {
		return err
	}
	ctx, span := t.start(ctx, "insert", data.Key)
	defer func() { end(span, err) }()

	gen, err := t.put(ctx, "insert", e, data, ignoreGenerationSavePolicy(data, CreateOnly), false)
	if err != nil {
		return err
	}
	return e.SetVersion(doc, gen)
}

// InsertAll inserts docs concurrently and returns the first error.
func (t *Template) InsertAll(ctx context.Context, docs ...any) error {
	return t.each(ctx, docs, t.Insert)
}

// Update replaces an existing record, failing with ErrNotFound when there is
// none. Versioned documents must match the stored generation.
func (t *Template) Update(ctx context.Context, doc any) (err error) {
	e, data, err := t.writeData("update", doc)
	if err != nil {
		return err
	}
	ctx, span := t.start(ctx, "update", data.Key)
	defer func() { end(span, err) }()

	policy := ignoreGenerationSavePolicy(data, ReplaceOnly)
	if e.HasVersion() {
		policy = expectGenerationSavePolicy(data, ReplaceOnly)
	}
	gen, err := t.put(ctx, "update", e, data, policy, e.HasVersion())
	if err != nil {
		return err
	}
	return e.SetVersion(doc, gen)
}

// DeleteDoc removes the record of doc regardless of its generation.
// It reports whether a live record was removed.
func (t *Template) DeleteDoc(ctx context.Context, doc any) (bool, error) {
	e, err := t.entity("delete", doc)
	if err != nil {
		return false, err
	}
	key, err := e.Key(t.config.Namespace, doc)
	if err != nil {
		return false, Translate("delete", err)
	}
	return t.delete(ctx, key)
}

// Delete removes the record of the entity type of typ with the given id.
// typ is a document or a nil pointer of the entity type.
func (t *Template) Delete(ctx context.Context, typ any, id any) (bool, error) {
	e, err := t.entity("delete", typ)
	if err != nil {
		return false, err
	}
	key, err := mapping.NewKey(t.config.Namespace, e.Set(), id)
	if err != nil {
		return false, Translate("delete", err)
	}
	return t.delete(ctx, key)
}

// Execute runs fn and translates any vendor error it returns.
func (t *Template) Execute(ctx context.Context, fn func(ctx context.Context, client Client) error) error {
	return Translate("execute", fn(ctx, t.client))
}

// delete removes a record and reports whether it was live.
func (t *Template) delete(ctx context.Context, key mapping.Key) (ok bool, err error) {
	ctx, span := t.start(ctx, "delete", key)
	defer func() { end(span, err) }()

	t.logger.DebugContext(ctx, "delete", "key", key.String(), "policy", ignoreGenerationDeletePolicy().String())
	out, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(key.Table()),
		Key:          t.keyItem(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, Translate("delete", err)
	}
	return t.live(out.Attributes, t.now()), nil
}

// put issues the conditional write for data and returns the new generation.
func (t *Template) put(ctx context.Context, op string, e *mapping.Entity, data *mapping.WriteData, p WritePolicy, cas bool) (int64, error) {
	if name, ok := collision(t.decoder, data.Bins); ok {
		return 0, invalidUsage(op, "%s: bin %q collides with a managed attribute", e.Set(), name)
	}

	now := t.now().Unix()
	w := t.config.newWriteExpr(now)
	w.setBins(data.Bins, binNames(e))
	w.policy(p, t.config.DefaultExpiration, now)

	in := w.input(data.Key.Table(), t.keyItem(data.Key))
	in.ReturnValues = types.ReturnValueUpdatedNew

	t.logger.DebugContext(ctx, "write", "op", op, "key", data.Key.String(), "policy", p.String())
	out, err := t.client.UpdateItem(ctx, in)
	if err != nil {
		return 0, t.translateWrite(op, p, cas, err)
	}
	return numberAttr(out.Attributes, t.config.GenerationAttribute), nil
}

// writeData resolves the entity of doc and extracts its write data.
func (t *Template) writeData(op string, doc any) (*mapping.Entity, *mapping.WriteData, error) {
	e, err := t.entity(op, doc)
	if err != nil {
		return nil, nil, err
	}
	data, err := e.WriteData(t.config.Namespace, doc)
	if err != nil {
		return nil, nil, Translate(op, err)
	}
	return e, data, nil
}

// entity returns the layout of v's type, registering it on first use.
func (t *Template) entity(op string, v any) (*mapping.Entity, error) {
	var typ reflect.Type
	switch x := v.(type) {
	case reflect.Type:
		typ = x
	case nil:
		return nil, invalidUsage(op, "nil document")
	default:
		typ = reflect.TypeOf(v)
	}
	e, err := t.registry.Lookup(typ)
	if err != nil {
		return nil, Translate(op, err)
	}
	return e, nil
}

// each runs fn over docs with bounded concurrency.
func (t *Template) each(ctx context.Context, docs []any, fn func(context.Context, any) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.config.WriteConcurrency)
	for _, doc := range docs {
		g.Go(func() error { return fn(ctx, doc) })
	}
	return g.Wait()
}

// keyItem returns the primary key of a record.
func (t *Template) keyItem(key mapping.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{t.config.KeyAttribute: key.AttributeValue()}
}

func binNames(e *mapping.Entity) []string {
	props := e.Bins()
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Bin
	}
	return names
}

// start opens a client span for an operation on key.
func (t *Template) start(ctx context.Context, op string, key mapping.Key) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		semconv.DBSystemDynamoDB,
		semconv.DBOperationName(op),
		semconv.DBCollectionName(key.Table()),
	}
	if key.ID != nil {
		attrs = append(attrs, attribute.String("strata.key", key.String()))
	}
	return t.tracer.Start(ctx, "strata."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
