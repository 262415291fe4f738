package store

import (
	"context"
	"iter"

	"github.com/jacentio/strata/query"
)

// Repository is a typed view of a Template for one entity type.
type Repository[T any] struct {
	t *Template
}

// NewRepository registers T with the template and returns its repository.
// It fails when T is not a valid entity.
func NewRepository[T any](t *Template) (*Repository[T], error) {
	if _, err := t.entity("repository", (*T)(nil)); err != nil {
		return nil, err
	}
	return &Repository[T]{t: t}, nil
}

// Template returns the underlying template.
func (r *Repository[T]) Template() *Template { return r.t }

func (r *Repository[T]) Save(ctx context.Context, doc *T) error {
	return r.t.Save(ctx, doc)
}

func (r *Repository[T]) SaveAll(ctx context.Context, docs []*T) error {
	return r.t.SaveAll(ctx, anys(docs)...)
}

func (r *Repository[T]) Insert(ctx context.Context, doc *T) error {
	return r.t.Insert(ctx, doc)
}

func (r *Repository[T]) InsertAll(ctx context.Context, docs []*T) error {
	return r.t.InsertAll(ctx, anys(docs)...)
}

func (r *Repository[T]) Update(ctx context.Context, doc *T) error {
	return r.t.Update(ctx, doc)
}

// FindByID returns the document with id, nil when absent.
func (r *Repository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	return FindByID[T](ctx, r.t, id)
}

// FindAllByID returns the documents with ids that exist, in id order.
func (r *Repository[T]) FindAllByID(ctx context.Context, ids ...any) ([]*T, error) {
	return FindByIDs[T](ctx, r.t, ids)
}

func (r *Repository[T]) FindAll(ctx context.Context) iter.Seq2[*T, error] {
	return FindAll[T](ctx, r.t)
}

func (r *Repository[T]) Find(ctx context.Context, q *query.Query) iter.Seq2[*T, error] {
	return Find[T](ctx, r.t, q)
}

func (r *Repository[T]) FindInRange(ctx context.Context, offset, limit int64, sort query.Sort) iter.Seq2[*T, error] {
	return FindInRange[T](ctx, r.t, offset, limit, sort)
}

func (r *Repository[T]) Count(ctx context.Context, criteria *query.Qualifier) (int64, error) {
	return Count[T](ctx, r.t, criteria)
}

func (r *Repository[T]) ExistsByID(ctx context.Context, id any) (bool, error) {
	return Exists[T](ctx, r.t, id)
}

func (r *Repository[T]) DeleteByID(ctx context.Context, id any) (bool, error) {
	return DeleteByID[T](ctx, r.t, id)
}

func (r *Repository[T]) Delete(ctx context.Context, doc *T) (bool, error) {
	return r.t.DeleteDoc(ctx, doc)
}

// DeleteAllByID deletes each id in turn and returns how many live records were removed.
func (r *Repository[T]) DeleteAllByID(ctx context.Context, ids ...any) (int, error) {
	n := 0
	for _, id := range ids {
		ok, err := r.DeleteByID(ctx, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (r *Repository[T]) Add(ctx context.Context, doc *T, deltas map[string]int64) error {
	return r.t.Add(ctx, doc, deltas)
}

func (r *Repository[T]) Append(ctx context.Context, doc *T, values map[string]string) error {
	return r.t.Append(ctx, doc, values)
}

func (r *Repository[T]) Prepend(ctx context.Context, doc *T, values map[string]string) error {
	return r.t.Prepend(ctx, doc, values)
}

func anys[T any](docs []*T) []any {
	out := make([]any, len(docs))
	for i, doc := range docs {
		out[i] = doc
	}
	return out
}
