package store

import (
	"context"
	"iter"

	"github.com/jacentio/strata/query"
)

// FindByID reads the document of type T with id, nil when absent.
func FindByID[T any](ctx context.Context, t *Template, id any) (*T, error) {
	doc := new(T)
	found, err := t.FindByID(ctx, id, doc)
	if err != nil || !found {
		return nil, err
	}
	return doc, nil
}

// FindByIDs reads the documents of type T with ids, in id order, dropping
// missing ones.
func FindByIDs[T any](ctx context.Context, t *Template, ids []any) ([]*T, error) {
	docs, err := t.FindByIDs(ctx, (*T)(nil), ids)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(docs))
	for i, doc := range docs {
		out[i] = doc.(*T)
	}
	return out, nil
}

// Find streams the documents of type T matching q.
func Find[T any](ctx context.Context, t *Template, q *query.Query) iter.Seq2[*T, error] {
	return typed[T](t.Find(ctx, (*T)(nil), q))
}

// FindAll streams every document of type T.
func FindAll[T any](ctx context.Context, t *Template) iter.Seq2[*T, error] {
	return typed[T](t.FindAll(ctx, (*T)(nil)))
}

// FindInRange streams up to limit documents of type T after skipping offset.
func FindInRange[T any](ctx context.Context, t *Template, offset, limit int64, sort query.Sort) iter.Seq2[*T, error] {
	return typed[T](t.FindInRange(ctx, (*T)(nil), offset, limit, sort))
}

// Count counts the documents of type T matching criteria.
func Count[T any](ctx context.Context, t *Template, criteria *query.Qualifier) (int64, error) {
	return t.Count(ctx, (*T)(nil), criteria)
}

// Exists reports whether a document of type T with id exists.
func Exists[T any](ctx context.Context, t *Template, id any) (bool, error) {
	return t.Exists(ctx, (*T)(nil), id)
}

// DeleteByID deletes the document of type T with id.
func DeleteByID[T any](ctx context.Context, t *Template, id any) (bool, error) {
	return t.Delete(ctx, (*T)(nil), id)
}

// Execute runs fn with the template's client and translates vendor errors.
func Execute[R any](ctx context.Context, t *Template, fn func(ctx context.Context, client Client) (R, error)) (R, error) {
	var out R
	err := t.Execute(ctx, func(ctx context.Context, client Client) error {
		var err error
		out, err = fn(ctx, client)
		return err
	})
	return out, err
}

// Collect drains a document stream, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func typed[T any](seq iter.Seq2[any, error]) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		for doc, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(doc.(*T), nil) {
				return
			}
		}
	}
}
