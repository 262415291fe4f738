package query

import "fmt"

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// Order sorts on one field.
type Order struct {
	Field      string
	Direction  Direction
	IgnoreCase bool
}

// Ascending returns an ascending order on field.
func Ascending(field string) Order { return Order{Field: field} }

// Descending returns a descending order on field.
func Descending(field string) Order { return Order{Field: field, Direction: Desc} }

// Sort is a list of orders, most significant first.
type Sort []Order

// By sorts ascending on each field in turn.
func By(fields ...string) Sort {
	s := make(Sort, len(fields))
	for i, f := range fields {
		s[i] = Ascending(f)
	}
	return s
}

// IsSorted reports whether s orders anything.
func (s Sort) IsSorted() bool { return len(s) > 0 }

// Query is a criteria plus client-side sort and paging.
type Query struct {
	// Criteria filters records. Nil matches every record.
	Criteria *Qualifier

	Sort Sort

	// Offset skips the first matches. Requires a sort.
	Offset int64

	// Rows caps the number of results. Zero means unlimited.
	Rows int64
}

// New returns a query over criteria.
func New(criteria *Qualifier) *Query {
	return &Query{Criteria: criteria}
}

// With sets the sort order.
func (q *Query) With(s Sort) *Query {
	q.Sort = s
	return q
}

// Skip sets the offset.
func (q *Query) Skip(n int64) *Query {
	q.Offset = n
	return q
}

// Limit sets the maximum number of rows.
func (q *Query) Limit(n int64) *Query {
	q.Rows = n
	return q
}

func (q *Query) HasOffset() bool { return q != nil && q.Offset > 0 }

func (q *Query) HasRows() bool { return q != nil && q.Rows > 0 }

// Validate rejects negative paging and offsets on unsorted queries: scan
// order is unspecified, so pages of an unsorted scan are not stable.
func (q *Query) Validate() error {
	if q == nil {
		return nil
	}
	if q.Offset < 0 || q.Rows < 0 {
		return fmt.Errorf("%w: negative offset or rows", ErrInvalidQuery)
	}
	if q.HasOffset() && !q.Sort.IsSorted() {
		return fmt.Errorf("%w: unsorted query must not have an offset, use a sorted query for paging", ErrInvalidQuery)
	}
	for _, o := range q.Sort {
		if o.Field == "" {
			return fmt.Errorf("%w: sort order without field", ErrInvalidQuery)
		}
	}
	return q.Criteria.Validate()
}
