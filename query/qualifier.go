// Package query builds record predicates (qualifiers), sort orders and paging
// for scans, and compiles qualifiers into DynamoDB filter expressions.
//
// Predicates DynamoDB cannot evaluate (suffix matches, case-insensitive string
// matches, map key/value membership, raw CEL) are evaluated client side with
// CEL against each returned record.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is returned for malformed qualifiers and queries.
var ErrInvalidQuery = errors.New("strata: invalid query")

// Op is a qualifier operation.
type Op int

const (
	OpEqual Op = iota + 1
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpBetween
	OpStartsWith
	OpEndsWith
	OpContaining
	OpIn
	OpListContains
	OpMapKeysContains
	OpMapValuesContains
	OpExists
	OpNotExists
	OpAnd
	OpOr
	OpNot
	OpExpr
)

var opNames = map[Op]string{
	OpEqual:             "EQ",
	OpNotEqual:          "NOTEQ",
	OpGreater:           "GT",
	OpGreaterEqual:      "GTEQ",
	OpLess:              "LT",
	OpLessEqual:         "LTEQ",
	OpBetween:           "BETWEEN",
	OpStartsWith:        "STARTS_WITH",
	OpEndsWith:          "ENDS_WITH",
	OpContaining:        "CONTAINING",
	OpIn:                "IN",
	OpListContains:      "LIST_CONTAINS",
	OpMapKeysContains:   "MAP_KEYS_CONTAINS",
	OpMapValuesContains: "MAP_VALUES_CONTAINS",
	OpExists:            "EXISTS",
	OpNotExists:         "NOT_EXISTS",
	OpAnd:               "AND",
	OpOr:                "OR",
	OpNot:               "NOT",
	OpExpr:              "EXPR",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Qualifier is a predicate over a record's bins.
type Qualifier struct {
	// Field is the bin (or mapped Go field) the predicate reads.
	Field string

	Op Op

	// Value is the operand. For OpIn it is a []any, for OpExpr the CEL source.
	Value any

	// Value2 is the upper bound of OpBetween.
	Value2 any

	// IgnoreCase makes string comparisons case-insensitive.
	IgnoreCase bool

	// Qualifiers holds the operands of OpAnd, OpOr and OpNot.
	Qualifiers []*Qualifier
}

func Eq(field string, v any) *Qualifier { return &Qualifier{Field: field, Op: OpEqual, Value: v} }
func Ne(field string, v any) *Qualifier { return &Qualifier{Field: field, Op: OpNotEqual, Value: v} }
func Gt(field string, v any) *Qualifier { return &Qualifier{Field: field, Op: OpGreater, Value: v} }
func Ge(field string, v any) *Qualifier { return &Qualifier{Field: field, Op: OpGreaterEqual, Value: v} }
func Lt(field string, v any) *Qualifier { return &Qualifier{Field: field, Op: OpLess, Value: v} }
func Le(field string, v any) *Qualifier { return &Qualifier{Field: field, Op: OpLessEqual, Value: v} }

// Between matches lo <= field <= hi.
func Between(field string, lo, hi any) *Qualifier {
	return &Qualifier{Field: field, Op: OpBetween, Value: lo, Value2: hi}
}

func StartsWith(field, prefix string) *Qualifier {
	return &Qualifier{Field: field, Op: OpStartsWith, Value: prefix}
}

func EndsWith(field, suffix string) *Qualifier {
	return &Qualifier{Field: field, Op: OpEndsWith, Value: suffix}
}

// Containing matches string bins holding substr.
func Containing(field, substr string) *Qualifier {
	return &Qualifier{Field: field, Op: OpContaining, Value: substr}
}

// In matches bins equal to any of values.
func In(field string, values ...any) *Qualifier {
	return &Qualifier{Field: field, Op: OpIn, Value: values}
}

func ListContains(field string, v any) *Qualifier {
	return &Qualifier{Field: field, Op: OpListContains, Value: v}
}

func MapKeysContains(field string, key string) *Qualifier {
	return &Qualifier{Field: field, Op: OpMapKeysContains, Value: key}
}

func MapValuesContains(field string, v any) *Qualifier {
	return &Qualifier{Field: field, Op: OpMapValuesContains, Value: v}
}

func Exists(field string) *Qualifier    { return &Qualifier{Field: field, Op: OpExists} }
func NotExists(field string) *Qualifier { return &Qualifier{Field: field, Op: OpNotExists} }

func And(qs ...*Qualifier) *Qualifier { return &Qualifier{Op: OpAnd, Qualifiers: qs} }
func Or(qs ...*Qualifier) *Qualifier  { return &Qualifier{Op: OpOr, Qualifiers: qs} }
func Not(q *Qualifier) *Qualifier     { return &Qualifier{Op: OpNot, Qualifiers: []*Qualifier{q}} }

// Expr is a raw CEL predicate evaluated client side. The record's bins are
// bound to the variable bins, e.g. `bins.age >= 21 && bins.name.endsWith("son")`.
func Expr(source string) *Qualifier {
	return &Qualifier{Op: OpExpr, Value: source}
}

// CaseInsensitive returns a copy of q comparing strings without case.
func (q *Qualifier) CaseInsensitive() *Qualifier {
	c := *q
	c.IgnoreCase = true
	return &c
}

// Validate checks the qualifier tree for missing fields and operands.
func (q *Qualifier) Validate() error {
	if q == nil {
		return nil
	}
	switch q.Op {
	case OpAnd, OpOr:
		if len(q.Qualifiers) == 0 {
			return fmt.Errorf("%w: %s without operands", ErrInvalidQuery, q.Op)
		}
		for _, c := range q.Qualifiers {
			if c == nil {
				return fmt.Errorf("%w: nil operand in %s", ErrInvalidQuery, q.Op)
			}
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpNot:
		if len(q.Qualifiers) != 1 || q.Qualifiers[0] == nil {
			return fmt.Errorf("%w: NOT takes exactly one operand", ErrInvalidQuery)
		}
		return q.Qualifiers[0].Validate()
	case OpExpr:
		if s, ok := q.Value.(string); !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: EXPR needs CEL source", ErrInvalidQuery)
		}
		return nil
	}

	if _, ok := opNames[q.Op]; !ok {
		return fmt.Errorf("%w: unknown operation %s", ErrInvalidQuery, q.Op)
	}
	if q.Field == "" {
		return fmt.Errorf("%w: %s without field", ErrInvalidQuery, q.Op)
	}
	switch q.Op {
	case OpExists, OpNotExists:
		return nil
	case OpIn:
		if vs, ok := q.Value.([]any); !ok || len(vs) == 0 {
			return fmt.Errorf("%w: IN on %q needs at least one value", ErrInvalidQuery, q.Field)
		}
		return nil
	case OpBetween:
		if q.Value == nil || q.Value2 == nil {
			return fmt.Errorf("%w: BETWEEN on %q needs both bounds", ErrInvalidQuery, q.Field)
		}
		return nil
	case OpStartsWith, OpEndsWith, OpContaining, OpMapKeysContains:
		if _, ok := q.Value.(string); !ok {
			return fmt.Errorf("%w: %s on %q needs a string", ErrInvalidQuery, q.Op, q.Field)
		}
		return nil
	}
	if q.Value == nil {
		return fmt.Errorf("%w: %s on %q without value", ErrInvalidQuery, q.Op, q.Field)
	}
	return nil
}

func (q *Qualifier) String() string {
	if q == nil {
		return "<all>"
	}
	switch q.Op {
	case OpAnd, OpOr:
		parts := make([]string, len(q.Qualifiers))
		for i, c := range q.Qualifiers {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+q.Op.String()+" ") + ")"
	case OpNot:
		if len(q.Qualifiers) == 1 {
			return "NOT " + q.Qualifiers[0].String()
		}
		return "NOT ?"
	case OpExpr:
		return fmt.Sprintf("EXPR(%v)", q.Value)
	case OpExists, OpNotExists:
		return fmt.Sprintf("%s %s", q.Field, q.Op)
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN %v AND %v", q.Field, q.Value, q.Value2)
	}
	s := fmt.Sprintf("%s %s %v", q.Field, q.Op, q.Value)
	if q.IgnoreCase {
		s += " (ignore case)"
	}
	return s
}
