package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// program is a compiled CEL residual with its bound parameters.
type program struct {
	source string
	prg    cel.Program
	params map[string]any
}

// celBuilder renders qualifiers to CEL source. Operands and field names are
// bound as variables, never spliced into the source.
type celBuilder struct {
	resolve Resolver
	params  map[string]any
	n       int
}

func compileCEL(q *Qualifier, resolve Resolver) (*program, error) {
	b := &celBuilder{resolve: resolve, params: make(map[string]any)}
	src := b.render(q)

	opts := []cel.EnvOption{
		cel.Variable("bins", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		ext.Strings(),
		foldFunction,
	}
	for name := range b.params {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: cel environment: %v", ErrInvalidQuery, err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrInvalidQuery, src, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: program %q: %v", ErrInvalidQuery, src, err)
	}
	return &program{source: src, prg: prg, params: b.params}, nil
}

// foldFunction declares fold(string), the Unicode lower case used for
// case-insensitive qualifiers. Operands are folded the same way in Go.
var foldFunction = cel.Function("fold",
	cel.Overload("fold_string", []*cel.Type{cel.StringType}, cel.StringType,
		cel.UnaryBinding(func(v ref.Val) ref.Val {
			s, ok := v.(celtypes.String)
			if !ok {
				return celtypes.MaybeNoSuchOverloadErr(v)
			}
			return celtypes.String(strings.ToLower(string(s)))
		}),
	),
)

// eval runs the program against native bins. Built-in qualifiers guard their
// operand types, so a mismatched bin is false rather than an error and NOT
// inverts it as DynamoDB does. Errors left over come from Expr sources
// (missing keys, bad overloads) and mean the record does not match.
func (p *program) eval(bins map[string]any) (bool, error) {
	activation := make(map[string]any, len(p.params)+1)
	for k, v := range p.params {
		activation[k] = v
	}
	activation["bins"] = bins

	out, _, err := p.prg.Eval(activation)
	if err != nil {
		return false, nil
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q yields %v, want bool", ErrInvalidQuery, p.source, out.Type())
	}
	return matched, nil
}

func (b *celBuilder) param(v any) string {
	name := fmt.Sprintf("p%d", b.n)
	b.n++
	b.params[name] = v
	return name
}

// path returns the accessor and presence test for a possibly nested field.
func (b *celBuilder) path(field string) (access, present string) {
	access = "bins"
	var checks []string
	for i, seg := range strings.Split(b.resolve(field), ".") {
		p := b.param(seg)
		if i > 0 {
			checks = append(checks, fmt.Sprintf("type(%s) == map", access))
		}
		checks = append(checks, fmt.Sprintf("%s in %s", p, access))
		access = fmt.Sprintf("%s[%s]", access, p)
	}
	return access, strings.Join(checks, " && ")
}

func (b *celBuilder) render(q *Qualifier) string {
	switch q.Op {
	case OpAnd, OpOr:
		sep := " && "
		if q.Op == OpOr {
			sep = " || "
		}
		parts := make([]string, len(q.Qualifiers))
		for i, c := range q.Qualifiers {
			parts[i] = b.render(c)
		}
		return "(" + strings.Join(parts, sep) + ")"
	case OpNot:
		return "!" + b.render(q.Qualifiers[0])
	case OpExpr:
		return "(" + q.Value.(string) + ")"
	}

	acc, present := b.path(q.Field)
	fold := q.IgnoreCase && isStringOperand(q)

	var test string
	switch q.Op {
	case OpExists:
		return "(" + present + ")"
	case OpNotExists:
		return "!(" + present + ")"
	case OpEqual, OpNotEqual:
		op := comparators[q.Op]
		if fold {
			test = fmt.Sprintf("type(%s) == string && fold(%s) %s %s", acc, acc, op, b.param(strings.ToLower(q.Value.(string))))
		} else {
			test = fmt.Sprintf("%s %s %s", acc, op, b.param(normalize(q.Value)))
		}
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		op := comparators[q.Op]
		if fold {
			test = fmt.Sprintf("type(%s) == string && fold(%s) %s %s", acc, acc, op, b.param(strings.ToLower(q.Value.(string))))
		} else {
			v := b.param(normalize(q.Value))
			test = fmt.Sprintf("type(%s) == type(%s) && %s %s %s", acc, v, acc, op, v)
		}
	case OpBetween:
		if fold {
			lo, hi := b.param(strings.ToLower(q.Value.(string))), b.param(strings.ToLower(q.Value2.(string)))
			test = fmt.Sprintf("type(%s) == string && fold(%s) >= %s && fold(%s) <= %s", acc, acc, lo, acc, hi)
		} else {
			lo, hi := b.param(normalize(q.Value)), b.param(normalize(q.Value2))
			test = fmt.Sprintf("type(%s) == type(%s) && type(%s) == type(%s) && %s >= %s && %s <= %s", acc, lo, acc, hi, acc, lo, acc, hi)
		}
	case OpStartsWith, OpEndsWith, OpContaining:
		fn := map[Op]string{OpStartsWith: "startsWith", OpEndsWith: "endsWith", OpContaining: "contains"}[q.Op]
		s := q.Value.(string)
		target := acc
		if q.IgnoreCase {
			target = "fold(" + acc + ")"
			s = strings.ToLower(s)
		}
		test = fmt.Sprintf("type(%s) == string && %s.%s(%s)", acc, target, fn, b.param(s))
	case OpIn:
		vs := q.Value.([]any)
		if q.IgnoreCase {
			lowered := make([]any, len(vs))
			for i, v := range vs {
				if s, ok := v.(string); ok {
					lowered[i] = strings.ToLower(s)
				} else {
					lowered[i] = normalize(v)
				}
			}
			test = fmt.Sprintf("(type(%s) == string ? fold(%s) : %s) in %s", acc, acc, acc, b.param(lowered))
		} else {
			test = fmt.Sprintf("%s in %s", acc, b.param(normalize(vs)))
		}
	case OpListContains:
		if fold {
			test = fmt.Sprintf("type(%s) == list && %s.exists(x, type(x) == string && fold(x) == %s)", acc, acc, b.param(strings.ToLower(q.Value.(string))))
		} else {
			test = fmt.Sprintf("type(%s) == list && %s in %s", acc, b.param(normalize(q.Value)), acc)
		}
	case OpMapKeysContains:
		test = fmt.Sprintf("type(%s) == map && %s in %s", acc, b.param(q.Value), acc)
	case OpMapValuesContains:
		if fold {
			test = fmt.Sprintf("type(%s) == map && %s.exists(k, type(%s[k]) == string && fold(%s[k]) == %s)", acc, acc, acc, acc, b.param(strings.ToLower(q.Value.(string))))
		} else {
			test = fmt.Sprintf("type(%s) == map && %s.exists(k, %s[k] == %s)", acc, acc, acc, b.param(normalize(q.Value)))
		}
	}
	return "(" + present + " && " + test + ")"
}

// isStringOperand reports whether every operand of q is a string.
func isStringOperand(q *Qualifier) bool {
	if _, ok := q.Value.(string); !ok {
		return false
	}
	if q.Op == OpBetween {
		_, ok := q.Value2.(string)
		return ok
	}
	return true
}

var comparators = map[Op]string{
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpLess:         "<",
	OpLessEqual:    "<=",
}

// normalize converts numbers to float64, matching how bins decode, and
// recurses into slices.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	switch {
	case !rv.IsValid():
		return nil
	case rv.CanInt():
		return float64(rv.Int())
	case rv.CanUint():
		return float64(rv.Uint())
	case rv.CanFloat():
		return rv.Float()
	case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
