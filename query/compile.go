package query

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxInOperands is the DynamoDB limit on IN comparator operands.
const maxInOperands = 100

// Resolver maps a qualifier or sort field to an attribute name.
// Dots in the result address nested map attributes.
type Resolver func(field string) string

func identity(field string) string { return field }

// Plan is a compiled criteria: a server-side filter plus a client-side residual.
type Plan struct {
	// Condition is evaluated by DynamoDB. Nil when nothing runs server side.
	Condition *expression.ConditionBuilder

	// Residual is evaluated client side. Nil when everything runs server side.
	Residual *Qualifier

	program *program
}

// Compile splits criteria into a DynamoDB condition and a CEL residual.
// Operands of a top-level AND are split individually; any other tree goes
// wholly to one side.
func Compile(criteria *Qualifier, resolve Resolver) (*Plan, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if resolve == nil {
		resolve = identity
	}

	plan := &Plan{}
	if criteria == nil {
		return plan, nil
	}

	var server, client []*Qualifier
	if criteria.Op == OpAnd {
		for _, q := range criteria.Qualifiers {
			if serverSide(q) {
				server = append(server, q)
			} else {
				client = append(client, q)
			}
		}
	} else if serverSide(criteria) {
		server = append(server, criteria)
	} else {
		client = append(client, criteria)
	}

	if len(server) > 0 {
		cond, err := joinConditions(server, resolve, expression.And)
		if err != nil {
			return nil, err
		}
		plan.Condition = &cond
	}

	if len(client) > 0 {
		residual := client[0]
		if len(client) > 1 {
			residual = And(client...)
		}
		prg, err := compileCEL(residual, resolve)
		if err != nil {
			return nil, err
		}
		plan.Residual = residual
		plan.program = prg
	}

	return plan, nil
}

// HasResidual reports whether records must be filtered client side.
func (p *Plan) HasResidual() bool {
	return p != nil && p.program != nil
}

// Match evaluates the residual against a record's bins.
// Records always match when there is no residual.
func (p *Plan) Match(bins map[string]types.AttributeValue) (bool, error) {
	if !p.HasResidual() {
		return true, nil
	}
	native := make(map[string]any, len(bins))
	if err := attributevalue.UnmarshalMap(bins, &native); err != nil {
		return false, fmt.Errorf("%w: decode bins: %v", ErrInvalidQuery, err)
	}
	return p.program.eval(native)
}

// serverSide reports whether DynamoDB can evaluate q.
func serverSide(q *Qualifier) bool {
	switch q.Op {
	case OpAnd, OpOr, OpNot:
		for _, c := range q.Qualifiers {
			if !serverSide(c) {
				return false
			}
		}
		return true
	case OpExpr, OpEndsWith, OpMapKeysContains, OpMapValuesContains:
		return false
	case OpListContains:
		// contains() is case-sensitive
		_, ok := q.Value.(string)
		return ok && !q.IgnoreCase
	case OpIn:
		vs, _ := q.Value.([]any)
		if len(vs) > maxInOperands {
			return false
		}
		if q.IgnoreCase {
			for _, v := range vs {
				if _, ok := v.(string); ok {
					return false
				}
			}
		}
		return true
	case OpExists, OpNotExists:
		return true
	}
	if q.IgnoreCase {
		_, isString := q.Value.(string)
		return !isString
	}
	return true
}

func condition(q *Qualifier, resolve Resolver) (expression.ConditionBuilder, error) {
	switch q.Op {
	case OpAnd:
		return joinConditions(q.Qualifiers, resolve, expression.And)
	case OpOr:
		return joinConditions(q.Qualifiers, resolve, expression.Or)
	case OpNot:
		c, err := condition(q.Qualifiers[0], resolve)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return expression.Not(c), nil
	}

	name := expression.Name(resolve(q.Field))
	switch q.Op {
	case OpEqual:
		return name.Equal(expression.Value(q.Value)), nil
	case OpNotEqual:
		return name.NotEqual(expression.Value(q.Value)), nil
	case OpGreater:
		return name.GreaterThan(expression.Value(q.Value)), nil
	case OpGreaterEqual:
		return name.GreaterThanEqual(expression.Value(q.Value)), nil
	case OpLess:
		return name.LessThan(expression.Value(q.Value)), nil
	case OpLessEqual:
		return name.LessThanEqual(expression.Value(q.Value)), nil
	case OpBetween:
		return name.Between(expression.Value(q.Value), expression.Value(q.Value2)), nil
	case OpStartsWith:
		return name.BeginsWith(q.Value.(string)), nil
	case OpContaining, OpListContains:
		return name.Contains(q.Value.(string)), nil
	case OpIn:
		vs := q.Value.([]any)
		operands := make([]expression.OperandBuilder, len(vs))
		for i, v := range vs {
			operands[i] = expression.Value(v)
		}
		return name.In(operands[0], operands[1:]...), nil
	case OpExists:
		return expression.AttributeExists(name), nil
	case OpNotExists:
		return expression.AttributeNotExists(name), nil
	}
	return expression.ConditionBuilder{}, fmt.Errorf("%w: %s cannot run server side", ErrInvalidQuery, q.Op)
}

type joiner func(left, right expression.ConditionBuilder, other ...expression.ConditionBuilder) expression.ConditionBuilder

func joinConditions(qs []*Qualifier, resolve Resolver, join joiner) (expression.ConditionBuilder, error) {
	conds := make([]expression.ConditionBuilder, 0, len(qs))
	for _, q := range qs {
		c, err := condition(q, resolve)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		conds = append(conds, c)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return join(conds[0], conds[1], conds[2:]...), nil
}
