package query

import (
	"bytes"
	"cmp"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Comparator returns an ordering of raw items by s.
func (s Sort) Comparator(resolve Resolver) func(a, b Item) int {
	if resolve == nil {
		resolve = identity
	}
	paths := make([][]string, len(s))
	for i, o := range s {
		paths[i] = strings.Split(resolve(o.Field), ".")
	}
	return func(a, b Item) int {
		for i, o := range s {
			c := Compare(lookup(a, paths[i]), lookup(b, paths[i]), o.IgnoreCase)
			if o.Direction == Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

// Compare orders two attribute values. Missing and NULL sort first, then
// booleans, numbers, strings, binaries and finally collections. Values of the
// same kind compare naturally; collections compare equal.
func Compare(a, b types.AttributeValue, ignoreCase bool) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case *types.AttributeValueMemberBOOL:
		y := b.(*types.AttributeValueMemberBOOL)
		switch {
		case x.Value == y.Value:
			return 0
		case !x.Value:
			return -1
		default:
			return 1
		}
	case *types.AttributeValueMemberN:
		return compareNumbers(x.Value, b.(*types.AttributeValueMemberN).Value)
	case *types.AttributeValueMemberS:
		sa, sb := x.Value, b.(*types.AttributeValueMemberS).Value
		if ignoreCase {
			sa, sb = strings.ToLower(sa), strings.ToLower(sb)
		}
		return strings.Compare(sa, sb)
	case *types.AttributeValueMemberB:
		return bytes.Compare(x.Value, b.(*types.AttributeValueMemberB).Value)
	}
	return 0
}

func rank(v types.AttributeValue) int {
	switch v.(type) {
	case nil, *types.AttributeValueMemberNULL:
		return 0
	case *types.AttributeValueMemberBOOL:
		return 1
	case *types.AttributeValueMemberN:
		return 2
	case *types.AttributeValueMemberS:
		return 3
	case *types.AttributeValueMemberB:
		return 4
	default:
		return 5
	}
}

func compareNumbers(a, b string) int {
	x, okA := new(big.Float).SetPrec(128).SetString(a)
	y, okB := new(big.Float).SetPrec(128).SetString(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	return x.Cmp(y)
}

func lookup(item Item, path []string) types.AttributeValue {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: item}
	for _, seg := range path {
		m, ok := cur.(*types.AttributeValueMemberM)
		if !ok {
			return nil
		}
		cur = m.Value[seg]
	}
	return cur
}
