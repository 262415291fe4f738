package mapping

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key identifies a single record.
type Key struct {
	// Namespace prefixes the table name. May be empty.
	Namespace string

	// Set is the record collection, one DynamoDB table per set.
	Set string

	// ID is the user key, normalized to string, int64 or uint64.
	ID any
}

// NewKey builds a key, normalizing id.
func NewKey(namespace, set string, id any) (Key, error) {
	norm, err := NormalizeID(id)
	if err != nil {
		return Key{}, err
	}
	return Key{Namespace: namespace, Set: set, ID: norm}, nil
}

// Table returns the DynamoDB table holding the set.
func (k Key) Table() string {
	return TableName(k.Namespace, k.Set)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%v", k.Table(), k.ID)
}

// AttributeValue returns the key attribute value for the id.
func (k Key) AttributeValue() types.AttributeValue {
	switch id := k.ID.(type) {
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)}
	case uint64:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(id, 10)}
	default:
		return &types.AttributeValueMemberS{Value: fmt.Sprint(id)}
	}
}

// TableName joins namespace and set.
func TableName(namespace, set string) string {
	if namespace == "" {
		return set
	}
	return namespace + "." + set
}

// IDFromAttribute decodes a key attribute back into a normalized id.
func IDFromAttribute(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n, nil
		}
		n, err := strconv.ParseUint(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: numeric key %q", ErrInvalidID, v.Value)
		}
		return n, nil
	case nil:
		return nil, fmt.Errorf("%w: missing key attribute", ErrInvalidID)
	default:
		return nil, fmt.Errorf("%w: unsupported key attribute %T", ErrInvalidID, av)
	}
}

// Record is a stored record with the managed attributes split out.
type Record struct {
	Key Key

	// Bins holds the user attributes only.
	Bins map[string]types.AttributeValue

	// Generation counts writes since creation.
	Generation int64

	// ExpiresAt is the expiry as unix seconds, zero when the record never expires.
	ExpiresAt int64
}

// TTL returns the remaining lifetime in seconds, or -1 when the record never expires.
func (r *Record) TTL(now time.Time) int64 {
	if r.ExpiresAt == 0 {
		return -1
	}
	left := r.ExpiresAt - now.Unix()
	if left < 0 {
		return 0
	}
	return left
}
