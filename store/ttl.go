package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsExpired reports whether an item's expiry attribute lies at or before now.
// DynamoDB deletes expired items lazily, so reads must filter them out.
func IsExpired(item map[string]types.AttributeValue, attr string, now time.Time) bool {
	at := numberAttr(item, attr)
	return at != 0 && at <= now.Unix()
}

// live reports whether item is a stored, unexpired record.
func (t *Template) live(item map[string]types.AttributeValue, now time.Time) bool {
	if len(item) == 0 {
		return false
	}
	if _, ok := item[t.config.KeyAttribute]; !ok {
		return false
	}
	return !IsExpired(item, t.config.ExpirationAttribute, now)
}

// numberAttr reads an integer attribute, zero when absent or malformed.
func numberAttr(item map[string]types.AttributeValue, attr string) int64 {
	n, ok := item[attr].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func number(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
