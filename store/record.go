package store

import (
	"fmt"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/mapping"
)

// Decoder converts raw DynamoDB items into records and documents.
// It is safe for concurrent use.
type Decoder struct {
	config   Config
	registry *mapping.Registry
	now      func() time.Time
}

// NewDecoder creates a decoder for tables laid out by config.
// A nil registry gets a fresh one.
func NewDecoder(config Config, registry *mapping.Registry) *Decoder {
	config.validate()
	if registry == nil {
		registry = mapping.NewRegistry()
	}
	return &Decoder{config: config, registry: registry, now: time.Now}
}

// Record splits a raw item of set into key, bins, generation and expiry.
func (d *Decoder) Record(set string, item map[string]types.AttributeValue) (*mapping.Record, error) {
	id, err := mapping.IDFromAttribute(item[d.config.KeyAttribute])
	if err != nil {
		return nil, err
	}

	bins := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		if d.managed(name) {
			continue
		}
		bins[name] = v
	}

	return &mapping.Record{
		Key:        mapping.Key{Namespace: d.config.Namespace, Set: set, ID: id},
		Bins:       bins,
		Generation: numberAttr(item, d.config.GenerationAttribute),
		ExpiresAt:  numberAttr(item, d.config.ExpirationAttribute),
	}, nil
}

// Decode fills dst, a pointer to a registered entity type, from a raw item.
func (d *Decoder) Decode(item map[string]types.AttributeValue, dst any) error {
	e, err := d.registry.Lookup(reflect.TypeOf(dst))
	if err != nil {
		return err
	}
	return d.read(e, item, dst)
}

func (d *Decoder) read(e *mapping.Entity, item map[string]types.AttributeValue, dst any) error {
	rec, err := d.Record(e.Set(), item)
	if err != nil {
		return fmt.Errorf("decode %s: %w", e.Set(), err)
	}
	return e.Read(rec, dst, d.now())
}

// managed reports whether name is the key, generation or expiry attribute.
func (d *Decoder) managed(name string) bool {
	return name == d.config.KeyAttribute ||
		name == d.config.GenerationAttribute ||
		name == d.config.ExpirationAttribute
}

// Entity returns the layout of v's type, registering it on first use.
// v may be a document, a nil pointer of the type, or a reflect.Type.
func (d *Decoder) Entity(v any) (*mapping.Entity, error) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	return d.registry.Lookup(t)
}

// Table returns the table holding set.
func (d *Decoder) Table(set string) string {
	return mapping.TableName(d.config.Namespace, set)
}
