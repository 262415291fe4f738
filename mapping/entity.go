package mapping

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	binTag    = "bin"
	entityTag = "entity"
)

// Document holds per-type storage options.
type Document struct {
	// Set names the record collection. Defaults to the struct type name.
	Set string

	// Expiration is the default lifetime in seconds. Zero defers to the
	// store default, -1 never expires.
	Expiration int32

	// TouchOnRead extends the lifetime of a record each time it is read by id.
	TouchOnRead bool
}

// Documented is implemented by entities that customize their Document.
type Documented interface {
	Document() Document
}

// Property is a struct field mapped to a bin.
type Property struct {
	// Name is the Go field name.
	Name string

	// Bin is the attribute name.
	Bin string

	index []int
	typ   reflect.Type
}

// Entity is the cached layout of a struct type.
type Entity struct {
	typ        reflect.Type
	doc        Document
	id         *Property
	version    *Property
	expiration *Property
	bins       []Property
	lookup     map[string]string
}

// WriteData is everything a write needs, extracted from a document.
type WriteData struct {
	Key  Key
	Bins map[string]types.AttributeValue

	// Version is the document's version field, zero when absent.
	Version int64

	// Expiration is the lifetime in seconds, zero to use the default.
	Expiration int32
}

// NewEntity reads the layout of t, which must be a struct or pointer to struct.
func NewEntity(t reflect.Type) (*Entity, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v", ErrNotStruct, t)
	}

	e := &Entity{
		typ:    t,
		lookup: make(map[string]string),
	}

	var skipped [][]int
	for _, f := range reflect.VisibleFields(t) {
		if underSkipped(f.Index, skipped) {
			continue
		}
		bin, _, _ := strings.Cut(f.Tag.Get(binTag), ",")
		if bin == "-" {
			skipped = append(skipped, f.Index)
			continue
		}
		if f.Anonymous && derefKind(f.Type) == reflect.Struct && bin == "" {
			// attributevalue flattens untagged embedded structs
			continue
		}
		if f.Anonymous && bin != "" {
			skipped = append(skipped, f.Index)
		}
		if !f.IsExported() {
			continue
		}
		if bin == "" {
			bin = f.Name
		}
		p := Property{Name: f.Name, Bin: bin, index: f.Index, typ: f.Type}

		switch f.Tag.Get(entityTag) {
		case "id":
			e.id = &p
			continue
		case "version":
			if !isInteger(f.Type.Kind()) {
				return nil, fmt.Errorf("%w: version field %s.%s must be an integer", ErrInvalidField, t.Name(), f.Name)
			}
			e.version = &p
			continue
		case "expiration":
			if !isInteger(f.Type.Kind()) {
				return nil, fmt.Errorf("%w: expiration field %s.%s must be an integer", ErrInvalidField, t.Name(), f.Name)
			}
			e.expiration = &p
			continue
		}
		e.bins = append(e.bins, p)
	}

	if e.id == nil {
		for i, p := range e.bins {
			if p.Name == "ID" {
				id := p
				e.id = &id
				e.bins = append(e.bins[:i], e.bins[i+1:]...)
				break
			}
		}
	}
	if e.id == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoID, t.Name())
	}
	if k := derefKind(e.id.typ); k != reflect.String && !isInteger(k) {
		return nil, fmt.Errorf("%w: %s.%s has kind %s", ErrInvalidID, t.Name(), e.id.Name, k)
	}

	for _, p := range []*Property{e.id, e.version, e.expiration} {
		if p != nil && !settable(t, p.index) {
			return nil, fmt.Errorf("%w: %s.%s is reached through an unexported embedded pointer", ErrInvalidField, t.Name(), p.Name)
		}
	}

	for _, p := range e.bins {
		e.lookup[p.Name] = p.Bin
		e.lookup[p.Bin] = p.Bin
	}

	e.doc = documentOf(t)
	if e.doc.Set == "" {
		e.doc.Set = t.Name()
	}
	if e.doc.TouchOnRead && (e.doc.Expiration <= 0 || e.expiration != nil) {
		return nil, fmt.Errorf("%w: %s", ErrTouchOnRead, t.Name())
	}

	return e, nil
}

// Type returns the struct type.
func (e *Entity) Type() reflect.Type { return e.typ }

// Set returns the set name.
func (e *Entity) Set() string { return e.doc.Set }

// Document returns the storage options.
func (e *Entity) Document() Document { return e.doc }

// HasVersion reports whether the entity carries a version field.
func (e *Entity) HasVersion() bool { return e.version != nil }

// HasExpiration reports whether the entity carries an expiration field.
func (e *Entity) HasExpiration() bool { return e.expiration != nil }

// IDField returns the Go name of the identifier field.
func (e *Entity) IDField() string { return e.id.Name }

// Bins returns the bin-mapped properties in field order.
func (e *Entity) Bins() []Property {
	out := make([]Property, len(e.bins))
	copy(out, e.bins)
	return out
}

// BinName resolves a Go field name or bin name to a bin name.
func (e *Entity) BinName(name string) (string, bool) {
	bin, ok := e.lookup[name]
	return bin, ok
}

// New returns a pointer to a zero value of the entity type.
func (e *Entity) New() any {
	return reflect.New(e.typ).Interface()
}

// ID returns the normalized id of doc.
func (e *Entity) ID(doc any) (any, error) {
	v, err := e.value(doc)
	if err != nil {
		return nil, err
	}
	f, err := v.FieldByIndexErr(e.id.index)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s is unset: %v", ErrInvalidID, e.typ.Name(), e.id.Name, err)
	}
	return NormalizeID(f.Interface())
}

// Key returns the key of doc.
func (e *Entity) Key(namespace string, doc any) (Key, error) {
	id, err := e.ID(doc)
	if err != nil {
		return Key{}, err
	}
	return Key{Namespace: namespace, Set: e.doc.Set, ID: id}, nil
}

// WriteData extracts the key, bins, version and expiration of doc.
func (e *Entity) WriteData(namespace string, doc any) (*WriteData, error) {
	v, err := e.value(doc)
	if err != nil {
		return nil, err
	}
	key, err := e.Key(namespace, doc)
	if err != nil {
		return nil, err
	}

	bins, err := attributevalue.MarshalMapWithOptions(doc, withBinTag)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s: %v", ErrMapping, e.typ.Name(), err)
	}
	delete(bins, e.id.Bin)

	data := &WriteData{Key: key, Bins: bins, Expiration: e.doc.Expiration}
	if e.version != nil {
		delete(bins, e.version.Bin)
		data.Version = intField(v, e.version.index)
	}
	if e.expiration != nil {
		delete(bins, e.expiration.Bin)
		if exp := intField(v, e.expiration.index); exp != 0 {
			data.Expiration = clampInt32(exp)
		}
	}
	return data, nil
}

// Read resets dst and fills it from rec.
func (e *Entity) Read(rec *Record, dst any, now time.Time) error {
	v, err := e.value(dst)
	if err != nil {
		return err
	}
	v.Set(reflect.Zero(e.typ))

	if err := attributevalue.UnmarshalMapWithOptions(rec.Bins, dst, withBinDecodeTag); err != nil {
		return fmt.Errorf("%w: unmarshal %s: %v", ErrMapping, e.typ.Name(), err)
	}
	if err := setID(allocField(v, e.id.index), rec.Key.ID); err != nil {
		return err
	}
	if e.version != nil {
		setIntField(allocField(v, e.version.index), rec.Generation)
	}
	if e.expiration != nil {
		setIntField(allocField(v, e.expiration.index), rec.TTL(now))
	}
	return nil
}

// SetVersion writes generation into the version field, if any.
func (e *Entity) SetVersion(doc any, generation int64) error {
	if e.version == nil {
		return nil
	}
	v, err := e.value(doc)
	if err != nil {
		return err
	}
	setIntField(allocField(v, e.version.index), generation)
	return nil
}

// value returns the addressable struct behind a non-nil pointer of the entity type.
func (e *Entity) value(doc any) (reflect.Value, error) {
	v := reflect.ValueOf(doc)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: want *%s, got %T", ErrTypeMismatch, e.typ.Name(), doc)
	}
	v = v.Elem()
	if v.Type() != e.typ {
		return reflect.Value{}, fmt.Errorf("%w: want *%s, got %T", ErrTypeMismatch, e.typ.Name(), doc)
	}
	return v, nil
}

// NormalizeID converts an id to string, int64 or uint64.
func NormalizeID(id any) (any, error) {
	v := reflect.ValueOf(id)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil", ErrInvalidID)
		}
		v = v.Elem()
	}
	switch {
	case v.Kind() == reflect.String:
		if v.Len() == 0 {
			return nil, fmt.Errorf("%w: empty string", ErrInvalidID)
		}
		return v.String(), nil
	case v.CanInt():
		return v.Int(), nil
	case v.CanUint():
		return v.Uint(), nil
	case !v.IsValid():
		return nil, fmt.Errorf("%w: nil", ErrInvalidID)
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidID, v.Type())
	}
}

func documentOf(t reflect.Type) Document {
	if d, ok := reflect.New(t).Interface().(Documented); ok {
		return d.Document()
	}
	return Document{}
}

func withBinTag(o *attributevalue.EncoderOptions) { o.TagKey = binTag }

func withBinDecodeTag(o *attributevalue.DecoderOptions) { o.TagKey = binTag }

func setID(f reflect.Value, id any) error {
	for f.Kind() == reflect.Pointer {
		if f.IsNil() {
			f.Set(reflect.New(f.Type().Elem()))
		}
		f = f.Elem()
	}
	s := fmt.Sprint(id)
	switch {
	case f.Kind() == reflect.String:
		f.SetString(s)
	case f.CanInt():
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || f.OverflowInt(n) {
			return fmt.Errorf("%w: %q does not fit %s", ErrInvalidID, s, f.Type())
		}
		f.SetInt(n)
	case f.CanUint():
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || f.OverflowUint(n) {
			return fmt.Errorf("%w: %q does not fit %s", ErrInvalidID, s, f.Type())
		}
		f.SetUint(n)
	default:
		return fmt.Errorf("%w: unsupported id field %s", ErrInvalidID, f.Type())
	}
	return nil
}

// allocField returns the field at index, allocating nil embedded struct
// pointers on the way.
func allocField(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 {
			for v.Kind() == reflect.Pointer {
				if v.IsNil() {
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v
}

// settable reports whether every embedded pointer on the path to index can be
// allocated.
func settable(t reflect.Type, index []int) bool {
	for _, x := range index[:len(index)-1] {
		f := t.Field(x)
		t = f.Type
		if t.Kind() == reflect.Pointer {
			if !f.IsExported() {
				return false
			}
			t = t.Elem()
		}
	}
	return true
}

// intField reads the integer field at index, zero when it sits behind a nil
// embedded pointer.
func intField(v reflect.Value, index []int) int64 {
	f, err := v.FieldByIndexErr(index)
	if err != nil {
		return 0
	}
	if f.CanInt() {
		return f.Int()
	}
	if f.CanUint() {
		u := f.Uint()
		if u > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(u)
	}
	return 0
}

func setIntField(f reflect.Value, n int64) {
	switch {
	case f.CanInt():
		if f.OverflowInt(n) {
			if n < 0 {
				n = -1 << (f.Type().Bits() - 1)
			} else {
				n = 1<<(f.Type().Bits()-1) - 1
			}
		}
		f.SetInt(n)
	case f.CanUint():
		if n < 0 {
			n = 0
		}
		f.SetUint(uint64(n))
	}
}

func clampInt32(n int64) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int32(n)
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func derefKind(t reflect.Type) reflect.Kind {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind()
}

func underSkipped(index []int, skipped [][]int) bool {
	for _, prefix := range skipped {
		if len(index) > len(prefix) && equalPrefix(index, prefix) {
			return true
		}
	}
	return false
}

func equalPrefix(index, prefix []int) bool {
	for i := range prefix {
		if index[i] != prefix[i] {
			return false
		}
	}
	return true
}
