package mapping_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/strata/mapping"
)

type Customer struct {
	ID        string `entity:"id"`
	FirstName string `bin:"first_name"`
	LastName  string `bin:"last_name"`
	Age       int    `bin:"age"`
	Notes     string `bin:"-"`
	Version   int64  `entity:"version"`
}

type Session struct {
	ID    int64
	User  string
	TTL   int32 `entity:"expiration"`
	Hits  int
	token string
}

type Touched struct {
	ID   string
	Name string
}

func (Touched) Document() mapping.Document {
	return mapping.Document{Set: "touched", Expiration: 60, TouchOnRead: true}
}

type BadTouch struct {
	ID  string
	Exp int `entity:"expiration"`
}

func (BadTouch) Document() mapping.Document {
	return mapping.Document{Expiration: 60, TouchOnRead: true}
}

type Audit struct {
	CreatedBy string `bin:"created_by"`
}

type Order struct {
	Audit
	Ref   uint32 `entity:"id"`
	Total float64
}

func TestNewEntity_Layout(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Customer{}))
	require.NoError(t, err)

	assert.Equal(t, "Customer", e.Set())
	assert.Equal(t, "ID", e.IDField())
	assert.True(t, e.HasVersion())
	assert.False(t, e.HasExpiration())

	var bins []string
	for _, p := range e.Bins() {
		bins = append(bins, p.Bin)
	}
	assert.Equal(t, []string{"first_name", "last_name", "age"}, bins)

	bin, ok := e.BinName("FirstName")
	assert.True(t, ok)
	assert.Equal(t, "first_name", bin)

	bin, ok = e.BinName("last_name")
	assert.True(t, ok)
	assert.Equal(t, "last_name", bin)

	_, ok = e.BinName("Notes")
	assert.False(t, ok)
}

func TestNewEntity_FallbackIDAndUnexported(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(&Session{}))
	require.NoError(t, err)

	assert.Equal(t, "ID", e.IDField())
	assert.True(t, e.HasExpiration())
	_, ok := e.BinName("token")
	assert.False(t, ok)
}

func TestNewEntity_EmbeddedStruct(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Order{}))
	require.NoError(t, err)

	assert.Equal(t, "Ref", e.IDField())
	bin, ok := e.BinName("CreatedBy")
	assert.True(t, ok)
	assert.Equal(t, "created_by", bin)
}

func TestNewEntity_Errors(t *testing.T) {
	type noID struct{ Name string }
	type badID struct {
		ID []byte
	}
	type badVersion struct {
		ID      string
		Version string `entity:"version"`
	}

	tests := []struct {
		name string
		typ  reflect.Type
		want error
	}{
		{"not a struct", reflect.TypeOf(42), mapping.ErrNotStruct},
		{"no id", reflect.TypeOf(noID{}), mapping.ErrNoID},
		{"bad id kind", reflect.TypeOf(badID{}), mapping.ErrInvalidID},
		{"bad version kind", reflect.TypeOf(badVersion{}), mapping.ErrInvalidField},
		{"touch with expiration field", reflect.TypeOf(BadTouch{}), mapping.ErrTouchOnRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mapping.NewEntity(tt.typ)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, mapping.ErrMapping)
		})
	}
}

func TestNewEntity_Document(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Touched{}))
	require.NoError(t, err)

	doc := e.Document()
	assert.Equal(t, "touched", e.Set())
	assert.Equal(t, int32(60), doc.Expiration)
	assert.True(t, doc.TouchOnRead)
}

func TestWriteData(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Customer{}))
	require.NoError(t, err)

	c := &Customer{ID: "c1", FirstName: "Dave", LastName: "Matthews", Age: 51, Notes: "skip", Version: 3}
	data, err := e.WriteData("test", c)
	require.NoError(t, err)

	assert.Equal(t, mapping.Key{Namespace: "test", Set: "Customer", ID: "c1"}, data.Key)
	assert.Equal(t, int64(3), data.Version)
	assert.Equal(t, int32(0), data.Expiration)

	assert.Len(t, data.Bins, 3)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "Dave"}, data.Bins["first_name"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "51"}, data.Bins["age"])
	assert.NotContains(t, data.Bins, "ID")
	assert.NotContains(t, data.Bins, "Version")
	assert.NotContains(t, data.Bins, "Notes")
}

func TestWriteData_Expiration(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Session{}))
	require.NoError(t, err)

	data, err := e.WriteData("", &Session{ID: 7, User: "u", TTL: 120})
	require.NoError(t, err)
	assert.Equal(t, int32(120), data.Expiration)
	assert.Equal(t, int64(7), data.Key.ID)
	assert.NotContains(t, data.Bins, "TTL")

	data, err = e.WriteData("", &Session{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, int32(0), data.Expiration)
}

func TestWriteData_TypeMismatch(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Customer{}))
	require.NoError(t, err)

	_, err = e.WriteData("", Customer{ID: "c1"})
	assert.ErrorIs(t, err, mapping.ErrTypeMismatch)

	_, err = e.WriteData("", &Session{ID: 1})
	assert.ErrorIs(t, err, mapping.ErrTypeMismatch)

	_, err = e.WriteData("", &Customer{})
	assert.ErrorIs(t, err, mapping.ErrInvalidID)
}

func TestRead(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Session{}))
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	rec := &mapping.Record{
		Key: mapping.Key{Set: "Session", ID: int64(9)},
		Bins: map[string]types.AttributeValue{
			"User": &types.AttributeValueMemberS{Value: "alice"},
			"Hits": &types.AttributeValueMemberN{Value: "4"},
		},
		Generation: 2,
		ExpiresAt:  now.Unix() + 90,
	}

	s := &Session{User: "stale", token: "x"}
	require.NoError(t, e.Read(rec, s, now))

	assert.Equal(t, Session{ID: 9, User: "alice", Hits: 4, TTL: 90}, *s)
}

func TestRead_VersionAndNeverExpires(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Customer{}))
	require.NoError(t, err)

	rec := &mapping.Record{
		Key:        mapping.Key{Set: "Customer", ID: "c1"},
		Bins:       map[string]types.AttributeValue{"first_name": &types.AttributeValueMemberS{Value: "Dave"}},
		Generation: 5,
	}
	var c Customer
	require.NoError(t, e.Read(rec, &c, time.Now()))
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "Dave", c.FirstName)
	assert.Equal(t, int64(5), c.Version)
}

func TestSetVersion(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Customer{}))
	require.NoError(t, err)

	c := &Customer{ID: "c1"}
	require.NoError(t, e.SetVersion(c, 7))
	assert.Equal(t, int64(7), c.Version)

	s, err := mapping.NewEntity(reflect.TypeOf(Session{}))
	require.NoError(t, err)
	assert.NoError(t, s.SetVersion(&Session{ID: 1}, 7))
}

func TestNormalizeID(t *testing.T) {
	type name string
	str := "abc"

	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{"string", "abc", "abc", false},
		{"named string", name("abc"), "abc", false},
		{"pointer", &str, "abc", false},
		{"int", 42, int64(42), false},
		{"int32", int32(-1), int64(-1), false},
		{"uint", uint(7), uint64(7), false},
		{"empty string", "", nil, true},
		{"nil", nil, nil, true},
		{"float", 1.5, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapping.NormalizeID(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, mapping.ErrInvalidID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type Base struct {
	ID      string `entity:"id"`
	Version int64  `entity:"version"`
}

type Note struct {
	*Base
	Text string `bin:"text"`
}

type hidden struct {
	ID string
}

type Hidden struct {
	*hidden
	Text string
}

func TestEmbeddedPointerID(t *testing.T) {
	e, err := mapping.NewEntity(reflect.TypeOf(Note{}))
	require.NoError(t, err)
	assert.Equal(t, "ID", e.IDField())

	t.Run("write without holder", func(t *testing.T) {
		_, err := e.WriteData("", &Note{Text: "x"})
		assert.ErrorIs(t, err, mapping.ErrInvalidID)
	})

	t.Run("write with holder", func(t *testing.T) {
		data, err := e.WriteData("", &Note{Base: &Base{ID: "n1", Version: 3}, Text: "x"})
		require.NoError(t, err)
		assert.Equal(t, "n1", data.Key.ID)
		assert.Equal(t, int64(3), data.Version)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "x"}, data.Bins["text"])
	})

	t.Run("read allocates holder", func(t *testing.T) {
		rec := &mapping.Record{
			Key:        mapping.Key{Set: "Note", ID: "n1"},
			Bins:       map[string]types.AttributeValue{"text": &types.AttributeValueMemberS{Value: "hello"}},
			Generation: 4,
		}
		var n Note
		require.NoError(t, e.Read(rec, &n, time.Now()))
		require.NotNil(t, n.Base)
		assert.Equal(t, "n1", n.ID)
		assert.Equal(t, int64(4), n.Version)
		assert.Equal(t, "hello", n.Text)
	})

	t.Run("set version allocates holder", func(t *testing.T) {
		var n Note
		require.NoError(t, e.SetVersion(&n, 2))
		require.NotNil(t, n.Base)
		assert.Equal(t, int64(2), n.Version)
	})
}

func TestNewEntity_UnexportedEmbeddedPointerID(t *testing.T) {
	_, err := mapping.NewEntity(reflect.TypeOf(Hidden{}))
	assert.ErrorIs(t, err, mapping.ErrInvalidField)
}
