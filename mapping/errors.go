package mapping

import (
	"errors"
	"fmt"
)

var (
	// ErrMapping is the parent of every mapping error.
	ErrMapping = errors.New("strata: mapping")

	// ErrNotStruct is returned for values that are not (pointers to) structs.
	ErrNotStruct = fmt.Errorf("%w: entity must be a struct", ErrMapping)

	// ErrNoID is returned when an entity type has no identifier field.
	ErrNoID = fmt.Errorf("%w: entity has no id field", ErrMapping)

	// ErrInvalidID is returned for ids of unsupported kind or zero value.
	ErrInvalidID = fmt.Errorf("%w: invalid id", ErrMapping)

	// ErrInvalidField is returned for version or expiration fields of the wrong kind
	// and for managed fields that cannot be set.
	ErrInvalidField = fmt.Errorf("%w: invalid field", ErrMapping)

	// ErrTouchOnRead is returned for documents asking for touch-on-read without
	// a usable expiration.
	ErrTouchOnRead = fmt.Errorf("%w: touch on read needs a document expiration and no expiration field", ErrMapping)

	// ErrTypeMismatch is returned when a value's type differs from the entity's.
	ErrTypeMismatch = fmt.Errorf("%w: type mismatch", ErrMapping)
)
