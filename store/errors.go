package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/strata/mapping"
	"github.com/jacentio/strata/query"
)

var (
	// ErrDataAccess is returned for vendor failures with no more specific kind.
	ErrDataAccess = errors.New("strata: data access failure")

	// ErrNotFound is returned when a write requires an existing record and there is none
	// (or it has expired).
	ErrNotFound = errors.New("strata: record not found")

	// ErrDuplicateKey is returned when a create-only write finds a live record.
	ErrDuplicateKey = errors.New("strata: duplicate key")

	// ErrOptimisticLockingFailure is returned when the stored generation differs from
	// the document's version.
	ErrOptimisticLockingFailure = errors.New("strata: optimistic locking failure")

	// ErrTransient is returned for throttling and other retryable vendor failures.
	ErrTransient = errors.New("strata: transient data access failure")

	// ErrTimeout is returned when an operation's deadline passes.
	ErrTimeout = errors.New("strata: operation timed out")

	// ErrInvalidUsage is returned for malformed requests, queries and mappings.
	ErrInvalidUsage = errors.New("strata: invalid data access usage")

	// ErrResourceNotFound is returned when the table for a set does not exist.
	ErrResourceNotFound = errors.New("strata: resource not found")
)

// DataAccessError is a translated vendor error.
// errors.Is matches its Kind; errors.As reaches the vendor error through Unwrap.
type DataAccessError struct {
	// Op is the template operation, e.g. "save".
	Op string

	// Kind is one of the package sentinels.
	Kind error

	// Code is the vendor error code, if any.
	Code string

	Err error
}

func (e *DataAccessError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataAccessError) Is(target error) bool { return target == e.Kind }

func (e *DataAccessError) Unwrap() error { return e.Err }

// Translate maps a vendor error to the package taxonomy.
// Errors that did not come from the vendor client, the mapper or the query
// compiler are returned unchanged, as is nil.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var dae *DataAccessError
	if errors.As(err, &dae) {
		return err
	}

	switch {
	case errors.Is(err, mapping.ErrMapping), errors.Is(err, query.ErrInvalidQuery):
		return &DataAccessError{Op: op, Kind: ErrInvalidUsage, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &DataAccessError{Op: op, Kind: ErrTimeout, Err: err}
	}

	var (
		resourceErr   *types.ResourceNotFoundException
		throughputErr *types.ProvisionedThroughputExceededException
		limitErr      *types.RequestLimitExceeded
		conflictErr   *types.TransactionConflictException
		internalErr   *types.InternalServerError
		apiErr        smithy.APIError
	)
	switch {
	case errors.As(err, &resourceErr):
		return &DataAccessError{Op: op, Kind: ErrResourceNotFound, Code: resourceErr.ErrorCode(), Err: err}
	case errors.As(err, &throughputErr):
		return &DataAccessError{Op: op, Kind: ErrTransient, Code: throughputErr.ErrorCode(), Err: err}
	case errors.As(err, &limitErr):
		return &DataAccessError{Op: op, Kind: ErrTransient, Code: limitErr.ErrorCode(), Err: err}
	case errors.As(err, &conflictErr):
		return &DataAccessError{Op: op, Kind: ErrTransient, Code: conflictErr.ErrorCode(), Err: err}
	case errors.As(err, &internalErr):
		return &DataAccessError{Op: op, Kind: ErrTransient, Code: internalErr.ErrorCode(), Err: err}
	case errors.As(err, &apiErr):
		return &DataAccessError{Op: op, Kind: kindForCode(apiErr.ErrorCode()), Code: apiErr.ErrorCode(), Err: err}
	}
	return err
}

// kindForCode classifies API errors the SDK has no concrete type for.
func kindForCode(code string) error {
	switch code {
	case "ThrottlingException", "LimitExceededException", "ServiceUnavailable", "RequestTimeout":
		return ErrTransient
	case "ValidationException", "SerializationException", "ItemCollectionSizeLimitExceededException":
		return ErrInvalidUsage
	case "ResourceNotFoundException":
		return ErrResourceNotFound
	case "RequestTimeoutException":
		return ErrTimeout
	}
	return ErrDataAccess
}

// classifyCondition returns the kind of a failed write condition. present reports
// whether a live record existed; cas marks version-aware saves, where an
// existing record on create is a lost race rather than a duplicate.
func classifyCondition(p WritePolicy, present, cas bool) error {
	switch {
	case !present && p.ExistsAction != CreateOnly:
		return ErrNotFound
	case cas:
		return ErrOptimisticLockingFailure
	case p.ExistsAction == CreateOnly:
		return ErrDuplicateKey
	case p.GenerationPolicy == GenerationExpectEqual:
		return ErrOptimisticLockingFailure
	}
	return ErrDataAccess
}

// translateWrite translates a write error. Conditional check failures are
// classified from the old item returned with them.
func (t *Template) translateWrite(op string, p WritePolicy, cas bool, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return Translate(op, err)
	}
	present := ccf.Item != nil && t.live(ccf.Item, t.now())
	kind := classifyCondition(p, present, cas)
	return &DataAccessError{Op: op, Kind: kind, Code: ccf.ErrorCode(), Err: err}
}

func invalidUsage(op string, format string, args ...any) error {
	return &DataAccessError{Op: op, Kind: ErrInvalidUsage, Err: fmt.Errorf(format, args...)}
}
