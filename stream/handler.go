// Package stream decodes DynamoDB Streams records of one set into typed change events.
//
// Deploy the handler as an AWS Lambda function subscribed to the set's table
// stream. Removals performed by the TTL reaper are reported as Expired rather
// than Deleted.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/strata/mapping"
	"github.com/jacentio/strata/store"
)

// ErrDecode is returned when a stream record cannot be decoded.
var ErrDecode = errors.New("strata: stream decode")

// EventType is the kind of change.
type EventType int

const (
	Created EventType = iota + 1
	Updated
	Deleted
	Expired
)

func (t EventType) String() string {
	switch t {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is one change to a record of T.
// New is nil for removals, Old is nil for inserts; either is nil when the
// stream view type does not carry that image.
type Event[T any] struct {
	Type EventType
	ID   any

	// Generation is the generation of the newest image present.
	Generation int64

	New *T
	Old *T

	// EventID is the stream record's event id.
	EventID string
}

// Listener receives decoded events. An error stops the batch.
type Listener[T any] func(ctx context.Context, ev Event[T]) error

// Handler decodes stream records of T's set and dispatches them to a listener.
type Handler[T any] struct {
	decoder  *store.Decoder
	entity   *mapping.Entity
	table    string
	listener Listener[T]
	logger   *slog.Logger
}

// NewHandler creates a handler for T. The decoder must be laid out like the
// template that writes the table.
func NewHandler[T any](decoder *store.Decoder, listener Listener[T], logger *slog.Logger) (*Handler[T], error) {
	if logger == nil {
		logger = slog.Default()
	}
	if decoder == nil {
		decoder = store.NewDecoder(store.DefaultConfig(), nil)
	}
	if listener == nil {
		return nil, errors.New("strata: stream listener is nil")
	}
	e, err := decoder.Entity((*T)(nil))
	if err != nil {
		return nil, err
	}
	return &Handler[T]{
		decoder:  decoder,
		entity:   e,
		table:    decoder.Table(e.Set()),
		listener: listener,
		logger:   logger,
	}, nil
}

// Table returns the table whose records the handler accepts.
func (h *Handler[T]) Table() string { return h.table }

// HandleEvent processes a stream batch in order and stops at the first failure.
// Use it as a Lambda handler when the whole batch should be retried.
func (h *Handler[T]) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.process(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"table", h.table,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// HandleBatch processes a stream batch and reports the first failing record as
// a batch item failure, so Lambda resumes from it. Use it with
// ReportBatchItemFailures enabled on the event source mapping.
func (h *Handler[T]) HandleBatch(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		if err := h.process(ctx, record); err != nil {
			h.logger.Warn("reporting batch item failure",
				"eventID", record.EventID,
				"sequenceNumber", record.Change.SequenceNumber,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
			return resp, nil
		}
	}
	return resp, nil
}

func (h *Handler[T]) process(ctx context.Context, record events.DynamoDBEventRecord) error {
	if table := tableFromARN(record.EventSourceArn); table != "" && table != h.table {
		h.logger.Debug("skipping record of other table", "eventID", record.EventID, "table", table)
		return nil
	}

	ev, ok, err := h.Decode(record)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Debug("skipping record", "eventID", record.EventID, "eventName", record.EventName)
		return nil
	}

	h.logger.Debug("dispatching event",
		"eventID", record.EventID,
		"type", ev.Type.String(),
		"id", ev.ID,
		"generation", ev.Generation,
	)
	return h.listener(ctx, ev)
}

// Decode converts a stream record into an event. It reports false for event
// names other than INSERT, MODIFY and REMOVE.
func (h *Handler[T]) Decode(record events.DynamoDBEventRecord) (Event[T], bool, error) {
	ev := Event[T]{EventID: record.EventID}
	switch record.EventName {
	case "INSERT":
		ev.Type = Created
	case "MODIFY":
		ev.Type = Updated
	case "REMOVE":
		ev.Type = Deleted
		if expiredByTTL(record.UserIdentity) {
			ev.Type = Expired
		}
	default:
		return ev, false, nil
	}

	set := h.entity.Set()
	key, err := h.decoder.Record(set, ConvertImage(record.Change.Keys))
	if err != nil {
		return ev, false, fmt.Errorf("%w: %s key: %v", ErrDecode, record.EventID, err)
	}
	ev.ID = key.Key.ID

	if ev.Old, ev.Generation, err = h.image(record.Change.OldImage); err != nil {
		return ev, false, fmt.Errorf("%w: %s old image: %v", ErrDecode, record.EventID, err)
	}
	newDoc, gen, err := h.image(record.Change.NewImage)
	if err != nil {
		return ev, false, fmt.Errorf("%w: %s new image: %v", ErrDecode, record.EventID, err)
	}
	if newDoc != nil {
		ev.New, ev.Generation = newDoc, gen
	}
	return ev, true, nil
}

// image decodes a stream image into a document, nil when absent.
func (h *Handler[T]) image(image map[string]events.DynamoDBAttributeValue) (*T, int64, error) {
	if len(image) == 0 {
		return nil, 0, nil
	}
	item := ConvertImage(image)
	rec, err := h.decoder.Record(h.entity.Set(), item)
	if err != nil {
		return nil, 0, err
	}
	doc := new(T)
	if err := h.decoder.Decode(item, doc); err != nil {
		return nil, 0, err
	}
	return doc, rec.Generation, nil
}

// expiredByTTL reports whether a removal was made by the DynamoDB TTL reaper.
func expiredByTTL(id *events.DynamoDBUserIdentity) bool {
	return id != nil && id.Type == "Service" && id.PrincipalID == "dynamodb.amazonaws.com"
}

// tableFromARN extracts the table name from a stream ARN such as
// arn:aws:dynamodb:region:account:table/NAME/stream/LABEL.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}
