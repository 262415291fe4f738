package stream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/strata/store"
	"github.com/jacentio/strata/stream"
)

type Order struct {
	ID      string `entity:"id"`
	Status  string `bin:"status"`
	Version int64  `entity:"version"`
}

const orderARN = "arn:aws:dynamodb:eu-west-1:123456789012:table/shop.Order/stream/2024-01-01T00:00:00.000"

func newDecoder() *store.Decoder {
	cfg := store.DefaultConfig()
	cfg.Namespace = "shop"
	return store.NewDecoder(cfg, nil)
}

func orderImage(id, status, gen string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"pk":     events.NewStringAttribute(id),
		"status": events.NewStringAttribute(status),
		"gen":    events.NewNumberAttribute(gen),
	}
}

func orderRecord(name, seq string, oldImage, newImage map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:        "event-" + seq,
		EventName:      name,
		EventSourceArn: orderARN,
		Change: events.DynamoDBStreamRecord{
			Keys:           map[string]events.DynamoDBAttributeValue{"pk": events.NewStringAttribute("o1")},
			OldImage:       oldImage,
			NewImage:       newImage,
			SequenceNumber: seq,
		},
	}
}

type recorder struct {
	events []stream.Event[Order]
	fail   error
}

func (r *recorder) listen(_ context.Context, ev stream.Event[Order]) error {
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, ev)
	return nil
}

func newHandler(t *testing.T, r *recorder) *stream.Handler[Order] {
	t.Helper()
	h, err := stream.NewHandler[Order](newDecoder(), r.listen, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return h
}

func TestNewHandler(t *testing.T) {
	h, err := stream.NewHandler[Order](nil, func(context.Context, stream.Event[Order]) error { return nil }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Table() != "Order" {
		t.Errorf("expected table 'Order', got %q", h.Table())
	}

	if _, err := stream.NewHandler[Order](nil, nil, nil); err == nil {
		t.Error("expected error for nil listener")
	}
	if _, err := stream.NewHandler[struct{ Name string }](nil, func(context.Context, stream.Event[struct{ Name string }]) error { return nil }, nil); err == nil {
		t.Error("expected error for entity without id")
	}
}

func TestHandleEvent_Types(t *testing.T) {
	ttl := &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "dynamodb.amazonaws.com"}
	user := &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "example.amazonaws.com"}

	expired := orderRecord("REMOVE", "4", orderImage("o1", "open", "3"), nil)
	expired.UserIdentity = ttl
	removedByService := orderRecord("REMOVE", "5", orderImage("o1", "open", "3"), nil)
	removedByService.UserIdentity = user

	tests := []struct {
		name     string
		record   events.DynamoDBEventRecord
		wantType stream.EventType
		wantGen  int64
		wantNew  string
		wantOld  string
	}{
		{"insert", orderRecord("INSERT", "1", nil, orderImage("o1", "open", "1")), stream.Created, 1, "open", ""},
		{"modify", orderRecord("MODIFY", "2", orderImage("o1", "open", "1"), orderImage("o1", "paid", "2")), stream.Updated, 2, "paid", "open"},
		{"remove", orderRecord("REMOVE", "3", orderImage("o1", "paid", "2"), nil), stream.Deleted, 2, "", "paid"},
		{"ttl remove", expired, stream.Expired, 3, "", "open"},
		{"other service remove", removedByService, stream.Deleted, 3, "", "open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			h := newHandler(t, r)

			err := h.HandleEvent(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{tt.record}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(r.events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(r.events))
			}

			ev := r.events[0]
			if ev.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, ev.Type)
			}
			if ev.ID != "o1" {
				t.Errorf("expected id 'o1', got %v", ev.ID)
			}
			if ev.Generation != tt.wantGen {
				t.Errorf("expected generation %d, got %d", tt.wantGen, ev.Generation)
			}
			checkDoc(t, "new", ev.New, tt.wantNew)
			checkDoc(t, "old", ev.Old, tt.wantOld)
		})
	}
}

func checkDoc(t *testing.T, which string, doc *Order, status string) {
	t.Helper()
	if status == "" {
		if doc != nil {
			t.Errorf("expected no %s image, got %+v", which, doc)
		}
		return
	}
	if doc == nil {
		t.Fatalf("expected %s image", which)
	}
	if doc.Status != status || doc.ID != "o1" {
		t.Errorf("expected %s status %q, got %+v", which, status, doc)
	}
}

func TestHandleEvent_VersionFromGeneration(t *testing.T) {
	r := &recorder{}
	h := newHandler(t, r)

	rec := orderRecord("MODIFY", "1", orderImage("o1", "open", "6"), orderImage("o1", "paid", "7"))
	if err := h.HandleEvent(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{rec}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.events[0].New.Version != 7 || r.events[0].Old.Version != 6 {
		t.Errorf("expected versions 7 and 6, got %d and %d", r.events[0].New.Version, r.events[0].Old.Version)
	}
}

func TestHandleEvent_KeysOnly(t *testing.T) {
	r := &recorder{}
	h := newHandler(t, r)

	rec := orderRecord("REMOVE", "1", nil, nil)
	if err := h.HandleEvent(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{rec}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(r.events))
	}
	if r.events[0].ID != "o1" || r.events[0].New != nil || r.events[0].Old != nil {
		t.Errorf("unexpected event %+v", r.events[0])
	}
}

func TestHandleEvent_Skips(t *testing.T) {
	r := &recorder{}
	h := newHandler(t, r)

	other := orderRecord("INSERT", "1", nil, orderImage("o1", "open", "1"))
	other.EventSourceArn = "arn:aws:dynamodb:eu-west-1:123456789012:table/shop.Invoice/stream/2024-01-01T00:00:00.000"
	unknown := orderRecord("UNKNOWN", "2", nil, orderImage("o1", "open", "1"))

	err := h.HandleEvent(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{other, unknown}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.events) != 0 {
		t.Errorf("expected no events, got %d", len(r.events))
	}
}

func TestHandleEvent_EmptyEvent(t *testing.T) {
	h := newHandler(t, &recorder{})

	if err := h.HandleEvent(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestHandleEvent_DecodeError(t *testing.T) {
	h := newHandler(t, &recorder{})

	rec := orderRecord("INSERT", "1", nil, orderImage("o1", "open", "1"))
	rec.Change.Keys = nil

	err := h.HandleEvent(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{rec}})
	if !errors.Is(err, stream.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestHandleEvent_ListenerError(t *testing.T) {
	boom := errors.New("boom")
	h := newHandler(t, &recorder{fail: boom})

	rec := orderRecord("INSERT", "1", nil, orderImage("o1", "open", "1"))
	err := h.HandleEvent(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{rec}})
	if !errors.Is(err, boom) {
		t.Errorf("expected listener error, got %v", err)
	}
}

func TestHandleBatch_ReportsFirstFailure(t *testing.T) {
	calls := 0
	h, err := stream.NewHandler[Order](newDecoder(), func(_ context.Context, ev stream.Event[Order]) error {
		calls++
		if ev.EventID == "event-2" {
			return errors.New("boom")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		orderRecord("INSERT", "1", nil, orderImage("o1", "open", "1")),
		orderRecord("MODIFY", "2", orderImage("o1", "open", "1"), orderImage("o1", "paid", "2")),
		orderRecord("MODIFY", "3", orderImage("o1", "paid", "2"), orderImage("o1", "sent", "3")),
	}}

	resp, err := h.HandleBatch(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "2" {
		t.Errorf("expected failure at sequence 2, got %+v", resp.BatchItemFailures)
	}
	if calls != 2 {
		t.Errorf("expected 2 listener calls, got %d", calls)
	}
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		typ      stream.EventType
		expected string
	}{
		{stream.Created, "created"},
		{stream.Updated, "updated"},
		{stream.Deleted, "deleted"},
		{stream.Expired, "expired"},
		{stream.EventType(0), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}
