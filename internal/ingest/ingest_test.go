package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/observability"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeStore fails the first failUpserts calls.
type fakeStore struct {
	failUpserts int
	calls       int
	saved       []models.DriverLocation
}

func (f *fakeStore) Upsert(_ context.Context, loc models.DriverLocation) error {
	f.calls++
	if f.calls <= f.failUpserts {
		return errors.New("redis timeout")
	}
	f.saved = append(f.saved, loc)
	return nil
}

func (f *fakeStore) Locations(context.Context, []string) (map[string]models.DriverLocation, error) {
	return nil, nil
}

type fakeDrivers struct{ set map[string]models.Availability }

func (f *fakeDrivers) SetAvailability(_ context.Context, id string, a models.Availability) error {
	if f.set == nil {
		f.set = map[string]models.Availability{}
	}
	f.set[id] = a
	return nil
}

func noSleep(context.Context, time.Duration) {}

func message(t *testing.T, p models.LocationPing) kafka.Message {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte(p.DriverID), Value: b}
}

func TestToLocation(t *testing.T) {
	sent := now.Add(-10 * time.Second)
	loc, err := ToLocation(models.LocationPing{DriverID: "d1", Lat: 8.48, Lng: 76.91, SentAt: sent}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !loc.UpdatedAt.Equal(sent) {
		t.Fatalf("updated = %v, want send time", loc.UpdatedAt)
	}
	loc, _ = ToLocation(models.LocationPing{DriverID: "d1", Lat: 8.48, Lng: 76.91, SentAt: now.Add(time.Hour)}, now)
	if !loc.UpdatedAt.Equal(now) {
		t.Fatalf("future send time should be replaced by receive time, got %v", loc.UpdatedAt)
	}

	bad := []models.LocationPing{
		{Lat: 1, Lng: 1},
		{DriverID: "d1", Lat: 91, Lng: 0},
		{DriverID: "d1", Lat: 0, Lng: 0, Availability: "sleeping"},
	}
	for _, p := range bad {
		if _, err := ToLocation(p, now); !errors.Is(err, ErrInvalidPing) {
			t.Fatalf("ToLocation(%+v) err = %v, want ErrInvalidPing", p, err)
		}
	}
}

func TestApplyPing(t *testing.T) {
	ctx := context.Background()
	idx := geo.NewIndex()
	drivers := &fakeDrivers{}
	p := models.LocationPing{DriverID: "d1", Lat: 8.48, Lng: 76.91, Availability: models.DriverActive}
	if err := ApplyPing(ctx, p, idx, drivers, now); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := idx.Locations(ctx, []string{"d1"})
	if got["d1"].Lat != 8.48 || !got["d1"].UpdatedAt.Equal(now) {
		t.Fatalf("location not stored: %+v", got)
	}
	if drivers.set["d1"] != models.DriverActive {
		t.Fatalf("availability not applied: %v", drivers.set)
	}
	if err := ApplyPing(ctx, models.LocationPing{DriverID: "d2", Lat: 1, Lng: 1}, idx, nil, now); err != nil {
		t.Fatalf("apply without driver store: %v", err)
	}
}

func TestHandleRetriesStore(t *testing.T) {
	store := &fakeStore{failUpserts: 2}
	c := NewLocationConsumer(nil, store, nil, quiet())
	c.now = func() time.Time { return now }
	c.sleep = noSleep
	if err := c.Handle(context.Background(), message(t, models.LocationPing{DriverID: "d1", Lat: 1, Lng: 2})); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if store.calls != 3 || len(store.saved) != 1 {
		t.Fatalf("calls = %d saved = %d", store.calls, len(store.saved))
	}
}

func TestHandleFailsWhenRetriesExhausted(t *testing.T) {
	store := &fakeStore{failUpserts: 5}
	c := NewLocationConsumer(nil, store, nil, quiet())
	c.sleep = noSleep
	if err := c.Handle(context.Background(), message(t, models.LocationPing{DriverID: "d1", Lat: 1, Lng: 2})); err == nil {
		t.Fatal("expected error after retries")
	}
	if store.calls != 3 {
		t.Fatalf("calls = %d, want 3", store.calls)
	}
}

func TestHandleRejectsBadMessages(t *testing.T) {
	store := &fakeStore{}
	c := NewLocationConsumer(nil, store, nil, quiet())
	if err := c.Handle(context.Background(), kafka.Message{Value: []byte("{not json")}); err == nil {
		t.Fatal("expected decode error")
	}
	if err := c.Handle(context.Background(), message(t, models.LocationPing{DriverID: "d1", Lat: 200})); !errors.Is(err, ErrInvalidPing) {
		t.Fatalf("err = %v, want ErrInvalidPing", err)
	}
	if store.calls != 0 {
		t.Fatal("invalid messages reached the store")
	}
}

// scriptedReader yields queued messages and errors, then blocks until the
// context is cancelled.
type scriptedReader struct {
	items  []any
	cancel context.CancelFunc
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.items) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	it := r.items[0]
	r.items = r.items[1:]
	if err, ok := it.(error); ok {
		return kafka.Message{}, err
	}
	return it.(kafka.Message), nil
}

func TestRunBacksOffOnReadErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &fakeStore{}
	r := &scriptedReader{cancel: cancel, items: []any{
		errors.New("broker gone"),
		errors.New("broker gone"),
		message(t, models.LocationPing{DriverID: "d1", Lat: 1, Lng: 1}),
		errors.New("broker gone"),
	}}
	c := NewLocationConsumer(r, store, nil, quiet())
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) { waits = append(waits, d) }

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", waits, want)
		}
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d", len(store.saved))
	}
}

func TestRunCountsDroppedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &fakeStore{}
	r := &scriptedReader{cancel: cancel, items: []any{
		kafka.Message{Value: []byte("{not json")},
		message(t, models.LocationPing{DriverID: "", Lat: 1, Lng: 1}),
		message(t, models.LocationPing{DriverID: "d1", Lat: 1, Lng: 1}),
	}}
	c := NewLocationConsumer(r, store, nil, quiet())
	c.sleep = func(context.Context, time.Duration) {}

	before := testutil.ToFloat64(observability.ConsumerDropped)
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v", err)
	}
	if got := testutil.ToFloat64(observability.ConsumerDropped) - before; got != 2 {
		t.Fatalf("dropped = %v, want 2", got)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d", len(store.saved))
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestKafkaProducerRoutesByTopic(t *testing.T) {
	locs, events := &fakeWriter{}, &fakeWriter{}
	k := &KafkaProducer{locations: locs, events: events, timeout: time.Second}
	ctx := context.Background()
	if err := k.PublishLocation(ctx, models.LocationPing{DriverID: "d1", Lat: 1, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	if err := k.PublishEvent(ctx, models.TripEvent{Type: models.EventTripAssigned, TripID: "t1", DriverID: "d1"}); err != nil {
		t.Fatal(err)
	}
	if len(locs.msgs) != 1 || string(locs.msgs[0].Key) != "d1" {
		t.Fatalf("location messages %+v", locs.msgs)
	}
	var ev models.TripEvent
	if err := json.Unmarshal(events.msgs[0].Value, &ev); err != nil || ev.TripID != "t1" {
		t.Fatalf("event payload %s: %v", events.msgs[0].Value, err)
	}
	if err := k.Close(); err != nil || !locs.closed || !events.closed {
		t.Fatal("writers not closed")
	}

	// a producer without an events topic drops events
	k = &KafkaProducer{locations: locs, timeout: time.Second}
	if err := k.PublishEvent(ctx, models.TripEvent{TripID: "t2"}); err != nil {
		t.Fatal(err)
	}
}
