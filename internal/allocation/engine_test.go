package allocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/example/trip-allocation/internal/distance"
	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/storage"
)

var (
	now    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pickup = models.Coord{Lat: 8.482959, Lng: 76.916095}
)

func clock() time.Time { return now }

type fixture struct {
	store  *storage.MemoryStore
	index  *geo.Index
	engine *Engine
	events *recordingNotifier
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.TripEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev models.TripEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func newFixture(t *testing.T, est distance.Estimator) *fixture {
	t.Helper()
	f := &fixture{store: storage.NewMemoryStore(), index: geo.NewIndex(), events: &recordingNotifier{}}
	f.engine = NewEngine(Options{
		Trips:              f.store,
		Drivers:            f.store,
		Locations:          f.index,
		Estimator:          est,
		ScoringConcurrency: 4,
		Notifier:           f.events,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:              clock,
	})
	return f
}

func (f *fixture) driver(t *testing.T, id string, lat, lng float64, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.UpsertDriver(ctx, models.Driver{ID: id, Availability: models.DriverActive}); err != nil {
		t.Fatalf("driver %s: %v", id, err)
	}
	if err := f.index.Upsert(ctx, models.DriverLocation{DriverID: id, Lat: lat, Lng: lng, UpdatedAt: now.Add(-age)}); err != nil {
		t.Fatalf("location %s: %v", id, err)
	}
}

func (f *fixture) trip(t *testing.T, id string, p *models.Coord) {
	t.Helper()
	tr := models.Trip{ID: id, RiderID: "rider", Pickup: p, Status: models.TripPending, CreatedAt: now.Add(-time.Minute)}
	if err := f.store.SaveTrip(context.Background(), tr); err != nil {
		t.Fatalf("trip %s: %v", id, err)
	}
}

// scenarioDrivers are about 0.012 km, 0.49 km and 4.2 km from pickup.
func (f *fixture) scenarioDrivers(t *testing.T) {
	f.driver(t, "near", 8.483000, 76.916200, time.Minute)
	f.driver(t, "mid", 8.485000, 76.920000, time.Minute)
	f.driver(t, "far", 8.500000, 76.950000, time.Minute)
}

func coordPtr(c models.Coord) *models.Coord { return &c }

func TestAllocateNearestDriver(t *testing.T) {
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))

	a, err := f.engine.Allocate(context.Background(), "t1", DefaultParams())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if a.DriverID != "near" {
		t.Fatalf("driver = %s, want near", a.DriverID)
	}
	if a.DistanceKm > 0.05 {
		t.Fatalf("distance = %.4f, want under 0.05", a.DistanceKm)
	}
	if a.ETAMinutes != 5 {
		t.Fatalf("eta = %d, want the 5 minute floor", a.ETAMinutes)
	}
	if !a.AssignedAt.Equal(now) || a.Source != distance.SourceHaversine {
		t.Fatalf("unexpected assignment %+v", a)
	}

	tr, _ := f.store.GetTrip(context.Background(), "t1")
	if tr.Status != models.TripAccepted || tr.DriverID == nil || *tr.DriverID != "near" {
		t.Fatalf("trip not committed: %+v", tr)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != models.EventTripAssigned || f.events.events[0].DriverID != "near" {
		t.Fatalf("unexpected events %+v", f.events.events)
	}
}

func TestAllocateOutOfRadius(t *testing.T) {
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))

	_, err := f.engine.Allocate(context.Background(), "t1", Params{MaxRadiusKm: 0.01, Freshness: 5 * time.Minute})
	if !errors.Is(err, ErrOutOfRadius) {
		t.Fatalf("err = %v, want out_of_radius", err)
	}
	tr, _ := f.store.GetTrip(context.Background(), "t1")
	if !tr.Unassigned() {
		t.Fatal("trip should stay pending")
	}
}

func TestAllocateNoCandidates(t *testing.T) {
	f := newFixture(t, distance.Geometric{})
	f.trip(t, "t1", coordPtr(pickup))
	if _, err := f.engine.Allocate(context.Background(), "t1", DefaultParams()); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err = %v, want no_candidates", err)
	}

	// drivers exist but are stale or off duty
	f.driver(t, "stale", 8.483, 76.9162, 10*time.Minute)
	f.driver(t, "off", 8.483, 76.9162, time.Minute)
	if err := f.store.SetAvailability(context.Background(), "off", models.DriverInactive); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.Allocate(context.Background(), "t1", DefaultParams())
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err = %v, want no_candidates", err)
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Reason != ReasonNoFreshDrivers {
		t.Fatalf("reason = %v", err)
	}
}

func TestFreshnessBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	window := 5 * time.Minute
	f.driver(t, "edge", 8.483, 76.9162, window)
	f.driver(t, "older", 8.483, 76.9162, window+time.Nanosecond)
	f.driver(t, "newer", 8.483, 76.9162, window-time.Nanosecond)

	cands, err := f.engine.filter.Eligible(ctx, window)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	got := make([]string, len(cands))
	for i, c := range cands {
		got[i] = c.Driver.ID
	}
	if len(got) != 2 || got[0] != "edge" || got[1] != "newer" {
		t.Fatalf("eligible = %v, want [edge newer]", got)
	}
	if _, err := f.engine.filter.Eligible(ctx, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero window err = %v, want invalid_input", err)
	}
}

func TestOccupiedDriverIsNotACandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))
	f.trip(t, "t2", coordPtr(pickup))

	if a, err := f.engine.Allocate(ctx, "t1", DefaultParams()); err != nil || a.DriverID != "near" {
		t.Fatalf("first allocation: %+v %v", a, err)
	}
	a, err := f.engine.Allocate(ctx, "t2", DefaultParams())
	if err != nil {
		t.Fatalf("second allocation: %v", err)
	}
	if a.DriverID != "mid" {
		t.Fatalf("driver = %s, want mid", a.DriverID)
	}
}

func TestTieGoesToLowestDriverID(t *testing.T) {
	f := newFixture(t, distance.Geometric{})
	for _, id := range []string{"d-3", "d-1", "d-2"} {
		f.driver(t, id, 8.483, 76.9162, time.Minute)
	}
	f.trip(t, "t1", coordPtr(pickup))
	for i := 0; i < 5; i++ {
		cands, err := f.engine.filter.Eligible(context.Background(), 5*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		sel, err := f.engine.selector.Select(context.Background(), pickup, cands, 10)
		if err != nil {
			t.Fatal(err)
		}
		if sel.Candidate.Driver.ID != "d-1" {
			t.Fatalf("run %d: selected %s, want d-1", i, sel.Candidate.Driver.ID)
		}
	}
}

func TestSelectReturnsMinimumWithinRadius(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := &Selector{Estimator: distance.Geometric{}, Concurrency: 3}
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(12)
		cands := make([]Candidate, n)
		for i := range cands {
			lat := pickup.Lat + (rng.Float64()-0.5)*0.2
			lng := pickup.Lng + (rng.Float64()-0.5)*0.2
			cands[i] = Candidate{
				Driver:   models.Driver{ID: fmt.Sprintf("d%02d", i)},
				Location: models.DriverLocation{DriverID: fmt.Sprintf("d%02d", i), Lat: lat, Lng: lng},
			}
		}
		radius := 1 + rng.Float64()*6

		bestID, bestDist := "", 0.0
		for _, c := range cands {
			d := geo.Distance(c.Location.Coord(), pickup)
			if d <= radius && (bestID == "" || d < bestDist) {
				bestID, bestDist = c.Driver.ID, d
			}
		}

		sel, err := s.Select(context.Background(), pickup, cands, radius)
		if bestID == "" {
			if !errors.Is(err, ErrOutOfRadius) {
				t.Fatalf("round %d: err = %v, want out_of_radius", round, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if sel.Candidate.Driver.ID != bestID {
			t.Fatalf("round %d: selected %s at %.4f, want %s at %.4f", round,
				sel.Candidate.Driver.ID, sel.Estimate.DistanceKm, bestID, bestDist)
		}
	}
}

func TestSelectRadiusIsInclusive(t *testing.T) {
	s := &Selector{Estimator: fixedEstimator(2.0)}
	cands := []Candidate{{Driver: models.Driver{ID: "a"}, Location: models.DriverLocation{DriverID: "a", Lat: 1, Lng: 1}}}
	if _, err := s.Select(context.Background(), pickup, cands, 2.0); err != nil {
		t.Fatalf("candidate exactly at the radius should be selected: %v", err)
	}
	if _, err := s.Select(context.Background(), pickup, cands, 1.999); !errors.Is(err, ErrOutOfRadius) {
		t.Fatalf("err = %v, want out_of_radius", err)
	}
	if _, err := s.Select(context.Background(), pickup, nil, 2.0); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err = %v, want no_candidates", err)
	}
}

// fixedEstimator reports the same distance for every pair.
type fixedEstimator float64

func (f fixedEstimator) Estimate(context.Context, models.Coord, models.Coord) (distance.Estimate, error) {
	return distance.Estimate{DistanceKm: float64(f), Source: distance.SourceRoad}, nil
}

func TestAllocateRejectsBadTrips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.trip(t, "no-pickup", nil)
	f.trip(t, "bad-pickup", &models.Coord{Lat: 123, Lng: 0})

	tests := []struct {
		id   string
		p    Params
		want *Error
	}{
		{"no-pickup", DefaultParams(), ErrInvalidInput},
		{"bad-pickup", DefaultParams(), ErrInvalidInput},
		{"missing", DefaultParams(), ErrNotFound},
		{"", DefaultParams(), ErrInvalidInput},
		{"no-pickup", Params{MaxRadiusKm: 0, Freshness: time.Minute}, ErrInvalidInput},
		{"no-pickup", Params{MaxRadiusKm: 1}, ErrInvalidInput},
	}
	for _, tt := range tests {
		if _, err := f.engine.Allocate(ctx, tt.id, tt.p); !errors.Is(err, tt.want) {
			t.Fatalf("Allocate(%q, %+v) err = %v, want %s", tt.id, tt.p, err, tt.want.Kind)
		}
	}
}

func TestAllocateResolvedTripIsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))
	if _, err := f.engine.Allocate(ctx, "t1", DefaultParams()); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.Allocate(ctx, "t1", DefaultParams())
	if !errors.Is(err, ErrConflict) || !errors.Is(err, storage.ErrTripNotPending) {
		t.Fatalf("err = %v, want conflict on a resolved trip", err)
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Reason != ReasonAlreadyResolved || ae.HTTPStatus() != http.StatusConflict {
		t.Fatalf("unexpected error %#v", ae)
	}
}

// racingStore lets another trip take the selected driver right before the
// commit lands.
type racingStore struct {
	*storage.MemoryStore
	thief string
}

func (r *racingStore) CommitAssignment(ctx context.Context, tripID, driverID string, at time.Time) (models.Trip, error) {
	if r.thief != "" {
		thief := r.thief
		r.thief = ""
		if _, err := r.MemoryStore.CommitAssignment(ctx, thief, driverID, at); err != nil {
			return models.Trip{}, err
		}
	}
	return r.MemoryStore.CommitAssignment(ctx, tripID, driverID, at)
}

func TestDriverLostBeforeCommitIsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))
	f.trip(t, "thief", coordPtr(pickup))
	rs := &racingStore{MemoryStore: f.store, thief: "thief"}
	e := NewEngine(Options{Trips: rs, Drivers: rs, Locations: f.index, Clock: clock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	_, err := e.Allocate(ctx, "t1", DefaultParams())
	if !errors.Is(err, ErrConflict) || !errors.Is(err, storage.ErrDriverOccupied) {
		t.Fatalf("err = %v, want conflict with driver occupied", err)
	}
	tr, _ := f.store.GetTrip(ctx, "t1")
	if !tr.Unassigned() {
		t.Fatal("trip should remain pending after losing its driver")
	}

	// a fresh attempt re-runs selection and picks the next driver
	a, err := e.Allocate(ctx, "t1", DefaultParams())
	if err != nil || a.DriverID != "mid" {
		t.Fatalf("retry: %+v %v", a, err)
	}
}

func TestConcurrentAllocateSameTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))

	const callers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.Allocate(ctx, "t1", DefaultParams())
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d callers succeeded, want 1", wins)
	}
	tr, _ := f.store.GetTrip(ctx, "t1")
	if tr.Status != models.TripAccepted || !tr.Consistent() {
		t.Fatalf("inconsistent trip %+v", tr)
	}
	occ, _ := f.store.OccupiedDrivers(ctx)
	if len(occ) != 1 {
		t.Fatalf("occupied drivers = %v, want exactly one", occ)
	}
}

func TestConcurrentTripsCompeteForOneDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.driver(t, "only", 8.483, 76.9162, time.Minute)
	f.trip(t, "t1", coordPtr(pickup))
	f.trip(t, "t2", &models.Coord{Lat: 8.4831, Lng: 76.9163})

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := map[string]error{}
	var mu sync.Mutex
	for _, id := range []string{"t1", "t2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := f.engine.Allocate(ctx, id, DefaultParams())
			mu.Lock()
			results[id] = err
			mu.Unlock()
		}(id)
	}
	close(start)
	wg.Wait()

	accepted, pending := 0, 0
	for id, err := range results {
		tr, _ := f.store.GetTrip(ctx, id)
		switch {
		case err == nil:
			accepted++
			if tr.Status != models.TripAccepted || *tr.DriverID != "only" {
				t.Fatalf("%s: %+v", id, tr)
			}
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNoCandidates):
			pending++
			if !tr.Unassigned() {
				t.Fatalf("%s lost but is %+v", id, tr)
			}
		default:
			t.Fatalf("%s: unexpected error %v", id, err)
		}
	}
	if accepted != 1 || pending != 1 {
		t.Fatalf("accepted=%d pending=%d", accepted, pending)
	}
}

func TestCancelReleasesDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.driver(t, "only", 8.483, 76.9162, time.Minute)
	f.trip(t, "t1", coordPtr(pickup))
	f.trip(t, "t2", coordPtr(pickup))

	if _, err := f.engine.Cancel(ctx, "t1", "rider cancelled"); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancel pending err = %v, want conflict", err)
	}
	if _, err := f.engine.Allocate(ctx, "t1", DefaultParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Allocate(ctx, "t2", DefaultParams()); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err = %v, want no_candidates while the only driver is busy", err)
	}
	c, err := f.engine.Cancel(ctx, "t1", "rider cancelled")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c.DriverID != "only" || c.Reason != "rider cancelled" || !c.CancelledAt.Equal(now) {
		t.Fatalf("unexpected cancellation %+v", c)
	}
	tr, _ := f.store.GetTrip(ctx, "t1")
	if tr.Status != models.TripCancelled || tr.DriverID != nil || tr.CancellationReason != "rider cancelled" {
		t.Fatalf("unexpected trip %+v", tr)
	}
	if _, err := f.engine.Cancel(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}

	a, err := f.engine.Allocate(ctx, "t2", DefaultParams())
	if err != nil || a.DriverID != "only" {
		t.Fatalf("released driver not reusable: %+v %v", a, err)
	}
	last := f.events.events[len(f.events.events)-2]
	if last.Type != models.EventTripCancelled || last.TripID != "t1" {
		t.Fatalf("cancel event missing: %+v", f.events.events)
	}
}

func TestCancelAcceptsEmptyReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.driver(t, "only", 8.483, 76.9162, time.Minute)
	f.trip(t, "t1", coordPtr(pickup))
	if _, err := f.engine.Allocate(ctx, "t1", DefaultParams()); err != nil {
		t.Fatal(err)
	}
	c, err := f.engine.Cancel(ctx, "t1", "  ")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c.DriverID != "only" || c.Reason != "" {
		t.Fatalf("unexpected cancellation %+v", c)
	}
	tr, _ := f.store.GetTrip(ctx, "t1")
	if tr.Status != models.TripCancelled || tr.CancelledAt == nil {
		t.Fatalf("unexpected trip %+v", tr)
	}
}

func TestDriverReferenceInvariantHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	for i := 0; i < 4; i++ {
		f.driver(t, fmt.Sprintf("d%d", i), 8.483+float64(i)*0.001, 76.9162, time.Minute)
	}
	ids := make([]string, 6)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%d", i)
		f.trip(t, ids[i], coordPtr(pickup))
	}
	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 200; step++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(2) == 0 {
			_, _ = f.engine.Allocate(ctx, id, DefaultParams())
		} else {
			_, _ = f.engine.Cancel(ctx, id, "shuffle")
		}
		for _, tid := range ids {
			tr, _ := f.store.GetTrip(ctx, tid)
			if !tr.Consistent() {
				t.Fatalf("step %d: trip %s inconsistent: %+v", step, tid, tr)
			}
		}
	}
}

type failingProvider struct{ calls int }

func (p *failingProvider) Route(context.Context, models.Coord, models.Coord, distance.Mode) (distance.Route, error) {
	p.calls++
	return distance.Route{}, errors.New("provider down")
}

func TestAllocateFallsBackWhenProviderFails(t *testing.T) {
	p := &failingProvider{}
	road := distance.NewRoad(p, distance.Geometric{}, distance.ModeDriving, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f := newFixture(t, road)
	f.engine.selector.Concurrency = 1
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))

	a, err := f.engine.Allocate(context.Background(), "t1", DefaultParams())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if a.DriverID != "near" || a.Source != distance.SourceHaversine {
		t.Fatalf("unexpected assignment %+v", a)
	}
	if p.calls != 3 {
		t.Fatalf("provider called %d times, want once per candidate", p.calls)
	}
}

func TestNotifierFailureDoesNotFailAllocation(t *testing.T) {
	f := newFixture(t, distance.Geometric{})
	f.events.err = errors.New("webhook down")
	f.scenarioDrivers(t)
	f.trip(t, "t1", coordPtr(pickup))
	if _, err := f.engine.Allocate(context.Background(), "t1", DefaultParams()); err != nil {
		t.Fatalf("allocate: %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, distance.Geometric{})
	f.scenarioDrivers(t)
	f.driver(t, "stale", 8.49, 76.92, time.Hour)
	f.driver(t, "off", 8.49, 76.92, time.Minute)
	if err := f.store.SetAvailability(ctx, "off", models.DriverInactive); err != nil {
		t.Fatal(err)
	}
	if err := f.store.UpsertDriver(ctx, models.Driver{ID: "nowhere", Availability: models.DriverActive}); err != nil {
		t.Fatal(err)
	}
	f.trip(t, "t1", coordPtr(pickup))
	if _, err := f.engine.Allocate(ctx, "t1", DefaultParams()); err != nil {
		t.Fatal(err)
	}

	st, err := f.engine.Stats(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{
		TotalDrivers:       6,
		ActiveDrivers:      5,
		WithRecentLocation: 4,
		OccupiedDrivers:    1,
		AvailableDrivers:   2,
		FreshnessMinutes:   5,
	}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}
}

func TestETAPolicy(t *testing.T) {
	p := DefaultETAPolicy()
	tests := []struct {
		km   float64
		want int
	}{
		{0, 5},
		{0.05, 5},
		{2.4, 5},
		{2.5, 5},
		{3.0, 6},
		{4.18, 8},
		{10, 20},
	}
	for _, tt := range tests {
		if got := p.Minutes(tt.km); got != tt.want {
			t.Fatalf("Minutes(%v) = %d, want %d", tt.km, got, tt.want)
		}
	}
}

func TestKindOfAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{newError(KindNoCandidates, ReasonNoFreshDrivers, nil), KindNoCandidates, http.StatusUnprocessableEntity},
		{newError(KindOutOfRadius, "r", nil), KindOutOfRadius, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", storage.ErrDriverOccupied), KindConflict, http.StatusConflict},
		{storage.ErrNotFound, KindNotFound, http.StatusNotFound},
		{distance.ErrInvalidCoordinate, KindInvalidInput, http.StatusBadRequest},
		{context.DeadlineExceeded, KindStorageFailure, http.StatusServiceUnavailable},
		{errors.New("connection reset"), KindStorageFailure, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Fatalf("KindOf(%v) = %s, want %s", tt.err, got, tt.kind)
		}
		if got := classify(tt.err, "x").HTTPStatus(); got != tt.status {
			t.Fatalf("status(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
	if KindOf(nil) != "" {
		t.Fatal("nil error should have no kind")
	}
}
