package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/example/trip-allocation/internal/distance"
	"github.com/example/trip-allocation/internal/models"
)

// Selection is the nearest in-radius candidate and its estimate.
type Selection struct {
	Candidate Candidate
	Estimate  distance.Estimate
}

// Selector scores candidates with an Estimator and picks the nearest one.
type Selector struct {
	Estimator   distance.Estimator
	Concurrency int
	Logger      *slog.Logger
}

// Select returns the candidate with the minimum distance to pickup among
// those with distance <= maxRadiusKm. Candidates are scored concurrently but
// reduced in slice order with a strict comparison, so on equal distances the
// earliest candidate wins. Filter output is sorted by driver id, which makes
// that the lowest id.
//
// A candidate whose stored location is unusable is skipped. Any other
// estimator error aborts the selection.
func (s *Selector) Select(ctx context.Context, pickup models.Coord, cands []Candidate, maxRadiusKm float64) (Selection, error) {
	if maxRadiusKm <= 0 {
		return Selection{}, newError(KindInvalidInput, fmt.Sprintf("max radius must be positive, got %v", maxRadiusKm), nil)
	}
	if len(cands) == 0 {
		return Selection{}, newError(KindNoCandidates, ReasonNoFreshDrivers, nil)
	}

	type scored struct {
		est distance.Estimate
		ok  bool
	}
	results := make([]scored, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, c := range cands {
		g.Go(func() error {
			est, err := s.Estimator.Estimate(gctx, c.Location.Coord(), pickup)
			if errors.Is(err, distance.ErrInvalidCoordinate) {
				s.logger().Warn("skipping candidate with unusable location",
					"driver_id", c.Driver.ID, "error", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("estimate driver %s: %w", c.Driver.ID, err)
			}
			results[i] = scored{est: est, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Selection{}, classify(err, "score candidates")
	}

	best, usable := -1, 0
	for i, r := range results {
		if !r.ok {
			continue
		}
		usable++
		if r.est.DistanceKm > maxRadiusKm {
			continue
		}
		if best < 0 || r.est.DistanceKm < results[best].est.DistanceKm {
			best = i
		}
	}
	if usable == 0 {
		return Selection{}, newError(KindNoCandidates, ReasonNoFreshDrivers, nil)
	}
	if best < 0 {
		return Selection{}, newError(KindOutOfRadius, fmt.Sprintf("no drivers within %g km", maxRadiusKm), nil)
	}
	return Selection{Candidate: cands[best], Estimate: results[best].est}, nil
}

func (s *Selector) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
