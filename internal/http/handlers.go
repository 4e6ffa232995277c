package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-allocation/internal/allocation"
	"github.com/example/trip-allocation/internal/batch"
	"github.com/example/trip-allocation/internal/dispatch"
	"github.com/example/trip-allocation/internal/ingest"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/observability"
	"github.com/example/trip-allocation/internal/storage"
)

type Engine interface {
	Allocate(ctx context.Context, tripID string, p allocation.Params) (allocation.Assignment, error)
	Cancel(ctx context.Context, tripID, reason string) (allocation.Cancellation, error)
	Stats(ctx context.Context, freshness time.Duration) (allocation.Stats, error)
	Nearby(ctx context.Context, at models.Coord, p allocation.Params, limit int) ([]allocation.NearbyDriver, error)
}

type BatchRunner interface {
	RunOnce(ctx context.Context) (batch.Report, error)
}

type LocationPublisher interface {
	PublishLocation(ctx context.Context, p models.LocationPing) error
}

// Dependencies wires the server. Batch, Publisher and WS are optional.
type Dependencies struct {
	Engine    Engine
	Batch     BatchRunner
	Drivers   storage.DriverStore
	Locations storage.LocationStore
	Publisher LocationPublisher
	WS        *dispatch.WSRegistry
	Params    allocation.Params
	Logger    *slog.Logger
	Clock     func() time.Time
}

type Server struct {
	deps   Dependencies
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	s := &Server{deps: d, logger: d.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/trips/{id}/allocate", s.handleAllocate).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/allocations/run", s.handleRunBatch).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/stats", s.handleStats).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/availability", s.handleAvailability).Methods("PUT")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// params applies optional max_radius_km and freshness query overrides to the
// configured parameters.
func (s *Server) params(r *http.Request) (allocation.Params, error) {
	p := s.deps.Params
	q := r.URL.Query()
	if v := q.Get("max_radius_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, &allocation.Error{Kind: allocation.KindInvalidInput, Reason: "max_radius_km must be a number"}
		}
		p.MaxRadiusKm = f
	}
	if v := q.Get("freshness"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return p, &allocation.Error{Kind: allocation.KindInvalidInput, Reason: "freshness must be a duration such as 5m"}
		}
		p.Freshness = d
	}
	return p, nil
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := s.deps.Engine.Allocate(r.Context(), mux.Vars(r)["id"], p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid JSON body"))
		return
	}
	c, err := s.deps.Engine.Cancel(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batch == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "unavailable", Reason: "batch allocation is not configured"})
		return
	}
	rep, err := s.deps.Batch.RunOnce(r.Context())
	if err != nil {
		s.logger.Error("batch pass failed", "error", err)
		writeError(w, &allocation.Error{Kind: allocation.KindStorageFailure, Reason: "list pending trips", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.deps.Engine.Stats(r.Context(), p.Freshness)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

const defaultNearbyLimit = 5

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, badRequest("lat and lng are required numbers"))
		return
	}
	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, badRequest("limit must be an integer"))
			return
		}
	}
	drivers, err := s.deps.Engine.Nearby(r.Context(), models.Coord{Lat: lat, Lng: lng}, p, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

type availabilityRequest struct {
	Availability models.Availability `json:"availability"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid JSON body"))
		return
	}
	if !req.Availability.Valid() {
		writeError(w, badRequest("availability must be active or inactive"))
		return
	}
	id := mux.Vars(r)["driver_id"]
	if err := s.deps.Drivers.SetAvailability(r.Context(), id, req.Availability); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, &allocation.Error{Kind: allocation.KindNotFound, Reason: "driver not found"})
			return
		}
		writeError(w, &allocation.Error{Kind: allocation.KindStorageFailure, Reason: "update availability", Err: err})
		return
	}
	s.logger.Info("driver availability changed", "driver_id", id, "availability", req.Availability)
	writeJSON(w, http.StatusOK, models.Driver{ID: id, Availability: req.Availability})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var p models.LocationPing
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		writeError(w, badRequest("invalid JSON body"))
		return
	}
	err := ingest.ApplyPing(r.Context(), p, s.deps.Locations, s.deps.Drivers, s.deps.Clock())
	switch {
	case errors.Is(err, ingest.ErrInvalidPing):
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		writeError(w, badRequest(err.Error()))
		return
	case errors.Is(err, storage.ErrNotFound):
		observability.LocationUpdates.WithLabelValues("error").Inc()
		writeError(w, &allocation.Error{Kind: allocation.KindNotFound, Reason: "driver not found"})
		return
	case err != nil:
		observability.LocationUpdates.WithLabelValues("error").Inc()
		writeError(w, &allocation.Error{Kind: allocation.KindStorageFailure, Reason: "store location", Err: err})
		return
	}
	observability.LocationUpdates.WithLabelValues("ok").Inc()
	// publish to kafka if configured
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishLocation(r.Context(), p); err != nil {
			s.logger.Warn("location publish failed", "driver_id", p.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.WS == nil {
		http.Error(w, "websocket delivery is not configured", http.StatusNotImplemented)
		return
	}
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", id, "error", err)
		return
	}
	s.deps.WS.Add(id, conn)
	// read until the driver disconnects so the session can be dropped
	go func() {
		defer func() {
			s.deps.WS.Remove(id, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func badRequest(reason string) *allocation.Error {
	return &allocation.Error{Kind: allocation.KindInvalidInput, Reason: reason}
}

func writeError(w http.ResponseWriter, err error) {
	var ae *allocation.Error
	if !errors.As(err, &ae) {
		ae = &allocation.Error{Kind: allocation.KindOf(err), Reason: err.Error()}
	}
	body := errorBody{Error: string(ae.Kind), Reason: ae.Reason}
	if ae.Kind == allocation.KindStorageFailure {
		// do not leak store internals
		body.Reason = "temporarily unavailable"
	}
	writeJSON(w, ae.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
