package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

// Server is the passenger/driver REST ingress: ride creation, reads,
// lifecycle transitions, and heartbeat publication. Matching itself runs in
// the dispatcher process; this server only feeds the bus and the coordinator.
type Server struct {
	coord    *lifecycle.Coordinator
	rides    store.RideStore
	pub      bus.Publisher
	clk      clock.Clock
	logger   *slog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(coord *lifecycle.Coordinator, rides store.RideStore, pub bus.Publisher, clk clock.Clock, logger *slog.Logger) *Server {
	s := &Server{
		coord:    coord,
		rides:    rides,
		pub:      pub,
		clk:      clk,
		logger:   logger,
		validate: validator.New(),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancelRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/start", s.transitionHandler(lifecycle.EventStart)).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/finish", s.transitionHandler(lifecycle.EventFinish)).Methods("POST")
	s.mux.HandleFunc("/internal/driver/heartbeats", s.handleHeartbeat).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var in models.RideRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errs.ErrInvalidRequest, err.Error())
		return
	}
	ride, err := s.coord.CreateRide(r.Context(), in)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.Get(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type transitionRequest struct {
	ExpectedVersion int64  `json:"expected_version" validate:"required,gt=0"`
	Actor           string `json:"actor" validate:"required"`
	Reason          string `json:"reason,omitempty"`
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var in transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errs.ErrInvalidRequest, err.Error())
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeError(w, errs.ErrInvalidRequest, err.Error())
		return
	}
	ride, err := s.coord.CancelRide(r.Context(), mux.Vars(r)["ride_id"], in.ExpectedVersion, in.Actor, in.Reason)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) transitionHandler(ev lifecycle.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, errs.ErrInvalidRequest, err.Error())
			return
		}
		if err := s.validate.Struct(in); err != nil {
			writeError(w, errs.ErrInvalidRequest, err.Error())
			return
		}
		ride, err := s.coord.ApplyTransition(r.Context(), mux.Vars(r)["ride_id"], in.ExpectedVersion, ev, in.Actor)
		if err != nil {
			writeError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, ride)
	}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, errs.ErrInvalidRequest, err.Error())
		return
	}
	if err := s.validate.Struct(hb); err != nil {
		writeError(w, errs.ErrInvalidRequest, err.Error())
		return
	}
	if hb.SentAt.IsZero() {
		hb.SentAt = s.clk.Now()
	}
	if err := s.pub.Publish(r.Context(), events.TopicDriverHeartbeat, hb.DriverID, events.MarshalHeartbeat(hb)); err != nil {
		writeError(w, err, "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, detail string) {
	msg := err.Error()
	if detail != "" {
		msg = detail
	}
	writeJSON(w, errs.HTTPStatus(err), map[string]string{"error": msg})
}
