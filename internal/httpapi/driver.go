package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
)

// DriverAPI is the dispatcher process's ingress: drivers hold a websocket
// here for offer delivery and answer offers over REST or the socket itself.
type DriverAPI struct {
	engine *dispatch.Engine
	wsreg  *notify.WSRegistry
	logger *slog.Logger
	mux    *mux.Router
}

func NewDriverAPI(engine *dispatch.Engine, wsreg *notify.WSRegistry, logger *slog.Logger) *DriverAPI {
	a := &DriverAPI{engine: engine, wsreg: wsreg, logger: logger, mux: mux.NewRouter()}
	a.routes()
	return a
}

func (a *DriverAPI) routes() {
	a.mux.HandleFunc("/api/v1/rides/{ride_id}/respond", a.handleRespond).Methods("POST")
	a.mux.HandleFunc("/ws/drivers/{driver_id}", a.handleWS)
	a.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	a.mux.Handle("/metrics", promhttp.Handler())
}

func (a *DriverAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.mux.ServeHTTP(w, r) }

func (a *DriverAPI) handleRespond(w http.ResponseWriter, r *http.Request) {
	var resp models.DriverResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, errs.ErrInvalidRequest, err.Error())
		return
	}
	resp.RideID = mux.Vars(r)["ride_id"]
	if resp.DriverID == "" {
		writeError(w, errs.ErrInvalidRequest, "driver_id is required")
		return
	}

	ride, err := a.engine.HandleResponse(r.Context(), resp)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if ride == nil {
		// a decline (or a decline on an already-resolved round) has no body
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

var upgrader = websocket.Upgrader{}

func (a *DriverAPI) handleWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	a.wsreg.Add(driverID, conn)

	// read loop: drivers may answer offers on the socket; a read error
	// drops the session. The request context dies with this handler, so
	// responses run on their own context.
	ctx := context.Background()
	go func() {
		defer func() {
			a.wsreg.Remove(driverID)
			_ = conn.Close()
		}()
		for {
			var resp models.DriverResponse
			if err := conn.ReadJSON(&resp); err != nil {
				return
			}
			resp.DriverID = driverID
			if resp.RideID == "" {
				continue
			}
			if _, err := a.engine.HandleResponse(ctx, resp); err != nil {
				if !errors.Is(err, errs.ErrRideAlreadyAssigned) && !errors.Is(err, errs.ErrOfferExpired) {
					a.logger.Warn("ws offer response rejected", "driver_id", driverID, "error", err)
				}
				_ = conn.WriteJSON(map[string]string{"ride_id": resp.RideID, "error": err.Error()})
			}
		}
	}()
}
