// Package notify delivers offer notices to drivers. Connected drivers get
// them over a websocket session; everyone else falls back to an HTTP push
// endpoint. Delivery is best-effort and never blocks the dispatch path.
package notify

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNoSession = errors.New("no websocket session for driver")

// wsFrame is the envelope written to driver sockets.
type wsFrame struct {
	Type   string              `json:"type"` // "offer" or "rescind"
	RideID string              `json:"ride_id,omitempty"`
	Offer  *models.OfferNotice `json:"offer,omitempty"`
}

// WSSession is one connected driver socket.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(f wsFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

// WSRegistry tracks connected driver sessions.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, driverID)
}

func (r *WSRegistry) session(driverID string) *WSSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[driverID]
}

func (r *WSRegistry) Offer(driverID string, notice models.OfferNotice) error {
	s := r.session(driverID)
	if s == nil {
		return ErrNoSession
	}
	return s.send(wsFrame{Type: "offer", RideID: notice.RideID, Offer: &notice})
}

func (r *WSRegistry) Rescind(driverID, rideID string) error {
	s := r.session(driverID)
	if s == nil {
		return ErrNoSession
	}
	return s.send(wsFrame{Type: "rescind", RideID: rideID})
}

// marshal helpers kept package-local for the push fallback
func marshalOffer(rideID string, notice models.OfferNotice) []byte {
	b, _ := json.Marshal(map[string]any{"ride_id": rideID, "offer": notice})
	return b
}
