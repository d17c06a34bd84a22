package notify

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// PushNotifier tries the driver's websocket first and falls back to posting
// the notice to an external push gateway (e.g. the driver-app backend).
type PushNotifier struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushNotifier(endpoint string, ws *WSRegistry) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushNotifier) Offer(driverID string, notice models.OfferNotice) error {
	if p.WS != nil {
		if err := p.WS.Offer(driverID, notice); err == nil || !errors.Is(err, ErrNoSession) {
			return err
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	resp, err := p.Client.Post(p.Endpoint+"/drivers/"+driverID+"/offers", "application/json",
		bytes.NewReader(marshalOffer(notice.RideID, notice)))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *PushNotifier) Rescind(driverID, rideID string) error {
	if p.WS != nil {
		if err := p.WS.Rescind(driverID, rideID); err == nil || !errors.Is(err, ErrNoSession) {
			return err
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	req, err := http.NewRequest(http.MethodDelete, p.Endpoint+"/drivers/"+driverID+"/offers/"+rideID, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
