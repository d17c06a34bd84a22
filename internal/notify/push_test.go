package notify

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestPushFallsBackWhenNoSession(t *testing.T) {
	var gotPath, gotMethod string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer gw.Close()

	p := NewPushNotifier(gw.URL, NewWSRegistry())
	notice := models.OfferNotice{RideID: "r1", Round: 1}
	if err := p.Offer("d1", notice); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost || gotPath != "/drivers/d1/offers" {
		t.Fatalf("offer push hit %s %s", gotMethod, gotPath)
	}

	if err := p.Rescind("d1", "r1"); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/drivers/d1/offers/r1" {
		t.Fatalf("rescind push hit %s %s", gotMethod, gotPath)
	}
}

func TestOfferWithoutSessionOrEndpoint(t *testing.T) {
	p := NewPushNotifier("", NewWSRegistry())
	if err := p.Offer("d1", models.OfferNotice{RideID: "r1"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestRegistryWithoutSession(t *testing.T) {
	r := NewWSRegistry()
	if err := r.Offer("ghost", models.OfferNotice{RideID: "r1"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := r.Rescind("ghost", "r1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	// removing an unknown driver is harmless
	r.Remove("ghost")
}
