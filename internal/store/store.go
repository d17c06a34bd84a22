// Package store is the durable record of ride state. The single write
// primitive is a compare-and-swap on the ride's version: any two concurrent
// transition attempts race on it and exactly one wins.
package store

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// RideStore is the persistence contract the lifecycle coordinator requires.
type RideStore interface {
	// Create persists a new ride. The ride's version must be 1.
	Create(ctx context.Context, r *models.Ride) error
	// Get returns the current ride snapshot, errs.ErrNotFound if absent.
	Get(ctx context.Context, rideID string) (*models.Ride, error)
	// CompareAndSwap replaces the stored ride with next iff the stored
	// version equals expectedVersion. next.Version must already be
	// expectedVersion+1. Returns errs.ErrVersionConflict on a losing race,
	// leaving stored state unchanged.
	CompareAndSwap(ctx context.Context, rideID string, expectedVersion int64, next *models.Ride) error
}

// Memory is the in-process store used by tests and single-binary runs.
type Memory struct {
	mu    sync.RWMutex
	rides map[string]models.Ride
}

func NewMemory() *Memory {
	return &Memory{rides: make(map[string]models.Ride)}
}

func (m *Memory) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return errs.ErrVersionConflict
	}
	m.rides[r.ID] = *r
	return nil
}

func (m *Memory) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, rideID string, expectedVersion int64, next *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[rideID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return errs.ErrVersionConflict
	}
	m.rides[rideID] = *next
	return nil
}
