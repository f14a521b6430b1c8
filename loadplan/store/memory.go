// Package store provides in-memory FlightRepository and LayoutSink
// implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/load-engine/loadplan"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// SavedLayout is one layout received by the sink.
type SavedLayout struct {
	FlightID loadplan.FlightID
	JobID    string
	Items    []loadplan.LayoutItem
}

type Memory struct {
	mu      sync.RWMutex
	flights map[string]loadplan.Snapshot // by flight code
	byID    map[loadplan.FlightID]string
	layouts []SavedLayout
	nextID  loadplan.FlightID

	// SaveErr, when set, is returned by SaveLayout.
	SaveErr error
}

func NewMemory() *Memory {
	return &Memory{
		flights: make(map[string]loadplan.Snapshot),
		byID:    make(map[loadplan.FlightID]string),
		nextID:  1,
	}
}

// AddFlight registers a snapshot under its flight code. A zero flight ID is
// replaced by the next free one. Returns the stored flight.
func (m *Memory) AddFlight(snap loadplan.Snapshot) loadplan.Flight {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Flight.ID == 0 {
		snap.Flight.ID = m.nextID
	}
	if snap.Flight.ID >= m.nextID {
		m.nextID = snap.Flight.ID + 1
	}
	snap.Units = append([]loadplan.LoadUnit(nil), snap.Units...)
	snap.Slots = append([]loadplan.Slot(nil), snap.Slots...)
	m.flights[snap.Flight.Code] = snap
	m.byID[snap.Flight.ID] = snap.Flight.Code
	return snap.Flight
}

// FindFlight looks a flight up by code.
func (m *Memory) FindFlight(_ context.Context, code string) (loadplan.Flight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.flights[code]
	if !ok {
		return loadplan.Flight{}, fmt.Errorf("%w: %s", loadplan.ErrFlightNotFound, code)
	}
	return snap.Flight, nil
}

func (m *Memory) Units(_ context.Context, id loadplan.FlightID) ([]loadplan.LoadUnit, error) {
	snap, err := m.snapshot(id)
	if err != nil {
		return nil, err
	}
	return snap.Units, nil
}

func (m *Memory) Slots(_ context.Context, id loadplan.FlightID) ([]loadplan.Slot, error) {
	snap, err := m.snapshot(id)
	if err != nil {
		return nil, err
	}
	return snap.Slots, nil
}

func (m *Memory) snapshot(id loadplan.FlightID) (loadplan.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	code, ok := m.byID[id]
	if !ok {
		return loadplan.Snapshot{}, fmt.Errorf("%w: id %d", loadplan.ErrFlightNotFound, id)
	}
	snap := m.flights[code]
	snap.Units = append([]loadplan.LoadUnit(nil), snap.Units...)
	snap.Slots = append([]loadplan.Slot(nil), snap.Slots...)
	return snap, nil
}

// SaveLayout records a layout. Append-only.
func (m *Memory) SaveLayout(_ context.Context, flightID loadplan.FlightID, jobID string, items []loadplan.LayoutItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.layouts = append(m.layouts, SavedLayout{
		FlightID: flightID,
		JobID:    jobID,
		Items:    append([]loadplan.LayoutItem(nil), items...),
	})
	return nil
}

// Layouts returns every saved layout in arrival order.
func (m *Memory) Layouts() []SavedLayout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SavedLayout(nil), m.layouts...)
}
