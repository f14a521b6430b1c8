package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/load-engine/loadplan"
	"github.com/warp/load-engine/milp"
	"github.com/warp/load-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSnapshot() loadplan.Snapshot {
	target := 24.5
	return loadplan.Snapshot{
		Flight: loadplan.Flight{Code: "CX2025", TargetCG: &target},
		Units: []loadplan.LoadUnit{
			{ID: "AKE1001CX", Weight: 1250.5, Volume: 4.3, Type: loadplan.UnitTypeAKE},
			{ID: "AMA2002CX", Weight: 3100, Priority: true, Type: loadplan.UnitTypeAMA},
			{ID: "AKE1003CX", Weight: 800.25, Type: loadplan.UnitTypeAKE},
		},
		Slots: []loadplan.Slot{
			{ID: "11L", X: 11, Y: -1, MaxWeight: 1587.5},
			{ID: "11R", X: 11, Y: 1, MaxWeight: 1587.5},
			{ID: "21P", X: 21, MaxWeight: 5035, AssignedUnit: "AMA2002CX", Fixed: true},
			{ID: "31L", X: 31, Y: -1, MaxWeight: 1587.5},
		},
	}
}

// =============================================================================
// FLIGHT REPOSITORY TESTS
// =============================================================================

func TestStore_SaveAndReadFlight(t *testing.T) {
	// GIVEN: A snapshot with decimal weights and a pinned slot
	// WHEN: Saving and reading it back
	// THEN: Every field round-trips in insertion order

	ctx := context.Background()
	store := newTestStore(t)
	snap := sampleSnapshot()

	saved, err := store.SaveFlight(ctx, snap)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	flight, err := store.FindFlight(ctx, "CX2025")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, flight.ID)
	require.NotNil(t, flight.TargetCG)
	assert.Equal(t, 24.5, *flight.TargetCG)

	units, err := store.Units(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Units, units)

	slots, err := store.Slots(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Slots, slots)
}

func TestStore_FindFlightNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FindFlight(context.Background(), "ZZ1")

	assert.ErrorIs(t, err, loadplan.ErrFlightNotFound)
}

func TestStore_FlightWithoutTarget(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	snap := sampleSnapshot()
	snap.Flight.TargetCG = nil

	_, err := store.SaveFlight(ctx, snap)
	require.NoError(t, err)

	flight, err := store.FindFlight(ctx, "CX2025")
	require.NoError(t, err)
	assert.Nil(t, flight.TargetCG)
}

func TestStore_SaveFlightReplacesTables(t *testing.T) {
	// GIVEN: CX2025 already stored
	// WHEN: Saving it again with one unit and one slot
	// THEN: The id is kept and the old manifest and slot table are gone

	ctx := context.Background()
	store := newTestStore(t)
	first, err := store.SaveFlight(ctx, sampleSnapshot())
	require.NoError(t, err)

	second, err := store.SaveFlight(ctx, loadplan.Snapshot{
		Flight: loadplan.Flight{Code: "CX2025"},
		Units:  []loadplan.LoadUnit{{ID: "U", Weight: 10}},
		Slots:  []loadplan.Slot{{ID: "S", X: 1, MaxWeight: 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	units, err := store.Units(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, units, 1)
	slots, err := store.Slots(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestStore_DuplicateUnitRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	snap := sampleSnapshot()
	snap.Units = append(snap.Units, snap.Units[0])

	_, err := store.SaveFlight(ctx, snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate unit AKE1001CX")

	_, err = store.FindFlight(ctx, "CX2025")
	assert.ErrorIs(t, err, loadplan.ErrFlightNotFound, "nothing committed")
}

func TestStore_SeedSkipsExistingFlights(t *testing.T) {
	// GIVEN: CX2025 stored with a custom manifest
	// WHEN: Seeding CX2025 and BA9
	// THEN: Only BA9 is inserted; CX2025 keeps its manifest

	ctx := context.Background()
	store := newTestStore(t)
	custom := loadplan.Snapshot{
		Flight: loadplan.Flight{Code: "CX2025"},
		Units:  []loadplan.LoadUnit{{ID: "ONLY", Weight: 1}},
	}
	flight, err := store.SaveFlight(ctx, custom)
	require.NoError(t, err)

	ba9 := sampleSnapshot()
	ba9.Flight.Code = "BA9"

	inserted, err := store.Seed(ctx, []loadplan.Snapshot{sampleSnapshot(), ba9})
	require.NoError(t, err)
	assert.Equal(t, []string{"BA9"}, inserted)

	units, err := store.Units(ctx, flight.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, loadplan.UnitID("ONLY"), units[0].ID)

	_, err = store.FindFlight(ctx, "BA9")
	assert.NoError(t, err)
}

func TestStore_LoadsIntoState(t *testing.T) {
	// GIVEN: A stored flight
	// WHEN: Building a State from the repository data
	// THEN: The pinned slot carries its unit's weight

	ctx := context.Background()
	store := newTestStore(t)
	flight, err := store.SaveFlight(ctx, sampleSnapshot())
	require.NoError(t, err)

	units, err := store.Units(ctx, flight.ID)
	require.NoError(t, err)
	slots, err := store.Slots(ctx, flight.ID)
	require.NoError(t, err)

	st, err := loadplan.NewState(loadplan.Snapshot{Flight: flight, Units: units, Slots: slots})
	require.NoError(t, err)

	slot, ok := st.Slot("21P")
	require.True(t, ok)
	assert.Equal(t, 3100.0, slot.CurrentWeight)
	assert.Equal(t, 21.0, st.CG())
}

// =============================================================================
// LAYOUT SINK TESTS
// =============================================================================

func TestStore_SaveLayout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	flight, err := store.SaveFlight(ctx, sampleSnapshot())
	require.NoError(t, err)

	items := []loadplan.LayoutItem{
		{UnitID: "AKE1001CX", SlotID: "11L", Weight: 1250.5, X: 11, Y: -1},
		{UnitID: "AMA2002CX", SlotID: "21P", Weight: 3100, X: 21},
	}
	require.NoError(t, store.SaveLayout(ctx, flight.ID, "job-1", items))
	require.NoError(t, store.SaveLayout(ctx, flight.ID, "job-2", items[:1]))

	gotFlight, got, err := store.Layout(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, flight.ID, gotFlight)
	assert.Equal(t, items, got)

	_, got, err = store.Layout(ctx, "job-2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_LayoutNotFound(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Layout(context.Background(), "missing")

	assert.ErrorIs(t, err, sqlite.ErrLayoutNotFound)
}

func TestStore_SaveLayoutUnknownFlight(t *testing.T) {
	// Foreign keys are enforced
	store := newTestStore(t)

	err := store.SaveLayout(context.Background(), 999, "job", []loadplan.LayoutItem{{UnitID: "U", SlotID: "S"}})

	assert.Error(t, err)
}

// =============================================================================
// SESSION INTEGRATION
// =============================================================================

func TestStore_BacksSession(t *testing.T) {
	// GIVEN: A session over the SQLite store, used as repository and sink
	// WHEN: Loading CX2025 and running the exact optimizer
	// THEN: The layout is readable back under the returned job id

	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.SaveFlight(ctx, sampleSnapshot())
	require.NoError(t, err)

	exact := loadplan.NewExactOptimizer(milp.NewBranchAndBound(milp.Options{}, nil), 0, nil)
	session := loadplan.NewSession(store, exact, loadplan.WithLayoutSink(store))

	st, err := session.LoadSnapshot(ctx, "cx2025")
	require.NoError(t, err)
	assert.Len(t, st.Unassigned(), 2)

	res, err := session.OptimizeExact(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 24.5, res.Target, "flight target")

	flightID, items, err := store.Layout(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, st.Flight().ID, flightID)
	assert.Len(t, items, 3, "movable rows plus the pinned one")
	assert.Equal(t, res.State.Layout(), items)
}
