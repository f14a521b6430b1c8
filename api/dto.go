/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the loadplan domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Layout:
    LayoutDTO, PositionDTO, ULDDTO

  Requests:
    LoadFlightRequest, AssignRequest, UnassignRequest, SlotPairRequest,
    OptimizeRequest

  Results:
    MutationResponse, OptimizeResponse, SavedLayoutDTO

VALIDATION:
  Request types carry go-playground/validator tags; handlers validate them
  right after decoding. Field names follow the frontend's wire format
  (uld_id, position_id, isPriority, isFixed).

SEE ALSO:
  - handlers.go: Uses these types
  - factory/snapshot.go: Document types for flight import
*/
package api

import (
	"github.com/warp/load-engine/loadplan"
)

// =============================================================================
// LAYOUT
// =============================================================================

// ULDDTO represents a load unit in API responses.
type ULDDTO struct {
	ID         string  `json:"id"`
	Weight     float64 `json:"weight"`
	Volume     float64 `json:"volume"`
	IsPriority bool    `json:"isPriority"`
	Type       string  `json:"type,omitempty"`
}

// PositionDTO represents a slot in API responses.
type PositionDTO struct {
	ID            string  `json:"id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	MaxWeight     float64 `json:"max_weight"`
	CurrentWeight float64 `json:"current_weight"`
	AssignedULD   *string `json:"assigned_uld"`
	IsFixed       bool    `json:"isFixed"`
}

// LayoutDTO is the full view of the loaded flight.
type LayoutDTO struct {
	Flight            string        `json:"flight"`
	FlightID          int64         `json:"flight_id"`
	TargetCG          *float64      `json:"target_cg,omitempty"`
	Positions         []PositionDTO `json:"positions"`
	ULDs              []ULDDTO      `json:"ulds"`
	UnassignedULDs    []ULDDTO      `json:"unassignedUlds"`
	CG                float64       `json:"cgValue"`
	Score             float64       `json:"score"`
	Suggestion        string        `json:"suggestion"`
	RecentlyOptimized []string      `json:"recentOptimizedPositions"`
	Busy              bool          `json:"isLoading"`
}

// LayoutItemDTO is one unit->position row of a computed layout.
type LayoutItemDTO struct {
	ULDID      string  `json:"uldId"`
	PositionID string  `json:"positionId"`
	X          float64 `json:"xpos"`
	Y          float64 `json:"ypos"`
	Weight     float64 `json:"weight"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// LoadFlightRequest selects a flight by number.
type LoadFlightRequest struct {
	FlightNo string `json:"flight_no" validate:"required"`
}

// AssignRequest places (or swaps in) a unit at a position.
type AssignRequest struct {
	ULDID      string `json:"uld_id" validate:"required"`
	PositionID string `json:"position_id" validate:"required"`
}

// UnassignRequest empties a position.
type UnassignRequest struct {
	PositionID string `json:"position_id" validate:"required"`
}

// SlotPairRequest names two positions for move and swap-slots.
type SlotPairRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required,nefield=From"`
}

// OptimizeRequest runs the exact optimizer. When FlightNo is set the flight
// is loaded first; TargetCG overrides the flight's target.
type OptimizeRequest struct {
	FlightNo string   `json:"flight_no,omitempty"`
	TargetCG *float64 `json:"target_cg,omitempty"`
}

// =============================================================================
// RESULTS
// =============================================================================

// MutationResponse reports an edit together with the resulting layout.
type MutationResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Touched []string  `json:"touched,omitempty"`
	Layout  LayoutDTO `json:"layout"`
}

// CGDTO summarizes the exact optimizer's center-of-gravity figures.
type CGDTO struct {
	Long   float64 `json:"long"`
	Target float64 `json:"target"`
	ZLong  float64 `json:"zLong"` // absolute deviation from target
	Score  float64 `json:"score"`
	Pure   float64 `json:"pure"` // recomputed from the resulting layout
}

// OptimizeResponse is returned by the exact optimizer endpoint.
type OptimizeResponse struct {
	JobID   string          `json:"job_id,omitempty"`
	Layout  []LayoutItemDTO `json:"layout"`
	CG      CGDTO           `json:"cg"`
	Touched []string        `json:"touched"`
	State   LayoutDTO       `json:"state"`
}

// SavedLayoutDTO is a layout read back from the store.
type SavedLayoutDTO struct {
	JobID    string          `json:"job_id"`
	FlightID int64           `json:"flight_id"`
	Layout   []LayoutItemDTO `json:"layout"`
}

// PresetDTO describes one embedded preset flight.
type PresetDTO struct {
	Flight    string   `json:"flight"`
	TargetCG  *float64 `json:"target_cg,omitempty"`
	ULDs      int      `json:"ulds"`
	Positions int      `json:"positions"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toULDDTOs(units []loadplan.LoadUnit) []ULDDTO {
	out := make([]ULDDTO, 0, len(units))
	for _, u := range units {
		out = append(out, ULDDTO{
			ID:         string(u.ID),
			Weight:     u.Weight,
			Volume:     u.Volume,
			IsPriority: u.Priority,
			Type:       string(u.Type),
		})
	}
	return out
}

func toLayoutDTO(st *loadplan.State, recent []loadplan.SlotID, busy bool) LayoutDTO {
	flight := st.Flight()
	slots := st.Slots()

	positions := make([]PositionDTO, 0, len(slots))
	for _, s := range slots {
		p := PositionDTO{
			ID:            string(s.ID),
			X:             s.X,
			Y:             s.Y,
			MaxWeight:     s.MaxWeight,
			CurrentWeight: s.CurrentWeight,
			IsFixed:       s.Fixed,
		}
		if !s.IsEmpty() {
			id := string(s.AssignedUnit)
			p.AssignedULD = &id
		}
		positions = append(positions, p)
	}

	return LayoutDTO{
		Flight:            flight.Code,
		FlightID:          int64(flight.ID),
		TargetCG:          flight.TargetCG,
		Positions:         positions,
		ULDs:              toULDDTOs(st.Units()),
		UnassignedULDs:    toULDDTOs(st.Unassigned()),
		CG:                st.CG(),
		Score:             st.Score(),
		Suggestion:        st.Suggestion(),
		RecentlyOptimized: slotIDs(recent),
		Busy:              busy,
	}
}

func toLayoutItemDTOs(items []loadplan.LayoutItem) []LayoutItemDTO {
	out := make([]LayoutItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, LayoutItemDTO{
			ULDID:      string(it.UnitID),
			PositionID: string(it.SlotID),
			X:          it.X,
			Y:          it.Y,
			Weight:     it.Weight,
		})
	}
	return out
}

func slotIDs(ids []loadplan.SlotID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
