/*
handlers.go - HTTP API handlers for the load-planning engine

PURPOSE:
  Exposes the loading Session via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the loadplan core.

ENDPOINTS:
  Flights:
    POST   /api/flight                 Load a flight ({"flight_no": "CX2025"})
    GET    /api/flights/{code}         Load a flight by path
    POST   /api/flights                Import a flight document (JSON or YAML)

  Layout editing:
    GET    /api/layout                 Current layout, CG, score, suggestion
    DELETE /api/layout                 Drop the loaded flight
    POST   /api/layout/assign          {"uld_id", "position_id"}
    POST   /api/layout/unassign        {"position_id"}
    POST   /api/layout/swap            {"uld_id", "position_id"}
    POST   /api/layout/move            {"from", "to"}
    POST   /api/layout/swap-slots      {"from", "to"}
    POST   /api/layout/reset           Release every movable position
    GET    /api/layout/recent          Positions touched by the last heuristic run
    POST   /api/layout/recent/ack      Forget them

  Optimization:
    POST   /api/optimize               Exact MILP optimizer ({"flight_no"?, "target_cg"?})
    POST   /api/optimize/heuristic     Greedy left/right balance
    GET    /api/layouts/{jobID}        Layout persisted by an exact run

  Presets:
    GET    /api/presets                Embedded preset flights
    POST   /api/presets/{code}/restore Re-seed a preset flight into the store

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Session: The single owned loading state
  - Store: Flight import and persisted layouts
  - Factory: Document to snapshot conversion

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: validation
  - 404: not_found
  - 409: busy (a load or optimization is running)
  - 422: infeasible
  - 500: incomplete_result, internal

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/load-engine/factory"
	"github.com/warp/load-engine/loadplan"
	"github.com/warp/load-engine/store/sqlite"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Session *loadplan.Session
	Store   *sqlite.Store
	Factory *factory.SnapshotFactory

	validate *validator.Validate
	logger   *zap.Logger
	presets  map[string]loadplan.Snapshot
	order    []string
}

// NewHandler creates a new handler. A nil logger disables handler logging.
func NewHandler(session *loadplan.Session, store *sqlite.Store, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := factory.NewSnapshotFactory()
	snaps, err := f.Presets()
	if err != nil {
		return nil, err
	}

	h := &Handler{
		Session:  session,
		Store:    store,
		Factory:  f,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		presets:  make(map[string]loadplan.Snapshot, len(snaps)),
	}
	for _, s := range snaps {
		h.presets[s.Flight.Code] = s
		h.order = append(h.order, s.Flight.Code)
	}
	return h, nil
}

// =============================================================================
// FLIGHT HANDLERS
// =============================================================================

// LoadFlight loads the flight named in the request body.
func (h *Handler) LoadFlight(w http.ResponseWriter, r *http.Request) {
	var req LoadFlightRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.load(w, r, req.FlightNo)
}

// GetFlight loads the flight named in the path.
func (h *Handler) GetFlight(w http.ResponseWriter, r *http.Request) {
	h.load(w, r, chi.URLParam(r, "code"))
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, code string) {
	st, err := h.Session.LoadSnapshot(r.Context(), code)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.layout(st))
}

// ImportFlight stores a flight document. YAML is read when the content type
// says so; everything else is read as JSON. Re-importing the loaded flight
// drops the loaded State.
func (h *Handler) ImportFlight(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	format := factory.FormatJSON
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); isYAML(mt) {
		format = factory.FormatYAML
	}

	snap, err := h.Factory.Parse(data, format)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Session.Invalidate(snap.Flight.Code); err != nil {
		h.fail(w, err)
		return
	}
	flight, err := h.Store.SaveFlight(r.Context(), snap)
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %w", loadplan.ErrRepository, err))
		return
	}

	h.logger.Info("flight imported", zap.String("flight", flight.Code), zap.Int64("flight_id", int64(flight.ID)))
	writeJSON(w, http.StatusCreated, map[string]any{"flight": flight.Code, "flight_id": flight.ID})
}

func isYAML(mediaType string) bool {
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}

// =============================================================================
// LAYOUT HANDLERS
// =============================================================================

// GetLayout returns the current layout.
func (h *Handler) GetLayout(w http.ResponseWriter, r *http.Request) {
	st, err := h.Session.State()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.layout(st))
}

// ClearLayout drops the loaded flight.
func (h *Handler) ClearLayout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Clear(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Assign places an unassigned unit into an empty position.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, loadplan.Mutation{Op: loadplan.OpAssign, Unit: loadplan.UnitID(req.ULDID), Slot: loadplan.SlotID(req.PositionID)})
}

// Unassign returns a position's unit to the pool.
func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	var req UnassignRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, loadplan.Mutation{Op: loadplan.OpUnassign, Slot: loadplan.SlotID(req.PositionID)})
}

// Swap puts an unassigned unit into a position, returning its occupant to the pool.
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, loadplan.Mutation{Op: loadplan.OpSwap, Unit: loadplan.UnitID(req.ULDID), Slot: loadplan.SlotID(req.PositionID)})
}

// Move relocates a unit to an empty position.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req SlotPairRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, loadplan.Mutation{Op: loadplan.OpMove, From: loadplan.SlotID(req.From), To: loadplan.SlotID(req.To)})
}

// SwapSlots exchanges the units of two positions.
func (h *Handler) SwapSlots(w http.ResponseWriter, r *http.Request) {
	var req SlotPairRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, loadplan.Mutation{Op: loadplan.OpSwapSlots, From: loadplan.SlotID(req.From), To: loadplan.SlotID(req.To)})
}

// ResetLayout releases every movable position.
func (h *Handler) ResetLayout(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, loadplan.Mutation{Op: loadplan.OpReset})
}

func (h *Handler) mutate(w http.ResponseWriter, m loadplan.Mutation) {
	res, err := h.Session.Mutate(m)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{
		Success: true,
		Message: res.Message,
		Touched: slotIDs(res.Touched),
		Layout:  h.layout(res.State),
	})
}

// GetRecent returns the positions touched by the last heuristic run.
func (h *Handler) GetRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"positions": slotIDs(h.Session.RecentlyOptimized()),
	})
}

// AcknowledgeRecent clears the recently optimized positions.
func (h *Handler) AcknowledgeRecent(w http.ResponseWriter, r *http.Request) {
	h.Session.AcknowledgeOptimized()
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// OPTIMIZATION HANDLERS
// =============================================================================

// Optimize runs the exact optimizer, loading the requested flight first
// when one is named.
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.FlightNo != "" {
		if _, err := h.Session.LoadSnapshot(r.Context(), req.FlightNo); err != nil {
			h.fail(w, err)
			return
		}
	}

	res, err := h.Session.OptimizeExact(r.Context(), req.TargetCG)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OptimizeResponse{
		JobID:  res.JobID,
		Layout: toLayoutItemDTOs(res.Layout),
		CG: CGDTO{
			Long:   res.CG,
			Target: res.Target,
			ZLong:  res.Deviation,
			Score:  res.Score,
			Pure:   res.PureCG,
		},
		Touched: slotIDs(res.Touched),
		State:   h.layout(res.State),
	})
}

// OptimizeHeuristic runs the greedy balancer. A client that goes away gets
// no response; the run still completes and its layout is installed.
func (h *Handler) OptimizeHeuristic(w http.ResponseWriter, r *http.Request) {
	select {
	case out := <-h.Session.OptimizeHeuristicAsync():
		if out.Err != nil {
			h.fail(w, out.Err)
			return
		}
		writeJSON(w, http.StatusOK, MutationResponse{
			Success: true,
			Message: out.Result.Message,
			Touched: slotIDs(out.Result.Touched),
			Layout:  h.layout(out.Result.State),
		})
	case <-r.Context().Done():
		h.logger.Debug("heuristic client disconnected", zap.Error(r.Context().Err()))
	}
}

// GetSavedLayout returns a layout persisted by an exact run.
func (h *Handler) GetSavedLayout(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	flightID, items, err := h.Store.Layout(r.Context(), jobID)
	if errors.Is(err, sqlite.ErrLayoutNotFound) {
		writeError(w, http.StatusNotFound, "Layout not found", err)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SavedLayoutDTO{
		JobID:    jobID,
		FlightID: int64(flightID),
		Layout:   toLayoutItemDTOs(items),
	})
}

// =============================================================================
// PRESET HANDLERS
// =============================================================================

// ListPresets returns the embedded preset flights.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	out := make([]PresetDTO, 0, len(h.order))
	for _, code := range h.order {
		s := h.presets[code]
		out = append(out, PresetDTO{
			Flight:    code,
			TargetCG:  s.Flight.TargetCG,
			ULDs:      len(s.Units),
			Positions: len(s.Slots),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// RestorePreset writes a preset flight back into the store, replacing any
// manifest and slot table stored under its code. A loaded copy of that
// flight is dropped so the next load reads the restored data.
func (h *Handler) RestorePreset(w http.ResponseWriter, r *http.Request) {
	code, err := loadplan.NormalizeFlightCode(chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, err)
		return
	}
	snap, ok := h.presets[code]
	if !ok {
		writeError(w, http.StatusNotFound, "Preset not found", fmt.Errorf("no preset for %s", code))
		return
	}
	if err := h.Session.Invalidate(code); err != nil {
		h.fail(w, err)
		return
	}

	flight, err := h.Store.SaveFlight(r.Context(), snap)
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %w", loadplan.ErrRepository, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flight": flight.Code, "flight_id": flight.ID})
}

// Health reports liveness and whether a long operation is running.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "busy": h.Session.Busy()})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) layout(st *loadplan.State) LayoutDTO {
	return toLayoutDTO(st, h.Session.RecentlyOptimized(), h.Session.Busy())
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// to the zero value. Writes the error response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// fail writes err with the status of its kind.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	kind := loadplan.KindOf(err)
	status := statusFor(kind)

	message := http.StatusText(status)
	var le *loadplan.Error
	if errors.As(err, &le) && le.Message != "" {
		message = le.Message
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	writeJSON(w, status, ErrorResponse{Error: message, Kind: string(kind), Details: err.Error()})
}

func statusFor(kind loadplan.Kind) int {
	switch kind {
	case loadplan.KindValidation:
		return http.StatusBadRequest
	case loadplan.KindNotFound:
		return http.StatusNotFound
	case loadplan.KindBusy:
		return http.StatusConflict
	case loadplan.KindInfeasible:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
