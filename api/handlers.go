/*
handlers.go - HTTP API handlers for the trip ledger

PURPOSE:
  Exposes the odometer ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Trips:
    GET    /api/trips                  List trips for a vehicle
    POST   /api/trips                  Record a trip
    GET    /api/trips/{id}             Get trip details
    PUT    /api/trips/{id}             Update a trip
    DELETE /api/trips/{id}             Delete a trip (guard decides how)

  Corrections:
    POST   /api/trips/{id}/corrections/preview  Dry-run a cascade
    POST   /api/trips/{id}/corrections          Apply a cascade
    GET    /api/trips/{id}/corrections          Audit history

IDENTITY:
  The caller's identity arrives in the X-Actor-ID header. Every ledger
  operation is scoped to that actor; records of other actors behave as
  nonexistent. This stands in for real authentication middleware, which
  would populate the same value from a verified token.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invariant violations, invalid input
  - 404: Trip missing or owned by someone else (indistinguishable)
  - 409: Transaction contention, caller should retry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/: Domain logic these handlers delegate to
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetwright/trip-ledger/ledger"
)

// actorHeader carries the caller's identity. Empty means unauthenticated.
const actorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Trips    *ledger.TripService
	Cascade  *ledger.CascadeEngine
	Deletion *ledger.DeletionGuard
	Log      *zap.Logger
}

// NewHandler creates a handler over the given transactional store.
func NewHandler(store ledger.TxStore, cfg ledger.Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Trips:    ledger.NewTripService(store, cfg, log),
		Cascade:  ledger.NewCascadeEngine(store, cfg, log),
		Deletion: ledger.NewDeletionGuard(store, log),
		Log:      log,
	}
}

// =============================================================================
// TRIP HANDLERS
// =============================================================================

// ListTrips returns the caller's trips for one vehicle, oldest first.
// GET /api/trips?vehicle_id=...&include_deleted=true
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	vehicleID := r.URL.Query().Get("vehicle_id")
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id query parameter is required", nil)
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	trips, err := h.Trips.List(r.Context(), actor, ledger.VehicleID(vehicleID), includeDeleted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list trips", err)
		return
	}

	dtos := make([]TripDTO, len(trips))
	for i, t := range trips {
		dtos[i] = toTripDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTrip records a new trip after running the continuity gate.
// POST /api/trips
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	in, err := decodeTripRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	trip, warning, err := h.Trips.Create(r.Context(), actor, in)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := TripResponse{Trip: toTripDTO(*trip)}
	if warning != nil {
		resp.Warning = warning.Message()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetTrip returns a single trip.
// GET /api/trips/{id}
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	trip, err := h.Trips.Get(r.Context(), actor, ledger.TripID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(*trip))
}

// UpdateTrip revalidates and saves an edited trip.
// PUT /api/trips/{id}
func (h *Handler) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	in, err := decodeTripRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	trip, warning, err := h.Trips.Update(r.Context(), actor, ledger.TripID(chi.URLParam(r, "id")), in)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := TripResponse{Trip: toTripDTO(*trip)}
	if warning != nil {
		resp.Warning = warning.Message()
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteTrip removes a trip, or soft-deletes it when later trips depend on
// it for their mileage baseline. The response says which happened.
// DELETE /api/trips/{id}
func (h *Handler) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	status, err := h.Deletion.Delete(r.Context(), actor, ledger.TripID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := DeleteResponse{Status: string(status)}
	if status == ledger.StatusSoftDeleted {
		resp.Reason = ledger.SoftDeleteReason
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CORRECTION HANDLERS
// =============================================================================

// PreviewCorrection dry-runs a cascade correction. Writes nothing.
// POST /api/trips/{id}/corrections/preview
func (h *Handler) PreviewCorrection(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	shifts, err := h.Cascade.Preview(r.Context(), actor, ledger.TripID(chi.URLParam(r, "id")), req.NewEndKm)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := PreviewResponse{Shifts: make([]ProjectedShiftDTO, len(shifts))}
	for i, s := range shifts {
		resp.Shifts[i] = ProjectedShiftDTO{
			SerialNumber:     s.SerialNumber,
			CurrentStartKm:   s.CurrentStartKm,
			ProjectedStartKm: s.ProjectedStartKm,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApplyCorrection applies a cascade correction atomically.
// POST /api/trips/{id}/corrections
func (h *Handler) ApplyCorrection(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	affected, err := h.Cascade.Apply(r.Context(), actor, ledger.TripID(chi.URLParam(r, "id")), req.NewEndKm, req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := ApplyResponse{Affected: make([]ShiftedTripDTO, len(affected))}
	for i, a := range affected {
		resp.Affected[i] = ShiftedTripDTO{
			TripID:       string(a.TripID),
			SerialNumber: a.SerialNumber,
			OldStartKm:   a.OldStartKm,
			NewStartKm:   a.NewStartKm,
			OldEndKm:     a.OldEndKm,
			NewEndKm:     a.NewEndKm,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListCorrections returns the audit history of one trip, oldest first.
// GET /api/trips/{id}/corrections
func (h *Handler) ListCorrections(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	records, err := h.Trips.Corrections(r.Context(), actor, ledger.TripID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	dtos := make([]CorrectionDTO, len(records))
	for i, rec := range records {
		dtos[i] = toCorrectionDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireActor(w http.ResponseWriter, r *http.Request) (ledger.ActorID, bool) {
	actor := r.Header.Get(actorHeader)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+actorHeader+" header", nil)
		return "", false
	}
	return ledger.ActorID(actor), true
}

func decodeTripRequest(r *http.Request) (ledger.TripInput, error) {
	var req TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ledger.TripInput{}, err
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return ledger.TripInput{}, err
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return ledger.TripInput{}, err
	}
	fuel, err := parseFuel(req.FuelQuantity)
	if err != nil {
		return ledger.TripInput{}, err
	}

	return ledger.TripInput{
		VehicleID:     ledger.VehicleID(req.VehicleID),
		SerialNumber:  req.SerialNumber,
		StartKm:       req.StartKm,
		EndKm:         req.EndKm,
		StartTime:     startTime,
		EndTime:       endTime,
		RefuelingDone: req.RefuelingDone,
		FuelQuantity:  fuel,
	}, nil
}

// writeLedgerError maps domain errors to HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Trip not found", nil)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "Storage contention, retry the request", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
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
