/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the ledger, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetwright/trip-ledger/ledger"
)

// =============================================================================
// TRIP TYPES
// =============================================================================

// TripDTO represents a trip in API responses.
type TripDTO struct {
	ID                string  `json:"id"`
	VehicleID         string  `json:"vehicle_id"`
	SerialNumber      string  `json:"serial_number"`
	StartKm           int64   `json:"start_km"`
	EndKm             int64   `json:"end_km"`
	StartTime         string  `json:"start_time"`
	EndTime           string  `json:"end_time"`
	RefuelingDone     bool    `json:"refueling_done"`
	FuelQuantity      *string `json:"fuel_quantity,omitempty"`
	CalculatedMileage *string `json:"calculated_mileage,omitempty"`
	DeletedAt         *string `json:"deleted_at,omitempty"`
	DeletionReason    string  `json:"deletion_reason,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// TripRequest is the request body for creating or updating a trip.
type TripRequest struct {
	VehicleID     string  `json:"vehicle_id"`
	SerialNumber  string  `json:"serial_number,omitempty"`
	StartKm       int64   `json:"start_km"`
	EndKm         int64   `json:"end_km"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	RefuelingDone bool    `json:"refueling_done"`
	FuelQuantity  *string `json:"fuel_quantity,omitempty"`
}

// TripResponse wraps a persisted trip with any advisory warning raised by
// the continuity check. A warning never blocks the write.
type TripResponse struct {
	Trip    TripDTO `json:"trip"`
	Warning string  `json:"warning,omitempty"`
}

// DeleteResponse reports whether the delete was physical or soft.
type DeleteResponse struct {
	Status string `json:"status"` // "deleted" or "soft_deleted"
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// CORRECTION TYPES
// =============================================================================

// CorrectionRequest is the request body for a cascade correction
// (preview and apply share the shape; reason is only used on apply).
type CorrectionRequest struct {
	NewEndKm int64  `json:"new_end_km"`
	Reason   string `json:"reason,omitempty"`
}

// ProjectedShiftDTO is one row of a correction preview.
type ProjectedShiftDTO struct {
	SerialNumber     string `json:"serial_number"`
	CurrentStartKm   int64  `json:"current_start_km"`
	ProjectedStartKm int64  `json:"projected_start_km"`
}

// PreviewResponse lists the later trips a correction would shift.
type PreviewResponse struct {
	Shifts []ProjectedShiftDTO `json:"shifts"`
}

// ShiftedTripDTO summarizes one trip changed by an applied correction.
type ShiftedTripDTO struct {
	TripID       string `json:"trip_id"`
	SerialNumber string `json:"serial_number"`
	OldStartKm   int64  `json:"old_start_km"`
	NewStartKm   int64  `json:"new_start_km"`
	OldEndKm     int64  `json:"old_end_km"`
	NewEndKm     int64  `json:"new_end_km"`
}

// ApplyResponse reports the trips an applied correction changed, target
// first, later trips in chronological order.
type ApplyResponse struct {
	Affected []ShiftedTripDTO `json:"affected"`
}

// CorrectionDTO represents one audit record in API responses.
type CorrectionDTO struct {
	ID                     string `json:"id"`
	TripID                 string `json:"trip_id"`
	Field                  string `json:"field"`
	OldValue               string `json:"old_value"`
	NewValue               string `json:"new_value"`
	Reason                 string `json:"reason,omitempty"`
	AffectsSubsequentTrips bool   `json:"affects_subsequent_trips"`
	CorrectedBy            string `json:"corrected_by"`
	CorrectedAt            string `json:"corrected_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toTripDTO(t ledger.Trip) TripDTO {
	dto := TripDTO{
		ID:             string(t.ID),
		VehicleID:      string(t.VehicleID),
		SerialNumber:   t.SerialNumber,
		StartKm:        t.StartKm,
		EndKm:          t.EndKm,
		StartTime:      t.StartTime.UTC().Format(time.RFC3339),
		EndTime:        t.EndTime.UTC().Format(time.RFC3339),
		RefuelingDone:  t.RefuelingDone,
		DeletionReason: t.DeletionReason,
		CreatedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if t.FuelQuantity != nil {
		s := t.FuelQuantity.String()
		dto.FuelQuantity = &s
	}
	if t.CalculatedMileage != nil {
		s := t.CalculatedMileage.String()
		dto.CalculatedMileage = &s
	}
	if t.DeletedAt != nil {
		s := t.DeletedAt.UTC().Format(time.RFC3339)
		dto.DeletedAt = &s
	}
	return dto
}

func toCorrectionDTO(rec ledger.CorrectionRecord) CorrectionDTO {
	return CorrectionDTO{
		ID:                     rec.ID,
		TripID:                 string(rec.TripID),
		Field:                  rec.Field,
		OldValue:               rec.OldValue,
		NewValue:               rec.NewValue,
		Reason:                 rec.Reason,
		AffectsSubsequentTrips: rec.AffectsSubsequentTrips,
		CorrectedBy:            string(rec.CorrectedBy),
		CorrectedAt:            rec.CorrectedAt.UTC().Format(time.RFC3339),
	}
}

func parseFuel(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
