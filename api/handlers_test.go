package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwright/trip-ledger/api"
	"github.com/fleetwright/trip-ledger/ledger"
	memstore "github.com/fleetwright/trip-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := api.NewHandler(memstore.NewTxMemory(), ledger.DefaultConfig(), nil)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

var testStart = time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)

// doJSON issues a request with the given actor and decodes the response
// body into out (when out is non-nil).
func doJSON(t *testing.T, srv *httptest.Server, method, path, actor string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func tripBody(startKm, endKm int64, startHour int) map[string]any {
	return map[string]any{
		"vehicle_id": "veh-1",
		"start_km":   startKm,
		"end_km":     endKm,
		"start_time": testStart.Add(time.Duration(startHour) * time.Hour).Format(time.RFC3339),
		"end_time":   testStart.Add(time.Duration(startHour+1) * time.Hour).Format(time.RFC3339),
	}
}

func createTrip(t *testing.T, srv *httptest.Server, actor string, body map[string]any) api.TripResponse {
	t.Helper()
	var resp api.TripResponse
	r := doJSON(t, srv, http.MethodPost, "/api/trips", actor, body, &resp)
	require.Equal(t, http.StatusCreated, r.StatusCode)
	return resp
}

// =============================================================================
// IDENTITY TESTS
// =============================================================================

func TestAPI_MissingActorHeader_Unauthorized(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, srv, http.MethodGet, "/api/trips?vehicle_id=veh-1", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// =============================================================================
// TRIP ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateTrip_ReturnsTripWithSerial(t *testing.T) {
	srv := newTestServer(t)

	created := createTrip(t, srv, "alex", tripBody(100, 200, 0))

	assert.Equal(t, "T-00001", created.Trip.SerialNumber)
	assert.Equal(t, int64(100), created.Trip.StartKm)
	assert.Empty(t, created.Warning)
	assert.NotEmpty(t, created.Trip.ID)
}

func TestAPI_CreateTrip_GapWarningInBody(t *testing.T) {
	srv := newTestServer(t)
	createTrip(t, srv, "alex", tripBody(100, 200, 0))

	resp := createTrip(t, srv, "alex", tripBody(300, 400, 2))
	assert.Contains(t, resp.Warning, "100 km")
}

func TestAPI_CreateTrip_BackwardJump_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	createTrip(t, srv, "alex", tripBody(100, 200, 0))

	var errResp api.ErrorResponse
	resp := doJSON(t, srv, http.MethodPost, "/api/trips", "alex", tripBody(150, 250, 2), &errResp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errResp.Details, "behind")
}

func TestAPI_CreateTrip_RefuelingComputesMileage(t *testing.T) {
	srv := newTestServer(t)

	body := tripBody(100, 500, 0)
	body["refueling_done"] = true
	body["fuel_quantity"] = "40"

	created := createTrip(t, srv, "alex", body)
	require.NotNil(t, created.Trip.CalculatedMileage)
	assert.Equal(t, "10", *created.Trip.CalculatedMileage)
}

func TestAPI_GetTrip_ForeignActor_NotFound(t *testing.T) {
	srv := newTestServer(t)
	created := createTrip(t, srv, "alex", tripBody(100, 200, 0))

	resp := doJSON(t, srv, http.MethodGet, "/api/trips/"+created.Trip.ID, "sam", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_UpdateTrip_SerialChange_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	created := createTrip(t, srv, "alex", tripBody(100, 200, 0))

	body := tripBody(100, 200, 0)
	body["serial_number"] = "T-09999"

	resp := doJSON(t, srv, http.MethodPut, "/api/trips/"+created.Trip.ID, "alex", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListTrips_RequiresVehicleID(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, srv, http.MethodGet, "/api/trips", "alex", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListTrips_ScopedToActor(t *testing.T) {
	srv := newTestServer(t)
	createTrip(t, srv, "alex", tripBody(100, 200, 0))
	createTrip(t, srv, "sam", tripBody(500, 600, 0))

	var trips []api.TripDTO
	resp := doJSON(t, srv, http.MethodGet, "/api/trips?vehicle_id=veh-1", "alex", nil, &trips)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, trips, 1)
	assert.Equal(t, int64(100), trips[0].StartKm)
}

// =============================================================================
// DELETE ENDPOINT TESTS
// =============================================================================

func TestAPI_DeleteTrip_HardDelete(t *testing.T) {
	srv := newTestServer(t)
	created := createTrip(t, srv, "alex", tripBody(100, 200, 0))

	var del api.DeleteResponse
	resp := doJSON(t, srv, http.MethodDelete, "/api/trips/"+created.Trip.ID, "alex", nil, &del)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deleted", del.Status)

	resp = doJSON(t, srv, http.MethodGet, "/api/trips/"+created.Trip.ID, "alex", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DeleteTrip_RefuelingWithDependents_SoftDelete(t *testing.T) {
	srv := newTestServer(t)

	refuel := tripBody(100, 200, 0)
	refuel["refueling_done"] = true
	refuel["fuel_quantity"] = "20"
	created := createTrip(t, srv, "alex", refuel)
	createTrip(t, srv, "alex", tripBody(200, 300, 2))

	var del api.DeleteResponse
	resp := doJSON(t, srv, http.MethodDelete, "/api/trips/"+created.Trip.ID, "alex", nil, &del)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "soft_deleted", del.Status)
	assert.NotEmpty(t, del.Reason)

	// Still retrievable by ID, with the deletion marker.
	var trip api.TripDTO
	resp = doJSON(t, srv, http.MethodGet, "/api/trips/"+created.Trip.ID, "alex", nil, &trip)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, trip.DeletedAt)
}

// =============================================================================
// CORRECTION ENDPOINT TESTS
// =============================================================================

func TestAPI_CorrectionFlow_PreviewApplyHistory(t *testing.T) {
	srv := newTestServer(t)

	first := createTrip(t, srv, "alex", tripBody(600, 700, 0))
	createTrip(t, srv, "alex", tripBody(700, 800, 2))
	createTrip(t, srv, "alex", tripBody(800, 950, 4))

	// Preview: later starts projected, nothing written.
	var preview api.PreviewResponse
	resp := doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/trips/%s/corrections/preview", first.Trip.ID), "alex",
		api.CorrectionRequest{NewEndKm: 710}, &preview)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, preview.Shifts, 2)
	assert.Equal(t, int64(710), preview.Shifts[0].ProjectedStartKm)
	assert.Equal(t, int64(810), preview.Shifts[1].ProjectedStartKm)

	// Apply: target plus both later trips change.
	var applied api.ApplyResponse
	resp = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/trips/%s/corrections", first.Trip.ID), "alex",
		api.CorrectionRequest{NewEndKm: 710, Reason: "meter misread"}, &applied)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, applied.Affected, 3)
	assert.Equal(t, first.Trip.ID, applied.Affected[0].TripID)
	assert.Equal(t, int64(710), applied.Affected[0].NewEndKm)

	// History: the target carries its audit record.
	var history []api.CorrectionDTO
	resp = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/trips/%s/corrections", first.Trip.ID), "alex", nil, &history)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, history, 1)
	assert.Equal(t, "end_km", history[0].Field)
	assert.Equal(t, "700", history[0].OldValue)
	assert.Equal(t, "710", history[0].NewValue)
	assert.Equal(t, "meter misread", history[0].Reason)
}

func TestAPI_PreviewCorrection_MissingTrip_EmptyShifts(t *testing.T) {
	srv := newTestServer(t)

	var preview api.PreviewResponse
	resp := doJSON(t, srv, http.MethodPost, "/api/trips/nope/corrections/preview", "alex",
		api.CorrectionRequest{NewEndKm: 710}, &preview)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, preview.Shifts)
}

func TestAPI_ApplyCorrection_MissingTrip_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/trips/nope/corrections", "alex",
		api.CorrectionRequest{NewEndKm: 710}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
