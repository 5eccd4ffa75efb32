package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/capacity-bookings/internal/adapters/memory"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	httphandler "github.com/robertarktes/capacity-bookings/internal/http"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

type api struct {
	t      *testing.T
	server http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := observability.NewDiscardLogger()
	svc := booking.NewService(memory.NewStore(), memory.NewCatalog(), logger)
	auth, err := httphandler.NewAuthenticator("")
	require.NoError(t, err)
	h := httphandler.NewHandlers(svc, nil)
	return &api{t: t, server: httphandler.SetupRouter(h, httphandler.RouterOptions{Logger: logger, Auth: auth})}
}

type caller struct {
	id   string
	role string
}

func (a *api) do(c caller, method, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.role != "" {
		req.Header.Set(httphandler.HeaderActorID, c.id)
		req.Header.Set(httphandler.HeaderActorRole, c.role)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestBookingFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	admin := caller{id: uuid.NewString(), role: "admin"}
	gateway := caller{id: "gateway", role: "system"}
	customer := caller{id: uuid.NewString(), role: "customer"}
	start := time.Now().Add(30 * time.Hour).UTC()

	rec := a.do(admin, http.MethodPost, "/v1/offerings", map[string]interface{}{
		"name":         "Coastal tour",
		"service_type": "tour",
		"base_price":   500,
		"currency":     "EUR",
		"capacity":     5,
		"start_at":     start,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	offeringID := decodeBody(t, rec)["id"].(string)

	rec = a.do(customer, http.MethodPost, "/v1/bookings", map[string]interface{}{
		"offering_id":    offeringID,
		"quantity":       2,
		"contact":        map[string]string{"name": "Margaret"},
		"payment_method": "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	bookingID := created["id"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.EqualValues(t, 1, created["version"])

	rec = a.do(customer, http.MethodGet, "/v1/offerings/"+offeringID+"/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decodeBody(t, rec)["capacity_available"])

	rec = a.do(customer, http.MethodPost, "/v1/payments/callback", map[string]interface{}{
		"booking_id": bookingID, "amount": 1000, "gateway_reference": "gw-1", "outcome": "captured",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(gateway, http.MethodPost, "/v1/payments/callback", map[string]interface{}{
		"booking_id": bookingID, "amount": 1000, "gateway_reference": "gw-1", "outcome": "captured",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decodeBody(t, rec)["status"])

	rec = a.do(customer, http.MethodPost, "/v1/bookings/"+bookingID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody(t, rec)
	assert.EqualValues(t, 1000, cancelled["refund_amount"])

	rec = a.do(gateway, http.MethodPost, "/v1/bookings/"+bookingID+"/refund", map[string]string{"gateway_reference": "rf-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refunded := decodeBody(t, rec)
	assert.Equal(t, "refunded", refunded["status"])
	assert.EqualValues(t, 0, refunded["payment"].(map[string]interface{})["paid_amount"])

	rec = a.do(customer, http.MethodGet, "/v1/offerings/"+offeringID+"/availability", nil)
	assert.EqualValues(t, 5, decodeBody(t, rec)["capacity_available"])
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	admin := caller{id: uuid.NewString(), role: "admin"}
	customer := caller{id: uuid.NewString(), role: "customer"}

	rec := a.do(admin, http.MethodPost, "/v1/offerings", map[string]interface{}{
		"name": "Van", "service_type": "rental", "base_price": 80, "currency": "EUR", "capacity": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	offeringID := decodeBody(t, rec)["id"].(string)

	book := func(qty int) *httptest.ResponseRecorder {
		return a.do(customer, http.MethodPost, "/v1/bookings", map[string]interface{}{
			"offering_id": offeringID, "quantity": qty, "contact": map[string]string{"name": "Alan"}, "payment_method": "card",
		})
	}
	rec = book(1)
	require.Equal(t, http.StatusCreated, rec.Code)
	bookingID := decodeBody(t, rec)["id"].(string)

	rec = book(1)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_capacity", decodeBody(t, rec)["code"])

	assert.Equal(t, http.StatusBadRequest, book(0).Code)

	rec = a.do(caller{}, http.MethodGet, "/v1/bookings/"+bookingID, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(caller{id: uuid.NewString(), role: "customer"}, http.MethodGet, "/v1/bookings/"+bookingID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(customer, http.MethodGet, "/v1/bookings/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(customer, http.MethodGet, "/v1/bookings/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(admin, http.MethodPost, "/v1/bookings/"+bookingID+"/status", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(admin, http.MethodPost, "/v1/payments/callback", map[string]interface{}{
		"booking_id": bookingID, "amount": 500, "gateway_reference": "gw-x", "outcome": "captured",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_payment_amount", decodeBody(t, rec)["code"])

	rec = a.do(admin, http.MethodPost, "/v1/bookings/"+bookingID+"/status", map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_progress", decodeBody(t, rec)["status"])
}

func TestHealthEndpoints(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusOK, a.do(caller{}, http.MethodGet, "/v1/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(caller{}, http.MethodGet, "/v1/readyz", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(caller{}, http.MethodGet, "/metrics", nil).Code)
}
