package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/capacity-bookings/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorStatuses = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrInsufficientCapacity, http.StatusConflict, "insufficient_capacity"},
	{domain.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{domain.ErrSerializationFailure, http.StatusConflict, "version_conflict"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrIllegalTransition, http.StatusUnprocessableEntity, "illegal_transition"},
	{domain.ErrInvalidPaymentAmount, http.StatusUnprocessableEntity, "invalid_payment_amount"},
}

func statusFor(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.target) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
