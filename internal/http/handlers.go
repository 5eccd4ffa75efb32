package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
)

var validate = validator.New()

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	svc    *booking.Service
	checks map[string]ReadinessCheck
}

func NewHandlers(svc *booking.Service, checks map[string]ReadinessCheck) *Handlers {
	return &Handlers{svc: svc, checks: checks}
}

type offeringRequest struct {
	ID            uuid.UUID             `json:"id"`
	Name          string                `json:"name" validate:"required,max=200"`
	ServiceType   domain.ServiceType    `json:"service_type" validate:"required"`
	BasePrice     float64               `json:"base_price" validate:"min=0"`
	Currency      string                `json:"currency" validate:"required,len=3"`
	Capacity      int                   `json:"capacity" validate:"min=0"`
	TaxRates      []domain.TaxRate      `json:"tax_rates"`
	DiscountRules []domain.DiscountRule `json:"discount_rules"`
	StartAt       *time.Time            `json:"start_at"`
	EndAt         *time.Time            `json:"end_at"`
	SpecSchema    domain.SpecSchema     `json:"spec_schema"`
}

type createBookingRequest struct {
	UserID         uuid.UUID             `json:"user_id"`
	OfferingID     uuid.UUID             `json:"offering_id"`
	Quantity       int                   `json:"quantity"`
	Schedule       domain.Schedule       `json:"schedule"`
	Contact        domain.Contact        `json:"contact"`
	PaymentMethod  string                `json:"payment_method"`
	Specifications domain.Specifications `json:"specifications"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type refundRequest struct {
	GatewayReference string `json:"gateway_reference" validate:"required,max=128"`
}

type statusRequest struct {
	Status domain.Status `json:"status" validate:"required"`
}

type bookingResponse struct {
	*domain.Booking
	Version int64 `json:"version"`
}

type cancelResponse struct {
	RefundAmount float64         `json:"refund_amount"`
	Booking      bookingResponse `json:"booking"`
}

func respondBooking(b *domain.Booking) bookingResponse {
	return bookingResponse{Booking: b, Version: b.Version}
}

// decode reads a JSON body into dst and runs its validate tags. An empty body
// is accepted when allowEmpty is set.
func decode(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrapf(domain.ErrInvalidInput, "malformed body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errors.Wrap(domain.ErrInvalidInput, "invalid id")
	}
	return id, nil
}

func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required", Code: "unauthorized"})
	}
	return actor, ok
}

func (h *Handlers) PublishOffering(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req offeringRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	o := domain.Offering{
		ID:            req.ID,
		Name:          req.Name,
		ServiceType:   req.ServiceType,
		BasePrice:     req.BasePrice,
		Currency:      req.Currency,
		Capacity:      req.Capacity,
		TaxRates:      req.TaxRates,
		DiscountRules: req.DiscountRules,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
		SpecSchema:    req.SpecSchema,
	}
	if err := h.svc.PublishOffering(r.Context(), actor, o); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Availability(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == uuid.Nil {
		req.UserID = actor.ID
	}
	b, err := h.svc.CreateBooking(r.Context(), actor, booking.CreateRequest{
		UserID:         req.UserID,
		OfferingID:     req.OfferingID,
		Quantity:       req.Quantity,
		Schedule:       req.Schedule,
		Contact:        req.Contact,
		PaymentMethod:  req.PaymentMethod,
		Specifications: req.Specifications,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/bookings/"+b.ID.String())
	writeJSON(w, http.StatusCreated, respondBooking(b))
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.svc.GetBooking(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondBooking(b))
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.RequestCancellation(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{RefundAmount: res.RefundAmount, Booking: respondBooking(res.Booking)})
}

func (h *Handlers) MarkRefundIssued(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req refundRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.svc.MarkRefundIssued(r.Context(), actor, id, req.GatewayReference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondBooking(b))
}

func (h *Handlers) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	target, err := domain.ParseStatus(string(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.svc.AdvanceStatus(r.Context(), actor, id, target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondBooking(b))
}

// PaymentCallback accepts an already verified gateway signal over HTTP. Only
// system and admin callers may report payments.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.Privileged() {
		writeError(w, r, errors.Wrap(domain.ErrForbidden, "payment callbacks come from the gateway"))
		return
	}
	var pc booking.PaymentConfirmation
	if err := decode(r, &pc, false); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.svc.ConfirmPayment(r.Context(), pc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondBooking(b))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
