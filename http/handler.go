// Package http serves the relay API over HTTP and provides a client for a
// remote relay.
//
//	POST /v1/payments               submit a signed permit
//	GET  /v1/payments/{requestId}   read the request status
package http

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/permit-relay/encoding"
	"github.com/mark3labs/permit-relay/facilitator"
	"github.com/mark3labs/permit-relay/http/internal/helpers"
)

// API route patterns.
const (
	PaymentsPath = "/v1/payments"
	StatusPath   = "/v1/payments/{requestId}"
)

// Handler serves the relay API on top of a facilitator.Interface.
type Handler struct {
	relay  facilitator.Interface
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default().
func NewHandler(relay facilitator.Interface, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{relay: relay, logger: logger}
}

// Routes returns a ServeMux with the API routes.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PaymentsPath, h.Submit)
	mux.HandleFunc("GET "+StatusPath, func(w http.ResponseWriter, r *http.Request) {
		h.Status(w, r, r.PathValue("requestId"))
	})
	return mux
}

// Submit handles POST /v1/payments.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	req, err := helpers.ParseSubmitRequest(r)
	if err != nil {
		h.logger.Warn("invalid payment request", "error", err)
		helpers.SendError(w, err)
		return
	}

	res, err := h.relay.Submit(r.Context(), req)
	if err != nil {
		h.logger.Info("payment request rejected",
			"requestId", req.RequestID.Hex(),
			"owner", req.Permit.Owner.Hex(),
			"error", err)
		helpers.SendError(w, err)
		return
	}

	helpers.SendJSON(w, helpers.SubmitStatus(res), res)
}

// Status handles GET /v1/payments/{requestId}. The id is passed in by the
// router adapter.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request, requestID string) {
	id, err := encoding.ParseRequestID(requestID)
	if err != nil {
		helpers.SendError(w, err)
		return
	}

	res, err := h.relay.Status(r.Context(), id)
	if err != nil {
		helpers.SendError(w, err)
		return
	}
	helpers.SendJSON(w, http.StatusOK, res)
}
