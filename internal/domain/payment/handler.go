package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/craftui/craftui-api/internal/middleware"
	"github.com/craftui/craftui-api/internal/pkg/response"
	"github.com/craftui/craftui-api/internal/pkg/validator"
)

// Stripe event payloads are small; anything larger is rejected.
const maxWebhookBody = 65536

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,plan"`
}

// Checkout handles POST /payments/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if details := validator.ValidateStruct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	out, err := h.service.CreateCheckout(r.Context(), userID, req.Plan)
	if err != nil {
		if errors.Is(err, ErrUnknownPlan) {
			response.BadRequest(w, "unknown plan")
			return
		}
		log.Error().Err(err).Str("user_id", userID.String()).Msg("checkout failed")
		response.InternalError(w)
		return
	}

	response.OK(w, out)
}

// Plans handles GET /payments/plans
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.service.Plans())
}

// GetHistory handles GET /payments
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	payments, err := h.service.GetPaymentHistory(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, payments)
}

// Webhook handles POST /webhooks/stripe
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "unreadable payload")
		return
	}

	err = h.service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			log.Warn().Err(err).Str("ip", r.RemoteAddr).Msg("webhook signature rejected")
			response.Error(w, http.StatusBadRequest, "SIGNATURE_INVALID", "invalid webhook signature")
			return
		}
		// 500 makes the processor redeliver; ingestion is idempotent.
		log.Error().Err(err).Msg("webhook processing failed")
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{"received": true})
}

// Routes returns payment router (protected)
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.GetHistory)
	r.Get("/plans", h.Plans)
	r.Post("/checkout", h.Checkout)
	return r
}

// WebhookRoutes returns webhook router (no auth, signature verification)
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.Webhook)
	return r
}
