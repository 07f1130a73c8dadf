package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/auth"
	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/service"
	"github.com/pravinl23/DealyDigests-sub001/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service         *service.Service
	maxBodySize     int64
	signatureHeader string
	logger          *zap.Logger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize     int64
	SignatureHeader string
	Logger          *zap.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize:     10 << 20, // 10MB default
		SignatureHeader: "X-Aggregator-Signature",
		Logger:          zap.NewNop(),
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	defaults := DefaultHandlerOptions()
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaults.MaxBodySize
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = defaults.SignatureHeader
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	return &Handler{
		service:         svc,
		maxBodySize:     opts.MaxBodySize,
		signatureHeader: opts.SignatureHeader,
		logger:          opts.Logger,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/webhooks/offers-aggregator", func(r chi.Router) {
		r.Post("/", h.ReceiveWebhook)
		r.Get("/events/{id}", h.GetWebhookEvent)
		r.Post("/events/{id}/replay", h.ReplayWebhookEvent)
	})

	r.Post("/scrape/run", h.RunScrape)

	r.Route("/offers", func(r chi.Router) {
		r.Get("/", h.ListOffers)
		r.Get("/{id}", h.GetOffer)
	})

	r.Post("/transactions", h.CreateTransactions)
	r.Post("/users/{user_id}/media-history", h.AddMediaHistory)

	r.Route("/listings", func(r chi.Router) {
		r.Post("/events", h.AddEventListings)
		r.Post("/products", h.AddProducts)
	})

	r.Get("/deals/recommended", h.RecommendedDeals)
	r.Get("/events/recommended", h.RecommendedEvents)
	r.Get("/products/recommended", h.RecommendedProducts)

	r.Get("/health", h.Health)
}

// ReceiveWebhook handles POST /webhooks/offers-aggregator
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	// The signature covers the exact bytes, so the body is read raw.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	ack, err := h.service.ReceiveWebhook(r.Context(), body, r.Header.Get(h.signatureHeader))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ack)
}

// GetWebhookEvent handles GET /webhooks/offers-aggregator/events/{id}
func (h *Handler) GetWebhookEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.service.GetWebhookEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ev)
}

// ReplayWebhookEvent handles POST /webhooks/offers-aggregator/events/{id}/replay
func (h *Handler) ReplayWebhookEvent(w http.ResponseWriter, r *http.Request) {
	ack, err := h.service.ReplayWebhookEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, ack)
}

// RunScrape handles POST /scrape/run
func (h *Handler) RunScrape(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.RunScrape(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ListOffers handles GET /offers
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := validation.ParsePage(q.Get("page"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	limit, err := validation.ParseLimit(q.Get("limit"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp, err := h.service.ListOffers(r.Context(), q.Get("issuer"), q.Get("category"), q.Get("merchant"), page, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetOffer handles GET /offers/{id}
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.service.GetOffer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offer)
}

// CreateTransactions handles POST /transactions
func (h *Handler) CreateTransactions(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTransactionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Sanitize all transaction fields
	for i := range req.Transactions {
		txn := &req.Transactions[i]
		txn.ID = validation.SanitizeString(txn.ID)
		txn.UserID = validation.SanitizeString(txn.UserID)
		txn.Category = validation.SanitizeString(txn.Category)
		txn.Merchant = validation.SanitizeString(txn.Merchant)
	}

	inserted, err := h.service.CreateTransactions(r.Context(), req.Transactions)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.CreateTransactionsResponse{
		Inserted: inserted,
	})
}

// AddMediaHistory handles POST /users/{user_id}/media-history
func (h *Handler) AddMediaHistory(w http.ResponseWriter, r *http.Request) {
	userID := validation.SanitizeString(chi.URLParam(r, "user_id"))

	var req models.CreateMediaHistoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	for i := range req.Items {
		req.Items[i].Title = validation.SanitizeString(req.Items[i].Title)
	}

	inserted, err := h.service.AddMediaHistory(r.Context(), userID, req.Items)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, models.CreateTransactionsResponse{Inserted: inserted})
}

// AddEventListings handles POST /listings/events
func (h *Handler) AddEventListings(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventListingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids, err := h.service.AddEventListings(r.Context(), req.Events)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, models.UpsertResponse{IDs: ids})
}

// AddProducts handles POST /listings/products
func (h *Handler) AddProducts(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids, err := h.service.AddProducts(r.Context(), req.Products)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, models.UpsertResponse{IDs: ids})
}

// RecommendedDeals handles GET /deals/recommended
func (h *Handler) RecommendedDeals(w http.ResponseWriter, r *http.Request) {
	userID, limit, ok := h.recommendParams(w, r)
	if !ok {
		return
	}
	resp, err := h.service.RecommendedDeals(r.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// RecommendedEvents handles GET /events/recommended
func (h *Handler) RecommendedEvents(w http.ResponseWriter, r *http.Request) {
	userID, limit, ok := h.recommendParams(w, r)
	if !ok {
		return
	}
	resp, err := h.service.RecommendedEvents(r.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// RecommendedProducts handles GET /products/recommended
func (h *Handler) RecommendedProducts(w http.ResponseWriter, r *http.Request) {
	userID, limit, ok := h.recommendParams(w, r)
	if !ok {
		return
	}
	resp, err := h.service.RecommendedProducts(r.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.service.Health(r.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, code, status)
}

// recommendParams resolves the user from the userId query value or the
// session subject, and the result limit.
func (h *Handler) recommendParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	q := r.URL.Query()
	userID := validation.SanitizeString(q.Get("userId"))
	if userID == "" {
		if id, ok := auth.FromContext(r.Context()); ok {
			userID = id.Subject
		}
	}
	if userID == "" {
		h.respondError(w, http.StatusUnauthorized, "userId is required when no session is present")
		return "", 0, false
	}

	limit, err := validation.ParseLimit(q.Get("limit"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return "", 0, false
	}
	return userID, limit, true
}

// decode reads a JSON body into dst and writes the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// respondServiceError maps a service error onto a status code.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr        *validation.ValidationError
		upstreamErr *errs.UpstreamError
	)
	switch {
	case errors.As(err, &vErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		h.respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrConflict):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &upstreamErr):
		h.logger.Warn("upstream failure", zap.String("path", r.URL.Path), zap.Error(err))
		h.respondError(w, http.StatusBadGateway, upstreamErr.Error())
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
