// Package server exposes the payment request engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"chainpay/engine"
	"chainpay/models"
	"chainpay/observability"
	"chainpay/payuri"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine  *engine.Engine
	Metrics *observability.Metrics
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine   *engine.Engine
	metrics  *observability.Metrics
	validate *validator.Validate

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	if cfg.Engine == nil {
		panic("server: engine required")
	}
	srv := &Server{
		engine:   cfg.Engine,
		metrics:  cfg.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1/orders", func(orders chi.Router) {
		orders.With(s.metrics.Middleware("/v1/orders")).Post("/", s.CreateOrder)
		orders.With(s.metrics.Middleware("/v1/orders/{id}")).Get("/{id}", s.getRequest(models.KindOrder))
		orders.With(s.metrics.Middleware("/v1/orders/{id}/status")).Put("/{id}/status", s.updateStatus(models.KindOrder))
		orders.With(s.metrics.Middleware("/v1/orders/{id}/uri")).Get("/{id}/uri", s.payableURI(models.KindOrder))
		orders.With(s.metrics.Middleware("/v1/orders/by-business")).Get("/by-business/{businessID}", s.listByBusiness(models.KindOrder))
		orders.With(s.metrics.Middleware("/v1/orders/recent-paid")).Get("/recent-paid/{businessID}", s.listRecentPaid(models.KindOrder))
	})

	r.Route("/v1/payment-links", func(links chi.Router) {
		links.With(s.metrics.Middleware("/v1/payment-links")).Post("/", s.CreatePaymentLink)
		links.With(s.metrics.Middleware("/v1/payment-links/{id}")).Get("/{id}", s.getRequest(models.KindLink))
		links.With(s.metrics.Middleware("/v1/payment-links/{id}/status")).Put("/{id}/status", s.updateStatus(models.KindLink))
		links.With(s.metrics.Middleware("/v1/payment-links/{id}/uri")).Get("/{id}/uri", s.payableURI(models.KindLink))
		links.With(s.metrics.Middleware("/v1/payment-links/by-business")).Get("/by-business/{businessID}", s.listByBusiness(models.KindLink))
		links.With(s.metrics.Middleware("/v1/payment-links/recent-paid")).Get("/recent-paid/{businessID}", s.listRecentPaid(models.KindLink))
	})

	return r
}

type orderItemRequest struct {
	ProductName string          `json:"product_name" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"required"`
	Quantity    int             `json:"quantity" validate:"required"`
}

type createOrderRequest struct {
	BusinessID     string             `json:"business_id" validate:"required"`
	ClientID       string             `json:"client_id" validate:"required"`
	Description    string             `json:"description"`
	SuccessURL     string             `json:"success_url" validate:"required,url"`
	ExpiredAt      time.Time          `json:"expired_at" validate:"required"`
	ChainID        uint64             `json:"chain_id"`
	ChainName      string             `json:"chain_name"`
	ReceivingToken string             `json:"receiving_token"`
	Items          []orderItemRequest `json:"items" validate:"required,dive"`
}

type createLinkRequest struct {
	BusinessID     string          `json:"business_id" validate:"required"`
	Title          string          `json:"title" validate:"required"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	SuccessURL     string          `json:"success_url" validate:"omitempty,url"`
	ExpiredAt      *time.Time      `json:"expired_at"`
	ChainID        uint64          `json:"chain_id"`
	ChainName      string          `json:"chain_name"`
	ReceivingToken string          `json:"receiving_token"`
}

type updateStatusRequest struct {
	Status          models.RequestStatus `json:"status" validate:"required"`
	SenderWallet    string               `json:"sender_wallet"`
	SenderChain     string               `json:"sender_chain"`
	CustomerName    string               `json:"customer_name"`
	TransactionHash string               `json:"transaction_hash"`
}

// CreateOrder issues a new itemized order with a disambiguated expected amount.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeValidatorError(w, err)
		return
	}

	items := make([]engine.ItemSpec, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, engine.ItemSpec{
			Name:      item.ProductName,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	created, err := s.engine.Create(r.Context(), engine.CreateSpec{
		BusinessID:     req.BusinessID,
		Kind:           models.KindOrder,
		ClientID:       req.ClientID,
		Description:    req.Description,
		SuccessURL:     req.SuccessURL,
		ExpiresAt:      req.ExpiredAt,
		ChainID:        req.ChainID,
		ChainName:      req.ChainName,
		ReceivingToken: req.ReceivingToken,
		Items:          items,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// CreatePaymentLink issues a directly-priced payment link.
func (s *Server) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeValidatorError(w, err)
		return
	}

	spec := engine.CreateSpec{
		BusinessID:     req.BusinessID,
		Kind:           models.KindLink,
		Title:          req.Title,
		Description:    req.Description,
		Amount:         req.Amount,
		SuccessURL:     req.SuccessURL,
		ChainID:        req.ChainID,
		ChainName:      req.ChainName,
		ReceivingToken: req.ReceivingToken,
	}
	if req.ExpiredAt != nil {
		spec.ExpiresAt = *req.ExpiredAt
	}
	created, err := s.engine.Create(r.Context(), spec)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getRequest(kind models.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if req.Kind != kind {
			s.writeEngineError(w, engine.ErrNotFound)
			return
		}
		s.writeJSON(w, http.StatusOK, req)
	}
}

func (s *Server) updateStatus(kind models.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid payload", nil)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			s.writeValidatorError(w, err)
			return
		}

		id := chi.URLParam(r, "id")
		current, err := s.engine.Get(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if current.Kind != kind {
			s.writeEngineError(w, engine.ErrNotFound)
			return
		}

		updated, err := s.engine.Settle(r.Context(), id, engine.Evidence{
			Status:          req.Status,
			SenderWallet:    req.SenderWallet,
			SenderChain:     req.SenderChain,
			CustomerName:    req.CustomerName,
			TransactionHash: req.TransactionHash,
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) payableURI(kind models.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if req.Kind != kind {
			s.writeEngineError(w, engine.ErrNotFound)
			return
		}
		uri, err := s.engine.BuildPayableURI(req)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"id":              req.ID,
			"uri":             uri,
			"expected_amount": req.ExpectedAmount.String(),
		})
	}
}

func (s *Server) listByBusiness(kind models.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := engine.ListFilter{Kind: kind}
		if status := r.URL.Query().Get("status"); status != "" {
			filter.Status = models.RequestStatus(status)
		}
		reqs, err := s.engine.ListByBusiness(r.Context(), chi.URLParam(r, "businessID"), filter)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if reqs == nil {
			reqs = []models.PaymentRequest{}
		}
		s.writeJSON(w, http.StatusOK, reqs)
	}
}

func (s *Server) listRecentPaid(kind models.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				s.writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}
		reqs, err := s.engine.ListRecentSettled(r.Context(), chi.URLParam(r, "businessID"), kind, limit)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if reqs == nil {
			reqs = []models.PaymentRequest{}
		}
		s.writeJSON(w, http.StatusOK, reqs)
	}
}

type errorField struct {
	Field   string `json:"field"`
	Index   *int   `json:"item_index,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []errorField `json:"fields,omitempty"`
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		fields := make([]errorField, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			out := errorField{Field: f.Field, Message: f.Message}
			if f.Index >= 0 {
				idx := f.Index
				out.Index = &idx
			}
			fields = append(fields, out)
		}
		s.writeError(w, http.StatusBadRequest, "validation failed", fields)
		return
	}
	switch {
	case errors.Is(err, engine.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "payment request not found", nil)
	case errors.Is(err, engine.ErrBusinessNotFound):
		s.writeError(w, http.StatusNotFound, "business not found", nil)
	case errors.Is(err, payuri.ErrUnresolvedDestination):
		s.writeError(w, http.StatusNotFound, "destination wallet not resolved", nil)
	case errors.Is(err, payuri.ErrUnsupportedChain):
		s.writeError(w, http.StatusBadRequest, "unsupported chain or token", nil)
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		s.writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func (s *Server) writeValidatorError(w http.ResponseWriter, err error) {
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		s.writeError(w, http.StatusBadRequest, "invalid payload", nil)
		return
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]errorField, 0, len(verrs))
		for _, f := range verrs {
			fields = append(fields, errorField{Field: f.Field(), Message: "failed " + f.Tag() + " validation"})
		}
		s.writeError(w, http.StatusBadRequest, "validation failed", fields)
		return
	}
	s.writeError(w, http.StatusBadRequest, "invalid payload", nil)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, fields []errorField) {
	s.writeJSON(w, status, errorResponse{Error: msg, Fields: fields})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
