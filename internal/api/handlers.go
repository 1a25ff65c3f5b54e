// Package api is the thin HTTP surface over the brokerage core. Handlers
// decode requests, call the services, and translate the core error taxonomy
// to status codes; no business rules live here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tandogan/brokerage/internal/auth"
	"github.com/tandogan/brokerage/internal/matching"
	"github.com/tandogan/brokerage/internal/models"
	"github.com/tandogan/brokerage/internal/orders"
	"github.com/tandogan/brokerage/internal/store"
)

type ctxKey int

const (
	customerIDKey ctxKey = iota
	customerRoleKey
)

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Store   store.Store
	Orders  *orders.Service
	Matcher *matching.Engine
	Auth    *auth.Service
	Log     zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, orderSvc *orders.Service, matcher *matching.Engine, authSvc *auth.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		Store:   st,
		Orders:  orderSvc,
		Matcher: matcher,
		Auth:    authSvc,
		Log:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.SubmitOrder)
		r.Get("/orders", h.GetCustomerOrders)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/balances", h.GetBalances)

		r.Group(func(r chi.Router) {
			r.Use(h.AdminOnly)
			r.Post("/admin/orders/{id}/match", h.MatchOrder)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Register handles customer registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	customer, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		if errors.Is(err, models.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error().Err(err).Msg("registration failed")
		writeError(w, http.StatusInternalServerError, "failed to register customer")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       customer.ID,
		"username": customer.Username,
	})
}

// Login handles customer login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and injects the customer id and role.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		custID, role, err := h.Auth.CustomerFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), customerIDKey, custID)
		ctx = context.WithValue(ctx, customerRoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly rejects requests whose token does not carry the ADMIN role. It
// must run after JWTAuthMiddleware.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := r.Context().Value(customerRoleKey).(models.Role)
		if !ok || role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func customerID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(customerIDKey).(int64)
	return id, ok
}

// SubmitOrder admits a new order for the authenticated customer.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	custID, ok := customerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Asset string          `json:"asset_name"`
		Side  models.Side     `json:"order_side"`
		Size  int64           `json:"size"`
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.Orders.Submit(r.Context(), custID, req.Asset, req.Side, req.Size, req.Price)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetCustomerOrders lists the authenticated customer's orders.
func (h *Handler) GetCustomerOrders(w http.ResponseWriter, r *http.Request) {
	custID, ok := customerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderList, err := h.Store.OrdersByCustomer(r.Context(), custID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve orders")
		return
	}
	if orderList == nil {
		orderList = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orderList)
}

// CancelOrder cancels one of the authenticated customer's PENDING orders.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	custID, ok := customerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	canceled, err := h.Orders.Cancel(r.Context(), orderID, custID)
	if err != nil && !canceled {
		writeError(w, statusFor(err), "failed to cancel order")
		return
	}
	if !canceled {
		writeError(w, http.StatusNotFound, "order not found or not cancelable")
		return
	}
	if err != nil {
		// The order is CANCELED but the hold was not restored; reported for
		// reconciliation, the client still sees the persisted outcome.
		h.Log.Error().Err(err).Int64("order_id", orderID).Msg("hold release failed after cancel")
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "order canceled"})
}

// GetBalances lists the authenticated customer's asset balances.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	custID, ok := customerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balances, err := h.Store.BalancesByCustomer(r.Context(), custID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve balances")
		return
	}
	if balances == nil {
		balances = []models.Balance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

// MatchOrder triggers matching for an order.
func (h *Handler) MatchOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	status, execs, err := h.Matcher.Match(r.Context(), orderID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if execs == nil {
		execs = []models.Execution{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":   orderID,
		"status":     status,
		"executions": execs,
	})
}
