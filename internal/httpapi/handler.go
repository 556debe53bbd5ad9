package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ordersys/pipeline/internal/domain"
	"github.com/ordersys/pipeline/internal/observability"
)

type Handler struct {
	store    domain.OrderStore
	queue    domain.Queue
	cache    domain.Cache
	logger   *zap.Logger
	metrics  observability.Metrics
	validate *validator.Validate
}

func NewHandler(store domain.OrderStore, queue domain.Queue, cache domain.Cache, logger *zap.Logger, metrics observability.Metrics) *Handler {
	if metrics == nil {
		metrics = observability.Noop{}
	}
	v := validator.New()
	// error messages use the wire field names, not Go struct names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    store,
		queue:    queue,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
		validate: v,
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// DependencyHealth reports reachability of the store and the queue. Either
// one down degrades the whole response to 503.
func (h *Handler) DependencyHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus := "connected"
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		dbStatus = "disconnected"
	}
	queueStatus := "connected"
	if err := h.queue.Ping(ctx); err != nil {
		h.logger.Warn("queue health check failed", zap.Error(err))
		queueStatus = "disconnected"
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "connected" || queueStatus != "connected" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": map[string]string{"status": dbStatus},
		"queue":    map[string]string{"status": queueStatus},
	})
}

type itemRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
}

type createOrderRequest struct {
	CustomerID string        `json:"customer_id" validate:"required"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateOrder validates the request, assigns an id and a total, and enqueues
// the order. The 202 response promises acceptance, not persistence.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, validationMessage(verrs[0]))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	items := make([]domain.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.Item{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
	}
	order := domain.Order{
		OrderID:     domain.NewOrderID(),
		CustomerID:  req.CustomerID,
		TotalAmount: domain.Total(items),
		Items:       items,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	body, err := json.Marshal(order)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize order")
		return
	}

	start := time.Now()
	err = h.queue.Send(r.Context(), body, map[string]string{
		"order_id":    order.OrderID,
		"customer_id": order.CustomerID,
	})
	h.metrics.ObserveEnqueue(msSince(start), err == nil)
	if err != nil {
		h.logger.Error("enqueue failed",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to queue order")
		return
	}

	h.logger.Info("order accepted",
		zap.String("order_id", order.OrderID),
		zap.String("customer_id", order.CustomerID),
		zap.Float64("total_amount", order.TotalAmount),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":      "order accepted for processing",
		"order_id":     order.OrderID,
		"status":       "queued",
		"total_amount": order.TotalAmount,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order_id")
		return
	}

	start := time.Now()
	if h.cache != nil {
		if o, ok := h.cache.Get(id); ok {
			ms := msSince(start)
			h.metrics.IncCacheHit()
			h.metrics.ObserveLookup("cache", ms)
			observability.AppendServerTiming(w, "lookup", ms, "cache")
			writeJSON(w, http.StatusOK, map[string]any{"data": o})
			return
		}
		h.metrics.IncCacheMiss()
	}

	o, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("order lookup failed", zap.String("order_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if h.cache != nil {
		h.cache.Set(o)
	}
	ms := msSince(start)
	h.metrics.ObserveLookup("store", ms)
	observability.AppendServerTiming(w, "lookup", ms, "store")
	writeJSON(w, http.StatusOK, map[string]any{"data": o})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil || limit < 1 || limit > 100 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	orders, total, err := h.store.List(r.Context(), page, limit)
	if err != nil {
		h.logger.Error("order list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		h.logger.Warn("queue depth unavailable", zap.Error(err))
		depth = 0
	}

	// average completions per hour over the stats window
	rate := float64(st.OrdersToday) / 24.0

	byHour := st.ByHour
	if byHour == nil {
		byHour = []domain.HourBucket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_orders":     st.TotalOrders,
		"orders_today":     st.OrdersToday,
		"processing_rate":  rate,
		"queue_depth":      depth,
		"orders_by_hour":   byHour,
		"orders_by_status": st.ByStatus,
	})
}

func validationMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must not be empty"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return field + " must not be negative"
	default:
		return field + " is invalid"
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are already out; nothing useful left to do
		return
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
