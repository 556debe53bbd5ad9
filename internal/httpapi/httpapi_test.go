package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ordersys/pipeline/internal/domain"
)

type sentMessage struct {
	body  []byte
	attrs map[string]string
}

type fakeQueue struct {
	sent    []sentMessage
	sendErr error
	depth   int
	pingErr error
}

func (q *fakeQueue) Send(ctx context.Context, body []byte, attrs map[string]string) error {
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sent = append(q.sent, sentMessage{body: body, attrs: attrs})
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context) ([]domain.QueueMessage, error) { return nil, nil }
func (q *fakeQueue) Delete(ctx context.Context, receiptHandle string) error     { return nil }
func (q *fakeQueue) Depth(ctx context.Context) (int, error)                     { return q.depth, nil }
func (q *fakeQueue) Ping(ctx context.Context) error                             { return q.pingErr }

type fakeStore struct {
	orders  []domain.Order
	getErr  error
	listErr error
	pingErr error
	stats   *domain.Stats
}

func (s *fakeStore) Insert(ctx context.Context, o *domain.Order) (bool, error) { return true, nil }

func (s *fakeStore) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	for i := range s.orders {
		if s.orders[i].OrderID == orderID {
			return &s.orders[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) List(ctx context.Context, page, pageSize int) ([]domain.Order, int, error) {
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	start := (page - 1) * pageSize
	if start >= len(s.orders) {
		return nil, len(s.orders), nil
	}
	end := start + pageSize
	if end > len(s.orders) {
		end = len(s.orders)
	}
	return s.orders[start:end], len(s.orders), nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, orderID, status string) error { return nil }

func (s *fakeStore) Stats(ctx context.Context) (*domain.Stats, error) {
	if s.stats != nil {
		return s.stats, nil
	}
	return &domain.Stats{ByStatus: map[string]int{}}, nil
}

func (s *fakeStore) RecentOrderIDs(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

type fakeCache struct {
	entries map[string]*domain.Order
	hits    int
	sets    int
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]*domain.Order{}} }

func (c *fakeCache) Get(orderID string) (*domain.Order, bool) {
	o, ok := c.entries[orderID]
	if ok {
		c.hits++
	}
	return o, ok
}

func (c *fakeCache) Set(o *domain.Order) {
	c.sets++
	c.entries[o.OrderID] = o
}

func newTestRouter(store *fakeStore, queue *fakeQueue, cache domain.Cache) http.Handler {
	h := NewHandler(store, queue, cache, zap.NewNop(), nil)
	return NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &fakeQueue{}, nil)

	rec, body := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", body["status"])
	require.NotEmpty(t, body["timestamp"])
}

func TestDependencyHealth(t *testing.T) {
	tests := []struct {
		name       string
		dbErr      error
		queueErr   error
		wantCode   int
		wantStatus string
	}{
		{"all connected", nil, nil, http.StatusOK, "healthy"},
		{"database down", errors.New("dial refused"), nil, http.StatusServiceUnavailable, "degraded"},
		{"queue down", nil, errors.New("no such host"), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeStore{pingErr: tt.dbErr}, &fakeQueue{pingErr: tt.queueErr}, nil)

			rec, body := doJSON(t, router, http.MethodGet, "/api/health", nil)
			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestCreateOrderAccepted(t *testing.T) {
	queue := &fakeQueue{}
	router := newTestRouter(&fakeStore{}, queue, nil)

	rec, body := doJSON(t, router, http.MethodPost, "/api/orders", map[string]any{
		"customer_id": "CUST-1001",
		"items": []map[string]any{
			{"product_id": "PROD-001", "quantity": 2, "price": 10.005},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "queued", body["status"])
	require.Equal(t, 20.01, body["total_amount"])

	orderID, _ := body["order_id"].(string)
	require.True(t, strings.HasPrefix(orderID, "ORD-"), "unexpected order id %q", orderID)

	require.Len(t, queue.sent, 1)
	require.Equal(t, orderID, queue.sent[0].attrs["order_id"])
	require.Equal(t, "CUST-1001", queue.sent[0].attrs["customer_id"])

	var payload domain.Order
	require.NoError(t, json.Unmarshal(queue.sent[0].body, &payload))
	require.Equal(t, orderID, payload.OrderID)
	require.Equal(t, domain.StatusPending, payload.Status)
	require.Equal(t, 20.01, payload.TotalAmount)
	require.False(t, payload.CreatedAt.IsZero())
}

func TestCreateOrderValidation(t *testing.T) {
	item := func(product string, qty int, price float64) map[string]any {
		return map[string]any{"product_id": product, "quantity": qty, "price": price}
	}
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing customer_id", map[string]any{
			"items": []map[string]any{item("PROD-001", 1, 9.99)},
		}},
		{"empty items", map[string]any{
			"customer_id": "CUST-1001", "items": []map[string]any{},
		}},
		{"zero quantity", map[string]any{
			"customer_id": "CUST-1001", "items": []map[string]any{item("PROD-001", 0, 9.99)},
		}},
		{"negative price", map[string]any{
			"customer_id": "CUST-1001", "items": []map[string]any{item("PROD-001", 1, -0.01)},
		}},
		{"missing product_id", map[string]any{
			"customer_id": "CUST-1001", "items": []map[string]any{item("", 1, 9.99)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			router := newTestRouter(&fakeStore{}, queue, nil)

			rec, body := doJSON(t, router, http.MethodPost, "/api/orders", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotEmpty(t, body["error"])
			require.Empty(t, queue.sent, "invalid request must not reach the queue")
		})
	}
}

func TestCreateOrderBadJSON(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &fakeQueue{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderEnqueueFailure(t *testing.T) {
	queue := &fakeQueue{sendErr: errors.New("queue unavailable")}
	router := newTestRouter(&fakeStore{}, queue, nil)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/orders", map[string]any{
		"customer_id": "CUST-1001",
		"items":       []map[string]any{{"product_id": "PROD-001", "quantity": 1, "price": 9.99}},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListOrdersPaginationBounds(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &fakeQueue{}, nil)

	for _, path := range []string{
		"/api/orders?page=0",
		"/api/orders?page=-1",
		"/api/orders?page=abc",
		"/api/orders?limit=0",
		"/api/orders?limit=101",
		"/api/orders?limit=abc",
	} {
		rec, _ := doJSON(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, "path %s", path)
	}
}

func TestListOrdersPagination(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 45; i++ {
		store.orders = append(store.orders, domain.Order{
			OrderID:   fmt.Sprintf("ORD-%08d", i),
			Status:    domain.StatusCompleted,
			CreatedAt: time.Now().UTC(),
		})
	}
	router := newTestRouter(store, &fakeQueue{}, nil)

	rec, body := doJSON(t, router, http.MethodGet, "/api/orders?page=1&limit=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["orders"], 20)
	require.Equal(t, float64(45), body["total"])
	require.Equal(t, float64(1), body["page"])
	require.Equal(t, float64(20), body["limit"])

	// defaults when no query params are given
	rec, body = doJSON(t, router, http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), body["page"])
	require.Equal(t, float64(20), body["limit"])

	// past the last page: empty slice, not null, total still reported
	rec, body = doJSON(t, router, http.MethodGet, "/api/orders?page=4&limit=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["orders"], 0)
	require.Equal(t, float64(45), body["total"])
}

func TestGetOrder(t *testing.T) {
	store := &fakeStore{orders: []domain.Order{
		{OrderID: "ORD-AAAA0001", CustomerID: "CUST-1001", Status: domain.StatusCompleted},
	}}
	cache := newFakeCache()
	router := newTestRouter(store, &fakeQueue{}, cache)

	rec, body := doJSON(t, router, http.MethodGet, "/api/orders/ORD-AAAA0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ORD-AAAA0001", data["order_id"])
	require.Equal(t, 1, cache.sets, "store hit should populate the cache")

	// second read is served from the cache
	rec, _ = doJSON(t, router, http.MethodGet, "/api/orders/ORD-AAAA0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, cache.hits)
	require.NotEmpty(t, rec.Header().Get("Server-Timing"))
}

func TestGetOrderNotFound(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &fakeQueue{}, newFakeCache())

	rec, _ := doJSON(t, router, http.MethodGet, "/api/orders/ORD-MISSING1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	store := &fakeStore{stats: &domain.Stats{
		TotalOrders: 120,
		OrdersToday: 48,
		ByStatus:    map[string]int{"completed": 118, "pending": 2},
		ByHour:      []domain.HourBucket{{Hour: time.Now().UTC().Truncate(time.Hour), Count: 3}},
	}}
	router := newTestRouter(store, &fakeQueue{depth: 7}, nil)

	rec, body := doJSON(t, router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(120), body["total_orders"])
	require.Equal(t, float64(48), body["orders_today"])
	require.Equal(t, float64(2), body["processing_rate"])
	require.Equal(t, float64(7), body["queue_depth"])
	require.Len(t, body["orders_by_hour"], 1)
}
