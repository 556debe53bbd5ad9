package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. "failed" is never stored: a failed message stays in the
// queue and is redelivered, so absence of a row is the failure signal.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

var ErrNotFound = errors.New("order not found")

type Item struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Order is both the persisted row and the queue message payload.
// Field names follow the wire format: snake_case JSON, RFC3339 timestamps.
type Order struct {
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id"`
	TotalAmount float64   `json:"total_amount"`
	Items       []Item    `json:"items"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Total computes sum(quantity*price) rounded half-up to 2 decimal places.
// Decimal arithmetic avoids float drift on inputs like 10.005.
func Total(items []Item) float64 {
	sum := decimal.Zero
	for _, it := range items {
		line := decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity)))
		sum = sum.Add(line)
	}
	f, _ := sum.Round(2).Float64()
	return f
}

// NewOrderID returns an id in the producer's ORD-XXXXXXXX format.
func NewOrderID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(hex[:8])
}
