package domain

import (
	"context"
	"time"
)

// QueueMessage is the transient envelope handed to the worker. The receipt
// handle is required to delete the message; an undeleted message becomes
// visible again after the queue's visibility timeout.
type QueueMessage struct {
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
}

// Queue is a durable at-least-once message queue with long-poll receive and
// explicit delete-on-success. Dead-lettering is owned by queue infrastructure.
type Queue interface {
	Send(ctx context.Context, body []byte, attrs map[string]string) error
	Receive(ctx context.Context) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
	Depth(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type HourBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

type Stats struct {
	TotalOrders int
	OrdersToday int
	ByStatus    map[string]int
	ByHour      []HourBucket
}

type OrderStore interface {
	// Insert is an idempotent create: a duplicate order_id is a no-op, not an
	// error. Reports whether a row was actually written.
	Insert(ctx context.Context, order *Order) (bool, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context, page, pageSize int) ([]Order, int, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
	Stats(ctx context.Context) (*Stats, error)
	RecentOrderIDs(ctx context.Context, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

type Cache interface {
	Get(orderID string) (*Order, bool)
	Set(order *Order)
}
