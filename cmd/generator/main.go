// Command generator sends a burst of random sample orders to the queue and
// exits. Meant for seeding a fresh environment or load-poking the worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ordersys/pipeline/internal/config"
	"github.com/ordersys/pipeline/internal/domain"
	"github.com/ordersys/pipeline/internal/queue"
)

type product struct {
	id    string
	price float64
}

var catalog = []product{
	{"PROD-001", 1299.99},
	{"PROD-002", 29.99},
	{"PROD-003", 89.99},
	{"PROD-004", 399.99},
	{"PROD-005", 149.99},
}

func main() {
	if !envBool("GEN_ENABLED", true) {
		log.Println("generator disabled, exiting")
		return
	}

	queueURL := strings.TrimSpace(os.Getenv("SQS_QUEUE_URL"))
	if queueURL == "" {
		log.Fatal("SQS_QUEUE_URL is required")
	}
	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	if region == "" {
		region = "us-east-1"
	}
	min := envInt("GEN_MIN", 1)
	max := envInt("GEN_MAX", 5)
	if max < min {
		max = min
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	api, err := queue.Connect(ctx, region)
	if err != nil {
		log.Fatalf("connect queue: %v", err)
	}
	client := queue.NewClient(api, config.SQS{QueueURL: queueURL, Region: region})

	n := min + rand.Intn(max-min+1)
	log.Printf("sending %d sample orders", n)

	sent := 0
	for i := 0; i < n; i++ {
		order := randomOrder()
		body, err := json.Marshal(order)
		if err != nil {
			log.Printf("marshal order: %v", err)
			continue
		}
		err = client.Send(ctx, body, map[string]string{
			"order_id":    order.OrderID,
			"customer_id": order.CustomerID,
		})
		if err != nil {
			log.Printf("send order %s: %v", order.OrderID, err)
			continue
		}
		log.Printf("sent %s customer=%s total=%.2f items=%d",
			order.OrderID, order.CustomerID, order.TotalAmount, len(order.Items))
		sent++
	}
	log.Printf("done, sent %d/%d", sent, n)
}

func randomOrder() domain.Order {
	items := make([]domain.Item, 1+rand.Intn(3))
	for i := range items {
		p := catalog[rand.Intn(len(catalog))]
		items[i] = domain.Item{
			ProductID: p.id,
			Quantity:  1 + rand.Intn(5),
			Price:     p.price,
		}
	}
	return domain.Order{
		OrderID:     domain.NewOrderID(),
		CustomerID:  fmt.Sprintf("CUST-%04d", 1000+rand.Intn(9000)),
		TotalAmount: domain.Total(items),
		Items:       items,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
