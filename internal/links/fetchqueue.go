package links

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

// KafkaFetchQueue publishes metadata fetch requests to a kafka topic
// consumed by the external fetcher. Enqueue never blocks ingestion: requests
// go through a buffered channel drained by a background writer goroutine,
// and are dropped with a warning when the buffer is full.
type KafkaFetchQueue struct {
	writer *kafka.Writer
	ch     chan FetchRequest
}

// NewKafkaFetchQueue creates the queue and starts its writer goroutine.
func NewKafkaFetchQueue(ctx context.Context, brokers, topic string) *KafkaFetchQueue {
	q := &KafkaFetchQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(brokers, ",")...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		ch: make(chan FetchRequest, 256),
	}
	go q.run(ctx)
	return q
}

func (q *KafkaFetchQueue) run(ctx context.Context) {
	defer q.writer.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.ch:
			payload, err := json.Marshal(req)
			if err != nil {
				continue
			}
			if err := q.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(req.Hash),
				Value: payload,
			}); err != nil && ctx.Err() == nil {
				slog.Warn("links: metadata fetch enqueue failed", "hash", req.Hash, "error", err)
			}
		}
	}
}

// Enqueue queues a fetch request. Non-blocking.
func (q *KafkaFetchQueue) Enqueue(req FetchRequest) {
	select {
	case q.ch <- req:
	default:
		slog.Warn("links: metadata fetch queue full, dropping", "hash", req.Hash)
	}
}

// ChannelFetchQueue is an in-process FetchQueue for tests and for running
// without kafka.
type ChannelFetchQueue struct {
	ch chan FetchRequest
}

// NewChannelFetchQueue creates an in-process fetch queue.
func NewChannelFetchQueue() *ChannelFetchQueue {
	return &ChannelFetchQueue{ch: make(chan FetchRequest, 256)}
}

// Enqueue queues a fetch request. Non-blocking.
func (q *ChannelFetchQueue) Enqueue(req FetchRequest) {
	select {
	case q.ch <- req:
	default:
	}
}

// Requests returns the pending request stream.
func (q *ChannelFetchQueue) Requests() <-chan FetchRequest {
	return q.ch
}
