package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

// IndexEntry is handed to the external indexing collaborator after each
// successful ingest.
type IndexEntry struct {
	TenantID  int64  `json:"tenant_id"`
	GroupID   int64  `json:"group_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// Indexer receives index hand-offs. Best-effort: implementations must not
// block ingestion and may drop entries under pressure.
type Indexer interface {
	Index(entry IndexEntry)
}

// KafkaIndexer publishes index entries to a kafka topic. Entries flow
// through a buffered channel drained by a background writer goroutine.
type KafkaIndexer struct {
	writer *kafka.Writer
	ch     chan IndexEntry
}

// NewKafkaIndexer creates the indexer and starts its writer goroutine.
func NewKafkaIndexer(ctx context.Context, brokers, topic string) *KafkaIndexer {
	ix := &KafkaIndexer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(brokers, ",")...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		ch: make(chan IndexEntry, 512),
	}
	go ix.run(ctx)
	return ix
}

func (ix *KafkaIndexer) run(ctx context.Context) {
	defer ix.writer.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ix.ch:
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			key := fmt.Sprintf("%d:%d:%d", entry.TenantID, entry.GroupID, entry.MessageID)
			if err := ix.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(key),
				Value: payload,
			}); err != nil && ctx.Err() == nil {
				slog.Warn("indexer: write failed", "key", key, "error", err)
			}
		}
	}
}

// Index queues an entry. Non-blocking; drops with a warning when full.
func (ix *KafkaIndexer) Index(entry IndexEntry) {
	select {
	case ix.ch <- entry:
	default:
		slog.Warn("indexer: buffer full, dropping", "message_id", entry.MessageID)
	}
}

// ChannelIndexer is an in-process Indexer for tests.
type ChannelIndexer struct {
	ch chan IndexEntry
}

// NewChannelIndexer creates an in-process indexer.
func NewChannelIndexer() *ChannelIndexer {
	return &ChannelIndexer{ch: make(chan IndexEntry, 512)}
}

// Index queues an entry. Non-blocking.
func (ix *ChannelIndexer) Index(entry IndexEntry) {
	select {
	case ix.ch <- entry:
	default:
	}
}

// Entries returns the queued entry stream.
func (ix *ChannelIndexer) Entries() <-chan IndexEntry {
	return ix.ch
}
