// Package bus adapts the message bus. Producers publish keyed messages to
// logical topics; consumers get at-least-once delivery with per-key ordering.
package bus

import (
	"context"
	"sync"
)

// Message is one delivered bus record. Key is the partition key (ride ID on
// ride topics, driver ID on heartbeats).
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Publisher is the write side used by the coordinator and the HTTP API.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Handler processes one delivered message. Returning an error does not stop
// delivery; redelivery semantics are the transport's concern.
type Handler func(ctx context.Context, m Message) error

// Memory is an in-process bus used in tests and single-binary runs.
// Delivery is synchronous on the publisher's goroutine, so per-key order
// holds exactly when a key's publishers are serialized — which the
// coordinator's compare-and-swap already guarantees per ride.
type Memory struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]Handler)}
}

// Subscribe registers h for every topic listed.
func (b *Memory) Subscribe(h Handler, topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], h)
	}
}

// Publish delivers synchronously to every subscriber. Handler errors are
// swallowed: the in-memory bus has no redelivery, matching the best-effort
// behavior tests want to observe directly.
func (b *Memory) Publish(ctx context.Context, topic, key string, value []byte) error {
	b.mu.RLock()
	handlers := b.subs[topic]
	b.mu.RUnlock()

	m := Message{Topic: topic, Key: key, Value: value}
	for _, h := range handlers {
		_ = h(ctx, m)
	}
	return nil
}
