package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorFoldsRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		Service:        "intelwatch",
		TimeInterval:   time.Hour,
		CountThreshold: 10,
		Topic:          "logs",
		Publisher:      pub,
	})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "check failed", map[string]interface{}{"monitor_id": "m1", "error": errors.New("boom")}, "x.go:1")
	}
	c.AddLog("error", "check failed", map[string]interface{}{"monitor_id": "m2"}, "x.go:1")
	assert.Equal(t, 2, c.Pending())

	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "logs", pub.topic)

	counts := map[interface{}]int{}
	for _, e := range pub.batches[0] {
		assert.Equal(t, "intelwatch", e.Service)
		counts[e.Fields["monitor_id"]] = e.Count
	}
	assert.Equal(t, 3, counts["m1"])
	assert.Equal(t, 1, counts["m2"])
}

func TestLoggerWithNop(t *testing.T) {
	l := Nop().With(String("component", "test"))
	l.Info("hello", Int("n", 1), Float64("f", 1.5), Time("at", time.Now()))
	l.Error("oops", Error(errors.New("x")))
}
