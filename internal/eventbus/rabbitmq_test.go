package eventbus

import (
	"context"
	"sync"
	"testing"
)

// Publish and the reconnect goroutine share the manager's connection state;
// this drives them concurrently so the race detector can see an
// unsynchronized access.
func TestPublishConcurrentWithStateChanges(t *testing.T) {
	rmq := &RabbitMQManager{done: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := rmq.Publish(context.Background(), "order.created", "payload"); err == nil {
					t.Error("Expected publish on a disconnected manager to fail")
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			rmq.mu.Lock()
			rmq.isReady = false
			rmq.mu.Unlock()
		}
	}()
	wg.Wait()
}

func TestStartConsumingWhenNotReady(t *testing.T) {
	rmq := &RabbitMQManager{done: make(chan struct{})}
	if err := rmq.StartConsuming(context.Background(), nil); err == nil {
		t.Error("Expected consuming on a disconnected manager to fail")
	}
}
