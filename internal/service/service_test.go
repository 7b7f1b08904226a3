package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"buybox-watcher/internal/queue"
	"buybox-watcher/internal/router"
)

// scriptedGateway serves canned batches, then blocks until cancelled.
type scriptedGateway struct {
	mu      sync.Mutex
	batches [][]queue.Message
	errs    []error
	deleted []string
	purged  bool
}

func (g *scriptedGateway) Receive(ctx context.Context, maxMessages int32, wait time.Duration) ([]queue.Message, error) {
	g.mu.Lock()
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		g.mu.Unlock()
		return nil, err
	}
	if len(g.batches) > 0 {
		batch := g.batches[0]
		g.batches = g.batches[1:]
		g.mu.Unlock()
		return batch, nil
	}
	g.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (g *scriptedGateway) Delete(ctx context.Context, receiptHandle string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, receiptHandle)
	return nil
}

func (g *scriptedGateway) Purge(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purged = true
	return nil
}

func (g *scriptedGateway) deletedHandles() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deleted...)
}

// scriptedHandler maps message bodies to outcomes.
type scriptedHandler struct {
	mu       sync.Mutex
	results  map[string]router.Result
	handled  []string
	handledC chan struct{}
}

func newScriptedHandler(results map[string]router.Result, expected int) *scriptedHandler {
	return &scriptedHandler{results: results, handledC: make(chan struct{}, expected)}
}

func (h *scriptedHandler) Handle(ctx context.Context, body []byte) router.Result {
	h.mu.Lock()
	h.handled = append(h.handled, string(body))
	result := h.results[string(body)]
	h.mu.Unlock()
	h.handledC <- struct{}{}
	return result
}

func runService(t *testing.T, gateway *scriptedGateway, handler *scriptedHandler, expected int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	svc := New(Options{Workers: 2, MaxMessages: 10, WaitTime: time.Millisecond, IdleBackoff: time.Millisecond}, gateway, handler, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	for i := 0; i < expected; i++ {
		select {
		case <-handler.handledC:
		case <-time.After(2 * time.Second):
			t.Fatal("消息处理超时")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run 应以 context.Canceled 退出: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop 未随 ctx 取消退出")
	}
}

func TestServiceAcksTerminalOutcomesOnly(t *testing.T) {
	gateway := &scriptedGateway{
		batches: [][]queue.Message{{
			{ID: "1", Body: []byte("processed"), ReceiptHandle: "rh-1"},
			{ID: "2", Body: []byte("dropped"), ReceiptHandle: "rh-2"},
			{ID: "3", Body: []byte("deferred"), ReceiptHandle: "rh-3"},
		}},
	}
	handler := newScriptedHandler(map[string]router.Result{
		"processed": router.Processed(),
		"dropped":   router.Dropped("bad payload"),
		"deferred":  router.Deferred("db down"),
	}, 3)

	runService(t, gateway, handler, 3)

	deleted := map[string]bool{}
	for _, handle := range gateway.deletedHandles() {
		deleted[handle] = true
	}
	if !deleted["rh-1"] || !deleted["rh-2"] {
		t.Fatalf("终态消息应被确认: %#v", deleted)
	}
	if deleted["rh-3"] {
		t.Fatal("Deferred 消息不应被确认")
	}
}

func TestServiceSurvivesReceiveErrors(t *testing.T) {
	gateway := &scriptedGateway{
		errs: []error{errors.New("throttled"), errors.New("throttled")},
		batches: [][]queue.Message{{
			{ID: "1", Body: []byte("processed"), ReceiptHandle: "rh-1"},
		}},
	}
	handler := newScriptedHandler(map[string]router.Result{
		"processed": router.Processed(),
	}, 1)

	runService(t, gateway, handler, 1)

	if len(gateway.deletedHandles()) != 1 {
		t.Fatalf("接收错误后应继续消费: %#v", gateway.deletedHandles())
	}
}

func TestServiceStopsOnCancel(t *testing.T) {
	gateway := &scriptedGateway{}
	handler := newScriptedHandler(nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	svc := New(Options{Workers: 1, MaxMessages: 1, WaitTime: time.Millisecond}, gateway, handler, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected exit error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("空队列下取消应立即退出")
	}
}
