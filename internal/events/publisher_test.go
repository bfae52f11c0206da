package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// runPublisher starts delivery for the duration of the test.
func runPublisher(t *testing.T, pub *Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewPublisher(t *testing.T) {
	pub := NewPublisher("test-service")

	if pub == nil {
		t.Fatal("NewPublisher() returned nil")
	}
	if pub.source != "test-service" {
		t.Errorf("NewPublisher() source = %v, want test-service", pub.source)
	}
	if pub.httpClient == nil {
		t.Error("NewPublisher() did not initialize httpClient")
	}
	if pub.endpoints == nil {
		t.Error("NewPublisher() did not initialize endpoints map")
	}
	if cap(pub.queue) != DefaultQueueSize {
		t.Errorf("NewPublisher() queue capacity = %d, want %d", cap(pub.queue), DefaultQueueSize)
	}
}

func TestPublish_NoWebhook(t *testing.T) {
	pub := NewPublisher("test-service")

	err := pub.Publish(context.Background(), EventJobPosted, "job_123", "v1", map[string]any{"job_id": "job_123"})
	if err != nil {
		t.Errorf("Publish() without webhook error: %v", err)
	}
}

func TestPublish_WithWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Envelope
		headers  []http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		mu.Lock()
		received = append(received, env)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := NewPublisher("test-service")
	pub.RegisterEndpoint(EventOfferAccepted, server.URL)
	pub.RegisterEndpoint(AnyEvent, server.URL+"/all")
	runPublisher(t, pub)

	data := map[string]any{"job_id": "job_123", "offer_id": "offer_456"}
	if err := pub.Publish(context.Background(), EventOfferAccepted, "job_123", "v7", data); err != nil {
		t.Fatalf("Publish() with webhook error: %v", err)
	}

	waitFor(t, "two webhook deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	env := received[0]
	if env.EventType != EventOfferAccepted {
		t.Errorf("Envelope EventType = %v, want %v", env.EventType, EventOfferAccepted)
	}
	if env.Source != "test-service" {
		t.Errorf("Envelope Source = %v, want test-service", env.Source)
	}
	if env.Subject != "job_123" {
		t.Errorf("Envelope Subject = %v, want job_123", env.Subject)
	}
	if env.IdempotencyKey != "offer.accepted_job_123_v7" {
		t.Errorf("Envelope IdempotencyKey = %v", env.IdempotencyKey)
	}
	if env.Data["offer_id"] != "offer_456" {
		t.Errorf("Envelope Data offer_id = %v, want offer_456", env.Data["offer_id"])
	}
	if !strings.HasPrefix(env.EventID, "evt_") {
		t.Errorf("Envelope EventID = %v, want evt_ prefix", env.EventID)
	}
	if headers[0].Get("X-Event-Type") != EventOfferAccepted {
		t.Errorf("X-Event-Type = %v", headers[0].Get("X-Event-Type"))
	}
	if headers[0].Get("Idempotency-Key") != env.IdempotencyKey {
		t.Errorf("Idempotency-Key header = %v", headers[0].Get("Idempotency-Key"))
	}
}

func TestPublish_WebhookFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pub := NewPublisher("test-service")
	pub.RegisterEndpoint(EventJobClosed, server.URL)
	runPublisher(t, pub)

	// Should not error even if webhook fails (logged only)
	err := pub.Publish(context.Background(), EventJobClosed, "job_123", "v3", map[string]any{"job_id": "job_123"})
	if err != nil {
		t.Errorf("Publish() should not error on webhook failure, got: %v", err)
	}
}

func TestPublish_DoesNotWaitForDelivery(t *testing.T) {
	release := make(chan struct{})
	var calls sync.WaitGroup
	calls.Add(1)
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(calls.Done)
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	defer close(release)

	pub := NewPublisher("test-service")
	pub.RegisterEndpoint(AnyEvent, server.URL)
	runPublisher(t, pub)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := pub.Publish(context.Background(), EventOfferWithdrawn, "job_1", "v1", map[string]any{}); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Publish() blocked for %v behind a stalled webhook", elapsed)
	}
	calls.Wait()
}

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	var hits sync.WaitGroup
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Done()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := NewPublisherWithQueue("test-service", 1)
	pub.RegisterEndpoint(AnyEvent, server.URL)

	for i := 0; i < 3; i++ {
		if err := pub.Publish(context.Background(), EventJobPosted, "job_1", "v1", map[string]any{}); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	if got := len(pub.queue); got != 1 {
		t.Fatalf("queued deliveries = %d, want 1", got)
	}

	hits.Add(1)
	runPublisher(t, pub)
	hits.Wait()
}

func TestRun_DrainsOnShutdown(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := NewPublisher("test-service")
	pub.RegisterEndpoint(AnyEvent, server.URL)
	for i := 0; i < 3; i++ {
		_ = pub.Publish(context.Background(), EventJobPosted, "job_1", "v1", map[string]any{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("deliveries after shutdown = %d, want 3", count)
	}
}

func TestPublish_AllEventTypes(t *testing.T) {
	pub := NewPublisher("test-service")

	for _, eventType := range AllEventTypes {
		t.Run(eventType, func(t *testing.T) {
			err := pub.Publish(context.Background(), eventType, "job_1", "v1", map[string]any{"test_key": "test_value"})
			if err != nil {
				t.Errorf("Publish(%s) error: %v", eventType, err)
			}
		})
	}
}

func TestGenerateEventID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateEventID()
		if ids[id] {
			t.Errorf("generateEventID() generated duplicate ID: %v", id)
		}
		ids[id] = true
	}
}
