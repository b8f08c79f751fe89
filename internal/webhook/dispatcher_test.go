package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store/memory"
)

type recordedAttempt struct {
	Url     string
	Headers map[string]string
	Body    []byte
}

// stubSender scripts per-attempt status codes and records every attempt.
type stubSender struct {
	mu       sync.Mutex
	statuses []int
	attempts []recordedAttempt
	notify   chan struct{}
}

func newStubSender(statuses ...int) *stubSender {
	return &stubSender{statuses: statuses, notify: make(chan struct{}, 64)}
}

func (s *stubSender) Post(_ context.Context, url string, headers map[string]string, body []byte) (int, error) {
	s.mu.Lock()
	index := len(s.attempts)
	s.attempts = append(s.attempts, recordedAttempt{Url: url, Headers: headers, Body: append([]byte(nil), body...)})
	status := s.statuses[len(s.statuses)-1]
	if index < len(s.statuses) {
		status = s.statuses[index]
	}
	s.mu.Unlock()
	s.notify <- struct{}{}
	return status, nil
}

func (s *stubSender) waitAttempts(t *testing.T, n int) []recordedAttempt {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("Timed out waiting for attempt %d of %d", i+1, n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedAttempt(nil), s.attempts...)
}

func (s *stubSender) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// testDispatcher wires a dispatcher with a frozen clock and synchronous
// retry timers, recording scheduled delays.
func testDispatcher(t *testing.T, st *memory.Store, sender Sender) (*Dispatcher, *[]time.Duration) {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	delays := &[]time.Duration{}

	d := NewDispatcher(DispatcherConfig{
		Endpoints: st,
		Sender:    sender,
		Workers:   1,
		QueueSize: 32,
		Now:       func() time.Time { return base },
		AfterFunc: func(delay time.Duration, fn func()) *time.Timer {
			mu.Lock()
			*delays = append(*delays, delay)
			mu.Unlock()
			fn()
			return nil
		},
	})
	d.Start()
	t.Cleanup(d.Stop)
	return d, delays
}

func registerTestEndpoint(t *testing.T, st *memory.Store, events ...string) *models.WebhookEndpoint {
	t.Helper()
	registry := NewRegistry(st)
	endpoint, err := registry.CreateEndpoint(context.Background(), "biz1", "https://example.com/hooks", events)
	if err != nil {
		t.Fatalf("CreateEndpoint failed: %v", err)
	}
	return endpoint
}

func TestDispatcher_DeliversSignedPayload(t *testing.T) {
	st := memory.New()
	endpoint := registerTestEndpoint(t, st, "payment.succeeded")
	sender := newStubSender(200)
	d, _ := testDispatcher(t, st, sender)

	d.Publish(context.Background(), models.TransactionEvent{
		EventType:     "payment.succeeded",
		BusinessId:    "biz1",
		TransactionId: "tx1",
		Payload:       map[string]interface{}{"transaction_id": "tx1", "amount": "40"},
	})

	attempts := sender.waitAttempts(t, 1)
	attempt := attempts[0]

	if attempt.Url != endpoint.Url {
		t.Errorf("Expected delivery to %s, got %s", endpoint.Url, attempt.Url)
	}
	if attempt.Headers[HeaderEvent] != "payment.succeeded" {
		t.Errorf("Expected event header, got %q", attempt.Headers[HeaderEvent])
	}
	if !VerifySignature(attempt.Body, attempt.Headers[HeaderSignature], endpoint.Secret) {
		t.Error("Expected a valid signature over the delivered body")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(attempt.Body, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload["event"] != "payment.succeeded" {
		t.Errorf("Expected event field in payload, got %v", payload["event"])
	}
	if payload["timestamp"] == nil {
		t.Error("Expected timestamp field in payload")
	}
	if payload["transaction_id"] != "tx1" {
		t.Errorf("Expected transaction_id to carry through, got %v", payload["transaction_id"])
	}

	// Success records the delivery and clears the failure streak.
	ep, _ := st.GetEndpoint(context.Background(), endpoint.Id)
	if ep.FailureCount != 0 {
		t.Errorf("Expected failure count 0, got %d", ep.FailureCount)
	}
	if ep.LastDeliveryAt == nil {
		t.Error("Expected last delivery time to be recorded")
	}
}

func TestDispatcher_RetryScheduleFromFirstAttempt(t *testing.T) {
	st := memory.New()
	endpoint := registerTestEndpoint(t, st, "payment.succeeded")
	sender := newStubSender(500)
	d, delays := testDispatcher(t, st, sender)

	d.Publish(context.Background(), models.TransactionEvent{
		EventType:  "payment.succeeded",
		BusinessId: "biz1",
		Payload:    map[string]interface{}{},
	})

	// 1 initial attempt + 5 retries, then the chain gives up.
	sender.waitAttempts(t, 6)

	// Let the last attempt finish before inspecting state.
	time.Sleep(50 * time.Millisecond)
	if got := sender.attemptCount(); got != 6 {
		t.Errorf("Expected exactly 6 attempts, got %d", got)
	}

	want := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 60 * time.Minute}
	if len(*delays) != len(want) {
		t.Fatalf("Expected %d scheduled retries, got %v", len(want), *delays)
	}
	for i, w := range want {
		if (*delays)[i] != w {
			t.Errorf("Retry %d: expected delay %v, got %v", i+1, w, (*delays)[i])
		}
	}

	// Exhaustion does not deactivate the endpoint.
	ep, _ := st.GetEndpoint(context.Background(), endpoint.Id)
	if !ep.Active {
		t.Error("Expected endpoint to remain active after exhausted retries")
	}
	if ep.FailureCount != 6 {
		t.Errorf("Expected failure count 6, got %d", ep.FailureCount)
	}
	if ep.RetryCount != 5 {
		t.Errorf("Expected retry count 5, got %d", ep.RetryCount)
	}
}

func TestDispatcher_RecoversAfterFailure(t *testing.T) {
	st := memory.New()
	endpoint := registerTestEndpoint(t, st, "payment.succeeded")
	sender := newStubSender(500, 200)
	d, _ := testDispatcher(t, st, sender)

	d.Publish(context.Background(), models.TransactionEvent{
		EventType:  "payment.succeeded",
		BusinessId: "biz1",
		Payload:    map[string]interface{}{},
	})

	sender.waitAttempts(t, 2)
	time.Sleep(50 * time.Millisecond)

	ep, _ := st.GetEndpoint(context.Background(), endpoint.Id)
	if ep.FailureCount != 0 {
		t.Errorf("Expected failure count reset to 0 after success, got %d", ep.FailureCount)
	}
	if ep.LastDeliveryAt == nil {
		t.Error("Expected last delivery time after recovery")
	}
}

func TestDispatcher_SkipsDeactivatedEndpoint(t *testing.T) {
	st := memory.New()
	endpoint := registerTestEndpoint(t, st, "payment.succeeded")
	sender := newStubSender(200)
	d, _ := testDispatcher(t, st, sender)

	if err := st.DeactivateEndpoint(context.Background(), endpoint.Id); err != nil {
		t.Fatalf("DeactivateEndpoint failed: %v", err)
	}

	d.Publish(context.Background(), models.TransactionEvent{
		EventType:  "payment.succeeded",
		BusinessId: "biz1",
		Payload:    map[string]interface{}{},
	})

	time.Sleep(100 * time.Millisecond)
	if got := sender.attemptCount(); got != 0 {
		t.Errorf("Expected no delivery attempts to deactivated endpoint, got %d", got)
	}
}

func TestDispatcher_PublishAfterStop(t *testing.T) {
	st := memory.New()
	registerTestEndpoint(t, st, "payment.succeeded")
	sender := newStubSender(200)

	d := NewDispatcher(DispatcherConfig{
		Endpoints: st,
		Sender:    sender,
		Workers:   1,
		QueueSize: 32,
	})
	d.Start()
	d.Stop()

	// Publishing after shutdown is dropped; no fan-out goroutine may
	// outlive Stop and touch the closed queue.
	d.Publish(context.Background(), models.TransactionEvent{
		EventType:  "payment.succeeded",
		BusinessId: "biz1",
		Payload:    map[string]interface{}{},
	})

	time.Sleep(100 * time.Millisecond)
	if got := sender.attemptCount(); got != 0 {
		t.Errorf("Expected no delivery attempts after stop, got %d", got)
	}
}

func TestDispatcher_IgnoresUnsubscribedEvents(t *testing.T) {
	st := memory.New()
	registerTestEndpoint(t, st, "payout.completed")
	sender := newStubSender(200)
	d, _ := testDispatcher(t, st, sender)

	d.Publish(context.Background(), models.TransactionEvent{
		EventType:  "payment.succeeded",
		BusinessId: "biz1",
		Payload:    map[string]interface{}{},
	})

	time.Sleep(100 * time.Millisecond)
	if got := sender.attemptCount(); got != 0 {
		t.Errorf("Expected no attempts for unsubscribed event, got %d", got)
	}
}
