package webhook_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/webhook"
)

// memSink records every event handed to it.
type memSink struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (s *memSink) HandleEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func deliver(t *testing.T, h http.Handler, kind, deliveryID string, body []byte, secret []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderEvent, kind)
	req.Header.Set(webhook.HeaderDelivery, deliveryID)
	if secret != nil {
		req.Header.Set(webhook.HeaderSignature, webhook.Sign(secret, body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_AcceptsValidDelivery(t *testing.T) {
	sink := &memSink{}
	h := webhook.NewHandler(sink)

	body := []byte(`{"actor":"octocat","payload":{"artifact-labels":"work-7"}}`)
	rr := deliver(t, h, "artifact-produced", "d-1", body, nil)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: want 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 event delivered, got %d", sink.count())
	}

	e := sink.events[0]
	if e.Kind != event.KindArtifactProduced {
		t.Errorf("kind: got %q", e.Kind)
	}
	if e.DeliveryID != "d-1" {
		t.Errorf("delivery_id: got %q", e.DeliveryID)
	}
	if e.Field(event.FieldArtifactLabels) != "work-7" {
		t.Errorf("payload not normalized: %v", e.Payload)
	}
	if e.ID.IsNil() {
		t.Error("expected event ID to be assigned")
	}
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	sink := &memSink{}
	secret := []byte("s3cret")
	h := webhook.NewHandler(sink, webhook.WithSecret(secret))

	body := []byte(`{"payload":{}}`)

	// Missing signature.
	rr := deliver(t, h, "artifact-produced", "d-1", body, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: want 401, got %d", rr.Code)
	}

	// Signed with the wrong secret.
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderEvent, "artifact-produced")
	req.Header.Set(webhook.HeaderSignature, webhook.Sign([]byte("wrong"), body))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: want 401, got %d", rr.Code)
	}

	// Correct signature.
	rr = deliver(t, h, "artifact-produced", "d-1", body, secret)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("valid signature: want 202, got %d", rr.Code)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly the signed delivery, got %d", sink.count())
	}
}

func TestHandler_KindMapDiscardsUnknown(t *testing.T) {
	sink := &memSink{}
	h := webhook.NewHandler(sink, webhook.WithKindMap(webhook.DefaultKindMap()))

	body := []byte(`{"payload":{}}`)

	rr := deliver(t, h, "workflow_dispatch", "d-1", body, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unknown kind must be acknowledged: got %d", rr.Code)
	}
	if sink.count() != 0 {
		t.Fatalf("unknown kind must not reach the sink, got %d events", sink.count())
	}

	rr = deliver(t, h, "pull_request.opened", "d-2", body, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("mapped kind: got %d", rr.Code)
	}
	if sink.count() != 1 || sink.events[0].Kind != event.KindArtifactProduced {
		t.Fatalf("expected mapped artifact-produced event")
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := webhook.NewHandler(&memSink{})
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rr.Code)
	}
}

func TestHandler_MalformedPayload(t *testing.T) {
	sink := &memSink{}
	h := webhook.NewHandler(sink)
	rr := deliver(t, h, "artifact-produced", "d-1", []byte(`{not json`), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
	if sink.count() != 0 {
		t.Fatal("malformed payload must not reach the sink")
	}
}

func TestHandler_AmbiguousCorrelationConflicts(t *testing.T) {
	sink := &memSink{err: foreman.ErrCorrelationAmbiguous}
	h := webhook.NewHandler(sink)
	rr := deliver(t, h, "artifact-produced", "d-1", []byte(`{"payload":{}}`), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", rr.Code)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	sink := &memSink{}
	h := webhook.NewHandler(sink, webhook.WithRateLimit(1, 2))

	body := []byte(`{"payload":{}}`)
	var limited int
	for i := 0; i < 5; i++ {
		rr := deliver(t, h, "artifact-produced", "d", body, nil)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatal("expected at least one delivery to be rate limited")
	}
	if sink.count() == 0 {
		t.Fatal("expected burst deliveries to pass")
	}
}
