package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "Evolve-Chain/internal/errors"
)

type countingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (c *countingNotifier) Channel() Channel { return c.channel }

func (c *countingNotifier) Notify(_ context.Context, event Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &countingNotifier{channel: "a"}
	bad := &countingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(ok, nil, bad)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnavailable})
	if err == nil {
		t.Fatalf("expected error from failing channel")
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Fatalf("every channel should be attempted")
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "disk full", xerrors.WithMetadata("table", "assets"))
	event := FromError("keeper", 9, err)
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["table"] != "assets" || event.AssetID != 9 || event.Source != "keeper" {
		t.Fatalf("unexpected event fields: %+v", event)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeTimeout, AssetID: 3}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Code != xerrors.CodeTimeout || received.AssetID != 3 {
		t.Fatalf("unexpected payload: %+v", received)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	err := (&WebhookNotifier{URL: failing.URL}).Notify(context.Background(), Event{})
	if xerrors.CodeOf(err) != xerrors.CodePublishFailure {
		t.Fatalf("expected publish failure, got %v", err)
	}
}
