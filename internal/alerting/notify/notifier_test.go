package notify

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

	alertapp "greenledger/internal/alerting/application"
	alerting "greenledger/internal/alerting/domain"
)

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (c *recordingChannel) Send(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.contents = append(c.contents, content)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contents)
}

type stepClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}

func openedEvent(plant string) alertapp.ViolationEvent {
	openedAt := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	return alertapp.ViolationEvent{
		Type:    alertapp.EventOpened,
		PlantID: plant,
		Level:   alerting.LevelInfo,
		Violation: alerting.ComplianceViolation{
			ID:                  alerting.BuildViolationID(plant, openedAt),
			PlantID:             plant,
			Level:               alerting.LevelInfo,
			PeakLevel:           alerting.LevelInfo,
			ThresholdKgPerHr:    300,
			ObservedRateKgPerHr: 320,
			OpenedAt:            openedAt,
		},
	}
}

func TestWebhookChannel_Payload(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload.MsgType != "text" || payload.Text.Content != "hello" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestWebhookChannel_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, _ := NewWebhookChannel(server.URL)
	if err := channel.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestNotifier_RendersViolationContent(t *testing.T) {
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), openedEvent("plant-a"))

	if channel.count() != 1 {
		t.Fatalf("sent %d, want 1", channel.count())
	}
	content := channel.contents[0]
	for _, want := range []string{"Violation Opened", "plant-a", "INFO", "320.00", "300.00"} {
		if !strings.Contains(content, want) {
			t.Fatalf("content missing %q:\n%s", want, content)
		}
	}
}

func TestNotifier_CooldownSuppressesRepeats(t *testing.T) {
	channel := &recordingChannel{}
	clock := &stepClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil,
		WithCooldown(time.Minute),
		WithClock(clock))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	event := openedEvent("plant-a")
	notifier.Notify(context.Background(), event)
	notifier.Notify(context.Background(), event)
	if channel.count() != 1 {
		t.Fatalf("sent %d within cooldown, want 1", channel.count())
	}

	clock.advance(2 * time.Minute)
	notifier.Notify(context.Background(), event)
	if channel.count() != 2 {
		t.Fatalf("sent %d after cooldown, want 2", channel.count())
	}
}

func TestNotifier_CooldownIsPerEventType(t *testing.T) {
	channel := &recordingChannel{}
	clock := &stepClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier, _ := NewNotifier(channel, nil,
		WithCooldown(time.Minute),
		WithClock(clock))

	opened := openedEvent("plant-a")
	escalated := opened
	escalated.Type = alertapp.EventEscalated
	escalated.Level = alerting.LevelWarning

	notifier.Notify(context.Background(), opened)
	notifier.Notify(context.Background(), escalated)
	if channel.count() != 2 {
		t.Fatalf("sent %d, want 2 (distinct event types)", channel.count())
	}
}

func TestNotifier_DedupeWindow(t *testing.T) {
	channel := &recordingChannel{}
	clock := &stepClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier, _ := NewNotifier(channel, nil,
		WithDedupeWindow(10*time.Minute),
		WithClock(clock))

	event := openedEvent("plant-a")
	notifier.Notify(context.Background(), event)
	clock.advance(time.Minute)
	notifier.Notify(context.Background(), event)
	if channel.count() != 1 {
		t.Fatalf("identical content resent inside dedupe window: %d", channel.count())
	}

	// Changed content is not a duplicate.
	changed := event
	changed.Violation.ObservedRateKgPerHr = 450
	notifier.Notify(context.Background(), changed)
	if channel.count() != 2 {
		t.Fatalf("sent %d, want 2 for changed content", channel.count())
	}
}

func TestNotifier_CustomTemplate(t *testing.T) {
	channel := &recordingChannel{}
	tpl, err := NewTemplate("{{.PlantID}}:{{.Event}}")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	notifier, _ := NewNotifier(channel, tpl)

	notifier.Notify(context.Background(), openedEvent("plant-a"))
	if channel.count() != 1 || channel.contents[0] != "plant-a:opened" {
		t.Fatalf("contents = %v", channel.contents)
	}
}
