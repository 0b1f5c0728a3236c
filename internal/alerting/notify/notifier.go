package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	alertapp "greenledger/internal/alerting/application"
	alerting "greenledger/internal/alerting/domain"
	"greenledger/internal/observability/metrics"
)

// Clock provides time for cooldown checks.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders violation lifecycle events and sends them via a channel.
// Only transitions reach it; the compliance engine never notifies for
// same-level repeats.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// violation and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs a violation notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, fmt.Errorf("violation notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.Notifier.
func (n *Notifier) Notify(ctx context.Context, event alertapp.ViolationEvent) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		metrics.IncNotification("render_error")
		return
	}
	if !n.shouldSend(event.Violation.ID, event.Type, content) {
		metrics.IncNotification("suppressed")
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotification("error")
		return
	}
	n.markSent(event.Violation.ID, event.Type, content)
	metrics.IncNotification("sent")
}

func buildTemplateData(event alertapp.ViolationEvent) TemplateData {
	violation := event.Violation
	data := TemplateData{
		PlantID:      event.PlantID,
		Level:        string(event.Level),
		PeakLevel:    string(violation.PeakLevel),
		ObservedRate: formatFloat(violation.ObservedRateKgPerHr),
		Threshold:    formatFloat(violation.ThresholdKgPerHr),
		OpenedAt:     violation.OpenedAt.UTC().Format(time.RFC3339),
		Suggestion:   suggestionFor(event),
		Event:        event.Type,
		EventLabel:   eventLabel(event.Type),
	}
	if !violation.ClosedAt.IsZero() {
		data.ClosedAt = violation.ClosedAt.UTC().Format(time.RFC3339)
		data.Duration = violation.Duration.Round(time.Second).String()
	}
	return data
}

func eventLabel(event string) string {
	switch event {
	case alertapp.EventOpened:
		return "Violation Opened"
	case alertapp.EventEscalated:
		return "Escalated"
	case alertapp.EventDeescalated:
		return "De-escalated"
	case alertapp.EventClosed:
		return "Violation Closed"
	case alertapp.EventAutoShutdown:
		return "Auto-Shutdown Trigger"
	default:
		return event
	}
}

func suggestionFor(event alertapp.ViolationEvent) string {
	if event.Type == alertapp.EventAutoShutdown {
		return "Emergency shutdown signalled. Confirm plant operations halted."
	}
	switch event.Level {
	case alerting.LevelEmergency, alerting.LevelCritical:
		return "Investigate immediately and reduce emission output."
	case alerting.LevelWarning:
		return "Verify the emission source and take action if needed."
	case alerting.LevelInfo:
		return "Monitor the emission rate."
	default:
		return "No action required."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(violationID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(violationID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(violationID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(violationID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(violationID, eventType string) string {
	return violationID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
