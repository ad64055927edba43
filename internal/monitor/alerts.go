package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/events"
)

// AlertSink is a pluggable alert delivery target.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the structured log. It is the default sink.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Send(message string) error {
	s.Logger.Warn("alert", zap.String("message", message))
	return nil
}

// AlertMonitor raises an alert whenever order routing exhausts every venue.
type AlertMonitor struct {
	bus  *events.Bus
	sink AlertSink
	sub  *events.Subscription
}

// NewAlertMonitor creates a monitor delivering to sink.
func NewAlertMonitor(bus *events.Bus, sink AlertSink) *AlertMonitor {
	return &AlertMonitor{bus: bus, sink: sink}
}

// Start subscribes the monitor to order outcomes.
func (m *AlertMonitor) Start(ctx context.Context) {
	m.sub = m.bus.Subscribe(events.OrderSubmitted, m.onOrderSubmitted)
}

// Stop detaches the monitor from the bus.
func (m *AlertMonitor) Stop() {
	m.bus.Unsubscribe(m.sub)
	m.sub = nil
}

func (m *AlertMonitor) onOrderSubmitted(ctx context.Context, payload events.Payload) error {
	status, _ := payload["status"].(string)
	if status != "rejected" {
		return nil
	}
	symbol, _ := payload["symbol"].(string)
	msg := fmt.Sprintf("[%s] order for %s rejected by all venues",
		time.Now().UTC().Format(time.RFC3339), symbol)
	return m.sink.Send(msg)
}
