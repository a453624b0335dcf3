// Package notification delivers operational alerts (order failures, forced
// closes, breaker trips) to external channels. In SILENT trading mode the
// service logs alerts without delivering them.
package notification

import (
	"context"
	"log/slog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them (development and
// SILENT mode).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Info("alert", "level", alert.Level, "title", alert.Title, "message", alert.Message)
	return nil
}

// Service fans alerts out to the configured backends and adapts them to the
// trade manager's alert hook. Delivery failures are logged, never returned
// to the trading loop.
type Service struct {
	backends []Notifier
	silent   bool
}

// NewService creates a Service over the given backends. silent suppresses
// outbound delivery but keeps the structured log record.
func NewService(silent bool, backends ...Notifier) *Service {
	return &Service{backends: backends, silent: silent}
}

// Notify delivers an alert to every backend.
func (s *Service) Notify(ctx context.Context, alert Alert) {
	slog.Info("alert raised", "level", alert.Level, "title", alert.Title)
	if s.silent {
		return
	}
	for _, n := range s.backends {
		if err := n.Send(ctx, alert); err != nil {
			slog.Error("alert delivery failed", "title", alert.Title, "err", err)
		}
	}
}

// Critical raises a CRITICAL alert. Satisfies the trade manager's Alerter.
func (s *Service) Critical(ctx context.Context, msg string) {
	s.Notify(ctx, Alert{Level: AlertCritical, Title: "trade engine", Message: msg})
}
