package goMagicLink

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEventChallenge is the event type of every recorded challenge attempt.
const AuditEventChallenge = "mfa_challenge"

// AuditEvent mirrors one event-log entry for external audit storage. Unlike
// the in-memory log it is not bounded or pruned.
type AuditEvent struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	EventType    string            `json:"event_type"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Username     string            `json:"username,omitempty"`
	PhoneNumber  string            `json:"phone_number,omitempty"`
	IP           string            `json:"ip,omitempty"`
	Outcome      string            `json:"outcome"`
	ResponseCode string            `json:"response_code,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// ZapSink writes audit events to a dedicated zap logger.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event AuditEvent) {
	s.logger.Info(event.EventType,
		zap.String("id", event.ID),
		zap.Time("timestamp", event.Timestamp),
		zap.String("tenant", event.TenantID),
		zap.String("user", event.Username),
		zap.String("phone", event.PhoneNumber),
		zap.String("ip", event.IP),
		zap.String("outcome", event.Outcome),
		zap.String("response_code", event.ResponseCode),
		zap.Int64("duration_ms", event.DurationMs),
		zap.Bool("success", event.Success),
		zap.String("error", event.Error),
	)
}
