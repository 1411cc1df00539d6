package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// AuditSink is an append-only event store. Implementations must never
// rewrite or drop an accepted event.
type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent) error
	Close() error
}

// auditor stamps events and forwards them fire-and-forget: sink errors are
// logged and never reach the authorization path.
type auditor struct {
	sink  AuditSink
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

func (a *auditor) emit(ctx context.Context, e AuditEvent) {
	if a == nil || a.sink == nil {
		return
	}
	e.ID = a.newID()
	e.Timestamp = a.now().UTC()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.sink.Emit(context.WithoutCancel(ctx), e); err != nil {
		a.log.Warn("gate_audit_emit_error",
			"kind", string(e.Kind),
			"request_id", e.RequestID,
			"error", err.Error(),
		)
	}
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, e AuditEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryAuditSink keeps events in order in memory.
type MemoryAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditSink() *MemoryAuditSink { return &MemoryAuditSink{} }

func (s *MemoryAuditSink) Emit(_ context.Context, e AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAuditSink) Close() error { return nil }

// Events returns a copy of everything emitted so far.
func (s *MemoryAuditSink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

func (s *MemoryAuditSink) Kinds() []AuditKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}
