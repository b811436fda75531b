package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FireFunc runs when an auto-close deadline expires.
type FireFunc func(ctx context.Context, ticketID, closeRequestID string)

// AutoCloseScheduler holds one cancellable timer per ticket with a pending
// auto-close. Cancellation is best-effort: a timer that fires after losing
// the cancel race lands in the fire handler, which re-checks the pending
// close token before acting.
type AutoCloseScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   FireFunc
	logger *zap.Logger
}

// NewAutoCloseScheduler builds an empty scheduler; Bind attaches the fire
// handler before any timer can go off.
func NewAutoCloseScheduler(logger *zap.Logger) *AutoCloseScheduler {
	return &AutoCloseScheduler{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// Bind sets the handler invoked on expiry.
func (s *AutoCloseScheduler) Bind(fire FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire = fire
}

// Arm schedules (or reschedules) the ticket's auto-close. A deadline already
// in the past fires immediately.
func (s *AutoCloseScheduler) Arm(ticketID, closeRequestID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[ticketID]; ok {
		existing.Stop()
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.timers[ticketID] = time.AfterFunc(delay, func() {
		s.expire(ticketID, closeRequestID)
	})
	s.logger.Debug("auto-close armed",
		zap.String("ticket_id", ticketID),
		zap.Time("at", at))
}

// Cancel drops the ticket's timer if one is armed. Safe to call when none
// is; safe to lose the race against an in-flight expiry.
func (s *AutoCloseScheduler) Cancel(ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[ticketID]; ok {
		timer.Stop()
		delete(s.timers, ticketID)
	}
}

// Stop cancels every armed timer; used during shutdown.
func (s *AutoCloseScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *AutoCloseScheduler) expire(ticketID, closeRequestID string) {
	s.mu.Lock()
	delete(s.timers, ticketID)
	fire := s.fire
	s.mu.Unlock()

	if fire == nil {
		s.logger.Error("auto-close timer fired with no handler bound",
			zap.String("ticket_id", ticketID))
		return
	}
	fire(context.Background(), ticketID, closeRequestID)
}
