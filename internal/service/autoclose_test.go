package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []string
	ch    chan string
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan string, 16)}
}

func (r *fireRecorder) fire(ctx context.Context, ticketID, closeRequestID string) {
	r.mu.Lock()
	r.fired = append(r.fired, ticketID+"/"+closeRequestID)
	r.mu.Unlock()
	r.ch <- ticketID
}

func (r *fireRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
		return ""
	}
}

func TestAutoClose_PastDeadlineFiresImmediately(t *testing.T) {
	rec := newFireRecorder()
	s := NewAutoCloseScheduler(zap.NewNop())
	defer s.Stop()
	s.Bind(rec.fire)

	s.Arm("tk-1", "cr-1", time.Now().Add(-time.Minute))

	assert.Equal(t, "tk-1", rec.wait(t))
}

func TestAutoClose_CancelPreventsFire(t *testing.T) {
	rec := newFireRecorder()
	s := NewAutoCloseScheduler(zap.NewNop())
	defer s.Stop()
	s.Bind(rec.fire)

	s.Arm("tk-1", "cr-1", time.Now().Add(30*time.Millisecond))
	s.Cancel("tk-1")

	select {
	case <-rec.ch:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestAutoClose_RearmReplacesTimer(t *testing.T) {
	rec := newFireRecorder()
	s := NewAutoCloseScheduler(zap.NewNop())
	defer s.Stop()
	s.Bind(rec.fire)

	s.Arm("tk-1", "cr-old", time.Now().Add(time.Hour))
	s.Arm("tk-1", "cr-new", time.Now().Add(10*time.Millisecond))

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"tk-1/cr-new"}, rec.fired)
}

func TestAutoClose_StopCancelsEverything(t *testing.T) {
	rec := newFireRecorder()
	s := NewAutoCloseScheduler(zap.NewNop())
	s.Bind(rec.fire)

	s.Arm("tk-1", "cr-1", time.Now().Add(20*time.Millisecond))
	s.Arm("tk-2", "cr-2", time.Now().Add(20*time.Millisecond))
	s.Stop()

	select {
	case <-rec.ch:
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAutoClose_ExpiredTimerRemovedFromMap(t *testing.T) {
	rec := newFireRecorder()
	s := NewAutoCloseScheduler(zap.NewNop())
	defer s.Stop()
	s.Bind(rec.fire)

	s.Arm("tk-1", "cr-1", time.Now())
	rec.wait(t)

	s.mu.Lock()
	_, ok := s.timers["tk-1"]
	s.mu.Unlock()
	assert.False(t, ok)
}
