// Package effects is the concrete consumer of the transaction coordinator's
// after-commit hook: chat-platform channel operations, webhook delivery, and
// analytics capture are queued while a transaction is open and executed only
// once it commits. Every effect receives plain identifiers, runs under its
// own deadline, and is isolated: a failure is logged and counted, never
// propagated into the operation that committed.
package effects

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-platform/internal/analytics"
	"github.com/spec-kit/ticket-platform/internal/observability"
	"github.com/spec-kit/ticket-platform/internal/platform"
	"github.com/spec-kit/ticket-platform/internal/tx"
	"github.com/spec-kit/ticket-platform/internal/webhook"
)

const (
	kindChannelCreate   = "channel_create"
	kindChannelClose    = "channel_close"
	kindOverwrite       = "permission_overwrite"
	kindWebhook         = "webhook"
	kindAnalytics       = "analytics"
	defaultEffectBudget = 30 * time.Second
)

// ChannelRefRecorder persists the external channel reference once the
// channel exists. Write-once; the lifecycle row is otherwise never touched
// from this package.
type ChannelRefRecorder interface {
	SetChannelRef(ctx context.Context, ticketID, channelRef string) error
}

// Scheduler builds after-commit effect closures.
type Scheduler struct {
	channels  platform.ChannelClient
	webhooks  webhook.Sender
	analytics analytics.Publisher
	tickets   ChannelRefRecorder
	metrics   *observability.Metrics
	logger    *zap.Logger
	budget    time.Duration
}

// Options configures the scheduler.
type Options struct {
	Channels  platform.ChannelClient
	Webhooks  webhook.Sender
	Analytics analytics.Publisher
	Tickets   ChannelRefRecorder
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Budget    time.Duration
}

// NewScheduler builds the scheduler.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		channels:  opts.Channels,
		webhooks:  opts.Webhooks,
		analytics: opts.Analytics,
		tickets:   opts.Tickets,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		budget:    opts.Budget,
	}
	if s.budget <= 0 {
		s.budget = defaultEffectBudget
	}
	return s
}

// ChannelCreateParams carries identifiers for a deferred channel creation.
type ChannelCreateParams struct {
	TicketID    string
	GuildRef    string
	Name        string
	CategoryRef string
	Topic       string
}

// ScheduleChannelCreate queues creation of the ticket's channel and the
// write-once record of its reference.
func (s *Scheduler) ScheduleChannelCreate(ctx context.Context, params ChannelCreateParams) error {
	return tx.AfterCommit(ctx, func(ctx context.Context) {
		s.run(ctx, kindChannelCreate, func(ctx context.Context) error {
			channelRef, err := s.createChannelWithRetry(ctx, params)
			if err != nil {
				return err
			}
			return s.tickets.SetChannelRef(ctx, params.TicketID, channelRef)
		})
	})
}

// ScheduleChannelClose queues archival (or deletion) of the ticket channel.
func (s *Scheduler) ScheduleChannelClose(ctx context.Context, channelRef string, deleteChannel bool) error {
	if channelRef == "" {
		return nil
	}
	return tx.AfterCommit(ctx, func(ctx context.Context) {
		s.run(ctx, kindChannelClose, func(ctx context.Context) error {
			err := s.channels.ArchiveOrDeleteChannel(ctx, channelRef, deleteChannel)
			if platform.IsTransient(err) {
				err = s.channels.ArchiveOrDeleteChannel(ctx, channelRef, deleteChannel)
			}
			return err
		})
	})
}

// SchedulePermissionOverwrite queues a channel permission update, used when
// participants are added or removed.
func (s *Scheduler) SchedulePermissionOverwrite(ctx context.Context, channelRef, subjectRef string, allow, deny uint64) error {
	if channelRef == "" {
		return nil
	}
	return tx.AfterCommit(ctx, func(ctx context.Context) {
		s.run(ctx, kindOverwrite, func(ctx context.Context) error {
			return s.channels.UpdatePermissionOverwrite(ctx, channelRef, subjectRef, allow, deny)
		})
	})
}

// ScheduleWebhook queues a signed webhook notification.
func (s *Scheduler) ScheduleWebhook(ctx context.Context, event string, payload any) error {
	return tx.AfterCommit(ctx, func(ctx context.Context) {
		s.run(ctx, kindWebhook, func(ctx context.Context) error {
			return s.webhooks.Send(ctx, event, payload)
		})
	})
}

// ScheduleAnalytics queues an analytics capture.
func (s *Scheduler) ScheduleAnalytics(ctx context.Context, name string, properties map[string]any) error {
	return tx.AfterCommit(ctx, func(ctx context.Context) {
		s.run(ctx, kindAnalytics, func(ctx context.Context) error {
			return s.analytics.CaptureEvent(ctx, name, properties)
		})
	})
}

func (s *Scheduler) createChannelWithRetry(ctx context.Context, params ChannelCreateParams) (string, error) {
	req := platform.CreateChannelRequest{
		GuildRef:    params.GuildRef,
		Name:        params.Name,
		CategoryRef: params.CategoryRef,
		Topic:       params.Topic,
	}
	channelRef, err := s.channels.CreateChannel(ctx, req)
	if platform.IsTransient(err) {
		channelRef, err = s.channels.CreateChannel(ctx, req)
	}
	return channelRef, err
}

// run executes one effect body detached from the request context: the
// triggering operation has already returned, so cancellation must not leak
// in, but each effect still gets a bounded deadline.
func (s *Scheduler) run(ctx context.Context, kind string, body func(ctx context.Context) error) {
	effectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.budget)
	defer cancel()

	s.metrics.RecordEffect(kind)
	if err := body(effectCtx); err != nil {
		s.metrics.RecordEffectFailure(kind)
		s.logger.Warn("deferred effect failed",
			zap.String("effect", kind),
			zap.Error(err))
	}
}
