package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-platform/internal/actorctx"
	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/effects"
	"github.com/spec-kit/ticket-platform/internal/repository"
	"github.com/spec-kit/ticket-platform/internal/tx"
	"github.com/spec-kit/ticket-platform/pkg/util"
)

const autoCloseActor = "auto-close"

// LifecycleService owns every ticket state transition. All mutations run
// inside a transaction scope; external side effects are queued for after
// commit and never touch the transaction's outcome.
type LifecycleService struct {
	txm           *tx.Manager
	tickets       repository.TicketRepository
	participants  repository.ParticipantRepository
	closeRequests repository.CloseRequestRepository
	tenants       repository.TenantRepository
	panels        repository.PanelRepository
	events        repository.TicketEventRepository
	effects       *effects.Scheduler
	autoClose     *AutoCloseScheduler
	logger        *zap.Logger
}

// LifecycleDependencies bundles collaborators for the lifecycle service.
type LifecycleDependencies struct {
	Tx            *tx.Manager
	TicketRepo    repository.TicketRepository
	Participants  repository.ParticipantRepository
	CloseRequests repository.CloseRequestRepository
	Tenants       repository.TenantRepository
	Panels        repository.PanelRepository
	Events        repository.TicketEventRepository
	Effects       *effects.Scheduler
	AutoClose     *AutoCloseScheduler
	Logger        *zap.Logger
}

// NewLifecycleService constructs the service and binds the auto-close
// scheduler's fire handler to it.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	s := &LifecycleService{
		txm:           deps.Tx,
		tickets:       deps.TicketRepo,
		participants:  deps.Participants,
		closeRequests: deps.CloseRequests,
		tenants:       deps.Tenants,
		panels:        deps.Panels,
		events:        deps.Events,
		effects:       deps.Effects,
		autoClose:     deps.AutoClose,
		logger:        deps.Logger,
	}
	if s.autoClose != nil {
		s.autoClose.Bind(s.fireAutoClose)
	}
	return s
}

// CreateInput describes ticket creation.
type CreateInput struct {
	OpenerID   string
	ChannelRef *string
	PanelID    *string
	Subject    *string
	GuildRef   string
}

// Create allocates the next per-tenant sequence number, inserts the ticket
// OPEN, and adds the opener as a participant. The per-user open cap is
// checked inside the same transaction as the insert.
func (s *LifecycleService) Create(ctx context.Context, input CreateInput) (*domain.Ticket, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.OpenerID) == "" {
		return nil, util.NewValidationError("opener id is required", nil)
	}

	var ticket *domain.Ticket
	err = s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		tenant, err := s.tenants.GetByID(ctx, actor.TenantID)
		if err != nil {
			return notFoundOr("tenant", err)
		}

		if tenant.OpenTicketLimit > 0 {
			open, err := s.tickets.CountOpenByOpener(ctx, tenant.ID, input.OpenerID)
			if err != nil {
				return err
			}
			if open >= tenant.OpenTicketLimit {
				return util.NewLimitExceeded(tenant.OpenTicketLimit)
			}
		}

		subject := input.Subject
		var categoryRef string
		if input.PanelID != nil {
			panel, err := s.panels.GetByID(ctx, *input.PanelID)
			if err != nil {
				return notFoundOr("panel", err)
			}
			if panel.TenantID != tenant.ID {
				return util.NewValidationError("panel does not belong to tenant", nil)
			}
			if !panel.IsActive {
				return util.NewValidationError("panel is inactive", nil)
			}
			if subject == nil {
				subject = panel.DefaultSubject
			}
			if panel.CategoryRef != nil {
				categoryRef = *panel.CategoryRef
			}
		}

		seq, err := s.tenants.NextTicketSeq(ctx, tenant.ID)
		if err != nil {
			return err
		}

		ticket = &domain.Ticket{
			TenantID:   tenant.ID,
			Seq:        seq,
			Status:     domain.TicketStatusOpen,
			OpenerID:   input.OpenerID,
			PanelID:    input.PanelID,
			ChannelRef: input.ChannelRef,
			Subject:    subject,
		}
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return err
		}

		if err := s.participants.Add(ctx, domain.Participant{
			TicketID:   ticket.ID,
			IdentityID: input.OpenerID,
			Role:       domain.ParticipantRoleOpener,
		}); err != nil {
			return err
		}

		if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeCreated, nil, map[string]any{
			"status": ticket.Status,
			"seq":    ticket.Seq,
		}); err != nil {
			return err
		}

		if ticket.ChannelRef == nil {
			if err := s.effects.ScheduleChannelCreate(ctx, effects.ChannelCreateParams{
				TicketID:    ticket.ID,
				GuildRef:    input.GuildRef,
				Name:        fmt.Sprintf("ticket-%d", ticket.Seq),
				CategoryRef: categoryRef,
				Topic:       subjectOrEmpty(subject),
			}); err != nil {
				return err
			}
		}
		if err := s.effects.ScheduleWebhook(ctx, "ticket.created", ticketPayload(ticket)); err != nil {
			return err
		}
		return s.effects.ScheduleAnalytics(ctx, "ticket_created", map[string]any{
			"tenant_id": ticket.TenantID,
			"ticket_id": ticket.ID,
			"panel_id":  input.PanelID,
		})
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Claim sets the actor as claimant. The database resolves concurrent claims:
// the first committer wins, the second gets CONFLICT. Re-claiming by the
// current claimant is a no-op success.
func (s *LifecycleService) Claim(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := actorctx.RequireCapability(ctx, domain.PermClaimTicket); err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	err = s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if !ticket.Open() {
			return util.NewConflict("ticket is closed", nil)
		}
		claimant := actor.Subject()
		if ticket.ClaimedBy(claimant) {
			return nil
		}

		claimed, err := s.tickets.Claim(ctx, ticketID, claimant)
		if err != nil {
			return err
		}
		if !claimed {
			return util.NewConflict("ticket already claimed", nil)
		}
		ticket.ClaimantID = &claimant

		if err := s.participants.Add(ctx, domain.Participant{
			TicketID:   ticket.ID,
			IdentityID: claimant,
			Role:       domain.ParticipantRoleClaimant,
		}); err != nil {
			return err
		}
		if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeClaimed, nil, map[string]any{
			"claimant_id": claimant,
		}); err != nil {
			return err
		}
		return s.effects.ScheduleWebhook(ctx, "ticket.claimed", ticketPayload(ticket))
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Unclaim clears the claimant. Allowed for the current claimant or holders
// of the unclaim-any capability.
func (s *LifecycleService) Unclaim(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	err = s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if ticket.ClaimantID == nil || *ticket.ClaimantID != actor.Subject() {
			if err := actorctx.RequireCapability(ctx, domain.PermUnclaimAny); err != nil {
				return err
			}
		}
		if ticket.ClaimantID == nil {
			return nil
		}
		previous := *ticket.ClaimantID

		if err := s.tickets.Unclaim(ctx, ticketID); err != nil {
			return err
		}
		ticket.ClaimantID = nil

		if err := s.participants.Add(ctx, domain.Participant{
			TicketID:   ticket.ID,
			IdentityID: previous,
			Role:       domain.ParticipantRoleParticipant,
		}); err != nil {
			return err
		}
		return s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeUnclaimed, map[string]any{
			"claimant_id": previous,
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// CloseInput describes a close operation.
type CloseInput struct {
	TicketID      string
	Reason        *string
	DeleteChannel bool
	NotifyOpener  bool
}

// Close transitions the ticket to CLOSED. Closing an already-closed ticket
// is an idempotent success that schedules no further effects. The external
// channel is only ever touched through the deferred effect queue, so a flaky
// chat platform cannot leave the ticket stuck closing.
func (s *LifecycleService) Close(ctx context.Context, input CloseInput) (*domain.Ticket, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	err = s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetByID(ctx, input.TicketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if err := s.authorizeClose(ctx, actor, ticket); err != nil {
			return err
		}
		return s.closeInTx(ctx, actor, ticket, input.Reason, input.DeleteChannel, input.NotifyOpener)
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// authorizeClose: the opener closes their own ticket with the close-own
// capability, anyone else needs close-any. System actors pass both.
func (s *LifecycleService) authorizeClose(ctx context.Context, actor domain.Actor, ticket *domain.Ticket) error {
	if actor.Subject() == ticket.OpenerID {
		return actorctx.RequireCapability(ctx, domain.PermCloseOwnTicket)
	}
	return actorctx.RequireCapability(ctx, domain.PermCloseAnyTicket)
}

// closeInTx performs the CLOSED transition inside an already-open
// transaction. Callers have authorized the actor. Idempotent: a ticket that
// is already CLOSED (or that a racing transaction closes first) returns
// success without re-scheduling effects.
func (s *LifecycleService) closeInTx(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, reason *string, deleteChannel, notifyOpener bool) error {
	if ticket.Status == domain.TicketStatusClosed {
		return nil
	}

	now := time.Now()
	closed, err := s.tickets.Close(ctx, ticket.ID, actor.Subject(), reason, now)
	if err != nil {
		return err
	}
	if !closed {
		// Lost the race to another close; the winner scheduled the effects.
		ticket.Status = domain.TicketStatusClosed
		return nil
	}

	oldStatus := ticket.Status
	closedBy := actor.Subject()
	ticket.Status = domain.TicketStatusClosed
	ticket.ClosedAt = &now
	ticket.ClosedByID = &closedBy
	ticket.CloseReason = reason

	if _, err := s.closeRequests.DeleteByTicket(ctx, ticket.ID); err != nil {
		return err
	}

	if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeClosed, map[string]any{
		"status": oldStatus,
	}, map[string]any{
		"status": ticket.Status,
		"reason": reason,
	}); err != nil {
		return err
	}

	ticketID := ticket.ID
	if err := tx.AfterCommit(ctx, func(context.Context) {
		s.autoClose.Cancel(ticketID)
	}); err != nil {
		return err
	}

	channelRef := ""
	if ticket.ChannelRef != nil {
		channelRef = *ticket.ChannelRef
	}
	if err := s.effects.ScheduleChannelClose(ctx, channelRef, deleteChannel); err != nil {
		return err
	}
	payload := ticketPayload(ticket)
	payload["notify_opener"] = notifyOpener
	if err := s.effects.ScheduleWebhook(ctx, "ticket.closed", payload); err != nil {
		return err
	}
	return s.effects.ScheduleAnalytics(ctx, "ticket_closed", map[string]any{
		"tenant_id": ticket.TenantID,
		"ticket_id": ticket.ID,
		"closed_by": closedBy,
	})
}

// RequestCloseInput describes a two-phase close request.
type RequestCloseInput struct {
	TicketID       string
	Reason         *string
	AutoCloseHours *int
}

// RequestClose records a pending-close token for the ticket. With
// AutoCloseHours set (and the ticket not excluded from auto-close) a timer
// is armed that re-checks the token before acting.
func (s *LifecycleService) RequestClose(ctx context.Context, input RequestCloseInput) (*domain.CloseRequest, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := actorctx.RequireCapability(ctx, domain.PermRequestClose); err != nil {
		return nil, err
	}
	if input.AutoCloseHours != nil && *input.AutoCloseHours <= 0 {
		return nil, util.NewValidationError("auto close hours must be positive", nil)
	}

	var request *domain.CloseRequest
	err = s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		ticket, err := s.tickets.GetByID(ctx, input.TicketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if !ticket.Open() {
			return util.NewConflict("ticket is closed", nil)
		}

		request = &domain.CloseRequest{
			TicketID:      ticket.ID,
			RequestedByID: actor.Subject(),
			Reason:        input.Reason,
		}
		if input.AutoCloseHours != nil && !ticket.ExcludeFromAutoClose {
			deadline := time.Now().Add(time.Duration(*input.AutoCloseHours) * time.Hour)
			request.AutoCloseAt = &deadline
		}
		if err := s.closeRequests.Upsert(ctx, request); err != nil {
			return err
		}

		if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeCloseRequested, nil, map[string]any{
			"close_request_id": request.ID,
			"auto_close_at":    request.AutoCloseAt,
		}); err != nil {
			return err
		}

		armed := *request
		if err := tx.AfterCommit(ctx, func(context.Context) {
			if armed.AutoCloseAt != nil {
				s.autoClose.Arm(armed.TicketID, armed.ID, *armed.AutoCloseAt)
			} else {
				// A request without a deadline supersedes any armed timer.
				s.autoClose.Cancel(armed.TicketID)
			}
		}); err != nil {
			return err
		}

		return s.effects.ScheduleWebhook(ctx, "ticket.close_requested", map[string]any{
			"ticket_id":        ticket.ID,
			"close_request_id": request.ID,
			"requested_by":     request.RequestedByID,
			"auto_close_at":    request.AutoCloseAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ApproveClose lets the original opener (or an override holder) execute the
// pending close. The token is compared-and-cleared atomically, so a racing
// auto-close timer cannot fire a second close.
func (s *LifecycleService) ApproveClose(ctx context.Context, closeRequestID string) (*domain.Ticket, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	err = s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		request, err := s.closeRequests.GetByID(ctx, closeRequestID)
		if err != nil {
			return notFoundOr("close request", err)
		}
		ticket, err = s.tickets.GetByID(ctx, request.TicketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if actor.Subject() != ticket.OpenerID {
			if err := actorctx.RequireCapability(ctx, domain.PermApproveCloseOverride); err != nil {
				return err
			}
		}

		cleared, err := s.closeRequests.Delete(ctx, request.ID)
		if err != nil {
			return err
		}
		if !cleared {
			return util.NewConflict("close request already resolved", nil)
		}
		return s.closeInTx(ctx, actor, ticket, request.Reason, false, true)
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// DenyClose discards the pending close without changing ticket status.
func (s *LifecycleService) DenyClose(ctx context.Context, closeRequestID string) error {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return err
	}

	return s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		request, err := s.closeRequests.GetByID(ctx, closeRequestID)
		if err != nil {
			return notFoundOr("close request", err)
		}
		ticket, err := s.tickets.GetByID(ctx, request.TicketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if actor.Subject() != ticket.OpenerID {
			if err := actorctx.RequireCapability(ctx, domain.PermApproveCloseOverride); err != nil {
				return err
			}
		}

		cleared, err := s.closeRequests.Delete(ctx, request.ID)
		if err != nil {
			return err
		}
		if !cleared {
			return util.NewConflict("close request already resolved", nil)
		}

		if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeCloseDenied, map[string]any{
			"close_request_id": request.ID,
		}, nil); err != nil {
			return err
		}

		ticketID := ticket.ID
		return tx.AfterCommit(ctx, func(context.Context) {
			s.autoClose.Cancel(ticketID)
		})
	})
}

// Reopen returns a CLOSED ticket to OPEN, unclaimed.
func (s *LifecycleService) Reopen(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := actorctx.RequireCapability(ctx, domain.PermReopenTicket); err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	err = s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		reopened, err := s.tickets.Reopen(ctx, ticketID)
		if err != nil {
			return err
		}
		if !reopened {
			return util.NewConflict("ticket is not closed", nil)
		}
		ticket.Status = domain.TicketStatusOpen
		ticket.ClaimantID = nil
		ticket.ClosedAt = nil
		ticket.ClosedByID = nil
		ticket.CloseReason = nil

		if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeReopened, map[string]any{
			"status": domain.TicketStatusClosed,
		}, map[string]any{
			"status": domain.TicketStatusOpen,
		}); err != nil {
			return err
		}
		return s.effects.ScheduleWebhook(ctx, "ticket.reopened", ticketPayload(ticket))
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// AddParticipant grants an identity access to the ticket. Idempotent.
func (s *LifecycleService) AddParticipant(ctx context.Context, ticketID, identityID string, role domain.ParticipantRole) error {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return err
	}
	if err := actorctx.RequireCapability(ctx, domain.PermManageParticipants); err != nil {
		return err
	}
	if role == "" {
		role = domain.ParticipantRoleParticipant
	}

	return s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if err := s.participants.Add(ctx, domain.Participant{
			TicketID:   ticket.ID,
			IdentityID: identityID,
			Role:       role,
		}); err != nil {
			return err
		}
		if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeParticipantAdded, nil, map[string]any{
			"identity_id": identityID,
			"role":        role,
		}); err != nil {
			return err
		}
		if ticket.ChannelRef != nil {
			return s.effects.SchedulePermissionOverwrite(ctx, *ticket.ChannelRef, identityID, viewChannelAllowBits, 0)
		}
		return nil
	})
}

// RemoveParticipant revokes an identity's access. Idempotent. Removing the
// opener or claimant is not blocked here; callers reassign the claim first.
func (s *LifecycleService) RemoveParticipant(ctx context.Context, ticketID, identityID string) error {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return err
	}
	if err := actorctx.RequireCapability(ctx, domain.PermManageParticipants); err != nil {
		return err
	}

	return s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		if err := s.participants.Remove(ctx, ticket.ID, identityID); err != nil {
			return err
		}
		if err := s.recordEvent(ctx, actor, ticket.ID, domain.EventTypeParticipantRemoved, map[string]any{
			"identity_id": identityID,
		}, nil); err != nil {
			return err
		}
		if ticket.ChannelRef != nil {
			return s.effects.SchedulePermissionOverwrite(ctx, *ticket.ChannelRef, identityID, 0, viewChannelAllowBits)
		}
		return nil
	})
}

// GetTicket returns the ticket with its participants; callers must be a
// participant or hold the view-all capability.
func (s *LifecycleService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Participant, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, nil, err
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, notFoundOr("ticket", err)
	}
	participants, err := s.participants.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.Permissions.Has(domain.PermViewAllTickets) && !isParticipant(participants, actor.Subject()) {
		return nil, nil, util.NewPermissionDenied(domain.PermViewAllTickets.Name())
	}
	return ticket, participants, nil
}

// ListTickets returns tickets in the actor's tenant. Without the view-all
// capability the listing is restricted to the actor's own tickets.
func (s *LifecycleService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	actor, err := actorctx.Current(ctx)
	if err != nil {
		return nil, err
	}
	tenantID := actor.TenantID
	filter.TenantID = &tenantID
	if !actor.Permissions.Has(domain.PermViewAllTickets) {
		subject := actor.Subject()
		filter.OpenerID = &subject
	}
	return s.tickets.ListWithFilter(ctx, filter)
}

// ListEvents returns the audit trail for a ticket.
func (s *LifecycleService) ListEvents(ctx context.Context, ticketID string, limit, offset int) ([]domain.TicketEvent, error) {
	if _, _, err := s.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.events.ListByTicket(ctx, ticketID, limit, offset)
}

// RearmAutoClose reloads pending close-request deadlines from the database
// and re-arms their timers. Called once at startup so a restart does not
// silently drop scheduled auto-closes.
func (s *LifecycleService) RearmAutoClose(ctx context.Context) error {
	pending, err := s.closeRequests.ListPendingAutoClose(ctx)
	if err != nil {
		return err
	}
	for _, request := range pending {
		s.autoClose.Arm(request.TicketID, request.ID, *request.AutoCloseAt)
	}
	if len(pending) > 0 {
		s.logger.Info("re-armed auto-close timers", zap.Int("count", len(pending)))
	}
	return nil
}

// fireAutoClose runs when an auto-close deadline expires. It re-verifies
// everything inside a fresh transaction: the token must still exist (compare
// and clear) and the ticket must still be open. A timer that lost the race
// to a human close is a silent no-op.
func (s *LifecycleService) fireAutoClose(ctx context.Context, ticketID, closeRequestID string) {
	actor := domain.NewSystemActor(autoCloseActor)
	ctx = actorctx.Provide(ctx, actor)

	err := s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		cleared, err := s.closeRequests.Delete(ctx, closeRequestID)
		if err != nil {
			return err
		}
		if !cleared {
			return nil // superseded or already resolved
		}
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return notFoundOr("ticket", err)
		}
		reason := "closed automatically: close request timed out"
		return s.closeInTx(ctx, actor, ticket, &reason, false, true)
	})
	if err != nil {
		s.logger.Warn("auto-close failed",
			zap.String("ticket_id", ticketID),
			zap.String("close_request_id", closeRequestID),
			zap.Error(err))
	}
}

func (s *LifecycleService) recordEvent(ctx context.Context, actor domain.Actor, ticketID string, eventType domain.TicketEventType, oldValue, newValue map[string]any) error {
	return s.events.Create(ctx, &domain.TicketEvent{
		TicketID:  ticketID,
		ActorKind: actor.Kind,
		ActorID:   actor.Subject(),
		EventType: eventType,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}

// viewChannelAllowBits is the chat-platform permission set granted to ticket
// participants (view + send).
const viewChannelAllowBits uint64 = 0x400 | 0x800

func isParticipant(participants []domain.Participant, identityID string) bool {
	for _, p := range participants {
		if p.IdentityID == identityID {
			return true
		}
	}
	return false
}

func subjectOrEmpty(subject *string) string {
	if subject == nil {
		return ""
	}
	return *subject
}

func ticketPayload(ticket *domain.Ticket) map[string]any {
	return map[string]any{
		"ticket_id":   ticket.ID,
		"tenant_id":   ticket.TenantID,
		"seq":         ticket.Seq,
		"status":      ticket.Status,
		"opener_id":   ticket.OpenerID,
		"claimant_id": ticket.ClaimantID,
		"channel_ref": ticket.ChannelRef,
	}
}

func notFoundOr(resource string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return util.NewNotFound(resource, nil)
	}
	return err
}
