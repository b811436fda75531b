package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-platform/internal/api/dto"
	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/repository"
	"github.com/spec-kit/ticket-platform/internal/service"
	apperrors "github.com/spec-kit/ticket-platform/pkg/util"
)

// TicketsHandler exposes ticket lifecycle endpoints. Authorization is
// enforced by the service layer against the actor carried on the request
// context, so handlers stay a thin parse-call-render shell.
type TicketsHandler struct {
	lifecycle *service.LifecycleService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(lifecycle *service.LifecycleService) *TicketsHandler {
	return &TicketsHandler{lifecycle: lifecycle}
}

// Create POST /api/tickets.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.OpenerID) == "" {
		return apperrors.NewValidationError("opener_id required", nil)
	}

	ticket, err := h.lifecycle.Create(c.UserContext(), service.CreateInput{
		OpenerID:   req.OpenerID,
		ChannelRef: req.ChannelRef,
		PanelID:    req.PanelID,
		Subject:    req.Subject,
		GuildRef:   req.GuildRef,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewTicketResponse(ticket))
}

// List GET /api/tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	filter := repository.TicketFilter{
		Limit:  parseIntQuery(c, "limit", 50),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []domain.TicketStatus{domain.TicketStatus(strings.ToUpper(status))}
	}
	if claimant := c.Query("claimant_id"); claimant != "" {
		filter.ClaimantID = &claimant
	}
	if panel := c.Query("panel_id"); panel != "" {
		filter.PanelID = &panel
	}

	tickets, err := h.lifecycle.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"tickets": items})
}

// Get GET /api/tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	ticket, participants, err := h.lifecycle.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	members := make([]dto.ParticipantResponse, 0, len(participants))
	for _, p := range participants {
		members = append(members, dto.ParticipantResponse{
			IdentityID: p.IdentityID,
			Role:       p.Role,
			AddedAt:    p.AddedAt,
		})
	}
	return c.JSON(fiber.Map{
		"ticket":       dto.NewTicketResponse(ticket),
		"participants": members,
	})
}

// Claim POST /api/tickets/:id/claim.
func (h *TicketsHandler) Claim(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Claim(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Unclaim POST /api/tickets/:id/unclaim.
func (h *TicketsHandler) Unclaim(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Unclaim(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// Close POST /api/tickets/:id/close.
func (h *TicketsHandler) Close(c *fiber.Ctx) error {
	var req dto.CloseTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	notify := true
	if req.NotifyOpener != nil {
		notify = *req.NotifyOpener
	}

	ticket, err := h.lifecycle.Close(c.UserContext(), service.CloseInput{
		TicketID:      c.Params("id"),
		Reason:        req.Reason,
		DeleteChannel: req.DeleteChannel,
		NotifyOpener:  notify,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// RequestClose POST /api/tickets/:id/close-request.
func (h *TicketsHandler) RequestClose(c *fiber.Ctx) error {
	var req dto.RequestCloseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	closeRequest, err := h.lifecycle.RequestClose(c.UserContext(), service.RequestCloseInput{
		TicketID:       c.Params("id"),
		Reason:         req.Reason,
		AutoCloseHours: req.AutoCloseHours,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CloseRequestResponse{
		ID:            closeRequest.ID,
		TicketID:      closeRequest.TicketID,
		RequestedByID: closeRequest.RequestedByID,
		Reason:        closeRequest.Reason,
		AutoCloseAt:   closeRequest.AutoCloseAt,
	})
}

// ApproveClose POST /api/close-requests/:id/approve.
func (h *TicketsHandler) ApproveClose(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.ApproveClose(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// DenyClose POST /api/close-requests/:id/deny.
func (h *TicketsHandler) DenyClose(c *fiber.Ctx) error {
	if err := h.lifecycle.DenyClose(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Reopen POST /api/tickets/:id/reopen.
func (h *TicketsHandler) Reopen(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Reopen(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// AddParticipant PUT /api/tickets/:id/participants/:identityId.
func (h *TicketsHandler) AddParticipant(c *fiber.Ctx) error {
	var req dto.AddParticipantRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	role := req.Role
	if role == "" {
		role = domain.ParticipantRoleParticipant
	}

	if err := h.lifecycle.AddParticipant(c.UserContext(), c.Params("id"), c.Params("identityId"), role); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveParticipant DELETE /api/tickets/:id/participants/:identityId.
func (h *TicketsHandler) RemoveParticipant(c *fiber.Ctx) error {
	if err := h.lifecycle.RemoveParticipant(c.UserContext(), c.Params("id"), c.Params("identityId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListEvents GET /api/tickets/:id/events.
func (h *TicketsHandler) ListEvents(c *fiber.Ctx) error {
	events, err := h.lifecycle.ListEvents(c.UserContext(), c.Params("id"),
		parseIntQuery(c, "limit", 100), parseIntQuery(c, "offset", 0))
	if err != nil {
		return err
	}
	items := make([]dto.TicketEventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, dto.TicketEventResponse{
			ID:        ev.ID,
			EventType: ev.EventType,
			ActorKind: ev.ActorKind,
			ActorID:   ev.ActorID,
			OldValue:  ev.OldValue,
			NewValue:  ev.NewValue,
			CreatedAt: ev.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"events": items})
}

func parseIntQuery(c *fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
