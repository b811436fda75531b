package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-platform/internal/actorctx"
	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/effects"
	"github.com/spec-kit/ticket-platform/internal/observability"
	"github.com/spec-kit/ticket-platform/internal/platform"
	"github.com/spec-kit/ticket-platform/internal/repository"
	"github.com/spec-kit/ticket-platform/internal/tx"
	"github.com/spec-kit/ticket-platform/pkg/util"
)

// ---- transaction fakes -----------------------------------------------------

type fakeTx struct{}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return f, nil }
func (f *fakeTx) Commit(ctx context.Context) error          { return nil }
func (f *fakeTx) Rollback(ctx context.Context) error        { return nil }
func (f *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (f *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (f *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (f *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (f *fakeTx) Conn() *pgx.Conn                                               { return nil }

type fakeBeginner struct{ tx fakeTx }

func (f *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) { return &f.tx, nil }

// ---- repository fakes ------------------------------------------------------

type memTicketRepo struct {
	mu      sync.Mutex
	seq     int
	tickets map[string]domain.Ticket

	lastFilter repository.TicketFilter
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[string]domain.Ticket)}
}

func (r *memTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ticket.ID = fmt.Sprintf("tk-%d", r.seq)
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r *memTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := t
	return &copied, nil
}

func (r *memTicketRepo) GetByChannelRef(ctx context.Context, channelRef string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.ChannelRef != nil && *t.ChannelRef == channelRef {
			copied := t
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTicketRepo) CountOpenByOpener(ctx context.Context, tenantID, openerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.tickets {
		if t.TenantID == tenantID && t.OpenerID == openerID && t.Status == domain.TicketStatusOpen {
			count++
		}
	}
	return count, nil
}

func (r *memTicketRepo) Claim(ctx context.Context, ticketID, claimantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok || t.Status != domain.TicketStatusOpen || t.ClaimantID != nil {
		return false, nil
	}
	t.ClaimantID = &claimantID
	r.tickets[ticketID] = t
	return true, nil
}

func (r *memTicketRepo) Unclaim(ctx context.Context, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return pgx.ErrNoRows
	}
	t.ClaimantID = nil
	r.tickets[ticketID] = t
	return nil
}

func (r *memTicketRepo) Close(ctx context.Context, ticketID, closedByID string, reason *string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok || t.Status == domain.TicketStatusClosed {
		return false, nil
	}
	t.Status = domain.TicketStatusClosed
	t.ClosedAt = &at
	t.ClosedByID = &closedByID
	t.CloseReason = reason
	r.tickets[ticketID] = t
	return true, nil
}

func (r *memTicketRepo) Reopen(ctx context.Context, ticketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok || t.Status != domain.TicketStatusClosed {
		return false, nil
	}
	t.Status = domain.TicketStatusOpen
	t.ClaimantID = nil
	t.ClosedAt = nil
	t.ClosedByID = nil
	t.CloseReason = nil
	r.tickets[ticketID] = t
	return true, nil
}

func (r *memTicketRepo) SetChannelRef(ctx context.Context, ticketID, channelRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return pgx.ErrNoRows
	}
	if t.ChannelRef == nil {
		t.ChannelRef = &channelRef
		r.tickets[ticketID] = t
	}
	return nil
}

func (r *memTicketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	var out []domain.Ticket
	for _, t := range r.tickets {
		if filter.TenantID != nil && t.TenantID != *filter.TenantID {
			continue
		}
		if filter.OpenerID != nil && t.OpenerID != *filter.OpenerID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type memParticipantRepo struct {
	mu    sync.Mutex
	byTkt map[string]map[string]domain.Participant
}

func newMemParticipantRepo() *memParticipantRepo {
	return &memParticipantRepo{byTkt: make(map[string]map[string]domain.Participant)}
}

func (r *memParticipantRepo) Add(ctx context.Context, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byTkt[p.TicketID] == nil {
		r.byTkt[p.TicketID] = make(map[string]domain.Participant)
	}
	p.AddedAt = time.Now()
	r.byTkt[p.TicketID][p.IdentityID] = p
	return nil
}

func (r *memParticipantRepo) Remove(ctx context.Context, ticketID, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTkt[ticketID], identityID)
	return nil
}

func (r *memParticipantRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Participant
	for _, p := range r.byTkt[ticketID] {
		out = append(out, p)
	}
	return out, nil
}

type memCloseRequestRepo struct {
	mu       sync.Mutex
	seq      int
	byTicket map[string]domain.CloseRequest
}

func newMemCloseRequestRepo() *memCloseRequestRepo {
	return &memCloseRequestRepo{byTicket: make(map[string]domain.CloseRequest)}
}

func (r *memCloseRequestRepo) Upsert(ctx context.Context, cr *domain.CloseRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	cr.ID = fmt.Sprintf("cr-%d", r.seq)
	cr.CreatedAt = time.Now()
	r.byTicket[cr.TicketID] = *cr
	return nil
}

func (r *memCloseRequestRepo) GetByID(ctx context.Context, id string) (*domain.CloseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cr := range r.byTicket {
		if cr.ID == id {
			copied := cr
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memCloseRequestRepo) GetByTicket(ctx context.Context, ticketID string) (*domain.CloseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cr, ok := r.byTicket[ticketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := cr
	return &copied, nil
}

func (r *memCloseRequestRepo) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ticketID, cr := range r.byTicket {
		if cr.ID == id {
			delete(r.byTicket, ticketID)
			return true, nil
		}
	}
	return false, nil
}

func (r *memCloseRequestRepo) DeleteByTicket(ctx context.Context, ticketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTicket[ticketID]; !ok {
		return false, nil
	}
	delete(r.byTicket, ticketID)
	return true, nil
}

func (r *memCloseRequestRepo) ListPendingAutoClose(ctx context.Context) ([]domain.CloseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CloseRequest
	for _, cr := range r.byTicket {
		if cr.AutoCloseAt != nil {
			out = append(out, cr)
		}
	}
	return out, nil
}

type memTenantRepo struct {
	mu     sync.Mutex
	tenant domain.Tenant
}

func (r *memTenantRepo) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != r.tenant.ID {
		return nil, pgx.ErrNoRows
	}
	copied := r.tenant
	return &copied, nil
}

func (r *memTenantRepo) NextTicketSeq(ctx context.Context, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant.NextTicketSeq++
	return r.tenant.NextTicketSeq, nil
}

type memPanelRepo struct {
	panels map[string]domain.Panel
}

func (r *memPanelRepo) GetByID(ctx context.Context, id string) (*domain.Panel, error) {
	p, ok := r.panels[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := p
	return &copied, nil
}

func (r *memPanelRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Panel, error) {
	var out []domain.Panel
	for _, p := range r.panels {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memEventRepo struct {
	mu        sync.Mutex
	seq       int
	events    []domain.TicketEvent
	createErr error
}

func (r *memEventRepo) Create(ctx context.Context, event *domain.TicketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	event.ID = fmt.Sprintf("ev-%d", r.seq)
	event.CreatedAt = time.Now()
	r.events = append(r.events, *event)
	return nil
}

func (r *memEventRepo) ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.TicketEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketEvent
	for _, e := range r.events {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memEventRepo) types(ticketID string) []domain.TicketEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketEventType
	for _, e := range r.events {
		if e.TicketID == ticketID {
			out = append(out, e.EventType)
		}
	}
	return out
}

// ---- effect fakes ----------------------------------------------------------

type recordChannels struct {
	mu        sync.Mutex
	created   []platform.CreateChannelRequest
	closed    []string
	deleted   []string
	overrides []string
}

func (c *recordChannels) CreateChannel(ctx context.Context, req platform.CreateChannelRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, req)
	return fmt.Sprintf("chan-%d", len(c.created)), nil
}

func (c *recordChannels) ArchiveOrDeleteChannel(ctx context.Context, channelRef string, deleteChannel bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deleteChannel {
		c.deleted = append(c.deleted, channelRef)
	} else {
		c.closed = append(c.closed, channelRef)
	}
	return nil
}

func (c *recordChannels) UpdatePermissionOverwrite(ctx context.Context, channelRef, subjectRef string, allow, deny uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = append(c.overrides, channelRef+":"+subjectRef)
	return nil
}

type recordSender struct {
	mu     sync.Mutex
	events []string
}

func (s *recordSender) Send(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.events...)
}

type recordPublisher struct {
	mu    sync.Mutex
	names []string
}

func (p *recordPublisher) CaptureEvent(ctx context.Context, name string, properties map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	return nil
}

// ---- fixture ---------------------------------------------------------------

type fixture struct {
	svc           *LifecycleService
	tickets       *memTicketRepo
	participants  *memParticipantRepo
	closeRequests *memCloseRequestRepo
	tenants       *memTenantRepo
	panels        *memPanelRepo
	events        *memEventRepo
	channels      *recordChannels
	webhooks      *recordSender
	analytics     *recordPublisher
	autoClose     *AutoCloseScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		tickets:       newMemTicketRepo(),
		participants:  newMemParticipantRepo(),
		closeRequests: newMemCloseRequestRepo(),
		tenants:       &memTenantRepo{tenant: domain.Tenant{ID: "t1", OwnerIdentityID: "owner", OpenTicketLimit: 2}},
		panels:        &memPanelRepo{panels: map[string]domain.Panel{}},
		events:        &memEventRepo{},
		channels:      &recordChannels{},
		webhooks:      &recordSender{},
		analytics:     &recordPublisher{},
		autoClose:     NewAutoCloseScheduler(logger),
	}
	t.Cleanup(f.autoClose.Stop)

	txm := tx.NewManager(&fakeBeginner{}, nil, logger)
	scheduler := effects.NewScheduler(effects.Options{
		Channels:  f.channels,
		Webhooks:  f.webhooks,
		Analytics: f.analytics,
		Tickets:   f.tickets,
		Metrics:   observability.NewMetrics(),
		Logger:    logger,
	})
	f.svc = NewLifecycleService(LifecycleDependencies{
		Tx:            txm,
		TicketRepo:    f.tickets,
		Participants:  f.participants,
		CloseRequests: f.closeRequests,
		Tenants:       f.tenants,
		Panels:        f.panels,
		Events:        f.events,
		Effects:       scheduler,
		AutoClose:     f.autoClose,
		Logger:        logger,
	})
	return f
}

func webCtx(userID string, perms domain.Permissions) context.Context {
	return actorctx.Provide(context.Background(), domain.NewWebActor(userID, "t1", perms, "sess"))
}

func chatCtx(userID string, perms domain.Permissions) context.Context {
	return actorctx.Provide(context.Background(), domain.NewChatActor(userID, "t1", perms, "chan-x"))
}

func (f *fixture) createTicket(t *testing.T, openerID string) *domain.Ticket {
	t.Helper()
	ctx := chatCtx(openerID, domain.PermCreateTicket)
	ticket, err := f.svc.Create(ctx, CreateInput{OpenerID: openerID, GuildRef: "guild-1"})
	require.NoError(t, err)
	return ticket
}

// ---- create ----------------------------------------------------------------

func TestCreate_AllocatesSeqAndAddsOpener(t *testing.T) {
	f := newFixture(t)

	first := f.createTicket(t, "user-1")
	second := f.createTicket(t, "user-2")

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, domain.TicketStatusOpen, first.Status)

	members, err := f.participants.ListByTicket(context.Background(), first.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "user-1", members[0].IdentityID)
	assert.Equal(t, domain.ParticipantRoleOpener, members[0].Role)

	assert.Equal(t, []domain.TicketEventType{domain.EventTypeCreated}, f.events.types(first.ID))
}

func TestCreate_RunsChannelCreationAfterCommit(t *testing.T) {
	f := newFixture(t)

	ticket := f.createTicket(t, "user-1")

	require.Len(t, f.channels.created, 1)
	assert.Equal(t, "ticket-1", f.channels.created[0].Name)
	assert.Equal(t, "guild-1", f.channels.created[0].GuildRef)

	// The channel ref was recorded on the row once the channel existed.
	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ChannelRef)
	assert.Equal(t, "chan-1", *stored.ChannelRef)

	assert.Equal(t, []string{"ticket.created"}, f.webhooks.sent())
	assert.Equal(t, []string{"ticket_created"}, f.analytics.names)
}

func TestCreate_ExistingChannelRefSkipsChannelCreation(t *testing.T) {
	f := newFixture(t)

	ref := "chan-preexisting"
	ctx := chatCtx("user-1", domain.PermCreateTicket)
	ticket, err := f.svc.Create(ctx, CreateInput{OpenerID: "user-1", ChannelRef: &ref})
	require.NoError(t, err)

	assert.Empty(t, f.channels.created)
	require.NotNil(t, ticket.ChannelRef)
	assert.Equal(t, ref, *ticket.ChannelRef)
}

func TestCreate_OpenTicketLimit(t *testing.T) {
	f := newFixture(t)

	f.createTicket(t, "user-1")
	f.createTicket(t, "user-1")

	ctx := chatCtx("user-1", domain.PermCreateTicket)
	_, err := f.svc.Create(ctx, CreateInput{OpenerID: "user-1"})
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "LIMIT_EXCEEDED"))

	// Another opener is unaffected by the first user's cap.
	f.createTicket(t, "user-2")
}

func TestCreate_PanelDefaultsApply(t *testing.T) {
	f := newFixture(t)
	subject := "Billing question"
	category := "cat-billing"
	f.panels.panels["p1"] = domain.Panel{
		ID: "p1", TenantID: "t1", Title: "Billing",
		DefaultSubject: &subject, CategoryRef: &category, IsActive: true,
	}

	panelID := "p1"
	ctx := chatCtx("user-1", domain.PermCreateTicket)
	ticket, err := f.svc.Create(ctx, CreateInput{OpenerID: "user-1", PanelID: &panelID, GuildRef: "guild-1"})
	require.NoError(t, err)

	require.NotNil(t, ticket.Subject)
	assert.Equal(t, subject, *ticket.Subject)
	require.Len(t, f.channels.created, 1)
	assert.Equal(t, category, f.channels.created[0].CategoryRef)
}

func TestCreate_RejectsForeignAndInactivePanels(t *testing.T) {
	f := newFixture(t)
	f.panels.panels["other"] = domain.Panel{ID: "other", TenantID: "t2", IsActive: true}
	f.panels.panels["inactive"] = domain.Panel{ID: "inactive", TenantID: "t1", IsActive: false}

	ctx := chatCtx("user-1", domain.PermCreateTicket)

	panelID := "other"
	_, err := f.svc.Create(ctx, CreateInput{OpenerID: "user-1", PanelID: &panelID})
	assert.True(t, util.IsCode(err, "VALIDATION_FAILED"))

	panelID = "inactive"
	_, err = f.svc.Create(ctx, CreateInput{OpenerID: "user-1", PanelID: &panelID})
	assert.True(t, util.IsCode(err, "VALIDATION_FAILED"))
}

func TestCreate_RollbackDiscardsEffects(t *testing.T) {
	f := newFixture(t)
	f.events.createErr = errors.New("audit store down")

	ctx := chatCtx("user-1", domain.PermCreateTicket)
	_, err := f.svc.Create(ctx, CreateInput{OpenerID: "user-1", GuildRef: "guild-1"})
	require.Error(t, err)

	assert.Empty(t, f.channels.created, "effects must not run when the transaction fails")
	assert.Empty(t, f.webhooks.sent())
}

// ---- claim / unclaim -------------------------------------------------------

func TestClaim_FirstWinsSecondConflicts(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	claimed, err := f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimantID)
	assert.Equal(t, "staff-1", *claimed.ClaimantID)

	_, err = f.svc.Claim(webCtx("staff-2", domain.PermClaimTicket), ticket.ID)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "CONFLICT"))
}

func TestClaim_ByCurrentClaimantIsNoOp(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	require.NoError(t, err)
	webhooksBefore := len(f.webhooks.sent())

	again, err := f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", *again.ClaimantID)
	assert.Len(t, f.webhooks.sent(), webhooksBefore, "re-claim must not re-notify")
}

func TestClaim_RequiresCapability(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Claim(webCtx("staff-1", 0), ticket.ID)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))
}

func TestClaim_ClosedTicketConflicts(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	_, err := f.svc.Close(webCtx("closer", domain.PermCloseAnyTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	_, err = f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	assert.True(t, util.IsCode(err, "CONFLICT"))
}

func TestUnclaim_ClaimantReleasesOwnClaim(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	_, err := f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	require.NoError(t, err)

	released, err := f.svc.Unclaim(webCtx("staff-1", 0), ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, released.ClaimantID)
}

func TestUnclaim_OthersNeedUnclaimAny(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	_, err := f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	require.NoError(t, err)

	_, err = f.svc.Unclaim(webCtx("staff-2", 0), ticket.ID)
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))

	released, err := f.svc.Unclaim(webCtx("staff-2", domain.PermUnclaimAny), ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, released.ClaimantID)
}

func TestUnclaim_UnclaimedTicketNeedsUnclaimAny(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Unclaim(webCtx("staff-1", 0), ticket.ID)
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))

	got, err := f.svc.Unclaim(webCtx("staff-1", domain.PermUnclaimAny), ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClaimantID)
}

// ---- close -----------------------------------------------------------------

func TestClose_OpenerNeedsCloseOwn(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Close(chatCtx("user-1", 0), CloseInput{TicketID: ticket.ID})
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))

	closed, err := f.svc.Close(chatCtx("user-1", domain.PermCloseOwnTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedByID)
	assert.Equal(t, "user-1", *closed.ClosedByID)
}

func TestClose_OthersNeedCloseAny(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Close(webCtx("staff-1", domain.PermCloseOwnTicket), CloseInput{TicketID: ticket.ID})
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))

	_, err = f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)
}

func TestClose_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)
	closedWebhooks := countOf(f.webhooks.sent(), "ticket.closed")

	again, err := f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, again.Status)
	assert.Equal(t, closedWebhooks, countOf(f.webhooks.sent(), "ticket.closed"),
		"a second close must not re-send notifications")
}

func TestClose_ArchivesOrDeletesChannel(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket),
		CloseInput{TicketID: ticket.ID, DeleteChannel: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-1"}, f.channels.deleted)

	other := f.createTicket(t, "user-2")
	_, err = f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket),
		CloseInput{TicketID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-2"}, f.channels.closed)
}

func TestClose_PreservesClaimant(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	_, err := f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	require.NoError(t, err)

	closed, err := f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)
	require.NotNil(t, closed.ClaimantID)
	assert.Equal(t, "staff-1", *closed.ClaimantID)

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClaimantID)
	assert.Equal(t, "staff-1", *stored.ClaimantID)
}

func TestClose_ClearsPendingCloseRequest(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	_, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	_, err = f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	_, err = f.closeRequests.GetByTicket(context.Background(), ticket.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

// ---- request / approve / deny close ----------------------------------------

func TestRequestClose_RecordsToken(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, "staff-1", request.RequestedByID)
	assert.Nil(t, request.AutoCloseAt)
	assert.Contains(t, f.webhooks.sent(), "ticket.close_requested")
}

func TestRequestClose_RequiresCapability(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.RequestClose(webCtx("staff-1", 0), RequestCloseInput{TicketID: ticket.ID})
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))
}

func TestRequestClose_SupersedesPriorRequest(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	first, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	second, err := f.svc.RequestClose(webCtx("staff-2", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "supersession must rotate the token")
	assert.Equal(t, "staff-2", second.RequestedByID)

	cleared, err := f.closeRequests.Delete(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, cleared, "the superseded token must already be gone")
}

func TestRequestClose_ArmsTimerWithDeadline(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	hours := 4
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID, AutoCloseHours: &hours})
	require.NoError(t, err)
	require.NotNil(t, request.AutoCloseAt)

	f.autoClose.mu.Lock()
	_, armed := f.autoClose.timers[ticket.ID]
	f.autoClose.mu.Unlock()
	assert.True(t, armed)
}

func TestRequestClose_RespectsAutoCloseExclusion(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	f.tickets.mu.Lock()
	stored := f.tickets.tickets[ticket.ID]
	stored.ExcludeFromAutoClose = true
	f.tickets.tickets[ticket.ID] = stored
	f.tickets.mu.Unlock()

	hours := 4
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID, AutoCloseHours: &hours})
	require.NoError(t, err)
	assert.Nil(t, request.AutoCloseAt, "excluded tickets never get a deadline")

	f.autoClose.mu.Lock()
	_, armed := f.autoClose.timers[ticket.ID]
	f.autoClose.mu.Unlock()
	assert.False(t, armed)
}

func TestRequestClose_RejectsNonPositiveHours(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	hours := 0
	_, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID, AutoCloseHours: &hours})
	assert.True(t, util.IsCode(err, "VALIDATION_FAILED"))
}

func TestApproveClose_OpenerClosesTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	closed, err := f.svc.ApproveClose(chatCtx("user-1", 0), request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
}

func TestApproveClose_NonOpenerNeedsOverride(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	_, err = f.svc.ApproveClose(webCtx("staff-2", 0), request.ID)
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))

	closed, err := f.svc.ApproveClose(webCtx("staff-2", domain.PermApproveCloseOverride), request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
}

func TestApproveClose_ResolvedTokenNotFound(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	_, err = f.svc.ApproveClose(chatCtx("user-1", 0), request.ID)
	require.NoError(t, err)

	_, err = f.svc.ApproveClose(chatCtx("user-1", 0), request.ID)
	assert.True(t, util.IsCode(err, "NOT_FOUND"))
}

func TestDenyClose_KeepsTicketOpen(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	hours := 4
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID, AutoCloseHours: &hours})
	require.NoError(t, err)

	require.NoError(t, f.svc.DenyClose(chatCtx("user-1", 0), request.ID))

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)

	_, err = f.closeRequests.GetByTicket(context.Background(), ticket.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	f.autoClose.mu.Lock()
	_, armed := f.autoClose.timers[ticket.ID]
	f.autoClose.mu.Unlock()
	assert.False(t, armed, "deny must disarm the auto-close timer")

	assert.Contains(t, f.events.types(ticket.ID), domain.EventTypeCloseDenied)
}

// ---- auto close ------------------------------------------------------------

func TestFireAutoClose_ClosesTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	hours := 4
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID, AutoCloseHours: &hours})
	require.NoError(t, err)

	f.svc.fireAutoClose(context.Background(), ticket.ID, request.ID)

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	require.NotNil(t, stored.ClosedByID)
	assert.Equal(t, autoCloseActor, *stored.ClosedByID)
}

func TestFireAutoClose_ResolvedTokenIsNoOp(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	hours := 4
	request, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID, AutoCloseHours: &hours})
	require.NoError(t, err)

	// A human resolves the request before the timer fires.
	require.NoError(t, f.svc.DenyClose(chatCtx("user-1", 0), request.ID))
	webhooksBefore := len(f.webhooks.sent())

	f.svc.fireAutoClose(context.Background(), ticket.ID, request.ID)

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	assert.Len(t, f.webhooks.sent(), webhooksBefore)
}

func TestFireAutoClose_SupersededRequestIsNoOp(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	hours := 4
	first, err := f.svc.RequestClose(webCtx("staff-1", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID, AutoCloseHours: &hours})
	require.NoError(t, err)

	// A later request without a deadline replaces the token before the old
	// timer's after-commit cancel runs.
	second, err := f.svc.RequestClose(webCtx("staff-2", domain.PermRequestClose),
		RequestCloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	f.svc.fireAutoClose(context.Background(), ticket.ID, first.ID)

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status,
		"a superseded request's timer must not close the ticket")

	pending, err := f.closeRequests.GetByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, pending.ID, "the live token must survive the stale timer")
}

func TestRearmAutoClose_RestoresTimers(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	deadline := time.Now().Add(time.Hour)
	require.NoError(t, f.closeRequests.Upsert(context.Background(), &domain.CloseRequest{
		TicketID:      ticket.ID,
		RequestedByID: "staff-1",
		AutoCloseAt:   &deadline,
	}))

	require.NoError(t, f.svc.RearmAutoClose(context.Background()))

	f.autoClose.mu.Lock()
	_, armed := f.autoClose.timers[ticket.ID]
	f.autoClose.mu.Unlock()
	assert.True(t, armed)
}

// ---- reopen ----------------------------------------------------------------

func TestReopen_RestoresOpenUnclaimed(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	_, err := f.svc.Claim(webCtx("staff-1", domain.PermClaimTicket), ticket.ID)
	require.NoError(t, err)
	_, err = f.svc.Close(webCtx("staff-1", domain.PermCloseAnyTicket), CloseInput{TicketID: ticket.ID})
	require.NoError(t, err)

	reopened, err := f.svc.Reopen(webCtx("staff-1", domain.PermReopenTicket), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClaimantID)
	assert.Nil(t, reopened.ClosedAt)
	assert.Contains(t, f.webhooks.sent(), "ticket.reopened")
}

func TestReopen_OpenTicketConflicts(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, err := f.svc.Reopen(webCtx("staff-1", domain.PermReopenTicket), ticket.ID)
	assert.True(t, util.IsCode(err, "CONFLICT"))
}

// ---- participants ----------------------------------------------------------

func TestAddParticipant_GrantsChannelAccess(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	err := f.svc.AddParticipant(webCtx("staff-1", domain.PermManageParticipants),
		ticket.ID, "user-2", domain.ParticipantRoleParticipant)
	require.NoError(t, err)

	members, err := f.participants.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, []string{"chan-1:user-2"}, f.channels.overrides)
}

func TestRemoveParticipant_RevokesAccess(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")
	require.NoError(t, f.svc.AddParticipant(webCtx("staff-1", domain.PermManageParticipants),
		ticket.ID, "user-2", domain.ParticipantRoleParticipant))

	err := f.svc.RemoveParticipant(webCtx("staff-1", domain.PermManageParticipants), ticket.ID, "user-2")
	require.NoError(t, err)

	members, err := f.participants.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestParticipantOps_RequireCapability(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	err := f.svc.AddParticipant(webCtx("staff-1", 0), ticket.ID, "user-2", "")
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))

	err = f.svc.RemoveParticipant(webCtx("staff-1", 0), ticket.ID, "user-2")
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))
}

// ---- reads -----------------------------------------------------------------

func TestGetTicket_ParticipantOrViewAll(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "user-1")

	_, _, err := f.svc.GetTicket(webCtx("stranger", 0), ticket.ID)
	assert.True(t, util.IsCode(err, "PERMISSION_DENIED"))

	got, members, err := f.svc.GetTicket(chatCtx("user-1", 0), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
	assert.Len(t, members, 1)

	_, _, err = f.svc.GetTicket(webCtx("stranger", domain.PermViewAllTickets), ticket.ID)
	require.NoError(t, err)
}

func TestListTickets_ScopedWithoutViewAll(t *testing.T) {
	f := newFixture(t)
	f.createTicket(t, "user-1")
	f.createTicket(t, "user-2")

	own, err := f.svc.ListTickets(chatCtx("user-1", 0), repository.TicketFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "user-1", own[0].OpenerID)

	all, err := f.svc.ListTickets(webCtx("staff-1", domain.PermViewAllTickets), repository.TicketFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	require.NotNil(t, f.tickets.lastFilter.TenantID)
	assert.Equal(t, "t1", *f.tickets.lastFilter.TenantID)
}

func TestOperations_RequireActorContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{OpenerID: "user-1"})
	assert.True(t, util.IsCode(err, "NO_CONTEXT"))

	_, err = f.svc.Claim(context.Background(), "tk-1")
	assert.True(t, util.IsCode(err, "NO_CONTEXT"))

	_, err = f.svc.ListTickets(context.Background(), repository.TicketFilter{})
	assert.True(t, util.IsCode(err, "NO_CONTEXT"))
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}
