package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/audit"
	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/events"
	"github.com/aristath/quant-core/internal/portfolio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRisk struct {
	err error
}

func (r fakeRisk) CheckRisk(ctx context.Context, portfolioID string, proposed domain.Order) error {
	return r.err
}

type fakeBroker struct {
	submitID string
	submitErr error
	cancelErr error
	polled    PollResult
	pollErr   error
}

func (b fakeBroker) Submit(ctx context.Context, order domain.Order) (string, error) {
	if b.submitErr != nil {
		return "", b.submitErr
	}
	return b.submitID, nil
}

func (b fakeBroker) Cancel(ctx context.Context, brokerOrderID string) error {
	return b.cancelErr
}

func (b fakeBroker) Poll(ctx context.Context, brokerOrderID string) (PollResult, error) {
	return b.polled, b.pollErr
}

type testFixture struct {
	machine *Machine
	store   *Store
	pf      *portfolio.Store
}

func newTestMachine(t *testing.T, risk domain.RiskService, broker Broker) testFixture {
	dir := t.TempDir()

	ordersDB, err := database.New(database.Config{Path: filepath.Join(dir, "orders.db"), Profile: database.ProfileStandard, Name: "orders"})
	require.NoError(t, err)
	require.NoError(t, ordersDB.Migrate())
	store := NewStore(ordersDB)

	portfolioDB, err := database.New(database.Config{Path: filepath.Join(dir, "portfolio.db"), Profile: database.ProfileStandard, Name: "portfolio"})
	require.NoError(t, err)
	require.NoError(t, portfolioDB.Migrate())

	auditPath := filepath.Join(dir, "audit.db")
	auditDB, err := database.New(database.Config{Path: auditPath, Profile: database.ProfileLedger, Name: "audit"})
	require.NoError(t, err)
	require.NoError(t, auditDB.Migrate())

	_, err = portfolioDB.Conn().Exec(`
		INSERT INTO portfolios (id, owner_id, cash, currency, var_limit, max_position_weight, max_leverage, status)
		VALUES ('p1', 'owner1', '100000', 'USD', 0.5, 0.9, 5.0, 'active')
	`)
	require.NoError(t, err)

	pf, err := portfolio.NewStore(portfolioDB, auditPath, zerolog.Nop())
	require.NoError(t, err)

	log, err := audit.NewLog(auditDB, auditPath, zerolog.Nop())
	require.NoError(t, err)

	machine := NewMachine(store, risk, pf, map[string]Broker{"paper": broker}, log, events.NewBus(), zerolog.Nop())
	return testFixture{machine: machine, store: store, pf: pf}
}

func TestSubmitOrder_RejectedByRisk(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{err: apperr.WithReason(apperr.KindLimitBreach, "too big", "position_weight_exceeded")}, fakeBroker{submitID: "bo-1"})
	_, err := fx.machine.SubmitOrder(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Equal(t, "position_weight_exceeded", apperr.ReasonOf(err))
}

func TestSubmitOrder_SubmitsAndTransitions(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{submitID: "bo-1"})
	id, err := fx.machine.SubmitOrder(context.Background(), sampleOrder())
	require.NoError(t, err)
	assert.Equal(t, "o1", id)

	got, err := fx.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, got.Status)
	require.NotNil(t, got.BrokerOrderID)
	assert.Equal(t, "bo-1", *got.BrokerOrderID)
}

func TestSubmitOrder_BrokerRejectionMarksOrderRejected(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{submitErr: apperr.New(apperr.KindRejected, "broker refused")})
	_, err := fx.machine.SubmitOrder(context.Background(), sampleOrder())
	require.Error(t, err)

	got, err := fx.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRejected, got.Status)
}

func TestCancelOrder_MovesToCancelling(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{submitID: "bo-1"})
	ctx := context.Background()
	_, err := fx.machine.SubmitOrder(ctx, sampleOrder())
	require.NoError(t, err)

	require.NoError(t, fx.machine.CancelOrder(ctx, "o1"))

	got, err := fx.store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelling, got.Status)
}

func TestCancelOrder_RejectsTerminalOrder(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{submitID: "bo-1"})
	ctx := context.Background()
	o := sampleOrder()
	o.Status = domain.OrderFilled
	require.NoError(t, fx.store.Create(ctx, o))

	err := fx.machine.CancelOrder(ctx, "o1")
	require.Error(t, err)
}

func TestHandleBrokerEvent_FillProgressesToPartialThenFilled(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{submitID: "bo-1"})
	ctx := context.Background()
	_, err := fx.machine.SubmitOrder(ctx, sampleOrder())
	require.NoError(t, err)

	require.NoError(t, fx.machine.HandleBrokerEvent(ctx, "paper", domain.BrokerEvent{
		Type: domain.BrokerEventFill, BrokerOrderID: "bo-1", BrokerExecID: "bex-1",
		Qty: decimal.NewFromInt(4), Price: decimal.NewFromInt(100), Ts: time.Now().UTC(),
	}))

	got, err := fx.store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPartiallyFilled, got.Status)
	assert.True(t, got.FilledQty.Equal(decimal.NewFromInt(4)))

	require.NoError(t, fx.machine.HandleBrokerEvent(ctx, "paper", domain.BrokerEvent{
		Type: domain.BrokerEventFill, BrokerOrderID: "bo-1", BrokerExecID: "bex-2",
		Qty: decimal.NewFromInt(6), Price: decimal.NewFromInt(102), Ts: time.Now().UTC(),
	}))

	got, err = fx.store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, got.Status)
	assert.True(t, got.FilledQty.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, got.TerminalAt)
}

func TestHandleBrokerEvent_DuplicateFillIgnored(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{submitID: "bo-1"})
	ctx := context.Background()
	_, err := fx.machine.SubmitOrder(ctx, sampleOrder())
	require.NoError(t, err)

	ev := domain.BrokerEvent{
		Type: domain.BrokerEventFill, BrokerOrderID: "bo-1", BrokerExecID: "bex-1",
		Qty: decimal.NewFromInt(4), Price: decimal.NewFromInt(100), Ts: time.Now().UTC(),
	}
	require.NoError(t, fx.machine.HandleBrokerEvent(ctx, "paper", ev))
	require.NoError(t, fx.machine.HandleBrokerEvent(ctx, "paper", ev))

	got, err := fx.store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, got.FilledQty.Equal(decimal.NewFromInt(4)))
}

func TestHandleBrokerEvent_RejectedUnknownOrderIsDropped(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{submitID: "bo-1"})
	err := fx.machine.HandleBrokerEvent(context.Background(), "paper", domain.BrokerEvent{
		Type: domain.BrokerEventRejected, BrokerOrderID: "does-not-exist", Ts: time.Now().UTC(),
	})
	assert.NoError(t, err)
}
