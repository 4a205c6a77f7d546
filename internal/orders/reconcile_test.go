package orders

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// submittedOrder creates and persists o1 already in SUBMITTED with
// broker_order_id "bo-1", submitted submittedAgo in the past.
func submittedOrder(t *testing.T, fx testFixture, submittedAgo time.Duration) {
	t.Helper()
	o := sampleOrder()
	o.Status = domain.OrderSubmitted
	brokerOrderID := "bo-1"
	o.BrokerOrderID = &brokerOrderID
	submittedAt := time.Now().UTC().Add(-submittedAgo)
	o.SubmittedAt = &submittedAt
	require.NoError(t, fx.store.Create(context.Background(), o))
}

func TestTick_BrokerReportsNoSuchOrder_TransitionsToError(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{pollErr: apperr.New(apperr.KindRejected, "broker 404: no such order")})
	submittedOrder(t, fx, time.Minute) // well inside the window

	r := NewReconciler(fx.machine, fx.store, "paper")
	r.tick(context.Background())

	got, err := fx.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderError, got.Status)
}

func TestTick_TransientPollErrorWithinWindow_LeavesOrderSubmitted(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{pollErr: apperr.New(apperr.KindUpstream, "broker unreachable")})
	submittedOrder(t, fx, time.Minute)

	r := NewReconciler(fx.machine, fx.store, "paper")
	r.tick(context.Background())

	got, err := fx.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, got.Status)
}

func TestTick_TransientPollErrorPastWindow_TransitionsToError(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{pollErr: apperr.New(apperr.KindUpstream, "broker unreachable")})
	submittedOrder(t, fx, time.Minute)

	r := NewReconciler(fx.machine, fx.store, "paper")
	r.window = 30 * time.Second // order is older than this

	r.tick(context.Background())

	got, err := fx.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderError, got.Status)
}

func TestTick_SuccessfulPollPastWindowStillNonTerminal_TransitionsToError(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{polled: PollResult{BrokerOrderID: "bo-1", Status: string(domain.OrderSubmitted), FilledQty: "0"}})
	submittedOrder(t, fx, time.Minute)

	r := NewReconciler(fx.machine, fx.store, "paper")
	r.window = 30 * time.Second

	r.tick(context.Background())

	got, err := fx.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderError, got.Status)
}

func TestTick_SuccessfulPollWithinWindow_AppliesFillNormally(t *testing.T) {
	fx := newTestMachine(t, fakeRisk{}, fakeBroker{polled: PollResult{BrokerOrderID: "bo-1", Status: string(domain.OrderFilled), FilledQty: "10"}})
	submittedOrder(t, fx, time.Minute)

	r := NewReconciler(fx.machine, fx.store, "paper")
	r.tick(context.Background())

	got, err := fx.store.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, got.Status)
}
