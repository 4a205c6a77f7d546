package work

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHubRefresh struct {
	symbols     []string
	refreshed   []string
	refreshErrs map[string]error
}

func (f *fakeHubRefresh) TrackedSymbols() []string { return f.symbols }

func (f *fakeHubRefresh) RefreshSymbol(ctx context.Context, symbol string) error {
	f.refreshed = append(f.refreshed, symbol)
	return f.refreshErrs[symbol]
}

type fakeReconciliation struct {
	hasBrokers bool
	called     int
	err        error
}

func (f *fakeReconciliation) HasBrokers() bool { return f.hasBrokers }

func (f *fakeReconciliation) ReconcileAll(ctx context.Context) error {
	f.called++
	return f.err
}

func TestRegisterTradingWorkTypes_Registers(t *testing.T) {
	registry := NewRegistry()
	RegisterTradingWorkTypes(registry, &TradingDeps{
		Hub:            &fakeHubRefresh{},
		Reconciliation: &fakeReconciliation{},
	})

	assert.True(t, registry.Has("marketdata:refresh"))
	assert.True(t, registry.Has("orders:reconcile"))
	assert.Equal(t, 2, registry.Count())
}

func TestMarketdataRefresh_FindSubjectsAndExecute(t *testing.T) {
	hub := &fakeHubRefresh{symbols: []string{"AAPL", "MSFT"}}
	registry := NewRegistry()
	RegisterTradingWorkTypes(registry, &TradingDeps{Hub: hub, Reconciliation: &fakeReconciliation{}})

	wt := registry.Get("marketdata:refresh")
	require.NotNil(t, wt)
	assert.Equal(t, []string{"AAPL", "MSFT"}, wt.FindSubjects())

	require.NoError(t, wt.Execute(context.Background(), "AAPL"))
	assert.Equal(t, []string{"AAPL"}, hub.refreshed)
}

func TestMarketdataRefresh_NoTrackedSymbols(t *testing.T) {
	hub := &fakeHubRefresh{}
	registry := NewRegistry()
	RegisterTradingWorkTypes(registry, &TradingDeps{Hub: hub, Reconciliation: &fakeReconciliation{}})

	wt := registry.Get("marketdata:refresh")
	require.NotNil(t, wt)
	assert.Nil(t, wt.FindSubjects())
}

func TestMarketdataRefresh_ExecuteWrapsError(t *testing.T) {
	hub := &fakeHubRefresh{refreshErrs: map[string]error{"AAPL": errors.New("boom")}}
	registry := NewRegistry()
	RegisterTradingWorkTypes(registry, &TradingDeps{Hub: hub, Reconciliation: &fakeReconciliation{}})

	wt := registry.Get("marketdata:refresh")
	err := wt.Execute(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestOrdersReconcile_FindSubjects(t *testing.T) {
	registry := NewRegistry()
	rec := &fakeReconciliation{hasBrokers: true}
	RegisterTradingWorkTypes(registry, &TradingDeps{Hub: &fakeHubRefresh{}, Reconciliation: rec})

	wt := registry.Get("orders:reconcile")
	require.NotNil(t, wt)
	assert.Equal(t, []string{""}, wt.FindSubjects())

	require.NoError(t, wt.Execute(context.Background(), ""))
	assert.Equal(t, 1, rec.called)
}

func TestOrdersReconcile_NoBrokers(t *testing.T) {
	registry := NewRegistry()
	rec := &fakeReconciliation{hasBrokers: false}
	RegisterTradingWorkTypes(registry, &TradingDeps{Hub: &fakeHubRefresh{}, Reconciliation: rec})

	wt := registry.Get("orders:reconcile")
	assert.Nil(t, wt.FindSubjects())
}

func TestOrdersReconcile_ExecuteWrapsError(t *testing.T) {
	registry := NewRegistry()
	rec := &fakeReconciliation{hasBrokers: true, err: errors.New("reconcile failed")}
	RegisterTradingWorkTypes(registry, &TradingDeps{Hub: &fakeHubRefresh{}, Reconciliation: rec})

	wt := registry.Get("orders:reconcile")
	err := wt.Execute(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile failed")
}
