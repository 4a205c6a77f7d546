package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quant-core/internal/database"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/orders"
)

func TestMultiChild(t *testing.T) {
	assert.True(t, multiChild(domain.StrategyTWAP))
	assert.True(t, multiChild(domain.StrategyVWAP))
	assert.True(t, multiChild(domain.StrategyPOV))
	assert.False(t, multiChild(domain.StrategyMarket))
}

func newTestOrdersStoreForServer(t *testing.T) *orders.Store {
	dir := t.TempDir()
	db, err := database.New(database.Config{Path: filepath.Join(dir, "orders.db"), Profile: database.ProfileStandard, Name: "orders"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	return orders.NewStore(db)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleGetOrder_Found(t *testing.T) {
	store := newTestOrdersStoreForServer(t)
	order := domain.Order{
		ID: "o1", PortfolioID: "p1", Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Qty: decimal.NewFromInt(10), TIF: domain.TIFDay, Strategy: domain.StrategyMarket,
		Status: domain.OrderPending, FilledQty: decimal.Zero, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), order))

	h := &orderHandlers{store: store, log: zerolog.Nop()}
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/orders/o1", nil), "id", "o1")
	rec := httptest.NewRecorder()
	h.handleGetOrder(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "o1", got.ID)
}

func TestHandleGetOrder_NotFound(t *testing.T) {
	store := newTestOrdersStoreForServer(t)
	h := &orderHandlers{store: store, log: zerolog.Nop()}
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/orders/missing", nil), "id", "missing")
	rec := httptest.NewRecorder()
	h.handleGetOrder(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChildren(t *testing.T) {
	store := newTestOrdersStoreForServer(t)
	parentID := "parent1"
	parent := domain.Order{
		ID: parentID, PortfolioID: "p1", Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Qty: decimal.NewFromInt(100), TIF: domain.TIFDay, Strategy: domain.StrategyTWAP,
		Status: domain.OrderPending, FilledQty: decimal.Zero, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), parent))

	child := domain.Order{
		ID: "child1", ParentID: &parentID, PortfolioID: "p1", Symbol: "AAPL", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(10), TIF: domain.TIFDay, Strategy: domain.StrategyMarket,
		Status: domain.OrderPending, FilledQty: decimal.Zero, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), child))

	h := &orderHandlers{store: store, log: zerolog.Nop()}
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/orders/parent1/children", nil), "id", parentID)
	rec := httptest.NewRecorder()
	h.handleChildren(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "child1", got[0].ID)
}
