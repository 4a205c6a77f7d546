package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/quant-core/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	bars []domain.Bar
}

func (s *fakeStore) GetBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, error) {
	return sliceRange(s.bars, r), nil
}

func (s *fakeStore) PutBars(ctx context.Context, bars []domain.Bar) error {
	s.bars = mergeBars(s.bars, bars)
	return nil
}

func barAt(symbol string, ts time.Time) domain.Bar {
	return domain.Bar{Symbol: symbol, Timeframe: domain.TF1d, Ts: ts, Close: decimal.NewFromInt(100)}
}

func TestHub_Fetch_CacheHit_CarriesForwardPriorGapFlag(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// A 3-day run missing the middle day: gapped on first fetch since no
	// provider can repair it (none configured), then cached with gapped=true.
	store := &fakeStore{bars: []domain.Bar{
		barAt("AAPL", base),
		barAt("AAPL", base.Add(48*time.Hour)),
	}}
	hub := NewHub(store, nil, 16)
	r := domain.BarRange{From: base, To: base.Add(48 * time.Hour)}

	bars, hasGaps, err := hub.GetBars(context.Background(), "AAPL", domain.TF1d, r)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, hasGaps, "first fetch should report the unrepaired gap")

	// Second call for the same range is a cache hit (covers(cached, r) is
	// true); it must still report the gap the first fetch discovered
	// instead of silently returning hasGaps=false.
	_, hasGapsAgain, err := hub.GetBars(context.Background(), "AAPL", domain.TF1d, r)
	require.NoError(t, err)
	assert.True(t, hasGapsAgain, "cache hit must carry forward the previously observed gap")
}

func TestHub_Fetch_CacheHit_NoGapReportsNoGap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: []domain.Bar{
		barAt("AAPL", base),
		barAt("AAPL", base.Add(24*time.Hour)),
		barAt("AAPL", base.Add(48*time.Hour)),
	}}
	hub := NewHub(store, nil, 16)
	r := domain.BarRange{From: base, To: base.Add(48 * time.Hour)}

	_, hasGaps, err := hub.GetBars(context.Background(), "AAPL", domain.TF1d, r)
	require.NoError(t, err)
	assert.False(t, hasGaps)

	_, hasGapsAgain, err := hub.GetBars(context.Background(), "AAPL", domain.TF1d, r)
	require.NoError(t, err)
	assert.False(t, hasGapsAgain)
}

func TestHub_Ingest_PreservesCachedGapFlag(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: []domain.Bar{
		barAt("AAPL", base),
		barAt("AAPL", base.Add(48*time.Hour)),
	}}
	hub := NewHub(store, nil, 16)
	r := domain.BarRange{From: base, To: base.Add(48 * time.Hour)}

	_, hasGaps, err := hub.GetBars(context.Background(), "AAPL", domain.TF1d, r)
	require.NoError(t, err)
	require.True(t, hasGaps)

	// Ingest doesn't repair gaps; a new bar for the same symbol must not
	// silently clear the flag for a range already known to be incomplete.
	require.NoError(t, hub.Ingest(context.Background(), []domain.Bar{barAt("AAPL", base.Add(72*time.Hour))}))

	cached, gapped, ok := hub.cacheGet(cacheKey{Symbol: "AAPL", Timeframe: domain.TF1d})
	require.True(t, ok)
	require.Len(t, cached, 3)
	assert.True(t, gapped)
}
