package marketdata

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Store is the durable time-series persistence the Hub falls back to on
// cache miss, and writes through to on fetch. Backed by the bars SQLite
// database.
type Store interface {
	GetBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) ([]domain.Bar, error)
	PutBars(ctx context.Context, bars []domain.Bar) error
}

// cacheKey identifies one LRU slot: all cached bars for (symbol, timeframe),
// distinct from domain.BarKey which additionally pins a single Ts+Source.
type cacheKey struct {
	Symbol    string
	Timeframe domain.Timeframe
}

// cacheEntry is one LRU node: an ordered run of bars for (symbol, timeframe).
// gapped records whether bars, as last written, still had a hole after a
// best-effort repair fetch, so a later cache hit can report it instead of
// silently reporting hasGaps=false for a range that was never fully filled.
type cacheEntry struct {
	key    cacheKey
	bars   []domain.Bar
	gapped bool
}

// subscriber is one Subscribe() consumer for a given symbol.
type subscriber struct {
	ch  chan domain.Bar
	lag atomic.Int64
}

const defaultSubscriberBuffer = 1024

// Hub is the Market-Data Hub (§4.B): an LRU write-through cache in front of
// a time-series store and a set of Provider Adapters, with single-flight
// fetch dedup and per-symbol ordered subscriber fan-out.
type Hub struct {
	store     Store
	providers []Provider

	mu       sync.Mutex
	lru      *list.List
	index    map[cacheKey]*list.Element
	capacity int

	group singleflight.Group

	subMu sync.Mutex
	subs  map[string][]*subscriber // keyed by symbol
}

// NewHub wires a Hub against a durable store and an ordered list of
// providers consulted in order until one satisfies the range.
func NewHub(store Store, providers []Provider, cacheCapacity int) *Hub {
	if cacheCapacity <= 0 {
		cacheCapacity = 256
	}
	return &Hub{
		store:     store,
		providers: providers,
		lru:       list.New(),
		index:     make(map[cacheKey]*list.Element),
		capacity:  cacheCapacity,
		subs:      make(map[string][]*subscriber),
	}
}

// GetBars returns bars covering r for (symbol, timeframe). Concurrent
// callers for the same fingerprint share one in-flight fetch. hasGaps is
// true if the range could not be fully filled even after a repair fetch.
// Satisfies domain.MarketDataHub.
func (h *Hub) GetBars(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) (bars []domain.Bar, hasGaps bool, err error) {
	if err := NormalizeTimeframe(tf); err != nil {
		return nil, false, err
	}

	fingerprint := symbol + "|" + string(tf) + "|" + r.From.Format(time.RFC3339) + "|" + r.To.Format(time.RFC3339)

	v, err, _ := h.group.Do(fingerprint, func() (any, error) {
		return h.fetch(ctx, symbol, tf, r)
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(fetchResult)
	return res.bars, res.hasGaps, nil
}

type fetchResult struct {
	bars    []domain.Bar
	hasGaps bool
}

func (h *Hub) fetch(ctx context.Context, symbol string, tf domain.Timeframe, r domain.BarRange) (fetchResult, error) {
	key := cacheKey{Symbol: symbol, Timeframe: tf}

	if cached, cachedGapped, ok := h.cacheGet(key); ok {
		if covers(cached, r) {
			return fetchResult{bars: sliceRange(cached, r), hasGaps: cachedGapped}, nil
		}
	}

	stored, err := h.store.GetBars(ctx, symbol, tf, r)
	if err != nil {
		return fetchResult{}, apperr.Wrap(apperr.KindUpstream, "read bar store", err)
	}

	merged := stored
	gapped := hasGaps(merged, r, tf)
	if gapped {
		for _, p := range h.providers {
			fetched, ferr := p.FetchBars(ctx, symbol, tf, r)
			if ferr != nil {
				continue // try next provider; repair is best-effort
			}
			merged = mergeBars(merged, fetched)
			gapped = hasGaps(merged, r, tf)
			if !gapped {
				break
			}
		}
		if err := h.store.PutBars(ctx, merged); err != nil {
			return fetchResult{}, apperr.Wrap(apperr.KindUpstream, "write bar store", err)
		}
	}

	h.cachePut(key, merged, gapped)
	return fetchResult{bars: sliceRange(merged, r), hasGaps: gapped}, nil
}

// Ingest applies newly-arrived bars: writes through cache and store, then
// publishes to symbol subscribers in timestamp order.
func (h *Hub) Ingest(ctx context.Context, bars []domain.Bar) error {
	if err := h.store.PutBars(ctx, bars); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "persist ingested bars", err)
	}

	bySymbolTF := make(map[cacheKey][]domain.Bar)
	for _, b := range bars {
		k := cacheKey{Symbol: b.Symbol, Timeframe: b.Timeframe}
		bySymbolTF[k] = append(bySymbolTF[k], b)
	}
	for key, group := range bySymbolTF {
		cached, wasGapped, _ := h.cacheGet(key)
		merged := mergeBars(cached, group)
		h.cachePut(key, merged, wasGapped)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	for _, b := range bars {
		h.publish(b)
	}
	return nil
}

// Subscribe returns a stream of new bars for (symbol, timeframe) in strict
// timestamp order. Once a consumer's buffer (default 1024) is full, bars
// for it are skipped and counted via Lag; the consumer stays subscribed.
// Ordering is per symbol only; no cross-symbol guarantee (§4.B).
// Satisfies domain.MarketDataHub.
func (h *Hub) Subscribe(ctx context.Context, symbol string, tf domain.Timeframe) (domain.BarStream, error) {
	if err := NormalizeTimeframe(tf); err != nil {
		return domain.BarStream{}, err
	}

	ch := make(chan domain.Bar, defaultSubscriberBuffer)
	sub := &subscriber{ch: ch}

	h.subMu.Lock()
	h.subs[symbol] = append(h.subs[symbol], sub)
	h.subMu.Unlock()

	stop := func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		list := h.subs[symbol]
		for i, s := range list {
			if s == sub {
				h.subs[symbol] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
	}

	return domain.NewBarStream(ch, sub.lag.Load, stop), nil
}

func (h *Hub) publish(b domain.Bar) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, s := range h.subs[b.Symbol] {
		select {
		case s.ch <- b:
		default:
			s.lag.Add(1)
		}
	}
}

func (h *Hub) cacheGet(key cacheKey) ([]domain.Bar, bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	el, ok := h.index[key]
	if !ok {
		return nil, false, false
	}
	h.lru.MoveToFront(el)
	entry := el.Value.(*cacheEntry)
	return entry.bars, entry.gapped, true
}

func (h *Hub) cachePut(key cacheKey, bars []domain.Bar, gapped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if el, ok := h.index[key]; ok {
		el.Value.(*cacheEntry).bars = bars
		el.Value.(*cacheEntry).gapped = gapped
		h.lru.MoveToFront(el)
		return
	}

	el := h.lru.PushFront(&cacheEntry{key: key, bars: bars, gapped: gapped})
	h.index[key] = el

	for h.lru.Len() > h.capacity {
		oldest := h.lru.Back()
		if oldest == nil {
			break
		}
		h.lru.Remove(oldest)
		delete(h.index, oldest.Value.(*cacheEntry).key)
	}
}

func covers(bars []domain.Bar, r domain.BarRange) bool {
	if len(bars) == 0 {
		return false
	}
	return !bars[0].Ts.After(r.From) && !bars[len(bars)-1].Ts.Before(r.To)
}

func sliceRange(bars []domain.Bar, r domain.BarRange) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Ts.Before(r.From) && !b.Ts.After(r.To) {
			out = append(out, b)
		}
	}
	return out
}

var timeframeStep = map[domain.Timeframe]time.Duration{
	domain.TF1m: time.Minute, domain.TF5m: 5 * time.Minute, domain.TF15m: 15 * time.Minute, domain.TF30m: 30 * time.Minute,
	domain.TF1h: time.Hour, domain.TF1d: 24 * time.Hour, domain.TF1w: 7 * 24 * time.Hour,
}

// hasGaps reports whether bars, restricted to r, is missing any interior
// timestamps: a step between consecutive bars longer than 1.5x tf's bar
// interval counts as a gap. For 1mo (no fixed interval) the series' own
// observed cadence is used instead, so fewer than three 1mo bars are never
// gapped. An empty range always counts as gapped.
func hasGaps(bars []domain.Bar, r domain.BarRange, tf domain.Timeframe) bool {
	in := sliceRange(bars, r)
	if len(in) == 0 {
		return true
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Ts.Before(in[j].Ts) })
	step, ok := timeframeStep[tf]
	if !ok {
		if len(in) < 3 {
			return false
		}
		step = in[1].Ts.Sub(in[0].Ts)
	}
	for i := 1; i < len(in); i++ {
		if in[i].Ts.Sub(in[i-1].Ts) > step+step/2 {
			return true
		}
	}
	return false
}

// mergeBars combines two bar slices, keeping the latest received_at on
// duplicate timestamps (§4.A) and returning a timestamp-sorted result.
func mergeBars(a, b []domain.Bar) []domain.Bar {
	byTs := make(map[time.Time]domain.Bar, len(a)+len(b))
	for _, bar := range a {
		byTs[bar.Ts] = bar
	}
	for _, bar := range b {
		if existing, ok := byTs[bar.Ts]; !ok || bar.ReceivedAt.After(existing.ReceivedAt) {
			byTs[bar.Ts] = bar
		}
	}
	out := make([]domain.Bar, 0, len(byTs))
	for _, bar := range byTs {
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out
}
