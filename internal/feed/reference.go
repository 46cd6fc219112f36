package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REFERENCE FEED - Spot prices for the underlying
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polls the exchange ticker endpoint on a fixed interval and caches the latest
// price per symbol. Readers get the cached value plus its age; staleness is
// the reader's call, the feed just reports timestamps.
//
// ═══════════════════════════════════════════════════════════════════════════════

const referenceInterval = 500 * time.Millisecond

// PricePoint is one observed reference price.
type PricePoint struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// ReferenceFeed polls spot prices for a set of symbols.
type ReferenceFeed struct {
	apiURL  string
	symbols []string
	client  *http.Client

	mu      sync.RWMutex
	prices  map[string]PricePoint
	running bool
	stopCh  chan struct{}
}

// NewReferenceFeed creates a poller for the given symbols (e.g. "BTCUSDT").
func NewReferenceFeed(apiURL string, symbols []string) *ReferenceFeed {
	return &ReferenceFeed{
		apiURL:  apiURL,
		symbols: symbols,
		client:  &http.Client{Timeout: 5 * time.Second},
		prices:  make(map[string]PricePoint),
		stopCh:  make(chan struct{}),
	}
}

// Start begins polling. Safe to call once.
func (f *ReferenceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.pollLoop()
	log.Info().Dur("interval", referenceInterval).Strs("symbols", f.symbols).Msg("📈 Reference feed started")
}

// Stop halts polling.
func (f *ReferenceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
}

// Latest returns the cached price for a symbol and whether one exists.
func (f *ReferenceFeed) Latest(symbol string) (PricePoint, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *ReferenceFeed) pollLoop() {
	ticker := time.NewTicker(referenceInterval)
	defer ticker.Stop()

	f.pollOnce()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.pollOnce()
		}
	}
}

func (f *ReferenceFeed) pollOnce() {
	for _, sym := range f.symbols {
		price, err := f.fetchPrice(sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("⚠️ Reference fetch failed")
			continue
		}
		f.mu.Lock()
		f.prices[sym] = PricePoint{Symbol: sym, Price: price, At: time.Now()}
		f.mu.Unlock()
	}
}

func (f *ReferenceFeed) fetchPrice(symbol string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s?symbol=%s", f.apiURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker: %w", err)
	}
	return decimal.NewFromString(out.Price)
}
