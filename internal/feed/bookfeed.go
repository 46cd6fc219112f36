package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BOOK FEED - Venue order book tops over WebSocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Subscribes to the venue market channel and maintains best bid/ask per
// token. The venue sends a full book snapshot on subscribe, then incremental
// price_change events carrying the new top of book. On disconnect the feed
// reconnects and resubscribes; cached tops age out via timestamps.
//
// ═══════════════════════════════════════════════════════════════════════════════

const bookReconnectDelay = 2 * time.Second

// BookTop is the cached top of book for one token.
type BookTop struct {
	TokenID string
	BestBid decimal.Decimal
	BidSize decimal.Decimal
	BestAsk decimal.Decimal
	AskSize decimal.Decimal
	At      time.Time
}

// BookFeed maintains live book tops for a set of tokens.
type BookFeed struct {
	wsURL  string
	tokens []string

	mu      sync.RWMutex
	conn    *websocket.Conn
	tops    map[string]BookTop
	running bool
	stopCh  chan struct{}
}

// wsBookSnapshot is the full book sent on subscribe.
type wsBookSnapshot struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Bids      []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// wsPriceChange is an incremental top-of-book update.
type wsPriceChange struct {
	EventType    string `json:"event_type"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
		Size    string `json:"size"`
	} `json:"price_changes"`
}

// NewBookFeed creates a feed for the given token ids.
func NewBookFeed(wsURL string, tokens []string) *BookFeed {
	return &BookFeed{
		wsURL:  wsURL,
		tokens: tokens,
		tops:   make(map[string]BookTop),
		stopCh: make(chan struct{}),
	}
}

// Start connects and begins streaming. Reconnects until stopped.
func (f *BookFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.runLoop()
	log.Info().Str("url", f.wsURL).Int("tokens", len(f.tokens)).Msg("📡 Book feed started")
}

// Stop disconnects and halts reconnection.
func (f *BookFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
}

// Top returns the cached top of book for a token.
func (f *BookFeed) Top(tokenID string) (BookTop, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tops[tokenID]
	return t, ok
}

func (f *BookFeed) runLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Warn().Err(err).Msg("⚠️ Book feed connect failed, retrying")
			select {
			case <-f.stopCh:
				return
			case <-time.After(bookReconnectDelay):
			}
			continue
		}

		f.readLoop()

		select {
		case <-f.stopCh:
			return
		case <-time.After(bookReconnectDelay):
			log.Info().Msg("📡 Book feed reconnecting...")
		}
	}
}

func (f *BookFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	sub := map[string]any{
		"type":       "market",
		"assets_ids": f.tokens,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	return nil
}

func (f *BookFeed) readLoop() {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopCh:
			default:
				log.Warn().Err(err).Msg("⚠️ Book feed read error")
			}
			conn.Close()
			return
		}
		f.handleMessage(msg)
	}
}

// handleMessage dispatches on event_type. The venue sends book snapshots as a
// JSON array and price changes as single objects.
func (f *BookFeed) handleMessage(msg []byte) {
	if len(msg) > 0 && msg[0] == '[' {
		var snaps []wsBookSnapshot
		if err := json.Unmarshal(msg, &snaps); err != nil {
			return
		}
		for _, s := range snaps {
			if s.EventType == "book" {
				f.applySnapshot(s)
			}
		}
		return
	}

	var header struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(msg, &header); err != nil {
		return
	}

	switch header.EventType {
	case "book":
		var s wsBookSnapshot
		if err := json.Unmarshal(msg, &s); err == nil {
			f.applySnapshot(s)
		}
	case "price_change":
		var pc wsPriceChange
		if err := json.Unmarshal(msg, &pc); err == nil {
			f.applyPriceChange(pc)
		}
	}
}

// applySnapshot takes the best level from each side. Venue bids are sorted
// ascending, asks descending, so the best sits at the end of each list.
func (f *BookFeed) applySnapshot(s wsBookSnapshot) {
	top := BookTop{TokenID: s.AssetID, At: time.Now()}

	if n := len(s.Bids); n > 0 {
		top.BestBid, _ = decimal.NewFromString(s.Bids[n-1].Price)
		top.BidSize, _ = decimal.NewFromString(s.Bids[n-1].Size)
	}
	if n := len(s.Asks); n > 0 {
		top.BestAsk, _ = decimal.NewFromString(s.Asks[n-1].Price)
		top.AskSize, _ = decimal.NewFromString(s.Asks[n-1].Size)
	}

	f.mu.Lock()
	f.tops[s.AssetID] = top
	f.mu.Unlock()
}

func (f *BookFeed) applyPriceChange(pc wsPriceChange) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range pc.PriceChanges {
		top := f.tops[ch.AssetID]
		top.TokenID = ch.AssetID
		if bid, err := decimal.NewFromString(ch.BestBid); err == nil && bid.IsPositive() {
			top.BestBid = bid
		}
		if ask, err := decimal.NewFromString(ch.BestAsk); err == nil && ask.IsPositive() {
			top.BestAsk = ask
		}
		if size, err := decimal.NewFromString(ch.Size); err == nil && size.IsPositive() {
			top.BidSize = size
			top.AskSize = size
		}
		top.At = now
		f.tops[ch.AssetID] = top
	}
}

// quote converts a cached top side into a market.Quote.
func (t BookTop) bidQuote() market.Quote {
	return market.Quote{Price: t.BestBid, Size: t.BidSize}
}

func (t BookTop) askQuote() market.Quote {
	return market.Quote{Price: t.BestAsk, Size: t.AskSize}
}
