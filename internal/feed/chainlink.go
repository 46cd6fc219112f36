package feed

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAINLINK FEED - On-chain oracle prices
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reads Chainlink aggregator contracts on Polygon. The venue resolves its
// windows against these oracles, so when configured this feed takes priority
// over the exchange ticker.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// latestAnswer() and decimals() selectors on the aggregator interface.
	latestAnswerSelector = "\x50\xd2\x5b\xcd"
	decimalsSelector     = "\x31\x3c\xe5\x67"

	chainlinkInterval = 1 * time.Second
)

// ChainlinkFeed polls aggregator contracts for a set of symbols.
type ChainlinkFeed struct {
	client *ethclient.Client
	feeds  map[string]common.Address // symbol -> aggregator

	mu       sync.RWMutex
	prices   map[string]PricePoint
	decimals map[string]int32
	running  bool
	stopCh   chan struct{}
}

// NewChainlinkFeed dials the RPC endpoint. feeds maps reference symbols to
// aggregator contract addresses.
func NewChainlinkFeed(rpcURL string, feeds map[string]string) (*ChainlinkFeed, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	addrs := make(map[string]common.Address, len(feeds))
	for sym, addr := range feeds {
		addrs[sym] = common.HexToAddress(addr)
	}

	return &ChainlinkFeed{
		client:   client,
		feeds:    addrs,
		prices:   make(map[string]PricePoint),
		decimals: make(map[string]int32),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins polling every aggregator.
func (f *ChainlinkFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.pollLoop()
	log.Info().Int("feeds", len(f.feeds)).Dur("interval", chainlinkInterval).Msg("🔗 Chainlink feed started")
}

// Stop halts polling and closes the RPC connection.
func (f *ChainlinkFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	f.client.Close()
}

// Latest returns the cached oracle price for a symbol.
func (f *ChainlinkFeed) Latest(symbol string) (PricePoint, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *ChainlinkFeed) pollLoop() {
	ticker := time.NewTicker(chainlinkInterval)
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

func (f *ChainlinkFeed) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	for sym, addr := range f.feeds {
		price, err := f.readPrice(ctx, sym, addr)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("⚠️ Chainlink read failed")
			continue
		}
		f.mu.Lock()
		f.prices[sym] = PricePoint{Symbol: sym, Price: price, At: time.Now()}
		f.mu.Unlock()
	}
}

func (f *ChainlinkFeed) readPrice(ctx context.Context, symbol string, addr common.Address) (decimal.Decimal, error) {
	dec, err := f.feedDecimals(ctx, symbol, addr)
	if err != nil {
		return decimal.Zero, err
	}

	raw, err := f.client.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Data: []byte(latestAnswerSelector),
	}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("latestAnswer: %w", err)
	}
	if len(raw) == 0 {
		return decimal.Zero, fmt.Errorf("latestAnswer: empty result")
	}

	answer := decodeAnswer(raw)
	if answer.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("latestAnswer: non-positive %s", answer)
	}
	return decimal.NewFromBigInt(answer, -dec), nil
}

// wordModulus is 2^256, for two's-complement decoding of ABI words.
var wordModulus = new(big.Int).Lsh(big.NewInt(1), 256)

// decodeAnswer interprets a 32-byte ABI return word as a signed int256.
// latestAnswer is declared int256; a plain SetBytes would turn a negative
// answer into an enormous positive price.
func decodeAnswer(raw []byte) *big.Int {
	v := new(big.Int).SetBytes(raw)
	if len(raw) == 32 && raw[0]&0x80 != 0 {
		v.Sub(v, wordModulus)
	}
	return v
}

// feedDecimals reads and caches the aggregator's decimals() value.
func (f *ChainlinkFeed) feedDecimals(ctx context.Context, symbol string, addr common.Address) (int32, error) {
	f.mu.RLock()
	dec, ok := f.decimals[symbol]
	f.mu.RUnlock()
	if ok {
		return dec, nil
	}

	raw, err := f.client.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Data: []byte(decimalsSelector),
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	if len(raw) == 0 {
		return 0, fmt.Errorf("decimals: empty result")
	}

	dec = int32(new(big.Int).SetBytes(raw).Int64())
	f.mu.Lock()
	f.decimals[symbol] = dec
	f.mu.Unlock()
	return dec, nil
}
