package venue

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/config"
	"github.com/Gowthamkjaya/crypto-sub000/internal/execution"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOB CLIENT - Live venue adapter
// ═══════════════════════════════════════════════════════════════════════════════
//
// Implements ports.Venue against the venue's REST API: signed order
// submission, cancellation, trade polling, and open-order queries. One client
// serves every market; Register teaches it the token->leg mapping PollFills
// needs.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Client is the live venue adapter.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	privateKey *ecdsa.PrivateKey
	address    string
	httpClient *http.Client

	mu      sync.Mutex
	legs    map[string]legRef // token id -> market + leg
	cursors map[string]string // market id -> last trade id seen
	seq     int64
}

type legRef struct {
	marketID string
	leg      market.Leg
}

var _ ports.Venue = (*Client)(nil)

// NewClient builds the adapter from config. The private key signs orders; it
// is required for live submission but not for read-only calls.
func NewClient(cfg *config.Config) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.VenueAPIURL, "/"),
		apiKey:     cfg.VenueAPIKey,
		apiSecret:  cfg.VenueAPISecret,
		passphrase: cfg.VenuePassphrase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		legs:       make(map[string]legRef),
		cursors:    make(map[string]string),
	}

	if cfg.EthPrivateKey != "" {
		pk, err := crypto.HexToECDSA(cfg.EthPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = pk
		c.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	log.Info().
		Str("url", c.baseURL).
		Str("address", c.address).
		Msg("🚀 Venue client initialized")
	return c, nil
}

// Register teaches the client a market's token ids so polled trades can be
// attributed to a leg.
func (c *Client) Register(m market.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.legs[m.YesTokenID] = legRef{marketID: m.ID, leg: market.LegYes}
	c.legs[m.NoTokenID] = legRef{marketID: m.ID, leg: market.LegNo}
}

// Submit signs and posts one order. API-level refusals come back as
// RejectError so the executor can distinguish permanent from retryable.
func (c *Client) Submit(ctx context.Context, req execution.VenueRequest) (execution.VenueAck, error) {
	order := map[string]any{
		"tokenID":       req.TokenID,
		"price":         req.Price.String(),
		"size":          req.Size.String(),
		"side":          string(req.Action),
		"clientID":      req.ClientID,
		"expiration":    time.Now().Add(24 * time.Hour).Unix(),
		"nonce":         time.Now().UnixNano(),
		"feeRateBps":    "0",
		"signatureType": 2,
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return execution.VenueAck{}, &execution.RejectError{Reason: "signing failed: " + err.Error(), Permanent: true}
	}
	order["signature"] = signature

	body, status, err := c.post(ctx, "/order", order)
	if err != nil {
		return execution.VenueAck{}, err
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return execution.VenueAck{}, fmt.Errorf("parse order response: %w", err)
	}
	if result.Error != "" {
		return execution.VenueAck{}, &execution.RejectError{
			Reason:    result.Error,
			Permanent: status >= 400 && status < 500,
		}
	}

	return execution.VenueAck{VenueID: result.OrderID}, nil
}

// Cancel requests cancellation. Only a 2xx counts as venue confirmation; an
// already-gone order (404) is also final.
func (c *Client) Cancel(ctx context.Context, venueID string) (bool, error) {
	_, status, err := c.delete(ctx, "/order/"+url.PathEscape(venueID))
	if err != nil {
		if status == http.StatusNotFound {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// PollFills returns trades for a market since the last poll, oldest first.
func (c *Client) PollFills(ctx context.Context, marketID string) ([]position.FillEvent, error) {
	c.mu.Lock()
	cursor := c.cursors[marketID]
	c.mu.Unlock()

	path := "/trades?market=" + url.QueryEscape(marketID)
	if cursor != "" {
		path += "&after=" + url.QueryEscape(cursor)
	}
	body, _, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var trades []struct {
		ID        string `json:"id"`
		OrderID   string `json:"taker_order_id"`
		AssetID   string `json:"asset_id"`
		Side      string `json:"side"`
		Price     string `json:"price"`
		Size      string `json:"size"`
		Timestamp string `json:"match_time"`
	}
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("parse trades: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []position.FillEvent
	for _, t := range trades {
		ref, ok := c.legs[t.AssetID]
		if !ok || ref.marketID != marketID {
			continue
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			log.Warn().Str("trade_id", t.ID).Msg("⚠️ Trade with unparseable price, skipped")
			continue
		}
		size, err := decimal.NewFromString(t.Size)
		if err != nil {
			log.Warn().Str("trade_id", t.ID).Msg("⚠️ Trade with unparseable size, skipped")
			continue
		}
		c.seq++
		out = append(out, position.FillEvent{
			ID:       t.ID,
			OrderID:  t.OrderID,
			MarketID: marketID,
			Leg:      ref.leg,
			Action:   market.Action(t.Side),
			Price:    price,
			Size:     size,
			Seq:      c.seq,
			At:       parseMatchTime(t.Timestamp),
		})
		c.cursors[marketID] = t.ID
	}
	return out, nil
}

// OpenOrders returns the venue's view of our resting orders for a market.
func (c *Client) OpenOrders(ctx context.Context, marketID string) ([]execution.VenueRequest, error) {
	body, _, err := c.get(ctx, "/orders?status=live&market="+url.QueryEscape(marketID))
	if err != nil {
		return nil, err
	}

	var orders []struct {
		ID       string `json:"id"`
		ClientID string `json:"client_id"`
		AssetID  string `json:"asset_id"`
		Side     string `json:"side"`
		Price    string `json:"price"`
		Size     string `json:"original_size"`
	}
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	var out []execution.VenueRequest
	for _, o := range orders {
		price, _ := decimal.NewFromString(o.Price)
		size, _ := decimal.NewFromString(o.Size)
		out = append(out, execution.VenueRequest{
			ClientID: o.ClientID,
			TokenID:  o.AssetID,
			Action:   market.Action(o.Side),
			Price:    price,
			Size:     size,
		})
	}
	return out, nil
}

func parseMatchTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

// HTTP helpers

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) delete(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) doRequest(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, resp.StatusCode, nil
}

// Signing

func (c *Client) signOrder(order map[string]any) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	orderBytes, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	hash := crypto.Keccak256(orderBytes)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) hmacSign(message string) string {
	hash := crypto.Keccak256([]byte(message + c.apiSecret))
	return hexutil.Encode(hash)
}
