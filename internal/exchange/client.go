// Package exchange provides REST and WebSocket clients for the spot
// exchange API.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/triarb/internal/crypto"
	"github.com/alanyoungcy/triarb/internal/domain"
)

// Client is the REST client for the spot exchange API. It handles market
// data queries, account queries, and order placement.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	recvWindow int64 // milliseconds
}

// NewClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://api.binance.com".
// signer carries the API key and secret; it may be nil for public-only use.
func NewClient(baseURL string, signer *crypto.Signer, recvWindowMs int64) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:     signer,
		recvWindow: recvWindowMs,
	}
}

// ExchangeInfo fetches trading rules for the given symbols and converts
// them to domain symbols, including tick and step sizes.
func (c *Client) ExchangeInfo(ctx context.Context, symbols []string) ([]domain.Symbol, error) {
	quoted := make([]string, len(symbols))
	for i, s := range symbols {
		quoted[i] = strconv.Quote(s)
	}
	params := url.Values{}
	params.Set("symbols", "["+strings.Join(quoted, ",")+"]")

	respBody, err := c.doPublicRequest(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return nil, fmt.Errorf("exchange: exchange info: %w", err)
	}

	var info apiExchangeInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("exchange: decode exchange info: %w", err)
	}

	out := make([]domain.Symbol, 0, len(info.Symbols))
	for i := range info.Symbols {
		sym, err := info.Symbols[i].ToDomainSymbol()
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
		out = append(out, sym)
	}
	return out, nil
}

// DepthSnapshot fetches a full order book snapshot for symbol, limited to
// the given number of levels per side.
func (c *Client) DepthSnapshot(ctx context.Context, symbol string, limit int) (domain.BookSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	respBody, err := c.doPublicRequest(ctx, "/api/v3/depth", params)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("exchange: depth %s: %w", symbol, err)
	}

	var depth apiDepth
	if err := json.Unmarshal(respBody, &depth); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("exchange: decode depth %s: %w", symbol, err)
	}
	snap, err := depth.ToDomainSnapshot(symbol)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("exchange: %w", err)
	}
	return snap, nil
}

// Klines fetches the most recent candles for symbol at the given interval.
func (c *Client) Klines(ctx context.Context, symbol string, interval time.Duration, limit int) ([]domain.Candle, error) {
	token, err := IntervalToken(interval)
	if err != nil {
		return nil, fmt.Errorf("exchange: klines %s: %w", symbol, err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", token)
	params.Set("limit", strconv.Itoa(limit))

	respBody, err := c.doPublicRequest(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("exchange: klines %s: %w", symbol, err)
	}

	var rows []apiKline
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("exchange: decode klines %s: %w", symbol, err)
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := row.ToDomainCandle(symbol)
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
		out = append(out, candle)
	}
	return out, nil
}

// RecentTrades fetches the latest public trades for symbol.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	respBody, err := c.doPublicRequest(ctx, "/api/v3/trades", params)
	if err != nil {
		return nil, fmt.Errorf("exchange: trades %s: %w", symbol, err)
	}

	var rows []apiTrade
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("exchange: decode trades %s: %w", symbol, err)
	}

	out := make([]domain.Trade, 0, len(rows))
	for i := range rows {
		trade, err := rows[i].ToDomainTrade(symbol)
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
		out = append(out, trade)
	}
	return out, nil
}

// Account fetches the authenticated account balances.
func (c *Client) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("exchange: account: %w", err)
	}

	var acct apiAccount
	if err := json.Unmarshal(respBody, &acct); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("exchange: decode account: %w", err)
	}
	snap, err := acct.ToDomainAccount(time.Now().UTC())
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("exchange: %w", err)
	}
	return snap, nil
}

// AllOrders fetches the order history for symbol, most recent last.
func (c *Client) AllOrders(ctx context.Context, symbol string, limit int) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v3/allOrders", params)
	if err != nil {
		return nil, fmt.Errorf("exchange: all orders %s: %w", symbol, err)
	}
	return decodeOrders(respBody, symbol)
}

// PlaceOrder submits a limit order. When test is true the order is routed
// to the validation-only endpoint and never reaches the matching engine.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest, test bool) (domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", formatDecimal(req.Quantity))
	params.Set("price", formatDecimal(req.Price))
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	path := "/api/v3/order"
	if test {
		path = "/api/v3/order/test"
	}

	respBody, err := c.doSignedRequest(ctx, http.MethodPost, path, params)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: place order %s %s: %w", req.Side, req.Symbol, err)
	}

	// The test endpoint acknowledges with an empty object.
	if test {
		return domain.OrderResult{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Status:        "TEST",
			Test:          true,
		}, nil
	}

	var ack apiOrder
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: decode order ack: %w", err)
	}
	return domain.OrderResult{
		OrderID:       ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		Symbol:        ack.Symbol,
		Status:        ack.Status,
	}, nil
}

// CreateListenKey opens a user data stream and returns its listen key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	respBody, err := c.doKeyedRequest(ctx, http.MethodPost, "/api/v3/userDataStream", url.Values{})
	if err != nil {
		return "", fmt.Errorf("exchange: create listen key: %w", err)
	}

	var lk apiListenKey
	if err := json.Unmarshal(respBody, &lk); err != nil {
		return "", fmt.Errorf("exchange: decode listen key: %w", err)
	}
	if lk.ListenKey == "" {
		return "", fmt.Errorf("exchange: empty listen key")
	}
	return lk.ListenKey, nil
}

// KeepAliveListenKey extends the validity of an open user data stream. The
// exchange expires idle streams after 60 minutes; call this every 30.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	if _, err := c.doKeyedRequest(ctx, http.MethodPut, "/api/v3/userDataStream", params); err != nil {
		return fmt.Errorf("exchange: keepalive listen key: %w", err)
	}
	return nil
}

// IntervalToken converts a candle interval duration into the exchange's
// interval token, e.g. time.Hour -> "1h".
func IntervalToken(d time.Duration) (string, error) {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d", nil
	case d >= time.Hour && d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + "h", nil
	case d >= time.Minute && d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + "m", nil
	case d >= time.Second && d%time.Second == 0:
		return strconv.Itoa(int(d/time.Second)) + "s", nil
	default:
		return "", fmt.Errorf("unsupported candle interval %s", d)
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doPublicRequest issues an unauthenticated GET and returns the body.
func (c *Client) doPublicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params.Encode(), false)
}

// doKeyedRequest issues a request that needs the API key header but no
// signature (the user data stream endpoints).
func (c *Client) doKeyedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%w: no API credentials configured", domain.ErrUnauthorized)
	}
	return c.do(ctx, method, path, params.Encode(), true)
}

// doSignedRequest appends the timestamp and recvWindow parameters, signs
// the query string, and issues the request with the API key header.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%w: no API credentials configured", domain.ErrUnauthorized)
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}

	query := params.Encode()
	query += "&signature=" + c.signer.Sign(query)

	return c.do(ctx, method, path, query, true)
}

// do builds, sends, and reads one HTTP request. Query parameters always
// travel in the URL; signed endpoints accept them there for every method.
func (c *Client) do(ctx context.Context, method, path, query string, keyed bool) ([]byte, error) {
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if keyed {
		req.Header.Set("X-MBX-APIKEY", c.signer.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors,
// surfacing the exchange error code and message when present.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	detail := string(body)
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		detail = fmt.Sprintf("code %d: %s", apiErr.Code, apiErr.Msg)
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case http.StatusTooManyRequests, http.StatusTeapot:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, detail)
	}
}

func decodeOrders(respBody []byte, symbol string) ([]domain.Order, error) {
	var rows []apiOrder
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("exchange: decode orders %s: %w", symbol, err)
	}
	out := make([]domain.Order, 0, len(rows))
	for i := range rows {
		order, err := rows[i].ToDomainOrder()
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
		out = append(out, order)
	}
	return out, nil
}
