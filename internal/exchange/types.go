package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// --------------------------------------------------------------------------
// REST wire types
// --------------------------------------------------------------------------

// apiExchangeInfo is the response of GET /api/v3/exchangeInfo.
type apiExchangeInfo struct {
	Symbols []apiSymbol `json:"symbols"`
}

type apiSymbol struct {
	Symbol     string      `json:"symbol"`
	Status     string      `json:"status"`
	BaseAsset  string      `json:"baseAsset"`
	QuoteAsset string      `json:"quoteAsset"`
	Filters    []apiFilter `json:"filters"`
}

type apiFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
}

// ToDomainSymbol converts an exchange-info symbol to the domain type,
// extracting tick and step sizes from the PRICE_FILTER and LOT_SIZE filters.
func (s *apiSymbol) ToDomainSymbol() (domain.Symbol, error) {
	out := domain.Symbol{
		Name:           s.Symbol,
		BaseAsset:      s.BaseAsset,
		QuoteAsset:     s.QuoteAsset,
		TradingEnabled: s.Status == "TRADING",
	}

	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			v, err := parseDecimal(f.TickSize)
			if err != nil {
				return domain.Symbol{}, fmt.Errorf("symbol %s: tick size: %w", s.Symbol, err)
			}
			out.TickSize = v
		case "LOT_SIZE":
			v, err := parseDecimal(f.StepSize)
			if err != nil {
				return domain.Symbol{}, fmt.Errorf("symbol %s: step size: %w", s.Symbol, err)
			}
			out.StepSize = v
		}
	}

	if out.TickSize == 0 || out.StepSize == 0 {
		return domain.Symbol{}, fmt.Errorf("symbol %s: missing price or lot filter", s.Symbol)
	}

	return out, nil
}

// apiDepth is the response of GET /api/v3/depth.
type apiDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// ToDomainSnapshot converts a depth response into a book snapshot for symbol.
func (d *apiDepth) ToDomainSnapshot(symbol string) (domain.BookSnapshot, error) {
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("depth %s: bids: %w", symbol, err)
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("depth %s: asks: %w", symbol, err)
	}
	return domain.BookSnapshot{
		Symbol:       symbol,
		LastUpdateID: d.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// apiKline is one row of GET /api/v3/klines. The exchange encodes each
// candle as a positional JSON array of mixed types.
type apiKline []json.RawMessage

// ToDomainCandle decodes the positional kline array into a candle.
func (k apiKline) ToDomainCandle(symbol string) (domain.Candle, error) {
	if len(k) < 9 {
		return domain.Candle{}, fmt.Errorf("kline %s: short row (%d fields)", symbol, len(k))
	}

	var openMs, closeMs, trades int64
	var o, h, l, c, v string

	fields := []struct {
		idx int
		dst any
	}{
		{0, &openMs}, {1, &o}, {2, &h}, {3, &l}, {4, &c},
		{5, &v}, {6, &closeMs}, {8, &trades},
	}
	for _, f := range fields {
		if err := json.Unmarshal(k[f.idx], f.dst); err != nil {
			return domain.Candle{}, fmt.Errorf("kline %s: field %d: %w", symbol, f.idx, err)
		}
	}

	candle := domain.Candle{
		Symbol:    symbol,
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Trades:    trades,
	}

	var err error
	if candle.Open, err = parseDecimal(o); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: open: %w", symbol, err)
	}
	if candle.High, err = parseDecimal(h); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: high: %w", symbol, err)
	}
	if candle.Low, err = parseDecimal(l); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: low: %w", symbol, err)
	}
	if candle.Close, err = parseDecimal(c); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: close: %w", symbol, err)
	}
	if candle.Volume, err = parseDecimal(v); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: volume: %w", symbol, err)
	}

	return candle, nil
}

// apiAccount is the response of GET /api/v3/account.
type apiAccount struct {
	Balances []apiBalance `json:"balances"`
}

type apiBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// ToDomainAccount converts the account response to an account snapshot.
// Assets with zero free and locked balances are dropped.
func (a *apiAccount) ToDomainAccount(now time.Time) (domain.AccountSnapshot, error) {
	snap := domain.AccountSnapshot{
		Balances:  make(map[string]domain.Balance, len(a.Balances)),
		UpdatedAt: now,
	}
	for _, b := range a.Balances {
		free, err := parseDecimal(b.Free)
		if err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("balance %s: free: %w", b.Asset, err)
		}
		locked, err := parseDecimal(b.Locked)
		if err != nil {
			return domain.AccountSnapshot{}, fmt.Errorf("balance %s: locked: %w", b.Asset, err)
		}
		if free == 0 && locked == 0 {
			continue
		}
		snap.Balances[b.Asset] = domain.Balance{Asset: b.Asset, Free: free, Locked: locked}
	}
	return snap, nil
}

// apiTrade is one row of GET /api/v3/trades.
type apiTrade struct {
	ID    int64  `json:"id"`
	Price string `json:"price"`
	Qty   string `json:"qty"`
	Time  int64  `json:"time"`
}

func (t *apiTrade) ToDomainTrade(symbol string) (domain.Trade, error) {
	price, err := parseDecimal(t.Price)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade %d: price: %w", t.ID, err)
	}
	qty, err := parseDecimal(t.Qty)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade %d: qty: %w", t.ID, err)
	}
	return domain.Trade{
		ID:       t.ID,
		Symbol:   symbol,
		Price:    price,
		Quantity: qty,
		Time:     time.UnixMilli(t.Time).UTC(),
	}, nil
}

// apiOrder is one row of GET /api/v3/allOrders or GET /api/v3/openOrders,
// and the response of POST /api/v3/order.
type apiOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o *apiOrder) ToDomainOrder() (domain.Order, error) {
	price, err := parseDecimal(o.Price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %d: price: %w", o.OrderID, err)
	}
	origQty, err := parseDecimal(o.OrigQty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %d: origQty: %w", o.OrderID, err)
	}
	execQty := 0.0
	if o.ExecutedQty != "" {
		if execQty, err = parseDecimal(o.ExecutedQty); err != nil {
			return domain.Order{}, fmt.Errorf("order %d: executedQty: %w", o.OrderID, err)
		}
	}
	return domain.Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Price:         price,
		OrigQty:       origQty,
		ExecutedQty:   execQty,
		Status:        o.Status,
		UpdatedAt:     time.UnixMilli(o.UpdateTime).UTC(),
	}, nil
}

// apiError is the standard exchange error body, e.g.
// {"code":-1121,"msg":"Invalid symbol."}.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// --------------------------------------------------------------------------
// WebSocket wire types
// --------------------------------------------------------------------------

// wsEnvelope is the combined-stream outer frame: the payload sits under
// "data" with the originating stream name alongside.
type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsEventHeader carries only the event type used for routing.
type wsEventHeader struct {
	Event string `json:"e"`
}

// wsDepthUpdate is a "depthUpdate" event.
type wsDepthUpdate struct {
	Event         string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

func (d *wsDepthUpdate) ToDomainDelta() (domain.DepthDelta, error) {
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return domain.DepthDelta{}, fmt.Errorf("depth update %s: bids: %w", d.Symbol, err)
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return domain.DepthDelta{}, fmt.Errorf("depth update %s: asks: %w", d.Symbol, err)
	}
	return domain.DepthDelta{
		Symbol:        d.Symbol,
		FirstUpdateID: d.FirstUpdateID,
		FinalUpdateID: d.FinalUpdateID,
		Bids:          bids,
		Asks:          asks,
		EventTime:     time.UnixMilli(d.EventTime).UTC(),
	}, nil
}

// wsKline is a "kline" event.
type wsKline struct {
	Event  string        `json:"e"`
	Symbol string        `json:"s"`
	Kline  wsKlinePayload `json:"k"`
}

type wsKlinePayload struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Trades    int64  `json:"n"`
	Closed    bool   `json:"x"`
}

func (k *wsKline) ToDomainCandle() (domain.Candle, error) {
	candle := domain.Candle{
		Symbol:    k.Symbol,
		OpenTime:  time.UnixMilli(k.Kline.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.Kline.CloseTime).UTC(),
		Trades:    k.Kline.Trades,
	}
	var err error
	if candle.Open, err = parseDecimal(k.Kline.Open); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: open: %w", k.Symbol, err)
	}
	if candle.High, err = parseDecimal(k.Kline.High); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: high: %w", k.Symbol, err)
	}
	if candle.Low, err = parseDecimal(k.Kline.Low); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: low: %w", k.Symbol, err)
	}
	if candle.Close, err = parseDecimal(k.Kline.Close); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: close: %w", k.Symbol, err)
	}
	if candle.Volume, err = parseDecimal(k.Kline.Volume); err != nil {
		return domain.Candle{}, fmt.Errorf("kline %s: volume: %w", k.Symbol, err)
	}
	return candle, nil
}

// wsTrade is a "trade" event.
type wsTrade struct {
	Event    string `json:"e"`
	Symbol   string `json:"s"`
	TradeID  int64  `json:"t"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	Time     int64  `json:"T"`
}

func (t *wsTrade) ToDomainTrade() (domain.Trade, error) {
	price, err := parseDecimal(t.Price)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade %s: price: %w", t.Symbol, err)
	}
	qty, err := parseDecimal(t.Quantity)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade %s: qty: %w", t.Symbol, err)
	}
	return domain.Trade{
		ID:       t.TradeID,
		Symbol:   t.Symbol,
		Price:    price,
		Quantity: qty,
		Time:     time.UnixMilli(t.Time).UTC(),
	}, nil
}

// wsAccountPosition is an "outboundAccountPosition" user-stream event.
// Only the balances that changed are present.
type wsAccountPosition struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Balances  []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

func (p *wsAccountPosition) ToDomainBalances() ([]domain.Balance, error) {
	out := make([]domain.Balance, 0, len(p.Balances))
	for _, b := range p.Balances {
		free, err := parseDecimal(b.Free)
		if err != nil {
			return nil, fmt.Errorf("account update %s: free: %w", b.Asset, err)
		}
		locked, err := parseDecimal(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("account update %s: locked: %w", b.Asset, err)
		}
		out = append(out, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// wsExecutionReport is an "executionReport" user-stream event describing an
// order state transition.
type wsExecutionReport struct {
	Event         string `json:"e"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	OrigQty       string `json:"q"`
	Price         string `json:"p"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	ExecutedQty   string `json:"z"`
	EventTime     int64  `json:"E"`
}

func (r *wsExecutionReport) ToDomainOrder() (domain.Order, error) {
	price, err := parseDecimal(r.Price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution report %d: price: %w", r.OrderID, err)
	}
	origQty, err := parseDecimal(r.OrigQty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution report %d: origQty: %w", r.OrderID, err)
	}
	execQty, err := parseDecimal(r.ExecutedQty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution report %d: executedQty: %w", r.OrderID, err)
	}
	return domain.Order{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          domain.OrderSide(r.Side),
		Price:         price,
		OrigQty:       origQty,
		ExecutedQty:   execQty,
		Status:        r.Status,
		UpdatedAt:     time.UnixMilli(r.EventTime).UTC(),
	}, nil
}

// apiListenKey is the response of POST /api/v3/userDataStream.
type apiListenKey struct {
	ListenKey string `json:"listenKey"`
}

// --------------------------------------------------------------------------
// Parsing helpers
// --------------------------------------------------------------------------

// parseDecimal parses an exchange decimal string into a float64.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return v, nil
}

// parseLevels converts [price, qty] string pairs into price levels.
func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := parseDecimal(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// formatDecimal renders a float for an order parameter without exponent
// notation and without trailing zeros.
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
