package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// DepthDeltaHandler is called for every incremental order book update.
type DepthDeltaHandler func(domain.DepthDelta)

// KlineHandler is called for every candle update. closed is true when the
// candle's bucket has ended and the candle is final.
type KlineHandler func(candle domain.Candle, closed bool)

// TradeHandler is called for every public trade.
type TradeHandler func(domain.Trade)

// AccountUpdateHandler is called when the user stream reports changed
// balances.
type AccountUpdateHandler func(balances []domain.Balance, at time.Time)

// ExecutionReportHandler is called for every order state transition on the
// user stream.
type ExecutionReportHandler func(domain.Order)

// ReconnectHandler is called after the connection has been re-established
// and subscriptions restored. Order books must be re-seeded from a fresh
// snapshot after a reconnect.
type ReconnectHandler func()

// WSClient is a WebSocket client for the exchange's combined market data
// stream. It manages the connection lifecycle, subscriptions, and
// dispatches messages to registered handlers.
//
// Data frames are written only while holding mu; pings and close frames go
// through WriteControl, which gorilla/websocket allows concurrently with a
// data writer. Each connection carries its own done channel so a redial
// stops the superseded read and ping loops instead of stacking new ones on
// top of them.
type WSClient struct {
	wsURL string

	mu       sync.Mutex
	conn     *websocket.Conn
	connDone chan struct{}
	closed   bool

	// Stream names to restore on reconnect.
	subscriptions []string
	nextCommandID int

	handlerMu         sync.RWMutex
	depthHandlers     []DepthDeltaHandler
	klineHandlers     []KlineHandler
	tradeHandlers     []TradeHandler
	accountHandlers   []AccountUpdateHandler
	executionHandlers []ExecutionReportHandler
	reconnectHandlers []ReconnectHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// wsCommand is the live subscription management frame.
type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// NewWSClient creates a new WebSocket client.
//
// wsHost is the stream endpoint root, e.g. "wss://stream.binance.com:9443".
// The client connects to the combined stream path under it.
func NewWSClient(wsHost string) *WSClient {
	return &WSClient{
		wsURL: strings.TrimRight(wsHost, "/") + "/stream",
		done:  make(chan struct{}),
	}
}

// DepthStream returns the stream name for symbol's incremental depth feed.
func DepthStream(symbol string) string {
	return strings.ToLower(symbol) + "@depth@100ms"
}

// KlineStream returns the stream name for symbol's candle feed at the
// given interval.
func KlineStream(symbol string, interval time.Duration) (string, error) {
	token, err := IntervalToken(interval)
	if err != nil {
		return "", err
	}
	return strings.ToLower(symbol) + "@kline_" + token, nil
}

// TradeStream returns the stream name for symbol's public trade feed.
func TradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

// Connect establishes the WebSocket connection. A live connection is torn
// down first, so calling Connect again redials rather than leaking the
// previous connection's loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("exchange/ws: %w", domain.ErrWSDisconnect)
	}

	w.teardownLocked()

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("exchange/ws: connect: %w", err)
	}

	connDone := make(chan struct{})
	w.conn = conn
	w.connDone = connDone

	// Set up pong handler for keep-alive.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start the read loop and ping loop for this connection.
	go w.readLoop(conn, connDone)
	go w.pingLoop(conn, connDone)

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		if err := w.sendCommand("SUBSCRIBE", w.subscriptions); err != nil {
			return fmt.Errorf("exchange/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// teardownLocked stops the current connection's loops and closes the
// socket. Caller must hold w.mu.
func (w *WSClient) teardownLocked() {
	if w.connDone != nil {
		close(w.connDone)
		w.connDone = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// Subscribe subscribes to the given stream names, e.g. "btcusdt@depth@100ms".
func (w *WSClient) Subscribe(ctx context.Context, streams []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("exchange/ws: not connected")
	}

	if err := w.sendCommand("SUBSCRIBE", streams); err != nil {
		return fmt.Errorf("exchange/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	existing := make(map[string]struct{}, len(w.subscriptions))
	for _, s := range w.subscriptions {
		existing[s] = struct{}{}
	}
	for _, s := range streams {
		if _, ok := existing[s]; !ok {
			w.subscriptions = append(w.subscriptions, s)
		}
	}

	return nil
}

// Close shuts down the WebSocket connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		// Tell the server we are going away before dropping the socket.
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
	}
	w.teardownLocked()

	return nil
}

// OnDepthDelta registers a handler for incremental order book updates.
func (w *WSClient) OnDepthDelta(handler DepthDeltaHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.depthHandlers = append(w.depthHandlers, handler)
}

// OnKline registers a handler for candle updates.
func (w *WSClient) OnKline(handler KlineHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.klineHandlers = append(w.klineHandlers, handler)
}

// OnTrade registers a handler for public trades.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// OnAccountUpdate registers a handler for user-stream balance updates.
func (w *WSClient) OnAccountUpdate(handler AccountUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.accountHandlers = append(w.accountHandlers, handler)
}

// OnExecutionReport registers a handler for user-stream order updates.
func (w *WSClient) OnExecutionReport(handler ExecutionReportHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.executionHandlers = append(w.executionHandlers, handler)
}

// OnReconnect registers a handler invoked after a successful reconnect.
func (w *WSClient) OnReconnect(handler ReconnectHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.reconnectHandlers = append(w.reconnectHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a subscription management frame. Caller must hold w.mu.
func (w *WSClient) sendCommand(method string, streams []string) error {
	w.nextCommandID++
	cmd := wsCommand{
		Method: method,
		Params: streams,
		ID:     w.nextCommandID,
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from one connection and dispatches
// them to the registered handlers. It exits when the client is closed or
// the connection is superseded by a redial; on any other read error it
// hands off to reconnect.
func (w *WSClient) readLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			case <-connDone:
				// A newer connection took over.
				return
			default:
			}

			w.reconnect()
			return // the new connection gets its own readLoop
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping frames to keep one connection alive.
// WriteControl is safe against the data writer, so no lock is taken.
func (w *WSClient) pingLoop(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket frame and routes it to the
// appropriate handler based on the event type.
func (w *WSClient) handleMessage(raw []byte) {
	// Combined-stream frames wrap the payload in an envelope. Frames that
	// arrive bare (command acks, user-stream events) are used as-is.
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}
	payload := raw
	if envelope.Stream != "" {
		payload = envelope.Data
	}

	var header wsEventHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return
	}

	switch header.Event {
	case "depthUpdate":
		var msg wsDepthUpdate
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		delta, err := msg.ToDomainDelta()
		if err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.depthHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(delta)
		}

	case "kline":
		var msg wsKline
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		candle, err := msg.ToDomainCandle()
		if err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.klineHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(candle, msg.Kline.Closed)
		}

	case "trade":
		var msg wsTrade
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		trade, err := msg.ToDomainTrade()
		if err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(trade)
		}

	case "outboundAccountPosition":
		var msg wsAccountPosition
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		balances, err := msg.ToDomainBalances()
		if err != nil {
			return
		}
		at := time.UnixMilli(msg.EventTime).UTC()

		w.handlerMu.RLock()
		handlers := w.accountHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(balances, at)
		}

	case "executionReport":
		var msg wsExecutionReport
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		order, err := msg.ToDomainOrder()
		if err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.executionHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(order)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.handlerMu.RLock()
			handlers := w.reconnectHandlers
			w.handlerMu.RUnlock()
			for _, h := range handlers {
				h()
			}
			return
		}

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
