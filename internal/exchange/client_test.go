package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/triarb/internal/crypto"
	"github.com/alanyoungcy/triarb/internal/domain"
)

func testSigner() *crypto.Signer {
	return &crypto.Signer{Key: "test-api-key", Secret: "test-secret"}
}

func TestSignedRequestCarriesSignatureAndKey(t *testing.T) {
	var gotPath, gotKey string
	var gotQuery map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"balances":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSigner(), 5000)
	if _, err := c.Account(context.Background()); err != nil {
		t.Fatalf("Account: %v", err)
	}

	if gotPath != "/api/v3/account" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotKey != "test-api-key" {
		t.Fatalf("X-MBX-APIKEY=%q", gotKey)
	}
	for _, param := range []string{"timestamp", "recvWindow", "signature"} {
		if len(gotQuery[param]) == 0 {
			t.Fatalf("query missing %s: %v", param, gotQuery)
		}
	}
	if gotQuery["recvWindow"][0] != "5000" {
		t.Fatalf("recvWindow=%q", gotQuery["recvWindow"][0])
	}
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	c := NewClient("http://localhost:1", nil, 5000)
	_, err := c.Account(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v want ErrUnauthorized", err)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusTeapot, domain.ErrRateLimited},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"code":-1003,"msg":"nope"}`))
		}))

		c := NewClient(srv.URL, testSigner(), 5000)
		_, err := c.DepthSnapshot(context.Background(), "BTCUSDT", 5)
		srv.Close()

		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v want %v", tc.status, err, tc.want)
		}
	}
}

func TestPlaceOrderTestModeRoutesToValidateEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSigner(), 5000)
	req := domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideSell,
		Price: 7060.70, Quantity: 0.000141, ClientOrderID: "co-1",
	}

	res, err := c.PlaceOrder(context.Background(), req, true)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if gotPath != "/api/v3/order/test" {
		t.Fatalf("path=%q want /api/v3/order/test", gotPath)
	}
	if !res.Test || res.Status != "TEST" || res.ClientOrderID != "co-1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPlaceOrderLiveDecodesAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/order" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if r.URL.Query().Get("type") != "LIMIT" || r.URL.Query().Get("timeInForce") != "GTC" {
			t.Errorf("order params = %v", r.URL.Query())
		}
		w.Write([]byte(`{"orderId":42,"clientOrderId":"co-1","symbol":"BTCUSDT","status":"NEW"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSigner(), 5000)
	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy,
		Price: 7000, Quantity: 0.001, ClientOrderID: "co-1",
	}, false)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderID != 42 || res.Status != "NEW" || res.Test {
		t.Fatalf("result = %+v", res)
	}
}

func TestExchangeInfoSymbolsParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbols"); got != `["BTCUSDT","BTCBUSD"]` {
			t.Errorf("symbols=%q", got)
		}
		w.Write([]byte(`{"symbols":[{
			"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
			"filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},{"filterType":"LOT_SIZE","stepSize":"0.000001"}]
		}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0)
	syms, err := c.ExchangeInfo(context.Background(), []string{"BTCUSDT", "BTCBUSD"})
	if err != nil {
		t.Fatalf("ExchangeInfo: %v", err)
	}
	if len(syms) != 1 || syms[0].Name != "BTCUSDT" {
		t.Fatalf("symbols = %+v", syms)
	}
}

func TestStreamNames(t *testing.T) {
	if got := DepthStream("BTCUSDT"); got != "btcusdt@depth@100ms" {
		t.Fatalf("DepthStream=%q", got)
	}
	if got := TradeStream("BTCUSDT"); got != "btcusdt@trade" {
		t.Fatalf("TradeStream=%q", got)
	}
	got, err := KlineStream("BTCUSDT", 4*3600e9)
	if err != nil || got != "btcusdt@kline_4h" {
		t.Fatalf("KlineStream=%q, %v", got, err)
	}
}
