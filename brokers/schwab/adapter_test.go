package schwab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/transport"
	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type staticTokens struct{ token string }

func (s staticTokens) AccessToken(context.Context, string, string) (string, error) {
	return s.token, nil
}

type fakeSchwab struct {
	mu     sync.Mutex
	calls  []string
	bodies map[string]map[string]any
	routes map[string]http.HandlerFunc
}

func (f *fakeSchwab) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	body := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.bodies[key] = body
	handler := f.routes[key]
	f.mu.Unlock()
	if handler == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
		return
	}
	handler(w, r)
}

func (f *fakeSchwab) route(key string, handler http.HandlerFunc) {
	f.mu.Lock()
	f.routes[key] = handler
	f.mu.Unlock()
}

func (f *fakeSchwab) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, call := range f.calls {
		if call == key {
			total++
		}
	}
	return total
}

func (f *fakeSchwab) body(key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func writeJSON(status int, payload string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}
}

func newFakeSchwab(t *testing.T) (*fakeSchwab, *Adapter) {
	t.Helper()
	fake := &fakeSchwab{
		bodies: map[string]map[string]any{},
		routes: map[string]http.HandlerFunc{
			"GET /accounts/accountNumbers": writeJSON(http.StatusOK, `[{"accountNumber":"11112222","hashValue":"HASH1"}]`),
		},
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	adapter, err := New(core.Identity{UserID: "u1"}, core.Environment{}, core.AdapterDependencies{
		Tokens:    staticTokens{token: "tok-1"},
		Transport: transport.NewRESTAdapter(server.Client()),
		Tracker:   core.NewStatusTracker(),
	}, Options{
		TraderURL:     server.URL,
		MarketDataURL: server.URL,
		Now:           func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return fake, adapter
}

const workingOrder = `{
	"orderId":1001,"status":"WORKING","orderType":"LIMIT","duration":"DAY",
	"quantity":3,"filledQuantity":0,"price":412.5,"enteredTime":"2026-03-02T15:00:01+0000",
	"orderLegCollection":[{"instruction":"BUY","quantity":3,"instrument":{"symbol":"BRKB","assetType":"EQUITY"}}]
}`

func TestNew_RejectsSandbox(t *testing.T) {
	_, err := New(core.Identity{UserID: "u1"}, core.Environment{Sandbox: true}, core.AdapterDependencies{
		Tokens:    staticTokens{token: "tok"},
		Transport: transport.NewRESTAdapter(nil),
	}, Options{})
	if !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAdapter_AuthenticateResolvesAccountHash(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("GET /accounts/HASH1", writeJSON(http.StatusOK, `{"securitiesAccount":{
		"accountNumber":"11112222",
		"initialBalances":{"accountValue":5000,"liquidationValue":5000},
		"currentBalances":{"cashBalance":1200.5,"availableFunds":1100,"buyingPower":2400,"liquidationValue":5300.25}
	}}`))

	balance, err := adapter.GetBalance(context.Background(), "usd")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if adapter.AccountID() != "11112222" {
		t.Fatalf("expected account number, got %q", adapter.AccountID())
	}
	if !balance.Equity.Equal(decimal.RequireFromString("5300.25")) || !balance.Available.Equal(decimal.NewFromInt(1100)) {
		t.Fatalf("unexpected balance %#v", balance)
	}
	if !balance.Total.Equal(decimal.RequireFromString("5300.25")) || !balance.Cash.Equal(decimal.RequireFromString("1200.5")) {
		t.Fatalf("unexpected total or cash %#v", balance)
	}
	if !balance.ProfitLoss.Equal(decimal.RequireFromString("300.25")) || !balance.ProfitLossPercent.Equal(decimal.RequireFromString("6.005")) {
		t.Fatalf("unexpected profit and loss %s %s", balance.ProfitLoss, balance.ProfitLossPercent)
	}
	if _, err := adapter.GetBalance(context.Background(), ""); err != nil {
		t.Fatalf("second balance: %v", err)
	}
	if fake.count("GET /accounts/accountNumbers") != 1 {
		t.Fatalf("expected a single account lookup")
	}
}

func TestAdapter_NoLinkedAccountRequiresAuthentication(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("GET /accounts/accountNumbers", writeJSON(http.StatusOK, `[]`))

	err := adapter.Authenticate(context.Background())
	if !core.IsAuthenticationRequired(err) {
		t.Fatalf("expected authentication required, got %v", err)
	}
}

func TestAdapter_PositionsReportShorts(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("GET /accounts/HASH1", writeJSON(http.StatusOK, `{"securitiesAccount":{"positions":[
		{"longQuantity":10,"shortQuantity":0,"averagePrice":150,"marketValue":1600,"longOpenProfitLoss":100,"currentDayProfitLoss":15.5,"instrument":{"symbol":"AAPL","assetType":"EQUITY"}},
		{"longQuantity":0,"shortQuantity":4,"averagePrice":50,"marketValue":-180,"shortOpenProfitLoss":20,"currentDayProfitLoss":-2,"instrument":{"symbol":"XYZ","assetType":"EQUITY"}}
	]}}`))

	positions, err := adapter.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected two positions, got %d", len(positions))
	}
	if positions[0].Side != core.PositionSideLong || !positions[0].CurrentPrice.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("unexpected long position %#v", positions[0])
	}
	if !positions[0].DayPnL.Equal(decimal.RequireFromString("15.5")) || !positions[1].DayPnL.Equal(decimal.NewFromInt(-2)) {
		t.Fatalf("unexpected day pnl %s %s", positions[0].DayPnL, positions[1].DayPnL)
	}
	if positions[1].Side != core.PositionSideShort || !positions[1].Quantity.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("unexpected short position %#v", positions[1])
	}
}

func TestAdapter_CreateOrderPreviewsThenPlaces(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("POST /accounts/HASH1/previewOrder", writeJSON(http.StatusOK, `{"orderId":0,"orderValidationResult":{"rejects":[]}}`))
	fake.route("POST /accounts/HASH1/orders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://"+r.Host+"/accounts/HASH1/orders/1001")
		w.WriteHeader(http.StatusCreated)
	})
	fake.route("GET /accounts/HASH1/orders/1001", writeJSON(http.StatusOK, workingOrder))

	limit := decimal.RequireFromString("412.5")
	order, err := adapter.CreateOrder(context.Background(), core.OrderSpec{
		Symbol:     "BRK/B",
		Side:       core.OrderSideBuy,
		Type:       core.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(3),
		LimitPrice: &limit,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "1001" || order.Symbol != "BRKB" || order.Status != core.OrderStatusPending || order.RawStatus != "WORKING" {
		t.Fatalf("unexpected order %#v", order)
	}
	if order.SubmittedAt == nil || !order.SubmittedAt.Equal(fixedNow.Add(time.Second)) {
		t.Fatalf("unexpected entered time %v", order.SubmittedAt)
	}

	preview := fake.body("POST /accounts/HASH1/previewOrder")
	if preview["orderType"] != "LIMIT" || preview["duration"] != "DAY" || preview["session"] != "NORMAL" {
		t.Fatalf("unexpected preview body %v", preview)
	}
	legs, _ := preview["orderLegCollection"].([]any)
	if len(legs) != 1 {
		t.Fatalf("expected one leg, got %v", preview["orderLegCollection"])
	}
	leg := legs[0].(map[string]any)
	if leg["instruction"] != "BUY" || leg["instrument"].(map[string]any)["symbol"] != "BRKB" {
		t.Fatalf("unexpected leg %v", leg)
	}
	if fake.count("POST /accounts/HASH1/orders") != 1 {
		t.Fatalf("expected one placement")
	}
}

func TestAdapter_PreviewRejectionNeverPlaces(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("POST /accounts/HASH1/previewOrder", writeJSON(http.StatusOK, `{"orderValidationResult":{"rejects":[
		{"activityMessage":"Insufficient funds for this order","originalSeverity":"REJECT"}
	]}}`))

	_, err := adapter.CreateOrder(context.Background(), core.OrderSpec{
		Symbol:   "AAPL",
		Side:     core.OrderSideBuy,
		Type:     core.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	})
	if !core.IsOrderError(err) {
		t.Fatalf("expected order error, got %v", err)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Message == "" {
		t.Fatalf("expected broker message to be preserved")
	}
	if fake.count("POST /accounts/HASH1/orders") != 0 {
		t.Fatalf("rejected preview must not place")
	}
}

func TestAdapter_FailedPlacementCancelsDanglingOrder(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("POST /accounts/HASH1/previewOrder", writeJSON(http.StatusOK, `{"orderValidationResult":{}}`))
	fake.route("POST /accounts/HASH1/orders", writeJSON(http.StatusBadGateway, `{"message":"upstream timeout"}`))
	fake.route("GET /accounts/HASH1/orders", writeJSON(http.StatusOK, `[`+workingOrder+`]`))
	fake.route("DELETE /accounts/HASH1/orders/1001", writeJSON(http.StatusOK, ""))

	limit := decimal.RequireFromString("412.5")
	_, err := adapter.CreateOrder(context.Background(), core.OrderSpec{
		Symbol:     "BRKB",
		Side:       core.OrderSideBuy,
		Type:       core.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(3),
		LimitPrice: &limit,
	})
	if err == nil {
		t.Fatalf("expected placement failure")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata["compensation"] != "cancelled" {
		t.Fatalf("expected cancelled compensation, got %v", err)
	}
	if fake.count("DELETE /accounts/HASH1/orders/1001") != 1 {
		t.Fatalf("expected dangling order to be cancelled")
	}
	if status, _ := adapter.deps.Tracker.Status("1001"); status.IsTerminal() {
		t.Fatalf("a cancel request must not mark the order terminal, got %q", status)
	}
}

func TestAdapter_FailedPlacementLeavesEarlierOrdersAlone(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("POST /accounts/HASH1/previewOrder", writeJSON(http.StatusOK, `{"orderValidationResult":{}}`))
	fake.route("POST /accounts/HASH1/orders", writeJSON(http.StatusBadGateway, `{"message":"upstream timeout"}`))
	var (
		mu   sync.Mutex
		from string
	)
	fake.route("GET /accounts/HASH1/orders", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		from = r.URL.Query().Get("fromEnteredTime")
		mu.Unlock()
		writeJSON(http.StatusOK, `[
			{"orderId":900,"status":"WORKING","orderType":"LIMIT","duration":"DAY","quantity":3,"price":412.5,
			 "enteredTime":"2026-03-02T14:58:30+0000",
			 "orderLegCollection":[{"instruction":"BUY","quantity":3,"instrument":{"symbol":"BRKB"}}]},
			{"orderId":901,"status":"WORKING","orderType":"LIMIT","duration":"DAY","quantity":3,"price":410,
			 "enteredTime":"2026-03-02T15:00:02+0000",
			 "orderLegCollection":[{"instruction":"BUY","quantity":3,"instrument":{"symbol":"BRKB"}}]}
		]`)(w, r)
	})
	fake.route("DELETE /accounts/HASH1/orders/900", writeJSON(http.StatusOK, ""))
	fake.route("DELETE /accounts/HASH1/orders/901", writeJSON(http.StatusOK, ""))

	limit := decimal.RequireFromString("412.5")
	_, err := adapter.CreateOrder(context.Background(), core.OrderSpec{
		Symbol:     "BRKB",
		Side:       core.OrderSideBuy,
		Type:       core.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(3),
		LimitPrice: &limit,
	})
	if err == nil {
		t.Fatalf("expected placement failure")
	}
	if fake.count("DELETE /accounts/HASH1/orders/900") != 0 {
		t.Fatalf("an order entered before the preview must not be cancelled")
	}
	if fake.count("DELETE /accounts/HASH1/orders/901") != 0 {
		t.Fatalf("an order with a different limit price must not be cancelled")
	}
	mu.Lock()
	defer mu.Unlock()
	if from != "2026-03-02T15:00:00.000Z" {
		t.Fatalf("expected reconcile to start at the preview, got %q", from)
	}
}

func TestAdapter_TrailingStopLoss(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("POST /accounts/HASH1/previewOrder", writeJSON(http.StatusOK, `{}`))
	fake.route("POST /accounts/HASH1/orders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/trader/v1/accounts/HASH1/orders/2002")
		w.WriteHeader(http.StatusCreated)
	})
	fake.route("GET /accounts/HASH1/orders/2002", writeJSON(http.StatusOK, `{
		"orderId":2002,"status":"AWAITING_STOP_CONDITION","orderType":"TRAILING_STOP","duration":"GOOD_TILL_CANCEL",
		"quantity":5,"stopPriceOffset":2,
		"orderLegCollection":[{"instruction":"SELL","quantity":5,"instrument":{"symbol":"AAPL"}}]
	}`))

	order, err := adapter.SetStopLoss(context.Background(), core.ProtectiveOrderSpec{
		Symbol:   "aapl",
		Quantity: decimal.NewFromInt(5),
		Trailing: true,
	})
	if err != nil {
		t.Fatalf("stop loss: %v", err)
	}
	if order.Tag != core.OrderTagStopLoss || order.TimeInForce != core.TimeInForceGTC {
		t.Fatalf("unexpected order %#v", order)
	}
	if order.TrailPercent == nil || !order.TrailPercent.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected trail percent 2, got %v", order.TrailPercent)
	}
	body := fake.body("POST /accounts/HASH1/orders")
	if body["orderType"] != "TRAILING_STOP" || body["stopPriceLinkType"] != "PERCENT" || body["duration"] != "GOOD_TILL_CANCEL" {
		t.Fatalf("unexpected stop body %v", body)
	}
	if _, ok := body["stopPrice"]; ok {
		t.Fatalf("trailing stop must not carry a fixed stop price")
	}
}

func TestAdapter_OrderHistoryDetectsPartialFills(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("GET /accounts/HASH1/orders", writeJSON(http.StatusOK, `[
		{"orderId":1,"status":"WORKING","orderType":"LIMIT","quantity":10,"filledQuantity":4,"enteredTime":"2026-03-01T14:00:00+0000",
		 "orderLegCollection":[{"instruction":"BUY","quantity":10,"instrument":{"symbol":"AAPL"}}],
		 "orderActivityCollection":[{"executionLegs":[{"price":100,"quantity":1},{"price":104,"quantity":3}]}]},
		{"orderId":2,"status":"CANCELED","orderType":"MARKET","quantity":1,"enteredTime":"2026-03-01T15:00:00+0000",
		 "orderLegCollection":[{"instruction":"SELL","quantity":1,"instrument":{"symbol":"MSFT"}}]}
	]`))

	orders, err := adapter.GetOrderHistory(context.Background(), core.OrderHistoryFilter{Symbol: "aapl"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected symbol filter to keep one order, got %d", len(orders))
	}
	if orders[0].Status != core.OrderStatusPartiallyFilled {
		t.Fatalf("expected partial fill, got %q", orders[0].Status)
	}
	if orders[0].AvgFillPrice == nil || !orders[0].AvgFillPrice.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("unexpected average fill %v", orders[0].AvgFillPrice)
	}

	cancelled, err := adapter.GetOrderHistory(context.Background(), core.OrderHistoryFilter{Status: core.OrderStatusCancelled})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != "2" || cancelled[0].Side != core.OrderSideSell {
		t.Fatalf("unexpected cancelled orders %#v", cancelled)
	}
}

func TestAdapter_CancelOrderOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
	}{
		{name: "cancelled", handler: writeJSON(http.StatusOK, ""), want: true},
		{name: "not found", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake, adapter := newFakeSchwab(t)
			if tc.handler != nil {
				fake.route("DELETE /accounts/HASH1/orders/55", tc.handler)
			}
			ok, err := adapter.CancelOrder(context.Background(), "55")
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, ok)
			}
		})
	}
}

func TestAdapter_CancelOrderRefused(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("DELETE /accounts/HASH1/orders/55", writeJSON(http.StatusBadRequest, `{"message":"Order cannot be canceled"}`))

	ok, err := adapter.CancelOrder(context.Background(), "55")
	if ok || !core.IsOrderError(err) {
		t.Fatalf("expected refused cancel to raise an order error, got %v %v", ok, err)
	}
}

func TestAdapter_CancelRequestThenFillReportsFill(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("DELETE /accounts/HASH1/orders/55", writeJSON(http.StatusOK, ""))
	fake.route("GET /accounts/HASH1/orders/55", writeJSON(http.StatusOK, `{
		"orderId":55,"status":"FILLED","orderType":"MARKET","quantity":1,"filledQuantity":1,
		"enteredTime":"2026-03-02T14:59:00+0000",
		"orderLegCollection":[{"instruction":"BUY","quantity":1,"instrument":{"symbol":"AAPL"}}]
	}`))

	if ok, err := adapter.CancelOrder(context.Background(), "55"); err != nil || !ok {
		t.Fatalf("cancel: %v %v", ok, err)
	}
	order, err := adapter.getOrder(context.Background(), "55")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != core.OrderStatusFilled {
		t.Fatalf("expected the fill to win over the cancel request, got %q", order.Status)
	}
}

func TestAdapter_OrderHistoryStatusFilterRunsAtBroker(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	var (
		mu      sync.Mutex
		queries []map[string]string
	)
	recorded := func(i int) map[string]string {
		mu.Lock()
		defer mu.Unlock()
		return queries[i]
	}
	fake.route("GET /accounts/HASH1/orders", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		queries = append(queries, map[string]string{"status": q.Get("status"), "maxResults": q.Get("maxResults")})
		mu.Unlock()
		writeJSON(http.StatusOK, `[
			{"orderId":3,"status":"CANCELED","orderType":"MARKET","quantity":1,"enteredTime":"2026-03-01T16:00:00+0000",
			 "orderLegCollection":[{"instruction":"BUY","quantity":1,"instrument":{"symbol":"AAPL"}}]},
			{"orderId":2,"status":"REPLACED","orderType":"MARKET","quantity":1,"enteredTime":"2026-03-01T15:00:00+0000",
			 "orderLegCollection":[{"instruction":"BUY","quantity":1,"instrument":{"symbol":"AAPL"}}]}
		]`)(w, r)
	})

	if _, err := adapter.GetOrderHistory(context.Background(), core.OrderHistoryFilter{Status: core.OrderStatusFilled, Limit: 2}); err != nil {
		t.Fatalf("filled history: %v", err)
	}
	if first := recorded(0); first["status"] != "FILLED" || first["maxResults"] != "2" {
		t.Fatalf("expected broker side status filter, got %v", first)
	}

	cancelled, err := adapter.GetOrderHistory(context.Background(), core.OrderHistoryFilter{Status: core.OrderStatusCancelled, Limit: 1})
	if err != nil {
		t.Fatalf("cancelled history: %v", err)
	}
	if second := recorded(1); second["status"] != "" || second["maxResults"] != "3000" {
		t.Fatalf("expected a wide unfiltered fetch, got %v", second)
	}
	if len(cancelled) != 1 || cancelled[0].ID != "3" {
		t.Fatalf("expected the newest cancelled order only, got %#v", cancelled)
	}
}

func TestAdapter_GetFees(t *testing.T) {
	_, adapter := newFakeSchwab(t)
	fees, err := adapter.GetFees(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if fees.Symbol != "AAPL" || !fees.CommissionFree || !fees.Withdrawal.IsZero() || fees.Notes == "" {
		t.Fatalf("unexpected fees %#v", fees)
	}
}

func TestAdapter_MarketPriceAndSymbolSupport(t *testing.T) {
	fake, adapter := newFakeSchwab(t)
	fake.route("GET /quotes", writeJSON(http.StatusOK, `{"AAPL":{"symbol":"AAPL","quote":{"bidPrice":190.1,"askPrice":190.3,"lastPrice":0,"bidSize":200,"askSize":400,"totalVolume":5123456,"quoteTime":1772463600000}}}`))
	fake.route("GET /instruments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "AAPL" {
			writeJSON(http.StatusOK, `{"instruments":[{"symbol":"AAPL","assetType":"EQUITY"}]}`)(w, r)
			return
		}
		writeJSON(http.StatusOK, `{"instruments":[]}`)(w, r)
	})

	price, err := adapter.GetMarketPrice(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("market price: %v", err)
	}
	if !price.Last.Equal(decimal.RequireFromString("190.2")) {
		t.Fatalf("expected midpoint fallback, got %s", price.Last)
	}
	if price.AsOf.IsZero() {
		t.Fatalf("expected quote time")
	}
	if !price.BidSize.Equal(decimal.NewFromInt(200)) || !price.AskSize.Equal(decimal.NewFromInt(400)) || !price.Volume.Equal(decimal.NewFromInt(5123456)) {
		t.Fatalf("unexpected sizes or volume %#v", price)
	}
	if _, err := adapter.GetMarketPrice(context.Background(), "MSFT"); err == nil {
		t.Fatalf("expected missing quote to fail")
	}

	supported, err := adapter.IsSymbolSupported(context.Background(), "AAPL")
	if err != nil || !supported {
		t.Fatalf("expected AAPL to be supported: %v %v", supported, err)
	}
	supported, err = adapter.IsSymbolSupported(context.Background(), "ZZZZ")
	if err != nil || supported {
		t.Fatalf("expected ZZZZ to be unsupported: %v %v", supported, err)
	}
}

func TestStatuses(t *testing.T) {
	cases := map[string]core.OrderStatus{
		"WORKING":            core.OrderStatusPending,
		"CANCELED":           core.OrderStatusCancelled,
		"FILLED":             core.OrderStatusFilled,
		"PENDING_ACTIVATION": core.OrderStatusPending,
		"REJECTED":           core.OrderStatusRejected,
		"FOO":                core.OrderStatusUnknown,
	}
	for raw, expected := range cases {
		if got := Statuses.Normalize(raw); got != expected {
			t.Fatalf("%s: expected %q, got %q", raw, expected, got)
		}
	}
}

func TestOrderIDFromLocation(t *testing.T) {
	cases := map[string]string{
		"https://api.schwabapi.com/trader/v1/accounts/H/orders/123": "123",
		"/accounts/H/orders/456/":                                   "456",
		"":                                                          "",
		"/accounts/H/orders":                                        "",
	}
	for location, expected := range cases {
		if got := orderIDFromLocation(location); got != expected {
			t.Fatalf("%q: expected %q, got %q", location, expected, got)
		}
	}
}
