package alpaca

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/brokers"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	BrokerKey = "alpaca"

	LiveTradingURL  = "https://api.alpaca.markets"
	PaperTradingURL = "https://paper-api.alpaca.markets"
	MarketDataURL   = "https://data.alpaca.markets"

	maxHistoryLimit = 500
)

type AuthMode string

const (
	AuthModeOAuth  AuthMode = "oauth"
	AuthModeAPIKey AuthMode = "api_key"
)

type Options struct {
	AuthMode AuthMode
	// URL overrides, mostly for tests.
	TradingURL string
	DataURL    string
	Timeout    time.Duration
}

// Adapter drives the Alpaca trading v2 API for one user.
type Adapter struct {
	identity     core.Identity
	deps         core.AdapterDependencies
	opts         Options
	session      *brokers.Session
	client       *brokers.Client
	dataURL      string
	trailPercent float64
}

func NewFactory(opts Options) core.AdapterFactory {
	return func(identity core.Identity, env core.Environment, deps core.AdapterDependencies) (core.BrokerAdapter, error) {
		return New(identity, env, deps, opts)
	}
}

func New(identity core.Identity, env core.Environment, deps core.AdapterDependencies, opts Options) (*Adapter, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, core.NewAuthenticationRequired("")
	}
	if deps.Transport == nil {
		return nil, core.NewConfigurationError("alpaca: transport is required")
	}
	if opts.AuthMode == "" {
		opts.AuthMode = AuthModeOAuth
	}
	switch opts.AuthMode {
	case AuthModeOAuth:
		if deps.Tokens == nil {
			return nil, core.NewConfigurationError("alpaca: access token source is required")
		}
	case AuthModeAPIKey:
		if deps.Credentials == nil {
			return nil, core.NewConfigurationError("alpaca: api credential source is required")
		}
	default:
		return nil, core.NewConfigurationError("alpaca: unsupported auth mode " + string(opts.AuthMode))
	}

	tradingURL := opts.TradingURL
	if tradingURL == "" {
		tradingURL = LiveTradingURL
		if env.Sandbox {
			tradingURL = PaperTradingURL
		}
	}
	dataURL := opts.DataURL
	if dataURL == "" {
		dataURL = MarketDataURL
	}

	adapter := &Adapter{
		identity:     identity,
		deps:         deps,
		opts:         opts,
		session:      &brokers.Session{},
		dataURL:      dataURL,
		trailPercent: deps.TrailPercent,
	}
	adapter.client = &brokers.Client{
		BrokerKey: BrokerKey,
		BaseURL:   tradingURL,
		Transport: deps.Transport,
		Auth:      adapter.authHeaders,
		Session:   adapter.session,
		Timeout:   opts.Timeout,
	}
	return adapter, nil
}

func (a *Adapter) BrokerKey() string     { return BrokerKey }
func (a *Adapter) IsAuthenticated() bool { return a.session.Authenticated() }
func (a *Adapter) AccountID() string     { return a.session.AccountID() }

func (a *Adapter) authHeaders(ctx context.Context) (map[string]string, error) {
	if a.opts.AuthMode == AuthModeAPIKey {
		creds, err := a.deps.Credentials.APICredentials(ctx, BrokerKey, a.identity.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"APCA-API-KEY-ID":     creds.KeyID,
			"APCA-API-SECRET-KEY": creds.Secret,
		}, nil
	}
	token, err := a.deps.Tokens.AccessToken(ctx, BrokerKey, a.identity.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

func (a *Adapter) Authenticate(ctx context.Context) error {
	var acct account
	if _, err := a.client.Do(ctx, brokers.Request{Path: "/v2/account", Bucket: "account"}, &acct); err != nil {
		return err
	}
	accountID := acct.AccountNumber
	if accountID == "" {
		accountID = acct.ID
	}
	a.session.Establish(accountID)
	return nil
}

func (a *Adapter) ensure(ctx context.Context) error {
	return a.session.Ensure(ctx, a.Authenticate)
}

func (a *Adapter) GetBalance(ctx context.Context, currency string) (core.NormalizedBalance, error) {
	if err := a.ensure(ctx); err != nil {
		return core.NormalizedBalance{}, err
	}
	var acct account
	if _, err := a.client.Do(ctx, brokers.Request{Path: "/v2/account", Bucket: "account"}, &acct); err != nil {
		return core.NormalizedBalance{}, err
	}
	if currency = strings.ToUpper(strings.TrimSpace(currency)); currency == "" {
		currency = acct.Currency
	}
	total := acct.PortfolioValue
	if total.IsZero() {
		total = acct.Equity
	}
	pl, plPercent := core.SessionProfitLoss(acct.Equity, acct.LastEquity)
	return core.NormalizedBalance{
		Currency:          currency,
		Total:             total,
		Equity:            acct.Equity,
		Cash:              acct.Cash,
		BuyingPower:       acct.BuyingPower,
		Available:         acct.Cash,
		ProfitLoss:        pl,
		ProfitLossPercent: plPercent,
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]core.NormalizedPosition, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	var positions []position
	if _, err := a.client.Do(ctx, brokers.Request{Path: "/v2/positions", Bucket: "account"}, &positions); err != nil {
		return nil, err
	}
	out := make([]core.NormalizedPosition, 0, len(positions))
	for _, pos := range positions {
		side := core.PositionSideLong
		if strings.EqualFold(pos.Side, "short") {
			side = core.PositionSideShort
		}
		out = append(out, core.NormalizedPosition{
			Symbol:        pos.Symbol,
			Side:          side,
			Quantity:      pos.Qty.Abs(),
			AvgEntryPrice: pos.AvgEntryPrice,
			MarketValue:   pos.MarketValue,
			UnrealizedPnL: pos.UnrealizedPL,
			DayPnL:        pos.IntradayPL,
			CurrentPrice:  pos.CurrentPrice,
		})
	}
	return out, nil
}

func (a *Adapter) CreateOrder(ctx context.Context, spec core.OrderSpec) (core.NormalizedOrder, error) {
	if err := brokers.ValidateOrderSpec(spec); err != nil {
		return core.NormalizedOrder{}, err
	}
	if err := a.ensure(ctx); err != nil {
		return core.NormalizedOrder{}, err
	}
	req := orderRequest{
		Symbol:        brokers.NormalizeSymbol(spec.Symbol),
		Qty:           spec.Quantity.String(),
		Side:          strings.ToLower(string(spec.Side)),
		Type:          strings.ToLower(string(spec.Type)),
		TimeInForce:   timeInForce(spec.TimeInForce),
		LimitPrice:    decimalString(spec.LimitPrice),
		StopPrice:     decimalString(spec.StopPrice),
		ClientOrderID: spec.ClientOrderID,
	}
	if spec.Type == core.OrderTypeTrailingStop {
		trail := spec.TrailPercent
		if trail == nil || !trail.IsPositive() {
			trail = brokers.DecimalPtr(brokers.TrailPercent(core.ProtectiveOrderSpec{}, a.trailPercent))
		}
		req.TrailPercent = decimalString(trail)
	}
	return a.submit(ctx, req, "")
}

func (a *Adapter) submit(ctx context.Context, req orderRequest, tag core.OrderTag) (core.NormalizedOrder, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	var placed order
	_, err := a.client.Do(ctx, brokers.Request{
		Method:      http.MethodPost,
		Path:        "/v2/orders",
		Body:        req,
		Bucket:      "orders",
		Idempotency: req.ClientOrderID,
	}, &placed)
	if err != nil {
		return core.NormalizedOrder{}, brokers.AsOrderError(err, map[string]any{"symbol": req.Symbol})
	}
	normalized := a.normalize(placed)
	normalized.Tag = tag
	return normalized, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, core.NewOrderError("order id is required")
	}
	if err := a.ensure(ctx); err != nil {
		return false, err
	}
	_, err := a.client.Do(ctx, brokers.Request{
		Method: http.MethodDelete,
		Path:   "/v2/orders/" + url.PathEscape(orderID),
		Bucket: "orders",
	}, nil)
	// a 204 only acknowledges the request; the order can still fill, so the
	// next broker report decides its status
	return brokers.ResolveCancel(err)
}

func (a *Adapter) SetStopLoss(ctx context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error) {
	if err := brokers.ValidateProtectiveSpec(spec, !spec.Trailing); err != nil {
		return core.NormalizedOrder{}, err
	}
	if err := a.ensure(ctx); err != nil {
		return core.NormalizedOrder{}, err
	}
	req := orderRequest{
		Symbol:        brokers.NormalizeSymbol(spec.Symbol),
		Qty:           spec.Quantity.String(),
		Side:          strings.ToLower(string(brokers.ProtectiveSide(spec.Side))),
		TimeInForce:   timeInForce(brokers.TimeInForceOr(spec.TimeInForce, core.TimeInForceGTC)),
		ClientOrderID: "sl-" + uuid.NewString(),
	}
	switch {
	case spec.Trailing:
		req.Type = "trailing_stop"
		req.TrailPercent = decimalString(brokers.DecimalPtr(brokers.TrailPercent(spec, a.trailPercent)))
	case spec.LimitPrice != nil:
		req.Type = "stop_limit"
		req.StopPrice = decimalString(&spec.TriggerPrice)
		req.LimitPrice = decimalString(spec.LimitPrice)
	default:
		req.Type = "stop"
		req.StopPrice = decimalString(&spec.TriggerPrice)
	}
	return a.submit(ctx, req, core.OrderTagStopLoss)
}

func (a *Adapter) SetTakeProfit(ctx context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error) {
	if err := brokers.ValidateProtectiveSpec(spec, spec.LimitPrice == nil); err != nil {
		return core.NormalizedOrder{}, err
	}
	if err := a.ensure(ctx); err != nil {
		return core.NormalizedOrder{}, err
	}
	limit := spec.TriggerPrice
	if spec.LimitPrice != nil {
		limit = *spec.LimitPrice
	}
	req := orderRequest{
		Symbol:        brokers.NormalizeSymbol(spec.Symbol),
		Qty:           spec.Quantity.String(),
		Side:          strings.ToLower(string(brokers.ProtectiveSide(spec.Side))),
		Type:          "limit",
		TimeInForce:   timeInForce(brokers.TimeInForceOr(spec.TimeInForce, core.TimeInForceGTC)),
		LimitPrice:    decimalString(&limit),
		ClientOrderID: "tp-" + uuid.NewString(),
	}
	return a.submit(ctx, req, core.OrderTagTakeProfit)
}

func (a *Adapter) GetOrderHistory(ctx context.Context, filter core.OrderHistoryFilter) ([]core.NormalizedOrder, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	query := map[string]string{
		"status":    historyStatus(filter.Status),
		"direction": "desc",
	}
	if symbol := brokers.NormalizeSymbol(filter.Symbol); symbol != "" {
		query["symbols"] = symbol
	}
	if filter.From != nil {
		query["after"] = filter.From.UTC().Format(time.RFC3339)
	}
	if filter.To != nil {
		query["until"] = filter.To.UTC().Format(time.RFC3339)
	}
	if filter.Limit > 0 {
		limit := filter.Limit
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		query["limit"] = strconv.Itoa(limit)
	}

	var orders []order
	if _, err := a.client.Do(ctx, brokers.Request{Path: "/v2/orders", Query: query, Bucket: "orders"}, &orders); err != nil {
		return nil, err
	}
	out := make([]core.NormalizedOrder, 0, len(orders))
	for _, item := range orders {
		normalized := a.normalize(item)
		if filter.Status != "" && normalized.Status != filter.Status {
			continue
		}
		out = append(out, normalized)
	}
	return out, nil
}

func (a *Adapter) GetMarketPrice(ctx context.Context, symbol string) (core.MarketPrice, error) {
	symbol = brokers.NormalizeSymbol(symbol)
	if symbol == "" {
		return core.MarketPrice{}, core.NewOrderError("symbol is required")
	}
	if err := a.ensure(ctx); err != nil {
		return core.MarketPrice{}, err
	}
	var snap snapshot
	if _, err := a.client.Do(ctx, brokers.Request{
		BaseURL: a.dataURL,
		Path:    "/v2/stocks/" + url.PathEscape(symbol) + "/snapshot",
		Bucket:  "market_data",
	}, &snap); err != nil {
		return core.MarketPrice{}, err
	}
	price := core.MarketPrice{Symbol: symbol}
	if snap.LatestQuote != nil {
		price.Bid = snap.LatestQuote.BidPrice
		price.Ask = snap.LatestQuote.AskPrice
		price.BidSize = snap.LatestQuote.BidSize
		price.AskSize = snap.LatestQuote.AskSize
		price.AsOf = snap.LatestQuote.Timestamp
	}
	if snap.DailyBar != nil {
		price.Volume = snap.DailyBar.Volume
	}
	if snap.LatestTrade != nil {
		price.Last = snap.LatestTrade.Price
		if snap.LatestTrade.Timestamp.After(price.AsOf) {
			price.AsOf = snap.LatestTrade.Timestamp
		}
	}
	if price.Last.IsZero() && !price.Bid.IsZero() && !price.Ask.IsZero() {
		price.Last = price.Bid.Add(price.Ask).Div(decimal.NewFromInt(2))
	}
	return price, nil
}

func (a *Adapter) IsSymbolSupported(ctx context.Context, symbol string) (bool, error) {
	symbol = brokers.NormalizeSymbol(symbol)
	if symbol == "" {
		return false, nil
	}
	if err := a.ensure(ctx); err != nil {
		return false, err
	}
	var item asset
	_, err := a.client.Do(ctx, brokers.Request{Path: "/v2/assets/" + url.PathEscape(symbol), Bucket: "account"}, &item)
	if brokers.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return item.Tradable && strings.EqualFold(item.Status, "active"), nil
}

// GetFees reports Alpaca's commission-free equity pricing without a call.
func (a *Adapter) GetFees(_ context.Context, symbol string) (core.FeeSchedule, error) {
	return core.FeeSchedule{
		Symbol:         brokers.NormalizeSymbol(symbol),
		Currency:       "USD",
		Withdrawal:     decimal.Zero,
		CommissionFree: true,
		Notes:          "regulatory fees apply to sells; ach withdrawals are free",
	}, nil
}

func (a *Adapter) normalize(item order) core.NormalizedOrder {
	orderType := item.Type
	if orderType == "" {
		orderType = item.OrderType
	}
	normalized := core.NormalizedOrder{
		ID:             item.ID,
		ClientOrderID:  item.ClientOrderID,
		Symbol:         item.Symbol,
		Side:           core.OrderSide(strings.ToUpper(item.Side)),
		Type:           core.OrderType(strings.ToUpper(orderType)),
		Status:         Statuses.Normalize(item.Status),
		RawStatus:      item.Status,
		Quantity:       item.Qty,
		FilledQuantity: item.FilledQty,
		LimitPrice:     item.LimitPrice,
		StopPrice:      item.StopPrice,
		TrailPercent:   item.TrailPercent,
		AvgFillPrice:   item.FilledAvgPrice,
		TimeInForce:    core.TimeInForce(strings.ToUpper(item.TimeInForce)),
		SubmittedAt:    item.SubmittedAt,
		UpdatedAt:      item.UpdatedAt,
	}
	switch {
	case strings.HasPrefix(item.ClientOrderID, "sl-"):
		normalized.Tag = core.OrderTagStopLoss
	case strings.HasPrefix(item.ClientOrderID, "tp-"):
		normalized.Tag = core.OrderTagTakeProfit
	}
	return a.deps.Tracker.Apply(normalized)
}

func timeInForce(value core.TimeInForce) string {
	if value == "" {
		return "day"
	}
	return strings.ToLower(string(value))
}

func decimalString(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	text := value.String()
	return &text
}

var _ core.BrokerAdapter = (*Adapter)(nil)
