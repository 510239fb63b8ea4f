package schwab

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/brokers"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

const (
	BrokerKey = "schwab"

	TraderURL     = "https://api.schwabapi.com/trader/v1"
	MarketDataURL = "https://api.schwabapi.com/marketdata/v1"

	maxHistoryResults    = 3000
	defaultHistoryWindow = 60 * 24 * time.Hour
	// reconcileSkew extends the reconcile window past now for a broker clock
	// running ahead of ours. The window never reaches back before the preview.
	reconcileSkew = 2 * time.Minute
)

type Options struct {
	// AccountNumber picks one of several linked accounts. Empty means the
	// first account the broker lists.
	AccountNumber string
	TraderURL     string
	MarketDataURL string
	Timeout       time.Duration
	Now           func() time.Time
}

// Adapter drives the Schwab trader API for one user. Orders go through a
// preview before they are placed.
type Adapter struct {
	identity     core.Identity
	deps         core.AdapterDependencies
	opts         Options
	session      *brokers.Session
	client       *brokers.Client
	marketURL    string
	trailPercent float64
	logger       core.Logger
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
	if env.Sandbox {
		return nil, core.NewConfigurationError("schwab: paper trading is not offered by the trader api")
	}
	if deps.Transport == nil {
		return nil, core.NewConfigurationError("schwab: transport is required")
	}
	if deps.Tokens == nil {
		return nil, core.NewConfigurationError("schwab: access token source is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	traderURL := opts.TraderURL
	if traderURL == "" {
		traderURL = TraderURL
	}
	marketURL := opts.MarketDataURL
	if marketURL == "" {
		marketURL = MarketDataURL
	}

	adapter := &Adapter{
		identity:     identity,
		deps:         deps,
		opts:         opts,
		session:      &brokers.Session{},
		marketURL:    marketURL,
		trailPercent: deps.TrailPercent,
		logger:       glog.Ensure(deps.Logger),
	}
	adapter.client = &brokers.Client{
		BrokerKey: BrokerKey,
		BaseURL:   traderURL,
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
	token, err := a.deps.Tokens.AccessToken(ctx, BrokerKey, a.identity.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// Authenticate resolves the account hash that every account URL is keyed by.
func (a *Adapter) Authenticate(ctx context.Context) error {
	var accounts []accountNumber
	if _, err := a.client.Do(ctx, brokers.Request{Path: "/accounts/accountNumbers", Bucket: "account"}, &accounts); err != nil {
		return err
	}
	for _, item := range accounts {
		if a.opts.AccountNumber != "" && item.AccountNumber != a.opts.AccountNumber {
			continue
		}
		if item.HashValue == "" {
			continue
		}
		a.session.EstablishWithReference(item.AccountNumber, item.HashValue)
		return nil
	}
	return core.NewAuthenticationRequired("schwab: no linked brokerage account")
}

func (a *Adapter) ensure(ctx context.Context) error {
	return a.session.Ensure(ctx, a.Authenticate)
}

func (a *Adapter) accountPath() string {
	return "/accounts/" + url.PathEscape(a.session.Reference())
}

func (a *Adapter) account(ctx context.Context, fields string) (securitiesAccount, error) {
	if err := a.ensure(ctx); err != nil {
		return securitiesAccount{}, err
	}
	var query map[string]string
	if fields != "" {
		query = map[string]string{"fields": fields}
	}
	var envelope accountEnvelope
	if _, err := a.client.Do(ctx, brokers.Request{Path: a.accountPath(), Query: query, Bucket: "account"}, &envelope); err != nil {
		return securitiesAccount{}, err
	}
	return envelope.SecuritiesAccount, nil
}

// GetBalance reports USD balances; Schwab brokerage accounts are USD only.
func (a *Adapter) GetBalance(ctx context.Context, _ string) (core.NormalizedBalance, error) {
	acct, err := a.account(ctx, "")
	if err != nil {
		return core.NormalizedBalance{}, err
	}
	bal := acct.CurrentBalances
	equity := bal.LiquidationValue
	if equity.IsZero() {
		equity = bal.Equity
	}
	// initial balances are the start-of-day snapshot
	opening := acct.InitialBalances.AccountValue
	if opening.IsZero() {
		opening = acct.InitialBalances.LiquidationValue
	}
	pl, plPercent := core.SessionProfitLoss(equity, opening)
	return core.NormalizedBalance{
		Currency:          "USD",
		Total:             equity,
		Equity:            equity,
		Cash:              bal.CashBalance,
		BuyingPower:       bal.BuyingPower,
		Available:         bal.AvailableFunds,
		ProfitLoss:        pl,
		ProfitLossPercent: plPercent,
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]core.NormalizedPosition, error) {
	acct, err := a.account(ctx, "positions")
	if err != nil {
		return nil, err
	}
	out := make([]core.NormalizedPosition, 0, len(acct.Positions))
	for _, pos := range acct.Positions {
		normalized := core.NormalizedPosition{
			Symbol:        pos.Instrument.Symbol,
			Side:          core.PositionSideLong,
			Quantity:      pos.LongQuantity,
			AvgEntryPrice: pos.AveragePrice,
			MarketValue:   pos.MarketValue,
			UnrealizedPnL: pos.LongOpenProfitLoss,
			DayPnL:        pos.CurrentDayProfitLoss,
		}
		if pos.ShortQuantity.IsPositive() && !pos.LongQuantity.IsPositive() {
			normalized.Side = core.PositionSideShort
			normalized.Quantity = pos.ShortQuantity
			normalized.UnrealizedPnL = pos.ShortOpenProfitLoss
		}
		if normalized.Quantity.IsPositive() {
			normalized.CurrentPrice = pos.MarketValue.Abs().Div(normalized.Quantity)
		}
		out = append(out, normalized)
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
	spec.Symbol = brokers.NormalizeSymbol(spec.Symbol)
	req := orderRequest{
		Session:           "NORMAL",
		Duration:          duration(spec.TimeInForce),
		OrderType:         string(spec.Type),
		OrderStrategyType: "SINGLE",
		Price:             spec.LimitPrice,
		StopPrice:         spec.StopPrice,
		OrderLegCollection: []orderLeg{
			equityLeg(spec.Side, spec.Quantity, spec.Symbol),
		},
	}
	if spec.Type == core.OrderTypeTrailingStop {
		trail := spec.TrailPercent
		if trail == nil || !trail.IsPositive() {
			trail = brokers.DecimalPtr(brokers.TrailPercent(core.ProtectiveOrderSpec{}, a.trailPercent))
		}
		trailing(&req, *trail)
		spec.TrailPercent = trail
	}
	return a.execute(ctx, spec, req, "")
}

func (a *Adapter) SetStopLoss(ctx context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error) {
	if err := brokers.ValidateProtectiveSpec(spec, !spec.Trailing); err != nil {
		return core.NormalizedOrder{}, err
	}
	if err := a.ensure(ctx); err != nil {
		return core.NormalizedOrder{}, err
	}
	side := brokers.ProtectiveSide(spec.Side)
	symbol := brokers.NormalizeSymbol(spec.Symbol)
	req := orderRequest{
		Session:            "NORMAL",
		Duration:           duration(brokers.TimeInForceOr(spec.TimeInForce, core.TimeInForceGTC)),
		OrderStrategyType:  "SINGLE",
		OrderLegCollection: []orderLeg{equityLeg(side, spec.Quantity, symbol)},
	}
	orderType := core.OrderTypeStop
	switch {
	case spec.Trailing:
		orderType = core.OrderTypeTrailingStop
		trailing(&req, brokers.TrailPercent(spec, a.trailPercent))
	case spec.LimitPrice != nil:
		orderType = core.OrderTypeStopLimit
		req.StopPrice = brokers.DecimalPtr(spec.TriggerPrice)
		req.Price = spec.LimitPrice
	default:
		req.StopPrice = brokers.DecimalPtr(spec.TriggerPrice)
	}
	req.OrderType = string(orderType)
	return a.execute(ctx, core.OrderSpec{
		Symbol:       symbol,
		Side:         side,
		Type:         orderType,
		Quantity:     spec.Quantity,
		LimitPrice:   req.Price,
		StopPrice:    req.StopPrice,
		TrailPercent: req.StopPriceOffset,
	}, req, core.OrderTagStopLoss)
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
	side := brokers.ProtectiveSide(spec.Side)
	symbol := brokers.NormalizeSymbol(spec.Symbol)
	req := orderRequest{
		Session:            "NORMAL",
		Duration:           duration(brokers.TimeInForceOr(spec.TimeInForce, core.TimeInForceGTC)),
		OrderType:          string(core.OrderTypeLimit),
		OrderStrategyType:  "SINGLE",
		Price:              &limit,
		OrderLegCollection: []orderLeg{equityLeg(side, spec.Quantity, symbol)},
	}
	return a.execute(ctx, core.OrderSpec{
		Symbol:     symbol,
		Side:       side,
		Type:       core.OrderTypeLimit,
		Quantity:   spec.Quantity,
		LimitPrice: &limit,
	}, req, core.OrderTagTakeProfit)
}

func (a *Adapter) execute(ctx context.Context, spec core.OrderSpec, req orderRequest, tag core.OrderTag) (core.NormalizedOrder, error) {
	flow := brokers.TwoPhaseOrder{
		BrokerKey: BrokerKey,
		Preview: func(ctx context.Context, spec core.OrderSpec) (brokers.Preview, error) {
			return a.preview(ctx, spec, req)
		},
		Place: func(ctx context.Context, preview brokers.Preview) (core.NormalizedOrder, error) {
			return a.place(ctx, preview, req)
		},
		Reconcile: a.reconcile,
		Cancel:    a.CancelOrder,
		Logger:    a.logger,
	}
	placed, err := flow.Execute(ctx, spec)
	if err != nil {
		return core.NormalizedOrder{}, err
	}
	placed.Tag = tag
	return placed, nil
}

func (a *Adapter) preview(ctx context.Context, spec core.OrderSpec, req orderRequest) (brokers.Preview, error) {
	previewedAt := a.opts.Now().UTC()
	var result previewResponse
	_, err := a.client.Do(ctx, brokers.Request{
		Method: http.MethodPost,
		Path:   a.accountPath() + "/previewOrder",
		Body:   req,
		Bucket: "orders",
	}, &result)
	if err != nil {
		return brokers.Preview{}, brokers.AsOrderError(err, map[string]any{"symbol": spec.Symbol, "phase": "preview"})
	}
	if rejects := result.OrderValidationResult.Rejects; len(rejects) > 0 {
		messages := make([]string, 0, len(rejects))
		for _, reject := range rejects {
			if text := strings.TrimSpace(reject.ActivityMessage); text != "" {
				messages = append(messages, text)
			}
		}
		return brokers.Preview{}, core.NewOrderError(strings.Join(messages, "; "), map[string]any{
			"broker_key": BrokerKey,
			"symbol":     spec.Symbol,
			"phase":      "preview",
		})
	}
	return brokers.Preview{
		ID:   result.OrderID.String(),
		Spec: spec,
		Metadata: map[string]any{
			"previewed_at": previewedAt,
		},
	}, nil
}

func (a *Adapter) place(ctx context.Context, preview brokers.Preview, req orderRequest) (core.NormalizedOrder, error) {
	response, err := a.client.Do(ctx, brokers.Request{
		Method: http.MethodPost,
		Path:   a.accountPath() + "/orders",
		Body:   req,
		Bucket: "orders",
	}, nil)
	if err != nil {
		return core.NormalizedOrder{}, brokers.AsOrderError(err, map[string]any{"symbol": preview.Spec.Symbol, "phase": "place"})
	}

	pending := core.NormalizedOrder{
		Symbol:      preview.Spec.Symbol,
		Side:        preview.Spec.Side,
		Type:        preview.Spec.Type,
		Status:      core.OrderStatusPending,
		Quantity:    preview.Spec.Quantity,
		LimitPrice:  req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: timeInForce(req.Duration),
	}
	orderID := orderIDFromLocation(response.Header("Location"))
	if orderID == "" {
		// the order exists but the broker did not say which one it is
		if found, ok, lookupErr := a.reconcile(ctx, preview); lookupErr == nil && ok {
			return found, nil
		}
		a.logger.Info("schwab order placed without location", "preview_id", preview.ID, "symbol", preview.Spec.Symbol)
		return pending, nil
	}
	pending.ID = orderID

	placed, err := a.getOrder(ctx, orderID)
	if err != nil {
		a.logger.Error("schwab order lookup after placement failed", "order_id", orderID, "error", err.Error())
		return a.deps.Tracker.Apply(pending), nil
	}
	return placed, nil
}

// reconcile looks for the order a failed or silent placement created. Only
// orders entered at or after the preview qualify: an identical order placed
// earlier belongs to the user and must never be adopted or cancelled.
func (a *Adapter) reconcile(ctx context.Context, preview brokers.Preview) (core.NormalizedOrder, bool, error) {
	previewedAt, _ := preview.Metadata["previewed_at"].(time.Time)
	if previewedAt.IsZero() {
		previewedAt = a.opts.Now().UTC()
	}
	orders, err := a.listOrders(ctx, previewedAt, a.opts.Now().Add(reconcileSkew), 50, "")
	if err != nil {
		return core.NormalizedOrder{}, false, err
	}
	var match *core.NormalizedOrder
	for i := range orders {
		candidate := orders[i]
		if candidate.SubmittedAt == nil || candidate.SubmittedAt.Before(previewedAt) {
			continue
		}
		if !matchesSpec(candidate, preview.Spec) {
			continue
		}
		if match == nil || newer(candidate, *match) {
			match = &orders[i]
		}
	}
	if match == nil {
		return core.NormalizedOrder{}, false, nil
	}
	return *match, true, nil
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
		Path:   a.accountPath() + "/orders/" + url.PathEscape(orderID),
		Bucket: "orders",
	}, nil)
	// the cancel is only requested here; the order may still fill
	return brokers.ResolveCancel(err)
}

func (a *Adapter) GetOrderHistory(ctx context.Context, filter core.OrderHistoryFilter) ([]core.NormalizedOrder, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	to := a.opts.Now().UTC()
	if filter.To != nil {
		to = filter.To.UTC()
	}
	from := to.Add(-defaultHistoryWindow)
	if filter.From != nil {
		from = filter.From.UTC()
	}
	limit := filter.Limit
	if limit <= 0 || limit > maxHistoryResults {
		limit = maxHistoryResults
	}
	symbol := brokers.NormalizeSymbol(filter.Symbol)
	status, exact := brokerStatus(filter.Status)
	fetch := limit
	if symbol != "" || !exact {
		// these filters run after the fetch, so take the widest page and trim
		fetch = maxHistoryResults
	}
	orders, err := a.listOrders(ctx, from, to, fetch, status)
	if err != nil {
		return nil, err
	}
	out := make([]core.NormalizedOrder, 0, len(orders))
	for _, item := range orders {
		if symbol != "" && brokers.NormalizeSymbol(item.Symbol) != symbol {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *Adapter) listOrders(ctx context.Context, from, to time.Time, limit int, status string) ([]core.NormalizedOrder, error) {
	query := map[string]string{
		"fromEnteredTime": formatBrokerTime(from),
		"toEnteredTime":   formatBrokerTime(to),
		"maxResults":      strconv.Itoa(limit),
	}
	if status != "" {
		query["status"] = status
	}
	var orders []order
	_, err := a.client.Do(ctx, brokers.Request{
		Path:   a.accountPath() + "/orders",
		Query:  query,
		Bucket: "orders",
	}, &orders)
	if err != nil {
		return nil, err
	}
	out := make([]core.NormalizedOrder, 0, len(orders))
	for _, item := range orders {
		out = append(out, a.normalize(item))
	}
	return out, nil
}

func (a *Adapter) getOrder(ctx context.Context, orderID string) (core.NormalizedOrder, error) {
	var item order
	if _, err := a.client.Do(ctx, brokers.Request{
		Path:   a.accountPath() + "/orders/" + url.PathEscape(orderID),
		Bucket: "orders",
	}, &item); err != nil {
		return core.NormalizedOrder{}, err
	}
	return a.normalize(item), nil
}

func (a *Adapter) GetMarketPrice(ctx context.Context, symbol string) (core.MarketPrice, error) {
	symbol = brokers.NormalizeSymbol(symbol)
	if symbol == "" {
		return core.MarketPrice{}, core.NewOrderError("symbol is required")
	}
	if err := a.ensure(ctx); err != nil {
		return core.MarketPrice{}, err
	}
	var quotes map[string]quoteEnvelope
	if _, err := a.client.Do(ctx, brokers.Request{
		BaseURL: a.marketURL,
		Path:    "/quotes",
		Query:   map[string]string{"symbols": symbol, "fields": "quote"},
		Bucket:  "market_data",
	}, &quotes); err != nil {
		return core.MarketPrice{}, err
	}
	entry, ok := quotes[symbol]
	if !ok {
		return core.MarketPrice{}, goerrors.New("schwab: no quote for "+symbol, goerrors.CategoryNotFound).
			WithCode(http.StatusNotFound).
			WithTextCode(core.ErrorBrokerOperationFailed).
			WithMetadata(map[string]any{"symbol": symbol})
	}
	price := core.MarketPrice{
		Symbol:  symbol,
		Bid:     entry.Quote.BidPrice,
		Ask:     entry.Quote.AskPrice,
		Last:    entry.Quote.LastPrice,
		BidSize: entry.Quote.BidSize,
		AskSize: entry.Quote.AskSize,
		Volume:  entry.Quote.TotalVolume,
	}
	stamp := entry.Quote.QuoteTime
	if entry.Quote.TradeTime > stamp {
		stamp = entry.Quote.TradeTime
	}
	if stamp > 0 {
		price.AsOf = time.UnixMilli(stamp).UTC()
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
	var result instrumentsResponse
	_, err := a.client.Do(ctx, brokers.Request{
		BaseURL: a.marketURL,
		Path:    "/instruments",
		Query:   map[string]string{"symbol": symbol, "projection": "symbol-search"},
		Bucket:  "market_data",
	}, &result)
	if brokers.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, item := range result.Instruments {
		if brokers.NormalizeSymbol(item.Symbol) != symbol {
			continue
		}
		switch strings.ToUpper(item.AssetType) {
		case "EQUITY", "ETF":
			return true, nil
		}
	}
	return false, nil
}

// GetFees reports Schwab's published online equity pricing.
func (a *Adapter) GetFees(_ context.Context, symbol string) (core.FeeSchedule, error) {
	return core.FeeSchedule{
		Symbol:         brokers.NormalizeSymbol(symbol),
		Currency:       "USD",
		Withdrawal:     decimal.Zero,
		CommissionFree: true,
		Notes:          "online equity trades are commission free; options are $0.65 per contract; wire withdrawals may be charged",
	}, nil
}

func (a *Adapter) normalize(item order) core.NormalizedOrder {
	normalized := core.NormalizedOrder{
		ID:             item.OrderID.String(),
		Type:           core.OrderType(strings.ToUpper(item.OrderType)),
		Status:         Statuses.Normalize(item.Status),
		RawStatus:      item.Status,
		Quantity:       item.Quantity,
		FilledQuantity: item.FilledQuantity,
		LimitPrice:     item.Price,
		StopPrice:      item.StopPrice,
		TimeInForce:    timeInForce(item.Duration),
		SubmittedAt:    item.EnteredTime.ptr(),
		UpdatedAt:      item.CloseTime.ptr(),
	}
	if normalized.UpdatedAt == nil {
		normalized.UpdatedAt = normalized.SubmittedAt
	}
	if len(item.OrderLegCollection) > 0 {
		leg := item.OrderLegCollection[0]
		normalized.Symbol = leg.Instrument.Symbol
		normalized.Side = side(leg.Instruction)
	}
	if normalized.Type == core.OrderTypeTrailingStop {
		normalized.TrailPercent = item.StopPriceOffset
	}
	switch normalized.Status {
	case core.OrderStatusPending, core.OrderStatusAccepted:
		if item.FilledQuantity.IsPositive() {
			normalized.Status = core.OrderStatusPartiallyFilled
		}
	}
	normalized.AvgFillPrice = averageFill(item.OrderActivityCollection)
	return a.deps.Tracker.Apply(normalized)
}

// brokerStatus picks the Schwab status filter for a canonical status. It
// reports false when the broker cannot express the filter in one value.
func brokerStatus(status core.OrderStatus) (string, bool) {
	if status == "" {
		return "", true
	}
	raw := Statuses.Reverse(status)
	if len(raw) != 1 {
		return "", false
	}
	return strings.ToUpper(raw[0]), true
}

func matchesSpec(candidate core.NormalizedOrder, spec core.OrderSpec) bool {
	if candidate.Symbol != spec.Symbol || candidate.Side != spec.Side || candidate.Type != spec.Type {
		return false
	}
	if !candidate.Quantity.Equal(spec.Quantity) {
		return false
	}
	if spec.Type == core.OrderTypeTrailingStop {
		return samePrice(candidate.TrailPercent, spec.TrailPercent)
	}
	return samePrice(candidate.LimitPrice, spec.LimitPrice) && samePrice(candidate.StopPrice, spec.StopPrice)
}

func samePrice(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func averageFill(activities []orderActivity) *decimal.Decimal {
	total := decimal.Zero
	quantity := decimal.Zero
	for _, activity := range activities {
		for _, leg := range activity.ExecutionLegs {
			total = total.Add(leg.Price.Mul(leg.Quantity))
			quantity = quantity.Add(leg.Quantity)
		}
	}
	if !quantity.IsPositive() {
		return nil
	}
	return brokers.DecimalPtr(total.Div(quantity).Round(4))
}

func equityLeg(side core.OrderSide, quantity decimal.Decimal, symbol string) orderLeg {
	return orderLeg{
		Instruction: string(side),
		Quantity:    quantity,
		Instrument:  instrument{Symbol: symbol, AssetType: "EQUITY"},
	}
}

func trailing(req *orderRequest, percent decimal.Decimal) {
	req.OrderType = string(core.OrderTypeTrailingStop)
	req.StopPriceLinkBasis = "MARK"
	req.StopPriceLinkType = "PERCENT"
	req.StopPriceOffset = &percent
	req.Price = nil
	req.StopPrice = nil
}

func side(instruction string) core.OrderSide {
	switch strings.ToUpper(instruction) {
	case "SELL", "SELL_SHORT", "SELL_TO_OPEN", "SELL_TO_CLOSE":
		return core.OrderSideSell
	default:
		return core.OrderSideBuy
	}
}

func duration(tif core.TimeInForce) string {
	switch tif {
	case core.TimeInForceGTC:
		return "GOOD_TILL_CANCEL"
	case core.TimeInForceIOC:
		return "IMMEDIATE_OR_CANCEL"
	case core.TimeInForceFOK:
		return "FILL_OR_KILL"
	default:
		return "DAY"
	}
}

func timeInForce(value string) core.TimeInForce {
	switch strings.ToUpper(value) {
	case "GOOD_TILL_CANCEL":
		return core.TimeInForceGTC
	case "IMMEDIATE_OR_CANCEL":
		return core.TimeInForceIOC
	case "FILL_OR_KILL":
		return core.TimeInForceFOK
	default:
		return core.TimeInForceDay
	}
}

func orderIDFromLocation(location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}
	if parsed, err := url.Parse(location); err == nil {
		location = parsed.Path
	}
	id := path.Base(strings.TrimRight(location, "/"))
	if id == "." || id == "/" || id == "orders" {
		return ""
	}
	return id
}

func newer(left, right core.NormalizedOrder) bool {
	switch {
	case left.SubmittedAt == nil:
		return false
	case right.SubmittedAt == nil:
		return true
	default:
		return left.SubmittedAt.After(*right.SubmittedAt)
	}
}

var _ core.BrokerAdapter = (*Adapter)(nil)
