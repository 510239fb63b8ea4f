package alpaca

import (
	"time"

	"github.com/shopspring/decimal"
)

type account struct {
	ID             string          `json:"id"`
	AccountNumber  string          `json:"account_number"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency"`
	Cash           decimal.Decimal `json:"cash"`
	Equity         decimal.Decimal `json:"equity"`
	LastEquity     decimal.Decimal `json:"last_equity"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
}

type position struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	IntradayPL    decimal.Decimal `json:"unrealized_intraday_pl"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
}

type orderRequest struct {
	Symbol        string  `json:"symbol"`
	Qty           string  `json:"qty"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
	LimitPrice    *string `json:"limit_price,omitempty"`
	StopPrice     *string `json:"stop_price,omitempty"`
	TrailPercent  *string `json:"trail_percent,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

type order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	OrderType      string           `json:"order_type"`
	Status         string           `json:"status"`
	TimeInForce    string           `json:"time_in_force"`
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	StopPrice      *decimal.Decimal `json:"stop_price"`
	TrailPercent   *decimal.Decimal `json:"trail_percent"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	SubmittedAt    *time.Time       `json:"submitted_at"`
	UpdatedAt      *time.Time       `json:"updated_at"`
}

type asset struct {
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	Tradable bool   `json:"tradable"`
}

type snapshot struct {
	LatestTrade *struct {
		Price     decimal.Decimal `json:"p"`
		Timestamp time.Time       `json:"t"`
	} `json:"latestTrade"`
	LatestQuote *struct {
		BidPrice  decimal.Decimal `json:"bp"`
		AskPrice  decimal.Decimal `json:"ap"`
		BidSize   decimal.Decimal `json:"bs"`
		AskSize   decimal.Decimal `json:"as"`
		Timestamp time.Time       `json:"t"`
	} `json:"latestQuote"`
	DailyBar *struct {
		Volume decimal.Decimal `json:"v"`
	} `json:"dailyBar"`
}
