package schwab

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// brokerTime accepts Schwab's "2024-03-01T14:30:00+0000" layout as well as
// RFC 3339.
type brokerTime struct {
	time.Time
}

const brokerTimeLayout = "2006-01-02T15:04:05-0700"

func (t *brokerTime) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, layout := range []string{brokerTimeLayout, "2006-01-02T15:04:05.000-0700", time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, text); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return &time.ParseError{Layout: brokerTimeLayout, Value: text}
}

func (t *brokerTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.Time
	return &value
}

func formatBrokerTime(value time.Time) string {
	return value.UTC().Format("2006-01-02T15:04:05.000Z")
}

type accountNumber struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

type accountEnvelope struct {
	SecuritiesAccount securitiesAccount `json:"securitiesAccount"`
}

type securitiesAccount struct {
	AccountNumber   string     `json:"accountNumber"`
	Type            string     `json:"type"`
	Positions       []position `json:"positions"`
	InitialBalances balances   `json:"initialBalances"`
	CurrentBalances balances   `json:"currentBalances"`
}

type balances struct {
	CashBalance      decimal.Decimal `json:"cashBalance"`
	AvailableFunds   decimal.Decimal `json:"availableFunds"`
	BuyingPower      decimal.Decimal `json:"buyingPower"`
	LiquidationValue decimal.Decimal `json:"liquidationValue"`
	AccountValue     decimal.Decimal `json:"accountValue"`
	Equity           decimal.Decimal `json:"equity"`
}

type position struct {
	ShortQuantity        decimal.Decimal `json:"shortQuantity"`
	LongQuantity         decimal.Decimal `json:"longQuantity"`
	AveragePrice         decimal.Decimal `json:"averagePrice"`
	MarketValue          decimal.Decimal `json:"marketValue"`
	LongOpenProfitLoss   decimal.Decimal `json:"longOpenProfitLoss"`
	ShortOpenProfitLoss  decimal.Decimal `json:"shortOpenProfitLoss"`
	CurrentDayProfitLoss decimal.Decimal `json:"currentDayProfitLoss"`
	Instrument           instrument      `json:"instrument"`
}

type instrument struct {
	Symbol    string `json:"symbol"`
	AssetType string `json:"assetType"`
}

type orderLeg struct {
	Instruction string          `json:"instruction"`
	Quantity    decimal.Decimal `json:"quantity"`
	Instrument  instrument      `json:"instrument"`
}

type orderRequest struct {
	Session            string           `json:"session"`
	Duration           string           `json:"duration"`
	OrderType          string           `json:"orderType"`
	OrderStrategyType  string           `json:"orderStrategyType"`
	Price              *decimal.Decimal `json:"price,omitempty"`
	StopPrice          *decimal.Decimal `json:"stopPrice,omitempty"`
	StopPriceLinkBasis string           `json:"stopPriceLinkBasis,omitempty"`
	StopPriceLinkType  string           `json:"stopPriceLinkType,omitempty"`
	StopPriceOffset    *decimal.Decimal `json:"stopPriceOffset,omitempty"`
	OrderLegCollection []orderLeg       `json:"orderLegCollection"`
}

type previewResponse struct {
	OrderID               json.Number `json:"orderId"`
	OrderValidationResult struct {
		Rejects []validationMessage `json:"rejects"`
		Alerts  []validationMessage `json:"alerts"`
	} `json:"orderValidationResult"`
}

type validationMessage struct {
	ActivityMessage  string `json:"activityMessage"`
	OriginalSeverity string `json:"originalSeverity"`
}

type executionLeg struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type orderActivity struct {
	ExecutionLegs []executionLeg `json:"executionLegs"`
}

type order struct {
	OrderID                 json.Number      `json:"orderId"`
	Status                  string           `json:"status"`
	OrderType               string           `json:"orderType"`
	Duration                string           `json:"duration"`
	Quantity                decimal.Decimal  `json:"quantity"`
	FilledQuantity          decimal.Decimal  `json:"filledQuantity"`
	Price                   *decimal.Decimal `json:"price"`
	StopPrice               *decimal.Decimal `json:"stopPrice"`
	StopPriceOffset         *decimal.Decimal `json:"stopPriceOffset"`
	Tag                     string           `json:"tag"`
	EnteredTime             *brokerTime      `json:"enteredTime"`
	CloseTime               *brokerTime      `json:"closeTime"`
	OrderLegCollection      []orderLeg       `json:"orderLegCollection"`
	OrderActivityCollection []orderActivity  `json:"orderActivityCollection"`
}

type quoteEnvelope struct {
	Symbol string `json:"symbol"`
	Quote  struct {
		BidPrice    decimal.Decimal `json:"bidPrice"`
		AskPrice    decimal.Decimal `json:"askPrice"`
		LastPrice   decimal.Decimal `json:"lastPrice"`
		BidSize     decimal.Decimal `json:"bidSize"`
		AskSize     decimal.Decimal `json:"askSize"`
		TotalVolume decimal.Decimal `json:"totalVolume"`
		QuoteTime   int64           `json:"quoteTime"`
		TradeTime   int64           `json:"tradeTime"`
	} `json:"quote"`
}

type instrumentsResponse struct {
	Instruments []struct {
		Symbol    string `json:"symbol"`
		AssetType string `json:"assetType"`
		Exchange  string `json:"exchange"`
	} `json:"instruments"`
}
