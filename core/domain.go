package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuthKind string

const (
	AuthKindOAuth2 AuthKind = "oauth2"
	AuthKindAPIKey AuthKind = "api_key"
)

// EncryptedValue is the at-rest form of a secret. The authentication tag is
// stored apart from the ciphertext so each part can be validated on read.
type EncryptedValue struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"auth_tag"`
	KeyVersion int    `json:"key_version,omitempty"`
}

func (v EncryptedValue) IsZero() bool {
	return len(v.Ciphertext) == 0 && len(v.IV) == 0 && len(v.AuthTag) == 0
}

type OAuthToken struct {
	UserID             string
	BrokerKey          string
	TenantID           string
	AccessToken        EncryptedValue
	RefreshToken       *EncryptedValue
	ExpiresAt          *time.Time
	Scopes             []string
	TokenType          string
	ConnectedAt        time.Time
	IsValid            bool
	LastRefreshError   string
	LastRefreshAttempt *time.Time
	UpdatedAt          time.Time
}

func (t OAuthToken) ExpiresWithin(now time.Time, leeway time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Add(leeway).Before(*t.ExpiresAt)
}

type AuthorizationState struct {
	State       string
	SessionID   string
	UserID      string
	BrokerKey   string
	TenantID    string
	IP          string
	UserAgent   string
	RedirectURI string
	Scopes      []string
	CreatedAt   time.Time
}

type ConnectionStatus string

const (
	ConnectionStatusActive              ConnectionStatus = "active"
	ConnectionStatusInactive            ConnectionStatus = "inactive"
	ConnectionStatusError               ConnectionStatus = "error"
	ConnectionStatusPendingVerification ConnectionStatus = "pending_verification"
)

// CredentialConnection stores API-key credentials for brokers that do not
// speak OAuth2, along with usage counters.
type CredentialConnection struct {
	ID           string
	UserID       string
	BrokerKey    string
	AccountType  string
	APIKey       EncryptedValue
	APISecret    EncryptedValue
	Status       ConnectionStatus
	LastError    string
	RequestCount int64
	ErrorCount   int64
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Identity struct {
	UserID   string
	TenantID string
}

type Environment struct {
	Sandbox bool
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

type OrderTag string

const (
	OrderTagStopLoss   OrderTag = "STOP_LOSS"
	OrderTagTakeProfit OrderTag = "TAKE_PROFIT"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// DefaultTrailPercent applies to trailing stops submitted without an explicit
// trail percentage.
var DefaultTrailPercent = decimal.NewFromInt(2)

type OrderSpec struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TrailPercent  *decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

type ProtectiveOrderSpec struct {
	Symbol       string
	Side         OrderSide
	Quantity     decimal.Decimal
	TriggerPrice decimal.Decimal
	LimitPrice   *decimal.Decimal
	Trailing     bool
	TrailPercent *decimal.Decimal
	TimeInForce  TimeInForce
}

// ResolvedTrailPercent returns the configured trail percentage or the default.
func (s ProtectiveOrderSpec) ResolvedTrailPercent() decimal.Decimal {
	if s.TrailPercent != nil && s.TrailPercent.IsPositive() {
		return *s.TrailPercent
	}
	return DefaultTrailPercent
}

type OrderHistoryFilter struct {
	Symbol string
	Status OrderStatus
	From   *time.Time
	To     *time.Time
	Limit  int
}

type NormalizedOrder struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	RawStatus      string
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	TrailPercent   *decimal.Decimal
	AvgFillPrice   *decimal.Decimal
	TimeInForce    TimeInForce
	Tag            OrderTag
	SubmittedAt    *time.Time
	UpdatedAt      *time.Time
}

type NormalizedPosition struct {
	Symbol        string
	Side          PositionSide
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	DayPnL        decimal.Decimal
	CurrentPrice  decimal.Decimal
}

// NormalizedBalance is an account snapshot. ProfitLoss is measured against
// the previous session's closing equity; ProfitLossPercent is in percent.
type NormalizedBalance struct {
	Currency          string
	Total             decimal.Decimal
	Equity            decimal.Decimal
	Cash              decimal.Decimal
	BuyingPower       decimal.Decimal
	Available         decimal.Decimal
	ProfitLoss        decimal.Decimal
	ProfitLossPercent decimal.Decimal
}

// SessionProfitLoss derives the session P&L from the current and prior
// closing equity. The percentage stays zero without a prior close.
func SessionProfitLoss(equity, lastEquity decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !lastEquity.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	pl := equity.Sub(lastEquity)
	return pl, pl.Div(lastEquity).Mul(decimal.NewFromInt(100)).Round(4)
}

type MarketPrice struct {
	Symbol  string
	Bid     decimal.Decimal
	Ask     decimal.Decimal
	Last    decimal.Decimal
	BidSize decimal.Decimal
	AskSize decimal.Decimal
	Volume  decimal.Decimal
	AsOf    time.Time
}

type FeeSchedule struct {
	Symbol         string
	Maker          decimal.Decimal
	Taker          decimal.Decimal
	Withdrawal     decimal.Decimal
	PerShare       decimal.Decimal
	Commission     decimal.Decimal
	Currency       string
	CommissionFree bool
	Notes          string
}
