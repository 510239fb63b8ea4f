package query

import (
	"context"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	goerrors "github.com/goliatone/go-errors"
)

type TokenReader interface {
	Get(ctx context.Context, userID string, brokerKey string) (core.OAuthToken, error)
}

type ConnectionReader interface {
	Get(ctx context.Context, userID string, brokerKey string) (core.CredentialConnection, error)
}

type BrokerLister interface {
	List() []core.BrokerDescriptor
}

type AdapterFactory interface {
	NewAdapter(brokerKey string, identity core.Identity, env core.Environment) (core.BrokerAdapter, error)
}

// TokenStatus describes a stored OAuth grant without exposing any secret.
type TokenStatus struct {
	BrokerKey          string
	UserID             string
	Connected          bool
	IsValid            bool
	Expired            bool
	HasRefreshToken    bool
	ExpiresAt          *time.Time
	Scopes             []string
	ConnectedAt        time.Time
	LastRefreshError   string
	LastRefreshAttempt *time.Time
}

// ConnectionView is the API-key connection record minus its credentials.
type ConnectionView struct {
	ID           string
	BrokerKey    string
	UserID       string
	AccountType  string
	Connected    bool
	Status       core.ConnectionStatus
	LastError    string
	RequestCount int64
	ErrorCount   int64
	LastUsedAt   *time.Time
}

type BrokerSummary struct {
	ID          string
	DisplayName string
	AuthKind    core.AuthKind
}

type TokenStatusQuery struct {
	reader TokenReader
	now    func() time.Time
}

func NewTokenStatusQuery(reader TokenReader) *TokenStatusQuery {
	return &TokenStatusQuery{reader: reader, now: time.Now}
}

func (q *TokenStatusQuery) Query(ctx context.Context, msg TokenStatusMessage) (TokenStatus, error) {
	if q == nil || q.reader == nil {
		return TokenStatus{}, queryDependencyError("query: token reader is required")
	}
	status := TokenStatus{
		BrokerKey: strings.ToLower(strings.TrimSpace(msg.BrokerKey)),
		UserID:    msg.UserID,
	}
	token, err := q.reader.Get(ctx, msg.UserID, msg.BrokerKey)
	if err != nil {
		if goerrors.Is(err, core.ErrTokenNotFound) {
			return status, nil
		}
		return TokenStatus{}, err
	}

	status.Connected = true
	status.IsValid = token.IsValid
	status.Expired = token.ExpiresWithin(q.now().UTC(), 0)
	status.HasRefreshToken = token.RefreshToken != nil && !token.RefreshToken.IsZero()
	status.ExpiresAt = token.ExpiresAt
	status.Scopes = append([]string(nil), token.Scopes...)
	status.ConnectedAt = token.ConnectedAt
	status.LastRefreshError = token.LastRefreshError
	status.LastRefreshAttempt = token.LastRefreshAttempt
	return status, nil
}

type ConnectionStatusQuery struct {
	reader ConnectionReader
}

func NewConnectionStatusQuery(reader ConnectionReader) *ConnectionStatusQuery {
	return &ConnectionStatusQuery{reader: reader}
}

func (q *ConnectionStatusQuery) Query(ctx context.Context, msg ConnectionStatusMessage) (ConnectionView, error) {
	if q == nil || q.reader == nil {
		return ConnectionView{}, queryDependencyError("query: connection reader is required")
	}
	view := ConnectionView{
		BrokerKey: strings.ToLower(strings.TrimSpace(msg.BrokerKey)),
		UserID:    msg.UserID,
	}
	conn, err := q.reader.Get(ctx, msg.UserID, msg.BrokerKey)
	if err != nil {
		if goerrors.Is(err, core.ErrConnectionNotFound) {
			return view, nil
		}
		return ConnectionView{}, err
	}
	view.ID = conn.ID
	view.AccountType = conn.AccountType
	view.Connected = true
	view.Status = conn.Status
	view.LastError = conn.LastError
	view.RequestCount = conn.RequestCount
	view.ErrorCount = conn.ErrorCount
	view.LastUsedAt = conn.LastUsedAt
	return view, nil
}

type ListBrokersQuery struct {
	lister BrokerLister
}

func NewListBrokersQuery(lister BrokerLister) *ListBrokersQuery {
	return &ListBrokersQuery{lister: lister}
}

func (q *ListBrokersQuery) Query(_ context.Context, msg ListBrokersMessage) ([]BrokerSummary, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: broker registry is required")
	}
	descriptors := q.lister.List()
	out := make([]BrokerSummary, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if msg.AuthKind != "" && descriptor.AuthKind != msg.AuthKind {
			continue
		}
		out = append(out, BrokerSummary{
			ID:          descriptor.ID,
			DisplayName: descriptor.DisplayName,
			AuthKind:    descriptor.AuthKind,
		})
	}
	return out, nil
}

type OrderHistoryQuery struct {
	adapters AdapterFactory
}

func NewOrderHistoryQuery(adapters AdapterFactory) *OrderHistoryQuery {
	return &OrderHistoryQuery{adapters: adapters}
}

func (q *OrderHistoryQuery) Query(ctx context.Context, msg OrderHistoryMessage) ([]core.NormalizedOrder, error) {
	if q == nil || q.adapters == nil {
		return nil, queryDependencyError("query: broker adapter factory is required")
	}
	adapter, err := q.adapters.NewAdapter(msg.BrokerKey, msg.Identity, msg.Environment)
	if err != nil {
		return nil, err
	}
	return adapter.GetOrderHistory(ctx, msg.Filter)
}

type MarketPriceQuery struct {
	adapters AdapterFactory
}

func NewMarketPriceQuery(adapters AdapterFactory) *MarketPriceQuery {
	return &MarketPriceQuery{adapters: adapters}
}

func (q *MarketPriceQuery) Query(ctx context.Context, msg MarketPriceMessage) (core.MarketPrice, error) {
	if q == nil || q.adapters == nil {
		return core.MarketPrice{}, queryDependencyError("query: broker adapter factory is required")
	}
	adapter, err := q.adapters.NewAdapter(msg.BrokerKey, msg.Identity, msg.Environment)
	if err != nil {
		return core.MarketPrice{}, err
	}
	return adapter.GetMarketPrice(ctx, msg.Symbol)
}

type PositionsQuery struct {
	adapters AdapterFactory
}

func NewPositionsQuery(adapters AdapterFactory) *PositionsQuery {
	return &PositionsQuery{adapters: adapters}
}

func (q *PositionsQuery) Query(ctx context.Context, msg PositionsMessage) ([]core.NormalizedPosition, error) {
	if q == nil || q.adapters == nil {
		return nil, queryDependencyError("query: broker adapter factory is required")
	}
	adapter, err := q.adapters.NewAdapter(msg.BrokerKey, msg.Identity, msg.Environment)
	if err != nil {
		return nil, err
	}
	return adapter.GetPositions(ctx)
}
