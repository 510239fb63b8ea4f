package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	gocmd "github.com/goliatone/go-command"
	"github.com/shopspring/decimal"
)

func TestAuthorizeCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.AuthorizationURL{URL: "https://broker.example/oauth?state=st", State: "st", BrokerKey: "alpaca"}
	called := false

	svc := stubMutatingService{
		authorizeFn: func(_ context.Context, brokerKey string, userID string, session core.SessionContext, opts core.AuthorizationOptions) (core.AuthorizationURL, error) {
			called = true
			if brokerKey != "alpaca" || userID != "u1" {
				t.Fatalf("unexpected broker/user: %q %q", brokerKey, userID)
			}
			if session.ID != "sess_1" {
				t.Fatalf("expected session sess_1, got %q", session.ID)
			}
			if len(opts.Scopes) != 1 || opts.Scopes[0] != "trading" {
				t.Fatalf("unexpected scopes: %#v", opts.Scopes)
			}
			return expected, nil
		},
	}

	cmd := NewAuthorizeCommand(svc)
	collector := gocmd.NewResult[core.AuthorizationURL]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, AuthorizeMessage{
		BrokerKey: "alpaca",
		UserID:    "u1",
		Session:   core.SessionContext{ID: "sess_1"},
		Options:   core.AuthorizationOptions{Scopes: []string{"trading"}},
	})
	if err != nil {
		t.Fatalf("execute authorize: %v", err)
	}
	if !called {
		t.Fatalf("expected authorize service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.URL != expected.URL || result.State != expected.State {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestCredentialCommands_DelegateToService(t *testing.T) {
	t.Run("complete authorization", func(t *testing.T) {
		svc := stubMutatingService{
			completeFn: func(_ context.Context, req core.CallbackRequest, session core.SessionContext) (core.OAuthToken, error) {
				if req.Code != "code_1" || req.State != "st" || session.ID != "sess_1" {
					t.Fatalf("unexpected callback payload: %#v %#v", req, session)
				}
				return core.OAuthToken{UserID: "u1", BrokerKey: "schwab", IsValid: true}, nil
			},
		}
		collector := gocmd.NewResult[core.OAuthToken]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewCompleteAuthorizationCommand(svc).Execute(ctx, CompleteAuthorizationMessage{
			Request: core.CallbackRequest{BrokerKey: "schwab", Code: "code_1", State: "st"},
			Session: core.SessionContext{ID: "sess_1"},
		})
		if err != nil {
			t.Fatalf("execute complete authorization: %v", err)
		}
		token, ok := collector.Load()
		if !ok || !token.IsValid || token.BrokerKey != "schwab" {
			t.Fatalf("unexpected stored token: %#v", token)
		}
	})

	t.Run("refresh", func(t *testing.T) {
		expiresAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		svc := stubMutatingService{
			refreshFn: func(_ context.Context, brokerKey string, userID string) (core.OAuthToken, error) {
				if brokerKey != "schwab" || userID != "u1" {
					t.Fatalf("unexpected refresh payload: %q %q", brokerKey, userID)
				}
				return core.OAuthToken{UserID: userID, BrokerKey: brokerKey, ExpiresAt: &expiresAt}, nil
			},
		}
		collector := gocmd.NewResult[core.OAuthToken]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewRefreshTokenCommand(svc).Execute(ctx, RefreshTokenMessage{BrokerKey: "schwab", UserID: "u1"}); err != nil {
			t.Fatalf("execute refresh: %v", err)
		}
		token, ok := collector.Load()
		if !ok || token.ExpiresAt == nil || !token.ExpiresAt.Equal(expiresAt) {
			t.Fatalf("unexpected stored token: %#v", token)
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			disconnectFn: func(_ context.Context, brokerKey string, userID string) error {
				called = true
				if brokerKey != "alpaca" || userID != "u1" {
					t.Fatalf("unexpected disconnect payload: %q %q", brokerKey, userID)
				}
				return nil
			},
		}
		if err := NewDisconnectCommand(svc).Execute(context.Background(), DisconnectMessage{BrokerKey: "alpaca", UserID: "u1"}); err != nil {
			t.Fatalf("execute disconnect: %v", err)
		}
		if !called {
			t.Fatalf("expected disconnect invocation")
		}
	})

	t.Run("connect api key", func(t *testing.T) {
		svc := stubMutatingService{
			connectAPIKeyFn: func(_ context.Context, req core.ConnectAPIKeyRequest) (core.CredentialConnection, error) {
				if req.KeyID != "AK1" || req.Secret != "shh" {
					t.Fatalf("unexpected connect payload: %#v", req)
				}
				return core.CredentialConnection{ID: "conn_1", Status: core.ConnectionStatusPendingVerification}, nil
			},
		}
		collector := gocmd.NewResult[core.CredentialConnection]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewConnectAPIKeyCommand(svc).Execute(ctx, ConnectAPIKeyMessage{Request: core.ConnectAPIKeyRequest{
			BrokerKey: "alpaca", UserID: "u1", KeyID: "AK1", Secret: "shh",
		}})
		if err != nil {
			t.Fatalf("execute connect api key: %v", err)
		}
		conn, ok := collector.Load()
		if !ok || conn.ID != "conn_1" {
			t.Fatalf("unexpected stored connection: %#v", conn)
		}
	})

	t.Run("verify connection", func(t *testing.T) {
		svc := stubMutatingService{
			verifyFn: func(_ context.Context, brokerKey string, identity core.Identity, env core.Environment) (core.CredentialConnection, error) {
				if brokerKey != "alpaca" || identity.UserID != "u1" || !env.Sandbox {
					t.Fatalf("unexpected verify payload: %q %#v %#v", brokerKey, identity, env)
				}
				return core.CredentialConnection{ID: "conn_1", Status: core.ConnectionStatusActive}, nil
			},
		}
		collector := gocmd.NewResult[core.CredentialConnection]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewVerifyConnectionCommand(svc).Execute(ctx, VerifyConnectionMessage{
			BrokerKey:   "alpaca",
			Identity:    core.Identity{UserID: "u1"},
			Environment: core.Environment{Sandbox: true},
		})
		if err != nil {
			t.Fatalf("execute verify: %v", err)
		}
		conn, _ := collector.Load()
		if conn.Status != core.ConnectionStatusActive {
			t.Fatalf("expected active connection, got %q", conn.Status)
		}
	})

	t.Run("schedule refreshes", func(t *testing.T) {
		svc := stubMutatingService{
			scheduleFn: func(_ context.Context, window time.Duration) (int, error) {
				if window != 10*time.Minute {
					t.Fatalf("unexpected window: %s", window)
				}
				return 3, nil
			},
		}
		collector := gocmd.NewResult[int]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewScheduleRefreshesCommand(svc).Execute(ctx, ScheduleRefreshesMessage{Window: 10 * time.Minute}); err != nil {
			t.Fatalf("execute schedule: %v", err)
		}
		if scheduled, _ := collector.Load(); scheduled != 3 {
			t.Fatalf("expected 3 scheduled refreshes, got %d", scheduled)
		}
	})

	t.Run("reencrypt tokens", func(t *testing.T) {
		svc := stubMutatingService{
			reencryptFn: func(context.Context) (core.ReencryptResult, error) {
				return core.ReencryptResult{Scanned: 4, Rotated: 3, Failed: 1}, nil
			},
		}
		collector := gocmd.NewResult[core.ReencryptResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewReencryptTokensCommand(svc).Execute(ctx, ReencryptTokensMessage{}); err != nil {
			t.Fatalf("execute reencrypt: %v", err)
		}
		result, _ := collector.Load()
		if result.Rotated != 3 || result.Failed != 1 {
			t.Fatalf("unexpected reencrypt result: %#v", result)
		}
	})
}

func TestCredentialCommands_PropagateServiceErrors(t *testing.T) {
	svc := stubMutatingService{
		refreshFn: func(context.Context, string, string) (core.OAuthToken, error) {
			return core.OAuthToken{}, core.ErrTokenNotFound
		},
	}
	collector := gocmd.NewResult[core.OAuthToken]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewRefreshTokenCommand(svc).Execute(ctx, RefreshTokenMessage{BrokerKey: "schwab", UserID: "u1"})
	if err != core.ErrTokenNotFound {
		t.Fatalf("expected token not found, got %v", err)
	}
	if _, ok := collector.Load(); ok {
		t.Fatalf("expected no stored result on failure")
	}
}

func TestOrderCommands_UseResolvedAdapter(t *testing.T) {
	limit := decimal.RequireFromString("187.50")
	adapter := &stubAdapter{
		createFn: func(_ context.Context, spec core.OrderSpec) (core.NormalizedOrder, error) {
			if spec.Symbol != "AAPL" || spec.LimitPrice == nil || !spec.LimitPrice.Equal(limit) {
				t.Fatalf("unexpected order spec: %#v", spec)
			}
			return core.NormalizedOrder{ID: "ord_1", Symbol: spec.Symbol, Status: core.OrderStatusPending}, nil
		},
		cancelFn: func(_ context.Context, orderID string) (bool, error) {
			return orderID == "ord_1", nil
		},
		stopLossFn: func(_ context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error) {
			return core.NormalizedOrder{ID: "sl_1", Symbol: spec.Symbol}, nil
		},
		takeProfitFn: func(_ context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error) {
			return core.NormalizedOrder{ID: "tp_1", Symbol: spec.Symbol}, nil
		},
	}
	factory := &stubAdapterFactory{adapter: adapter}
	identity := core.Identity{UserID: "u1"}

	t.Run("place", func(t *testing.T) {
		collector := gocmd.NewResult[core.NormalizedOrder]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewPlaceOrderCommand(factory).Execute(ctx, PlaceOrderMessage{
			BrokerKey: "alpaca",
			Identity:  identity,
			Spec: core.OrderSpec{
				Symbol:     "AAPL",
				Side:       core.OrderSideBuy,
				Type:       core.OrderTypeLimit,
				Quantity:   decimal.NewFromInt(10),
				LimitPrice: &limit,
			},
		})
		if err != nil {
			t.Fatalf("execute place order: %v", err)
		}
		order, _ := collector.Load()
		if order.ID != "ord_1" || order.Status != core.OrderStatusPending {
			t.Fatalf("unexpected order: %#v", order)
		}
		if factory.lastBroker != "alpaca" || factory.lastIdentity.UserID != "u1" {
			t.Fatalf("adapter resolved for wrong owner: %q %#v", factory.lastBroker, factory.lastIdentity)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		collector := gocmd.NewResult[bool]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewCancelOrderCommand(factory).Execute(ctx, CancelOrderMessage{BrokerKey: "alpaca", Identity: identity, OrderID: "ord_1"})
		if err != nil {
			t.Fatalf("execute cancel: %v", err)
		}
		if cancelled, _ := collector.Load(); !cancelled {
			t.Fatalf("expected cancellation to be reported")
		}
	})

	t.Run("protective routes by kind", func(t *testing.T) {
		spec := core.ProtectiveOrderSpec{Symbol: "AAPL", Side: core.OrderSideSell, Quantity: decimal.NewFromInt(10), TriggerPrice: decimal.NewFromInt(180)}
		for _, tc := range []struct {
			takeProfit bool
			expectedID string
		}{
			{takeProfit: false, expectedID: "sl_1"},
			{takeProfit: true, expectedID: "tp_1"},
		} {
			collector := gocmd.NewResult[core.NormalizedOrder]()
			ctx := gocmd.ContextWithResult(context.Background(), collector)
			err := NewProtectiveOrderCommand(factory).Execute(ctx, ProtectiveOrderMessage{
				BrokerKey:  "alpaca",
				Identity:   identity,
				Spec:       spec,
				TakeProfit: tc.takeProfit,
			})
			if err != nil {
				t.Fatalf("execute protective order: %v", err)
			}
			if order, _ := collector.Load(); order.ID != tc.expectedID {
				t.Fatalf("expected %s, got %#v", tc.expectedID, order)
			}
		}
	})
}

func TestOrderCommands_AdapterResolutionFailure(t *testing.T) {
	factory := &stubAdapterFactory{err: core.NewConfigurationError("unknown broker: ibkr")}
	err := NewPlaceOrderCommand(factory).Execute(context.Background(), PlaceOrderMessage{BrokerKey: "ibkr", Identity: core.Identity{UserID: "u1"}})
	if !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestMessages_Validate(t *testing.T) {
	limit := decimal.NewFromInt(190)
	cases := []struct {
		name  string
		msg   interface{ Validate() error }
		valid bool
	}{
		{name: "authorize ok", msg: AuthorizeMessage{BrokerKey: "schwab", UserID: "u1", Session: core.SessionContext{ID: "s"}}, valid: true},
		{name: "authorize without session", msg: AuthorizeMessage{BrokerKey: "schwab", UserID: "u1"}},
		{name: "callback with provider denial", msg: CompleteAuthorizationMessage{Request: core.CallbackRequest{State: "st", Error: "access_denied"}, Session: core.SessionContext{ID: "s"}}, valid: true},
		{name: "callback without code", msg: CompleteAuthorizationMessage{Request: core.CallbackRequest{State: "st"}, Session: core.SessionContext{ID: "s"}}},
		{name: "callback without state", msg: CompleteAuthorizationMessage{Request: core.CallbackRequest{Code: "c"}, Session: core.SessionContext{ID: "s"}}},
		{name: "refresh without user", msg: RefreshTokenMessage{BrokerKey: "schwab"}},
		{name: "connect without secret", msg: ConnectAPIKeyMessage{Request: core.ConnectAPIKeyRequest{BrokerKey: "alpaca", UserID: "u1", KeyID: "AK"}}},
		{name: "negative window", msg: ScheduleRefreshesMessage{Window: -time.Second}},
		{name: "zero window", msg: ScheduleRefreshesMessage{}, valid: true},
		{name: "limit order without price", msg: PlaceOrderMessage{BrokerKey: "alpaca", Identity: core.Identity{UserID: "u1"}, Spec: core.OrderSpec{
			Symbol: "AAPL", Side: core.OrderSideBuy, Type: core.OrderTypeLimit, Quantity: decimal.NewFromInt(1),
		}}},
		{name: "cancel without order id", msg: CancelOrderMessage{BrokerKey: "alpaca", Identity: core.Identity{UserID: "u1"}}},
		{name: "trailing stop without trigger", msg: ProtectiveOrderMessage{BrokerKey: "alpaca", Identity: core.Identity{UserID: "u1"}, Spec: core.ProtectiveOrderSpec{
			Symbol: "AAPL", Side: core.OrderSideSell, Quantity: decimal.NewFromInt(1), Trailing: true,
		}}, valid: true},
		{name: "stop loss without trigger", msg: ProtectiveOrderMessage{BrokerKey: "alpaca", Identity: core.Identity{UserID: "u1"}, Spec: core.ProtectiveOrderSpec{
			Symbol: "AAPL", Side: core.OrderSideSell, Quantity: decimal.NewFromInt(1),
		}}},
		{name: "take profit with limit", msg: ProtectiveOrderMessage{BrokerKey: "alpaca", Identity: core.Identity{UserID: "u1"}, TakeProfit: true, Spec: core.ProtectiveOrderSpec{
			Symbol: "AAPL", Side: core.OrderSideSell, Quantity: decimal.NewFromInt(1), LimitPrice: &limit,
		}}, valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid message, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestProtectiveOrderMessage_TypeFollowsKind(t *testing.T) {
	if got := (ProtectiveOrderMessage{}).Type(); got != TypeSetStopLoss {
		t.Fatalf("expected stop loss type, got %q", got)
	}
	if got := (ProtectiveOrderMessage{TakeProfit: true}).Type(); got != TypeSetTakeProfit {
		t.Fatalf("expected take profit type, got %q", got)
	}
}

type stubMutatingService struct {
	authorizeFn     func(ctx context.Context, brokerKey string, userID string, session core.SessionContext, opts core.AuthorizationOptions) (core.AuthorizationURL, error)
	completeFn      func(ctx context.Context, req core.CallbackRequest, session core.SessionContext) (core.OAuthToken, error)
	refreshFn       func(ctx context.Context, brokerKey string, userID string) (core.OAuthToken, error)
	disconnectFn    func(ctx context.Context, brokerKey string, userID string) error
	connectAPIKeyFn func(ctx context.Context, req core.ConnectAPIKeyRequest) (core.CredentialConnection, error)
	verifyFn        func(ctx context.Context, brokerKey string, identity core.Identity, env core.Environment) (core.CredentialConnection, error)
	scheduleFn      func(ctx context.Context, window time.Duration) (int, error)
	reencryptFn     func(ctx context.Context) (core.ReencryptResult, error)
}

func (s stubMutatingService) GenerateAuthorizationURL(ctx context.Context, brokerKey string, userID string, session core.SessionContext, opts core.AuthorizationOptions) (core.AuthorizationURL, error) {
	if s.authorizeFn == nil {
		return core.AuthorizationURL{}, fmt.Errorf("authorize not configured")
	}
	return s.authorizeFn(ctx, brokerKey, userID, session, opts)
}

func (s stubMutatingService) CompleteAuthorization(ctx context.Context, req core.CallbackRequest, session core.SessionContext) (core.OAuthToken, error) {
	if s.completeFn == nil {
		return core.OAuthToken{}, fmt.Errorf("complete authorization not configured")
	}
	return s.completeFn(ctx, req, session)
}

func (s stubMutatingService) Refresh(ctx context.Context, brokerKey string, userID string) (core.OAuthToken, error) {
	if s.refreshFn == nil {
		return core.OAuthToken{}, fmt.Errorf("refresh not configured")
	}
	return s.refreshFn(ctx, brokerKey, userID)
}

func (s stubMutatingService) Disconnect(ctx context.Context, brokerKey string, userID string) error {
	if s.disconnectFn == nil {
		return fmt.Errorf("disconnect not configured")
	}
	return s.disconnectFn(ctx, brokerKey, userID)
}

func (s stubMutatingService) ConnectAPIKey(ctx context.Context, req core.ConnectAPIKeyRequest) (core.CredentialConnection, error) {
	if s.connectAPIKeyFn == nil {
		return core.CredentialConnection{}, fmt.Errorf("connect api key not configured")
	}
	return s.connectAPIKeyFn(ctx, req)
}

func (s stubMutatingService) VerifyConnection(ctx context.Context, brokerKey string, identity core.Identity, env core.Environment) (core.CredentialConnection, error) {
	if s.verifyFn == nil {
		return core.CredentialConnection{}, fmt.Errorf("verify connection not configured")
	}
	return s.verifyFn(ctx, brokerKey, identity, env)
}

func (s stubMutatingService) ScheduleExpiringRefreshes(ctx context.Context, window time.Duration) (int, error) {
	if s.scheduleFn == nil {
		return 0, fmt.Errorf("schedule not configured")
	}
	return s.scheduleFn(ctx, window)
}

func (s stubMutatingService) ReencryptTokens(ctx context.Context) (core.ReencryptResult, error) {
	if s.reencryptFn == nil {
		return core.ReencryptResult{}, fmt.Errorf("reencrypt not configured")
	}
	return s.reencryptFn(ctx)
}

type stubAdapterFactory struct {
	adapter      core.BrokerAdapter
	err          error
	lastBroker   string
	lastIdentity core.Identity
}

func (f *stubAdapterFactory) NewAdapter(brokerKey string, identity core.Identity, _ core.Environment) (core.BrokerAdapter, error) {
	f.lastBroker = brokerKey
	f.lastIdentity = identity
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

type stubAdapter struct {
	createFn     func(ctx context.Context, spec core.OrderSpec) (core.NormalizedOrder, error)
	cancelFn     func(ctx context.Context, orderID string) (bool, error)
	stopLossFn   func(ctx context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error)
	takeProfitFn func(ctx context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error)
}

func (a *stubAdapter) BrokerKey() string                  { return "alpaca" }
func (a *stubAdapter) IsAuthenticated() bool              { return true }
func (a *stubAdapter) AccountID() string                  { return "acct_1" }
func (a *stubAdapter) Authenticate(context.Context) error { return nil }

func (a *stubAdapter) GetBalance(context.Context, string) (core.NormalizedBalance, error) {
	return core.NormalizedBalance{}, fmt.Errorf("balance not configured")
}

func (a *stubAdapter) GetPositions(context.Context) ([]core.NormalizedPosition, error) {
	return nil, fmt.Errorf("positions not configured")
}

func (a *stubAdapter) CreateOrder(ctx context.Context, spec core.OrderSpec) (core.NormalizedOrder, error) {
	return a.createFn(ctx, spec)
}

func (a *stubAdapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return a.cancelFn(ctx, orderID)
}

func (a *stubAdapter) SetStopLoss(ctx context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error) {
	return a.stopLossFn(ctx, spec)
}

func (a *stubAdapter) SetTakeProfit(ctx context.Context, spec core.ProtectiveOrderSpec) (core.NormalizedOrder, error) {
	return a.takeProfitFn(ctx, spec)
}

func (a *stubAdapter) GetOrderHistory(context.Context, core.OrderHistoryFilter) ([]core.NormalizedOrder, error) {
	return nil, fmt.Errorf("history not configured")
}

func (a *stubAdapter) GetMarketPrice(context.Context, string) (core.MarketPrice, error) {
	return core.MarketPrice{}, fmt.Errorf("market price not configured")
}

func (a *stubAdapter) IsSymbolSupported(context.Context, string) (bool, error) {
	return true, nil
}

func (a *stubAdapter) GetFees(context.Context, string) (core.FeeSchedule, error) {
	return core.FeeSchedule{}, fmt.Errorf("fees not configured")
}
