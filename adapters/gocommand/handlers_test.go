package gocommand

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/command"
	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/chendrizzy/discord-trade-exec-sub002/query"
	gocmd "github.com/goliatone/go-command"
)

func TestRegisterCredentialHandlers_DispatchesCommandsAndQueries(t *testing.T) {
	tokens := core.NewMemoryTokenStore()
	if _, err := tokens.Save(context.Background(), core.OAuthToken{
		UserID:      "u1",
		BrokerKey:   "schwab",
		AccessToken: core.EncryptedValue{Ciphertext: []byte("c")},
		IsValid:     true,
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	svc := &stubCredentialService{}
	registry := NewRegistry(gocmd.NewRegistry())
	subscriptions, err := RegisterCredentialHandlers(registry, HandlerDependencies{
		Service:     svc,
		Tokens:      tokens,
		Connections: core.NewMemoryCredentialConnectionStore(),
		Brokers:     core.NewBrokerRegistry(),
	})
	if err != nil {
		t.Fatalf("register handlers: %v", err)
	}
	t.Cleanup(func() {
		for _, subscription := range subscriptions {
			subscription.Unsubscribe()
		}
	})
	if len(subscriptions) != 17 {
		t.Fatalf("expected 17 subscriptions, got %d", len(subscriptions))
	}

	if err := Dispatch(context.Background(), command.DisconnectMessage{BrokerKey: "alpaca", UserID: "u1"}); err != nil {
		t.Fatalf("dispatch disconnect: %v", err)
	}
	if svc.disconnects != 1 {
		t.Fatalf("expected one disconnect, got %d", svc.disconnects)
	}

	status, err := Query[query.TokenStatusMessage, query.TokenStatus](context.Background(), query.TokenStatusMessage{BrokerKey: "schwab", UserID: "u1"})
	if err != nil {
		t.Fatalf("query token status: %v", err)
	}
	if !status.Connected || !status.IsValid {
		t.Fatalf("unexpected token status: %#v", status)
	}
}

func TestRegisterCredentialHandlers_RequiresService(t *testing.T) {
	if _, err := RegisterCredentialHandlers(NewRegistry(nil), HandlerDependencies{}); err == nil {
		t.Fatalf("expected missing service error")
	}
}

type stubCredentialService struct {
	disconnects int
}

func (s *stubCredentialService) GenerateAuthorizationURL(context.Context, string, string, core.SessionContext, core.AuthorizationOptions) (core.AuthorizationURL, error) {
	return core.AuthorizationURL{}, fmt.Errorf("not used")
}

func (s *stubCredentialService) ValidateState(context.Context, string, core.SessionContext) core.StateValidation {
	return core.StateValidation{}
}

func (s *stubCredentialService) CompleteAuthorization(context.Context, core.CallbackRequest, core.SessionContext) (core.OAuthToken, error) {
	return core.OAuthToken{}, fmt.Errorf("not used")
}

func (s *stubCredentialService) Refresh(context.Context, string, string) (core.OAuthToken, error) {
	return core.OAuthToken{}, fmt.Errorf("not used")
}

func (s *stubCredentialService) AccessToken(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (s *stubCredentialService) Disconnect(context.Context, string, string) error {
	s.disconnects++
	return nil
}

func (s *stubCredentialService) ConnectAPIKey(context.Context, core.ConnectAPIKeyRequest) (core.CredentialConnection, error) {
	return core.CredentialConnection{}, fmt.Errorf("not used")
}

func (s *stubCredentialService) VerifyConnection(context.Context, string, core.Identity, core.Environment) (core.CredentialConnection, error) {
	return core.CredentialConnection{}, fmt.Errorf("not used")
}

func (s *stubCredentialService) NewAdapter(string, core.Identity, core.Environment) (core.BrokerAdapter, error) {
	return nil, fmt.Errorf("not used")
}

func (s *stubCredentialService) ScheduleExpiringRefreshes(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (s *stubCredentialService) HandleRefreshJob(context.Context, *core.JobExecutionMessage) error {
	return nil
}

func (s *stubCredentialService) ReencryptTokens(context.Context) (core.ReencryptResult, error) {
	return core.ReencryptResult{}, nil
}
