package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brokermate/messaging/internal/config"
	"github.com/brokermate/messaging/internal/model"
)

func TestLoggingMiddleware_PassesThroughAndCapturesStatus(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}

	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}

func TestEndpointsFromConfig(t *testing.T) {
	endpoints := endpointsFromConfig(config.ChannelsConfig{
		BotAPI:  config.ChannelConfig{GatewayURL: "https://gw/bot"},
		BridgeA: config.ChannelConfig{GatewayURL: "https://gw/bridge-a"},
	})

	if endpoints[model.ChannelBotAPI].URL != "https://gw/bot" {
		t.Fatalf("unexpected bot-api endpoint: %+v", endpoints[model.ChannelBotAPI])
	}
	if endpoints[model.ChannelBotAPI].ManualConfirmation {
		t.Fatalf("bot-api must not require manual confirmation")
	}

	// Bridge channels always require manual confirmation, configured or not.
	if !endpoints[model.ChannelBridgeA].ManualConfirmation {
		t.Fatalf("bridge-a must require manual confirmation")
	}
	if !endpoints[model.ChannelBridgeB].ManualConfirmation {
		t.Fatalf("bridge-b must require manual confirmation")
	}
	if endpoints[model.ChannelBridgeB].URL != "" {
		t.Fatalf("expected bridge-b unconfigured, got %q", endpoints[model.ChannelBridgeB].URL)
	}
}

func TestDelaysFromConfig(t *testing.T) {
	delays := delaysFromConfig(config.ChannelsConfig{
		BotAPI:   config.ChannelConfig{PacingDelay: 3 * time.Second},
		Personal: config.ChannelConfig{PacingDelay: 7 * time.Second},
		BridgeA:  config.ChannelConfig{PacingDelay: 10 * time.Second},
		BridgeB:  config.ChannelConfig{PacingDelay: 12 * time.Second},
	})

	if delays[model.ChannelPersonal] != 7*time.Second {
		t.Fatalf("unexpected personal delay: %v", delays[model.ChannelPersonal])
	}
	if delays[model.ChannelBridgeB] != 12*time.Second {
		t.Fatalf("unexpected bridge-b delay: %v", delays[model.ChannelBridgeB])
	}
}
