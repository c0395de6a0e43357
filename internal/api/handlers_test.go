package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brokermate/messaging/internal/broadcast"
	"github.com/brokermate/messaging/internal/channel"
	"github.com/brokermate/messaging/internal/dispatch"
	"github.com/brokermate/messaging/internal/ledger"
	"github.com/brokermate/messaging/internal/model"
	"github.com/brokermate/messaging/internal/retry"
	"github.com/brokermate/messaging/internal/session"
)

// okAdapter accepts everything; a slow variant holds sends open so tests
// can observe mid-run state.
type okAdapter struct {
	mu    sync.Mutex
	delay time.Duration
	calls int
}

func (a *okAdapter) Send(ctx context.Context, req channel.SendRequest) channel.Result {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return channel.Result{Success: true, ExternalID: "ext-1"}
}

func (a *okAdapter) Configured(ch model.Channel) bool { return ch != model.ChannelBridgeB }

func (a *okAdapter) RequiresManualConfirmation(ch model.Channel) bool { return false }

type staticAudience struct{ n int }

func (s staticAudience) Resolve(ctx context.Context, ch model.Channel, filter string) ([]model.Recipient, error) {
	out := make([]model.Recipient, s.n)
	for i := range out {
		out[i] = model.Recipient{Ref: "client", Address: "chat", Variables: map[string]string{}}
	}
	return out, nil
}

func newTestServer(t *testing.T, adapter channel.Adapter, audienceSize int) (http.Handler, *session.Monitor, *ledger.Memory) {
	t.Helper()

	mem := ledger.NewMemory()
	health := session.NewMonitor()
	disp := dispatch.NewDispatcher(adapter, mem, retry.NewScheduler(), health)
	engine := broadcast.NewEngine(disp, adapter, mem, mem, staticAudience{n: audienceSize}, broadcast.Config{
		Delays: map[model.Channel]time.Duration{
			model.ChannelBotAPI:   time.Millisecond,
			model.ChannelPersonal: time.Millisecond,
			model.ChannelBridgeA:  time.Millisecond,
			model.ChannelBridgeB:  time.Millisecond,
		},
		PollInterval: time.Millisecond,
	})

	h := NewHandler(disp, engine, mem, health)
	return Router(h), health, mem
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func TestSendMessage_ReturnsAcceptedWithMessage(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestServer(t, &okAdapter{}, 0)

	body := `{"conversation":"conv-1","recipient":"chat-1","channel":"bot-api","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%q", rr.Code, rr.Body.String())
	}

	got := decodeJSON(t, rr)
	if got["id"] == "" || got["id"] == nil {
		t.Fatalf("expected message id in response, got %v", got)
	}
	if got["channel"] != "bot-api" {
		t.Fatalf("expected channel bot-api, got %v", got["channel"])
	}
}

func TestSendMessage_ValidationErrors(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestServer(t, &okAdapter{}, 0)

	cases := []struct {
		name string
		body string
	}{
		{"missing recipient", `{"channel":"bot-api","content":"x"}`},
		{"missing content", `{"recipient":"r","channel":"bot-api"}`},
		{"unknown channel", `{"recipient":"r","channel":"morse","content":"x"}`},
		{"unconfigured channel", `{"recipient":"r","channel":"bridge-b","content":"x"}`},
		{"bad json", `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestServer(t, &okAdapter{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/messages/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestResendMessage_ConflictForSentMessage(t *testing.T) {
	t.Parallel()

	router, _, mem := newTestServer(t, &okAdapter{}, 0)

	body := `{"conversation":"conv-1","recipient":"chat-1","channel":"bot-api","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	id := decodeJSON(t, rr)["id"].(string)

	// Wait for the background delivery to finalize as sent.
	deadline := time.Now().Add(time.Second)
	for {
		msg, err := mem.Get(context.Background(), id)
		if err == nil && msg.Status == model.StatusSent {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for sent status")
		}
		time.Sleep(2 * time.Millisecond)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/messages/"+id+"/resend", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for resend of sent message, got %d", rr.Code)
	}
}

func TestBroadcastLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestServer(t, &okAdapter{delay: 20 * time.Millisecond}, 5)

	body := `{"template":"hi {first_name}","channel":"bot-api","audienceFilter":""}`
	req := httptest.NewRequest(http.MethodPost, "/v1/broadcasts", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%q", rr.Code, rr.Body.String())
	}
	started := decodeJSON(t, rr)
	id := started["id"].(string)
	if started["status"] != string(model.BroadcastInProgress) {
		t.Fatalf("expected in_progress, got %v", started["status"])
	}
	if started["totalRecipients"] != float64(5) {
		t.Fatalf("expected total 5, got %v", started["totalRecipients"])
	}

	// Pause, observe, resume.
	req = httptest.NewRequest(http.MethodPost, "/v1/broadcasts/"+id+"/pause", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on pause, got %d body=%q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/broadcasts/"+id, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	progress := decodeJSON(t, rr)
	sum := progress["sentCount"].(float64) + progress["failedCount"].(float64)
	if sum > 5 {
		t.Fatalf("counter invariant violated: %v", progress)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/broadcasts/"+id+"/resume", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on resume, got %d", rr.Code)
	}

	// Cancel and confirm terminal state via progress endpoint.
	req = httptest.NewRequest(http.MethodPost, "/v1/broadcasts/"+id+"/cancel", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d body=%q", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		req = httptest.NewRequest(http.MethodGet, "/v1/broadcasts/"+id, nil)
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		got := decodeJSON(t, rr)
		if got["status"] == string(model.BroadcastCancelled) || got["status"] == string(model.BroadcastCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for terminal status, last: %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartBroadcast_ValidationErrors(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestServer(t, &okAdapter{}, 1)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty template", `{"channel":"bot-api"}`, http.StatusBadRequest},
		{"unknown channel", `{"template":"x","channel":"fax"}`, http.StatusBadRequest},
		{"unconfigured channel", `{"template":"x","channel":"bridge-b"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/broadcasts", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%q", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestChannelHealthAndReauthorize(t *testing.T) {
	t.Parallel()

	router, health, _ := newTestServer(t, &okAdapter{}, 0)

	health.MarkDegraded(model.ChannelPersonal, "session expired")

	req := httptest.NewRequest(http.MethodGet, "/v1/channels/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	got := decodeJSON(t, rr)
	channels := got["channels"].(map[string]any)
	personal := channels["personal-session"].(map[string]any)
	if personal["degraded"] != true {
		t.Fatalf("expected personal-session degraded, got %v", personal)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/channels/personal-session/reauthorized", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	if health.IsDegraded(model.ChannelPersonal) {
		t.Fatalf("expected channel healthy after reauthorization")
	}
}

func TestChannelReauthorize_UnknownChannel(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestServer(t, &okAdapter{}, 0)

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/fax/reauthorized", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListRecentMessages_RequiresConversation(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestServer(t, &okAdapter{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/messages/recent", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
