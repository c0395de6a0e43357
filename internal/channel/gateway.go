package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brokermate/messaging/internal/model"
)

// Endpoint describes one channel's gateway: where to POST sends and
// whether the channel ends in a manual compose step.
type Endpoint struct {
	URL                string
	ManualConfirmation bool
}

// Gateway sends through per-channel HTTP gateway endpoints. Each channel's
// remote quirks (bot token, MTProto session, browser bridge) live behind
// its gateway; this client only normalizes the response shape.
type Gateway struct {
	endpoints map[model.Channel]Endpoint
	client    *http.Client
}

func NewGateway(endpoints map[model.Channel]Endpoint) *Gateway {
	return &Gateway{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (g *Gateway) Configured(ch model.Channel) bool {
	ep, ok := g.endpoints[ch]
	return ok && ep.URL != ""
}

func (g *Gateway) RequiresManualConfirmation(ch model.Channel) bool {
	return g.endpoints[ch].ManualConfirmation
}

type gatewayAttachment struct {
	URL      string `json:"url"`
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
}

type gatewayRequest struct {
	Channel    string             `json:"channel"`
	Recipient  string             `json:"recipient"`
	Message    string             `json:"message"`
	Attachment *gatewayAttachment `json:"attachment,omitempty"`
}

type gatewayResponse struct {
	Success                 bool    `json:"success"`
	MessageID               string  `json:"message_id"`
	Error                   string  `json:"error"`
	ErrorCode               string  `json:"error_code"`
	RetryAfterSeconds       float64 `json:"retry_after_seconds"`
	NeedsManualConfirmation bool    `json:"needs_manual_confirmation"`
}

func (g *Gateway) Send(ctx context.Context, req SendRequest) Result {
	ep, ok := g.endpoints[req.Channel]
	if !ok || ep.URL == "" {
		return failure(ErrUnknown, fmt.Sprintf("channel %s not configured", req.Channel))
	}

	body := gatewayRequest{
		Channel:   string(req.Channel),
		Recipient: req.Recipient,
		Message:   req.Message,
	}
	if req.Attachment != nil {
		body.Attachment = &gatewayAttachment{
			URL:      req.Attachment.URL,
			Kind:     string(req.Attachment.Kind),
			Filename: req.Attachment.Filename,
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return failure(ErrUnknown, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(raw))
	if err != nil {
		return failure(ErrUnknown, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return failure(ErrUnknown, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var gr gatewayResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return failure(ErrUnknown, fmt.Sprintf("bad gateway response: status=%d body=%q", resp.StatusCode, string(respBody)))
	}

	if gr.Success {
		return Result{
			Success:                 true,
			ExternalID:              gr.MessageID,
			NeedsManualConfirmation: gr.NeedsManualConfirmation,
		}
	}

	code := normalizeCode(gr.ErrorCode)
	res := Result{
		ErrorCode: code,
		ErrorText: gr.Error,
	}
	if code == ErrRateLimited {
		res.RetryAfter = time.Duration(gr.RetryAfterSeconds * float64(time.Second))
		if res.RetryAfter <= 0 {
			// Gateways occasionally omit the hint; hold back a full
			// minute rather than hammering the channel.
			res.RetryAfter = time.Minute
		}
	}
	return res
}

func normalizeCode(code string) ErrorCode {
	switch ErrorCode(code) {
	case ErrSessionExpired, ErrRateLimited, ErrRecipientRejected:
		return ErrorCode(code)
	}
	return ErrUnknown
}

func failure(code ErrorCode, text string) Result {
	return Result{ErrorCode: code, ErrorText: text}
}
