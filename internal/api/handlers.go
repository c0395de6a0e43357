package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/brokermate/messaging/internal/broadcast"
	"github.com/brokermate/messaging/internal/dispatch"
	"github.com/brokermate/messaging/internal/ledger"
	"github.com/brokermate/messaging/internal/model"
	"github.com/brokermate/messaging/internal/session"
)

type Handler struct {
	dispatcher *dispatch.Dispatcher
	engine     *broadcast.Engine
	ledger     ledger.Ledger
	health     *session.Monitor
}

func NewHandler(d *dispatch.Dispatcher, e *broadcast.Engine, l ledger.Ledger, h *session.Monitor) *Handler {
	return &Handler{dispatcher: d, engine: e, ledger: l, health: h}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type sendMessageRequest struct {
	Conversation string            `json:"conversation"`
	Recipient    string            `json:"recipient"`
	Channel      string            `json:"channel"`
	Content      string            `json:"content"`
	Attachment   *model.Attachment `json:"attachment,omitempty"`
}

// SendMessage inserts the optimistic message and returns it right away;
// delivery progresses in the background and is observable via GetMessage.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	msg, err := h.dispatcher.Send(r.Context(), dispatch.SendInput{
		Conversation: req.Conversation,
		Recipient:    req.Recipient,
		Channel:      model.Channel(req.Channel),
		Content:      req.Content,
		Attachment:   req.Attachment,
	})
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.ledger.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) ResendMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.dispatcher.Resend(r.Context(), r.PathValue("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, dispatch.ErrNotResendable) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) ListRecentMessages(w http.ResponseWriter, r *http.Request) {
	conversation := r.URL.Query().Get("conversation")
	if conversation == "" {
		http.Error(w, "conversation query parameter is required", http.StatusBadRequest)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	items, err := h.ledger.ListRecent(r.Context(), conversation, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type startBroadcastRequest struct {
	TemplateRef    string `json:"templateRef"`
	Template       string `json:"template"`
	AudienceFilter string `json:"audienceFilter"`
	Channel        string `json:"channel"`
	PacingSeconds  int    `json:"pacingSeconds"`
}

func (h *Handler) StartBroadcast(w http.ResponseWriter, r *http.Request) {
	var req startBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	job, err := h.engine.Start(r.Context(), broadcast.StartRequest{
		TemplateRef:    req.TemplateRef,
		Template:       req.Template,
		AudienceFilter: req.AudienceFilter,
		Channel:        model.Channel(req.Channel),
		PacingSeconds:  req.PacingSeconds,
	})
	if err != nil {
		writeBroadcastError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.Progress(r.Context(), r.PathValue("id"))
	if errors.Is(err, broadcast.ErrUnknownBroadcast) {
		http.Error(w, "broadcast not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) PauseBroadcast(w http.ResponseWriter, r *http.Request) {
	h.controlBroadcast(w, r, h.engine.Pause)
}

func (h *Handler) ResumeBroadcast(w http.ResponseWriter, r *http.Request) {
	h.controlBroadcast(w, r, h.engine.Resume)
}

func (h *Handler) CancelBroadcast(w http.ResponseWriter, r *http.Request) {
	h.controlBroadcast(w, r, h.engine.Cancel)
}

func (h *Handler) controlBroadcast(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := r.PathValue("id")
	if err := op(id); err != nil {
		writeBroadcastError(w, err)
		return
	}

	job, err := h.engine.Progress(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) ChannelHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": h.health.Snapshot()})
}

// ChannelReauthorized is the report-in hook for completed external
// reauthentication; it clears the degraded flag for the channel.
func (h *Handler) ChannelReauthorized(w http.ResponseWriter, r *http.Request) {
	ch := model.Channel(r.PathValue("channel"))
	if !ch.Valid() {
		http.Error(w, "unknown channel", http.StatusBadRequest)
		return
	}

	h.health.Resolve(ch)
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch, "degraded": h.health.IsDegraded(ch)})
}

func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrNoRecipient),
		errors.Is(err, dispatch.ErrNoContent),
		errors.Is(err, dispatch.ErrUnknownChannel),
		errors.Is(err, dispatch.ErrChannelNotConfigured):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeBroadcastError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broadcast.ErrUnknownBroadcast):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, broadcast.ErrNotRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, broadcast.ErrEmptyTemplate),
		errors.Is(err, broadcast.ErrUnknownChannel),
		errors.Is(err, broadcast.ErrChannelNotConfigured):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
