package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/messages", h.SendMessage)
	mux.HandleFunc("GET /v1/messages/recent", h.ListRecentMessages)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("POST /v1/messages/{id}/resend", h.ResendMessage)

	mux.HandleFunc("POST /v1/broadcasts", h.StartBroadcast)
	mux.HandleFunc("GET /v1/broadcasts/{id}", h.GetBroadcast)
	mux.HandleFunc("POST /v1/broadcasts/{id}/pause", h.PauseBroadcast)
	mux.HandleFunc("POST /v1/broadcasts/{id}/resume", h.ResumeBroadcast)
	mux.HandleFunc("POST /v1/broadcasts/{id}/cancel", h.CancelBroadcast)

	mux.HandleFunc("GET /v1/channels/health", h.ChannelHealth)
	mux.HandleFunc("POST /v1/channels/{channel}/reauthorized", h.ChannelReauthorized)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("brokermate-messaging"))
	})

	return mux
}
