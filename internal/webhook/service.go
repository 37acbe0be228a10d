package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/metrics"
	"github.com/sablelabs/sable/internal/queue"
	"go.uber.org/zap"
)

type inboundPayload struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

type enqueueResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
}

// Server receives provider webhooks and feeds the intake queue. Duplicate
// deliveries are acknowledged without enqueueing so the provider stops
// retrying them.
type Server struct {
	Queue *queue.Service
}

func NewServer(queueService *queue.Service) *Server {
	return &Server{Queue: queueService}
}

func (server *Server) Run(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/sms", server.handleInbound)
	mux.HandleFunc("GET /healthz", server.handleHealthz)

	timeout := time.Duration(config.Conf.WebhookTimeout) * time.Second

	httpServer := &http.Server{
		Addr:         ":" + config.Conf.WebhookPort,
		Handler:      mux,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if err != nil {
			logging.Logger.Error("Failed to shut down webhook server", zap.String("error", err.Error()))
		}
	}()

	logging.Logger.Info("[Webhook] Listening", zap.String("port", config.Conf.WebhookPort))

	err := httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Logger.Error("Failed to run webhook server", zap.String("error", err.Error()))
	}
}

func (server *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, enqueueResponse{Status: "invalid"})
		return
	}

	var payload inboundPayload

	// An empty provider id would collapse every such message onto one
	// dedup key, absorbing unrelated traffic as duplicates.
	err = json.Unmarshal(body, &payload)
	if err != nil || payload.From == "" || payload.Body == "" || payload.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, enqueueResponse{Status: "invalid"})
		return
	}

	messageID, duplicate, err := server.Queue.Enqueue(r.Context(), payload.From, payload.Body, payload.MessageID)
	if err != nil {
		logging.Logger.Error("[Webhook] Failed to enqueue inbound message",
			zap.String("phone_number", payload.From),
			zap.String("error", err.Error()),
		)

		writeJSON(w, http.StatusInternalServerError, enqueueResponse{Status: "error"})

		return
	}

	if duplicate {
		metrics.DuplicatesAbsorbed.Inc()
		logging.Logger.Info("[Webhook] Absorbed duplicate delivery",
			zap.String("phone_number", payload.From),
			zap.String("provider_message_id", payload.MessageID),
		)

		writeJSON(w, http.StatusOK, enqueueResponse{Status: "duplicate"})

		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{Status: "queued", MessageID: messageID})
}

func (server *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		logging.Logger.Error("Failed to encode response", zap.String("error", err.Error()))
	}
}
