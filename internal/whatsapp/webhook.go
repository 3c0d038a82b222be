package whatsapp

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []Message `json:"messages"`
				Statuses []Status  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
}

type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors,omitempty"`
}

type Webhook struct {
	verifyToken string
	logger      *zap.Logger
}

func NewWebhook(verifyToken string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{verifyToken: verifyToken, logger: logger}
}

// HandleVerify answers the subscription handshake.
func (h *Webhook) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing parameters"})
		return
	}
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("whatsapp webhook verification failed")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Verification failed"})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// HandleEvent logs message and delivery events. It always answers 200 so the
// provider does not redeliver.
func (h *Webhook) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("invalid whatsapp webhook payload", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	if payload.Object != "whatsapp_business_account" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				h.logger.Info("whatsapp message received",
					zap.String("from", m.From),
					zap.String("type", m.Type),
					zap.String("id", m.ID))
			}
			for _, s := range change.Value.Statuses {
				fields := []zap.Field{
					zap.String("id", s.ID),
					zap.String("status", s.Status),
					zap.String("recipient", s.RecipientID),
				}
				if s.Status == "failed" {
					h.logger.Error("whatsapp message failed", append(fields, zap.Any("errors", s.Errors))...)
					continue
				}
				h.logger.Debug("whatsapp status update", fields...)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
