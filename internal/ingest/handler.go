package ingest

import (
	"errors"
	"io"
	"net/http"

	"github.com/user/ghmonitor/pkg/logger"
)

// Handler handles incoming GitHub webhooks.
type Handler struct {
	secret  string
	service *Service
}

// NewHandler creates a new webhook handler.
func NewHandler(secret string, service *Service) *Handler {
	return &Handler{
		secret:  secret,
		service: service,
	}
}

// ServeHTTP handles one webhook delivery. Signature-present-and-wrong is
// the only user-visible rejection; drop conditions still acknowledge with
// 200 so the sender does not retry-storm.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read webhook body")
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Verify signature when one is supplied. Deliveries without any
	// signature header are accepted; see config.GitHubConfig.
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature != "" && !ValidateSignature(signature, body, h.secret) {
		logger.Warn().Msg("Invalid webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "Missing event type", http.StatusBadRequest)
		return
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		http.Error(w, "Missing delivery id", http.StatusBadRequest)
		return
	}

	if err := h.service.Process(eventType, deliveryID, body); err != nil {
		if isDrop(err) {
			logger.Debug().Err(err).Str("delivery_id", deliveryID).Msg("Delivery dropped")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Webhook received"))
			return
		}

		// Storage failure: the delivery failed atomically, let the sender
		// retry. The retry dedups on delivery id once storage recovers.
		logger.Error().Err(err).Str("delivery_id", deliveryID).Msg("Failed to process webhook")
		http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// isDrop reports whether the error is one of the deliberate
// acknowledge-and-ignore conditions.
func isDrop(err error) bool {
	return errors.Is(err, ErrUnsupportedEvent) ||
		errors.Is(err, ErrNoRepository) ||
		errors.Is(err, ErrUnknownRepository) ||
		errors.Is(err, ErrDuplicateDelivery)
}
