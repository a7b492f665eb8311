package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/queue"
	"github.com/flowhook/flowhook-api/internal/repository"
	"github.com/flowhook/flowhook-api/internal/temporal"
)

// EventSub message headers and types, as delivered by Twitch.
const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
	headerMessageType      = "Twitch-Eventsub-Message-Type"

	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"

	signaturePrefix = "sha256="
	maxBodySize     = 1 << 20
)

// TwitchEventSubHandler terminates Twitch EventSub webhooks: it verifies the
// HMAC signature, answers subscription challenges, drops redeliveries and
// turns stream.online notifications into hook events.
type TwitchEventSubHandler struct {
	secret      []byte
	automations repository.AutomationRepository
	schedules   repository.ScheduleRepository
	enqueuer    queue.Enqueuer
	seen        *TTLSet
	logger      zerolog.Logger
}

func NewTwitchEventSubHandler(
	secret string,
	automations repository.AutomationRepository,
	schedules repository.ScheduleRepository,
	enqueuer queue.Enqueuer,
	logger zerolog.Logger,
) *TwitchEventSubHandler {
	return &TwitchEventSubHandler{
		secret:      []byte(secret),
		automations: automations,
		schedules:   schedules,
		enqueuer:    enqueuer,
		// Twitch redelivers within minutes; ten is comfortably past that.
		seen:   NewTTLSet(10*time.Minute, 10_000),
		logger: logger.With().Str("component", "ingress").Logger(),
	}
}

type eventSubEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type streamOnlineEvent struct {
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
}

func (h *TwitchEventSubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	messageID := r.Header.Get(headerMessageID)
	timestamp := r.Header.Get(headerMessageTimestamp)
	signature := r.Header.Get(headerMessageSignature)
	messageType := r.Header.Get(headerMessageType)

	if messageID == "" || timestamp == "" || signature == "" || messageType == "" {
		http.Error(w, "missing eventsub headers", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !h.validSignature(messageID, timestamp, body, signature) {
		h.logger.Warn().Str("message_id", messageID).Msg("eventsub signature mismatch")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	// Redeliveries of an already handled message are acknowledged silently.
	if h.seen.Seen(messageID) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var envelope eventSubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch messageType {
	case messageTypeVerification:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(envelope.Challenge))

	case messageTypeNotification:
		h.handleNotification(r, envelope)
		w.WriteHeader(http.StatusNoContent)

	case messageTypeRevocation:
		h.logger.Warn().
			Str("subscription_type", envelope.Subscription.Type).
			Msg("eventsub subscription revoked")
		w.WriteHeader(http.StatusNoContent)

	default:
		h.logger.Warn().Str("message_type", messageType).Msg("unknown eventsub message type")
		w.WriteHeader(http.StatusNoContent)
	}
}

// validSignature recomputes the EventSub HMAC over id, timestamp and raw body
// and compares it in constant time.
func (h *TwitchEventSubHandler) validSignature(messageID, timestamp string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)

	return hmac.Equal(provided, mac.Sum(nil))
}

// handleNotification fans a stream.online event out to every enabled
// automation watching the broadcaster. Enqueue failures are logged, not
// surfaced: Twitch redelivers on non-2xx and the polling fallback will catch
// missed detections anyway.
func (h *TwitchEventSubHandler) handleNotification(r *http.Request, envelope eventSubEnvelope) {
	if envelope.Subscription.Type != "stream.online" {
		h.logger.Debug().Str("subscription_type", envelope.Subscription.Type).Msg("ignoring eventsub notification")
		return
	}

	var event streamOnlineEvent
	if err := json.Unmarshal(envelope.Event, &event); err != nil || event.BroadcasterUserLogin == "" {
		h.logger.Warn().Err(err).Msg("stream.online event missing broadcaster login")
		return
	}

	ctx := r.Context()
	bindings, err := h.automations.FindTriggerBindingsByParam(ctx, "twitch.stream_online", "user_login", event.BroadcasterUserLogin)
	if err != nil {
		h.logger.Error().Err(err).Str("broadcaster", event.BroadcasterUserLogin).Msg("failed to match webhook to bindings")
		return
	}
	if len(bindings) == 0 {
		h.logger.Debug().Str("broadcaster", event.BroadcasterUserLogin).Msg("no bindings for broadcaster")
		return
	}

	for _, binding := range bindings {
		hookEvent, err := h.schedules.CreateHookEvent(ctx, binding.ID, models.HookSourceWebhook, envelope.Event)
		if err != nil {
			h.logger.Error().Err(err).Str("trigger_binding_id", binding.ID).Msg("failed to record hook event")
			continue
		}

		params := temporal.ExecutionParams{
			HookEventID:      hookEvent.ID,
			TriggerBindingID: binding.ID,
		}
		if err := h.enqueuer.EnqueueExecution(ctx, queue.WebhookWorkflowID(hookEvent.ID), params); err != nil {
			h.logger.Error().Err(err).Str("hook_event_id", hookEvent.ID).Msg("failed to enqueue webhook execution")
			continue
		}

		h.logger.Info().
			Str("trigger_binding_id", binding.ID).
			Str("hook_event_id", hookEvent.ID).
			Str("broadcaster", event.BroadcasterUserLogin).
			Msg("webhook detection enqueued")
	}
}
