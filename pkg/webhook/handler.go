// Package webhook provides the HTTP handler that receives GitHub webhook
// events, verifies their signature, and relays them to Feishu.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/larkhook/pkg/feishu"
	"github.com/codeGROOVE-dev/larkhook/pkg/format"
	"github.com/codeGROOVE-dev/larkhook/pkg/logger"
)

const maxPayloadSize = 1 << 20 // 1MB

const (
	msgSent       = "Message sent to Feishu successfully"
	errMethod     = "Method not allowed"
	errTooLarge   = "Payload too large"
	errBadRequest = "Bad request"
	errSignature  = "Invalid signature"
	errUnhandled  = "Unhandled event: "
	errDelivery   = "Failed to send message to Feishu"
)

// Response is the JSON body of every webhook response.
type Response struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// Handler handles GitHub webhook events.
type Handler struct {
	sender           feishu.Sender
	allowedEventsMap map[string]bool
	secret           string
}

// NewHandler creates a new webhook handler. An empty secret disables
// signature verification; a nil allowedEvents accepts every event type.
func NewHandler(sender feishu.Sender, secret string, allowedEvents []string) *Handler {
	var allowedMap map[string]bool
	if len(allowedEvents) > 0 {
		allowedMap = make(map[string]bool, len(allowedEvents))
		for _, event := range allowedEvents {
			allowedMap[event] = true
		}
	}

	return &Handler{
		sender:           sender,
		secret:           secret,
		allowedEventsMap: allowedMap,
	}
}

// ServeHTTP relays one GitHub webhook event to Feishu.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")    //nolint:canonicalheader // GitHub webhook header
	deliveryID := r.Header.Get("X-GitHub-Delivery") //nolint:canonicalheader // GitHub webhook header
	if deliveryID == "" {
		deliveryID = "local-" + uuid.NewString()
	}
	ctx := logger.WithDelivery(r.Context(), deliveryID)

	logger.Info(ctx, "webhook request received", logger.Fields{
		"method":       r.Method,
		"remote_addr":  r.RemoteAddr,
		"user_agent":   r.UserAgent(),
		"content_type": r.Header.Get("Content-Type"),
		"event_type":   eventType,
	})

	if r.Method != http.MethodPost {
		logger.Warn(ctx, "webhook rejected: invalid method", logger.Fields{
			"method":      r.Method,
			"remote_addr": r.RemoteAddr,
			"path":        r.URL.Path,
		})
		writeJSON(ctx, w, http.StatusMethodNotAllowed, Response{Error: errMethod})
		return
	}

	if r.ContentLength > maxPayloadSize {
		logger.Warn(ctx, "webhook rejected: payload too large", logger.Fields{
			"content_length": r.ContentLength,
			"max_size":       maxPayloadSize,
			"event_type":     eventType,
		})
		writeJSON(ctx, w, http.StatusRequestEntityTooLarge, Response{Error: errTooLarge})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize+1))
	if err != nil {
		logger.Error(ctx, "error reading webhook body", err, nil)
		writeJSON(ctx, w, http.StatusBadRequest, Response{Error: errBadRequest})
		return
	}
	if len(body) > maxPayloadSize {
		logger.Warn(ctx, "webhook rejected: payload too large", logger.Fields{
			"max_size":   maxPayloadSize,
			"event_type": eventType,
		})
		writeJSON(ctx, w, http.StatusRequestEntityTooLarge, Response{Error: errTooLarge})
		return
	}

	if h.secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !VerifySignature(body, signature, h.secret) {
			logger.Warn(ctx, "webhook rejected: signature verification failed", logger.Fields{
				"event_type":       eventType,
				"remote_addr":      r.RemoteAddr,
				"signature_exists": signature != "",
			})
			writeJSON(ctx, w, http.StatusUnauthorized, Response{Error: errSignature})
			return
		}
	}

	if h.allowedEventsMap != nil && !h.allowedEventsMap[eventType] {
		logger.Warn(ctx, "webhook event type not allowed", logger.Fields{"event_type": eventType})
		writeJSON(ctx, w, http.StatusBadRequest, Response{Error: errUnhandled + eventType})
		return
	}

	payload, err := format.ParsePayload(body)
	if err != nil {
		logger.Warn(ctx, "webhook payload is not a JSON object, fields will read as unknown", logger.Fields{
			"event_type":   eventType,
			"payload_size": len(body),
			"error":        err.Error(),
		})
	}

	doc, err := format.Format(eventType, payload)
	if err != nil {
		logger.Warn(ctx, "webhook rejected: unhandled event", logger.Fields{
			"event_type": eventType,
			"error":      err.Error(),
		})
		writeJSON(ctx, w, http.StatusBadRequest, Response{Error: errUnhandled + eventType})
		return
	}

	if err := h.sender.Send(ctx, doc); err != nil {
		logger.Error(ctx, "error sending to Feishu", err, logger.Fields{"event_type": eventType})
		writeJSON(ctx, w, http.StatusInternalServerError, Response{Error: errDelivery})
		return
	}

	writeJSON(ctx, w, http.StatusOK, Response{Success: true, Message: msgSent})

	logger.Info(ctx, "webhook relayed successfully", logger.Fields{
		"event_type":   eventType,
		"title":        doc.Title,
		"remote_addr":  r.RemoteAddr,
		"payload_size": len(body),
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error(ctx, "failed to write response", err, nil)
	}
}

// VerifySignature validates the GitHub webhook signature.
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}

	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
