package handler

import (
	"context"
	"encoding/json"
	"io"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/recap-app/recap/pkg/transcribe"
)

// PipelineDispatcher is the pipeline surface the gateway routes verified
// notifications into.
type PipelineDispatcher interface {
	HandleUploadCompleted(ctx context.Context, providerUploadID, providerRecordingID string)
	HandleTranscriptCompleted(ctx context.Context, providerRecordingID string)
	HandleTranscriptFailed(ctx context.Context, providerRecordingID, message string)
}

// Provider notification event types
const (
	eventUploadCompleted  = "upload.completed"
	eventTranscriptDone   = "transcript.completed"
	eventTranscriptFailed = "transcript.failed"
)

// providerNotification is the decoded inbound webhook payload
type providerNotification struct {
	Event       string `json:"event"`
	UploadID    string `json:"upload_id,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

// WebhookHandler is the notification gateway: it verifies inbound provider
// notifications and routes them into the pipeline. The pipeline never
// depends on it; polling alone reaches every terminal state.
type WebhookHandler struct {
	pipeline PipelineDispatcher
	secret   string
	logger   *zap.Logger
}

// NewWebhookHandler creates the gateway handler
func NewWebhookHandler(pipeline PipelineDispatcher, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline, secret: secret, logger: logger}
}

// HandleProviderWebhook receives signed notifications from the transcription
// provider. Every request is acknowledged with 200: rejecting suspicious
// notifications with an error would only trigger provider retry storms.
// Unverified or malformed notifications are logged and not acted on.
func (h *WebhookHandler) HandleProviderWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Warn("webhook body unreadable", zap.Error(err))
		return HandleSuccess(h.logger, c, map[string]interface{}{"status": "ok"})
	}

	signature := c.Request().Header.Get("x-provider-signature")
	if signature == "" {
		signature = c.Request().Header.Get("Authorization")
	}
	if signature == "" {
		h.logger.Warn("webhook missing signature header, ignoring",
			zap.String("remote", c.RealIP()),
		)
		return HandleSuccess(h.logger, c, map[string]interface{}{"status": "ok"})
	}

	if !transcribe.VerifyHMAC(h.secret, body, signature) {
		h.logger.Warn("webhook signature verification failed, ignoring",
			zap.String("remote", c.RealIP()),
		)
		return HandleSuccess(h.logger, c, map[string]interface{}{"status": "ok"})
	}

	var n providerNotification
	if err := json.Unmarshal(body, &n); err != nil {
		h.logger.Warn("webhook payload undecodable, ignoring", zap.Error(err))
		return HandleSuccess(h.logger, c, map[string]interface{}{"status": "ok"})
	}

	ctx := c.Request().Context()
	switch n.Event {
	case eventUploadCompleted:
		h.logger.Info("webhook: upload completed",
			zap.String("upload_id", n.UploadID),
			zap.String("recording_id", n.RecordingID),
		)
		h.pipeline.HandleUploadCompleted(ctx, n.UploadID, n.RecordingID)
	case eventTranscriptDone:
		h.logger.Info("webhook: transcript completed",
			zap.String("recording_id", n.RecordingID),
		)
		h.pipeline.HandleTranscriptCompleted(ctx, n.RecordingID)
	case eventTranscriptFailed:
		h.logger.Info("webhook: transcript failed",
			zap.String("recording_id", n.RecordingID),
			zap.String("error", n.Error),
		)
		h.pipeline.HandleTranscriptFailed(ctx, n.RecordingID, n.Error)
	default:
		h.logger.Warn("webhook: unrecognized event type, ignoring",
			zap.String("event", n.Event),
		)
	}

	return HandleSuccess(h.logger, c, map[string]interface{}{"status": "ok"})
}
