package handler

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/recap-app/recap/errors"
	"github.com/recap-app/recap/internal/usecase/recording"
	"github.com/recap-app/recap/pkg/validator"
)

// agentEventRequest is a device agent callback payload
type agentEventRequest struct {
	Type     string `json:"type" validate:"required"`
	Handle   string `json:"handle" validate:"required"`
	Title    string `json:"title,omitempty"`
	Platform string `json:"platform,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AgentHandler receives callbacks from the local device recording agent and
// feeds them to the recording state machine.
type AgentHandler struct {
	machine *recording.Machine
	logger  *zap.Logger
}

// NewAgentHandler creates the agent callback handler
func NewAgentHandler(machine *recording.Machine, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{machine: machine, logger: logger}
}

// HandleEvent receives one device agent signal
func (h *AgentHandler) HandleEvent(c echo.Context) error {
	var req agentEventRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidPayload())
	}
	if err := validator.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}

	ev := recording.Event{
		Type:     recording.EventType(req.Type),
		Handle:   req.Handle,
		Title:    req.Title,
		Platform: req.Platform,
		Error:    req.Error,
	}
	if err := h.machine.Dispatch(ev); err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, map[string]interface{}{
		"handle": req.Handle,
		"state":  string(h.machine.StateOf(req.Handle)),
	})
}
