package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/recap-app/recap/errors"
	meetingdto "github.com/recap-app/recap/internal/adapter/dto/meeting"
	"github.com/recap-app/recap/internal/adapter/repository"
	"github.com/recap-app/recap/internal/domain/entities"
	meetinguse "github.com/recap-app/recap/internal/usecase/meeting"
	"github.com/recap-app/recap/internal/usecase/recording"
	"github.com/recap-app/recap/pkg/validator"
)

// PipelineCanceler drops the pipeline worker for a deleted meeting
type PipelineCanceler interface {
	Cancel(handle string)
}

// MeetingHandler serves the meetings REST API
type MeetingHandler struct {
	store    *meetinguse.Store
	machine  *recording.Machine
	pipeline PipelineCanceler
	logger   *zap.Logger
}

// NewMeetingHandler creates the meetings API handler
func NewMeetingHandler(store *meetinguse.Store, machine *recording.Machine, pipeline PipelineCanceler, logger *zap.Logger) *MeetingHandler {
	return &MeetingHandler{store: store, machine: machine, pipeline: pipeline, logger: logger}
}

// List returns meetings matching the query filters
func (h *MeetingHandler) List(c echo.Context) error {
	var req meetingdto.ListMeetingsRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidPayload())
	}
	if err := validator.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}

	filters := repository.MeetingFilters{}
	if req.Status != "" {
		status := entities.MeetingStatus(req.Status)
		filters.Status = &status
	}
	if req.From != "" {
		from, _ := time.Parse("2006-01-02", req.From)
		filters.From = &from
	}
	if req.To != "" {
		to, _ := time.Parse("2006-01-02", req.To)
		to = to.Add(24*time.Hour - time.Nanosecond)
		filters.To = &to
	}
	if req.PageSize > 0 {
		filters.Limit = req.PageSize
		if req.Page > 1 {
			filters.Offset = (req.Page - 1) * req.PageSize
		}
	}

	meetings, err := h.store.GetAll(c.Request().Context(), filters)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, meetings)
}

// Get returns one meeting with all child collections
func (h *MeetingHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument("invalid meeting id"))
	}
	m, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	if m == nil {
		return HandleError(h.logger, c, errors.ErrMeetingNotFound(id.String()))
	}
	return HandleSuccess(h.logger, c, m)
}

// Create inserts a meeting by hand (calendar import or manual entry)
func (h *MeetingHandler) Create(c echo.Context) error {
	var req meetingdto.CreateMeetingRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidPayload())
	}
	if err := validator.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}

	date := time.Now()
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			return HandleError(h.logger, c, errors.ErrInvalidArgument("date must be RFC3339"))
		}
		date = parsed
	}

	var m *entities.Meeting
	if req.Status == string(entities.MeetingStatusUpcoming) {
		m = entities.NewUpcomingMeeting(req.Title, req.Platform, date)
	} else {
		m = entities.NewMeeting(req.Title, req.Platform)
		m.Date = date
	}
	m.Content = req.Content
	for i, p := range req.Participants {
		joinOrder := p.JoinOrder
		if joinOrder == 0 {
			joinOrder = i
		}
		m.Participants = append(m.Participants, entities.Participant{
			ID:        uuid.New(),
			MeetingID: m.ID,
			Name:      p.Name,
			Email:     p.Email,
			IsHost:    p.IsHost,
			JoinOrder: joinOrder,
		})
	}

	if err := h.store.Create(c.Request().Context(), m); err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, m)
}

// Update patches user-editable fields. Runs as a serialized mutation, so a
// concurrent pipeline write can never be partially overwritten.
func (h *MeetingHandler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument("invalid meeting id"))
	}
	var req meetingdto.UpdateMeetingRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidPayload())
	}
	if err := validator.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}

	err = h.store.Mutate(c.Request().Context(), id, func(m *entities.Meeting) (*entities.Meeting, error) {
		changed := false
		if req.Title != nil && *req.Title != m.Title {
			m.Title = *req.Title
			changed = true
		}
		if req.Content != nil && *req.Content != m.Content {
			m.Content = *req.Content
			changed = true
		}
		if req.Summary != nil && *req.Summary != m.Summary {
			m.Summary = *req.Summary
			changed = true
		}
		if req.Status != nil && entities.MeetingStatus(*req.Status) != m.Status {
			m.Status = entities.MeetingStatus(*req.Status)
			changed = true
		}
		if !changed {
			return nil, nil
		}
		return m, nil
	})
	if err != nil {
		return HandleError(h.logger, c, err)
	}

	m, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, m)
}

// Delete removes a meeting. A recording or pipeline in flight for the
// meeting is cancelled; its next existence check finds no row and stops.
func (h *MeetingHandler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument("invalid meeting id"))
	}

	handle, err := h.store.Delete(c.Request().Context(), id)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	if handle != nil {
		h.pipeline.Cancel(*handle)
		if err := h.machine.Dispatch(recording.Event{
			Type:   recording.EventCancelRequested,
			Handle: *handle,
		}); err != nil {
			h.logger.Warn("capture cancel dispatch failed",
				zap.String("handle", *handle),
				zap.Error(err),
			)
		}
	}
	return HandleSuccess(h.logger, c, map[string]interface{}{"deleted": id.String()})
}

// StartRecording requests capture start for a detected handle
func (h *MeetingHandler) StartRecording(c echo.Context) error {
	var req meetingdto.StartRecordingRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidPayload())
	}
	if err := validator.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}
	return h.dispatchCommand(c, recording.Event{
		Type:     recording.EventStartRequested,
		Handle:   req.Handle,
		Title:    req.Title,
		Platform: req.Platform,
	})
}

// StopRecording requests capture stop for a handle
func (h *MeetingHandler) StopRecording(c echo.Context) error {
	return h.dispatchCommand(c, recording.Event{
		Type:   recording.EventStopRequested,
		Handle: c.Param("handle"),
	})
}

// PauseRecording requests capture pause for a handle
func (h *MeetingHandler) PauseRecording(c echo.Context) error {
	return h.dispatchCommand(c, recording.Event{
		Type:   recording.EventPauseRequested,
		Handle: c.Param("handle"),
	})
}

// ResumeRecording requests capture resume for a handle
func (h *MeetingHandler) ResumeRecording(c echo.Context) error {
	return h.dispatchCommand(c, recording.Event{
		Type:   recording.EventResumeRequested,
		Handle: c.Param("handle"),
	})
}

func (h *MeetingHandler) dispatchCommand(c echo.Context, ev recording.Event) error {
	if err := h.machine.Dispatch(ev); err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, map[string]interface{}{
		"handle": ev.Handle,
		"state":  string(h.machine.StateOf(ev.Handle)),
	})
}
