package recording

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/recap-app/recap/errors"
	"github.com/recap-app/recap/internal/domain/entities"
	"github.com/recap-app/recap/internal/infrastructure/external/deviceagent"
	"github.com/recap-app/recap/internal/infrastructure/notify"
	"github.com/recap-app/recap/internal/usecase/meeting"
	"github.com/recap-app/recap/pkg/config"
	"github.com/recap-app/recap/pkg/transcribe"
)

// CaptureAgent is the device agent command surface. *deviceagent.Client
// satisfies it; tests substitute a fake.
type CaptureAgent interface {
	Start(ctx context.Context, req deviceagent.StartRequest) error
	Pause(ctx context.Context, handle string) error
	Resume(ctx context.Context, handle string) error
	Stop(ctx context.Context, handle string) error
	Cancel(ctx context.Context, handle string) error
}

// CredentialMinter mints upload credentials before capture begins
type CredentialMinter interface {
	Name() string
	CreateUploadCredential(ctx context.Context) (*transcribe.UploadCredential, error)
}

// MeetingWriter is the store surface the machine needs
type MeetingWriter interface {
	Create(ctx context.Context, m *entities.Meeting) error
	Mutate(ctx context.Context, id uuid.UUID, fn meeting.MutateFunc) error
	GetByRecordingHandle(ctx context.Context, handle string) (*entities.Meeting, error)
}

// PipelineLauncher receives the exactly-once handoff of a stopped recording
type PipelineLauncher interface {
	Launch(meetingID uuid.UUID, handle string)
}

// session is the machine's owned per-handle tracking entry. It exists from
// the first event for a handle until the Stopped handoff (or cancel), after
// which the handle may be reused by a fresh recording.
type session struct {
	handle    string
	state     State
	meetingID uuid.UUID
	stopTimer *time.Timer
	handedOff bool
}

// Machine is the per-recording lifecycle state machine. All events, device
// signals and user commands alike, flow through one bounded channel consumed
// by a single dispatch loop, so transitions for a handle are totally ordered
// and idempotency checks live in one place.
type Machine struct {
	agent    CaptureAgent
	provider CredentialMinter
	store    MeetingWriter
	pipeline PipelineLauncher
	notifier notify.Notifier
	logger   *zap.Logger

	debounce time.Duration
	callTO   time.Duration

	events   chan Event
	sessions map[string]*session

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewMachine creates the state machine and starts its dispatch loop
func NewMachine(
	agent CaptureAgent,
	provider CredentialMinter,
	store MeetingWriter,
	pipeline PipelineLauncher,
	notifier notify.Notifier,
	cfg *config.AgentConfig,
	logger *zap.Logger,
) *Machine {
	m := &Machine{
		agent:    agent,
		provider: provider,
		store:    store,
		pipeline: pipeline,
		notifier: notifier,
		logger:   logger,
		debounce: cfg.AutoStopDebounce,
		callTO:   cfg.CallTimeout,
		events:   make(chan Event, 256),
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

// Close stops the dispatch loop after draining queued events
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.events)
	m.mu.Unlock()
	<-m.done
}

// Dispatch queues an event for the state machine. Returns an error when the
// machine is shut down or the queue is saturated.
func (m *Machine) Dispatch(ev Event) error {
	if ev.Handle == "" {
		return apperrors.ErrInvalidArgument("event handle is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.ErrStoreClosed()
	}
	select {
	case m.events <- ev:
		return nil
	default:
		return apperrors.ErrTransient(errors.New("event queue full"))
	}
}

// StateOf reports the current state for a handle (Idle when untracked)
func (m *Machine) StateOf(handle string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[handle]; ok {
		return s.state
	}
	return StateIdle
}

// setState publishes a state change. Only the dispatch loop writes session
// state, but StateOf reads it from other goroutines, so writes take the lock.
func (m *Machine) setState(s *session, state State) {
	m.mu.Lock()
	s.state = state
	m.mu.Unlock()
}

func (m *Machine) run() {
	defer close(m.done)
	for ev := range m.events {
		m.handle(ev)
	}
	// Shutdown: stop pending auto-stop timers
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.stopTimer != nil {
			s.stopTimer.Stop()
		}
	}
	m.mu.Unlock()
}

func (m *Machine) handle(ev Event) {
	m.mu.Lock()
	s := m.sessions[ev.Handle]
	m.mu.Unlock()

	switch ev.Type {
	case EventPresenceDetected:
		m.onPresenceDetected(s, ev)
	case EventPresenceClosed:
		m.onPresenceClosed(s, ev)
	case eventAutoStop:
		m.onAutoStop(s, ev)
	case EventStartRequested:
		m.onStartRequested(s, ev)
	case EventPauseRequested:
		m.onPauseRequested(s, ev)
	case EventResumeRequested:
		m.onResumeRequested(s, ev)
	case EventStopRequested:
		m.onStopRequested(s, ev)
	case EventCancelRequested:
		m.onCancelRequested(s, ev)
	case EventCaptureStarted:
		m.transitionMirror(s, ev, StatePreparing, StateRecording)
	case EventCapturePaused:
		m.transitionMirror(s, ev, StateRecording, StatePaused)
	case EventCaptureResumed:
		m.transitionMirror(s, ev, StatePaused, StateRecording)
	case EventCaptureStopped:
		m.onCaptureStopped(s, ev)
	case EventCaptureFailed:
		m.onCaptureFailed(s, ev)
	default:
		m.logger.Warn("unknown recording event",
			zap.String("type", string(ev.Type)),
			zap.String("handle", ev.Handle),
		)
	}
}

func (m *Machine) onPresenceDetected(s *session, ev Event) {
	if s != nil {
		// Presence came back while a recording is live: cancel any pending
		// auto-stop so a momentary signal drop does not cut the recording.
		if s.stopTimer != nil {
			s.stopTimer.Stop()
			s.stopTimer = nil
			m.logger.Info("auto-stop cancelled, presence returned",
				zap.String("handle", s.handle))
		}
		return
	}
	s = &session{handle: ev.Handle, state: StateDetected}
	m.mu.Lock()
	m.sessions[ev.Handle] = s
	m.mu.Unlock()
	m.broadcast(s, ev)
}

func (m *Machine) onPresenceClosed(s *session, ev Event) {
	if s == nil {
		return
	}
	switch s.state {
	case StateRecording, StatePaused:
		if s.stopTimer != nil {
			return
		}
		handle := s.handle
		s.stopTimer = time.AfterFunc(m.debounce, func() {
			// Re-enters the dispatch loop; ignore errors on shutdown
			_ = m.Dispatch(Event{Type: eventAutoStop, Handle: handle})
		})
		m.logger.Info("presence closed, auto-stop armed",
			zap.String("handle", handle),
			zap.Duration("debounce", m.debounce),
		)
	case StateDetected:
		// Nothing recording; forget the handle
		m.mu.Lock()
		delete(m.sessions, ev.Handle)
		m.mu.Unlock()
	}
}

func (m *Machine) onAutoStop(s *session, ev Event) {
	if s == nil || s.stopTimer == nil {
		return
	}
	s.stopTimer = nil
	if s.state != StateRecording && s.state != StatePaused {
		return
	}
	m.logger.Info("auto-stop fired", zap.String("handle", s.handle))
	m.stopCapture(s, ev)
}

func (m *Machine) onStartRequested(s *session, ev Event) {
	if s == nil {
		s = &session{handle: ev.Handle, state: StateDetected}
		m.mu.Lock()
		m.sessions[ev.Handle] = s
		m.mu.Unlock()
	}
	if s.state != StateDetected {
		m.logger.Warn("start ignored, recording already underway",
			zap.String("handle", s.handle),
			zap.String("state", string(s.state)),
		)
		return
	}
	m.setState(s, StatePreparing)
	m.broadcast(s, ev)

	ctx, cancel := context.WithTimeout(context.Background(), m.callTO)
	defer cancel()

	handle := ev.Handle
	startReq := deviceagent.StartRequest{Handle: handle}

	// A rejected agent start leaves the meeting row behind; the retry must
	// reuse it or the unique handle check wedges the recording.
	mt, err := m.store.GetByRecordingHandle(ctx, handle)
	if err != nil {
		m.logger.Error("meeting lookup failed, aborting start",
			zap.String("handle", handle),
			zap.Error(err),
		)
		m.mu.Lock()
		delete(m.sessions, handle)
		m.mu.Unlock()
		return
	}

	if mt != nil && mt.UploadToken != nil && mt.ProviderUploadID != nil {
		startReq.UploadToken = *mt.UploadToken
		startReq.UploadID = *mt.ProviderUploadID
	} else {
		// Mint an upload credential before capture starts. When the provider
		// is unreachable the recording still happens, just without upload
		// correlation, so the pipeline cannot be driven automatically.
		cred, err := m.provider.CreateUploadCredential(ctx)
		if err != nil {
			m.logger.Warn("upload credential unavailable, capturing uncorrelated",
				zap.String("handle", handle),
				zap.Error(err),
			)
			cred = nil
		}
		if mt == nil {
			mt = entities.NewMeeting(ev.Title, ev.Platform)
			mt.RecordingHandle = &handle
			if cred != nil {
				mt.UploadToken = &cred.Token
				mt.ProviderUploadID = &cred.UploadID
				mt.TranscriptionProvider = m.provider.Name()
				mt.TranscriptStatus = entities.TranscriptStatusUploading
			}
			if err := m.store.Create(ctx, mt); err != nil {
				m.logger.Error("meeting create failed, aborting start",
					zap.String("handle", handle),
					zap.Error(err),
				)
				m.mu.Lock()
				delete(m.sessions, handle)
				m.mu.Unlock()
				return
			}
		} else if cred != nil {
			err := m.store.Mutate(ctx, mt.ID, func(cur *entities.Meeting) (*entities.Meeting, error) {
				cur.UploadToken = &cred.Token
				cur.ProviderUploadID = &cred.UploadID
				cur.TranscriptionProvider = m.provider.Name()
				cur.TranscriptStatus = entities.TranscriptStatusUploading
				return cur, nil
			})
			if err != nil {
				m.logger.Warn("credential persist failed, capturing uncorrelated",
					zap.String("handle", handle),
					zap.Error(err),
				)
				cred = nil
			}
		}
		if cred != nil {
			startReq.UploadToken = cred.Token
			startReq.UploadID = cred.UploadID
		}
	}
	s.meetingID = mt.ID

	if err := m.agent.Start(ctx, startReq); err != nil {
		m.logger.Error("agent start failed",
			zap.String("handle", handle),
			zap.Error(err),
		)
		m.setState(s, StateDetected)
		m.broadcast(s, ev)
		return
	}
}

func (m *Machine) onPauseRequested(s *session, ev Event) {
	if s == nil || s.state != StateRecording {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.callTO)
	defer cancel()
	if err := m.agent.Pause(ctx, s.handle); err != nil {
		m.logger.Error("agent pause failed", zap.String("handle", s.handle), zap.Error(err))
	}
}

func (m *Machine) onResumeRequested(s *session, ev Event) {
	if s == nil || s.state != StatePaused {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.callTO)
	defer cancel()
	if err := m.agent.Resume(ctx, s.handle); err != nil {
		m.logger.Error("agent resume failed", zap.String("handle", s.handle), zap.Error(err))
	}
}

func (m *Machine) onStopRequested(s *session, ev Event) {
	if s == nil {
		return
	}
	if s.state != StateRecording && s.state != StatePaused {
		return
	}
	m.stopCapture(s, ev)
}

func (m *Machine) stopCapture(s *session, ev Event) {
	m.setState(s, StateStopping)
	m.broadcast(s, ev)
	ctx, cancel := context.WithTimeout(context.Background(), m.callTO)
	defer cancel()
	if err := m.agent.Stop(ctx, s.handle); err != nil {
		m.logger.Error("agent stop failed", zap.String("handle", s.handle), zap.Error(err))
	}
}

func (m *Machine) onCancelRequested(s *session, ev Event) {
	if s == nil {
		return
	}
	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.callTO)
	defer cancel()
	if err := m.agent.Cancel(ctx, s.handle); err != nil {
		m.logger.Error("agent cancel failed", zap.String("handle", s.handle), zap.Error(err))
	}
	m.mu.Lock()
	delete(m.sessions, ev.Handle)
	m.mu.Unlock()
	m.broadcast(&session{handle: ev.Handle, state: StateIdle}, ev)
}

// transitionMirror mirrors a device-agent-reported state change. Out-of-order
// or repeated reports are ignored.
func (m *Machine) transitionMirror(s *session, ev Event, from, to State) {
	if s == nil || s.state != from {
		return
	}
	m.setState(s, to)
	m.broadcast(s, ev)
}

// onCaptureStopped is the single handoff point into the completion pipeline.
// The handedOff flag plus session removal make the handoff exactly-once per
// handle even when the agent delivers the stop confirmation more than once.
func (m *Machine) onCaptureStopped(s *session, ev Event) {
	if s == nil || s.handedOff {
		m.logger.Info("duplicate stop confirmation ignored", zap.String("handle", ev.Handle))
		return
	}
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	m.setState(s, StateStopped)
	s.handedOff = true
	m.broadcast(s, ev)

	meetingID := s.meetingID
	m.mu.Lock()
	delete(m.sessions, s.handle)
	m.mu.Unlock()

	if meetingID == uuid.Nil {
		// Stop for a recording this process never started; correlate via store
		ctx, cancel := context.WithTimeout(context.Background(), m.callTO)
		defer cancel()
		mt, err := m.store.GetByRecordingHandle(ctx, ev.Handle)
		if err != nil || mt == nil {
			m.logger.Error("no meeting for stopped recording",
				zap.String("handle", ev.Handle),
				zap.Error(err),
			)
			return
		}
		meetingID = mt.ID
	}

	m.logger.Info("recording stopped, handing off to pipeline",
		zap.String("handle", ev.Handle),
		zap.String("meeting_id", meetingID.String()),
	)
	m.pipeline.Launch(meetingID, ev.Handle)
}

func (m *Machine) onCaptureFailed(s *session, ev Event) {
	if s == nil {
		return
	}
	m.logger.Error("capture failed",
		zap.String("handle", s.handle),
		zap.String("error", ev.Error),
	)
	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	if s.meetingID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.callTO)
		defer cancel()
		err := m.store.Mutate(ctx, s.meetingID, func(mt *entities.Meeting) (*entities.Meeting, error) {
			mt.MarkTranscriptFailed("capture failed: " + ev.Error)
			return mt, nil
		})
		if err != nil {
			m.logger.Error("failed to record capture failure", zap.Error(err))
		}
	}
	m.mu.Lock()
	delete(m.sessions, ev.Handle)
	m.mu.Unlock()
	m.broadcast(&session{handle: ev.Handle, state: StateIdle}, ev)
}

func (m *Machine) broadcast(s *session, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Best effort; a failed broadcast never blocks a transition
	_ = m.notifier.Publish(ctx, notify.EventRecordingStateChanged, notify.Payload{
		"handle": s.handle,
		"state":  string(s.state),
		"event":  string(ev.Type),
	})
}
