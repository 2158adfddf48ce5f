package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recap-app/recap/internal/domain/entities"
	"github.com/recap-app/recap/internal/infrastructure/notify"
	"github.com/recap-app/recap/internal/usecase/meeting"
	"github.com/recap-app/recap/pkg/config"
	"github.com/recap-app/recap/pkg/transcribe"
)

// MeetingStore is the store surface the pipeline drives. *meeting.Store
// satisfies it; tests substitute a fake.
type MeetingStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entities.Meeting, error)
	GetByProviderRecordingID(ctx context.Context, providerRecordingID string) (*entities.Meeting, error)
	GetByProviderUploadID(ctx context.Context, providerUploadID string) (*entities.Meeting, error)
	ListInFlight(ctx context.Context) ([]entities.Meeting, error)
	Mutate(ctx context.Context, id uuid.UUID, fn meeting.MutateFunc) error
	ReplaceTranscript(ctx context.Context, meetingID uuid.UUID, entries []entities.TranscriptEntry, mapping entities.SpeakerMapping, status entities.TranscriptStatus) error
	ClaimTranscriptRequest(ctx context.Context, meetingID uuid.UUID) (bool, error)
}

// Summarizer generates a meeting summary from transcript text
type Summarizer interface {
	GenerateSummary(ctx context.Context, transcript string) (string, error)
}

// Archiver persists a finished transcript export to object storage
type Archiver interface {
	PutJSON(ctx context.Context, objectName string, data []byte) error
}

// advance is one "the stage can move forward" signal. Push notifications and
// polls both produce advances; the per-handle worker consumes them and
// applies the first one it sees for the stage it is running.
type advance struct {
	stage       Stage
	recordingID string
	failure     string
	source      string
}

// worker drives one recording handle through the pipeline. Exactly one
// goroutine consumes its advance queue, so stage effects for a handle are
// applied in order regardless of how the signals arrived.
type worker struct {
	meetingID uuid.UUID
	handle    string
	advances  chan advance
}

// Coordinator owns the per-handle pipeline workers. Workers are created on
// recording handoff or on restart resume and remove themselves when they
// reach a terminal stage or their meeting disappears.
type Coordinator struct {
	store      MeetingStore
	provider   transcribe.Provider
	summarizer Summarizer
	archive    Archiver
	notifier   notify.Notifier
	logger     *zap.Logger
	cfg        *config.ProviderConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*worker
}

// NewCoordinator creates the pipeline coordinator. summarizer and archive
// are optional; pass nil to skip those steps.
func NewCoordinator(
	store MeetingStore,
	provider transcribe.Provider,
	summarizer Summarizer,
	archive Archiver,
	notifier notify.Notifier,
	cfg *config.Config,
	logger *zap.Logger,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:      store,
		provider:   provider,
		summarizer: summarizer,
		archive:    archive,
		notifier:   notifier,
		logger:     logger,
		cfg:        &cfg.Provider,
		ctx:        ctx,
		cancel:     cancel,
		workers:    make(map[string]*worker),
	}
}

// Shutdown stops all workers and waits for them to exit
func (c *Coordinator) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// Launch starts (or restarts) the pipeline worker for a recording handle.
// Launching an already-running handle is a no-op.
func (c *Coordinator) Launch(meetingID uuid.UUID, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.workers[handle]; exists {
		return
	}
	w := &worker{
		meetingID: meetingID,
		handle:    handle,
		advances:  make(chan advance, 8),
	}
	c.workers[handle] = w
	c.wg.Add(1)
	go c.runWorker(w)
}

// Resume rebuilds pipeline workers from persisted meeting rows. Called once
// at startup; every in-flight meeting gets a worker that picks up at
// whatever stage ResolveStage derives.
func (c *Coordinator) Resume(ctx context.Context) error {
	meetings, err := c.store.ListInFlight(ctx)
	if err != nil {
		return err
	}
	for i := range meetings {
		m := &meetings[i]
		if m.RecordingHandle == nil {
			continue
		}
		stage := ResolveStage(m)
		switch stage {
		case StageNone, StageDone, StageFailed:
			continue
		}
		c.logger.Info("resuming pipeline",
			zap.String("handle", *m.RecordingHandle),
			zap.String("meeting_id", m.ID.String()),
			zap.String("stage", string(stage)),
		)
		c.Launch(m.ID, *m.RecordingHandle)
	}
	return nil
}

// Cancel drops the worker for a handle, typically after its meeting was
// deleted. The worker also self-terminates on its next existence check, so
// this only speeds things up.
func (c *Coordinator) Cancel(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.workers, handle)
}

// removeWorker unregisters w. The handle may already be owned by a newer
// worker when the exit is slow, so only the matching entry is deleted.
func (c *Coordinator) removeWorker(w *worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workers[w.handle] == w {
		delete(c.workers, w.handle)
	}
}

func (c *Coordinator) workerFor(handle string) *worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workers[handle]
}

// HandleUploadCompleted is the push path for upload confirmation. The event
// is correlated back to a meeting and turned into an advance for its worker;
// if no worker is running (for example the process restarted and the webhook
// beat Resume), one is launched and its poll picks the state up.
func (c *Coordinator) HandleUploadCompleted(ctx context.Context, providerUploadID, providerRecordingID string) {
	m, err := c.store.GetByProviderUploadID(ctx, providerUploadID)
	if err != nil {
		c.logger.Error("upload event lookup failed",
			zap.String("provider_upload_id", providerUploadID),
			zap.Error(err),
		)
		return
	}
	if m == nil && providerRecordingID != "" {
		m, err = c.store.GetByProviderRecordingID(ctx, providerRecordingID)
		if err != nil {
			c.logger.Error("upload event lookup failed",
				zap.String("provider_recording_id", providerRecordingID),
				zap.Error(err),
			)
			return
		}
	}
	if m == nil || m.RecordingHandle == nil {
		c.logger.Error("upload event matches no meeting, dropping",
			zap.String("provider_upload_id", providerUploadID),
			zap.String("provider_recording_id", providerRecordingID),
		)
		return
	}
	c.deliver(m, advance{
		stage:       StageUploadConfirmation,
		recordingID: providerRecordingID,
		source:      "push",
	})
}

// HandleTranscriptCompleted is the push path for transcript completion
func (c *Coordinator) HandleTranscriptCompleted(ctx context.Context, providerRecordingID string) {
	m := c.lookupByRecordingID(ctx, providerRecordingID)
	if m == nil {
		return
	}
	c.deliver(m, advance{
		stage:       StageTranscriptCompletion,
		recordingID: providerRecordingID,
		source:      "push",
	})
}

// HandleTranscriptFailed is the push path for a definitive provider failure
func (c *Coordinator) HandleTranscriptFailed(ctx context.Context, providerRecordingID, message string) {
	m := c.lookupByRecordingID(ctx, providerRecordingID)
	if m == nil {
		return
	}
	if message == "" {
		message = "provider reported transcript failure"
	}
	c.deliver(m, advance{
		stage:       StageTranscriptCompletion,
		recordingID: providerRecordingID,
		failure:     message,
		source:      "push",
	})
}

func (c *Coordinator) lookupByRecordingID(ctx context.Context, providerRecordingID string) *entities.Meeting {
	m, err := c.store.GetByProviderRecordingID(ctx, providerRecordingID)
	if err != nil {
		c.logger.Error("transcript event lookup failed",
			zap.String("provider_recording_id", providerRecordingID),
			zap.Error(err),
		)
		return nil
	}
	if m == nil || m.RecordingHandle == nil {
		// Correlation failure: indicates a consistency bug, not a transient
		// condition. Log everything we know and drop the event.
		c.logger.Error("transcript event matches no meeting, dropping",
			zap.String("provider_recording_id", providerRecordingID),
		)
		return nil
	}
	return m
}

// deliver routes an advance to the handle's worker without blocking. A full
// queue or a missing worker is fine; polling reaches the same state.
func (c *Coordinator) deliver(m *entities.Meeting, adv advance) {
	handle := *m.RecordingHandle
	w := c.workerFor(handle)
	if w == nil {
		c.logger.Info("no worker for pushed event, launching",
			zap.String("handle", handle),
			zap.String("stage", string(adv.stage)),
		)
		c.Launch(m.ID, handle)
		return
	}
	select {
	case w.advances <- adv:
	default:
		c.logger.Warn("advance queue full, relying on poll",
			zap.String("handle", handle),
			zap.String("stage", string(adv.stage)),
		)
	}
}
