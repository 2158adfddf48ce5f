package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recap-app/recap/internal/domain/entities"
	"github.com/recap-app/recap/internal/infrastructure/notify"
	"github.com/recap-app/recap/internal/usecase/meeting"
	"github.com/recap-app/recap/pkg/config"
	"github.com/recap-app/recap/pkg/transcribe"
)

// fakeStore is an in-memory MeetingStore. Mutations run under one lock, so
// they are serialized the same way the real store serializes them.
type fakeStore struct {
	mu       sync.Mutex
	meetings map[uuid.UUID]*entities.Meeting
	writes   int
}

func newFakeStore(meetings ...*entities.Meeting) *fakeStore {
	s := &fakeStore{meetings: make(map[uuid.UUID]*entities.Meeting)}
	for _, m := range meetings {
		cp := *m
		s.meetings[m.ID] = &cp
	}
	return s
}

func (s *fakeStore) clone(m *entities.Meeting) *entities.Meeting {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

func (s *fakeStore) snapshot(id uuid.UUID) *entities.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone(s.meetings[id])
}

func (s *fakeStore) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meetings, id)
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeStore) Get(ctx context.Context, id uuid.UUID) (*entities.Meeting, error) {
	return s.snapshot(id), nil
}

func (s *fakeStore) GetByProviderRecordingID(ctx context.Context, id string) (*entities.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meetings {
		if m.ProviderRecordingID != nil && *m.ProviderRecordingID == id {
			return s.clone(m), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetByProviderUploadID(ctx context.Context, id string) (*entities.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meetings {
		if m.ProviderUploadID != nil && *m.ProviderUploadID == id {
			return s.clone(m), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListInFlight(ctx context.Context) ([]entities.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Meeting
	for _, m := range s.meetings {
		if m.RecordingHandle == nil {
			continue
		}
		if m.TranscriptStatus == entities.TranscriptStatusDone || m.TranscriptStatus == entities.TranscriptStatusFailed {
			continue
		}
		out = append(out, *s.clone(m))
	}
	return out, nil
}

func (s *fakeStore) Mutate(ctx context.Context, id uuid.UUID, fn meeting.MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.meetings[id]
	if !ok {
		return nil
	}
	work := s.clone(current)
	updated, err := fn(work)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	s.meetings[id] = s.clone(updated)
	s.writes++
	return nil
}

func (s *fakeStore) ReplaceTranscript(ctx context.Context, meetingID uuid.UUID, entries []entities.TranscriptEntry, mapping entities.SpeakerMapping, status entities.TranscriptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil
	}
	m.TranscriptEntries = entries
	m.SpeakerMapping = mapping
	m.TranscriptStatus = status
	s.writes++
	return nil
}

func (s *fakeStore) ClaimTranscriptRequest(ctx context.Context, meetingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok || m.TranscriptRequestedAt != nil {
		return false, nil
	}
	now := time.Now()
	m.TranscriptRequestedAt = &now
	m.TranscriptStatus = entities.TranscriptStatusRequested
	s.writes++
	return true, nil
}

// fakeProvider scripts upload status responses; the last one repeats. The
// transcript side answers from fixed fields.
type fakeProvider struct {
	mu           sync.Mutex
	uploadScript []transcribe.UploadStatus
	uploadCalls  int

	transcriptStatus transcribe.TranscriptStatus
	statusCalls      int
	payload          *transcribe.TranscriptPayload

	transcriptID string
	requestCalls int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateUploadCredential(ctx context.Context) (*transcribe.UploadCredential, error) {
	return &transcribe.UploadCredential{Token: "tok", UploadID: "up-1"}, nil
}

func (f *fakeProvider) GetUploadStatus(ctx context.Context, uploadID string) (*transcribe.UploadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.uploadCalls
	if idx >= len(f.uploadScript) {
		idx = len(f.uploadScript) - 1
	}
	f.uploadCalls++
	status := f.uploadScript[idx]
	return &status, nil
}

func (f *fakeProvider) RequestTranscript(ctx context.Context, providerRecordingID, audioURL string) (string, error) {
	atomic.AddInt32(&f.requestCalls, 1)
	if f.transcriptID != "" {
		return f.transcriptID, nil
	}
	return providerRecordingID, nil
}

func (f *fakeProvider) GetTranscriptStatus(ctx context.Context, providerRecordingID string) (*transcribe.TranscriptStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	status := f.transcriptStatus
	return &status, nil
}

func (f *fakeProvider) transcriptStatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *fakeProvider) GetTranscript(ctx context.Context, providerRecordingID string) (*transcribe.TranscriptPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Provider: config.ProviderConfig{
			CallTimeout:   time.Second,
			PollInterval:  10 * time.Millisecond,
			UploadTimeout: time.Second,
		},
	}
}

func newTestCoordinator(t *testing.T, store MeetingStore, provider transcribe.Provider, cfg *config.Config) *Coordinator {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	c := NewCoordinator(store, provider, nil, nil, notify.NoopNotifier{}, cfg, zap.NewNop())
	t.Cleanup(c.Shutdown)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func inFlightMeeting(handle, uploadID string) *entities.Meeting {
	m := entities.NewMeeting("weekly sync", "meet")
	m.RecordingHandle = &handle
	m.ProviderUploadID = &uploadID
	m.TranscriptStatus = entities.TranscriptStatusUploading
	m.Participants = []entities.Participant{
		{Name: "Alice", IsHost: true, JoinOrder: 0},
		{Name: "Bob", JoinOrder: 1},
	}
	return m
}

func samplePayload() *transcribe.TranscriptPayload {
	return &transcribe.TranscriptPayload{
		Tokens: []transcribe.Token{
			{Text: "shall", Speaker: "A", StartMS: 0, EndMS: 300, Confidence: 0.95},
			{Text: "we", Speaker: "A", StartMS: 350, EndMS: 500, Confidence: 0.95},
			{Text: "start", Speaker: "A", StartMS: 550, EndMS: 900, Confidence: 0.95},
			{Text: "yes", Speaker: "B", StartMS: 1000, EndMS: 1200, Confidence: 0.9},
		},
	}
}

// The whole pipeline, driven by polls alone: the upload confirms on the third
// status check, the transcript request goes out exactly once, and processing
// produces an ordered transcript with mapped speakers.
func TestPipelinePollDriven(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	store := newFakeStore(m)
	provider := &fakeProvider{
		uploadScript: []transcribe.UploadStatus{
			{State: transcribe.UploadStatePending},
			{State: transcribe.UploadStatePending},
			{State: transcribe.UploadStateComplete, ProviderRecordingID: "rec-9", AudioURL: "https://cdn/audio"},
		},
		transcriptStatus: transcribe.TranscriptStatus{State: transcribe.TranscriptStateCompleted},
		payload:          samplePayload(),
	}
	c := newTestCoordinator(t, store, provider, nil)

	c.Launch(m.ID, "abc123")

	waitFor(t, "pipeline done", func() bool {
		return store.snapshot(m.ID).TranscriptStatus == entities.TranscriptStatusDone
	})

	final := store.snapshot(m.ID)
	if !final.RecordingComplete {
		t.Error("recording not marked complete")
	}
	if final.ProviderRecordingID == nil || *final.ProviderRecordingID != "rec-9" {
		t.Errorf("provider recording id = %v, want rec-9", final.ProviderRecordingID)
	}
	if final.TranscriptRequestedAt == nil {
		t.Error("transcript request claim not persisted")
	}
	if got := atomic.LoadInt32(&provider.requestCalls); got != 1 {
		t.Errorf("transcript requested %d times, want exactly 1", got)
	}

	if len(final.TranscriptEntries) != 2 {
		t.Fatalf("transcript entries = %d, want 2", len(final.TranscriptEntries))
	}
	for i, e := range final.TranscriptEntries {
		if e.Idx != i {
			t.Errorf("entry %d has Idx %d", i, e.Idx)
		}
	}
	// A spoke longest and maps to the host
	if final.TranscriptEntries[0].Speaker != "Alice" {
		t.Errorf("first speaker = %q, want Alice", final.TranscriptEntries[0].Speaker)
	}
	if final.TranscriptEntries[1].Speaker != "Bob" {
		t.Errorf("second speaker = %q, want Bob", final.TranscriptEntries[1].Speaker)
	}

	// The worker removes itself after the terminal stage
	waitFor(t, "worker removal", func() bool {
		return c.workerFor("abc123") == nil
	})
}

// Push-driven upload confirmation: polling never confirms, the webhook does.
func TestPipelinePushUploadConfirmation(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	store := newFakeStore(m)
	provider := &fakeProvider{
		uploadScript: []transcribe.UploadStatus{
			{State: transcribe.UploadStatePending},
		},
		transcriptStatus: transcribe.TranscriptStatus{State: transcribe.TranscriptStateCompleted},
		payload:          samplePayload(),
	}
	// Long poll interval: only the pushed advance can move the stage
	cfg := testConfig()
	cfg.Provider.PollInterval = time.Hour
	cfg.Provider.UploadTimeout = 2 * time.Hour
	c := newTestCoordinator(t, store, provider, cfg)

	c.Launch(m.ID, "abc123")
	waitFor(t, "worker registration", func() bool {
		return c.workerFor("abc123") != nil
	})

	c.HandleUploadCompleted(context.Background(), "up-1", "rec-9")

	waitFor(t, "upload confirmation", func() bool {
		return store.snapshot(m.ID).RecordingComplete
	})
	final := store.snapshot(m.ID)
	if final.ProviderRecordingID == nil || *final.ProviderRecordingID != "rec-9" {
		t.Errorf("provider recording id = %v, want rec-9", final.ProviderRecordingID)
	}
}

// Push-driven transcript completion: the worker waits between polls when the
// provider callback lands, and that alone carries the meeting to done.
func TestPipelinePushTranscriptCompletion(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	m.RecordingComplete = true
	rec := "rec-9"
	m.ProviderRecordingID = &rec
	now := time.Now()
	m.TranscriptRequestedAt = &now
	m.TranscriptStatus = entities.TranscriptStatusRequested

	store := newFakeStore(m)
	provider := &fakeProvider{payload: samplePayload()}
	// Long poll interval: only the pushed advance can move the stage
	cfg := testConfig()
	cfg.Provider.PollInterval = time.Hour
	c := newTestCoordinator(t, store, provider, cfg)

	c.Launch(m.ID, "abc123")
	waitFor(t, "worker registration", func() bool {
		return c.workerFor("abc123") != nil
	})

	c.HandleTranscriptCompleted(context.Background(), "rec-9")

	waitFor(t, "pipeline done", func() bool {
		return store.snapshot(m.ID).TranscriptStatus == entities.TranscriptStatusDone
	})
	final := store.snapshot(m.ID)
	if len(final.TranscriptEntries) != 2 {
		t.Fatalf("transcript entries = %d, want 2", len(final.TranscriptEntries))
	}
	if final.TranscriptEntries[0].Speaker != "Alice" || final.TranscriptEntries[1].Speaker != "Bob" {
		t.Errorf("speakers = %q/%q, want Alice/Bob",
			final.TranscriptEntries[0].Speaker, final.TranscriptEntries[1].Speaker)
	}
	if got := provider.transcriptStatusCalls(); got != 0 {
		t.Errorf("transcript status polled %d times, want push only", got)
	}
}

// Upload confirmation arriving twice, push plus poll, must advance the stage
// exactly once: the second delivery sees the persisted stage and writes
// nothing.
func TestPipelineDuplicateUploadConfirmationIsIdempotent(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	m.RecordingComplete = true
	rec := "rec-9"
	m.ProviderRecordingID = &rec
	store := newFakeStore(m)

	c := newTestCoordinator(t, store, &fakeProvider{
		uploadScript: []transcribe.UploadStatus{{State: transcribe.UploadStateComplete, ProviderRecordingID: "rec-9"}},
	}, nil)

	w := &worker{meetingID: m.ID, handle: "abc123", advances: make(chan advance, 8)}
	before := store.writeCount()
	for i := 0; i < 3; i++ {
		if err := c.applyUploadConfirmed(w, "rec-9"); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	if got := store.writeCount() - before; got != 0 {
		t.Errorf("duplicate confirmations caused %d writes, want 0", got)
	}
}

// A provider-reported upload failure is terminal.
func TestPipelineUploadFailure(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	store := newFakeStore(m)
	provider := &fakeProvider{
		uploadScript: []transcribe.UploadStatus{
			{State: transcribe.UploadStateFailed, Error: "codec rejected"},
		},
	}
	c := newTestCoordinator(t, store, provider, nil)

	c.Launch(m.ID, "abc123")

	waitFor(t, "failure", func() bool {
		return store.snapshot(m.ID).TranscriptStatus == entities.TranscriptStatusFailed
	})
	final := store.snapshot(m.ID)
	if final.TranscriptError == nil || *final.TranscriptError != "codec rejected" {
		t.Errorf("transcript error = %v, want provider message", final.TranscriptError)
	}
	if got := atomic.LoadInt32(&provider.requestCalls); got != 0 {
		t.Errorf("transcript requested %d times after upload failure", got)
	}
}

// Upload confirmation that never arrives times out and fails the meeting.
func TestPipelineUploadTimeout(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	store := newFakeStore(m)
	provider := &fakeProvider{
		uploadScript: []transcribe.UploadStatus{{State: transcribe.UploadStatePending}},
	}
	cfg := testConfig()
	cfg.Provider.PollInterval = 10 * time.Millisecond
	cfg.Provider.UploadTimeout = 80 * time.Millisecond
	c := newTestCoordinator(t, store, provider, cfg)

	c.Launch(m.ID, "abc123")

	waitFor(t, "timeout failure", func() bool {
		return store.snapshot(m.ID).TranscriptStatus == entities.TranscriptStatusFailed
	})
	final := store.snapshot(m.ID)
	if final.TranscriptError == nil || !strings.Contains(*final.TranscriptError, "timed out") {
		t.Errorf("transcript error = %v, want timeout message", final.TranscriptError)
	}
}

// An event naming a provider recording id no meeting has is dropped without
// touching the store.
func TestPipelineUnknownRecordingIDDropped(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	store := newFakeStore(m)
	c := newTestCoordinator(t, store, &fakeProvider{
		uploadScript: []transcribe.UploadStatus{{State: transcribe.UploadStatePending}},
	}, nil)

	before := store.writeCount()
	c.HandleTranscriptCompleted(context.Background(), "no-such-recording")
	c.HandleTranscriptFailed(context.Background(), "no-such-recording", "boom")
	c.HandleUploadCompleted(context.Background(), "no-such-upload", "")

	if got := store.writeCount() - before; got != 0 {
		t.Errorf("unknown events caused %d writes, want 0", got)
	}
	if w := c.workerFor("abc123"); w != nil {
		t.Error("unknown event launched a worker")
	}
}

// Deleting the meeting mid-pipeline stops the worker; nothing is written for
// the deleted row.
func TestPipelineStopsAfterMeetingDeleted(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	store := newFakeStore(m)
	provider := &fakeProvider{
		uploadScript: []transcribe.UploadStatus{{State: transcribe.UploadStatePending}},
	}
	c := newTestCoordinator(t, store, provider, nil)

	c.Launch(m.ID, "abc123")
	waitFor(t, "worker registration", func() bool {
		return c.workerFor("abc123") != nil
	})

	store.remove(m.ID)

	// The worker exits on its next load; deliveries after that must not
	// revive it through the store.
	waitFor(t, "worker exit", func() bool {
		return c.workerFor("abc123") == nil
	})
	if got := store.writeCount(); got != 0 {
		t.Errorf("deleted meeting saw %d writes", got)
	}
}

// A worker exiting after its handle was relaunched must not unregister the
// newer worker holding the handle.
func TestPipelineStaleWorkerRemovalKeepsSuccessor(t *testing.T) {
	c := newTestCoordinator(t, newFakeStore(), &fakeProvider{
		uploadScript: []transcribe.UploadStatus{{State: transcribe.UploadStatePending}},
	}, nil)

	stale := &worker{meetingID: uuid.New(), handle: "abc123", advances: make(chan advance, 8)}
	fresh := &worker{meetingID: uuid.New(), handle: "abc123", advances: make(chan advance, 8)}
	c.mu.Lock()
	c.workers["abc123"] = fresh
	c.mu.Unlock()

	c.removeWorker(stale)
	if c.workerFor("abc123") != fresh {
		t.Fatal("stale worker removal unregistered its successor")
	}

	c.removeWorker(fresh)
	if c.workerFor("abc123") != nil {
		t.Error("owning worker not removed")
	}
}

// Resume rebuilds workers from rows alone. A meeting persisted past the
// request claim must not request again; one already done must not get a
// worker at all.
func TestPipelineResumeAfterRestart(t *testing.T) {
	requested := inFlightMeeting("abc123", "up-1")
	requested.RecordingComplete = true
	rec := "rec-9"
	requested.ProviderRecordingID = &rec
	now := time.Now()
	requested.TranscriptRequestedAt = &now
	requested.TranscriptStatus = entities.TranscriptStatusRequested

	done := inFlightMeeting("done456", "up-2")
	done.TranscriptStatus = entities.TranscriptStatusDone
	done.Summary = "already summarized"

	store := newFakeStore(requested, done)
	provider := &fakeProvider{
		uploadScript:     []transcribe.UploadStatus{{State: transcribe.UploadStateComplete, ProviderRecordingID: "rec-9", AudioURL: "https://cdn/audio"}},
		transcriptStatus: transcribe.TranscriptStatus{State: transcribe.TranscriptStateCompleted},
		payload:          samplePayload(),
	}
	c := newTestCoordinator(t, store, provider, nil)

	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}

	waitFor(t, "resumed pipeline done", func() bool {
		return store.snapshot(requested.ID).TranscriptStatus == entities.TranscriptStatusDone
	})
	if got := atomic.LoadInt32(&provider.requestCalls); got != 0 {
		t.Errorf("resume re-requested the transcript %d times", got)
	}
	if w := c.workerFor("done456"); w != nil {
		t.Error("finished meeting got a worker on resume")
	}
}

// A transcript id refined at request time is persisted so later events
// correlate.
func TestPipelinePersistsRefinedTranscriptID(t *testing.T) {
	m := inFlightMeeting("abc123", "up-1")
	store := newFakeStore(m)
	provider := &fakeProvider{
		uploadScript: []transcribe.UploadStatus{
			{State: transcribe.UploadStateComplete, ProviderRecordingID: "rec-9", AudioURL: "https://cdn/audio"},
		},
		transcriptStatus: transcribe.TranscriptStatus{State: transcribe.TranscriptStateCompleted},
		payload:          samplePayload(),
		transcriptID:     "tr-refined",
	}
	c := newTestCoordinator(t, store, provider, nil)

	c.Launch(m.ID, "abc123")

	waitFor(t, "pipeline done", func() bool {
		return store.snapshot(m.ID).TranscriptStatus == entities.TranscriptStatusDone
	})
	final := store.snapshot(m.ID)
	if final.ProviderRecordingID == nil || *final.ProviderRecordingID != "tr-refined" {
		t.Errorf("provider recording id = %v, want tr-refined", final.ProviderRecordingID)
	}
}
