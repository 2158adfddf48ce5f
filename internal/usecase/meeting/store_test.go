package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/recap-app/recap/errors"
	"github.com/recap-app/recap/internal/adapter/repository"
	"github.com/recap-app/recap/internal/domain/entities"
)

// fakeRepo is an in-memory Repository that mimics read-modify-write storage.
// concurrent tracks overlapping writes so tests can prove serialization.
type fakeRepo struct {
	mu         sync.Mutex
	meetings   map[uuid.UUID]*entities.Meeting
	writing    bool
	overlapped bool
	saves      int
	failNext   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{meetings: make(map[uuid.UUID]*entities.Meeting)}
}

func (f *fakeRepo) takeFailure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeRepo) enterWrite() {
	f.mu.Lock()
	if f.writing {
		f.overlapped = true
	}
	f.writing = true
	f.mu.Unlock()
	// Widen the race window so overlapping writers would collide
	time.Sleep(time.Millisecond)
}

func (f *fakeRepo) exitWrite() {
	f.mu.Lock()
	f.writing = false
	f.mu.Unlock()
}

func (f *fakeRepo) clone(m *entities.Meeting) *entities.Meeting {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

func (f *fakeRepo) Create(ctx context.Context, m *entities.Meeting) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.enterWrite()
	defer f.exitWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetings[m.ID] = f.clone(m)
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clone(f.meetings[id]), nil
}

func (f *fakeRepo) GetByRecordingHandle(ctx context.Context, handle string) (*entities.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.RecordingHandle != nil && *m.RecordingHandle == handle && m.Status != entities.MeetingStatusArchived {
			return f.clone(m), nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetByProviderRecordingID(ctx context.Context, id string) (*entities.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.ProviderRecordingID != nil && *m.ProviderRecordingID == id {
			return f.clone(m), nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetByProviderUploadID(ctx context.Context, id string) (*entities.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.ProviderUploadID != nil && *m.ProviderUploadID == id {
			return f.clone(m), nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) List(ctx context.Context, filters repository.MeetingFilters) ([]entities.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Meeting
	for _, m := range f.meetings {
		out = append(out, *f.clone(m))
	}
	return out, nil
}

func (f *fakeRepo) ListInFlight(ctx context.Context) ([]entities.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Meeting
	for _, m := range f.meetings {
		if m.RecordingHandle == nil || m.Status == entities.MeetingStatusArchived {
			continue
		}
		if m.TranscriptStatus == entities.TranscriptStatusDone || m.TranscriptStatus == entities.TranscriptStatusFailed {
			continue
		}
		if m.TranscriptStatus != entities.TranscriptStatusNone || m.RecordingComplete {
			out = append(out, *f.clone(m))
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveFull(ctx context.Context, m *entities.Meeting) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.enterWrite()
	defer f.exitWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetings[m.ID] = f.clone(m)
	f.saves++
	return nil
}

func (f *fakeRepo) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeRepo) ReplaceTranscript(ctx context.Context, meetingID uuid.UUID, entries []entities.TranscriptEntry, mapping entities.SpeakerMapping, status entities.TranscriptStatus) error {
	f.enterWrite()
	defer f.exitWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[meetingID]
	if !ok {
		return errors.New("meeting missing")
	}
	m.TranscriptEntries = entries
	m.SpeakerMapping = mapping
	m.TranscriptStatus = status
	return nil
}

func (f *fakeRepo) ClaimTranscriptRequest(ctx context.Context, meetingID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[meetingID]
	if !ok || m.TranscriptRequestedAt != nil {
		return false, nil
	}
	now := time.Now()
	m.TranscriptRequestedAt = &now
	m.TranscriptStatus = entities.TranscriptStatusRequested
	return true, nil
}

func (f *fakeRepo) Delete(ctx context.Context, id uuid.UUID) (*string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return nil, false, nil
	}
	delete(f.meetings, id)
	return m.RecordingHandle, true, nil
}

func newTestStore(t *testing.T) (*Store, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	store := NewStore(repo, zap.NewNop())
	t.Cleanup(store.Close)
	return store, repo
}

func TestStoreSerializesMutations(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	m := entities.NewMeeting("standup", "meet")
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 40
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Mutate(ctx, m.ID, func(cur *entities.Meeting) (*entities.Meeting, error) {
				cur.Content += fmt.Sprintf("|%d", i)
				return cur, nil
			})
			if err != nil {
				t.Errorf("mutate %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	final, err := store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 0; i < writers; i++ {
		marker := fmt.Sprintf("|%d", i)
		if !strings.Contains(final.Content, marker) {
			t.Errorf("lost update %s; content = %q", marker, final.Content)
		}
	}
	if repo.overlapped {
		t.Error("two writes overlapped in the repository")
	}
}

func TestStoreFailedMutationDoesNotJamQueue(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	m := entities.NewMeeting("retro", "zoom")
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	repo.mu.Lock()
	repo.failNext = errors.New("disk full")
	repo.mu.Unlock()

	err := store.Mutate(ctx, m.ID, func(cur *entities.Meeting) (*entities.Meeting, error) {
		cur.Title = "should fail"
		return cur, nil
	})
	if err == nil {
		t.Fatal("expected mutation failure")
	}

	// The queue must keep processing after a failure
	err = store.Mutate(ctx, m.ID, func(cur *entities.Meeting) (*entities.Meeting, error) {
		cur.Title = "after failure"
		return cur, nil
	})
	if err != nil {
		t.Fatalf("queue jammed after failed mutation: %v", err)
	}

	final, _ := store.Get(ctx, m.ID)
	if final.Title != "after failure" {
		t.Errorf("title = %q, want %q", final.Title, "after failure")
	}
}

func TestStoreMutateNoChangeSkipsWrite(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	m := entities.NewMeeting("1:1", "meet")
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	before := repo.saveCount()
	err := store.Mutate(ctx, m.ID, func(cur *entities.Meeting) (*entities.Meeting, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got := repo.saveCount() - before; got != 0 {
		t.Errorf("no-change mutation caused %d writes, want 0", got)
	}
}

func TestStoreMutateNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Mutate(context.Background(), uuid.New(), func(cur *entities.Meeting) (*entities.Meeting, error) {
		return cur, nil
	})
	if apperrors.CodeOf(err) != apperrors.ErrorCode_NOT_FOUND {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := entities.NewMeeting("planning", "teams")
	handle := "abc123"
	m.RecordingHandle = &handle
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Delete(ctx, m.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got == nil || *got != handle {
		t.Errorf("delete handle = %v, want %q", got, handle)
	}

	if _, err := store.Delete(ctx, m.ID); apperrors.CodeOf(err) != apperrors.ErrorCode_NOT_FOUND {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestStoreRejectsDuplicateHandle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	handle := "dup-handle"
	first := entities.NewMeeting("a", "meet")
	first.RecordingHandle = &handle
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	second := entities.NewMeeting("b", "meet")
	second.RecordingHandle = &handle
	err := store.Create(ctx, second)
	if apperrors.CodeOf(err) != apperrors.ErrorCode_ALREADY_EXISTS {
		t.Fatalf("expected handle conflict, got %v", err)
	}

	// Archiving the first frees the handle
	if err := store.Mutate(ctx, first.ID, func(cur *entities.Meeting) (*entities.Meeting, error) {
		cur.Status = entities.MeetingStatusArchived
		return cur, nil
	}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("create after archive: %v", err)
	}
}

func TestStoreClaimTranscriptRequestOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := entities.NewMeeting("sync", "meet")
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.ClaimTranscriptRequest(ctx, m.ID)
	if err != nil || !claimed {
		t.Fatalf("first claim = (%v, %v), want (true, nil)", claimed, err)
	}
	claimed, err = store.ClaimTranscriptRequest(ctx, m.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Error("second claim succeeded, want exactly-once")
	}
}
