package meeting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/recap-app/recap/errors"
	"github.com/recap-app/recap/internal/adapter/repository"
	"github.com/recap-app/recap/internal/domain/entities"
	"github.com/recap-app/recap/internal/infrastructure/cache"
)

// Repository is the persistence surface the store serializes writes over.
// *repository.MeetingRepository satisfies it; tests substitute a fake.
type Repository interface {
	Create(ctx context.Context, meeting *entities.Meeting) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Meeting, error)
	GetByRecordingHandle(ctx context.Context, handle string) (*entities.Meeting, error)
	GetByProviderRecordingID(ctx context.Context, providerRecordingID string) (*entities.Meeting, error)
	GetByProviderUploadID(ctx context.Context, providerUploadID string) (*entities.Meeting, error)
	List(ctx context.Context, filters repository.MeetingFilters) ([]entities.Meeting, error)
	ListInFlight(ctx context.Context) ([]entities.Meeting, error)
	SaveFull(ctx context.Context, meeting *entities.Meeting) error
	ReplaceTranscript(ctx context.Context, meetingID uuid.UUID, entries []entities.TranscriptEntry, mapping entities.SpeakerMapping, status entities.TranscriptStatus) error
	ClaimTranscriptRequest(ctx context.Context, meetingID uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (*string, bool, error)
}

// MutateFunc transforms a meeting inside a serialized mutation. Returning
// (nil, nil) means no change; the store skips the write.
type MutateFunc func(m *entities.Meeting) (*entities.Meeting, error)

type mutationRequest struct {
	ctx   context.Context
	apply func(ctx context.Context) error
	reply chan error
}

// Store is the sole point of mutation for meeting records. Every write goes
// through one mutation goroutine, so at most one save/mutate executes at a
// time system-wide and queued callers run strictly in arrival order. Reads
// come from a short-TTL cache unless a write for the same meeting is in
// flight, in which case they go to the database and see a committed
// snapshot.
type Store struct {
	repo   Repository
	cache  *cache.MeetingCache
	logger *zap.Logger

	mutations chan mutationRequest

	mu     sync.RWMutex
	closed bool
	dirty  map[uuid.UUID]int

	wg sync.WaitGroup
}

// NewStore creates a meeting store and starts its mutation loop
func NewStore(repo Repository, logger *zap.Logger) *Store {
	s := &Store{
		repo:      repo,
		cache:     cache.NewMeetingCache(500 * time.Millisecond),
		logger:    logger,
		mutations: make(chan mutationRequest, 64),
		dirty:     make(map[uuid.UUID]int),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Close stops the mutation loop after draining queued mutations
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.mutations)
	s.mu.Unlock()
	s.wg.Wait()
}

// run is the single mutation consumer. A failed mutation is reported to its
// caller only; the loop keeps processing subsequent requests.
func (s *Store) run() {
	defer s.wg.Done()
	for req := range s.mutations {
		if err := req.ctx.Err(); err != nil {
			req.reply <- err
			continue
		}
		err := req.apply(req.ctx)
		if err != nil {
			s.logger.Error("store mutation failed", zap.Error(err))
		}
		req.reply <- err
	}
}

// enqueue submits a mutation and waits for its result. ids are marked dirty
// for the duration so concurrent reads bypass the cache.
func (s *Store) enqueue(ctx context.Context, ids []uuid.UUID, apply func(ctx context.Context) error) error {
	req := mutationRequest{ctx: ctx, apply: apply, reply: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.ErrStoreClosed()
	}
	for _, id := range ids {
		s.dirty[id]++
		s.cache.Delete(id.String())
	}
	s.mutations <- req
	s.mu.Unlock()

	err := <-req.reply

	s.mu.Lock()
	for _, id := range ids {
		if s.dirty[id] <= 1 {
			delete(s.dirty, id)
		} else {
			s.dirty[id]--
		}
		s.cache.Delete(id.String())
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return nil
}

func (s *Store) isDirty(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty[id] > 0
}

// Get retrieves a meeting by id. Returns (nil, nil) when not found.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*entities.Meeting, error) {
	if !s.isDirty(id) {
		if m, ok := s.cache.Get(id.String()); ok {
			return m, nil
		}
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m != nil && !s.isDirty(id) {
		s.cache.Set(id.String(), m)
	}
	return m, nil
}

// GetAll retrieves meetings matching the filters
func (s *Store) GetAll(ctx context.Context, filters repository.MeetingFilters) ([]entities.Meeting, error) {
	return s.repo.List(ctx, filters)
}

// GetByRecordingHandle finds the in-flight meeting for a recording handle.
// Correlation reads always hit the database: the pipeline needs freshness,
// not cache throughput.
func (s *Store) GetByRecordingHandle(ctx context.Context, handle string) (*entities.Meeting, error) {
	return s.repo.GetByRecordingHandle(ctx, handle)
}

// GetByProviderRecordingID correlates a provider identifier to a meeting
func (s *Store) GetByProviderRecordingID(ctx context.Context, providerRecordingID string) (*entities.Meeting, error) {
	return s.repo.GetByProviderRecordingID(ctx, providerRecordingID)
}

// GetByProviderUploadID correlates an upload notification to a meeting
func (s *Store) GetByProviderUploadID(ctx context.Context, providerUploadID string) (*entities.Meeting, error) {
	return s.repo.GetByProviderUploadID(ctx, providerUploadID)
}

// ListInFlight returns meetings with an unfinished pipeline
func (s *Store) ListInFlight(ctx context.Context) ([]entities.Meeting, error) {
	return s.repo.ListInFlight(ctx)
}

// Save writes a meeting and all child entities atomically
func (s *Store) Save(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return apperrors.ErrInvalidArgument("meeting cannot be nil")
	}
	return s.enqueue(ctx, []uuid.UUID{meeting.ID}, func(ctx context.Context) error {
		if err := s.checkHandleUnique(ctx, meeting); err != nil {
			return err
		}
		return s.repo.SaveFull(ctx, meeting)
	})
}

// Create inserts a new meeting
func (s *Store) Create(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return apperrors.ErrInvalidArgument("meeting cannot be nil")
	}
	return s.enqueue(ctx, []uuid.UUID{meeting.ID}, func(ctx context.Context) error {
		if err := s.checkHandleUnique(ctx, meeting); err != nil {
			return err
		}
		return s.repo.Create(ctx, meeting)
	})
}

// Mutate loads the meeting, applies fn, and persists the result, all inside
// one serialized mutation slot. fn sees the freshest committed state.
func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) error {
	return s.enqueue(ctx, []uuid.UUID{id}, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.ErrMeetingNotFound(id.String())
		}
		updated, err := fn(current)
		if err != nil {
			return err
		}
		if updated == nil {
			// No change requested
			return nil
		}
		updated.ID = id
		if err := s.checkHandleUnique(ctx, updated); err != nil {
			return err
		}
		return s.repo.SaveFull(ctx, updated)
	})
}

// ReplaceTranscript swaps the whole ordered transcript set in one atomic
// mutation. Never applied partially.
func (s *Store) ReplaceTranscript(
	ctx context.Context,
	meetingID uuid.UUID,
	entries []entities.TranscriptEntry,
	mapping entities.SpeakerMapping,
	status entities.TranscriptStatus,
) error {
	return s.enqueue(ctx, []uuid.UUID{meetingID}, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, meetingID)
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.ErrMeetingNotFound(meetingID.String())
		}
		return s.repo.ReplaceTranscript(ctx, meetingID, entries, mapping, status)
	})
}

// ClaimTranscriptRequest performs the exactly-once claim for the transcript
// request stage. Returns false if a previous run already claimed it.
func (s *Store) ClaimTranscriptRequest(ctx context.Context, meetingID uuid.UUID) (bool, error) {
	var claimed bool
	err := s.enqueue(ctx, []uuid.UUID{meetingID}, func(ctx context.Context) error {
		ok, err := s.repo.ClaimTranscriptRequest(ctx, meetingID)
		claimed = ok
		return err
	})
	return claimed, err
}

// Delete removes a meeting and its children, returning the recording handle
// (nil when the meeting had none). Returns ErrMeetingNotFound when absent.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (*string, error) {
	var handle *string
	err := s.enqueue(ctx, []uuid.UUID{id}, func(ctx context.Context) error {
		h, found, err := s.repo.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.ErrMeetingNotFound(id.String())
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// checkHandleUnique enforces that a recording handle maps to at most one
// in-flight meeting. Runs inside the mutation slot, so no concurrent write
// can race the check.
func (s *Store) checkHandleUnique(ctx context.Context, meeting *entities.Meeting) error {
	if meeting.RecordingHandle == nil || !meeting.IsInFlight() {
		return nil
	}
	existing, err := s.repo.GetByRecordingHandle(ctx, *meeting.RecordingHandle)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != meeting.ID {
		return apperrors.ErrHandleInUse(*meeting.RecordingHandle)
	}
	return nil
}
