package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/recap-app/recap/internal/domain/entities"
)

// MeetingFilters narrows List queries
type MeetingFilters struct {
	Status *entities.MeetingStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// MeetingRepository handles meeting data operations
type MeetingRepository struct {
	db *gorm.DB
}

// NewMeetingRepository creates a new meeting repository
func NewMeetingRepository(db *gorm.DB) *MeetingRepository {
	return &MeetingRepository{db: db}
}

// GetDB exposes the underlying gorm handle for conditional updates
func (r *MeetingRepository) GetDB() *gorm.DB {
	return r.db
}

// Create inserts a meeting with its child entities
func (r *MeetingRepository) Create(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return errors.New("meeting cannot be nil")
	}
	return r.db.WithContext(ctx).Create(meeting).Error
}

// GetByID retrieves a meeting with all child entities
func (r *MeetingRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Meeting, error) {
	var meeting entities.Meeting
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("join_order ASC")
		}).
		Preload("TranscriptEntries", func(db *gorm.DB) *gorm.DB {
			return db.Order("idx ASC")
		}).
		Preload("Attendees").
		Where("id = ?", id).
		First(&meeting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meeting, nil
}

// GetByRecordingHandle retrieves the in-flight meeting correlated to a
// device-agent recording handle. Archived meetings are excluded: the handle
// is only unique among non-archived rows.
func (r *MeetingRepository) GetByRecordingHandle(ctx context.Context, handle string) (*entities.Meeting, error) {
	var meeting entities.Meeting
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("join_order ASC")
		}).
		Preload("TranscriptEntries", func(db *gorm.DB) *gorm.DB {
			return db.Order("idx ASC")
		}).
		Preload("Attendees").
		Where("recording_handle = ? AND status <> ?", handle, entities.MeetingStatusArchived).
		First(&meeting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meeting, nil
}

// GetByProviderRecordingID correlates a provider notification back to a meeting
func (r *MeetingRepository) GetByProviderRecordingID(ctx context.Context, providerRecordingID string) (*entities.Meeting, error) {
	var meeting entities.Meeting
	err := r.db.WithContext(ctx).
		Where("provider_recording_id = ?", providerRecordingID).
		First(&meeting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meeting, nil
}

// GetByProviderUploadID correlates an upload notification back to a meeting
func (r *MeetingRepository) GetByProviderUploadID(ctx context.Context, providerUploadID string) (*entities.Meeting, error) {
	var meeting entities.Meeting
	err := r.db.WithContext(ctx).
		Where("provider_upload_id = ?", providerUploadID).
		First(&meeting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meeting, nil
}

// List retrieves meetings matching the filters, most recent first
func (r *MeetingRepository) List(ctx context.Context, filters MeetingFilters) ([]entities.Meeting, error) {
	query := r.db.WithContext(ctx).Model(&entities.Meeting{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.From != nil {
		query = query.Where("date >= ?", *filters.From)
	}
	if filters.To != nil {
		query = query.Where("date <= ?", *filters.To)
	}
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var meetings []entities.Meeting
	if err := query.Order("date DESC").Find(&meetings).Error; err != nil {
		return nil, err
	}
	return meetings, nil
}

// ListInFlight retrieves meetings whose fields imply an unfinished pipeline.
// Used to rebuild pipeline workers after a restart.
func (r *MeetingRepository) ListInFlight(ctx context.Context) ([]entities.Meeting, error) {
	var meetings []entities.Meeting
	err := r.db.WithContext(ctx).
		Where("recording_handle IS NOT NULL AND status <> ?", entities.MeetingStatusArchived).
		Where("transcript_status NOT IN ?", []entities.TranscriptStatus{
			entities.TranscriptStatusDone,
			entities.TranscriptStatusFailed,
		}).
		Where("transcript_status <> '' OR recording_complete = true").
		Find(&meetings).Error
	if err != nil {
		return nil, err
	}
	return meetings, nil
}

// SaveFull writes a meeting and all its child collections in one
// transaction. A failure anywhere leaves the previous state intact.
func (r *MeetingRepository) SaveFull(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return errors.New("meeting cannot be nil")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants", "TranscriptEntries", "Attendees").Save(meeting).Error; err != nil {
			return err
		}
		if err := tx.Where("meeting_id = ?", meeting.ID).Delete(&entities.Participant{}).Error; err != nil {
			return err
		}
		if len(meeting.Participants) > 0 {
			for i := range meeting.Participants {
				meeting.Participants[i].MeetingID = meeting.ID
			}
			if err := tx.Create(&meeting.Participants).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("meeting_id = ?", meeting.ID).Delete(&entities.TranscriptEntry{}).Error; err != nil {
			return err
		}
		if len(meeting.TranscriptEntries) > 0 {
			for i := range meeting.TranscriptEntries {
				meeting.TranscriptEntries[i].MeetingID = meeting.ID
			}
			if err := tx.Create(&meeting.TranscriptEntries).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("meeting_id = ?", meeting.ID).Delete(&entities.CalendarAttendee{}).Error; err != nil {
			return err
		}
		if len(meeting.Attendees) > 0 {
			for i := range meeting.Attendees {
				meeting.Attendees[i].MeetingID = meeting.ID
			}
			if err := tx.Create(&meeting.Attendees).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceTranscript atomically swaps the full ordered transcript set,
// speaker mapping, and status fields of a meeting.
func (r *MeetingRepository) ReplaceTranscript(
	ctx context.Context,
	meetingID uuid.UUID,
	entries []entities.TranscriptEntry,
	mapping entities.SpeakerMapping,
	status entities.TranscriptStatus,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meeting_id = ?", meetingID).Delete(&entities.TranscriptEntry{}).Error; err != nil {
			return err
		}
		if len(entries) > 0 {
			for i := range entries {
				entries[i].MeetingID = meetingID
				entries[i].Idx = i
			}
			if err := tx.Create(&entries).Error; err != nil {
				return err
			}
		}
		return tx.Model(&entities.Meeting{}).
			Where("id = ?", meetingID).
			Updates(map[string]interface{}{
				"speaker_mapping":   mapping,
				"transcript_status": status,
				"updated_at":        time.Now(),
			}).Error
	})
}

// ClaimTranscriptRequest atomically claims the exactly-once transcript
// request for a meeting. Returns false when another caller (or a previous
// run before a restart) already claimed it.
func (r *MeetingRepository) ClaimTranscriptRequest(ctx context.Context, meetingID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entities.Meeting{}).
		Where("id = ? AND transcript_requested_at IS NULL", meetingID).
		Updates(map[string]interface{}{
			"transcript_requested_at": time.Now(),
			"transcript_status":       entities.TranscriptStatusRequested,
			"updated_at":              time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ImportBatch inserts a set of meetings (with children) in one transaction.
// Used by the legacy-store migration: all records land or none do.
func (r *MeetingRepository) ImportBatch(ctx context.Context, meetings []entities.Meeting) error {
	if len(meetings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range meetings {
			if err := tx.Create(&meetings[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountActiveHandle reports how many non-archived meetings carry a handle
func (r *MeetingRepository) CountActiveHandle(ctx context.Context, handle string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entities.Meeting{}).
		Where("recording_handle = ? AND status <> ?", handle, entities.MeetingStatusArchived).
		Count(&count).Error
	return count, err
}

// Delete removes a meeting and all child entities, returning the recording
// handle so callers can cancel the pipeline and the capture agent. The
// second return is false when no meeting exists for id.
func (r *MeetingRepository) Delete(ctx context.Context, id uuid.UUID) (*string, bool, error) {
	var handle *string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meeting entities.Meeting
		if err := tx.Where("id = ?", id).First(&meeting).Error; err != nil {
			return err
		}
		handle = meeting.RecordingHandle

		if err := tx.Where("meeting_id = ?", id).Delete(&entities.TranscriptEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("meeting_id = ?", id).Delete(&entities.Participant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("meeting_id = ?", id).Delete(&entities.CalendarAttendee{}).Error; err != nil {
			return err
		}
		return tx.Delete(&entities.Meeting{}, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return handle, true, nil
}
