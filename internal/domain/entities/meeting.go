package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MeetingStatus represents the lifecycle status of a meeting
type MeetingStatus string

const (
	MeetingStatusUpcoming MeetingStatus = "upcoming"
	MeetingStatusPast     MeetingStatus = "past"
	MeetingStatusArchived MeetingStatus = "archived"
)

// TranscriptStatus tracks how far a meeting's recording has moved through
// the completion pipeline. Together with RecordingComplete and
// TranscriptRequestedAt it is the only durable record of pipeline progress:
// the meeting row alone must always be enough to resume after a restart.
type TranscriptStatus string

const (
	TranscriptStatusNone       TranscriptStatus = ""
	TranscriptStatusUploading  TranscriptStatus = "uploading"
	TranscriptStatusRequested  TranscriptStatus = "requested"
	TranscriptStatusProcessing TranscriptStatus = "processing"
	TranscriptStatusDone       TranscriptStatus = "done"
	TranscriptStatusFailed     TranscriptStatus = "failed"
)

// Meeting represents a recorded (or upcoming) meeting
type Meeting struct {
	ID       uuid.UUID     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Status   MeetingStatus `json:"status" gorm:"type:varchar(20);not null;default:'past';index"`
	Title    string        `json:"title" gorm:"type:text"`
	Date     time.Time     `json:"date" gorm:"not null;index"`
	Platform string        `json:"platform" gorm:"type:varchar(100)"`
	Content  string        `json:"content" gorm:"type:text"`
	Summary  string        `json:"summary" gorm:"type:text"`

	// Pipeline correlation fields. RecordingHandle is minted by the device
	// agent and is unique among non-archived meetings; the provider fields
	// are minted by the transcription provider and map its asynchronous
	// notifications back to this row.
	RecordingHandle       *string          `json:"recording_handle,omitempty" gorm:"type:varchar(255);index"`
	UploadToken           *string          `json:"upload_token,omitempty" gorm:"type:text"`
	ProviderUploadID      *string          `json:"provider_upload_id,omitempty" gorm:"type:varchar(255);index"`
	ProviderRecordingID   *string          `json:"provider_recording_id,omitempty" gorm:"type:varchar(255);index"`
	TranscriptionProvider string           `json:"transcription_provider" gorm:"type:varchar(50)"`
	RecordingComplete     bool             `json:"recording_complete" gorm:"not null;default:false"`
	TranscriptStatus      TranscriptStatus `json:"transcript_status" gorm:"type:varchar(20);index"`
	TranscriptError       *string          `json:"transcript_error,omitempty" gorm:"type:text"`
	TranscriptRequestedAt *time.Time       `json:"transcript_requested_at,omitempty"`
	ArchiveObjectKey      *string          `json:"archive_object_key,omitempty" gorm:"type:text"`

	// Extra carries fields this schema does not model so they round-trip
	// unchanged through save/load and legacy import.
	Extra datatypes.JSON `json:"extra,omitempty" gorm:"type:jsonb;default:'{}'"`

	Participants      []Participant      `json:"participants,omitempty" gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE"`
	TranscriptEntries []TranscriptEntry  `json:"transcript_entries,omitempty" gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE"`
	Attendees         []CalendarAttendee `json:"attendees,omitempty" gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE"`
	SpeakerMapping    SpeakerMapping     `json:"speaker_mapping,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Meeting) TableName() string {
	return "meetings"
}

// NewMeeting creates a past meeting at recording start
func NewMeeting(title, platform string) *Meeting {
	return &Meeting{
		ID:       uuid.New(),
		Status:   MeetingStatusPast,
		Title:    title,
		Platform: platform,
		Date:     time.Now(),
	}
}

// NewUpcomingMeeting creates a meeting detected from a calendar event
func NewUpcomingMeeting(title, platform string, date time.Time) *Meeting {
	return &Meeting{
		ID:       uuid.New(),
		Status:   MeetingStatusUpcoming,
		Title:    title,
		Platform: platform,
		Date:     date,
	}
}

// IsInFlight reports whether this meeting can still claim a recording handle
func (m *Meeting) IsInFlight() bool {
	return m.Status != MeetingStatusArchived
}

// HasTranscript reports whether transcript processing has written entries
func (m *Meeting) HasTranscript() bool {
	return len(m.TranscriptEntries) > 0
}

// MarkUploadConfirmed records that captured media reached the provider
func (m *Meeting) MarkUploadConfirmed(providerRecordingID string) {
	m.RecordingComplete = true
	m.ProviderRecordingID = &providerRecordingID
	if m.TranscriptStatus == TranscriptStatusNone || m.TranscriptStatus == TranscriptStatusUploading {
		m.TranscriptStatus = TranscriptStatusUploading
	}
}

// MarkTranscriptRequested records the exactly-once transcript request
func (m *Meeting) MarkTranscriptRequested(providerRecordingID string) {
	now := time.Now()
	m.TranscriptRequestedAt = &now
	m.ProviderRecordingID = &providerRecordingID
	m.TranscriptStatus = TranscriptStatusRequested
}

// MarkTranscriptFailed records a definitive provider failure. Terminal.
func (m *Meeting) MarkTranscriptFailed(message string) {
	m.TranscriptStatus = TranscriptStatusFailed
	m.TranscriptError = &message
}
