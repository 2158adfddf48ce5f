package entities

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptEntry is one ordered utterance of a meeting transcript. Idx is
// the conversation order; the set of entries for a meeting is only ever
// replaced atomically, never partially rewritten.
type TranscriptEntry struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MeetingID    uuid.UUID `json:"meeting_id" gorm:"type:uuid;not null;index:idx_transcript_meeting_idx,priority:1"`
	Idx          int       `json:"idx" gorm:"not null;index:idx_transcript_meeting_idx,priority:2"`
	SpeakerLabel string    `json:"speaker_label" gorm:"type:varchar(50)"`
	Speaker      string    `json:"speaker" gorm:"type:varchar(255)"`
	Text         string    `json:"text" gorm:"type:text;not null"`
	StartMS      int64     `json:"start_ms"`
	EndMS        int64     `json:"end_ms"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM
func (TranscriptEntry) TableName() string {
	return "transcript_entries"
}
