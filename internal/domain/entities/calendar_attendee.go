package entities

import (
	"time"

	"github.com/google/uuid"
)

// CalendarAttendee is an invitee pulled from the calendar event that an
// upcoming meeting was detected from
type CalendarAttendee struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MeetingID uuid.UUID `json:"meeting_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	Email     string    `json:"email" gorm:"type:varchar(255)"`
	Organizer bool      `json:"organizer" gorm:"not null;default:false"`
	Response  string    `json:"response,omitempty" gorm:"type:varchar(50)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM
func (CalendarAttendee) TableName() string {
	return "calendar_attendees"
}
