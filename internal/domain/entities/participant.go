package entities

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a person who took part in a recorded meeting
type Participant struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MeetingID uuid.UUID `json:"meeting_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Email     string    `json:"email,omitempty" gorm:"type:varchar(255)"`
	IsHost    bool      `json:"is_host" gorm:"not null;default:false"`
	JoinOrder int       `json:"join_order" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM
func (Participant) TableName() string {
	return "participants"
}
