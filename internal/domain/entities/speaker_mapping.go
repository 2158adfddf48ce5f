package entities

import (
	"database/sql/driver"
	"encoding/json"
)

// SpeakerIdentity maps one provider-native speaker label to a participant
type SpeakerIdentity struct {
	Name       string  `json:"name"`
	Email      string  `json:"email,omitempty"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Mapping methods
const (
	MappingMethodRanked    = "ranked"    // paired by spoken-volume vs join-order rank
	MappingMethodSynthetic = "synthetic" // no participant available; label kept
	MappingMethodManual    = "manual"    // set by the user
)

// SpeakerMapping maps provider speaker labels to participant identities
type SpeakerMapping map[string]SpeakerIdentity

// Scan implements sql.Scanner interface for GORM
func (s *SpeakerMapping) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value implements driver.Valuer interface for GORM
func (s SpeakerMapping) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}
