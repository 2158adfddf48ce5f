package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	apperrors "github.com/recap-app/recap/errors"
	"github.com/recap-app/recap/internal/domain/entities"
)

// Importer is the batch-insert surface the migrator needs
type Importer interface {
	ImportBatch(ctx context.Context, meetings []entities.Meeting) error
}

// Migrator imports a legacy flat-file meeting store. The import is one
// atomic batch; afterwards the source file is renamed so the migration
// never repeats and never partially imports.
type Migrator struct {
	importer Importer
	logger   *zap.Logger
}

// NewMigrator creates a legacy-store migrator
func NewMigrator(importer Importer, logger *zap.Logger) *Migrator {
	return &Migrator{importer: importer, logger: logger}
}

// legacyMeeting mirrors the flat-file record shape. Keys the current schema
// does not model are kept in the record's raw form and preserved through
// the Extra side channel.
type legacyMeeting struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Date            string `json:"date"`
	Platform        string `json:"platform"`
	Content         string `json:"content"`
	Summary         string `json:"summary"`
	Status          string `json:"status"`
	RecordingHandle string `json:"recordingHandle"`
	Participants    []struct {
		Name      string `json:"name"`
		Email     string `json:"email"`
		IsHost    bool   `json:"isHost"`
		JoinOrder int    `json:"joinOrder"`
	} `json:"participants"`
	Transcript []struct {
		Speaker string  `json:"speaker"`
		Text    string  `json:"text"`
		StartMS int64   `json:"startMs"`
		EndMS   int64   `json:"endMs"`
		Conf    float64 `json:"confidence"`
	} `json:"transcript"`
}

var legacyKnownKeys = map[string]bool{
	"id": true, "title": true, "date": true, "platform": true,
	"content": true, "summary": true, "status": true,
	"recordingHandle": true, "participants": true, "transcript": true,
}

// Run imports path if it exists. Returns the number of imported records;
// zero with nil error when there is nothing to migrate.
func (mg *Migrator) Run(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperrors.ErrMigrationFailed(err)
	}

	var rawRecords []json.RawMessage
	if err := json.Unmarshal(data, &rawRecords); err != nil {
		return 0, apperrors.ErrMigrationFailed(fmt.Errorf("parse legacy file: %w", err))
	}

	meetings := make([]entities.Meeting, 0, len(rawRecords))
	for i, raw := range rawRecords {
		m, err := mg.convert(raw)
		if err != nil {
			return 0, apperrors.ErrMigrationFailed(fmt.Errorf("record %d: %w", i, err))
		}
		meetings = append(meetings, *m)
	}

	if err := mg.importer.ImportBatch(ctx, meetings); err != nil {
		return 0, apperrors.ErrMigrationFailed(err)
	}

	// Tombstone the source so a restart never re-imports
	if err := os.Rename(path, path+".imported"); err != nil {
		return 0, apperrors.ErrMigrationFailed(fmt.Errorf("tombstone legacy file: %w", err))
	}

	mg.logger.Info("legacy store imported",
		zap.String("path", path),
		zap.Int("records", len(meetings)),
	)
	return len(meetings), nil
}

func (mg *Migrator) convert(raw json.RawMessage) (*entities.Meeting, error) {
	var rec legacyMeeting
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}

	id := uuid.New()
	if rec.ID != "" {
		if parsed, err := uuid.Parse(rec.ID); err == nil {
			id = parsed
		}
	}

	date := time.Now()
	if rec.Date != "" {
		parsed, err := time.Parse(time.RFC3339, rec.Date)
		if err != nil {
			parsed, err = time.Parse("2006-01-02", rec.Date)
		}
		if err == nil {
			date = parsed
		}
	}

	status := entities.MeetingStatusPast
	switch entities.MeetingStatus(rec.Status) {
	case entities.MeetingStatusUpcoming, entities.MeetingStatusArchived:
		status = entities.MeetingStatus(rec.Status)
	}

	m := &entities.Meeting{
		ID:       id,
		Status:   status,
		Title:    rec.Title,
		Date:     date,
		Platform: rec.Platform,
		Content:  rec.Content,
		Summary:  rec.Summary,
	}
	if rec.RecordingHandle != "" {
		handle := rec.RecordingHandle
		m.RecordingHandle = &handle
	}
	if len(rec.Transcript) > 0 {
		m.TranscriptStatus = entities.TranscriptStatusDone
	}

	for i, p := range rec.Participants {
		joinOrder := p.JoinOrder
		if joinOrder == 0 {
			joinOrder = i
		}
		m.Participants = append(m.Participants, entities.Participant{
			ID:        uuid.New(),
			MeetingID: id,
			Name:      p.Name,
			Email:     p.Email,
			IsHost:    p.IsHost,
			JoinOrder: joinOrder,
		})
	}

	for i, t := range rec.Transcript {
		m.TranscriptEntries = append(m.TranscriptEntries, entities.TranscriptEntry{
			ID:         uuid.New(),
			MeetingID:  id,
			Idx:        i,
			Speaker:    t.Speaker,
			Text:       t.Text,
			StartMS:    t.StartMS,
			EndMS:      t.EndMS,
			Confidence: t.Conf,
		})
	}

	extra, err := extractUnknownFields(raw)
	if err != nil {
		return nil, err
	}
	m.Extra = extra

	return m, nil
}

// extractUnknownFields keeps every key the schema does not model so legacy
// data round-trips unchanged.
func extractUnknownFields(raw json.RawMessage) (datatypes.JSON, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	unknown := make(map[string]json.RawMessage)
	for key, value := range all {
		if !legacyKnownKeys[key] {
			unknown[key] = value
		}
	}
	if len(unknown) == 0 {
		return datatypes.JSON([]byte("{}")), nil
	}
	blob, err := json.Marshal(unknown)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(blob), nil
}
