package pipeline

import (
	"testing"
	"time"

	"github.com/recap-app/recap/internal/domain/entities"
)

func strPtr(s string) *string { return &s }

func TestResolveStage(t *testing.T) {
	now := time.Now()

	base := func() *entities.Meeting {
		return &entities.Meeting{
			RecordingHandle:  strPtr("abc123"),
			ProviderUploadID: strPtr("up-1"),
		}
	}

	tests := []struct {
		name    string
		meeting *entities.Meeting
		want    Stage
	}{
		{"nil meeting", nil, StageNone},
		{"no handle", &entities.Meeting{}, StageNone},
		{
			"uncorrelated capture",
			&entities.Meeting{RecordingHandle: strPtr("abc123")},
			StageNone,
		},
		{
			"fresh handoff",
			base(),
			StageUploadConfirmation,
		},
		{
			"uploading not yet complete",
			func() *entities.Meeting {
				m := base()
				m.TranscriptStatus = entities.TranscriptStatusUploading
				return m
			}(),
			StageUploadConfirmation,
		},
		{
			"upload confirmed, request pending",
			func() *entities.Meeting {
				m := base()
				m.RecordingComplete = true
				m.TranscriptStatus = entities.TranscriptStatusUploading
				return m
			}(),
			StageTranscriptRequest,
		},
		{
			"transcript requested",
			func() *entities.Meeting {
				m := base()
				m.RecordingComplete = true
				m.TranscriptRequestedAt = &now
				m.TranscriptStatus = entities.TranscriptStatusRequested
				return m
			}(),
			StageTranscriptCompletion,
		},
		{
			"claimed but crash before status write",
			func() *entities.Meeting {
				m := base()
				m.RecordingComplete = true
				m.TranscriptRequestedAt = &now
				m.TranscriptStatus = entities.TranscriptStatusUploading
				return m
			}(),
			StageTranscriptCompletion,
		},
		{
			"transcript ready for processing",
			func() *entities.Meeting {
				m := base()
				m.RecordingComplete = true
				m.TranscriptRequestedAt = &now
				m.TranscriptStatus = entities.TranscriptStatusProcessing
				return m
			}(),
			StageTranscriptProcessing,
		},
		{
			"done without summary",
			func() *entities.Meeting {
				m := base()
				m.TranscriptStatus = entities.TranscriptStatusDone
				return m
			}(),
			StageSummarization,
		},
		{
			"done with summary",
			func() *entities.Meeting {
				m := base()
				m.TranscriptStatus = entities.TranscriptStatusDone
				m.Summary = "we decided things"
				return m
			}(),
			StageDone,
		},
		{
			"failed is terminal",
			func() *entities.Meeting {
				m := base()
				m.TranscriptStatus = entities.TranscriptStatusFailed
				return m
			}(),
			StageFailed,
		},
		{
			"processing status without upload confirmation",
			func() *entities.Meeting {
				m := base()
				m.TranscriptStatus = entities.TranscriptStatusProcessing
				return m
			}(),
			StageUnrecognized,
		},
		{
			"requested status without claim timestamp",
			func() *entities.Meeting {
				m := base()
				m.RecordingComplete = true
				m.TranscriptStatus = entities.TranscriptStatusRequested
				return m
			}(),
			StageTranscriptRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveStage(tt.meeting); got != tt.want {
				t.Errorf("ResolveStage() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Every field combination must resolve to the same stage no matter how many
// times it is evaluated; resumption depends on this being a pure function.
func TestResolveStageIsStable(t *testing.T) {
	now := time.Now()
	m := &entities.Meeting{
		RecordingHandle:       strPtr("abc123"),
		ProviderUploadID:      strPtr("up-1"),
		RecordingComplete:     true,
		TranscriptRequestedAt: &now,
		TranscriptStatus:      entities.TranscriptStatusRequested,
	}
	first := ResolveStage(m)
	for i := 0; i < 5; i++ {
		if got := ResolveStage(m); got != first {
			t.Fatalf("ResolveStage changed between calls: %q then %q", first, got)
		}
	}
}
