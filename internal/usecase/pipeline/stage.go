package pipeline

import "github.com/recap-app/recap/internal/domain/entities"

// Stage is one ordered step of the completion pipeline
type Stage string

const (
	// StageNone means the meeting has no drivable pipeline (no handle, or
	// capture ran without upload correlation).
	StageNone Stage = "none"

	StageUploadConfirmation   Stage = "upload_confirmation"
	StageTranscriptRequest    Stage = "transcript_request"
	StageTranscriptCompletion Stage = "transcript_completion"
	StageTranscriptProcessing Stage = "transcript_processing"
	StageSummarization        Stage = "summarization"

	StageDone   Stage = "done"
	StageFailed Stage = "failed"

	// StageUnrecognized means the meeting's fields form no known pipeline
	// position. Treated as terminal so a bad row cannot spin a worker.
	StageUnrecognized Stage = "unrecognized"
)

// ResolveStage derives the pipeline stage to run next from the meeting row
// alone. This is the only resumption rule in the system: after a restart a
// worker is rebuilt from whatever this returns, with no other state.
func ResolveStage(m *entities.Meeting) Stage {
	if m == nil || m.RecordingHandle == nil {
		return StageNone
	}
	if m.TranscriptStatus == entities.TranscriptStatusFailed {
		return StageFailed
	}
	if m.TranscriptStatus == entities.TranscriptStatusDone {
		if m.Summary == "" {
			return StageSummarization
		}
		return StageDone
	}
	if m.ProviderUploadID == nil || *m.ProviderUploadID == "" {
		// Uncorrelated capture: nothing to confirm or request
		return StageNone
	}
	if !m.RecordingComplete {
		switch m.TranscriptStatus {
		case entities.TranscriptStatusNone, entities.TranscriptStatusUploading:
			return StageUploadConfirmation
		default:
			return StageUnrecognized
		}
	}
	if m.TranscriptRequestedAt == nil {
		return StageTranscriptRequest
	}
	switch m.TranscriptStatus {
	case entities.TranscriptStatusUploading, entities.TranscriptStatusRequested:
		return StageTranscriptCompletion
	case entities.TranscriptStatusProcessing:
		return StageTranscriptProcessing
	default:
		return StageUnrecognized
	}
}
