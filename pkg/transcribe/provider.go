package transcribe

import "context"

// UploadState is the provider-reported state of an upload session
type UploadState string

const (
	UploadStatePending  UploadState = "pending"
	UploadStateComplete UploadState = "complete"
	UploadStateFailed   UploadState = "failed"
)

// TranscriptState is the provider-reported state of a transcript job
type TranscriptState string

const (
	TranscriptStateQueued     TranscriptState = "queued"
	TranscriptStateProcessing TranscriptState = "processing"
	TranscriptStateCompleted  TranscriptState = "completed"
	TranscriptStateError      TranscriptState = "error"
)

// UploadCredential is minted before capture starts so the device agent can
// push media straight to the provider.
type UploadCredential struct {
	Token    string `json:"token"`
	UploadID string `json:"upload_id"`
}

// UploadStatus reports an upload session. ProviderRecordingID and AudioURL
// are set once State is complete.
type UploadStatus struct {
	State               UploadState `json:"status"`
	ProviderRecordingID string      `json:"recording_id,omitempty"`
	AudioURL            string      `json:"audio_url,omitempty"`
	Error               string      `json:"error,omitempty"`
}

// TranscriptStatus reports a transcript job
type TranscriptStatus struct {
	State TranscriptState `json:"status"`
	Error string          `json:"error,omitempty"`
}

// Token is one recognized word with speaker attribution and timing
type Token struct {
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// TranscriptPayload is the final transcript delivered by the provider
type TranscriptPayload struct {
	Tokens   []Token `json:"tokens"`
	Language string  `json:"language,omitempty"`
	Text     string  `json:"text,omitempty"`
}

// Provider is the adapter boundary to the transcription vendor. Every call
// is a single short network request; retry and polling cadence belong to
// the caller.
type Provider interface {
	// Name identifies the provider on persisted meetings
	Name() string
	// CreateUploadCredential mints an upload session for the device agent
	CreateUploadCredential(ctx context.Context) (*UploadCredential, error)
	// GetUploadStatus reports whether captured media reached the provider
	GetUploadStatus(ctx context.Context, uploadID string) (*UploadStatus, error)
	// RequestTranscript asks for transcript generation of an uploaded
	// recording. Returns the identifier all later calls are keyed by; a
	// provider may refine the recording id it handed out at upload time.
	RequestTranscript(ctx context.Context, providerRecordingID, audioURL string) (string, error)
	// GetTranscriptStatus reports transcript generation progress
	GetTranscriptStatus(ctx context.Context, providerRecordingID string) (*TranscriptStatus, error)
	// GetTranscript fetches the final transcript payload
	GetTranscript(ctx context.Context, providerRecordingID string) (*TranscriptPayload, error)
}
