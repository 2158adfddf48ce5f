package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"github.com/recap-app/recap/pkg/config"
)

// AssemblyAIProvider implements Provider against AssemblyAI. Upload sessions
// go through the raw HTTP API; transcript jobs go through the official SDK.
type AssemblyAIProvider struct {
	apiKey         string
	baseURL        string
	webhookBaseURL string
	languageCode   string
	detectLanguage bool
	sdk            *aai.Client
	client         *http.Client
}

// NewAssemblyAIProvider creates an AssemblyAI-backed provider from config
func NewAssemblyAIProvider(cfg *config.ProviderConfig) *AssemblyAIProvider {
	return &AssemblyAIProvider{
		apiKey:         cfg.APIKey,
		baseURL:        cfg.BaseURL,
		webhookBaseURL: cfg.WebhookBaseURL,
		languageCode:   cfg.LanguageCode,
		detectLanguage: cfg.DetectLanguage,
		sdk:            aai.NewClient(cfg.APIKey),
		client:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies the provider on persisted meetings
func (p *AssemblyAIProvider) Name() string {
	return "assemblyai"
}

// CreateUploadCredential mints an upload session the device agent streams
// captured media into.
func (p *AssemblyAIProvider) CreateUploadCredential(ctx context.Context) (*UploadCredential, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v2/upload-sessions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var cred UploadCredential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return nil, err
	}
	if cred.Token == "" || cred.UploadID == "" {
		return nil, fmt.Errorf("provider returned incomplete upload credential")
	}
	return &cred, nil
}

// GetUploadStatus reports whether the agent's media reached the provider
func (p *AssemblyAIProvider) GetUploadStatus(ctx context.Context, uploadID string) (*UploadStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/v2/upload-sessions/"+uploadID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var status UploadStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestTranscript submits the uploaded recording for transcription via the
// SDK. The returned transcript id replaces the recording id as the key for
// status polls and webhook correlation.
func (p *AssemblyAIProvider) RequestTranscript(ctx context.Context, providerRecordingID, audioURL string) (string, error) {
	params := &aai.TranscriptOptionalParams{
		SpeakerLabels: aai.Bool(true),
	}
	if p.languageCode != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(p.languageCode)
	} else if p.detectLanguage {
		params.LanguageDetection = aai.Bool(true)
	}
	if p.webhookBaseURL != "" {
		webhookURL := p.webhookBaseURL + "/v1/webhooks/provider"
		params.WebhookURL = &webhookURL
	}

	transcript, err := p.sdk.Transcripts.SubmitFromURL(ctx, audioURL, params)
	if err != nil {
		return "", err
	}
	if transcript.ID == nil || *transcript.ID == "" {
		return providerRecordingID, nil
	}
	return *transcript.ID, nil
}

// GetTranscriptStatus reports transcript generation progress
func (p *AssemblyAIProvider) GetTranscriptStatus(ctx context.Context, providerRecordingID string) (*TranscriptStatus, error) {
	transcript, err := p.sdk.Transcripts.Get(ctx, providerRecordingID)
	if err != nil {
		return nil, err
	}

	status := &TranscriptStatus{}
	switch transcript.Status {
	case aai.TranscriptStatusCompleted:
		status.State = TranscriptStateCompleted
	case aai.TranscriptStatusError:
		status.State = TranscriptStateError
		if transcript.Error != nil {
			status.Error = *transcript.Error
		}
	case aai.TranscriptStatusProcessing:
		status.State = TranscriptStateProcessing
	default:
		status.State = TranscriptStateQueued
	}
	return status, nil
}

// GetTranscript fetches the completed transcript and flattens it into the
// token stream the processing stage segments.
func (p *AssemblyAIProvider) GetTranscript(ctx context.Context, providerRecordingID string) (*TranscriptPayload, error) {
	transcript, err := p.sdk.Transcripts.Get(ctx, providerRecordingID)
	if err != nil {
		return nil, err
	}
	if transcript.Status != aai.TranscriptStatusCompleted {
		return nil, fmt.Errorf("transcript %s not completed (status %s)", providerRecordingID, transcript.Status)
	}

	payload := &TranscriptPayload{Language: string(transcript.LanguageCode)}
	if transcript.Text != nil {
		payload.Text = *transcript.Text
	}
	for _, w := range transcript.Words {
		token := Token{}
		if w.Text != nil {
			token.Text = *w.Text
		}
		if w.Speaker != nil {
			token.Speaker = *w.Speaker
		}
		if w.Start != nil {
			token.StartMS = *w.Start
		}
		if w.End != nil {
			token.EndMS = *w.End
		}
		if w.Confidence != nil {
			token.Confidence = *w.Confidence
		}
		payload.Tokens = append(payload.Tokens, token)
	}
	return payload, nil
}
