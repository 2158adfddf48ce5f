package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recap-app/recap/internal/domain/entities"
	"github.com/recap-app/recap/internal/infrastructure/notify"
	"github.com/recap-app/recap/pkg/transcribe"
)

// outcome tells the worker loop what to do after a stage executor returns
type outcome int

const (
	// outcomeContinue re-resolves the stage from the fresh meeting row
	outcomeContinue outcome = iota
	// outcomeStop ends the worker (terminal stage, deletion, or shutdown)
	outcomeStop
)

// runWorker is the single consumer for one handle. Each iteration loads the
// committed meeting row, derives the stage from it, and runs that stage.
// Deleting the meeting mid-pipeline is caught here: the next iteration finds
// no row and the worker exits without mutating anything.
func (c *Coordinator) runWorker(w *worker) {
	defer c.wg.Done()
	defer c.removeWorker(w)

	log := c.logger.With(
		zap.String("handle", w.handle),
		zap.String("meeting_id", w.meetingID.String()),
	)

	for {
		if c.ctx.Err() != nil {
			return
		}

		m, err := c.loadMeeting(w.meetingID)
		if err != nil {
			log.Error("meeting load failed, retrying", zap.Error(err))
			if !c.sleep(c.cfg.PollInterval) {
				return
			}
			continue
		}
		if m == nil {
			log.Info("meeting deleted, stopping pipeline")
			return
		}

		stage := ResolveStage(m)
		log.Info("pipeline stage", zap.String("stage", string(stage)))
		c.notifyStage(w, stage)

		var next outcome
		switch stage {
		case StageUploadConfirmation:
			next = c.awaitUploadConfirmation(w, m, log)
		case StageTranscriptRequest:
			next = c.requestTranscript(w, m, log)
		case StageTranscriptCompletion:
			next = c.awaitTranscriptCompletion(w, m, log)
		case StageTranscriptProcessing:
			next = c.processTranscript(w, m, log)
		case StageSummarization:
			c.summarizeAndArchive(w, m, log)
			return
		case StageUnrecognized:
			log.Error("meeting fields do not map to any pipeline stage")
			c.markFailed(w, "unrecognized pipeline state", log)
			return
		default:
			// StageNone, StageDone, StageFailed
			return
		}

		if next == outcomeStop {
			return
		}
	}
}

func (c *Coordinator) loadMeeting(id uuid.UUID) (*entities.Meeting, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.store.Get(ctx, id)
}

// sleep waits for d, returning false when the coordinator is shutting down
func (c *Coordinator) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// awaitUploadConfirmation waits for proof that captured media reached the
// provider, via push advance or status poll, whichever lands first. Fixed
// poll interval; the stage fails after the configured upload timeout.
func (c *Coordinator) awaitUploadConfirmation(w *worker, m *entities.Meeting, log *zap.Logger) outcome {
	uploadID := *m.ProviderUploadID
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.cfg.UploadTimeout)
	defer deadline.Stop()

	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return outcomeStop

		case adv := <-w.advances:
			if adv.stage != StageUploadConfirmation {
				// Advance for a stage this worker is not in; the persisted
				// stage check makes replaying it pointless.
				log.Info("discarding stale advance", zap.String("for_stage", string(adv.stage)))
				continue
			}
			if adv.failure != "" {
				c.markFailed(w, adv.failure, log)
				return outcomeContinue
			}
			log.Info("upload confirmed",
				zap.String("source", adv.source),
				zap.String("provider_recording_id", adv.recordingID),
			)
			if err := c.applyUploadConfirmed(w, adv.recordingID); err != nil {
				log.Error("upload confirmation write failed", zap.Error(err))
				continue
			}
			return outcomeContinue

		case <-ticker.C:
			attempt++
			status, err := c.pollUploadStatus(uploadID)
			if err != nil {
				// Transient: a per-call failure triggers the next poll, not
				// a stage failure.
				log.Warn("upload status poll failed",
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			switch status.State {
			case transcribe.UploadStateComplete:
				log.Info("upload confirmed",
					zap.String("source", "poll"),
					zap.Int("attempt", attempt),
					zap.String("provider_recording_id", status.ProviderRecordingID),
				)
				if err := c.applyUploadConfirmed(w, status.ProviderRecordingID); err != nil {
					log.Error("upload confirmation write failed", zap.Error(err))
					continue
				}
				return outcomeContinue
			case transcribe.UploadStateFailed:
				msg := status.Error
				if msg == "" {
					msg = "provider reported upload failure"
				}
				c.markFailed(w, msg, log)
				return outcomeContinue
			default:
				log.Info("upload still pending", zap.Int("attempt", attempt))
			}

		case <-deadline.C:
			log.Error("upload confirmation timed out",
				zap.Int("attempts", attempt),
				zap.Duration("timeout", c.cfg.UploadTimeout),
			)
			c.markFailed(w, fmt.Sprintf("upload confirmation timed out after %d attempts", attempt), log)
			return outcomeContinue
		}
	}
}

func (c *Coordinator) pollUploadStatus(uploadID string) (*transcribe.UploadStatus, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.provider.GetUploadStatus(ctx, uploadID)
}

// applyUploadConfirmed persists upload confirmation. The in-mutation check of
// RecordingComplete is the idempotency guard: a second delivery, push or
// poll, finds the stage already advanced and writes nothing.
func (c *Coordinator) applyUploadConfirmed(w *worker, providerRecordingID string) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.store.Mutate(ctx, w.meetingID, func(m *entities.Meeting) (*entities.Meeting, error) {
		if m.RecordingComplete {
			return nil, nil
		}
		m.MarkUploadConfirmed(providerRecordingID)
		return m, nil
	})
}

// requestTranscript performs the exactly-once transcript request. The
// persisted claim happens before the provider call, so a crash after the
// call can never cause a duplicate request on restart.
func (c *Coordinator) requestTranscript(w *worker, m *entities.Meeting, log *zap.Logger) outcome {
	// Recover the audio URL from the upload status; idempotent read, also
	// needed when resuming at this stage after a restart.
	status, err := c.pollUploadStatus(*m.ProviderUploadID)
	if err != nil {
		log.Warn("upload status re-read failed", zap.Error(err))
		if !c.sleep(c.cfg.PollInterval) {
			return outcomeStop
		}
		return outcomeContinue
	}
	if status.State != transcribe.UploadStateComplete {
		log.Warn("upload no longer reports complete, re-checking",
			zap.String("state", string(status.State)))
		if !c.sleep(c.cfg.PollInterval) {
			return outcomeStop
		}
		return outcomeContinue
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	claimed, err := c.store.ClaimTranscriptRequest(ctx, w.meetingID)
	cancel()
	if err != nil {
		log.Error("transcript request claim failed", zap.Error(err))
		if !c.sleep(c.cfg.PollInterval) {
			return outcomeStop
		}
		return outcomeContinue
	}
	if !claimed {
		// A previous run already sent the request
		log.Info("transcript request already claimed, skipping")
		return outcomeContinue
	}

	recordingID := ""
	if m.ProviderRecordingID != nil {
		recordingID = *m.ProviderRecordingID
	}

	var transcriptID string
	submit := func() error {
		callCtx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		defer cancel()
		id, err := c.provider.RequestTranscript(callCtx, recordingID, status.AudioURL)
		if err != nil {
			return err
		}
		transcriptID = id
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(submit, backoff.WithContext(bo, c.ctx)); err != nil {
		log.Error("transcript request failed after retries", zap.Error(err))
		c.markFailed(w, fmt.Sprintf("transcript request failed: %v", err), log)
		return outcomeContinue
	}

	log.Info("transcript requested", zap.String("provider_recording_id", transcriptID))

	if transcriptID != "" && transcriptID != recordingID {
		// The provider keyed the transcript under a new identifier; persist
		// it so later polls and webhooks correlate.
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		defer cancel()
		err := c.store.Mutate(ctx, w.meetingID, func(m *entities.Meeting) (*entities.Meeting, error) {
			m.ProviderRecordingID = &transcriptID
			return m, nil
		})
		if err != nil {
			log.Error("provider recording id update failed", zap.Error(err))
		}
	}
	return outcomeContinue
}

// awaitTranscriptCompletion waits, push or poll, until the provider reports
// the transcript ready or failed. No stage timeout: transcription time is
// unbounded, and a definitive failure arrives as a status, not a deadline.
func (c *Coordinator) awaitTranscriptCompletion(w *worker, m *entities.Meeting, log *zap.Logger) outcome {
	recordingID := *m.ProviderRecordingID
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return outcomeStop

		case adv := <-w.advances:
			if adv.stage != StageTranscriptCompletion {
				log.Info("discarding stale advance", zap.String("for_stage", string(adv.stage)))
				continue
			}
			if adv.failure != "" {
				c.markFailed(w, adv.failure, log)
				return outcomeContinue
			}
			log.Info("transcript completed", zap.String("source", adv.source))
			if err := c.applyTranscriptCompleted(w); err != nil {
				log.Error("transcript completion write failed", zap.Error(err))
				continue
			}
			return outcomeContinue

		case <-ticker.C:
			attempt++
			status, err := c.pollTranscriptStatus(recordingID)
			if err != nil {
				log.Warn("transcript status poll failed",
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			switch status.State {
			case transcribe.TranscriptStateCompleted:
				log.Info("transcript completed",
					zap.String("source", "poll"),
					zap.Int("attempt", attempt),
				)
				if err := c.applyTranscriptCompleted(w); err != nil {
					log.Error("transcript completion write failed", zap.Error(err))
					continue
				}
				return outcomeContinue
			case transcribe.TranscriptStateError:
				msg := status.Error
				if msg == "" {
					msg = "provider reported transcript failure"
				}
				c.markFailed(w, msg, log)
				return outcomeContinue
			default:
				log.Info("transcript still generating",
					zap.String("state", string(status.State)),
					zap.Int("attempt", attempt),
				)
			}
		}
	}
}

func (c *Coordinator) pollTranscriptStatus(recordingID string) (*transcribe.TranscriptStatus, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.provider.GetTranscriptStatus(ctx, recordingID)
}

// applyTranscriptCompleted moves the meeting to the processing stage. Same
// idempotency shape as upload confirmation.
func (c *Coordinator) applyTranscriptCompleted(w *worker) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.store.Mutate(ctx, w.meetingID, func(m *entities.Meeting) (*entities.Meeting, error) {
		if m.TranscriptStatus != entities.TranscriptStatusRequested &&
			m.TranscriptStatus != entities.TranscriptStatusUploading {
			return nil, nil
		}
		m.TranscriptStatus = entities.TranscriptStatusProcessing
		return m, nil
	})
}

// processTranscript fetches the final payload, segments it into ordered
// utterances, maps speakers to participants, and replaces the transcript set
// in one atomic write.
func (c *Coordinator) processTranscript(w *worker, m *entities.Meeting, log *zap.Logger) outcome {
	recordingID := *m.ProviderRecordingID

	var payload *transcribe.TranscriptPayload
	fetch := func() error {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		defer cancel()
		p, err := c.provider.GetTranscript(ctx, recordingID)
		if err != nil {
			return err
		}
		payload = p
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(fetch, backoff.WithContext(bo, c.ctx)); err != nil {
		log.Error("transcript fetch failed after retries", zap.Error(err))
		c.markFailed(w, fmt.Sprintf("transcript fetch failed: %v", err), log)
		return outcomeContinue
	}

	utterances := segmentTokens(payload.Tokens)
	mapping := mapSpeakers(utterances, m.Participants)
	entries := buildEntries(w.meetingID, utterances, mapping)

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()
	if err := c.store.ReplaceTranscript(ctx, w.meetingID, entries, mapping, entities.TranscriptStatusDone); err != nil {
		log.Error("transcript replace failed", zap.Error(err))
		if !c.sleep(c.cfg.PollInterval) {
			return outcomeStop
		}
		return outcomeContinue
	}

	log.Info("transcript processed",
		zap.Int("utterances", len(entries)),
		zap.Int("speakers", len(mapping)),
	)
	c.notifyEvent(w, notify.EventTranscriptReady, nil)
	return outcomeContinue
}

// summarizeAndArchive runs the optional post-processing steps. Both are best
// effort: a failed summary or archive is logged and leaves the transcript
// done, never failed.
func (c *Coordinator) summarizeAndArchive(w *worker, m *entities.Meeting, log *zap.Logger) {
	if c.summarizer != nil && m.Summary == "" && len(m.TranscriptEntries) > 0 {
		text := transcriptText(m.TranscriptEntries)
		ctx, cancel := context.WithTimeout(c.ctx, 60*time.Second)
		summary, err := c.summarizer.GenerateSummary(ctx, text)
		cancel()
		if err != nil {
			log.Warn("summary generation failed", zap.Error(err))
		} else {
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
			err = c.store.Mutate(ctx, w.meetingID, func(mt *entities.Meeting) (*entities.Meeting, error) {
				if mt.Summary != "" {
					return nil, nil
				}
				mt.Summary = summary
				return mt, nil
			})
			cancel()
			if err != nil {
				log.Warn("summary write failed", zap.Error(err))
			} else {
				m.Summary = summary
				c.notifyEvent(w, notify.EventSummaryReady, nil)
			}
		}
	}

	if c.archive != nil {
		if err := c.archiveTranscript(w, m); err != nil {
			log.Warn("transcript archive failed", zap.Error(err))
		}
	}

	log.Info("pipeline finished")
	c.notifyStage(w, StageDone)
}

// exportDocument is the archived transcript export shape
type exportDocument struct {
	MeetingID      string                     `json:"meeting_id"`
	Title          string                     `json:"title"`
	Date           time.Time                  `json:"date"`
	Platform       string                     `json:"platform,omitempty"`
	Summary        string                     `json:"summary,omitempty"`
	SpeakerMapping entities.SpeakerMapping    `json:"speaker_mapping,omitempty"`
	Transcript     []entities.TranscriptEntry `json:"transcript"`
}

func (c *Coordinator) archiveTranscript(w *worker, m *entities.Meeting) error {
	doc := exportDocument{
		MeetingID:      m.ID.String(),
		Title:          m.Title,
		Date:           m.Date,
		Platform:       m.Platform,
		Summary:        m.Summary,
		SpeakerMapping: m.SpeakerMapping,
		Transcript:     m.TranscriptEntries,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("transcripts/%s.json", m.ID)
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()
	if err := c.archive.PutJSON(ctx, key, data); err != nil {
		return err
	}

	ctx2, cancel2 := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel2()
	return c.store.Mutate(ctx2, w.meetingID, func(mt *entities.Meeting) (*entities.Meeting, error) {
		mt.ArchiveObjectKey = &key
		return mt, nil
	})
}

// transcriptText flattens entries into the text handed to the summarizer
func transcriptText(entries []entities.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// markFailed records a definitive terminal failure on the meeting. Already
// terminal rows are left untouched.
func (c *Coordinator) markFailed(w *worker, message string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
	defer cancel()
	err := c.store.Mutate(ctx, w.meetingID, func(m *entities.Meeting) (*entities.Meeting, error) {
		if m.TranscriptStatus == entities.TranscriptStatusDone ||
			m.TranscriptStatus == entities.TranscriptStatusFailed {
			return nil, nil
		}
		m.MarkTranscriptFailed(message)
		return m, nil
	})
	if err != nil {
		log.Error("failure write failed", zap.Error(err))
		return
	}
	log.Error("pipeline failed", zap.String("reason", message))
	c.notifyEvent(w, notify.EventTranscriptFailed, notify.Payload{"reason": message})
}

func (c *Coordinator) notifyStage(w *worker, stage Stage) {
	c.notifyEvent(w, notify.EventPipelineStageChanged, notify.Payload{"stage": string(stage)})
}

func (c *Coordinator) notifyEvent(w *worker, event string, payload notify.Payload) {
	if payload == nil {
		payload = notify.Payload{}
	}
	payload["handle"] = w.handle
	payload["meeting_id"] = w.meetingID.String()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.notifier.Publish(ctx, event, payload)
}
