package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/recap-app/recap/internal/domain/entities"
	"github.com/recap-app/recap/pkg/transcribe"
)

// utteranceGapMS starts a new utterance when consecutive tokens from the
// same speaker are separated by more than this pause.
const utteranceGapMS = 1000

// utterance is one segmented span of speech by a single provider speaker
type utterance struct {
	speaker    string
	text       string
	startMS    int64
	endMS      int64
	confidence float64
}

// segmentTokens groups the provider's flat token stream into ordered
// utterances. A new utterance starts when the speaker changes or the gap
// since the previous token exceeds the pause threshold.
func segmentTokens(tokens []transcribe.Token) []utterance {
	var out []utterance
	var words []string
	var confSum float64
	var cur *utterance

	flush := func() {
		if cur == nil {
			return
		}
		cur.text = strings.Join(words, " ")
		if n := len(words); n > 0 {
			cur.confidence = confSum / float64(n)
		}
		out = append(out, *cur)
		cur, words, confSum = nil, nil, 0
	}

	for _, t := range tokens {
		if t.Text == "" {
			continue
		}
		if cur != nil && (t.Speaker != cur.speaker || t.StartMS-cur.endMS > utteranceGapMS) {
			flush()
		}
		if cur == nil {
			cur = &utterance{speaker: t.Speaker, startMS: t.StartMS}
		}
		cur.endMS = t.EndMS
		words = append(words, t.Text)
		confSum += t.Confidence
	}
	flush()
	return out
}

// rankSpeakers orders provider speaker labels by total spoken duration,
// longest first. Ties break on label so the ranking is deterministic.
func rankSpeakers(utterances []utterance) []string {
	durations := make(map[string]int64)
	for _, u := range utterances {
		durations[u.speaker] += u.endMS - u.startMS
	}
	labels := make([]string, 0, len(durations))
	for label := range durations {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if durations[labels[i]] != durations[labels[j]] {
			return durations[labels[i]] > durations[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}

// rankParticipants orders known participants host-first, then by join order
func rankParticipants(participants []entities.Participant) []entities.Participant {
	ranked := make([]entities.Participant, len(participants))
	copy(ranked, participants)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].IsHost != ranked[j].IsHost {
			return ranked[i].IsHost
		}
		return ranked[i].JoinOrder < ranked[j].JoinOrder
	})
	return ranked
}

// mapSpeakers pairs ranked provider speakers with ranked participants by
// rank. Speakers beyond the participant list get a synthetic low-confidence
// identity so every label resolves to something displayable.
func mapSpeakers(utterances []utterance, participants []entities.Participant) entities.SpeakerMapping {
	speakers := rankSpeakers(utterances)
	ranked := rankParticipants(participants)

	mapping := make(entities.SpeakerMapping, len(speakers))
	for i, label := range speakers {
		if i < len(ranked) {
			mapping[label] = entities.SpeakerIdentity{
				Name:       ranked[i].Name,
				Email:      ranked[i].Email,
				Confidence: 0.5,
				Method:     entities.MappingMethodRanked,
			}
			continue
		}
		mapping[label] = entities.SpeakerIdentity{
			Name:       fmt.Sprintf("Unknown speaker %d", i-len(ranked)+1),
			Confidence: 0.1,
			Method:     entities.MappingMethodSynthetic,
		}
	}
	return mapping
}

// buildEntries converts utterances into the ordered transcript entry set,
// resolving provider labels through the mapping.
func buildEntries(meetingID uuid.UUID, utterances []utterance, mapping entities.SpeakerMapping) []entities.TranscriptEntry {
	entries := make([]entities.TranscriptEntry, 0, len(utterances))
	for i, u := range utterances {
		speaker := u.speaker
		if identity, ok := mapping[u.speaker]; ok {
			speaker = identity.Name
		}
		entries = append(entries, entities.TranscriptEntry{
			ID:           uuid.New(),
			MeetingID:    meetingID,
			Idx:          i,
			SpeakerLabel: u.speaker,
			Speaker:      speaker,
			Text:         u.text,
			StartMS:      u.startMS,
			EndMS:        u.endMS,
			Confidence:   u.confidence,
		})
	}
	return entries
}
