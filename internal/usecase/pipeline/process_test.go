package pipeline

import (
	"testing"

	"github.com/google/uuid"

	"github.com/recap-app/recap/internal/domain/entities"
	"github.com/recap-app/recap/pkg/transcribe"
)

func tok(text, speaker string, startMS, endMS int64) transcribe.Token {
	return transcribe.Token{Text: text, Speaker: speaker, StartMS: startMS, EndMS: endMS, Confidence: 0.9}
}

func TestSegmentTokensSpeakerChange(t *testing.T) {
	tokens := []transcribe.Token{
		tok("hello", "A", 0, 400),
		tok("there", "A", 450, 800),
		tok("hi", "B", 900, 1100),
	}

	got := segmentTokens(tokens)
	if len(got) != 2 {
		t.Fatalf("utterances = %d, want 2", len(got))
	}
	if got[0].speaker != "A" || got[0].text != "hello there" {
		t.Errorf("first utterance = %q by %q", got[0].text, got[0].speaker)
	}
	if got[1].speaker != "B" || got[1].text != "hi" {
		t.Errorf("second utterance = %q by %q", got[1].text, got[1].speaker)
	}
}

func TestSegmentTokensPauseThreshold(t *testing.T) {
	tokens := []transcribe.Token{
		tok("one", "A", 0, 500),
		// 1000ms gap: exactly at the threshold, same utterance
		tok("two", "A", 1500, 2000),
		// 1001ms gap: over the threshold, new utterance
		tok("three", "A", 3001, 3500),
	}

	got := segmentTokens(tokens)
	if len(got) != 2 {
		t.Fatalf("utterances = %d, want 2", len(got))
	}
	if got[0].text != "one two" {
		t.Errorf("first utterance = %q, want %q", got[0].text, "one two")
	}
	if got[1].text != "three" {
		t.Errorf("second utterance = %q, want %q", got[1].text, "three")
	}
	if got[0].startMS != 0 || got[0].endMS != 2000 {
		t.Errorf("first utterance span = [%d, %d], want [0, 2000]", got[0].startMS, got[0].endMS)
	}
}

func TestSegmentTokensSkipsEmptyAndAveragesConfidence(t *testing.T) {
	tokens := []transcribe.Token{
		{Text: "solid", Speaker: "A", StartMS: 0, EndMS: 300, Confidence: 1.0},
		{Text: "", Speaker: "A", StartMS: 300, EndMS: 350},
		{Text: "maybe", Speaker: "A", StartMS: 400, EndMS: 700, Confidence: 0.5},
	}

	got := segmentTokens(tokens)
	if len(got) != 1 {
		t.Fatalf("utterances = %d, want 1", len(got))
	}
	if got[0].text != "solid maybe" {
		t.Errorf("text = %q, want %q", got[0].text, "solid maybe")
	}
	if got[0].confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75", got[0].confidence)
	}
}

func TestSegmentTokensEmpty(t *testing.T) {
	if got := segmentTokens(nil); len(got) != 0 {
		t.Errorf("utterances = %d, want 0", len(got))
	}
}

func TestMapSpeakersRankPairing(t *testing.T) {
	// B speaks longest, then A. Host ranks first among participants.
	utterances := []utterance{
		{speaker: "A", startMS: 0, endMS: 1000},
		{speaker: "B", startMS: 1000, endMS: 5000},
		{speaker: "B", startMS: 6000, endMS: 8000},
	}
	participants := []entities.Participant{
		{Name: "Bob", JoinOrder: 1},
		{Name: "Alice", Email: "alice@example.com", IsHost: true, JoinOrder: 2},
	}

	mapping := mapSpeakers(utterances, participants)
	if len(mapping) != 2 {
		t.Fatalf("mapping size = %d, want 2", len(mapping))
	}
	if mapping["B"].Name != "Alice" || mapping["B"].Method != entities.MappingMethodRanked {
		t.Errorf("busiest speaker mapped to %+v, want host Alice", mapping["B"])
	}
	if mapping["A"].Name != "Bob" {
		t.Errorf("second speaker mapped to %+v, want Bob", mapping["A"])
	}
	if mapping["B"].Email != "alice@example.com" {
		t.Errorf("email not carried through mapping: %+v", mapping["B"])
	}
}

func TestMapSpeakersSyntheticOverflow(t *testing.T) {
	utterances := []utterance{
		{speaker: "A", startMS: 0, endMS: 3000},
		{speaker: "B", startMS: 3000, endMS: 5000},
		{speaker: "C", startMS: 5000, endMS: 6000},
	}
	participants := []entities.Participant{{Name: "Solo", IsHost: true}}

	mapping := mapSpeakers(utterances, participants)
	if mapping["A"].Name != "Solo" {
		t.Errorf("top speaker = %+v, want Solo", mapping["A"])
	}
	if mapping["B"].Method != entities.MappingMethodSynthetic || mapping["B"].Name != "Unknown speaker 1" {
		t.Errorf("overflow speaker B = %+v", mapping["B"])
	}
	if mapping["C"].Name != "Unknown speaker 2" {
		t.Errorf("overflow speaker C = %+v", mapping["C"])
	}
	if mapping["B"].Confidence >= mapping["A"].Confidence {
		t.Error("synthetic identity should carry lower confidence than ranked")
	}
}

func TestMapSpeakersDeterministicTies(t *testing.T) {
	// Equal durations; label order must break the tie the same way every time.
	utterances := []utterance{
		{speaker: "B", startMS: 0, endMS: 1000},
		{speaker: "A", startMS: 1000, endMS: 2000},
	}
	participants := []entities.Participant{
		{Name: "First", IsHost: true},
		{Name: "Second", JoinOrder: 1},
	}

	first := mapSpeakers(utterances, participants)
	for i := 0; i < 10; i++ {
		again := mapSpeakers(utterances, participants)
		for label, identity := range first {
			if again[label] != identity {
				t.Fatalf("mapping for %q changed between runs: %+v then %+v", label, identity, again[label])
			}
		}
	}
	if first["A"].Name != "First" || first["B"].Name != "Second" {
		t.Errorf("tie broke unexpectedly: %+v", first)
	}
}

func TestBuildEntriesOrderedAndResolved(t *testing.T) {
	meetingID := uuid.New()
	utterances := []utterance{
		{speaker: "A", text: "hello", startMS: 0, endMS: 500, confidence: 0.9},
		{speaker: "B", text: "hi", startMS: 600, endMS: 900, confidence: 0.8},
		{speaker: "A", text: "bye", startMS: 2500, endMS: 3000, confidence: 0.7},
	}
	mapping := entities.SpeakerMapping{
		"A": {Name: "Alice", Method: entities.MappingMethodRanked},
	}

	entries := buildEntries(meetingID, utterances, mapping)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Idx != i {
			t.Errorf("entry %d has Idx %d", i, e.Idx)
		}
		if e.MeetingID != meetingID {
			t.Errorf("entry %d has wrong meeting id", i)
		}
	}
	if entries[0].Speaker != "Alice" || entries[0].SpeakerLabel != "A" {
		t.Errorf("entry 0 = %q (%q)", entries[0].Speaker, entries[0].SpeakerLabel)
	}
	// Unmapped label keeps the provider label as the display name
	if entries[1].Speaker != "B" {
		t.Errorf("unmapped entry speaker = %q, want raw label", entries[1].Speaker)
	}
}
