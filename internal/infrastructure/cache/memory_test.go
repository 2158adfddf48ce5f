package cache

import (
	"testing"
	"time"

	"github.com/recap-app/recap/internal/domain/entities"
)

func TestMeetingCacheTTL(t *testing.T) {
	c := NewMeetingCache(30 * time.Millisecond)
	m := entities.NewMeeting("standup", "meet")

	c.Set(m.ID.String(), m)
	if got, ok := c.Get(m.ID.String()); !ok || got.ID != m.ID {
		t.Fatal("fresh entry not served")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get(m.ID.String()); ok {
		t.Error("entry served past its TTL")
	}
}

func TestMeetingCacheDelete(t *testing.T) {
	c := NewMeetingCache(time.Minute)
	m := entities.NewMeeting("standup", "meet")

	c.Set(m.ID.String(), m)
	c.Delete(m.ID.String())
	if _, ok := c.Get(m.ID.String()); ok {
		t.Error("deleted entry still served")
	}
}

func TestMeetingCacheMiss(t *testing.T) {
	c := NewMeetingCache(time.Minute)
	if _, ok := c.Get("unknown"); ok {
		t.Error("miss reported as hit")
	}
}
