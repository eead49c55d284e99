package voice

import (
	"sync"
	"time"
)

// activityWindow is how long a user counts as a recent soundbot user after
// triggering a sound.
const activityWindow = 30 * time.Minute

// ActivityTracker remembers when each user last triggered a sound, per
// guild. Entries are filtered at read time and never evicted.
type ActivityTracker struct {
	mu      sync.Mutex
	byGuild map[string]map[string]time.Time
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		byGuild: make(map[string]map[string]time.Time),
	}
}

// Record overwrites the user's last-active timestamp.
func (t *ActivityTracker) Record(guildID, userID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.byGuild[guildID]
	if !ok {
		users = make(map[string]time.Time)
		t.byGuild[guildID] = users
	}
	users[userID] = now
}

// RecentUsers returns the users active within the recency window.
func (t *ActivityTracker) RecentUsers(guildID string, now time.Time) map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := make(map[string]struct{})
	for userID, lastActive := range t.byGuild[guildID] {
		if now.Sub(lastActive) < activityWindow {
			recent[userID] = struct{}{}
		}
	}
	return recent
}
