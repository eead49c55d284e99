package voice

import (
	"sync"
	"time"
)

// guildState is the per-guild playback record. It is created lazily on first
// reference and lives for the process lifetime; disconnects clear it rather
// than destroy it.
//
// Invariants, all maintained under mu:
//   - current == nil implies nothing is being streamed for this guild
//   - paused implies current != nil and conn != nil
//   - an item in queue is never simultaneously current
//
// mu is only ever held around state mutation, never across the playback
// loop's wait on the transport.
type guildState struct {
	mu sync.Mutex

	// dialMu serializes transport dials for this guild so concurrent
	// acquires cannot race two connections into conn. Never held
	// together with mu.
	dialMu sync.Mutex

	queue            deque
	current          *QueueItem
	currentStartedAt time.Time
	paused           bool
	conn             Conn

	// loopRunning marks an active playback goroutine; loopDone is its
	// join handle, closed when the goroutine exits.
	loopRunning bool
	loopDone    chan struct{}
}

// state returns the guild's playback state, creating it on first use.
func (s *Service) state(guildID string) *guildState {
	s.mu.RLock()
	st, ok := s.states[guildID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[guildID]; ok {
		return st
	}
	st = &guildState{}
	s.states[guildID] = st
	return st
}

// knownGuilds snapshots the ids of all guilds with playback state.
func (s *Service) knownGuilds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids
}
