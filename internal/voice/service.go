package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reply is the structured outcome of a façade operation. Callers surface
// Message verbatim; façade operations never panic and never return raw
// errors to command handlers.
type Reply struct {
	OK      bool
	Message string
}

func replyOK(format string, args ...any) Reply {
	return Reply{OK: true, Message: fmt.Sprintf(format, args...)}
}

func replyFail(format string, args ...any) Reply {
	return Reply{OK: false, Message: fmt.Sprintf(format, args...)}
}

// Service orchestrates audio playback across guilds. Each guild gets an
// independent playback state and, while draining, one playback goroutine;
// guilds never block each other.
type Service struct {
	mu     sync.RWMutex
	states map[string]*guildState

	sources  SourceFactory
	activity *ActivityTracker
	selector *selector
	conns    *connManager
}

// New builds a Service on top of the given collaborators.
func New(transport Transport, sources SourceFactory, dir Directory) *Service {
	activity := NewActivityTracker()
	return &Service{
		states:   make(map[string]*guildState),
		sources:  sources,
		activity: activity,
		selector: &selector{dir: dir, activity: activity},
		conns:    &connManager{transport: transport},
	}
}

// RecordActivity notes that a user triggered a sound command, feeding the
// channel selection heuristic.
func (s *Service) RecordActivity(guildID, userID string) {
	s.activity.Record(guildID, userID, time.Now())
}

// QueueSound adds a sound to the guild's queue, at the front when playNext
// is set. If the guild is idle the playback loop is spawned immediately.
func (s *Service) QueueSound(guildID string, req Request, playNext bool) Reply {
	item := newQueueItem(req)
	st := s.state(guildID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if playNext {
		st.queue.pushFront(item)
	} else {
		st.queue.pushBack(item)
	}
	logrus.WithFields(logrus.Fields{
		"guild_id":  guildID,
		"sound":     item.Label,
		"play_next": playNext,
	}).Debug("Queued sound")

	if st.current == nil && !st.paused && !st.loopRunning {
		s.startLoopLocked(guildID, st)
		return replyOK("Playing **%s**%s", item.Label, durationSuffix(item.Duration))
	}

	position := st.queue.len()
	if playNext {
		position = 1
	}
	return replyOK("Queued **%s**%s (position %d)", item.Label, durationSuffix(item.Duration), position)
}

// PlayNow interrupts whatever is streaming: the current item's elapsed time
// is folded into its resume offset and it is requeued at the front, then the
// new item is front-inserted ahead of it so the new sound plays first and
// the interrupted one resumes afterwards.
func (s *Service) PlayNow(guildID string, req Request) Reply {
	item := newQueueItem(req)
	st := s.state(guildID)

	st.mu.Lock()
	defer st.mu.Unlock()

	var stopConn Conn
	if st.current != nil && st.conn != nil && st.conn.Playing() {
		if !st.currentStartedAt.IsZero() {
			elapsed := time.Since(st.currentStartedAt)
			st.current.ResumeOffset += elapsed
			logrus.WithFields(logrus.Fields{
				"guild_id": guildID,
				"sound":    st.current.Label,
				"offset":   st.current.ResumeOffset,
			}).Debug("Saved playback position")
		} else {
			logrus.WithField("guild_id", guildID).Warn("Streaming without a start timestamp, resume position lost")
		}
		st.queue.pushFront(st.current)
		st.current = nil
		stopConn = st.conn
	}

	st.queue.pushFront(item)

	if stopConn != nil {
		// Wakes the loop, which picks up the new front item next.
		stopConn.Stop()
	} else if st.current == nil && !st.paused && !st.loopRunning {
		s.startLoopLocked(guildID, st)
	}

	return replyOK("Playing **%s**%s now", item.Label, durationSuffix(item.Duration))
}

// Skip ends the current sound; the loop advances on its own.
func (s *Service) Skip(guildID string) Reply {
	st := s.state(guildID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil && st.queue.len() == 0 {
		return replyFail("Nothing is playing or queued")
	}
	if st.conn != nil && st.conn.Playing() {
		label := "current"
		if st.current != nil {
			label = st.current.Label
		}
		st.conn.Stop()
		return replyOK("Skipped **%s**", label)
	}
	return replyFail("Nothing is currently playing")
}

// Stop clears the queue and ends any active playback.
func (s *Service) Stop(guildID string) Reply {
	st := s.state(guildID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil && st.queue.len() == 0 {
		return replyFail("Nothing is playing or queued")
	}

	cleared := st.queue.clear()
	st.paused = false
	if st.conn != nil && st.conn.Playing() {
		st.conn.Stop()
	}
	st.current = nil

	if cleared > 0 {
		return replyOK("Stopped playback and cleared %d queued sounds", cleared)
	}
	return replyOK("Stopped playback")
}

// Pause suspends the current playback.
func (s *Service) Pause(guildID string) Reply {
	st := s.state(guildID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.conn == nil {
		return replyFail("Not connected to voice")
	}
	if st.paused {
		return replyFail("Already paused")
	}
	if !st.conn.Playing() {
		return replyFail("Nothing is playing")
	}
	if err := st.conn.Pause(); err != nil {
		logrus.WithError(err).WithField("guild_id", guildID).Warn("Transport pause failed")
		return replyFail("Nothing is playing")
	}
	st.paused = true
	label := "playback"
	if st.current != nil {
		label = st.current.Label
	}
	return replyOK("Paused **%s**", label)
}

// Resume continues paused playback. When pause state survived a stop (no
// loop running but items still queued) it restarts the loop instead.
func (s *Service) Resume(guildID string) Reply {
	st := s.state(guildID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.conn == nil {
		return replyFail("Not connected to voice")
	}
	if !st.paused {
		return replyFail("Not paused")
	}

	if st.conn.Paused() {
		if err := st.conn.Resume(); err != nil {
			logrus.WithError(err).WithField("guild_id", guildID).Warn("Transport resume failed")
		} else {
			st.paused = false
			label := "playback"
			if st.current != nil {
				label = st.current.Label
			}
			return replyOK("Resumed **%s**", label)
		}
	}

	st.paused = false
	if st.queue.len() > 0 && !st.loopRunning {
		st.current = nil
		s.startLoopLocked(guildID, st)
		return replyOK("Resumed queue playback")
	}
	return replyFail("Nothing to resume")
}

// Connect joins a specific channel without queueing anything, reusing or
// moving an existing connection as needed.
func (s *Service) Connect(guildID, channelID string) Reply {
	st := s.state(guildID)
	if _, err := s.conns.acquire(st, guildID, channelID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"guild_id":   guildID,
			"channel_id": channelID,
		}).Error("Connect failed")
		return replyFail("Could not connect to voice channel")
	}
	return replyOK("Connected to voice channel")
}

// Disconnect releases the guild's voice connection, discards all pending
// playback state, and joins the playback goroutine.
func (s *Service) Disconnect(guildID string) error {
	s.mu.RLock()
	st := s.states[guildID]
	s.mu.RUnlock()
	if st == nil {
		return nil
	}

	st.mu.Lock()
	conn := st.conn
	st.conn = nil
	st.queue.clear()
	st.current = nil
	st.paused = false
	done := st.loopDone
	st.mu.Unlock()

	var err error
	if conn != nil {
		conn.Stop()
		if cerr := conn.Close(); cerr != nil {
			err = fmt.Errorf("disconnecting guild %s: %w", guildID, cerr)
		}
	}
	if done != nil {
		<-done
	}
	logrus.WithField("guild_id", guildID).Info("Disconnected from voice")
	return err
}

// DisconnectAll releases every guild's connection. Failures are logged and
// never block the remaining guilds.
func (s *Service) DisconnectAll() {
	for _, guildID := range s.knownGuilds() {
		if err := s.Disconnect(guildID); err != nil {
			logrus.WithError(err).WithField("guild_id", guildID).Error("Error disconnecting from guild")
		}
	}
}

// Current returns a copy of the item in the current slot.
func (s *Service) Current(guildID string) (QueueItem, bool) {
	st := s.state(guildID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return QueueItem{}, false
	}
	return *st.current, true
}

// Queue returns a snapshot of the pending items, front first.
func (s *Service) Queue(guildID string) []QueueItem {
	st := s.state(guildID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.queue.snapshot()
}

func (s *Service) IsPaused(guildID string) bool {
	st := s.state(guildID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.paused
}

func (s *Service) IsPlaying(guildID string) bool {
	st := s.state(guildID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn != nil && st.conn.Playing()
}
