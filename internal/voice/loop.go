package voice

import (
	"time"

	"github.com/sirupsen/logrus"
)

// startLoopLocked spawns the guild's playback goroutine. The caller must
// hold st.mu.
func (s *Service) startLoopLocked(guildID string, st *guildState) {
	if st.loopRunning {
		return
	}
	st.loopRunning = true
	done := make(chan struct{})
	st.loopDone = done
	go func() {
		defer close(done)
		s.runLoop(guildID, st)
	}()
}

// runLoop drains the guild's queue one item at a time. It is deliberately
// iterative rather than recursive so long sessions never grow the stack.
// Each iteration pops, resolves a destination, plays, and waits on the
// transport's completion callback; that wait is the loop's only suspension
// point and the guild lock is never held across it.
func (s *Service) runLoop(guildID string, st *guildState) {
	log := logrus.WithField("guild_id", guildID)
	log.Debug("Playback loop started")

	for {
		st.mu.Lock()
		if st.paused || st.queue.len() == 0 {
			if !st.paused {
				st.current = nil
			}
			st.loopRunning = false
			st.mu.Unlock()
			log.Debug("Playback loop finished")
			return
		}
		item := st.queue.popFront()
		st.current = item
		st.mu.Unlock()

		played := s.playItem(guildID, st, item, log)

		st.mu.Lock()
		st.currentStartedAt = time.Time{}
		if played && st.paused {
			// Halted mid-item; an explicit resume restarts the loop.
			st.loopRunning = false
			st.mu.Unlock()
			log.Debug("Playback loop halted while paused")
			return
		}
		// A nil current here means the item was requeued or discarded by
		// a façade operation while we were waiting; either way we just
		// keep draining.
		if st.current == item {
			st.current = nil
		}
		st.mu.Unlock()
	}
}

// playItem plays a single item to completion. It returns false when the
// destination or source could not be resolved, in which case the item is
// dropped without retry. Errors during playback itself are absorbed and
// logged; a bad item never halts the guild's queue.
func (s *Service) playItem(guildID string, st *guildState, item *QueueItem, log *logrus.Entry) bool {
	channelID, ok := s.selector.findBestChannel(guildID, item.Requester)
	if !ok {
		log.WithField("sound", item.Label).Warn("No voice channel to play in, dropping item")
		return false
	}

	conn, err := s.conns.acquire(st, guildID, channelID)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"sound":      item.Label,
			"channel_id": channelID,
		}).Error("Could not connect to voice channel, dropping item")
		return false
	}

	if item.Requester != "" {
		s.activity.Record(guildID, item.Requester, time.Now())
	}

	src, err := s.sources.Open(item.Source, item.ResumeOffset)
	if err != nil {
		log.WithError(err).WithField("sound", item.Label).Error("Could not open audio source, dropping item")
		return false
	}

	if item.ResumeOffset > 0 {
		log.WithFields(logrus.Fields{
			"sound":  item.Label,
			"offset": item.ResumeOffset,
		}).Info("Resuming playback")
	}

	// The transport's completion callback resolves this single-use
	// signal; the receive below is the loop's only suspension point.
	finished := make(chan error, 1)

	st.mu.Lock()
	st.currentStartedAt = time.Now()
	st.mu.Unlock()

	if err := conn.Play(src, func(playErr error) { finished <- playErr }); err != nil {
		st.mu.Lock()
		st.currentStartedAt = time.Time{}
		st.mu.Unlock()
		_ = src.Close()
		log.WithError(err).WithField("sound", item.Label).Error("Transport rejected playback, dropping item")
		return false
	}

	if playErr := <-finished; playErr != nil {
		log.WithError(playErr).WithField("sound", item.Label).Error("Playback error")
	}
	_ = src.Close()
	return true
}
