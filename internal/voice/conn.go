package voice

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// connectTimeout bounds a fresh transport connect.
const connectTimeout = 10 * time.Second

// connManager owns the lifecycle of the single voice connection a guild may
// hold: reuse when the target matches, move when it differs, replace when
// the handle has gone stale.
type connManager struct {
	transport Transport
}

// acquire returns a live connection targeting channelID. The guild lock is
// taken only around handle reads and writes, never across the network calls;
// dialMu keeps at most one dial in flight per guild so concurrent acquires
// cannot overwrite each other's connection.
func (m *connManager) acquire(st *guildState, guildID, channelID string) (Conn, error) {
	st.dialMu.Lock()
	defer st.dialMu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": channelID,
	})

	st.mu.Lock()
	existing := st.conn
	st.mu.Unlock()

	if existing != nil {
		if existing.Alive() {
			if existing.ChannelID() == channelID {
				log.Debug("Reusing live voice connection")
				return existing, nil
			}
			log.WithField("from_channel_id", existing.ChannelID()).Info("Moving voice connection")
			err := existing.MoveTo(channelID)
			if err == nil {
				return existing, nil
			}
			log.WithError(err).Warn("Move failed, reconnecting")
		} else {
			log.Warn("Found stale voice connection, cleaning up")
		}
		m.dropConn(st, existing)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := m.transport.Connect(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	st.mu.Lock()
	st.conn = conn
	st.mu.Unlock()
	log.Info("Connected to voice channel")
	return conn, nil
}

// dropConn force-releases a handle and clears it from the state if it is
// still the one recorded there.
func (m *connManager) dropConn(st *guildState, conn Conn) {
	if err := conn.Close(); err != nil {
		logrus.WithError(err).Debug("Error releasing voice connection")
	}
	st.mu.Lock()
	if st.conn == conn {
		st.conn = nil
	}
	st.mu.Unlock()
}
