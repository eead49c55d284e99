// Package discord binds the playback engine to a live Discord session:
// voice connections, channel membership lookups, and the chat command
// surface.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/UberKitten/SoundBot/internal/voice"
)

// FrameSource yields 20ms opus frames. Sources handed to this transport
// must implement it.
type FrameSource interface {
	OpusFrame() ([]byte, error)
}

// Transport joins Discord voice channels. It implements voice.Transport.
type Transport struct {
	session *discordgo.Session
}

// NewTransport returns a Transport bound to the given session.
func NewTransport(session *discordgo.Session) *Transport {
	return &Transport{session: session}
}

// Connect joins the channel and waits for the voice handshake to finish.
func (t *Transport) Connect(ctx context.Context, guildID, channelID string) (voice.Conn, error) {
	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("joining voice channel: %w", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !vc.Ready {
		select {
		case <-ctx.Done():
			if err := vc.Disconnect(); err != nil {
				logrus.WithError(err).Debug("Error disconnecting unready voice connection")
			}
			return nil, fmt.Errorf("voice handshake: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	logrus.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Info("Voice connection established")
	return &conn{vc: vc}, nil
}

type conn struct {
	vc      *discordgo.VoiceConnection
	mu      sync.Mutex
	playing bool
	paused  bool
	stop    chan struct{}
}

func (c *conn) ChannelID() string {
	return c.vc.ChannelID
}

func (c *conn) Alive() bool {
	return c.vc.Ready
}

// Play starts the send pump for src. The pump owns src's frames until the
// completion callback fires; the caller keeps ownership of src itself.
func (c *conn) Play(src voice.Source, after func(err error)) error {
	frames, ok := src.(FrameSource)
	if !ok {
		return fmt.Errorf("source %T does not yield opus frames", src)
	}

	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return errors.New("already playing")
	}
	stop := make(chan struct{})
	c.playing = true
	c.paused = false
	c.stop = stop
	c.mu.Unlock()

	go c.pump(frames, stop, after)
	return nil
}

func (c *conn) pump(frames FrameSource, stop chan struct{}, after func(err error)) {
	if err := c.vc.Speaking(true); err != nil {
		logrus.WithError(err).Debug("Could not set speaking state")
	}

	var playErr error
loop:
	for {
		select {
		case <-stop:
			break loop
		default:
		}

		if c.Paused() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		frame, err := frames.OpusFrame()
		if err == io.EOF {
			break loop
		}
		if err != nil {
			playErr = err
			break loop
		}

		select {
		case c.vc.OpusSend <- frame:
		case <-stop:
			break loop
		}
	}

	if err := c.vc.Speaking(false); err != nil {
		logrus.WithError(err).Debug("Could not clear speaking state")
	}

	c.mu.Lock()
	c.playing = false
	c.paused = false
	c.stop = nil
	c.mu.Unlock()

	after(playErr)
}

func (c *conn) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *conn) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return voice.ErrNotPlaying
	}
	c.paused = true
	return nil
}

func (c *conn) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *conn) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing && !c.paused
}

func (c *conn) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *conn) MoveTo(channelID string) error {
	if err := c.vc.ChangeChannel(channelID, false, true); err != nil {
		return fmt.Errorf("moving voice connection: %w", err)
	}
	return nil
}

func (c *conn) Close() error {
	c.Stop()
	if err := c.vc.Disconnect(); err != nil {
		return fmt.Errorf("disconnecting voice: %w", err)
	}
	return nil
}
