package voice

import (
	"context"
	"time"
)

// Transport establishes voice connections. The concrete binding (Discord or
// a test double) lives outside this package; the engine only sequences calls
// against these interfaces.
type Transport interface {
	// Connect joins the given channel and returns a live connection.
	// Implementations must honor ctx cancellation and must not leave a
	// half-open handle behind on failure.
	Connect(ctx context.Context, guildID, channelID string) (Conn, error)
}

// Conn is one live voice connection. A guild holds at most one at a time.
type Conn interface {
	ChannelID() string
	Alive() bool

	// Play starts streaming src and returns immediately. Exactly one call
	// to after signals completion, whether the source drained, errored,
	// or was stopped.
	Play(src Source, after func(err error)) error

	// Stop cooperatively ends the active stream. It must not block and
	// must still trigger the Play completion callback.
	Stop()

	Pause() error
	Resume() error

	// Playing reports whether a stream is actively sending audio. A
	// paused stream is not playing.
	Playing() bool
	Paused() bool

	// MoveTo relocates the connection to another channel in the same
	// guild without dropping it.
	MoveTo(channelID string) error

	// Close releases the connection, ending any active stream first.
	Close() error
}

// Source is an opaque playable audio stream. The engine never inspects it;
// it is produced by a SourceFactory and consumed by the same transport's
// connection.
type Source interface {
	Close() error
}

// SourceFactory opens audio sources, optionally seeking into the clip.
type SourceFactory interface {
	Open(ref string, offset time.Duration) (Source, error)
}

// Member is one participant in a voice channel.
type Member struct {
	ID  string
	Bot bool
}

// Channel describes a voice channel and its current occupants.
type Channel struct {
	ID      string
	Name    string
	Members []Member
}

// Directory answers membership queries about a guild's voice channels.
type Directory interface {
	VoiceChannels(guildID string) []Channel

	// UserChannel reports the voice channel the user currently occupies.
	UserChannel(guildID, userID string) (string, bool)
}
