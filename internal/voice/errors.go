package voice

import "errors"

var (
	// ErrMissingSource indicates the referenced audio does not exist.
	ErrMissingSource = errors.New("audio source not found")

	// ErrConnectFailed indicates the transport could not establish or
	// relocate a connection.
	ErrConnectFailed = errors.New("voice connection failed")

	// ErrNotPlaying indicates a playback control arrived while nothing
	// was streaming.
	ErrNotPlaying = errors.New("nothing is playing")
)
