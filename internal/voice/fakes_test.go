package voice

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeConn is a controllable voice connection. Playback never ends on its
// own; tests drive completion through finish or Stop.
type fakeConn struct {
	mu        sync.Mutex
	guildID   string
	channelID string
	alive     bool
	playing   bool
	paused    bool
	after     func(error)
	moves     []string
	closed    bool
}

func (c *fakeConn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeConn) Play(src Source, after func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		return errors.New("already playing")
	}
	c.playing = true
	c.paused = false
	c.after = after
	return nil
}

func (c *fakeConn) Stop() {
	c.mu.Lock()
	after := c.after
	c.after = nil
	c.playing = false
	c.paused = false
	c.mu.Unlock()
	if after != nil {
		after(nil)
	}
}

// finish simulates the source draining naturally.
func (c *fakeConn) finish() {
	c.Stop()
}

func (c *fakeConn) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return ErrNotPlaying
	}
	c.paused = true
	return nil
}

func (c *fakeConn) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return errors.New("not paused")
	}
	c.paused = false
	return nil
}

func (c *fakeConn) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing && !c.paused
}

func (c *fakeConn) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *fakeConn) MoveTo(channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, channelID)
	c.channelID = channelID
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	after := c.after
	c.after = nil
	c.playing = false
	c.paused = false
	c.alive = false
	c.closed = true
	c.mu.Unlock()
	if after != nil {
		after(nil)
	}
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failNext bool
	gate     chan struct{}
}

func (t *fakeTransport) Connect(ctx context.Context, guildID, channelID string) (Conn, error) {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext {
		return nil, errors.New("connection refused")
	}
	conn := &fakeConn{guildID: guildID, channelID: channelID, alive: true}
	t.conns = append(t.conns, conn)
	return conn, nil
}

// setGate makes subsequent dials block until the channel is closed.
func (t *fakeTransport) setGate(gate chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = gate
}

func (t *fakeTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// last returns the most recently created connection, if any.
func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) setFail(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = fail
}

type fakeSource struct {
	ref    string
	offset time.Duration
}

func (s *fakeSource) Close() error { return nil }

type openRecord struct {
	ref    string
	offset time.Duration
}

type fakeFactory struct {
	mu      sync.Mutex
	opened  []openRecord
	missing map[string]bool
}

func (f *fakeFactory) Open(ref string, offset time.Duration) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[ref] {
		return nil, ErrMissingSource
	}
	f.opened = append(f.opened, openRecord{ref: ref, offset: offset})
	return &fakeSource{ref: ref, offset: offset}, nil
}

func (f *fakeFactory) opens() []openRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]openRecord, len(f.opened))
	copy(out, f.opened)
	return out
}

type fakeDirectory struct {
	mu           sync.Mutex
	channels     map[string][]Channel
	userChannels map[string]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		channels:     make(map[string][]Channel),
		userChannels: make(map[string]string),
	}
}

func (d *fakeDirectory) VoiceChannels(guildID string) []Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[guildID]
}

func (d *fakeDirectory) UserChannel(guildID, userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.userChannels[guildID+"/"+userID]
	return ch, ok
}

func (d *fakeDirectory) placeUser(guildID, userID, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userChannels[guildID+"/"+userID] = channelID
}

func (d *fakeDirectory) setChannels(guildID string, channels ...Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[guildID] = channels
}

// newTestService wires a Service to fresh fakes with one populated channel
// so the selector always has a destination.
func newTestService() (*Service, *fakeTransport, *fakeFactory, *fakeDirectory) {
	transport := &fakeTransport{}
	factory := &fakeFactory{missing: make(map[string]bool)}
	dir := newFakeDirectory()
	dir.setChannels("guild-1", Channel{
		ID:      "vc-general",
		Name:    "General",
		Members: []Member{{ID: "user-1"}, {ID: "user-2"}},
	})
	return New(transport, factory, dir), transport, factory, dir
}
