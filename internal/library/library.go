// Package library resolves sound names to playable audio files and holds
// per-user entrance/exit sound assignments, backed by a JSON state file.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timestamps are the trim points of a clip within its source, in seconds.
type Timestamps struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// Stats counts plays of a sound.
type Stats struct {
	Plays      int        `json:"plays"`
	LastPlayed *time.Time `json:"last_played,omitempty"`
}

// Files names the audio files inside a sound's directory.
type Files struct {
	Original     string `json:"original"`
	TrimmedAudio string `json:"trimmed_audio"`
}

// Sound is one library entry.
type Sound struct {
	Directory      string     `json:"directory"`
	Files          Files      `json:"files"`
	SourceURL      string     `json:"source_url,omitempty"`
	SourceTitle    string     `json:"source_title,omitempty"`
	SourceDuration float64    `json:"source_duration,omitempty"`
	Timestamps     Timestamps `json:"timestamps"`
	AddedBy        string     `json:"added_by,omitempty"`
	Stats          Stats      `json:"stats"`
}

// Duration reports the playable length of the clip: the trim window when
// set, otherwise the source duration hint. Zero when unknown.
func (s *Sound) Duration() time.Duration {
	start := 0.0
	if s.Timestamps.Start != nil {
		start = *s.Timestamps.Start
	}
	if s.Timestamps.End != nil && *s.Timestamps.End > start {
		return time.Duration((*s.Timestamps.End - start) * float64(time.Second))
	}
	if s.SourceDuration > start {
		return time.Duration((s.SourceDuration - start) * float64(time.Second))
	}
	return 0
}

type state struct {
	Entrances map[string]string `json:"entrances"`
	Exits     map[string]string `json:"exits"`
	Sounds    map[string]*Sound `json:"sounds"`
}

// Library is the in-memory sound catalog. Loaded once at startup; entrance
// and exit assignments are saved back to the state file when changed.
type Library struct {
	mu        sync.RWMutex
	statePath string
	soundsDir string
	st        state
}

// Load reads the state file. A missing file yields an empty library.
func Load(statePath, soundsDir string) (*Library, error) {
	lib := &Library{
		statePath: statePath,
		soundsDir: soundsDir,
		st: state{
			Entrances: make(map[string]string),
			Exits:     make(map[string]string),
			Sounds:    make(map[string]*Sound),
		},
	}

	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		logrus.WithField("path", statePath).Warn("State file not found, starting with an empty library")
		return lib, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(data, &lib.st); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if lib.st.Entrances == nil {
		lib.st.Entrances = make(map[string]string)
	}
	if lib.st.Exits == nil {
		lib.st.Exits = make(map[string]string)
	}
	if lib.st.Sounds == nil {
		lib.st.Sounds = make(map[string]*Sound)
	}

	logrus.WithFields(logrus.Fields{
		"sounds": len(lib.st.Sounds),
		"path":   statePath,
	}).Info("Sound library loaded")
	return lib, nil
}

// Resolve maps a sound name to its playable audio path and duration hint.
func (l *Library) Resolve(name string) (string, time.Duration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sound, ok := l.st.Sounds[name]
	if !ok || sound.Files.TrimmedAudio == "" {
		return "", 0, false
	}
	return filepath.Join(l.soundsDir, sound.Directory, sound.Files.TrimmedAudio), sound.Duration(), true
}

// Names lists all sound names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.st.Sounds))
	for name := range l.st.Sounds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordPlay bumps a sound's play counter; the save is best-effort.
func (l *Library) RecordPlay(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sound, ok := l.st.Sounds[name]
	if !ok {
		return
	}
	now := time.Now()
	sound.Stats.Plays++
	sound.Stats.LastPlayed = &now
	if err := l.saveLocked(); err != nil {
		logrus.WithError(err).Warn("Could not save play stats")
	}
}

// Entrance returns the user's entrance sound, if configured.
func (l *Library) Entrance(userID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.st.Entrances[userID]
	return name, ok
}

// Exit returns the user's exit sound, if configured.
func (l *Library) Exit(userID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.st.Exits[userID]
	return name, ok
}

// SetEntrance assigns an entrance sound; the sound must exist.
func (l *Library) SetEntrance(userID, name string) error {
	return l.assign(userID, name, func(st *state) map[string]string { return st.Entrances })
}

// SetExit assigns an exit sound; the sound must exist.
func (l *Library) SetExit(userID, name string) error {
	return l.assign(userID, name, func(st *state) map[string]string { return st.Exits })
}

// ClearEntrance removes the user's entrance sound and reports whether one
// was set.
func (l *Library) ClearEntrance(userID string) bool {
	return l.clear(userID, func(st *state) map[string]string { return st.Entrances })
}

// ClearExit removes the user's exit sound and reports whether one was set.
func (l *Library) ClearExit(userID string) bool {
	return l.clear(userID, func(st *state) map[string]string { return st.Exits })
}

func (l *Library) assign(userID, name string, pick func(*state) map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.st.Sounds[name]; !ok {
		return fmt.Errorf("unknown sound: %s", name)
	}
	pick(&l.st)[userID] = name
	return l.saveLocked()
}

func (l *Library) clear(userID string, pick func(*state) map[string]string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := pick(&l.st)
	if _, ok := m[userID]; !ok {
		return false
	}
	delete(m, userID)
	if err := l.saveLocked(); err != nil {
		logrus.WithError(err).Warn("Could not save state file")
	}
	return true
}

func (l *Library) saveLocked() error {
	data, err := json.MarshalIndent(l.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if dir := filepath.Dir(l.statePath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}
	if err := os.WriteFile(l.statePath, data, 0640); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}
