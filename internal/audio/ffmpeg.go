// Package audio decodes sound files into Discord-ready opus frames using
// an ffmpeg child process for decoding and gopus for encoding.
package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"layeh.com/gopus"

	"github.com/UberKitten/SoundBot/internal/voice"
)

const (
	sampleRate = 48000
	channels   = 2
	frameSize  = 960 // 20ms at 48kHz
	maxBytes   = frameSize * channels * 2
)

// Factory opens sound files as opus frame streams. It implements
// voice.SourceFactory.
type Factory struct{}

// NewFactory returns a Factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Open starts ffmpeg decoding ref to 48kHz stereo PCM, seeking past offset
// when resuming an interrupted clip.
func (f *Factory) Open(ref string, offset time.Duration) (voice.Source, error) {
	if _, err := os.Stat(ref); err != nil {
		return nil, fmt.Errorf("%w: %s", voice.ErrMissingSource, ref)
	}

	args := []string{"-nostdin"}
	if offset > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", offset.Seconds()))
	}
	args = append(args,
		"-i", ref,
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		"pipe:1")

	cmd := exec.Command("ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{"ref": ref, "offset": offset})
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.WithField("ffmpeg", scanner.Text()).Trace("Decoder output")
		}
	}()
	log.Debug("Decoder started")

	return &stream{
		cmd:     cmd,
		pcm:     bufio.NewReaderSize(stdout, maxBytes*4),
		encoder: encoder,
	}, nil
}

type stream struct {
	cmd     *exec.Cmd
	pcm     io.Reader
	encoder *gopus.Encoder
	closed  sync.Once
}

// OpusFrame returns the next 20ms opus frame, or io.EOF when the clip ends.
func (s *stream) OpusFrame() ([]byte, error) {
	pcm := make([]int16, frameSize*channels)
	err := binary.Read(s.pcm, binary.LittleEndian, &pcm)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("reading pcm: %w", err)
	}

	frame, err := s.encoder.Encode(pcm, frameSize, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return frame, nil
}

// Close kills the decoder. Safe to call more than once.
func (s *stream) Close() error {
	s.closed.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}
