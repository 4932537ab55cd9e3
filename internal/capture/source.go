package capture

import (
	"fmt"

	"github.com/murmellabs/murmel/internal/config"
)

// Source abstracts an audio input device delivering int16 PCM frames.
type Source interface {
	// Open prepares the device. frameSize is the number of samples per
	// channel delivered by each ReadFrame call.
	Open(sampleRate, channels, frameSize int) error
	// ReadFrame blocks until the next frame is available.
	ReadFrame() ([]int16, error)
	Close() error
}

// NewSource builds the configured audio source.
func NewSource(cfg config.AudioConfig) (Source, error) {
	switch cfg.Mode {
	case "portaudio":
		return NewPortaudioSource(), nil
	case "mock":
		return NewMockSource(), nil
	default:
		return nil, fmt.Errorf("unknown audio mode %q", cfg.Mode)
	}
}
