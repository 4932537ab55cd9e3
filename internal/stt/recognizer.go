package stt

import (
	"context"
	"fmt"

	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/modelstore"
)

// Result captures recognizer output.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. Data is 16-bit little-endian PCM.
type Recognizer interface {
	Transcribe(ctx context.Context, data []byte, sampleRate int, channels int) (Result, error)
}

// NewRecognizer builds the backend selected by cfg.Mode.
func NewRecognizer(cfg config.STTConfig, models *modelstore.Store) (Recognizer, error) {
	switch cfg.Mode {
	case "cpp":
		return newCPPRecognizer(cfg, models)
	case "exec":
		return NewExecRecognizer(cfg, models)
	case "server":
		return NewServerRecognizer(cfg)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
