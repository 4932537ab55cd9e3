//go:build !whispercpp

package stt

import (
	"context"
	"errors"

	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/modelstore"
)

// ErrCPPDisabled is returned when stt.mode is "cpp" but the binary was built
// without the whispercpp build tag.
var ErrCPPDisabled = errors.New("whisper.cpp backend not compiled in; rebuild with -tags whispercpp or set stt.mode to exec or server")

type cppRecognizer struct{}

// newCPPRecognizer still constructs so the app comes up and the error lands
// on the transcription path, where the UI reports it.
func newCPPRecognizer(config.STTConfig, *modelstore.Store) (Recognizer, error) {
	return &cppRecognizer{}, nil
}

func (r *cppRecognizer) Transcribe(context.Context, []byte, int, int) (Result, error) {
	return Result{}, ErrCPPDisabled
}
