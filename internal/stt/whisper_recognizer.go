//go:build whispercpp

package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/modelstore"
	"github.com/murmellabs/murmel/internal/pcm"
)

// cppRecognizer runs whisper.cpp in process. Requires mono 16 kHz input,
// which config validation enforces for this mode.
type cppRecognizer struct {
	cfg    config.STTConfig
	models *modelstore.Store
	mu     sync.Mutex
	model  whisper.Model
}

func newCPPRecognizer(cfg config.STTConfig, models *modelstore.Store) (Recognizer, error) {
	return &cppRecognizer{cfg: cfg, models: models}, nil
}

// load resolves the model file and loads it on first use. Keeping this lazy
// means a missing or still-downloading model surfaces as a transcription
// error instead of blocking startup.
func (r *cppRecognizer) load(ctx context.Context) (whisper.Model, error) {
	if r.model != nil {
		return r.model, nil
	}
	path, err := r.models.Resolve(ctx, r.cfg.Model, r.cfg.AutoDownload)
	if err != nil {
		return nil, err
	}
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	r.model = model
	return model, nil
}

func (r *cppRecognizer) Transcribe(ctx context.Context, data []byte, _ int, _ int) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	model, err := r.load(ctx)
	if err != nil {
		return Result{}, err
	}

	samples, err := pcm.Float32Samples(data)
	if err != nil {
		return Result{}, err
	}

	wctx, err := model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("create whisper context: %w", err)
	}
	if err := wctx.SetLanguage(r.cfg.Language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}
	if r.cfg.Threads > 0 {
		wctx.SetThreads(uint(r.cfg.Threads))
	}
	wctx.SetTranslate(r.cfg.Translate)

	// Process has no context support, so honor cancellation up front.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var segments []string
	err = wctx.Process(samples, nil, func(segment whisper.Segment) {
		segments = append(segments, strings.TrimSpace(segment.Text))
	}, nil)
	if err != nil {
		return Result{}, fmt.Errorf("process audio: %w", err)
	}
	return Result{Text: strings.Join(segments, " ")}, nil
}
