package stt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/pcm"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// Whisper-compatible servers accept this name regardless of the ggml model
// they actually loaded.
const defaultServerModel = "whisper-1"

// serverRecognizer talks to an OpenAI-compatible transcription endpoint,
// typically a local whisper server.
type serverRecognizer struct {
	client openai.Client
	cfg    config.STTConfig
}

func NewServerRecognizer(cfg config.STTConfig) (Recognizer, error) {
	opts := make([]option.RequestOption, 0, 2)
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &serverRecognizer{client: openai.NewClient(opts...), cfg: cfg}, nil
}

func (r *serverRecognizer) Transcribe(ctx context.Context, data []byte, sampleRate int, channels int) (Result, error) {
	file, err := os.CreateTemp(os.TempDir(), "murmel_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := pcm.WriteWAV(file, data, sampleRate, channels); err != nil {
		return Result{}, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("rewind temp file: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		File:           file,
		Model:          openai.AudioModel(defaultServerModel),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if r.cfg.Language != "" {
		params.Language = param.NewOpt(r.cfg.Language)
	}

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	return Result{Text: strings.TrimSpace(resp.Text)}, nil
}
