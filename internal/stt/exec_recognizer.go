package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/modelstore"
	"github.com/murmellabs/murmel/internal/pcm"
)

type execRecognizer struct {
	cmd       []string
	cfg       config.STTConfig
	models    *modelstore.Store
	mu        sync.Mutex
	modelPath string
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig, models *modelstore.Store) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg, models: models}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, data []byte, sampleRate int, channels int) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The model resolves on first use so a pending download surfaces as a
	// transcription error instead of blocking startup.
	if r.modelPath == "" {
		path, err := r.models.Resolve(ctx, r.cfg.Model, r.cfg.AutoDownload)
		if err != nil {
			return Result{}, err
		}
		r.modelPath = path
	}

	file, err := os.CreateTemp(os.TempDir(), "murmel_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := pcm.WriteWAV(file, data, sampleRate, channels); err != nil {
		return Result{}, err
	}

	args := append([]string{}, r.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	cmdArgs = append(cmdArgs, "--model", r.modelPath)
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	return Result{Text: resp.Text, Confidence: resp.Confidence}, nil
}
