package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

const defaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

var (
	// ErrUnknownModel indicates the requested model is not in the catalog.
	ErrUnknownModel = errors.New("unknown whisper model")

	// ErrModelNotFound indicates the model file is missing and auto download is off.
	ErrModelNotFound = errors.New("whisper model not found")

	// ErrModelDownloadFailed indicates that downloading the model failed.
	ErrModelDownloadFailed = errors.New("failed to download whisper model")
)

// Model describes one downloadable whisper.cpp model preset.
type Model struct {
	ID        string
	File      string
	SizeLabel string
}

var catalog = []Model{
	{ID: "tiny", File: "ggml-tiny.bin", SizeLabel: "75 MB"},
	{ID: "base", File: "ggml-base.bin", SizeLabel: "142 MB"},
	{ID: "small", File: "ggml-small.bin", SizeLabel: "466 MB"},
	{ID: "medium", File: "ggml-medium.bin", SizeLabel: "1.5 GB"},
	{ID: "large", File: "ggml-large-v3.bin", SizeLabel: "2.9 GB"},
}

// Store resolves whisper model files on disk, downloading them on demand.
type Store struct {
	dir     string
	baseURL string
	client  *http.Client
	log     *slog.Logger
	mu      sync.Mutex

	// Progress, when set, receives download progress updates.
	Progress func(m Model, received, total int64)
}

func New(dir string, log *slog.Logger) *Store {
	return &Store{
		dir:     dir,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
		log:     log,
	}
}

// Catalog returns the known model presets in ascending size order.
func Catalog() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

func (s *Store) Lookup(id string) (Model, error) {
	for _, m := range catalog {
		if m.ID == id {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
}

// Path returns where the model file lives once downloaded.
func (s *Store) Path(m Model) string {
	return filepath.Join(s.dir, m.File)
}

// Downloaded reports whether the model file is present on disk.
func (s *Store) Downloaded(m Model) bool {
	info, err := os.Stat(s.Path(m))
	return err == nil && info.Size() > 0
}

// Resolve returns the local path for the model, downloading it first when
// allowed. Concurrent calls for the same model share one download.
func (s *Store) Resolve(ctx context.Context, id string, autoDownload bool) (string, error) {
	m, err := s.Lookup(id)
	if err != nil {
		return "", err
	}
	path := s.Path(m)
	if s.Downloaded(m) {
		return path, nil
	}
	if !autoDownload {
		return "", fmt.Errorf("%w: %s (expected at %s)", ErrModelNotFound, id, path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Downloaded(m) {
		return path, nil
	}
	if err := s.download(ctx, m); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) download(ctx context.Context, m Model) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	url := s.baseURL + m.File
	s.log.Info("downloading whisper model",
		slog.String("model", m.ID),
		slog.String("size", m.SizeLabel),
		slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", ErrModelDownloadFailed, resp.Status)
	}

	tmp, err := os.CreateTemp(s.dir, m.File+".partial_*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}
	defer os.Remove(tmp.Name())

	progress := &progressWriter{store: s, model: m, total: resp.ContentLength}
	if _, err := io.Copy(tmp, io.TeeReader(resp.Body, progress)); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(m)); err != nil {
		return fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}
	s.log.Info("whisper model ready",
		slog.String("model", m.ID),
		slog.String("path", s.Path(m)))
	return nil
}

type progressWriter struct {
	store      *Store
	model      Model
	total      int64
	received   int64
	lastLogged int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	if w.store.Progress != nil {
		w.store.Progress(w.model, w.received, w.total)
	}
	if w.total > 0 && w.received-w.lastLogged >= w.total/4 {
		w.lastLogged = w.received
		w.store.log.Info("model download progress",
			slog.String("model", w.model.ID),
			slog.Int64("received", w.received),
			slog.Int64("total", w.total))
	}
	return len(p), nil
}
