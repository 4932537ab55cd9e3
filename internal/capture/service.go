package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/murmellabs/murmel/internal/bus"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/pcm"
	"github.com/murmellabs/murmel/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrSessionActive = errors.New("recording session already active")
	ErrNoSession     = errors.New("no active recording session")
)

// Summary describes a finished recording session.
type Summary struct {
	SessionID string
	Duration  time.Duration
	Frames    int
	Bytes     int
	WAVPath   string
}

// Service owns the microphone and streams one recording session at a time
// onto the bus as audio frames. The last frame of a session is marked final
// so the transcription service knows the recording is complete.
type Service struct {
	cfg           config.AudioConfig
	bus           *bus.Client
	source        Source
	recordingsDir string

	mu     sync.Mutex
	active *session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  bool

	sessionsStarted metric.Int64Counter
	framesPublished metric.Int64Counter
}

type session struct {
	id       string
	stop     chan struct{}
	done     chan struct{}
	sequence int
	frames   int
	bytes    int
	buffer   []byte
}

func NewService(parent context.Context, cfg config.AudioConfig, busClient *bus.Client, source Source, recordingsDir string) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:           cfg,
		bus:           busClient,
		source:        source,
		recordingsDir: recordingsDir,
		ctx:           ctx,
		cancel:        cancel,
	}

	meter := otel.Meter("murmel/capture")
	var err error
	s.sessionsStarted, err = meter.Int64Counter("capture_sessions_total",
		metric.WithDescription("Recording sessions started"))
	if err != nil {
		busClient.Logger().Warn("create capture session counter", slog.String("error", err.Error()))
	}
	s.framesPublished, err = meter.Int64Counter("capture_frames_total",
		metric.WithDescription("Audio frames published on the bus"))
	if err != nil {
		busClient.Logger().Warn("create capture frame counter", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) Start() error {
	if s.source == nil {
		return errors.New("no audio source configured")
	}
	s.ready = true
	return nil
}

func (s *Service) Healthy() bool {
	return s.ready
}

// StartRecording opens the audio source and begins streaming frames. It
// fails with ErrSessionActive while another session is running; a source
// error here usually means the microphone is unavailable.
func (s *Service) StartRecording(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return "", ErrSessionActive
	}

	frameSize := s.cfg.SampleRate * s.cfg.FrameDurationMS / 1000
	if frameSize <= 0 {
		frameSize = 320
	}
	if err := s.source.Open(s.cfg.SampleRate, s.cfg.Channels, frameSize); err != nil {
		return "", fmt.Errorf("open audio source: %w", err)
	}

	sess := &session{
		id:   uuid.NewString(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.active = sess
	if s.sessionsStarted != nil {
		s.sessionsStarted.Add(ctx, 1)
	}

	s.wg.Add(1)
	go s.record(sess)

	s.bus.Logger().Info("recording started", slog.String("session_id", sess.id))
	return sess.id, nil
}

// StopRecording ends the active session, publishes the final frame and
// returns a summary of what was captured. A summary with zero frames means
// no audio arrived; no final frame is published in that case.
func (s *Service) StopRecording(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	sess := s.active
	if sess == nil {
		s.mu.Unlock()
		return Summary{}, ErrNoSession
	}
	s.active = nil
	s.mu.Unlock()

	close(sess.stop)
	select {
	case <-sess.done:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	if err := s.source.Close(); err != nil {
		s.bus.Logger().Warn("close audio source", slog.String("error", err.Error()))
	}

	summary := Summary{
		SessionID: sess.id,
		Frames:    sess.frames,
		Bytes:     sess.bytes,
		Duration:  pcm.Duration(sess.bytes, s.cfg.SampleRate, s.cfg.Channels),
	}

	if sess.frames > 0 {
		s.publishFrame(sess, nil, true)
	}

	if s.cfg.KeepRecordings && len(sess.buffer) > 0 {
		path, err := s.writeRecording(sess)
		if err != nil {
			s.bus.Logger().Warn("keep recording failed", slog.String("error", err.Error()))
		} else {
			summary.WAVPath = path
		}
	}

	s.bus.Logger().Info("recording stopped",
		slog.String("session_id", sess.id),
		slog.Int("frames", sess.frames),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	sess := s.active
	s.active = nil
	s.mu.Unlock()
	if sess != nil {
		_ = s.source.Close()
	}
}

func (s *Service) record(sess *session) {
	defer s.wg.Done()
	defer close(sess.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sess.stop:
			return
		default:
		}

		frame, err := s.source.ReadFrame()
		if err != nil {
			s.bus.Logger().Warn("audio read failed",
				slog.String("error", err.Error()),
				slog.String("session_id", sess.id))
			return
		}
		if len(frame) == 0 {
			continue
		}

		data := pcm.Bytes(frame)
		sess.frames++
		sess.bytes += len(data)
		if s.cfg.KeepRecordings {
			sess.buffer = append(sess.buffer, data...)
		}
		s.publishFrame(sess, data, false)
	}
}

func (s *Service) publishFrame(sess *session, data []byte, final bool) {
	frame := protocol.AudioFrame{
		SessionID:  sess.id,
		Sequence:   sess.sequence,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		PCM:        data,
		Final:      final,
	}
	sess.sequence++

	payload, err := json.Marshal(frame)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal audio frame", slog.String("error", err.Error()))
		return
	}
	subject := protocol.SubjectAudioFramePrefix + "." + sess.id
	if err := s.bus.Conn().Publish(subject, payload); err != nil {
		s.bus.Logger().Warn("failed to publish audio frame", slog.String("error", err.Error()))
		return
	}
	if s.framesPublished != nil {
		s.framesPublished.Add(s.ctx, 1)
	}
}

func (s *Service) writeRecording(sess *session) (string, error) {
	if err := os.MkdirAll(s.recordingsDir, 0o755); err != nil {
		return "", fmt.Errorf("create recordings dir: %w", err)
	}
	path := filepath.Join(s.recordingsDir, sess.id+".wav")
	if err := pcm.WriteWAVFile(path, sess.buffer, s.cfg.SampleRate, s.cfg.Channels); err != nil {
		return "", err
	}
	return path, nil
}
