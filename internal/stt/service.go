package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murmellabs/murmel/internal/bus"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/history"
	"github.com/murmellabs/murmel/internal/pcm"
	"github.com/murmellabs/murmel/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultTranscribeTimeout = 45 * time.Second

// Service buffers audio frames per session and transcribes a session's
// audio once its final frame arrives. At most one transcription runs per
// session; repeated final frames are ignored while one is in flight.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	history    *history.Store
	sessions   map[string]*sessionState
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	ready      bool

	tracer         trace.Tracer
	transcriptions metric.Int64Counter
	audioSeconds   metric.Float64Histogram
}

type sessionState struct {
	Buffer     []byte
	SampleRate int
	Channels   int
	Inflight   bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, historyStore *history.Store) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		history:    historyStore,
		sessions:   make(map[string]*sessionState),
		ctx:        ctx,
		cancel:     cancel,
		tracer:     otel.Tracer("murmel/stt"),
	}

	meter := otel.Meter("murmel/stt")
	var err error
	s.transcriptions, err = meter.Int64Counter("stt_transcriptions_total",
		metric.WithDescription("Completed transcription attempts by outcome."))
	if err != nil {
		busClient.Logger().Warn("create transcription counter", slogError(err))
	}
	s.audioSeconds, err = meter.Float64Histogram("stt_audio_seconds",
		metric.WithDescription("Seconds of audio per transcription."))
	if err != nil {
		busClient.Logger().Warn("create audio histogram", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	if frame.SampleRate > 0 {
		state.SampleRate = frame.SampleRate
	}
	if frame.Channels > 0 {
		state.Channels = frame.Channels
	}
	s.mu.Unlock()

	if frame.Final {
		s.scheduleTranscription(frame.SessionID)
	}
}

func (s *Service) scheduleTranscription(sessionID string) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil || state.Inflight {
		s.mu.Unlock()
		return
	}
	if len(state.Buffer) == 0 {
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		s.bus.Logger().Warn("dropping session without audio", slog.String("session_id", sessionID))
		return
	}
	data := append([]byte(nil), state.Buffer...)
	sampleRate := state.SampleRate
	channels := state.Channels
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sessionID)
			s.mu.Unlock()
		}()
		s.transcribe(sessionID, data, sampleRate, channels)
	}()
}

func (s *Service) transcribe(sessionID string, data []byte, sampleRate, channels int) {
	timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTranscribeTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	audioSeconds := pcm.Duration(len(data), sampleRate, channels).Seconds()
	ctx, span := s.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("model", s.cfg.Model),
		attribute.String("language", s.cfg.Language),
		attribute.Float64("audio_seconds", audioSeconds),
	))
	defer span.End()

	start := time.Now()
	result, err := s.recognizer.Transcribe(ctx, data, sampleRate, channels)
	took := time.Since(start)
	if err != nil {
		span.RecordError(err)
		s.bus.Logger().Warn("transcription failed",
			slog.String("session_id", sessionID),
			slogError(err))
		s.recordOutcome(ctx, "error")
		s.publishError(sessionID, err)
		return
	}

	// An empty transcript is still published so the UI can report that no
	// speech was recognized.
	text := NormalizeText(result.Text)
	s.recordOutcome(ctx, "ok")
	if s.audioSeconds != nil {
		s.audioSeconds.Record(ctx, audioSeconds)
	}
	s.bus.Logger().Info("transcription complete",
		slog.String("session_id", sessionID),
		slog.Float64("audio_seconds", audioSeconds),
		slog.Duration("took", took))

	s.publishTranscript(sessionID, text, result.Confidence, audioSeconds, took)
	s.appendHistory(sessionID, text, audioSeconds, took)
}

func (s *Service) recordOutcome(ctx context.Context, outcome string) {
	if s.transcriptions == nil {
		return
	}
	s.transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *Service) publishTranscript(sessionID, text string, confidence, audioSeconds float64, took time.Duration) {
	msg := protocol.Transcript{
		SessionID:    sessionID,
		Text:         text,
		Language:     s.cfg.Language,
		Model:        s.cfg.Model,
		AudioSeconds: audioSeconds,
		TookMS:       took.Milliseconds(),
		Timestamp:    time.Now().UTC(),
		Confidence:   confidence,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscriptFinal, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) publishError(sessionID string, cause error) {
	msg := protocol.TranscriptError{
		SessionID: sessionID,
		Message:   cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript error", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscriptError, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript error", slogError(err))
	}
}

func (s *Service) appendHistory(sessionID, text string, audioSeconds float64, took time.Duration) {
	if s.history == nil || !s.history.Enabled() || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.AppendSession(ctx, history.SessionRecord{
		SessionID:    sessionID,
		Model:        s.cfg.Model,
		Language:     s.cfg.Language,
		AudioSeconds: audioSeconds,
	}); err != nil {
		s.bus.Logger().Warn("failed to record session", slogError(err))
		return
	}
	if err := s.history.AppendTranscript(ctx, history.TranscriptRecord{
		SessionID: sessionID,
		Text:      text,
		TookMS:    took.Milliseconds(),
	}); err != nil {
		s.bus.Logger().Warn("failed to record transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
