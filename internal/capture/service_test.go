package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/murmellabs/murmel/internal/bus"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/natsserver"
	"github.com/murmellabs/murmel/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBus(t *testing.T) *bus.Client {
	t.Helper()
	log := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, log)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// scriptedSource plays a fixed set of frames, then idles until closed.
type scriptedSource struct {
	mu       sync.Mutex
	frames   [][]int16
	opened   int
	closed   int
	failOpen bool
}

func (s *scriptedSource) Open(sampleRate, channels, frameSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen {
		return errors.New("device busy")
	}
	s.opened++
	return nil
}

func (s *scriptedSource) ReadFrame() ([]int16, error) {
	s.mu.Lock()
	if len(s.frames) == 0 {
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	s.mu.Unlock()
	return frame, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{Mode: "mock", SampleRate: 16000, Channels: 1, FrameDurationMS: 20}
}

func subscribeFrames(t *testing.T, client *bus.Client) chan protocol.AudioFrame {
	t.Helper()
	frames := make(chan protocol.AudioFrame, 32)
	sub, err := client.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			return
		}
		frames <- frame
	})
	if err != nil {
		t.Fatalf("subscribe frames: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return frames
}

func TestRecordPublishesFramesAndFinal(t *testing.T) {
	client := newTestBus(t)
	source := &scriptedSource{frames: [][]int16{{1, 2, 3}, {4, 5, 6}}}
	svc := NewService(context.Background(), testAudioConfig(), client, source, t.TempDir())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	frames := subscribeFrames(t, client)

	sessionID, err := svc.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if !svc.Active() {
		t.Fatal("expected active session")
	}

	var got []protocol.AudioFrame
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-deadline:
			t.Fatalf("timed out waiting for frames, have %d", len(got))
		}
	}
	if got[0].Sequence != 0 || got[1].Sequence != 1 {
		t.Fatalf("unexpected sequences: %d, %d", got[0].Sequence, got[1].Sequence)
	}
	if got[0].SampleRate != 16000 || got[0].Channels != 1 {
		t.Fatalf("unexpected frame format: %+v", got[0])
	}

	summary, err := svc.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if summary.SessionID != sessionID {
		t.Fatalf("summary session %q, expected %q", summary.SessionID, sessionID)
	}
	if summary.Frames != 2 {
		t.Fatalf("expected 2 frames captured, got %d", summary.Frames)
	}
	if summary.Bytes != 12 {
		t.Fatalf("expected 12 bytes captured, got %d", summary.Bytes)
	}
	if summary.Duration <= 0 {
		t.Fatalf("expected positive duration, got %v", summary.Duration)
	}
	if svc.Active() {
		t.Fatal("expected no active session after stop")
	}

	for {
		select {
		case f := <-frames:
			if !f.Final {
				continue
			}
			if f.SessionID != sessionID {
				t.Fatalf("final frame session %q, expected %q", f.SessionID, sessionID)
			}
			if len(f.PCM) != 0 {
				t.Fatalf("final frame should carry no pcm, got %d bytes", len(f.PCM))
			}
			return
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for final frame")
		}
	}
}

func TestDoubleStartRejected(t *testing.T) {
	client := newTestBus(t)
	source := &scriptedSource{}
	svc := NewService(context.Background(), testAudioConfig(), client, source, t.TempDir())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	if _, err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if _, err := svc.StartRecording(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if _, err := svc.StopRecording(context.Background()); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if _, err := svc.StopRecording(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if source.opened != 1 || source.closed != 1 {
		t.Fatalf("expected one open/close cycle, got %d/%d", source.opened, source.closed)
	}
}

func TestStartRecordingSourceError(t *testing.T) {
	client := newTestBus(t)
	source := &scriptedSource{failOpen: true}
	svc := NewService(context.Background(), testAudioConfig(), client, source, t.TempDir())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	if _, err := svc.StartRecording(context.Background()); err == nil {
		t.Fatal("expected error when the source cannot open")
	}
	if svc.Active() {
		t.Fatal("expected no active session after failed start")
	}
}

func TestEmptyCapturePublishesNoFinal(t *testing.T) {
	client := newTestBus(t)
	source := &scriptedSource{}
	svc := NewService(context.Background(), testAudioConfig(), client, source, t.TempDir())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	frames := subscribeFrames(t, client)

	if _, err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	summary, err := svc.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if summary.Frames != 0 || summary.Bytes != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}

	select {
	case f := <-frames:
		t.Fatalf("expected no frames for empty capture, got %+v", f)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestKeepRecordingsWritesWAV(t *testing.T) {
	client := newTestBus(t)
	source := &scriptedSource{frames: [][]int16{{10, 20, 30, 40}}}
	cfg := testAudioConfig()
	cfg.KeepRecordings = true
	dir := t.TempDir()
	svc := NewService(context.Background(), cfg, client, source, dir)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	if _, err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	// give the reader a moment to drain the scripted frame
	time.Sleep(50 * time.Millisecond)
	summary, err := svc.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if summary.WAVPath == "" {
		t.Fatal("expected recording to be kept")
	}
	if _, err := os.Stat(summary.WAVPath); err != nil {
		t.Fatalf("expected wav file on disk: %v", err)
	}
}
