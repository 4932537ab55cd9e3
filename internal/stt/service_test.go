package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/murmellabs/murmel/internal/bus"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/history"
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

type staticRecognizer struct {
	text  string
	err   error
	delay time.Duration
	calls atomic.Int64
}

func (r *staticRecognizer) Transcribe(ctx context.Context, _ []byte, _ int, _ int) (Result, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if r.err != nil {
		return Result{}, r.err
	}
	return Result{Text: r.text, Confidence: 0.9}, nil
}

func testSTTConfig() config.STTConfig {
	return config.STTConfig{Mode: "mock", Model: "small", Language: "de", TimeoutMS: 5000}
}

func startService(t *testing.T, client *bus.Client, recognizer Recognizer, store *history.Store) *Service {
	t.Helper()
	svc := NewService(context.Background(), testSTTConfig(), client, recognizer, store)
	if err := svc.Start(); err != nil {
		t.Fatalf("start stt service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func subscribeTranscripts(t *testing.T, client *bus.Client) chan protocol.Transcript {
	t.Helper()
	out := make(chan protocol.Transcript, 8)
	sub, err := client.Conn().Subscribe(protocol.SubjectTranscriptFinal, func(msg *nats.Msg) {
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			return
		}
		out <- tr
	})
	if err != nil {
		t.Fatalf("subscribe transcripts: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return out
}

func subscribeErrors(t *testing.T, client *bus.Client) chan protocol.TranscriptError {
	t.Helper()
	out := make(chan protocol.TranscriptError, 8)
	sub, err := client.Conn().Subscribe(protocol.SubjectTranscriptError, func(msg *nats.Msg) {
		var te protocol.TranscriptError
		if err := json.Unmarshal(msg.Data, &te); err != nil {
			return
		}
		out <- te
	})
	if err != nil {
		t.Fatalf("subscribe errors: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return out
}

func publishFrame(t *testing.T, client *bus.Client, frame protocol.AudioFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	subject := protocol.SubjectAudioFramePrefix + "." + frame.SessionID
	if err := client.Conn().Publish(subject, data); err != nil {
		t.Fatalf("publish frame: %v", err)
	}
}

func TestTranscribesOnFinalFrame(t *testing.T) {
	client := newTestBus(t)
	recognizer := &staticRecognizer{text: "guten Morgen"}
	startService(t, client, recognizer, nil)
	transcripts := subscribeTranscripts(t, client)

	session := "sess-1"
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, Sequence: 0, SampleRate: 16000, Channels: 1, PCM: []byte{1, 0, 2, 0}})
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, Sequence: 1, SampleRate: 16000, Channels: 1, PCM: []byte{3, 0, 4, 0}})
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, Sequence: 2, SampleRate: 16000, Channels: 1, Final: true})

	select {
	case tr := <-transcripts:
		if tr.SessionID != session {
			t.Fatalf("transcript session %q, expected %q", tr.SessionID, session)
		}
		if tr.Text != "guten Morgen" {
			t.Fatalf("unexpected transcript %q", tr.Text)
		}
		if tr.Language != "de" || tr.Model != "small" {
			t.Fatalf("unexpected metadata: %+v", tr)
		}
		if tr.AudioSeconds <= 0 {
			t.Fatalf("expected positive audio seconds, got %v", tr.AudioSeconds)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
}

func TestDuplicateFinalTranscribesOnce(t *testing.T) {
	client := newTestBus(t)
	recognizer := &staticRecognizer{text: "einmal", delay: 200 * time.Millisecond}
	startService(t, client, recognizer, nil)
	transcripts := subscribeTranscripts(t, client)

	session := "sess-dup"
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, PCM: []byte{1, 0}})
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, Final: true})
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, Final: true})

	select {
	case <-transcripts:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
	select {
	case tr := <-transcripts:
		t.Fatalf("expected a single transcript, got another: %+v", tr)
	case <-time.After(300 * time.Millisecond):
	}
	if got := recognizer.calls.Load(); got != 1 {
		t.Fatalf("expected one recognizer call, got %d", got)
	}
}

func TestPublishesErrorOnFailure(t *testing.T) {
	client := newTestBus(t)
	recognizer := &staticRecognizer{err: errors.New("model exploded")}
	startService(t, client, recognizer, nil)
	transcripts := subscribeTranscripts(t, client)
	errs := subscribeErrors(t, client)

	session := "sess-err"
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, PCM: []byte{1, 0}})
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, Final: true})

	select {
	case te := <-errs:
		if te.SessionID != session {
			t.Fatalf("error session %q, expected %q", te.SessionID, session)
		}
		if te.Message != "model exploded" {
			t.Fatalf("unexpected error message %q", te.Message)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	select {
	case tr := <-transcripts:
		t.Fatalf("expected no transcript on failure, got %+v", tr)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBlankAudioPublishesEmptyTranscript(t *testing.T) {
	client := newTestBus(t)
	recognizer := &staticRecognizer{text: " [BLANK_AUDIO] "}
	startService(t, client, recognizer, nil)
	transcripts := subscribeTranscripts(t, client)

	session := "sess-blank"
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, PCM: []byte{0, 0}})
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, Final: true})

	select {
	case tr := <-transcripts:
		if tr.Text != "" {
			t.Fatalf("expected empty transcript, got %q", tr.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
}

func TestFinalWithoutAudioDropped(t *testing.T) {
	client := newTestBus(t)
	recognizer := &staticRecognizer{text: "nie"}
	startService(t, client, recognizer, nil)
	transcripts := subscribeTranscripts(t, client)
	errs := subscribeErrors(t, client)

	publishFrame(t, client, protocol.AudioFrame{SessionID: "sess-empty", SampleRate: 16000, Channels: 1, Final: true})

	select {
	case tr := <-transcripts:
		t.Fatalf("expected no transcript, got %+v", tr)
	case te := <-errs:
		t.Fatalf("expected no error, got %+v", te)
	case <-time.After(300 * time.Millisecond):
	}
	if got := recognizer.calls.Load(); got != 0 {
		t.Fatalf("expected no recognizer calls, got %d", got)
	}
}

func TestTranscriptRecordedInHistory(t *testing.T) {
	client := newTestBus(t)
	cfg := config.HistoryConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "persistent"}
	store, err := history.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	recognizer := &staticRecognizer{text: "für die Nachwelt"}
	startService(t, client, recognizer, store)
	transcripts := subscribeTranscripts(t, client)

	session := "sess-hist"
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, PCM: []byte{1, 0}})
	publishFrame(t, client, protocol.AudioFrame{SessionID: session, SampleRate: 16000, Channels: 1, Final: true})

	select {
	case <-transcripts:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, ok, err := store.LastTranscript(context.Background())
		if err != nil {
			t.Fatalf("last transcript: %v", err)
		}
		if ok {
			if rec.Text != "für die Nachwelt" {
				t.Fatalf("unexpected history entry %q", rec.Text)
			}
			if rec.SessionID != session {
				t.Fatalf("unexpected history session %q", rec.SessionID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("transcript never reached history")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
