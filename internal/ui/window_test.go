package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fyne.io/fyne/v2/test"
	"github.com/murmellabs/murmel/internal/capture"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/protocol"
)

type fakeController struct {
	sessionID string
	summary   capture.Summary
	startErr  error
	stopErr   error
	started   int
	stopped   int
}

func (f *fakeController) StartRecording(context.Context) (string, error) {
	f.started++
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.sessionID, nil
}

func (f *fakeController) StopRecording(context.Context) (capture.Summary, error) {
	f.stopped++
	if f.stopErr != nil {
		return capture.Summary{}, f.stopErr
	}
	return f.summary, nil
}

func newTestWindow(ctrl *fakeController) *Window {
	app := test.NewApp()
	return New(app, ctrl, config.UIConfig{Notifications: false})
}

func TestRecordToggleAndTranscriptFlow(t *testing.T) {
	ctrl := &fakeController{
		sessionID: "s1",
		summary:   capture.Summary{SessionID: "s1", Frames: 10, Bytes: 6400, Duration: 3200 * time.Millisecond},
	}
	w := newTestWindow(ctrl)

	test.Tap(w.recordBtn)
	if w.recordBtn.Text != labelRecordStop {
		t.Fatalf("expected stop label, got %q", w.recordBtn.Text)
	}
	if w.status.Text != statusRecording {
		t.Fatalf("expected recording status, got %q", w.status.Text)
	}

	test.Tap(w.recordBtn)
	if ctrl.stopped != 1 {
		t.Fatalf("expected one stop call, got %d", ctrl.stopped)
	}
	if !strings.HasPrefix(w.status.Text, "Transkribiere") {
		t.Fatalf("expected transcribing status, got %q", w.status.Text)
	}
	if !w.recordBtn.Disabled() {
		t.Fatal("record button must be disabled while transcribing")
	}

	// tapping while transcribing must not start a new recording
	test.Tap(w.recordBtn)
	if ctrl.started != 1 {
		t.Fatalf("expected one start call, got %d", ctrl.started)
	}

	w.HandleTranscript(protocol.Transcript{SessionID: "s1", Text: "hallo Welt"})
	if w.transcript.Text != "hallo Welt" {
		t.Fatalf("unexpected transcript %q", w.transcript.Text)
	}
	if w.status.Text != statusDone {
		t.Fatalf("expected done status, got %q", w.status.Text)
	}
	if w.recordBtn.Disabled() {
		t.Fatal("record button must be enabled again")
	}
	if w.copyBtn.Disabled() {
		t.Fatal("copy button must be enabled once text is present")
	}
}

func TestMicErrorShowsStatus(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("kein Gerät gefunden")}
	w := newTestWindow(ctrl)

	test.Tap(w.recordBtn)
	if w.recording {
		t.Fatal("expected recording to stay off")
	}
	if w.recordBtn.Text != labelRecordStart {
		t.Fatalf("expected start label, got %q", w.recordBtn.Text)
	}
	if w.status.Text != "Fehler: kein Gerät gefunden" {
		t.Fatalf("unexpected status %q", w.status.Text)
	}
}

func TestEmptyCaptureShowsHint(t *testing.T) {
	ctrl := &fakeController{sessionID: "s1", summary: capture.Summary{SessionID: "s1"}}
	w := newTestWindow(ctrl)

	test.Tap(w.recordBtn)
	test.Tap(w.recordBtn)
	if w.status.Text != statusNoAudio {
		t.Fatalf("unexpected status %q", w.status.Text)
	}
	if w.transcribing {
		t.Fatal("expected no transcription for empty capture")
	}
	if w.recordBtn.Disabled() {
		t.Fatal("record button must stay usable")
	}
}

func TestEmptyTranscriptShowsNoSpeech(t *testing.T) {
	ctrl := &fakeController{
		sessionID: "s1",
		summary:   capture.Summary{SessionID: "s1", Frames: 2, Bytes: 1280, Duration: 40 * time.Millisecond},
	}
	w := newTestWindow(ctrl)

	test.Tap(w.recordBtn)
	test.Tap(w.recordBtn)
	w.HandleTranscript(protocol.Transcript{SessionID: "s1", Text: ""})

	if w.status.Text != statusNoSpeech {
		t.Fatalf("unexpected status %q", w.status.Text)
	}
	if w.transcript.Text != "" {
		t.Fatalf("expected empty transcript, got %q", w.transcript.Text)
	}
	if !w.copyBtn.Disabled() {
		t.Fatal("copy button must stay disabled without text")
	}
}

func TestTranscriptErrorResets(t *testing.T) {
	ctrl := &fakeController{
		sessionID: "s1",
		summary:   capture.Summary{SessionID: "s1", Frames: 2, Bytes: 1280, Duration: 40 * time.Millisecond},
	}
	w := newTestWindow(ctrl)

	test.Tap(w.recordBtn)
	test.Tap(w.recordBtn)
	w.HandleTranscriptError(protocol.TranscriptError{SessionID: "s1", Message: "Modell fehlt"})

	if w.status.Text != "Fehler: Modell fehlt" {
		t.Fatalf("unexpected status %q", w.status.Text)
	}
	if w.recordBtn.Disabled() {
		t.Fatal("record button must be enabled after an error")
	}
	if w.transcribing {
		t.Fatal("expected transcription state cleared")
	}
}

func TestStaleSessionIgnored(t *testing.T) {
	ctrl := &fakeController{
		sessionID: "s1",
		summary:   capture.Summary{SessionID: "s1", Frames: 2, Bytes: 1280, Duration: 40 * time.Millisecond},
	}
	w := newTestWindow(ctrl)

	test.Tap(w.recordBtn)
	test.Tap(w.recordBtn)
	w.HandleTranscript(protocol.Transcript{SessionID: "other", Text: "fremder Text"})

	if w.transcript.Text != "" {
		t.Fatalf("stale transcript applied: %q", w.transcript.Text)
	}
	if !w.transcribing {
		t.Fatal("expected window to keep waiting for its own session")
	}
}

func TestCopyAllPutsTextOnClipboard(t *testing.T) {
	w := newTestWindow(&fakeController{})
	w.SetInitialTranscript("kopier mich")

	test.Tap(w.copyBtn)
	if got := w.win.Clipboard().Content(); got != "kopier mich" {
		t.Fatalf("unexpected clipboard content %q", got)
	}
	if w.status.Text != statusCopied {
		t.Fatalf("unexpected status %q", w.status.Text)
	}
}

func TestClearResetsWindow(t *testing.T) {
	w := newTestWindow(&fakeController{})
	w.SetInitialTranscript("weg damit")

	test.Tap(w.clearBtn)
	if w.transcript.Text != "" {
		t.Fatalf("expected cleared transcript, got %q", w.transcript.Text)
	}
	if !w.copyBtn.Disabled() {
		t.Fatal("copy button must be disabled after clear")
	}
	if w.status.Text != statusReady {
		t.Fatalf("unexpected status %q", w.status.Text)
	}
}
