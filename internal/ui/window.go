package ui

import (
	"context"
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/gen2brain/beeep"
	"github.com/murmellabs/murmel/internal/capture"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/protocol"
)

const (
	labelRecordStart = "Aufnahme starten"
	labelRecordStop  = "Aufnahme beenden"
	labelCopyAll     = "Alles kopieren"
	labelClear       = "Löschen"

	statusReady        = "Bereit"
	statusRecording    = "Aufnahme läuft..."
	statusTranscribing = "Transkribiere... (%.1fs Audio)"
	statusDone         = "Fertig!"
	statusError        = "Fehler: %s"
	statusNoAudio      = "Keine Audio-Daten aufgenommen"
	statusCopied       = "In Zwischenablage kopiert!"
	statusNoSpeech     = "Keine Sprache erkannt"

	micErrorFormat = "Mikrofon-Fehler: %v"

	placeholderTranscript = "Das Transkript erscheint hier...\n\n" +
		"Du kannst Text markieren und mit Strg+C kopieren,\n" +
		"oder den 'Alles kopieren' Button verwenden."
)

const controllerTimeout = 5 * time.Second

// Controller is what the window needs from the capture service.
type Controller interface {
	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) (capture.Summary, error)
}

// Window is the main application window: one record toggle, a status line
// and the transcript area. All state lives on the fyne main goroutine;
// Handle* methods must be called there (Bind takes care of that for bus
// messages).
type Window struct {
	win        fyne.Window
	controller Controller
	cfg        config.UIConfig

	recordBtn  *widget.Button
	status     *widget.Label
	progress   *widget.ProgressBarInfinite
	transcript *widget.Entry
	copyBtn    *widget.Button
	clearBtn   *widget.Button

	recording     bool
	transcribing  bool
	activeSession string
}

func New(app fyne.App, controller Controller, cfg config.UIConfig) *Window {
	w := &Window{
		win:        app.NewWindow("Murmel"),
		controller: controller,
		cfg:        cfg,
	}
	w.buildWidgets()
	w.win.Resize(fyne.NewSize(500, 400))
	return w
}

func (w *Window) buildWidgets() {
	w.recordBtn = widget.NewButton(labelRecordStart, w.onRecordTapped)
	w.recordBtn.Importance = widget.HighImportance

	w.status = widget.NewLabel(statusReady)
	w.status.Alignment = fyne.TextAlignCenter

	w.progress = widget.NewProgressBarInfinite()
	w.progress.Stop()
	w.progress.Hide()

	w.copyBtn = widget.NewButton(labelCopyAll, w.onCopyTapped)
	w.copyBtn.Disable()
	w.clearBtn = widget.NewButton(labelClear, w.onClearTapped)

	w.transcript = widget.NewMultiLineEntry()
	w.transcript.SetPlaceHolder(placeholderTranscript)
	w.transcript.Wrapping = fyne.TextWrapWord
	w.transcript.OnChanged = func(text string) {
		if text == "" {
			w.copyBtn.Disable()
		} else {
			w.copyBtn.Enable()
		}
	}

	content := container.NewBorder(
		container.NewVBox(w.recordBtn, w.status, w.progress),
		container.NewGridWithColumns(2, w.copyBtn, w.clearBtn),
		nil, nil,
		w.transcript,
	)
	w.win.SetContent(content)
}

// ShowAndRun shows the window and runs the fyne main loop. Blocks until the
// window closes.
func (w *Window) ShowAndRun() {
	w.win.ShowAndRun()
}

func (w *Window) onRecordTapped() {
	if w.transcribing {
		return
	}
	if !w.recording {
		w.startRecording()
		return
	}
	w.stopRecording()
}

func (w *Window) startRecording() {
	ctx, cancel := context.WithTimeout(context.Background(), controllerTimeout)
	defer cancel()

	sessionID, err := w.controller.StartRecording(ctx)
	if err != nil {
		w.status.SetText(fmt.Sprintf(statusError, err))
		dialog.ShowError(fmt.Errorf(micErrorFormat, err), w.win)
		return
	}
	w.activeSession = sessionID
	w.recording = true
	w.recordBtn.SetText(labelRecordStop)
	w.status.SetText(statusRecording)
}

func (w *Window) stopRecording() {
	w.recording = false
	w.recordBtn.SetText(labelRecordStart)

	ctx, cancel := context.WithTimeout(context.Background(), controllerTimeout)
	defer cancel()

	summary, err := w.controller.StopRecording(ctx)
	if err != nil {
		w.status.SetText(fmt.Sprintf(statusError, err))
		return
	}
	if summary.Frames == 0 {
		w.status.SetText(statusNoAudio)
		return
	}

	w.transcribing = true
	w.recordBtn.Disable()
	w.status.SetText(fmt.Sprintf(statusTranscribing, summary.Duration.Seconds()))
	w.progress.Show()
	w.progress.Start()
}

// HandleTranscript applies a finished transcription to the window.
func (w *Window) HandleTranscript(tr protocol.Transcript) {
	if w.activeSession != "" && tr.SessionID != w.activeSession {
		return
	}
	w.finishTranscription()

	if tr.Text == "" {
		w.status.SetText(statusNoSpeech)
		return
	}
	w.transcript.SetText(tr.Text)
	w.status.SetText(statusDone)
	if w.cfg.Notifications {
		_ = beeep.Notify("Murmel", "Transkription abgeschlossen", "")
	}
}

// HandleTranscriptError reports a failed transcription in the status line.
func (w *Window) HandleTranscriptError(te protocol.TranscriptError) {
	if w.activeSession != "" && te.SessionID != w.activeSession {
		return
	}
	w.finishTranscription()
	w.status.SetText(fmt.Sprintf(statusError, te.Message))
}

func (w *Window) finishTranscription() {
	w.transcribing = false
	w.recordBtn.Enable()
	w.progress.Stop()
	w.progress.Hide()
}

// SetInitialTranscript fills the text area on startup, used to restore the
// last transcript from history.
func (w *Window) SetInitialTranscript(text string) {
	if text == "" {
		return
	}
	w.transcript.SetText(text)
}

func (w *Window) onCopyTapped() {
	text := w.transcript.Text
	if text == "" {
		return
	}
	w.win.Clipboard().SetContent(text)
	w.status.SetText(statusCopied)
}

func (w *Window) onClearTapped() {
	w.transcript.SetText("")
	w.status.SetText(statusReady)
}
