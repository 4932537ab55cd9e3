package ui

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"fyne.io/fyne/v2"
	"github.com/murmellabs/murmel/internal/bus"
	"github.com/murmellabs/murmel/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Bind subscribes the window to transcript subjects. NATS delivers messages
// on its own goroutines, so every UI mutation hops onto the fyne main loop
// via fyne.Do.
func Bind(w *Window, busClient *bus.Client) error {
	conn := busClient.Conn()
	log := busClient.Logger()

	_, err := conn.Subscribe(protocol.SubjectTranscriptFinal, func(msg *nats.Msg) {
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			log.Warn("failed to decode transcript", slog.String("error", err.Error()))
			return
		}
		fyne.Do(func() { w.HandleTranscript(tr) })
	})
	if err != nil {
		return fmt.Errorf("subscribe transcripts: %w", err)
	}

	_, err = conn.Subscribe(protocol.SubjectTranscriptError, func(msg *nats.Msg) {
		var te protocol.TranscriptError
		if err := json.Unmarshal(msg.Data, &te); err != nil {
			log.Warn("failed to decode transcript error", slog.String("error", err.Error()))
			return
		}
		fyne.Do(func() { w.HandleTranscriptError(te) })
	})
	if err != nil {
		return fmt.Errorf("subscribe transcript errors: %w", err)
	}
	return nil
}
