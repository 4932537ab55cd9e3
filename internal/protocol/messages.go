package protocol

import "time"

// AudioFrame represents PCM audio data streamed from the capture service.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents STT output broadcast on the bus once a recording
// has been fully transcribed.
type Transcript struct {
	SessionID    string    `json:"session_id"`
	Text         string    `json:"text"`
	Language     string    `json:"language"`
	Model        string    `json:"model"`
	AudioSeconds float64   `json:"audio_seconds"`
	TookMS       int64     `json:"took_ms"`
	Timestamp    time.Time `json:"timestamp"`
	Confidence   float64   `json:"confidence,omitempty"`
}

// TranscriptError reports a failed transcription attempt for a session.
type TranscriptError struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTranscriptFinal  = "stt.text.final"
	SubjectTranscriptError  = "stt.error"
)
