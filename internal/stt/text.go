package stt

import "strings"

// whisper emits this marker for segments without detectable speech.
const blankAudioToken = "[BLANK_AUDIO]"

// NormalizeText collapses whitespace and strips whisper's blank audio marker.
// Silence-only recordings normalize to the empty string.
func NormalizeText(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, field := range fields {
		if strings.EqualFold(field, blankAudioToken) {
			continue
		}
		kept = append(kept, field)
	}
	return strings.Join(kept, " ")
}
