// Package pcm holds helpers for 16-bit little-endian PCM audio shared by
// the capture and stt services.
package pcm

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Bytes packs int16 samples into little-endian PCM bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// Samples unpacks little-endian PCM bytes into int16 samples.
func Samples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Float32Samples converts little-endian PCM bytes to float32 samples in the
// range [-1.0, 1.0], the input format whisper models expect.
func Float32Samples(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples, nil
}

// Duration reports the play time of a PCM payload.
func Duration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// WriteWAV encodes a PCM payload as a 16-bit WAV stream.
func WriteWAV(ws io.WriteSeeker, data []byte, sampleRate, channels int) error {
	samples, err := Samples(data)
	if err != nil {
		return err
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	buffer.Data = make([]int, len(samples))
	for i, sample := range samples {
		buffer.Data[i] = int(sample)
	}

	enc := wav.NewEncoder(ws, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile encodes a PCM payload into a WAV file at path.
func WriteWAVFile(path string, data []byte, sampleRate, channels int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	if err := WriteWAV(file, data, sampleRate, channels); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close wav file: %w", err)
	}
	return nil
}
