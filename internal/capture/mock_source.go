package capture

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// mockSource synthesizes a quiet tone so the pipeline can run without a
// microphone. Frames are paced at real time like a live input device.
type mockSource struct {
	mu        sync.Mutex
	open      bool
	rate      int
	channels  int
	frameSize int
	phase     float64
}

func NewMockSource() Source {
	return &mockSource{}
}

func (s *mockSource) Open(sampleRate, channels, frameSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("mock source already open")
	}
	s.open = true
	s.rate = sampleRate
	s.channels = channels
	s.frameSize = frameSize
	s.phase = 0
	return nil
}

func (s *mockSource) ReadFrame() ([]int16, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, fmt.Errorf("mock source not open")
	}
	rate := s.rate
	channels := s.channels
	frameSize := s.frameSize
	phase := s.phase

	frame := make([]int16, frameSize*channels)
	step := 2 * math.Pi * 440 / float64(rate)
	for i := 0; i < frameSize; i++ {
		sample := int16(3000 * math.Sin(phase))
		phase += step
		for c := 0; c < channels; c++ {
			frame[i*channels+c] = sample
		}
	}
	s.phase = phase
	s.mu.Unlock()

	time.Sleep(time.Duration(frameSize) * time.Second / time.Duration(rate))
	return frame, nil
}

func (s *mockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
