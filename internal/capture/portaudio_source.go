package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// portaudioSource reads from the default input device via PortAudio.
type portaudioSource struct {
	stream *portaudio.Stream
	buf    []int16
}

func NewPortaudioSource() Source {
	return &portaudioSource{}
}

func (s *portaudioSource) Open(sampleRate, channels, frameSize int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	s.buf = make([]int16, frameSize*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), frameSize, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open default input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}
	s.stream = stream
	return nil
}

func (s *portaudioSource) ReadFrame() ([]int16, error) {
	if s.stream == nil {
		return nil, fmt.Errorf("input stream not open")
	}
	if err := s.stream.Read(); err != nil {
		return nil, fmt.Errorf("read input stream: %w", err)
	}
	frame := make([]int16, len(s.buf))
	copy(frame, s.buf)
	return frame, nil
}

func (s *portaudioSource) Close() error {
	if s.stream == nil {
		return nil
	}
	_ = s.stream.Stop()
	err := s.stream.Close()
	s.stream = nil
	if terr := portaudio.Terminate(); terr != nil && err == nil {
		err = terr
	}
	return err
}
