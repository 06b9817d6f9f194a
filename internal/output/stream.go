package output

import (
	"io"
	"sync"
)

// Stream serializes blocks from concurrent targets onto one writer. Blocks
// are separated by a blank line and never interleave.
type Stream struct {
	mu      sync.Mutex
	w       io.Writer
	written int
}

func NewStream(w io.Writer) *Stream {
	return &Stream{w: w}
}

func (s *Stream) WriteBlock(block []byte) error {
	if len(block) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, len(block)+2)
	if s.written > 0 {
		buf = append(buf, '\n')
	}
	buf = append(buf, block...)
	if block[len(block)-1] != '\n' {
		buf = append(buf, '\n')
	}

	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	s.written++
	return nil
}
