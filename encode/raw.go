package encode

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"trial-capture-recorder/trial"
)

// RawSink writes frames as a headerless byte stream, one frame after
// another. It is the simplest real sink: useful for diagnosing the capture
// path without an encoder in the loop, and replayable with ffmpeg's
// rawvideo demuxer.
type RawSink struct {
	path string
	file *os.File
	w    *bufio.Writer

	mu        sync.Mutex
	written   int
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewRawSink creates the output file, refusing to overwrite an existing
// one.
func NewRawSink(path string) (*RawSink, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw output %s: %w", path, err)
	}
	return &RawSink{
		path: path,
		file: file,
		w:    bufio.NewWriterSize(file, 1<<20),
	}, nil
}

// Write appends one frame's pixel data.
func (s *RawSink) Write(frame *trial.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("write on closed raw sink")
	}
	if _, err := s.w.Write(frame.Data); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", frame.Index, err)
	}
	s.written++
	return nil
}

// Close flushes and closes the file. Safe to call more than once.
func (s *RawSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.w.Flush(); err != nil {
			s.closeErr = fmt.Errorf("failed to flush raw output %s: %w", s.path, err)
			s.file.Close()
			return
		}
		if err := s.file.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close raw output %s: %w", s.path, err)
		}
	})
	return s.closeErr
}

// Written returns the number of frames written.
func (s *RawSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
