package sink

import (
	"errors"
	"fmt"
	"os"
)

// File appends records to a regular file.
type File struct {
	f *os.File
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("sink: file sink needs a path")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	return &File{f: f}, nil
}

func (s *File) Write(record []byte) error {
	if s.f == nil {
		return ErrClosed
	}
	_, err := s.f.Write(record)
	return err
}

func (s *File) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
