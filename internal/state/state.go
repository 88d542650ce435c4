// Package state persists a connector's consumption progress: the last offset
// whose dispatch completed, plus the topic and sink target it belongs to so
// that misconfiguration is caught across restarts.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt marks a state file that exists but cannot be trusted: it is
// unparsable, or its recorded topic/sink disagree with the descriptor. The
// engine fails fast rather than guessing and overwriting.
var ErrCorrupt = errors.New("state: corrupt or mismatched state file")

// NoOffset is the lastOffset sentinel for "never consumed".
const NoOffset int64 = -1

type fileFormat struct {
	Topic  string `json:"topic"`
	Sink   string `json:"sink"`
	Offset int64  `json:"offset"`
}

// Store is the durable record of one connector's progress. It is owned by
// exactly one processor goroutine; Advance needs no locking beyond that
// single-writer discipline.
type Store struct {
	path   string
	topic  string
	sink   string
	offset int64
}

// RestoreOrCreate reads the state file at path, or synthesizes and persists a
// fresh one (offset = NoOffset) when absent. An existing file whose topic or
// sink disagree with the arguments yields ErrCorrupt.
func RestoreOrCreate(path, sinkTarget, topic string) (*Store, error) {
	s := &Store{path: path, topic: topic, sink: sinkTarget, offset: NoOffset}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	if f.Topic != topic {
		return nil, fmt.Errorf("%w: %s: topic %q, descriptor has %q", ErrCorrupt, path, f.Topic, topic)
	}
	if f.Sink != sinkTarget {
		return nil, fmt.Errorf("%w: %s: sink %q, descriptor has %q", ErrCorrupt, path, f.Sink, sinkTarget)
	}
	s.offset = f.Offset
	return s, nil
}

func (s *Store) Topic() string { return s.topic }
func (s *Store) Sink() string  { return s.sink }

// LastOffset is a non-blocking read of the cached value.
func (s *Store) LastOffset() int64 { return s.offset }

// Advance records that the record at newOffset has been applied to the sink.
// The flush completes before Advance returns; this is the durability boundary
// the caller relies on. Offsets never move backwards.
func (s *Store) Advance(newOffset int64) error {
	if newOffset <= s.offset {
		return fmt.Errorf("state: offset must advance: have %d, got %d", s.offset, newOffset)
	}
	prev := s.offset
	s.offset = newOffset
	if err := s.flush(); err != nil {
		s.offset = prev
		return err
	}
	return nil
}

// flush writes the whole state to a sibling temp file and renames it over the
// real one, so a crash mid-write never leaves a partial file behind.
func (s *Store) flush() error {
	raw, err := json.Marshal(fileFormat{Topic: s.topic, Sink: s.sink, Offset: s.offset})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: write %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("state: replace %s: %w", s.path, err)
	}
	return nil
}
