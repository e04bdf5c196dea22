// Package protocol implements asciicast v2 session recording: a JSON
// header line followed by one timed event line per chunk of terminal
// output or resize.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// Header is the asciicast v2 header line.
type Header struct {
	Version   uint32            `json:"version"`
	Width     uint32            `json:"width"`
	Height    uint32            `json:"height"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Command   string            `json:"command,omitempty"`
	Title     string            `json:"title,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// EventType tags a recorded event.
type EventType string

const (
	EventOutput EventType = "o"
	EventInput  EventType = "i"
	EventResize EventType = "r"
)

// Recorder writes one session to a cast file. It is driven from the
// reactor thread only.
type Recorder struct {
	w      io.WriteCloser
	header Header
	start  time.Time
	closed bool
}

// NewRecorder creates the cast file and writes the header. Each
// session gets a fresh uuid.
func NewRecorder(path, title string, cols, rows int) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating recording %s: %w", path, err)
	}

	r := &Recorder{
		w: f,
		header: Header{
			Version:   2,
			Width:     uint32(cols),
			Height:    uint32(rows),
			Timestamp: time.Now().Unix(),
			Title:     title,
			SessionID: uuid.New().String(),
			Env: map[string]string{
				"TERM": os.Getenv("TERM"),
			},
		},
		start: time.Now(),
	}

	if err := r.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeHeader() error {
	data, err := json.Marshal(r.header)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(r.w, "%s\n", data)
	return err
}

// SessionID returns the recording's uuid.
func (r *Recorder) SessionID() string { return r.header.SessionID }

func (r *Recorder) writeEvent(typ EventType, data string) error {
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	evt := [3]any{time.Since(r.start).Seconds(), string(typ), data}
	line, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(r.w, "%s\n", line)
	return err
}

// WriteOutput records a chunk of terminal output.
func (r *Recorder) WriteOutput(data []byte) error {
	return r.writeEvent(EventOutput, string(data))
}

// WriteInput records a chunk of user input.
func (r *Recorder) WriteInput(data []byte) error {
	return r.writeEvent(EventInput, string(data))
}

// WriteResize records a geometry change.
func (r *Recorder) WriteResize(cols, rows uint32) error {
	return r.writeEvent(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

// Close finishes the recording.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.w.Close()
}
