package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"pdrb/internal/pdr"
)

// RecordingMailer records every message it is asked to send.
type RecordingMailer struct {
	mu       sync.Mutex
	Messages []pdr.Message
	// Attached holds the attachment contents read at send time, keyed by path.
	Attached map[string][]byte
	Err      error
}

func NewRecordingMailer() *RecordingMailer {
	return &RecordingMailer{Attached: make(map[string][]byte)}
}

func (m *RecordingMailer) Send(ctx context.Context, msg pdr.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, path := range msg.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading attachment: %w", err)
		}
		m.Attached[path] = data
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *RecordingMailer) Sent() []pdr.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pdr.Message(nil), m.Messages...)
}

var _ pdr.Mailer = (*RecordingMailer)(nil)

// MemoryMirror is an in-memory pdr.Mirror.
type MemoryMirror struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Err     error
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{Objects: make(map[string][]byte)}
}

func (m *MemoryMirror) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Objects[name] = data
	return nil
}

var _ pdr.Mirror = (*MemoryMirror)(nil)
