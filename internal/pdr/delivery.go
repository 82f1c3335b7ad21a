package pdr

import (
	"context"
	"io"
)

// Message is a single outgoing email with file attachments.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []string // absolute file paths
}

// Mailer delivers a message to one address.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Mirror stores a copy of an exported archive off-site.
type Mirror interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// MessageFilter rewrites a mail subject or body before sending.
type MessageFilter func(string) string

// Hooks are the externally registered mail filters, applied in order.
type Hooks struct {
	Subject []MessageFilter
	Body    []MessageFilter
}

func applyFilters(s string, filters []MessageFilter) string {
	for _, f := range filters {
		s = f(s)
	}
	return s
}
