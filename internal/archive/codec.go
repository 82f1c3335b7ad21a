// Package archive implements the archive payload format: a JSON document holding both
// request lists, carried as standard base64 text, optionally inside a compressed container.
package archive

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"pdrb/internal/pdr"
)

// TimeLayout is the timestamp layout used by the host store.
const TimeLayout = "2006-01-02 15:04:05"

// zeroTime is how the host store writes an unset timestamp.
const zeroTime = "0000-00-00 00:00:00"

// Codec implements pdr.Codec.
type Codec struct {
	loc *time.Location
}

// NewCodec creates a Codec that reads and writes timestamps in loc.
// A nil loc uses the local time zone.
func NewCodec(loc *time.Location) *Codec {
	if loc == nil {
		loc = time.Local
	}
	return &Codec{loc: loc}
}

// wireRecord fixes the key order of an encoded record.
type wireRecord struct {
	ID                      int64  `json:"id"`
	AuthorID                int64  `json:"authorId"`
	CreatedAt               string `json:"createdAt"`
	ModifiedAt              string `json:"modifiedAt"`
	Title                   string `json:"title"`
	BodyContent             string `json:"bodyContent"`
	Excerpt                 string `json:"excerpt"`
	Status                  string `json:"status"`
	Slug                    string `json:"slug"`
	ParentID                *int64 `json:"parentId"`
	CommentingPolicy        string `json:"commentingPolicy"`
	PingPolicy              string `json:"pingPolicy"`
	PasswordHash            string `json:"passwordHash"`
	ToPing                  string `json:"toPing"`
	Pinged                  string `json:"pinged"`
	RenderedContentOverride string `json:"renderedContentOverride"`
	SortOrder               int64  `json:"sortOrder"`
	MimeType                string `json:"mimeType"`
	CommentCount            int64  `json:"commentCount"`
	GlobalUniqueID          string `json:"globalUniqueId"`
}

type wireDocument struct {
	Exports  []wireRecord `json:"exports"`
	Erasures []wireRecord `json:"erasures"`
}

// Encode serializes both lists and base64-encodes the result.
func (c *Codec) Encode(exports, erasures []pdr.Record) ([]byte, error) {
	doc := wireDocument{
		Exports:  c.toWire(exports),
		Erasures: c.toWire(erasures),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling archive: %w", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func (c *Codec) toWire(records []pdr.Record) []wireRecord {
	out := make([]wireRecord, len(records))
	for i, r := range records {
		out[i] = wireRecord{
			ID:                      r.ID,
			AuthorID:                r.AuthorID,
			CreatedAt:               c.formatTime(r.CreatedAt),
			ModifiedAt:              c.formatTime(r.ModifiedAt),
			Title:                   r.Title,
			BodyContent:             r.BodyContent,
			Excerpt:                 r.Excerpt,
			Status:                  string(r.Status),
			Slug:                    r.Slug,
			ParentID:                r.ParentID,
			CommentingPolicy:        r.CommentingPolicy,
			PingPolicy:              r.PingPolicy,
			PasswordHash:            r.PasswordHash,
			ToPing:                  r.ToPing,
			Pinged:                  r.Pinged,
			RenderedContentOverride: r.RenderedContentOverride,
			SortOrder:               r.SortOrder,
			MimeType:                r.MimeType,
			CommentCount:            r.CommentCount,
			GlobalUniqueID:          r.GlobalUniqueID,
		}
	}
	return out
}

func (c *Codec) formatTime(t time.Time) string {
	if t.IsZero() {
		return zeroTime
	}
	return t.In(c.loc).Format(TimeLayout)
}

// Decode reverses Encode. Entries that are not JSON objects are returned as
// per-record failures; everything else is parsed leniently.
func (c *Codec) Decode(data []byte) (*pdr.Archive, []*pdr.RecordError, error) {
	text := bytes.TrimSpace(data)

	raw := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(raw, text)
	if err != nil {
		return nil, nil, &pdr.DecodeError{Stage: pdr.DecodeTransport, Err: err}
	}
	raw = raw[:n]

	var doc struct {
		Exports  *[]json.RawMessage `json:"exports"`
		Erasures *[]json.RawMessage `json:"erasures"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, &pdr.DecodeError{Stage: pdr.DecodeStructure, Err: err}
	}
	if doc.Exports == nil {
		return nil, nil, &pdr.DecodeError{Stage: pdr.DecodeStructure, Err: errors.New(`missing "exports" list`)}
	}
	if doc.Erasures == nil {
		return nil, nil, &pdr.DecodeError{Stage: pdr.DecodeStructure, Err: errors.New(`missing "erasures" list`)}
	}

	archive := &pdr.Archive{}
	var rejected []*pdr.RecordError
	archive.Exports, rejected = c.parseList(pdr.ExportRequest, *doc.Exports, rejected)
	archive.Erasures, rejected = c.parseList(pdr.ErasureRequest, *doc.Erasures, rejected)

	return archive, rejected, nil
}

func (c *Codec) parseList(category pdr.Category, entries []json.RawMessage, rejected []*pdr.RecordError) ([]pdr.Record, []*pdr.RecordError) {
	records := make([]pdr.Record, 0, len(entries))
	for i, entry := range entries {
		r, err := ParseRecord(entry, c.loc)
		if err != nil {
			rejected = append(rejected, &pdr.RecordError{Op: "decode", Category: category, Index: i, Err: err})
			continue
		}
		records = append(records, r)
	}
	return records, rejected
}

var _ pdr.Codec = (*Codec)(nil)
