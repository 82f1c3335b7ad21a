package archive

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"pdrb/internal/pdr"
)

// ErrNotObject is returned by ParseRecord for an entry that is not a JSON object.
var ErrNotObject = errors.New("archive entry is not an object")

// ParseRecord reads one archive entry.
//
// Absent fields take their zero value. Scalars of the wrong type are coerced where the
// intent is obvious: numeric strings become integers, numbers become strings, an empty or
// all-zero timestamp is the zero time, and a parent of 0 means no parent. A field that
// still cannot be read is left at its zero value.
func ParseRecord(entry json.RawMessage, loc *time.Location) (pdr.Record, error) {
	trimmed := bytes.TrimSpace(entry)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return pdr.Record{}, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return pdr.Record{}, fmt.Errorf("%w: %v", ErrNotObject, err)
	}

	if loc == nil {
		loc = time.Local
	}
	f := fieldReader(fields)

	return pdr.Record{
		ID:                      f.int("id"),
		AuthorID:                f.int("authorId"),
		CreatedAt:               f.time("createdAt", loc),
		ModifiedAt:              f.time("modifiedAt", loc),
		Title:                   f.string("title"),
		BodyContent:             f.string("bodyContent"),
		Excerpt:                 f.string("excerpt"),
		Status:                  pdr.Status(f.string("status")),
		Slug:                    f.string("slug"),
		ParentID:                f.parent("parentId"),
		CommentingPolicy:        f.string("commentingPolicy"),
		PingPolicy:              f.string("pingPolicy"),
		PasswordHash:            f.string("passwordHash"),
		ToPing:                  f.string("toPing"),
		Pinged:                  f.string("pinged"),
		RenderedContentOverride: f.string("renderedContentOverride"),
		SortOrder:               f.int("sortOrder"),
		MimeType:                f.string("mimeType"),
		CommentCount:            f.int("commentCount"),
		GlobalUniqueID:          f.string("globalUniqueId"),
	}, nil
}

type fieldReader map[string]json.RawMessage

// scalar decodes a field into string, json.Number, bool or nil.
// Objects and arrays are reported as absent.
func (f fieldReader) scalar(key string) any {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	switch v.(type) {
	case string, json.Number, bool:
		return v
	default:
		return nil
	}
}

func (f fieldReader) string(key string) string {
	switch v := f.scalar(key).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func (f fieldReader) int(key string) int64 {
	n, _ := f.intOK(key)
	return n
}

func (f fieldReader) intOK(key string) (int64, bool) {
	switch v := f.scalar(key).(type) {
	case json.Number:
		return numberToInt(string(v))
	case string:
		return numberToInt(strings.TrimSpace(v))
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func numberToInt(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(fl) || math.IsInf(fl, 0) || fl != math.Trunc(fl) {
		return 0, false
	}
	if fl > math.MaxInt64 || fl < math.MinInt64 {
		return 0, false
	}
	return int64(fl), true
}

func (f fieldReader) time(key string, loc *time.Location) time.Time {
	s, ok := f.scalar(key).(string)
	if !ok {
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	if s == "" || s == zeroTime {
		return time.Time{}
	}
	if t, err := time.ParseInLocation(TimeLayout, s, loc); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc)
	}
	return time.Time{}
}

func (f fieldReader) parent(key string) *int64 {
	n, ok := f.intOK(key)
	if !ok || n == 0 {
		return nil
	}
	return &n
}
