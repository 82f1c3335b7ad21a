package pdr

import "time"

// RequestType is the content type every personal data request carries in the host store.
const RequestType = "user_request"

// Category identifies one of the two record collections held in an archive.
type Category string

const (
	ExportRequest  Category = "export"
	ErasureRequest Category = "erasure"
)

// Categories lists every category in the order they are exported, wiped and restored.
var Categories = []Category{ExportRequest, ErasureRequest}

// Slug returns the host slug that marks a record as belonging to c.
func (c Category) Slug() string {
	switch c {
	case ExportRequest:
		return "export_personal_data"
	case ErasureRequest:
		return "remove_personal_data"
	default:
		return ""
	}
}

// CategoryOf maps a host (type, slug) pair to a Category.
// The second return value is false for content that is not a personal data request.
func CategoryOf(contentType, slug string) (Category, bool) {
	if contentType != RequestType {
		return "", false
	}
	for _, c := range Categories {
		if c.Slug() == slug {
			return c, true
		}
	}
	return "", false
}

// Status is the host-defined request state. Unknown values are preserved verbatim.
type Status string

const (
	StatusPending   Status = "request-pending"
	StatusConfirmed Status = "request-confirmed"
	StatusCompleted Status = "request-completed"
	StatusFailed    Status = "request-failed"
)

// Record is one personal data request as stored in the host's generic content table.
type Record struct {
	ID                      int64 // assigned by the store; 0 before insert
	AuthorID                int64
	CreatedAt               time.Time
	ModifiedAt              time.Time
	Title                   string
	BodyContent             string
	Excerpt                 string
	Status                  Status
	Slug                    string
	ParentID                *int64
	CommentingPolicy        string
	PingPolicy              string
	PasswordHash            string
	ToPing                  string
	Pinged                  string
	RenderedContentOverride string
	SortOrder               int64
	MimeType                string
	CommentCount            int64
	GlobalUniqueID          string
}

// Category derives the record's category from its slug.
func (r *Record) Category() (Category, bool) {
	return CategoryOf(RequestType, r.Slug)
}

// Archive is a full snapshot of both categories.
type Archive struct {
	Exports  []Record
	Erasures []Record
}

// Records returns the archive's records for c.
func (a *Archive) Records(c Category) []Record {
	switch c {
	case ExportRequest:
		return a.Exports
	case ErasureRequest:
		return a.Erasures
	default:
		return nil
	}
}
