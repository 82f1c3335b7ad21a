package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdrb/internal/database/migrations"
	"pdrb/internal/pdr"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// TimeLayout is how post dates are stored.
const TimeLayout = "2006-01-02 15:04:05"

const zeroDate = "0000-00-00 00:00:00"

// ErrNotFound is returned when deleting a request that does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteDatabase stores personal data requests in a posts table and the
// schedule settings in an options table.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
	loc  *time.Location
}

// NewSQLiteDatabase opens the database at path and applies pending migrations.
// path can be a file path or ":memory:". Dates are read and written in loc
// (nil means local time).
func NewSQLiteDatabase(path string, loc *time.Location) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return NewSQLiteDatabaseFromDB(db, path, loc), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, loc *time.Location) *SQLiteDatabase {
	if loc == nil {
		loc = time.Local
	}
	return &SQLiteDatabase{db: db, path: path, loc: loc}
}

// OpenConnection opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

const recordColumns = `id, post_author, post_date, post_content, post_title, post_excerpt,
	post_status, comment_status, ping_status, post_password, post_name, to_ping, pinged,
	post_modified, post_content_filtered, post_parent, guid, menu_order, post_mime_type,
	comment_count`

// Record operations

// Find returns every request of category in insertion order.
func (s *SQLiteDatabase) Find(ctx context.Context, category pdr.Category) ([]pdr.Record, error) {
	slug := category.Slug()
	if slug == "" {
		return nil, fmt.Errorf("unknown category %q", category)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM posts WHERE post_type = ? AND post_name = ? ORDER BY id`,
		pdr.RequestType, slug)
	if err != nil {
		return nil, fmt.Errorf("querying %s requests: %w", category, err)
	}
	defer rows.Close()

	var records []pdr.Record
	for rows.Next() {
		r, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s request: %w", category, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s requests: %w", category, err)
	}
	return records, nil
}

func (s *SQLiteDatabase) scanRecord(rows *sql.Rows) (pdr.Record, error) {
	var (
		r                 pdr.Record
		created, modified string
		status            string
		parent            sql.NullInt64
	)
	err := rows.Scan(&r.ID, &r.AuthorID, &created, &r.BodyContent, &r.Title, &r.Excerpt,
		&status, &r.CommentingPolicy, &r.PingPolicy, &r.PasswordHash, &r.Slug, &r.ToPing, &r.Pinged,
		&modified, &r.RenderedContentOverride, &parent, &r.GlobalUniqueID, &r.SortOrder, &r.MimeType,
		&r.CommentCount)
	if err != nil {
		return pdr.Record{}, err
	}

	r.Status = pdr.Status(status)
	if r.CreatedAt, err = s.parseDate(created); err != nil {
		return pdr.Record{}, fmt.Errorf("post_date of %d: %w", r.ID, err)
	}
	if r.ModifiedAt, err = s.parseDate(modified); err != nil {
		return pdr.Record{}, fmt.Errorf("post_modified of %d: %w", r.ID, err)
	}
	// A zero parent is the host's "no parent".
	if parent.Valid && parent.Int64 != 0 {
		p := parent.Int64
		r.ParentID = &p
	}
	return r, nil
}

// Insert stores r as a new request and returns its ID. r.ID is ignored.
func (s *SQLiteDatabase) Insert(ctx context.Context, r pdr.Record) (int64, error) {
	if _, ok := r.Category(); !ok {
		return 0, fmt.Errorf("slug %q is not a personal data request", r.Slug)
	}

	var parent sql.NullInt64
	if r.ParentID != nil {
		parent = sql.NullInt64{Int64: *r.ParentID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO posts (
		post_author, post_date, post_content, post_title, post_excerpt, post_status,
		comment_status, ping_status, post_password, post_name, to_ping, pinged, post_modified,
		post_content_filtered, post_parent, guid, menu_order, post_type, post_mime_type, comment_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AuthorID, s.formatDate(r.CreatedAt), r.BodyContent, r.Title, r.Excerpt, string(r.Status),
		r.CommentingPolicy, r.PingPolicy, r.PasswordHash, r.Slug, r.ToPing, r.Pinged, s.formatDate(r.ModifiedAt),
		r.RenderedContentOverride, parent, r.GlobalUniqueID, r.SortOrder, pdr.RequestType, r.MimeType, r.CommentCount)
	if err != nil {
		return 0, fmt.Errorf("inserting request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	return id, nil
}

// Delete removes the request with the given ID.
func (s *SQLiteDatabase) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ? AND post_type = ?`, id, pdr.RequestType)
	if err != nil {
		return fmt.Errorf("deleting request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting request %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting request %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) formatDate(t time.Time) string {
	if t.IsZero() {
		return zeroDate
	}
	return t.In(s.loc).Format(TimeLayout)
}

func (s *SQLiteDatabase) parseDate(v string) (time.Time, error) {
	if v == "" || v == zeroDate {
		return time.Time{}, nil
	}
	return time.ParseInLocation(TimeLayout, v, s.loc)
}

// Settings operations

// Load reads the schedule settings. Missing options take their zero value.
func (s *SQLiteDatabase) Load(ctx context.Context) (pdr.ScheduleConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM options WHERE name IN (?, ?, ?)`,
		pdr.OptionAutoExport, pdr.OptionEmail, pdr.OptionCleanFiles)
	if err != nil {
		return pdr.ScheduleConfig{}, fmt.Errorf("querying options: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 3)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return pdr.ScheduleConfig{}, fmt.Errorf("scanning option: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return pdr.ScheduleConfig{}, fmt.Errorf("reading options: %w", err)
	}

	return pdr.ScheduleConfig{
		AutoExportEnabled:         truthy(values[pdr.OptionAutoExport]),
		NotifyEmail:               values[pdr.OptionEmail],
		RetainFilesAfterUninstall: !truthy(values[pdr.OptionCleanFiles]),
	}, nil
}

// Save writes all schedule settings in one transaction.
func (s *SQLiteDatabase) Save(ctx context.Context, cfg pdr.ScheduleConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	opts := []struct{ name, value string }{
		{pdr.OptionAutoExport, flag(cfg.AutoExportEnabled)},
		{pdr.OptionEmail, cfg.NotifyEmail},
		{pdr.OptionCleanFiles, flag(!cfg.RetainFilesAfterUninstall)},
	}
	for _, o := range opts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO options (name, value) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, o.name, o.value)
		if err != nil {
			return fmt.Errorf("saving option %s: %w", o.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Clear deletes the schedule options.
func (s *SQLiteDatabase) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM options WHERE name IN (?, ?, ?)`,
		pdr.OptionAutoExport, pdr.OptionEmail, pdr.OptionCleanFiles)
	if err != nil {
		return fmt.Errorf("deleting options: %w", err)
	}
	return nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return ""
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "off", "no":
		return false
	default:
		return true
	}
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ pdr.RecordStore   = (*SQLiteDatabase)(nil)
	_ pdr.SettingsStore = (*SQLiteDatabase)(nil)
	_ pdr.StoreLock     = (*SQLiteDatabase)(nil)
)
