// Package uploads tracks user-supplied import files and the job that processes them.
package uploads

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/ixgest/tabular"
)

// Status is where an upload is in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", errors.NewInvalidRequestError("unknown upload status %q", s)
}

// Import types recorded with an upload. Both run the same idempotent upsert.
const (
	ImportTypeImport = "import"
	ImportTypeUpdate = "update"
)

// Upload is one row of file_uploads.
type Upload struct {
	ID           int64            `json:"id"`
	Filename     string           `json:"filename"`
	Source       string           `json:"source"`
	FileType     tabular.FileType `json:"file_type"`
	ImportType   string           `json:"import_type"`
	Status       Status           `json:"status"`
	UserEmail    string           `json:"user_email,omitempty"`
	JobID        string           `json:"job_id,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// CanRetry reports whether the upload may be submitted again.
func (u *Upload) CanRetry() bool {
	return u.Status == StatusFailed
}

// Extension returns the lowercased file extension.
func (u *Upload) Extension() string {
	return strings.ToLower(filepath.Ext(u.Filename))
}

// SupportedFile reports whether name is a CSV or a spreadsheet we can normalize.
func SupportedFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv") || tabular.IsSpreadsheet(name)
}

// Validate checks an upload before it is stored.
func (u *Upload) Validate() error {
	if strings.TrimSpace(u.Filename) == "" {
		return errors.NewInvalidRequestError("filename can't be blank")
	}
	if strings.TrimSpace(u.Source) == "" {
		return errors.NewInvalidRequestError("source can't be blank")
	}
	if _, err := tabular.ParseFileType(string(u.FileType)); err != nil {
		return err
	}
	if u.ImportType != ImportTypeImport && u.ImportType != ImportTypeUpdate {
		return errors.NewInvalidRequestError("import type must be %q or %q, got %q", ImportTypeImport, ImportTypeUpdate, u.ImportType)
	}
	if !SupportedFile(u.Filename) {
		return errors.NewInvalidRequestError("unsupported file %q: expected .csv or .xlsx", u.Filename)
	}
	return nil
}

// Store persists uploads in file_uploads.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates an upload store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const uploadColumns = `id, filename, source, file_type, import_type, status,
	user_email, job_id, error_message, processed_at, created_at, updated_at`

// Create validates u and inserts it as pending. Filename defaults to the
// base name of Source and ImportType to "import".
func (s *Store) Create(ctx context.Context, u *Upload) error {
	if u.Filename == "" {
		u.Filename = filepath.Base(u.Source)
	}
	if u.ImportType == "" {
		u.ImportType = ImportTypeImport
	}
	if err := u.Validate(); err != nil {
		return err
	}

	now := s.now()
	u.Status = StatusPending
	u.CreatedAt = now
	u.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `INSERT INTO file_uploads
		(filename, source, file_type, import_type, status, user_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Filename, u.Source, string(u.FileType), u.ImportType, string(u.Status),
		nullString(u.UserEmail), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to create upload %s", u.Filename)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read upload id")
	}
	return nil
}

// Get returns the upload with id or an ErrNotFound error.
func (s *Store) Get(ctx context.Context, id int64) (*Upload, error) {
	u, err := scanUpload(s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM file_uploads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("upload not found: %d", id), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get upload %d", id)
	}
	return u, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status    Status
	UserEmail string
}

// List returns uploads newest first.
func (s *Store) List(ctx context.Context, f Filter, limit int) ([]*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM file_uploads WHERE 1=1`
	var args []interface{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.UserEmail != "" {
		query += ` AND user_email = ?`
		args = append(args, f.UserEmail)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list uploads")
	}
	defer rows.Close()

	var out []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan upload")
		}
		out = append(out, u)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate uploads")
}

// MarkProcessing records the job working on the upload.
func (s *Store) MarkProcessing(ctx context.Context, id int64, jobID string) error {
	return s.update(ctx, id, `status = ?, job_id = ?, error_message = NULL, updated_at = ?`,
		string(StatusProcessing), jobID, s.now())
}

// MarkCompleted stamps processed_at.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	now := s.now()
	return s.update(ctx, id, `status = ?, processed_at = ?, updated_at = ?`,
		string(StatusCompleted), now, now)
}

// MarkFailed stores message and stamps processed_at.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	now := s.now()
	return s.update(ctx, id, `status = ?, error_message = ?, processed_at = ?, updated_at = ?`,
		string(StatusFailed), message, now, now)
}

func (s *Store) update(ctx context.Context, id int64, set string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, `UPDATE file_uploads SET `+set+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return errors.Wrapf(err, "failed to update upload %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.Mark(errors.Newf("upload not found: %d", id), errors.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUpload(row rowScanner) (*Upload, error) {
	var (
		u         Upload
		fileType  string
		status    string
		email     sql.NullString
		jobID     sql.NullString
		message   sql.NullString
		processed sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Filename, &u.Source, &fileType, &u.ImportType, &status,
		&email, &jobID, &message, &processed, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.FileType = tabular.FileType(fileType)
	u.Status = Status(status)
	u.UserEmail = email.String
	u.JobID = jobID.String
	u.ErrorMessage = message.String
	if processed.Valid {
		t := processed.Time.UTC()
		u.ProcessedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
