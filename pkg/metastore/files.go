package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FileRecord is one row of file_meta_data: the authoritative binding between
// a logical file identifier and its physical object. A backend object with no
// record is orphaned and eligible for garbage collection.
type FileRecord struct {
	// FileID is the logical identifier, e.g. "{projectID}/{nodeID}/out.dat".
	FileID string

	Bucket    string
	ObjectKey string

	// UserID owns the uploaded data.
	UserID int64

	// ProjectID and NodeID are set for project-scoped files, empty otherwise.
	ProjectID string
	NodeID    string

	// SizeBytes is -1 until reconciliation observes the physical upload.
	SizeBytes int64

	SHA256Checksum string
	EntityTag      string

	// UploadID tracks the multipart session while an upload is in flight.
	UploadID string

	CreatedAt    time.Time
	LastModified time.Time
}

// InsertFile reserves or refreshes the record for a logical file. An existing
// record keeps its creation time; everything else is replaced, matching the
// provisional-reservation step of upload-link issuance.
func InsertFile(ctx context.Context, db DBTX, rec FileRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO file_meta_data
		 (file_id, bucket, object_key, user_id, project_id, node_id,
		  size_bytes, sha256_checksum, entity_tag, upload_id, created_at, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
		   bucket = excluded.bucket,
		   object_key = excluded.object_key,
		   user_id = excluded.user_id,
		   project_id = excluded.project_id,
		   node_id = excluded.node_id,
		   size_bytes = excluded.size_bytes,
		   sha256_checksum = excluded.sha256_checksum,
		   entity_tag = excluded.entity_tag,
		   upload_id = excluded.upload_id,
		   last_modified = excluded.last_modified`,
		rec.FileID, rec.Bucket, rec.ObjectKey, rec.UserID,
		nullable(rec.ProjectID), nullable(rec.NodeID),
		rec.SizeBytes, nullable(rec.SHA256Checksum), nullable(rec.EntityTag),
		nullable(rec.UploadID), formatTime(rec.CreatedAt), formatTime(rec.LastModified))
	if err != nil {
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// GetFile returns the record for a file identifier, or nil when none exists.
func GetFile(ctx context.Context, db DBTX, fileID string) (*FileRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT file_id, bucket, object_key, user_id, project_id, node_id,
		        size_bytes, sha256_checksum, entity_tag, upload_id, created_at, last_modified
		 FROM file_meta_data WHERE file_id = ?`, fileID)
	rec, err := scanFileRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file record: %w", err)
	}
	return rec, nil
}

// UpdateOnReconcile stamps the record with the observed physical state once
// the out-of-band upload has landed.
func UpdateOnReconcile(ctx context.Context, db DBTX, fileID string, size int64, checksum, entityTag string, lastModified time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE file_meta_data
		 SET size_bytes = ?, sha256_checksum = ?, entity_tag = ?, upload_id = NULL, last_modified = ?
		 WHERE file_id = ?`,
		size, nullable(checksum), nullable(entityTag), formatTime(lastModified), fileID)
	if err != nil {
		return fmt.Errorf("reconcile file record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reconcile file record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reconcile file record: %s: no such record", fileID)
	}
	return nil
}

// DeleteFile removes the record for a file identifier. Deleting an absent
// record is a no-op.
func DeleteFile(ctx context.Context, db DBTX, fileID string) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM file_meta_data WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

// DeleteProjectFiles removes every record bound to a project, optionally
// restricted to one node.
func DeleteProjectFiles(ctx context.Context, db DBTX, projectID, nodeID string) error {
	query := `DELETE FROM file_meta_data WHERE project_id = ?`
	args := []any{projectID}
	if nodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, nodeID)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete project file records: %w", err)
	}
	return nil
}

// ListFilesByProject returns every record bound to a project, ordered by
// file identifier.
func ListFilesByProject(ctx context.Context, db DBTX, projectID string) ([]FileRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT file_id, bucket, object_key, user_id, project_id, node_id,
		        size_bytes, sha256_checksum, entity_tag, upload_id, created_at, last_modified
		 FROM file_meta_data WHERE project_id = ? ORDER BY file_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project file records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list project file records: %w", err)
	}
	return records, nil
}

// ListFileIDsByPrefix returns record identifiers starting with prefix,
// restricted to the given owner or readable projects. Ordered by identifier.
func ListFileIDsByPrefix(ctx context.Context, db DBTX, prefix string, userID int64, readableProjects []string) ([]FileRecord, error) {
	query := `SELECT file_id, bucket, object_key, user_id, project_id, node_id,
	                 size_bytes, sha256_checksum, entity_tag, upload_id, created_at, last_modified
	          FROM file_meta_data
	          WHERE file_id LIKE ? ESCAPE '\' AND (user_id = ?`
	args := []any{escapeLike(prefix) + "%", userID}
	if len(readableProjects) > 0 {
		query += ` OR project_id IN (?` + repeat(",?", len(readableProjects)-1) + `)`
		for _, p := range readableProjects {
			args = append(args, p)
		}
	}
	query += `) ORDER BY file_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search file records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search file records: %w", err)
	}
	return records, nil
}

// ListProvisionalBefore returns records still awaiting reconciliation whose
// creation predates the cutoff. These are uploads that were issued links but
// never observed landing; garbage collection feeds on this listing.
func ListProvisionalBefore(ctx context.Context, db DBTX, cutoff time.Time) ([]FileRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT file_id, bucket, object_key, user_id, project_id, node_id,
		        size_bytes, sha256_checksum, entity_tag, upload_id, created_at, last_modified
		 FROM file_meta_data
		 WHERE size_bytes < 0 AND created_at < ?
		 ORDER BY file_id`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list provisional records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list provisional records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var projectID, nodeID, checksum, entityTag, uploadID sql.NullString
	var createdAt, lastModified string

	err := row.Scan(&rec.FileID, &rec.Bucket, &rec.ObjectKey, &rec.UserID,
		&projectID, &nodeID, &rec.SizeBytes, &checksum, &entityTag,
		&uploadID, &createdAt, &lastModified)
	if err != nil {
		return nil, err
	}

	rec.ProjectID = projectID.String
	rec.NodeID = nodeID.String
	rec.SHA256Checksum = checksum.String
	rec.EntityTag = entityTag.String
	rec.UploadID = uploadID.String

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.LastModified, err = parseTime(lastModified); err != nil {
		return nil, fmt.Errorf("parse last_modified: %w", err)
	}
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' || s[i] == '_' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
