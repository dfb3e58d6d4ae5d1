// Package sqlite implements store.Repository against SQLite, for
// single-node dev and client-side deployment. It mirrors the postgres
// driver's schema and keyset-pagination logic with SQLite's own
// pragmas and positional placeholders, using the pure-Go
// modernc.org/sqlite driver so the binary stays CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/store"
)

// Store is a SQLite-backed store.Repository.
type Store struct {
	db *sql.DB
}

// Open opens the database file at dsn with the dev-friendly pragmas:
// WAL journaling (avoids locking issues under concurrent readers),
// foreign keys on, and a busy timeout instead of failing fast on
// SQLITE_BUSY.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite db %s", dsn)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, errors.Wrapf(err, "set pragma: %s", p)
		}
	}

	// A single connection avoids SQLITE_BUSY entirely under WAL; this
	// is a local file, not a network round trip.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "ping sqlite")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the threads and messages tables if absent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			is_bookmarked INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			trace_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			last_modified_at TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			etag TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_user_recency ON threads (user_id, last_modified_at DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL,
			last_modified_at TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			etag TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages (thread_id, created_at ASC, id ASC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apierrors.Wrap(apierrors.UpstreamFatal, "", err, "migrate sqlite schema")
		}
	}
	return nil
}

func newETag() string { return uuid.NewString() }

func marshalMetadata(m model.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalMetadata(s string) model.Metadata {
	if s == "" {
		return nil
	}
	var m model.Metadata
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// --- Threads ---

func (s *Store) Create(ctx context.Context, t *model.Thread) (store.SessionToken, error) {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.LastModifiedAt = now
	t.ETag = newETag()
	t.Version = 1

	metaJSON, err := marshalMetadata(t.Metadata)
	if err != nil {
		return "", apierrors.Wrap(apierrors.Invalid, "", err, "marshal thread metadata")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, user_id, title, is_bookmarked, metadata, trace_id, created_at, last_modified_at, is_deleted, etag, version)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Title, t.IsBookmarked, metaJSON, t.TraceID, formatTime(t.CreatedAt), formatTime(t.LastModifiedAt), t.IsDeleted, t.ETag, t.Version)
	if err != nil {
		return "", translateWriteErr(err, "create thread")
	}
	return store.SessionToken(t.ETag), nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (*model.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, is_bookmarked, metadata, trace_id, created_at, last_modified_at, is_deleted, etag, version
		FROM threads WHERE id = ?`, id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "get thread")
	}
	if t.IsDeleted {
		return nil, nil
	}
	if t.UserID != userID {
		return nil, apierrors.New(apierrors.Forbidden, "", "thread not owned by caller")
	}
	return t, nil
}

func scanThread(row *sql.Row) (*model.Thread, error) {
	var t model.Thread
	var metaJSON, createdAt, lastModifiedAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.IsBookmarked, &metaJSON, &t.TraceID, &createdAt, &lastModifiedAt, &t.IsDeleted, &t.ETag, &t.Version); err != nil {
		return nil, err
	}
	t.Metadata = unmarshalMetadata(metaJSON)
	t.CreatedAt = parseTime(createdAt)
	t.LastModifiedAt = parseTime(lastModifiedAt)
	return &t, nil
}

func (s *Store) Update(ctx context.Context, userID, id string, m store.Mutation[*model.Thread]) (*model.Thread, store.SessionToken, error) {
	apply := func() (*model.Thread, error) {
		return s.applyThreadUpdate(ctx, userID, id, m)
	}

	updated, err := apply()
	if err != nil {
		if apierrors.KindOf(err) == apierrors.Conflict && m.RetryOnce {
			m.IfMatch = ""
			updated, err = apply()
		}
		if err != nil {
			return nil, "", err
		}
	}
	return updated, store.SessionToken(updated.ETag), nil
}

func (s *Store) applyThreadUpdate(ctx context.Context, userID, id string, m store.Mutation[*model.Thread]) (*model.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, is_bookmarked, metadata, trace_id, created_at, last_modified_at, is_deleted, etag, version
		FROM threads WHERE id = ? AND is_deleted = 0`, id)
	current, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "get thread for update")
	}
	if current.UserID != userID {
		return nil, apierrors.New(apierrors.Forbidden, "", "thread not owned by caller")
	}
	if m.IfMatch != "" && m.IfMatch != current.ETag {
		return nil, apierrors.New(apierrors.Conflict, "", "etag mismatch")
	}

	updated := m.Apply(*current)
	updated.ID = current.ID
	updated.UserID = current.UserID
	updated.CreatedAt = current.CreatedAt
	updated.LastModifiedAt = time.Now().UTC()
	updated.ETag = newETag()
	updated.Version = current.Version + 1

	metaJSON, err := marshalMetadata(updated.Metadata)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Invalid, "", err, "marshal thread metadata")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE threads SET title=?, is_bookmarked=?, metadata=?, last_modified_at=?, etag=?, version=?
		WHERE id=? AND etag=?`,
		updated.Title, updated.IsBookmarked, metaJSON, formatTime(updated.LastModifiedAt), updated.ETag, updated.Version, id, current.ETag)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "update thread")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apierrors.New(apierrors.Conflict, "", "etag mismatch")
	}
	out := updated
	return &out, nil
}

func (s *Store) SoftDelete(ctx context.Context, userID, id string, ifMatch string) (store.SessionToken, error) {
	return s.setDeleted(ctx, userID, id, ifMatch, true)
}

func (s *Store) Restore(ctx context.Context, userID, id string) (store.SessionToken, error) {
	return s.setDeleted(ctx, userID, id, "", false)
}

func (s *Store) setDeleted(ctx context.Context, userID, id, ifMatch string, deleted bool) (store.SessionToken, error) {
	etag := newETag()
	query := `UPDATE threads SET is_deleted=?, last_modified_at=?, etag=?, version=version+1 WHERE id=? AND user_id=?`
	args := []any{deleted, formatTime(time.Now()), etag, id, userID}
	if ifMatch != "" {
		query += " AND etag=?"
		args = append(args, ifMatch)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", apierrors.Wrap(apierrors.Transient, "", err, "set thread deleted state")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if ifMatch != "" {
			return "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
		return "", apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	return store.SessionToken(etag), nil
}

func (s *Store) HardDelete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return apierrors.Wrap(apierrors.Transient, "", err, "hard delete thread")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	return nil
}

func (s *Store) Touch(ctx context.Context, userID, id string) (store.SessionToken, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET last_modified_at=? WHERE id=? AND user_id=?`, formatTime(now), id, userID)
	if err != nil {
		return "", apierrors.Wrap(apierrors.Transient, "", err, "touch thread")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	return store.SessionToken(formatTime(now)), nil
}

func (s *Store) List(ctx context.Context, userID string, opts store.ListOptions) (model.Page[*model.Thread], error) {
	limit := opts.Limit
	if limit <= 0 || limit > store.MaxThreadsPerPage {
		limit = store.MaxThreadsPerPage
	}
	cursor, err := store.DecodeCursor(opts.ContinuationToken)
	if err != nil {
		return model.Page[*model.Thread]{}, err
	}

	where := []string{"user_id = ?"}
	args := []any{userID}
	if !opts.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if cursor.SortKey != "" {
		where = append(where, "(last_modified_at, id) < (?, ?)")
		args = append(args, cursor.SortKey, cursor.ID)
	}
	args = append(args, limit+1)

	query := `SELECT id, user_id, title, is_bookmarked, metadata, trace_id, created_at, last_modified_at, is_deleted, etag, version
		FROM threads WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_modified_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Page[*model.Thread]{}, apierrors.Wrap(apierrors.Transient, "", err, "list threads")
	}
	defer rows.Close()

	var items []*model.Thread
	for rows.Next() {
		var t model.Thread
		var metaJSON, createdAt, lastModifiedAt string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.IsBookmarked, &metaJSON, &t.TraceID, &createdAt, &lastModifiedAt, &t.IsDeleted, &t.ETag, &t.Version); err != nil {
			return model.Page[*model.Thread]{}, apierrors.Wrap(apierrors.Transient, "", err, "scan thread")
		}
		t.Metadata = unmarshalMetadata(metaJSON)
		t.CreatedAt = parseTime(createdAt)
		t.LastModifiedAt = parseTime(lastModifiedAt)
		items = append(items, &t)
	}
	if err := rows.Err(); err != nil {
		return model.Page[*model.Thread]{}, apierrors.Wrap(apierrors.Transient, "", err, "iterate threads")
	}

	page := model.Page[*model.Thread]{}
	if len(items) > limit {
		last := items[limit-1]
		page.ContinuationToken = store.EncodeCursor(store.Cursor{SortKey: formatTime(last.LastModifiedAt), ID: last.ID})
		page.HasMore = true
		items = items[:limit]
	}
	page.Items = items
	return page, nil
}

// --- Messages ---

func (s *Store) Upsert(ctx context.Context, msg *model.Message, ifMatch string) (*model.Message, store.SessionToken, error) {
	now := time.Now().UTC()
	metaJSON, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return nil, "", apierrors.Wrap(apierrors.Invalid, "", err, "marshal message metadata")
	}

	row := s.db.QueryRowContext(ctx, `SELECT etag, created_at, version FROM messages WHERE id=?`, msg.ID)
	var existingETag, createdAtStr string
	var version int64
	err = row.Scan(&existingETag, &createdAtStr, &version)

	switch {
	case err == sql.ErrNoRows:
		msg.CreatedAt = now
		msg.LastModifiedAt = now
		msg.ETag = newETag()
		msg.Version = 1
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			msg.ID, msg.ThreadID, msg.UserID, msg.Role, msg.Content, metaJSON, formatTime(msg.CreatedAt), formatTime(msg.LastModifiedAt), msg.IsDeleted, msg.ETag, msg.Version)
		if err != nil {
			return nil, "", translateWriteErr(err, "insert message")
		}
	case err != nil:
		return nil, "", apierrors.Wrap(apierrors.Transient, "", err, "get message for upsert")
	default:
		if ifMatch != "" && ifMatch != existingETag {
			return nil, "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
		msg.CreatedAt = parseTime(createdAtStr)
		msg.LastModifiedAt = now
		msg.ETag = newETag()
		msg.Version = version + 1
		res, err := s.db.ExecContext(ctx, `
			UPDATE messages SET role=?, content=?, metadata=?, last_modified_at=?, etag=?, version=?
			WHERE id=? AND etag=?`,
			msg.Role, msg.Content, metaJSON, formatTime(msg.LastModifiedAt), msg.ETag, msg.Version, msg.ID, existingETag)
		if err != nil {
			return nil, "", apierrors.Wrap(apierrors.Transient, "", err, "update message")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE threads SET last_modified_at=? WHERE id=?`, formatTime(now), msg.ThreadID); err != nil {
		return nil, "", apierrors.Wrap(apierrors.Transient, "", err, "touch parent thread")
	}

	out := *msg
	return &out, store.SessionToken(msg.ETag), nil
}

func (s *Store) GetMessage(ctx context.Context, userID, threadID, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version
		FROM messages WHERE id=? AND thread_id=?`, id, threadID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "get message")
	}
	if m.IsDeleted {
		return nil, nil
	}
	if m.UserID != userID {
		return nil, apierrors.New(apierrors.Forbidden, "", "message not owned by caller")
	}
	return m, nil
}

func scanMessage(row *sql.Row) (*model.Message, error) {
	var m model.Message
	var metaJSON, createdAt, lastModifiedAt string
	if err := row.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &metaJSON, &createdAt, &lastModifiedAt, &m.IsDeleted, &m.ETag, &m.Version); err != nil {
		return nil, err
	}
	m.Metadata = unmarshalMetadata(metaJSON)
	m.CreatedAt = parseTime(createdAt)
	m.LastModifiedAt = parseTime(lastModifiedAt)
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, userID, threadID string, opts store.ListOptions) (model.Page[*model.Message], error) {
	limit := opts.Limit
	if limit <= 0 || limit > store.MaxMessagesPerPage {
		limit = store.MaxMessagesPerPage
	}
	cursor, err := store.DecodeCursor(opts.ContinuationToken)
	if err != nil {
		return model.Page[*model.Message]{}, err
	}

	where := []string{"thread_id = ?", "user_id = ?"}
	args := []any{threadID, userID}
	if !opts.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if cursor.SortKey != "" {
		where = append(where, "(created_at, id) > (?, ?)")
		args = append(args, cursor.SortKey, cursor.ID)
	}
	args = append(args, limit+1)

	query := `SELECT id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version
		FROM messages WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Page[*model.Message]{}, apierrors.Wrap(apierrors.Transient, "", err, "list messages")
	}
	defer rows.Close()

	var items []*model.Message
	for rows.Next() {
		var m model.Message
		var metaJSON, createdAt, lastModifiedAt string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &metaJSON, &createdAt, &lastModifiedAt, &m.IsDeleted, &m.ETag, &m.Version); err != nil {
			return model.Page[*model.Message]{}, apierrors.Wrap(apierrors.Transient, "", err, "scan message")
		}
		m.Metadata = unmarshalMetadata(metaJSON)
		m.CreatedAt = parseTime(createdAt)
		m.LastModifiedAt = parseTime(lastModifiedAt)
		items = append(items, &m)
	}
	if err := rows.Err(); err != nil {
		return model.Page[*model.Message]{}, apierrors.Wrap(apierrors.Transient, "", err, "iterate messages")
	}

	page := model.Page[*model.Message]{}
	if len(items) > limit {
		last := items[limit-1]
		page.ContinuationToken = store.EncodeCursor(store.Cursor{SortKey: formatTime(last.CreatedAt), ID: last.ID})
		page.HasMore = true
		items = items[:limit]
	}
	page.Items = items
	return page, nil
}

func (s *Store) UpdateMessage(ctx context.Context, userID, threadID, id string, m store.Mutation[*model.Message]) (*model.Message, store.SessionToken, error) {
	apply := func() (*model.Message, error) {
		return s.applyMessageUpdate(ctx, userID, threadID, id, m)
	}
	updated, err := apply()
	if err != nil {
		if apierrors.KindOf(err) == apierrors.Conflict && m.RetryOnce {
			m.IfMatch = ""
			updated, err = apply()
		}
		if err != nil {
			return nil, "", err
		}
	}
	return updated, store.SessionToken(updated.ETag), nil
}

func (s *Store) applyMessageUpdate(ctx context.Context, userID, threadID, id string, m store.Mutation[*model.Message]) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version
		FROM messages WHERE id=? AND thread_id=? AND is_deleted = 0`, id, threadID)
	current, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, apierrors.New(apierrors.NotFound, "", "message not found")
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "get message for update")
	}
	if current.UserID != userID {
		return nil, apierrors.New(apierrors.Forbidden, "", "message not owned by caller")
	}
	if m.IfMatch != "" && m.IfMatch != current.ETag {
		return nil, apierrors.New(apierrors.Conflict, "", "etag mismatch")
	}

	updated := m.Apply(*current)
	updated.ID = current.ID
	updated.ThreadID = current.ThreadID
	updated.UserID = current.UserID
	updated.CreatedAt = current.CreatedAt
	updated.LastModifiedAt = time.Now().UTC()
	updated.ETag = newETag()
	updated.Version = current.Version + 1

	metaJSON, err := marshalMetadata(updated.Metadata)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Invalid, "", err, "marshal message metadata")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content=?, metadata=?, last_modified_at=?, etag=?, version=?
		WHERE id=? AND etag=?`,
		updated.Content, metaJSON, formatTime(updated.LastModifiedAt), updated.ETag, updated.Version, id, current.ETag)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "update message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apierrors.New(apierrors.Conflict, "", "etag mismatch")
	}
	out := updated
	return &out, nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, userID, threadID, id string, ifMatch string) (store.SessionToken, error) {
	etag := newETag()
	query := `UPDATE messages SET is_deleted=1, last_modified_at=?, etag=?, version=version+1 WHERE id=? AND thread_id=? AND user_id=?`
	args := []any{formatTime(time.Now()), etag, id, threadID, userID}
	if ifMatch != "" {
		query += " AND etag=?"
		args = append(args, ifMatch)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", apierrors.Wrap(apierrors.Transient, "", err, "soft delete message")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if ifMatch != "" {
			return "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
		return "", apierrors.New(apierrors.NotFound, "", "message not found")
	}
	return store.SessionToken(etag), nil
}

func (s *Store) HardDeleteMessage(ctx context.Context, userID, threadID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=? AND thread_id=? AND user_id=?`, id, threadID, userID)
	if err != nil {
		return apierrors.Wrap(apierrors.Transient, "", err, "hard delete message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.NotFound, "", "message not found")
	}
	return nil
}

func (s *Store) Count(ctx context.Context, userID, threadID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id=? AND user_id=? AND is_deleted=0`, threadID, userID).Scan(&n)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Transient, "", err, "count messages")
	}
	return n, nil
}

func (s *Store) GetLast(ctx context.Context, userID, threadID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version
		FROM messages WHERE thread_id=? AND user_id=? AND is_deleted=0
		ORDER BY created_at DESC, id DESC LIMIT 1`, threadID, userID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "get last message")
	}
	return m, nil
}

func (s *Store) BulkUpsert(ctx context.Context, msgs []*model.Message) error {
	for _, m := range msgs {
		if _, _, err := s.Upsert(ctx, m, ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, userID, threadID string, ids []string) error {
	for _, id := range ids {
		if err := s.HardDeleteMessage(ctx, userID, threadID, id); err != nil {
			return err
		}
	}
	return nil
}

// translateWriteErr maps a unique-constraint violation to Conflict;
// anything else is Transient.
func translateWriteErr(err error, msg string) error {
	if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
		return apierrors.Wrap(apierrors.Conflict, "", err, msg)
	}
	return apierrors.Wrap(apierrors.Transient, "", err, msg)
}

var _ store.Repository = (*Store)(nil)
