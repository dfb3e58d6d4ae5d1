// Package postgres implements store.Repository against PostgreSQL:
// lib/pq, dynamic WHERE clause building via a placeholder helper, and
// updates that read the current row, then write it back only if its etag
// is unchanged. No RETURNING clauses are used.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/store"
)

// bulkFanOut bounds how many bulk-operation items run concurrently
// against the connection pool.
const bulkFanOut = 8

// Store is a postgres-backed store.Repository.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open postgres connection")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "ping postgres")
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying connection pool so callers can build
// companion drivers (retrieval.Postgres) against the same database.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the threads and messages tables if absent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			is_bookmarked BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB,
			trace_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			last_modified_at TIMESTAMPTZ NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			etag TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_user_recency ON threads (user_id, last_modified_at DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			last_modified_at TIMESTAMPTZ NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			etag TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages (thread_id, created_at ASC, id ASC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apierrors.Wrap(apierrors.UpstreamFatal, "", err, "migrate postgres schema")
		}
	}
	return nil
}

func placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func newETag() string { return fmt.Sprintf("%x", time.Now().UnixNano()) }

func marshalMetadata(m model.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMetadata(b []byte) model.Metadata {
	if len(b) == 0 {
		return nil
	}
	var m model.Metadata
	_ = json.Unmarshal(b, &m)
	return m
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.UserID, t.Title, t.IsBookmarked, metaJSON, t.TraceID, t.CreatedAt, t.LastModifiedAt, t.IsDeleted, t.ETag, t.Version)
	if err != nil {
		return "", translateWriteErr(err, "create thread")
	}
	return store.SessionToken(t.ETag), nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (*model.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, is_bookmarked, metadata, trace_id, created_at, last_modified_at, is_deleted, etag, version
		FROM threads WHERE id = $1`, id)
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
	var metaJSON []byte
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.IsBookmarked, &metaJSON, &t.TraceID, &t.CreatedAt, &t.LastModifiedAt, &t.IsDeleted, &t.ETag, &t.Version); err != nil {
		return nil, err
	}
	t.Metadata = unmarshalMetadata(metaJSON)
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
		FROM threads WHERE id = $1 AND is_deleted = FALSE`, id)
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
		UPDATE threads SET title=$1, is_bookmarked=$2, metadata=$3, last_modified_at=$4, etag=$5, version=$6
		WHERE id=$7 AND etag=$8`,
		updated.Title, updated.IsBookmarked, metaJSON, updated.LastModifiedAt, updated.ETag, updated.Version, id, current.ETag)
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
	query := `UPDATE threads SET is_deleted=$1, last_modified_at=$2, etag=$3, version=version+1 WHERE id=$4 AND user_id=$5`
	args := []any{deleted, time.Now().UTC(), etag, id, userID}
	if ifMatch != "" {
		query += " AND etag=$6"
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id=$1 AND user_id=$2`, id, userID)
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
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET last_modified_at=$1 WHERE id=$2 AND user_id=$3`, now, id, userID)
	if err != nil {
		return "", apierrors.Wrap(apierrors.Transient, "", err, "touch thread")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	return store.SessionToken(now.Format(time.RFC3339Nano)), nil
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

	where := []string{"user_id = $1"}
	args := []any{userID}
	if !opts.IncludeDeleted {
		where = append(where, "is_deleted = FALSE")
	}
	if cursor.SortKey != "" {
		args = append(args, cursor.SortKey, cursor.ID)
		where = append(where, fmt.Sprintf("(last_modified_at, id) < (%s, %s)", placeholder(len(args)-1), placeholder(len(args))))
	}
	args = append(args, limit+1)

	query := `SELECT id, user_id, title, is_bookmarked, metadata, trace_id, created_at, last_modified_at, is_deleted, etag, version
		FROM threads WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_modified_at DESC, id DESC LIMIT ` + placeholder(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Page[*model.Thread]{}, apierrors.Wrap(apierrors.Transient, "", err, "list threads")
	}
	defer rows.Close()

	var items []*model.Thread
	for rows.Next() {
		var t model.Thread
		var metaJSON []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.IsBookmarked, &metaJSON, &t.TraceID, &t.CreatedAt, &t.LastModifiedAt, &t.IsDeleted, &t.ETag, &t.Version); err != nil {
			return model.Page[*model.Thread]{}, apierrors.Wrap(apierrors.Transient, "", err, "scan thread")
		}
		t.Metadata = unmarshalMetadata(metaJSON)
		items = append(items, &t)
	}
	if err := rows.Err(); err != nil {
		return model.Page[*model.Thread]{}, apierrors.Wrap(apierrors.Transient, "", err, "iterate threads")
	}

	page := model.Page[*model.Thread]{}
	if len(items) > limit {
		last := items[limit-1]
		page.ContinuationToken = store.EncodeCursor(store.Cursor{SortKey: last.LastModifiedAt.Format(time.RFC3339Nano), ID: last.ID})
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

	row := s.db.QueryRowContext(ctx, `SELECT etag, created_at, version FROM messages WHERE id=$1`, msg.ID)
	var existingETag string
	var createdAt time.Time
	var version int64
	err = row.Scan(&existingETag, &createdAt, &version)

	switch {
	case err == sql.ErrNoRows:
		msg.CreatedAt = now
		msg.LastModifiedAt = now
		msg.ETag = newETag()
		msg.Version = 1
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			msg.ID, msg.ThreadID, msg.UserID, msg.Role, msg.Content, metaJSON, msg.CreatedAt, msg.LastModifiedAt, msg.IsDeleted, msg.ETag, msg.Version)
		if err != nil {
			return nil, "", translateWriteErr(err, "insert message")
		}
	case err != nil:
		return nil, "", apierrors.Wrap(apierrors.Transient, "", err, "get message for upsert")
	default:
		if ifMatch != "" && ifMatch != existingETag {
			return nil, "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
		msg.CreatedAt = createdAt
		msg.LastModifiedAt = now
		msg.ETag = newETag()
		msg.Version = version + 1
		res, err := s.db.ExecContext(ctx, `
			UPDATE messages SET role=$1, content=$2, metadata=$3, last_modified_at=$4, etag=$5, version=$6
			WHERE id=$7 AND etag=$8`,
			msg.Role, msg.Content, metaJSON, msg.LastModifiedAt, msg.ETag, msg.Version, msg.ID, existingETag)
		if err != nil {
			return nil, "", apierrors.Wrap(apierrors.Transient, "", err, "update message")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE threads SET last_modified_at=$1 WHERE id=$2`, now, msg.ThreadID); err != nil {
		return nil, "", apierrors.Wrap(apierrors.Transient, "", err, "touch parent thread")
	}

	out := *msg
	return &out, store.SessionToken(msg.ETag), nil
}

func (s *Store) GetMessage(ctx context.Context, userID, threadID, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version
		FROM messages WHERE id=$1 AND thread_id=$2`, id, threadID)
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
	var metaJSON []byte
	if err := row.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt, &m.LastModifiedAt, &m.IsDeleted, &m.ETag, &m.Version); err != nil {
		return nil, err
	}
	m.Metadata = unmarshalMetadata(metaJSON)
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

	where := []string{"thread_id = $1", "user_id = $2"}
	args := []any{threadID, userID}
	if !opts.IncludeDeleted {
		where = append(where, "is_deleted = FALSE")
	}
	if cursor.SortKey != "" {
		args = append(args, cursor.SortKey, cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) > (%s, %s)", placeholder(len(args)-1), placeholder(len(args))))
	}
	args = append(args, limit+1)

	query := `SELECT id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version
		FROM messages WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at ASC, id ASC LIMIT ` + placeholder(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Page[*model.Message]{}, apierrors.Wrap(apierrors.Transient, "", err, "list messages")
	}
	defer rows.Close()

	var items []*model.Message
	for rows.Next() {
		var m model.Message
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt, &m.LastModifiedAt, &m.IsDeleted, &m.ETag, &m.Version); err != nil {
			return model.Page[*model.Message]{}, apierrors.Wrap(apierrors.Transient, "", err, "scan message")
		}
		m.Metadata = unmarshalMetadata(metaJSON)
		items = append(items, &m)
	}
	if err := rows.Err(); err != nil {
		return model.Page[*model.Message]{}, apierrors.Wrap(apierrors.Transient, "", err, "iterate messages")
	}

	page := model.Page[*model.Message]{}
	if len(items) > limit {
		last := items[limit-1]
		page.ContinuationToken = store.EncodeCursor(store.Cursor{SortKey: last.CreatedAt.Format(time.RFC3339Nano), ID: last.ID})
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
		FROM messages WHERE id=$1 AND thread_id=$2 AND is_deleted = FALSE`, id, threadID)
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
		UPDATE messages SET content=$1, metadata=$2, last_modified_at=$3, etag=$4, version=$5
		WHERE id=$6 AND etag=$7`,
		updated.Content, metaJSON, updated.LastModifiedAt, updated.ETag, updated.Version, id, current.ETag)
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
	query := `UPDATE messages SET is_deleted=TRUE, last_modified_at=$1, etag=$2, version=version+1 WHERE id=$3 AND thread_id=$4 AND user_id=$5`
	args := []any{time.Now().UTC(), etag, id, threadID, userID}
	if ifMatch != "" {
		query += " AND etag=$6"
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND thread_id=$2 AND user_id=$3`, id, threadID, userID)
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
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id=$1 AND user_id=$2 AND is_deleted=FALSE`, threadID, userID).Scan(&n)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Transient, "", err, "count messages")
	}
	return n, nil
}

func (s *Store) GetLast(ctx context.Context, userID, threadID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_id, role, content, metadata, created_at, last_modified_at, is_deleted, etag, version
		FROM messages WHERE thread_id=$1 AND user_id=$2 AND is_deleted=FALSE
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

// BulkUpsert fans out across the connection pool with bounded
// concurrency, since each Upsert checks out its own connection and
// postgres (unlike the single-connection sqlite driver) has a pool to
// exercise.
func (s *Store) BulkUpsert(ctx context.Context, msgs []*model.Message) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkFanOut)
	for _, m := range msgs {
		m := m
		g.Go(func() error {
			_, _, err := s.Upsert(ctx, m, "")
			return err
		})
	}
	return g.Wait()
}

func (s *Store) BulkDelete(ctx context.Context, userID, threadID string, ids []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkFanOut)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.HardDeleteMessage(ctx, userID, threadID, id)
		})
	}
	return g.Wait()
}

// translateWriteErr maps a unique-constraint violation (pq error code
// 23505) to Conflict; anything else is Transient.
func translateWriteErr(err error, msg string) error {
	if strings.Contains(err.Error(), "23505") || strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
		return apierrors.Wrap(apierrors.Conflict, "", err, msg)
	}
	return apierrors.Wrap(apierrors.Transient, "", err, msg)
}

var _ store.Repository = (*Store)(nil)
