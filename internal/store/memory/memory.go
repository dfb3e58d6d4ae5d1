// Package memory implements store.Repository in-process, backed by
// mutex-guarded maps. It is the reference implementation exercised by
// the coordinator's unit tests and is adequate for single-node dev use;
// postgres and sqlite provide durable backends with the same contract.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/store"
)

// Store is an in-memory store.Repository.
type Store struct {
	mu       sync.RWMutex
	threads  map[string]*model.Thread            // id -> thread
	messages map[string]map[string]*model.Message // threadId -> id -> message
	writes   atomic.Int64
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		threads:  make(map[string]*model.Thread),
		messages: make(map[string]map[string]*model.Message),
	}
}

func newETag() string { return uuid.NewString() }

func (s *Store) nextSessionToken() store.SessionToken {
	n := s.writes.Add(1)
	return store.SessionToken(uuid.NewString() + "-" + itoa(n))
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// --- Threads ---

func (s *Store) Create(ctx context.Context, t *model.Thread) (store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[t.ID]; exists {
		return "", apierrors.New(apierrors.Conflict, "", "thread already exists")
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.LastModifiedAt = now
	t.ETag = newETag()
	t.Version = 1
	clone := *t
	clone.Metadata = t.Metadata.Clone()
	s.threads[t.ID] = &clone
	s.messages[t.ID] = make(map[string]*model.Message)
	return s.nextSessionToken(), nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok || t.IsDeleted {
		return nil, nil
	}
	if t.UserID != userID {
		return nil, apierrors.New(apierrors.Forbidden, "", "thread not owned by caller")
	}
	out := *t
	out.Metadata = t.Metadata.Clone()
	return &out, nil
}

func (s *Store) getLocked(userID, id string, allowDeleted bool) (*model.Thread, error) {
	t, ok := s.threads[id]
	if !ok {
		return nil, apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	if t.UserID != userID {
		return nil, apierrors.New(apierrors.Forbidden, "", "thread not owned by caller")
	}
	if t.IsDeleted && !allowDeleted {
		return nil, apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	return t, nil
}

func (s *Store) Update(ctx context.Context, userID, id string, m store.Mutation[*model.Thread]) (*model.Thread, store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(userID, id, false)
	if err != nil {
		return nil, "", err
	}

	apply := func() (*model.Thread, error) {
		if m.IfMatch != "" && m.IfMatch != t.ETag {
			return nil, apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
		updated := m.Apply(cloneThread(t))
		updated.ID = t.ID
		updated.UserID = t.UserID
		updated.CreatedAt = t.CreatedAt
		updated.LastModifiedAt = time.Now().UTC()
		updated.ETag = newETag()
		updated.Version = t.Version + 1
		s.threads[id] = updated
		return updated, nil
	}

	updated, err := apply()
	if err != nil {
		if apierrors.KindOf(err) == apierrors.Conflict && m.RetryOnce {
			t = s.threads[id]
			m.IfMatch = ""
			updated, err = apply()
		}
		if err != nil {
			return nil, "", err
		}
	}

	out := cloneThread(updated)
	return out, s.nextSessionToken(), nil
}

func cloneThread(t *model.Thread) *model.Thread {
	out := *t
	out.Metadata = t.Metadata.Clone()
	return &out
}

func (s *Store) SoftDelete(ctx context.Context, userID, id string, ifMatch string) (store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(userID, id, false)
	if err != nil {
		return "", err
	}
	if ifMatch != "" && ifMatch != t.ETag {
		return "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
	}
	t.IsDeleted = true
	t.LastModifiedAt = time.Now().UTC()
	t.ETag = newETag()
	t.Version++
	return s.nextSessionToken(), nil
}

func (s *Store) Restore(ctx context.Context, userID, id string) (store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return "", apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	if t.UserID != userID {
		return "", apierrors.New(apierrors.Forbidden, "", "thread not owned by caller")
	}
	t.IsDeleted = false
	t.LastModifiedAt = time.Now().UTC()
	t.ETag = newETag()
	t.Version++
	return s.nextSessionToken(), nil
}

func (s *Store) HardDelete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return apierrors.New(apierrors.NotFound, "", "thread not found")
	}
	if t.UserID != userID {
		return apierrors.New(apierrors.Forbidden, "", "thread not owned by caller")
	}
	delete(s.threads, id)
	delete(s.messages, id) // cascade
	return nil
}

func (s *Store) Touch(ctx context.Context, userID, id string) (store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(userID, id, true)
	if err != nil {
		return "", err
	}
	t.LastModifiedAt = time.Now().UTC()
	return s.nextSessionToken(), nil
}

func (s *Store) List(ctx context.Context, userID string, opts store.ListOptions) (model.Page[*model.Thread], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 || limit > store.MaxThreadsPerPage {
		limit = store.MaxThreadsPerPage
	}
	cursor, err := store.DecodeCursor(opts.ContinuationToken)
	if err != nil {
		return model.Page[*model.Thread]{}, err
	}

	var all []*model.Thread
	for _, t := range s.threads {
		if t.UserID != userID {
			continue
		}
		if t.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastModifiedAt.Equal(all[j].LastModifiedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].LastModifiedAt.After(all[j].LastModifiedAt)
	})

	start := len(all)
	if cursor.SortKey == "" {
		start = 0
	} else {
		for i, t := range all {
			key := t.LastModifiedAt.Format(time.RFC3339Nano)
			if key == cursor.SortKey && t.ID == cursor.ID {
				start = i + 1
				break
			}
		}
	}

	page := model.Page[*model.Thread]{}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	for _, t := range all[start:end] {
		page.Items = append(page.Items, cloneThread(t))
	}
	if end < len(all) {
		last := all[end-1]
		page.ContinuationToken = store.EncodeCursor(store.Cursor{
			SortKey: last.LastModifiedAt.Format(time.RFC3339Nano),
			ID:      last.ID,
		})
		page.HasMore = true
	}
	return page, nil
}

// --- Messages ---

func (s *Store) Upsert(ctx context.Context, msg *model.Message, ifMatch string) (*model.Message, store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.getLocked(msg.UserID, msg.ThreadID, true)
	if err != nil {
		return nil, "", err
	}

	byID, ok := s.messages[msg.ThreadID]
	if !ok {
		byID = make(map[string]*model.Message)
		s.messages[msg.ThreadID] = byID
	}

	existing, exists := byID[msg.ID]
	now := time.Now().UTC()

	if !exists {
		out := *msg
		out.Metadata = msg.Metadata.Clone()
		out.CreatedAt = now
		out.LastModifiedAt = now
		out.ETag = newETag()
		out.Version = 1
		byID[msg.ID] = &out
	} else {
		if ifMatch != "" && ifMatch != existing.ETag {
			return nil, "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
		out := *msg
		out.Metadata = msg.Metadata.Clone()
		out.CreatedAt = existing.CreatedAt
		out.LastModifiedAt = now
		out.ETag = newETag()
		out.Version = existing.Version + 1
		byID[msg.ID] = &out
	}

	thread.LastModifiedAt = now

	saved := *byID[msg.ID]
	saved.Metadata = byID[msg.ID].Metadata.Clone()
	return &saved, s.nextSessionToken(), nil
}

func (s *Store) GetMessage(ctx context.Context, userID, threadID, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.messages[threadID]
	if !ok {
		return nil, nil
	}
	m, ok := byID[id]
	if !ok || m.IsDeleted {
		return nil, nil
	}
	if m.UserID != userID {
		return nil, apierrors.New(apierrors.Forbidden, "", "message not owned by caller")
	}
	out := *m
	out.Metadata = m.Metadata.Clone()
	return &out, nil
}

func (s *Store) ListMessages(ctx context.Context, userID, threadID string, opts store.ListOptions) (model.Page[*model.Message], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 || limit > store.MaxMessagesPerPage {
		limit = store.MaxMessagesPerPage
	}
	cursor, err := store.DecodeCursor(opts.ContinuationToken)
	if err != nil {
		return model.Page[*model.Message]{}, err
	}

	byID := s.messages[threadID]
	var all []*model.Message
	for _, m := range byID {
		if m.UserID != userID {
			continue
		}
		if m.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	start := len(all)
	if cursor.SortKey == "" {
		start = 0
	} else {
		for i, m := range all {
			key := m.CreatedAt.Format(time.RFC3339Nano)
			if key == cursor.SortKey && m.ID == cursor.ID {
				start = i + 1
				break
			}
		}
	}

	page := model.Page[*model.Message]{}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	for _, m := range all[start:end] {
		out := *m
		out.Metadata = m.Metadata.Clone()
		page.Items = append(page.Items, &out)
	}
	if end < len(all) {
		last := all[end-1]
		page.ContinuationToken = store.EncodeCursor(store.Cursor{
			SortKey: last.CreatedAt.Format(time.RFC3339Nano),
			ID:      last.ID,
		})
		page.HasMore = true
	}
	return page, nil
}

func (s *Store) UpdateMessage(ctx context.Context, userID, threadID, id string, m store.Mutation[*model.Message]) (*model.Message, store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.messages[threadID]
	if !ok {
		return nil, "", apierrors.New(apierrors.NotFound, "", "message not found")
	}
	existing, ok := byID[id]
	if !ok || existing.IsDeleted {
		return nil, "", apierrors.New(apierrors.NotFound, "", "message not found")
	}
	if existing.UserID != userID {
		return nil, "", apierrors.New(apierrors.Forbidden, "", "message not owned by caller")
	}

	apply := func() (*model.Message, error) {
		if m.IfMatch != "" && m.IfMatch != existing.ETag {
			return nil, apierrors.New(apierrors.Conflict, "", "etag mismatch")
		}
		updated := m.Apply(cloneMessage(existing))
		updated.ID = existing.ID
		updated.ThreadID = existing.ThreadID
		updated.UserID = existing.UserID
		updated.CreatedAt = existing.CreatedAt
		updated.LastModifiedAt = time.Now().UTC()
		updated.ETag = newETag()
		updated.Version = existing.Version + 1
		byID[id] = updated
		return updated, nil
	}

	updated, err := apply()
	if err != nil {
		if apierrors.KindOf(err) == apierrors.Conflict && m.RetryOnce {
			existing = byID[id]
			m.IfMatch = ""
			updated, err = apply()
		}
		if err != nil {
			return nil, "", err
		}
	}

	return cloneMessage(updated), s.nextSessionToken(), nil
}

func cloneMessage(m *model.Message) *model.Message {
	out := *m
	out.Metadata = m.Metadata.Clone()
	return &out
}

func (s *Store) SoftDeleteMessage(ctx context.Context, userID, threadID, id string, ifMatch string) (store.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.messages[threadID]
	if !ok {
		return "", apierrors.New(apierrors.NotFound, "", "message not found")
	}
	m, ok := byID[id]
	if !ok {
		return "", apierrors.New(apierrors.NotFound, "", "message not found")
	}
	if m.UserID != userID {
		return "", apierrors.New(apierrors.Forbidden, "", "message not owned by caller")
	}
	if ifMatch != "" && ifMatch != m.ETag {
		return "", apierrors.New(apierrors.Conflict, "", "etag mismatch")
	}
	m.IsDeleted = true
	m.LastModifiedAt = time.Now().UTC()
	m.ETag = newETag()
	m.Version++
	return s.nextSessionToken(), nil
}

func (s *Store) HardDeleteMessage(ctx context.Context, userID, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.messages[threadID]
	if !ok {
		return apierrors.New(apierrors.NotFound, "", "message not found")
	}
	m, ok := byID[id]
	if !ok {
		return apierrors.New(apierrors.NotFound, "", "message not found")
	}
	if m.UserID != userID {
		return apierrors.New(apierrors.Forbidden, "", "message not owned by caller")
	}
	delete(byID, id)
	return nil
}

func (s *Store) Count(ctx context.Context, userID, threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages[threadID] {
		if m.UserID == userID && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetLast(ctx context.Context, userID, threadID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *model.Message
	for _, m := range s.messages[threadID] {
		if m.UserID != userID || m.IsDeleted {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, nil
	}
	return cloneMessage(last), nil
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

var _ store.Repository = (*Store)(nil)
