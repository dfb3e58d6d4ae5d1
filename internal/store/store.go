// Package store defines the Repository contract (C1): the durable
// store for threads and messages, with ETag optimistic concurrency,
// soft delete, continuation-token pagination, and per-user
// partitioning. Concrete drivers live in the memory, postgres, and
// sqlite subpackages.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/model"
)

// RetryPolicy describes a backoff schedule for Transient failures: base
// 200ms, factor 2, cap 5s, max 3 attempts. Nothing in this module
// retries with it; BackoffDelay only computes the delays.
var RetryPolicy = struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	MaxAttempt int
}{
	Base:       200 * time.Millisecond,
	Factor:     2,
	Cap:        5 * time.Second,
	MaxAttempt: 3,
}

// BackoffDelay returns the delay before attempt n (1-based) under
// RetryPolicy.
func BackoffDelay(attempt int) time.Duration {
	d := RetryPolicy.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * RetryPolicy.Factor)
		if d > RetryPolicy.Cap {
			return RetryPolicy.Cap
		}
	}
	return d
}

// Page size caps.
const (
	MaxThreadsPerPage  = 50
	MaxMessagesPerPage = 100
)

// ListOptions control a paginated thread or message listing.
type ListOptions struct {
	Limit             int
	ContinuationToken string
	IncludeDeleted    bool
}

// Mutation describes an optimistic-concurrency-guarded write. IfMatch,
// when non-empty, must equal the entity's current ETag or the call
// fails with Conflict. RetryOnce requests a single bounded automatic
// retry: on conflict, refetch, re-apply Apply to the fresh entity, and
// write once more without re-checking IfMatch; a second conflict is
// returned as-is (nested retry is forbidden).
type Mutation[T any] struct {
	IfMatch   string
	RetryOnce bool
	Apply     func(current T) T
}

// SessionToken is the read-your-writes token returned by a successful
// mutating write. A memory or single-node SQL implementation may
// return an opaque counter; a distributed backend maps it onto its
// own session/causal token.
type SessionToken string

// Cursor is the decoded form of a continuation token: the value and id
// of the last item seen, sufficient to resume a deterministic ordered
// scan.
type Cursor struct {
	SortKey string `json:"k"`
	ID      string `json:"id"`
}

// EncodeCursor produces the opaque continuation token for c.
func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a continuation token produced by EncodeCursor. An
// empty token decodes to the zero Cursor (start of the listing).
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	if token == "" {
		return c, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, apierrors.New(apierrors.Invalid, "", "malformed continuation token")
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, apierrors.New(apierrors.Invalid, "", "malformed continuation token")
	}
	return c, nil
}

// Threads is the Repository's thread-facing contract.
type Threads interface {
	Create(ctx context.Context, t *model.Thread) (SessionToken, error)
	Get(ctx context.Context, userID, id string) (*model.Thread, error)
	Update(ctx context.Context, userID, id string, m Mutation[*model.Thread]) (*model.Thread, SessionToken, error)
	SoftDelete(ctx context.Context, userID, id string, ifMatch string) (SessionToken, error)
	Restore(ctx context.Context, userID, id string) (SessionToken, error)
	HardDelete(ctx context.Context, userID, id string) error
	List(ctx context.Context, userID string, opts ListOptions) (model.Page[*model.Thread], error)
	// Touch bumps lastModifiedAt without otherwise changing the thread,
	// used when a child message write should surface the thread higher
	// in a by-recency listing.
	Touch(ctx context.Context, userID, id string) (SessionToken, error)
}

// Messages is the Repository's message-facing contract. Its methods
// are suffixed Message/Messages to stay distinct from the Threads
// contract: Repository embeds both, and Go forbids embedding two
// interfaces that declare the same method name with different
// signatures.
type Messages interface {
	// Upsert writes msg by id: insert if absent, otherwise apply the
	// same optimistic-concurrency rules as Update. Used both for the
	// initial user turn and for the repeated partial-content writes
	// during streaming.
	Upsert(ctx context.Context, msg *model.Message, ifMatch string) (*model.Message, SessionToken, error)
	GetMessage(ctx context.Context, userID, threadID, id string) (*model.Message, error)
	ListMessages(ctx context.Context, userID, threadID string, opts ListOptions) (model.Page[*model.Message], error)
	UpdateMessage(ctx context.Context, userID, threadID, id string, m Mutation[*model.Message]) (*model.Message, SessionToken, error)
	SoftDeleteMessage(ctx context.Context, userID, threadID, id string, ifMatch string) (SessionToken, error)
	HardDeleteMessage(ctx context.Context, userID, threadID, id string) error
	Count(ctx context.Context, userID, threadID string) (int, error)
	GetLast(ctx context.Context, userID, threadID string) (*model.Message, error)
	BulkUpsert(ctx context.Context, msgs []*model.Message) error
	BulkDelete(ctx context.Context, userID, threadID string, ids []string) error
}

// Repository composes Threads and Messages into the single dependency
// the Coordinator holds.
type Repository interface {
	Threads
	Messages
}
