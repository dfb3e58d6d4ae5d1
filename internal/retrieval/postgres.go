package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pgvector/pgvector-go"

	"github.com/hrygo/chatcore/internal/apierrors"
)

// Postgres is a pgvector-backed Provider. It expects a table (name
// configurable) with at minimum columns id, content, metadata (jsonb),
// embedding (vector), user_id, thread_id.
type Postgres struct {
	db    *sql.DB
	table string
}

// NewPostgres constructs a Postgres retrieval Provider against table,
// an existing pgvector-enabled table.
func NewPostgres(db *sql.DB, table string) *Postgres {
	return &Postgres{db: db, table: table}
}

// Search runs a cosine-distance nearest-neighbour query, following the
// teacher's episodic-memory pattern: `1 - (embedding <=> $1) AS score`
// ordered by `embedding <=> $1` ascending (closest first), LIMIT k.
func (p *Postgres) Search(ctx context.Context, queryVector []float32, k int, opts SearchOptions) ([]Document, error) {
	if k <= 0 {
		k = DefaultK
	}
	vec := pgvector.NewVector(queryVector)

	query := `
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM ` + p.table + `
		WHERE ($2 = '' OR user_id = $2)
		  AND ($3 = '' OR thread_id = $3)
		ORDER BY embedding <=> $1
		LIMIT $4`

	rows, err := p.db.QueryContext(ctx, query, vec, opts.UserID, opts.ThreadID, k)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "retrieval query failed")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d        Document
			metaJSON []byte
		)
		if err := rows.Scan(&d.ID, &d.Content, &metaJSON, &d.Score); err != nil {
			return nil, apierrors.Wrap(apierrors.UpstreamFatal, "", err, "retrieval row scan failed")
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &d.Metadata)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.Wrap(apierrors.Transient, "", err, "retrieval rows iteration failed")
	}
	return docs, nil
}

var _ Provider = (*Postgres)(nil)
