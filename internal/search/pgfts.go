package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// It searches the newest record of each lineage, so superseded revisions
// never surface as separate hits.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const latestPerLineage = `
	SELECT DISTINCT ON (correlation_tag)
		correlation_tag, payload
	FROM records
	ORDER BY correlation_tag, published_at DESC, record_id DESC`

// Search runs plainto_tsquery over the latest record per lineage, with
// ts_headline for snippets and ts_rank ordering.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	where := fmt.Sprintf(
		"to_tsvector('english', coalesce(payload->>'title','') || ' ' || coalesce(payload->>'bodyText','')) @@ %s",
		tsQuery)
	if q.FilterStatus != "" {
		where += " AND (CASE WHEN jsonb_array_length(coalesce(payload->'signatures','[]'::jsonb)) >= (payload->>'signersRequired')::int THEN 'complete' ELSE 'pending' END) = $2"
		args = append(args, q.FilterStatus)
	}

	base := fmt.Sprintf(`
		SELECT correlation_tag,
			coalesce(payload->>'title','') AS title,
			ts_headline('english', coalesce(payload->>'bodyText',''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			CASE WHEN jsonb_array_length(coalesce(payload->'signatures','[]'::jsonb)) >= (payload->>'signersRequired')::int
				THEN 'complete' ELSE 'pending' END AS status,
			ts_rank(to_tsvector('english', coalesce(payload->>'title','') || ' ' || coalesce(payload->>'bodyText','')), %s) AS rank
		FROM (%s) latest
		WHERE %s`, tsQuery, tsQuery, latestPerLineage, where)

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", base)
	dataSQL := fmt.Sprintf(`SELECT correlation_tag, title, snippet, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, base, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.CorrelationTag, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllAgreements returns the latest record of every lineage for full
// reindexing into Meilisearch.
func (p *PgFTS) LoadAllAgreements(ctx context.Context) ([]AgreementRecord, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT correlation_tag,
			coalesce(payload->>'title','') AS title,
			coalesce(payload->>'bodyText','') AS body,
			CASE WHEN jsonb_array_length(coalesce(payload->'signatures','[]'::jsonb)) >= (payload->>'signersRequired')::int
				THEN 'complete' ELSE 'pending' END AS status
		FROM (%s) latest`, latestPerLineage))
	if err != nil {
		return nil, fmt.Errorf("load agreements: %w", err)
	}
	defer rows.Close()

	agreements := make([]AgreementRecord, 0)
	for rows.Next() {
		var a AgreementRecord
		if err := rows.Scan(&a.CorrelationTag, &a.Title, &a.Body, &a.Status); err != nil {
			return nil, fmt.Errorf("scan agreement: %w", err)
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agreements: %w", err)
	}

	return agreements, nil
}
