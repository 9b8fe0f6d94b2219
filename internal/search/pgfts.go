package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskflow/api/internal/workflow"
)

// PgFTS implements Searcher with PostgreSQL full-text search over work_items.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the service is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := []string{"fts @@ " + tsQuery}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("kind", string(q.Kind))
	add("status", string(q.Status))
	add("team_id", q.Team)
	add("assigned_to", q.AssignedTo)
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM work_items WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT kind, id, title,
			ts_headline('english', description, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			status, team_id, assigned_to
		FROM work_items
		WHERE %s
		ORDER BY ts_rank(fts, %s) DESC, updated_at DESC
		LIMIT %d OFFSET %d`, tsQuery, whereSQL, tsQuery, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind, status string
		if err := rows.Scan(&kind, &r.ID, &r.Title, &r.Snippet, &status, &r.Team, &r.AssignedTo); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Kind = workflow.Kind(kind)
		r.Status = workflow.State(status)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every work item for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, title, description, status, team_id, assigned_to, version, EXTRACT(EPOCH FROM updated_at)::bigint
		FROM work_items
	`)
	if err != nil {
		return nil, fmt.Errorf("load work items: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Kind, &r.Title, &r.Description, &r.Status, &r.Team, &r.AssignedTo, &r.Version, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return records, nil
}
