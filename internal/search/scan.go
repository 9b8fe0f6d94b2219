package search

import (
	"context"
	"strings"

	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

type entityFinder interface {
	FindEntities(ctx context.Context, kind workflow.Kind, filter store.Filter) ([]store.Entity, error)
}

// Scan is the Searcher used without Postgres: a case-insensitive substring
// match over the store's filtered listing.
type Scan struct {
	finder entityFinder
}

func NewScan(finder entityFinder) *Scan {
	return &Scan{finder: finder}
}

func (s *Scan) Healthy() bool {
	return true
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	kinds := []workflow.Kind{workflow.KindTask, workflow.KindMilestone}
	if q.Kind != "" {
		kinds = []workflow.Kind{q.Kind}
	}

	var matches []Result
	for _, kind := range kinds {
		items, err := s.finder.FindEntities(ctx, kind, store.Filter{
			Status:     q.Status,
			Team:       q.Team,
			AssignedTo: q.AssignedTo,
		})
		if err != nil {
			return nil, 0, err
		}
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Title), needle) || strings.Contains(strings.ToLower(item.Description), needle) {
				matches = append(matches, Result{
					Kind:       item.Kind,
					ID:         item.ID,
					Title:      item.Title,
					Snippet:    item.Description,
					Status:     item.Status,
					Team:       item.Team,
					AssignedTo: item.AssignedTo,
				})
			}
		}
	}

	total := len(matches)
	start := q.offset()
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

// LoadAllRecords returns the store's work items for a full reindex.
func (s *Scan) LoadAllRecords(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	for _, kind := range []workflow.Kind{workflow.KindTask, workflow.KindMilestone} {
		items, err := s.finder.FindEntities(ctx, kind, store.Filter{})
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			records = append(records, RecordFromEntity(item))
		}
	}
	return records, nil
}
