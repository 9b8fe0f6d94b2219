package search

import (
	"context"

	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Kind       workflow.Kind  `json:"kind"`
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Snippet    string         `json:"snippet"`
	Status     workflow.State `json:"status"`
	Team       string         `json:"team"`
	AssignedTo string         `json:"assignedTo"`
}

// Query describes a search request. Team and AssignedTo restrict results to
// what the requesting actor may see; empty means unrestricted.
type Query struct {
	Text       string
	Kind       workflow.Kind
	Status     workflow.State
	Team       string
	AssignedTo string
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data indexed for a task or milestone.
type Record struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Team        string `json:"team"`
	AssignedTo  string `json:"assignedTo"`
	Version     int64  `json:"version"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func RecordFromEntity(item store.Entity) Record {
	return Record{
		ID:          item.ID,
		Kind:        string(item.Kind),
		Title:       item.Title,
		Description: item.Description,
		Status:      string(item.Status),
		Team:        item.Team,
		AssignedTo:  item.AssignedTo,
		Version:     item.Version,
		UpdatedAt:   item.UpdatedAt.Unix(),
	}
}
