package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	log "github.com/sirupsen/logrus"

	"taskflow/api/internal/workflow"
)

const idxWorkItems = "taskflow_work_items"

var healthCheckInterval = 10 * time.Second

// Meili implements Searcher and indexing via Meilisearch.
type Meili struct {
	client    meili.ServiceManager
	logger    *log.Logger
	interval  time.Duration
	healthy   atomic.Bool
	recovered atomic.Pointer[func()]
	done      chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not fatal: the health loop picks it up later.
func NewMeili(url, apiKey string, logger *log.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:   client,
		logger:   logger,
		interval: healthCheckInterval,
		done:     make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.WithError(err).WithField("url", url).Warn("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxWorkItems,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.WithError(err).Debug("search: create index (may already exist)")
	}

	index := m.client.Index(idxWorkItems)
	filterable := []interface{}{"kind", "status", "team", "assignedTo"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.WithError(err).Warn("search: update filterable attributes")
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.WithError(err).Warn("search: update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
				if fn := m.recovered.Load(); fn != nil {
					(*fn)()
				}
			}
		}
	}
}

// OnRecover registers fn to run each time the health loop sees Meilisearch
// come back after being unhealthy.
func (m *Meili) OnRecover(fn func()) {
	m.recovered.Store(&fn)
}

func (m *Meili) markUnhealthy() {
	m.healthy.Store(false)
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxWorkItems,
		Query:                 q.Text,
		Limit:                 int64(q.limit()),
		Offset:                int64(q.offset()),
		AttributesToHighlight: []string{"title", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.markUnhealthy()
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func meiliFilters(q Query) []string {
	var filters []string
	add := func(attr, value string) {
		if value != "" {
			filters = append(filters, fmt.Sprintf("%s = %q", attr, value))
		}
	}
	add("kind", string(q.Kind))
	add("status", string(q.Status))
	add("team", q.Team)
	add("assignedTo", q.AssignedTo)
	return filters
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		Kind:       workflow.Kind(decodeString(hit, "kind")),
		ID:         decodeString(hit, "id"),
		Title:      firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:    firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		Status:     workflow.State(decodeString(hit, "status")),
		Team:       decodeString(hit, "team"),
		AssignedTo: decodeString(hit, "assignedTo"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexRecord(r Record) error {
	_, err := m.client.Index(idxWorkItems).AddDocuments([]Record{r}, nil)
	return err
}

func (m *Meili) IndexRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxWorkItems).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteRecord(id string) error {
	_, err := m.client.Index(idxWorkItems).DeleteDocument(id, nil)
	return err
}
