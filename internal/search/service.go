package search

import (
	"context"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskflow/api/internal/store"
)

const (
	indexBuffer    = 1024
	reindexTimeout = 2 * time.Minute
)

// RecordSource lists every stored work item for a full reindex.
type RecordSource interface {
	LoadAllRecords(ctx context.Context) ([]Record, error)
}

type indexJob struct {
	record Record
	remove bool
}

// Service is the facade that tries Meilisearch first and falls back to the
// secondary Searcher. Index updates are applied by a single worker in the
// order they were queued, and never replace a newer version of an item.
type Service struct {
	meili    *Meili
	fallback Searcher
	source   RecordSource
	logger   *log.Logger

	jobs    chan indexJob
	reindex chan struct{}
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	// versions is owned by the worker.
	versions map[string]int64
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured; source feeds full reindexes and may be nil.
func NewService(meili *Meili, fallback Searcher, source RecordSource, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{
		meili:    meili,
		fallback: fallback,
		source:   source,
		logger:   logger,
		versions: make(map[string]int64),
	}
	if meili != nil {
		s.jobs = make(chan indexJob, indexBuffer)
		s.reindex = make(chan struct{}, 1)
		s.done = make(chan struct{})
		go s.worker()
		meili.OnRecover(s.Reindex)
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.WithError(err).Warn("search: meilisearch error, falling back")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("search: fallback error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEntity queues item for Meilisearch without blocking the caller. While
// Meilisearch is unhealthy updates are skipped; the reindex on recovery
// catches them up.
func (s *Service) IndexEntity(item store.Entity) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	s.enqueue(indexJob{record: RecordFromEntity(item)})
}

// DeleteEntity queues removal of id from Meilisearch without blocking the caller.
func (s *Service) DeleteEntity(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	s.enqueue(indexJob{record: Record{ID: id}, remove: true})
}

// Reindex asks the worker to reload every item from the record source.
// Requests made while one is pending are coalesced.
func (s *Service) Reindex() {
	if s.meili == nil {
		return
	}
	select {
	case s.reindex <- struct{}{}:
	default:
	}
}

func (s *Service) enqueue(job indexJob) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- job:
	default:
		s.logger.WithField("entity_id", job.record.ID).Warn("search: index queue full, scheduling reindex")
		s.Reindex()
	}
}

// Close stops accepting index updates and waits for queued ones to finish.
func (s *Service) Close() {
	if s.meili == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	<-s.done
}

func (s *Service) worker() {
	defer close(s.done)
	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			s.apply(job)
		case <-s.reindex:
			s.reindexAll()
		}
	}
}

func (s *Service) apply(job indexJob) {
	id := job.record.ID
	entry := s.logger.WithField("entity_id", id)
	if job.remove {
		if err := s.meili.DeleteRecord(id); err != nil {
			entry.WithError(err).Warn("search: delete work item")
			s.meili.markUnhealthy()
			return
		}
		s.versions[id] = math.MaxInt64
		return
	}
	if last, ok := s.versions[id]; ok && job.record.Version <= last {
		entry.WithField("version", job.record.Version).Debug("search: skipping stale index update")
		return
	}
	if err := s.meili.IndexRecord(job.record); err != nil {
		entry.WithError(err).Warn("search: index work item")
		s.meili.markUnhealthy()
		return
	}
	s.versions[id] = job.record.Version
}

func (s *Service) reindexAll() {
	if s.source == nil || !s.meili.Healthy() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
	defer cancel()

	records, err := s.source.LoadAllRecords(ctx)
	if err != nil {
		s.logger.WithError(err).Error("search: reindex load failed")
		return
	}
	if err := s.meili.IndexRecords(records); err != nil {
		s.logger.WithError(err).Error("search: reindex failed")
		s.meili.markUnhealthy()
		return
	}
	for _, r := range records {
		if r.Version > s.versions[r.ID] {
			s.versions[r.ID] = r.Version
		}
	}
	s.logger.Infof("search: reindexed %d work items", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
