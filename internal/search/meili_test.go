package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

// fakeMeili is an in-process stand-in for the Meilisearch endpoints the
// client uses. Filters are applied; the query text is ignored.
type fakeMeili struct {
	server *httptest.Server

	mu       sync.Mutex
	docs     map[string]map[string]any
	down     bool
	searches int
}

func newFakeMeili(t *testing.T) *fakeMeili {
	t.Helper()
	f := &fakeMeili{docs: make(map[string]map[string]any)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeMeili) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		writeFakeJSON(w, http.StatusInternalServerError, map[string]any{"message": "unavailable", "code": "internal", "type": "internal"})
		return
	}

	task := map[string]any{"taskUid": 1, "indexUid": idxWorkItems, "status": "enqueued", "type": "documentAdditionOrUpdate"}
	docsPath := "/indexes/" + idxWorkItems + "/documents"
	switch {
	case r.URL.Path == "/health":
		writeFakeJSON(w, http.StatusOK, map[string]any{"status": "available"})
	case r.URL.Path == "/indexes" && r.Method == http.MethodPost:
		writeFakeJSON(w, http.StatusAccepted, task)
	case strings.Contains(r.URL.Path, "/settings/"):
		writeFakeJSON(w, http.StatusAccepted, task)
	case r.URL.Path == docsPath && r.Method == http.MethodPost:
		var docs []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
			writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		for _, doc := range docs {
			f.docs[fmt.Sprint(doc["id"])] = doc
		}
		writeFakeJSON(w, http.StatusAccepted, task)
	case strings.HasPrefix(r.URL.Path, docsPath+"/") && r.Method == http.MethodDelete:
		delete(f.docs, strings.TrimPrefix(r.URL.Path, docsPath+"/"))
		writeFakeJSON(w, http.StatusAccepted, task)
	case r.URL.Path == "/multi-search":
		f.searches++
		var req struct {
			Queries []struct {
				Query  string   `json:"q"`
				Filter []string `json:"filter"`
			} `json:"queries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		results := make([]map[string]any, 0, len(req.Queries))
		for _, q := range req.Queries {
			hits := make([]map[string]any, 0)
			for _, doc := range f.docs {
				if matchesFakeFilters(doc, q.Filter) {
					hits = append(hits, doc)
				}
			}
			results = append(results, map[string]any{
				"indexUid":           idxWorkItems,
				"hits":               hits,
				"estimatedTotalHits": len(hits),
				"processingTimeMs":   0,
				"query":              q.Query,
			})
		}
		writeFakeJSON(w, http.StatusOK, map[string]any{"results": results})
	default:
		http.NotFound(w, r)
	}
}

func matchesFakeFilters(doc map[string]any, filters []string) bool {
	for _, filter := range filters {
		attr, quoted, ok := strings.Cut(filter, " = ")
		if !ok {
			return false
		}
		value, err := strconv.Unquote(quoted)
		if err != nil || fmt.Sprint(doc[attr]) != value {
			return false
		}
	}
	return true
}

func writeFakeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeMeili) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeMeili) doc(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

func (f *fakeMeili) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

func useFastHealthChecks(t *testing.T) {
	t.Helper()
	prev := healthCheckInterval
	healthCheckInterval = 20 * time.Millisecond
	t.Cleanup(func() { healthCheckInterval = prev })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReindexAfterMeiliRecovers(t *testing.T) {
	useFastHealthChecks(t)
	fake := newFakeMeili(t)
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	mem := store.NewMemoryStore()
	item, err := mem.CreateEntity(ctx, store.Entity{
		ID: "task_1", Kind: workflow.KindTask, Title: "secret payroll",
		AssignedTo: "alice", Team: "team-a", Status: workflow.StateTodo,
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	m := NewMeili(fake.server.URL, "key", logger)
	defer m.Close()
	scan := NewScan(mem)
	svc := NewService(m, scan, scan, logger)
	defer svc.Close()

	svc.IndexEntity(item)
	waitFor(t, "initial index", func() bool { return fake.doc("task_1")["assignedTo"] == "alice" })

	fake.setDown(true)
	svc.Search(ctx, Query{Text: "payroll", AssignedTo: "alice"})
	if m.Healthy() {
		t.Fatal("failed search should mark meilisearch unhealthy")
	}

	item.AssignedTo = "bob"
	saved, err := mem.SaveEntity(ctx, item)
	if err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}
	svc.IndexEntity(saved)
	if got := fake.doc("task_1")["assignedTo"]; got != "alice" {
		t.Fatalf("index should be untouched while down, got %v", got)
	}

	fake.setDown(false)
	waitFor(t, "reindex after recovery", func() bool { return fake.doc("task_1")["assignedTo"] == "bob" })
	if got := fake.doc("task_1")["version"]; got != float64(2) {
		t.Fatalf("reindexed version = %v, want 2", got)
	}

	before := fake.searchCount()
	alice := svc.Search(ctx, Query{Text: "payroll", AssignedTo: "alice"})
	bob := svc.Search(ctx, Query{Text: "payroll", AssignedTo: "bob"})
	if fake.searchCount() != before+2 {
		t.Fatal("searches should be served by meilisearch after recovery")
	}
	if len(alice.Results) != 0 {
		t.Fatalf("alice still finds the reassigned task: %+v", alice.Results)
	}
	if len(bob.Results) != 1 || bob.Results[0].AssignedTo != "bob" {
		t.Fatalf("bob search = %+v", bob.Results)
	}
}

func TestIndexUpdatesKeepNewestVersion(t *testing.T) {
	fake := newFakeMeili(t)
	logger, _ := test.NewNullLogger()
	m := NewMeili(fake.server.URL, "key", logger)
	defer m.Close()
	svc := NewService(m, nil, nil, logger)

	newer := store.Entity{ID: "task_1", Kind: workflow.KindTask, Title: "report", AssignedTo: "bob", Version: 2}
	older := newer
	older.AssignedTo = "alice"
	older.Version = 1
	svc.IndexEntity(newer)
	svc.IndexEntity(older)

	gone := store.Entity{ID: "task_2", Kind: workflow.KindTask, Title: "old", Version: 1}
	svc.IndexEntity(gone)
	svc.DeleteEntity(gone.ID)
	svc.IndexEntity(gone)
	svc.Close()

	doc := fake.doc("task_1")
	if doc["assignedTo"] != "bob" || doc["version"] != float64(2) {
		t.Fatalf("older update overwrote newer one: %v", doc)
	}
	if doc := fake.doc("task_2"); doc != nil {
		t.Fatalf("deleted item was re-indexed: %v", doc)
	}
}

func TestScanLoadAllRecords(t *testing.T) {
	records, err := NewScan(seededStore(t)).LoadAllRecords(context.Background())
	if err != nil {
		t.Fatalf("LoadAllRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Version != 1 {
			t.Fatalf("record %s has version %d", r.ID, r.Version)
		}
	}
}
