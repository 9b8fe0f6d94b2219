package app

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskflow/api/internal/config"
	"taskflow/api/internal/directory"
	"taskflow/api/internal/notify"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

const testSecret = "test-secret"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) all() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}

type testEnv struct {
	service  *Service
	store    *store.MemoryStore
	notifier *recordingNotifier
	hook     *test.Hook
}

// newTestEnv seeds two teams:
//
//	team-a: lead-a (team_leader), alice, bob
//	team-b: lead-b (team_leader), carol
//
// plus admin and lead-none, a team leader without a team.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	seedDirectory(t, mem)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	notifier := &recordingNotifier{}
	svc := New(config.Config{JWTSecret: testSecret, AccessTTL: time.Hour}, Dependencies{
		Store:     mem,
		Directory: directory.New(mem, nil, logger),
		Notifier:  notifier,
		Logger:    logger,
	})
	return &testEnv{service: svc, store: mem, notifier: notifier, hook: hook}
}

func seedDirectory(t *testing.T, mem *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, team := range []store.Team{
		{ID: "team-a", Name: "Team A", LeaderID: "lead-a"},
		{ID: "team-b", Name: "Team B", LeaderID: "lead-b"},
	} {
		if err := mem.CreateTeam(ctx, team); err != nil {
			t.Fatalf("seed team: %v", err)
		}
	}
	for _, user := range []store.User{
		{ID: "admin", DisplayName: "Admin", Email: "admin@example.com", Role: string(rbac.RoleAdmin)},
		{ID: "lead-a", DisplayName: "Lead A", Email: "lead-a@example.com", Role: string(rbac.RoleTeamLeader), TeamID: "team-a"},
		{ID: "lead-b", DisplayName: "Lead B", Email: "lead-b@example.com", Role: string(rbac.RoleTeamLeader), TeamID: "team-b"},
		{ID: "lead-none", DisplayName: "Lead None", Email: "lead-none@example.com", Role: string(rbac.RoleTeamLeader)},
		{ID: "alice", DisplayName: "Alice", Email: "alice@example.com", Role: string(rbac.RolePersonnel), TeamID: "team-a"},
		{ID: "bob", DisplayName: "Bob", Email: "bob@example.com", Role: string(rbac.RolePersonnel), TeamID: "team-a"},
		{ID: "carol", DisplayName: "Carol", Email: "carol@example.com", Role: string(rbac.RolePersonnel), TeamID: "team-b"},
	} {
		if err := mem.CreateUser(ctx, user); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
}

var (
	adminActor    = workflow.Actor{ID: "admin", Name: "Admin", Role: rbac.RoleAdmin}
	leadAActor    = workflow.Actor{ID: "lead-a", Name: "Lead A", Role: rbac.RoleTeamLeader, Team: "team-a"}
	leadBActor    = workflow.Actor{ID: "lead-b", Name: "Lead B", Role: rbac.RoleTeamLeader, Team: "team-b"}
	leadNoneActor = workflow.Actor{ID: "lead-none", Name: "Lead None", Role: rbac.RoleTeamLeader}
	aliceActor    = workflow.Actor{ID: "alice", Name: "Alice", Role: rbac.RolePersonnel, Team: "team-a"}
	bobActor      = workflow.Actor{ID: "bob", Name: "Bob", Role: rbac.RolePersonnel, Team: "team-a"}
	carolActor    = workflow.Actor{ID: "carol", Name: "Carol", Role: rbac.RolePersonnel, Team: "team-b"}
)

func (e *testEnv) createTask(t *testing.T, assignedTo string) store.Entity {
	t.Helper()
	item, err := e.service.CreateTask(context.Background(), leadAActor, CreateTaskInput{
		Title:      "Write report",
		AssignedTo: assignedTo,
		Team:       "team-a",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return item
}

func (e *testEnv) createMilestone(t *testing.T, assignedTo string) store.Entity {
	t.Helper()
	item, err := e.service.CreateMilestone(context.Background(), adminActor, CreateMilestoneInput{
		Title:      "Quarterly review",
		AssignedTo: assignedTo,
	})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	return item
}

// putEntity stores item directly at the given status, bypassing the engine.
func (e *testEnv) putEntity(t *testing.T, item store.Entity) store.Entity {
	t.Helper()
	created, err := e.store.CreateEntity(context.Background(), item)
	if err != nil {
		t.Fatalf("put entity: %v", err)
	}
	return created
}

func (e *testEnv) stored(t *testing.T, kind workflow.Kind, id string) store.Entity {
	t.Helper()
	item, err := e.store.GetEntity(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	return item
}

func requireCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected *DomainError with code %s, got %T: %v", code, err, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
	return domainErr
}
