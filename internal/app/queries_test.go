package app

import (
	"context"
	"testing"

	"taskflow/api/internal/notify"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/search"
	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

func seedVisibility(t *testing.T, env *testEnv) (aliceTask, carolTask, leadBMilestone store.Entity) {
	t.Helper()
	aliceTask = env.createTask(t, "alice")
	var err error
	carolTask, err = env.service.CreateTask(context.Background(), leadBActor, CreateTaskInput{Title: "Audit", AssignedTo: "carol"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	leadBMilestone = env.createMilestone(t, "lead-b")
	return aliceTask, carolTask, leadBMilestone
}

func TestGetAppliesVisibility(t *testing.T) {
	env := newTestEnv(t)
	aliceTask, carolTask, milestone := seedVisibility(t, env)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   workflow.Actor
		kind    workflow.Kind
		id      string
		visible bool
	}{
		{name: "admin sees any task", actor: adminActor, kind: workflow.KindTask, id: carolTask.ID, visible: true},
		{name: "assignee sees own task", actor: aliceActor, kind: workflow.KindTask, id: aliceTask.ID, visible: true},
		{name: "teammate cannot see task", actor: bobActor, kind: workflow.KindTask, id: aliceTask.ID},
		{name: "leader sees team task", actor: leadAActor, kind: workflow.KindTask, id: aliceTask.ID, visible: true},
		{name: "leader cannot see other team", actor: leadAActor, kind: workflow.KindTask, id: carolTask.ID},
		{name: "leader sees own milestone", actor: leadBActor, kind: workflow.KindMilestone, id: milestone.ID, visible: true},
		{name: "member sees no milestone", actor: carolActor, kind: workflow.KindMilestone, id: milestone.ID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			item, err := env.service.Get(ctx, tc.kind, tc.id, tc.actor)
			if !tc.visible {
				requireCode(t, err, CodeNotFound)
				return
			}
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if item.ID != tc.id {
				t.Fatalf("got %s", item.ID)
			}
		})
	}
}

func TestListScopesByActor(t *testing.T) {
	env := newTestEnv(t)
	aliceTask, carolTask, _ := seedVisibility(t, env)
	bobTask := env.createTask(t, "bob")
	ctx := context.Background()

	ids := func(items []store.Entity) map[string]bool {
		out := make(map[string]bool, len(items))
		for _, item := range items {
			out[item.ID] = true
		}
		return out
	}

	all, err := env.service.List(ctx, workflow.KindTask, adminActor, ListFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("admin list: %d items, err=%v", len(all), err)
	}

	team, err := env.service.List(ctx, workflow.KindTask, leadAActor, ListFilter{})
	if err != nil {
		t.Fatalf("leader list: %v", err)
	}
	got := ids(team)
	if len(got) != 2 || !got[aliceTask.ID] || !got[bobTask.ID] {
		t.Fatalf("leader list = %v", got)
	}

	own, err := env.service.List(ctx, workflow.KindTask, aliceActor, ListFilter{})
	if err != nil {
		t.Fatalf("personnel list: %v", err)
	}
	if got := ids(own); len(got) != 1 || !got[aliceTask.ID] {
		t.Fatalf("personnel list = %v", got)
	}

	filtered, err := env.service.List(ctx, workflow.KindTask, adminActor, ListFilter{Team: "team-b"})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if got := ids(filtered); len(got) != 1 || !got[carolTask.ID] {
		t.Fatalf("filtered list = %v", got)
	}

	_, err = env.service.List(ctx, workflow.KindTask, leadAActor, ListFilter{Team: "team-b"})
	requireCode(t, err, CodeForbidden)
	_, err = env.service.List(ctx, workflow.KindTask, aliceActor, ListFilter{AssignedTo: "bob"})
	requireCode(t, err, CodeForbidden)
	_, err = env.service.List(ctx, workflow.KindTask, adminActor, ListFilter{Status: "submitted"})
	requireCode(t, err, CodeValidation)

	todo, err := env.service.List(ctx, workflow.KindTask, adminActor, ListFilter{Status: "todo", Limit: 1})
	if err != nil || len(todo) != 1 {
		t.Fatalf("limited list: %d items, err=%v", len(todo), err)
	}
}

func TestSearchScopesByActor(t *testing.T) {
	env := newTestEnv(t)
	aliceTask, _, _ := seedVisibility(t, env)
	env.service.search = search.NewService(nil, search.NewScan(env.store), nil, nil)
	ctx := context.Background()

	resp, err := env.service.Search(ctx, aliceActor, search.Query{Text: "report"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 1 || resp.Results[0].ID != aliceTask.ID {
		t.Fatalf("alice search = %+v", resp)
	}

	resp, err = env.service.Search(ctx, carolActor, search.Query{Text: "report"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 0 {
		t.Fatalf("carol should not see team-a tasks: %+v", resp)
	}

	resp, err = env.service.Search(ctx, adminActor, search.Query{Text: "a", Kind: workflow.KindMilestone})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, result := range resp.Results {
		if result.Kind != workflow.KindMilestone {
			t.Fatalf("unexpected kind %s", result.Kind)
		}
	}

	_, err = env.service.Search(ctx, adminActor, search.Query{Text: "x", Kind: "epic"})
	requireCode(t, err, CodeValidation)
	_, err = env.service.Search(ctx, adminActor, search.Query{Text: "x", Kind: workflow.KindTask, Status: workflow.StateSubmitted})
	requireCode(t, err, CodeValidation)
	_, err = env.service.Search(ctx, leadAActor, search.Query{Text: "x", Team: "team-b"})
	requireCode(t, err, CodeForbidden)
}

// staleIndex serves a fixed snapshot of hits, filtered on the snapshot's own
// fields the way a lagging index would.
type staleIndex struct {
	hits []search.Result
}

func (staleIndex) Healthy() bool { return true }

func (s staleIndex) Search(_ context.Context, q search.Query) ([]search.Result, int, error) {
	var out []search.Result
	for _, hit := range s.hits {
		if q.Team != "" && hit.Team != q.Team {
			continue
		}
		if q.AssignedTo != "" && hit.AssignedTo != q.AssignedTo {
			continue
		}
		out = append(out, hit)
	}
	return out, len(out), nil
}

func TestSearchChecksHitsAgainstStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.createTask(t, "alice")
	env.service.search = search.NewService(nil, staleIndex{hits: []search.Result{
		{Kind: workflow.KindTask, ID: item.ID, Title: "secret payroll", Status: workflow.StateTodo, Team: "team-a", AssignedTo: "alice"},
		{Kind: workflow.KindTask, ID: "task-deleted", Title: "secret payroll", Status: workflow.StateTodo, Team: "team-a", AssignedTo: "alice"},
	}}, nil, nil)

	if _, err := env.service.Reassign(ctx, workflow.KindTask, item.ID, leadAActor, "bob"); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	resp, err := env.service.Search(ctx, aliceActor, search.Query{Text: "payroll"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Fatalf("former assignee must not see the task: %+v", resp)
	}

	resp, err = env.service.Search(ctx, adminActor, search.Query{Text: "payroll"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("deleted item must be dropped: %+v", resp)
	}
	if got := resp.Results[0]; got.ID != item.ID || got.AssignedTo != "bob" || got.Team != "team-a" {
		t.Fatalf("hit should carry stored fields, got %+v", got)
	}

	if err := env.service.Delete(ctx, workflow.KindTask, item.ID, adminActor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp, err = env.service.Search(ctx, adminActor, search.Query{Text: "payroll"})
	if err != nil || len(resp.Results) != 0 {
		t.Fatalf("hard-deleted item still searchable: %+v err=%v", resp, err)
	}
}

func TestReassignTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.createTask(t, "alice")

	got, err := env.service.Reassign(ctx, workflow.KindTask, item.ID, leadAActor, "bob")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.AssignedTo != "bob" || got.Version != item.Version+1 || got.ModifiedBy != "lead-a" {
		t.Fatalf("got %+v", got)
	}
	events := env.notifier.all()
	if last := events[len(events)-1]; last.Type != notify.EventAssigned || last.AssignedTo != "bob" {
		t.Fatalf("last event = %+v", last)
	}

	same, err := env.service.Reassign(ctx, workflow.KindTask, item.ID, leadAActor, "bob")
	if err != nil || same.Version != got.Version {
		t.Fatalf("same assignee should be a no-op: %+v err=%v", same, err)
	}

	_, err = env.service.Reassign(ctx, workflow.KindTask, item.ID, leadAActor, "carol")
	requireCode(t, err, CodeValidation)
	_, err = env.service.Reassign(ctx, workflow.KindTask, item.ID, leadBActor, "alice")
	requireCode(t, err, CodeForbidden)
	_, err = env.service.Reassign(ctx, workflow.KindTask, item.ID, aliceActor, "alice")
	requireCode(t, err, CodeForbidden)
	_, err = env.service.Reassign(ctx, workflow.KindTask, item.ID, leadAActor, "")
	requireCode(t, err, CodeValidation)

	closed := env.putEntity(t, store.Entity{
		ID: "task-closed", Kind: workflow.KindTask, Title: "x", AssignedTo: "alice", Team: "team-a",
		CreatedBy: "lead-a", Status: workflow.StateVerified, ModifiedBy: "admin",
	})
	_, err = env.service.Reassign(ctx, workflow.KindTask, closed.ID, adminActor, "bob")
	requireCode(t, err, CodeInvalidTransition)
}

func TestReassignMilestoneRederivesTeam(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.createMilestone(t, "lead-a")

	got, err := env.service.Reassign(ctx, workflow.KindMilestone, item.ID, adminActor, "lead-b")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.AssignedTo != "lead-b" || got.Team != "team-b" {
		t.Fatalf("got %+v", got)
	}

	_, err = env.service.Reassign(ctx, workflow.KindMilestone, item.ID, leadBActor, "lead-a")
	requireCode(t, err, CodeForbidden)
	_, err = env.service.Reassign(ctx, workflow.KindMilestone, item.ID, adminActor, "carol")
	requireCode(t, err, CodeValidation)
}

func TestDeleteIsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.putEntity(t, store.Entity{
		ID: "task-1", Kind: workflow.KindTask, Title: "x", AssignedTo: "alice", Team: "team-a",
		CreatedBy: "lead-a", Status: workflow.StateVerified, ModifiedBy: "admin",
	})

	requireCode(t, env.service.Delete(ctx, workflow.KindTask, item.ID, leadAActor), CodeForbidden)
	if err := env.service.Delete(ctx, workflow.KindTask, item.ID, adminActor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.store.GetEntity(ctx, workflow.KindTask, item.ID); err != store.ErrNotFound {
		t.Fatalf("expected entity gone, got %v", err)
	}
	requireCode(t, env.service.Delete(ctx, workflow.KindTask, item.ID, adminActor), CodeNotFound)
}

func TestUnknownRoleSeesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.createTask(t, "alice")
	guest := workflow.Actor{ID: "alice", Role: rbac.Role("guest"), Team: "team-a"}

	_, err := env.service.Get(ctx, workflow.KindTask, item.ID, guest)
	requireCode(t, err, CodeNotFound)
	_, err = env.service.List(ctx, workflow.KindTask, guest, ListFilter{})
	requireCode(t, err, CodeForbidden)
}
