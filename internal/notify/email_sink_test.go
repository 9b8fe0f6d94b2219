package notify

import (
	"context"
	"errors"
	"testing"

	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

type sentMail struct {
	kind   string
	to     []string
	status string
	reason string
}

type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) SendAssignmentEmail(to, _, kind, _, _, _ string) error {
	m.sent = append(m.sent, sentMail{kind: "assignment:" + kind, to: []string{to}})
	return nil
}

func (m *fakeMailer) SendSubmissionEmail(to []string, _, _, _ string) error {
	m.sent = append(m.sent, sentMail{kind: "submission", to: to})
	return nil
}

func (m *fakeMailer) SendVerdictEmail(to, _, _, _, status, reason, _ string) error {
	m.sent = append(m.sent, sentMail{kind: "verdict", to: []string{to}, status: status, reason: reason})
	return nil
}

func seededDirectory(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	if err := mem.CreateTeam(ctx, store.Team{ID: "team-a", Name: "Alpha", LeaderID: "lead"}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	for _, user := range []store.User{
		{ID: "admin1", DisplayName: "Ada", Email: "ada@example.com", Role: "admin"},
		{ID: "admin2", DisplayName: "Bob", Email: "bob@example.com", Role: "admin"},
		{ID: "lead", DisplayName: "Lee", Email: "lee@example.com", Role: "team_leader", TeamID: "team-a"},
		{ID: "pat", DisplayName: "Pat", Email: "pat@example.com", Role: "personnel", TeamID: "team-a"},
	} {
		if err := mem.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return mem
}

func TestEmailSinkRouting(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		want    string
		wantTo  []string
		wantNil bool
	}{
		{
			name:   "task creation notifies assignee",
			event:  Event{Type: EventCreated, Kind: workflow.KindTask, EntityID: "task_1", AssignedTo: "pat", Team: "team-a", NewState: workflow.StateTodo},
			want:   "assignment:task",
			wantTo: []string{"pat@example.com"},
		},
		{
			name:   "reassignment notifies new assignee",
			event:  Event{Type: EventAssigned, Kind: workflow.KindTask, EntityID: "task_1", AssignedTo: "lead", Team: "team-a"},
			want:   "assignment:task",
			wantTo: []string{"lee@example.com"},
		},
		{
			name:   "milestone submission notifies admins",
			event:  Event{Type: EventTransition, Kind: workflow.KindMilestone, EntityID: "ms_1", AssignedTo: "lead", Team: "team-a", PreviousState: workflow.StateInProgress, NewState: workflow.StateSubmitted},
			want:   "submission",
			wantTo: []string{"ada@example.com", "bob@example.com"},
		},
		{
			name:   "milestone rejection notifies team leader",
			event:  Event{Type: EventTransition, Kind: workflow.KindMilestone, EntityID: "ms_1", AssignedTo: "lead", Team: "team-a", NewState: workflow.StateRejected, Reason: "incomplete"},
			want:   "verdict",
			wantTo: []string{"lee@example.com"},
		},
		{
			name:    "task transition sends nothing",
			event:   Event{Type: EventTransition, Kind: workflow.KindTask, EntityID: "task_1", AssignedTo: "pat", NewState: workflow.StateDone},
			wantNil: true,
		},
		{
			name:    "milestone start sends nothing",
			event:   Event{Type: EventTransition, Kind: workflow.KindMilestone, EntityID: "ms_1", AssignedTo: "lead", NewState: workflow.StateInProgress},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			sink := NewEmailSink(seededDirectory(t), mailer)
			if err := sink.Deliver(context.Background(), tt.event); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if tt.wantNil {
				if len(mailer.sent) != 0 {
					t.Fatalf("expected no mail, got %+v", mailer.sent)
				}
				return
			}
			if len(mailer.sent) != 1 {
				t.Fatalf("expected one mail, got %+v", mailer.sent)
			}
			got := mailer.sent[0]
			if got.kind != tt.want {
				t.Fatalf("kind = %q, want %q", got.kind, tt.want)
			}
			if len(got.to) != len(tt.wantTo) {
				t.Fatalf("to = %v, want %v", got.to, tt.wantTo)
			}
			for i := range got.to {
				if got.to[i] != tt.wantTo[i] {
					t.Fatalf("to = %v, want %v", got.to, tt.wantTo)
				}
			}
		})
	}
}

func TestEmailSinkVerdictCarriesReason(t *testing.T) {
	mailer := &fakeMailer{}
	sink := NewEmailSink(seededDirectory(t), mailer)
	event := Event{Type: EventTransition, Kind: workflow.KindMilestone, EntityID: "ms_1", AssignedTo: "lead", Team: "team-a", NewState: workflow.StateRejected, Reason: "incomplete"}
	if err := sink.Deliver(context.Background(), event); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if mailer.sent[0].status != "rejected" || mailer.sent[0].reason != "incomplete" {
		t.Fatalf("unexpected verdict mail %+v", mailer.sent[0])
	}
}

func TestEmailSinkUnknownAssignee(t *testing.T) {
	sink := NewEmailSink(seededDirectory(t), &fakeMailer{})
	err := sink.Deliver(context.Background(), Event{Type: EventCreated, Kind: workflow.KindTask, AssignedTo: "ghost"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
