package notify

import (
	"context"
	"fmt"

	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

type Directory interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	ListUsersByRole(ctx context.Context, role string) ([]store.User, error)
}

type Mailer interface {
	SendAssignmentEmail(to, recipientName, kind, id, title, actorName string) error
	SendSubmissionEmail(to []string, id, title, actorName string) error
	SendVerdictEmail(to, recipientName, id, title, status, reason, actorName string) error
}

// EmailSink mails assignment notices on creation and reassignment, review
// requests to admins on milestone submission, and verdicts to the team leader.
type EmailSink struct {
	directory Directory
	mailer    Mailer
}

func NewEmailSink(directory Directory, mailer Mailer) *EmailSink {
	return &EmailSink{directory: directory, mailer: mailer}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, event Event) error {
	switch {
	case event.Type == EventCreated || event.Type == EventAssigned:
		return s.assignment(ctx, event)
	case event.Type == EventTransition && event.Kind == workflow.KindMilestone:
		switch event.NewState {
		case workflow.StateSubmitted:
			return s.submission(ctx, event)
		case workflow.StateVerified, workflow.StateRejected:
			return s.verdict(ctx, event)
		}
	}
	return nil
}

func (s *EmailSink) assignment(ctx context.Context, event Event) error {
	assignee, err := s.directory.GetUser(ctx, event.AssignedTo)
	if err != nil {
		return fmt.Errorf("resolve assignee %s: %w", event.AssignedTo, err)
	}
	return s.mailer.SendAssignmentEmail(assignee.Email, assignee.DisplayName, string(event.Kind), event.EntityID, event.Title, event.ActorName)
}

func (s *EmailSink) submission(ctx context.Context, event Event) error {
	admins, err := s.directory.ListUsersByRole(ctx, "admin")
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	to := make([]string, 0, len(admins))
	for _, admin := range admins {
		if admin.Email != "" {
			to = append(to, admin.Email)
		}
	}
	return s.mailer.SendSubmissionEmail(to, event.EntityID, event.Title, event.ActorName)
}

func (s *EmailSink) verdict(ctx context.Context, event Event) error {
	leaderID := event.AssignedTo
	if event.Team != "" {
		team, err := s.directory.GetTeam(ctx, event.Team)
		if err != nil {
			return fmt.Errorf("resolve team %s: %w", event.Team, err)
		}
		if team.LeaderID != "" {
			leaderID = team.LeaderID
		}
	}
	leader, err := s.directory.GetUser(ctx, leaderID)
	if err != nil {
		return fmt.Errorf("resolve team leader %s: %w", leaderID, err)
	}
	return s.mailer.SendVerdictEmail(leader.Email, leader.DisplayName, event.EntityID, event.Title, string(event.NewState), event.Reason, event.ActorName)
}
