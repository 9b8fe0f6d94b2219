package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskflow/api/internal/notify"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
	"taskflow/api/internal/workflow"
)

// TransitionExtra carries fields merged into the entity with a transition.
type TransitionExtra struct {
	RejectionReason string
}

// ApplyTransition moves the entity to requested. The entity is loaded fresh,
// validated against the transition rules, and saved only if nobody else wrote
// it in between; a lost race surfaces as CONFLICT.
func (s *Service) ApplyTransition(ctx context.Context, kind workflow.Kind, id string, requested workflow.State, actor workflow.Actor, extra TransitionExtra) (item store.Entity, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.transition", trace.WithAttributes(
		attribute.String("workflow.kind", string(kind)),
		attribute.String("workflow.entity_id", id),
		attribute.String("workflow.requested_state", string(requested)),
		attribute.String("workflow.actor_id", actor.ID),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.load(ctx, kind, id)
	if err != nil {
		return store.Entity{}, err
	}
	previous := current.Status
	span.SetAttributes(attribute.String("workflow.previous_state", string(previous)))

	if !workflow.Known(kind, requested) {
		return store.Entity{}, errInvalidTransition("unknown status", kind, previous, requested)
	}

	decision := workflow.Validate(kind, previous, requested, actor, workflow.Subject{
		AssignedTo: current.AssignedTo,
		Team:       current.Team,
	})
	if decision.NoOp {
		span.SetAttributes(attribute.Bool("workflow.noop", true))
		return current, nil
	}
	if !decision.Allowed {
		s.logger.WithFields(log.Fields{
			"kind":      kind,
			"entity_id": id,
			"actor_id":  actor.ID,
			"from":      previous,
			"to":        requested,
			"reason":    decision.Reason,
		}).Info("transition denied")
		return store.Entity{}, denial(decision, kind, previous, requested)
	}

	next := current
	next.Status = requested
	next.ModifiedBy = actor.ID
	if kind == workflow.KindMilestone && requested == workflow.StateRejected {
		next.RejectionReason = strings.TrimSpace(extra.RejectionReason)
	}

	saved, err := s.save(ctx, next)
	if err != nil {
		return store.Entity{}, err
	}

	s.logger.WithFields(log.Fields{
		"kind":      kind,
		"entity_id": id,
		"actor_id":  actor.ID,
		"from":      previous,
		"to":        requested,
		"version":   saved.Version,
	}).Info("work item transitioned")

	s.search.IndexEntity(saved)
	s.notifier.Notify(s.event(notify.EventTransition, saved, previous, actor, next.RejectionReason))
	return saved, nil
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo"`
	Team        string `json:"team"`
}

// CreateTask inserts a task in its initial state. The assignee must belong to
// the task's team; team leaders may only create tasks for their own team.
func (s *Service) CreateTask(ctx context.Context, actor workflow.Actor, input CreateTaskInput) (item store.Entity, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.create", trace.WithAttributes(
		attribute.String("workflow.kind", string(workflow.KindTask)),
		attribute.String("workflow.actor_id", actor.ID),
	))
	defer func() { endSpan(span, err) }()

	if !rbac.Can(actor.Role, rbac.ActionCreateTask) {
		return store.Entity{}, errForbidden(workflow.ReasonInsufficientRole)
	}

	input.Title = strings.TrimSpace(input.Title)
	input.AssignedTo = strings.TrimSpace(input.AssignedTo)
	input.Team = strings.TrimSpace(input.Team)
	if input.Team == "" && actor.Role == rbac.RoleTeamLeader {
		input.Team = actor.Team
	}
	if problems := requireFields(map[string]string{
		"title":      input.Title,
		"assignedTo": input.AssignedTo,
		"team":       input.Team,
	}); problems != nil {
		return store.Entity{}, errValidation("missing required fields", problems)
	}
	if !actor.IsAdmin() && input.Team != actor.Team {
		return store.Entity{}, errForbidden("team leaders may only create tasks for their own team")
	}

	if _, err := s.team(ctx, input.Team); err != nil {
		return store.Entity{}, err
	}
	assignee, err := s.user(ctx, input.AssignedTo)
	if err != nil {
		return store.Entity{}, err
	}
	if assignee.TeamID != input.Team {
		return store.Entity{}, errValidation("assignee is not a member of the task's team", map[string]any{
			"assignedTo":   assignee.ID,
			"assigneeTeam": assignee.TeamID,
			"team":         input.Team,
		})
	}

	return s.create(ctx, span, store.Entity{
		ID:          util.NewID("task"),
		Kind:        workflow.KindTask,
		Title:       input.Title,
		Description: strings.TrimSpace(input.Description),
		AssignedTo:  assignee.ID,
		Team:        input.Team,
		CreatedBy:   actor.ID,
		Status:      workflow.InitialState(),
		ModifiedBy:  actor.ID,
	}, actor)
}

type CreateMilestoneInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo"`
}

// CreateMilestone inserts a milestone owned by a team leader; its team is
// taken from the assignee.
func (s *Service) CreateMilestone(ctx context.Context, actor workflow.Actor, input CreateMilestoneInput) (item store.Entity, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.create", trace.WithAttributes(
		attribute.String("workflow.kind", string(workflow.KindMilestone)),
		attribute.String("workflow.actor_id", actor.ID),
	))
	defer func() { endSpan(span, err) }()

	if !rbac.Can(actor.Role, rbac.ActionCreateMilestone) {
		return store.Entity{}, errForbidden(workflow.ReasonInsufficientRole)
	}

	input.Title = strings.TrimSpace(input.Title)
	input.AssignedTo = strings.TrimSpace(input.AssignedTo)
	if problems := requireFields(map[string]string{
		"title":      input.Title,
		"assignedTo": input.AssignedTo,
	}); problems != nil {
		return store.Entity{}, errValidation("missing required fields", problems)
	}

	assignee, err := s.user(ctx, input.AssignedTo)
	if err != nil {
		return store.Entity{}, err
	}
	if err := milestoneAssignee(assignee); err != nil {
		return store.Entity{}, err
	}

	return s.create(ctx, span, store.Entity{
		ID:          util.NewID("ms"),
		Kind:        workflow.KindMilestone,
		Title:       input.Title,
		Description: strings.TrimSpace(input.Description),
		AssignedTo:  assignee.ID,
		Team:        assignee.TeamID,
		CreatedBy:   actor.ID,
		Status:      workflow.InitialState(),
		ModifiedBy:  actor.ID,
	}, actor)
}

func milestoneAssignee(assignee store.User) error {
	if rbac.Role(assignee.Role) != rbac.RoleTeamLeader {
		return errValidation("milestones must be assigned to a team leader", map[string]any{
			"assignedTo": assignee.ID,
			"role":       assignee.Role,
		})
	}
	if assignee.TeamID == "" {
		return errValidation("assignee does not belong to a team", map[string]any{"assignedTo": assignee.ID})
	}
	return nil
}

func (s *Service) create(ctx context.Context, span trace.Span, item store.Entity, actor workflow.Actor) (store.Entity, error) {
	created, err := s.store.CreateEntity(ctx, item)
	if err != nil {
		return store.Entity{}, fmt.Errorf("create %s: %w", item.Kind, err)
	}
	span.SetAttributes(attribute.String("workflow.entity_id", created.ID))

	s.logger.WithFields(log.Fields{
		"kind":        created.Kind,
		"entity_id":   created.ID,
		"actor_id":    actor.ID,
		"assigned_to": created.AssignedTo,
		"team":        created.Team,
	}).Info("work item created")

	s.search.IndexEntity(created)
	s.notifier.Notify(s.event(notify.EventCreated, created, "", actor, ""))
	return created, nil
}

// Reassign changes the assignee of a non-terminal entity, re-checking the
// same invariants as creation.
func (s *Service) Reassign(ctx context.Context, kind workflow.Kind, id string, actor workflow.Actor, assignedTo string) (item store.Entity, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.assign", trace.WithAttributes(
		attribute.String("workflow.kind", string(kind)),
		attribute.String("workflow.entity_id", id),
		attribute.String("workflow.actor_id", actor.ID),
	))
	defer func() { endSpan(span, err) }()

	assignedTo = strings.TrimSpace(assignedTo)
	if assignedTo == "" {
		return store.Entity{}, errValidation("missing required fields", map[string]string{"assignedTo": "required"})
	}

	current, err := s.load(ctx, kind, id)
	if err != nil {
		return store.Entity{}, err
	}
	if workflow.IsTerminal(kind, current.Status) {
		return store.Entity{}, errInvalidTransition("work item is closed and cannot be reassigned", kind, current.Status, current.Status)
	}

	next := current
	switch kind {
	case workflow.KindTask:
		if !rbac.Can(actor.Role, rbac.ActionAssignTask) || (!actor.IsAdmin() && actor.Team != current.Team) {
			return store.Entity{}, errForbidden(workflow.ReasonInsufficientRole)
		}
		assignee, err := s.user(ctx, assignedTo)
		if err != nil {
			return store.Entity{}, err
		}
		if assignee.TeamID != current.Team {
			return store.Entity{}, errValidation("assignee is not a member of the task's team", map[string]any{
				"assignedTo":   assignee.ID,
				"assigneeTeam": assignee.TeamID,
				"team":         current.Team,
			})
		}
		next.AssignedTo = assignee.ID
	case workflow.KindMilestone:
		if !rbac.Can(actor.Role, rbac.ActionAssignMilestone) {
			return store.Entity{}, errForbidden(workflow.ReasonInsufficientRole)
		}
		assignee, err := s.user(ctx, assignedTo)
		if err != nil {
			return store.Entity{}, err
		}
		if err := milestoneAssignee(assignee); err != nil {
			return store.Entity{}, err
		}
		next.AssignedTo = assignee.ID
		next.Team = assignee.TeamID
	}

	if next.AssignedTo == current.AssignedTo && next.Team == current.Team {
		return current, nil
	}
	next.ModifiedBy = actor.ID

	saved, err := s.save(ctx, next)
	if err != nil {
		return store.Entity{}, err
	}

	s.logger.WithFields(log.Fields{
		"kind":        kind,
		"entity_id":   id,
		"actor_id":    actor.ID,
		"previous":    current.AssignedTo,
		"assigned_to": saved.AssignedTo,
		"version":     saved.Version,
	}).Info("work item reassigned")

	s.search.IndexEntity(saved)
	s.notifier.Notify(s.event(notify.EventAssigned, saved, saved.Status, actor, ""))
	return saved, nil
}

// Delete hard-deletes an entity in any state. Admin only.
func (s *Service) Delete(ctx context.Context, kind workflow.Kind, id string, actor workflow.Actor) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.delete", trace.WithAttributes(
		attribute.String("workflow.kind", string(kind)),
		attribute.String("workflow.entity_id", id),
		attribute.String("workflow.actor_id", actor.ID),
	))
	defer func() { endSpan(span, err) }()

	if !rbac.Can(actor.Role, rbac.ActionDelete) {
		return errForbidden(workflow.ReasonInsufficientRole)
	}
	if err := s.store.DeleteEntity(ctx, kind, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNotFound(string(kind), id)
		}
		return fmt.Errorf("delete %s: %w", kind, err)
	}

	s.logger.WithFields(log.Fields{"kind": kind, "entity_id": id, "actor_id": actor.ID}).Info("work item deleted")
	s.search.DeleteEntity(id)
	return nil
}

func (s *Service) load(ctx context.Context, kind workflow.Kind, id string) (store.Entity, error) {
	item, err := s.store.GetEntity(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Entity{}, errNotFound(string(kind), id)
	}
	if err != nil {
		return store.Entity{}, fmt.Errorf("load %s: %w", kind, err)
	}
	return item, nil
}

func (s *Service) save(ctx context.Context, item store.Entity) (store.Entity, error) {
	saved, err := s.store.SaveEntity(ctx, item)
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return store.Entity{}, errConflict(item.Kind, item.ID)
	case errors.Is(err, store.ErrNotFound):
		return store.Entity{}, errNotFound(string(item.Kind), item.ID)
	case err != nil:
		return store.Entity{}, fmt.Errorf("save %s: %w", item.Kind, err)
	}
	return saved, nil
}

func (s *Service) user(ctx context.Context, id string) (store.User, error) {
	user, err := s.directory.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, errNotFound("user", id)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

func (s *Service) team(ctx context.Context, id string) (store.Team, error) {
	team, err := s.directory.GetTeam(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Team{}, errNotFound("team", id)
	}
	if err != nil {
		return store.Team{}, fmt.Errorf("resolve team: %w", err)
	}
	return team, nil
}

func (s *Service) event(eventType notify.EventType, item store.Entity, previous workflow.State, actor workflow.Actor, reason string) notify.Event {
	return notify.Event{
		Type:          eventType,
		Kind:          item.Kind,
		EntityID:      item.ID,
		Title:         item.Title,
		Team:          item.Team,
		AssignedTo:    item.AssignedTo,
		PreviousState: previous,
		NewState:      item.Status,
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		Reason:        reason,
		OccurredAt:    s.now(),
	}
}

func requireFields(fields map[string]string) map[string]string {
	var missing map[string]string
	for name, value := range fields {
		if value == "" {
			if missing == nil {
				missing = make(map[string]string)
			}
			missing[name] = "required"
		}
	}
	return missing
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			span.SetAttributes(attribute.String("workflow.error_code", domainErr.Code))
		}
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
