package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskflow/api/internal/rbac"
	"taskflow/api/internal/search"
	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

// ListFilter is the caller-supplied part of a list request. The actor's
// visibility is applied on top of it.
type ListFilter struct {
	Status     string
	Team       string
	AssignedTo string
	Limit      int
}

// Get returns the entity if actor may see it. Invisible entities are reported
// as missing.
func (s *Service) Get(ctx context.Context, kind workflow.Kind, id string, actor workflow.Actor) (store.Entity, error) {
	item, err := s.load(ctx, kind, id)
	if err != nil {
		return store.Entity{}, err
	}
	if !visible(actor, item) {
		return store.Entity{}, errNotFound(string(kind), id)
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, kind workflow.Kind, actor workflow.Actor, filter ListFilter) ([]store.Entity, error) {
	status, err := parseStatusFilter(kind, filter.Status)
	if err != nil {
		return nil, err
	}
	team, assignedTo, err := scope(actor, strings.TrimSpace(filter.Team), strings.TrimSpace(filter.AssignedTo))
	if err != nil {
		return nil, err
	}

	items, err := s.store.FindEntities(ctx, kind, store.Filter{
		Status:     status,
		Team:       team,
		AssignedTo: assignedTo,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	return items, nil
}

// Search runs a full-text query restricted to what actor may see. The index
// can lag behind the store, so every hit is checked against the stored item
// and dropped when it is gone, invisible or no longer matches the filters.
func (s *Service) Search(ctx context.Context, actor workflow.Actor, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Kind != "" {
		kind, ok := workflow.ParseKind(string(q.Kind))
		if !ok {
			return search.Response{}, errValidation("unknown kind", map[string]any{"kind": q.Kind})
		}
		q.Kind = kind
	}
	if q.Status != "" {
		known := false
		for _, kind := range []workflow.Kind{workflow.KindTask, workflow.KindMilestone} {
			if q.Kind != "" && q.Kind != kind {
				continue
			}
			known = known || workflow.Known(kind, q.Status)
		}
		if !known {
			return search.Response{}, errValidation("unknown status", map[string]any{"status": q.Status})
		}
	}
	team, assignedTo, err := scope(actor, strings.TrimSpace(q.Team), strings.TrimSpace(q.AssignedTo))
	if err != nil {
		return search.Response{}, err
	}
	q.Team = team
	q.AssignedTo = assignedTo

	resp := s.search.Search(ctx, q)
	results := make([]search.Result, 0, len(resp.Results))
	for _, hit := range resp.Results {
		item, err := s.store.GetEntity(ctx, hit.Kind, hit.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return search.Response{}, fmt.Errorf("search: load %s: %w", hit.ID, err)
		}
		if !visible(actor, item) || !matchesQuery(item, q) {
			continue
		}
		hit.Status = item.Status
		hit.Team = item.Team
		hit.AssignedTo = item.AssignedTo
		results = append(results, hit)
	}
	resp.Total -= len(resp.Results) - len(results)
	if resp.Total < len(results) {
		resp.Total = len(results)
	}
	resp.Results = results
	return resp, nil
}

func matchesQuery(item store.Entity, q search.Query) bool {
	switch {
	case q.Kind != "" && item.Kind != q.Kind:
		return false
	case q.Status != "" && item.Status != q.Status:
		return false
	case q.Team != "" && item.Team != q.Team:
		return false
	case q.AssignedTo != "" && item.AssignedTo != q.AssignedTo:
		return false
	}
	return true
}

func parseStatusFilter(kind workflow.Kind, value string) (workflow.State, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	status := workflow.State(value)
	if !workflow.Known(kind, status) {
		return "", errValidation("unknown status", map[string]any{"status": value})
	}
	return status, nil
}

// scope narrows team/assignee filters to the actor's visibility. A filter
// that asks for something outside it is refused rather than silently widened
// or emptied.
func scope(actor workflow.Actor, team, assignedTo string) (string, string, error) {
	if !rbac.Can(actor.Role, rbac.ActionRead) {
		return "", "", errForbidden(workflow.ReasonInsufficientRole)
	}
	switch actor.Role {
	case rbac.RoleAdmin:
		return team, assignedTo, nil
	case rbac.RoleTeamLeader:
		if actor.Team == "" {
			if assignedTo != "" && assignedTo != actor.ID {
				return "", "", errForbidden("team leaders without a team may only list their own items")
			}
			return team, actor.ID, nil
		}
		if team != "" && team != actor.Team {
			return "", "", errForbidden("team leaders may only list their own team")
		}
		return actor.Team, assignedTo, nil
	default:
		if team != "" && team != actor.Team {
			return "", "", errForbidden("personnel may only list items assigned to them")
		}
		if assignedTo != "" && assignedTo != actor.ID {
			return "", "", errForbidden("personnel may only list items assigned to them")
		}
		return team, actor.ID, nil
	}
}

func visible(actor workflow.Actor, item store.Entity) bool {
	if !rbac.Can(actor.Role, rbac.ActionRead) {
		return false
	}
	switch actor.Role {
	case rbac.RoleAdmin:
		return true
	case rbac.RoleTeamLeader:
		return item.AssignedTo == actor.ID || (actor.Team != "" && item.Team == actor.Team)
	default:
		return item.AssignedTo == actor.ID
	}
}
