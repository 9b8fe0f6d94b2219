package store

import (
	"errors"
	"time"

	"taskflow/api/internal/workflow"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means the stored entity moved past the version the
	// caller read before writing.
	ErrVersionConflict = errors.New("version conflict")
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	TeamID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Team struct {
	ID        string
	Name      string
	LeaderID  string
	MemberIDs []string
	CreatedAt time.Time
}

// Entity is a Task or Milestone document.
type Entity struct {
	ID              string
	Kind            workflow.Kind
	Title           string
	Description     string
	AssignedTo      string
	Team            string
	CreatedBy       string
	Status          workflow.State
	ModifiedBy      string
	RejectionReason string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Filter narrows FindEntities. Empty fields match everything.
type Filter struct {
	Status     workflow.State
	Team       string
	AssignedTo string
	CreatedBy  string
	Limit      int
}

const defaultFilterLimit = 200

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > defaultFilterLimit {
		return defaultFilterLimit
	}
	return f.Limit
}

func (f Filter) matches(item Entity) bool {
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.Team != "" && item.Team != f.Team {
		return false
	}
	if f.AssignedTo != "" && item.AssignedTo != f.AssignedTo {
		return false
	}
	if f.CreatedBy != "" && item.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}
