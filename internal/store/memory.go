package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taskflow/api/internal/workflow"
)

// MemoryStore keeps the directory and work items in process. It honours the
// same version checks as PostgresStore and backs tests and database-less runs.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	teams    map[string]Team
	entities map[string]Entity
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		teams:    make(map[string]Team),
		entities: make(map[string]Entity),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func entityKey(kind workflow.Kind, id string) string {
	return string(kind) + "/" + id
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("create user: duplicate id %s", user.ID)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("create user: duplicate email %s", user.Email)
		}
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) ListUsersByRole(_ context.Context, role string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0)
	for _, user := range s.users {
		if user.Role == role {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	return users, nil
}

func (s *MemoryStore) CreateTeam(_ context.Context, team Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.teams[team.ID]; exists {
		return fmt.Errorf("create team: duplicate id %s", team.ID)
	}
	team.MemberIDs = nil
	team.CreatedAt = s.now()
	s.teams[team.ID] = team
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, teamID string) (Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[teamID]
	if !ok {
		return Team{}, ErrNotFound
	}
	team.MemberIDs = make([]string, 0)
	for _, user := range s.users {
		if user.TeamID == teamID {
			team.MemberIDs = append(team.MemberIDs, user.ID)
		}
	}
	sort.Strings(team.MemberIDs)
	return team, nil
}

func (s *MemoryStore) GetEntity(_ context.Context, kind workflow.Kind, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.entities[entityKey(kind, id)]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) CreateEntity(_ context.Context, item Entity) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey(item.Kind, item.ID)
	if _, exists := s.entities[key]; exists {
		return Entity{}, fmt.Errorf("create %s: duplicate id %s", item.Kind, item.ID)
	}
	now := s.now()
	item.Version = 1
	item.CreatedAt, item.UpdatedAt = now, now
	s.entities[key] = item
	return item, nil
}

func (s *MemoryStore) SaveEntity(_ context.Context, item Entity) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey(item.Kind, item.ID)
	current, ok := s.entities[key]
	if !ok {
		return Entity{}, ErrNotFound
	}
	if current.Version != item.Version {
		return Entity{}, ErrVersionConflict
	}
	item.Version = current.Version + 1
	item.CreatedAt = current.CreatedAt
	item.CreatedBy = current.CreatedBy
	item.UpdatedAt = s.now()
	s.entities[key] = item
	return item, nil
}

func (s *MemoryStore) DeleteEntity(_ context.Context, kind workflow.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey(kind, id)
	if _, ok := s.entities[key]; !ok {
		return ErrNotFound
	}
	delete(s.entities, key)
	return nil
}

func (s *MemoryStore) FindEntities(_ context.Context, kind workflow.Kind, filter Filter) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Entity, 0)
	for _, item := range s.entities {
		if item.Kind == kind && filter.matches(item) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if limit := filter.limit(); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
