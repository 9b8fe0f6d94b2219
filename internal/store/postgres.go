package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskflow/api/internal/workflow"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, display_name, email, password_hash, role, COALESCE(team_id, ''), created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.TeamID, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE role=$1 ORDER BY display_name`, role)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, team_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.TeamID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(leader_id, ''), created_at
		FROM teams
		WHERE id=$1
	`, teamID).Scan(&team.ID, &team.Name, &team.LeaderID, &team.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Team{}, ErrNotFound
	}
	if err != nil {
		return Team{}, fmt.Errorf("get team: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE team_id=$1 ORDER BY id`, teamID)
	if err != nil {
		return Team{}, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()
	team.MemberIDs = make([]string, 0)
	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return Team{}, fmt.Errorf("scan team member: %w", err)
		}
		team.MemberIDs = append(team.MemberIDs, memberID)
	}
	return team, rows.Err()
}

const entityColumns = `id, kind, title, description, assigned_to, team_id, created_by, status, modified_by, rejection_reason, version, created_at, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (Entity, error) {
	var item Entity
	var kind, status string
	err := row.Scan(&item.ID, &kind, &item.Title, &item.Description, &item.AssignedTo, &item.Team, &item.CreatedBy, &status, &item.ModifiedBy, &item.RejectionReason, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	item.Kind = workflow.Kind(kind)
	item.Status = workflow.State(status)
	return item, err
}

func (s *PostgresStore) GetEntity(ctx context.Context, kind workflow.Kind, id string) (Entity, error) {
	item, err := scanEntity(s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM work_items WHERE id=$1 AND kind=$2`, id, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("get %s: %w", kind, err)
	}
	return item, nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, item Entity) (Entity, error) {
	created, err := scanEntity(s.db.QueryRowContext(ctx, `
		INSERT INTO work_items (id, kind, title, description, assigned_to, team_id, created_by, status, modified_by, rejection_reason, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		RETURNING `+entityColumns,
		item.ID, string(item.Kind), item.Title, item.Description, item.AssignedTo, item.Team, item.CreatedBy, string(item.Status), item.ModifiedBy, item.RejectionReason,
	))
	if err != nil {
		return Entity{}, fmt.Errorf("create %s: %w", item.Kind, err)
	}
	return created, nil
}

// SaveEntity writes item only if the stored version still equals item.Version.
func (s *PostgresStore) SaveEntity(ctx context.Context, item Entity) (Entity, error) {
	saved, err := scanEntity(s.db.QueryRowContext(ctx, `
		UPDATE work_items
		SET title=$4, description=$5, assigned_to=$6, team_id=$7, status=$8, modified_by=$9, rejection_reason=$10,
			version=version+1, updated_at=NOW()
		WHERE id=$1 AND kind=$2 AND version=$3
		RETURNING `+entityColumns,
		item.ID, string(item.Kind), item.Version, item.Title, item.Description, item.AssignedTo, item.Team, string(item.Status), item.ModifiedBy, item.RejectionReason,
	))
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("save %s: %w", item.Kind, err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM work_items WHERE id=$1 AND kind=$2)`, item.ID, string(item.Kind)).Scan(&exists); err != nil {
		return Entity{}, fmt.Errorf("check %s: %w", item.Kind, err)
	}
	if !exists {
		return Entity{}, ErrNotFound
	}
	return Entity{}, ErrVersionConflict
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, kind workflow.Kind, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE id=$1 AND kind=$2`, id, string(kind))
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindEntities(ctx context.Context, kind workflow.Kind, filter Filter) ([]Entity, error) {
	where := []string{"kind = $1"}
	args := []any{string(kind)}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", string(filter.Status))
	add("team_id", filter.Team)
	add("assigned_to", filter.AssignedTo)
	add("created_by", filter.CreatedBy)
	args = append(args, filter.limit())

	query := fmt.Sprintf(`SELECT %s FROM work_items WHERE %s ORDER BY updated_at DESC, id LIMIT $%d`,
		entityColumns, strings.Join(where, " AND "), len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Entity, 0)
	for rows.Next() {
		item, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateTeam(ctx context.Context, team Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, leader_id)
		VALUES ($1, $2, NULLIF($3, ''))
	`, team.ID, team.Name, team.LeaderID)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}
