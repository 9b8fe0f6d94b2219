package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskflow/api/internal/store"
)

const (
	userKeyPrefix = "taskflow:dir:user:"
	teamKeyPrefix = "taskflow:dir:team:"
	defaultTTL    = 5 * time.Minute
)

type cachedUser struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	TeamID      string    `json:"team_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type cachedTeam struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LeaderID  string    `json:"leader_id,omitempty"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisCache stores directory records as JSON with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) GetUser(ctx context.Context, userID string) (store.User, bool, error) {
	var data cachedUser
	found, err := c.get(ctx, userKeyPrefix+userID, &data)
	if err != nil || !found {
		return store.User{}, false, err
	}
	return store.User{
		ID:          data.ID,
		DisplayName: data.DisplayName,
		Email:       data.Email,
		Role:        data.Role,
		TeamID:      data.TeamID,
		CreatedAt:   data.CreatedAt,
		UpdatedAt:   data.UpdatedAt,
	}, true, nil
}

func (c *RedisCache) SetUser(ctx context.Context, user store.User) error {
	return c.set(ctx, userKeyPrefix+user.ID, cachedUser{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        user.Role,
		TeamID:      user.TeamID,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	})
}

func (c *RedisCache) GetTeam(ctx context.Context, teamID string) (store.Team, bool, error) {
	var data cachedTeam
	found, err := c.get(ctx, teamKeyPrefix+teamID, &data)
	if err != nil || !found {
		return store.Team{}, false, err
	}
	return store.Team{
		ID:        data.ID,
		Name:      data.Name,
		LeaderID:  data.LeaderID,
		MemberIDs: data.MemberIDs,
		CreatedAt: data.CreatedAt,
	}, true, nil
}

func (c *RedisCache) SetTeam(ctx context.Context, team store.Team) error {
	return c.set(ctx, teamKeyPrefix+team.ID, cachedTeam{
		ID:        team.ID,
		Name:      team.Name,
		LeaderID:  team.LeaderID,
		MemberIDs: team.MemberIDs,
		CreatedAt: team.CreatedAt,
	})
}

// Invalidate drops the cached user and team records for the given ids.
func (c *RedisCache) Invalidate(ctx context.Context, userIDs, teamIDs []string) error {
	keys := make([]string, 0, len(userIDs)+len(teamIDs))
	for _, id := range userIDs {
		keys = append(keys, userKeyPrefix+id)
	}
	for _, id := range teamIDs {
		keys = append(keys, teamKeyPrefix+id)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate directory cache: %w", err)
	}
	return nil
}

func (c *RedisCache) get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
