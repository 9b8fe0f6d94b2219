// Package directory resolves users and teams for the workflow engine. Lookups
// go to the entity store and are optionally fronted by a cache.
package directory

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskflow/api/internal/store"
)

// Source is the authoritative user and team data.
type Source interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	ListUsersByRole(ctx context.Context, role string) ([]store.User, error)
}

// Cache holds directory records between lookups. A miss is reported as
// found == false with a nil error.
type Cache interface {
	GetUser(ctx context.Context, userID string) (store.User, bool, error)
	SetUser(ctx context.Context, user store.User) error
	GetTeam(ctx context.Context, teamID string) (store.Team, bool, error)
	SetTeam(ctx context.Context, team store.Team) error
	Invalidate(ctx context.Context, userIDs, teamIDs []string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Directory struct {
	source Source
	cache  Cache
	logger *log.Logger
}

// New returns a Directory over source. cache may be nil.
func New(source Source, cache Cache, logger *log.Logger) *Directory {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Directory{source: source, cache: cache, logger: logger}
}

func (d *Directory) GetUser(ctx context.Context, userID string) (store.User, error) {
	if d.cache != nil {
		user, found, err := d.cache.GetUser(ctx, userID)
		if err != nil {
			d.logger.WithError(err).WithField("user_id", userID).Warn("directory cache read failed")
		} else if found {
			return user, nil
		}
	}

	user, err := d.source.GetUser(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	user.PasswordHash = ""
	if d.cache != nil {
		if err := d.cache.SetUser(ctx, user); err != nil {
			d.logger.WithError(err).WithField("user_id", userID).Warn("directory cache write failed")
		}
	}
	return user, nil
}

// ResolveUser reads userID from the source, bypassing the cache, and brings
// the cache up to date. When the cached copy had a different role or team,
// the cached records of both teams are dropped as well.
func (d *Directory) ResolveUser(ctx context.Context, userID string) (store.User, error) {
	user, err := d.source.GetUser(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	user.PasswordHash = ""
	if d.cache == nil {
		return user, nil
	}

	entry := d.logger.WithField("user_id", userID)
	cached, found, err := d.cache.GetUser(ctx, userID)
	if err != nil {
		entry.WithError(err).Warn("directory cache read failed")
	} else if found && (cached.Role != user.Role || cached.TeamID != user.TeamID) {
		teams := make([]string, 0, 2)
		for _, id := range []string{cached.TeamID, user.TeamID} {
			if id != "" {
				teams = append(teams, id)
			}
		}
		if err := d.cache.Invalidate(ctx, []string{userID}, teams); err != nil {
			entry.WithError(err).Warn("directory cache invalidation failed")
		} else {
			entry.WithFields(log.Fields{"role": user.Role, "team_id": user.TeamID}).Info("directory cache refreshed after user change")
		}
	}
	if err := d.cache.SetUser(ctx, user); err != nil {
		entry.WithError(err).Warn("directory cache write failed")
	}
	return user, nil
}

// Ping checks the cache. A directory without a cache, or with one that cannot
// be pinged, is always reachable.
func (d *Directory) Ping(ctx context.Context) error {
	if p, ok := d.cache.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (d *Directory) GetTeam(ctx context.Context, teamID string) (store.Team, error) {
	if d.cache != nil {
		team, found, err := d.cache.GetTeam(ctx, teamID)
		if err != nil {
			d.logger.WithError(err).WithField("team_id", teamID).Warn("directory cache read failed")
		} else if found {
			return team, nil
		}
	}

	team, err := d.source.GetTeam(ctx, teamID)
	if err != nil {
		return store.Team{}, err
	}
	if d.cache != nil {
		if err := d.cache.SetTeam(ctx, team); err != nil {
			d.logger.WithError(err).WithField("team_id", teamID).Warn("directory cache write failed")
		}
	}
	return team, nil
}

// ListUsersByRole always reads the source.
func (d *Directory) ListUsersByRole(ctx context.Context, role string) ([]store.User, error) {
	users, err := d.source.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}
