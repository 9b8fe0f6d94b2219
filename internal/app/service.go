package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"taskflow/api/internal/auth"
	"taskflow/api/internal/authpw"
	"taskflow/api/internal/config"
	"taskflow/api/internal/notify"
	"taskflow/api/internal/rbac"
	"taskflow/api/internal/search"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
	"taskflow/api/internal/workflow"
)

const tracerName = "taskflow/api/internal/app"

type EntityStore interface {
	GetEntity(ctx context.Context, kind workflow.Kind, id string) (store.Entity, error)
	CreateEntity(ctx context.Context, item store.Entity) (store.Entity, error)
	SaveEntity(ctx context.Context, item store.Entity) (store.Entity, error)
	DeleteEntity(ctx context.Context, kind workflow.Kind, id string) error
	FindEntities(ctx context.Context, kind workflow.Kind, filter store.Filter) ([]store.Entity, error)
	Ping(ctx context.Context) error
}

type userDirectory interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	// ResolveUser reads the authoritative record, skipping any cache.
	ResolveUser(ctx context.Context, userID string) (store.User, error)
	Ping(ctx context.Context) error
}

type notifier interface {
	Notify(event notify.Event)
}

type searchIndex interface {
	IndexEntity(item store.Entity)
	DeleteEntity(id string)
	Search(ctx context.Context, q search.Query) search.Response
}

type passwordAuth interface {
	SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error)
	EnsureAdmin(ctx context.Context, account authpw.AdminAccount) (bool, error)
}

// Dependencies are the collaborators of Service. Notifier, Search and Auth
// are optional.
type Dependencies struct {
	Store     EntityStore
	Directory userDirectory
	Notifier  notifier
	Search    searchIndex
	Auth      passwordAuth
	Logger    *log.Logger
	Tracer    trace.Tracer
}

// Service is the workflow engine: every change to a task or milestone goes
// through it so that the transition rules and version checks always apply.
type Service struct {
	cfg       config.Config
	store     EntityStore
	directory userDirectory
	notifier  notifier
	search    searchIndex
	auth      passwordAuth
	logger    *log.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	if deps.Store == nil || deps.Directory == nil {
		panic("store and directory are required")
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		search:    deps.Search,
		auth:      deps.Auth,
		logger:    deps.Logger,
		tracer:    deps.Tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.notifier == nil {
		s.notifier = discardNotifier{}
	}
	if s.search == nil {
		s.search = discardIndex{}
	}
	if s.logger == nil {
		s.logger = log.StandardLogger()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

type discardNotifier struct{}

func (discardNotifier) Notify(notify.Event) {}

type discardIndex struct{}

func (discardIndex) IndexEntity(store.Entity) {}
func (discardIndex) DeleteEntity(string)      {}
func (discardIndex) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

// Bootstrap creates the configured admin account when no admin exists yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.auth == nil {
		return nil
	}
	created, err := s.auth.EnsureAdmin(ctx, authpw.AdminAccount{
		Email:       s.cfg.BootstrapAdminEmail,
		Password:    s.cfg.BootstrapAdminPassword,
		DisplayName: s.cfg.BootstrapAdminName,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		s.logger.WithField("email", s.cfg.BootstrapAdminEmail).Info("bootstrap admin created")
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingDirectory checks the directory cache. Lookups fall back to the store
// when it fails, so readiness does not depend on it.
func (s *Service) PingDirectory(ctx context.Context) error {
	return s.directory.Ping(ctx)
}

type Session struct {
	Token     string
	ExpiresAt time.Time
	Actor     workflow.Actor
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.auth == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.auth.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if errors.Is(err, authpw.ErrMissingCredentials) {
		return Session{}, errInvalidBody(err.Error())
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, errUnauthorized(err.Error())
	}
	if err != nil {
		return Session{}, err
	}

	actor := actorFromUser(user)
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  actor.ID,
		Name: actor.Name,
		Role: string(actor.Role),
		Team: actor.Team,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	s.logger.WithFields(log.Fields{"user_id": actor.ID, "role": actor.Role}).Info("user signed in")
	return Session{Token: token, ExpiresAt: expiresAt, Actor: actor}, nil
}

// ActorFromToken verifies token and re-reads the user from the directory's
// source, not its cache, so that role and team changes apply to the next
// request.
func (s *Service) ActorFromToken(ctx context.Context, token string) (workflow.Actor, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return workflow.Actor{}, err
	}
	user, err := s.directory.ResolveUser(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return workflow.Actor{}, auth.ErrInvalidToken
	}
	if err != nil {
		return workflow.Actor{}, fmt.Errorf("resolve actor: %w", err)
	}
	return actorFromUser(user), nil
}

func actorFromUser(user store.User) workflow.Actor {
	return workflow.Actor{
		ID:   user.ID,
		Name: user.DisplayName,
		Role: rbac.Normalize(user.Role),
		Team: user.TeamID,
	}
}
