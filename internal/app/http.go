package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskflow/api/internal/auth"
	"taskflow/api/internal/search"
	"taskflow/api/internal/store"
	"taskflow/api/internal/workflow"
)

const actorContextKey = "taskflow.actor"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *log.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *log.Logger) *HTTPServer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.accessLog)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{s.corsOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))

	e.GET("/api/health", s.handleHealth)
	e.HEAD("/api/health", s.handleHealth)
	e.GET("/api/ready", s.handleReady)
	e.HEAD("/api/ready", s.handleReady)
	e.POST("/api/auth/signin", s.handleSignIn)
	e.GET("/api/session", s.handleSession)

	api := e.Group("/api", s.requireActor)
	api.POST("/tasks", s.handleCreateTask)
	api.GET("/tasks", s.handleList(workflow.KindTask))
	api.GET("/tasks/:ref", s.handleGet(workflow.KindTask))
	api.POST("/tasks/:ref", s.handleAction(workflow.KindTask))
	api.DELETE("/tasks/:ref", s.handleDelete(workflow.KindTask))
	api.POST("/milestones", s.handleCreateMilestone)
	api.GET("/milestones", s.handleList(workflow.KindMilestone))
	api.GET("/milestones/:ref", s.handleGet(workflow.KindMilestone))
	api.POST("/milestones/:ref", s.handleAction(workflow.KindMilestone))
	api.DELETE("/milestones/:ref", s.handleDelete(workflow.KindMilestone))
	api.GET("/search", s.handleSearch)

	return e
}

func (s *HTTPServer) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.WithFields(log.Fields{
			"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			"method":      c.Request().Method,
			"path":        c.Request().URL.Path,
			"status":      c.Response().Status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
		return nil
	}
}

func (s *HTTPServer) requireActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request())
		if token == "" {
			return errUnauthorized("Unauthorized")
		}
		actor, err := s.service.ActorFromToken(c.Request().Context(), token)
		if err != nil {
			return err
		}
		c.Set(actorContextKey, actor)
		return next(c)
	}
}

func actorFrom(c echo.Context) workflow.Actor {
	actor, _ := c.Get(actorContextKey).(workflow.Actor)
	return actor
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	checks["cache"] = map[string]any{"status": "ok"}
	if err := s.service.PingDirectory(ctx); err != nil {
		checks["cache"] = map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		}
	}
	return c.JSON(statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSignIn(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	session, err := s.service.SignIn(c.Request().Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"accessToken": session.Token,
		"expiresAt":   session.ExpiresAt,
		"userId":      session.Actor.ID,
		"userName":    session.Actor.Name,
		"role":        session.Actor.Role,
		"team":        session.Actor.Team,
	})
}

func (s *HTTPServer) handleSession(c echo.Context) error {
	token := bearerToken(c.Request())
	if token == "" {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
	}
	actor, err := s.service.ActorFromToken(c.Request().Context(), token)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        actor.ID,
		"userName":      actor.Name,
		"role":          actor.Role,
		"team":          actor.Team,
	})
}

func (s *HTTPServer) handleCreateTask(c echo.Context) error {
	var body CreateTaskInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	item, err := s.service.CreateTask(c.Request().Context(), actorFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toEntityResponse(item))
}

func (s *HTTPServer) handleCreateMilestone(c echo.Context) error {
	var body CreateMilestoneInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	item, err := s.service.CreateMilestone(c.Request().Context(), actorFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toEntityResponse(item))
}

func (s *HTTPServer) handleList(kind workflow.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, err := queryInt(c, "limit")
		if err != nil {
			return err
		}
		items, err := s.service.List(c.Request().Context(), kind, actorFrom(c), ListFilter{
			Status:     c.QueryParam("status"),
			Team:       c.QueryParam("team"),
			AssignedTo: c.QueryParam("assignedTo"),
			Limit:      limit,
		})
		if err != nil {
			return err
		}
		response := make([]entityResponse, 0, len(items))
		for _, item := range items {
			response = append(response, toEntityResponse(item))
		}
		return c.JSON(http.StatusOK, map[string]any{"items": response})
	}
}

func (s *HTTPServer) handleGet(kind workflow.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		item, err := s.service.Get(c.Request().Context(), kind, c.Param("ref"), actorFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toEntityResponse(item))
	}
}

func (s *HTTPServer) handleDelete(kind workflow.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := s.service.Delete(c.Request().Context(), kind, c.Param("ref"), actorFrom(c)); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// handleAction serves POST /{kind}/{id}:{action}.
func (s *HTTPServer) handleAction(kind workflow.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, action, ok := splitRef(c.Param("ref"))
		if !ok {
			return domainError(http.StatusNotFound, CodeNotFound, "Not found", nil)
		}

		var body struct {
			Status     string `json:"status"`
			Reason     string `json:"reason"`
			AssignedTo string `json:"assignedTo"`
		}
		if err := decodeBody(c, &body); err != nil {
			return err
		}

		ctx := c.Request().Context()
		actor := actorFrom(c)
		var (
			item store.Entity
			err  error
		)
		switch {
		case action == "transition":
			if strings.TrimSpace(body.Status) == "" {
				return errValidation("status is required", map[string]string{"status": "required"})
			}
			item, err = s.service.ApplyTransition(ctx, kind, id, workflow.State(strings.TrimSpace(body.Status)), actor, TransitionExtra{RejectionReason: body.Reason})
		case action == "assign":
			item, err = s.service.Reassign(ctx, kind, id, actor, body.AssignedTo)
		case kind == workflow.KindMilestone && action == "submit":
			item, err = s.service.ApplyTransition(ctx, kind, id, workflow.StateSubmitted, actor, TransitionExtra{})
		case kind == workflow.KindMilestone && action == "verify":
			item, err = s.service.ApplyTransition(ctx, kind, id, workflow.StateVerified, actor, TransitionExtra{})
		case kind == workflow.KindMilestone && action == "reject":
			item, err = s.service.ApplyTransition(ctx, kind, id, workflow.StateRejected, actor, TransitionExtra{RejectionReason: body.Reason})
		default:
			return domainError(http.StatusNotFound, CodeNotFound, "Unknown action", map[string]any{"action": action})
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toEntityResponse(item))
	}
}

func (s *HTTPServer) handleSearch(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}
	response, err := s.service.Search(c.Request().Context(), actorFrom(c), search.Query{
		Text:       c.QueryParam("q"),
		Kind:       workflow.Kind(strings.TrimSpace(c.QueryParam("kind"))),
		Status:     workflow.State(strings.TrimSpace(c.QueryParam("status"))),
		Team:       c.QueryParam("team"),
		AssignedTo: c.QueryParam("assignedTo"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, response)
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Request().URL.Path,
		}).Error("request failed")
	}
	if writeErr := writeError(c, status, code, message, details); writeErr != nil {
		s.logger.WithError(writeErr).Warn("write error response")
	}
}

type entityResponse struct {
	ID              string         `json:"id"`
	Kind            workflow.Kind  `json:"kind"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	AssignedTo      string         `json:"assignedTo"`
	Team            string         `json:"team"`
	CreatedBy       string         `json:"createdBy"`
	Status          workflow.State `json:"status"`
	ModifiedBy      string         `json:"modifiedBy"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func toEntityResponse(item store.Entity) entityResponse {
	return entityResponse{
		ID:              item.ID,
		Kind:            item.Kind,
		Title:           item.Title,
		Description:     item.Description,
		AssignedTo:      item.AssignedTo,
		Team:            item.Team,
		CreatedBy:       item.CreatedBy,
		Status:          item.Status,
		ModifiedBy:      item.ModifiedBy,
		RejectionReason: item.RejectionReason,
		Version:         item.Version,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}

func writeError(c echo.Context, status int, code, message string, details any) error {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, response)
}

func decodeBody(c echo.Context, target any) error {
	body := c.Request().Body
	if body == nil {
		return nil
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidBody("invalid JSON body")
	}
	return nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errValidation(name+" must be a non-negative integer", map[string]any{name: raw})
	}
	return value, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// splitRef splits "id:action" on the last colon.
func splitRef(ref string) (id, action string, ok bool) {
	i := strings.LastIndex(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		switch httpErr.Code {
		case http.StatusNotFound:
			return httpErr.Code, CodeNotFound, message, nil
		case http.StatusMethodNotAllowed:
			return httpErr.Code, "METHOD_NOT_ALLOWED", message, nil
		case http.StatusUnauthorized:
			return httpErr.Code, CodeUnauthorized, message, nil
		case http.StatusBadRequest:
			return httpErr.Code, CodeInvalidBody, message, nil
		}
		if httpErr.Code < http.StatusInternalServerError {
			return httpErr.Code, strings.ToUpper(strings.ReplaceAll(message, " ", "_")), message, nil
		}
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
