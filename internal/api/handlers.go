package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/tasks"
	"github.com/bliqhq/bliq/internal/types"
)

const userKey = "bliq.user"

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/signup", s.handleSignup)

	authed := v1.Group("", s.basicAuth)
	authed.GET("/me", s.handleMe)

	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PATCH("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
	authed.POST("/tasks/:id/comments", s.handleComment)
	authed.POST("/tasks/:id/push", s.handlePush)

	authed.POST("/sync", s.handleSync)

	authed.GET("/integrations", s.handleListIntegrations)
	authed.POST("/integrations/:service", s.handleConnect)
	authed.DELETE("/integrations/:service", s.handleDisconnect)
	authed.GET("/integrations/:service/collections", s.handleListCollections)
	authed.PUT("/integrations/:service/collections", s.handleSelectCollections)

	if s.deps.Dashboard != nil {
		s.router.GET("/ws", s.basicAuth, s.handleWebSocket)
	}
}

// basicAuth resolves the request's credentials to a local user.
func (s *Server) basicAuth(c *gin.Context) {
	email, password, ok := c.Request.BasicAuth()
	if !ok {
		c.Header("WWW-Authenticate", `Basic realm="bliq"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	u, err := s.deps.Users.Authenticate(c.Request.Context(), email, password)
	if err != nil {
		c.Header("WWW-Authenticate", `Basic realm="bliq"`)
		s.fail(c, err)
		return
	}
	c.Set(userKey, u)
	c.Next()
}

func currentUser(c *gin.Context) *types.User {
	return c.MustGet(userKey).(*types.User)
}

func parseService(c *gin.Context) (types.Service, error) {
	svc, err := types.ParseService(c.Param("service"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return svc, nil
}

func bindJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	u, err := s.deps.Users.Create(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) handleListTasks(c *gin.Context) {
	f := tasks.Filter{
		Tag:   c.Query("tag"),
		Query: c.Query("q"),
	}
	if v := c.Query("status"); v != "" {
		st, err := types.ParseStatus(v)
		if err != nil {
			s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		f.Status = st
	}
	if v := c.Query("source"); v != "" {
		src := types.Source(strings.ToLower(v))
		if !src.IsValid() {
			s.fail(c, fmt.Errorf("%w: invalid source %q", errBadRequest, v))
			return
		}
		f.Source = src
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.fail(c, fmt.Errorf("%w: since must be RFC 3339: %v", errBadRequest, err))
			return
		}
		f.Since = since
	}

	list, err := s.deps.Tasks.List(c.Request.Context(), currentUser(c).ID, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req tasks.NewTask
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	t, err := s.deps.Tasks.Create(c.Request.Context(), currentUser(c).ID, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.deps.Events != nil {
		s.deps.Events.TaskCreated(t)
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.deps.Tasks.Get(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var req tasks.Update
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.deps.Tasks.Update(c.Request.Context(), currentUser(c).ID, c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.deps.Events != nil {
		s.deps.Events.TaskUpdated(res.Task)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	u := currentUser(c)
	id := c.Param("id")
	if err := s.deps.Tasks.Delete(c.Request.Context(), u.ID, id); err != nil {
		s.fail(c, err)
		return
	}
	if s.deps.Events != nil {
		s.deps.Events.TaskDeleted(u.ID, id)
	}
	c.Status(http.StatusNoContent)
}

type commentRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleComment(c *gin.Context) {
	var req commentRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	u := currentUser(c)
	ctx := c.Request.Context()
	comment, err := s.deps.Tasks.Comment(ctx, u.ID, c.Param("id"), u.Name, req.Body)
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.deps.Events != nil {
		if t, err := s.deps.Tasks.Get(ctx, u.ID, c.Param("id")); err == nil {
			s.deps.Events.TaskUpdated(t)
		}
	}
	c.JSON(http.StatusCreated, comment)
}

type pushRequest struct {
	Service    string `json:"service"`
	Collection string `json:"collection"`
}

func (s *Server) handlePush(c *gin.Context) {
	var req pushRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	svc, err := types.ParseService(req.Service)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Collection == "" {
		s.fail(c, fmt.Errorf("%w: collection is required", errBadRequest))
		return
	}

	ctx := c.Request.Context()
	t, err := s.deps.Tasks.Get(ctx, currentUser(c).ID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.deps.Sync.Push(ctx, t.ID, svc, req.Collection)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SyncResponse is the body of POST /sync.
type SyncResponse struct {
	Pull  *sync.PullResult  `json:"pull"`
	Queue *sync.DrainResult `json:"queue"`
}

func (s *Server) handleSync(c *gin.Context) {
	u := currentUser(c)
	ctx := c.Request.Context()

	pull, err := s.deps.Sync.Pull(ctx, u.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	drain, err := s.deps.Sync.DrainQueue(ctx, u.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{Pull: pull, Queue: drain})
}

func (s *Server) handleListIntegrations(c *gin.Context) {
	list, err := s.deps.Registry.List(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type connectRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleConnect(c *gin.Context) {
	svc, err := parseService(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req connectRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	in, err := s.deps.Sync.Connect(c.Request.Context(), currentUser(c).ID, svc, req.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	svc, err := parseService(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Registry.Disconnect(c.Request.Context(), currentUser(c).ID, svc); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListCollections(c *gin.Context) {
	svc, err := parseService(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	list, err := s.deps.Sync.ListCollections(c.Request.Context(), currentUser(c).ID, svc)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type selectRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleSelectCollections(c *gin.Context) {
	svc, err := parseService(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req selectRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	in, err := s.deps.Sync.SelectCollections(c.Request.Context(), currentUser(c).ID, svc, req.IDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.deps.Dashboard.ServeUser(c.Writer, c.Request, currentUser(c).ID)
}
