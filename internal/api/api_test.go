package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/provider/providertest"
	"github.com/bliqhq/bliq/internal/registry"
	"github.com/bliqhq/bliq/internal/storage/memory"
	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/tasks"
	"github.com/bliqhq/bliq/internal/types"
	"github.com/bliqhq/bliq/internal/users"
)

const (
	email    = "ada@example.com"
	password = "correct-horse"
	ghToken  = "gh-tok"
)

type recorder struct {
	created []string
	updated []string
	deleted []string
}

func (r *recorder) TaskCreated(t *types.Task)         { r.created = append(r.created, t.ID) }
func (r *recorder) TaskUpdated(t *types.Task)         { r.updated = append(r.updated, t.ID) }
func (r *recorder) TaskDeleted(userID, taskID string) { r.deleted = append(r.deleted, taskID) }

type testServer struct {
	handler http.Handler
	store   *memory.Store
	github  *providertest.Fake
	events  *recorder
	user    *types.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	reg := registry.New(store)
	gh := providertest.New(types.ServiceGitHub, ghToken)
	gh.AddCollection(
		provider.CollectionInfo{ID: "r1", Name: "api", Owner: "acme", FullName: "acme/api"},
		provider.ExternalItem{ID: "100", Ref: "1", Title: "Crash on start", Labels: []string{"high"}},
		provider.ExternalItem{ID: "101", Ref: "2", Title: "Docs", Closed: true},
	)

	quiet := log.New(io.Discard, "", 0)
	engine := sync.New(sync.Config{
		Store:     store,
		Registry:  reg,
		Providers: provider.Set{types.ServiceGitHub: gh},
		Logger:    quiet,
	})
	userSvc := users.New(store).WithCost(bcrypt.MinCost)
	events := &recorder{}

	srv, err := New(Deps{
		Users:    userSvc,
		Tasks:    tasks.New(store, engine),
		Sync:     engine,
		Registry: reg,
		Events:   events,
	}, &Config{Addr: "127.0.0.1:0", Logger: quiet})
	require.NoError(t, err)

	u, err := userSvc.Create(context.Background(), email, "Ada", password)
	require.NoError(t, err)

	return &testServer{handler: srv.Handler(), store: store, github: gh, events: events, user: u}
}

// do sends a request authenticated as the test user unless auth is false.
func (ts *testServer) do(t *testing.T, method, path string, body interface{}, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.SetBasicAuth(email, password)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestSignup(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body signupRequest
		code int
	}{
		{"created", signupRequest{Email: "bob@example.com", Password: "longenough"}, http.StatusCreated},
		{"duplicate", signupRequest{Email: "ADA@example.com", Password: "longenough"}, http.StatusConflict},
		{"short password", signupRequest{Email: "eve@example.com", Password: "short"}, http.StatusBadRequest},
		{"bad email", signupRequest{Email: "nope", Password: "longenough"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/signup", tt.body, false)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w := ts.do(t, http.MethodPost, "/api/v1/signup", signupRequest{Email: "carl@example.com", Password: "longenough"}, false)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/tasks", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.SetBasicAuth(email, "wrong-password")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/me", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[types.User](t, w)
	assert.Equal(t, ts.user.ID, me.ID)
}

func TestTaskCRUD(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/tasks", tasks.NewTask{Title: "Write tests", Tags: []string{"Dev"}}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[types.Task](t, w)
	assert.Equal(t, types.SourceLocal, created.Source)
	assert.Equal(t, []string{created.ID}, ts.events.created)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks", tasks.NewTask{Title: "  "}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/tasks?tag=dev", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.Task](t, w), 1)

	w = ts.do(t, http.MethodGet, "/api/v1/tasks?status=bogus", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/tasks?since=yesterday", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/v1/tasks/"+created.ID, map[string]string{"status": "done", "title": "Write more tests"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[tasks.UpdateResult](t, w)
	assert.Equal(t, types.StatusDone, updated.Task.Status)
	assert.Equal(t, "Write more tests", updated.Task.Title)
	require.NotNil(t, updated.Status)

	w = ts.do(t, http.MethodPatch, "/api/v1/tasks/"+created.ID, map[string]string{"status": "archived"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks/"+created.ID+"/comments", commentRequest{Body: "looks good"}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	comment := decode[types.Comment](t, w)
	assert.Equal(t, "Ada", comment.Author)

	w = ts.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[types.Task](t, w).Comments, 1)

	w = ts.do(t, http.MethodDelete, "/api/v1/tasks/"+created.ID, nil, true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{created.ID}, ts.events.deleted)

	w = ts.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskOwnership(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	other, err := types.NewTask("someone-else", "Private", ts.user.CreatedAt)
	require.NoError(t, err)
	require.NoError(t, ts.store.PutUser(ctx, &types.User{ID: "someone-else", Email: "x@example.com", Name: "x", PasswordHash: "x"}))
	require.NoError(t, ts.store.PutTask(ctx, other))

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := ts.do(t, method, "/api/v1/tasks/"+other.ID, nil, true)
		assert.Equal(t, http.StatusNotFound, w.Code, method)
	}
	w := ts.do(t, http.MethodPost, "/api/v1/tasks/"+other.ID+"/push", pushRequest{Service: "github", Collection: "r1"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIntegrationFlow(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/integrations/github", connectRequest{Token: "bad"}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/integrations/gitlab", connectRequest{Token: ghToken}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/integrations/github/collections", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code, "not connected yet")

	w = ts.do(t, http.MethodPost, "/api/v1/integrations/github", connectRequest{Token: ghToken}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), ghToken)

	w = ts.do(t, http.MethodGet, "/api/v1/integrations/github/collections", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]provider.CollectionInfo](t, w), 1)

	w = ts.do(t, http.MethodPut, "/api/v1/integrations/github/collections", selectRequest{IDs: []string{"nope"}}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/integrations/github/collections", selectRequest{IDs: []string{"acme/api"}}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	in := decode[types.Integration](t, w)
	require.Len(t, in.SelectedRepos, 1)
	assert.Equal(t, "r1", in.SelectedRepos[0].ID)

	w = ts.do(t, http.MethodPost, "/api/v1/sync", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[SyncResponse](t, w)
	assert.Equal(t, 2, res.Pull.Inserted)

	w = ts.do(t, http.MethodPost, "/api/v1/sync", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[SyncResponse](t, w).Pull.Inserted)

	w = ts.do(t, http.MethodGet, "/api/v1/integrations", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.Integration](t, w), 1)

	w = ts.do(t, http.MethodDelete, "/api/v1/integrations/github", nil, true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/integrations", nil, true)
	assert.Len(t, decode[[]types.Integration](t, w), 0)
}

func TestPush(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/integrations/github", connectRequest{Token: ghToken}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks", tasks.NewTask{Title: "Ship it", Priority: types.PriorityHigh}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	task := decode[types.Task](t, w)

	w = ts.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/push", pushRequest{Service: "github"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code, "collection required")

	w = ts.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/push", pushRequest{Service: "github", Collection: "r1"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[sync.PushResult](t, w)
	assert.False(t, res.NoOp)
	assert.Equal(t, types.SourceGitHub, res.Task.Source)
	assert.Equal(t, 1, ts.github.CallCount("CreateItem"))

	w = ts.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/push", pushRequest{Service: "github", Collection: "r1"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[sync.PushResult](t, w).NoOp)
	assert.Equal(t, 1, ts.github.CallCount("CreateItem"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{types.ErrInvalidTask, http.StatusBadRequest},
		{users.ErrInvalidCredentials, http.StatusUnauthorized},
		{provider.ErrUnauthorized, http.StatusUnprocessableEntity},
		{provider.ErrForbidden, http.StatusForbidden},
		{registry.ErrNotConnected, http.StatusNotFound},
		{sync.ErrUnknownCollection, http.StatusNotFound},
		{users.ErrUserExists, http.StatusConflict},
		{provider.ErrUnavailable, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}
