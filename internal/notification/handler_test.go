package notification_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nail-dp-dev/naildp-realtime/internal/notification"
	"github.com/nail-dp-dev/naildp-realtime/internal/push"
	"github.com/nail-dp-dev/naildp-realtime/internal/testutil"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
	"github.com/nail-dp-dev/naildp-realtime/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type fixture struct {
	router   *gin.Engine
	repo     *notification.GormRepository
	registry *push.Registry
	tokens   *jwt.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newRepo(t)
	registry := push.NewRegistry("notification", push.Options{})
	mgr, auth := testutil.Auth(t)

	h := notification.NewHandler(notification.NewService(repo), registry, nil, idgen.MustNanoID(), push.DefaultStreamConfig(), auth)
	r := gin.New()
	h.RegisterRoutes(r)

	return &fixture{router: r, repo: repo, registry: registry, tokens: mgr}
}

func (f *fixture) do(t *testing.T, method, path, nickname, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if nickname != "" {
		req.Header.Set("Authorization", testutil.Bearer(t, f.tokens, nickname))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestHandler_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/notifications", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_ListAndMarkRead(t *testing.T) {
	f := newFixture(t)
	ids := seed(t, f.repo, "bob", 3)

	w, env := f.do(t, http.MethodGet, "/api/notifications?size=2", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Items      []notification.PushNotification `json:"items"`
		HasNext    bool                            `json:"has_next"`
		NextCursor string                          `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasNext)
	assert.NotEmpty(t, page.NextCursor)

	body := `{"notification_ids":[` + jsonID(ids[0]) + `,` + jsonID(ids[1]) + `]}`
	w, env = f.do(t, http.MethodPatch, "/api/notifications", "bob", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":2}`, string(env.Data))

	w, env = f.do(t, http.MethodGet, "/api/notifications/unread-count", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, string(env.Data))

	w, env = f.do(t, http.MethodPost, "/api/notifications/read-all", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, string(env.Data))
}

func TestHandler_MarkRead_BadBody(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodPatch, "/api/notifications", "bob", `{"notification_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestHandler_List_InvalidCursor(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodGet, "/api/notifications?cursor=zzz", "bob", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestHandler_Online_LocalRegistry(t *testing.T) {
	f := newFixture(t)
	f.registry.Connect("carol", "s1", push.NewSSEHandle(1))

	_, env := f.do(t, http.MethodGet, "/api/notifications/online/carol", "bob", "")
	assert.JSONEq(t, `{"nickname":"carol","online":true}`, string(env.Data))

	_, env = f.do(t, http.MethodGet, "/api/notifications/online/dave", "bob", "")
	assert.JSONEq(t, `{"nickname":"dave","online":false}`, string(env.Data))
}

func jsonID(id uint64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
