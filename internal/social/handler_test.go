package social_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nail-dp-dev/naildp-realtime/internal/social"
	"github.com/nail-dp-dev/naildp-realtime/internal/testutil"
	"github.com/nail-dp-dev/naildp-realtime/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type server struct {
	router *gin.Engine
	tokens *jwt.Manager
}

func newServer(t *testing.T) (*server, *env) {
	t.Helper()
	e := newEnv(t)
	mgr, auth := testutil.Auth(t)

	r := gin.New()
	social.NewHandler(e.svc, auth).RegisterRoutes(r)
	return &server{router: r, tokens: mgr}, e
}

func (s *server) do(t *testing.T, method, path, nickname, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if nickname != "" {
		req.Header.Set("Authorization", testutil.Bearer(t, s.tokens, nickname))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHandler_RequiresAuth(t *testing.T) {
	s, _ := newServer(t)

	code, _ := s.do(t, http.MethodPost, "/api/follows/bob", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHandler_FollowFlow(t *testing.T) {
	s, e := newServer(t)

	code, _ := s.do(t, http.MethodPost, "/api/follows/bob", "alice", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp := s.do(t, http.MethodPost, "/api/follows/bob", "alice", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", resp.Error.Code)

	code, resp = s.do(t, http.MethodPost, "/api/follows/alice", "alice", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, _ = s.do(t, http.MethodDelete, "/api/follows/bob", "alice", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodDelete, "/api/follows/bob", "alice", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	assert.Len(t, e.notifications(t, "bob"), 1)
}

func TestHandler_PostInteractions(t *testing.T) {
	s, e := newServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/posts", "bob", `{"content":"cat eye"}`)
	require.Equal(t, http.StatusCreated, code)
	var post social.Post
	require.NoError(t, json.Unmarshal(resp.Data, &post))
	require.NotZero(t, post.ID)

	path := "/api/posts/" + formatUint(post.ID)

	code, _ = s.do(t, http.MethodPost, path+"/likes", "alice", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodPost, path+"/comments", "alice", `{"content":"gorgeous"}`)
	require.Equal(t, http.StatusCreated, code)
	var comment social.Comment
	require.NoError(t, json.Unmarshal(resp.Data, &comment))

	code, _ = s.do(t, http.MethodPost, "/api/comments/"+formatUint(comment.ID)+"/likes", "bob", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodDelete, path+"/likes", "alice", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodPost, "/api/posts/abc/likes", "alice", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, _ = s.do(t, http.MethodPost, "/api/posts/999/comments", "alice", `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, code)

	assert.Len(t, e.notifications(t, "bob"), 2)
	assert.Len(t, e.notifications(t, "alice"), 1)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
