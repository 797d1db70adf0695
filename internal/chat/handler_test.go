package chat_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nail-dp-dev/naildp-realtime/internal/chat"
	"github.com/nail-dp-dev/naildp-realtime/internal/push"
	"github.com/nail-dp-dev/naildp-realtime/internal/testutil"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
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
	*env
	router *gin.Engine
	rooms  *push.Registry
	tokens *jwt.Manager
}

func newServer(t *testing.T) *server {
	t.Helper()
	e := newEnv(t)
	mgr, auth := testutil.Auth(t)
	rooms := push.NewRegistry("chat", push.Options{})

	r := gin.New()
	chat.NewHandler(e.svc, rooms, idgen.MustNanoID(), push.DefaultStreamConfig(), 1<<20, auth).RegisterRoutes(r)
	return &server{env: e, router: r, rooms: rooms, tokens: mgr}
}

func (s *server) request(t *testing.T, req *http.Request, nickname string) (int, apiResponse) {
	t.Helper()
	if nickname != "" {
		req.Header.Set("Authorization", testutil.Bearer(t, s.tokens, nickname))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func (s *server) do(t *testing.T, method, path, nickname, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.request(t, req, nickname)
}

func (s *server) createRoom(t *testing.T, creator string, others ...string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{"nicknames": others})
	require.NoError(t, err)

	code, resp := s.do(t, http.MethodPost, "/api/chat", creator, string(body))
	require.Equal(t, http.StatusCreated, code)
	var room chat.CreatedRoom
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	return room.RoomID
}

func TestHandler_RequiresAuth(t *testing.T) {
	s := newServer(t)
	code, resp := s.do(t, http.MethodGet, "/api/chat/list", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)
}

func TestHandler_RoomLifecycle(t *testing.T) {
	s := newServer(t)
	roomID := s.createRoom(t, "alice", "bob")
	base := "/api/chat/" + roomID

	code, resp := s.do(t, http.MethodPost, base+"/message", "alice", `{"content":["hi"],"mention":["bob"]}`)
	require.Equal(t, http.StatusCreated, code)
	var msg chat.MessageView
	require.NoError(t, json.Unmarshal(resp.Data, &msg))
	assert.Equal(t, int64(1), msg.Seq)
	assert.NotZero(t, msg.ID)

	code, resp = s.do(t, http.MethodPost, base+"/message", "alice", `{"content":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, resp = s.do(t, http.MethodGet, base+"?size=10", "bob", "")
	require.Equal(t, http.StatusOK, code)
	var page chat.MessagePage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, []string{"bob"}, page.Items[0].Mention)

	code, resp = s.do(t, http.MethodGet, "/api/chat/list?category=unread", "bob", "")
	require.Equal(t, http.StatusOK, code)
	var list chat.RoomList
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, int64(1), list.Rooms[0].UnreadCount)

	code, _ = s.do(t, http.MethodPatch, base+"/read", "bob", `{"seq":1}`)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPatch, base+"/read", "bob", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPatch, base+"/pinning", "bob", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPatch, base+"/unpinning", "bob", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPatch, base, "bob", `{"name":"alice & me"}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodDelete, base+"/leave", "bob", "")
	assert.Equal(t, http.StatusOK, code)
	code, resp = s.do(t, http.MethodGet, base, "bob", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/api/chat/list?size=-1", "alice", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_ExistingPersonalRoomReturns200(t *testing.T) {
	s := newServer(t)
	roomID := s.createRoom(t, "alice", "bob")

	code, resp := s.do(t, http.MethodPost, "/api/chat", "bob", `{"nicknames":["alice"]}`)
	require.Equal(t, http.StatusOK, code)
	var room chat.CreatedRoom
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	assert.Equal(t, roomID, room.RoomID)
	assert.False(t, room.Created)
}

func multipartRequest(t *testing.T, path, field string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandler_MediaUploads(t *testing.T) {
	s := newServer(t)
	roomID := s.createRoom(t, "alice", "bob")
	base := "/api/chat/" + roomID

	code, resp := s.request(t, multipartRequest(t, base+"/images", "images", map[string]string{"a.jpg": "aaa", "b.png": "bb"}), "alice")
	require.Equal(t, http.StatusCreated, code)
	var msg chat.MessageView
	require.NoError(t, json.Unmarshal(resp.Data, &msg))
	assert.Equal(t, chat.MessageImage, msg.MessageType)
	assert.Len(t, msg.Media, 2)

	code, _ = s.request(t, multipartRequest(t, base+"/video", "video", map[string]string{"clip.mp4": "mp4"}), "alice")
	assert.Equal(t, http.StatusCreated, code)

	code, _ = s.request(t, multipartRequest(t, base+"/file", "file", map[string]string{"price.xlsx": "xls"}), "bob")
	assert.Equal(t, http.StatusCreated, code)

	code, resp = s.request(t, multipartRequest(t, base+"/images", "images", map[string]string{"evil.exe": "x"}), "alice")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	code, _ = s.do(t, http.MethodPost, base+"/images", "alice", `{"content":["not multipart"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 4, countFiles(t, s.store.BasePath()))
}

func TestHandler_WebSocketSendAndReceive(t *testing.T) {
	s := newServer(t)
	roomID := s.createRoom(t, "alice", "bob")

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	token, _, err := s.tokens.Issue("uid-alice", "alice")
	require.NoError(t, err)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/" + roomID + "/ws?session_id=phone&access_token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env push.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, push.TypeConnected, env.Type)
	require.Eventually(t, func() bool { return s.rooms.Count(roomID) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": chat.MsgTypeChatMessage, "content": []string{"hi from ws"}}))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, chat.TypeMessageAck, env.Type)
	var ack struct {
		Seq int64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &ack))
	assert.Equal(t, int64(1), ack.Seq)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": chat.MsgTypeChatMessage, "content": []string{}}))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, push.TypeError, env.Type)
	assert.Contains(t, string(env.Payload), "VALIDATION_ERROR")

	page, err := s.svc.ListMessages(t.Context(), roomID, "bob", "", 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, []string{"hi from ws"}, page.Items[0].Content)
}

func TestHandler_StreamsRejectNonMembers(t *testing.T) {
	s := newServer(t)
	roomID := s.createRoom(t, "alice", "bob")

	code, resp := s.do(t, http.MethodGet, "/api/chat/"+roomID+"/subscribe", "mallory", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/api/chat/"+roomID+"/ws", "mallory", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_LeaveClosesCallersStreams(t *testing.T) {
	s := newServer(t)
	roomID := s.createRoom(t, "alice", "bob", "carol")

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	token, _, err := s.tokens.Issue("uid-bob", "bob")
	require.NoError(t, err)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/" + roomID + "/ws?session_id=phone&access_token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env push.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, push.TypeConnected, env.Type)
	require.Eventually(t, func() bool { return s.rooms.Count(roomID) == 1 }, time.Second, 10*time.Millisecond)

	alice := push.NewSSEHandle(8)
	s.rooms.Connect(roomID, push.OwnerSession("alice", "laptop"), alice)

	code, _ := s.do(t, http.MethodDelete, "/api/chat/"+roomID+"/leave", "bob", "")
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, 1, s.rooms.Count(roomID))
	assert.Error(t, conn.ReadJSON(&env), "stream of the leaver must end")

	select {
	case <-alice.Done():
		t.Fatal("other participants keep their streams")
	default:
	}
}
