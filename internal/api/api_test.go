package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/model"
	"github.com/Tyrowin/hivechat/internal/realtime"
	"github.com/Tyrowin/hivechat/internal/store"
)

type chatEvent struct {
	kind     realtime.ChatEventKind
	chat     *model.Chat
	affected []string
}

// recordingFanout records calls and checks that each message is already
// persisted when it arrives.
type recordingFanout struct {
	t     *testing.T
	store store.Store

	mu       sync.Mutex
	messages []*model.Message
	events   []chatEvent
}

func (f *recordingFanout) BroadcastMessage(ctx context.Context, msg *model.Message) (int, error) {
	stored, err := f.store.ListMessages(ctx, msg.Chat)
	require.NoError(f.t, err)
	found := false
	for _, m := range stored {
		found = found || m.ID == msg.ID
	}
	assert.True(f.t, found, "message %s broadcast before it was persisted", msg.ID)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return 0, nil
}

func (f *recordingFanout) BroadcastChatEvent(_ context.Context, kind realtime.ChatEventKind, chat *model.Chat, affected ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, chatEvent{kind: kind, chat: chat.Clone(), affected: affected})
	return 0, nil
}

func (f *recordingFanout) lastEvent(t *testing.T) chatEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.events)
	return f.events[len(f.events)-1]
}

type testAPI struct {
	engine *gin.Engine
	store  *store.Memory
	issuer *auth.Issuer
	fanout *recordingFanout
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	issuer := auth.NewIssuer("test-secret", time.Hour)
	fanout := &recordingFanout{t: t, store: st}

	engine := gin.New()
	New(st, issuer, fanout, zap.NewNop()).Register(engine)
	return &testAPI{engine: engine, store: st, issuer: issuer, fanout: fanout}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.HeaderToken, token)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

// register creates a user and returns its id and token.
func (a *testAPI) register(t *testing.T, name string) (string, string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/user", "", gin.H{
		"username": name,
		"email":    name + "@example.com",
		"password": "pw-" + name,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user model.User
	decode(t, rec, &user)
	token := rec.Header().Get(auth.HeaderToken)
	require.NotEmpty(t, token)
	return user.ID, token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
