package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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

func openChat(t *testing.T, a *testAPI, token, other string) model.ChatView {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/chat", token, gin.H{"userID": other})
	require.Equal(t, http.StatusOK, rec.Code)
	var chat model.ChatView
	decode(t, rec, &chat)
	return chat
}

func TestSendMessagePersistsBeforeFanout(t *testing.T) {
	a := newTestAPI(t)
	ann, token := a.register(t, "ann")
	bob, bobToken := a.register(t, "bob")
	chat := openChat(t, a, token, bob)

	rec := a.do(t, http.MethodPost, "/message", token, gin.H{"chatID": chat.ID, "content": "hi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var msg model.PopulatedMessage
	decode(t, rec, &msg)
	assert.Equal(t, model.Profile{ID: ann, Username: "ann", Email: "ann@example.com"}, msg.Sender)
	require.NotNil(t, msg.Chat)
	assert.Equal(t, []string{ann, bob}, msg.Chat.MemberIDs())
	require.NotNil(t, msg.Chat.LatestMessage)
	assert.Equal(t, msg.ID, msg.Chat.LatestMessage.ID)

	require.Len(t, a.fanout.messages, 1)
	assert.Equal(t, msg.ID, a.fanout.messages[0].ID)

	rec = a.do(t, http.MethodGet, "/message/"+chat.ID, bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []model.PopulatedMessage
	decode(t, rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "ann", history[0].Sender.Username)
}

func TestSendMessageRejects(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.register(t, "ann")
	bob, _ := a.register(t, "bob")
	_, eveToken := a.register(t, "eve")
	chat := openChat(t, a, token, bob)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/message", token, gin.H{"chatID": chat.ID}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/message", token, gin.H{"chatID": "nope", "content": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/message", eveToken, gin.H{"chatID": chat.ID, "content": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/message/"+chat.ID, eveToken, nil).Code)
	assert.Empty(t, a.fanout.messages)
}

// TestSendMessageReachesOtherMember runs the REST handler against a real
// router and registry.
func TestSendMessageReachesOtherMember(t *testing.T) {
	a := newTestAPI(t)
	ann, annToken := a.register(t, "ann")
	bob, _ := a.register(t, "bob")

	reg := realtime.NewRegistry(realtime.Options{}, zap.NewNop())
	t.Cleanup(func() { _ = reg.Shutdown(time.Second) })
	membership := realtime.NewMembership(reg, zap.NewNop())
	router := realtime.NewRouter(reg, membership, a.store, time.Second, zap.NewNop())

	engine := gin.New()
	New(a.store, a.issuer, router, zap.NewNop()).Register(engine)
	a.engine = engine

	annConn := reg.Connect(nil, realtime.ConnInfo{AuthUserID: ann}, router)
	bobConn := reg.Connect(nil, realtime.ConnInfo{AuthUserID: bob}, router)
	require.NoError(t, membership.Setup(annConn, ann))
	require.NoError(t, membership.Setup(bobConn, bob))
	drain(t, annConn, realtime.EventConnected)
	drain(t, bobConn, realtime.EventConnected)

	chat := openChat(t, a, annToken, bob)
	drain(t, annConn, realtime.ChatCreated.EventName())
	drain(t, bobConn, realtime.ChatCreated.EventName())

	rec := a.do(t, http.MethodPost, "/message", annToken, gin.H{"chatID": chat.ID, "content": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	got := drain(t, bobConn, realtime.EventMessageReceived)
	var msg model.PopulatedMessage
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "ann", msg.Sender.Username)

	select {
	case raw := <-annConn.Send():
		t.Fatalf("sender received %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

// cancelOnWrite cancels the request context once the response is written,
// as net/http does when the client goes away.
type cancelOnWrite struct {
	*httptest.ResponseRecorder
	cancel context.CancelFunc
}

func (w *cancelOnWrite) Write(b []byte) (int, error) {
	n, err := w.ResponseRecorder.Write(b)
	w.cancel()
	return n, err
}

// contextBoundStore fails reads once ctx is done, like the Mongo driver.
type contextBoundStore struct{ *store.Memory }

func (s contextBoundStore) FindChatByID(ctx context.Context, id string) (*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Memory.FindChatByID(ctx, id)
}

func (s contextBoundStore) FindUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Memory.FindUsersByIDs(ctx, ids)
}

func TestFanoutOutlivesRequest(t *testing.T) {
	a := newTestAPI(t)
	ann, annToken := a.register(t, "ann")
	bob, _ := a.register(t, "bob")
	chat := openChat(t, a, annToken, bob)

	st := contextBoundStore{a.store}
	reg := realtime.NewRegistry(realtime.Options{}, zap.NewNop())
	t.Cleanup(func() { _ = reg.Shutdown(time.Second) })
	membership := realtime.NewMembership(reg, zap.NewNop())
	router := realtime.NewRouter(reg, membership, st, time.Second, zap.NewNop())
	engine := gin.New()
	New(st, a.issuer, router, zap.NewNop()).Register(engine)

	bobConn := reg.Connect(nil, realtime.ConnInfo{AuthUserID: bob}, router)
	require.NoError(t, membership.Setup(bobConn, bob))
	drain(t, bobConn, realtime.EventConnected)

	serve := func(method, path, body string) {
		t.Helper()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.HeaderToken, annToken)
		w := &cancelOnWrite{ResponseRecorder: httptest.NewRecorder(), cancel: cancel}
		engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Error(t, ctx.Err(), "request context cancelled after the response")
	}

	serve(http.MethodPost, "/message", `{"chatID":"`+chat.ID+`","content":"hi"}`)
	var msg model.PopulatedMessage
	require.NoError(t, json.Unmarshal(drain(t, bobConn, realtime.EventMessageReceived).Data, &msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, ann, msg.Sender.ID)
	assert.Equal(t, "ann", msg.Sender.Username)

	serve(http.MethodPut, "/chat/rename", `{"chatID":"`+chat.ID+`","chatName":"pair"}`)
	var renamed model.ChatView
	require.NoError(t, json.Unmarshal(drain(t, bobConn, realtime.ChatRenamed.EventName()).Data, &renamed))
	assert.Equal(t, "pair", renamed.ChatName)
	require.Len(t, renamed.Users, 2)
	assert.Equal(t, "ann", renamed.Users[0].Username)
}

func drain(t *testing.T, c *realtime.Conn, want realtime.EventName) realtime.Frame {
	t.Helper()
	select {
	case raw := <-c.Send():
		var f realtime.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		require.Equal(t, want, f.Event)
		return f
	case <-time.After(time.Second):
		t.Fatalf("no %q event", want)
		return realtime.Frame{}
	}
}
