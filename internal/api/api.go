// Package api serves the REST surface: users, chats and messages.
//
// Every write is persisted through the store first; only then is the result
// handed to the realtime fan-out.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/model"
	"github.com/Tyrowin/hivechat/internal/realtime"
	"github.com/Tyrowin/hivechat/internal/store"
)

// Fanout notifies live connections of persisted changes. *realtime.Router
// implements it.
type Fanout interface {
	BroadcastMessage(ctx context.Context, msg *model.Message) (int, error)
	BroadcastChatEvent(ctx context.Context, kind realtime.ChatEventKind, chat *model.Chat, affected ...string) (int, error)
}

// Handler holds the dependencies of every route.
type Handler struct {
	store  store.Store
	issuer *auth.Issuer
	fanout Fanout
	log    *zap.Logger
}

// New returns a Handler.
func New(st store.Store, issuer *auth.Issuer, fanout Fanout, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: st, issuer: issuer, fanout: fanout, log: log}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	users := r.Group("/user")
	users.POST("", h.registerUser)
	users.POST("/login", h.login)
	users.GET("", h.listUsers)
	users.GET("/:id", h.getUser)
	users.PUT("", h.RequireAuth, h.setAdmin)
	users.DELETE("", h.RequireAuth, h.deleteUsers)

	chats := r.Group("/chat", h.RequireAuth)
	chats.GET("", h.listChats)
	chats.POST("", h.accessChat)
	chats.POST("/group", h.createGroup)
	chats.PUT("/rename", h.renameChat)
	chats.PUT("/add", h.addMember)
	chats.PUT("/remove", h.removeMember)
	chats.DELETE("/:id", h.deleteChat)

	messages := r.Group("/message", h.RequireAuth)
	messages.POST("", h.sendMessage)
	messages.GET("/:chatID", h.listMessages)
}

// fanoutContext detaches the fan-out from the request. The response has
// been written by then and the caller hanging up must not cancel delivery.
func fanoutContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// notifyChat runs a lifecycle fan-out. Its failure never reaches the
// client; the write already succeeded.
func (h *Handler) notifyChat(c *gin.Context, kind realtime.ChatEventKind, chat *model.Chat, affected ...string) {
	if h.fanout == nil {
		return
	}
	if _, err := h.fanout.BroadcastChatEvent(fanoutContext(c), kind, chat, affected...); err != nil {
		h.log.Info("chat event not delivered", zap.Stringer("kind", kind), zap.String("chat", chat.ID), zap.Error(err))
	}
}

// chatView resolves the references of chat. Every caller has already
// completed its write, so a failed lookup degrades to bare ids.
func (h *Handler) chatView(c *gin.Context, chat *model.Chat) *model.ChatView {
	view, err := store.PopulateChat(c.Request.Context(), h.store, chat)
	if err != nil {
		h.log.Warn("populate chat failed", zap.String("chat", chat.ID), zap.Error(err))
		return chat.View(nil, nil)
	}
	return view
}

func (h *Handler) respondChat(c *gin.Context, chat *model.Chat) {
	c.JSON(http.StatusOK, h.chatView(c, chat))
}
