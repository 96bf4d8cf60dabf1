package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/model"
	"github.com/Tyrowin/hivechat/internal/store"
)

type sendMessageRequest struct {
	ChatID  string `json:"chatID"`
	Content string `json:"content"`
}

// sendMessage persists a message, answers with it, then fans it out to the
// other members of the chat.
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		h.fail(c, badRequest("chatID and content are required"))
		return
	}
	if _, err := h.memberChat(c, req.ChatID); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	msg := &model.Message{Sender: currentUser(c).ID, Chat: req.ChatID, Content: req.Content}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		h.fail(c, err)
		return
	}
	chat, err := h.store.FindChatByID(ctx, req.ChatID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, h.populateMessages(c, chat, *msg)[0])

	if h.fanout == nil {
		return
	}
	if _, err := h.fanout.BroadcastMessage(fanoutContext(c), msg); err != nil {
		h.log.Info("message not delivered", zap.String("message", msg.ID), zap.Error(err))
	}
}

func (h *Handler) listMessages(c *gin.Context) {
	chat, err := h.memberChat(c, c.Param("chatID"))
	if err != nil {
		h.fail(c, err)
		return
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), chat.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.populateMessages(c, chat, msgs...))
}

// populateMessages resolves senders and the chat of msgs, degrading to bare
// ids when a lookup fails.
func (h *Handler) populateMessages(c *gin.Context, chat *model.Chat, msgs ...model.Message) []*model.PopulatedMessage {
	view := h.chatView(c, chat)
	out, err := store.PopulateMessages(c.Request.Context(), h.store, view, msgs...)
	if err != nil {
		h.log.Warn("populate senders failed", zap.String("chat", chat.ID), zap.Error(err))
		out = make([]*model.PopulatedMessage, 0, len(msgs))
		for i := range msgs {
			out = append(out, msgs[i].Populate(nil, view))
		}
	}
	return out
}
