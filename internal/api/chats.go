package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/Tyrowin/hivechat/internal/model"
	"github.com/Tyrowin/hivechat/internal/realtime"
	"github.com/Tyrowin/hivechat/internal/store"
)

const defaultChatName = "New chat"

type accessChatRequest struct {
	UserID   string `json:"userID"`
	UserName string `json:"userName"`
}

// groupRequest.Users is a JSON array of ids, or a string holding one.
type groupRequest struct {
	Name  string          `json:"name"`
	Users json.RawMessage `json:"users"`
}

type renameRequest struct {
	ChatID   string `json:"chatID"`
	ChatName string `json:"chatName"`
}

type memberRequest struct {
	ChatID string `json:"chatID"`
	UserID string `json:"userID"`
}

func (h *Handler) listChats(c *gin.Context) {
	chats, err := h.store.ListChatsForUser(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	refs := make([]*model.Chat, 0, len(chats))
	for i := range chats {
		refs = append(refs, &chats[i])
	}
	views, err := store.PopulateChats(c.Request.Context(), h.store, refs...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// accessChat returns the 1:1 chat between the caller and userID, creating it
// on first access under the name userName.
func (h *Handler) accessChat(c *gin.Context) {
	var req accessChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		h.fail(c, badRequest("userID is required"))
		return
	}
	me := currentUser(c).ID
	if req.UserID == me {
		h.fail(c, badRequest("cannot open a chat with yourself"))
		return
	}

	ctx := c.Request.Context()
	chat, err := h.store.FindDirectChat(ctx, me, req.UserID)
	if err == nil {
		h.respondChat(c, chat)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.fail(c, err)
		return
	}

	if _, err := h.store.FindUserByID(ctx, req.UserID); err != nil {
		h.fail(c, err)
		return
	}
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = defaultChatName
	}
	chat = &model.Chat{ChatName: name, Users: []string{me, req.UserID}}
	if err := h.store.CreateChat(ctx, chat); err != nil {
		h.fail(c, err)
		return
	}

	h.respondChat(c, chat)
	h.notifyChat(c, realtime.ChatCreated, chat)
}

func (h *Handler) createGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Users) == 0 {
		h.fail(c, badRequest("please fill all the fields"))
		return
	}
	ids, err := parseUserList(req.Users)
	if err != nil {
		h.fail(c, err)
		return
	}

	me := currentUser(c).ID
	members := uniqueIDs(ids, me)
	if len(members) < 2 {
		h.fail(c, badRequest("more than 2 users are required to form a group chat"))
		return
	}

	chat := &model.Chat{
		ChatName:    req.Name,
		IsGroupChat: true,
		Users:       append(members, me),
		GroupAdmin:  me,
	}
	if err := h.store.CreateChat(c.Request.Context(), chat); err != nil {
		h.fail(c, err)
		return
	}

	h.respondChat(c, chat)
	h.notifyChat(c, realtime.GroupCreated, chat)
}

func parseUserList(raw json.RawMessage) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return ids, nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, badRequest("users must be a list of ids")
	}
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		return nil, badRequest("users must be a list of ids")
	}
	return ids, nil
}

// uniqueIDs drops blanks, duplicates and exclude, keeping order.
func uniqueIDs(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// memberChat loads chatID and checks that the caller belongs to it.
func (h *Handler) memberChat(c *gin.Context, chatID string) (*model.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, badRequest("chatID is required")
	}
	chat, err := h.store.FindChatByID(c.Request.Context(), chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(currentUser(c).ID) {
		return nil, forbidden("not a member of this chat")
	}
	return chat, nil
}

func (h *Handler) renameChat(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ChatName) == "" {
		h.fail(c, badRequest("chatID and chatName are required"))
		return
	}
	if _, err := h.memberChat(c, req.ChatID); err != nil {
		h.fail(c, err)
		return
	}

	chat, err := h.store.RenameChat(c.Request.Context(), req.ChatID, strings.TrimSpace(req.ChatName))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respondChat(c, chat)
	h.notifyChat(c, realtime.ChatRenamed, chat)
}

func (h *Handler) addMember(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		h.fail(c, badRequest("chatID and userID are required"))
		return
	}
	if _, err := h.memberChat(c, req.ChatID); err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.store.FindUserByID(c.Request.Context(), req.UserID); err != nil {
		h.fail(c, err)
		return
	}

	chat, err := h.store.AddChatMember(c.Request.Context(), req.ChatID, req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respondChat(c, chat)
	h.notifyChat(c, realtime.MemberAdded, chat)
}

func (h *Handler) removeMember(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		h.fail(c, badRequest("chatID and userID are required"))
		return
	}
	if _, err := h.memberChat(c, req.ChatID); err != nil {
		h.fail(c, err)
		return
	}

	chat, err := h.store.RemoveChatMember(c.Request.Context(), req.ChatID, req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respondChat(c, chat)
	h.notifyChat(c, realtime.MemberRemoved, chat, req.UserID)
}

func (h *Handler) deleteChat(c *gin.Context) {
	chat, err := h.memberChat(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.DeleteChat(c.Request.Context(), chat.ID); err != nil {
		h.fail(c, err)
		return
	}

	h.respondChat(c, chat)
	h.notifyChat(c, realtime.ChatDeleted, chat)
}
