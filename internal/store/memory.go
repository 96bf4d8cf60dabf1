package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Tyrowin/hivechat/internal/model"
)

// Memory is an in-process Store. Every read returns a copy.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]model.User
	chats    map[string]*model.Chat
	messages map[string][]model.Message // chat id -> messages in insert order
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]model.User),
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]model.Message),
	}
}

// Close is a no-op.
func (m *Memory) Close(context.Context) error { return nil }

// CreateUser stores user, rejecting an email already taken in any case.
func (m *Memory) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicate
		}
	}
	stampUser(user)
	m.users[user.ID] = *user
	return nil
}

// FindUserByID returns the user with id.
func (m *Memory) FindUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// FindUserByEmail matches email case-insensitively.
func (m *Memory) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns one page of users ordered by username.
func (m *Memory) ListUsers(_ context.Context, page, size int) ([]model.User, error) {
	m.mu.RLock()
	all := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })

	start := (page - 1) * size
	if start >= len(all) {
		return []model.User{}, nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// FindUsersByIDs returns the users that exist among ids.
func (m *Memory) FindUsersByIDs(_ context.Context, ids []string) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// SetAdmin sets the admin flag on the users that exist among ids.
func (m *Memory) SetAdmin(_ context.Context, ids []string, isAdmin bool) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []model.User{}
	t := now()
	for _, id := range ids {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		u.IsAdmin = isAdmin
		u.UpdatedAt = t
		m.users[id] = u
		out = append(out, u)
	}
	return out, nil
}

// DeleteUsers removes the users among ids and reports how many existed.
func (m *Memory) DeleteUsers(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := m.users[id]; ok {
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

// CreateChat stores a copy of chat.
func (m *Memory) CreateChat(_ context.Context, chat *model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stampChat(chat)
	m.chats[chat.ID] = chat.Clone()
	return nil
}

// FindChatByID returns a copy of the chat with id.
func (m *Memory) FindChatByID(_ context.Context, id string) (*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// FindDirectChat returns the 1:1 chat holding both users.
func (m *Memory) FindDirectChat(_ context.Context, userA, userB string) (*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.chats {
		if !c.IsGroupChat && c.HasMember(userA) && c.HasMember(userB) {
			return c.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListChatsForUser returns the chats userID belongs to, most recently
// updated first.
func (m *Memory) ListChatsForUser(_ context.Context, userID string) ([]model.Chat, error) {
	m.mu.RLock()
	out := []model.Chat{}
	for _, c := range m.chats {
		if c.HasMember(userID) {
			out = append(out, *c.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// updateChat applies fn to the stored chat under the write lock.
func (m *Memory) updateChat(id string, fn func(c *model.Chat)) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(c)
	c.UpdatedAt = now()
	return c.Clone(), nil
}

// RenameChat sets the chat name.
func (m *Memory) RenameChat(_ context.Context, id, name string) (*model.Chat, error) {
	return m.updateChat(id, func(c *model.Chat) { c.ChatName = name })
}

// AddChatMember appends userID unless it is already a member.
func (m *Memory) AddChatMember(_ context.Context, id, userID string) (*model.Chat, error) {
	return m.updateChat(id, func(c *model.Chat) {
		if !c.HasMember(userID) {
			c.Users = append(c.Users, userID)
		}
	})
}

// RemoveChatMember drops userID from the member list.
func (m *Memory) RemoveChatMember(_ context.Context, id, userID string) (*model.Chat, error) {
	return m.updateChat(id, func(c *model.Chat) {
		kept := c.Users[:0]
		for _, u := range c.Users {
			if u != userID {
				kept = append(kept, u)
			}
		}
		c.Users = kept
	})
}

// DeleteChat removes the chat together with its messages.
func (m *Memory) DeleteChat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[id]; !ok {
		return ErrNotFound
	}
	delete(m.chats, id)
	delete(m.messages, id)
	return nil
}

// CreateMessage appends msg and records it as the chat's latest message.
func (m *Memory) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[msg.Chat]
	if !ok {
		return ErrNotFound
	}
	stampMessage(msg)
	m.messages[msg.Chat] = append(m.messages[msg.Chat], *msg)
	c.LatestMessage = msg.ID
	c.UpdatedAt = msg.CreatedAt
	return nil
}

// ListMessages returns the chat's messages oldest first.
func (m *Memory) ListMessages(_ context.Context, chatID string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]model.Message{}, m.messages[chatID]...), nil
}

// FindMessageByID returns the message with id.
func (m *Memory) FindMessageByID(_ context.Context, id string) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msgs := range m.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				msg := msgs[i]
				return &msg, nil
			}
		}
	}
	return nil, ErrNotFound
}
