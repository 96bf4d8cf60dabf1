// Package store is the persistence gateway for users, chats and messages.
//
// Two implementations are provided: Mongo, backed by a MongoDB database, and
// Memory, an in-process map used for development and tests. Both return
// ErrNotFound and ErrDuplicate so callers never inspect driver errors.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Tyrowin/hivechat/internal/model"
)

var (
	// ErrNotFound is returned when the requested document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique field (user email) is taken.
	ErrDuplicate = errors.New("duplicate")
)

// Store is the full document store consumed by the REST layer. The realtime
// router only needs FindChatByID and the Populator reads.
type Store interface {
	Populator

	CreateUser(ctx context.Context, user *model.User) error
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context, page, size int) ([]model.User, error)
	SetAdmin(ctx context.Context, ids []string, isAdmin bool) ([]model.User, error)
	DeleteUsers(ctx context.Context, ids []string) (int64, error)

	CreateChat(ctx context.Context, chat *model.Chat) error
	FindChatByID(ctx context.Context, id string) (*model.Chat, error)
	FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]model.Chat, error)
	RenameChat(ctx context.Context, id, name string) (*model.Chat, error)
	AddChatMember(ctx context.Context, id, userID string) (*model.Chat, error)
	RemoveChatMember(ctx context.Context, id, userID string) (*model.Chat, error)
	DeleteChat(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)

	Close(ctx context.Context) error
}

// NewID returns a fresh hex ObjectID.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func stampUser(u *model.User) {
	t := now()
	if u.ID == "" {
		u.ID = NewID()
	}
	u.CreatedAt, u.UpdatedAt = t, t
}

func stampChat(c *model.Chat) {
	t := now()
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Users == nil {
		c.Users = []string{}
	}
	c.CreatedAt, c.UpdatedAt = t, t
}

func stampMessage(m *model.Message) {
	if m.ID == "" {
		m.ID = NewID()
	}
	m.CreatedAt = now()
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Mongo)(nil)
)
