package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Tyrowin/hivechat/internal/model"
)

// Populator is the read side needed to resolve the references held by chats
// and messages.
type Populator interface {
	// FindUsersByIDs returns the users that exist among ids, in no
	// particular order.
	FindUsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
	FindMessageByID(ctx context.Context, id string) (*model.Message, error)
}

// LoadProfiles fetches the public profiles of ids with a single query.
// Unknown ids are absent from the result.
func LoadProfiles(ctx context.Context, p Populator, ids ...string) (model.Profiles, error) {
	ids = distinct(ids)
	out := make(model.Profiles, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := p.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load profiles")
	}
	for i := range users {
		out[users[i].ID] = users[i].Profile()
	}
	return out, nil
}

// PopulateChats resolves members, admins and latest messages of chats. A
// latest message that no longer exists is left out.
func PopulateChats(ctx context.Context, p Populator, chats ...*model.Chat) ([]*model.ChatView, error) {
	latest := make(map[string]*model.Message)
	var ids []string
	for _, c := range chats {
		ids = append(ids, c.Users...)
		ids = append(ids, c.GroupAdmin)
		if c.LatestMessage == "" {
			continue
		}
		if _, ok := latest[c.LatestMessage]; ok {
			continue
		}
		msg, err := p.FindMessageByID(ctx, c.LatestMessage)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "load latest message of chat %s", c.ID)
		}
		latest[c.LatestMessage] = msg
		ids = append(ids, msg.Sender)
	}

	profiles, err := LoadProfiles(ctx, p, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]*model.ChatView, 0, len(chats))
	for _, c := range chats {
		var last *model.PopulatedMessage
		if msg, ok := latest[c.LatestMessage]; ok {
			last = msg.Populate(profiles, nil)
		}
		out = append(out, c.View(profiles, last))
	}
	return out, nil
}

// PopulateChat is PopulateChats for a single chat.
func PopulateChat(ctx context.Context, p Populator, chat *model.Chat) (*model.ChatView, error) {
	views, err := PopulateChats(ctx, p, chat)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// PopulateMessages resolves the sender of each message and attaches chat.
func PopulateMessages(ctx context.Context, p Populator, chat *model.ChatView, msgs ...model.Message) ([]*model.PopulatedMessage, error) {
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].Sender)
	}
	profiles, err := LoadProfiles(ctx, p, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]*model.PopulatedMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Populate(profiles, chat))
	}
	return out, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
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
