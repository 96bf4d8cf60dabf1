package realtime

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/model"
	"github.com/Tyrowin/hivechat/internal/store"
)

// ErrRecipientsUnresolved is returned when a fan-out cannot determine who
// should receive the event.
var ErrRecipientsUnresolved = errors.New("recipients unresolved")

// ChatFinder resolves the authoritative member list of a chat and the
// profiles embedded in fan-out payloads.
type ChatFinder interface {
	store.Populator
	FindChatByID(ctx context.Context, id string) (*model.Chat, error)
}

// ChatEventKind is a chat lifecycle change.
type ChatEventKind int

const (
	ChatCreated ChatEventKind = iota
	GroupCreated
	ChatRenamed
	MemberAdded
	MemberRemoved
	ChatDeleted
)

var chatEventNames = map[ChatEventKind]EventName{
	ChatCreated:   "chat created response",
	GroupCreated:  "group created response",
	ChatRenamed:   "rename response",
	MemberAdded:   "user added response",
	MemberRemoved: "user deleted response",
	ChatDeleted:   "chat deleted response",
}

// EventName returns the wire name emitted for k.
func (k ChatEventKind) EventName() EventName {
	return chatEventNames[k]
}

func (k ChatEventKind) String() string {
	if name, ok := chatEventNames[k]; ok {
		return string(name)
	}
	return "unknown"
}

// Router dispatches inbound client events and fans out persisted results
// to personal channels.
type Router struct {
	registry   *Registry
	membership *Membership
	chats      ChatFinder
	timeout    time.Duration
	log        *zap.Logger
}

// NewRouter wires a Router. timeout bounds each member-list lookup; zero
// means no bound beyond the caller's context.
func NewRouter(reg *Registry, membership *Membership, chats ChatFinder, timeout time.Duration, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		registry:   reg,
		membership: membership,
		chats:      chats,
		timeout:    timeout,
		log:        log,
	}
}

// HandleEvent implements Handler.
func (r *Router) HandleEvent(c *Conn, ev Event) {
	switch e := ev.(type) {
	case SetupEvent:
		if err := r.membership.Setup(c, e.UserID); err != nil {
			c.replyError(err)
		}
	case JoinChatEvent:
		r.membership.JoinChat(c, e.ChatID)
	case LeaveChatEvent:
		r.membership.LeaveChat(c, e.ChatID)
	case TypingEvent:
		r.typing(c, e)
	default:
		r.log.Warn("unhandled event", zap.String("event", string(ev.Name())))
	}
}

// HandleDisconnect implements Handler.
func (r *Router) HandleDisconnect(c *Conn) {
	r.membership.Disconnect(c)
}

func (r *Router) typing(c *Conn, e TypingEvent) {
	payload := TypingPayload{ChatID: e.ChatID, UserID: c.UserID()}
	n := r.registry.EmitToOthers(ChatChannel(e.ChatID), c.ID(), e.Name(), payload)
	r.log.Debug("typing relayed",
		zap.String("event", string(e.Name())),
		zap.String("chat", e.ChatID),
		zap.Int("delivered", n))
}

// bound applies the fan-out timeout to ctx.
func (r *Router) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Router) resolve(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := r.chats.FindChatByID(ctx, chatID)
	if err != nil {
		return nil, errors.Wrapf(ErrRecipientsUnresolved, "find chat %s: %v", chatID, err)
	}
	if len(chat.Users) == 0 {
		return nil, errors.Wrapf(ErrRecipientsUnresolved, "chat %s has no members", chatID)
	}
	return chat, nil
}

// chatView populates chat. Recipients never depend on it: a failed lookup
// degrades the payload to bare ids.
func (r *Router) chatView(ctx context.Context, chat *model.Chat) *model.ChatView {
	view, err := store.PopulateChat(ctx, r.chats, chat)
	if err != nil {
		r.log.Warn("populate chat failed, sending ids only", zap.String("chat", chat.ID), zap.Error(err))
		return chat.View(nil, nil)
	}
	return view
}

// BroadcastMessage delivers a persisted message to every member of its chat
// except the sender. The member list is read fresh from the store. It
// returns the number of connections reached.
func (r *Router) BroadcastMessage(ctx context.Context, msg *model.Message) (int, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	chat, err := r.resolve(ctx, msg.Chat)
	if err != nil {
		r.log.Warn("message fan-out skipped", zap.String("message", msg.ID), zap.Error(err))
		return 0, err
	}

	view := r.chatView(ctx, chat)
	payload := msg.Populate(nil, view)
	if populated, err := store.PopulateMessages(ctx, r.chats, view, *msg); err != nil {
		r.log.Warn("populate sender failed, sending id only", zap.String("message", msg.ID), zap.Error(err))
	} else {
		payload = populated[0]
	}

	channels := personalChannels(chat.Users, msg.Sender)
	n := r.registry.EmitToChannels(channels, "", EventMessageReceived, payload)
	r.log.Debug("message fan-out",
		zap.String("message", msg.ID),
		zap.String("chat", chat.ID),
		zap.Int("recipients", len(channels)),
		zap.Int("delivered", n))
	return n, nil
}

// BroadcastChatEvent notifies every member of chat, the actor included,
// plus any affected users no longer in the member list, such as a removed
// member or the members of a deleted chat.
func (r *Router) BroadcastChatEvent(ctx context.Context, kind ChatEventKind, chat *model.Chat, affected ...string) (int, error) {
	name, ok := chatEventNames[kind]
	if !ok {
		return 0, errors.Errorf("unknown chat event kind %d", kind)
	}
	if chat == nil {
		r.log.Warn("chat event skipped", zap.Stringer("kind", kind), zap.Error(ErrRecipientsUnresolved))
		return 0, ErrRecipientsUnresolved
	}

	users := make([]string, 0, len(chat.Users)+len(affected))
	users = append(users, chat.Users...)
	users = append(users, affected...)
	if len(users) == 0 {
		r.log.Warn("chat event skipped",
			zap.Stringer("kind", kind),
			zap.String("chat", chat.ID),
			zap.Error(ErrRecipientsUnresolved))
		return 0, ErrRecipientsUnresolved
	}

	ctx, cancel := r.bound(ctx)
	defer cancel()

	channels := personalChannels(users, "")
	n := r.registry.EmitToChannels(channels, "", name, r.chatView(ctx, chat))
	r.log.Debug("chat event fan-out",
		zap.Stringer("kind", kind),
		zap.String("chat", chat.ID),
		zap.Int("recipients", len(channels)),
		zap.Int("delivered", n))
	return n, nil
}

// personalChannels maps distinct user ids to their personal channels,
// skipping exclude and empty ids.
func personalChannels(users []string, exclude string) []ChannelID {
	seen := make(map[string]struct{}, len(users))
	out := make([]ChannelID, 0, len(users))
	for _, u := range users {
		if u == "" || u == exclude {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, PersonalChannel(u))
	}
	return out
}
