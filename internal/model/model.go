// Package model defines the documents persisted by the chat backend.
//
// Ids are hex-encoded Mongo ObjectIDs carried as plain strings so that the
// realtime layer never depends on the storage driver.
package model

import "time"

// User is a registered account.
type User struct {
	ID           string    `bson:"_id" json:"_id"`
	Username     string    `bson:"username" json:"username"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"password" json:"-"`
	IsAdmin      bool      `bson:"isAdmin" json:"isAdmin"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Chat is a 1:1 or group conversation. Users is the authoritative
// membership list.
type Chat struct {
	ID            string    `bson:"_id" json:"_id"`
	ChatName      string    `bson:"chatName" json:"chatName"`
	IsGroupChat   bool      `bson:"isGroupChat" json:"isGroupChat"`
	Users         []string  `bson:"users" json:"users"`
	GroupAdmin    string    `bson:"groupAdmin,omitempty" json:"groupAdmin,omitempty"`
	LatestMessage string    `bson:"latestMessage,omitempty" json:"latestMessage,omitempty"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
}

// HasMember reports whether userID belongs to the chat.
func (c *Chat) HasMember(userID string) bool {
	for _, id := range c.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate the member list freely.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	out.Users = append([]string(nil), c.Users...)
	return &out
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `bson:"_id" json:"_id"`
	Sender    string    `bson:"sender" json:"sender"`
	Chat      string    `bson:"chat" json:"chat"`
	Content   string    `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Profile is the public part of a User embedded in populated documents.
// A profile whose user no longer exists carries only the id.
type Profile struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Profiles maps user ids to their public profiles.
type Profiles map[string]Profile

// Get returns the profile of id, or a bare one when id is unknown.
func (p Profiles) Get(id string) Profile {
	if prof, ok := p[id]; ok {
		return prof
	}
	return Profile{ID: id}
}

// ChatView is a chat with its members, admin and latest message resolved,
// the shape returned by the chat routes and lifecycle events.
type ChatView struct {
	ID            string            `json:"_id"`
	ChatName      string            `json:"chatName"`
	IsGroupChat   bool              `json:"isGroupChat"`
	Users         []Profile         `json:"users"`
	GroupAdmin    *Profile          `json:"groupAdmin,omitempty"`
	LatestMessage *PopulatedMessage `json:"latestMessage,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// MemberIDs returns the ids of the chat's members in order.
func (v *ChatView) MemberIDs() []string {
	ids := make([]string, 0, len(v.Users))
	for _, u := range v.Users {
		ids = append(ids, u.ID)
	}
	return ids
}

// View resolves c against p. latest is attached as the latest message.
func (c *Chat) View(p Profiles, latest *PopulatedMessage) *ChatView {
	v := &ChatView{
		ID:            c.ID,
		ChatName:      c.ChatName,
		IsGroupChat:   c.IsGroupChat,
		Users:         make([]Profile, 0, len(c.Users)),
		LatestMessage: latest,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	for _, id := range c.Users {
		v.Users = append(v.Users, p.Get(id))
	}
	if c.GroupAdmin != "" {
		admin := p.Get(c.GroupAdmin)
		v.GroupAdmin = &admin
	}
	return v
}

// PopulatedMessage is a message with its sender and chat resolved, the
// shape delivered in "message received" events and REST responses. Chat is
// omitted when the message is itself embedded in a chat.
type PopulatedMessage struct {
	ID        string    `json:"_id"`
	Sender    Profile   `json:"sender"`
	Chat      *ChatView `json:"chat,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Populate resolves the sender against p and attaches chat.
func (m *Message) Populate(p Profiles, chat *ChatView) *PopulatedMessage {
	return &PopulatedMessage{
		ID:        m.ID,
		Sender:    p.Get(m.Sender),
		Chat:      chat,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
