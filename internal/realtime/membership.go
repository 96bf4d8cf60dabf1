package realtime

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrSetupForbidden is returned when a connection authenticated at upgrade
// tries to register as a different user.
var ErrSetupForbidden = errors.New("setup user does not match authenticated user")

// Membership turns setup and chat views into registry joins.
type Membership struct {
	registry *Registry
	log      *zap.Logger
}

// NewMembership returns a Membership backed by reg.
func NewMembership(reg *Registry, log *zap.Logger) *Membership {
	if log == nil {
		log = zap.NewNop()
	}
	return &Membership{registry: reg, log: log}
}

// Setup joins c to the personal channel of userID and acknowledges with a
// connected event. Calling it again with another user moves c to that
// user's channel.
func (m *Membership) Setup(c *Conn, userID string) error {
	if auth := c.AuthUserID(); auth != "" && auth != userID {
		m.log.Warn("setup refused",
			zap.String("conn", string(c.ID())),
			zap.String("auth_user", auth),
			zap.String("user", userID))
		return ErrSetupForbidden
	}

	if previous := c.bindUser(userID); previous != "" && previous != userID {
		m.registry.Leave(c, PersonalChannel(previous))
	}
	if !m.registry.Join(c, PersonalChannel(userID)) {
		return errors.Errorf("connection %s is not registered", c.ID())
	}

	m.log.Debug("user registered", zap.String("conn", string(c.ID())), zap.String("user", userID))
	c.reply(EventConnected, nil)
	return nil
}

// JoinChat subscribes c to the typing signals of chatID.
func (m *Membership) JoinChat(c *Conn, chatID string) {
	m.registry.Join(c, ChatChannel(chatID))
	m.log.Debug("joined chat", zap.String("conn", string(c.ID())), zap.String("chat", chatID))
}

// LeaveChat stops typing signals of chatID reaching c.
func (m *Membership) LeaveChat(c *Conn, chatID string) {
	m.registry.Leave(c, ChatChannel(chatID))
	m.log.Debug("left chat", zap.String("conn", string(c.ID())), zap.String("chat", chatID))
}

// Disconnect releases every channel c joined. Nothing persisted changes.
func (m *Membership) Disconnect(c *Conn) {
	m.registry.LeaveAll(c)
}
