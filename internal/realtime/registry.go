// Package realtime delivers chat events to live websocket connections.
//
// A Registry tracks connections and the named channels each has joined.
// Membership translates a user's setup and chat views into channel joins,
// and Router decides who receives a persisted message, a chat lifecycle
// change or a typing signal. Personal channels ("user:<id>") carry durable
// notifications to every device of a user; chat channels ("chat:<id>")
// carry only ephemeral typing signals to the viewers of one chat.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ChannelID names a broadcast group.
type ChannelID string

// PersonalChannel is the channel reaching every connection of userID.
func PersonalChannel(userID string) ChannelID {
	return ChannelID("user:" + userID)
}

// ChatChannel is the channel reaching every viewer of chatID.
func ChatChannel(chatID string) ChannelID {
	return ChannelID("chat:" + chatID)
}

// Options tunes connections created by a Registry.
type Options struct {
	MaxMessageSize int64
	SendBuffer     int
	RateBurst      int
	RateInterval   time.Duration
}

func (o *Options) norm() {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 5
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
}

// Registry maps live connections to the channels they have joined. It is
// created once per process and shared by Membership and Router.
type Registry struct {
	mu       sync.RWMutex
	conns    map[ConnID]*Conn
	channels map[ChannelID]map[ConnID]*Conn
	joined   map[ConnID]map[ChannelID]struct{}

	opts     Options
	log      *zap.Logger
	wg       sync.WaitGroup
	shutdown bool
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts Options, log *zap.Logger) *Registry {
	opts.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		conns:    make(map[ConnID]*Conn),
		channels: make(map[ChannelID]map[ConnID]*Conn),
		joined:   make(map[ConnID]map[ChannelID]struct{}),
		opts:     opts,
		log:      log,
	}
}

// Connect allocates a connection identity with no channel memberships and,
// when ws is non-nil, starts its read and write pumps. A nil ws yields a
// detached connection whose queue is read through Conn.Send. Connect
// returns nil once Shutdown has begun.
func (r *Registry) Connect(ws *websocket.Conn, info ConnInfo, h Handler) *Conn {
	id := ConnID(uuid.NewString())
	c := &Conn{
		id:       id,
		ws:       ws,
		info:     info,
		send:     make(chan []byte, r.opts.SendBuffer),
		quota:    newEventQuota(r.opts.RateBurst, r.opts.RateInterval),
		registry: r,
		handler:  h,
		log:      r.log.With(zap.String("conn", string(id)), zap.String("addr", info.Addr)),
	}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		c.closeSocket()
		return nil
	}
	r.conns[id] = c
	r.joined[id] = make(map[ChannelID]struct{})
	total := len(r.conns)
	if ws != nil {
		r.wg.Add(2)
	}
	r.mu.Unlock()

	c.log.Info("client connected", zap.Int("total", total))

	if ws != nil {
		go func() {
			defer r.wg.Done()
			c.writePump()
		}()
		go func() {
			defer r.wg.Done()
			c.readPump(r.opts.MaxMessageSize)
		}()
	}
	return c
}

// Join adds c to channel. Joining twice is the same as joining once.
// Joining with an unregistered connection is a no-op.
func (r *Registry) Join(c *Conn, channel ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.joined[c.id]
	if !ok {
		return false
	}
	if _, already := joined[channel]; already {
		return true
	}
	joined[channel] = struct{}{}

	members := r.channels[channel]
	if members == nil {
		members = make(map[ConnID]*Conn)
		r.channels[channel] = members
	}
	members[c.id] = c
	return true
}

// Leave removes c from channel.
func (r *Registry) Leave(c *Conn, channel ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c.id, channel)
}

func (r *Registry) leaveLocked(id ConnID, channel ChannelID) {
	if joined := r.joined[id]; joined != nil {
		delete(joined, channel)
	}
	if members := r.channels[channel]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
}

// LeaveAll removes c from every channel it joined. The connection stays
// registered.
func (r *Registry) LeaveAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveAllLocked(c.id)
}

func (r *Registry) leaveAllLocked(id ConnID) {
	for channel := range r.joined[id] {
		r.leaveLocked(id, channel)
	}
}

// Disconnect releases every membership of c, forgets it and closes its send
// queue. It is safe to call more than once.
func (r *Registry) Disconnect(c *Conn) {
	r.mu.Lock()
	if _, ok := r.conns[c.id]; !ok {
		r.mu.Unlock()
		return
	}
	r.leaveAllLocked(c.id)
	delete(r.joined, c.id)
	delete(r.conns, c.id)
	total := len(r.conns)
	r.mu.Unlock()

	c.closeSend()
	c.log.Info("client disconnected", zap.Int("total", total))
}

// EmitTo delivers an event to every connection joined to channel. An empty
// channel is a no-op. It returns the number of connections reached.
func (r *Registry) EmitTo(channel ChannelID, name EventName, payload any) int {
	return r.EmitToChannels([]ChannelID{channel}, "", name, payload)
}

// EmitToOthers is EmitTo without the connection except.
func (r *Registry) EmitToOthers(channel ChannelID, except ConnID, name EventName, payload any) int {
	return r.EmitToChannels([]ChannelID{channel}, except, name, payload)
}

// EmitToChannels encodes the event once and delivers it to the union of the
// channels' connections, each connection at most once, skipping except when
// set. Connections that vanished are skipped; a connection whose queue is
// full is disconnected.
func (r *Registry) EmitToChannels(channels []ChannelID, except ConnID, name EventName, payload any) int {
	targets := r.snapshot(channels, except)
	if len(targets) == 0 {
		return 0
	}

	data, err := EncodeFrame(name, payload)
	if err != nil {
		r.log.Error("encode event", zap.String("event", string(name)), zap.Error(err))
		return 0
	}

	delivered := 0
	var slow []*Conn
	for _, c := range targets {
		ok, full := c.enqueue(data)
		if ok {
			delivered++
		} else if full {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		c.log.Warn("client removed due to full send buffer")
		r.Disconnect(c)
		c.closeSocket()
	}
	return delivered
}

func (r *Registry) snapshot(channels []ChannelID, except ConnID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[ConnID]struct{})
	var out []*Conn
	for _, channel := range channels {
		for id, c := range r.channels[channel] {
			if id == except {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Members returns the connections currently joined to channel.
func (r *Registry) Members(channel ChannelID) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnID, 0, len(r.channels[channel]))
	for id := range r.channels[channel] {
		out = append(out, id)
	}
	return out
}

// Channels returns the channels c has joined.
func (r *Registry) Channels(c *Conn) []ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ChannelID, 0, len(r.joined[c.id]))
	for channel := range r.joined[c.id] {
		out = append(out, channel)
	}
	return out
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown closes every connection and waits for their pumps to finish or
// for timeout to elapse.
func (r *Registry) Shutdown(timeout time.Duration) error {
	r.log.Info("shutting down all client connections")

	r.mu.Lock()
	r.shutdown = true
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.Disconnect(c)
		c.closeSocket()
	}
	r.log.Info("closed client connections", zap.Int("count", len(conns)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("registry shutdown completed")
		return nil
	case <-time.After(timeout):
		r.log.Warn("registry shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
