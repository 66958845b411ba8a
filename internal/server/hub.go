package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/agentchat/internal/logging"
)

// HubOptions tunes a Hub. Zero values fall back to defaults.
type HubOptions struct {
	LivenessInterval time.Duration
	SendBuffer       int
	MaxMessageSize   int64
	RateBurst        int
	RateInterval     time.Duration
}

func (o HubOptions) withDefaults() HubOptions {
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
	return o
}

// FrameHandler processes one inbound frame read from c.
type FrameHandler func(c *Client, raw []byte)

var errHubClosed = errors.New("hub is shut down")

// Hub owns every live session and the live room membership. All session and
// room state is guarded by a single mutex, so join, leave, publish and
// disconnect are atomic with respect to each other and every session in a
// room observes room events in the same order.
//
// Rooms hold client IDs, not client pointers; h.clients is the only owner.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{}

	register   chan *Client
	unregister chan *Client
	handler    FrameHandler
	opts       HubOptions
	log        zerolog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub. Call Run in its own goroutine before registering
// clients.
func NewHub(opts HubOptions) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		opts:       opts.withDefaults(),
		log:        logging.Component("hub"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Context is cancelled when the hub begins shutting down.
func (h *Hub) Context() context.Context { return h.ctx }

// Run starts the hub's event loop: registration, unregistration and the
// liveness monitor. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case c := <-h.register:
			if c == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}
			h.attach(c)
			if c.conn == nil {
				continue
			}
			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				c.writePump()
			}()
			go func() {
				defer h.wg.Done()
				c.readPump()
			}()

		case c := <-h.unregister:
			h.disconnect(c)

		case <-ticker.C:
			h.probe()
		}
	}
}

// Register hands c to the event loop, which starts its pumps.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.ctx.Done():
		return errHubClosed
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.disconnect(c)
	}
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	connectionsActive.Inc()
	c.log.Info().Int("clients", count).Msg("client registered")
}

// disconnect tears c down: it leaves every live room, tells the remaining
// members the identity went offline, and closes the send channel. Durable
// membership is not touched. Safe to call more than once.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	_, attached := h.clients[c.id]
	delete(h.clients, c.id)

	rooms := sortedKeys(c.rooms)
	for _, room := range rooms {
		h.removeLive(c, room)
		if c.identity != "" {
			h.broadcastLocked(room, encode(PresenceEvent{
				Type:     EventPresenceOffline,
				Username: c.identity,
				Room:     room,
			}), nil)
		}
	}
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if attached {
		connectionsActive.Dec()
	}
	c.log.Info().Strs("rooms", rooms).Int("clients", count).Msg("client unregistered")
}

// evict drops a session whose send buffer overflowed.
func (h *Hub) evict(c *Client) {
	h.disconnect(c)
	c.closeConn()
}

// probe is one liveness tick. Sessions that did not answer the previous
// probe are terminated; the rest are probed again. Pings are written by each
// session's writePump, so a stuck connection never holds up the event loop.
func (h *Hub) probe() {
	h.mu.Lock()
	var dead, alive []*Client
	for _, c := range h.clients {
		if c.awaitingPong {
			dead = append(dead, c)
			continue
		}
		c.awaitingPong = true
		alive = append(alive, c)
	}
	h.mu.Unlock()

	for _, c := range dead {
		livenessTerminations.Inc()
		c.log.Warn().Msg("no response to liveness probe; terminating")
		h.disconnect(c)
		c.closeConn()
	}
	for _, c := range alive {
		c.requestPing()
	}
}

func (h *Hub) markAlive(c *Client) {
	h.mu.Lock()
	c.awaitingPong = false
	h.mu.Unlock()
}

// Bind attaches identity and token to c. A session binds exactly once.
func (h *Hub) Bind(c *Client, identity, token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return errSessionClosed
	}
	if c.identity != "" {
		return ErrAlreadyAuthenticated
	}
	c.identity = identity
	c.token = token
	return nil
}

// Identity returns the identity bound to c, or "".
func (h *Hub) Identity(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.identity
}

// SessionToken returns the token c authenticated with, or "".
func (h *Hub) SessionToken(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.token
}

// Join runs persist, adds c to the live set of room, then sends notice to the
// other members and ack to c, all as one step. If persist fails nothing
// changes.
func (h *Hub) Join(c *Client, room string, persist func() error, notice, ack []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return errSessionClosed
	}
	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}
	h.addLive(c, room)
	h.broadcastLocked(room, notice, c)
	h.deliverLocked(c, ack)
	return nil
}

// Leave runs persist, sends notice to the room while c is still a member and
// ack to c, then removes c from the live set.
func (h *Hub) Leave(c *Client, room string, persist func() error, notice, ack []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return errSessionClosed
	}
	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}
	if _, ok := c.rooms[room]; ok {
		h.broadcastLocked(room, notice, c)
	}
	h.deliverLocked(c, ack)
	h.removeLive(c, room)
	return nil
}

// PublishRoom fans a new room event out to every live member of room. build
// runs under the hub lock, so events are persisted in the order they are
// delivered. c must have joined room.
func (h *Hub) PublishRoom(c *Client, room string, build func() (notice, ack []byte, err error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return errSessionClosed
	}
	if _, ok := c.rooms[room]; !ok {
		return ErrNotJoined
	}
	notice, ack, err := build()
	if err != nil {
		return err
	}
	h.broadcastLocked(room, notice, c)
	h.deliverLocked(c, ack)
	return nil
}

// SendDirect delivers notice to every live session of to other than c, and
// ack to c. It returns the number of recipient sessions reached.
func (h *Hub) SendDirect(c *Client, to string, build func() (notice, ack []byte, err error)) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return 0, errSessionClosed
	}
	notice, ack, err := build()
	if err != nil {
		return 0, err
	}
	n := h.sendToIdentityLocked(to, notice, c)
	h.deliverLocked(c, ack)
	return n, nil
}

// BroadcastToRoom queues payload to every live member of room except exclude.
func (h *Hub) BroadcastToRoom(room string, payload []byte, exclude *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(room, payload, exclude)
}

// SendToIdentity queues payload to every live session bound to identity.
func (h *Hub) SendToIdentity(identity string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sendToIdentityLocked(identity, payload, nil)
}

func (h *Hub) sendToIdentityLocked(identity string, payload []byte, exclude *Client) int {
	n := 0
	for _, c := range h.clients {
		if c != exclude && c.identity == identity && h.deliverLocked(c, payload) {
			n++
		}
	}
	return n
}

// SendToSession queues payload to c. It is a no-op once c is closed.
func (h *Hub) SendToSession(c *Client, payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deliverLocked(c, payload)
}

// ListOnline returns the distinct bound identities live in room, sorted.
func (h *Hub) ListOnline(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]struct{})
	for id := range h.rooms[room] {
		if c := h.clients[id]; c != nil && c.identity != "" {
			seen[c.identity] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// JoinedRooms returns the rooms c is live in, sorted.
func (h *Hub) JoinedRooms(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(c.rooms)
}

// ClientCount returns the number of live sessions.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) addLive(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[c.id] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) removeLive(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) broadcastLocked(room string, payload []byte, exclude *Client) int {
	n := 0
	for id := range h.rooms[room] {
		c := h.clients[id]
		if c == nil || c == exclude {
			continue
		}
		if h.deliverLocked(c, payload) {
			n++
		}
	}
	return n
}

// deliverLocked queues payload without blocking. A full buffer means the
// consumer is stuck; the session is evicted.
func (h *Hub) deliverLocked(c *Client, payload []byte) bool {
	if c.closed || payload == nil {
		return false
	}
	select {
	case c.send <- payload:
		eventsDelivered.Inc()
		return true
	default:
		deliveriesDropped.Inc()
		c.log.Warn().Msg("send buffer full; evicting client")
		go h.evict(c)
		return false
	}
}

// shutdownClients closes every connection; the read pumps then run the usual
// disconnect path.
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.conn == nil {
			h.disconnect(c)
			continue
		}
		c.closeConn()
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown stops the event loop, closes all sessions and waits for their
// pumps, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		logging.L().Error().Err(err).Msg("encode event")
		return nil
	}
	return b
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
