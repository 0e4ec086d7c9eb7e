package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/closetswap/swapchat/internal/stats"
	"github.com/closetswap/swapchat/internal/types"
)

var ErrHubClosed = errors.New("hub is shut down")

// ChatService persists messages sent over a connection.
type ChatService interface {
	Authorize(ctx context.Context, matchId, userId int) (types.Match, error)
	Send(ctx context.Context, matchId, userId int, content string) (types.Message, error)
}

// Hub tracks live connections and the match rooms they joined. A room exists
// only while it has at least one member.
type Hub struct {
	log     *log.Logger
	chat    ChatService
	stats   stats.StatsProvider
	mu      sync.RWMutex
	rooms   map[int]map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(logger *log.Logger, chat ChatService, su stats.StatsProvider) *Hub {
	su.RegisterMetric(stats.ActiveClients)
	su.RegisterMetric(stats.ActiveRooms)
	su.RegisterMetric(stats.MessagesSent)

	return &Hub{
		log:     logger,
		chat:    chat,
		stats:   su,
		rooms:   make(map[int]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	if _, ok := h.clients[c]; ok {
		return nil
	}

	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.stats.Incr(stats.ActiveClients)
	h.log.Printf("registered client %s for user %d", c.Id, c.userId)

	return nil
}

// Unregister removes c from every room and stops its write pump. It is safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}

	h.leaveAllLocked(c)
	delete(h.clients, c)
	h.mu.Unlock()

	c.stopClient()
	h.stats.Decr(stats.ActiveClients)
	h.wg.Done()
	h.log.Printf("unregistered client %s for user %d", c.Id, c.userId)
}

// Join adds c to the room of matchId. It reports false if c was already a
// member.
func (h *Hub) Join(c *Client, matchId int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[matchId]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[matchId] = room
		h.stats.Incr(stats.ActiveRooms)
	}

	if _, ok := room[c]; ok {
		return false
	}

	room[c] = struct{}{}
	if c.rooms == nil {
		c.rooms = make(map[int]struct{})
	}
	c.rooms[matchId] = struct{}{}

	h.log.Printf("client %s joined match %d", c.Id, matchId)
	return true
}

func (h *Hub) Leave(c *Client, matchId int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(c, matchId)
}

func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(c)
}

func (h *Hub) leaveAllLocked(c *Client) {
	for matchId := range c.rooms {
		h.leaveLocked(c, matchId)
	}
}

func (h *Hub) leaveLocked(c *Client, matchId int) {
	room, ok := h.rooms[matchId]
	if !ok {
		return
	}

	if _, ok := room[c]; !ok {
		return
	}

	delete(room, c)
	delete(c.rooms, matchId)
	h.log.Printf("client %s left match %d", c.Id, matchId)

	if len(room) == 0 {
		delete(h.rooms, matchId)
		h.stats.Decr(stats.ActiveRooms)
	}
}

func (h *Hub) IsMember(c *Client, matchId int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.rooms[matchId][c]
	return ok
}

// RoomSize returns the number of connections joined to matchId.
func (h *Hub) RoomSize(matchId int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[matchId])
}

// Broadcast queues msg on every connection in the room of matchId except skip.
// Delivery is best effort: a connection with a full send buffer misses msg.
// It returns the number of connections msg was queued on.
func (h *Hub) Broadcast(matchId int, msg *ServerMessage, skip *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[matchId] {
		if c == skip {
			continue
		}

		if c.queueMessage(msg) {
			delivered++
		}
	}

	return delivered
}

// PublishMessage delivers a stored message as new_message to the room,
// skipping the connection that sent it.
func (h *Hub) PublishMessage(msg types.Message, skip *Client) {
	h.stats.Incr(stats.MessagesSent)
	h.Broadcast(msg.MatchId, NewMessage(msg), skip)
}

func (h *Hub) TradeOfferChanged(offer types.TradeOffer) {
	n := h.Broadcast(offer.MatchId, TradeOfferUpdated(offer), nil)
	h.log.Printf("trade offer %d is %s, notified %d connections", offer.Id, offer.Status, n)
}

// Shutdown stops every connection and waits for their read pumps to exit.
// New registrations are refused once Shutdown has been called.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("received shutdown signal")

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
