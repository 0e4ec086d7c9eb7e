package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/closetswap/swapchat/internal/chat"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	requestTimeout = 5 * time.Second
)

// Client is a single websocket connection of an authenticated user. Frames
// read from the connection are handled one at a time, in order.
type Client struct {
	Id       string
	userId   int
	conn     *websocket.Conn
	hub      *Hub
	log      *log.Logger
	send     chan *ServerMessage
	rooms    map[int]struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(userId int, conn *websocket.Conn, hub *Hub, l *log.Logger) *Client {
	return &Client{
		Id:     uuid.NewString(),
		userId: userId,
		conn:   conn,
		hub:    hub,
		log:    l,
		send:   make(chan *ServerMessage, 256),
		rooms:  make(map[int]struct{}),
		stop:   make(chan struct{}),
	}
}

func (c *Client) UserId() int {
	return c.userId
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("client %s write exiting", c.Id)
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.conn.Close()
		c.hub.Unregister(c)
		c.log.Printf("client %s read exiting", c.Id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.handle(ctx, raw)
	}
}

func (c *Client) handle(ctx context.Context, raw []byte) {
	ev, err := decodeClientEvent(raw)
	if err != nil {
		c.log.Printf("client %s: %v", c.Id, err)
		c.queueMessage(ErrInvalidMessage(err.Error(), ""))
		return
	}

	switch ev := ev.(type) {
	case *JoinMatch:
		c.joinMatch(ctx, ev)
	case *LeaveMatch:
		c.hub.Leave(c, ev.MatchId)
	case *SendMessage:
		c.sendChatMessage(ctx, ev)
	case *Typing:
		c.typing(ev)
	}
}

func (c *Client) joinMatch(ctx context.Context, ev *JoinMatch) {
	if c.hub.IsMember(c, ev.MatchId) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if _, err := c.hub.chat.Authorize(ctx, ev.MatchId, c.userId); err != nil {
		c.queueMessage(c.chatError(err, ""))
		return
	}

	c.hub.Join(c, ev.MatchId)
}

// sendChatMessage stores the message, acknowledges it to this connection with
// message_sent and forwards it to the rest of the room as new_message. Nothing
// is forwarded if the message could not be stored.
func (c *Client) sendChatMessage(ctx context.Context, ev *SendMessage) {
	if ev.UserId != 0 && ev.UserId != c.userId {
		c.queueMessage(ErrForbidden("user_id does not match session", ev.ClientMsgId))
		return
	}

	if ev.MatchId <= 0 {
		c.queueMessage(ErrInvalidMessage("match_id is required", ev.ClientMsgId))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msg, err := c.hub.chat.Send(ctx, ev.MatchId, c.userId, ev.Content)
	if err != nil {
		c.queueMessage(c.chatError(err, ev.ClientMsgId))
		return
	}

	c.queueMessage(MessageSent(msg, ev.ClientMsgId))
	c.hub.PublishMessage(msg, c)
}

func (c *Client) typing(ev *Typing) {
	if ev.UserId != 0 && ev.UserId != c.userId {
		c.queueMessage(ErrForbidden("user_id does not match session", ""))
		return
	}

	if !c.hub.IsMember(c, ev.MatchId) {
		c.queueMessage(ErrForbidden("not joined to match", ""))
		return
	}

	c.hub.Broadcast(ev.MatchId, UserTyping(ev.MatchId, c.userId, ev.Started), c)
}

func (c *Client) chatError(err error, clientMsgId string) *ServerMessage {
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		return ErrInvalidMessage("message content is empty", clientMsgId)
	case errors.Is(err, chat.ErrMatchNotFound):
		return ErrMatchNotFound(clientMsgId)
	case errors.Is(err, chat.ErrNotParticipant):
		return ErrForbidden("not a participant of this match", clientMsgId)
	}

	c.log.Printf("client %s: %v", c.Id, err)
	return ErrInternalError(clientMsgId)
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send message to client %s, channel is full", c.Id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
