package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/closetswap/swapchat/internal/types"
	"github.com/gorilla/websocket"
)

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 2 * time.Second
	defaultTypingIdle        = 2 * time.Second
	writeWait                = 10 * time.Second
	refreshTimeout           = 10 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected")
	errConnectionLost = errors.New("connection lost before the message was delivered")
)

type Config struct {
	// BaseURL is the http(s) address of the chat server.
	BaseURL string
	// Token is the session token sent as a bearer token.
	Token  string
	UserId int

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	TypingIdle        time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

// Handlers are invoked from the connection's read goroutine. All of them are
// optional.
type Handlers struct {
	OnTimelineChange   func(matchId int)
	OnTyping           func(matchId, userId int, typing bool)
	OnTradeOffer       func(offer types.TradeOffer)
	OnConnectionChange func(connected bool)
}

type frame struct {
	Event     types.Event     `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Client keeps a live connection to the chat server, reconnecting when it
// drops, and falls back to plain HTTP while no connection is available.
type Client struct {
	cfg      Config
	log      *log.Logger
	http     *http.Client
	dialer   *websocket.Dialer
	handlers Handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	joined    map[int]struct{}
	timelines map[int]*Timeline
	typing    map[int]*time.Timer

	writeMu sync.Mutex
}

func New(cfg Config, h Handlers) *Client {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = defaultTypingIdle
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[chatclient] ", log.LstdFlags)
	}

	return &Client{
		cfg:       cfg,
		log:       cfg.Logger,
		http:      cfg.HTTPClient,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers:  h,
		joined:    make(map[int]struct{}),
		timelines: make(map[int]*Timeline),
		typing:    make(map[int]*time.Timer),
	}
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return u.String(), nil
}

func (c *Client) authHeader() http.Header {
	return http.Header{"Authorization": {"Bearer " + c.cfg.Token}}
}

// Connect opens the live connection and joins every match joined so far. It
// is a no-op while a connection is already open.
func (c *Client) Connect(ctx context.Context) error {
	addr, err := c.wsURL()
	if err != nil {
		return err
	}

	if c.Connected() {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, addr, c.authHeader())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	if c.conn != nil {
		// lost a race with another Connect
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	joined := make([]int, 0, len(c.joined))
	for matchId := range c.joined {
		joined = append(joined, matchId)
	}
	c.mu.Unlock()

	c.connectionChanged(true)

	for _, matchId := range joined {
		if err := c.write(types.EventJoinMatch, types.MatchPayload{MatchId: matchId}); err != nil {
			c.log.Printf("rejoin match %d: %v", matchId, err)
		}
	}

	go c.readLoop(conn)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	for matchId, timer := range c.typing {
		timer.Stop()
		delete(c.typing, matchId)
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return conn.Close()
}

// Timeline returns the timeline of matchId, creating it on first use.
func (c *Client) Timeline(matchId int) *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()

	tl, ok := c.timelines[matchId]
	if !ok {
		tl = NewTimeline(matchId, c.cfg.UserId)
		c.timelines[matchId] = tl
	}

	return tl
}

// Join subscribes to live events of matchId and loads its history.
func (c *Client) Join(ctx context.Context, matchId int) error {
	c.mu.Lock()
	c.joined[matchId] = struct{}{}
	c.mu.Unlock()

	if err := c.write(types.EventJoinMatch, types.MatchPayload{MatchId: matchId}); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Printf("join match %d: %v", matchId, err)
	}

	_, err := c.History(ctx, matchId, 0)
	return err
}

func (c *Client) Leave(matchId int) {
	c.mu.Lock()
	delete(c.joined, matchId)
	if timer, ok := c.typing[matchId]; ok {
		timer.Stop()
		delete(c.typing, matchId)
	}
	c.mu.Unlock()

	if err := c.write(types.EventLeaveMatch, types.MatchPayload{MatchId: matchId}); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Printf("leave match %d: %v", matchId, err)
	}
}

// Send shows content immediately as an optimistic entry and delivers it over
// the live connection, or over HTTP when there is none.
func (c *Client) Send(ctx context.Context, matchId int, content string) (Entry, error) {
	entry, err := c.Timeline(matchId).AddOptimistic(content)
	if err != nil {
		return Entry{}, err
	}

	c.notifyTimeline(matchId)
	c.StopTyping(matchId)
	c.deliver(ctx, matchId, entry)

	return entry, nil
}

// Retry resends a failed optimistic entry.
func (c *Client) Retry(ctx context.Context, matchId int, tempId string) error {
	entry, ok := c.Timeline(matchId).Retry(tempId)
	if !ok {
		return fmt.Errorf("no failed message %q", tempId)
	}

	c.notifyTimeline(matchId)
	c.deliver(ctx, matchId, entry)
	return nil
}

func (c *Client) deliver(ctx context.Context, matchId int, entry Entry) {
	err := c.write(types.EventSendMessage, types.SendMessagePayload{
		MatchId:     matchId,
		Content:     entry.Message.Content,
		UserId:      c.cfg.UserId,
		ClientMsgId: entry.TempId,
	})
	if err == nil {
		return
	}

	msg, err := c.postMessage(ctx, matchId, entry.Message.Content, entry.TempId)
	if err != nil {
		c.log.Printf("send message to match %d: %v", matchId, err)
		c.Timeline(matchId).MarkFailed(entry.TempId, err.Error())
	} else {
		c.Timeline(matchId).ConfirmSent(msg, entry.TempId)
	}
	c.notifyTimeline(matchId)
}

// Typing is called on input activity. The first call sends typing_start and
// typing_stop follows once no call was made for the idle window.
func (c *Client) Typing(matchId int) {
	c.mu.Lock()
	timer, active := c.typing[matchId]
	if active {
		timer.Reset(c.cfg.TypingIdle)
		c.mu.Unlock()
		return
	}

	c.typing[matchId] = time.AfterFunc(c.cfg.TypingIdle, func() {
		c.StopTyping(matchId)
	})
	c.mu.Unlock()

	if err := c.write(types.EventTypingStart, types.TypingPayload{MatchId: matchId, UserId: c.cfg.UserId}); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Printf("typing start: %v", err)
	}
}

func (c *Client) StopTyping(matchId int) {
	c.mu.Lock()
	timer, active := c.typing[matchId]
	if active {
		timer.Stop()
		delete(c.typing, matchId)
	}
	c.mu.Unlock()

	if !active {
		return
	}

	if err := c.write(types.EventTypingStop, types.TypingPayload{MatchId: matchId, UserId: c.cfg.UserId}); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Printf("typing stop: %v", err)
	}
}

// History fetches stored messages of matchId over HTTP and merges them into
// its timeline.
func (c *Client) History(ctx context.Context, matchId, limit int) ([]types.Message, error) {
	path := "/api/matches/" + strconv.Itoa(matchId) + "/messages?order=asc"
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}

	var messages []types.Message
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	c.Timeline(matchId).Merge(messages)
	c.notifyTimeline(matchId)
	return messages, nil
}

func (c *Client) postMessage(ctx context.Context, matchId int, content, clientMsgId string) (types.Message, error) {
	body := map[string]string{
		"content":       content,
		"client_msg_id": clientMsgId,
	}

	var msg types.Message
	err := c.doJSON(ctx, http.MethodPost, "/api/matches/"+strconv.Itoa(matchId)+"/messages", body, &msg)
	return msg, err
}

// APIError is a non-2xx response from the chat server.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header = c.authHeader()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) write(event types.Event, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(frame{Event: event, Data: mustMarshal(data), Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return raw
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("read: %v", err)
			}
			break
		}

		c.dispatch(f)
	}

	conn.Close()

	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if !current {
		return
	}

	lostAt := time.Now()
	c.connectionChanged(false)
	if !closed {
		c.reconnect(lostAt)
	}
}

// reconnect retries the connection a bounded number of times with a fixed
// delay. While disconnected, sends and history go over HTTP. Sends that were
// still unacknowledged when the connection dropped and do not show up in the
// reloaded history are marked failed.
func (c *Client) reconnect(lostAt time.Time) {
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(c.cfg.ReconnectDelay)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.log.Printf("reconnected after %d attempt(s)", attempt)
			c.refreshJoined()
			c.failStranded(lostAt)
			return
		}

		c.log.Printf("reconnect attempt %d/%d: %v", attempt, c.cfg.ReconnectAttempts, err)
	}

	c.log.Println("giving up reconnecting, using HTTP fallback")
	c.failStranded(lostAt)
}

func (c *Client) failStranded(lostAt time.Time) {
	c.mu.Lock()
	timelines := make(map[int]*Timeline, len(c.timelines))
	for matchId, tl := range c.timelines {
		timelines[matchId] = tl
	}
	c.mu.Unlock()

	for matchId, tl := range timelines {
		if n := tl.FailPending(lostAt, errConnectionLost.Error()); n > 0 {
			c.log.Printf("match %d: %d unacknowledged message(s) marked failed", matchId, n)
			c.notifyTimeline(matchId)
		}
	}
}

// refreshJoined reloads the history of every joined match so that messages
// whose acknowledgement was lost with the old connection get reconciled.
func (c *Client) refreshJoined() {
	c.mu.Lock()
	joined := make([]int, 0, len(c.joined))
	for matchId := range c.joined {
		joined = append(joined, matchId)
	}
	c.mu.Unlock()

	for _, matchId := range joined {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		if _, err := c.History(ctx, matchId, 0); err != nil {
			c.log.Printf("refresh match %d: %v", matchId, err)
		}
		cancel()
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Event {
	case types.EventMessageSent:
		var p types.MessageSentPayload
		if c.decode(f, &p) {
			c.Timeline(p.Message.MatchId).ConfirmSent(p.Message, p.ClientMsgId)
			c.notifyTimeline(p.Message.MatchId)
		}
	case types.EventNewMessage:
		var p types.NewMessagePayload
		if c.decode(f, &p) && c.Timeline(p.Message.MatchId).AddIncoming(p.Message) {
			c.notifyTimeline(p.Message.MatchId)
		}
	case types.EventUserTyping, types.EventUserStoppedTyping:
		var p types.TypingPayload
		if c.decode(f, &p) && c.handlers.OnTyping != nil {
			c.handlers.OnTyping(p.MatchId, p.UserId, f.Event == types.EventUserTyping)
		}
	case types.EventTradeOfferUpdated:
		var p types.TradeOfferPayload
		if c.decode(f, &p) && c.handlers.OnTradeOffer != nil {
			c.handlers.OnTradeOffer(p.Offer)
		}
	case types.EventError:
		var p types.ErrorPayload
		if !c.decode(f, &p) {
			return
		}

		c.log.Printf("server error (%s): %s", p.Code, p.Message)
		if p.ClientMsgId != "" {
			c.markFailed(p.ClientMsgId, p.Message)
		}
	default:
		c.log.Printf("ignoring unknown event %q", f.Event)
	}
}

func (c *Client) markFailed(tempId, reason string) {
	c.mu.Lock()
	timelines := make(map[int]*Timeline, len(c.timelines))
	for matchId, tl := range c.timelines {
		timelines[matchId] = tl
	}
	c.mu.Unlock()

	for matchId, tl := range timelines {
		if tl.MarkFailed(tempId, reason) {
			c.notifyTimeline(matchId)
			return
		}
	}
}

func (c *Client) decode(f frame, v any) bool {
	if err := json.Unmarshal(f.Data, v); err != nil {
		c.log.Printf("decode %s: %v", f.Event, err)
		return false
	}

	return true
}

func (c *Client) notifyTimeline(matchId int) {
	if c.handlers.OnTimelineChange != nil {
		c.handlers.OnTimelineChange(matchId)
	}
}

func (c *Client) connectionChanged(connected bool) {
	if c.handlers.OnConnectionChange != nil {
		c.handlers.OnConnectionChange(connected)
	}
}
