package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/closetswap/swapchat/internal/chat"
	"github.com/closetswap/swapchat/internal/testutil"
	"github.com/closetswap/swapchat/internal/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChatService struct {
	mock.Mock
}

func (m *mockChatService) Authorize(ctx context.Context, matchId, userId int) (types.Match, error) {
	args := m.Called(ctx, matchId, userId)
	return args.Get(0).(types.Match), args.Error(1)
}

func (m *mockChatService) Send(ctx context.Context, matchId, userId int, content string) (types.Message, error) {
	args := m.Called(ctx, matchId, userId, content)
	return args.Get(0).(types.Message), args.Error(1)
}

var testMatch = types.Match{
	Id:    7,
	UserA: types.UserRef{Id: 1, Username: "alice"},
	UserB: types.UserRef{Id: 2, Username: "bob"},
}

func frame(t *testing.T, event types.Event, data any) []byte {
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return raw
}

func singleError(t *testing.T, c *Client) types.ErrorPayload {
	msgs := drain(c)
	require.Len(t, msgs, 1)
	require.Equal(t, types.EventError, msgs[0].Event)
	return msgs[0].Data.(types.ErrorPayload)
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")
		assert.Len(t, c.send, 1)
	})

	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestClient_joinMatch(t *testing.T) {
	tcases := []struct {
		name         string
		userId       int
		authErr      error
		expectedCode types.ErrorCode
	}{
		{
			name:   "participant joins",
			userId: 1,
		},
		{
			name:         "outsider is refused",
			userId:       3,
			authErr:      chat.ErrNotParticipant,
			expectedCode: types.ErrorCodeForbidden,
		},
		{
			name:         "unknown match",
			userId:       1,
			authErr:      chat.ErrMatchNotFound,
			expectedCode: types.ErrorCodeNotFound,
		},
		{
			name:         "store failure",
			userId:       1,
			authErr:      errors.New("connection refused"),
			expectedCode: types.ErrorCodeInternal,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cs := &mockChatService{}
			defer cs.AssertExpectations(t)
			cs.On("Authorize", mock.Anything, 7, tc.userId).Return(testMatch, tc.authErr).Once()

			hub := newTestHub(t, cs, nil)
			c := newTestClient(t, hub, tc.userId)
			c.handle(context.Background(), frame(t, types.EventJoinMatch, types.MatchPayload{MatchId: 7}))

			if tc.expectedCode != "" {
				assert.Equal(t, tc.expectedCode, singleError(t, c).Code)
				assert.False(t, hub.IsMember(c, 7))
				return
			}

			assert.Empty(t, drain(c), "join has no response payload")
			assert.True(t, hub.IsMember(c, 7))

			// rejoining does not hit the store again
			c.handle(context.Background(), frame(t, types.EventJoinMatch, types.MatchPayload{MatchId: 7}))
			assert.True(t, hub.IsMember(c, 7))
		})
	}
}

func TestClient_leaveMatch(t *testing.T) {
	hub := newTestHub(t, nil, nil)
	c := newTestClient(t, hub, 1)
	hub.Join(c, 7)

	c.handle(context.Background(), frame(t, types.EventLeaveMatch, types.MatchPayload{MatchId: 7}))
	assert.False(t, hub.IsMember(c, 7))
	assert.Empty(t, drain(c))
}

func TestClient_sendChatMessage(t *testing.T) {
	stored := types.Message{
		Id:        100,
		MatchId:   7,
		SenderId:  1,
		Content:   "Hello",
		CreatedAt: time.Now().UTC(),
		Sender:    types.UserRef{Id: 1, Username: "alice"},
	}

	setup := func(t *testing.T, cs *mockChatService) (sender, peer, outsider *Client) {
		hub := newTestHub(t, cs, nil)
		sender = newTestClient(t, hub, 1)
		peer = newTestClient(t, hub, 2)
		outsider = newTestClient(t, hub, 3)
		hub.Join(sender, 7)
		hub.Join(peer, 7)
		hub.Join(outsider, 8)
		return sender, peer, outsider
	}

	t.Run("acknowledges the sender and broadcasts to the room", func(t *testing.T) {
		cs := &mockChatService{}
		defer cs.AssertExpectations(t)
		cs.On("Send", mock.Anything, 7, 1, "Hello").Return(stored, nil).Once()

		sender, peer, outsider := setup(t, cs)
		sender.handle(context.Background(), frame(t, types.EventSendMessage, types.SendMessagePayload{
			MatchId:     7,
			Content:     "Hello",
			UserId:      1,
			ClientMsgId: "temp-abc",
		}))

		senderMsgs := drain(sender)
		require.Len(t, senderMsgs, 1, "sender only gets the acknowledgement")
		assert.Equal(t, types.EventMessageSent, senderMsgs[0].Event)
		assert.Equal(t, types.MessageSentPayload{Message: stored, ClientMsgId: "temp-abc"}, senderMsgs[0].Data)

		peerMsgs := drain(peer)
		require.Len(t, peerMsgs, 1)
		assert.Equal(t, types.EventNewMessage, peerMsgs[0].Event)
		assert.Equal(t, types.NewMessagePayload{Message: stored}, peerMsgs[0].Data)

		assert.Empty(t, drain(outsider), "other rooms never see the message")
	})

	t.Run("sending without joining still persists", func(t *testing.T) {
		cs := &mockChatService{}
		defer cs.AssertExpectations(t)
		cs.On("Send", mock.Anything, 7, 1, "Hello").Return(stored, nil).Once()

		hub := newTestHub(t, cs, nil)
		c := newTestClient(t, hub, 1)
		c.handle(context.Background(), frame(t, types.EventSendMessage, types.SendMessagePayload{MatchId: 7, Content: "Hello"}))

		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.EventMessageSent, msgs[0].Event)
	})

	tcases := []struct {
		name         string
		payload      types.SendMessagePayload
		sendErr      error
		callsSend    bool
		expectedCode types.ErrorCode
	}{
		{
			name:         "whitespace content",
			payload:      types.SendMessagePayload{MatchId: 7, Content: "   ", ClientMsgId: "temp-1"},
			sendErr:      chat.ErrEmptyContent,
			callsSend:    true,
			expectedCode: types.ErrorCodeInvalid,
		},
		{
			name:         "store failure",
			payload:      types.SendMessagePayload{MatchId: 7, Content: "Hello", ClientMsgId: "temp-1"},
			sendErr:      errors.New("insert message: connection reset"),
			callsSend:    true,
			expectedCode: types.ErrorCodeInternal,
		},
		{
			name:         "spoofed sender",
			payload:      types.SendMessagePayload{MatchId: 7, Content: "Hello", UserId: 2, ClientMsgId: "temp-1"},
			expectedCode: types.ErrorCodeForbidden,
		},
		{
			name:         "missing match id",
			payload:      types.SendMessagePayload{Content: "Hello", ClientMsgId: "temp-1"},
			expectedCode: types.ErrorCodeInvalid,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cs := &mockChatService{}
			defer cs.AssertExpectations(t)
			if tc.callsSend {
				cs.On("Send", mock.Anything, tc.payload.MatchId, 1, tc.payload.Content).Return(types.Message{}, tc.sendErr).Once()
			}

			sender, peer, _ := setup(t, cs)
			sender.handle(context.Background(), frame(t, types.EventSendMessage, tc.payload))

			errPayload := singleError(t, sender)
			assert.Equal(t, tc.expectedCode, errPayload.Code)
			assert.Equal(t, "temp-1", errPayload.ClientMsgId)
			assert.Empty(t, drain(peer), "failed sends are never broadcast")
			if !tc.callsSend {
				cs.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestClient_typing(t *testing.T) {
	t.Run("forwarded to the rest of the room", func(t *testing.T) {
		hub := newTestHub(t, nil, nil)
		typist := newTestClient(t, hub, 1)
		peer := newTestClient(t, hub, 2)
		hub.Join(typist, 7)
		hub.Join(peer, 7)

		typist.handle(context.Background(), frame(t, types.EventTypingStart, types.TypingPayload{MatchId: 7}))
		typist.handle(context.Background(), frame(t, types.EventTypingStop, types.TypingPayload{MatchId: 7, UserId: 1}))

		assert.Empty(t, drain(typist))
		msgs := drain(peer)
		require.Len(t, msgs, 2)
		assert.Equal(t, types.EventUserTyping, msgs[0].Event)
		assert.Equal(t, types.TypingPayload{MatchId: 7, UserId: 1}, msgs[0].Data)
		assert.Equal(t, types.EventUserStoppedTyping, msgs[1].Event)
	})

	t.Run("requires joining first", func(t *testing.T) {
		hub := newTestHub(t, nil, nil)
		c := newTestClient(t, hub, 1)

		c.handle(context.Background(), frame(t, types.EventTypingStart, types.TypingPayload{MatchId: 7}))
		assert.Equal(t, types.ErrorCodeForbidden, singleError(t, c).Code)
	})

	t.Run("spoofed user id", func(t *testing.T) {
		hub := newTestHub(t, nil, nil)
		c := newTestClient(t, hub, 1)
		peer := newTestClient(t, hub, 2)
		hub.Join(c, 7)
		hub.Join(peer, 7)

		c.handle(context.Background(), frame(t, types.EventTypingStart, types.TypingPayload{MatchId: 7, UserId: 2}))
		assert.Equal(t, types.ErrorCodeForbidden, singleError(t, c).Code)
		assert.Empty(t, drain(peer))
	})
}

func TestClient_handleMalformed(t *testing.T) {
	hub := newTestHub(t, nil, nil)
	c := newTestClient(t, hub, 1)

	c.handle(context.Background(), []byte(`{"event":`))
	assert.Equal(t, types.ErrorCodeInvalid, singleError(t, c).Code)

	c.handle(context.Background(), []byte(`{"event":"edit_message","data":{}}`))
	assert.Equal(t, types.ErrorCodeInvalid, singleError(t, c).Code)
}

type wsFrame struct {
	Event types.Event     `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestClient_Pumps(t *testing.T) {
	stored := types.Message{Id: 100, MatchId: 7, SenderId: 1, Content: "Hello"}
	cs := &mockChatService{}
	cs.On("Authorize", mock.Anything, 7, mock.Anything).Return(testMatch, nil)
	cs.On("Send", mock.Anything, 7, 1, "Hello").Return(stored, nil).Once()

	hub := newTestHub(t, cs, nil)
	logger := testutil.TestLogger(t)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId, _ := strconv.Atoi(r.URL.Query().Get("user"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := NewClient(userId, conn, hub, logger)
		if err := hub.Register(c); err != nil {
			conn.Close()
			return
		}
		go c.Write()
		go c.Read()
	}))
	defer srv.Close()

	dial := func(userId int) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + strconv.Itoa(userId)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		return conn
	}

	alice := dial(1)
	defer alice.Close()
	bob := dial(2)
	defer bob.Close()

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, frame(t, types.EventJoinMatch, types.MatchPayload{MatchId: 7})))
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, frame(t, types.EventJoinMatch, types.MatchPayload{MatchId: 7})))
	assert.Eventually(t, func() bool { return hub.RoomSize(7) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, frame(t, types.EventSendMessage, types.SendMessagePayload{
		MatchId:     7,
		Content:     "Hello",
		ClientMsgId: "temp-abc",
	})))

	ack := readFrame(t, alice)
	assert.Equal(t, types.EventMessageSent, ack.Event)
	var sent types.MessageSentPayload
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.Equal(t, 100, sent.Message.Id)
	assert.Equal(t, "temp-abc", sent.ClientMsgId)

	incoming := readFrame(t, bob)
	assert.Equal(t, types.EventNewMessage, incoming.Event)
	var received types.NewMessagePayload
	require.NoError(t, json.Unmarshal(incoming.Data, &received))
	assert.Equal(t, 100, received.Message.Id)
	assert.Equal(t, "Hello", received.Message.Content)

	// disconnecting removes the connection from its rooms
	bob.Close()
	assert.Eventually(t, func() bool { return hub.RoomSize(7) == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected going away close frame, got %v", err)
}
