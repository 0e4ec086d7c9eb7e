package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/closetswap/swapchat/internal/types"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// ClientMessage is the envelope of every frame read from a connection. Data is
// decoded into a typed event by decodeClientEvent.
type ClientMessage struct {
	Event types.Event     `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ServerMessage struct {
	Event     types.Event `json:"event"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClientEvent is one of JoinMatch, LeaveMatch, SendMessage or Typing.
type ClientEvent interface {
	clientEvent()
}

type JoinMatch struct {
	MatchId int
}

type LeaveMatch struct {
	MatchId int
}

type SendMessage struct {
	types.SendMessagePayload
}

type Typing struct {
	Started bool
	MatchId int
	UserId  int
}

func (*JoinMatch) clientEvent()   {}
func (*LeaveMatch) clientEvent()  {}
func (*SendMessage) clientEvent() {}
func (*Typing) clientEvent()      {}

func decodeClientEvent(raw []byte) (ClientEvent, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch msg.Event {
	case types.EventJoinMatch, types.EventLeaveMatch:
		var p types.MatchPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return nil, err
		}
		if p.MatchId <= 0 {
			return nil, fmt.Errorf("%w: match_id is required", ErrInvalidPayload)
		}

		if msg.Event == types.EventJoinMatch {
			return &JoinMatch{MatchId: p.MatchId}, nil
		}
		return &LeaveMatch{MatchId: p.MatchId}, nil
	case types.EventSendMessage:
		// match_id and content are checked by the handler so that the
		// error can echo client_msg_id
		var p types.SendMessagePayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return nil, err
		}

		return &SendMessage{SendMessagePayload: p}, nil
	case types.EventTypingStart, types.EventTypingStop:
		var p types.TypingPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			return nil, err
		}
		if p.MatchId <= 0 {
			return nil, fmt.Errorf("%w: match_id is required", ErrInvalidPayload)
		}

		return &Typing{
			Started: msg.Event == types.EventTypingStart,
			MatchId: p.MatchId,
			UserId:  p.UserId,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return nil
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func newServerMessage(event types.Event, data any) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

func MessageSent(msg types.Message, clientMsgId string) *ServerMessage {
	return newServerMessage(types.EventMessageSent, types.MessageSentPayload{
		Message:     msg,
		ClientMsgId: clientMsgId,
	})
}

func NewMessage(msg types.Message) *ServerMessage {
	return newServerMessage(types.EventNewMessage, types.NewMessagePayload{Message: msg})
}

func UserTyping(matchId, userId int, started bool) *ServerMessage {
	event := types.EventUserStoppedTyping
	if started {
		event = types.EventUserTyping
	}

	return newServerMessage(event, types.TypingPayload{
		MatchId: matchId,
		UserId:  userId,
	})
}

func TradeOfferUpdated(offer types.TradeOffer) *ServerMessage {
	return newServerMessage(types.EventTradeOfferUpdated, types.TradeOfferPayload{Offer: offer})
}

func errorMessage(code types.ErrorCode, message, clientMsgId string) *ServerMessage {
	return newServerMessage(types.EventError, types.ErrorPayload{
		Message:     message,
		Code:        code,
		ClientMsgId: clientMsgId,
	})
}

func ErrInvalidMessage(reason, clientMsgId string) *ServerMessage {
	return errorMessage(types.ErrorCodeInvalid, reason, clientMsgId)
}

func ErrForbidden(reason, clientMsgId string) *ServerMessage {
	return errorMessage(types.ErrorCodeForbidden, reason, clientMsgId)
}

func ErrMatchNotFound(clientMsgId string) *ServerMessage {
	return errorMessage(types.ErrorCodeNotFound, "match not found", clientMsgId)
}

func ErrInternalError(clientMsgId string) *ServerMessage {
	return errorMessage(types.ErrorCodeInternal, "internal server error", clientMsgId)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
