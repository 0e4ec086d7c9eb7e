package types

// Event names carried in the "event" field of every realtime frame.
type Event string

const (
	EventJoinMatch         Event = "join_match"
	EventLeaveMatch        Event = "leave_match"
	EventSendMessage       Event = "send_message"
	EventTypingStart       Event = "typing_start"
	EventTypingStop        Event = "typing_stop"
	EventMessageSent       Event = "message_sent"
	EventNewMessage        Event = "new_message"
	EventUserTyping        Event = "user_typing"
	EventUserStoppedTyping Event = "user_stopped_typing"
	EventTradeOfferUpdated Event = "trade_offer_updated"
	EventError             Event = "error"
)

type ErrorCode string

const (
	ErrorCodeInvalid   ErrorCode = "invalid"
	ErrorCodeForbidden ErrorCode = "forbidden"
	ErrorCodeNotFound  ErrorCode = "not_found"
	ErrorCodeInternal  ErrorCode = "internal"
)

type MatchPayload struct {
	MatchId int `json:"match_id"`
}

type SendMessagePayload struct {
	MatchId     int    `json:"match_id"`
	Content     string `json:"content"`
	UserId      int    `json:"user_id,omitempty"`
	ClientMsgId string `json:"client_msg_id,omitempty"`
}

type TypingPayload struct {
	MatchId int `json:"match_id"`
	UserId  int `json:"user_id,omitempty"`
}

// MessageSentPayload acknowledges a send to the originating connection only.
type MessageSentPayload struct {
	Message     Message `json:"message"`
	ClientMsgId string  `json:"client_msg_id,omitempty"`
}

type NewMessagePayload struct {
	Message Message `json:"message"`
}

type TradeOfferPayload struct {
	Offer TradeOffer `json:"offer"`
}

type ErrorPayload struct {
	Message     string    `json:"message"`
	Code        ErrorCode `json:"code"`
	ClientMsgId string    `json:"client_msg_id,omitempty"`
}
