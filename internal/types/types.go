package types

import (
	"time"
)

// UserRef is the public projection of a user that is embedded in messages and
// matches.
type UserRef struct {
	Id             int    `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type ClothingRef struct {
	Id        int      `json:"id"`
	OwnerId   int      `json:"owner_id"`
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	ImageUrls []string `json:"image_urls"`
}

type Match struct {
	Id        int         `json:"id"`
	UserA     UserRef     `json:"user_a"`
	UserB     UserRef     `json:"user_b"`
	ClothingA ClothingRef `json:"clothing_a"`
	ClothingB ClothingRef `json:"clothing_b"`
	CreatedAt time.Time   `json:"created_at"`
}

// HasParticipant reports whether userId is one of the two users of the match.
func (m Match) HasParticipant(userId int) bool {
	return userId != 0 && (m.UserA.Id == userId || m.UserB.Id == userId)
}

// Counterpart returns the other participant of the match. The second return
// value is false if userId does not belong to the match.
func (m Match) Counterpart(userId int) (UserRef, bool) {
	switch userId {
	case m.UserA.Id:
		return m.UserB, true
	case m.UserB.Id:
		return m.UserA, true
	}

	return UserRef{}, false
}

type Message struct {
	Id        int       `json:"id"`
	MatchId   int       `json:"match_id"`
	SenderId  int       `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Sender    UserRef   `json:"sender"`
}

type TradeStatus string

const (
	TradeStatusPending  TradeStatus = "PENDING"
	TradeStatusAccepted TradeStatus = "ACCEPTED"
	TradeStatusDeclined TradeStatus = "DECLINED"
)

func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusAccepted || s == TradeStatusDeclined
}

func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusPending, TradeStatusAccepted, TradeStatusDeclined:
		return true
	}

	return false
}

type TradeOffer struct {
	Id             int         `json:"id"`
	MatchId        int         `json:"match_id"`
	FromUserId     int         `json:"from_user_id"`
	ToUserId       int         `json:"to_user_id"`
	ClothingFromId int         `json:"clothing_from_id"`
	ClothingToId   int         `json:"clothing_to_id"`
	Status         TradeStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
