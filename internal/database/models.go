package database

import (
	"time"
)

type MessageOrder string

const (
	OrderAsc  MessageOrder = "asc"
	OrderDesc MessageOrder = "desc"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type CreateMessageParams struct {
	MatchId   int
	SenderId  int
	Content   string
	CreatedAt time.Time
}

type ListMessagesParams struct {
	MatchId int
	Limit   int
	Order   MessageOrder
}

type CreateTradeOfferParams struct {
	MatchId        int
	FromUserId     int
	ToUserId       int
	ClothingFromId int
	ClothingToId   int
	CreatedAt      time.Time
}

// normalize applies the default limit and ordering to p.
func (p ListMessagesParams) normalize() ListMessagesParams {
	if p.Limit <= 0 {
		p.Limit = defaultMessageLimit
	}
	if p.Limit > maxMessageLimit {
		p.Limit = maxMessageLimit
	}
	if p.Order != OrderDesc {
		p.Order = OrderAsc
	}
	return p
}
