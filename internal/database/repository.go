package database

import (
	"context"

	"github.com/closetswap/swapchat/internal/types"
)

type SwapChatRepository interface {
	Ping() error
	GetMatch(ctx context.Context, matchId int) (types.Match, error)
	GetClothing(ctx context.Context, clothingId int) (types.ClothingRef, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	ListMessages(ctx context.Context, params ListMessagesParams) ([]types.Message, error)
	CreateTradeOffer(ctx context.Context, params CreateTradeOfferParams) (types.TradeOffer, error)
	GetTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error)
	ListTradeOffers(ctx context.Context, matchId int) ([]types.TradeOffer, error)
	AcceptTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error)
	DeclineTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error)
}
