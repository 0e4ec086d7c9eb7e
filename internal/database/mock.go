package database

import (
	"context"

	"github.com/closetswap/swapchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockSwapChatRepository struct {
	mock.Mock
}

func (m *MockSwapChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockSwapChatRepository) GetMatch(ctx context.Context, matchId int) (types.Match, error) {
	args := m.Called(ctx, matchId)
	return args.Get(0).(types.Match), args.Error(1)
}
func (m *MockSwapChatRepository) GetClothing(ctx context.Context, clothingId int) (types.ClothingRef, error) {
	args := m.Called(ctx, clothingId)
	return args.Get(0).(types.ClothingRef), args.Error(1)
}
func (m *MockSwapChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockSwapChatRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]types.Message, error) {
	args := m.Called(ctx, params)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockSwapChatRepository) CreateTradeOffer(ctx context.Context, params CreateTradeOfferParams) (types.TradeOffer, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.TradeOffer), args.Error(1)
}
func (m *MockSwapChatRepository) GetTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error) {
	args := m.Called(ctx, tradeId)
	return args.Get(0).(types.TradeOffer), args.Error(1)
}
func (m *MockSwapChatRepository) ListTradeOffers(ctx context.Context, matchId int) ([]types.TradeOffer, error) {
	args := m.Called(ctx, matchId)
	if offers, ok := args.Get(0).([]types.TradeOffer); ok {
		return offers, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockSwapChatRepository) AcceptTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error) {
	args := m.Called(ctx, tradeId)
	return args.Get(0).(types.TradeOffer), args.Error(1)
}
func (m *MockSwapChatRepository) DeclineTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error) {
	args := m.Called(ctx, tradeId)
	return args.Get(0).(types.TradeOffer), args.Error(1)
}
